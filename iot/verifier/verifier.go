// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package verifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/relabs-tech/arrowhead/core/access"
	"github.com/relabs-tech/arrowhead/core/failure"
	"github.com/relabs-tech/arrowhead/core/identity"
	"github.com/relabs-tech/arrowhead/core/keymaterial"
	"github.com/relabs-tech/arrowhead/core/logger"
	"github.com/relabs-tech/arrowhead/iot/token"
)

// Verifier verifies authorization tokens
type Verifier struct {
	keys *keymaterial.KeyMaterial
	now  func() time.Time
}

// Builder is a builder helper for the Verifier
type Builder struct {
	// Keys holds the provider's private key and the issuer's public key. This is
	// mandatory.
	Keys *keymaterial.KeyMaterial
	// Now returns the current time. Default is time.Now
	Now func() time.Time
}

// New creates a verifier
func New(b *Builder) *Verifier {
	if b.Keys == nil {
		panic("Keys are missing")
	}
	v := &Verifier{keys: b.Keys, now: b.Now}
	if v.now == nil {
		v.now = time.Now
	}
	return v
}

// Verify checks token and signature for a caller with the common name peerCN. It
// returns the token content on success.
func (v *Verifier) Verify(peerCN, tok, signature string) (info token.RawTokenInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = failure.Internal(fmt.Errorf("%v", r), "panic during token verification")
		}
	}()

	tokenBytes, signatureBytes, err := token.Decode(tok, signature)
	if err != nil {
		return info, err
	}
	if err = token.VerifySignature(tokenBytes, signatureBytes, v.keys.IssuerKey()); err != nil {
		return info, err
	}
	info, err = token.Decrypt(tokenBytes, v.keys.PrivateKey())
	if err != nil {
		return info, err
	}
	if !strings.EqualFold(identity.SystemName(peerCN), info.SystemName()) {
		return info, failure.Auth("permission denied")
	}
	if info.Expired(v.now()) {
		return info, failure.Auth("token expired")
	}
	return info, nil
}

// VerifyRequest verifies the token of a secure request. Insecure requests return
// nil and no error.
func (v *Verifier) VerifyRequest(r *http.Request) (*token.RawTokenInfo, error) {
	peer, ok := access.PeerFromRequest(r)
	if !ok {
		return nil, nil
	}
	query := r.URL.Query()
	tok, signature := query.Get(token.ParamToken), query.Get(token.ParamSignature)
	if tok == "" || signature == "" {
		return nil, failure.Auth("authorization token missing")
	}
	info, err := v.Verify(peer.CommonName, tok, signature)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// Middleware verifies every secure request before it reaches h. Rejected requests
// get a JSON error body with status 401 or 500.
func (v *Verifier) Middleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		peer, ok := access.PeerFromRequest(r)
		if !ok {
			h.ServeHTTP(w, r)
			return
		}
		ctx, rlog := logger.ContextWithLoggerIdentity(r.Context(), peer.CommonName)
		r = r.WithContext(access.ContextWithPeer(ctx, peer))

		info, err := v.VerifyRequest(r)
		if err != nil {
			if failure.IsKind(err, failure.KindAuth) {
				rlog.WithError(err).Warn("token rejected")
			} else {
				rlog.WithError(err).Errorf("Error 4830")
			}
			failure.WriteHTTP(w, err)
			return
		}
		rlog.Debugf("token of %s accepted", info.C)
		h.ServeHTTP(w, r.WithContext(ContextWithTokenInfo(r.Context(), info)))
	})
}

type contextKey int

const contextKeyTokenInfo contextKey = iota

// ContextWithTokenInfo returns a new context with the verified token content added
func ContextWithTokenInfo(ctx context.Context, info *token.RawTokenInfo) context.Context {
	return context.WithValue(ctx, contextKeyTokenInfo, info)
}

// TokenInfoFromContext returns the verified token content, or nil for insecure
// requests
func TokenInfoFromContext(ctx context.Context) *token.RawTokenInfo {
	info, _ := ctx.Value(contextKeyTokenInfo).(*token.RawTokenInfo)
	return info
}
