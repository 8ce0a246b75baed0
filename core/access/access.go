// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package access provides utilities for access control

A request is secure if it arrived over mutual TLS. The client certificate then
identifies the calling system:

  peer, ok := access.PeerFromRequest(r)

Middleware stores the peer in the request context with ContextWithPeer, handlers
retrieve it with PeerFromContext. Requests which did not arrive over mutual TLS
carry no peer.
*/
package access

import (
	"context"
	"crypto/x509"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/relabs-tech/arrowhead/core/failure"
	"github.com/relabs-tech/arrowhead/core/identity"
	"github.com/relabs-tech/arrowhead/core/logger"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

// the predefined context key
const (
	contextKeyPeer contextKey = "_peer_"
)

// Peer is the authenticated remote system of a secure request
type Peer struct {
	CommonName  string
	Certificate *x509.Certificate
}

// SystemName returns the first label of the peer's common name
func (p *Peer) SystemName() string {
	return identity.SystemName(p.CommonName)
}

// CloudName returns the cloud part of the peer's common name
func (p *Peer) CloudName() string {
	return identity.CloudName(p.CommonName)
}

// PeerFromRequest returns the peer of a mutual TLS request. For other requests it
// returns nil and false.
func PeerFromRequest(r *http.Request) (*Peer, bool) {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return nil, false
	}
	cert := r.TLS.PeerCertificates[0]
	return &Peer{CommonName: cert.Subject.CommonName, Certificate: cert}, true
}

// ContextWithPeer returns a new context with the peer added
func ContextWithPeer(ctx context.Context, peer *Peer) context.Context {
	return context.WithValue(ctx, contextKeyPeer, peer)
}

// PeerFromContext returns the peer of the context, or nil
func PeerFromContext(ctx context.Context) *Peer {
	peer, _ := ctx.Value(contextKeyPeer).(*Peer)
	return peer
}

// PeerMiddleware adds the peer of secure requests to the request context and tags
// the request logger with its common name
func PeerMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if peer, ok := PeerFromRequest(r); ok {
			ctx, _ := logger.ContextWithLoggerIdentity(r.Context(), peer.CommonName)
			r = r.WithContext(ContextWithPeer(ctx, peer))
		}
		h.ServeHTTP(w, r)
	})
}

// CloudFilter returns a middleware which admits only secure callers of the server's
// own local cloud. The caller's common name must be a valid Arrowhead name, and its
// cloud part must equal the cloud part of serverCN, compared case-insensitively.
// Insecure requests pass unchanged.
func CloudFilter(serverCN, rootDomain string) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			peer, ok := PeerFromRequest(r)
			if !ok {
				h.ServeHTTP(w, r)
				return
			}
			rlog := logger.FromContext(r.Context())
			if !identity.IsValid(peer.CommonName, rootDomain) {
				rlog.Warnf("rejected %q: not an Arrowhead common name", peer.CommonName)
				failure.WriteHTTP(w, failure.Auth("client certificate common name is invalid"))
				return
			}
			if !identity.SameCloud(serverCN, peer.CommonName) {
				rlog.Warnf("rejected %q: not a member of the local cloud %s", peer.CommonName, identity.CloudName(serverCN))
				failure.WriteHTTP(w, failure.Auth("caller is not a member of the local cloud"))
				return
			}
			h.ServeHTTP(w, r)
		})
	}
}
