// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package authorization

import (
	"crypto/rsa"
	"time"

	"github.com/relabs-tech/arrowhead/core/failure"
	"github.com/relabs-tech/arrowhead/core/logger"
	"github.com/relabs-tech/arrowhead/iot/token"
)

// DefaultValidity is the token lifetime used when a Builder does not set one
const DefaultValidity = time.Hour

// Issuer issues signed tokens
type Issuer struct {
	key      *rsa.PrivateKey
	validity time.Duration
	now      func() time.Time
}

// Builder is a builder helper for the Issuer
type Builder struct {
	// Key is the private key of the authorization system. This is mandatory
	Key *rsa.PrivateKey
	// Validity is the default lifetime of tokens. A negative value issues tokens which
	// never expire. Default is DefaultValidity.
	Validity time.Duration
	// Now returns the current time. Default is time.Now
	Now func() time.Time
}

// NewIssuer creates a token issuer
func NewIssuer(b *Builder) *Issuer {
	if b.Key == nil {
		panic("issuer key is missing")
	}
	i := &Issuer{key: b.Key, validity: b.Validity, now: b.Now}
	if i.validity == 0 {
		i.validity = DefaultValidity
	}
	if i.validity < 0 {
		i.validity = 0
	}
	if i.now == nil {
		i.now = time.Now
	}
	return i
}

// PublicKey returns the key providers verify signatures with
func (i *Issuer) PublicKey() *rsa.PublicKey {
	return &i.key.PublicKey
}

// Issue creates a token which allows consumerName to call the provider owning
// providerKey, valid for the issuer's default validity
func (i *Issuer) Issue(consumerName string, providerKey *rsa.PublicKey) (tok, signature string, err error) {
	return i.IssueFor(consumerName, providerKey, i.validity)
}

// IssueFor creates a token with a specific validity. A zero validity creates a token
// which never expires.
func (i *Issuer) IssueFor(consumerName string, providerKey *rsa.PublicKey, validity time.Duration) (tok, signature string, err error) {
	if consumerName == "" {
		return "", "", failure.BadPayload(nil, "consumer name is missing")
	}
	if providerKey == nil {
		return "", "", failure.BadPayload(nil, "provider key is missing")
	}
	info := token.RawTokenInfo{C: consumerName, E: token.ExpiryMillis(i.now(), validity)}
	cipher, err := token.Encrypt(info, providerKey)
	if err != nil {
		return "", "", err
	}
	sig, err := token.Sign(cipher, i.key)
	if err != nil {
		return "", "", err
	}
	logger.Default().Debugf("issued token for %s, expiry %d", consumerName, info.E)
	return token.Encode(cipher), token.Encode(sig), nil
}
