// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package keymaterial holds the key material of a running system
package keymaterial

import (
	"crypto/rsa"
	"crypto/x509"

	"github.com/relabs-tech/arrowhead/core/config"
	"github.com/relabs-tech/arrowhead/core/failure"
	"github.com/relabs-tech/arrowhead/core/identity"
	"github.com/relabs-tech/arrowhead/core/keystore"
)

// KeyMaterial is the private key of the local system, the public key of the trusted
// token issuer and the local identity. It is immutable after construction and safe
// for concurrent use.
type KeyMaterial struct {
	privateKey *rsa.PrivateKey
	issuerKey  *rsa.PublicKey
	identity   identity.Identity
}

// New creates key material from its parts. The issuer key is optional for systems
// which never verify tokens.
func New(privateKey *rsa.PrivateKey, issuerKey *rsa.PublicKey, commonName string) (*KeyMaterial, error) {
	if privateKey == nil {
		return nil, failure.Config("private key is missing")
	}
	if commonName == "" {
		return nil, failure.Config("common name is missing")
	}
	pub, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, failure.Internal(err, "cannot marshal public key")
	}
	return &KeyMaterial{
		privateKey: privateKey,
		issuerKey:  issuerKey,
		identity:   identity.Identity{CommonName: commonName, PublicKey: pub},
	}, nil
}

// FromKeystore creates key material from a loaded keystore
func FromKeystore(ks *keystore.Keystore, issuerKey *rsa.PublicKey) (*KeyMaterial, error) {
	return New(ks.PrivateKey, issuerKey, ks.CommonName())
}

// Load reads the keystore and, if configured, the authorization public key named in
// the configuration
func Load(c *config.Config) (*KeyMaterial, error) {
	if err := c.RequireFields(config.KeyKeystore, config.KeyKeystorePass); err != nil {
		return nil, err
	}
	ks, err := keystore.LoadKeystore(c.String(config.KeyKeystore, ""), c.String(config.KeyKeystorePass, ""))
	if err != nil {
		return nil, err
	}
	var issuerKey *rsa.PublicKey
	if c.Has(config.KeyAuthorizationPublicKey) {
		issuerKey, err = keystore.LoadPublicKey(c.String(config.KeyAuthorizationPublicKey, ""))
		if err != nil {
			return nil, err
		}
	}
	return FromKeystore(ks, issuerKey)
}

// PrivateKey returns the private key of the local system
func (k *KeyMaterial) PrivateKey() *rsa.PrivateKey {
	return k.privateKey
}

// PublicKey returns the public key of the local system
func (k *KeyMaterial) PublicKey() *rsa.PublicKey {
	return &k.privateKey.PublicKey
}

// IssuerKey returns the public key of the token issuer, or nil
func (k *KeyMaterial) IssuerKey() *rsa.PublicKey {
	return k.issuerKey
}

// Identity returns the identity of the local system
func (k *KeyMaterial) Identity() identity.Identity {
	id := k.identity
	id.PublicKey = append([]byte(nil), k.identity.PublicKey...)
	return id
}

// CommonName returns the common name of the local system
func (k *KeyMaterial) CommonName() string {
	return k.identity.CommonName
}

// SystemName returns the first label of the common name
func (k *KeyMaterial) SystemName() string {
	return identity.SystemName(k.identity.CommonName)
}
