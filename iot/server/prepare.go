// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package server

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"time"

	"github.com/relabs-tech/arrowhead/core/config"
	"github.com/relabs-tech/arrowhead/core/keymaterial"
	"github.com/relabs-tech/arrowhead/core/keystore"
	"github.com/relabs-tech/arrowhead/core/logger"
	"github.com/relabs-tech/arrowhead/iot/bootstrap"
)

// Credentials is everything a secure system needs at runtime
type Credentials struct {
	Keystore   *keystore.Keystore
	Truststore *keystore.Truststore
	Keys       *keymaterial.KeyMaterial
	// ServerTLS is the configuration for a secure listener
	ServerTLS *tls.Config
	// ClientTLS is the configuration for calls to other secure systems
	ClientTLS *tls.Config
}

// LoadCredentials loads and validates the stores named in the configuration, and the
// public key of the token issuer if one is configured
func LoadCredentials(c *config.Config) (*Credentials, error) {
	if err := c.RequireFields(config.KeyKeystore, config.KeyKeystorePass, config.KeyTruststore, config.KeyTruststorePass); err != nil {
		return nil, err
	}
	ks, err := keystore.LoadKeystore(c.String(config.KeyKeystore, ""), c.String(config.KeyKeystorePass, ""))
	if err != nil {
		return nil, err
	}
	ts, err := keystore.LoadTruststore(c.String(config.KeyTruststore, ""), c.String(config.KeyTruststorePass, ""))
	if err != nil {
		return nil, err
	}
	if err := keystore.Validate(ks, ts, time.Now()); err != nil {
		return nil, err
	}
	var issuerKey *rsa.PublicKey
	if c.Has(config.KeyAuthorizationPublicKey) {
		if issuerKey, err = keystore.LoadPublicKey(c.String(config.KeyAuthorizationPublicKey, "")); err != nil {
			return nil, err
		}
	}

	creds := &Credentials{Keystore: ks, Truststore: ts}
	if creds.Keys, err = keymaterial.FromKeystore(ks, issuerKey); err != nil {
		return nil, err
	}
	if creds.ServerTLS, err = NewTLSConfig(ks, ts, c.RootDomain()); err != nil {
		return nil, err
	}
	if creds.ClientTLS, err = ClientTLSConfig(ks, ts); err != nil {
		return nil, err
	}
	return creds, nil
}

// PrepareSecure loads the credentials of the configuration. If that fails and a
// bootstrapper is given, it bootstraps new certificates and tries once more.
func PrepareSecure(ctx context.Context, c *config.Config, b *bootstrap.Bootstrapper) (*Credentials, error) {
	creds, err := LoadCredentials(c)
	if err == nil || b == nil {
		return creds, err
	}
	logger.FromContext(ctx).WithError(err).Warn("cannot load certificates, bootstrapping")
	if _, err := b.Bootstrap(ctx); err != nil {
		return nil, err
	}
	// bootstrap updated the configuration in memory as well
	return LoadCredentials(c)
}
