// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package keystore

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"

	"github.com/golang-jwt/jwt/v4"

	"github.com/relabs-tech/arrowhead/core/config"
	"github.com/relabs-tech/arrowhead/core/failure"
)

// EncodePublicKey returns key as PEM encoded PKIX public key
func EncodePublicKey(key *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, failure.Internal(err, "cannot marshal public key")
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ParsePublicKey parses an RSA public key. Both PEM and bare base64 DER are
// accepted, the certificate authority answers with either.
func ParsePublicKey(data []byte) (*rsa.PublicKey, error) {
	data = bytes.TrimSpace(data)
	if !bytes.HasPrefix(data, []byte("-----BEGIN")) {
		der, err := base64.StdEncoding.DecodeString(string(data))
		if err != nil {
			return nil, failure.BadPayload(err, "public key is neither PEM nor base64")
		}
		data = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, failure.BadPayload(err, "cannot parse public key")
	}
	return key, nil
}

// SavePublicKey writes key as PEM file
func SavePublicKey(path string, key *rsa.PublicKey) error {
	data, err := EncodePublicKey(key)
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(path, data, 0644)
}

// LoadPublicKey reads a PEM public key file
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	key, err := ParsePublicKey(data)
	if err != nil {
		return nil, failure.Wrap(failure.KindConfig, err, "invalid public key in "+path)
	}
	return key, nil
}
