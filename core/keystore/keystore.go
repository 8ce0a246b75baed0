// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package keystore handles the password protected PKCS#12 containers of a system.

A keystore holds the private key of the system together with its certificate chain
in the order leaf, intermediate, root. A truststore holds trusted certificates only,
in practice the intermediate of the local cloud, and never a private key.
*/
package keystore

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"
	"time"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/relabs-tech/arrowhead/core/config"
	"github.com/relabs-tech/arrowhead/core/failure"
)

// Keystore is a private key with its certificate chain
type Keystore struct {
	PrivateKey *rsa.PrivateKey
	Chain      []*x509.Certificate
}

// Truststore is a set of trusted certificates
type Truststore struct {
	Certificates []*x509.Certificate
}

// Leaf returns the certificate of the system itself
func (k *Keystore) Leaf() *x509.Certificate {
	if len(k.Chain) == 0 {
		return nil
	}
	return k.Chain[0]
}

// CommonName returns the subject common name of the leaf certificate
func (k *Keystore) CommonName() string {
	if leaf := k.Leaf(); leaf != nil {
		return leaf.Subject.CommonName
	}
	return ""
}

// TLSCertificate returns the keystore as certificate for crypto/tls
func (k *Keystore) TLSCertificate() tls.Certificate {
	cert := tls.Certificate{PrivateKey: k.PrivateKey, Leaf: k.Leaf()}
	for _, c := range k.Chain {
		cert.Certificate = append(cert.Certificate, c.Raw)
	}
	return cert
}

// Pool returns the trusted certificates as pool
func (t *Truststore) Pool() *x509.CertPool {
	pool := x509.NewCertPool()
	for _, c := range t.Certificates {
		pool.AddCert(c)
	}
	return pool
}

// Encode serializes the keystore, protected by password
func (k *Keystore) Encode(password string) ([]byte, error) {
	if k.PrivateKey == nil || len(k.Chain) == 0 {
		return nil, failure.New(failure.KindInternal, "keystore needs a private key and a certificate")
	}
	data, err := pkcs12.Modern.Encode(k.PrivateKey, k.Chain[0], k.Chain[1:], password)
	if err != nil {
		return nil, failure.Internal(err, "cannot encode keystore")
	}
	return data, nil
}

// Encode serializes the truststore, protected by password
func (t *Truststore) Encode(password string) ([]byte, error) {
	data, err := pkcs12.Modern.EncodeTrustStore(t.Certificates, password)
	if err != nil {
		return nil, failure.Internal(err, "cannot encode truststore")
	}
	return data, nil
}

// DecodeKeystore parses a keystore
func DecodeKeystore(data []byte, password string) (*Keystore, error) {
	key, leaf, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, failure.Wrap(failure.KindConfig, err, "cannot decode keystore")
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, failure.Config("keystore does not hold an RSA private key")
	}
	return &Keystore{PrivateKey: rsaKey, Chain: append([]*x509.Certificate{leaf}, caCerts...)}, nil
}

// DecodeTruststore parses a truststore
func DecodeTruststore(data []byte, password string) (*Truststore, error) {
	certs, err := pkcs12.DecodeTrustStore(data, password)
	if err != nil {
		return nil, failure.Wrap(failure.KindConfig, err, "cannot decode truststore")
	}
	if len(certs) == 0 {
		return nil, failure.Config("truststore is empty")
	}
	return &Truststore{Certificates: certs}, nil
}

// LoadKeystore reads a keystore file
func LoadKeystore(path, password string) (*Keystore, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeKeystore(data, password)
}

// LoadTruststore reads a truststore file
func LoadTruststore(path, password string) (*Truststore, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeTruststore(data, password)
}

// Save writes the encoded keystore atomically to path
func (k *Keystore) Save(path, password string) error {
	data, err := k.Encode(password)
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(path, data, 0600)
}

// Save writes the encoded truststore atomically to path
func (t *Truststore) Save(path, password string) error {
	data, err := t.Encode(password)
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(path, data, 0600)
}

func readFile(path string) ([]byte, error) {
	if path == "" {
		return nil, failure.Config("no file configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, failure.Wrap(failure.KindConfig, err, path+" does not exist")
		}
		return nil, failure.Wrap(failure.KindConfig, err, "cannot read "+path)
	}
	return data, nil
}

// Validate checks that a keystore and a truststore form a usable pair at time now:
// the private key belongs to the leaf, the leaf is within its validity period and
// chains up to a certificate of the truststore.
func Validate(ks *Keystore, ts *Truststore, now time.Time) error {
	leaf := ks.Leaf()
	if leaf == nil || ks.PrivateKey == nil {
		return failure.Config("keystore is incomplete")
	}
	pub, ok := leaf.PublicKey.(*rsa.PublicKey)
	if !ok || !pub.Equal(&ks.PrivateKey.PublicKey) {
		return failure.Config("private key does not match certificate %q", leaf.Subject.CommonName)
	}
	if now.Before(leaf.NotBefore) || now.After(leaf.NotAfter) {
		return failure.Config("certificate %q is not valid at %s", leaf.Subject.CommonName, now.Format(time.RFC3339))
	}
	intermediates := x509.NewCertPool()
	for _, c := range ks.Chain[1:] {
		intermediates.AddCert(c)
	}
	_, err := leaf.Verify(x509.VerifyOptions{
		Roots:         ts.Pool(),
		Intermediates: intermediates,
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return failure.Wrap(failure.KindConfig, err, "certificate "+leaf.Subject.CommonName+" is not trusted")
	}
	return nil
}
