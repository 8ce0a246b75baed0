// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package server

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"strings"

	"github.com/relabs-tech/arrowhead/core/failure"
	"github.com/relabs-tech/arrowhead/core/identity"
	"github.com/relabs-tech/arrowhead/core/keystore"
)

// NewTLSConfig returns the mutual TLS configuration of a secure listener. Clients
// must present a certificate which chains to the truststore.
func NewTLSConfig(ks *keystore.Keystore, ts *keystore.Truststore, rootDomain string) (*tls.Config, error) {
	if ks == nil || ks.Leaf() == nil || ts == nil {
		return nil, failure.Config("keystore or truststore is missing")
	}
	if err := identity.ValidateCommonName(ks.CommonName(), rootDomain); err != nil {
		return nil, failure.Wrap(failure.KindConfig, err, "server certificate cannot be used for a secure listener")
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{ks.TLSCertificate()},
		ClientCAs:    ts.Pool(),
		ClientAuth:   tls.RequireAndVerifyClientCert,
	}, nil
}

// ClientTLSConfig returns the TLS configuration for calls to secure systems. The
// client presents its own certificate and verifies the server chain against the
// truststore, without host name verification.
func ClientTLSConfig(ks *keystore.Keystore, ts *keystore.Truststore) (*tls.Config, error) {
	if ks == nil || ks.Leaf() == nil || ts == nil {
		return nil, failure.Config("keystore or truststore is missing")
	}
	pool := ts.Pool()
	return &tls.Config{
		MinVersion:            tls.VersionTLS12,
		Certificates:          []tls.Certificate{ks.TLSCertificate()},
		RootCAs:               pool,
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: verifyChain(pool, ""),
	}, nil
}

// PinPeer returns a copy of a client configuration which only accepts servers whose
// certificate chains to the roots of cfg and names the system systemName
func PinPeer(cfg *tls.Config, systemName string) *tls.Config {
	pinned := cfg.Clone()
	pinned.InsecureSkipVerify = true
	pinned.VerifyPeerCertificate = verifyChain(cfg.RootCAs, systemName)
	return pinned
}

// verifyChain verifies the server chain against roots. A non-empty systemName must
// match the system name of the leaf, case-insensitive.
func verifyChain(roots *x509.CertPool, systemName string) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return errors.New("server presented no certificate")
		}
		certs := make([]*x509.Certificate, len(rawCerts))
		for i, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return err
			}
			certs[i] = cert
		}
		intermediates := x509.NewCertPool()
		for _, c := range certs[1:] {
			intermediates.AddCert(c)
		}
		_, err := certs[0].Verify(x509.VerifyOptions{
			Roots:         roots,
			Intermediates: intermediates,
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		})
		if err != nil {
			return err
		}
		cn := certs[0].Subject.CommonName
		if systemName != "" && !strings.EqualFold(identity.SystemName(cn), systemName) {
			return x509.CertificateInvalidError{
				Cert:   certs[0],
				Reason: x509.NameMismatch,
				Detail: "server " + cn + " is not " + systemName,
			}
		}
		return nil
	}
}
