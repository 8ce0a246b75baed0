// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package certauthority

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/gorilla/mux"
	"github.com/relabs-tech/arrowhead/core/failure"
	"github.com/relabs-tech/arrowhead/core/identity"
	"github.com/relabs-tech/arrowhead/core/keystore"
	"github.com/relabs-tech/arrowhead/core/logger"
	"github.com/relabs-tech/arrowhead/core/schema"
)

// SigningRequest is the body of a certificate signing request
type SigningRequest struct {
	EncodedCertRequest string `json:"encodedCertRequest"`
}

// SigningResponse is the answer to a signing request. All certificates are base64
// encoded.
type SigningResponse struct {
	EncodedSignedCert string `json:"encodedSignedCert"`
	IntermediateCert  string `json:"intermediateCert"`
	RootCert          string `json:"rootCert"`
}

// Authority is an in-memory certificate authority for one local cloud
type Authority struct {
	cloudSuffix     string
	rootDomain      string
	root            *x509.Certificate
	intermediate    *x509.Certificate
	intermediateKey *rsa.PrivateKey
	issuerKey       *rsa.PrivateKey
	validity        time.Duration
	keyBits         int
}

// Builder is a builder helper for the Authority
type Builder struct {
	// Router is a mux router. If set, the REST routes are added to it.
	Router *mux.Router
	// Path is the base path of the REST routes. Default is /ca
	Path string
	// CloudSuffix is the common name of the local cloud, <cloud>.<operator>.<root domain>.
	// This is mandatory
	CloudSuffix string
	// IssuerKey is the private key of the authorization system. A new key is generated if
	// it is missing.
	IssuerKey *rsa.PrivateKey
	// Validity is the lifetime of issued certificates. Default is one year.
	Validity time.Duration
	// KeyBits is the size of generated RSA keys. Default is 2048.
	KeyBits int
}

// New creates a certificate authority with fresh root and intermediate keys and adds
// its routes to the router.
func New(b *Builder) *Authority {
	if len(b.CloudSuffix) == 0 {
		panic("cloud suffix is missing")
	}
	labels := strings.Split(b.CloudSuffix, ".")
	if len(labels) != identity.LabelCount-1 {
		panic("cloud suffix must have four labels")
	}

	a := &Authority{
		cloudSuffix: b.CloudSuffix,
		rootDomain:  strings.Join(labels[2:], "."),
		issuerKey:   b.IssuerKey,
		validity:    b.Validity,
		keyBits:     b.KeyBits,
	}
	if a.validity == 0 {
		a.validity = 365 * 24 * time.Hour
	}
	if a.keyBits == 0 {
		a.keyBits = 2048
	}

	rootKey := a.mustGenerateKey()
	a.root = a.mustCreate(&x509.Certificate{
		Subject:               pkix.Name{CommonName: a.rootDomain},
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}, nil, &rootKey.PublicKey, rootKey)

	a.intermediateKey = a.mustGenerateKey()
	a.intermediate = a.mustCreate(&x509.Certificate{
		Subject:               pkix.Name{CommonName: a.cloudSuffix},
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLenZero:        true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}, a.root, &a.intermediateKey.PublicKey, rootKey)

	if a.issuerKey == nil {
		a.issuerKey = a.mustGenerateKey()
	}

	if b.Router != nil {
		path := b.Path
		if path == "" {
			path = "/ca"
		}
		a.handleRoutes(b.Router, strings.TrimSuffix(path, "/"))
	}
	return a
}

func (a *Authority) mustGenerateKey() *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, a.keyBits)
	if err != nil {
		panic(err)
	}
	return key
}

func (a *Authority) mustCreate(template, parent *x509.Certificate, pub *rsa.PublicKey, signer *rsa.PrivateKey) *x509.Certificate {
	cert, err := a.create(template, parent, pub, signer)
	if err != nil {
		panic(err)
	}
	return cert
}

func (a *Authority) create(template, parent *x509.Certificate, pub *rsa.PublicKey, signer *rsa.PrivateKey) (*x509.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}
	template.SerialNumber = serial
	template.NotBefore = time.Now().Add(-time.Minute)
	template.NotAfter = time.Now().Add(a.validity)
	if parent == nil {
		parent = template
	}
	der, err := x509.CreateCertificate(rand.Reader, template, parent, pub, signer)
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificate(der)
}

// CloudSuffix returns the common name of the local cloud
func (a *Authority) CloudSuffix() string {
	return a.cloudSuffix
}

// RootDomain returns the root domain of the federation
func (a *Authority) RootDomain() string {
	return a.rootDomain
}

// Root returns the root certificate
func (a *Authority) Root() *x509.Certificate {
	return a.root
}

// Intermediate returns the cloud certificate
func (a *Authority) Intermediate() *x509.Certificate {
	return a.intermediate
}

// IssuerKey returns the private key of the authorization system
func (a *Authority) IssuerKey() *rsa.PrivateKey {
	return a.issuerKey
}

// Truststore returns a truststore holding the cloud certificate
func (a *Authority) Truststore() *keystore.Truststore {
	return &keystore.Truststore{Certificates: []*x509.Certificate{a.intermediate}}
}

// Sign issues a certificate for a certificate request. The request must be
// self-signed and its common name must belong to the local cloud.
func (a *Authority) Sign(csr *x509.CertificateRequest) (*x509.Certificate, error) {
	if err := csr.CheckSignature(); err != nil {
		return nil, failure.BadPayload(err, "certificate request signature is invalid")
	}
	cn := csr.Subject.CommonName
	if err := identity.ValidateCommonName(cn, a.rootDomain); err != nil {
		return nil, failure.BadPayload(err, "invalid common name %q", cn)
	}
	if !strings.EqualFold(identity.CloudName(cn), a.cloudSuffix) {
		return nil, failure.BadPayload(nil, "common name %q does not belong to cloud %s", cn, a.cloudSuffix)
	}
	pub, ok := csr.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, failure.BadPayload(nil, "certificate request does not carry an RSA key")
	}
	cert, err := a.create(&x509.Certificate{
		Subject:     pkix.Name{CommonName: cn},
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		DNSNames:    csr.DNSNames,
		IPAddresses: csr.IPAddresses,
	}, a.intermediate, pub, a.intermediateKey)
	if err != nil {
		return nil, failure.Internal(err, "cannot create certificate for %s", cn)
	}
	return cert, nil
}

// Enroll creates a key and a certificate for systemName without a certificate
// request. It is meant for test setups.
func (a *Authority) Enroll(systemName string) (*keystore.Keystore, error) {
	key, err := rsa.GenerateKey(rand.Reader, a.keyBits)
	if err != nil {
		return nil, failure.Internal(err, "cannot generate key")
	}
	cn := identity.Join(systemName, a.cloudSuffix)
	template := &x509.CertificateRequest{
		Subject:            pkix.Name{CommonName: cn},
		SignatureAlgorithm: x509.SHA256WithRSA,
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, template, key)
	if err != nil {
		return nil, failure.Internal(err, "cannot create certificate request")
	}
	csr, err := x509.ParseCertificateRequest(der)
	if err != nil {
		return nil, failure.Internal(err, "cannot parse certificate request")
	}
	cert, err := a.Sign(csr)
	if err != nil {
		return nil, err
	}
	return &keystore.Keystore{PrivateKey: key, Chain: []*x509.Certificate{cert, a.intermediate, a.root}}, nil
}

func (a *Authority) handleRoutes(router *mux.Router, path string) {
	logger.Default().Infof("certificate authority: handle routes %s GET,POST and %s/auth GET", path, path)

	router.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, a.cloudSuffix)
	}).Methods(http.MethodGet)

	router.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		rlog := logger.FromContext(r.Context())
		body, err := io.ReadAll(r.Body)
		if err != nil {
			failure.WriteHTTP(w, failure.BadPayload(err, "cannot read request"))
			return
		}
		if err := schema.ValidateArrowhead(body, schema.SigningRequestID); err != nil {
			failure.WriteHTTP(w, failure.BadPayload(err, "invalid signing request"))
			return
		}
		var req SigningRequest
		if err := json.Unmarshal(body, &req); err != nil {
			failure.WriteHTTP(w, failure.BadPayload(err, "invalid signing request"))
			return
		}
		der, err := base64.StdEncoding.DecodeString(req.EncodedCertRequest)
		if err != nil {
			failure.WriteHTTP(w, failure.BadPayload(err, "certificate request is not base64"))
			return
		}
		csr, err := x509.ParseCertificateRequest(der)
		if err != nil {
			failure.WriteHTTP(w, failure.BadPayload(err, "cannot parse certificate request"))
			return
		}
		cert, err := a.Sign(csr)
		if err != nil {
			rlog.WithError(err).Warnf("rejected certificate request for %q", csr.Subject.CommonName)
			failure.WriteHTTP(w, err)
			return
		}
		rlog.Infof("issued certificate for %s", cert.Subject.CommonName)

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		json.NewEncoder(w).Encode(SigningResponse{
			EncodedSignedCert: base64.StdEncoding.EncodeToString(cert.Raw),
			IntermediateCert:  base64.StdEncoding.EncodeToString(a.intermediate.Raw),
			RootCert:          base64.StdEncoding.EncodeToString(a.root.Raw),
		})
	}).Methods(http.MethodPost)

	router.HandleFunc(path+"/auth", func(w http.ResponseWriter, r *http.Request) {
		data, err := keystore.EncodePublicKey(&a.issuerKey.PublicKey)
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Errorf("Error 4711")
			failure.WriteHTTP(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/x-pem-file")
		w.Write(data)
	}).Methods(http.MethodGet)
}
