// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package bootstrap

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/arrowhead/core/client"
	"github.com/relabs-tech/arrowhead/core/config"
	"github.com/relabs-tech/arrowhead/core/failure"
	"github.com/relabs-tech/arrowhead/core/identity"
	"github.com/relabs-tech/arrowhead/core/keystore"
	"github.com/relabs-tech/arrowhead/core/logger"
	"github.com/relabs-tech/arrowhead/core/schema"
	"github.com/relabs-tech/arrowhead/iot/certauthority"
)

// DialTimeout is the timeout of the reachability check
const DialTimeout = 3 * time.Second

// File names inside the certificate directory
const (
	TruststoreFile = "truststore.p12"
	IssuerKeyFile  = "authorization.pub"
)

// Role is the role of the bootstrapping system
type Role = config.Role

// Roles. Only providers need the public key of the token issuer.
const (
	RoleConsumer   = config.RoleConsumer
	RoleProvider   = config.RoleProvider
	RolePublisher  = config.RolePublisher
	RoleSubscriber = config.RoleSubscriber
)

// Bundle is the result of a bootstrap
type Bundle struct {
	Keystore           *keystore.Keystore
	KeystorePath       string
	KeystorePassword   string
	Truststore         *keystore.Truststore
	TruststorePath     string
	TruststorePassword string
	// IssuerKey is the public key of the token issuer, providers only
	IssuerKey     *rsa.PublicKey
	IssuerKeyPath string
}

// Bootstrapper obtains certificates for one system
type Bootstrapper struct {
	config  *config.Config
	role    Role
	ca      client.Client
	caURL   string
	certDir string
	keyBits int
	dial    func(ctx context.Context, address string) error
	now     func() time.Time
}

// Builder is a builder helper for the Bootstrapper
type Builder struct {
	// Config is the configuration of the system. This is mandatory. The certificate
	// authority is read from cert_authority_url, the system name from
	// secure_system_name.
	Config *config.Config
	// Role is the role of the system. Default is RoleConsumer
	Role Role
	// TLSConfig is used for https certificate authorities
	TLSConfig *tls.Config
	// Client overrides the client for the certificate authority. Its URL must be the
	// base endpoint of the certificate authority.
	Client *client.Client
	// CertificateDir is where the stores are written. Default is the directory
	// "certificates" next to the configuration file.
	CertificateDir string
	// KeyBits is the size of the generated key. Default is 2048
	KeyBits int
	// Dial checks that the certificate authority accepts connections. Default is a
	// TCP dial with DialTimeout.
	Dial func(ctx context.Context, address string) error
	// Now returns the current time. Default is time.Now
	Now func() time.Time
}

// New creates a bootstrapper
func New(b *Builder) *Bootstrapper {
	if b.Config == nil {
		panic("Config is missing")
	}
	bs := &Bootstrapper{
		config:  b.Config,
		role:    b.Role,
		caURL:   b.Config.String(config.KeyCertAuthorityURL, ""),
		certDir: b.CertificateDir,
		keyBits: b.KeyBits,
		dial:    b.Dial,
		now:     b.Now,
	}
	if bs.role == "" {
		bs.role = RoleConsumer
	}
	if !bs.role.Valid() {
		panic("unknown role " + string(bs.role))
	}
	if b.Client != nil {
		bs.ca = *b.Client
	} else {
		bs.ca = client.NewWithURLAndTLS(bs.caURL, b.TLSConfig)
	}
	if bs.certDir == "" {
		bs.certDir = filepath.Join(b.Config.Dir(), "certificates")
	}
	if bs.keyBits == 0 {
		bs.keyBits = 2048
	}
	if bs.dial == nil {
		bs.dial = dialTCP
	}
	if bs.now == nil {
		bs.now = time.Now
	}
	return bs
}

var locks sync.Map

// lock serializes bootstraps per configuration file and system name
func (b *Bootstrapper) lock() func() {
	key := b.config.Path() + "#" + strings.ToLower(b.config.SystemName(true))
	m, _ := locks.LoadOrStore(key, &sync.Mutex{})
	mutex := m.(*sync.Mutex)
	mutex.Lock()
	return mutex.Unlock
}

// EnsureCredentials returns the configured stores if they are valid, and bootstraps
// otherwise
func (b *Bootstrapper) EnsureCredentials(ctx context.Context) (*Bundle, error) {
	unlock := b.lock()
	defer unlock()
	rlog := logger.FromContext(ctx)

	bundle, err := b.existing()
	if err == nil {
		rlog.Debugf("using existing certificate %s", bundle.Keystore.CommonName())
		return bundle, nil
	}
	rlog.WithError(err).Info("no usable certificates, bootstrapping")
	return b.bootstrap(ctx)
}

// Bootstrap obtains new certificates even if valid ones exist
func (b *Bootstrapper) Bootstrap(ctx context.Context) (*Bundle, error) {
	unlock := b.lock()
	defer unlock()
	return b.bootstrap(ctx)
}

// existing loads and validates the stores of the configuration
func (b *Bootstrapper) existing() (*Bundle, error) {
	c := b.config
	if err := c.RequireFields(config.KeyKeystore, config.KeyKeystorePass, config.KeyTruststore, config.KeyTruststorePass); err != nil {
		return nil, err
	}
	bundle := &Bundle{
		KeystorePath:       c.String(config.KeyKeystore, ""),
		KeystorePassword:   c.String(config.KeyKeystorePass, ""),
		TruststorePath:     c.String(config.KeyTruststore, ""),
		TruststorePassword: c.String(config.KeyTruststorePass, ""),
	}
	var err error
	if bundle.Keystore, err = keystore.LoadKeystore(bundle.KeystorePath, bundle.KeystorePassword); err != nil {
		return nil, err
	}
	if bundle.Truststore, err = keystore.LoadTruststore(bundle.TruststorePath, bundle.TruststorePassword); err != nil {
		return nil, err
	}
	if err = keystore.Validate(bundle.Keystore, bundle.Truststore, b.now()); err != nil {
		return nil, err
	}
	if err = identity.ValidateCommonName(bundle.Keystore.CommonName(), c.RootDomain()); err != nil {
		return nil, failure.Wrap(failure.KindConfig, err, "keystore certificate has an invalid common name")
	}
	if b.role == RoleProvider {
		if err = c.RequireFields(config.KeyAuthorizationPublicKey); err != nil {
			return nil, err
		}
		bundle.IssuerKeyPath = c.String(config.KeyAuthorizationPublicKey, "")
		if bundle.IssuerKey, err = keystore.LoadPublicKey(bundle.IssuerKeyPath); err != nil {
			return nil, err
		}
	}
	return bundle, nil
}

func (b *Bootstrapper) bootstrap(ctx context.Context) (*Bundle, error) {
	rlog := logger.FromContext(ctx)
	if b.caURL == "" {
		return nil, failure.Config("%s is not configured, but certificate bootstrapping is requested", config.KeyCertAuthorityURL)
	}
	address, err := dialAddress(b.caURL)
	if err != nil {
		return nil, err
	}
	if err := b.dial(ctx, address); err != nil {
		return nil, failure.Unavailable(err, "certificate authority is unavailable at %s", b.caURL)
	}
	ca := b.ca.WithContext(ctx)

	suffix, _, err := ca.RawGetText("")
	if err != nil {
		return nil, err
	}
	systemName := b.config.SystemName(true)
	generatedName := systemName == ""
	if generatedName {
		systemName = string(b.role) + strconv.FormatInt(b.now().UnixMilli(), 10)
	}
	commonName := identity.Join(systemName, suffix)
	if err := identity.ValidateCommonName(commonName, b.config.RootDomain()); err != nil {
		return nil, failure.BadPayload(err, "cloud suffix %q of the certificate authority is invalid", suffix)
	}

	key, err := rsa.GenerateKey(rand.Reader, b.keyBits)
	if err != nil {
		return nil, failure.Internal(err, "cannot generate key")
	}
	chain, err := b.sign(ca, commonName, key)
	if err != nil {
		return nil, err
	}

	bundle := &Bundle{
		Keystore:       &keystore.Keystore{PrivateKey: key, Chain: chain},
		KeystorePath:   filepath.Join(b.certDir, systemName+".p12"),
		Truststore:     &keystore.Truststore{Certificates: []*x509.Certificate{chain[1]}},
		TruststorePath: filepath.Join(b.certDir, TruststoreFile),
	}
	if bundle.KeystorePassword, err = b.password(config.KeyKeystorePass); err != nil {
		return nil, err
	}
	if bundle.TruststorePassword, err = b.password(config.KeyTruststorePass); err != nil {
		return nil, err
	}
	if b.role == RoleProvider {
		var data []byte
		if _, err := ca.RawGet("/auth", &data); err != nil {
			return nil, err
		}
		if bundle.IssuerKey, err = keystore.ParsePublicKey(data); err != nil {
			return nil, err
		}
		bundle.IssuerKeyPath = filepath.Join(b.certDir, IssuerKeyFile)
	}

	values := map[string]string{
		config.KeyKeystore:       bundle.KeystorePath,
		config.KeyKeystorePass:   bundle.KeystorePassword,
		config.KeyKeyPass:        bundle.KeystorePassword,
		config.KeyTruststore:     bundle.TruststorePath,
		config.KeyTruststorePass: bundle.TruststorePassword,
	}
	if bundle.IssuerKey != nil {
		values[config.KeyAuthorizationPublicKey] = bundle.IssuerKeyPath
	}
	if generatedName {
		values[config.KeySecureSystemName] = systemName
	}
	if err := b.commit(bundle, values); err != nil {
		return nil, err
	}
	rlog.Infof("bootstrapped certificate %s", commonName)
	return bundle, nil
}

func (b *Bootstrapper) password(key string) (string, error) {
	if b.config.Has(key) {
		return b.config.String(key, ""), nil
	}
	return keystore.GeneratePassword()
}

// sign sends a certificate request for commonName and returns the chain
// [leaf, intermediate, root]
func (b *Bootstrapper) sign(ca client.Client, commonName string, key *rsa.PrivateKey) ([]*x509.Certificate, error) {
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:            pkix.Name{CommonName: commonName},
		SignatureAlgorithm: x509.SHA512WithRSA,
	}, key)
	if err != nil {
		return nil, failure.Internal(err, "cannot create certificate request")
	}

	var raw []byte
	request := certauthority.SigningRequest{EncodedCertRequest: base64.StdEncoding.EncodeToString(der)}
	if _, err := ca.RawPost("", request, &raw); err != nil {
		return nil, err
	}
	if err := schema.ValidateArrowhead(raw, schema.SigningResponseID); err != nil {
		return nil, failure.BadPayload(err, "invalid signing response")
	}
	var response certauthority.SigningResponse
	if err := json.Unmarshal(raw, &response); err != nil {
		return nil, failure.BadPayload(err, "invalid signing response")
	}

	chain := make([]*x509.Certificate, 3)
	for i, encoded := range []string{response.EncodedSignedCert, response.IntermediateCert, response.RootCert} {
		if chain[i], err = decodeCertificate(encoded); err != nil {
			return nil, err
		}
	}
	leaf := chain[0]
	if !strings.EqualFold(leaf.Subject.CommonName, commonName) {
		return nil, failure.Auth("certificate authority signed %q instead of %q", leaf.Subject.CommonName, commonName)
	}
	if pub, ok := leaf.PublicKey.(*rsa.PublicKey); !ok || !pub.Equal(&key.PublicKey) {
		return nil, failure.Auth("signed certificate does not carry the requested key")
	}
	return chain, nil
}

// decodeCertificate decodes a base64 certificate. The decoded bytes may be DER or
// PEM.
func decodeCertificate(encoded string) (*x509.Certificate, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, failure.Wrap(failure.KindAuth, err, "certificate from the certificate authority is not base64")
	}
	if block, _ := pem.Decode(data); block != nil {
		data = block.Bytes
	}
	cert, err := x509.ParseCertificate(data)
	if err != nil {
		return nil, failure.Wrap(failure.KindAuth, err, "malformed certificate from the certificate authority")
	}
	return cert, nil
}

// dialAddress returns host:port of a URL, with the default port of its scheme
func dialAddress(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "", failure.Config("%s %q is not a valid URL", config.KeyCertAuthorityURL, rawURL)
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

func dialTCP(ctx context.Context, address string) error {
	dialer := net.Dialer{Timeout: DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return err
	}
	return conn.Close()
}
