// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package test

import (
	"context"
	"net/http"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/relabs-tech/arrowhead/core/config"
	"github.com/relabs-tech/arrowhead/core/failure"
	"github.com/relabs-tech/arrowhead/core/keymaterial"
	"github.com/relabs-tech/arrowhead/core/keystore"
	"github.com/relabs-tech/arrowhead/iot"
	"github.com/relabs-tech/arrowhead/iot/bootstrap"
	"github.com/relabs-tech/arrowhead/iot/server"
	"github.com/relabs-tech/arrowhead/iot/token"
)

func TestCloudTestSuite(t *testing.T) {
	suite.Run(t, &CloudTestSuite{})
}

func (s *CloudTestSuite) requester() iot.System {
	return iot.System{SystemName: consumerName, Address: "null", Port: 0, AuthenticationInfo: "null"}
}

func tokenQuery(tok, signature string) string {
	return "?" + url.Values{token.ParamToken: {tok}, token.ParamSignature: {signature}}.Encode()
}

func (s *CloudTestSuite) TestSecureConsumption() {
	ctx := context.Background()
	binding, err := s.orchestrator().RequestAccess(ctx, s.requester(), iot.Service{ServiceDefinition: "temperature"}, nil)
	s.Require().NoError(err)
	s.True(binding.Secure())
	s.Equal(s.providerURL, binding.BaseURL())

	var reading Reading
	status, err := binding.Consume(ctx, s.consumer.ClientTLS, &reading)
	s.Require().NoError(err)
	s.Equal(http.StatusOK, status)
	s.Equal(21.5, reading.Value)
	s.Equal(consumerName, reading.Consumer)
}

func (s *CloudTestSuite) TestMissingToken() {
	status, err := s.providerClient(s.consumer).RawGet("/temperature", nil)
	s.Equal(http.StatusUnauthorized, status)
	s.True(failure.IsKind(err, failure.KindAuth), "%v", err)
}

func (s *CloudTestSuite) TestStolenToken() {
	tok, sig, err := s.issuer.Issue(consumerName, s.provider.Keys.PublicKey())
	s.Require().NoError(err)

	thief, err := s.ca.Enroll("client2")
	s.Require().NoError(err)
	tlsConfig, err := server.ClientTLSConfig(thief, s.ca.Truststore())
	s.Require().NoError(err)
	creds := &server.Credentials{Keystore: thief, ClientTLS: tlsConfig}

	status, err := s.providerClient(creds).RawGet("/temperature"+tokenQuery(tok, sig), nil)
	s.Equal(http.StatusUnauthorized, status)
	s.Equal("permission denied", failure.BodyOf(err).Message)
}

func (s *CloudTestSuite) TestTokenForOtherProvider() {
	other, err := s.ca.Enroll("othersensor")
	s.Require().NoError(err)
	tok, sig, err := s.issuer.Issue(consumerName, &other.PrivateKey.PublicKey)
	s.Require().NoError(err)

	status, err := s.providerClient(s.consumer).RawGet("/temperature"+tokenQuery(tok, sig), nil)
	s.Equal(http.StatusInternalServerError, status)
	s.True(failure.IsKind(err, failure.KindInternal), "%v", err)
}

func (s *CloudTestSuite) TestExpiredToken() {
	tok, sig, err := s.issuer.IssueFor(consumerName, s.provider.Keys.PublicKey(), -time.Second)
	s.Require().NoError(err)

	status, err := s.providerClient(s.consumer).RawGet("/temperature"+tokenQuery(tok, sig), nil)
	s.Equal(http.StatusUnauthorized, status)
	s.Equal("token expired", failure.BodyOf(err).Message)
}

func (s *CloudTestSuite) TestNeverExpiringToken() {
	tok, sig, err := s.issuer.IssueFor(consumerName, s.provider.Keys.PublicKey(), 0)
	s.Require().NoError(err)

	var reading Reading
	_, err = s.providerClient(s.consumer).RawGet("/temperature"+tokenQuery(tok, sig), &reading)
	s.Require().NoError(err)
	s.Equal(consumerName, reading.Consumer)
}

func (s *CloudTestSuite) TestBootstrapIsIdempotent() {
	reloaded, err := s.providerCfg.Reload()
	s.Require().NoError(err)
	bundle, err := bootstrap.New(&bootstrap.Builder{Config: reloaded, Role: bootstrap.RoleProvider}).EnsureCredentials(context.Background())
	s.Require().NoError(err)
	s.True(bundle.Keystore.Leaf().Equal(s.provider.Keystore.Leaf()))
	s.Equal(filepath.Join(s.providerDir, "certificates", providerName+".p12"), reloaded.String(config.KeyKeystore, ""))
}

func (s *CloudTestSuite) TestKeyMaterialFromConfiguration() {
	reloaded, err := s.providerCfg.Reload()
	s.Require().NoError(err)
	keys, err := keymaterial.Load(reloaded)
	s.Require().NoError(err)
	s.Equal(providerName+"."+cloudSuffix, keys.CommonName())
	s.True(keys.IssuerKey().Equal(&s.ca.IssuerKey().PublicKey))

	ts, err := keystore.LoadTruststore(reloaded.String(config.KeyTruststore, ""), reloaded.String(config.KeyTruststorePass, ""))
	s.Require().NoError(err)
	s.Len(ts.Certificates, 1)
	s.True(ts.Certificates[0].Equal(s.ca.Intermediate()))
}

func (s *CloudTestSuite) TestConsumeRejectsOtherServer() {
	ctx := context.Background()
	binding, err := s.orchestrator().RequestAccess(ctx, s.requester(), iot.Service{ServiceDefinition: "temperature"}, nil)
	s.Require().NoError(err)

	// the listener at the bound address belongs to a different system of the cloud
	binding.Provider.SystemName = "othersensor"
	_, err = binding.Consume(ctx, s.consumer.ClientTLS, nil)
	s.True(failure.IsKind(err, failure.KindAuth), "%v", err)
}
