// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/suite"

	"github.com/relabs-tech/arrowhead/core/access"
	"github.com/relabs-tech/arrowhead/core/client"
	"github.com/relabs-tech/arrowhead/core/config"
	"github.com/relabs-tech/arrowhead/core/logger"
	"github.com/relabs-tech/arrowhead/iot/authorization"
	"github.com/relabs-tech/arrowhead/iot/bootstrap"
	"github.com/relabs-tech/arrowhead/iot/certauthority"
	"github.com/relabs-tech/arrowhead/iot/orchestration"
	"github.com/relabs-tech/arrowhead/iot/registry"
	"github.com/relabs-tech/arrowhead/iot/server"
	"github.com/relabs-tech/arrowhead/iot/verifier"
)

const (
	cloudSuffix  = "cloudX.opY.arrowhead.eu"
	providerName = "securetemperaturesensor"
	consumerName = "client1"
)

// Reading is the answer of the test provider
type Reading struct {
	Value    float64 `json:"value"`
	Consumer string  `json:"consumer"`
}

// CloudTestSuite runs a local cloud: certificate authority, service registry and
// orchestrator on one plain HTTP server, and a secure temperature provider. Provider
// and consumer bootstrap their certificates from the certificate authority.
type CloudTestSuite struct {
	suite.Suite

	ca           *certauthority.Authority
	registry     *registry.Server
	issuer       *authorization.Issuer
	coreServer   *httptest.Server
	providerURL  string
	providerDir  string
	providerCfg  *config.Config
	provider     *server.Credentials
	consumer     *server.Credentials
	consumerDir  string
	cancel       context.CancelFunc
	providerDone chan error
}

func (s *CloudTestSuite) writeConfig(dir string, lines ...string) *config.Config {
	err := os.WriteFile(filepath.Join(dir, config.AppFile), []byte(strings.Join(lines, "\n")+"\n"), 0600)
	s.Require().NoError(err)
	c, err := config.Load(dir)
	s.Require().NoError(err)
	return c
}

func (s *CloudTestSuite) SetupSuite() {
	logger.InitLogger(logger.ParseLevel("warn"))

	core := mux.NewRouter()
	logger.AddRequestID(core)
	s.ca = certauthority.New(&certauthority.Builder{Router: core, CloudSuffix: cloudSuffix})
	s.registry = registry.NewServer(&registry.Builder{Router: core})
	s.issuer = authorization.NewIssuer(&authorization.Builder{Key: s.ca.IssuerKey()})
	orchestration.NewOrchestrator(&orchestration.Builder{Router: core, Registry: s.registry, Issuer: s.issuer})
	s.coreServer = httptest.NewServer(core)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)
	port := ln.Addr().(*net.TCPAddr).Port

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.providerDir = s.T().TempDir()
	s.providerCfg = s.writeConfig(s.providerDir,
		"secure_system_name = "+providerName,
		"cert_authority_url = "+s.coreServer.URL+"/ca",
		"address = 127.0.0.1",
		"secure_port = "+strconv.Itoa(port),
		"service_name = temperature",
		"service_uri = temperature",
		"interfaces = HTTP-SECURE-JSON",
	)
	b := bootstrap.New(&bootstrap.Builder{Config: s.providerCfg, Role: bootstrap.RoleProvider})
	s.provider, err = server.PrepareSecure(ctx, s.providerCfg, b)
	s.Require().NoError(err)

	router := mux.NewRouter()
	v := verifier.New(&verifier.Builder{Keys: s.provider.Keys})
	router.Use(access.CloudFilter(s.provider.Keys.CommonName(), ""), v.Middleware)
	router.HandleFunc("/temperature", func(w http.ResponseWriter, r *http.Request) {
		reading := Reading{Value: 21.5}
		if info := verifier.TokenInfoFromContext(r.Context()); info != nil {
			reading.Consumer = info.SystemName()
		}
		json.NewEncoder(w).Encode(reading)
	}).Methods(http.MethodGet)

	s.providerDone = make(chan error, 1)
	srv := server.New(&server.Builder{Handler: router, TLSConfig: s.provider.ServerTLS})
	go func() { s.providerDone <- srv.Serve(ctx, ln) }()
	s.providerURL = "https://" + ln.Addr().String()

	entry, err := registry.EntryFromConfig(s.providerCfg, s.providerCfg.BaseURL(true), true, s.provider.Keys.PublicKey())
	s.Require().NoError(err)
	sr := registry.NewClient(client.NewWithURL(s.coreServer.URL).WithPath("/serviceregistry"))
	s.Require().NoError(sr.Register(ctx, entry))

	s.consumerDir = s.T().TempDir()
	consumerCfg := s.writeConfig(s.consumerDir,
		"secure_system_name = "+consumerName,
		"cert_authority_url = "+s.coreServer.URL+"/ca",
	)
	s.consumer, err = server.PrepareSecure(ctx, consumerCfg, bootstrap.New(&bootstrap.Builder{Config: consumerCfg}))
	s.Require().NoError(err)
}

func (s *CloudTestSuite) TearDownSuite() {
	s.cancel()
	s.Require().NoError(<-s.providerDone)
	s.coreServer.Close()
}

// orchestrator returns a client for the orchestrator of the local cloud
func (s *CloudTestSuite) orchestrator() *orchestration.Client {
	return orchestration.NewClient(client.NewWithURL(s.coreServer.URL).WithPath("/orchestrator/orchestration"))
}

// providerClient returns a client for the provider with the given credentials
func (s *CloudTestSuite) providerClient(creds *server.Credentials) client.Client {
	return client.NewWithURLAndTLS(s.providerURL, creds.ClientTLS)
}
