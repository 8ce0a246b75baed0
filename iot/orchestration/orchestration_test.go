// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package orchestration

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/arrowhead/core/client"
	"github.com/relabs-tech/arrowhead/core/failure"
	"github.com/relabs-tech/arrowhead/iot"
	"github.com/relabs-tech/arrowhead/iot/authorization"
	"github.com/relabs-tech/arrowhead/iot/registry"
	"github.com/relabs-tech/arrowhead/iot/token"
)

type cloud struct {
	router      *mux.Router
	registry    *registry.Server
	issuerKey   *rsa.PrivateKey
	providerKey *rsa.PrivateKey
}

func mustKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func newCloud(t *testing.T) *cloud {
	c := &cloud{
		router:      mux.NewRouter(),
		issuerKey:   mustKey(t),
		providerKey: mustKey(t),
	}
	c.registry = registry.NewServer(&registry.Builder{Router: c.router})
	NewOrchestrator(&Builder{
		Router:   c.router,
		Registry: c.registry,
		Issuer:   authorization.NewIssuer(&authorization.Builder{Key: c.issuerKey}),
	})
	return c
}

func (c *cloud) register(t *testing.T, name string, port int, secured bool) {
	t.Helper()
	provider := iot.System{SystemName: name, Address: "127.0.0.1", Port: port}
	service := iot.Service{ServiceDefinition: "temperature", Interfaces: []string{"HTTP-SECURE-JSON"}}
	if secured {
		info, err := iot.EncodeAuthenticationInfo(&c.providerKey.PublicKey)
		require.NoError(t, err)
		provider.AuthenticationInfo = info
		service.ServiceMetadata = map[string]string{iot.SecurityKey: iot.SecurityToken}
	}
	require.NoError(t, c.registry.Add(registry.Entry{
		ProvidedService: service,
		Provider:        provider,
		ServiceURI:      "temperature",
	}))
}

func (c *cloud) client() *Client {
	return NewClient(client.NewWithRouter(c.router).WithPath("/orchestrator/orchestration"))
}

var requester = iot.System{SystemName: "client1", Address: "null", Port: 0, AuthenticationInfo: "null"}

func TestRequestAccess_Secured(t *testing.T) {
	c := newCloud(t)
	c.register(t, "securetemperaturesensor", 8461, true)

	binding, err := c.client().RequestAccess(context.Background(), requester,
		iot.Service{ServiceDefinition: "temperature"}, nil)
	require.NoError(t, err)
	assert.True(t, binding.Secure())
	assert.Equal(t, "https://127.0.0.1:8461", binding.BaseURL())

	u, err := url.Parse(binding.URL())
	require.NoError(t, err)
	assert.Equal(t, "/temperature", u.Path)
	assert.Equal(t, binding.Token, u.Query().Get(token.ParamToken))
	assert.Equal(t, binding.Signature, u.Query().Get(token.ParamSignature))

	tok, sig, err := token.Decode(binding.Token, binding.Signature)
	require.NoError(t, err)
	require.NoError(t, token.VerifySignature(tok, sig, &c.issuerKey.PublicKey))
	info, err := token.Decrypt(tok, c.providerKey)
	require.NoError(t, err)
	assert.Equal(t, "client1", info.C)
	assert.NotZero(t, info.E)
}

func TestRequestAccess_PeerCommonName(t *testing.T) {
	c := newCloud(t)
	c.register(t, "securetemperaturesensor", 8461, true)

	cert := &x509.Certificate{Subject: pkix.Name{CommonName: "client1.cloudX.opY.arrowhead.eu"}}
	o := NewClient(client.NewWithRouter(c.router).WithPeerCertificate(cert).WithPath("/orchestrator/orchestration"))
	binding, err := o.RequestAccess(context.Background(), requester, iot.Service{ServiceDefinition: "temperature"}, nil)
	require.NoError(t, err)

	tok, _, err := token.Decode(binding.Token, binding.Signature)
	require.NoError(t, err)
	info, err := token.Decrypt(tok, c.providerKey)
	require.NoError(t, err)
	assert.Equal(t, "client1.cloudX.opY.arrowhead.eu", info.C)
}

func TestRequestAccess_Insecure(t *testing.T) {
	c := newCloud(t)
	c.register(t, "insecuretemperaturesensor", 8460, false)

	binding, err := c.client().RequestAccess(context.Background(), requester,
		iot.Service{ServiceDefinition: "Temperature"}, nil)
	require.NoError(t, err)
	assert.False(t, binding.Secure())
	assert.Empty(t, binding.Token)
	assert.Equal(t, "http://127.0.0.1:8460/temperature", binding.URL())
}

func TestRequestAccess_NoProviders(t *testing.T) {
	c := newCloud(t)
	_, err := c.client().RequestAccess(context.Background(), requester,
		iot.Service{ServiceDefinition: "temperature"}, nil)
	assert.True(t, failure.IsKind(err, failure.KindDataNotFound), "%v", err)
}

func TestRequestAccess_FirstCandidate(t *testing.T) {
	c := newCloud(t)
	c.register(t, "sensor1", 9001, false)
	c.register(t, "sensor2", 9002, false)

	binding, err := c.client().RequestAccess(context.Background(), requester,
		iot.Service{ServiceDefinition: "temperature"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "sensor1", binding.Provider.SystemName)
}

func TestOrchestrate_Preferred(t *testing.T) {
	c := newCloud(t)
	c.register(t, "sensor1", 9001, false)
	c.register(t, "sensor2", 9002, false)

	form := ServiceRequestForm{
		RequesterSystem:    requester,
		RequestedService:   iot.Service{ServiceDefinition: "temperature"},
		OrchestrationFlags: Flags{FlagOnlyPreferred: true},
		PreferredProviders: []PreferredProvider{{ProviderSystem: &iot.System{SystemName: "sensor2"}}},
	}
	response, err := c.client().Orchestrate(context.Background(), form)
	require.NoError(t, err)
	require.Len(t, response.Response, 1)
	assert.Equal(t, "sensor2", response.Response[0].Provider.SystemName)

	form.OrchestrationFlags = DefaultFlags()
	response, err = c.client().Orchestrate(context.Background(), form)
	require.NoError(t, err)
	require.Len(t, response.Response, 2)
	assert.Equal(t, "sensor2", response.Response[0].Provider.SystemName)
}

func TestOrchestrate_MetadataSearch(t *testing.T) {
	c := newCloud(t)
	c.register(t, "sensor1", 9001, false)
	c.register(t, "securesensor", 9002, true)

	service := iot.Service{
		ServiceDefinition: "temperature",
		ServiceMetadata:   map[string]string{iot.SecurityKey: iot.SecurityToken},
	}
	binding, err := c.client().RequestAccess(context.Background(), requester, service,
		Flags{FlagMetadataSearch: true})
	require.NoError(t, err)
	assert.Equal(t, "securesensor", binding.Provider.SystemName)
}

func TestOrchestrate_BadForm(t *testing.T) {
	c := newCloud(t)
	_, err := client.NewWithRouter(c.router).RawPost("/orchestrator/orchestration", []byte(`{"requesterSystem":{}}`), nil)
	assert.True(t, failure.IsKind(err, failure.KindBadPayload), "%v", err)
}

func TestNewBinding_SecuredWithoutToken(t *testing.T) {
	_, err := NewBinding(Entry{
		Provider: iot.System{SystemName: "sensor", Address: "127.0.0.1", Port: 8461},
		Service: iot.Service{
			ServiceDefinition: "temperature",
			ServiceMetadata:   map[string]string{iot.SecurityKey: iot.SecurityToken},
		},
	})
	assert.True(t, failure.IsKind(err, failure.KindBadPayload))
}

func TestBinding_PathEscapesToken(t *testing.T) {
	b := &ProviderBinding{
		Provider:   iot.System{Address: "10.0.0.1", Port: 8461},
		Service:    iot.Service{ServiceMetadata: map[string]string{iot.SecurityKey: iot.SecurityToken}},
		ServiceURI: "/temperature",
		Token:      "ab+c/d=",
		Signature:  "x+y=",
	}
	u, err := url.Parse(b.URL())
	require.NoError(t, err)
	assert.Equal(t, "ab+c/d=", u.Query().Get(token.ParamToken))
	assert.Equal(t, "x+y=", u.Query().Get(token.ParamSignature))

	_, err = b.Client(nil)
	assert.True(t, failure.IsKind(err, failure.KindConfig))
}

func TestBinding_URL(t *testing.T) {
	secured := iot.Service{ServiceMetadata: map[string]string{iot.SecurityKey: iot.SecurityToken}}
	tests := []struct {
		name    string
		binding ProviderBinding
		want    string
	}{
		{"ipv6 without port", ProviderBinding{Provider: iot.System{Address: "::1"}, ServiceURI: "temperature"},
			"http://[::1]/temperature"},
		{"ipv6 with port", ProviderBinding{Provider: iot.System{Address: "::1", Port: 8460}, ServiceURI: "temperature"},
			"http://[::1]:8460/temperature"},
		{"query kept", ProviderBinding{Provider: iot.System{Address: "10.0.0.1", Port: 8460}, ServiceURI: "/temperature?unit=celsius"},
			"http://10.0.0.1:8460/temperature?unit=celsius"},
		{"query merged with token", ProviderBinding{Provider: iot.System{Address: "10.0.0.1", Port: 8461}, Service: secured,
			ServiceURI: "/temperature?unit=celsius", Token: "tok", Signature: "sig"},
			"https://10.0.0.1:8461/temperature?unit=celsius&signature=sig&token=tok"},
		{"no service uri", ProviderBinding{Provider: iot.System{Address: "10.0.0.1", Port: 8461}, Service: secured,
			Token: "tok", Signature: "sig"},
			"https://10.0.0.1:8461?signature=sig&token=tok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.binding.URL())
		})
	}

	u, err := url.Parse(tests[3].binding.URL())
	require.NoError(t, err)
	assert.Equal(t, "celsius", u.Query().Get("unit"))
	assert.Equal(t, "tok", u.Query().Get(token.ParamToken))
}

func TestConsume(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/temperature", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value":21.5}`))
	})
	server := httptest.NewServer(router)
	defer server.Close()

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, _ := strconv.Atoi(u.Port())
	b := &ProviderBinding{
		Provider:   iot.System{SystemName: "sensor", Address: u.Hostname(), Port: port},
		Service:    iot.Service{ServiceDefinition: "temperature"},
		ServiceURI: "temperature",
	}
	var reading struct {
		Value float64 `json:"value"`
	}
	status, err := b.Consume(context.Background(), nil, &reading)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 21.5, reading.Value)
}
