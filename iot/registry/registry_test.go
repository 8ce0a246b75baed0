// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package registry

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/arrowhead/core/client"
	"github.com/relabs-tech/arrowhead/core/config"
	"github.com/relabs-tech/arrowhead/core/failure"
	"github.com/relabs-tech/arrowhead/iot"
)

func testEntry() Entry {
	return Entry{
		ProvidedService: iot.Service{ServiceDefinition: "temperature", Interfaces: []string{"JSON"}},
		Provider:        iot.System{SystemName: "provider", Address: "127.0.0.1", Port: 8461},
		ServiceURI:      "temperature",
	}
}

func TestRegister(t *testing.T) {
	router := mux.NewRouter()
	server := NewServer(&Builder{Router: router})
	registry := NewClient(client.NewWithRouter(router).WithPath("/serviceregistry"))

	require.NoError(t, registry.Register(context.Background(), testEntry()))
	assert.Len(t, server.Entries(), 1)

	// a second registration replaces the first one
	updated := testEntry()
	updated.ServiceURI = "temperature/v2"
	require.NoError(t, registry.Register(context.Background(), updated))
	entries := server.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "temperature/v2", entries[0].ServiceURI)

	require.NoError(t, registry.Unregister(context.Background(), updated))
	assert.Len(t, server.Entries(), 0)

	err := registry.Unregister(context.Background(), updated)
	assert.True(t, failure.IsKind(err, failure.KindDataNotFound), "%v", err)
}

func TestRegister_DuplicateRetriedOnce(t *testing.T) {
	var posts, puts int
	router := mux.NewRouter()
	router.HandleFunc("/serviceregistry/register", func(w http.ResponseWriter, r *http.Request) {
		posts++
		failure.WriteArrowheadHTTP(w, failure.New(failure.KindDuplicateEntry, "exists"), "serviceregistry/register")
	}).Methods(http.MethodPost)
	router.HandleFunc("/serviceregistry/remove", func(w http.ResponseWriter, r *http.Request) {
		puts++
	}).Methods(http.MethodPut)

	registry := NewClient(client.NewWithRouter(router).WithPath("/serviceregistry"))
	err := registry.Register(context.Background(), testEntry())
	assert.True(t, failure.IsKind(err, failure.KindDuplicateEntry))
	assert.Equal(t, 2, posts)
	assert.Equal(t, 1, puts)
}

func TestRegister_OtherErrorsAreNotRetried(t *testing.T) {
	var posts int
	router := mux.NewRouter()
	router.HandleFunc("/serviceregistry/register", func(w http.ResponseWriter, r *http.Request) {
		posts++
		failure.WriteArrowheadHTTP(w, failure.BadPayload(nil, "bad"), "serviceregistry/register")
	}).Methods(http.MethodPost)

	err := NewClient(client.NewWithRouter(router).WithPath("/serviceregistry")).Register(context.Background(), testEntry())
	assert.True(t, failure.IsKind(err, failure.KindBadPayload))
	assert.Equal(t, 1, posts)
}

func TestServer_RejectsInvalidEntry(t *testing.T) {
	router := mux.NewRouter()
	NewServer(&Builder{Router: router})
	_, err := client.NewWithRouter(router).RawPost("/serviceregistry/register", []byte(`{"provider":{"systemName":"x"}}`), nil)
	assert.True(t, failure.IsKind(err, failure.KindBadPayload), "%v", err)
}

func TestServer_Lookup(t *testing.T) {
	server := NewServer(&Builder{Router: mux.NewRouter()})
	require.NoError(t, server.Add(testEntry()))
	other := testEntry()
	other.Provider.SystemName = "provider2"
	other.ProvidedService.ServiceMetadata = map[string]string{"unit": "kelvin"}
	require.NoError(t, server.Add(other))

	assert.Len(t, server.Lookup(iot.Service{ServiceDefinition: "Temperature"}, false), 2)
	found := server.Lookup(iot.Service{ServiceDefinition: "temperature", ServiceMetadata: map[string]string{"unit": "kelvin"}}, true)
	require.Len(t, found, 1)
	assert.Equal(t, "provider2", found[0].Provider.SystemName)
	assert.Len(t, server.Lookup(iot.Service{ServiceDefinition: "humidity"}, false), 0)
}

func TestEntryFromConfig(t *testing.T) {
	c := config.New(map[string]string{
		config.KeySecureSystemName:   "provider",
		config.KeyInsecureSystemName: "insecureprovider",
		config.KeyServiceName:        "temperature",
		config.KeyServiceURI:         "temperature",
		config.KeyInterfaces:         "JSON, XML",
		config.KeyMetadata:           "unit-celsius",
	})
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	entry, err := EntryFromConfig(c, "https://127.0.0.1:8461", true, &key.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, "provider", entry.Provider.SystemName)
	assert.Equal(t, "127.0.0.1", entry.Provider.Address)
	assert.Equal(t, 8461, entry.Provider.Port)
	assert.Equal(t, map[string]string{"unit": "celsius", "security": "token"}, entry.ProvidedService.ServiceMetadata)
	assert.Equal(t, []string{"JSON", "XML"}, entry.ProvidedService.Interfaces)
	pub, err := entry.Provider.PublicKey()
	require.NoError(t, err)
	assert.True(t, pub.Equal(&key.PublicKey))

	entry, err = EntryFromConfig(c, "http://127.0.0.1:8460", false, nil)
	require.NoError(t, err)
	assert.Equal(t, "insecureprovider", entry.Provider.SystemName)
	assert.Empty(t, entry.Provider.AuthenticationInfo)
	assert.False(t, entry.ProvidedService.IsSecured())

	_, err = EntryFromConfig(c, "https://127.0.0.1:8461", true, nil)
	assert.True(t, failure.IsKind(err, failure.KindConfig))
}

func TestRegister_OverHTTP(t *testing.T) {
	router := mux.NewRouter()
	server := NewServer(&Builder{Router: router})
	ts := httptest.NewServer(router)
	defer ts.Close()

	registry := NewClient(client.NewWithURL(ts.URL).WithPath("/serviceregistry"))
	require.NoError(t, registry.Register(context.Background(), testEntry()))
	assert.Len(t, server.Entries(), 1)
}
