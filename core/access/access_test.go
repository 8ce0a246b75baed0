// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package access

import (
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func secureRequest(cn string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/temperature", nil)
	r.TLS = &tls.ConnectionState{
		PeerCertificates: []*x509.Certificate{{Subject: pkix.Name{CommonName: cn}}},
	}
	return r
}

func TestPeerFromRequest(t *testing.T) {
	_, ok := PeerFromRequest(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ok)

	peer, ok := PeerFromRequest(secureRequest("client1.cloudX.opY.arrowhead.eu"))
	assert.True(t, ok)
	assert.Equal(t, "client1", peer.SystemName())
	assert.Equal(t, "cloudX.opY.arrowhead.eu", peer.CloudName())
}

func TestPeerMiddleware(t *testing.T) {
	router := mux.NewRouter()
	router.Use(PeerMiddleware)
	var seen *Peer
	router.HandleFunc("/temperature", func(w http.ResponseWriter, r *http.Request) {
		seen = PeerFromContext(r.Context())
	})

	router.ServeHTTP(httptest.NewRecorder(), secureRequest("client1.cloudX.opY.arrowhead.eu"))
	if assert.NotNil(t, seen) {
		assert.Equal(t, "client1.cloudX.opY.arrowhead.eu", seen.CommonName)
	}

	seen = nil
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/temperature", nil))
	assert.Nil(t, seen)
}

func TestCloudFilter(t *testing.T) {
	router := mux.NewRouter()
	router.Use(CloudFilter("provider.cloudX.opY.arrowhead.eu", ""))
	router.HandleFunc("/temperature", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("21.5"))
	})

	tests := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"same cloud", secureRequest("client1.cloudX.opY.arrowhead.eu"), http.StatusOK},
		{"same cloud other case", secureRequest("client1.CLOUDX.opY.arrowhead.eu"), http.StatusOK},
		{"other cloud", secureRequest("client1.cloudZ.opY.arrowhead.eu"), http.StatusUnauthorized},
		{"invalid name", secureRequest("client1.arrowhead.eu"), http.StatusUnauthorized},
		{"insecure", httptest.NewRequest(http.MethodGet, "/temperature", nil), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, tt.req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}
