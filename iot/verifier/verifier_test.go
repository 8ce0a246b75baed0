// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package verifier

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/arrowhead/core/failure"
	"github.com/relabs-tech/arrowhead/core/keymaterial"
	"github.com/relabs-tech/arrowhead/iot/authorization"
	"github.com/relabs-tech/arrowhead/iot/token"
)

const (
	providerCN = "securetemperaturesensor.cloudX.opY.arrowhead.eu"
	consumerCN = "client1.cloudX.opY.arrowhead.eu"
)

var issuedAt = time.UnixMilli(1700000000000)

type fixture struct {
	issuerKey   *rsa.PrivateKey
	providerKey *rsa.PrivateKey
	issuer      *authorization.Issuer
	keys        *keymaterial.KeyMaterial
}

func mustKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{issuerKey: mustKey(t), providerKey: mustKey(t)}
	f.issuer = authorization.NewIssuer(&authorization.Builder{
		Key: f.issuerKey,
		Now: func() time.Time { return issuedAt },
	})
	var err error
	f.keys, err = keymaterial.New(f.providerKey, &f.issuerKey.PublicKey, providerCN)
	require.NoError(t, err)
	return f
}

func (f *fixture) verifier(now time.Time) *Verifier {
	return New(&Builder{Keys: f.keys, Now: func() time.Time { return now }})
}

func (f *fixture) issue(t *testing.T, consumer string, validity time.Duration) (string, string) {
	t.Helper()
	tok, sig, err := f.issuer.IssueFor(consumer, &f.providerKey.PublicKey, validity)
	require.NoError(t, err)
	return tok, sig
}

func TestVerify_Accept(t *testing.T) {
	f := newFixture(t)
	tok, sig := f.issue(t, consumerCN, time.Hour)
	info, err := f.verifier(issuedAt).Verify(consumerCN, tok, sig)
	require.NoError(t, err)
	assert.Equal(t, consumerCN, info.C)
}

func TestVerify_SystemNameOnly(t *testing.T) {
	f := newFixture(t)
	// the orchestrator may issue for the bare system name
	tok, sig := f.issue(t, "client1", time.Hour)
	_, err := f.verifier(issuedAt).Verify(consumerCN, tok, sig)
	assert.NoError(t, err)
}

func TestVerify_CaseInsensitiveSystemName(t *testing.T) {
	f := newFixture(t)
	tok, sig := f.issue(t, "Client1.cloudX.opY.arrowhead.eu", time.Hour)
	_, err := f.verifier(issuedAt).Verify("CLIENT1.cloudX.opY.arrowhead.eu", tok, sig)
	assert.NoError(t, err)
}

func TestVerify_PermissionDenied(t *testing.T) {
	f := newFixture(t)
	tok, sig := f.issue(t, "client2.cloudX.opY.arrowhead.eu", time.Hour)
	_, err := f.verifier(issuedAt).Verify(consumerCN, tok, sig)
	require.True(t, failure.IsKind(err, failure.KindAuth), "%v", err)
	assert.Equal(t, "permission denied", failure.BodyOf(err).Message)
}

func TestVerify_Expiry(t *testing.T) {
	f := newFixture(t)
	tok, sig := f.issue(t, consumerCN, time.Minute)
	expiry := issuedAt.Add(time.Minute)

	_, err := f.verifier(expiry.Add(-time.Millisecond)).Verify(consumerCN, tok, sig)
	assert.NoError(t, err, "one millisecond before expiry")

	_, err = f.verifier(expiry).Verify(consumerCN, tok, sig)
	require.True(t, failure.IsKind(err, failure.KindAuth), "expiry equal to now")
	assert.Equal(t, "token expired", failure.BodyOf(err).Message)

	_, err = f.verifier(expiry.Add(time.Millisecond)).Verify(consumerCN, tok, sig)
	assert.True(t, failure.IsKind(err, failure.KindAuth))

	never, neverSig := f.issue(t, consumerCN, 0)
	_, err = f.verifier(issuedAt.Add(100*365*24*time.Hour)).Verify(consumerCN, never, neverSig)
	assert.NoError(t, err, "zero expiry never expires")
}

func TestVerify_AlteredSignature(t *testing.T) {
	f := newFixture(t)
	tok, sig := f.issue(t, consumerCN, time.Hour)
	tokenBytes, sigBytes, err := token.Decode(tok, sig)
	require.NoError(t, err)

	v := f.verifier(issuedAt)
	for i := range sigBytes {
		altered := append([]byte(nil), sigBytes...)
		altered[i] ^= 0x80
		_, err := v.Verify(consumerCN, token.Encode(tokenBytes), token.Encode(altered))
		if failure.StatusOf(err) != http.StatusUnauthorized {
			t.Fatalf("altered byte %d: expected 401, got %v", i, err)
		}
	}
}

func TestVerify_WrongProviderKey(t *testing.T) {
	f := newFixture(t)
	other := mustKey(t)
	tok, sig, err := f.issuer.Issue(consumerCN, &other.PublicKey)
	require.NoError(t, err)

	_, err = f.verifier(issuedAt).Verify(consumerCN, tok, sig)
	assert.True(t, failure.IsKind(err, failure.KindInternal), "%v", err)
	assert.Equal(t, http.StatusInternalServerError, failure.StatusOf(err))
}

func TestVerify_WrongIssuer(t *testing.T) {
	f := newFixture(t)
	rogue := authorization.NewIssuer(&authorization.Builder{Key: mustKey(t)})
	tok, sig, err := rogue.Issue(consumerCN, &f.providerKey.PublicKey)
	require.NoError(t, err)

	_, err = f.verifier(issuedAt).Verify(consumerCN, tok, sig)
	assert.True(t, failure.IsKind(err, failure.KindAuth), "%v", err)
}

func TestVerify_Undecodable(t *testing.T) {
	f := newFixture(t)
	_, err := f.verifier(issuedAt).Verify(consumerCN, "%%%", "AAAA")
	assert.Equal(t, http.StatusInternalServerError, failure.StatusOf(err))
}

func TestVerify_Panic(t *testing.T) {
	f := newFixture(t)
	tok, sig := f.issue(t, consumerCN, time.Hour)
	v := New(&Builder{Keys: f.keys, Now: func() time.Time { panic("clock failure") }})
	_, err := v.Verify(consumerCN, tok, sig)
	assert.True(t, failure.IsKind(err, failure.KindInternal), "%v", err)
}

func TestVerify_Concurrent(t *testing.T) {
	f := newFixture(t)
	v := f.verifier(issuedAt)

	type call struct {
		peer, tok, sig string
		status         int
	}
	good, goodSig := f.issue(t, consumerCN, time.Hour)
	other, otherSig := f.issue(t, "client2.cloudX.opY.arrowhead.eu", time.Hour)
	expired, expiredSig := f.issue(t, consumerCN, -time.Minute)
	_, sigBytes, err := token.Decode(good, goodSig)
	require.NoError(t, err)
	sigBytes[10] ^= 0x01
	calls := []call{
		{consumerCN, good, goodSig, http.StatusOK},
		{consumerCN, other, otherSig, http.StatusUnauthorized},
		{"client2.cloudX.opY.arrowhead.eu", other, otherSig, http.StatusOK},
		{consumerCN, expired, expiredSig, http.StatusUnauthorized},
		{consumerCN, good, token.Encode(sigBytes), http.StatusUnauthorized},
	}

	const n = 1000
	results := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := calls[i%len(calls)]
			if _, err := v.Verify(c.peer, c.tok, c.sig); err != nil {
				results[i] = failure.StatusOf(err)
			} else {
				results[i] = http.StatusOK
			}
		}(i)
	}
	wg.Wait()
	for i, status := range results {
		if want := calls[i%len(calls)].status; status != want {
			t.Fatalf("call %d: expected %d, got %d", i, want, status)
		}
	}
}

func secureRequest(cn, rawQuery string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/temperature?"+rawQuery, nil)
	r.TLS = &tls.ConnectionState{
		PeerCertificates: []*x509.Certificate{{Subject: pkix.Name{CommonName: cn}}},
	}
	return r
}

func testRouter(v *Verifier) *mux.Router {
	router := mux.NewRouter()
	router.Use(v.Middleware)
	router.HandleFunc("/temperature", func(w http.ResponseWriter, r *http.Request) {
		consumer := "anonymous"
		if info := TokenInfoFromContext(r.Context()); info != nil {
			consumer = info.C
		}
		w.Write([]byte(consumer))
	})
	return router
}

func TestMiddleware(t *testing.T) {
	f := newFixture(t)
	router := testRouter(f.verifier(issuedAt))
	tok, sig := f.issue(t, consumerCN, time.Hour)
	escaped := url.Values{token.ParamToken: {tok}, token.ParamSignature: {sig}}.Encode()
	// an issuer which does not escape leaves '+' for the query decoder to turn into spaces
	unescaped := token.ParamToken + "=" + tok + "&" + token.ParamSignature + "=" + sig

	tests := []struct {
		name   string
		req    *http.Request
		status int
		body   string
	}{
		{"accepted", secureRequest(consumerCN, escaped), http.StatusOK, consumerCN},
		{"plus as space", secureRequest(consumerCN, unescaped), http.StatusOK, consumerCN},
		{"other consumer", secureRequest("client2.cloudX.opY.arrowhead.eu", escaped), http.StatusUnauthorized, ""},
		{"missing token", secureRequest(consumerCN, ""), http.StatusUnauthorized, ""},
		{"missing signature", secureRequest(consumerCN, token.ParamToken+"="+url.QueryEscape(tok)), http.StatusUnauthorized, ""},
		{"insecure", httptest.NewRequest(http.MethodGet, "/temperature", nil), http.StatusOK, "anonymous"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, tt.req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestMiddleware_ErrorBody(t *testing.T) {
	f := newFixture(t)
	router := testRouter(f.verifier(issuedAt))
	other := mustKey(t)
	tok, sig, err := f.issuer.Issue(consumerCN, &other.PublicKey)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, secureRequest(consumerCN, url.Values{token.ParamToken: {tok}, token.ParamSignature: {sig}}.Encode()))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body failure.Body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, failure.KindInternal, body.Kind)
	assert.Equal(t, http.StatusInternalServerError, body.Code)
	assert.NotContains(t, body.Message, "decrypt")
}
