// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package client provides easy access to the REST api of Arrowhead systems

A client either talks directly to a mux router, or makes real HTTP requests to a
remote URL. The in-process mode is the tool of choice for unit tests, where a test
certificate authority or a provider lives in the same process. WithPeerCertificate
lets in-process requests look like they arrived over mutual TLS.

Every method returns the HTTP status together with an error from package failure.
Responses outside 2xx are converted with failure.FromBody, transport errors are
Unavailable, and a server certificate which does not chain to the configured trust
anchor is an Auth error.
*/
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/gorilla/mux"
	"github.com/relabs-tech/arrowhead/core/failure"
	"github.com/relabs-tech/arrowhead/core/logger"
)

// DefaultTimeout is the timeout of clients created with NewWithURL
const DefaultTimeout = 20 * time.Second

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	ctx        context.Context
	peer       *x509.Certificate

	defaultHeaders map[string]string
}

// NewWithRouter creates a client to make pseudo-REST requests to a handler,
// through the mux router
//
// WithPeerCertificate() makes requests appear as mutual TLS requests.
// WithContext() specifies a different base context all together.
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router:         router,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client to make plain HTTP requests to url
func NewWithURL(url string) Client {
	return NewWithURLAndTLS(url, nil)
}

// NewWithURLAndTLS creates a client to make REST requests to url. A non-nil tlsConfig
// is used for HTTPS connections.
func NewWithURLAndTLS(url string, tlsConfig *tls.Config) Client {
	httpClient := &http.Client{Timeout: DefaultTimeout}
	if tlsConfig != nil {
		httpClient.Transport = &http.Transport{
			TLSClientConfig:     tlsConfig,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConnsPerHost: 16,
		}
	}
	return Client{
		url:            strings.TrimSuffix(url, "/"),
		httpClient:     httpClient,
		defaultHeaders: map[string]string{},
	}
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	headers := make(map[string]string, len(c.defaultHeaders)+1)
	for k, v := range c.defaultHeaders {
		headers[k] = v
	}
	headers[key] = value
	c.defaultHeaders = headers
	return c
}

// WithContext returns a new client with a specific context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// WithTimeout returns a new client with a different timeout. It has no effect on
// in-process clients.
func (c Client) WithTimeout(timeout time.Duration) Client {
	if c.httpClient != nil {
		hc := *c.httpClient
		hc.Timeout = timeout
		c.httpClient = &hc
	}
	return c
}

// WithPeerCertificate returns a new in-process client whose requests carry cert as
// verified TLS client certificate
func (c Client) WithPeerCertificate(cert *x509.Certificate) Client {
	c.peer = cert
	return c
}

// Context returns the client's context
func (c Client) Context() context.Context {
	if c.ctx != nil {
		return c.ctx
	}
	ctx, _ := logger.ContextWithLogger(context.Background())
	return ctx
}

// WithPath returns a new client whose base URL is extended by path. In-process
// clients get path as prefix for all requests.
func (c Client) WithPath(path string) Client {
	c.url = strings.TrimSuffix(c.url+path, "/")
	return c
}

// URL returns the base URL of the client. In-process clients only have a path.
func (c Client) URL() string {
	return c.url
}

// RawGet gets a resource from a path. The result is unmarshalled from JSON, unless
// it is a *[]byte or a *string.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	status, resBody, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return status, err
	}
	return status, c.decode(path, resBody, result)
}

// RawGetText gets a plain text resource from a path
func (c Client) RawGetText(path string) (string, int, error) {
	var text string
	status, err := c.RawGet(path, &text)
	return strings.TrimSpace(text), status, err
}

// RawPost posts a JSON body to path. Body can also be a []byte with raw JSON.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	return c.send(http.MethodPost, path, body, result)
}

// RawPut puts a JSON body to path
func (c Client) RawPut(path string, body interface{}, result interface{}) (int, error) {
	return c.send(http.MethodPut, path, body, result)
}

// RawDelete deletes a resource
func (c Client) RawDelete(path string) (int, error) {
	status, _, err := c.do(http.MethodDelete, path, nil)
	return status, err
}

func (c Client) send(method, path string, body interface{}, result interface{}) (int, error) {
	var err error
	j, ok := body.([]byte)
	if !ok {
		j, err = json.Marshal(body)
		if err != nil {
			return http.StatusBadRequest, failure.BadPayload(err, "%s to %s", method, path)
		}
	}
	status, resBody, err := c.do(method, path, j)
	if err != nil {
		return status, err
	}
	return status, c.decode(path, resBody, result)
}

func (c Client) do(method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	r, err := http.NewRequestWithContext(c.Context(), method, c.url+path, reader)
	if err != nil {
		return http.StatusBadRequest, nil, failure.BadPayload(err, "invalid request %s %s", method, path)
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}

	var status int
	var resBody []byte
	if c.router != nil {
		if c.peer != nil {
			r.TLS = &tls.ConnectionState{
				HandshakeComplete: true,
				PeerCertificates:  []*x509.Certificate{c.peer},
				VerifiedChains:    [][]*x509.Certificate{{c.peer}},
			}
		}
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		res := rec.Result()
		status = res.StatusCode
		resBody = rec.Body.Bytes()
	} else {
		res, err := c.httpClient.Do(r)
		if err != nil {
			return 0, nil, transportError(err, c.url+path)
		}
		defer res.Body.Close()
		status = res.StatusCode
		resBody, err = io.ReadAll(res.Body)
		if err != nil {
			return status, nil, failure.Unavailable(err, "cannot read response from %s", c.url+path)
		}
	}

	if status < 200 || status > 299 {
		return status, resBody, failure.FromBody(status, resBody, c.url+path)
	}
	return status, resBody, nil
}

func (c Client) decode(path string, resBody []byte, result interface{}) error {
	if len(resBody) == 0 || result == nil {
		return nil
	}
	switch r := result.(type) {
	case *[]byte:
		*r = resBody
	case *string:
		*r = string(resBody)
	default:
		if err := json.Unmarshal(resBody, result); err != nil {
			return failure.BadPayload(err, "cannot parse response from %s", c.url+path)
		}
	}
	return nil
}

// transportError classifies the error of a failed round trip
func transportError(err error, target string) error {
	var unknownAuthority x509.UnknownAuthorityError
	var invalid x509.CertificateInvalidError
	var hostname x509.HostnameError
	var verification *tls.CertificateVerificationError
	if errors.As(err, &unknownAuthority) || errors.As(err, &invalid) ||
		errors.As(err, &hostname) || errors.As(err, &verification) {
		return failure.Wrap(failure.KindAuth, err, "server certificate of "+target+" is not trusted")
	}
	return failure.Unavailable(err, "cannot reach %s", target)
}
