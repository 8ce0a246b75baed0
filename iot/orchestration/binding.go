// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package orchestration

import (
	"context"
	"crypto/tls"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/relabs-tech/arrowhead/core/client"
	"github.com/relabs-tech/arrowhead/core/failure"
	"github.com/relabs-tech/arrowhead/iot"
	"github.com/relabs-tech/arrowhead/iot/server"
	"github.com/relabs-tech/arrowhead/iot/token"
)

// ProviderBinding is the provider a consumer was bound to
type ProviderBinding struct {
	Provider   iot.System
	Service    iot.Service
	ServiceURI string
	Token      string
	Signature  string
}

// NewBinding creates a binding from an orchestration entry. Secured services must
// come with token and signature.
func NewBinding(e Entry) (*ProviderBinding, error) {
	b := &ProviderBinding{
		Provider:   e.Provider,
		Service:    e.Service,
		ServiceURI: e.ServiceURI,
		Token:      e.AuthorizationToken,
		Signature:  e.Signature,
	}
	if b.Secure() && (b.Token == "" || b.Signature == "") {
		return nil, failure.BadPayload(nil, "secured service %s of %s comes without authorization token",
			e.Service.ServiceDefinition, e.Provider.SystemName)
	}
	return b, nil
}

// Secure returns true if the provider must be called over mutual TLS with a token
func (b *ProviderBinding) Secure() bool {
	return b.Service.IsSecured()
}

// BaseURL returns scheme, host and port of the provider
func (b *ProviderBinding) BaseURL() string {
	scheme := "http"
	if b.Secure() {
		scheme = "https"
	}
	host := b.Provider.Address
	if b.Provider.Port > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(b.Provider.Port))
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return scheme + "://" + host
}

// Path returns the service path with the token query parameters of secured services.
// A query of the service URI is kept.
func (b *ProviderBinding) Path() string {
	uri, query, _ := strings.Cut(b.ServiceURI, "?")
	path := ""
	if uri != "" {
		path = "/" + strings.TrimPrefix(uri, "/")
	}
	if b.Secure() {
		q := url.Values{}
		q.Set(token.ParamToken, b.Token)
		q.Set(token.ParamSignature, b.Signature)
		if query != "" {
			query += "&"
		}
		query += q.Encode()
	}
	if query != "" {
		path += "?" + query
	}
	return path
}

// URL returns the complete URL of the service
func (b *ProviderBinding) URL() string {
	return b.BaseURL() + b.Path()
}

// Client returns a client for the provider. tlsConfig is required for secured
// services, and the client then only accepts the certificate of the bound provider.
func (b *ProviderBinding) Client(tlsConfig *tls.Config) (client.Client, error) {
	if b.Secure() {
		if tlsConfig == nil {
			return client.Client{}, failure.Config("secured service %s needs a TLS configuration", b.Service.ServiceDefinition)
		}
		tlsConfig = server.PinPeer(tlsConfig, b.Provider.SystemName)
	}
	return client.NewWithURLAndTLS(b.BaseURL(), tlsConfig), nil
}

// Consume gets the service and unmarshals the answer into result
func (b *ProviderBinding) Consume(ctx context.Context, tlsConfig *tls.Config, result interface{}) (int, error) {
	c, err := b.Client(tlsConfig)
	if err != nil {
		return 0, err
	}
	return c.WithContext(ctx).RawGet(b.Path(), result)
}
