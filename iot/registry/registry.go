// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package registry registers services with the Arrowhead service registry.

A provider publishes each of its services as an Entry. Client talks to a remote
service registry, Server is an in-memory service registry for local setups and
tests, which the in-memory orchestrator of package orchestration queries.
*/
package registry

import (
	"context"
	"crypto/rsa"
	"net/url"
	"strconv"

	"github.com/relabs-tech/arrowhead/core/client"
	"github.com/relabs-tech/arrowhead/core/config"
	"github.com/relabs-tech/arrowhead/core/failure"
	"github.com/relabs-tech/arrowhead/core/logger"
	"github.com/relabs-tech/arrowhead/iot"
)

// Entry is a service offered by a provider
type Entry struct {
	ProvidedService iot.Service `json:"providedService"`
	Provider        iot.System  `json:"provider"`
	ServiceURI      string      `json:"serviceURI,omitempty"`
	Version         int         `json:"version,omitempty"`
	UDP             bool        `json:"udp,omitempty"`
}

// EntryFromConfig builds the entry for the service described by the configuration.
// baseURL is the URL the provider listens on. Secure providers publish their public
// key and mark the service with security=token unless the configuration already
// sets a security mode.
func EntryFromConfig(c *config.Config, baseURL string, secure bool, publicKey *rsa.PublicKey) (Entry, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return Entry{}, failure.Wrap(failure.KindConfig, err, "invalid base URL "+baseURL)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return Entry{}, failure.Config("base URL %s has no port", baseURL)
	}

	metadata := c.Metadata(config.KeyMetadata)
	provider := iot.System{
		SystemName: c.SystemName(secure),
		Address:    u.Hostname(),
		Port:       port,
	}
	if secure {
		if _, ok := metadata[iot.SecurityKey]; !ok {
			metadata[iot.SecurityKey] = iot.SecurityToken
		}
		if publicKey == nil {
			return Entry{}, failure.Config("secure provider needs a public key")
		}
		provider.AuthenticationInfo, err = iot.EncodeAuthenticationInfo(publicKey)
		if err != nil {
			return Entry{}, err
		}
	}
	if provider.SystemName == "" {
		return Entry{}, failure.Config("system name is not configured")
	}
	if len(metadata) == 0 {
		metadata = nil
	}

	return Entry{
		ProvidedService: iot.Service{
			ServiceDefinition: c.String(config.KeyServiceName, ""),
			Interfaces:        c.List(config.KeyInterfaces),
			ServiceMetadata:   metadata,
		},
		Provider:   provider,
		ServiceURI: c.String(config.KeyServiceURI, ""),
	}, nil
}

// Client registers entries with a remote service registry
type Client struct {
	client client.Client
}

// NewClient creates a service registry client. The client's URL is the base URL of
// the service registry, e.g. http://127.0.0.1:8442/serviceregistry
func NewClient(c client.Client) *Client {
	return &Client{client: c}
}

// Register publishes entry. If the registry already knows the entry, it is removed
// and registered again, once.
func (r *Client) Register(ctx context.Context, entry Entry) error {
	rlog := logger.FromContext(ctx)
	c := r.client.WithContext(ctx)
	_, err := c.RawPost("/register", entry, nil)
	if failure.IsKind(err, failure.KindDuplicateEntry) {
		rlog.Infof("service %s of %s is already registered, removing it and registering again",
			entry.ProvidedService.ServiceDefinition, entry.Provider.SystemName)
		if err := r.Unregister(ctx, entry); err != nil {
			return err
		}
		_, err = c.RawPost("/register", entry, nil)
	}
	if err != nil {
		return err
	}
	rlog.Infof("registered service %s of %s", entry.ProvidedService.ServiceDefinition, entry.Provider.SystemName)
	return nil
}

// Unregister removes entry from the registry
func (r *Client) Unregister(ctx context.Context, entry Entry) error {
	_, err := r.client.WithContext(ctx).RawPut("/remove", entry, nil)
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Infof("removed service %s of %s", entry.ProvidedService.ServiceDefinition, entry.Provider.SystemName)
	return nil
}
