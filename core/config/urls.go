// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package config

import (
	"fmt"
	"net"
	"strconv"

	"github.com/relabs-tech/arrowhead/core/identity"
)

const defaultAddress = "0.0.0.0"

// URL builds an http or https URL for host, port and an optional path
func URL(host string, port int, path string, secure bool) string {
	scheme := "http"
	if secure {
		scheme = "https"
	}
	u := fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, strconv.Itoa(port)))
	if path != "" {
		if path[0] != '/' {
			u += "/"
		}
		u += path
	}
	return u
}

// ListenAddress returns the address the local server of a provider listens on
func (c *Config) ListenAddress(secure bool) string {
	return c.ListenAddressFor(RoleProvider, secure)
}

// BaseURL returns the URL of the local server of a provider
func (c *Config) BaseURL(secure bool) string {
	return c.BaseURLFor(RoleProvider, secure)
}

// OrchestratorURL returns the orchestration endpoint
func (c *Config) OrchestratorURL(secure bool) string {
	port := c.Port(KeyOrchInsecurePort)
	if secure {
		port = c.Port(KeyOrchSecurePort)
	}
	return URL(c.String(KeyOrchAddress, defaultAddress), port, "orchestrator/orchestration", secure)
}

// ServiceRegistryURL returns the base URL of the service registry
func (c *Config) ServiceRegistryURL(secure bool) string {
	port := c.Port(KeySRInsecurePort)
	if secure {
		port = c.Port(KeySRSecurePort)
	}
	return URL(c.String(KeySRAddress, defaultAddress), port, "serviceregistry", secure)
}

// EventHandlerURL returns the base URL of the event handler
func (c *Config) EventHandlerURL(secure bool) string {
	port := c.Port(KeyEHInsecurePort)
	if secure {
		port = c.Port(KeyEHSecurePort)
	}
	return URL(c.String(KeyEHAddress, defaultAddress), port, "eventhandler", secure)
}

// SystemName returns the configured system name for the given mode
func (c *Config) SystemName(secure bool) string {
	if secure {
		return c.String(KeySecureSystemName, "")
	}
	return c.String(KeyInsecureSystemName, "")
}

// RootDomain returns the root domain which valid common names end with
func (c *Config) RootDomain() string {
	return c.String(KeyRootDomain, identity.DefaultRootDomain)
}
