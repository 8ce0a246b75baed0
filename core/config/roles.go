// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package config

import (
	"net"
	"strconv"

	"github.com/relabs-tech/arrowhead/core/failure"
)

// Role is the role an application system plays in the local cloud
type Role string

// Roles
const (
	RoleConsumer   Role = "consumer"
	RoleProvider   Role = "provider"
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
)

type roleDefaults struct {
	insecurePort int
	securePort   int
	always       []string
	secure       []string
}

var storeFields = []string{KeyKeystore, KeyKeystorePass, KeyKeyPass, KeyTruststore, KeyTruststorePass}

var roles = map[Role]roleDefaults{
	RoleConsumer: {
		secure: storeFields,
	},
	RoleProvider: {
		insecurePort: 8460,
		securePort:   8461,
		always:       []string{KeyServiceName, KeyServiceURI, KeyInterfaces, KeyMetadata, KeyInsecureSystemName},
		secure:       append(append([]string{}, storeFields...), KeyAuthorizationPublicKey, KeySecureSystemName),
	},
	RolePublisher: {
		insecurePort: 8462,
		securePort:   8463,
		always:       []string{KeyEventType, KeyInsecureSystemName},
		secure:       append(append([]string{}, storeFields...), KeySecureSystemName),
	},
	RoleSubscriber: {
		insecurePort: 8464,
		securePort:   8465,
		always:       []string{KeyEventTypes, KeyNotifyURI, KeyInsecureSystemName},
		secure:       append(append([]string{}, storeFields...), KeySecureSystemName),
	},
}

// Valid returns true for the four known roles
func (r Role) Valid() bool {
	_, ok := roles[r]
	return ok
}

// DefaultPort returns the default listen port of the role. Consumers do not listen
// and get 0.
func (r Role) DefaultPort(secure bool) int {
	d := roles[r]
	if secure {
		return d.securePort
	}
	return d.insecurePort
}

// MandatoryFields returns the keys a configuration of the role must contain. Secure
// systems additionally need their stores.
func (r Role) MandatoryFields(secure bool) []string {
	d := roles[r]
	fields := append([]string{}, d.always...)
	if secure {
		fields = append(fields, d.secure...)
	}
	return fields
}

// RequireRole returns a config error listing every mandatory field of role which is
// missing
func (c *Config) RequireRole(role Role, secure bool) error {
	if !role.Valid() {
		return failure.Config("unknown role %q", role)
	}
	return c.RequireFields(role.MandatoryFields(secure)...)
}

// ListenPort returns the configured port of the local server, with the default of
// the role
func (c *Config) ListenPort(role Role, secure bool) int {
	if secure {
		return c.Int(KeySecurePort, role.DefaultPort(true))
	}
	return c.Int(KeyInsecurePort, role.DefaultPort(false))
}

// ListenAddressFor returns the address the local server of role listens on
func (c *Config) ListenAddressFor(role Role, secure bool) string {
	return net.JoinHostPort(c.String(KeyAddress, defaultAddress), strconv.Itoa(c.ListenPort(role, secure)))
}

// BaseURLFor returns the URL of the local server of role
func (c *Config) BaseURLFor(role Role, secure bool) string {
	return URL(c.String(KeyAddress, defaultAddress), c.ListenPort(role, secure), "", secure)
}
