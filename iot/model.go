// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package iot

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"strings"

	"github.com/relabs-tech/arrowhead/core/failure"
)

// SecurityKey is the metadata key which marks a service as secured
const SecurityKey = "security"

// SecurityToken is the metadata value for token secured services
const SecurityToken = "token"

// System is an Arrowhead system. AuthenticationInfo holds the base64 DER encoded
// public key of secure systems.
type System struct {
	SystemName         string `json:"systemName"`
	Address            string `json:"address"`
	Port               int    `json:"port"`
	AuthenticationInfo string `json:"authenticationInfo,omitempty"`
}

// Service is a service definition with its interfaces and metadata
type Service struct {
	ServiceDefinition string            `json:"serviceDefinition"`
	Interfaces        []string          `json:"interfaces"`
	ServiceMetadata   map[string]string `json:"serviceMetadata,omitempty"`
}

// IsSecured returns true if the service requires authorization tokens
func (s Service) IsSecured() bool {
	_, ok := s.ServiceMetadata[SecurityKey]
	return ok
}

// Matches returns true if s can serve a request for other. Service definitions are
// compared case-insensitively, interfaces must overlap if both list any, and with
// metadataSearch all requested metadata must be present with equal values.
func (s Service) Matches(other Service, metadataSearch bool) bool {
	if !strings.EqualFold(s.ServiceDefinition, other.ServiceDefinition) {
		return false
	}
	if len(s.Interfaces) > 0 && len(other.Interfaces) > 0 && !overlap(s.Interfaces, other.Interfaces) {
		return false
	}
	if metadataSearch {
		for k, v := range other.ServiceMetadata {
			if s.ServiceMetadata[k] != v {
				return false
			}
		}
	}
	return true
}

func overlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if strings.EqualFold(x, y) {
				return true
			}
		}
	}
	return false
}

// EncodeAuthenticationInfo returns the authentication info for a public key
func EncodeAuthenticationInfo(key *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", failure.Internal(err, "cannot marshal public key")
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// PublicKey parses the authentication info of the system
func (s System) PublicKey() (*rsa.PublicKey, error) {
	if s.AuthenticationInfo == "" {
		return nil, failure.BadPayload(nil, "system %s has no authentication info", s.SystemName)
	}
	der, err := base64.StdEncoding.DecodeString(s.AuthenticationInfo)
	if err != nil {
		return nil, failure.BadPayload(err, "authentication info of %s is not base64", s.SystemName)
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, failure.BadPayload(err, "authentication info of %s is not a public key", s.SystemName)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, failure.BadPayload(nil, "authentication info of %s is not an RSA key", s.SystemName)
	}
	return rsaKey, nil
}
