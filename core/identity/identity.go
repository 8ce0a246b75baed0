// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package identity implements the naming rules of Arrowhead system identities.

An Arrowhead common name has exactly five dot separated labels and ends with the
root domain of the federation:

	<system>.<cloud>.<operator>.arrowhead.eu

The first label is the system name, the remaining four identify the local cloud.
*/
package identity

import (
	"fmt"
	"strings"

	"github.com/relabs-tech/arrowhead/core/failure"
)

// DefaultRootDomain is the root domain of the reference deployment
const DefaultRootDomain = "arrowhead.eu"

// LabelCount is the number of labels of a valid common name
const LabelCount = 5

// Identity is the public identity of a system
type Identity struct {
	CommonName string `json:"commonName"`
	PublicKey  []byte `json:"publicKey,omitempty"`
}

// ValidateCommonName checks that cn consists of exactly five labels and ends with
// rootDomain. An empty rootDomain means DefaultRootDomain.
func ValidateCommonName(cn, rootDomain string) error {
	if rootDomain == "" {
		rootDomain = DefaultRootDomain
	}
	labels := strings.Split(cn, ".")
	if len(labels) != LabelCount {
		return failure.Config("common name %q has %d labels, want %d", cn, len(labels), LabelCount)
	}
	for _, label := range labels {
		if label == "" {
			return failure.Config("common name %q has an empty label", cn)
		}
	}
	if !strings.HasSuffix(cn, "."+rootDomain) {
		return failure.Config("common name %q does not end with %q", cn, rootDomain)
	}
	return nil
}

// IsValid returns true if cn is a valid common name for rootDomain
func IsValid(cn, rootDomain string) bool {
	return ValidateCommonName(cn, rootDomain) == nil
}

// SystemName returns the first label of a dot separated name
func SystemName(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}

// CloudName returns everything after the first label, or an empty string
func CloudName(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return ""
}

// SameCloud returns true if both names belong to the same local cloud. Labels are
// compared case-insensitively.
func SameCloud(a, b string) bool {
	ca, cb := CloudName(a), CloudName(b)
	return ca != "" && strings.EqualFold(ca, cb)
}

// Join builds a common name from a system name and a cloud suffix
func Join(systemName, cloudSuffix string) string {
	return fmt.Sprintf("%s.%s", systemName, strings.TrimPrefix(cloudSuffix, "."))
}
