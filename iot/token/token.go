// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package token implements the wire format of Arrowhead authorization tokens.

A token is the JSON object

	{"c": "<consumer common name>", "e": <expiry in epoch milliseconds, 0 = never>}

encrypted with RSA PKCS#1 v1.5 under the public key of the provider the consumer
may call. The issuer signs the ciphertext bytes with SHA256withRSA. Both the
ciphertext and the signature travel base64 encoded as the query parameters token
and signature.

Query parameter encoding turns '+' into a space on the way, and the issuer does not
escape it. RepairBase64 restores the plus signs and must run before decoding.
*/
package token

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v4"

	"github.com/relabs-tech/arrowhead/core/failure"
	"github.com/relabs-tech/arrowhead/core/identity"
	"github.com/relabs-tech/arrowhead/core/schema"
)

// Query parameter names
const (
	ParamToken     = "token"
	ParamSignature = "signature"
)

// RawTokenInfo is the plaintext of a token
type RawTokenInfo struct {
	// C is the common name of the consumer
	C string `json:"c"`
	// E is the expiry in epoch milliseconds, 0 for tokens which never expire
	E int64 `json:"e"`
}

// SystemName returns the consumer's system name
func (i RawTokenInfo) SystemName() string {
	return identity.SystemName(i.C)
}

// Expired returns true unless the token never expires or its expiry lies strictly
// after now
func (i RawTokenInfo) Expired(now time.Time) bool {
	return i.E != 0 && i.E <= now.UnixMilli()
}

// ExpiryMillis returns the expiry for a validity duration starting at now. A zero
// validity means the token never expires.
func ExpiryMillis(now time.Time, validity time.Duration) int64 {
	if validity == 0 {
		return 0
	}
	return now.Add(validity).UnixMilli()
}

// RepairBase64 restores the '+' characters which query decoding turned into spaces
func RepairBase64(s string) string {
	return strings.ReplaceAll(s, " ", "+")
}

// Encode returns the base64 wire form of token or signature bytes
func Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Decode repairs and decodes the wire form of a token and its signature
func Decode(token, signature string) (tokenBytes, signatureBytes []byte, err error) {
	tokenBytes, err = base64.StdEncoding.DecodeString(RepairBase64(token))
	if err != nil {
		return nil, nil, failure.Internal(err, "token is not base64")
	}
	signatureBytes, err = base64.StdEncoding.DecodeString(RepairBase64(signature))
	if err != nil {
		return nil, nil, failure.Internal(err, "signature is not base64")
	}
	return tokenBytes, signatureBytes, nil
}

// Encrypt encrypts info for the provider holding the private half of providerKey
func Encrypt(info RawTokenInfo, providerKey *rsa.PublicKey) ([]byte, error) {
	plain, err := json.Marshal(info)
	if err != nil {
		return nil, failure.Internal(err, "cannot marshal token info")
	}
	cipher, err := rsa.EncryptPKCS1v15(rand.Reader, providerKey, plain)
	if err != nil {
		return nil, failure.Internal(err, "cannot encrypt token")
	}
	return cipher, nil
}

// Decrypt decrypts and parses a token with the provider's private key
func Decrypt(tokenBytes []byte, key *rsa.PrivateKey) (RawTokenInfo, error) {
	var info RawTokenInfo
	plain, err := rsa.DecryptPKCS1v15(rand.Reader, key, tokenBytes)
	if err != nil {
		return info, failure.Internal(err, "cannot decrypt token")
	}
	if err := schema.ValidateArrowhead(plain, schema.TokenInfoID); err != nil {
		return info, failure.Internal(err, "invalid token content")
	}
	if err := json.Unmarshal(plain, &info); err != nil {
		return info, failure.Internal(err, "cannot parse token content")
	}
	return info, nil
}

// Sign signs the ciphertext bytes with SHA256withRSA
func Sign(tokenBytes []byte, issuerKey *rsa.PrivateKey) ([]byte, error) {
	segment, err := jwt.SigningMethodRS256.Sign(string(tokenBytes), issuerKey)
	if err != nil {
		return nil, failure.Internal(err, "cannot sign token")
	}
	signature, err := jwt.DecodeSegment(segment)
	if err != nil {
		return nil, failure.Internal(err, "cannot decode signature")
	}
	return signature, nil
}

// VerifySignature checks the issuer's signature over the ciphertext bytes
func VerifySignature(tokenBytes, signature []byte, issuerKey *rsa.PublicKey) error {
	if issuerKey == nil {
		return failure.Internal(nil, "no issuer key")
	}
	if err := jwt.SigningMethodRS256.Verify(string(tokenBytes), jwt.EncodeSegment(signature), issuerKey); err != nil {
		return failure.Wrap(failure.KindAuth, err, "token signature is invalid")
	}
	return nil
}
