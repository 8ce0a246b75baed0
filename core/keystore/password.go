// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package keystore

import (
	"crypto/rand"
	"math/big"

	"github.com/relabs-tech/arrowhead/core/failure"
)

// PasswordLength is the length of generated store passwords
const PasswordLength = 12

const passwordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GeneratePassword returns a random password of PasswordLength alphanumeric characters
func GeneratePassword() (string, error) {
	max := big.NewInt(int64(len(passwordAlphabet)))
	b := make([]byte, PasswordLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", failure.Internal(err, "cannot generate password")
		}
		b[i] = passwordAlphabet[n.Int64()]
	}
	return string(b), nil
}
