// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package token

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/arrowhead/core/failure"
)

func mustKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestRepairBase64(t *testing.T) {
	assert.Equal(t, "ab+c++d/=", RepairBase64("ab c  d/="))
	assert.Equal(t, "abc", RepairBase64("abc"))
}

func TestDecode(t *testing.T) {
	tok, sig, err := Decode("+/8=", " /8=")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xfb, 0xff}, tok)
	assert.Equal(t, tok, sig)

	_, _, err = Decode("!!", "AA==")
	assert.True(t, failure.IsKind(err, failure.KindInternal))
	_, _, err = Decode("AA==", "***")
	assert.True(t, failure.IsKind(err, failure.KindInternal))
}

func TestEncryptDecrypt(t *testing.T) {
	provider := mustKey(t)
	info := RawTokenInfo{C: "consumer.cloudX.opY.arrowhead.eu", E: 1700000000000}

	cipher, err := Encrypt(info, &provider.PublicKey)
	require.NoError(t, err)
	got, err := Decrypt(cipher, provider)
	require.NoError(t, err)
	assert.Equal(t, info, got)
	assert.Equal(t, "consumer", got.SystemName())

	_, err = Decrypt(cipher, mustKey(t))
	assert.True(t, failure.IsKind(err, failure.KindInternal))
}

func TestDecrypt_InvalidContent(t *testing.T) {
	provider := mustKey(t)
	cipher, err := rsa.EncryptPKCS1v15(rand.Reader, &provider.PublicKey, []byte(`{"e":5}`))
	require.NoError(t, err)
	_, err = Decrypt(cipher, provider)
	assert.True(t, failure.IsKind(err, failure.KindInternal))

	cipher, err = rsa.EncryptPKCS1v15(rand.Reader, &provider.PublicKey, []byte(`not json`))
	require.NoError(t, err)
	_, err = Decrypt(cipher, provider)
	assert.True(t, failure.IsKind(err, failure.KindInternal))
}

func TestSignVerify(t *testing.T) {
	issuer := mustKey(t)
	data := []byte{0x00, 0x01, 0xfe, 0xff, 'x'}

	sig, err := Sign(data, issuer)
	require.NoError(t, err)
	assert.Len(t, sig, 256)
	assert.NoError(t, VerifySignature(data, sig, &issuer.PublicKey))

	for i := range sig {
		altered := append([]byte(nil), sig...)
		altered[i] ^= 0x01
		err := VerifySignature(data, altered, &issuer.PublicKey)
		if !failure.IsKind(err, failure.KindAuth) {
			t.Fatalf("altered byte %d: expected auth error, got %v", i, err)
		}
	}

	err = VerifySignature(data, sig, &mustKey(t).PublicKey)
	assert.True(t, failure.IsKind(err, failure.KindAuth))
}

func TestExpired(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	assert.False(t, RawTokenInfo{E: 0}.Expired(now), "zero never expires")
	assert.True(t, RawTokenInfo{E: now.UnixMilli()}.Expired(now), "expiry equal to now is expired")
	assert.False(t, RawTokenInfo{E: now.UnixMilli() + 1}.Expired(now))
	assert.True(t, RawTokenInfo{E: now.UnixMilli() - 1}.Expired(now))

	assert.Equal(t, int64(0), ExpiryMillis(now, 0))
	assert.Equal(t, now.UnixMilli()+60000, ExpiryMillis(now, time.Minute))
}
