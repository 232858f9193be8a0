package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastHasher keeps argon2 parameters small so the suite stays quick.
func fastHasher() Argon2PasswordHasher {
	return Argon2PasswordHasher{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func TestArgon2HashAndVerify(t *testing.T) {
	hasher := fastHasher()

	hash, err := hasher.Hash("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$"), "hash %q is not PHC encoded", hash)

	ok, err := hasher.Verify(hash, "correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = hasher.Verify(hash, "wrong password")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestArgon2HashIsSalted(t *testing.T) {
	hasher := fastHasher()

	first, err := hasher.Hash("same password")
	require.NoError(t, err)
	second, err := hasher.Hash("same password")
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "two hashes of the same password are identical")
}

func TestArgon2VerifyMalformedHash(t *testing.T) {
	hasher := fastHasher()

	for _, encoded := range []string{
		"",
		"plaintext",
		"$bcrypt$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$not-base64!$aGFzaA",
		"$argon2id$v=19$m=8192$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
	} {
		_, err := hasher.Verify(encoded, "whatever")
		assert.Error(t, err, "Verify(%q) should fail", encoded)
	}
}
