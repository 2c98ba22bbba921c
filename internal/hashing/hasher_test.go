package hashing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civic-shield/internal/config"
)

func testHasher(pepper string) *Hasher {
	return NewHasher(config.HashingConfig{
		Pepper:            pepper,
		Argon2MemoryCost:  1024,
		Argon2TimeCost:    1,
		Argon2Parallelism: 1,
	})
}

func TestHashAndVerify(t *testing.T) {
	h := testHasher("pep")

	encoded, err := h.Hash("4321")
	require.NoError(t, err)
	assert.True(t, IsHashed(encoded))
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=1024,t=1,p=1$"))

	ok, err := h.Verify("4321", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("1234", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashIsSalted(t *testing.T) {
	h := testHasher("")
	a, err := h.Hash("4321")
	require.NoError(t, err)
	b, err := h.Hash("4321")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestPepperMatters(t *testing.T) {
	encoded, err := testHasher("one").Hash("4321")
	require.NoError(t, err)

	ok, err := testHasher("two").Verify("4321", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyLegacyPlaintext(t *testing.T) {
	h := testHasher("pep")

	ok, err := h.Verify("4321", "4321")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("4321", "4322")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = h.Verify("", "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyMalformed(t *testing.T) {
	h := testHasher("")

	_, err := h.Verify("x", "$argon2id$v=19$broken")
	assert.ErrorIs(t, err, ErrInvalidHash)

	_, err = h.Verify("x", "$argon2id$v=18$m=1024,t=1,p=1$c2FsdA$a2V5")
	assert.ErrorIs(t, err, ErrIncompatibleVersion)

	_, err = h.Verify("x", "$argon2id$v=19$m=1024,t=1,p=1$!!$a2V5")
	assert.ErrorIs(t, err, ErrInvalidHash)
}
