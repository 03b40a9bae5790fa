package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBcryptSecretHasher_HashVerify_RoundTrip(t *testing.T) {
	h := NewBcryptSecretHasher(bcryptTestCost)

	hash, err := h.Hash("whsec_abc123")
	require.NoError(t, err)
	assert.NotEqual(t, "whsec_abc123", hash)

	ok, err := h.Verify("whsec_abc123", hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBcryptSecretHasher_Verify_RejectsWrongSecret(t *testing.T) {
	h := NewBcryptSecretHasher(bcryptTestCost)

	hash, err := h.Hash("whsec_correct")
	require.NoError(t, err)

	ok, err := h.Verify("whsec_wrong", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBcryptSecretHasher_DefaultCost(t *testing.T) {
	h := NewBcryptSecretHasher(0)
	hash, err := h.Hash("whsec_default")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
}

// bcryptTestCost keeps unit tests fast; production uses bcrypt.DefaultCost.
const bcryptTestCost = 4
