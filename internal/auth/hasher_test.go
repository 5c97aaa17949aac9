package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher(t *testing.T) {
	hasher := NewBcryptHasher(bcrypt.MinCost)

	digest, err := hasher.Hash("s3cret-pass")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret-pass", digest)
	assert.True(t, hasher.Verify("s3cret-pass", digest))
	assert.False(t, hasher.Verify("wrong-pass", digest))
	assert.False(t, hasher.Verify("s3cret-pass", "not-a-bcrypt-digest"))
	assert.False(t, hasher.Verify("s3cret-pass", ""))
}

func TestBcryptHasherFallsBackToDefaultCost(t *testing.T) {
	hasher := NewBcryptHasher(bcrypt.MaxCost + 1)

	digest, err := hasher.Hash("password")
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(digest))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.DefaultCost, cost)
}
