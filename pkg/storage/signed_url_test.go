package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerSignAndVerify(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, expiresAt, err := signer.Sign("run-1", "run-1/bundle.zip")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := signer.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "run-1", claims.RunID)
	require.Equal(t, "run-1/bundle.zip", claims.Path)
	require.WithinDuration(t, expiresAt, claims.ExpiresAt, time.Second)
}

func TestSignedURLSignerExpired(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Minute)
	now := time.Now()
	signer.now = func() time.Time { return now }
	token, _, err := signer.Sign("run-1", "run-1/bundle.zip")
	require.NoError(t, err)

	signer.now = func() time.Time { return now.Add(2 * time.Minute) }
	claims, err := signer.Verify(token)
	require.ErrorIs(t, err, ErrTokenExpired)
	require.Equal(t, "run-1", claims.RunID)
}

func TestSignedURLSignerRejectsTampering(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, _, err := signer.Sign("run-1", "run-1/bundle.zip")
	require.NoError(t, err)

	other := NewSignedURLSigner("other", time.Hour)
	_, err = other.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = signer.Verify("run-2" + token[len("run-1"):])
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = signer.Verify("garbage")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, _, err = signer.Sign("run.1", "x")
	require.Error(t, err)
}
