package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerGenerateAndParse(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, expiresAt, err := signer.Generate("response:42", "Forms/Inspeccion/documento_42_20240101_101010.pdf")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	parsed, err := signer.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "response:42", parsed.Subject)
	require.Equal(t, "Forms/Inspeccion/documento_42_20240101_101010.pdf", parsed.Path)
	require.WithinDuration(t, expiresAt, parsed.ExpiresAt, time.Second)
}

func TestSignedURLSignerExpired(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Minute)
	base := time.Now()
	signer.now = func() time.Time { return base }
	token, _, err := signer.Generate("response:1", "Forms/a.pdf")
	require.NoError(t, err)

	signer.now = func() time.Time { return base.Add(2 * time.Minute) }
	parsed, err := signer.Parse(token)
	require.ErrorIs(t, err, ErrTokenExpired)
	require.Equal(t, "Forms/a.pdf", parsed.Path)
}

func TestSignedURLSignerRejectsTampering(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, _, err := signer.Generate("response:1", "Forms/a.pdf")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	parts[0] = "response:2"
	_, err = signer.Parse(strings.Join(parts, "."))
	require.ErrorIs(t, err, ErrTokenInvalid)

	other := NewSignedURLSigner("other", time.Hour)
	_, err = other.Parse(token)
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, err = signer.Parse("garbage")
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestSignedURLSignerRequiresInputs(t *testing.T) {
	_, _, err := NewSignedURLSigner("", time.Hour).Generate("response:1", "a.pdf")
	require.Error(t, err)
	_, _, err = NewSignedURLSigner("secret", time.Hour).Generate("", "a.pdf")
	require.Error(t, err)
	_, _, err = NewSignedURLSigner("secret", time.Hour).Generate("a.b", "a.pdf")
	require.Error(t, err)
}
