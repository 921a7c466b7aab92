package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test_secret")

func TestCheckExpiryValid(t *testing.T) {
	tok, err := Mint("u1", testSecret, time.Hour)
	require.NoError(t, err)
	require.NoError(t, CheckExpiry(tok))
}

func TestCheckExpiryExpired(t *testing.T) {
	tok, err := Mint("u1", testSecret, -time.Hour)
	require.NoError(t, err)
	require.ErrorIs(t, CheckExpiry(tok), ErrTokenExpired)
}

func TestCheckExpiryMalformed(t *testing.T) {
	require.ErrorIs(t, CheckExpiry("not.a.jwt"), ErrTokenMalformed)
	require.ErrorIs(t, CheckExpiry("garbage"), ErrTokenMalformed)
}

func TestCheckExpiryMissing(t *testing.T) {
	require.ErrorIs(t, CheckExpiry(""), ErrTokenMissing)
}

func TestMintVerifyRoundTrip(t *testing.T) {
	tok, err := Mint("u1", testSecret, time.Hour)
	require.NoError(t, err)

	claims, err := Verify(tok, testSecret)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.UserID)

	_, err = Verify(tok, []byte("wrong_secret"))
	require.Error(t, err)
}

func TestStaticTokens(t *testing.T) {
	src := StaticTokens{TokenKindAccess: "abc"}
	tok, ok := src.Token(TokenKindAccess)
	require.True(t, ok)
	require.Equal(t, "abc", tok)

	_, ok = src.Token(TokenKindRefresh)
	require.False(t, ok)
}
