package lockd

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokens_Validation(t *testing.T) {
	_, err := NewTokens("", "lockd", time.Hour)
	require.Error(t, err)

	_, err = NewTokens("secret", "lockd", 0)
	require.Error(t, err)
}

func TestTokens_IssueVerifyRoundTrip(t *testing.T) {
	tokens, err := NewTokens("secret", "lockd", time.Hour)
	require.NoError(t, err)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	raw, err := tokens.Issue(now, TokenSession, "conn-1", "sess-1")
	require.NoError(t, err)

	claims, err := tokens.Verify(raw, TokenSession, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "conn-1", claims.ConnectionID)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.Equal(t, TokenSession, claims.TokenType)
	assert.Equal(t, "lockd", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestTokens_UniqueJTI(t *testing.T) {
	tokens, err := NewTokens("secret", "", time.Hour)
	require.NoError(t, err)
	now := time.Now()

	a, err := tokens.Issue(now, TokenConnection, "conn-1", "")
	require.NoError(t, err)
	b, err := tokens.Issue(now, TokenConnection, "conn-1", "")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestTokens_VerifyRejects(t *testing.T) {
	tokens, err := NewTokens("secret", "lockd", time.Hour)
	require.NoError(t, err)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	connTok, err := tokens.Issue(now, TokenConnection, "conn-1", "")
	require.NoError(t, err)

	other, err := NewTokens("other-secret", "lockd", time.Hour)
	require.NoError(t, err)
	foreign, err := other.Issue(now, TokenConnection, "conn-1", "")
	require.NoError(t, err)

	wrongIssuer, err := NewTokens("secret", "elsewhere", time.Hour)
	require.NoError(t, err)
	misissued, err := wrongIssuer.Issue(now, TokenConnection, "conn-1", "")
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{ConnectionID: "conn-1", TokenType: TokenConnection})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name     string
		raw      string
		expected TokenType
		at       time.Time
	}{
		{"wrong type", connTok, TokenSession, now},
		{"expired", connTok, TokenConnection, now.Add(2 * time.Hour)},
		{"bad signature", foreign, TokenConnection, now},
		{"wrong issuer", misissued, TokenConnection, now},
		{"alg none", unsigned, TokenConnection, now},
		{"garbage", "not-a-token", TokenConnection, now},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tokens.Verify(tt.raw, tt.expected, tt.at)
			assert.Error(t, err)
		})
	}
}

func TestTokens_SessionTokenNeedsSessionID(t *testing.T) {
	tokens, err := NewTokens("secret", "lockd", time.Hour)
	require.NoError(t, err)
	now := time.Now()

	raw, err := tokens.Issue(now, TokenSession, "conn-1", "")
	require.NoError(t, err)

	_, err = tokens.Verify(raw, TokenSession, now)
	assert.ErrorContains(t, err, "sid missing")
}
