package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/user/tradekub/backend/internal/models"
)

func TestPINHashing(t *testing.T) {
	PINCost = bcrypt.MinCost

	hash, err := HashPIN("1234")
	require.NoError(t, err)
	require.NotEqual(t, "1234", hash)
	require.True(t, CheckPIN("1234", hash))
	require.False(t, CheckPIN("4321", hash))
	require.False(t, CheckPIN("1234", ""))
	require.False(t, CheckPIN("", hash))

	_, err = HashPIN("   ")
	require.Error(t, err)
}

func TestJWTRoundTrip(t *testing.T) {
	Configure("test-secret", "tradekub-test")
	actor := models.Actor{UserID: 10, Username: "alice", Role: models.RoleAdmin, Broker: models.BrokerManager}

	token, err := GenerateJWT(actor, time.Hour)
	require.NoError(t, err)

	claims, err := ValidateJWT(token)
	require.NoError(t, err)
	require.Equal(t, actor, claims.Actor())
}

func TestJWTRejectsForeignTokens(t *testing.T) {
	Configure("secret-a", "issuer-a")
	token, err := GenerateJWT(models.Actor{UserID: 1, Username: "bob"}, time.Hour)
	require.NoError(t, err)

	Configure("secret-b", "issuer-a")
	_, err = ValidateJWT(token)
	require.Error(t, err)

	Configure("secret-a", "issuer-b")
	_, err = ValidateJWT(token)
	require.Error(t, err)

	Configure("secret-a", "issuer-a")
	expired, err := GenerateJWT(models.Actor{UserID: 1}, -time.Minute)
	require.NoError(t, err)
	_, err = ValidateJWT(expired)
	require.Error(t, err)
}

func TestClaimsDefaultRole(t *testing.T) {
	claims := &Claims{UserID: 3, Username: "carol"}
	require.Equal(t, models.RoleUser, claims.Actor().Role)
}
