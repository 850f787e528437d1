package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/viniciusmb/trampo-backend/internal/domain"
)

func TestSignJWTCarriesSessionClaims(t *testing.T) {
	token, err := SignJWT("segredo", "user-123", domain.RoleClient, 60)
	require.NoError(t, err)

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tk *jwt.Token) (interface{}, error) {
		return []byte("segredo"), nil
	}, jwt.WithIssuer(Issuer))
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	claims, ok := parsed.Claims.(*Claims)
	require.True(t, ok)
	require.Equal(t, "user-123", claims.UserID)
	require.Equal(t, domain.RoleClient, claims.Role)
	require.Equal(t, Issuer, claims.Issuer)
	require.Equal(t, "user-123", claims.Subject)
	require.WithinDuration(t, time.Now().Add(60*time.Minute), claims.ExpiresAt.Time, time.Minute)
}

func TestSignJWTRejectsWrongSecret(t *testing.T) {
	token, err := SignJWT("segredo", "user-123", domain.RoleClient, 60)
	require.NoError(t, err)

	_, err = jwt.ParseWithClaims(token, &Claims{}, func(tk *jwt.Token) (interface{}, error) {
		return []byte("outro"), nil
	}, jwt.WithIssuer(Issuer))
	require.Error(t, err)
}
