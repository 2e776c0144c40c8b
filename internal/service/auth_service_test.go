package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/beacon-attendance/internal/models"
	appErrors "github.com/noah-isme/beacon-attendance/pkg/errors"
)

func newTestAuthService() *AuthService {
	return NewAuthService(nil, nil, AuthConfig{Secret: "secret", Issuer: "beacon-attendance", Expiry: time.Hour})
}

func TestAuthServiceIssueAndValidate(t *testing.T) {
	svc := newTestAuthService()

	token, expires, err := svc.IssueToken(FacultyIdentity{FacultyID: "fac-1", Name: "Dr. Rao", Dept: "CSE"})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "fac-1", claims.FacultyID)
	assert.Equal(t, "CSE", claims.Dept)
}

func TestAuthServiceIssueTokenValidatesIdentity(t *testing.T) {
	_, _, err := newTestAuthService().IssueToken(FacultyIdentity{FacultyID: "fac-1"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestAuthServiceRejectsForeignTokens(t *testing.T) {
	svc := newTestAuthService()

	other := NewAuthService(nil, nil, AuthConfig{Secret: "other", Issuer: "beacon-attendance"})
	foreign, _, err := other.IssueToken(FacultyIdentity{FacultyID: "fac-1", Name: "A", Dept: "CSE"})
	require.NoError(t, err)
	_, err = svc.ValidateToken(foreign)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	wrongIssuer := NewAuthService(nil, nil, AuthConfig{Secret: "secret", Issuer: "elsewhere"})
	token, _, err := wrongIssuer.IssueToken(FacultyIdentity{FacultyID: "fac-1", Name: "A", Dept: "CSE"})
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &models.JWTClaims{
		FacultyID: "fac-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "beacon-attendance",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	signed, err := expired.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(signed)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}
