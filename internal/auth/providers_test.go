package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTProviderAuthenticatesValidToken(t *testing.T) {
	p := NewJWTProvider("shared-secret")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "alice",
		"email": "alice@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("shared-secret"))
	require.NoError(t, err)

	identity, err := p.Authenticate(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.Username)
	assert.Equal(t, "alice@example.com", identity.Email)
}

func TestJWTProviderRejectsWrongSecret(t *testing.T) {
	p := NewJWTProvider("shared-secret")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice"})
	signed, err := token.SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	_, err = p.Authenticate(context.Background(), signed)
	assert.Error(t, err)
}

func TestJWTProviderRejectsMissingSubClaim(t *testing.T) {
	p := NewJWTProvider("shared-secret")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"email": "alice@example.com"})
	signed, err := token.SignedString([]byte("shared-secret"))
	require.NoError(t, err)

	_, err = p.Authenticate(context.Background(), signed)
	assert.Error(t, err)
}

func TestRegistryDispatchesToRegisteredProvider(t *testing.T) {
	r := NewRegistry()
	r.Register(NewJWTProvider("shared-secret"))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "bob"})
	signed, err := token.SignedString([]byte("shared-secret"))
	require.NoError(t, err)

	identity, err := r.Authenticate(context.Background(), "jwt", signed)
	require.NoError(t, err)
	assert.Equal(t, "bob", identity.Username)
}

func TestRegistryRejectsUnknownProvider(t *testing.T) {
	r := NewRegistry()
	_, err := r.Authenticate(context.Background(), "saml", "anything")
	assert.Error(t, err)
}

func TestSAMLProviderRejectsMalformedResponse(t *testing.T) {
	p, err := NewSAMLProvider("https://datacore.example.com/saml/metadata", "https://datacore.example.com/saml/acs", nil)
	require.NoError(t, err)

	_, err = p.Authenticate(context.Background(), "not-a-valid-saml-response")
	assert.Error(t, err)
}
