package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

func newTestAuth(t *testing.T, signingKey string) *Auth {
	t.Helper()
	a, err := New(Options{
		Logger:        zap.NewNop(),
		JWTSigningKey: signingKey,
	})
	require.NoError(t, err)
	return a
}

func bearerRequest(token string) *http.Request {
	r := httptest.NewRequest("GET", "/", nil)
	if len(token) > 0 {
		r.Header.Set("Authorization", bearerPrefix+token)
	}
	return r
}

func TestVerifyRequest(t *testing.T) {
	a := newTestAuth(t, testSigningKey)

	token, err := a.CreateTokenFromClaims(Claims{
		ID:    "user-1",
		Email: "patient@example.com",
	})
	require.NoError(t, err)

	claims, err := a.VerifyRequest(bearerRequest(token))
	require.NoError(t, err)
	require.NotNil(t, claims)
	require.Equal(t, "user-1", claims.ID)
	require.Equal(t, "patient@example.com", claims.Email)
}

func TestVerifyRequestWithoutBearer(t *testing.T) {
	a := newTestAuth(t, testSigningKey)

	claims, err := a.VerifyRequest(bearerRequest(""))
	require.NoError(t, err)
	require.Nil(t, claims)
}

func TestVerifyRequestRejectsForeignSignature(t *testing.T) {
	a := newTestAuth(t, testSigningKey)
	other := newTestAuth(t, "an-entirely-different-signing-key")

	token, err := other.CreateTokenFromClaims(Claims{
		ID: "user-1",
	})
	require.NoError(t, err)

	claims, err := a.VerifyRequest(bearerRequest(token))
	require.NoError(t, err)
	require.Nil(t, claims)
}

func TestMiddleware(t *testing.T) {
	a := newTestAuth(t, testSigningKey)

	token, err := a.CreateTokenFromClaims(Claims{
		ID:    "user-1",
		Email: "patient@example.com",
	})
	require.NoError(t, err)

	var seen *Claims
	handler := a.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(Context).(*Claims)
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, bearerRequest(token))
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, seen)
	require.Equal(t, "user-1", seen.ID)

	seen = nil
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, bearerRequest(""))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Nil(t, seen)
}
