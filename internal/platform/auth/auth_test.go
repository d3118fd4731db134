package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{Secret: "test-secret", Issuer: "gymble-auth"}

func sign(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":    "user-1",
		"iss":    "gymble-auth",
		"role":   "Member",
		"gym_id": "gym-1",
		"scopes": "attendance:read attendance:write",
		"exp":    time.Now().Add(time.Hour).Unix(),
	}
}

func TestParseExtractsGymAndRole(t *testing.T) {
	claims, err := Parse(sign(t, validClaims(), testConfig.Secret), testConfig)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "gym-1", claims.GymID)
	require.Equal(t, "member", claims.Role)
	require.True(t, claims.HasScope("attendance:write"))
	require.False(t, claims.HasScope("attendance:admin"))
}

func TestParseAllowsMissingGym(t *testing.T) {
	raw := validClaims()
	delete(raw, "gym_id")
	raw["role"] = "owner"

	claims, err := Parse(sign(t, raw, testConfig.Secret), testConfig)
	require.NoError(t, err)
	require.Empty(t, claims.GymID)
}

func TestParseRejectsBadTokens(t *testing.T) {
	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Minute).Unix()
	noRole := validClaims()
	delete(noRole, "role")
	wrongIssuer := validClaims()
	wrongIssuer["iss"] = "someone-else"
	noExpiry := validClaims()
	delete(noExpiry, "exp")

	cases := map[string]string{
		"expired":      sign(t, expired, testConfig.Secret),
		"no role":      sign(t, noRole, testConfig.Secret),
		"wrong issuer": sign(t, wrongIssuer, testConfig.Secret),
		"wrong secret": sign(t, validClaims(), "other-secret"),
		"no expiry":    sign(t, noExpiry, testConfig.Secret),
		"garbage":      "not.a.jwt",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(token, testConfig)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}

	_, err := Parse("  ", testConfig)
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestMiddlewareInjectsClaims(t *testing.T) {
	var seen *Claims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	})
	mw := NewMiddleware(testConfig, func(r *http.Request) bool { return r.URL.Path == "/healthz" })
	handler := mw.Wrap(next)

	req := httptest.NewRequest(http.MethodGet, "/v1/attendance/my-status", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, validClaims(), testConfig.Secret))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "user-1", seen.Subject)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/attendance/my-status", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestMiddlewareAcceptsQueryTokenOnUpgrade(t *testing.T) {
	var seen *Claims
	handler := NewMiddleware(testConfig, nil).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	token := sign(t, validClaims(), testConfig.Secret)
	req := httptest.NewRequest(http.MethodGet, "/v1/attendance/qr-code/stream?access_token="+token, nil)
	req.Header.Set("Upgrade", "websocket")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, seen)

	// Query tokens are ignored on plain requests.
	plain := httptest.NewRequest(http.MethodGet, "/v1/attendance/today?access_token="+token, nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, plain)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}
