package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrJamesThe3rd/mpesa-gateway/internal/http/auth"
)

var secret = []byte("test-secret")

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()

	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)

	return s
}

func TestMiddleware(t *testing.T) {
	var gotSubject string

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.Claims(r.Context())
		require.True(t, ok)

		gotSubject, _ = claims["sub"].(string)

		w.WriteHeader(http.StatusNoContent)
	})

	h := auth.Middleware(secret)(next)

	valid := sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{
		"sub": "merchant-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "valid token", header: "Bearer " + valid, want: http.StatusNoContent},
		{name: "missing header", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + valid, want: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer not-a-token", want: http.StatusUnauthorized},
		{
			name:   "wrong secret",
			header: "Bearer " + sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "x"}),
			want:   http.StatusUnauthorized,
		},
		{
			name:   "expired",
			header: "Bearer " + sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()}),
			want:   http.StatusUnauthorized,
		},
		{
			name:   "other hmac method",
			header: "Bearer " + sign(t, jwt.SigningMethodHS512, secret, jwt.MapClaims{"sub": "x"}),
			want:   http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSubject = ""

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)

			if tt.want == http.StatusUnauthorized {
				assert.JSONEq(t, `{"ok":false,"error":"unauthorized"}`, rec.Body.String())
				return
			}

			assert.Equal(t, "merchant-1", gotSubject)
		})
	}
}
