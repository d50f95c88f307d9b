package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"norelock.dev/rpcdispatch/pkg/jsonrpc"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newJWT(t *testing.T, cfg JWTConfig) *JWT {
	t.Helper()
	if cfg.Secret == "" {
		cfg.Secret = testSecret
	}
	j, err := NewJWT(cfg)
	require.NoError(t, err)
	return j
}

func TestIssueAndVerify(t *testing.T) {
	j := newJWT(t, JWTConfig{Issuer: "rpcdispatch", Audience: "clients", TTL: time.Hour})

	token, err := j.Issue("alice", "system.*")
	require.NoError(t, err)

	claims, err := j.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "rpcdispatch", claims.Issuer)
	assert.Equal(t, jwt.ClaimStrings{"clients"}, claims.Audience)
	assert.Equal(t, []string{"system.*"}, claims.Scopes)
	assert.Equal(t, time.Hour, j.TTL())
}

func TestVerifyRejects(t *testing.T) {
	j := newJWT(t, JWTConfig{Issuer: "rpcdispatch", TTL: time.Minute})

	t.Run("expired", func(t *testing.T) {
		old := newJWT(t, JWTConfig{Issuer: "rpcdispatch", TTL: time.Minute})
		old.now = func() time.Time { return time.Now().Add(-time.Hour) }
		token, err := old.Issue("bob")
		require.NoError(t, err)

		_, err = j.Verify(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := newJWT(t, JWTConfig{Secret: "another-secret-of-enough-length", Issuer: "rpcdispatch"})
		token, err := other.Issue("bob")
		require.NoError(t, err)

		_, err = j.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := newJWT(t, JWTConfig{Issuer: "someone-else"})
		token, err := other.Issue("bob")
		require.NoError(t, err)

		_, err = j.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := j.Verify("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestNewJWTRequiresSecret(t *testing.T) {
	_, err := NewJWT(JWTConfig{})
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestRequireBearer(t *testing.T) {
	j := newJWT(t, JWTConfig{Issuer: "rpcdispatch"})
	token, err := j.Issue("carol")
	require.NoError(t, err)

	var subject string
	handler := RequireBearer(j, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		require.True(t, ok)
		subject = claims.Subject
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + token, http.StatusNoContent},
		{"missing", "", http.StatusUnauthorized},
		{"malformed", "Token " + token, http.StatusUnauthorized},
		{"invalid", "Bearer nope", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/rpc", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, r)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusUnauthorized {
				assert.Contains(t, rec.Body.String(), `"success":false`)
			}
		})
	}
	assert.Equal(t, "carol", subject)
}

func TestPermits(t *testing.T) {
	assert.True(t, Permits(nil, "anything"))
	assert.True(t, Permits([]string{"*"}, "sum"))
	assert.True(t, Permits([]string{"sum"}, "sum"))
	assert.True(t, Permits([]string{"system.*"}, "system.ping"))
	assert.False(t, Permits([]string{"system.*"}, "systemic"))
	assert.False(t, Permits([]string{"sum"}, "subtract"))
}

func TestScopeMiddleware(t *testing.T) {
	d := jsonrpc.New(jsonrpc.WithMiddleware(ScopeMiddleware()))
	require.NoError(t, d.RegisterFunc("sum", func(a, b int) int { return a + b }))

	payload := []byte(`{"jsonrpc":"2.0","method":"sum","params":[1,2],"id":1}`)

	out, err := d.Call(context.Background(), payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":3,"id":1}`, string(out))

	ctx := context.WithValue(context.Background(), claimsKey{}, &Claims{Scopes: []string{"system.*"}})
	out, err = d.Call(ctx, payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","error":{"code":-32001,"message":"Method not permitted","data":"sum"},"id":1}`, string(out))
}

func TestScopeMiddlewareRunsBeforeArgumentCheck(t *testing.T) {
	d := jsonrpc.New(jsonrpc.WithMiddleware(ScopeMiddleware()))
	require.NoError(t, d.RegisterFunc("admin.wipe", func(n int) int { return n }, "n"))
	ctx := context.WithValue(context.Background(), claimsKey{}, &Claims{Scopes: []string{"system.*"}})

	for _, params := range []string{`[1]`, `["x"]`, `{"bogus":1}`, `[]`} {
		t.Run(params, func(t *testing.T) {
			out, err := d.Call(ctx, []byte(`{"jsonrpc":"2.0","method":"admin.wipe","params":`+params+`,"id":1}`))
			require.NoError(t, err)
			assert.JSONEq(t, `{"jsonrpc":"2.0","error":{"code":-32001,"message":"Method not permitted","data":"admin.wipe"},"id":1}`, string(out))
		})
	}

	// A permitted bearer still gets the argument error.
	allowed := context.WithValue(context.Background(), claimsKey{}, &Claims{Scopes: []string{"admin.*"}})
	out, err := d.Call(allowed, []byte(`{"jsonrpc":"2.0","method":"admin.wipe","params":["x"],"id":2}`))
	require.NoError(t, err)
	assert.Contains(t, string(out), `"code":-32602`)
}
