package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/roomcast/internal/auth"
	"github.com/eldtechnologies/roomcast/internal/models"
)

func principalEcho(w http.ResponseWriter, r *http.Request) {
	if p := auth.PrincipalFrom(r.Context()); p != nil {
		w.Write([]byte(p.Username))
		return
	}
	w.Write([]byte("anonymous"))
}

func TestIdentifyAndRequireAuth(t *testing.T) {
	verifier := auth.NewJWTVerifier("test-secret")
	alice := models.Principal{ID: uuid.New(), Username: "alice"}
	token, err := verifier.Issue(alice, time.Hour)
	require.NoError(t, err)

	identified := Identify(verifier)(http.HandlerFunc(principalEcho))
	required := Identify(verifier)(RequireAuth(http.HandlerFunc(principalEcho)))

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		required.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "alice", rec.Body.String())
	})

	t.Run("query token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/?token="+token, nil)
		rec := httptest.NewRecorder()
		required.ServeHTTP(rec, req)
		assert.Equal(t, "alice", rec.Body.String())
	})

	t.Run("anonymous passes identify", func(t *testing.T) {
		rec := httptest.NewRecorder()
		identified.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, "anonymous", rec.Body.String())
	})

	t.Run("bad token is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		rec := httptest.NewRecorder()
		required.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"authentication required"}`, rec.Body.String())
	})
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"/health":                 "/health",
		"/rooms":                  "/rooms",
		"/rooms/abc":              "/rooms/:id",
		"/rooms/abc/messages":     "/rooms/:id/messages",
		"/rooms/abc/members/def":  "/rooms/:id/members/:id",
		"/messages/01H/reactions": "/messages/:id/reactions",
		"/direct/abc":             "/direct/:id",
		"/ws/rooms/abc":           "/ws/rooms/:id",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizePath(in), in)
	}
}

func TestMetricsRecordsHijack(t *testing.T) {
	var hijacked bool
	h := Metrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := w.(http.Hijacker)
		hijacked = ok
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/x", nil))

	assert.True(t, hijacked)
	assert.Equal(t, http.StatusTeapot, rec.Code)

	sw := &statusWriter{ResponseWriter: rec}
	_, _, err := sw.Hijack()
	assert.Error(t, err, "httptest.ResponseRecorder cannot be hijacked")
}

func TestFindLimitPrefersLongestPattern(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{})

	limit := rl.findLimit(httptest.NewRequest(http.MethodPost, "/rooms/abc/members", nil))
	require.NotNil(t, limit)
	assert.Equal(t, 60, limit.Requests)

	limit = rl.findLimit(httptest.NewRequest(http.MethodPost, "/rooms", nil))
	require.NotNil(t, limit)
	assert.Equal(t, 20, limit.Requests)
	assert.Equal(t, time.Hour, limit.Window)

	assert.Nil(t, rl.findLimit(httptest.NewRequest(http.MethodGet, "/health", nil)))
}

func TestWhitelist(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{
		Whitelist: []string{"10.0.0.0/8", "192.168.1.5", "bogus/99"},
	})
	assert.True(t, rl.isWhitelisted("10.1.2.3"))
	assert.True(t, rl.isWhitelisted("192.168.1.5"))
	assert.False(t, rl.isWhitelisted("192.168.1.6"))
	assert.False(t, rl.isWhitelisted("not-an-ip"))
}

func TestUserOrIPKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/rooms/x", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	assert.Equal(t, "ratelimit:ip:203.0.113.7", userOrIPKey(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")
	assert.Equal(t, "ratelimit:ip:198.51.100.1", userOrIPKey(req))

	p := &models.Principal{ID: uuid.New(), Username: "bob"}
	req = req.WithContext(auth.WithPrincipal(req.Context(), p))
	assert.Equal(t, "ratelimit:user:"+p.ID.String(), userOrIPKey(req))
}

func TestValidateRequest(t *testing.T) {
	h := ValidateRequest(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/x/messages?before=abc", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/x?q=<script>", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateRequestContentType(t *testing.T) {
	h := ValidateRequest(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/rooms", strings.NewReader("name=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	// Bodiless POSTs need no content type
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rooms/x/read", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMaxBodySize(t *testing.T) {
	h := MaxBodySize(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rooms", strings.NewReader(`{"name":"too long"}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/ws/rooms/x", strings.NewReader(`{"name":"too long"}`))
	req.Header.Set("Upgrade", "websocket")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "default-src 'none'")
}
