package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cohort-pools/internal/config"
)

const testSecret = "s3cret"

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestJWTAuth(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	cases := []struct {
		name     string
		header   string
		wantCode int
		wantUser string
		wantRole string
	}{
		{
			name:     "valid admin",
			header:   "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "u1", "role": "admin", "exp": exp}),
			wantCode: http.StatusOK, wantUser: "u1", wantRole: RoleAdmin,
		},
		{
			name:     "role defaults to user",
			header:   "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "u2", "exp": exp}),
			wantCode: http.StatusOK, wantUser: "u2", wantRole: RoleUser,
		},
		{
			name:     "missing header",
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "wrong secret",
			header:   "Bearer " + sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "u1", "exp": exp}),
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "expired",
			header:   "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(-time.Minute).Unix()}),
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "no expiry",
			header:   "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "u1"}),
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "no subject",
			header:   "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"exp": exp}),
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "other algorithm",
			header:   "Bearer " + sign(t, jwt.SigningMethodHS512, []byte(testSecret), jwt.MapClaims{"sub": "u1", "exp": exp}),
			wantCode: http.StatusUnauthorized,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := echo.New()
			var gotUser, gotRole string
			h := JWTAuth(testSecret)(func(c echo.Context) error {
				gotUser, gotRole = UserID(c), Role(c)
				return c.NoContent(http.StatusOK)
			})
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			if err := h(e.NewContext(req, rec)); err != nil {
				t.Fatalf("handler: %v", err)
			}
			if rec.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d", tc.wantCode, rec.Code)
			}
			if gotUser != tc.wantUser || gotRole != tc.wantRole {
				t.Fatalf("expected %q/%q, got %q/%q", tc.wantUser, tc.wantRole, gotUser, gotRole)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	h := RequireRole(RoleAdmin)(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	for role, want := range map[string]int{RoleAdmin: http.StatusOK, RoleUser: http.StatusForbidden, "": http.StatusForbidden} {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
		if role != "" {
			c.Set(ctxRole, role)
		}
		if err := h(c); err != nil {
			t.Fatalf("handler: %v", err)
		}
		if rec.Code != want {
			t.Fatalf("role %q: expected %d, got %d", role, want, rec.Code)
		}
	}
}

func TestRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/me/pools/7/join", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.1")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/me/pools/:id/join")
	c.Set(ctxUserID, "u1")

	cases := map[string]string{
		"ip":         "rl:ip:10.0.0.1",
		"user":       "rl:user:u1",
		"user_route": "rl:user:u1:route:POST /v1/me/pools/:id/join",
		"":           "rl:ip:10.0.0.1:user:u1:route:POST /v1/me/pools/:id/join",
	}
	for strategy, want := range cases {
		got := rateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: strategy}, c)
		if got != want {
			t.Fatalf("strategy %q: expected %q, got %q", strategy, want, got)
		}
	}

	anon := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if got := rateSubject(anon); got != "anon" {
		t.Fatalf("expected anon, got %q", got)
	}
}

func TestCacheEntryRoundTrip(t *testing.T) {
	h := http.Header{}
	h.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	entry, err := encodeEntry(http.StatusOK, h, []byte(`{"id":1}`))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	status, hdr, body, ok := decodeEntry(entry)
	if !ok {
		t.Fatalf("expected entry to decode")
	}
	if status != http.StatusOK || hdr.Get(echo.HeaderContentType) != echo.MIMEApplicationJSON || string(body) != `{"id":1}` {
		t.Fatalf("unexpected entry %d %v %q", status, hdr, body)
	}
	if _, _, _, ok := decodeEntry(entry[:5]); ok {
		t.Fatalf("expected truncated entry to be rejected")
	}
}

func TestCacheKeySeparatesPaths(t *testing.T) {
	e := echo.New()
	cfg := config.CacheConfig{Prefix: "cache"}
	key := func(target string) string {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
		c.SetPath("/v1/pools/:id")
		return cacheKey(cfg, c)
	}
	if key("/v1/pools/1") == key("/v1/pools/2") {
		t.Fatalf("expected distinct keys for distinct pools")
	}
	if key("/v1/pools/1") != key("/v1/pools/1") {
		t.Fatalf("expected stable keys")
	}
}

func TestDisabledMiddlewarePassesThrough(t *testing.T) {
	e := echo.New()
	called := 0
	next := func(c echo.Context) error { called++; return c.NoContent(http.StatusOK) }
	for _, mw := range []echo.MiddlewareFunc{
		NewTokenBucket(config.RateLimitConfig{Enabled: true}, nil, nil),
		NewRedisCache(config.CacheConfig{Enabled: true, TTL: time.Second}, nil),
	} {
		rec := httptest.NewRecorder()
		if err := mw(next)(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
			t.Fatalf("handler: %v", err)
		}
	}
	if called != 2 {
		t.Fatalf("expected both requests to pass, got %d", called)
	}
}
