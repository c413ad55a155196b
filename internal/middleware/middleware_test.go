package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/property-listing-api/internal/config"
	"github.com/iliyamo/property-listing-api/internal/utils"
)

const secret = "test-secret"

func quiet() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func whoami(c echo.Context) error {
	id, _ := UserID(c)
	return c.JSON(http.StatusOK, echo.Map{"id": id, "role": Role(c)})
}

func bearer(t *testing.T, id uint64, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, id, role, 5)
	require.NoError(t, err)
	return "Bearer " + tok.Token
}

func do(e *echo.Echo, method, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set(echo.HeaderAuthorization, auth)
	}
	req.RemoteAddr = "203.0.113.7:5000"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuthAndRole(t *testing.T) {
	e := echo.New()
	g := e.Group("/admin", JWTAuth(secret), RequireRole("admin"))
	g.GET("/me", whoami)

	rec := do(e, http.MethodGet, "/admin/me", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"missing bearer token"}`, rec.Body.String())

	rec = do(e, http.MethodGet, "/admin/me", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(e, http.MethodGet, "/admin/me", bearer(t, 7, "user"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(e, http.MethodGet, "/admin/me", bearer(t, 7, "admin"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":7,"role":"admin"}`, rec.Body.String())
}

func TestOptionalJWT(t *testing.T) {
	e := echo.New()
	e.GET("/p", whoami, OptionalJWT(secret))

	rec := do(e, http.MethodGet, "/p", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":0,"role":""}`, rec.Body.String())

	rec = do(e, http.MethodGet, "/p", bearer(t, 3, "user"))
	assert.JSONEq(t, `{"id":3,"role":"user"}`, rec.Body.String())

	rec = do(e, http.MethodGet, "/p", "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func limitCfg() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: time.Hour,
		TTL:            time.Hour,
		KeyStrategy:    "ip",
		Prefix:         "rl:test",
		LocalFallback:  true,
	}
}

func TestTokenBucketLocalFallback(t *testing.T) {
	e := echo.New()
	e.GET("/x", whoami, NewTokenBucket(limitCfg(), nil, quiet()))

	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/x", "").Code)
	rec := do(e, http.MethodGet, "/x", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))

	rec = do(e, http.MethodGet, "/x", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `"too_many_requests"`)
}

func TestTokenBucketFallsBackWhenRedisFails(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()

	e := echo.New()
	e.GET("/x", whoami, NewTokenBucket(limitCfg(), rdb, quiet()))
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, do(e, http.MethodGet, "/x", "").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, do(e, http.MethodGet, "/x", "").Code)

	cfg := limitCfg()
	cfg.LocalFallback = false
	open := echo.New()
	open.GET("/x", whoami, NewTokenBucket(cfg, rdb, quiet()))
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, do(open, http.MethodGet, "/x", "").Code, "fails open without a fallback")
	}
}

func TestTokenBucketKeysByStrategy(t *testing.T) {
	e := echo.New()
	cfg := limitCfg()
	cfg.Capacity = 1
	cfg.KeyStrategy = "user"
	e.GET("/x", whoami, OptionalJWT(secret), NewTokenBucket(cfg, nil, quiet()))

	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/x", bearer(t, 1, "user")).Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/x", bearer(t, 2, "user")).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(e, http.MethodGet, "/x", bearer(t, 1, "user")).Code)
}

func TestCacheMissWithUnreachableRedis(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()
	cfg := config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}, TTL: time.Minute, Prefix: "cache:test"}

	calls := 0
	e := echo.New()
	e.GET("/p", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusOK, echo.Map{"n": calls})
	}, NewRedisCache(cfg, rdb))

	for i := 1; i <= 2; i++ {
		rec := do(e, http.MethodGet, "/p", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	}
	assert.Equal(t, 2, calls)

	rec := do(e, http.MethodGet, "/p", bearer(t, 1, "user"))
	assert.Empty(t, rec.Header().Get("X-Cache"), "authenticated requests bypass the cache")
}

func TestPayloadRoundTrip(t *testing.T) {
	h := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(200, h, []byte(`{"ok":true}`))
	require.NoError(t, err)
	status, hdr, body, ok := decodePayload(bs)
	require.True(t, ok)
	assert.Equal(t, 200, status)
	assert.Equal(t, "application/json", hdr.Get("Content-Type"))
	assert.Equal(t, `{"ok":true}`, string(body))

	_, _, _, ok = decodePayload(bs[:6])
	assert.False(t, ok)
}

func TestRequestLoggerAndMetrics(t *testing.T) {
	e := echo.New()
	e.Use(RequestLogger(quiet()), Metrics())
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	e.GET("/boom", func(c echo.Context) error { return echo.NewHTTPError(http.StatusTeapot, "short and stout") })

	assert.Equal(t, http.StatusNoContent, do(e, http.MethodGet, "/ok", "").Code)
	assert.Equal(t, http.StatusTeapot, do(e, http.MethodGet, "/boom", "").Code)
}
