package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-tickets/internal/auth"
	"github.com/iliyamo/cinema-tickets/internal/config"
	"github.com/iliyamo/cinema-tickets/internal/model"
	"github.com/iliyamo/cinema-tickets/internal/utils"
)

const secret = "mw-secret"

func serve(e *echo.Echo, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func kindOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	kind, _ := body["kind"].(string)
	return kind
}

func token(t *testing.T, id uint64, role model.Role) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, id, string(role), "someone", time.Hour)
	require.NoError(t, err)
	return tok.Token
}

func protectedEcho(roles ...model.Role) *echo.Echo {
	e := echo.New()
	g := e.Group("", JWTAuth(auth.NewJWTGuard(secret)))
	if len(roles) > 0 {
		g.Use(RequireRole(roles...))
	}
	g.GET("/whoami", func(c echo.Context) error {
		p := PrincipalFrom(c)
		return c.JSON(http.StatusOK, echo.Map{"id": p.UserID, "role": p.Role, "key": userID(c)})
	})
	return e
}

func TestJWTAuth(t *testing.T) {
	e := protectedEcho()

	rec := serve(e, http.MethodGet, "/whoami", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", kindOf(t, rec))

	rec = serve(e, http.MethodGet, "/whoami", "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(e, http.MethodGet, "/whoami", token(t, 7, model.RoleUser))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":7,"role":"user","key":"7"}`, rec.Body.String())
}

func TestRequireRole(t *testing.T) {
	e := protectedEcho(model.RoleManager)

	rec := serve(e, http.MethodGet, "/whoami", token(t, 7, model.RoleUser))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Forbidden", kindOf(t, rec))

	rec = serve(e, http.MethodGet, "/whoami", token(t, 8, model.RoleManager))
	assert.Equal(t, http.StatusOK, rec.Code)

	bare := echo.New()
	bare.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, RequireRole(model.RoleUser))
	assert.Equal(t, http.StatusUnauthorized, serve(bare, http.MethodGet, "/x", "").Code)
}

func TestUserIDDefaultsToGuest(t *testing.T) {
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	assert.Equal(t, "guest", userID(c))
	SetPrincipal(c, auth.Principal{UserID: 3})
	assert.Equal(t, "3", userID(c))
}

type memoryResponses struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memoryResponses) Get(ctx context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd := redis.NewStringCmd(ctx, "get", key)
	if v, ok := m.data[key]; ok {
		cmd.SetVal(v)
	} else {
		cmd.SetErr(redis.Nil)
	}
	return cmd
}

func (m *memoryResponses) SetEx(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	}
	cmd := redis.NewStatusCmd(ctx, "setex", key)
	cmd.SetVal("OK")
	return cmd
}

func TestResponseCache(t *testing.T) {
	log, _ := test.NewNullLogger()
	store := &memoryResponses{data: map[string]string{}}
	cfg := config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}, TTL: time.Minute, Prefix: "cache"}

	calls := 0
	e := echo.New()
	e.GET("/movies", func(c echo.Context) error {
		calls++
		if c.QueryParam("page") == "9" {
			return c.JSON(http.StatusBadGateway, echo.Map{"kind": "Unavailable"})
		}
		return c.JSON(http.StatusOK, echo.Map{"movies": []string{"matrix"}})
	}, newResponseCache(cfg, store, log))

	first := serve(e, http.MethodGet, "/movies?page=1", "")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	second := serve(e, http.MethodGet, "/movies?page=1", "")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Contains(t, second.Header().Get(echo.HeaderContentType), "application/json")
	assert.Equal(t, 1, calls)

	serve(e, http.MethodGet, "/movies?page=9", "")
	serve(e, http.MethodGet, "/movies?page=9", "")
	assert.Equal(t, 3, calls, "errors are not cached")
}

func TestPayloadRoundTrip(t *testing.T) {
	h := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(http.StatusOK, h, []byte(`{"a":1}`))
	require.NoError(t, err)
	status, hdr, body, ok := decodePayload(bs)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, h, hdr)
	assert.Equal(t, `{"a":1}`, string(body))

	_, _, _, ok = decodePayload([]byte{0, 1})
	assert.False(t, ok)
}

// scriptedRedis answers EvalSha with a fixed limiter result.
type scriptedRedis struct {
	redis.Scripter
	result []interface{}
	err    error
}

func (s *scriptedRedis) EvalSha(ctx context.Context, _ string, _ []string, _ ...interface{}) *redis.Cmd {
	cmd := redis.NewCmd(ctx)
	if s.err != nil {
		cmd.SetErr(s.err)
	} else {
		cmd.SetVal(s.result)
	}
	return cmd
}

func limitedEcho(rdb redis.Scripter) *echo.Echo {
	log, _ := test.NewNullLogger()
	cfg := config.RateLimitConfig{Enabled: true, Capacity: 5, RefillTokens: 1, RefillInterval: time.Second, TTL: time.Minute, Prefix: "rl"}
	e := echo.New()
	e.Use(newTokenBucket(cfg, rdb, log))
	e.GET("/screenings", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	return e
}

func TestTokenBucket(t *testing.T) {
	rec := serve(limitedEcho(&scriptedRedis{result: []interface{}{int64(1), int64(4), int64(0)}}), http.MethodGet, "/screenings", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))

	rec = serve(limitedEcho(&scriptedRedis{result: []interface{}{int64(0), int64(0), int64(1500)}}), http.MethodGet, "/screenings", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, KindRateLimited, kindOf(t, rec))

	rec = serve(limitedEcho(&scriptedRedis{err: errors.New("connection refused")}), http.MethodGet, "/screenings", "")
	assert.Equal(t, http.StatusOK, rec.Code, "limiter failures let requests through")
}

func TestRateKeyStrategies(t *testing.T) {
	c := echo.New().NewContext(httptest.NewRequest(http.MethodPost, "/reserve", nil), httptest.NewRecorder())
	c.SetPath("/reserve")
	SetPrincipal(c, auth.Principal{UserID: 12})

	assert.Equal(t, "rl:user:12", buildRateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: "user"}, c))
	assert.Equal(t, "rl:route:POST /reserve", buildRateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: "route"}, c))
	assert.Contains(t, buildRateKey(config.RateLimitConfig{Prefix: "rl"}, c), ":user:12:route:POST /reserve")
}
