package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/pkg/constants"
	"github.com/turtacn/keyguard/pkg/errors"
	"github.com/turtacn/keyguard/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubLimiter struct {
	allow bool
	wait  time.Duration
}

func (s stubLimiter) Allow(string) (bool, time.Duration) { return s.allow, s.wait }

type stubAuth struct {
	session *models.Session
	stale   bool
	err     error
	fresh   string
}

func (s *stubAuth) Authenticate(context.Context, string) (*models.Session, bool, error) {
	return s.session, s.stale, s.err
}

func (s *stubAuth) RefreshCurrentSession(context.Context, *models.Session) (string, error) {
	return s.fresh, nil
}

func serve(h gin.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	r := gin.New()
	r.Any("/x", h, func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIPThrottle(t *testing.T) {
	log := logger.NewNoopLogger()

	w := serve(IPThrottle(stubLimiter{allow: true}, log), httptest.NewRequest(http.MethodPost, "/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(IPThrottle(stubLimiter{wait: 1500 * time.Millisecond}, log), httptest.NewRequest(http.MethodPost, "/x", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))

	w = serve(IPThrottle(nil, log), httptest.NewRequest(http.MethodPost, "/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessionAuth_TokenSources(t *testing.T) {
	auth := &stubAuth{session: &models.Session{UserID: "alice"}}
	mw := SessionAuth(auth, CookieConfig{MaxAgeSeconds: 60}, true, logger.NewNoopLogger())

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(mw, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, http.StatusOK, serve(mw, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.AddCookie(&http.Cookie{Name: constants.SessionCookieName, Value: "abc"})
	assert.Equal(t, http.StatusOK, serve(mw, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, http.StatusUnauthorized, serve(mw, req).Code)
}

func TestSessionAuth_StaleReissued(t *testing.T) {
	auth := &stubAuth{session: &models.Session{UserID: "alice"}, stale: true, fresh: "fresh-token"}
	mw := SessionAuth(auth, CookieConfig{MaxAgeSeconds: 60}, true, logger.NewNoopLogger())

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer old")
	w := serve(mw, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fresh-token", w.Header().Get(constants.SessionTokenHeader))
	assert.Contains(t, w.Header().Get("Set-Cookie"), constants.SessionCookieName+"=fresh-token")
}

func TestSessionAuth_Rejected(t *testing.T) {
	auth := &stubAuth{err: errors.Unauthenticated("expired")}
	mw := SessionAuth(auth, CookieConfig{}, false, logger.NewNoopLogger())

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer old")
	assert.Equal(t, http.StatusUnauthorized, serve(mw, req).Code)

	// Optional mode lets anonymous requests through.
	assert.Equal(t, http.StatusOK, serve(mw, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
}

func TestIdempotency(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mw := Idempotency(client, "test", time.Minute, logger.NewNoopLogger())

	newReq := func(key string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/x", nil)
		if key != "" {
			req.Header.Set(IdempotencyKeyHeader, key)
		}
		return req
	}

	assert.Equal(t, http.StatusOK, serve(mw, newReq("k1")).Code)
	assert.Equal(t, http.StatusConflict, serve(mw, newReq("k1")).Code)
	assert.Equal(t, http.StatusOK, serve(mw, newReq("")).Code)
	assert.Equal(t, http.StatusOK, serve(mw, newReq("")).Code)

	mr.FastForward(2 * time.Minute)
	assert.Equal(t, http.StatusOK, serve(mw, newReq("k1")).Code)
}

func TestIdempotency_RedisDownFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	mw := Idempotency(client, "test", time.Minute, logger.NewNoopLogger())
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set(IdempotencyKeyHeader, "k1")
	assert.Equal(t, http.StatusOK, serve(mw, req).Code)
}

func TestETag(t *testing.T) {
	w := serve(ETag(), httptest.NewRequest(http.MethodGet, "/x", nil))
	require.Equal(t, http.StatusOK, w.Code)
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)
	assert.Equal(t, "ok", w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("If-None-Match", etag)
	w = serve(ETag(), req)
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestRequestID(t *testing.T) {
	w := serve(RequestID(), httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	w = serve(RequestID(), req)
	assert.Equal(t, "req-1", w.Header().Get(RequestIDHeader))
}
