package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"retryflow/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func init() {
	logger.InitLogger("test")
	gin.SetMode(gin.TestMode)
}

func limitedRouter(l *RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(l.Middleware())
	r.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func get(r http.Handler, group string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/test", nil)
	if group != "" {
		req.Header.Set(GroupHeader, group)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit_RedisFailure_FailsOpen(t *testing.T) {
	// unreachable address forces the local fallback
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:0",
		DialTimeout: 10 * time.Millisecond,
		ReadTimeout: 10 * time.Millisecond,
		MaxRetries:  0,
	})
	r := limitedRouter(NewRateLimiter(rdb, 10))

	w := get(r, "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 (Fail Open), got %d", w.Code)
	}
	if val := w.Header().Get("X-RateLimit-Limit"); val != "10" {
		t.Errorf("Expected X-RateLimit-Limit header '10', got '%s'", val)
	}
}

func TestRateLimit_RedisBucketPerGroup(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	r := limitedRouter(NewRateLimiter(rdb, 2))

	for i := 0; i < 2; i++ {
		if w := get(r, "orders"); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}
	if w := get(r, "orders"); w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 once the bucket is empty, got %d", w.Code)
	}
	if w := get(r, "billing"); w.Code != http.StatusOK {
		t.Errorf("other groups keep their own bucket, got %d", w.Code)
	}
	if !mr.Exists(rateLimitKeyPrefix + "group:orders:tokens") {
		t.Error("expected bucket state in redis")
	}
}

func TestRateLimit_EvictIdle(t *testing.T) {
	l := NewRateLimiter(nil, 1)
	l.localFor("ip:1.2.3.4")
	l.evictIdle(time.Now().Add(2 * localIdleTTL))
	if _, ok := l.local.Load("ip:1.2.3.4"); ok {
		t.Error("idle limiter should be evicted")
	}
}
