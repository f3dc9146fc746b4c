package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func doGet(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

// TestRateLimiterBlocksOverLimit 超過窗口限額的請求回 429
func TestRateLimiterBlocksOverLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(NewRateLimiter(2, time.Minute).Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		if w := doGet(r, "/ping"); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}

	if w := doGet(r, "/ping"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 over limit, got %d", w.Code)
	}
}

// TestRateLimiterWindowReset 窗口過期後計數重置
func TestRateLimiterWindowReset(t *testing.T) {
	rl := NewRateLimiter(1, 20*time.Millisecond)

	if !rl.allowRequest("10.0.0.1") {
		t.Fatal("first request should be allowed")
	}
	if rl.allowRequest("10.0.0.1") {
		t.Fatal("second request in window should be blocked")
	}

	time.Sleep(30 * time.Millisecond)

	if !rl.allowRequest("10.0.0.1") {
		t.Error("request after window reset should be allowed")
	}
}

// TestPerEndpointRateLimiter 特定端點使用自己的限額，其他端點走默認限額
func TestPerEndpointRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)

	p := NewPerEndpointRateLimiter(100, time.Minute)
	p.SetLimit("/strict", 1, time.Minute)

	r := gin.New()
	r.Use(p.Middleware())
	r.GET("/strict", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/loose", func(c *gin.Context) { c.Status(http.StatusOK) })

	if w := doGet(r, "/strict"); w.Code != http.StatusOK {
		t.Fatalf("first strict request: expected 200, got %d", w.Code)
	}
	if w := doGet(r, "/strict"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second strict request: expected 429, got %d", w.Code)
	}
	if w := doGet(r, "/loose"); w.Code != http.StatusOK {
		t.Errorf("loose endpoint blocked by strict limit: %d", w.Code)
	}
}
