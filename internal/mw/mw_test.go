package mw

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func serve(r *gin.Engine, method, path, remote string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	if remote != "" {
		req.RemoteAddr = remote
	}
	r.ServeHTTP(w, req)
	return w
}

func TestCache(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var hits int32
	status := http.StatusOK

	r := gin.New()
	r.Use(Cache(cache.New(time.Minute, time.Minute), time.Minute))
	r.GET("/versions", func(c *gin.Context) {
		atomic.AddInt32(&hits, 1)
		c.JSON(status, gin.H{"z3": "3.6.0"})
	})
	r.POST("/versions", func(c *gin.Context) {
		atomic.AddInt32(&hits, 1)
		c.Status(http.StatusCreated)
	})

	w := serve(r, http.MethodGet, "/versions", "")
	assert.Equal(t, "MISS", w.Header().Get(CacheHeader))

	w = serve(r, http.MethodGet, "/versions", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "HIT", w.Header().Get(CacheHeader))
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"z3":"3.6.0"}`, w.Body.String())
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))

	serve(r, http.MethodPost, "/versions", "")
	serve(r, http.MethodPost, "/versions", "")
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))

	status = http.StatusInternalServerError
	serve(r, http.MethodGet, "/versions?fresh=1", "")
	serve(r, http.MethodGet, "/versions?fresh=1", "")
	assert.EqualValues(t, 5, atomic.LoadInt32(&hits))
}

func TestRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimiter(rate.Limit(0.001), 2))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	testCases := []struct {
		name           string
		remote         string
		expectedStatus int
	}{
		{name: "first", remote: "10.0.0.1:1000", expectedStatus: http.StatusOK},
		{name: "burst", remote: "10.0.0.1:1001", expectedStatus: http.StatusOK},
		{name: "limited", remote: "10.0.0.1:1002", expectedStatus: http.StatusTooManyRequests},
		{name: "other address", remote: "10.0.0.2:1000", expectedStatus: http.StatusOK},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := serve(r, http.MethodGet, "/", tc.remote)
			assert.Equal(t, tc.expectedStatus, w.Code)
		})
	}
}

func TestIPRateLimiter_PrunesIdleAddresses(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewIPRateLimiter(rate.Limit(1), 1)
	l.now = func() time.Time { return now }

	l.GetLimiter("10.0.0.1")
	l.GetLimiter("10.0.0.2")
	assert.Equal(t, 2, l.Len())

	now = now.Add(limiterIdleTTL / 2)
	l.GetLimiter("10.0.0.2")

	now = now.Add(limiterIdleTTL/2 + time.Second)
	l.GetLimiter("10.0.0.3")
	assert.Equal(t, 2, l.Len())
}
