package firmware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printlink-backend/internal/logger"
)

func feedServer(t *testing.T, version string, status int, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(FeedResponse{Version: version})
	}))
}

func TestCache_Refresh(t *testing.T) {
	server := feedServer(t, "3.5.80", http.StatusOK, nil)
	defer server.Close()

	c := NewCache(server.Client(), server.URL, []string{"Z3", "z3s"}, time.Hour)
	require.NoError(t, c.Refresh(context.Background()))

	assert.Equal(t, map[string]string{"z3": "3.5.80", "z3s": "3.5.80"}, c.Snapshot())

	v, ok := c.Latest("Z3S")
	require.True(t, ok)
	assert.Equal(t, "3.5.80", v.String())

	_, ok = c.Latest("x1")
	assert.False(t, ok)

	assert.True(t, c.UpdateAvailable("z3", "3.5.78"))
	assert.False(t, c.UpdateAvailable("z3", "3.5.80"))
	assert.False(t, c.UpdateAvailable("z4", "1.0.0"))
	assert.False(t, c.UpdateAvailable("z3", "garbage"))
}

func TestCache_RefreshFailuresKeepPreviousValues(t *testing.T) {
	testCases := []struct {
		name    string
		version string
		status  int
	}{
		{name: "server error", version: "9.9.9", status: http.StatusInternalServerError},
		{name: "bad version", version: "not-a-version", status: http.StatusOK},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := feedServer(t, tc.version, tc.status, nil)
			defer server.Close()

			c := NewCache(server.Client(), server.URL, []string{"z3"}, time.Hour)
			c.Set("z3", semver.MustParse("3.5.70"))

			assert.Error(t, c.Refresh(context.Background()))
			assert.Equal(t, map[string]string{"z3": "3.5.70"}, c.Snapshot())
		})
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	c := NewCache(nil, "http://unused", []string{"z3"}, time.Hour)
	c.Set("z3", semver.MustParse("3.5.70"))
	snap := c.Snapshot()
	snap["z3"] = "0.0.0"
	v, _ := c.Latest("z3")
	assert.Equal(t, "3.5.70", v.String())
}

func TestChecker_Run(t *testing.T) {
	var hits int32
	server := feedServer(t, "3.6.0", http.StatusOK, &hits)
	defer server.Close()

	c := NewCache(server.Client(), server.URL, []string{"z3"}, time.Hour)
	checker := NewChecker(c, 10*time.Millisecond, logger.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&hits) >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	v, ok := c.Latest("z3")
	require.True(t, ok)
	assert.Equal(t, "3.6.0", v.String())
}
