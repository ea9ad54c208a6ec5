package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real server when REDIS_ADDR is set, e.g. REDIS_ADDR=localhost:6379.
func TestRateLimiterAdapter_SlidingWindow(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	a, err := NewRateLimiterAdapter(ctx, addr)
	require.NoError(t, err)
	defer a.Close()

	key := fmt.Sprintf("ratelimit:test:%d", time.Now().UnixNano())
	defer a.rdb.Del(ctx, key)

	for i := 0; i < 3; i++ {
		ok, err := a.IsAllowed(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := a.IsAllowed(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// Move past the window.
	a.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	ok, err = a.IsAllowed(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
