package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// A nil cache is the "Redis not configured" mode; every operation must be a
// safe pass-through.
func TestResponseCache_NilPassThrough(t *testing.T) {
	var c *ResponseCache
	ctx := context.Background()

	var dest map[string]int
	assert.False(t, c.Get(ctx, "analytics:summary", &dest))
	assert.Nil(t, dest)

	c.Set(ctx, "analytics:summary", map[string]int{"total": 1})
	c.Invalidate(ctx, "analytics:summary", "analytics:trends")
	assert.NoError(t, c.Close())
}

func TestNewResponseCache_BadURL(t *testing.T) {
	_, err := NewResponseCache(context.Background(), "not-a-redis-url", 0, nil)
	assert.Error(t, err)
}
