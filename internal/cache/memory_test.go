package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	_, _, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	c.Put(ctx, "k", []byte("<nzb/>"))
	xml, failed, ok := c.Get(ctx, "k")
	assert.True(t, ok)
	assert.False(t, failed)
	assert.Equal(t, []byte("<nzb/>"), xml)
}

func TestMemoryCacheFailureSentinel(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	c.PutFailure(ctx, "k")
	xml, failed, ok := c.Get(ctx, "k")
	assert.True(t, ok)
	assert.True(t, failed)
	assert.Nil(t, xml)

	// A later successful build clears the sentinel.
	c.Put(ctx, "k", []byte("<nzb/>"))
	_, failed, ok = c.Get(ctx, "k")
	assert.True(t, ok)
	assert.False(t, failed)
}
