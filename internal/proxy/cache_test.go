package proxy

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFallbackCache_PutGet(t *testing.T) {
	cache := NewFallbackCache(time.Minute)

	_, ok := cache.Get("tasks GET /v1/tasks")
	assert.False(t, ok)

	cache.Put("tasks GET /v1/tasks", CachedResponse{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"tasks":[]}`),
	})

	got, ok := cache.Get("tasks GET /v1/tasks")
	assert.True(t, ok)
	assert.Equal(t, http.StatusOK, got.StatusCode)
	assert.Equal(t, `{"tasks":[]}`, string(got.Body))
}

func TestFallbackCache_Expiry(t *testing.T) {
	now := time.Now()
	cache := NewFallbackCache(time.Minute, WithCacheClock(func() time.Time { return now }))

	cache.Put("k", CachedResponse{StatusCode: http.StatusOK})

	now = now.Add(59 * time.Second)
	_, ok := cache.Get("k")
	assert.True(t, ok, "entry inside the TTL is served")

	now = now.Add(2 * time.Second)
	_, ok = cache.Get("k")
	assert.False(t, ok, "entry past the TTL is gone")
}

func TestFallbackCache_ReplacesEntry(t *testing.T) {
	cache := NewFallbackCache(time.Minute)

	cache.Put("k", CachedResponse{Body: []byte("old")})
	cache.Put("k", CachedResponse{Body: []byte("new")})

	got, ok := cache.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "new", string(got.Body))
}
