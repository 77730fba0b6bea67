package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quern/quern/internal/models"
)

func TestUICacheExpiry(t *testing.T) {
	c := NewUICache()
	now := time.Now()
	tree := &models.UIElement{Type: "Window"}
	c.Put("udid-1", tree, now)

	_, ok := c.Get("udid-1", now.Add(100*time.Millisecond))
	require.True(t, ok)

	_, ok = c.Get("udid-1", now.Add(400*time.Millisecond))
	require.False(t, ok)
}

func TestUICacheInvalidate(t *testing.T) {
	c := NewUICache()
	now := time.Now()
	c.Put("udid-1", &models.UIElement{}, now)
	c.Invalidate("udid-1")
	_, ok := c.Get("udid-1", now)
	require.False(t, ok)
}

func TestCoordinateCacheMissStreakEviction(t *testing.T) {
	c := NewCoordinateCache()
	now := time.Now()
	key := CoordinateKey{Bundle: "com.example.app", Model: "iPhone15", Identifier: "login-button"}
	c.Update(key, 10, 20, now)

	c.RecordMiss(key)
	c.RecordMiss(key)
	_, _, ok := c.Lookup(key, now)
	require.True(t, ok)

	c.RecordMiss(key)
	_, _, ok = c.Lookup(key, now)
	require.False(t, ok)
}

func TestCoordinateCacheTTLExpiry(t *testing.T) {
	c := NewCoordinateCache()
	now := time.Now()
	key := CoordinateKey{Bundle: "b", Model: "m", Identifier: "i"}
	c.Update(key, 1, 2, now)

	_, _, ok := c.Lookup(key, now.Add(25*time.Hour))
	require.False(t, ok)
}
