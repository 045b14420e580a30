package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/odvcencio/affilink/pkg/browser"
)

func TestMemoryStoreCRUD(t *testing.T) {
	var store Store = NewMemoryStore()
	s := New("r1", "u1", "x", "x", "1", "t1", time.Now())

	assert.False(t, store.Has("t1"))
	store.Set("t1", s)
	assert.True(t, store.Has("t1"))
	assert.Equal(t, 1, store.Len())

	got, ok := store.Get("t1")
	assert.True(t, ok)
	assert.Same(t, s, got)

	store.Delete("t1")
	_, ok = store.Get("t1")
	assert.False(t, ok)
	assert.Equal(t, 0, store.Len())

	store.Delete("missing")
}

func TestMemoryStoreListAndExpired(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	for i, h := range []browser.Handle{"c", "a", "b"} {
		created := now.Add(-time.Duration(3-i) * time.Minute)
		store.Set(h, New("r", "u", "x", "x", "1", h, created))
	}

	list := store.List()
	assert.Len(t, list, 3)
	assert.Equal(t, browser.Handle("c"), list[0].Surface)
	assert.Equal(t, browser.Handle("b"), list[2].Surface)

	expired := store.Expired(now, 150*time.Second)
	assert.Len(t, expired, 1)
	assert.Equal(t, browser.Handle("c"), expired[0].Surface)
}
