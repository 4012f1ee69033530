package cache

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestNewLRU_InvalidCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1} {
		if _, err := NewLRU[string, int](capacity); !errors.Is(err, ErrInvalidCapacity) {
			t.Errorf("NewLRU(%d) error = %v, want ErrInvalidCapacity", capacity, err)
		}
	}
}

func TestLRU_EvictsOldest(t *testing.T) {
	c, err := NewLRU[string, int](3)
	if err != nil {
		t.Fatalf("NewLRU() error = %v", err)
	}

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)
	c.Set("d", 4)

	if c.Has("a") {
		t.Error("expected a to be evicted")
	}
	for _, key := range []string{"b", "c", "d"} {
		if !c.Has(key) {
			t.Errorf("expected %s to remain", key)
		}
	}
	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3", c.Len())
	}
	if c.Evictions() != 1 {
		t.Errorf("Evictions() = %d, want 1", c.Evictions())
	}
}

func TestLRU_GetPromotes(t *testing.T) {
	c, _ := NewLRU[string, int](3)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("Get(a) = %d, %v", v, ok)
	}
	c.Set("d", 4)

	if !c.Has("a") {
		t.Error("expected a to survive after Get")
	}
	if c.Has("b") {
		t.Error("expected b to be evicted")
	}
}

func TestLRU_HasDoesNotPromote(t *testing.T) {
	c, _ := NewLRU[string, int](3)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	if !c.Has("a") {
		t.Fatal("expected a present")
	}
	c.Set("d", 4)

	if c.Has("a") {
		t.Error("Has must not change eviction order")
	}
}

func TestLRU_UpdateExisting(t *testing.T) {
	c, _ := NewLRU[string, int](2)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10)
	c.Set("c", 3)

	if v, ok := c.Get("a"); !ok || v != 10 {
		t.Errorf("Get(a) = %d, %v; want 10, true", v, ok)
	}
	if c.Has("b") {
		t.Error("expected b evicted after a was updated")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestLRU_DeleteAndClear(t *testing.T) {
	c, _ := NewLRU[string, int](3)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Delete("a")
	if c.Has("a") || c.Len() != 1 {
		t.Errorf("after Delete: Has(a)=%v Len=%d", c.Has("a"), c.Len())
	}

	c.Clear()
	if c.Len() != 0 || c.Has("b") {
		t.Errorf("after Clear: Len=%d Has(b)=%v", c.Len(), c.Has("b"))
	}

	c.Set("x", 9)
	if v, ok := c.Get("x"); !ok || v != 9 {
		t.Errorf("Get(x) after Clear = %d, %v", v, ok)
	}
}

func TestLRU_Concurrent(t *testing.T) {
	c, _ := NewLRU[string, int](50)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("k%d", (worker*j)%80)
				c.Set(key, j)
				c.Get(key)
				c.Has(key)
			}
		}(i)
	}
	wg.Wait()

	if c.Len() > 50 {
		t.Errorf("Len() = %d exceeds capacity", c.Len())
	}
}

func TestTTLCache_Expiry(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewTTLCache[string, string](TTLConfig{
		TTL: time.Minute,
		Now: func() time.Time { return now },
	})

	c.Set("k", "v")
	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Fatalf("Get() = %q, %v", v, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Error("expected entry to be expired")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be removed on read, Len() = %d", c.Len())
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %+v, want 1 hit 1 miss", stats)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("HitRate = %f, want 0.5", stats.HitRate)
	}
}

func TestTTLCache_Defaults(t *testing.T) {
	c := NewTTLCache[string, int](TTLConfig{})
	stats := c.Stats()
	if stats.MaxSize != 500 {
		t.Errorf("MaxSize = %d, want 500", stats.MaxSize)
	}
	if c.ttl != 5*time.Minute {
		t.Errorf("ttl = %v, want 5m", c.ttl)
	}
}

func TestTTLCache_Bounded(t *testing.T) {
	c := NewTTLCache[int, int](TTLConfig{MaxSize: 2})
	c.Set(1, 1)
	c.Set(2, 2)
	c.Get(1)
	c.Set(3, 3)

	if _, ok := c.Get(2); ok {
		t.Error("expected 2 to be evicted")
	}
	if _, ok := c.Get(1); !ok {
		t.Error("expected 1 to remain")
	}
	if c.Stats().Evicts != 1 {
		t.Errorf("Evicts = %d, want 1", c.Stats().Evicts)
	}
}
