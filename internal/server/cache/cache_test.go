package cache

import (
	"sync"
	"testing"
	"time"
)

// TestCache_BasicOperations tests Get, Set, and Delete.
func TestCache_BasicOperations(t *testing.T) {
	c := New(5*time.Minute, 10*time.Minute)

	t.Run("Set and Get", func(t *testing.T) {
		c.Set("key1", []byte("value1"))

		val, found := c.Get("key1")
		if !found {
			t.Fatal("expected key1 to be found")
		}
		if string(val.([]byte)) != "value1" {
			t.Errorf("expected value1, got %v", val)
		}
	})

	t.Run("Get non-existent key", func(t *testing.T) {
		if _, found := c.Get("nonexistent"); found {
			t.Error("expected nonexistent key to not be found")
		}
	})

	t.Run("Set and Delete", func(t *testing.T) {
		c.Set("key2", "value2")
		c.Delete("key2")
		if _, found := c.Get("key2"); found {
			t.Error("expected key2 to be deleted")
		}
	})

	stats := c.GetStats()
	if stats.Hits != 1 || stats.Misses != 2 || stats.ItemCount != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

// TestCache_SetWithTTL tests custom TTL.
func TestCache_SetWithTTL(t *testing.T) {
	c := New(5*time.Minute, 10*time.Minute)

	c.SetWithTTL("expiring", "value", 50*time.Millisecond)
	if _, found := c.Get("expiring"); !found {
		t.Error("expected key to exist immediately")
	}

	time.Sleep(100 * time.Millisecond)
	if _, found := c.Get("expiring"); found {
		t.Error("expected key to be expired")
	}
}

// TestCache_Clear tests clearing all items.
func TestCache_Clear(t *testing.T) {
	c := New(5*time.Minute, 10*time.Minute)
	c.Set("key1", "value1")
	c.Set("key2", "value2")

	c.Clear()
	if count := c.ItemCount(); count != 0 {
		t.Errorf("expected 0 items after clear, got %d", count)
	}
}

// TestKey tests that revisions separate entries for the same query.
func TestKey(t *testing.T) {
	a := Key(1, "/api/purchase-requests", "phase=quotation")
	b := Key(2, "/api/purchase-requests", "phase=quotation")
	if a == b {
		t.Fatalf("expected distinct keys, both %q", a)
	}
	if a != "1|/api/purchase-requests?phase=quotation" {
		t.Errorf("unexpected key %q", a)
	}
}

// TestCache_Concurrent tests concurrent access.
func TestCache_Concurrent(t *testing.T) {
	c := New(5*time.Minute, 10*time.Minute)
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := Key(uint64(i%4), "/p", "")
			c.Set(key, i)
			c.Get(key)
		}(i)
	}
	wg.Wait()
	if count := c.ItemCount(); count != 4 {
		t.Errorf("expected 4 items, got %d", count)
	}
}
