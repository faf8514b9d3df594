package kvstore

import (
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_Get_NotFound(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	_, err := s.Get("nonexistent")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_PutGet(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	key := "session.abc"
	value := []byte(`{"state":"greeting"}`)

	if err := s.Put(key, value, 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if string(got) != string(value) {
		t.Errorf("expected %s, got %s", value, got)
	}
}

func TestMemoryStore_GetEntry(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	key := "session.abc"
	value := []byte("payload")

	if err := s.Put(key, value, 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	e, err := s.GetEntry(key)
	if err != nil {
		t.Fatalf("GetEntry failed: %v", err)
	}

	if e.Key != key {
		t.Errorf("expected key %s, got %s", key, e.Key)
	}
	if string(e.Value) != string(value) {
		t.Errorf("expected value %s, got %s", value, e.Value)
	}
	if e.Revision == 0 {
		t.Error("expected non-zero revision")
	}
	if e.Operation != OpPut {
		t.Errorf("expected OpPut, got %v", e.Operation)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	key := "session.abc"
	if err := s.Put(key, []byte("value"), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := s.Delete(key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := s.Get(key); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting a missing key is not an error
	if err := s.Delete("missing"); err != nil {
		t.Errorf("Delete of missing key should be nil, got %v", err)
	}
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	if err := s.Put("cache.q1", []byte("docs"), 30*time.Millisecond); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if _, err := s.Get("cache.q1"); err != nil {
		t.Fatalf("Get before expiry failed: %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	if _, err := s.Get("cache.q1"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after TTL, got %v", err)
	}
}

func TestMemoryStore_Keys_Pattern(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	s.Put("session.a", []byte("1"), 0)
	s.Put("session.b", []byte("2"), 0)
	s.Put("cache.q", []byte("3"), 0)

	keys, err := s.Keys("session.*")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("expected 2 session keys, got %d: %v", len(keys), keys)
	}

	all, _ := s.Keys("*")
	if len(all) != 3 {
		t.Errorf("expected 3 keys, got %d", len(all))
	}
}

func TestMemoryStore_Watch(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	ch, err := s.Watch("session.*")
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	s.Put("session.a", []byte("v"), 0)
	s.Put("cache.q", []byte("v"), 0)

	select {
	case e := <-ch:
		if e.Key != "session.a" {
			t.Errorf("expected session.a, got %s", e.Key)
		}
		if e.Operation != OpPut {
			t.Errorf("expected OpPut, got %v", e.Operation)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for watch notification")
	}

	// The cache.q put must not be delivered
	select {
	case e := <-ch:
		t.Errorf("unexpected notification for %s", e.Key)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryStore_Lock(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	lock, err := s.Lock("session.abc", time.Second)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	if _, err := s.Lock("session.abc", time.Second); err != ErrLockHeld {
		t.Errorf("expected ErrLockHeld, got %v", err)
	}

	if err := lock.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}

	if err := lock.Unlock(); err != ErrLockNotHeld {
		t.Errorf("expected ErrLockNotHeld on double unlock, got %v", err)
	}

	// Lock is available again
	lock2, err := s.Lock("session.abc", time.Second)
	if err != nil {
		t.Fatalf("re-Lock failed: %v", err)
	}
	lock2.Unlock()
}

func TestMemoryStore_Lock_Expiry(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	if _, err := s.Lock("session.x", 20*time.Millisecond); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	time.Sleep(40 * time.Millisecond)

	// The expired lock should not block a new holder
	lock, err := s.Lock("session.x", time.Second)
	if err != nil {
		t.Fatalf("Lock after expiry failed: %v", err)
	}
	lock.Unlock()
}

func TestMemoryStore_InvalidKeys(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	for _, key := range []string{"", "has space", ".leading", "trailing."} {
		if err := s.Put(key, []byte("v"), 0); err != ErrInvalidKey {
			t.Errorf("Put(%q) expected ErrInvalidKey, got %v", key, err)
		}
	}
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore()
	s.Close()

	if _, err := s.Get("k"); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := s.Put("k", []byte("v"), 0); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	// Double close is safe
	if err := s.Close(); err != nil {
		t.Errorf("double Close should be nil, got %v", err)
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := "session." + string(rune('a'+n))
			for j := 0; j < 50; j++ {
				s.Put(key, []byte("v"), 0)
				s.Get(key)
			}
		}(i)
	}
	wg.Wait()

	keys, err := s.Keys("session.*")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 8 {
		t.Errorf("expected 8 keys, got %d", len(keys))
	}
}
