package state

import (
	"testing"
	"time"
)

func TestMemoryPutGet(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	if err := s.Put("comm.s1", []byte(`{"status":"active"}`), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}

	val, err := s.Get("comm.s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(val) != `{"status":"active"}` {
		t.Errorf("unexpected value: %s", val)
	}
}

func TestMemoryGetMissing(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	if _, err := s.Get("comm.missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryRevisionIncrements(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	s.Put("comm.s1", []byte("a"), 0)
	first, _ := s.GetRecord("comm.s1")
	s.Put("comm.s1", []byte("b"), 0)
	second, _ := s.GetRecord("comm.s1")

	if second.Revision <= first.Revision {
		t.Errorf("revision did not advance: %d then %d", first.Revision, second.Revision)
	}
	if !second.Created.Equal(first.Created) {
		t.Error("created timestamp changed on update")
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	s.Put("comm.s1", []byte("a"), 20*time.Millisecond)
	time.Sleep(40 * time.Millisecond)

	if _, err := s.Get("comm.s1"); err != ErrNotFound {
		t.Errorf("expected expiry, got %v", err)
	}
}

func TestMemoryKeysPattern(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	s.Put("comm.s1", []byte("a"), 0)
	s.Put("comm.s2", []byte("b"), 0)
	s.Put("audit.s1", []byte("c"), 0)

	keys, err := s.Keys("comm.*")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("expected 2 comm keys, got %v", keys)
	}
}

func TestMemoryDeleteMissingKeyIsNoop(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	if err := s.Delete("comm.missing"); err != nil {
		t.Errorf("delete of missing key should be nil, got %v", err)
	}
}

func TestMemoryLockExcludes(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	lock, err := s.Lock("comm.s1", time.Second)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	if _, err := s.Lock("comm.s1", time.Second); err != ErrLockHeld {
		t.Errorf("expected ErrLockHeld, got %v", err)
	}

	if err := lock.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if err := lock.Unlock(); err != ErrLockNotHeld {
		t.Errorf("double unlock should fail, got %v", err)
	}

	if _, err := s.Lock("comm.s1", time.Second); err != nil {
		t.Errorf("re-lock after unlock failed: %v", err)
	}
}

func TestMemoryLockExpires(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	if _, err := s.Lock("comm.s1", 20*time.Millisecond); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	time.Sleep(40 * time.Millisecond)

	if _, err := s.Lock("comm.s1", time.Second); err != nil {
		t.Errorf("expired lock should be reacquirable: %v", err)
	}
}

func TestMemoryClosedStore(t *testing.T) {
	s := NewMemoryStore()
	s.Close()

	if err := s.Put("comm.s1", []byte("a"), 0); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if s.Close() != nil {
		t.Error("second close should be nil")
	}
}

func TestValidateKey(t *testing.T) {
	bad := []string{"", " ", "has space", ".leading", "trailing."}
	for _, key := range bad {
		if ValidateKey(key) == nil {
			t.Errorf("key %q should be invalid", key)
		}
	}
	if err := ValidateKey("comm.s1"); err != nil {
		t.Errorf("valid key rejected: %v", err)
	}
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern, key string
		want         bool
	}{
		{"*", "anything", true},
		{"comm.*", "comm.s1", true},
		{"comm.*", "audit.s1", false},
		{"comm.s1", "comm.s1", true},
		{"comm.s1", "comm.s2", false},
	}
	for _, tt := range tests {
		if got := MatchPattern(tt.pattern, tt.key); got != tt.want {
			t.Errorf("MatchPattern(%q, %q) = %v, want %v", tt.pattern, tt.key, got, tt.want)
		}
	}
}
