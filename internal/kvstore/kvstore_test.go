package kvstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testStore(t *testing.T) Store {
	t.Helper()
	return NewMemory()
}

func TestPutGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "k1", []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(v) != "v1" {
		t.Errorf("Get = %q, want v1", v)
	}
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) err = %v, want ErrNotFound", err)
	}
}

func TestPutTTLExpires(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.PutTTL(ctx, "k1", []byte("v1"), 0); err != nil {
		t.Fatalf("PutTTL: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := s.Get(ctx, "k1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected expired key to be ErrNotFound, got %v", err)
	}
}

func TestDeleteMissingIsNotError(t *testing.T) {
	s := testStore(t)
	if err := s.Delete(context.Background(), "missing"); err != nil {
		t.Errorf("Delete(missing) = %v, want nil", err)
	}
}

func TestScanFiltersByPrefix(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	_ = s.Put(ctx, "profile:a", []byte("1"))
	_ = s.Put(ctx, "profile:b", []byte("2"))
	_ = s.Put(ctx, "feed:a", []byte("3"))

	seen := map[string]bool{}
	err := s.Scan(ctx, "profile:", func(key string, value []byte) bool {
		seen[key] = true
		return true
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(seen) != 2 || !seen["profile:a"] || !seen["profile:b"] {
		t.Errorf("Scan matched %v, want profile:a and profile:b only", seen)
	}
}

func TestScanStopsEarly(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	_ = s.Put(ctx, "k1", []byte("1"))
	_ = s.Put(ctx, "k2", []byte("2"))

	count := 0
	_ = s.Scan(ctx, "k", func(key string, value []byte) bool {
		count++
		return false
	})
	if count != 1 {
		t.Errorf("Scan visited %d entries, want 1 (should stop on false)", count)
	}
}
