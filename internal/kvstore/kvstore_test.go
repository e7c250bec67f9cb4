package kvstore

import (
	"context"
	"sync"
	"testing"
)

func TestMemory_SetGetRemove(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("Get on empty store: ok=%v err=%v", ok, err)
	}

	if err := s.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || v != "v" {
		t.Fatalf("Get = %q,%v,%v want v,true,nil", v, ok, err)
	}

	// empty value is still present
	if err := s.Set(ctx, "empty", ""); err != nil {
		t.Fatalf("Set empty: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "empty"); !ok {
		t.Fatalf("empty value must still report present")
	}

	if err := s.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatalf("key must be gone after Remove")
	}

	// removing a missing key is not an error
	if err := s.Remove(ctx, "missing"); err != nil {
		t.Fatalf("Remove missing: %v", err)
	}
}

func TestMemory_Concurrent(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 64 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := string(rune('a' + n%8))
			_ = s.Set(ctx, key, "v")
			_, _, _ = s.Get(ctx, key)
			if n%3 == 0 {
				_ = s.Remove(ctx, key)
			}
		}(i)
	}
	wg.Wait()
}
