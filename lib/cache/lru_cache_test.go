package cache

import "testing"

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	l := NewLRU(2)
	l.Put("a", []byte("1"))
	l.Put("b", []byte("2"))

	// touch a so b becomes the oldest entry
	if _, ok := l.Get("a"); !ok {
		t.Fatalf("a should be cached")
	}

	l.Put("c", []byte("3"))

	if _, ok := l.Get("b"); ok {
		t.Fatalf("b should have been evicted")
	}

	if v, ok := l.Get("a"); !ok || string(v) != "1" {
		t.Fatalf("a lost: %q %v", v, ok)
	}

	if l.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", l.Len())
	}
}

func TestLRUOverwrite(t *testing.T) {
	l := NewLRU(1)
	l.Put("a", []byte("1"))
	l.Put("a", []byte("2"))

	v, ok := l.Get("a")
	if !ok || string(v) != "2" {
		t.Fatalf("expected overwritten value, got %q", v)
	}

	if l.Len() != 1 {
		t.Fatalf("overwrite should not grow the cache")
	}
}
