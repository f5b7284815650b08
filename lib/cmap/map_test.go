package cmap

import (
	"sync"
	"testing"
)

func TestSetIfAbsentInParallel(t *testing.T) {
	m := NewMap[string, int]()

	var wg sync.WaitGroup
	var mu sync.Mutex
	stored := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if m.SetIfAbsent("same", i) {
				mu.Lock()
				stored++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if stored != 1 {
		t.Fatalf("expected exactly one store, got %d", stored)
	}

	if m.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", m.Len())
	}
}

func TestPop(t *testing.T) {
	m := NewMap[string, string]()
	m.Set("a", "b")

	v, ok := m.Pop("a")
	if !ok || *v != "b" {
		t.Fatalf("unexpected pop result %v %v", v, ok)
	}

	if m.Has("a") {
		t.Fatalf("key should be gone after pop")
	}

	if _, ok := m.Pop("a"); ok {
		t.Fatalf("second pop should miss")
	}
}
