package cache

import "sync"

type LRUNode struct {
	Key string
	Val []byte

	Prev *LRUNode
	Next *LRUNode
}

// LRU is a fixed capacity least-recently-used cache keyed by string.
// It is safe for concurrent use.
type LRU struct {
	mu       sync.Mutex
	capacity int
	cache    map[string]*LRUNode

	left  *LRUNode
	right *LRUNode
}

func NewLRU(capacity int) *LRU {
	left, right := &LRUNode{}, &LRUNode{}

	left.Next = right
	right.Prev = left

	return &LRU{
		left:     left,
		right:    right,
		capacity: capacity,
		cache:    make(map[string]*LRUNode),
	}
}

func (l *LRU) Put(key string, value []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	node, exists := l.cache[key]
	if exists {
		l.deleteNode(node)
	}

	node = &LRUNode{Key: key, Val: value}
	l.cache[key] = node
	l.insertNode(node)

	if l.capacityReached() {
		l.evict()
	}
}

func (l *LRU) Get(key string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	node, exists := l.cache[key]
	if !exists {
		return nil, false
	}

	l.deleteNode(node)
	l.insertNode(node)

	return node.Val, true
}

func (l *LRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.cache)
}

func (l *LRU) capacityReached() bool {
	return len(l.cache) > l.capacity
}

func (l *LRU) evict() {
	lru := l.left.Next
	l.deleteNode(lru)

	delete(l.cache, lru.Key)
}

func (l *LRU) insertNode(node *LRUNode) {
	prev, next := l.right.Prev, l.right

	node.Prev = prev
	node.Next = next

	prev.Next = node
	next.Prev = node
}

func (l *LRU) deleteNode(node *LRUNode) {
	prev, next := node.Prev, node.Next

	prev.Next = next
	next.Prev = prev
}
