package container

import "iter"

type listNode[T any] struct {
	value      T
	prev, next PoolIndex
}

// List is a pool-backed doubly linked list: every node lives in a
// PoolAllocator so insert/remove never touches the Go heap allocator
// directly and freed nodes are recycled exactly like every other arena in
// this package.
type List[T any] struct {
	pool       *PoolAllocator[listNode[T]]
	head, tail PoolIndex
	length     int
}

// NewList returns an empty list.
func NewList[T any]() *List[T] {
	return &List[T]{
		pool: NewPoolAllocator[listNode[T]](16),
		head: InvalidPoolIndex,
		tail: InvalidPoolIndex,
	}
}

func (l *List[T]) Len() int { return l.length }

func (l *List[T]) Front() PoolIndex { return l.head }
func (l *List[T]) Back() PoolIndex  { return l.tail }

// Next and Prev walk the chain; both return InvalidPoolIndex past either
// end, so a loop can test IsValid() without special-casing head/tail.
func (l *List[T]) Next(idx PoolIndex) PoolIndex { return l.pool.Get(idx).next }
func (l *List[T]) Prev(idx PoolIndex) PoolIndex { return l.pool.Get(idx).prev }

// Value returns a copy of the value stored at idx (the "const" accessor).
func (l *List[T]) Value(idx PoolIndex) T { return l.pool.Get(idx).value }

// SetValue overwrites the value stored at idx without touching links.
func (l *List[T]) SetValue(idx PoolIndex, value T) {
	l.pool.Mutate(idx, func(n *listNode[T]) { n.value = value })
}

// PushBack appends value and returns its node index.
func (l *List[T]) PushBack(value T) PoolIndex {
	idx := l.pool.Alloc(listNode[T]{value: value, prev: l.tail, next: InvalidPoolIndex})
	if l.tail.IsValid() {
		l.pool.Mutate(l.tail, func(n *listNode[T]) { n.next = idx })
	} else {
		l.head = idx
	}
	l.tail = idx
	l.length++
	return idx
}

// PushFront prepends value and returns its node index.
func (l *List[T]) PushFront(value T) PoolIndex {
	idx := l.pool.Alloc(listNode[T]{value: value, prev: InvalidPoolIndex, next: l.head})
	if l.head.IsValid() {
		l.pool.Mutate(l.head, func(n *listNode[T]) { n.prev = idx })
	} else {
		l.tail = idx
	}
	l.head = idx
	l.length++
	return idx
}

// Remove unlinks and frees the node at idx.
func (l *List[T]) Remove(idx PoolIndex) {
	n := l.pool.Get(idx)
	if n.prev.IsValid() {
		l.pool.Mutate(n.prev, func(p *listNode[T]) { p.next = n.next })
	} else {
		l.head = n.next
	}
	if n.next.IsValid() {
		l.pool.Mutate(n.next, func(nx *listNode[T]) { nx.prev = n.prev })
	} else {
		l.tail = n.prev
	}
	l.pool.Free(idx)
	l.length--
}

// Forward iterates values from front to back.
func (l *List[T]) Forward() iter.Seq[T] {
	return func(yield func(T) bool) {
		for idx := l.head; idx.IsValid(); idx = l.Next(idx) {
			if !yield(l.Value(idx)) {
				return
			}
		}
	}
}

// Backward iterates values from back to front.
func (l *List[T]) Backward() iter.Seq[T] {
	return func(yield func(T) bool) {
		for idx := l.tail; idx.IsValid(); idx = l.Prev(idx) {
			if !yield(l.Value(idx)) {
				return
			}
		}
	}
}
