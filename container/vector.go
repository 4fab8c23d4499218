package container

import "sort"

// Vector is a contiguous, growable slice of comparable-by-less values, with
// sorted insert/remove via binary search. It is a thin wrapper: ordinary
// Go slices already grow geometrically on append, so there is no need to
// reimplement the teacher's explicit capacity-doubling — InsertSorted and
// RemoveSorted are the part worth a named type.
type Vector[T any] struct {
	items []T
	less  func(a, b T) bool
}

// NewVector returns an empty Vector ordered by less.
func NewVector[T any](less func(a, b T) bool) *Vector[T] {
	return &Vector[T]{less: less}
}

// Len returns the number of elements.
func (v *Vector[T]) Len() int { return len(v.items) }

// At returns the element at position i.
func (v *Vector[T]) At(i int) T { return v.items[i] }

// Set overwrites the element at position i.
func (v *Vector[T]) Set(i int, value T) { v.items[i] = value }

// Slice exposes the backing slice for read-only iteration; callers must not
// retain it across a mutating call.
func (v *Vector[T]) Slice() []T { return v.items }

// PushBack appends an element without maintaining sort order.
func (v *Vector[T]) PushBack(value T) { v.items = append(v.items, value) }

// RemoveAt deletes the element at position i, preserving order.
func (v *Vector[T]) RemoveAt(i int) {
	v.items = append(v.items[:i], v.items[i+1:]...)
}

// Swap exchanges the elements at i and j, for callers that do their own
// incremental single-swap bubble passes.
func (v *Vector[T]) Swap(i, j int) { v.items[i], v.items[j] = v.items[j], v.items[i] }

// InsertSorted inserts value at the position given by v's less function,
// via binary search, and returns that position.
func (v *Vector[T]) InsertSorted(value T) int {
	i := sort.Search(len(v.items), func(i int) bool { return !v.less(v.items[i], value) })
	v.items = append(v.items, value)
	copy(v.items[i+1:], v.items[i:])
	v.items[i] = value
	return i
}

// RemoveSorted deletes the first element equal to value under eq, locating
// it via binary search on v's less function (so eq only needs to break ties
// among equally-ordered elements).
func (v *Vector[T]) RemoveSorted(value T, eq func(a, b T) bool) bool {
	lo := sort.Search(len(v.items), func(i int) bool { return !v.less(v.items[i], value) })
	for i := lo; i < len(v.items) && !v.less(value, v.items[i]); i++ {
		if eq(v.items[i], value) {
			v.RemoveAt(i)
			return true
		}
	}
	return false
}

// SortStable re-sorts the entire vector by less. The root package's block
// vector does not use it: blockVector keeps its own block slice and sorts
// it in blockVector.incrementalSort and SortByFreeSizeAscending.
func (v *Vector[T]) SortStable() {
	sort.SliceStable(v.items, func(i, j int) bool { return v.less(v.items[i], v.items[j]) })
}
