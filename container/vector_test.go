package container

import "testing"

func lessInt(a, b int) bool { return a < b }

func TestVectorInsertSortedMaintainsOrder(t *testing.T) {
	v := NewVector(lessInt)
	for _, n := range []int{5, 1, 4, 2, 3} {
		v.InsertSorted(n)
	}
	want := []int{1, 2, 3, 4, 5}
	if v.Len() != len(want) {
		t.Fatalf("Len() = %d, want %d", v.Len(), len(want))
	}
	for i, w := range want {
		if got := v.At(i); got != w {
			t.Fatalf("At(%d) = %d, want %d", i, got, w)
		}
	}
}

func TestVectorRemoveSorted(t *testing.T) {
	v := NewVector(lessInt)
	for _, n := range []int{1, 2, 2, 3} {
		v.InsertSorted(n)
	}
	eq := func(a, b int) bool { return a == b }
	if !v.RemoveSorted(2, eq) {
		t.Fatal("RemoveSorted(2) = false, want true")
	}
	if v.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", v.Len())
	}
	if v.RemoveSorted(99, eq) {
		t.Fatal("RemoveSorted(99) = true, want false")
	}
}

func TestVectorPushBackAndRemoveAt(t *testing.T) {
	v := NewVector(lessInt)
	v.PushBack(10)
	v.PushBack(20)
	v.PushBack(30)
	v.RemoveAt(1)
	if v.Len() != 2 || v.At(0) != 10 || v.At(1) != 30 {
		t.Fatalf("unexpected contents after RemoveAt: %v", v.Slice())
	}
}

func TestVectorSwap(t *testing.T) {
	v := NewVector(lessInt)
	v.PushBack(1)
	v.PushBack(2)
	v.Swap(0, 1)
	if v.At(0) != 2 || v.At(1) != 1 {
		t.Fatalf("Swap did not exchange elements: %v", v.Slice())
	}
}
