package container

import "testing"

func collect[T any](seq func(func(T) bool)) []T {
	var out []T
	seq(func(v T) bool {
		out = append(out, v)
		return true
	})
	return out
}

func TestListPushBackForwardOrder(t *testing.T) {
	l := NewList[int]()
	l.PushBack(1)
	l.PushBack(2)
	l.PushBack(3)

	got := collect[int](l.Forward())
	want := []int{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("Forward() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Forward() = %v, want %v", got, want)
		}
	}
}

func TestListBackwardOrder(t *testing.T) {
	l := NewList[int]()
	l.PushBack(1)
	l.PushBack(2)
	l.PushBack(3)

	got := collect[int](l.Backward())
	want := []int{3, 2, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Backward() = %v, want %v", got, want)
		}
	}
}

func TestListPushFrontAndRemove(t *testing.T) {
	l := NewList[int]()
	a := l.PushBack(2)
	l.PushFront(1)
	l.PushBack(3)

	l.Remove(a)
	got := collect[int](l.Forward())
	want := []int{1, 3}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("Forward() after Remove = %v, want %v", got, want)
	}
	if l.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", l.Len())
	}
}

func TestListRemoveOnlyElementEmptiesList(t *testing.T) {
	l := NewList[string]()
	idx := l.PushBack("only")
	l.Remove(idx)
	if l.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", l.Len())
	}
	if l.Front().IsValid() || l.Back().IsValid() {
		t.Fatal("Front/Back still valid after removing only element")
	}
}
