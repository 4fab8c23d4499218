package container

import "testing"

type intrusiveItem struct {
	IntrusiveLinks
	value int
}

func itemLinks(v *intrusiveItem) *IntrusiveLinks { return &v.IntrusiveLinks }

func TestIntrusiveListPushBackAndEach(t *testing.T) {
	pool := NewPoolAllocator[intrusiveItem](4)
	list := NewIntrusiveList(pool, itemLinks)

	idxs := make([]PoolIndex, 0, 3)
	for _, v := range []int{1, 2, 3} {
		idx := pool.Alloc(intrusiveItem{value: v})
		list.PushBack(idx)
		idxs = append(idxs, idx)
	}

	var got []int
	list.Each(func(idx PoolIndex) { got = append(got, pool.Get(idx).value) })
	want := []int{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Each order = %v, want %v", got, want)
		}
	}
	if list.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", list.Len())
	}
}

func TestIntrusiveListRemoveMiddle(t *testing.T) {
	pool := NewPoolAllocator[intrusiveItem](4)
	list := NewIntrusiveList(pool, itemLinks)

	a := pool.Alloc(intrusiveItem{value: 1})
	b := pool.Alloc(intrusiveItem{value: 2})
	c := pool.Alloc(intrusiveItem{value: 3})
	list.PushBack(a)
	list.PushBack(b)
	list.PushBack(c)

	list.Remove(b)

	var got []int
	list.Each(func(idx PoolIndex) { got = append(got, pool.Get(idx).value) })
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("Each after Remove = %v, want [1 3]", got)
	}
	if list.Front() != a || list.Back() != c {
		t.Fatal("Front/Back not updated correctly after removing middle element")
	}
}
