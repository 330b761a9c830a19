package freelist

//
// A fixed-capacity free list of slot indices. Slots come back out in
// LIFO order, and a fresh list hands out the lowest index first. The
// caller is responsible for concurrency control.
//

type FreeList[T ~int | ~int32 | ~int64] struct {
	freelist []T
	free     []bool
}

// NewFreeList returns a list holding slots 0..sz-1.
func NewFreeList[T ~int | ~int32 | ~int64](sz int) *FreeList[T] {
	fl := &FreeList[T]{
		freelist: make([]T, 0, sz),
		free:     make([]bool, sz),
	}
	for i := sz - 1; i >= 0; i-- {
		fl.freelist = append(fl.freelist, T(i))
		fl.free[i] = true
	}
	return fl
}

func (fl *FreeList[T]) Len() int {
	return len(fl.freelist)
}

func (fl *FreeList[T]) Cap() int {
	return cap(fl.freelist)
}

// IsFree reports whether slot i is on the list.
func (fl *FreeList[T]) IsFree(i T) bool {
	return int(i) >= 0 && int(i) < len(fl.free) && fl.free[int(i)]
}

func (fl *FreeList[T]) Alloc() (T, bool) {
	index := len(fl.freelist) - 1
	if index < 0 {
		return 0, false
	}
	e := fl.freelist[index]
	fl.freelist = fl.freelist[:index]
	fl.free[int(e)] = false
	return e, true
}

// Free returns slot e to the list; freeing a free slot is a no-op that
// returns false.
func (fl *FreeList[T]) Free(e T) bool {
	if int(e) < 0 || int(e) >= len(fl.free) || fl.free[int(e)] {
		return false
	}
	fl.free[int(e)] = true
	fl.freelist = append(fl.freelist, e)
	return true
}
