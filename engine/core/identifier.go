package core

import (
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

// HandleTable hands out small non-zero identifiers for owned values and
// reuses released slots. Identifier 0 is never issued so it can stand for a
// null handle.
type HandleTable[T any] struct {
	mu    sync.RWMutex
	slots []handleSlot[T]
	live  int
}

type handleSlot[T any] struct {
	value T
	used  bool
}

func NewHandleTable[T any]() *HandleTable[T] {
	return &HandleTable[T]{}
}

func (ht *HandleTable[T]) Acquire(owner T) uint64 {
	ht.mu.Lock()
	defer ht.mu.Unlock()

	ht.live++
	for i := range ht.slots {
		// Existing free spot. Take it.
		if !ht.slots[i].used {
			ht.slots[i] = handleSlot[T]{value: owner, used: true}
			return uint64(i) + 1
		}
	}
	ht.slots = append(ht.slots, handleSlot[T]{value: owner, used: true})
	return uint64(len(ht.slots))
}

func (ht *HandleTable[T]) Get(id uint64) (T, bool) {
	ht.mu.RLock()
	defer ht.mu.RUnlock()

	var zero T
	if id == 0 || id > uint64(len(ht.slots)) {
		return zero, false
	}
	s := ht.slots[id-1]
	if !s.used {
		return zero, false
	}
	return s.value, true
}

func (ht *HandleTable[T]) Release(id uint64) (T, error) {
	ht.mu.Lock()
	defer ht.mu.Unlock()

	var zero T
	if id == 0 || id > uint64(len(ht.slots)) || !ht.slots[id-1].used {
		return zero, errors.Wrapf(ErrUnknownResource, "release of unknown handle %d", id)
	}
	v := ht.slots[id-1].value
	ht.slots[id-1] = handleSlot[T]{}
	ht.live--
	return v, nil
}

func (ht *HandleTable[T]) Len() int {
	ht.mu.RLock()
	defer ht.mu.RUnlock()
	return ht.live
}

func Clamp[T constraints.Ordered](value, min, max T) T {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
