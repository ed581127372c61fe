package idb

import "sync"

// keyAllocator hands out the keys of one collection. The lock is held from
// allocation until the write commits, so a key is only consumed by a
// committed record.
type keyAllocator struct {
	mu   sync.Mutex
	next Key
}

func (a *keyAllocator) reset(next Key) {
	a.mu.Lock()
	a.next = next
	a.mu.Unlock()
}

// allocate locks the allocator and returns the candidate key. The caller must
// call release, passing whether the key was committed.
func (a *keyAllocator) allocate() Key {
	a.mu.Lock()
	return a.next
}

func (a *keyAllocator) release(committed bool) {
	if committed {
		a.next++
	}
	a.mu.Unlock()
}

// peek returns the next key without reserving it.
func (a *keyAllocator) peek() Key {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}
