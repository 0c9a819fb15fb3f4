package records

import "sync"

// keyedMutex serializes writers per record key. Entries are reference
// counted so the map does not grow with the number of records ever touched.
type keyedMutex struct {
	mu   sync.Mutex
	held map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{held: make(map[string]*keyedLock)}
}

// lock blocks until the key is exclusively held and returns the release func.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	entry := k.held[key]
	if entry == nil {
		entry = &keyedLock{}
		k.held[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.held, key)
		}
		k.mu.Unlock()
	}
}
