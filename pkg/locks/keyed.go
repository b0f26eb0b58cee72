// Package locks provides a keyed mutex used to serialize operations that
// touch the same canonical query identity. Requests for distinct queries
// proceed concurrently.
package locks

import "sync"

type Keyed struct {
	mu sync.Mutex
	m  map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyed() *Keyed {
	return &Keyed{m: make(map[string]*entry)}
}

// Lock acquires the critical section for key. The returned func releases
// it; entries are dropped once unreferenced so the map does not grow with
// the identifier space.
func (k *Keyed) Lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.m[key]
	if !ok {
		e = &entry{}
		k.m[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.m, key)
		}
		k.mu.Unlock()
	}
}
