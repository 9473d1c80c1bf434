package locker

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type entry struct {
	mu   sync.Mutex
	refs int
}

// Keyed serializes work per bridge id. Entries are dropped once nobody
// holds or waits for them.
type Keyed struct {
	mu      sync.Mutex
	entries map[common.Hash]*entry
}

func New() *Keyed {
	return &Keyed{entries: make(map[common.Hash]*entry)}
}

// Lock blocks until id is free and returns the matching unlock.
func (k *Keyed) Lock(id common.Hash) (unlock func()) {
	k.mu.Lock()
	e, ok := k.entries[id]
	if !ok {
		e = &entry{}
		k.entries[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			k.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(k.entries, id)
			}
			k.mu.Unlock()
		})
	}
}

// Len is the number of ids currently locked or waited on.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
