// Package index keeps an in-memory mirror of every account's identity, one
// entry reachable by public id, name and email. It is the authority for
// "does this name or email already exist" checks and for the ordered id list
// the admin listing pages over.
package index

import (
	"sync"
	"time"

	"memberd/internal/model"
)

type Index struct {
	mu         sync.RWMutex
	byID       map[string]*model.Identity
	byName     map[string]*model.Identity
	byEmail    map[string]*model.Identity
	order      []string
	generation int64
}

func New() *Index {
	return &Index{
		byID:    make(map[string]*model.Identity),
		byName:  make(map[string]*model.Identity),
		byEmail: make(map[string]*model.Identity),
	}
}

// Lookup resolves a public id, name or email to the identity entry. All
// three keys of the same account resolve to the same entry; entries are
// never mutated after insertion, so the returned pointer is safe to share.
func (x *Index) Lookup(key string) (*model.Identity, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if entry, ok := x.byID[key]; ok {
		return entry, true
	}
	if entry, ok := x.byName[key]; ok {
		return entry, true
	}
	if entry, ok := x.byEmail[key]; ok {
		return entry, true
	}
	return nil, false
}

// Upsert binds an identity under all three keys as one atomic step. Any
// prior entry for the same public id is unbound first so a rename or email
// change never leaves a stale key behind.
func (x *Index) Upsert(identity model.Identity) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if prev, ok := x.byID[identity.ID]; ok {
		delete(x.byName, prev.Name)
		delete(x.byEmail, prev.Email)
	} else {
		x.order = append(x.order, identity.ID)
	}

	entry := &identity
	x.byID[identity.ID] = entry
	x.byName[identity.Name] = entry
	x.byEmail[identity.Email] = entry
	x.touch()
}

// Remove releases all three key bindings for a public id.
func (x *Index) Remove(publicID string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	entry, ok := x.byID[publicID]
	if !ok {
		return
	}
	delete(x.byID, publicID)
	delete(x.byName, entry.Name)
	delete(x.byEmail, entry.Email)
	for i, id := range x.order {
		if id == publicID {
			x.order = append(x.order[:i], x.order[i+1:]...)
			break
		}
	}
	x.touch()
}

// Generation is the millisecond timestamp of the last mutation, used to
// detect staleness of pagination snapshots. It is strictly monotonic.
func (x *Index) Generation() int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.generation
}

// OrderedIDs returns a copy of the membership order as of now.
func (x *Index) OrderedIDs() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	ids := make([]string, len(x.order))
	copy(ids, x.order)
	return ids
}

// Snapshot returns the generation and the membership order it stamps as one
// consistent pair. Callers capturing a pagination snapshot must use this
// rather than Generation and OrderedIDs separately, or a mutation landing
// between the two reads would file the newer membership under the older
// generation.
func (x *Index) Snapshot() (int64, []string) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	ids := make([]string, len(x.order))
	copy(ids, x.order)
	return x.generation, ids
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.order)
}

func (x *Index) touch() {
	now := time.Now().UnixMilli()
	if now <= x.generation {
		now = x.generation + 1
	}
	x.generation = now
}
