package index

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"memberd/internal/model"
)

func alice() model.Identity {
	return model.Identity{ID: "Uaaaab", Name: "alice", Email: "alice@example.com", Avatar: "http://a"}
}

func TestLookup(t *testing.T) {
	assert := assert.New(t)

	x := New()
	x.Upsert(alice())

	t.Run("all three keys resolve to the same entry", func(t *testing.T) {
		byID, ok := x.Lookup("Uaaaab")
		assert.True(ok)
		byName, ok := x.Lookup("alice")
		assert.True(ok)
		byEmail, ok := x.Lookup("alice@example.com")
		assert.True(ok)

		assert.Same(byID, byName)
		assert.Same(byID, byEmail)
	})

	t.Run("unknown keys are absent", func(t *testing.T) {
		_, ok := x.Lookup("bob")
		assert.False(ok)
	})
}

func TestUpsert(t *testing.T) {
	assert := assert.New(t)

	t.Run("rebinding releases stale keys", func(t *testing.T) {
		x := New()
		x.Upsert(alice())

		renamed := alice()
		renamed.Name = "alicia"
		renamed.Email = "alicia@example.com"
		x.Upsert(renamed)

		_, ok := x.Lookup("alice")
		assert.False(ok)
		_, ok = x.Lookup("alice@example.com")
		assert.False(ok)

		entry, ok := x.Lookup("alicia")
		assert.True(ok)
		assert.Equal("Uaaaab", entry.ID)
		assert.Equal(1, x.Len())
	})

	t.Run("generation advances on every mutation", func(t *testing.T) {
		x := New()
		x.Upsert(alice())
		g1 := x.Generation()
		x.Upsert(model.Identity{ID: "Uaaaac", Name: "bob", Email: "bob@example.com"})
		g2 := x.Generation()
		assert.Greater(g2, g1)

		x.Remove("Uaaaac")
		assert.Greater(x.Generation(), g2)
	})

	t.Run("membership order appends new ids", func(t *testing.T) {
		x := New()
		x.Upsert(alice())
		x.Upsert(model.Identity{ID: "Uaaaac", Name: "bob", Email: "bob@example.com"})
		assert.Equal([]string{"Uaaaab", "Uaaaac"}, x.OrderedIDs())

		// rebinding an existing id keeps its position
		x.Upsert(alice())
		assert.Equal([]string{"Uaaaab", "Uaaaac"}, x.OrderedIDs())
	})
}

func TestRemove(t *testing.T) {
	assert := assert.New(t)

	x := New()
	x.Upsert(alice())
	x.Remove("Uaaaab")

	for _, key := range []string{"Uaaaab", "alice", "alice@example.com"} {
		_, ok := x.Lookup(key)
		assert.False(ok, key)
	}
	assert.Equal(0, x.Len())
	assert.Empty(x.OrderedIDs())

	// removing an absent id is a no-op
	x.Remove("Uaaaab")
	assert.Equal(0, x.Len())
}

func TestSnapshot(t *testing.T) {
	assert := assert.New(t)

	t.Run("generation and membership move together", func(t *testing.T) {
		x := New()
		x.Upsert(alice())

		g1, ids1 := x.Snapshot()
		assert.Equal(x.Generation(), g1)
		assert.Equal([]string{"Uaaaab"}, ids1)

		x.Upsert(model.Identity{ID: "Uaaaac", Name: "bob", Email: "bob@example.com"})
		g2, ids2 := x.Snapshot()
		assert.Greater(g2, g1)
		assert.Len(ids2, 2)

		// the earlier snapshot is unaffected by the later mutation
		assert.Equal([]string{"Uaaaab"}, ids1)
	})

	t.Run("a concurrent mutation never lands under an older generation", func(t *testing.T) {
		x := New()

		type capture struct {
			generation int64
			size       int
		}
		captures := make([]capture, 0, 2000)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 2000; i++ {
				g, ids := x.Snapshot()
				captures = append(captures, capture{g, len(ids)})
			}
		}()

		for i := 0; i < 200; i++ {
			x.Upsert(model.Identity{
				ID:    fmt.Sprintf("Uaaa%c%c", 'a'+i/26, 'a'+i%26),
				Name:  fmt.Sprintf("user-%d", i),
				Email: fmt.Sprintf("user-%d@example.com", i),
			})
		}
		<-done

		// with inserts only, membership can never shrink as the generation
		// advances, and equal generations must agree on membership
		for i := 1; i < len(captures); i++ {
			prev, cur := captures[i-1], captures[i]
			assert.GreaterOrEqual(cur.generation, prev.generation)
			if cur.generation == prev.generation {
				assert.Equal(prev.size, cur.size)
			} else {
				assert.GreaterOrEqual(cur.size, prev.size)
			}
		}
	})
}

func TestConcurrentAccess(t *testing.T) {
	assert := assert.New(t)

	x := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := fmt.Sprintf("Uaaa%c%c", 'a'+n, 'a'+j%26)
				x.Upsert(model.Identity{
					ID:    id,
					Name:  fmt.Sprintf("user-%d-%d", n, j%26),
					Email: fmt.Sprintf("user-%d-%d@example.com", n, j%26),
				})
			}
		}(i)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if entry, ok := x.Lookup(fmt.Sprintf("user-%d-%d", n, j%26)); ok {
					// a lookup must never see a partially bound entry
					other, ok := x.Lookup(entry.Email)
					assert.True(ok)
					assert.Equal(entry.ID, other.ID)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(8*26, x.Len())
}
