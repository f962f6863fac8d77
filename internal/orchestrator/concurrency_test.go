package orchestrator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConcurrencyGuard_AcquireUpToLimit(t *testing.T) {
	g := newConcurrencyGuard()

	_, ok1 := g.Acquire("session:1", 2)
	_, ok2 := g.Acquire("session:1", 2)
	_, ok3 := g.Acquire("session:1", 2)

	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.False(t, ok3, "third acquire should be refused at the cap of 2")
}

func TestConcurrencyGuard_ReleaseFreesSlot(t *testing.T) {
	g := newConcurrencyGuard()

	release1, ok1 := g.Acquire("session:1", 1)
	assert.True(t, ok1)

	_, blocked := g.Acquire("session:1", 1)
	assert.False(t, blocked)

	release1()

	_, ok2 := g.Acquire("session:1", 1)
	assert.True(t, ok2, "slot should be free again after release")
}

func TestConcurrencyGuard_ReleaseIsIdempotent(t *testing.T) {
	g := newConcurrencyGuard()
	release, ok := g.Acquire("session:1", 1)
	assert.True(t, ok)

	release()
	release() // must not double-decrement or panic

	_, ok2 := g.Acquire("session:1", 1)
	assert.True(t, ok2)
}

func TestConcurrencyGuard_SessionsAreIndependent(t *testing.T) {
	g := newConcurrencyGuard()
	_, ok1 := g.Acquire("session:a", 1)
	_, ok2 := g.Acquire("session:b", 1)
	assert.True(t, ok1)
	assert.True(t, ok2)
}

func TestConcurrencyGuard_ConcurrentAcquireRespectsLimit(t *testing.T) {
	g := newConcurrencyGuard()
	const limit = 5
	const attempts = 50

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := g.Acquire("shared", limit); ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, granted)
}
