package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repolens/repolens/internal/models"
)

func TestInflightReserveIsAtomic(t *testing.T) {
	registry := newInflightRegistry()

	const contenders = 32
	var wg sync.WaitGroup
	inserted := make([]bool, contenders)
	observed := make([]string, contenders)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry, ok := registry.reserve("code-review|octocat/hello-world")
			inserted[i] = ok
			if ok {
				entry.publish("job_winner")
				observed[i] = "job_winner"
				return
			}
			id, err := entry.await(context.Background())
			assert.NoError(t, err)
			observed[i] = id
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < contenders; i++ {
		if inserted[i] {
			winners++
		}
	}
	require.Equal(t, 1, winners, "exactly one reserve may insert")
	for i := 0; i < contenders; i++ {
		assert.Equal(t, "job_winner", observed[i], "every contender observes the winner")
	}
	assert.Equal(t, 1, registry.size())
}

func TestInflightAwaitBlocksUntilPublish(t *testing.T) {
	registry := newInflightRegistry()

	entry, inserted := registry.reserve("k")
	require.True(t, inserted)

	waiter, inserted := registry.reserve("k")
	require.False(t, inserted)

	// Await must not resolve before the winner publishes
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	_, err := waiter.await(ctx)
	cancel()
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	entry.publish("job_1")

	id, err := waiter.await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "job_1", id)
}

func TestInflightFailedWinnerAllowsRetry(t *testing.T) {
	registry := newInflightRegistry()

	entry, inserted := registry.reserve("k")
	require.True(t, inserted)

	waiter, inserted := registry.reserve("k")
	require.False(t, inserted)

	entry.fail(models.NewFailure(models.FailureInternal, "save failed"))
	registry.release("k")

	_, err := waiter.await(context.Background())
	require.Error(t, err)

	// The key is free again, so the waiter can win it
	_, inserted = registry.reserve("k")
	assert.True(t, inserted)
}

func TestInflightReleaseSignalsWaiters(t *testing.T) {
	registry := newInflightRegistry()

	entry, inserted := registry.reserve("k")
	require.True(t, inserted)
	entry.publish("job_1")

	go registry.release("k")

	select {
	case <-entry.done:
	case <-time.After(5 * time.Second):
		t.Fatal("release never signalled")
	}
	assert.Equal(t, 0, registry.size())

	// The key is reusable after release
	_, inserted = registry.reserve("k")
	assert.True(t, inserted)
}

func TestInflightDistinctKeysDoNotCollide(t *testing.T) {
	registry := newInflightRegistry()

	_, first := registry.reserve("code-review|a/b")
	_, second := registry.reserve("bug-detection|a/b")
	_, third := registry.reserve("code-review|a/c")

	assert.True(t, first)
	assert.True(t, second)
	assert.True(t, third)
	assert.Equal(t, 3, registry.size())
}
