package correlate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingResolveOnce(t *testing.T) {
	p := NewPending[int]()

	assert.True(t, p.Resolve(1))
	assert.False(t, p.Resolve(2))

	v, err := p.Await(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestPendingConcurrentResolveHasOneWinner(t *testing.T) {
	p := NewPending[int]()

	const goroutines = 32
	var wg sync.WaitGroup
	results := make([]bool, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = p.Resolve(i)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, won := range results {
		if won {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
	assert.True(t, p.Resolved())
}

func TestPendingAwaitTimeout(t *testing.T) {
	p := NewPending[string]()

	start := time.Now()
	_, err := p.Await(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestPendingAwaitContextCancelled(t *testing.T) {
	p := NewPending[string]()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Await(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPendingAwaitUnblocksOnResolve(t *testing.T) {
	p := NewPending[string]()

	go func() {
		time.Sleep(10 * time.Millisecond)
		p.Resolve("done")
	}()

	v, err := p.Await(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestPendingLateResolveKeepsFirstValue(t *testing.T) {
	p := NewPending[int]()

	p.Resolve(7)
	p.Resolve(8)
	p.Resolve(9)

	v, err := p.Await(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}
