package steam

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_SpacesCalls(t *testing.T) {
	g := NewGate(100 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, g.Wait(ctx))
	require.NoError(t, g.Wait(ctx))
	require.NoError(t, g.Wait(ctx))
	elapsed := time.Since(start)

	// Two gaps of at least 100ms each.
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
}

func TestGate_ConcurrentCallersKeepInterval(t *testing.T) {
	g := NewGate(50 * time.Millisecond)
	ctx := context.Background()

	var mu sync.Mutex
	var times []time.Time
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, g.Wait(ctx))
			mu.Lock()
			times = append(times, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, times, 4)
	for i := range times {
		for j := range times {
			if i == j {
				continue
			}
			gap := times[i].Sub(times[j])
			if gap < 0 {
				gap = -gap
			}
			assert.GreaterOrEqual(t, gap, 40*time.Millisecond,
				"calls %d and %d finished %v apart", i, j, gap)
		}
	}
}

func TestGate_Disabled(t *testing.T) {
	g := NewGate(0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, g.Wait(ctx))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestGate_CanceledContext(t *testing.T) {
	g := NewGate(time.Hour)
	require.NoError(t, g.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
