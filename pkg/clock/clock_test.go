package clock

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEpochIsFixed(t *testing.T) {
	c := New(math.Inf(1))
	assert.True(t, c.Now().Equal(Epoch))
}

func TestAdvanceReleasesDueWaitersInDeadlineOrder(t *testing.T) {
	c := New(math.Inf(1))
	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	deadlines := []time.Duration{30 * time.Minute, 10 * time.Minute, 20 * time.Minute}
	for i, d := range deadlines {
		wg.Add(1)
		go func(i int, d time.Duration) {
			defer wg.Done()
			err := c.SleepUntil(context.Background(), Epoch.Add(d))
			require.NoError(t, err)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}(i, d)
	}

	// Give goroutines a chance to register as waiters before advancing.
	for c.PendingWaiters() < 3 {
		time.Sleep(time.Millisecond)
	}
	c.Advance(time.Hour)
	wg.Wait()

	// Release order must follow deadline order (10, 20, 30 min), i.e.
	// indices 1, 2, 0.
	assert.Equal(t, []int{1, 2, 0}, order)
}

func TestSleepUntilReturnsImmediatelyWhenDeadlineAlreadyPassed(t *testing.T) {
	c := New(math.Inf(1))
	c.Advance(time.Hour)
	err := c.SleepUntil(context.Background(), Epoch.Add(time.Minute))
	assert.NoError(t, err)
}

func TestSleepUntilRespectsContextCancellation(t *testing.T) {
	c := New(math.Inf(1))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- c.SleepUntil(ctx, Epoch.Add(time.Hour))
	}()

	for c.PendingWaiters() < 1 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("SleepUntil did not return after cancellation")
	}
	assert.Equal(t, 0, c.PendingWaiters())
}

func TestAdvanceToNextWaiterJumpsToEarliestDeadline(t *testing.T) {
	c := New(math.Inf(1))
	done := make(chan struct{})
	go func() {
		_ = c.SleepUntil(context.Background(), Epoch.Add(5*time.Minute))
		close(done)
	}()
	for c.PendingWaiters() < 1 {
		time.Sleep(time.Millisecond)
	}

	advanced := c.AdvanceToNextWaiter()
	assert.True(t, advanced)
	<-done
	assert.True(t, c.Now().Equal(Epoch.Add(5*time.Minute)))

	assert.False(t, c.AdvanceToNextWaiter())
}

func TestAdvanceNeverRewinds(t *testing.T) {
	c := New(math.Inf(1))
	c.Advance(time.Hour)
	c.Advance(-time.Minute)
	assert.True(t, c.Now().Equal(Epoch.Add(time.Hour)))
}

func TestIsInfinite(t *testing.T) {
	assert.True(t, New(math.Inf(1)).IsInfinite())
	assert.False(t, New(144).IsInfinite())
}

func TestStartStopPacingAdvancesOnFiniteAlpha(t *testing.T) {
	c := New(3600) // 1 real second == 1 simulated hour
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartPacing(ctx, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	c.StopPacing()
	assert.True(t, c.Now().After(Epoch))
}

func TestStartPacingNoopOnInfiniteClock(t *testing.T) {
	c := New(math.Inf(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartPacing(ctx, time.Millisecond)
	c.StopPacing() // must not block or panic even though pacing never started
	assert.True(t, c.Now().Equal(Epoch))
}
