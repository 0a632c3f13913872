package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewDefaults(t *testing.T) {
	g := New(0, -1)
	assert.Equal(t, DefaultMaxConcurrent, g.MaxConcurrent())
	assert.Equal(t, DefaultStagger, g.Stagger())
}

func TestBoundsConcurrency(t *testing.T) {
	g := New(3, 0)
	var current, peak atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.Do(context.Background(), func(ctx context.Context) error {
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				current.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Equal(t, 0, g.InFlight())
}

func TestStaggersAdmissions(t *testing.T) {
	const stagger = 60 * time.Millisecond
	g := New(10, stagger)

	var mu sync.Mutex
	var admitted []time.Time
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, g.Acquire(context.Background()))
			mu.Lock()
			admitted = append(admitted, time.Now())
			mu.Unlock()
			g.Release()
		}()
	}
	wg.Wait()

	require.Len(t, admitted, 4)
	first, last := admitted[0], admitted[0]
	for _, at := range admitted {
		if at.Before(first) {
			first = at
		}
		if at.After(last) {
			last = at
		}
	}
	// four admissions need at least three stagger intervals; allow scheduler jitter
	assert.GreaterOrEqual(t, last.Sub(first), 3*stagger-15*time.Millisecond)
}

func TestAdmitsInArrivalOrder(t *testing.T) {
	g := New(1, 0)
	require.NoError(t, g.Acquire(context.Background()))

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			require.NoError(t, g.Acquire(context.Background()))
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			g.Release()
		}(i)
		// let waiter i queue before waiter i+1
		time.Sleep(10 * time.Millisecond)
	}
	g.Release()
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestStaggeredAdmissionKeepsArrivalOrder(t *testing.T) {
	g := New(10, 15*time.Millisecond)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			require.NoError(t, g.Acquire(context.Background()))
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}(i)
		// waiter i queues before waiter i+1 but well inside one stagger interval
		time.Sleep(2 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, order)
	assert.Equal(t, 6, g.InFlight())
	for i := 0; i < 6; i++ {
		g.Release()
	}
}

func TestCancelledWaiterHoldsNoSlot(t *testing.T) {
	g := New(1, 0)
	require.NoError(t, g.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, g.InFlight())

	g.Release()
	require.NoError(t, g.Acquire(context.Background()))
	g.Release()
	assert.Equal(t, 0, g.InFlight())
}

func TestCancelDuringStaggerReleasesSlot(t *testing.T) {
	g := New(2, time.Hour)
	require.NoError(t, g.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	assert.ErrorIs(t, g.Acquire(ctx), context.Canceled)
	assert.Equal(t, 1, g.InFlight())
	g.Release()
}

func TestDoPropagatesError(t *testing.T) {
	g := New(1, 0)
	boom := assert.AnError
	err := g.Do(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, g.InFlight())
}
