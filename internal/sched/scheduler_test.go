// ABOUTME: Tests for the priority scheduler covering ordering and concurrency.
// ABOUTME: Pins down FIFO among equal priorities and the bounded in-flight gate.

package sched

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunNext_PriorityOrder(t *testing.T) {
	s := New(4, nil)

	var order []string
	var mu sync.Mutex
	record := func(name string) RunFunc {
		return func(ctx context.Context) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return name, nil
		}
	}

	s.Schedule(record("low"), "t-low", 5, nil)
	s.Schedule(record("urgent"), "t-urgent", 1, nil)
	s.Schedule(record("mid"), "t-mid", 3, nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.RunNext(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"urgent", "mid", "low"}, order)
	assert.Equal(t, 0, s.PendingCount())
}

func TestRunNext_EmptyQueue(t *testing.T) {
	s := New(1, nil)
	_, err := s.RunNext(context.Background())
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestRunNext_PropagatesTaskError(t *testing.T) {
	s := New(1, nil)
	boom := errors.New("boom")
	s.Schedule(func(ctx context.Context) (any, error) { return nil, boom }, "t-1", 1, nil)

	_, err := s.RunNext(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestEqualPriorities_RunFIFO(t *testing.T) {
	s := New(1, nil)

	var order []int
	for i := 0; i < 10; i++ {
		i := i
		s.Schedule(func(ctx context.Context) (any, error) {
			order = append(order, i)
			return nil, nil
		}, "t", 5, nil)
	}

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := s.RunNext(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestRunAll_CollectsErrorsAsValues(t *testing.T) {
	s := New(2, nil)
	boom := errors.New("boom")

	s.Schedule(func(ctx context.Context) (any, error) { return "ok-1", nil }, "t-1", 1, nil)
	s.Schedule(func(ctx context.Context) (any, error) { return nil, boom }, "t-2", 2, nil)
	s.Schedule(func(ctx context.Context) (any, error) { return "ok-3", nil }, "t-3", 3, nil)

	results := s.RunAll(context.Background())
	require.Len(t, results, 3)

	assert.Equal(t, "ok-1", results[0].Value)
	assert.ErrorIs(t, results[1].Err, boom)
	assert.Equal(t, "ok-3", results[2].Value, "a failing sibling must not cancel other tasks")
	assert.Equal(t, 0, s.PendingCount())
}

func TestRunAll_BoundsConcurrency(t *testing.T) {
	const limit = 3
	s := New(limit, nil)

	var inFlight, peak atomic.Int64
	for i := 0; i < 12; i++ {
		s.Schedule(func(ctx context.Context) (any, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return nil, nil
		}, "t", 5, nil)
	}

	s.RunAll(context.Background())
	assert.LessOrEqual(t, peak.Load(), int64(limit))
}

func TestSchedule_MetadataAndPendingCount(t *testing.T) {
	s := New(1, nil)
	s.Schedule(func(ctx context.Context) (any, error) { return nil, nil }, "t-1", 5,
		map[string]string{"agent_type": "frequency"})

	assert.Equal(t, 1, s.PendingCount())

	s.Clear()
	assert.Equal(t, 0, s.PendingCount())
}
