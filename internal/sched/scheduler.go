// ABOUTME: Priority-aware task scheduler with bounded concurrent execution.
// ABOUTME: Lower priority value means higher urgency; equal priorities run FIFO.

package sched

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ErrQueueEmpty is returned by RunNext when there is nothing to run.
var ErrQueueEmpty = errors.New("no pending tasks")

// DefaultMaxConcurrent bounds in-flight executions when no limit is given.
const DefaultMaxConcurrent = 10

// RunFunc is a queued unit of work.
type RunFunc func(ctx context.Context) (any, error)

// Task is one scheduled entry. Tasks are ephemeral: created by Schedule,
// consumed by RunNext or RunAll.
type Task struct {
	Priority    int
	ID          string
	Run         RunFunc
	ScheduledAt time.Time
	Metadata    map[string]string

	// seq is a monotonic tiebreak so equal priorities run in FIFO order.
	seq uint64
}

// Result pairs a drained task with its outcome. Errors are values here: one
// failing task never aborts its siblings.
type Result struct {
	TaskID string
	Value  any
	Err    error
}

// Scheduler holds queued work ordered by urgency and runs it with bounded
// parallelism. The concurrency limit applies across the whole scheduler
// instance, not per priority level.
type Scheduler struct {
	mu   sync.Mutex
	heap taskHeap
	seq  uint64

	maxConcurrent int64
	sem           *semaphore.Weighted
	logger        *slog.Logger
}

// New creates a Scheduler that runs at most maxConcurrent tasks at once.
// Values below 1 fall back to DefaultMaxConcurrent.
func New(maxConcurrent int, logger *slog.Logger) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		maxConcurrent: int64(maxConcurrent),
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
		logger:        logger.With("component", "sched"),
	}
}

// Schedule inserts a task into the queue. Lower priority values run sooner;
// among equal priorities insertion order is preserved.
func (s *Scheduler) Schedule(run RunFunc, taskID string, priority int, metadata map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	heap.Push(&s.heap, &Task{
		Priority:    priority,
		ID:          taskID,
		Run:         run,
		ScheduledAt: time.Now().UTC(),
		Metadata:    metadata,
		seq:         s.seq,
	})
	s.logger.Debug("task scheduled", "task_id", taskID, "priority", priority)
}

// RunNext pops the highest-priority pending task, runs it gated by the
// concurrency limiter, and returns its result. An empty queue returns
// ErrQueueEmpty. The task's own error propagates to the caller.
func (s *Scheduler) RunNext(ctx context.Context) (any, error) {
	s.mu.Lock()
	if s.heap.Len() == 0 {
		s.mu.Unlock()
		return nil, ErrQueueEmpty
	}
	task := heap.Pop(&s.heap).(*Task)
	s.mu.Unlock()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	return task.Run(ctx)
}

// RunAll drains the queue in priority order, executing tasks concurrently up
// to the scheduler's limit, and returns one Result per task in dequeue order.
// Task errors are collected as values, never as aborts.
func (s *Scheduler) RunAll(ctx context.Context) []Result {
	s.mu.Lock()
	tasks := make([]*Task, 0, s.heap.Len())
	for s.heap.Len() > 0 {
		tasks = append(tasks, heap.Pop(&s.heap).(*Task))
	}
	s.mu.Unlock()

	results := make([]Result, len(tasks))
	var g errgroup.Group
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			if err := s.sem.Acquire(ctx, 1); err != nil {
				results[i] = Result{TaskID: task.ID, Err: err}
				return nil
			}
			defer s.sem.Release(1)

			value, err := task.Run(ctx)
			results[i] = Result{TaskID: task.ID, Value: value, Err: err}
			return nil
		})
	}
	g.Wait() //nolint:errcheck // task errors are carried in results
	return results
}

// PendingCount returns the number of queued tasks.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heap.Len()
}

// Clear drops all queued tasks without running them.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heap = s.heap[:0]
}

// taskHeap is a min-heap over (priority, seq).
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*Task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return task
}
