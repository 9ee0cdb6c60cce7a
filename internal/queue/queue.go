// ABOUTME: Single-consumer FIFO task queue for agent-side command execution
// ABOUTME: Runs one task at a time with a fixed cooldown between tasks

package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultCooldown is the pause between two tasks, giving the target UI time
// to settle after a change.
const DefaultCooldown = 500 * time.Millisecond

// Kind distinguishes the two units of work an agent executes.
type Kind string

const (
	KindExecute Kind = "execute"
	KindStop    Kind = "stop"
)

// Task is one queued unit of work.
type Task struct {
	Kind       Kind
	Code       string
	Comment    string
	EnqueuedAt time.Time
}

// Text returns the content to place in the editor: the comment line, if
// any, followed by the code.
func (t Task) Text() string {
	if t.Comment == "" {
		return t.Code
	}
	return t.Comment + "\n" + t.Code
}

// Processor executes a single task and reports its outcome itself.
type Processor func(ctx context.Context, task Task)

// Queue serializes task execution. Enqueue may be called from any goroutine;
// tasks are processed by the single goroutine running Run.
type Queue struct {
	mu       sync.Mutex
	tasks    []Task
	wake     chan struct{}
	process  Processor
	cooldown time.Duration
	logger   *slog.Logger
}

// New creates a Queue. A negative cooldown is treated as zero. Pass nil
// logger for default.
func New(process Processor, cooldown time.Duration, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if cooldown < 0 {
		cooldown = 0
	}
	return &Queue{
		wake:     make(chan struct{}, 1),
		process:  process,
		cooldown: cooldown,
		logger:   logger.With("component", "queue"),
	}
}

// Enqueue appends a task to the tail and wakes the consumer.
func (q *Queue) Enqueue(task Task) {
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now()
	}

	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	depth := len(q.tasks)
	q.mu.Unlock()

	q.logger.Debug("task enqueued", "kind", task.Kind, "depth", depth)

	select {
	case q.wake <- struct{}{}:
	default:
		// A wake-up is already pending.
	}
}

// Len returns the number of tasks waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Run drains the queue until ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.wake:
		}
		if err := q.drain(ctx); err != nil {
			return err
		}
	}
}

func (q *Queue) drain(ctx context.Context) error {
	for {
		task, ok := q.pop()
		if !ok {
			return nil
		}

		q.logger.Debug("task started", "kind", task.Kind, "waited", time.Since(task.EnqueuedAt))
		q.process(ctx, task)

		if err := sleep(ctx, q.cooldown); err != nil {
			return err
		}
	}
}

func (q *Queue) pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return Task{}, false
	}
	task := q.tasks[0]
	q.tasks[0] = Task{}
	q.tasks = q.tasks[1:]
	return task, true
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
