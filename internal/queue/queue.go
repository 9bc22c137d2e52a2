// Package queue holds scrape requests for sequential batch processing.
package queue

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrQueueClosed = errors.New("queue is closed")

type Task struct {
	ID        string
	Input     string
	Priority  int
	Retries   int
	CreatedAt time.Time
}

// NewTask wraps a product link or id for queueing.
func NewTask(input string, priority int) *Task {
	return &Task{
		ID:        uuid.NewString(),
		Input:     input,
		Priority:  priority,
		CreatedAt: time.Now(),
	}
}

type Queue interface {
	Push(task *Task) error
	Pop(ctx context.Context) (*Task, error)
	Size() int
	Close() error
}

// InMemoryQueue pops the highest priority first and keeps insertion order
// among equal priorities.
type InMemoryQueue struct {
	tasks  []*Task
	mu     sync.Mutex
	notify chan struct{}
	closed bool
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{notify: make(chan struct{})}
}

func (q *InMemoryQueue) Push(task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.tasks = append(q.tasks, task)
	slices.SortStableFunc(q.tasks, func(a, b *Task) int {
		return b.Priority - a.Priority
	})

	close(q.notify)
	q.notify = make(chan struct{})
	return nil
}

// Pop blocks until a task is available. After Close it drains the remaining
// tasks and then returns ErrQueueClosed.
func (q *InMemoryQueue) Pop(ctx context.Context) (*Task, error) {
	for {
		q.mu.Lock()
		if len(q.tasks) > 0 {
			task := q.tasks[0]
			q.tasks = q.tasks[1:]
			q.mu.Unlock()
			return task, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		wait := q.notify
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

func (q *InMemoryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.notify)
	}
	return nil
}
