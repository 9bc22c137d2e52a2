package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueue_PriorityThenFIFO(t *testing.T) {
	q := NewInMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Push(NewTask("a", 0)))
	require.NoError(t, q.Push(NewTask("b", 5)))
	require.NoError(t, q.Push(NewTask("c", 0)))
	require.NoError(t, q.Push(NewTask("d", 5)))
	assert.Equal(t, 4, q.Size())

	var got []string
	for range 4 {
		task, err := q.Pop(ctx)
		require.NoError(t, err)
		got = append(got, task.Input)
	}
	assert.Equal(t, []string{"b", "d", "a", "c"}, got)
}

func TestInMemoryQueue_PopWaitsForPush(t *testing.T) {
	q := NewInMemoryQueue()

	done := make(chan *Task)
	go func() {
		task, _ := q.Pop(context.Background())
		done <- task
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push(NewTask("752468272997", 0)))

	select {
	case task := <-done:
		require.NotNil(t, task)
		assert.Equal(t, "752468272997", task.Input)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up after Push")
	}
}

func TestInMemoryQueue_PopHonoursCancel(t *testing.T) {
	q := NewInMemoryQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInMemoryQueue_CloseDrains(t *testing.T) {
	q := NewInMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Push(NewTask("a", 0)))
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Push(NewTask("b", 0)), ErrQueueClosed)

	task, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", task.Input)

	_, err = q.Pop(ctx)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestInMemoryQueue_CloseWakesWaiters(t *testing.T) {
	q := NewInMemoryQueue()

	done := make(chan error)
	go func() {
		_, err := q.Pop(context.Background())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Close")
	}
}

func TestNewTask(t *testing.T) {
	task := NewTask("https://e.tb.cn/h.abc", 1)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, 1, task.Priority)
	assert.False(t, task.CreatedAt.IsZero())
}
