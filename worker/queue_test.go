package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hoffbot/hoff/worker"
)

func TestQueue_TryPushRespectsCapacity(t *testing.T) {
	q := worker.NewQueue[int](2)
	require.True(t, q.TryPush(1))
	require.True(t, q.TryPush(2))
	require.False(t, q.TryPush(3), "a full queue must reject non-blocking pushes")
	require.Equal(t, 2, q.Len())
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := worker.NewQueue[string](1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() { q.TryPush("hi") }()

	v, ok := q.Pop(ctx)
	require.True(t, ok)
	require.Equal(t, "hi", v)
}

func TestQueue_PopReturnsFalseOnCanceledContext(t *testing.T) {
	q := worker.NewQueue[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := q.Pop(ctx)
	require.False(t, ok)
}

func TestQueue_PushBlocksThenSucceedsOnceRoomFrees(t *testing.T) {
	q := worker.NewQueue[int](1)
	require.True(t, q.TryPush(1))

	done := make(chan error, 1)
	go func() { done <- q.Push(context.Background(), 2) }()

	v, ok := q.Pop(context.Background())
	require.True(t, ok)
	require.Equal(t, 1, v)

	require.NoError(t, <-done)
}
