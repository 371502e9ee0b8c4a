package batch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReadersByChatDedup(t *testing.T) {
	// Two jobs for the same (chat, reader) pair with different receivers
	// collapse into a single reader entry.
	jobs := []SeenJob{
		{Chat: 10, Reader: 1, Receiver: 2},
		{Chat: 10, Reader: 1, Receiver: 3},
		{Chat: 10, Reader: 4, Receiver: 2},
		{Chat: 20, Reader: 1, Receiver: 5},
	}

	got := readersByChat(jobs)
	require.Equal(t, map[int64][]int64{
		10: {1, 4},
		20: {1},
	}, got)
}

func TestChatsBySeenReceiver(t *testing.T) {
	jobs := []SeenJob{
		{Chat: 10, Reader: 1, Receiver: 2},
		{Chat: 20, Reader: 1, Receiver: 2},
		{Chat: 20, Reader: 3, Receiver: 2},
		{Chat: 30, Reader: 4, Receiver: 6},
	}

	got := chatsBySeenReceiver(jobs)
	require.Equal(t, map[int64][]int64{
		2: {10, 20},
		6: {30},
	}, got)
}

func TestSeenWorkerFlush(t *testing.T) {
	st := &fakeStore{}
	n := newFakeNotifier()
	w := NewSeenWorker(testLogger(t), st, n, 50, time.Hour)

	jobs := []SeenJob{
		{Chat: 10, Reader: 1, Receiver: 2, Timestamp: time.Now().UTC()},
		{Chat: 10, Reader: 1, Receiver: 3, Timestamp: time.Now().UTC()},
		{Chat: 20, Reader: 2, Receiver: 1, Timestamp: time.Now().UTC()},
	}
	for _, j := range jobs {
		payload, err := EncodeSeenJob(j)
		require.NoError(t, err)
		require.NoError(t, w.Handle(context.Background(), payload))
	}

	w.Flush(context.Background())

	require.Equal(t, map[int64][]int64{
		10: {1},
		20: {2},
	}, st.readsByChat)

	require.Equal(t, map[int64][]int64{
		1: {20},
		2: {10},
		3: {10},
	}, n.messagesSeen)

	require.Equal(t, 0, w.Pending())
}

func TestSeenWorkerFlushFailureDropsBatch(t *testing.T) {
	st := &fakeStore{markErr: errors.New("db down")}
	n := newFakeNotifier()
	w := NewSeenWorker(testLogger(t), st, n, 50, time.Hour)

	payload, err := EncodeSeenJob(SeenJob{Chat: 10, Reader: 1, Receiver: 2})
	require.NoError(t, err)
	require.NoError(t, w.Handle(context.Background(), payload))

	w.Flush(context.Background())

	require.Empty(t, n.messagesSeen)
	require.Equal(t, 0, w.Pending())
}
