package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingFlusher struct {
	mu      sync.Mutex
	batches [][]int
	calls   chan []int
	entered chan struct{} // signalled when a flush starts, if non-nil
	block   chan struct{} // when non-nil, flush waits here
}

func newRecordingFlusher() *recordingFlusher {
	return &recordingFlusher{calls: make(chan []int, 16)}
}

func (f *recordingFlusher) flush(_ context.Context, jobs []int) error {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	batch := append([]int(nil), jobs...)
	f.batches = append(f.batches, batch)
	f.mu.Unlock()
	f.calls <- batch
	return nil
}

func (f *recordingFlusher) all() [][]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]int, len(f.batches))
	copy(out, f.batches)
	return out
}

func testLogger(t *testing.T) *zap.SugaredLogger {
	t.Helper()
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	return logger.Sugar()
}

func TestBatchSizeTrigger(t *testing.T) {
	f := newRecordingFlusher()
	// Interval long enough that only the size trigger can fire.
	b := NewBatcher(testLogger(t), 5, time.Hour, f.flush)

	for i := 0; i < 5; i++ {
		b.Add(context.Background(), i)
	}

	select {
	case batch := <-f.calls:
		require.Equal(t, []int{0, 1, 2, 3, 4}, batch)
	case <-time.After(time.Second):
		t.Fatal("size trigger did not flush")
	}
	require.Equal(t, 0, b.Pending())

	select {
	case <-f.calls:
		t.Fatal("unexpected second flush")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTimerTrigger(t *testing.T) {
	f := newRecordingFlusher()
	b := NewBatcher(testLogger(t), 50, 200*time.Millisecond, f.flush)

	b.Add(context.Background(), 1)

	select {
	case <-f.calls:
		t.Fatal("flushed before the interval elapsed")
	case <-time.After(100 * time.Millisecond):
	}

	select {
	case batch := <-f.calls:
		require.Equal(t, []int{1}, batch)
	case <-time.After(time.Second):
		t.Fatal("timer trigger did not flush")
	}
	require.Equal(t, 0, b.Pending())
}

func TestTimerCoalescesMultipleJobs(t *testing.T) {
	f := newRecordingFlusher()
	b := NewBatcher(testLogger(t), 50, 150*time.Millisecond, f.flush)

	b.Add(context.Background(), 1)
	b.Add(context.Background(), 2)
	b.Add(context.Background(), 3)

	select {
	case batch := <-f.calls:
		require.Equal(t, []int{1, 2, 3}, batch)
	case <-time.After(time.Second):
		t.Fatal("timer trigger did not flush")
	}
	require.Len(t, f.all(), 1)
}

func TestFlushEmptyBufferNoop(t *testing.T) {
	f := newRecordingFlusher()
	b := NewBatcher(testLogger(t), 5, time.Hour, f.flush)

	b.Flush(context.Background())

	select {
	case <-f.calls:
		t.Fatal("flushed an empty buffer")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFlushMutualExclusion(t *testing.T) {
	f := newRecordingFlusher()
	f.entered = make(chan struct{}, 16)
	f.block = make(chan struct{})
	b := NewBatcher(testLogger(t), 2, time.Hour, f.flush)

	// First pair starts a flush that parks inside the flusher. The
	// size-triggered flush runs on the adding goroutine, so feed it from a
	// separate one and wait for the flusher to report it is in flight.
	go func() {
		b.Add(context.Background(), 1)
		b.Add(context.Background(), 2)
	}()
	<-f.entered

	// Second pair fills the fresh buffer; its flush attempt must be a no-op
	// while the first is in flight.
	b.Add(context.Background(), 3)
	b.Add(context.Background(), 4)
	require.Equal(t, 2, b.Pending())

	close(f.block)

	var batches [][]int
	for i := 0; i < 2; i++ {
		select {
		case batch := <-f.calls:
			batches = append(batches, batch)
		case <-time.After(time.Second):
			t.Fatalf("expected 2 flushes, got %d", len(batches))
		}
	}

	// Each buffered set is flushed exactly once, no job twice.
	require.Equal(t, [][]int{{1, 2}, {3, 4}}, batches)
	require.Equal(t, 0, b.Pending())

	select {
	case <-f.calls:
		t.Fatal("unexpected third flush")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFailedFlushDropsBatchAndContinues(t *testing.T) {
	calls := make(chan []int, 2)
	fail := true
	flush := func(_ context.Context, jobs []int) error {
		calls <- append([]int(nil), jobs...)
		if fail {
			return context.DeadlineExceeded
		}
		return nil
	}
	b := NewBatcher(testLogger(t), 2, time.Hour, flush)

	b.Add(context.Background(), 1)
	b.Add(context.Background(), 2)

	select {
	case batch := <-calls:
		require.Equal(t, []int{1, 2}, batch)
	case <-time.After(time.Second):
		t.Fatal("no flush")
	}
	// The failed batch is gone, not retried.
	require.Equal(t, 0, b.Pending())

	fail = false
	b.Add(context.Background(), 3)
	b.Add(context.Background(), 4)

	select {
	case batch := <-calls:
		require.Equal(t, []int{3, 4}, batch)
	case <-time.After(time.Second):
		t.Fatal("worker wedged after failed flush")
	}
}
