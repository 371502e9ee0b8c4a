package batch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// SeenWorker batches read acknowledgments and flushes them as one idempotent
// read_by merge per chat, then tells online receivers which chats changed.
type SeenWorker struct {
	logger   *zap.SugaredLogger
	store    MessageStore
	notifier Notifier
	batcher  *Batcher[SeenJob]
}

func NewSeenWorker(logger *zap.SugaredLogger, st MessageStore, notifier Notifier, maxBatch int, interval time.Duration) *SeenWorker {
	w := &SeenWorker{
		logger:   logger,
		store:    st,
		notifier: notifier,
	}
	w.batcher = NewBatcher(logger, maxBatch, interval, w.flushJobs)
	return w
}

func (w *SeenWorker) Handle(ctx context.Context, payload []byte) error {
	job, err := DecodeSeenJob(payload)
	if err != nil {
		w.logger.Warnw("discarding malformed seen job", "payload", string(payload), "error", err)
		return nil
	}
	w.batcher.Add(ctx, job)
	return nil
}

func (w *SeenWorker) Flush(ctx context.Context) {
	w.batcher.Flush(ctx)
}

func (w *SeenWorker) Pending() int { return w.batcher.Pending() }

func (w *SeenWorker) flushJobs(ctx context.Context, jobs []SeenJob) error {
	if err := w.store.MarkMessagesRead(ctx, readersByChat(jobs)); err != nil {
		return fmt.Errorf("merge read_by: %w", err)
	}

	for receiver, chats := range chatsBySeenReceiver(jobs) {
		w.notifier.MessagesSeen(receiver, chats)
	}

	return nil
}

// readersByChat groups the batch by chat, deduplicating reader ids. Two jobs
// for the same (chat, reader) pair collapse into one merge.
func readersByChat(jobs []SeenJob) map[int64][]int64 {
	grouped := make(map[int64]map[int64]struct{})
	for _, j := range jobs {
		if grouped[j.Chat] == nil {
			grouped[j.Chat] = make(map[int64]struct{})
		}
		grouped[j.Chat][j.Reader] = struct{}{}
	}

	out := make(map[int64][]int64, len(grouped))
	for chat, readers := range grouped {
		list := make([]int64, 0, len(readers))
		for r := range readers {
			list = append(list, r)
		}
		sort.Slice(list, func(i, k int) bool { return list[i] < list[k] })
		out[chat] = list
	}
	return out
}

// chatsBySeenReceiver maps every distinct receiver to the sorted distinct
// chats with acknowledgments relevant to them in this batch.
func chatsBySeenReceiver(jobs []SeenJob) map[int64][]int64 {
	seen := make(map[int64]map[int64]struct{})
	for _, j := range jobs {
		if seen[j.Receiver] == nil {
			seen[j.Receiver] = make(map[int64]struct{})
		}
		seen[j.Receiver][j.Chat] = struct{}{}
	}

	out := make(map[int64][]int64, len(seen))
	for receiver, chats := range seen {
		list := make([]int64, 0, len(chats))
		for chat := range chats {
			list = append(list, chat)
		}
		sort.Slice(list, func(i, k int) bool { return list[i] < list[k] })
		out[receiver] = list
	}
	return out
}
