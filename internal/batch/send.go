package batch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"peerlink/internal/store"
)

// MessageStore is the slice of the chat store the workers write through.
type MessageStore interface {
	InsertMessages(ctx context.Context, rows []store.NewMessage) ([]int64, error)
	SetLastMessages(ctx context.Context, lastByChat map[int64]int64) error
	MarkMessagesRead(ctx context.Context, readersByChat map[int64][]int64) error
}

// Notifier pushes post-flush hints to recipients who are currently online.
// Implementations decide reachability; offline receivers are silently skipped.
type Notifier interface {
	NewMessages(receiverID int64, chatIDs []int64)
	MessagesSeen(receiverID int64, chatIDs []int64)
}

// SendWorker batches message jobs and flushes them as one bulk insert plus
// one bulk chat-pointer update, then hints online receivers to re-sync.
type SendWorker struct {
	logger   *zap.SugaredLogger
	store    MessageStore
	notifier Notifier
	batcher  *Batcher[SendJob]
}

func NewSendWorker(logger *zap.SugaredLogger, st MessageStore, notifier Notifier, maxBatch int, interval time.Duration) *SendWorker {
	w := &SendWorker{
		logger:   logger,
		store:    st,
		notifier: notifier,
	}
	w.batcher = NewBatcher(logger, maxBatch, interval, w.flushJobs)
	return w
}

// Handle is the queue handler. A payload that cannot decode is dropped with a
// log line: redelivering it can never succeed.
func (w *SendWorker) Handle(ctx context.Context, payload []byte) error {
	job, err := DecodeSendJob(payload)
	if err != nil {
		w.logger.Warnw("discarding malformed send job", "payload", string(payload), "error", err)
		return nil
	}
	w.batcher.Add(ctx, job)
	return nil
}

// Flush forces a drain of whatever is buffered, used on shutdown.
func (w *SendWorker) Flush(ctx context.Context) {
	w.batcher.Flush(ctx)
}

func (w *SendWorker) Pending() int { return w.batcher.Pending() }

func (w *SendWorker) flushJobs(ctx context.Context, jobs []SendJob) error {
	rows := make([]store.NewMessage, len(jobs))
	for i, j := range jobs {
		rows[i] = store.NewMessage{
			ChatID:    j.Chat,
			SenderID:  j.Sender,
			Text:      j.Text,
			Timestamp: j.Timestamp,
		}
	}

	ids, err := w.store.InsertMessages(ctx, rows)
	if err != nil {
		return fmt.Errorf("bulk insert: %w", err)
	}

	if err := w.store.SetLastMessages(ctx, lastMessageByChat(jobs, ids)); err != nil {
		return fmt.Errorf("chat pointers: %w", err)
	}

	for receiver, chats := range chatsByReceiver(jobs) {
		w.notifier.NewMessages(receiver, chats)
	}

	return nil
}

// lastMessageByChat picks, per chat, the id of the last message in buffer
// order. ids is index-aligned with jobs; the later entry wins.
func lastMessageByChat(jobs []SendJob, ids []int64) map[int64]int64 {
	last := make(map[int64]int64)
	for i, j := range jobs {
		last[j.Chat] = ids[i]
	}
	return last
}

// chatsByReceiver maps every distinct receiver to the sorted distinct chats
// they are party to within this batch.
func chatsByReceiver(jobs []SendJob) map[int64][]int64 {
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
