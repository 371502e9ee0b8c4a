// Package queue is the durable intake layer between the realtime gateway and
// the batching workers, built on Redis Streams consumer groups.
package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Handler processes one delivered payload. A nil return acknowledges the
// entry; an error leaves it pending for redelivery.
type Handler func(ctx context.Context, payload []byte) error

// Queue is one stream plus one consumer group. Enqueue never waits on the
// consumer side: it returns as soon as Redis has appended the entry.
type Queue struct {
	logger      *zap.SugaredLogger
	rdb         *redis.Client
	stream      string
	group       string
	consumer    string
	concurrency int64
	limiter     *rate.Limiter
}

func New(logger *zap.SugaredLogger, rdb *redis.Client, stream string, concurrency int64, ratePerSec float64) *Queue {
	burst := int(ratePerSec)
	if burst < 1 {
		burst = 1
	}
	return &Queue{
		logger:      logger,
		rdb:         rdb,
		stream:      stream,
		group:       stream + ":workers",
		consumer:    stream + ":consumer",
		concurrency: concurrency,
		limiter:     rate.NewLimiter(rate.Limit(ratePerSec), burst),
	}
}

// Enqueue appends one job to the stream. Durable once Redis accepts it.
func (q *Queue) Enqueue(ctx context.Context, payload []byte) error {
	return q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{"job": payload},
	}).Err()
}

// Run consumes the stream until ctx is cancelled. Entries left pending by a
// previous run are replayed first, then new entries are read. Each entry
// waits for a rate-limiter token and a concurrency slot before its handler
// runs; the entry is acknowledged only after the handler succeeds.
func (q *Queue) Run(ctx context.Context, h Handler) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}

	sem := semaphore.NewWeighted(q.concurrency)

	// "0" replays this consumer's pending entries; once drained, ">" reads
	// entries never delivered to anyone.
	cursor := "0"
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, cursor},
			Count:    int64(q.concurrency) * 2,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				cursor = nextCursor(cursor, nil)
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.logger.Errorw("stream read failed", "stream", q.stream, "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, s := range streams {
			for _, m := range s.Messages {
				if err := q.limiter.Wait(ctx); err != nil {
					return err
				}
				if err := sem.Acquire(ctx, 1); err != nil {
					return err
				}
				go q.process(ctx, sem, h, m)
			}
		}

		cursor = nextCursor(cursor, streams)
	}
}

// nextCursor advances the replay cursor past the entries just handed out.
// Replayed entries stay in the pending list until their asynchronous ack
// lands, so re-reading from the same id would deliver the same entry to a
// second handler within one replay pass. An empty history read means the
// backlog is drained and ">" takes over for new entries.
func nextCursor(cursor string, streams []redis.XStream) string {
	if cursor == ">" {
		return ">"
	}
	next := ">"
	for _, s := range streams {
		for _, m := range s.Messages {
			next = m.ID
		}
	}
	return next
}

func (q *Queue) process(ctx context.Context, sem *semaphore.Weighted, h Handler, m redis.XMessage) {
	defer sem.Release(1)

	raw, ok := m.Values["job"].(string)
	if !ok {
		q.logger.Warnw("discarding entry without job field", "stream", q.stream, "id", m.ID)
		q.ack(ctx, m.ID)
		return
	}

	if err := h(ctx, []byte(raw)); err != nil {
		// Left pending; the next run replays it.
		q.logger.Errorw("handler failed, leaving entry pending",
			"stream", q.stream, "id", m.ID, "error", err)
		return
	}

	q.ack(ctx, m.ID)
}

func (q *Queue) ack(ctx context.Context, id string) {
	if err := q.rdb.XAck(ctx, q.stream, q.group, id).Err(); err != nil && ctx.Err() == nil {
		q.logger.Errorw("ack failed", "stream", q.stream, "id", id, "error", err)
	}
}
