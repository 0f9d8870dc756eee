package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wktk1187/dagitoru/internal/models"
	"github.com/wktk1187/dagitoru/internal/redis"

	"go.uber.org/zap"
)

const popTimeout = 5 * time.Second

// Publisher pushes job messages onto the redis-backed job queue. The
// queue is the only coordination primitive between ingestion and the
// worker; delivery is at-least-once, so consumers must be idempotent.
type Publisher struct {
	rdb    *redis.Client
	key    string
	logger *zap.Logger
}

func NewPublisher(rdb *redis.Client, topic string, logger *zap.Logger) *Publisher {
	return &Publisher{rdb: rdb, key: listKey(topic), logger: logger}
}

// Publish enqueues one job message. Failure is surfaced to the caller,
// never swallowed: an unenqueued job is a processing error.
func (p *Publisher) Publish(ctx context.Context, msg *models.JobMessage) error {
	if msg == nil || msg.JobID == "" {
		return errors.New("job message requires a job id")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal job message: %w", err)
	}
	if err := p.rdb.LPush(ctx, p.key, data); err != nil {
		return fmt.Errorf("publish job %s: %w", msg.JobID, err)
	}
	p.logger.Info("job published", zap.String("jobId", msg.JobID), zap.String("queue", p.key))
	return nil
}

// PublishAfter re-enqueues a message after a delay without blocking the
// calling worker. Used to hold TextPending jobs for a bounded window.
// The watcher exits once the timer fires, so long-lived contexts do not
// pin a goroutine per requeue.
func (p *Publisher) PublishAfter(ctx context.Context, msg *models.JobMessage, delay time.Duration) {
	done := make(chan struct{})
	timer := time.AfterFunc(delay, func() {
		defer close(done)
		if err := p.Publish(context.Background(), msg); err != nil {
			p.logger.Warn("delayed requeue failed", zap.String("jobId", msg.JobID), zap.Error(err))
		}
	})
	go func() {
		select {
		case <-done:
		case <-ctx.Done():
			timer.Stop()
		}
	}()
}

// Consumer pops job messages off the queue.
type Consumer struct {
	rdb    *redis.Client
	key    string
	logger *zap.Logger
}

func NewConsumer(rdb *redis.Client, topic string, logger *zap.Logger) *Consumer {
	return &Consumer{rdb: rdb, key: listKey(topic), logger: logger}
}

// Next blocks until a message is available or ctx is done. Undecodable
// payloads are dropped with a log line rather than poisoning the queue.
func (c *Consumer) Next(ctx context.Context) (*models.JobMessage, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := c.rdb.BRPop(ctx, popTimeout, c.key)
		if errors.Is(err, redis.ErrCacheMiss) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("pop job: %w", err)
		}
		var msg models.JobMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			c.logger.Warn("dropping undecodable job message", zap.Error(err))
			continue
		}
		return &msg, nil
	}
}

func listKey(topic string) string {
	if topic == "" {
		topic = "meeting-jobs"
	}
	return "queue:" + topic
}
