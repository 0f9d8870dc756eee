package worker

import (
	"context"
	"errors"
	"time"

	"github.com/wktk1187/dagitoru/internal/queue"

	"go.uber.org/zap"
)

// Dispatcher pulls job messages off the queue and hands each one to a
// pooled worker. Handing off blocks when every worker is busy, which is
// the concurrency bound: the queue simply backs up in redis.
type Dispatcher struct {
	consumer *queue.Consumer
	pool     *jobChannelPool
	logger   *zap.Logger
}

func NewDispatcher(consumer *queue.Consumer, minWorkers, maxWorkers int, idleTimeout time.Duration, runner *Runner, logger *zap.Logger) *Dispatcher {
	pool := newJobChannelPool(minWorkers, maxWorkers, idleTimeout, runner, logger)
	for i := 0; i < minWorkers; i++ {
		pool.spawnWorker()
	}
	return &Dispatcher{consumer: consumer, pool: pool, logger: logger}
}

// Run consumes until ctx is done. Transient pop errors are logged and
// retried after a short pause rather than killing the loop.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		msg, err := d.consumer.Next(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			d.logger.Info("dispatcher stopping")
			return
		}
		if err != nil {
			d.logger.Warn("queue consume failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		d.logger.Info("job dequeued", zap.String("jobId", msg.JobID))
		ch := d.pool.acquire()
		ch <- msg
	}
}
