package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/wktk1187/dagitoru/internal/redis"

	"go.uber.org/zap"
)

const claimTTL = 24 * time.Hour

// StageGuard issues per-job per-stage idempotency claims so that a
// redelivered message does not repeat externally visible side effects
// (notifications, page creation). Claims expire after a day; by then the
// queue has long since drained.
type StageGuard struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewStageGuard(rdb *redis.Client, logger *zap.Logger) *StageGuard {
	return &StageGuard{rdb: rdb, logger: logger}
}

// Claim reports whether this caller is the first to run the given stage
// for the job. When redis itself errors the claim is granted: repeating
// a side effect beats silently dropping it.
func (g *StageGuard) Claim(ctx context.Context, jobID, stage string) bool {
	key := fmt.Sprintf("job:%s:stage:%s", jobID, stage)
	ok, err := g.rdb.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), claimTTL)
	if err != nil {
		g.logger.Warn("stage claim check failed, proceeding", zap.String("key", key), zap.Error(err))
		return true
	}
	return ok
}
