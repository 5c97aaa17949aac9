package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"contacts-api/internal/observability"
)

const (
	defaultBatchSize  = 500
	defaultMaxBatches = 100
)

type RefreshTokenCleaner interface {
	ClearExpiredRefreshTokens(ctx context.Context, now time.Time, batchSize int) (int64, error)
}

type Observer interface {
	ObserveRefreshTokensCleared(n int64)
}

type Result struct {
	ClearedRefreshTokens int64 `json:"cleared_refresh_tokens"`
	Batches              int   `json:"batches"`
}

// Cleaner clears stored refresh tokens whose expiry has passed. Runs are
// serialized so the cron job and the HTTP trigger never overlap.
type Cleaner struct {
	tokens     RefreshTokenCleaner
	logger     *observability.Logger
	observer   Observer
	batchSize  int
	maxBatches int
	now        func() time.Time

	mu sync.Mutex
}

func NewCleaner(tokens RefreshTokenCleaner, logger *observability.Logger, observer Observer, batchSize int) *Cleaner {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Cleaner{
		tokens:     tokens,
		logger:     logger,
		observer:   observer,
		batchSize:  batchSize,
		maxBatches: defaultMaxBatches,
		now:        time.Now,
	}
}

func (c *Cleaner) Run(ctx context.Context) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UTC()
	var result Result
	for result.Batches < c.maxBatches {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		cleared, err := c.tokens.ClearExpiredRefreshTokens(ctx, now, c.batchSize)
		if err != nil {
			return result, fmt.Errorf("clear expired refresh tokens: %w", err)
		}
		result.Batches++
		result.ClearedRefreshTokens += cleared
		if c.observer != nil && cleared > 0 {
			c.observer.ObserveRefreshTokensCleared(cleared)
		}
		if cleared < int64(c.batchSize) {
			break
		}
	}

	return result, nil
}

// Schedule registers the cleanup on c using a standard five-field cron spec.
func (c *Cleaner) Schedule(scheduler *cron.Cron, spec string) (cron.EntryID, error) {
	return scheduler.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		result, err := c.Run(ctx)
		if err != nil {
			c.logger.Error("refresh_token_cleanup_failed", map[string]any{"error": err.Error(), "trigger": "cron"})
			return
		}
		c.logger.Info("refresh_token_cleanup_completed", map[string]any{
			"cleared_refresh_tokens": result.ClearedRefreshTokens,
			"batches":                result.Batches,
			"trigger":                "cron",
		})
	})
}
