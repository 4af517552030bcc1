// Package scheduler runs periodic background jobs of the API server.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bidhouse/apiserver/types"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// EndedAuctions announces auctions whose end time falls in (from, to].
type EndedAuctions interface {
	AnnounceEnded(ctx context.Context, from, to time.Time) ([]types.AuctionResult, error)
}

// Announcer periodically publishes the results of auctions that ended since
// the previous run. A failed run is retried with the same window start.
type Announcer struct {
	cron    *cron.Cron
	spec    string
	auction EndedAuctions
	logger  *zap.Logger
	now     func() time.Time

	mu   sync.Mutex
	last time.Time
}

func NewAnnouncer(auctions EndedAuctions, spec string, logger *zap.Logger) *Announcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Announcer{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		spec:    spec,
		auction: auctions,
		logger:  logger,
		now:     time.Now,
	}
}

// Start schedules the announcer. Auctions that ended before Start are not
// announced.
func (a *Announcer) Start(ctx context.Context) error {
	a.mu.Lock()
	a.last = a.now()
	a.mu.Unlock()

	if _, err := a.cron.AddFunc(a.spec, func() { a.run(ctx) }); err != nil {
		return fmt.Errorf("schedule announcer %q: %w", a.spec, err)
	}
	a.cron.Start()
	a.logger.Info("ended-auction announcer started", zap.String("spec", a.spec))
	return nil
}

// Stop halts scheduling and waits for a running announcement to finish.
func (a *Announcer) Stop() {
	<-a.cron.Stop().Done()
	a.logger.Info("ended-auction announcer stopped")
}

func (a *Announcer) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	to := a.now()
	results, err := a.auction.AnnounceEnded(ctx, a.last, to)
	if err != nil {
		a.logger.Error("announce ended auctions failed", zap.Time("from", a.last), zap.Error(err))
		return
	}
	a.last = to

	if len(results) > 0 {
		a.logger.Info("announced ended auctions", zap.Int("count", len(results)))
	}
}
