package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/de-tools/cost-atlas/pkg/store"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var ErrQueueFull = errors.New("ingestion queue is full")

// Notifier is told which accounts received new or changed cost records.
// Implementations must not block.
type Notifier interface {
	Notify(accountIDs ...string)
}

type nopNotifier struct{}

func (nopNotifier) Notify(...string) {}

type Options struct {
	Workers      int
	LookbackDays int
	BackfillDays int
	QueueSize    int
}

func DefaultOptions() Options {
	return Options{Workers: 4, LookbackDays: 3, BackfillDays: 30, QueueSize: 64}
}

type Controller interface {
	Sync(ctx context.Context, accountID string, period *domain.Period) (domain.SyncReport, error)
	SyncAll(ctx context.Context, accountIDs []string, period *domain.Period) ([]domain.SyncReport, error)
	ScheduleSync(ctx context.Context, accountID string) error
}

// DefaultController fans syncs out over a bounded worker pool and drains
// the queue of syncs scheduled by linking and refresh requests.
type DefaultController struct {
	runner   *Runner
	accounts store.Repository[domain.ProviderAccount]
	opts     Options

	queue   chan string
	mu      sync.Mutex
	pending map[string]struct{}
}

var _ Controller = (*DefaultController)(nil)

func NewController(runner *Runner, accounts store.Repository[domain.ProviderAccount], opts Options) *DefaultController {
	def := DefaultOptions()
	if opts.Workers < 1 {
		opts.Workers = def.Workers
	}
	if opts.LookbackDays < 1 {
		opts.LookbackDays = def.LookbackDays
	}
	if opts.BackfillDays < opts.LookbackDays {
		opts.BackfillDays = max(def.BackfillDays, opts.LookbackDays)
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = def.QueueSize
	}
	return &DefaultController{
		runner:   runner,
		accounts: accounts,
		opts:     opts,
		queue:    make(chan string, opts.QueueSize),
		pending:  make(map[string]struct{}),
	}
}

// defaultPeriod covers the lookback window ending today, or the backfill
// window for an account that was never synced.
func (c *DefaultController) defaultPeriod(account domain.ProviderAccount) domain.Period {
	days := c.opts.LookbackDays
	if account.LastSync == nil {
		days = c.opts.BackfillDays
	}
	return domain.Trailing(c.runner.now(), days)
}

func (c *DefaultController) Sync(ctx context.Context, accountID string, period *domain.Period) (domain.SyncReport, error) {
	account, err := c.accounts.Get(ctx, accountID)
	if err != nil {
		return domain.SyncReport{}, err
	}
	p := c.defaultPeriod(account)
	if period != nil {
		p = *period
	}
	return c.runner.Sync(ctx, accountID, p), nil
}

// SyncAll syncs the given accounts, or every syncable account when none are
// named, at most Workers at a time. Per-account failures are carried on the
// reports.
func (c *DefaultController) SyncAll(ctx context.Context, accountIDs []string, period *domain.Period) ([]domain.SyncReport, error) {
	targets, err := c.targets(ctx, accountIDs)
	if err != nil {
		return nil, err
	}

	reports := make([]domain.SyncReport, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for i, account := range targets {
		g.Go(func() error {
			p := c.defaultPeriod(account)
			if period != nil {
				p = *period
			}
			reports[i] = c.runner.Sync(gctx, account.ID, p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}
	return reports, nil
}

func (c *DefaultController) targets(ctx context.Context, accountIDs []string) ([]domain.ProviderAccount, error) {
	if len(accountIDs) == 0 {
		all, err := c.accounts.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("unable to list accounts: %w", err)
		}
		var out []domain.ProviderAccount
		for _, a := range all {
			if a.Syncable() {
				out = append(out, a)
			}
		}
		return out, nil
	}

	out := make([]domain.ProviderAccount, 0, len(accountIDs))
	for _, id := range accountIDs {
		a, err := c.accounts.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// ScheduleSync queues a default-period sync without waiting for it. An
// account already queued is not queued twice.
func (c *DefaultController) ScheduleSync(ctx context.Context, accountID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[accountID]; ok {
		return nil
	}

	select {
	case c.queue <- accountID:
		c.pending[accountID] = struct{}{}
		zerolog.Ctx(ctx).Debug().Str("account_id", accountID).Msg("sync scheduled")
		return nil
	default:
		return ErrQueueFull
	}
}

// Run drains scheduled syncs until ctx is done, running up to Workers of
// them concurrently.
func (c *DefaultController) Run(ctx context.Context) {
	logger := zerolog.Ctx(ctx)
	var g errgroup.Group
	g.SetLimit(c.opts.Workers)
	defer func() { _ = g.Wait() }()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("ingestion scheduler stopped")
			return
		case id := <-c.queue:
			c.mu.Lock()
			delete(c.pending, id)
			c.mu.Unlock()

			g.Go(func() error {
				report, err := c.Sync(ctx, id, nil)
				if err != nil {
					logger.Error().Err(err).Str("account_id", id).Msg("scheduled sync failed")
					return nil
				}
				if report.Err != nil && report.Status == domain.SyncStatusFailed {
					logger.Warn().Err(report.Err).Str("account_id", id).Msg("scheduled sync failed")
				}
				return nil
			})
		}
	}
}

// Pending returns how many scheduled syncs wait in the queue.
func (c *DefaultController) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
