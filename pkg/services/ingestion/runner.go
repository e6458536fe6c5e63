package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/de-tools/cost-atlas/pkg/connector"
	"github.com/de-tools/cost-atlas/pkg/errkind"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/de-tools/cost-atlas/pkg/services/normalize"
	"github.com/de-tools/cost-atlas/pkg/store"
	"github.com/de-tools/cost-atlas/pkg/syncx"
	"github.com/rs/zerolog"
)

// Runner performs single account syncs: fetch, normalize, upsert.
type Runner struct {
	accounts   store.Repository[domain.ProviderAccount]
	costs      store.CostStore
	connectors connector.Registry
	pipeline   *normalize.Pipeline
	notifier   Notifier

	locks *syncx.KeyedMutex
	now   func() time.Time
}

func NewRunner(
	accounts store.Repository[domain.ProviderAccount],
	costs store.CostStore,
	connectors connector.Registry,
	pipeline *normalize.Pipeline,
	notifier Notifier,
) *Runner {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Runner{
		accounts:   accounts,
		costs:      costs,
		connectors: connectors,
		pipeline:   pipeline,
		notifier:   notifier,
		locks:      syncx.NewKeyedMutex(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Sync ingests period for one account. Syncs of the same account are
// serialized. Failures are carried on the report and reflected in the
// account status.
func (r *Runner) Sync(ctx context.Context, accountID string, period domain.Period) domain.SyncReport {
	unlock := r.locks.Lock(accountID)
	defer unlock()

	logger := zerolog.Ctx(ctx).With().
		Str("account_id", accountID).
		Str("period", period.String()).
		Logger()
	ctx = logger.WithContext(ctx)

	report := domain.SyncReport{AccountID: accountID, Period: period, Status: domain.SyncStatusFailed}

	account, err := r.accounts.Get(ctx, accountID)
	if err != nil {
		report.Err = err
		return report
	}
	if !account.Syncable() {
		report.Err = errkind.New(errkind.Conflict, "account %s is %s and cannot be synced", accountID, statusOf(account))
		return report
	}

	account.Status = domain.AccountStatusSyncing
	account.UpdatedAt = r.now()
	if err := r.accounts.Put(ctx, account.ID, account); err != nil {
		report.Err = fmt.Errorf("unable to mark account syncing: %w", err)
		return report
	}

	// The account is never left in syncing state, even on cancellation.
	settleCtx := context.WithoutCancel(ctx)

	conn, err := r.connectors.Get(account.Provider)
	if err != nil {
		report.Err = err
		r.settle(settleCtx, account, err)
		return report
	}

	items, err := conn.FetchCostAndUsage(ctx, account, period.Start, period.End)
	if err != nil {
		report.Err = err
		logger.Error().Err(err).Str("kind", string(errkind.KindOf(err))).Msg("fetch failed")
		r.settle(settleCtx, account, err)
		return report
	}
	report.Fetched = len(items)

	res := r.pipeline.Normalize(ctx, items)
	report.Merged = res.Merged
	report.Quarantined = len(res.Quarantined)

	if res.Status == normalize.StatusFailed {
		report.Err = errkind.New(errkind.PartialBatchFailure, "all %d line items were quarantined", len(items))
		r.settle(settleCtx, account, report.Err)
		return report
	}

	stats, err := r.costs.Upsert(ctx, res.Records)
	if err != nil {
		report.Err = fmt.Errorf("unable to store cost records: %w", err)
		r.settle(settleCtx, account, report.Err)
		return report
	}
	report.Written = stats.Inserted + stats.Updated
	report.Unchanged = stats.Unchanged

	var syncErr error
	report.Status = domain.SyncStatusSuccess
	if res.Status == normalize.StatusPartialSuccess {
		report.Status = domain.SyncStatusPartialSuccess
		syncErr = errkind.New(errkind.PartialBatchFailure, "%d of %d line items were quarantined", report.Quarantined, report.Fetched)
		report.Err = syncErr
	}

	now := r.now()
	account.LastSync = &now
	r.settle(settleCtx, account, syncErr)

	if report.Written > 0 {
		r.notifier.Notify(accountID)
	}
	logger.Info().
		Str("status", string(report.Status)).
		Int("fetched", report.Fetched).
		Int("written", report.Written).
		Int("unchanged", report.Unchanged).
		Int("quarantined", report.Quarantined).
		Msg("sync finished")
	return report
}

// settle records the outcome on the account. Permanent trust failures park it
// in error until it is linked again; anything else keeps it active.
func (r *Runner) settle(ctx context.Context, account domain.ProviderAccount, err error) {
	// Reload so a concurrent disconnect is not overwritten.
	current, getErr := r.accounts.Get(ctx, account.ID)
	if getErr == nil {
		current.LastSync = account.LastSync
		account = current
	}

	account.Status = domain.AccountStatusActive
	account.LastError = ""
	if err != nil {
		account.LastError = errkind.Message(err)
		if errkind.KindOf(err).Permanent() {
			account.Status = domain.AccountStatusError
		}
	}
	account.UpdatedAt = r.now()
	if putErr := r.accounts.Put(ctx, account.ID, account); putErr != nil {
		zerolog.Ctx(ctx).Error().Err(putErr).Str("account_id", account.ID).Msg("failed to update account status")
	}
}

func statusOf(a domain.ProviderAccount) string {
	if a.Deleted() {
		return "disconnected"
	}
	return string(a.Status)
}
