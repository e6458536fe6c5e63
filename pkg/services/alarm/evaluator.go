package alarm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/de-tools/cost-atlas/pkg/errkind"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/de-tools/cost-atlas/pkg/services/aggregation"
	"github.com/de-tools/cost-atlas/pkg/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Options struct {
	Interval            time.Duration
	ForecastWindowDays  int
	DefaultStdDevs      float64
	DefaultTrailingDays int
}

func DefaultOptions() Options {
	return Options{
		Interval:            15 * time.Minute,
		ForecastWindowDays:  7,
		DefaultStdDevs:      2,
		DefaultTrailingDays: 14,
	}
}

// Evaluator checks alarm rules against aggregated costs and opens or
// refreshes events.
type Evaluator struct {
	rules    store.Repository[domain.AlarmRule]
	accounts store.Repository[domain.ProviderAccount]
	events   *EventService
	costs    aggregation.Reader
	opts     Options

	now   func() time.Time
	newID func() string

	mu      sync.Mutex
	pending map[string]struct{}
	all     bool
	wake    chan struct{}
}

func NewEvaluator(
	repos store.Repositories,
	events *EventService,
	costs aggregation.Reader,
	opts Options,
) *Evaluator {
	def := DefaultOptions()
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.ForecastWindowDays < 7 {
		opts.ForecastWindowDays = def.ForecastWindowDays
	}
	if opts.DefaultStdDevs <= 0 {
		opts.DefaultStdDevs = def.DefaultStdDevs
	}
	if opts.DefaultTrailingDays < 2 {
		opts.DefaultTrailingDays = def.DefaultTrailingDays
	}
	return &Evaluator{
		rules:    repos.Rules,
		accounts: repos.Accounts,
		events:   events,
		costs:    costs,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		pending:  make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
	}
}

// Test evaluates the rule as of now without writing events or rule status.
func (e *Evaluator) Test(ctx context.Context, rule domain.AlarmRule) (domain.Evaluation, error) {
	if err := ValidateRule(rule); err != nil {
		return domain.Evaluation{}, err
	}
	if err := e.checkScope(ctx, rule.Scope); err != nil {
		return domain.Evaluation{}, err
	}
	m, err := e.measure(ctx, rule, e.now())
	if err != nil {
		return domain.Evaluation{}, err
	}
	return evaluationOf(rule, m), nil
}

func evaluationOf(rule domain.AlarmRule, m measurement) domain.Evaluation {
	ev := domain.Evaluation{
		RuleID:         rule.ID,
		Triggered:      m.triggered,
		Dormant:        m.dormant,
		Reason:         m.reason,
		CurrentValue:   m.current,
		ThresholdValue: m.threshold,
		WindowKey:      m.windowKey,
	}
	if m.triggered {
		ev.Severity = severityFor(rule.Config.Severity, m.ratio)
	}
	return ev
}

// checkScope rejects scopes naming accounts that are unknown or disconnected.
func (e *Evaluator) checkScope(ctx context.Context, scope domain.Scope) error {
	for _, id := range scope.AccountIDs {
		a, err := e.accounts.Get(ctx, id)
		if errors.Is(err, errkind.ErrNotFound) || (err == nil && a.Deleted()) {
			return errkind.New(errkind.InvalidInput, "scope account %s does not exist", id)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Evaluate runs one rule as of asOf and applies the outcome: triggered rules
// open or refresh an event, invalid rules are moved to error status.
func (e *Evaluator) Evaluate(ctx context.Context, rule domain.AlarmRule, asOf time.Time) (domain.Evaluation, error) {
	logger := zerolog.Ctx(ctx).With().Str("rule_id", rule.ID).Logger()

	invalid := ValidateRule(rule)
	if invalid == nil {
		invalid = e.checkScope(ctx, rule.Scope)
	}
	if invalid != nil && errkind.KindOf(invalid) != errkind.InvalidInput {
		return domain.Evaluation{}, invalid
	}

	var m measurement
	var err error
	if invalid == nil {
		m, err = e.measure(ctx, rule, asOf)
		if errkind.KindOf(err) == errkind.InvalidInput {
			invalid, err = err, nil
		}
		if err != nil {
			return domain.Evaluation{}, fmt.Errorf("unable to evaluate rule %s: %w", rule.ID, err)
		}
	}

	now := e.now()
	if invalid != nil {
		logger.Error().Err(invalid).Msg("alarm rule configuration is invalid")
		if err := e.setStatus(ctx, rule, domain.RuleStatusError, errkind.Message(invalid), now); err != nil {
			return domain.Evaluation{}, err
		}
		return domain.Evaluation{RuleID: rule.ID, Reason: errkind.Message(invalid)}, nil
	}

	ev := evaluationOf(rule, m)
	if m.dormant {
		logger.Debug().Str("reason", m.reason).Msg("alarm rule dormant")
	}
	if m.triggered {
		event, deduplicated, err := e.events.record(ctx, rule, m, ev.Severity, e.newID)
		if err != nil {
			return ev, err
		}
		ev.EventID = event.ID
		ev.Deduplicated = deduplicated
		logger.Info().
			Str("event_id", event.ID).
			Bool("deduplicated", deduplicated).
			Float64("current_value", m.current).
			Float64("threshold_value", m.threshold).
			Str("severity", string(ev.Severity)).
			Msg("alarm triggered")
	}

	status := rule.Status
	if status == domain.RuleStatusError {
		status = domain.RuleStatusActive
	}
	if err := e.setStatus(ctx, rule, status, "", now); err != nil {
		return ev, err
	}
	return ev, nil
}

func (e *Evaluator) setStatus(ctx context.Context, rule domain.AlarmRule, status domain.RuleStatus, reason string, at time.Time) error {
	// Reload so a concurrent edit is not reverted.
	current, err := e.rules.Get(ctx, rule.ID)
	if errors.Is(err, errkind.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if current.UpdatedAt.After(rule.UpdatedAt) {
		return nil
	}
	current.Status = status
	current.StatusReason = reason
	current.LastEvaluatedAt = &at
	if err := e.rules.Put(ctx, current.ID, current); err != nil {
		return fmt.Errorf("unable to store rule status: %w", err)
	}
	return nil
}

// EvaluateAll evaluates every evaluable rule whose scope covers one of the
// given accounts, or every evaluable rule when none are given.
func (e *Evaluator) EvaluateAll(ctx context.Context, accountIDs ...string) ([]domain.Evaluation, error) {
	rules, err := e.rules.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to list rules: %w", err)
	}

	asOf := e.now()
	var out []domain.Evaluation
	var errs []error
	for _, rule := range rules {
		if rule.Status != domain.RuleStatusActive && rule.Status != domain.RuleStatusError {
			continue
		}
		if !covers(rule.Scope, accountIDs) {
			continue
		}
		ev, err := e.Evaluate(ctx, rule, asOf)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("rule_id", rule.ID).Msg("alarm evaluation failed")
			errs = append(errs, err)
			continue
		}
		out = append(out, ev)
	}
	return out, errors.Join(errs...)
}

func covers(scope domain.Scope, accountIDs []string) bool {
	if len(accountIDs) == 0 || len(scope.AccountIDs) == 0 {
		return true
	}
	for _, id := range accountIDs {
		if slices.Contains(scope.AccountIDs, id) {
			return true
		}
	}
	return false
}

// Notify marks accounts as changed and wakes the evaluation loop. It never
// blocks; notifications arriving before the loop runs are merged.
func (e *Evaluator) Notify(accountIDs ...string) {
	e.mu.Lock()
	if len(accountIDs) == 0 {
		e.all = true
	}
	for _, id := range accountIDs {
		e.pending[id] = struct{}{}
	}
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// drain takes the accumulated notifications. A nil slice with ok set means
// every rule is due.
func (e *Evaluator) drain() (ids []string, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() {
		clear(e.pending)
		e.all = false
	}()

	if e.all {
		return nil, true
	}
	for id := range e.pending {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, len(ids) > 0
}

// Run evaluates on every notification and on each Interval tick until ctx
// is done.
func (e *Evaluator) Run(ctx context.Context) {
	logger := zerolog.Ctx(ctx)
	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("alarm evaluator stopped")
			return
		case <-ticker.C:
			if _, err := e.EvaluateAll(ctx); err != nil {
				logger.Warn().Err(err).Msg("scheduled alarm evaluation finished with errors")
			}
		case <-e.wake:
			ids, ok := e.drain()
			if !ok {
				continue
			}
			if _, err := e.EvaluateAll(ctx, ids...); err != nil {
				logger.Warn().Err(err).Strs("account_ids", ids).Msg("alarm evaluation after ingestion finished with errors")
			}
		}
	}
}
