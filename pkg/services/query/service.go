package query

import (
	"context"

	"github.com/de-tools/cost-atlas/pkg/errkind"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/de-tools/cost-atlas/pkg/services/aggregation"
	"github.com/de-tools/cost-atlas/pkg/services/alarm"
	"github.com/de-tools/cost-atlas/pkg/store"
)

// MaxPeriodDays bounds a single query range.
const MaxPeriodDays = 400

// API is the read-only surface offered to dashboards, exports and insight
// generators.
type API interface {
	CostSummary(ctx context.Context, scope domain.Scope, period domain.Period) (domain.Summary, error)
	CostCompare(ctx context.Context, scope domain.Scope, current, previous domain.Period) (domain.Comparison, error)
	CostBreakdown(
		ctx context.Context,
		scope domain.Scope,
		period domain.Period,
		dim domain.Dimension,
	) ([]domain.BreakdownItem, error)
	CostRecords(ctx context.Context, q domain.RecordQuery) (domain.RecordPage, error)
	Consistency(ctx context.Context, period domain.Period) (domain.ConsistencyReport, error)
	AlarmEvents(ctx context.Context, filter domain.EventFilter) (domain.EventPage, error)
}

type Service struct {
	agg    *aggregation.Aggregator
	costs  store.CostStore
	events alarm.EventManager
}

var _ API = (*Service)(nil)

func NewService(agg *aggregation.Aggregator, costs store.CostStore, events alarm.EventManager) *Service {
	return &Service{agg: agg, costs: costs, events: events}
}

func checkPeriod(p domain.Period) error {
	if !p.End.After(p.Start) {
		return errkind.New(errkind.InvalidInput, "period %s is empty", p)
	}
	if p.Days() > MaxPeriodDays {
		return errkind.New(errkind.InvalidInput, "period %s exceeds %d days", p, MaxPeriodDays)
	}
	return nil
}

func (s *Service) CostSummary(ctx context.Context, scope domain.Scope, period domain.Period) (domain.Summary, error) {
	if err := checkPeriod(period); err != nil {
		return domain.Summary{}, err
	}
	return s.agg.Summary(ctx, scope, period)
}

func (s *Service) CostCompare(
	ctx context.Context,
	scope domain.Scope,
	current, previous domain.Period,
) (domain.Comparison, error) {
	if err := checkPeriod(current); err != nil {
		return domain.Comparison{}, err
	}
	if err := checkPeriod(previous); err != nil {
		return domain.Comparison{}, err
	}
	return s.agg.Compare(ctx, scope, current, previous)
}

func (s *Service) CostBreakdown(
	ctx context.Context,
	scope domain.Scope,
	period domain.Period,
	dim domain.Dimension,
) ([]domain.BreakdownItem, error) {
	if err := checkPeriod(period); err != nil {
		return nil, err
	}
	return s.agg.Breakdown(ctx, scope, period, dim)
}

func (s *Service) CostRecords(ctx context.Context, q domain.RecordQuery) (domain.RecordPage, error) {
	if err := checkPeriod(q.Period); err != nil {
		return domain.RecordPage{}, err
	}
	switch q.Sort {
	case "":
		q.Sort = domain.SortDateDesc
	case domain.SortDateAsc, domain.SortDateDesc, domain.SortAmountAsc, domain.SortAmountDesc:
	default:
		return domain.RecordPage{}, errkind.New(errkind.InvalidInput, "unknown sort %q", q.Sort)
	}
	if q.Page < 0 || q.PageSize < 0 {
		return domain.RecordPage{}, errkind.New(errkind.InvalidInput, "page and page_size cannot be negative")
	}
	return s.costs.Records(ctx, q)
}

// Consistency audits the rollup invariant for period. Violations are part
// of the report; the error is reserved for failing to read the store.
func (s *Service) Consistency(ctx context.Context, period domain.Period) (domain.ConsistencyReport, error) {
	if err := checkPeriod(period); err != nil {
		return domain.ConsistencyReport{}, err
	}
	return s.agg.CheckConsistency(ctx, period)
}

func (s *Service) AlarmEvents(ctx context.Context, filter domain.EventFilter) (domain.EventPage, error) {
	if filter.Page < 0 || filter.PageSize < 0 {
		return domain.EventPage{}, errkind.New(errkind.InvalidInput, "page and page_size cannot be negative")
	}
	return s.events.List(ctx, filter)
}
