package aggregation

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/de-tools/cost-atlas/pkg/errkind"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/de-tools/cost-atlas/pkg/store"
	"github.com/rs/zerolog"
)

// consistencyTolerance absorbs float summation order differences between
// the per-account and all-accounts rollups.
const consistencyTolerance = 1e-6

type Reader interface {
	Total(ctx context.Context, scope domain.Scope, period domain.Period) (domain.Totals, error)
	Daily(ctx context.Context, scope domain.Scope, period domain.Period) ([]domain.DailyTotal, error)
	Breakdown(
		ctx context.Context,
		scope domain.Scope,
		period domain.Period,
		dim domain.Dimension,
	) ([]domain.BreakdownItem, error)
	Compare(ctx context.Context, scope domain.Scope, current, previous domain.Period) (domain.Comparison, error)
	Summary(ctx context.Context, scope domain.Scope, period domain.Period) (domain.Summary, error)
	EarliestDate(ctx context.Context, scope domain.Scope) (*time.Time, error)
}

// Aggregator answers rollup queries over a cost store.
type Aggregator struct {
	costs store.CostStore
}

var _ Reader = (*Aggregator)(nil)

func NewAggregator(costs store.CostStore) *Aggregator {
	return &Aggregator{costs: costs}
}

func (a *Aggregator) Total(ctx context.Context, scope domain.Scope, period domain.Period) (domain.Totals, error) {
	buckets, err := a.costs.Buckets(ctx, scope, period, nil)
	if err != nil {
		return domain.Totals{}, fmt.Errorf("unable to total costs for %s: %w", period, err)
	}
	var t domain.Totals
	for _, b := range buckets {
		t = t.Add(b.Totals)
	}
	return t, nil
}

// Daily returns one entry per day of the period; days without data are zero.
func (a *Aggregator) Daily(ctx context.Context, scope domain.Scope, period domain.Period) ([]domain.DailyTotal, error) {
	buckets, err := a.costs.Buckets(ctx, scope, period, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to load daily costs for %s: %w", period, err)
	}

	byDay := make(map[time.Time]domain.Totals, len(buckets))
	for _, b := range buckets {
		d := domain.Day(b.Date)
		byDay[d] = byDay[d].Add(b.Totals)
	}

	out := make([]domain.DailyTotal, 0, period.Days())
	period.EachDay(func(day time.Time) {
		out = append(out, domain.DailyTotal{Date: day, Totals: byDay[day]})
	})
	return out, nil
}

// Breakdown splits the period total by one dimension, largest first.
// Percentages are of the summed amounts and are zero when the total is zero.
func (a *Aggregator) Breakdown(
	ctx context.Context,
	scope domain.Scope,
	period domain.Period,
	dim domain.Dimension,
) ([]domain.BreakdownItem, error) {
	if _, ok := domain.ParseDimension(string(dim)); !ok {
		return nil, errkind.New(errkind.InvalidInput, "unknown dimension %q", dim)
	}

	sums, err := a.sumBy(ctx, scope, period, dim, false)
	if err != nil {
		return nil, fmt.Errorf("unable to break down costs by %s: %w", dim, err)
	}

	var total float64
	items := make([]domain.BreakdownItem, 0, len(sums))
	for v, amount := range sums {
		total += amount
		items = append(items, domain.BreakdownItem{Value: v, AmountUSD: amount})
	}
	for i := range items {
		if total != 0 {
			items[i].Percentage = round2(items[i].AmountUSD / total * 100)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].AmountUSD != items[j].AmountUSD {
			return items[i].AmountUSD > items[j].AmountUSD
		}
		return items[i].Value < items[j].Value
	})
	return items, nil
}

// Compare reports current against previous. Both periods must cover the same
// number of days.
func (a *Aggregator) Compare(
	ctx context.Context,
	scope domain.Scope,
	current, previous domain.Period,
) (domain.Comparison, error) {
	if current.Days() != previous.Days() {
		return domain.Comparison{}, errkind.New(errkind.InvalidInput,
			"periods differ in length: %d and %d days", current.Days(), previous.Days())
	}

	cur, err := a.Total(ctx, scope, current)
	if err != nil {
		return domain.Comparison{}, err
	}
	prev, err := a.Total(ctx, scope, previous)
	if err != nil {
		return domain.Comparison{}, err
	}
	return compareTotals(cur, prev), nil
}

func compareTotals(cur, prev domain.Totals) domain.Comparison {
	c := domain.Comparison{
		Current:       cur,
		Previous:      prev,
		AbsoluteDelta: round6(cur.AmountUSD - prev.AmountUSD),
	}
	if prev.AmountUSD != 0 {
		pct := round2((cur.AmountUSD - prev.AmountUSD) / math.Abs(prev.AmountUSD) * 100)
		c.PercentDelta = &pct
	}
	return c
}

// Summary totals the period and compares it with the preceding period of the
// same length.
func (a *Aggregator) Summary(ctx context.Context, scope domain.Scope, period domain.Period) (domain.Summary, error) {
	cmp, err := a.Compare(ctx, scope, period, period.Previous())
	if err != nil {
		return domain.Summary{}, err
	}
	return domain.Summary{
		Scope:      scope,
		Period:     period,
		Total:      cmp.Current,
		Comparison: cmp,
	}, nil
}

func (a *Aggregator) EarliestDate(ctx context.Context, scope domain.Scope) (*time.Time, error) {
	return a.costs.EarliestDate(ctx, scope)
}

// CheckConsistency compares, for every dimension, the sum of per-account
// buckets with the all-accounts rollup. Mismatches are logged as invariant
// violations and reported, never corrected.
func (a *Aggregator) CheckConsistency(ctx context.Context, period domain.Period) (domain.ConsistencyReport, error) {
	report := domain.ConsistencyReport{Period: period}

	run := func(ctx context.Context) error {
		for _, dim := range domain.Dimensions {
			if dim == domain.DimensionAccount {
				continue
			}
			perAccount, err := a.sumBy(ctx, domain.Scope{}, period, dim, true)
			if err != nil {
				return err
			}
			all, err := a.sumBy(ctx, domain.Scope{}, period, dim, false)
			if err != nil {
				return err
			}
			report.Mismatches = append(report.Mismatches, mismatches(dim, perAccount, all)...)
		}

		perAccount, err := a.sumBy(ctx, domain.Scope{}, period, domain.DimensionAccount, false)
		if err != nil {
			return err
		}
		var accounts float64
		for _, v := range perAccount {
			accounts += v
		}
		total, err := a.Total(ctx, domain.Scope{}, period)
		if err != nil {
			return err
		}
		report.Mismatches = append(report.Mismatches, mismatches(
			domain.DimensionAccount,
			map[string]float64{domain.Wildcard: accounts},
			map[string]float64{domain.Wildcard: total.AmountUSD},
		)...)
		return nil
	}

	var err error
	if cr, ok := a.costs.(store.ConsistentReader); ok {
		err = cr.Consistent(ctx, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		return domain.ConsistencyReport{}, fmt.Errorf("unable to check rollup consistency for %s: %w", period, err)
	}

	logger := zerolog.Ctx(ctx)
	for _, m := range report.Mismatches {
		violation := errkind.New(errkind.InvariantViolation,
			"%s %q: per-account sum %.6f differs from rollup %.6f", m.Dimension, m.Value, m.PerAccount, m.AllAccounts)
		logger.Error().
			Err(violation).
			Str("kind", string(errkind.InvariantViolation)).
			Str("period", period.String()).
			Str("dimension", string(m.Dimension)).
			Str("value", m.Value).
			Float64("diff", m.Diff()).
			Msg("rollup invariant violated")
	}
	return report, nil
}

// sumBy totals amount_usd per value of dim. With perAccount set the buckets
// are additionally grouped by account, so the sum is taken over the
// per-account partitions rather than the all-accounts rollup.
func (a *Aggregator) sumBy(
	ctx context.Context,
	scope domain.Scope,
	period domain.Period,
	dim domain.Dimension,
	perAccount bool,
) (map[string]float64, error) {
	groupBy := []domain.Dimension{dim}
	if perAccount && dim != domain.DimensionAccount {
		groupBy = append(groupBy, domain.DimensionAccount)
	}
	buckets, err := a.costs.Buckets(ctx, scope, period, groupBy)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, b := range buckets {
		out[b.Key.Get(dim)] += b.AmountUSD
	}
	return out, nil
}

func mismatches(dim domain.Dimension, perAccount, all map[string]float64) []domain.DimensionMismatch {
	values := make(map[string]struct{}, len(all))
	for v := range perAccount {
		values[v] = struct{}{}
	}
	for v := range all {
		values[v] = struct{}{}
	}

	var out []domain.DimensionMismatch
	for v := range values {
		m := domain.DimensionMismatch{Dimension: dim, Value: v, PerAccount: perAccount[v], AllAccounts: all[v]}
		if m.Diff() > consistencyTolerance {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
