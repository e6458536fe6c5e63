package alarm

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/de-tools/cost-atlas/pkg/errkind"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
)

const (
	defaultThresholdWindow  = 1
	defaultEfficiencyWindow = 7
	defaultTolerancePct     = 10
)

// measurement is what a rule observed for one window, before debouncing.
type measurement struct {
	triggered bool
	dormant   bool
	reason    string
	current   float64
	threshold float64
	// ratio is how far current sits past threshold; 1 means at threshold.
	ratio     float64
	windowKey string
}

func dormant(format string, args ...any) measurement {
	return measurement{dormant: true, reason: errkind.New(errkind.InsufficientHistory, format, args...).Error()}
}

func (e *Evaluator) measure(ctx context.Context, rule domain.AlarmRule, asOf time.Time) (measurement, error) {
	switch rule.Type {
	case domain.RuleTypeThreshold:
		return e.measureThreshold(ctx, rule, asOf)
	case domain.RuleTypeBudget:
		return e.measureBudget(ctx, rule, asOf)
	case domain.RuleTypeForecast:
		return e.measureForecast(ctx, rule, asOf)
	case domain.RuleTypeAnomaly:
		return e.measureAnomaly(ctx, rule, asOf)
	case domain.RuleTypeEfficiency:
		return e.measureEfficiency(ctx, rule, asOf)
	default:
		return measurement{}, errkind.New(errkind.InvalidInput, "unknown rule type %q", rule.Type)
	}
}

func (e *Evaluator) measureThreshold(ctx context.Context, rule domain.AlarmRule, asOf time.Time) (measurement, error) {
	days := rule.Config.WindowDays
	if days <= 0 {
		days = defaultThresholdWindow
	}
	window := domain.Trailing(asOf, days)
	total, err := e.costs.Total(ctx, rule.Scope, window)
	if err != nil {
		return measurement{}, err
	}

	op := rule.Config.Operator
	hit, err := op.Compare(total.AmountUSD, rule.Config.Threshold)
	if err != nil {
		return measurement{}, errkind.Wrap(errkind.InvalidInput, err, "rule %s", rule.ID)
	}
	m := measurement{
		triggered: hit,
		current:   total.AmountUSD,
		threshold: rule.Config.Threshold,
		windowKey: "threshold:" + window.String(),
	}
	if op == domain.OpLess || op == domain.OpLessEqual {
		m.ratio = ratio(m.threshold, m.current)
	} else {
		m.ratio = ratio(m.current, m.threshold)
	}
	return m, nil
}

// measureBudget projects month-to-date spend linearly over the whole month.
func (e *Evaluator) measureBudget(ctx context.Context, rule domain.AlarmRule, asOf time.Time) (measurement, error) {
	mtd := domain.MonthToDate(asOf)
	total, err := e.costs.Total(ctx, rule.Scope, mtd)
	if err != nil {
		return measurement{}, err
	}

	projected := total.AmountUSD
	if elapsed, days := mtd.Days(), domain.DaysInMonth(asOf); elapsed < days {
		projected = total.AmountUSD / float64(elapsed) * float64(days)
	}
	return measurement{
		triggered: projected > rule.Config.Budget,
		current:   round2(projected),
		threshold: rule.Config.Budget,
		ratio:     ratio(projected, rule.Config.Budget),
		windowKey: "budget:" + mtd.Start.Format("2006-01"),
	}, nil
}

// measureForecast adds the trailing daily mean for every remaining day of the
// month to month-to-date spend.
func (e *Evaluator) measureForecast(ctx context.Context, rule domain.AlarmRule, asOf time.Time) (measurement, error) {
	days := rule.Config.WindowDays
	if days < e.opts.ForecastWindowDays {
		days = e.opts.ForecastWindowDays
	}
	trailing := domain.Trailing(asOf, days)
	if ok, err := e.hasHistory(ctx, rule.Scope, trailing.Start); err != nil || !ok {
		if err != nil {
			return measurement{}, err
		}
		return dormant("forecast needs %d days of history", days), nil
	}

	mtd := domain.MonthToDate(asOf)
	spent, err := e.costs.Total(ctx, rule.Scope, mtd)
	if err != nil {
		return measurement{}, err
	}
	recent, err := e.costs.Total(ctx, rule.Scope, trailing)
	if err != nil {
		return measurement{}, err
	}

	remaining := domain.DaysInMonth(asOf) - mtd.Days()
	forecast := spent.AmountUSD + recent.AmountUSD/float64(days)*float64(remaining)
	limit := rule.Config.Budget
	if limit == 0 {
		limit = rule.Config.Threshold
	}
	return measurement{
		triggered: forecast > limit,
		current:   round2(forecast),
		threshold: limit,
		ratio:     ratio(forecast, limit),
		windowKey: "forecast:" + mtd.Start.Format("2006-01"),
	}, nil
}

// measureAnomaly compares the as-of day with the mean and standard deviation
// of the preceding trailing days.
func (e *Evaluator) measureAnomaly(ctx context.Context, rule domain.AlarmRule, asOf time.Time) (measurement, error) {
	trailingDays := rule.Config.TrailingDays
	if trailingDays <= 0 {
		trailingDays = e.opts.DefaultTrailingDays
	}
	k := rule.Config.StdDevs
	if k <= 0 {
		k = e.opts.DefaultStdDevs
	}

	today := domain.SingleDay(asOf)
	history := domain.Period{Start: today.Start.AddDate(0, 0, -trailingDays), End: today.Start}
	if ok, err := e.hasHistory(ctx, rule.Scope, history.Start); err != nil || !ok {
		if err != nil {
			return measurement{}, err
		}
		return dormant("anomaly detection needs %d days of history", trailingDays), nil
	}

	daily, err := e.costs.Daily(ctx, rule.Scope, history)
	if err != nil {
		return measurement{}, err
	}
	current, err := e.costs.Total(ctx, rule.Scope, today)
	if err != nil {
		return measurement{}, err
	}

	mean, sd := meanStdDev(daily)
	upper, lower := mean+k*sd, mean-k*sd
	m := measurement{
		current:   current.AmountUSD,
		windowKey: "anomaly:" + today.Start.Format(domain.DateLayout),
	}
	switch {
	case current.AmountUSD > upper:
		m.triggered, m.threshold = true, round2(upper)
	case current.AmountUSD < lower:
		m.triggered, m.threshold = true, round2(lower)
	default:
		m.threshold = round2(upper)
	}
	if spread := math.Abs(m.threshold - mean); spread > 0 {
		m.ratio = math.Abs(current.AmountUSD-mean) / spread
	} else if m.triggered {
		m.ratio = math.Inf(1)
	}
	return m, nil
}

// measureEfficiency compares cost per usage unit between the current window
// and the window before it.
func (e *Evaluator) measureEfficiency(ctx context.Context, rule domain.AlarmRule, asOf time.Time) (measurement, error) {
	days := rule.Config.WindowDays
	if days <= 0 {
		days = defaultEfficiencyWindow
	}
	tolerance := rule.Config.TolerancePct
	if tolerance <= 0 {
		tolerance = defaultTolerancePct
	}

	current := domain.Trailing(asOf, days)
	cur, err := e.costs.Total(ctx, rule.Scope, current)
	if err != nil {
		return measurement{}, err
	}
	prev, err := e.costs.Total(ctx, rule.Scope, current.Previous())
	if err != nil {
		return measurement{}, err
	}
	if cur.UsageQuantity <= 0 || prev.UsageQuantity <= 0 || prev.AmountUSD <= 0 {
		return dormant("no usage recorded in %s or the window before", current), nil
	}

	curUnit := cur.AmountUSD / cur.UsageQuantity
	prevUnit := prev.AmountUSD / prev.UsageQuantity
	limit := prevUnit * (1 + tolerance/100)
	return measurement{
		triggered: curUnit > limit,
		current:   round6(curUnit),
		threshold: round6(limit),
		ratio:     ratio(curUnit, limit),
		windowKey: "efficiency:" + current.String(),
	}, nil
}

func (e *Evaluator) hasHistory(ctx context.Context, scope domain.Scope, since time.Time) (bool, error) {
	first, err := e.costs.EarliestDate(ctx, scope)
	if err != nil {
		return false, fmt.Errorf("unable to read history for scope: %w", err)
	}
	return first != nil && !first.After(since), nil
}

func meanStdDev(days []domain.DailyTotal) (float64, float64) {
	if len(days) == 0 {
		return 0, 0
	}
	var sum float64
	for _, d := range days {
		sum += d.AmountUSD
	}
	mean := sum / float64(len(days))
	var sq float64
	for _, d := range days {
		diff := d.AmountUSD - mean
		sq += diff * diff
	}
	return mean, math.Sqrt(sq / float64(len(days)))
}

func ratio(value, threshold float64) float64 {
	if threshold == 0 {
		if value > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return value / threshold
}

// severityFor grades a breach by how far past the threshold it landed.
func severityFor(override domain.Severity, ratio float64) domain.Severity {
	if override != "" {
		return override
	}
	switch {
	case ratio >= 2:
		return domain.SeverityCritical
	case ratio >= 1.5:
		return domain.SeverityHigh
	case ratio >= 1.2:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
