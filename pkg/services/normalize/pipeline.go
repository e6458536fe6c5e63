package normalize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

type Status string

const (
	StatusSuccess        Status = "success"
	StatusPartialSuccess Status = "partial_success"
	StatusFailed         Status = "failed"
)

type Quarantined struct {
	Item   domain.RawLineItem
	Reason string
}

type Result struct {
	Records     []domain.CostRecord
	Quarantined []Quarantined
	// Merged counts input items folded into another item with the same key.
	Merged int
	Status Status
}

// usdExponent fixes converted amounts to micro-dollars so restated batches
// compare equal.
const usdExponent = -6

var decimalCtx = apd.BaseContext.WithPrecision(34)

// Pipeline turns provider line items into canonical cost records. It keeps
// no state between calls.
type Pipeline struct {
	rates   RateSource
	catalog *Catalog
	now     func() time.Time
}

func NewPipeline(rates RateSource, catalog *Catalog) *Pipeline {
	if rates == nil {
		rates = DefaultRates()
	}
	if catalog == nil {
		catalog = NewCatalog()
	}
	return &Pipeline{rates: rates, catalog: catalog, now: time.Now}
}

type accumulator struct {
	record   domain.CostRecord
	amount   apd.Decimal
	usd      apd.Decimal
	quantity apd.Decimal
	mixed    bool
}

func (p *Pipeline) Normalize(ctx context.Context, batch []domain.RawLineItem) Result {
	logger := zerolog.Ctx(ctx)
	ingestedAt := p.now().UTC()

	var res Result
	order := make([]domain.NaturalKey, 0, len(batch))
	acc := make(map[domain.NaturalKey]*accumulator, len(batch))
	unmapped := make(map[string]bool)

	for _, item := range batch {
		rec, amount, usd, quantity, err := p.convert(item)
		if err != nil {
			res.Quarantined = append(res.Quarantined, Quarantined{Item: item, Reason: err.Error()})
			ev := logger.Warn().
				Str("provider", string(item.Provider)).
				Str("account_id", item.AccountID).
				Str("reason", err.Error())
			if len(item.Raw) > 0 && json.Valid(item.Raw) {
				ev = ev.RawJSON("raw", item.Raw)
			} else {
				ev = ev.Bytes("raw", item.Raw)
			}
			ev.Msg("quarantined line item")
			continue
		}
		rec.IngestedAt = ingestedAt

		if rec.Unmapped && !unmapped[rec.ServiceName] {
			unmapped[rec.ServiceName] = true
			logger.Info().
				Str("provider", string(rec.Provider)).
				Str("raw_service", rec.RawServiceName).
				Msg("unmapped service awaiting curation")
		}

		key := rec.Key()
		a, seen := acc[key]
		if !seen {
			a = &accumulator{record: rec}
			a.amount.Set(amount)
			a.usd.Set(usd)
			a.quantity.Set(quantity)
			acc[key] = a
			order = append(order, key)
			continue
		}

		res.Merged++
		if a.record.Currency != rec.Currency {
			a.mixed = true
		}
		_, _ = decimalCtx.Add(&a.amount, &a.amount, amount)
		_, _ = decimalCtx.Add(&a.usd, &a.usd, usd)
		_, _ = decimalCtx.Add(&a.quantity, &a.quantity, quantity)
		if a.record.UsageUnit == "" {
			a.record.UsageUnit = rec.UsageUnit
		}
	}

	res.Records = make([]domain.CostRecord, 0, len(order))
	for _, key := range order {
		a := acc[key]
		rec := a.record
		rec.AmountUSD = toFloat(&a.usd)
		rec.UsageQuantity = toFloat(&a.quantity)
		if a.mixed {
			// Items billed in different currencies only sum in USD.
			rec.Amount = rec.AmountUSD
			rec.Currency = "USD"
		} else {
			rec.Amount = toFloat(&a.amount)
		}
		res.Records = append(res.Records, rec)
	}

	switch {
	case len(res.Quarantined) == 0:
		res.Status = StatusSuccess
	case len(res.Records) == 0:
		res.Status = StatusFailed
	default:
		res.Status = StatusPartialSuccess
	}
	return res
}

func toFloat(d *apd.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func parseDecimal(field, s string, required bool) (*apd.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		if required {
			return nil, fmt.Errorf("missing %s", field)
		}
		return apd.New(0, 0), nil
	}
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", field, s)
	}
	if d.Form != apd.Finite {
		return nil, fmt.Errorf("invalid %s %q", field, s)
	}
	return d, nil
}

// convert validates one item and maps it onto the canonical schema. The
// decimal amounts are returned separately for exact summation.
func (p *Pipeline) convert(item domain.RawLineItem) (domain.CostRecord, *apd.Decimal, *apd.Decimal, *apd.Decimal, error) {
	var rec domain.CostRecord

	if _, err := domain.ParseProvider(string(item.Provider)); err != nil {
		return rec, nil, nil, nil, err
	}
	if strings.TrimSpace(item.AccountID) == "" {
		return rec, nil, nil, nil, fmt.Errorf("missing account id")
	}
	if strings.TrimSpace(item.Service) == "" {
		return rec, nil, nil, nil, fmt.Errorf("missing service")
	}
	day, err := domain.ParseDate(strings.TrimSpace(item.UsageDate))
	if err != nil {
		return rec, nil, nil, nil, fmt.Errorf("invalid usage date %q", item.UsageDate)
	}

	amount, err := parseDecimal("amount", item.Amount, true)
	if err != nil {
		return rec, nil, nil, nil, err
	}
	quantity, err := parseDecimal("usage quantity", item.UsageQuantity, false)
	if err != nil {
		return rec, nil, nil, nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(item.Currency))
	if currency == "" {
		currency = "USD"
	}
	rate, err := p.rates.USDRate(currency, day)
	if err != nil {
		return rec, nil, nil, nil, err
	}
	usd := new(apd.Decimal)
	if _, err := decimalCtx.Mul(usd, amount, rate); err != nil {
		return rec, nil, nil, nil, fmt.Errorf("convert %s to USD: %w", currency, err)
	}
	if _, err := decimalCtx.Quantize(usd, usd, usdExponent); err != nil {
		return rec, nil, nil, nil, fmt.Errorf("round USD amount: %w", err)
	}

	service, mapped := p.catalog.Canonical(item.Provider, item.Service)
	rec = domain.CostRecord{
		AccountID:      strings.TrimSpace(item.AccountID),
		Provider:       item.Provider,
		ServiceName:    service,
		RawServiceName: strings.TrimSpace(item.Service),
		Region:         CanonicalRegion(item.Region),
		Date:           day,
		Currency:       currency,
		UsageUnit:      CanonicalUnit(item.UsageUnit),
		Unmapped:       !mapped,
	}
	return rec, amount, usd, quantity, nil
}

// CanonicalRegion lower-cases region codes; provider placeholders for
// region-less usage become "global".
func CanonicalRegion(raw string) string {
	r := strings.ToLower(strings.TrimSpace(raw))
	switch r {
	case "", "global", "noregion", "unassigned", "none":
		return "global"
	}
	return r
}
