package adapters

import (
	"database/sql"
	"fmt"

	"github.com/de-tools/cost-atlas/pkg/models/api"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/de-tools/cost-atlas/pkg/models/store"
)

func MapDomainCostRecordToStoreRow(r domain.CostRecord) store.CostRow {
	return store.CostRow{
		AccountID:      r.AccountID,
		Provider:       string(r.Provider),
		ServiceName:    r.ServiceName,
		Region:         r.Region,
		UsageDate:      r.Date.Format(domain.DateLayout),
		RawServiceName: sql.NullString{String: r.RawServiceName, Valid: r.RawServiceName != ""},
		Amount:         r.Amount,
		Currency:       r.Currency,
		AmountUSD:      r.AmountUSD,
		UsageQuantity:  r.UsageQuantity,
		UsageUnit:      sql.NullString{String: r.UsageUnit, Valid: r.UsageUnit != ""},
		Unmapped:       r.Unmapped,
		IngestedAt:     r.IngestedAt.UTC(),
	}
}

func MapStoreRowToDomainCostRecord(row store.CostRow) (domain.CostRecord, error) {
	date, err := domain.ParseDate(row.UsageDate)
	if err != nil {
		return domain.CostRecord{}, fmt.Errorf("map cost row: %w", err)
	}
	return domain.CostRecord{
		AccountID:      row.AccountID,
		Provider:       domain.Provider(row.Provider),
		ServiceName:    row.ServiceName,
		RawServiceName: row.RawServiceName.String,
		Region:         row.Region,
		Date:           date,
		Amount:         row.Amount,
		Currency:       row.Currency,
		AmountUSD:      row.AmountUSD,
		UsageQuantity:  row.UsageQuantity,
		UsageUnit:      row.UsageUnit.String,
		Unmapped:       row.Unmapped,
		IngestedAt:     row.IngestedAt,
	}, nil
}

func MapCostRecordDomainToApi(r domain.CostRecord) api.CostRecord {
	return api.CostRecord{
		AccountID:      r.AccountID,
		Provider:       string(r.Provider),
		ServiceName:    r.ServiceName,
		RawServiceName: r.RawServiceName,
		Region:         r.Region,
		Date:           r.Date.Format(domain.DateLayout),
		Amount:         r.Amount,
		Currency:       r.Currency,
		AmountUSD:      r.AmountUSD,
		UsageQuantity:  r.UsageQuantity,
		UsageUnit:      r.UsageUnit,
		Unmapped:       r.Unmapped,
	}
}

func MapRecordPageDomainToApi(p domain.RecordPage) api.RecordPage {
	records := make([]api.CostRecord, 0, len(p.Records))
	for _, r := range p.Records {
		records = append(records, MapCostRecordDomainToApi(r))
	}
	return api.RecordPage{
		Records:  records,
		Page:     p.Page,
		PageSize: p.PageSize,
		Total:    p.Total,
	}
}

func MapPeriodDomainToApi(p domain.Period) api.Period {
	return api.Period{
		From: p.Start.Format(domain.DateLayout),
		To:   p.End.Format(domain.DateLayout),
		Days: p.Days(),
	}
}

func MapTotalsDomainToApi(t domain.Totals) api.Totals {
	return api.Totals{
		AmountUSD:     t.AmountUSD,
		UsageQuantity: t.UsageQuantity,
		Records:       t.Records,
	}
}

func MapComparisonDomainToApi(c domain.Comparison) api.Comparison {
	return api.Comparison{
		Previous:      MapTotalsDomainToApi(c.Previous),
		AbsoluteDelta: c.AbsoluteDelta,
		PercentDelta:  c.PercentDelta,
	}
}

func MapSummaryDomainToApi(s domain.Summary) api.CostSummary {
	return api.CostSummary{
		Period:     MapPeriodDomainToApi(s.Period),
		Total:      MapTotalsDomainToApi(s.Total),
		Comparison: MapComparisonDomainToApi(s.Comparison),
	}
}

func MapBreakdownDomainToApi(dim domain.Dimension, p domain.Period, items []domain.BreakdownItem) api.CostBreakdown {
	out := api.CostBreakdown{
		Dimension: string(dim),
		Period:    MapPeriodDomainToApi(p),
		Items:     make([]api.BreakdownItem, 0, len(items)),
	}
	for _, it := range items {
		out.Items = append(out.Items, api.BreakdownItem{
			Value:      it.Value,
			Cost:       it.AmountUSD,
			Percentage: it.Percentage,
		})
	}
	return out
}

func MapConsistencyDomainToApi(r domain.ConsistencyReport) api.ConsistencyReport {
	out := api.ConsistencyReport{
		Period:     MapPeriodDomainToApi(r.Period),
		Consistent: r.Consistent(),
		Mismatches: make([]api.DimensionMismatch, 0, len(r.Mismatches)),
	}
	for _, m := range r.Mismatches {
		out.Mismatches = append(out.Mismatches, api.DimensionMismatch{
			Dimension:    string(m.Dimension),
			Value:        m.Value,
			PerAccount:   m.PerAccount,
			AllAccounts:  m.AllAccounts,
			AbsoluteDiff: m.Diff(),
		})
	}
	return out
}

// MapSyncReportDomainToApi keeps only the kind and message of a sync error.
func MapSyncReportDomainToApi(r domain.SyncReport) api.SyncReport {
	out := api.SyncReport{
		AccountID:   r.AccountID,
		Period:      MapPeriodDomainToApi(r.Period),
		Status:      string(r.Status),
		Fetched:     r.Fetched,
		Written:     r.Written,
		Unchanged:   r.Unchanged,
		Quarantined: r.Quarantined,
	}
	if r.Err != nil {
		e := MapErrorToApi(r.Err)
		out.Error = &e
	}
	return out
}
