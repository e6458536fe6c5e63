package costs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/de-tools/cost-atlas/pkg/adapters"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
	modelstore "github.com/de-tools/cost-atlas/pkg/models/store"
	"github.com/de-tools/cost-atlas/pkg/store"
	"github.com/de-tools/cost-atlas/pkg/store/duckdb"
	"github.com/de-tools/cost-atlas/pkg/syncx"
)

var dimensionColumns = map[domain.Dimension]string{
	domain.DimensionAccount:  "account_id",
	domain.DimensionProvider: "provider",
	domain.DimensionService:  "service_name",
	domain.DimensionRegion:   "region",
}

var sortClauses = map[domain.SortOrder]string{
	domain.SortDateAsc:    "usage_date ASC",
	domain.SortDateDesc:   "usage_date DESC",
	domain.SortAmountAsc:  "amount_usd ASC",
	domain.SortAmountDesc: "amount_usd DESC",
}

const keyOrder = "account_id, provider, service_name, region"

// Store keeps cost records in DuckDB and computes rollups on read.
type Store struct {
	db    *sql.DB
	locks *syncx.KeyedMutex
}

var _ store.CostStore = (*Store)(nil)
var _ store.ConsistentReader = (*Store)(nil)

func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	return &Store{db: db, locks: syncx.NewKeyedMutex()}, nil
}

func (s *Store) Upsert(ctx context.Context, records []domain.CostRecord) (domain.UpsertStats, error) {
	var stats domain.UpsertStats
	if len(records) == 0 {
		return stats, nil
	}

	byAccount := make(map[string][]domain.CostRecord)
	for _, r := range records {
		byAccount[r.AccountID] = append(byAccount[r.AccountID], r)
	}

	for accountID, batch := range byAccount {
		unlock := s.locks.Lock(accountID)
		err := duckdb.InTransaction(ctx, s.db, func(ctx context.Context) error {
			return s.upsertBatch(ctx, batch, &stats)
		})
		unlock()
		if err != nil {
			return stats, fmt.Errorf("upsert records for account %s: %w", accountID, err)
		}
	}
	return stats, nil
}

func (s *Store) upsertBatch(ctx context.Context, batch []domain.CostRecord, stats *domain.UpsertStats) error {
	conn := duckdb.Conn(ctx, s.db)

	lookup := `
		SELECT amount, currency, amount_usd, usage_quantity, usage_unit
		FROM cost_records
		WHERE account_id = ? AND provider = ? AND service_name = ? AND region = ?
		  AND usage_date = CAST(? AS DATE)`

	write := `
		INSERT INTO cost_records (
			account_id, provider, service_name, region, usage_date,
			raw_service_name, amount, currency, amount_usd,
			usage_quantity, usage_unit, unmapped, ingested_at
		) VALUES (?, ?, ?, ?, CAST(? AS DATE), ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, provider, service_name, region, usage_date) DO UPDATE SET
			raw_service_name = excluded.raw_service_name,
			amount = excluded.amount,
			currency = excluded.currency,
			amount_usd = excluded.amount_usd,
			usage_quantity = excluded.usage_quantity,
			usage_unit = excluded.usage_unit,
			unmapped = excluded.unmapped,
			ingested_at = excluded.ingested_at`

	for _, record := range batch {
		row := adapters.MapDomainCostRecordToStoreRow(record)

		var existing modelstore.CostRow
		err := conn.QueryRowContext(ctx, lookup,
			row.AccountID, row.Provider, row.ServiceName, row.Region, row.UsageDate,
		).Scan(&existing.Amount, &existing.Currency, &existing.AmountUSD, &existing.UsageQuantity, &existing.UsageUnit)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			stats.Inserted++
		case err != nil:
			return fmt.Errorf("lookup record: %w", err)
		case existing.Amount == row.Amount &&
			existing.Currency == row.Currency &&
			existing.AmountUSD == row.AmountUSD &&
			existing.UsageQuantity == row.UsageQuantity &&
			existing.UsageUnit.String == row.UsageUnit.String:
			stats.Unchanged++
			continue
		default:
			stats.Updated++
		}

		_, err = conn.ExecContext(ctx, write,
			row.AccountID,
			row.Provider,
			row.ServiceName,
			row.Region,
			row.UsageDate,
			row.RawServiceName,
			row.Amount,
			row.Currency,
			row.AmountUSD,
			row.UsageQuantity,
			row.UsageUnit,
			row.Unmapped,
			row.IngestedAt,
		)
		if err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	return nil
}

func scopeClause(scope domain.Scope, period *domain.Period) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if period != nil {
		conds = append(conds, "usage_date >= CAST(? AS DATE)", "usage_date < CAST(? AS DATE)")
		args = append(args, period.Start.Format(domain.DateLayout), period.End.Format(domain.DateLayout))
	}
	for _, d := range domain.Dimensions {
		vals := scope.Values(d)
		if len(vals) == 0 {
			continue
		}
		placeholders := make([]string, len(vals))
		for i, v := range vals {
			placeholders[i] = "?"
			args = append(args, v)
		}
		conds = append(conds, fmt.Sprintf("%s IN (%s)", dimensionColumns[d], strings.Join(placeholders, ",")))
	}
	if len(conds) == 0 {
		return "TRUE", args
	}
	return strings.Join(conds, " AND "), args
}

func (s *Store) Buckets(
	ctx context.Context,
	scope domain.Scope,
	period domain.Period,
	groupBy []domain.Dimension,
) ([]domain.Bucket, error) {
	selects := make([]string, 0, len(domain.Dimensions))
	groups := []string{"usage_date"}
	for _, d := range domain.Dimensions {
		col := dimensionColumns[d]
		if slices.Contains(groupBy, d) {
			selects = append(selects, col)
			groups = append(groups, col)
		} else {
			selects = append(selects, fmt.Sprintf("'%s' AS %s", domain.Wildcard, col))
		}
	}

	where, args := scopeClause(scope, &period)
	query := fmt.Sprintf(`
		SELECT CAST(usage_date AS VARCHAR), %s,
		       SUM(amount_usd), SUM(usage_quantity), COUNT(*)
		FROM cost_records
		WHERE %s
		GROUP BY %s
		ORDER BY usage_date`,
		strings.Join(selects, ", "), where, strings.Join(groups, ", "))

	rows, err := duckdb.Conn(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query buckets: %w", err)
	}
	defer rows.Close()

	var out []domain.Bucket
	for rows.Next() {
		var (
			dayStr string
			vals   = make([]string, len(domain.Dimensions))
			b      domain.Bucket
			count  int64
		)
		dest := []any{&dayStr}
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		dest = append(dest, &b.AmountUSD, &b.UsageQuantity, &count)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}

		b.Date, err = domain.ParseDate(dayStr)
		if err != nil {
			return nil, err
		}
		for i, d := range domain.Dimensions {
			b.Key = b.Key.With(d, vals[i])
		}
		b.Records = int(count)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate buckets: %w", err)
	}

	store.SortBuckets(out)
	return out, nil
}

func (s *Store) Records(ctx context.Context, q domain.RecordQuery) (domain.RecordPage, error) {
	conn := duckdb.Conn(ctx, s.db)
	where, args := scopeClause(q.Scope, &q.Period)

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM cost_records WHERE %s", where)
	if err := conn.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return domain.RecordPage{}, fmt.Errorf("count records: %w", err)
	}

	page, size, start, _ := store.PageBounds(q.Page, q.PageSize, total)
	order, ok := sortClauses[q.Sort]
	if !ok {
		order = sortClauses[domain.SortDateDesc]
	}

	query := fmt.Sprintf(`
		SELECT account_id, provider, service_name, region, CAST(usage_date AS VARCHAR),
		       raw_service_name, amount, currency, amount_usd, usage_quantity, usage_unit,
		       unmapped, ingested_at
		FROM cost_records
		WHERE %s
		ORDER BY %s, %s
		LIMIT ? OFFSET ?`, where, order, keyOrder)

	rows, err := conn.QueryContext(ctx, query, append(args, size, start)...)
	if err != nil {
		return domain.RecordPage{}, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.CostRecord, 0)
	for rows.Next() {
		var row modelstore.CostRow
		if err := rows.Scan(
			&row.AccountID, &row.Provider, &row.ServiceName, &row.Region, &row.UsageDate,
			&row.RawServiceName, &row.Amount, &row.Currency, &row.AmountUSD, &row.UsageQuantity,
			&row.UsageUnit, &row.Unmapped, &row.IngestedAt,
		); err != nil {
			return domain.RecordPage{}, fmt.Errorf("scan record: %w", err)
		}
		record, err := adapters.MapStoreRowToDomainCostRecord(row)
		if err != nil {
			return domain.RecordPage{}, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return domain.RecordPage{}, fmt.Errorf("iterate records: %w", err)
	}

	return domain.RecordPage{Records: records, Page: page, PageSize: size, Total: total}, nil
}

func (s *Store) EarliestDate(ctx context.Context, scope domain.Scope) (*time.Time, error) {
	where, args := scopeClause(scope, nil)
	query := fmt.Sprintf("SELECT CAST(MIN(usage_date) AS VARCHAR) FROM cost_records WHERE %s", where)

	var first sql.NullString
	if err := duckdb.Conn(ctx, s.db).QueryRowContext(ctx, query, args...).Scan(&first); err != nil {
		return nil, fmt.Errorf("query earliest date: %w", err)
	}
	if !first.Valid {
		return nil, nil
	}
	t, err := domain.ParseDate(first.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Consistent runs fn inside one read transaction so every query sees the same snapshot.
func (s *Store) Consistent(ctx context.Context, fn func(ctx context.Context) error) error {
	return duckdb.InTransaction(ctx, s.db, fn)
}
