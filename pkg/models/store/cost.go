package store

import (
	"database/sql"
	"time"
)

// CostRow is the cost_records row shape. UsageDate is YYYY-MM-DD.
type CostRow struct {
	AccountID      string
	Provider       string
	ServiceName    string
	Region         string
	UsageDate      string
	RawServiceName sql.NullString
	Amount         float64
	Currency       string
	AmountUSD      float64
	UsageQuantity  float64
	UsageUnit      sql.NullString
	Unmapped       bool
	IngestedAt     time.Time
}

// Document is one row of the documents table.
type Document struct {
	Bucket    string
	Key       string
	Value     string
	UpdatedAt time.Time
}
