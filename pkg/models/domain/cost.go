package domain

import (
	"slices"
	"time"
)

// Wildcard stands for "all values" of a bucket dimension.
const Wildcard = "*"

// RawLineItem is a provider-native billing row before normalization. Numeric
// fields stay textual so the pipeline decides how to parse them.
type RawLineItem struct {
	Provider      Provider
	AccountID     string
	Service       string
	Region        string
	UsageDate     string
	Amount        string
	Currency      string
	UsageQuantity string
	UsageUnit     string
	Raw           []byte
}

// CostRecord is the canonical, immutable cost fact.
type CostRecord struct {
	AccountID      string
	Provider       Provider
	ServiceName    string
	RawServiceName string
	Region         string
	Date           time.Time
	Amount         float64
	Currency       string
	AmountUSD      float64
	UsageQuantity  float64
	UsageUnit      string
	Unmapped       bool
	IngestedAt     time.Time
}

type NaturalKey struct {
	AccountID   string
	Provider    Provider
	ServiceName string
	Region      string
	Date        string
}

func (r CostRecord) Key() NaturalKey {
	return NaturalKey{
		AccountID:   r.AccountID,
		Provider:    r.Provider,
		ServiceName: r.ServiceName,
		Region:      r.Region,
		Date:        r.Date.Format(DateLayout),
	}
}

// SameFact reports whether two records carry identical measured values.
func (r CostRecord) SameFact(o CostRecord) bool {
	return r.Key() == o.Key() &&
		r.Amount == o.Amount &&
		r.Currency == o.Currency &&
		r.AmountUSD == o.AmountUSD &&
		r.UsageQuantity == o.UsageQuantity &&
		r.UsageUnit == o.UsageUnit
}

type Dimension string

const (
	DimensionAccount  Dimension = "account"
	DimensionService  Dimension = "service"
	DimensionRegion   Dimension = "region"
	DimensionProvider Dimension = "provider"
)

var Dimensions = []Dimension{DimensionAccount, DimensionService, DimensionRegion, DimensionProvider}

func ParseDimension(s string) (Dimension, bool) {
	d := Dimension(s)
	return d, slices.Contains(Dimensions, d)
}

// Scope filters cost data. An empty list means every value of that dimension.
type Scope struct {
	AccountIDs []string
	Services   []string
	Regions    []string
	Providers  []string
}

func (s Scope) Values(d Dimension) []string {
	switch d {
	case DimensionAccount:
		return s.AccountIDs
	case DimensionService:
		return s.Services
	case DimensionRegion:
		return s.Regions
	case DimensionProvider:
		return s.Providers
	}
	return nil
}

func (s Scope) Matches(k BucketKey) bool {
	for _, d := range Dimensions {
		vals := s.Values(d)
		if len(vals) > 0 && !slices.Contains(vals, k.Get(d)) {
			return false
		}
	}
	return true
}

func (s Scope) MatchesRecord(r CostRecord) bool {
	return s.Matches(BucketKeyOf(r))
}

// BucketKey addresses a rollup bucket; any field may be Wildcard.
type BucketKey struct {
	AccountID string
	Provider  string
	Service   string
	Region    string
}

func BucketKeyOf(r CostRecord) BucketKey {
	return BucketKey{
		AccountID: r.AccountID,
		Provider:  string(r.Provider),
		Service:   r.ServiceName,
		Region:    r.Region,
	}
}

func (k BucketKey) Get(d Dimension) string {
	switch d {
	case DimensionAccount:
		return k.AccountID
	case DimensionService:
		return k.Service
	case DimensionRegion:
		return k.Region
	case DimensionProvider:
		return k.Provider
	}
	return ""
}

func (k BucketKey) With(d Dimension, v string) BucketKey {
	switch d {
	case DimensionAccount:
		k.AccountID = v
	case DimensionService:
		k.Service = v
	case DimensionRegion:
		k.Region = v
	case DimensionProvider:
		k.Provider = v
	}
	return k
}

// Rollups returns every key the record contributes to: each dimension either
// kept or replaced by Wildcard.
func (k BucketKey) Rollups() []BucketKey {
	keys := []BucketKey{k}
	for _, d := range Dimensions {
		n := len(keys)
		for i := 0; i < n; i++ {
			keys = append(keys, keys[i].With(d, Wildcard))
		}
	}
	return keys
}

type Totals struct {
	AmountUSD     float64
	UsageQuantity float64
	Records       int
}

func (t Totals) Add(o Totals) Totals {
	return Totals{
		AmountUSD:     t.AmountUSD + o.AmountUSD,
		UsageQuantity: t.UsageQuantity + o.UsageQuantity,
		Records:       t.Records + o.Records,
	}
}

func (t Totals) Sub(o Totals) Totals {
	return Totals{
		AmountUSD:     t.AmountUSD - o.AmountUSD,
		UsageQuantity: t.UsageQuantity - o.UsageQuantity,
		Records:       t.Records - o.Records,
	}
}

func TotalsOf(r CostRecord) Totals {
	return Totals{AmountUSD: r.AmountUSD, UsageQuantity: r.UsageQuantity, Records: 1}
}

type Bucket struct {
	Key  BucketKey
	Date time.Time
	Totals
}

type DailyTotal struct {
	Date time.Time
	Totals
}

type BreakdownItem struct {
	Value      string
	AmountUSD  float64
	Percentage float64
}

type Comparison struct {
	Current       Totals
	Previous      Totals
	AbsoluteDelta float64
	// PercentDelta is nil when the previous period total is zero.
	PercentDelta *float64
}

type Summary struct {
	Scope      Scope
	Period     Period
	Total      Totals
	Comparison Comparison
}

type SortOrder string

const (
	SortDateAsc    SortOrder = "date"
	SortDateDesc   SortOrder = "-date"
	SortAmountAsc  SortOrder = "amount"
	SortAmountDesc SortOrder = "-amount"
)

type RecordQuery struct {
	Scope    Scope
	Period   Period
	Page     int
	PageSize int
	Sort     SortOrder
}

type RecordPage struct {
	Records  []CostRecord
	Page     int
	PageSize int
	Total    int
}

// UpsertStats counts the effect of one cost store write.
type UpsertStats struct {
	Inserted  int
	Updated   int
	Unchanged int
}

// DimensionMismatch is one value whose per-account sum disagrees with the
// all-accounts rollup.
type DimensionMismatch struct {
	Dimension   Dimension
	Value       string
	PerAccount  float64
	AllAccounts float64
}

func (m DimensionMismatch) Diff() float64 {
	d := m.PerAccount - m.AllAccounts
	if d < 0 {
		return -d
	}
	return d
}

type ConsistencyReport struct {
	Period     Period
	Mismatches []DimensionMismatch
}

func (r ConsistencyReport) Consistent() bool {
	return len(r.Mismatches) == 0
}
