package store

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/de-tools/cost-atlas/pkg/models/domain"
)

// ConsistentReader is implemented by cost stores able to run several reads
// against one consistent view. Rollup audits use it when available.
type ConsistentReader interface {
	Consistent(ctx context.Context, fn func(ctx context.Context) error) error
}

// Project maps a stored rollup key onto the key reported for a query. Stored
// keys carry either a concrete value or Wildcard per dimension. A dimension
// that is grouped or filtered needs the concrete value; any other dimension
// needs the stored wildcard so each fact is counted once. Dimensions outside
// groupBy are reported as Wildcard.
func Project(k domain.BucketKey, scope domain.Scope, groupBy []domain.Dimension) (domain.BucketKey, bool) {
	out := k
	for _, d := range domain.Dimensions {
		grouped := slices.Contains(groupBy, d)
		filter := scope.Values(d)
		v := k.Get(d)

		if grouped || len(filter) > 0 {
			if v == domain.Wildcard {
				return domain.BucketKey{}, false
			}
			if len(filter) > 0 && !slices.Contains(filter, v) {
				return domain.BucketKey{}, false
			}
		} else if v != domain.Wildcard {
			return domain.BucketKey{}, false
		}

		if !grouped {
			out = out.With(d, domain.Wildcard)
		}
	}
	return out, true
}

// SortBuckets orders buckets by date, then by key.
func SortBuckets(buckets []domain.Bucket) {
	sort.Slice(buckets, func(i, j int) bool {
		if !buckets[i].Date.Equal(buckets[j].Date) {
			return buckets[i].Date.Before(buckets[j].Date)
		}
		return keyString(buckets[i].Key) < keyString(buckets[j].Key)
	})
}

func keyString(k domain.BucketKey) string {
	return strings.Join([]string{k.AccountID, k.Provider, k.Service, k.Region}, "\x00")
}

// SortRecords orders records in place. Ties fall back to the natural key so
// pagination is stable.
func SortRecords(records []domain.CostRecord, order domain.SortOrder) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		switch order {
		case domain.SortAmountAsc:
			if a.AmountUSD != b.AmountUSD {
				return a.AmountUSD < b.AmountUSD
			}
		case domain.SortAmountDesc:
			if a.AmountUSD != b.AmountUSD {
				return a.AmountUSD > b.AmountUSD
			}
		case domain.SortDateAsc:
			if !a.Date.Equal(b.Date) {
				return a.Date.Before(b.Date)
			}
		default:
			if !a.Date.Equal(b.Date) {
				return a.Date.After(b.Date)
			}
		}
		return recordKeyString(a) < recordKeyString(b)
	})
}

func recordKeyString(r domain.CostRecord) string {
	k := r.Key()
	return strings.Join([]string{k.Date, k.AccountID, string(k.Provider), k.ServiceName, k.Region}, "\x00")
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// PageBounds normalizes paging parameters and returns the slice bounds for total items.
func PageBounds(page, pageSize, total int) (int, int, int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return page, pageSize, start, end
}

// Earliest keeps the smaller of a tracked minimum and a new date.
func Earliest(current *time.Time, candidate time.Time) *time.Time {
	if current == nil || candidate.Before(*current) {
		return &candidate
	}
	return current
}
