package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/de-tools/cost-atlas/pkg/store"
)

type dayBuckets map[time.Time]map[domain.BucketKey]domain.Totals

func (b dayBuckets) apply(day time.Time, key domain.BucketKey, delta domain.Totals) {
	byKey, ok := b[day]
	if !ok {
		byKey = make(map[domain.BucketKey]domain.Totals)
		b[day] = byKey
	}
	next := byKey[key].Add(delta)
	if next.Records == 0 {
		delete(byKey, key)
		return
	}
	byKey[key] = next
}

// slice copies the days of period so they can be read without the lock.
func (b dayBuckets) slice(period domain.Period) dayBuckets {
	out := make(dayBuckets)
	period.EachDay(func(day time.Time) {
		if byKey, ok := b[day]; ok {
			out[day] = maps.Clone(byKey)
		}
	})
	return out
}

// partition owns one account's records and its per-account rollups.
type partition struct {
	mu      sync.RWMutex
	records map[domain.NaturalKey]domain.CostRecord
	buckets dayBuckets
}

// CostStore keeps rollups current on every write. Each account is a separate
// partition with its own lock; the all-accounts rollup is updated under the
// partition lock in the same write so both views move together.
type CostStore struct {
	// gate is shared by writers and taken exclusively by consistent reads.
	gate sync.RWMutex

	mu         sync.RWMutex
	partitions map[string]*partition

	globalMu sync.RWMutex
	global   dayBuckets
}

var _ store.CostStore = (*CostStore)(nil)
var _ store.ConsistentReader = (*CostStore)(nil)

func NewCostStore() *CostStore {
	return &CostStore{
		partitions: make(map[string]*partition),
		global:     make(dayBuckets),
	}
}

func (s *CostStore) partition(accountID string, create bool) *partition {
	s.mu.RLock()
	p, ok := s.partitions[accountID]
	s.mu.RUnlock()
	if ok || !create {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.partitions[accountID]; ok {
		return p
	}
	p = &partition{
		records: make(map[domain.NaturalKey]domain.CostRecord),
		buckets: make(dayBuckets),
	}
	s.partitions[accountID] = p
	return p
}

func (s *CostStore) Upsert(ctx context.Context, records []domain.CostRecord) (domain.UpsertStats, error) {
	var stats domain.UpsertStats
	if len(records) == 0 {
		return stats, nil
	}

	byAccount := make(map[string][]domain.CostRecord)
	for _, r := range records {
		byAccount[r.AccountID] = append(byAccount[r.AccountID], r)
	}

	s.gate.RLock()
	defer s.gate.RUnlock()

	for accountID, batch := range byAccount {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		s.upsertPartition(s.partition(accountID, true), batch, &stats)
	}
	return stats, nil
}

func (s *CostStore) upsertPartition(p *partition, batch []domain.CostRecord, stats *domain.UpsertStats) {
	p.mu.Lock()
	defer p.mu.Unlock()

	type change struct {
		day   time.Time
		key   domain.BucketKey
		delta domain.Totals
	}
	var changes []change

	for _, r := range batch {
		r.Date = domain.Day(r.Date)
		nk := r.Key()
		delta := domain.TotalsOf(r)

		old, exists := p.records[nk]
		switch {
		case exists && old.SameFact(r):
			stats.Unchanged++
			continue
		case exists:
			delta = delta.Sub(domain.TotalsOf(old))
			stats.Updated++
		default:
			stats.Inserted++
		}

		p.records[nk] = r
		changes = append(changes, change{day: r.Date, key: domain.BucketKeyOf(r), delta: delta})
	}

	if len(changes) == 0 {
		return
	}

	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	for _, c := range changes {
		for _, k := range c.key.Rollups() {
			if k.AccountID == domain.Wildcard {
				s.global.apply(c.day, k, c.delta)
			} else {
				p.buckets.apply(c.day, k, c.delta)
			}
		}
	}
}

func (s *CostStore) Buckets(
	ctx context.Context,
	scope domain.Scope,
	period domain.Period,
	groupBy []domain.Dimension,
) ([]domain.Bucket, error) {
	var snapshots []dayBuckets
	if len(scope.AccountIDs) > 0 || slices.Contains(groupBy, domain.DimensionAccount) {
		for _, p := range s.scopedPartitions(scope) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			p.mu.RLock()
			snapshots = append(snapshots, p.buckets.slice(period))
			p.mu.RUnlock()
		}
	} else {
		s.globalMu.RLock()
		snapshots = append(snapshots, s.global.slice(period))
		s.globalMu.RUnlock()
	}

	acc := make(map[time.Time]map[domain.BucketKey]domain.Totals)
	for _, snap := range snapshots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for day, byKey := range snap {
			for k, t := range byKey {
				out, ok := store.Project(k, scope, groupBy)
				if !ok {
					continue
				}
				if acc[day] == nil {
					acc[day] = make(map[domain.BucketKey]domain.Totals)
				}
				acc[day][out] = acc[day][out].Add(t)
			}
		}
	}

	var out []domain.Bucket
	for day, byKey := range acc {
		for k, t := range byKey {
			out = append(out, domain.Bucket{Key: k, Date: day, Totals: t})
		}
	}
	store.SortBuckets(out)
	return out, nil
}

func (s *CostStore) scopedPartitions(scope domain.Scope) []*partition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*partition
	for id, p := range s.partitions {
		if len(scope.AccountIDs) == 0 || slices.Contains(scope.AccountIDs, id) {
			out = append(out, p)
		}
	}
	return out
}

func (s *CostStore) Records(ctx context.Context, q domain.RecordQuery) (domain.RecordPage, error) {
	var matched []domain.CostRecord
	for _, p := range s.scopedPartitions(q.Scope) {
		if err := ctx.Err(); err != nil {
			return domain.RecordPage{}, err
		}
		p.mu.RLock()
		for _, r := range p.records {
			if q.Period.Contains(r.Date) && q.Scope.MatchesRecord(r) {
				matched = append(matched, r)
			}
		}
		p.mu.RUnlock()
	}

	store.SortRecords(matched, q.Sort)
	page, size, start, end := store.PageBounds(q.Page, q.PageSize, len(matched))
	return domain.RecordPage{
		Records:  slices.Clone(matched[start:end]),
		Page:     page,
		PageSize: size,
		Total:    len(matched),
	}, nil
}

func (s *CostStore) EarliestDate(_ context.Context, scope domain.Scope) (*time.Time, error) {
	var first *time.Time
	for _, p := range s.scopedPartitions(scope) {
		p.mu.RLock()
		for _, r := range p.records {
			if scope.MatchesRecord(r) {
				first = store.Earliest(first, r.Date)
			}
		}
		p.mu.RUnlock()
	}
	return first, nil
}

// Consistent runs fn while no writer is active.
func (s *CostStore) Consistent(ctx context.Context, fn func(ctx context.Context) error) error {
	s.gate.Lock()
	defer s.gate.Unlock()
	return fn(ctx)
}
