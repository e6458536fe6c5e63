package store

import (
	"context"
	"time"

	"github.com/de-tools/cost-atlas/pkg/models/domain"
)

// CostStore persists canonical cost records and serves daily rollups.
//
// Upsert is keyed on the record natural key: writing the same record twice
// leaves one row. Implementations serialize writes per account and must not
// block readers of other accounts.
type CostStore interface {
	Upsert(ctx context.Context, records []domain.CostRecord) (domain.UpsertStats, error)
	Records(ctx context.Context, q domain.RecordQuery) (domain.RecordPage, error)
	// Buckets returns one bucket per day and distinct value of the groupBy
	// dimensions; dimensions outside groupBy are reported as Wildcard.
	Buckets(
		ctx context.Context,
		scope domain.Scope,
		period domain.Period,
		groupBy []domain.Dimension,
	) ([]domain.Bucket, error)
	// EarliestDate returns the first day with data in scope, or nil.
	EarliestDate(ctx context.Context, scope domain.Scope) (*time.Time, error)
}

// KV is the document store backing accounts, links, rules and events.
// Get returns an errkind.NotFound error for missing keys.
type KV interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, value []byte) error
	Delete(ctx context.Context, bucket, key string) error
	// List returns every value in the bucket ordered by key.
	List(ctx context.Context, bucket string) ([][]byte, error)
}

type Repository[T any] interface {
	Get(ctx context.Context, id string) (T, error)
	Put(ctx context.Context, id string, v T) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]T, error)
}

const (
	BucketAccounts = "accounts"
	BucketLinks    = "links"
	BucketRules    = "alarm_rules"
	BucketEvents   = "alarm_events"
)

type Repositories struct {
	Accounts Repository[domain.ProviderAccount]
	Links    Repository[domain.Link]
	Rules    Repository[domain.AlarmRule]
	Events   Repository[domain.AlarmEvent]
}

func NewRepositories(kv KV) Repositories {
	return Repositories{
		Accounts: NewCollection[domain.ProviderAccount](kv, BucketAccounts),
		Links:    NewCollection[domain.Link](kv, BucketLinks),
		Rules:    NewCollection[domain.AlarmRule](kv, BucketRules),
		Events:   NewCollection[domain.AlarmEvent](kv, BucketEvents),
	}
}
