package account

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/de-tools/cost-atlas/pkg/connector"
	"github.com/de-tools/cost-atlas/pkg/errkind"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/de-tools/cost-atlas/pkg/store"
	"github.com/rs/zerolog"
)

type Manager interface {
	List(ctx context.Context) ([]domain.ProviderAccount, error)
	Get(ctx context.Context, id string) (domain.ProviderAccount, error)
	Disconnect(ctx context.Context, id string) error
	TestConnection(ctx context.Context, id string) (bool, connector.Diagnostic, error)
}

// Service manages linked provider accounts. Disconnected accounts are kept
// with a deletion timestamp and hidden from every read.
type Service struct {
	accounts    store.Repository[domain.ProviderAccount]
	connectors  connector.Registry
	testTimeout time.Duration
	now         func() time.Time
}

var _ Manager = (*Service)(nil)

func NewService(accounts store.Repository[domain.ProviderAccount], connectors connector.Registry, testTimeout time.Duration) *Service {
	if testTimeout <= 0 {
		testTimeout = 10 * time.Second
	}
	return &Service{
		accounts:    accounts,
		connectors:  connectors,
		testTimeout: testTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) List(ctx context.Context) ([]domain.ProviderAccount, error) {
	all, err := s.accounts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to list accounts: %w", err)
	}
	out := make([]domain.ProviderAccount, 0, len(all))
	for _, a := range all {
		if !a.Deleted() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.ProviderAccount, error) {
	a, err := s.accounts.Get(ctx, id)
	if err != nil {
		return domain.ProviderAccount{}, err
	}
	if a.Deleted() {
		return domain.ProviderAccount{}, errkind.New(errkind.NotFound, "account %s not found", id)
	}
	return a, nil
}

// Disconnect soft-deletes the account. Its cost history is retained.
func (s *Service) Disconnect(ctx context.Context, id string) error {
	a, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	now := s.now()
	a.DeletedAt = &now
	a.UpdatedAt = now
	if err := s.accounts.Put(ctx, id, a); err != nil {
		return fmt.Errorf("unable to disconnect account %s: %w", id, err)
	}
	zerolog.Ctx(ctx).Info().Str("account_id", id).Msg("account disconnected")
	return nil
}

// TestConnection re-runs the linking probe against a stored account without
// changing its status.
func (s *Service) TestConnection(ctx context.Context, id string) (bool, connector.Diagnostic, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return false, connector.Diagnostic{}, err
	}
	conn, err := s.connectors.Get(a.Provider)
	if err != nil {
		return false, connector.Diagnostic{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.testTimeout)
	defer cancel()
	ok, diag := conn.TestConnection(ctx, a)
	zerolog.Ctx(ctx).Debug().
		Str("account_id", id).
		Bool("ok", ok).
		Str("stage", string(diag.Stage)).
		Msg("connection test")
	return ok, diag, nil
}
