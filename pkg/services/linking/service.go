package linking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/de-tools/cost-atlas/pkg/connector"
	"github.com/de-tools/cost-atlas/pkg/errkind"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/de-tools/cost-atlas/pkg/store"
	"github.com/de-tools/cost-atlas/pkg/syncx"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Scheduler queues the first sync of a newly linked account.
type Scheduler interface {
	ScheduleSync(ctx context.Context, accountID string) error
}

type Options struct {
	TTL             time.Duration
	FinalizeTimeout time.Duration
	SweepInterval   time.Duration
	// Principals is the platform identity customers trust, per provider.
	Principals map[domain.Provider]string
}

func DefaultOptions() Options {
	return Options{
		TTL:             24 * time.Hour,
		FinalizeTimeout: 10 * time.Second,
		SweepInterval:   5 * time.Minute,
	}
}

type Workflow interface {
	Initiate(ctx context.Context, provider domain.Provider, payerAccountID, dataPrefix string) (domain.Link, domain.TrustInstructions, error)
	Finalize(ctx context.Context, connectionID string, cred domain.TrustCredential) (domain.Link, domain.ProviderAccount, error)
	Get(ctx context.Context, connectionID string) (domain.Link, error)
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Service runs the trust handshake that turns a customer account into an
// active ProviderAccount.
type Service struct {
	links      store.Repository[domain.Link]
	accounts   store.Repository[domain.ProviderAccount]
	connectors connector.Registry
	scheduler  Scheduler
	opts       Options

	locks *syncx.KeyedMutex
	now   func() time.Time
	newID func() string
}

var _ Workflow = (*Service)(nil)

func NewService(
	repos store.Repositories,
	connectors connector.Registry,
	scheduler Scheduler,
	opts Options,
) *Service {
	def := DefaultOptions()
	if opts.TTL <= 0 {
		opts.TTL = def.TTL
	}
	if opts.FinalizeTimeout <= 0 {
		opts.FinalizeTimeout = def.FinalizeTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = def.SweepInterval
	}
	return &Service{
		links:      repos.Links,
		accounts:   repos.Accounts,
		connectors: connectors,
		scheduler:  scheduler,
		opts:       opts,
		locks:      syncx.NewKeyedMutex(),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
}

func (s *Service) Initiate(
	ctx context.Context,
	provider domain.Provider,
	payerAccountID, dataPrefix string,
) (domain.Link, domain.TrustInstructions, error) {
	payerAccountID = strings.TrimSpace(payerAccountID)
	if err := validatePayerID(provider, payerAccountID); err != nil {
		return domain.Link{}, domain.TrustInstructions{}, err
	}

	now := s.now()
	account, err := s.accountFor(ctx, provider, payerAccountID, dataPrefix, now)
	if err != nil {
		return domain.Link{}, domain.TrustInstructions{}, err
	}

	link := domain.Link{
		ID:             s.newID(),
		Provider:       provider,
		PayerAccountID: payerAccountID,
		DataPrefix:     strings.TrimSpace(dataPrefix),
		ExternalID:     uuid.NewString(),
		State:          domain.LinkStateInitiated,
		AccountID:      account.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.opts.TTL),
	}
	if err := link.Transition(domain.LinkStateAwaitingTrust, now, "instructions issued"); err != nil {
		return domain.Link{}, domain.TrustInstructions{}, err
	}

	in, err := instructions(link, s.opts.Principals[provider])
	if err != nil {
		return domain.Link{}, domain.TrustInstructions{}, err
	}
	if err := s.links.Put(ctx, link.ID, link); err != nil {
		return domain.Link{}, domain.TrustInstructions{}, fmt.Errorf("unable to persist link: %w", err)
	}

	zerolog.Ctx(ctx).Info().
		Str("connection_id", link.ID).
		Str("provider", string(provider)).
		Str("account_id", account.ID).
		Time("expires_at", link.ExpiresAt).
		Msg("link initiated")
	return link, in, nil
}

// accountFor returns the account already registered for the provider and
// external id, or a new pending one. Re-linking keeps the account id so
// ingested history stays attached. Concurrent calls for the same payer
// resolve to one account.
func (s *Service) accountFor(
	ctx context.Context,
	provider domain.Provider,
	externalID, dataPrefix string,
	now time.Time,
) (domain.ProviderAccount, error) {
	unlock := s.locks.Lock("payer:" + string(provider) + ":" + externalID)
	defer unlock()

	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return domain.ProviderAccount{}, fmt.Errorf("unable to list accounts: %w", err)
	}
	for _, a := range accounts {
		if a.Provider == provider && a.ExternalAccountID == externalID {
			return a, nil
		}
	}

	account := domain.ProviderAccount{
		ID:                s.newID(),
		Provider:          provider,
		ExternalAccountID: externalID,
		DataPrefix:        strings.TrimSpace(dataPrefix),
		Status:            domain.AccountStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.accounts.Put(ctx, account.ID, account); err != nil {
		return domain.ProviderAccount{}, fmt.Errorf("unable to persist account: %w", err)
	}
	return account, nil
}

func (s *Service) Get(ctx context.Context, connectionID string) (domain.Link, error) {
	return s.links.Get(ctx, connectionID)
}

type probeResult struct {
	ok   bool
	diag connector.Diagnostic
}

// Finalize verifies the customer-created trust and activates the account.
// Calls for the same link are serialized; a link that is already linked is
// returned as is without contacting the provider. Only a timed out probe
// fails the link; a cancelled caller gets ctx.Err() back.
func (s *Service) Finalize(
	ctx context.Context,
	connectionID string,
	cred domain.TrustCredential,
) (domain.Link, domain.ProviderAccount, error) {
	unlock := s.locks.Lock(connectionID)
	defer unlock()

	logger := zerolog.Ctx(ctx).With().Str("connection_id", connectionID).Logger()

	link, err := s.links.Get(ctx, connectionID)
	if err != nil {
		return domain.Link{}, domain.ProviderAccount{}, err
	}

	switch link.State {
	case domain.LinkStateLinked:
		account, err := s.accounts.Get(ctx, link.AccountID)
		return link, account, err
	case domain.LinkStateFailed:
		kind := link.FailureKind
		if kind == "" {
			kind = errkind.TrustNotEstablished
		}
		return link, domain.ProviderAccount{}, errkind.New(kind, "link %s failed: %s", link.ID, link.FailureMessage)
	}

	now := s.now()
	if link.Expired(now) {
		if err := s.expire(ctx, &link, now); err != nil {
			return link, domain.ProviderAccount{}, err
		}
		return link, domain.ProviderAccount{}, errkind.New(errkind.LinkExpired, "link %s expired at %s", link.ID, link.ExpiresAt.Format(time.RFC3339))
	}

	cred.ExternalID = link.ExternalID
	if err := validateCredential(link, cred); err != nil {
		return link, domain.ProviderAccount{}, err
	}

	account, err := s.accounts.Get(ctx, link.AccountID)
	if err != nil {
		return link, domain.ProviderAccount{}, fmt.Errorf("unable to load account for link: %w", err)
	}
	conn, err := s.connectors.Get(link.Provider)
	if err != nil {
		return link, domain.ProviderAccount{}, err
	}

	link.Credential = cred
	if link.State != domain.LinkStateVerifying {
		if err := link.Transition(domain.LinkStateVerifying, now, "verifying trust"); err != nil {
			return link, domain.ProviderAccount{}, err
		}
	}
	if err := s.links.Put(ctx, link.ID, link); err != nil {
		return link, domain.ProviderAccount{}, fmt.Errorf("unable to persist link: %w", err)
	}

	candidate := account
	candidate.Credential = cred
	if link.DataPrefix != "" {
		candidate.DataPrefix = link.DataPrefix
	}

	res, probeErr := s.probe(ctx, conn, candidate)
	if probeErr != nil && !errors.Is(probeErr, context.DeadlineExceeded) {
		// The caller went away; the link stays verifying until a retry or
		// the expiry sweep settles it.
		logger.Info().Err(probeErr).Msg("trust verification abandoned")
		return link, domain.ProviderAccount{}, probeErr
	}
	// Outcomes are persisted even past the caller's deadline.
	persistCtx := context.WithoutCancel(ctx)
	now = s.now()

	if probeErr != nil || !res.ok {
		kind, msg := failureOf(res, probeErr)
		if err := link.Fail(kind, msg, now); err != nil {
			return link, domain.ProviderAccount{}, err
		}
		if err := s.links.Put(persistCtx, link.ID, link); err != nil {
			return link, domain.ProviderAccount{}, fmt.Errorf("unable to persist link: %w", err)
		}
		logger.Warn().Str("kind", string(kind)).Str("stage", string(res.diag.Stage)).Msg(msg)
		return link, domain.ProviderAccount{}, errkind.New(kind, "%s", msg)
	}

	if err := link.Transition(domain.LinkStateLinked, now, res.diag.Message); err != nil {
		return link, domain.ProviderAccount{}, err
	}
	candidate.Status = domain.AccountStatusActive
	candidate.LastError = ""
	candidate.DeletedAt = nil
	candidate.UpdatedAt = now
	if err := s.accounts.Put(persistCtx, candidate.ID, candidate); err != nil {
		return link, domain.ProviderAccount{}, fmt.Errorf("unable to persist account: %w", err)
	}
	if err := s.links.Put(persistCtx, link.ID, link); err != nil {
		return link, domain.ProviderAccount{}, fmt.Errorf("unable to persist link: %w", err)
	}
	logger.Info().Str("account_id", candidate.ID).Msg("link established")

	if s.scheduler != nil {
		if err := s.scheduler.ScheduleSync(persistCtx, candidate.ID); err != nil {
			logger.Error().Err(err).Str("account_id", candidate.ID).Msg("failed to schedule first sync")
		}
	}
	return link, candidate, nil
}

// probe runs the connection test under the finalize timeout. A connector
// that ignores cancellation is abandoned once the deadline passes.
func (s *Service) probe(ctx context.Context, conn connector.Connector, account domain.ProviderAccount) (probeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.FinalizeTimeout)
	defer cancel()

	done := make(chan probeResult, 1)
	go func() {
		ok, diag := conn.TestConnection(ctx, account)
		done <- probeResult{ok: ok, diag: diag}
	}()

	select {
	case res := <-done:
		if !res.ok && ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, nil
	case <-ctx.Done():
		return probeResult{diag: connector.Diagnostic{Stage: connector.StageAssumeRole}}, ctx.Err()
	}
}

func failureOf(res probeResult, err error) (errkind.Kind, string) {
	switch {
	case err != nil:
		return errkind.TrustNotEstablished, "trust verification timed out"
	case res.diag.Stage == connector.StageCapabilityProbe:
		return errkind.CapabilityProbeFailed, "billing data probe failed: " + res.diag.Message
	default:
		return errkind.TrustNotEstablished, "unable to assume trust: " + res.diag.Message
	}
}

func (s *Service) expire(ctx context.Context, link *domain.Link, now time.Time) error {
	if err := link.Fail(errkind.LinkExpired, "link expired before trust was verified", now); err != nil {
		return err
	}
	if err := s.links.Put(ctx, link.ID, *link); err != nil {
		return fmt.Errorf("unable to persist link: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("connection_id", link.ID).Msg("link expired")
	return nil
}

// Sweep fails every pending link whose TTL passed before now and returns how
// many were expired.
func (s *Service) Sweep(ctx context.Context, now time.Time) (int, error) {
	links, err := s.links.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("unable to list links: %w", err)
	}

	expired := 0
	for _, l := range links {
		if !l.State.Pending() || !l.Expired(now) {
			continue
		}
		ok, err := s.sweepOne(ctx, l.ID, now)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (s *Service) sweepOne(ctx context.Context, id string, now time.Time) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	// Re-read under the lock; a concurrent finalize may have settled it.
	link, err := s.links.Get(ctx, id)
	if err != nil {
		if errors.Is(err, errkind.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !link.State.Pending() || !link.Expired(now) {
		return false, nil
	}
	return true, s.expire(ctx, &link, now)
}

// Run sweeps expired links every SweepInterval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	logger := zerolog.Ctx(ctx)
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("link sweeper stopped")
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx, s.now())
			if err != nil {
				logger.Error().Err(err).Msg("link sweep failed")
				continue
			}
			if n > 0 {
				logger.Info().Int("expired", n).Msg("expired stale links")
			}
		}
	}
}
