package linking

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/de-tools/cost-atlas/pkg/connector"
	"github.com/de-tools/cost-atlas/pkg/connector/mock"
	"github.com/de-tools/cost-atlas/pkg/errkind"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/de-tools/cost-atlas/pkg/store"
	"github.com/de-tools/cost-atlas/pkg/store/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	payerID = "123456789012"
	roleARN = "arn:aws:iam::123456789012:role/cost-atlas-reader"
)

type recordingScheduler struct {
	mu       sync.Mutex
	accounts []string
}

func (r *recordingScheduler) ScheduleSync(_ context.Context, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts = append(r.accounts, accountID)
	return nil
}

func (r *recordingScheduler) scheduled() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.accounts...)
}

type fixture struct {
	svc       *Service
	repos     store.Repositories
	conn      *mock.Connector
	scheduler *recordingScheduler
	clock     time.Time
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		repos:     store.NewRepositories(memory.NewKV()),
		conn:      mock.New(domain.ProviderAWS),
		scheduler: &recordingScheduler{},
		clock:     time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	reg := connector.NewRegistry()
	require.NoError(t, reg.Register(domain.ProviderAWS, func() (connector.Connector, error) { return f.conn, nil }))
	require.NoError(t, reg.Register(domain.ProviderGCP, func() (connector.Connector, error) { return mock.New(domain.ProviderGCP), nil }))

	if opts.Principals == nil {
		opts.Principals = map[domain.Provider]string{domain.ProviderAWS: "arn:aws:iam::999999999999:root"}
	}
	f.svc = NewService(f.repos, reg, f.scheduler, opts)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) initiate(t *testing.T) domain.Link {
	t.Helper()
	link, _, err := f.svc.Initiate(context.Background(), domain.ProviderAWS, payerID, "s3://billing/cur")
	require.NoError(t, err)
	return link
}

func TestInitiate_ValidatesPayerAccountID(t *testing.T) {
	f := newFixture(t, Options{})

	tests := []struct {
		provider domain.Provider
		id       string
		kind     errkind.Kind
	}{
		{domain.ProviderAWS, "12345", errkind.InvalidAccountId},
		{domain.ProviderAWS, "12345678901a", errkind.InvalidAccountId},
		{domain.ProviderGCP, "01A2B3C4D5E6F7A8B9", errkind.InvalidAccountId},
		{domain.ProviderGCP, "01A2B3-C4D5E6-F7A8BZ", errkind.InvalidAccountId},
		{domain.ProviderAzure, "not-a-guid", errkind.InvalidAccountId},
		{"oracle", "123", errkind.InvalidInput},
	}
	for _, tt := range tests {
		t.Run(string(tt.provider)+"/"+tt.id, func(t *testing.T) {
			_, _, err := f.svc.Initiate(context.Background(), tt.provider, tt.id, "")
			assert.Equal(t, tt.kind, errkind.KindOf(err))
		})
	}

	links, err := f.repos.Links.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestInitiate_IssuesInstructions(t *testing.T) {
	f := newFixture(t, Options{})

	link, in, err := f.svc.Initiate(context.Background(), domain.ProviderAWS, payerID, "s3://billing/cur")
	require.NoError(t, err)

	assert.Equal(t, domain.LinkStateAwaitingTrust, link.State)
	assert.Equal(t, f.clock.Add(24*time.Hour), link.ExpiresAt)
	_, err = uuid.Parse(link.ExternalID)
	assert.NoError(t, err)
	assert.Equal(t, link.ExternalID, in.ExternalID)
	assert.Equal(t, "arn:aws:iam::999999999999:root", in.TrustPrincipal)
	assert.Contains(t, in.RequiredActions, "ce:GetCostAndUsage")
	assert.Contains(t, in.PolicyDocument, `"sts:ExternalId": "`+link.ExternalID+`"`)
	require.Len(t, link.History, 1)
	assert.Equal(t, domain.LinkStateInitiated, link.History[0].From)

	account, err := f.repos.Accounts.Get(context.Background(), link.AccountID)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusPending, account.Status)

	other, _, err := f.svc.Initiate(context.Background(), domain.ProviderAWS, payerID, "")
	require.NoError(t, err)
	assert.NotEqual(t, link.ExternalID, other.ExternalID)
	assert.Equal(t, link.AccountID, other.AccountID)
}

func TestFinalize_ActivatesAccount(t *testing.T) {
	f := newFixture(t, Options{})
	link := f.initiate(t)

	got, account, err := f.svc.Finalize(context.Background(), link.ID, domain.TrustCredential{RoleARN: roleARN})
	require.NoError(t, err)

	assert.Equal(t, domain.LinkStateLinked, got.State)
	assert.Equal(t, domain.AccountStatusActive, account.Status)
	assert.Equal(t, roleARN, account.Credential.RoleARN)
	assert.Equal(t, link.ExternalID, account.Credential.ExternalID)
	assert.Equal(t, "s3://billing/cur", account.DataPrefix)
	assert.Equal(t, []string{account.ID}, f.scheduler.scheduled())
	assert.Equal(t, 1, f.conn.TestCalls())

	stored, err := f.svc.Get(context.Background(), link.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LinkStateLinked, stored.State)
}

func TestFinalize_IsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	link := f.initiate(t)
	cred := domain.TrustCredential{RoleARN: roleARN}

	_, first, err := f.svc.Finalize(context.Background(), link.ID, cred)
	require.NoError(t, err)

	got, again, err := f.svc.Finalize(context.Background(), link.ID, cred)
	require.NoError(t, err)
	assert.Equal(t, domain.LinkStateLinked, got.State)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, domain.AccountStatusActive, again.Status)

	assert.Equal(t, 1, f.conn.TestCalls())
	assert.Len(t, f.scheduler.scheduled(), 1)
}

func TestFinalize_SerializesConcurrentCalls(t *testing.T) {
	f := newFixture(t, Options{})
	f.conn.SetDelay(20 * time.Millisecond)
	link := f.initiate(t)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = f.svc.Finalize(context.Background(), link.ID, domain.TrustCredential{RoleARN: roleARN})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, f.conn.TestCalls())
}

func TestInitiate_ConcurrentSamePayerSharesAccount(t *testing.T) {
	f := newFixture(t, Options{})

	var wg sync.WaitGroup
	links := make([]domain.Link, 8)
	errs := make([]error, len(links))
	for i := range links {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			links[i], _, errs[i] = f.svc.Initiate(context.Background(), domain.ProviderAWS, payerID, "")
		}(i)
	}
	wg.Wait()

	for i := range links {
		require.NoError(t, errs[i])
		assert.Equal(t, links[0].AccountID, links[i].AccountID)
	}
	accounts, err := f.repos.Accounts.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestFinalize_CancelledCallerLeavesLinkVerifying(t *testing.T) {
	cancelled := func(t *testing.T, f *fixture) domain.Link {
		t.Helper()
		f.conn.SetDelay(time.Minute)
		link := f.initiate(t)

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)
		_, _, err := f.svc.Finalize(ctx, link.ID, domain.TrustCredential{RoleARN: roleARN})
		require.ErrorIs(t, err, context.Canceled)

		stored, err := f.svc.Get(context.Background(), link.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.LinkStateVerifying, stored.State)
		assert.Empty(t, stored.FailureKind)
		return stored
	}

	t.Run("retry links", func(t *testing.T) {
		f := newFixture(t, Options{TTL: time.Hour, FinalizeTimeout: time.Minute})
		link := cancelled(t, f)

		f.conn.SetDelay(0)
		got, account, err := f.svc.Finalize(context.Background(), link.ID, domain.TrustCredential{RoleARN: roleARN})
		require.NoError(t, err)
		assert.Equal(t, domain.LinkStateLinked, got.State)
		assert.Equal(t, domain.AccountStatusActive, account.Status)
	})

	t.Run("sweep expires", func(t *testing.T) {
		f := newFixture(t, Options{TTL: time.Hour, FinalizeTimeout: time.Minute})
		link := cancelled(t, f)

		n, err := f.svc.Sweep(context.Background(), f.clock.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := f.svc.Get(context.Background(), link.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.LinkStateFailed, got.State)
		assert.Equal(t, errkind.LinkExpired, got.FailureKind)
	})
}

func TestFinalize_Failures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		kind  errkind.Kind
	}{
		{
			name:  "assume role rejected",
			setup: func(f *fixture) { f.conn.FailAt(connector.StageAssumeRole) },
			kind:  errkind.TrustNotEstablished,
		},
		{
			name:  "capability probe rejected",
			setup: func(f *fixture) { f.conn.FailAt(connector.StageCapabilityProbe) },
			kind:  errkind.CapabilityProbeFailed,
		},
		{
			name:  "probe exceeds timeout",
			setup: func(f *fixture) { f.conn.SetDelay(time.Second) },
			kind:  errkind.TrustNotEstablished,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{FinalizeTimeout: 20 * time.Millisecond})
			link := f.initiate(t)
			tt.setup(f)

			got, _, err := f.svc.Finalize(context.Background(), link.ID, domain.TrustCredential{RoleARN: roleARN})
			assert.Equal(t, tt.kind, errkind.KindOf(err))
			assert.Equal(t, domain.LinkStateFailed, got.State)
			assert.Equal(t, tt.kind, got.FailureKind)
			assert.Empty(t, f.scheduler.scheduled())

			account, err := f.repos.Accounts.Get(context.Background(), link.AccountID)
			require.NoError(t, err)
			assert.Equal(t, domain.AccountStatusPending, account.Status)

			// a failed link reports its failure without probing again
			calls := f.conn.TestCalls()
			_, _, err = f.svc.Finalize(context.Background(), link.ID, domain.TrustCredential{RoleARN: roleARN})
			assert.Equal(t, tt.kind, errkind.KindOf(err))
			assert.Equal(t, calls, f.conn.TestCalls())
		})
	}
}

func TestFinalize_RejectsBadCredential(t *testing.T) {
	f := newFixture(t, Options{})
	link := f.initiate(t)

	for _, arn := range []string{"", "role/reader", "arn:aws:iam::210987654321:role/reader"} {
		_, _, err := f.svc.Finalize(context.Background(), link.ID, domain.TrustCredential{RoleARN: arn})
		assert.Equal(t, errkind.InvalidInput, errkind.KindOf(err), arn)
	}

	stored, err := f.svc.Get(context.Background(), link.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LinkStateAwaitingTrust, stored.State)
	assert.Zero(t, f.conn.TestCalls())
}

func TestFinalize_UnknownLink(t *testing.T) {
	f := newFixture(t, Options{})
	_, _, err := f.svc.Finalize(context.Background(), "missing", domain.TrustCredential{RoleARN: roleARN})
	assert.ErrorIs(t, err, errkind.ErrNotFound)
}

func TestFinalize_ExpiredLink(t *testing.T) {
	f := newFixture(t, Options{TTL: time.Hour})
	link := f.initiate(t)
	f.clock = f.clock.Add(time.Hour + time.Second)

	got, _, err := f.svc.Finalize(context.Background(), link.ID, domain.TrustCredential{RoleARN: roleARN})
	assert.ErrorIs(t, err, errkind.ErrLinkExpired)
	assert.Equal(t, domain.LinkStateFailed, got.State)
	assert.Zero(t, f.conn.TestCalls())
}

func TestSweep_ExpiresStaleLinks(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	stale := f.initiate(t)
	f.clock = f.clock.Add(12 * time.Hour)
	fresh := f.initiate(t)
	done := f.initiate(t)
	_, _, err := f.svc.Finalize(ctx, done.ID, domain.TrustCredential{RoleARN: roleARN})
	require.NoError(t, err)

	n, err := f.svc.Sweep(ctx, f.clock.Add(13*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.svc.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LinkStateFailed, got.State)
	assert.Equal(t, errkind.LinkExpired, got.FailureKind)

	_, _, err = f.svc.Finalize(ctx, stale.ID, domain.TrustCredential{RoleARN: roleARN})
	assert.ErrorIs(t, err, errkind.ErrLinkExpired)

	got, err = f.svc.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LinkStateAwaitingTrust, got.State)

	n, err = f.svc.Sweep(ctx, f.clock.Add(13*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFinalize_RelinkReusesAccount(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	first := f.initiate(t)
	_, account, err := f.svc.Finalize(ctx, first.ID, domain.TrustCredential{RoleARN: roleARN})
	require.NoError(t, err)

	account.Status = domain.AccountStatusError
	account.LastError = "trust revoked"
	require.NoError(t, f.repos.Accounts.Put(ctx, account.ID, account))

	second := f.initiate(t)
	_, relinked, err := f.svc.Finalize(ctx, second.ID, domain.TrustCredential{RoleARN: roleARN})
	require.NoError(t, err)

	assert.Equal(t, account.ID, relinked.ID)
	assert.Equal(t, domain.AccountStatusActive, relinked.Status)
	assert.Empty(t, relinked.LastError)
	assert.Equal(t, second.ExternalID, relinked.Credential.ExternalID)

	accounts, err := f.repos.Accounts.List(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestInitiate_GCPInstructions(t *testing.T) {
	f := newFixture(t, Options{Principals: map[domain.Provider]string{domain.ProviderGCP: "reader@platform.iam.gserviceaccount.com"}})

	link, in, err := f.svc.Initiate(context.Background(), domain.ProviderGCP, "01A2B3-C4D5E6-F7A8B9", "billing-proj.billing_export")
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderGCP, link.Provider)
	assert.Empty(t, in.PolicyDocument)
	assert.True(t, strings.Contains(strings.Join(in.Steps, " "), "reader@platform.iam.gserviceaccount.com"))

	_, _, err = f.svc.Finalize(context.Background(), link.ID, domain.TrustCredential{})
	assert.Equal(t, errkind.InvalidInput, errkind.KindOf(err))

	_, account, err := f.svc.Finalize(context.Background(), link.ID, domain.TrustCredential{KeyRef: "/secrets/key.json"})
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusActive, account.Status)
}
