package gcp

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/de-tools/cost-atlas/pkg/connector"
	"github.com/de-tools/cost-atlas/pkg/errkind"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

type stubQuerier struct {
	rows     []billingRow
	err      error
	stage    connector.Stage
	table    tableRef
	keyFile  string
	queries  int
	probeErr error
}

func (s *stubQuerier) Query(_ context.Context, keyFile string, table tableRef, _, _ time.Time) ([]billingRow, error) {
	s.queries++
	s.keyFile = keyFile
	s.table = table
	return s.rows, s.err
}

func (s *stubQuerier) Probe(_ context.Context, keyFile string, table tableRef) (connector.Stage, error) {
	s.table = table
	if s.probeErr != nil {
		return s.stage, s.probeErr
	}
	return connector.StageOK, nil
}

var account = domain.ProviderAccount{
	ID:                "acct-gcp",
	Provider:          domain.ProviderGCP,
	ExternalAccountID: "01A2B3-C4D5E6-F7A8B9",
	DataPrefix:        "acme-billing.exports",
	Credential:        domain.TrustCredential{KeyRef: "/secrets/acme.json"},
}

func TestConnector_FetchCostAndUsage(t *testing.T) {
	q := &stubQuerier{rows: []billingRow{
		{UsageDate: "2024-01-01", Service: "Compute Engine", Region: "us-central1", Currency: "EUR", Cost: "12.5", UsageAmount: "30", UsageUnit: "hour"},
		{UsageDate: "2024-01-01", Service: "Cloud Storage", Currency: "EUR", Cost: "0.1"},
	}}
	c := newConnector(Options{Retry: connector.RetryPolicy{Attempts: 1}}, q)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	items, err := c.FetchCostAndUsage(context.Background(), account, start, start.AddDate(0, 0, 2))
	require.NoError(t, err)

	assert.Equal(t, "acme-billing.exports.gcp_billing_export_v1_01A2B3_C4D5E6_F7A8B9", q.table.String())
	assert.Equal(t, "/secrets/acme.json", q.keyFile)
	require.Len(t, items, 2)
	assert.Equal(t, domain.ProviderGCP, items[0].Provider)
	assert.Equal(t, "Compute Engine", items[0].Service)
	assert.Equal(t, "12.5", items[0].Amount)
	assert.Equal(t, "EUR", items[0].Currency)
	assert.Equal(t, "hour", items[0].UsageUnit)
	assert.Contains(t, string(items[0].Raw), `"usage_date":"2024-01-01"`)
	assert.Empty(t, items[1].Region)
}

func TestConnector_DefaultDataset(t *testing.T) {
	q := &stubQuerier{}
	c := newConnector(Options{Dataset: "billing", Retry: connector.RetryPolicy{Attempts: 1}}, q)
	acct := account
	acct.DataPrefix = "acme-billing"

	_, err := c.FetchCostAndUsage(context.Background(), acct, time.Now(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "billing", q.table.Dataset)
}

func TestConnector_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errkind.Kind
	}{
		{name: "quota", err: &googleapi.Error{Code: http.StatusTooManyRequests}, want: errkind.RateLimited},
		{
			name: "rate limit reason",
			err:  &googleapi.Error{Code: http.StatusForbidden, Errors: []googleapi.ErrorItem{{Reason: "rateLimitExceeded"}}},
			want: errkind.RateLimited,
		},
		{name: "denied", err: &googleapi.Error{Code: http.StatusForbidden}, want: errkind.TrustNotEstablished},
		{name: "missing export", err: &googleapi.Error{Code: http.StatusNotFound}, want: errkind.CapabilityProbeFailed},
		{name: "backend", err: &googleapi.Error{Code: http.StatusServiceUnavailable}, want: errkind.ProviderUnavailable},
		{name: "network", err: errors.New("connection refused"), want: errkind.ProviderUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newConnector(Options{Retry: connector.RetryPolicy{Attempts: 1}}, &stubQuerier{err: tc.err})
			_, err := c.FetchCostAndUsage(context.Background(), account, time.Now(), time.Now())
			assert.ErrorIs(t, err, &errkind.Error{Kind: tc.want})
		})
	}

	t.Run("injection-shaped prefix is rejected", func(t *testing.T) {
		q := &stubQuerier{}
		c := newConnector(Options{}, q)
		acct := account
		acct.DataPrefix = "acme`; DROP TABLE x; --.ds"
		_, err := c.FetchCostAndUsage(context.Background(), acct, time.Now(), time.Now())
		assert.Error(t, err)
		assert.Zero(t, q.queries)
	})
}

func TestConnector_TestConnection(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		c := newConnector(Options{}, &stubQuerier{})
		ok, diag := c.TestConnection(context.Background(), account)
		assert.True(t, ok)
		assert.Equal(t, connector.StageOK, diag.Stage)
	})

	t.Run("credential rejected", func(t *testing.T) {
		c := newConnector(Options{}, &stubQuerier{
			stage:    connector.StageAssumeRole,
			probeErr: &googleapi.Error{Code: http.StatusUnauthorized},
		})
		ok, diag := c.TestConnection(context.Background(), account)
		assert.False(t, ok)
		assert.Equal(t, connector.StageAssumeRole, diag.Stage)
	})

	t.Run("table not readable", func(t *testing.T) {
		c := newConnector(Options{}, &stubQuerier{
			stage:    connector.StageCapabilityProbe,
			probeErr: &googleapi.Error{Code: http.StatusForbidden},
		})
		ok, diag := c.TestConnection(context.Background(), account)
		assert.False(t, ok)
		assert.Equal(t, connector.StageCapabilityProbe, diag.Stage)
	})

	t.Run("no key", func(t *testing.T) {
		c := newConnector(Options{}, &stubQuerier{})
		ok, diag := c.TestConnection(context.Background(), domain.ProviderAccount{ID: "x"})
		assert.False(t, ok)
		assert.Equal(t, connector.StageAssumeRole, diag.Stage)
	})
}
