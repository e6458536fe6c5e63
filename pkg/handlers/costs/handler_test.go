package costs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/de-tools/cost-atlas/pkg/errkind"
	"github.com/de-tools/cost-atlas/pkg/models/api"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockQuery struct {
	mock.Mock
}

func (m *mockQuery) CostSummary(ctx context.Context, scope domain.Scope, period domain.Period) (domain.Summary, error) {
	args := m.Called(ctx, scope, period)
	return args.Get(0).(domain.Summary), args.Error(1)
}

func (m *mockQuery) CostCompare(
	ctx context.Context,
	scope domain.Scope,
	current, previous domain.Period,
) (domain.Comparison, error) {
	args := m.Called(ctx, scope, current, previous)
	return args.Get(0).(domain.Comparison), args.Error(1)
}

func (m *mockQuery) CostBreakdown(
	ctx context.Context,
	scope domain.Scope,
	period domain.Period,
	dim domain.Dimension,
) ([]domain.BreakdownItem, error) {
	args := m.Called(ctx, scope, period, dim)
	return args.Get(0).([]domain.BreakdownItem), args.Error(1)
}

func (m *mockQuery) CostRecords(ctx context.Context, q domain.RecordQuery) (domain.RecordPage, error) {
	args := m.Called(ctx, q)
	return args.Get(0).(domain.RecordPage), args.Error(1)
}

func (m *mockQuery) Consistency(ctx context.Context, period domain.Period) (domain.ConsistencyReport, error) {
	args := m.Called(ctx, period)
	return args.Get(0).(domain.ConsistencyReport), args.Error(1)
}

func (m *mockQuery) AlarmEvents(ctx context.Context, filter domain.EventFilter) (domain.EventPage, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).(domain.EventPage), args.Error(1)
}

func newHandler(q *mockQuery) *Handler {
	h := NewHandler(q)
	h.now = func() time.Time { return time.Date(2024, 2, 1, 15, 0, 0, 0, time.UTC) }
	return h
}

func TestHandler_GetSummary(t *testing.T) {
	q := new(mockQuery)
	period := domain.SingleDay(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	scope := domain.Scope{AccountIDs: []string{"A"}, Services: []string{"Amazon EC2"}}
	pct := 20.0
	q.On("CostSummary", mock.Anything, scope, period).Return(domain.Summary{
		Scope:  scope,
		Period: period,
		Total:  domain.Totals{AmountUSD: 120, Records: 1},
		Comparison: domain.Comparison{
			Current:       domain.Totals{AmountUSD: 120, Records: 1},
			Previous:      domain.Totals{AmountUSD: 100, Records: 1},
			AbsoluteDelta: 20,
			PercentDelta:  &pct,
		},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/costs/summary?from=2024-02-01&to=2024-02-02&accounts=A&services=Amazon%20EC2", nil)
	rr := httptest.NewRecorder()
	newHandler(q).GetSummary(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var got api.CostSummary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, 120.0, got.Total.AmountUSD)
	assert.Equal(t, 20.0, got.Comparison.AbsoluteDelta)
	require.NotNil(t, got.Comparison.PercentDelta)
	assert.Equal(t, 20.0, *got.Comparison.PercentDelta)
	assert.Equal(t, api.Period{From: "2024-02-01", To: "2024-02-02", Days: 1}, got.Period)
	q.AssertExpectations(t)
}

func TestHandler_GetSummary_NullPercentDelta(t *testing.T) {
	q := new(mockQuery)
	q.On("CostSummary", mock.Anything, domain.Scope{}, mock.Anything).Return(domain.Summary{
		Total:      domain.Totals{AmountUSD: 10},
		Comparison: domain.Comparison{AbsoluteDelta: 10},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/costs/summary", nil)
	rr := httptest.NewRecorder()
	newHandler(q).GetSummary(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"percent_delta":null`)

	// Default period: the 30 days ending today.
	period := q.Calls[0].Arguments.Get(2).(domain.Period)
	assert.Equal(t, "2024-01-03/2024-02-02", period.String())
}

func TestHandler_GetSummary_BadPeriod(t *testing.T) {
	q := new(mockQuery)
	req := httptest.NewRequest(http.MethodGet, "/costs/summary?from=2024-02-05&to=2024-02-01", nil)
	rr := httptest.NewRecorder()
	newHandler(q).GetSummary(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	var got api.Error
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "invalid_input", got.Kind)
	q.AssertNotCalled(t, "CostSummary", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandler_GetBreakdown(t *testing.T) {
	q := new(mockQuery)
	q.On("CostBreakdown", mock.Anything, domain.Scope{Providers: []string{"aws", "gcp"}}, mock.Anything, domain.DimensionRegion).
		Return([]domain.BreakdownItem{
			{Value: "us-east-1", AmountUSD: 30, Percentage: 75},
			{Value: "eu-west-1", AmountUSD: 10, Percentage: 25},
		}, nil)

	req := httptest.NewRequest(http.MethodGet, "/costs/breakdown?dimension=region&providers=aws,gcp", nil)
	rr := httptest.NewRecorder()
	newHandler(q).GetBreakdown(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var got api.CostBreakdown
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "region", got.Dimension)
	require.Len(t, got.Items, 2)
	assert.Equal(t, api.BreakdownItem{Value: "us-east-1", Cost: 30, Percentage: 75}, got.Items[0])
}

func TestHandler_GetBreakdown_UnknownDimension(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/costs/breakdown?dimension=team", nil)
	rr := httptest.NewRecorder()
	newHandler(new(mockQuery)).GetBreakdown(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandler_GetRecords(t *testing.T) {
	q := new(mockQuery)
	q.On("CostRecords", mock.Anything, mock.MatchedBy(func(rq domain.RecordQuery) bool {
		return rq.Page == 2 && rq.PageSize == 10 && rq.Sort == domain.SortAmountDesc
	})).Return(domain.RecordPage{
		Records: []domain.CostRecord{{
			AccountID:   "A",
			Provider:    domain.ProviderAWS,
			ServiceName: "Amazon EC2",
			Region:      "us-east-1",
			Date:        time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
			Amount:      12.5,
			Currency:    "USD",
			AmountUSD:   12.5,
		}},
		Page:     2,
		PageSize: 10,
		Total:    11,
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/costs/records?page=2&page_size=10&sort=-amount", nil)
	rr := httptest.NewRecorder()
	newHandler(q).GetRecords(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var got api.RecordPage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, 11, got.Total)
	require.Len(t, got.Records, 1)
	assert.Equal(t, "2024-01-05", got.Records[0].Date)
}

func TestHandler_GetRecords_BadPage(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/costs/records?page=-1", nil)
	rr := httptest.NewRecorder()
	newHandler(new(mockQuery)).GetRecords(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandler_InternalErrorsAreGeneric(t *testing.T) {
	q := new(mockQuery)
	q.On("Consistency", mock.Anything, mock.Anything).
		Return(domain.ConsistencyReport{}, errors.New("duckdb: connection reset on /var/lib/atlas.db"))

	req := httptest.NewRequest(http.MethodGet, "/costs/consistency", nil)
	rr := httptest.NewRecorder()
	newHandler(q).GetConsistency(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	var got api.Error
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, api.Error{Kind: "internal", Message: "internal error"}, got)
}

func TestHandler_InvariantViolationIsGeneric(t *testing.T) {
	q := new(mockQuery)
	q.On("Consistency", mock.Anything, mock.Anything).
		Return(domain.ConsistencyReport{}, errkind.New(errkind.InvariantViolation, "service EC2 off by 3"))

	req := httptest.NewRequest(http.MethodGet, "/costs/consistency", nil)
	rr := httptest.NewRecorder()
	newHandler(q).GetConsistency(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "EC2")
}
