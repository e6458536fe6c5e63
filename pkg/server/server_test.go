package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/de-tools/cost-atlas/pkg/models/api"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/de-tools/cost-atlas/pkg/services/alarm"
	"github.com/de-tools/cost-atlas/pkg/store"
	"github.com/de-tools/cost-atlas/pkg/store/memory"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
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

type stubTester struct{}

func (stubTester) Test(_ context.Context, rule domain.AlarmRule) (domain.Evaluation, error) {
	return domain.Evaluation{RuleID: rule.ID}, nil
}

func TestWebAPI_Endpoints(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	q := new(mockQuery)
	repos := store.NewRepositories(memory.NewKV())

	router := ConfigureRouter(Config{
		Addr:            ":8080",
		ShutdownTimeout: 10 * time.Second,
		Dependencies: Dependencies{
			Rules:  alarm.NewRuleService(repos.Rules),
			Events: alarm.NewEventService(repos.Events),
			Tester: stubTester{},
			Query:  q,
			Logger: logger,
		},
	})
	testServer := httptest.NewServer(router)
	defer testServer.Close()

	tests := []struct {
		name           string
		method         string
		path           string
		body           string
		setupMocks     func()
		expectedStatus int
		check          func(t *testing.T, body []byte)
	}{
		{
			name:           "Healthz",
			method:         http.MethodGet,
			path:           "/healthz",
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				assert.JSONEq(t, `{"status":"ok"}`, string(body))
			},
		},
		{
			name:   "CostSummary",
			method: http.MethodGet,
			path:   "/api/v1/costs/summary?from=2024-02-01&to=2024-02-02",
			setupMocks: func() {
				q.On("CostSummary", mock.Anything, domain.Scope{}, mock.Anything).
					Return(domain.Summary{Total: domain.Totals{AmountUSD: 42, Records: 3}}, nil)
			},
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				var got api.CostSummary
				require.NoError(t, json.Unmarshal(body, &got))
				assert.Equal(t, 42.0, got.Total.AmountUSD)
			},
		},
		{
			name:           "CreateAlarm",
			method:         http.MethodPost,
			path:           "/api/v1/alarms",
			body:           `{"name":"monthly","type":"budget","config":{"budget":500}}`,
			expectedStatus: http.StatusCreated,
			check: func(t *testing.T, body []byte) {
				var got api.AlarmRule
				require.NoError(t, json.Unmarshal(body, &got))
				assert.NotEmpty(t, got.ID)
				assert.Equal(t, "budget", got.Type)
			},
		},
		{
			name:   "ListAlarmEvents",
			method: http.MethodGet,
			path:   "/api/v1/alarm-events?status=new&page_size=5",
			setupMocks: func() {
				q.On("AlarmEvents", mock.Anything, domain.EventFilter{
					Statuses: []domain.EventStatus{domain.EventStatusNew},
					PageSize: 5,
				}).Return(domain.EventPage{Page: 1, PageSize: 5}, nil)
			},
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				assert.JSONEq(t, `{"events":[],"page":1,"page_size":5,"total":0}`, string(body))
			},
		},
		{
			name:           "UnknownEvent",
			method:         http.MethodPut,
			path:           "/api/v1/alarm-events/missing/status",
			body:           `{"status":"acknowledged"}`,
			expectedStatus: http.StatusNotFound,
			check: func(t *testing.T, body []byte) {
				var got api.Error
				require.NoError(t, json.Unmarshal(body, &got))
				assert.Equal(t, "not_found", got.Kind)
			},
		},
		{
			name:           "UnknownRoute",
			method:         http.MethodGet,
			path:           "/api/v1/workspaces",
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setupMocks != nil {
				tc.setupMocks()
			}
			req, err := http.NewRequest(tc.method, testServer.URL+tc.path, strings.NewReader(tc.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err, "Failed to send request")
			defer resp.Body.Close()

			assert.Equal(t, tc.expectedStatus, resp.StatusCode, "Status code mismatch")

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err, "Failed to read response body")
			if tc.check != nil {
				tc.check(t, body)
			}
		})
	}
}

func TestWebAPI_StartStopsOnCancel(t *testing.T) {
	web := NewWebAPI(Config{
		Addr:            "127.0.0.1:0",
		ShutdownTimeout: time.Second,
		Dependencies:    Dependencies{Logger: zerolog.Nop()},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- web.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
