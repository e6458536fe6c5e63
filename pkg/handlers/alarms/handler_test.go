package alarms

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/de-tools/cost-atlas/pkg/models/api"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/de-tools/cost-atlas/pkg/services/aggregation"
	"github.com/de-tools/cost-atlas/pkg/services/alarm"
	"github.com/de-tools/cost-atlas/pkg/services/query"
	"github.com/de-tools/cost-atlas/pkg/store"
	"github.com/de-tools/cost-atlas/pkg/store/memory"
	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	router http.Handler
	repos  store.Repositories
}

func newTestEnv(t *testing.T, records ...domain.CostRecord) *testEnv {
	t.Helper()
	repos := store.NewRepositories(memory.NewKV())
	costs := memory.NewCostStore()
	_, err := costs.Upsert(context.Background(), records)
	require.NoError(t, err)

	agg := aggregation.NewAggregator(costs)
	events := alarm.NewEventService(repos.Events)
	evaluator := alarm.NewEvaluator(repos, events, agg, alarm.Options{})
	h := NewHandler(alarm.NewRuleService(repos.Rules), events, evaluator, query.NewService(agg, costs, events))

	r := chi.NewRouter()
	r.Post("/alarms", h.CreateRule)
	r.Get("/alarms", h.ListRules)
	r.Get("/alarms/{rule}", h.GetRule)
	r.Put("/alarms/{rule}", h.UpdateRule)
	r.Delete("/alarms/{rule}", h.DeleteRule)
	r.Post("/alarms/{rule}/test", h.TestRule)
	r.Get("/alarm-events", h.ListEvents)
	r.Put("/alarm-events/{event}/status", h.UpdateEventStatus)

	return &testEnv{router: r, repos: repos}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, httptest.NewRequest(method, path, &buf))
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestRuleCRUD(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/alarms", api.AlarmRuleRequest{
		Name:   "daily spend",
		Type:   "threshold",
		Config: api.RuleConfig{Threshold: 100, Operator: "gt"},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[api.AlarmRule](t, rr)
	assert.Equal(t, "active", created.Status)

	rr = env.do(t, http.MethodPut, "/alarms/"+created.ID, api.AlarmRuleRequest{
		Name:   "daily spend",
		Type:   "threshold",
		Config: api.RuleConfig{Threshold: 150, Operator: "gte"},
		Status: "paused",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	updated := decode[api.AlarmRule](t, rr)
	assert.Equal(t, 150.0, updated.Config.Threshold)
	assert.Equal(t, "paused", updated.Status)

	rr = env.do(t, http.MethodGet, "/alarms", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]api.AlarmRule](t, rr), 1)

	rr = env.do(t, http.MethodDelete, "/alarms/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = env.do(t, http.MethodGet, "/alarms/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreateRule_Invalid(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/alarms", api.AlarmRuleRequest{Name: "x", Type: "budget"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_input", decode[api.Error](t, rr).Kind)
}

func TestTestRule_DryRun(t *testing.T) {
	today := domain.Day(time.Now())
	env := newTestEnv(t, domain.CostRecord{
		AccountID:   "A",
		Provider:    domain.ProviderAWS,
		ServiceName: "Amazon EC2",
		Region:      "us-east-1",
		Date:        today,
		Amount:      250,
		Currency:    "USD",
		AmountUSD:   250,
	})

	rr := env.do(t, http.MethodPost, "/alarms", api.AlarmRuleRequest{
		Name:   "daily spend",
		Type:   "threshold",
		Config: api.RuleConfig{Threshold: 100},
	})
	created := decode[api.AlarmRule](t, rr)

	rr = env.do(t, http.MethodPost, "/alarms/"+created.ID+"/test", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	got := decode[api.AlarmTestResponse](t, rr)
	assert.True(t, got.WouldTrigger)
	assert.Equal(t, 250.0, got.CurrentValue)
	assert.Equal(t, 100.0, got.ThresholdValue)

	rr = env.do(t, http.MethodGet, "/alarm-events", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Zero(t, decode[api.EventPage](t, rr).Total)
}

func TestEventStatusLifecycle(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.repos.Events.Put(context.Background(), "e1", domain.AlarmEvent{
		ID:          "e1",
		RuleID:      "r1",
		Status:      domain.EventStatusNew,
		TriggeredAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}))

	rr := env.do(t, http.MethodPut, "/alarm-events/e1/status", api.EventStatusRequest{Status: "acknowledged", Note: "looking"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	ev := decode[api.AlarmEvent](t, rr)
	assert.Equal(t, "acknowledged", ev.Status)
	require.Len(t, ev.History, 1)
	assert.Equal(t, "looking", ev.History[0].Note)

	rr = env.do(t, http.MethodPut, "/alarm-events/e1/status", api.EventStatusRequest{Status: "resolved"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodPut, "/alarm-events/e1/status", api.EventStatusRequest{Status: "new"})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "invalid_transition", decode[api.Error](t, rr).Kind)

	rr = env.do(t, http.MethodGet, "/alarm-events?rule_id=r1&status=resolved", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	page := decode[api.EventPage](t, rr)
	require.Equal(t, 1, page.Total)
	assert.Len(t, page.Events[0].History, 2)

	rr = env.do(t, http.MethodGet, "/alarm-events?status=closed", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
