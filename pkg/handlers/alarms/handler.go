package alarms

import (
	"context"
	"net/http"

	"github.com/de-tools/cost-atlas/pkg/adapters"
	"github.com/de-tools/cost-atlas/pkg/errkind"
	"github.com/de-tools/cost-atlas/pkg/handlers/respond"
	"github.com/de-tools/cost-atlas/pkg/models/api"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/de-tools/cost-atlas/pkg/services/alarm"
	"github.com/de-tools/cost-atlas/pkg/services/query"
	"github.com/go-chi/chi/v5"
)

// Tester dry-runs a rule.
type Tester interface {
	Test(ctx context.Context, rule domain.AlarmRule) (domain.Evaluation, error)
}

type Handler struct {
	rules  alarm.RuleManager
	events alarm.EventManager
	tester Tester
	query  query.API
}

func NewHandler(rules alarm.RuleManager, events alarm.EventManager, tester Tester, q query.API) *Handler {
	return &Handler{rules: rules, events: events, tester: tester, query: q}
}

func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req api.AlarmRuleRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	rule, err := h.rules.Create(r.Context(), adapters.MapRuleRequestApiToDomain(req))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusCreated, adapters.MapRuleDomainToApi(rule))
}

func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.rules.List(r.Context())
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	response := make([]api.AlarmRule, 0, len(rules))
	for _, rule := range rules {
		response = append(response, adapters.MapRuleDomainToApi(rule))
	}
	respond.JSON(w, r, http.StatusOK, response)
}

func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.rules.Get(r.Context(), chi.URLParam(r, "rule"))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, adapters.MapRuleDomainToApi(rule))
}

func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var req api.AlarmRuleRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	rule, err := h.rules.Update(r.Context(), chi.URLParam(r, "rule"), adapters.MapRuleRequestApiToDomain(req))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, adapters.MapRuleDomainToApi(rule))
}

func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.rules.Delete(r.Context(), chi.URLParam(r, "rule")); err != nil {
		respond.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TestRule reports whether the stored rule would trigger now. No event is
// written.
func (h *Handler) TestRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rule, err := h.rules.Get(ctx, chi.URLParam(r, "rule"))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	ev, err := h.tester.Test(ctx, rule)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, adapters.MapEvaluationDomainToApi(ev))
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	page, size, err := respond.Page(r)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	filter := domain.EventFilter{
		RuleID:   r.URL.Query().Get("rule_id"),
		Page:     page,
		PageSize: size,
	}
	for _, s := range respond.List(r, "status") {
		st, ok := domain.ParseEventStatus(s)
		if !ok {
			respond.Error(w, r, errkind.New(errkind.InvalidInput, "unknown event status %q", s))
			return
		}
		filter.Statuses = append(filter.Statuses, st)
	}

	events, err := h.query.AlarmEvents(r.Context(), filter)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, adapters.MapEventPageDomainToApi(events))
}

func (h *Handler) UpdateEventStatus(w http.ResponseWriter, r *http.Request) {
	var req api.EventStatusRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	event, err := h.events.Transition(r.Context(), chi.URLParam(r, "event"), domain.EventStatus(req.Status), req.Note)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, adapters.MapEventDomainToApi(event))
}
