package costs

import (
	"net/http"
	"time"

	"github.com/de-tools/cost-atlas/pkg/adapters"
	"github.com/de-tools/cost-atlas/pkg/errkind"
	"github.com/de-tools/cost-atlas/pkg/handlers/respond"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/de-tools/cost-atlas/pkg/services/query"
)

type Handler struct {
	query query.API
	now   func() time.Time
}

func NewHandler(q query.API) *Handler {
	return &Handler{query: q, now: func() time.Time { return time.Now().UTC() }}
}

func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	period, err := respond.Period(r, h.now())
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	summary, err := h.query.CostSummary(r.Context(), respond.Scope(r), period)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, adapters.MapSummaryDomainToApi(summary))
}

func (h *Handler) GetBreakdown(w http.ResponseWriter, r *http.Request) {
	period, err := respond.Period(r, h.now())
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	raw := r.URL.Query().Get("dimension")
	if raw == "" {
		raw = string(domain.DimensionService)
	}
	dim, ok := domain.ParseDimension(raw)
	if !ok {
		respond.Error(w, r, errkind.New(errkind.InvalidInput, "unknown dimension %q", raw))
		return
	}

	items, err := h.query.CostBreakdown(r.Context(), respond.Scope(r), period, dim)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, adapters.MapBreakdownDomainToApi(dim, period, items))
}

func (h *Handler) GetRecords(w http.ResponseWriter, r *http.Request) {
	period, err := respond.Period(r, h.now())
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	page, size, err := respond.Page(r)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	records, err := h.query.CostRecords(r.Context(), domain.RecordQuery{
		Scope:    respond.Scope(r),
		Period:   period,
		Page:     page,
		PageSize: size,
		Sort:     domain.SortOrder(r.URL.Query().Get("sort")),
	})
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, adapters.MapRecordPageDomainToApi(records))
}

// GetConsistency audits the rollup invariant. A report with mismatches is
// still a successful response.
func (h *Handler) GetConsistency(w http.ResponseWriter, r *http.Request) {
	period, err := respond.Period(r, h.now())
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	report, err := h.query.Consistency(r.Context(), period)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, adapters.MapConsistencyDomainToApi(report))
}
