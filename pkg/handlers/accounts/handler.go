package accounts

import (
	"errors"
	"net/http"
	"time"

	"github.com/de-tools/cost-atlas/pkg/adapters"
	"github.com/de-tools/cost-atlas/pkg/errkind"
	"github.com/de-tools/cost-atlas/pkg/handlers/respond"
	"github.com/de-tools/cost-atlas/pkg/models/api"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/de-tools/cost-atlas/pkg/services/account"
	"github.com/de-tools/cost-atlas/pkg/services/ingestion"
	"github.com/de-tools/cost-atlas/pkg/services/linking"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type Handler struct {
	linking   linking.Workflow
	accounts  account.Manager
	ingestion ingestion.Controller
}

func NewHandler(l linking.Workflow, a account.Manager, i ingestion.Controller) *Handler {
	return &Handler{linking: l, accounts: a, ingestion: i}
}

func (h *Handler) InitiateLink(w http.ResponseWriter, r *http.Request) {
	var req api.LinkInitiateRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	provider, err := domain.ParseProvider(req.Provider)
	if err != nil {
		respond.Error(w, r, errkind.Wrap(errkind.InvalidInput, err, "invalid provider"))
		return
	}

	link, in, err := h.linking.Initiate(r.Context(), provider, req.PayerAccountID, req.DataPrefix)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusCreated, adapters.MapInitiateDomainToApi(link, in))
}

func (h *Handler) FinalizeLink(w http.ResponseWriter, r *http.Request) {
	var req api.LinkFinalizeRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	if req.ConnectionID == "" {
		respond.Error(w, r, errkind.New(errkind.InvalidInput, "connection_id is required"))
		return
	}

	link, acc, err := h.linking.Finalize(r.Context(), req.ConnectionID, adapters.MapFinalizeApiToCredential(req))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, adapters.MapFinalizeDomainToApi(link, acc))
}

func (h *Handler) GetLink(w http.ResponseWriter, r *http.Request) {
	link, err := h.linking.Get(r.Context(), chi.URLParam(r, "connection"))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, adapters.MapLinkDomainToApi(link))
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	list, err := h.accounts.List(r.Context())
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	response := make([]api.Account, 0, len(list))
	for _, a := range list {
		response = append(response, adapters.MapAccountDomainToApi(a))
	}
	respond.JSON(w, r, http.StatusOK, response)
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	a, err := h.accounts.Get(r.Context(), chi.URLParam(r, "account"))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, adapters.MapAccountDomainToApi(a))
}

func (h *Handler) DisconnectAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Disconnect(r.Context(), chi.URLParam(r, "account")); err != nil {
		respond.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) TestConnection(w http.ResponseWriter, r *http.Request) {
	ok, diag, err := h.accounts.TestConnection(r.Context(), chi.URLParam(r, "account"))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, adapters.MapDiagnosticToApi(ok, diag))
}

// RefreshAccount queues a sync of the account's default window and returns
// immediately.
func (h *Handler) RefreshAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "account")

	a, err := h.accounts.Get(ctx, id)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if !a.Syncable() {
		respond.Error(w, r, errkind.New(errkind.Conflict, "account %s is %s; link it again to resume syncing", id, a.Status))
		return
	}

	err = h.ingestion.ScheduleSync(ctx, id)
	if errors.Is(err, ingestion.ErrQueueFull) {
		zerolog.Ctx(ctx).Warn().Str("account_id", id).Msg("refresh rejected, ingestion queue full")
		respond.JSON(w, r, http.StatusServiceUnavailable, api.Error{Kind: "busy", Message: err.Error()})
		return
	}
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// RunIngestion is the entry point for the external scheduler. It syncs the
// named accounts, or every syncable account, and waits for the result.
func (h *Handler) RunIngestion(w http.ResponseWriter, r *http.Request) {
	var req api.IngestionRunRequest
	if r.ContentLength != 0 {
		if err := respond.Decode(r, &req); err != nil {
			respond.Error(w, r, err)
			return
		}
	}

	var period *domain.Period
	if req.From != "" || req.To != "" {
		p, err := parsePeriod(req.From, req.To)
		if err != nil {
			respond.Error(w, r, err)
			return
		}
		period = &p
	}

	reports, err := h.ingestion.SyncAll(r.Context(), req.AccountIDs, period)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	response := api.IngestionRunResponse{Reports: make([]api.SyncReport, 0, len(reports))}
	for _, rep := range reports {
		response.Reports = append(response.Reports, adapters.MapSyncReportDomainToApi(rep))
	}
	respond.JSON(w, r, http.StatusOK, response)
}

func parsePeriod(from, to string) (domain.Period, error) {
	if from == "" || to == "" {
		return domain.Period{}, errkind.New(errkind.InvalidInput, "from and to must be given together")
	}
	var bounds [2]time.Time
	for i, s := range []string{from, to} {
		t, err := domain.ParseDate(s)
		if err != nil {
			return domain.Period{}, errkind.Wrap(errkind.InvalidInput, err, "invalid period")
		}
		bounds[i] = t
	}
	p, err := domain.NewPeriod(bounds[0], bounds[1])
	if err != nil {
		return domain.Period{}, errkind.Wrap(errkind.InvalidInput, err, "invalid period")
	}
	return p, nil
}
