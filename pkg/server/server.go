package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/de-tools/cost-atlas/pkg/handlers/accounts"
	"github.com/de-tools/cost-atlas/pkg/handlers/alarms"
	"github.com/de-tools/cost-atlas/pkg/handlers/costs"
	"github.com/de-tools/cost-atlas/pkg/handlers/respond"
	"github.com/de-tools/cost-atlas/pkg/services/account"
	"github.com/de-tools/cost-atlas/pkg/services/alarm"
	"github.com/de-tools/cost-atlas/pkg/services/ingestion"
	"github.com/de-tools/cost-atlas/pkg/services/linking"
	"github.com/de-tools/cost-atlas/pkg/services/query"

	costatlasmiddleware "github.com/de-tools/cost-atlas/pkg/server/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type WebAPI struct {
	logger          *zerolog.Logger
	server          *http.Server
	shutdownTimeout time.Duration
}

type Dependencies struct {
	Linking   linking.Workflow
	Accounts  account.Manager
	Ingestion ingestion.Controller
	Rules     alarm.RuleManager
	Events    alarm.EventManager
	Tester    alarms.Tester
	Query     query.API
	Logger    zerolog.Logger
}

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	Dependencies    Dependencies
}

func ConfigureRouter(config Config) http.Handler {
	deps := config.Dependencies
	costHandler := costs.NewHandler(deps.Query)
	accountHandler := accounts.NewHandler(deps.Linking, deps.Accounts, deps.Ingestion)
	alarmHandler := alarms.NewHandler(deps.Rules, deps.Events, deps.Tester, deps.Query)

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(costatlasmiddleware.Logger(&deps.Logger))
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/costs", func(r chi.Router) {
			r.Get("/summary", costHandler.GetSummary)
			r.Get("/breakdown", costHandler.GetBreakdown)
			r.Get("/records", costHandler.GetRecords)
			r.Get("/consistency", costHandler.GetConsistency)
		})

		r.Route("/accounts", func(r chi.Router) {
			r.Post("/link/initiate", accountHandler.InitiateLink)
			r.Post("/link/finalize", accountHandler.FinalizeLink)
			r.Get("/link/{connection}", accountHandler.GetLink)

			r.Get("/", accountHandler.ListAccounts)
			r.Get("/{account}", accountHandler.GetAccount)
			r.Delete("/{account}", accountHandler.DisconnectAccount)
			r.Post("/{account}/test", accountHandler.TestConnection)
			r.Post("/{account}/refresh", accountHandler.RefreshAccount)
		})
		r.Post("/ingestion/run", accountHandler.RunIngestion)

		r.Route("/alarms", func(r chi.Router) {
			r.Post("/", alarmHandler.CreateRule)
			r.Get("/", alarmHandler.ListRules)
			r.Get("/{rule}", alarmHandler.GetRule)
			r.Put("/{rule}", alarmHandler.UpdateRule)
			r.Delete("/{rule}", alarmHandler.DeleteRule)
			r.Post("/{rule}/test", alarmHandler.TestRule)
		})
		r.Get("/alarm-events", alarmHandler.ListEvents)
		r.Put("/alarm-events/{event}/status", alarmHandler.UpdateEventStatus)
	})

	return router
}

func NewWebAPI(config Config) *WebAPI {
	logger := config.Dependencies.Logger
	timeout := config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebAPI{
		logger:          &logger,
		shutdownTimeout: timeout,
		server: &http.Server{
			Addr:              config.Addr,
			Handler:           ConfigureRouter(config),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start serves until ctx is cancelled, then drains outstanding requests for
// at most the shutdown timeout.
func (w *WebAPI) Start(ctx context.Context) error {
	serverErrors := make(chan error, 1)

	go func() {
		w.logger.Info().Str("addr", w.server.Addr).Msg("starting server")
		serverErrors <- w.server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		w.logger.Info().Msg("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), w.shutdownTimeout)
		defer cancel()

		err := w.server.Shutdown(shutdownCtx)
		if err != nil {
			w.logger.Error().Err(err).Msg("graceful shutdown failed")
			err = w.server.Close()
		}
		return err
	}
}
