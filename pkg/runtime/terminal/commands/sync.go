package commands

import (
	"context"
	"time"

	"github.com/de-tools/cost-atlas/pkg/app"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/de-tools/cost-atlas/pkg/runtime/terminal/export"
	"github.com/spf13/cobra"
)

type SyncCmd struct {
	accounts []string
	period   periodFlags
	open     EngineOpener
	reporter *export.Reporter
}

func NewSyncCmd(open EngineOpener, reporter *export.Reporter) *cobra.Command {
	sc := &SyncCmd{open: open, reporter: reporter}
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Ingest provider costs for linked accounts",
		Long: "Ingest provider costs for the given accounts, or every syncable account. " +
			"Without --from/--to each account syncs its default window.",
		RunE: sc.run,
	}

	cmd.Flags().StringSliceVar(&sc.accounts, "account", nil, "Account ids to sync (default: all)")
	sc.period.register(cmd)
	return cmd
}

func (sc *SyncCmd) run(cmd *cobra.Command, _ []string) error {
	return withEngine(cmd, sc.open, func(ctx context.Context, e *app.Engine) error {
		var period *domain.Period
		if sc.period.set() {
			p, err := sc.period.period(time.Now().UTC())
			if err != nil {
				return err
			}
			period = &p
		}

		reports, err := e.Ingestion.SyncAll(ctx, sc.accounts, period)
		if err != nil {
			return err
		}
		if len(reports) == 0 {
			sc.reporter.Message("No syncable accounts.")
			return nil
		}
		sc.reporter.SyncReports(reports)

		ids := make([]string, 0, len(reports))
		for _, r := range reports {
			ids = append(ids, r.AccountID)
		}
		evals, err := e.Evaluator.EvaluateAll(ctx, ids...)
		if len(evals) > 0 {
			sc.reporter.Evaluations(evals)
		}
		return err
	})
}
