package commands

import (
	"context"
	"time"

	"github.com/de-tools/cost-atlas/pkg/app"
	"github.com/de-tools/cost-atlas/pkg/runtime/terminal/export"
	"github.com/spf13/cobra"
)

type EvaluateCmd struct {
	accounts []string
	open     EngineOpener
	reporter *export.Reporter
}

func NewEvaluateCmd(open EngineOpener, reporter *export.Reporter) *cobra.Command {
	ec := &EvaluateCmd{open: open, reporter: reporter}
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate active alarm rules now",
		RunE:  ec.run,
	}
	cmd.Flags().StringSliceVar(&ec.accounts, "account", nil, "Only rules whose scope covers these accounts")
	return cmd
}

func (ec *EvaluateCmd) run(cmd *cobra.Command, _ []string) error {
	return withEngine(cmd, ec.open, func(ctx context.Context, e *app.Engine) error {
		evals, err := e.Evaluator.EvaluateAll(ctx, ec.accounts...)
		if len(evals) == 0 && err == nil {
			ec.reporter.Message("No active rules.")
			return nil
		}
		ec.reporter.Evaluations(evals)
		return err
	})
}

type SweepCmd struct {
	open     EngineOpener
	reporter *export.Reporter
}

func NewSweepCmd(open EngineOpener, reporter *export.Reporter) *cobra.Command {
	sc := &SweepCmd{open: open, reporter: reporter}
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fail account links whose handshake has expired",
		RunE:  sc.run,
	}
}

func (sc *SweepCmd) run(cmd *cobra.Command, _ []string) error {
	return withEngine(cmd, sc.open, func(ctx context.Context, e *app.Engine) error {
		n, err := e.Linking.Sweep(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		sc.reporter.Message("Expired %d link(s).", n)
		return nil
	})
}
