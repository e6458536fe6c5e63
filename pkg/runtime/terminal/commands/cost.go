package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/de-tools/cost-atlas/pkg/app"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/de-tools/cost-atlas/pkg/runtime/terminal/export"
	"github.com/spf13/cobra"
)

type SummaryCmd struct {
	period   periodFlags
	scope    scopeFlags
	open     EngineOpener
	reporter *export.Reporter
}

func NewSummaryCmd(open EngineOpener, reporter *export.Reporter) *cobra.Command {
	sc := &SummaryCmd{open: open, reporter: reporter}
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show total cost and the change against the previous period",
		RunE:  sc.run,
	}
	sc.period.register(cmd)
	sc.scope.register(cmd)
	return cmd
}

func (sc *SummaryCmd) run(cmd *cobra.Command, _ []string) error {
	period, err := sc.period.period(time.Now().UTC())
	if err != nil {
		return err
	}
	return withEngine(cmd, sc.open, func(ctx context.Context, e *app.Engine) error {
		summary, err := e.Query.CostSummary(ctx, sc.scope.scope(), period)
		if err != nil {
			return err
		}
		sc.reporter.Summary(summary)
		return nil
	})
}

type BreakdownCmd struct {
	dimension string
	period    periodFlags
	scope     scopeFlags
	open      EngineOpener
	reporter  *export.Reporter
}

func NewBreakdownCmd(open EngineOpener, reporter *export.Reporter) *cobra.Command {
	bc := &BreakdownCmd{open: open, reporter: reporter}
	cmd := &cobra.Command{
		Use:   "breakdown",
		Short: "Split cost by one dimension",
		RunE:  bc.run,
	}
	cmd.Flags().StringVar(&bc.dimension, "dimension", string(domain.DimensionService),
		"Dimension to group by (service, region, account, provider)")
	bc.period.register(cmd)
	bc.scope.register(cmd)
	return cmd
}

func (bc *BreakdownCmd) run(cmd *cobra.Command, _ []string) error {
	dim, ok := domain.ParseDimension(bc.dimension)
	if !ok {
		return fmt.Errorf("unsupported dimension %q; use one of %v", bc.dimension, domain.Dimensions)
	}
	period, err := bc.period.period(time.Now().UTC())
	if err != nil {
		return err
	}
	return withEngine(cmd, bc.open, func(ctx context.Context, e *app.Engine) error {
		items, err := e.Query.CostBreakdown(ctx, bc.scope.scope(), period, dim)
		if err != nil {
			return err
		}
		bc.reporter.Breakdown(dim, period, items)
		return nil
	})
}

type ConsistencyCmd struct {
	period   periodFlags
	open     EngineOpener
	reporter *export.Reporter
}

func NewConsistencyCmd(open EngineOpener, reporter *export.Reporter) *cobra.Command {
	cc := &ConsistencyCmd{open: open, reporter: reporter}
	cmd := &cobra.Command{
		Use:   "consistency",
		Short: "Check that every dimension sums to the same total",
		RunE:  cc.run,
	}
	cc.period.register(cmd)
	return cmd
}

func (cc *ConsistencyCmd) run(cmd *cobra.Command, _ []string) error {
	period, err := cc.period.period(time.Now().UTC())
	if err != nil {
		return err
	}
	return withEngine(cmd, cc.open, func(ctx context.Context, e *app.Engine) error {
		report, err := e.Query.Consistency(ctx, period)
		if err != nil {
			return err
		}
		cc.reporter.Consistency(report)
		if !report.Consistent() {
			return fmt.Errorf("%d dimension totals disagree", len(report.Mismatches))
		}
		return nil
	})
}
