package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/de-tools/cost-atlas/pkg/app"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/spf13/cobra"
)

// EngineOpener builds the engine a command runs against.
type EngineOpener func(ctx context.Context) (*app.Engine, error)

const defaultDays = 30

// periodFlags are the --from/--to pair shared by the reporting commands.
type periodFlags struct {
	from string
	to   string
}

func (p *periodFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.from, "from", "", "First day, YYYY-MM-DD (default: 30 days ago)")
	cmd.Flags().StringVar(&p.to, "to", "", "Exclusive last day, YYYY-MM-DD (default: tomorrow)")
}

func (p *periodFlags) set() bool {
	return p.from != "" || p.to != ""
}

// period resolves the flags against now. Omitted bounds fall back to the
// trailing 30 days ending today.
func (p *periodFlags) period(now time.Time) (domain.Period, error) {
	end := domain.Day(now).AddDate(0, 0, 1)
	if p.to != "" {
		t, err := domain.ParseDate(p.to)
		if err != nil {
			return domain.Period{}, fmt.Errorf("invalid --to: %w", err)
		}
		end = t
	}
	start := end.AddDate(0, 0, -defaultDays)
	if p.from != "" {
		t, err := domain.ParseDate(p.from)
		if err != nil {
			return domain.Period{}, fmt.Errorf("invalid --from: %w", err)
		}
		start = t
	}
	return domain.NewPeriod(start, end)
}

type scopeFlags struct {
	accounts  []string
	services  []string
	regions   []string
	providers []string
}

func (s *scopeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&s.accounts, "account", nil, "Restrict to account ids")
	cmd.Flags().StringSliceVar(&s.services, "service", nil, "Restrict to canonical service names")
	cmd.Flags().StringSliceVar(&s.regions, "region", nil, "Restrict to regions")
	cmd.Flags().StringSliceVar(&s.providers, "provider", nil, "Restrict to providers (aws, gcp, azure)")
}

func (s *scopeFlags) scope() domain.Scope {
	return domain.Scope{
		AccountIDs: s.accounts,
		Services:   s.services,
		Regions:    s.regions,
		Providers:  s.providers,
	}
}

// withEngine opens the engine for the duration of fn.
func withEngine(cmd *cobra.Command, open EngineOpener, fn func(ctx context.Context, e *app.Engine) error) error {
	ctx := cmd.Context()
	e, err := open(ctx)
	if err != nil {
		return fmt.Errorf("failed to open engine: %w", err)
	}
	defer func() { _ = e.Close() }()
	return fn(ctx, e)
}
