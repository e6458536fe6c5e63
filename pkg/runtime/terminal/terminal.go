package terminal

import (
	"context"
	"io"
	"os"

	"github.com/de-tools/cost-atlas/pkg/app"
	"github.com/de-tools/cost-atlas/pkg/config"
	"github.com/de-tools/cost-atlas/pkg/runtime/terminal/commands"
	"github.com/de-tools/cost-atlas/pkg/runtime/terminal/export"
	"github.com/spf13/cobra"
)

// CLI represents the operator command-line interface
type CLI struct {
	open     commands.EngineOpener
	reporter *export.Reporter
	rootCmd  *cobra.Command
	cfgPath  string
}

// Options contain configuration for the CLI
type Options struct {
	// Open builds the engine; it defaults to loading the config file given
	// by --config.
	Open   commands.EngineOpener
	Output io.Writer
}

// NewCLI creates a new CLI instance
func NewCLI(opts Options) *CLI {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	cli := &CLI{
		open:     opts.Open,
		reporter: export.NewReporter(opts.Output),
	}
	if cli.open == nil {
		cli.open = cli.openFromConfig
	}

	cli.rootCmd = cli.newRootCmd()
	cli.rootCmd.SetOut(opts.Output)
	return cli
}

func (cli *CLI) Execute() error {
	return cli.rootCmd.Execute()
}

func (cli *CLI) ExecuteContext(ctx context.Context, args ...string) error {
	cli.rootCmd.SetArgs(args)
	return cli.rootCmd.ExecuteContext(ctx)
}

func (cli *CLI) openFromConfig(ctx context.Context) (*app.Engine, error) {
	cfg, err := config.LoadConfig(cli.cfgPath)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

func (cli *CLI) newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cost-atlas",
		Short:         "Operate the cost aggregation and alarm engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&cli.cfgPath, "config", "c", "",
		"Path to a config file; COSTATLAS_* variables override it")

	cmd.AddCommand(commands.NewSyncCmd(cli.open, cli.reporter))
	cmd.AddCommand(commands.NewSummaryCmd(cli.open, cli.reporter))
	cmd.AddCommand(commands.NewBreakdownCmd(cli.open, cli.reporter))
	cmd.AddCommand(commands.NewEvaluateCmd(cli.open, cli.reporter))
	cmd.AddCommand(commands.NewSweepCmd(cli.open, cli.reporter))
	cmd.AddCommand(commands.NewConsistencyCmd(cli.open, cli.reporter))

	return cmd
}
