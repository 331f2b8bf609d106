// Package cmd defines the collector CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/lawdata-collector/internal/app"
	"github.com/JakeFAU/lawdata-collector/internal/collector"
	"github.com/JakeFAU/lawdata-collector/internal/config"
	"github.com/JakeFAU/lawdata-collector/internal/logging"
)

// App is the part of app.App the commands use. Tests inject a fake.
type App interface {
	Logger() *zap.Logger
	StartServer(ctx context.Context)
	Migrate(ctx context.Context) error
	RunJob(ctx context.Context, name collector.JobName, params collector.RunParams) (collector.RunRecord, error)
	Close()
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

type cli struct {
	cfgFile string
	app     App
}

func newRootCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lawdata-collector",
		Short: "Collects statutes and court decisions from the legal-data Open API.",
		Long: `lawdata-collector pages through the statute and precedent search
endpoints, enriches each item with its detail document, and upserts the
normalized rows into PostgreSQL or SQLite.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Level:       cfg.Log.Level,
				Format:      cfg.Log.Format,
				Development: cfg.Log.Development,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("initialize application services: %w", err)
			}
			c.app = a
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (YAML); COLLECTOR_* env vars override it")

	cmd.AddCommand(newLawsCmd(c))
	cmd.AddCommand(newPrecedentsCmd(c))
	cmd.AddCommand(newMigrateCmd(c))
	return cmd
}

// close releases the app built by PersistentPreRunE. Cobra skips post-run
// hooks when RunE fails, so Execute calls this directly.
func (c *cli) close() {
	if c.app != nil {
		c.app.Close()
		c.app = nil
	}
}

func (c *cli) resolveApp() (App, error) {
	if c.app == nil {
		return nil, errors.New("application services not initialized")
	}
	return c.app, nil
}

// run executes args and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	c := &cli{}
	root := newRootCmd(c)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	defer c.close()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

// Execute runs the root command with SIGINT/SIGTERM wired to cancellation.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}
