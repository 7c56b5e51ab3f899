package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"theological-agent/internal/app"
	"theological-agent/internal/config"
	"theological-agent/internal/logging"
	"theological-agent/internal/repository"
)

// cli carries the state shared by every subcommand.
type cli struct {
	configFile string
	verbose    bool
	jsonOutput bool

	cfg    *config.Config
	logger *logging.Logger

	openStore func(ctx context.Context, migrate bool) (repository.Store, error)
	newApp    func(ctx context.Context) (*app.App, error)
}

func newCLI() *cli {
	c := &cli{}
	c.openStore = func(ctx context.Context, migrate bool) (repository.Store, error) {
		return app.OpenStore(ctx, c.cfg, migrate, c.logger)
	}
	c.newApp = func(ctx context.Context) (*app.App, error) {
		return app.New(ctx, c.cfg, c.logger)
	}
	return c
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "agentctl",
		Short: "Operate the theological analysis service",
		Long: `agentctl runs analyses, applies database migrations and resolves
human reviews against the same storage the server uses.`,
		PersistentPreRunE: c.loadConfig,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}
	root.PersistentFlags().StringVar(&c.configFile, "config", "", "Path to config file")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Log at debug level")
	root.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "Print results as JSON")

	root.AddCommand(
		c.migrateCommand(),
		c.analyzeCommand(),
		c.reviewsCommand(),
		c.runsCommand(),
	)
	return root
}

// Execute runs the root command with signal handling
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return newCLI().rootCommand().ExecuteContext(ctx)
}

func (c *cli) loadConfig(cmd *cobra.Command, args []string) error {
	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}
	c.logger = logging.New(cmd.ErrOrStderr(), level)

	cfg, err := config.LoadConfig(c.configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
