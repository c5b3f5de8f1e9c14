// Package cli implements the optikr command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/OptikR/OptikR-sub005/config"
	"github.com/OptikR/OptikR-sub005/internal/logging"
)

// app carries state shared by the subcommands of one invocation.
type app struct {
	cfgFile  string
	logLevel string

	loader *config.Loader
	cfg    *config.Config
	logger *logging.Logger
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "optikr",
		Short: "Scheduling engine of the OptikR translation overlay",
		Long: `optikr drives the concurrent scheduling engine behind the OptikR
screen-translation overlay: a staged pipeline with priority admission,
adaptive batching for text recognition and a work-stealing pool for
translation.`,
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is "+config.File()+" when present)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level (DEBUG, INFO, WARN, ERROR)")

	root.AddCommand(
		newRunCommand(a),
		newBenchCommand(a),
		newAffinityCommand(a),
		newConfigCommand(a),
	)
	return root
}

// Execute runs the command line until it completes or the process receives
// SIGINT or SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCommand().ExecuteContext(ctx)
}

func (a *app) configPath() string {
	if a.cfgFile != "" {
		return a.cfgFile
	}
	if _, err := os.Stat(config.File()); err == nil {
		return config.File()
	}
	return ""
}

func (a *app) setup(_ *cobra.Command, _ []string) error {
	a.loader = config.NewLoader(a.configPath())
	cfg, err := a.loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.logLevel != "" {
		if !logging.ValidLevel(a.logLevel) {
			return fmt.Errorf("invalid --log-level %q", a.logLevel)
		}
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg

	logger, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

func (a *app) teardown(_ *cobra.Command, _ []string) error {
	if a.logger != nil {
		return a.logger.Close()
	}
	return nil
}
