// Package cmd defines and implements the CLI commands for the biodumpy executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/biodumpy/internal/app"
	"github.com/JakeFAU/biodumpy/internal/config"
	"github.com/JakeFAU/biodumpy/internal/logging"
)

// skipSetup marks commands that need neither config nor services.
const skipSetup = "skip-setup"

type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// runtime is what PersistentPreRunE hands to subcommands.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
}

// newApp is the application factory. It's a variable so tests can swap it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.Build(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "biodumpy",
		Short: "Harvest biodiversity data from public services into files.",
		Long: `biodumpy queries taxonomic, sequence, literature and occurrence services
(GBIF, BOLD, COL, Crossref, WoRMS, IUCN, NCBI, iNaturalist, ZooBank, OBIS)
for a list of names or identifiers and dumps the results as JSON, CSV or FASTA.`,
		SilenceUsage: true,

		// Config and logger are loaded once here. Each subcommand builds the
		// services it needs on top of them.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipSetup] == "true" {
				return nil
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey, &runtime{cfg: cfg, logger: logger}))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(newDownloadCmd())
	cmd.AddCommand(newModulesCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("configuration not initialized")
	}
	return rt, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
