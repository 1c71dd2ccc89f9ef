// Package cli provides the command-line interface for driveman.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/multiapi/driveman/internal/api"
	"github.com/multiapi/driveman/internal/config"
	"github.com/multiapi/driveman/internal/logging"
	"github.com/multiapi/driveman/internal/version"
)

var (
	// Global flags
	cfgFile    string
	backendURL string
	verbose    bool

	// Global logger
	logger *logging.Logger

	// Loaded configuration
	cfg *config.Config

	// Global context cancelled on SIGINT/SIGTERM
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "driveman",
		Short: "driveman - multi-account cloud storage manager",
		Long: `driveman ` + version.Version + ` - Built: ` + version.BuildTime + `
Client for managing multiple cloud-storage accounts through the driveman
backend: list accounts, search files, render reports, upload files, and
watch backend health.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger = logging.NewDefaultLogger()
			if verbose {
				logging.SetGlobalLevel(zerolog.DebugLevel)
			}

			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return err
			}
			if backendURL != "" {
				cfg.Backend.URL = backendURL
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend-url", "", "Backend base URL (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")

	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"

	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newAccountsCmd())
	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newReportCmd())
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newWatchCmd())

	return rootCmd
}

// Execute runs the CLI with signal-aware context cancellation.
func Execute() {
	rootContext, cancelFunc = context.WithCancel(context.Background())
	defer cancelFunc()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancelFunc()
	}()

	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newClient builds the backend API client from the loaded configuration.
func newClient() *api.Client {
	return api.NewClient(cfg, logger)
}
