// Command sterictl is the operator CLI for the sterilization backend. It uses
// the same client, normalization and export code as the gateway.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sterilization-gateway/internal/backend"
	"sterilization-gateway/internal/logging"
)

var (
	// Global flags
	backendURL string
	token      string
	timeout    time.Duration
	asJSON     bool
	verbose    bool

	client *backend.Client
	logger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "sterictl",
	Short: "Operate the sterilization tracking backend from a terminal",
	Long: `sterictl talks to the sterilization backend directly: list materials and
alerts, acknowledge or resolve alerts, inspect and reconcile the DB and ledger
history of a material or batch, export it to XLSX and follow live cycle events.

The backend URL and token default to BACKEND_URL and BACKEND_TOKEN.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if backendURL == "" {
			return fmt.Errorf("backend URL is required (--url or BACKEND_URL)")
		}
		if verbose {
			logger = logging.NewConsole(cmd.ErrOrStderr(), "debug")
		} else {
			logger = logging.NewNop()
		}
		client = backend.New(backendURL, token, logger, backend.WithTimeout(timeout))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&backendURL, "url", os.Getenv("BACKEND_URL"), "backend base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("BACKEND_TOKEN"), "bearer token")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Second, "request timeout")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print JSON instead of tables")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log backend calls to stderr")

	rootCmd.AddCommand(loginCmd, materialsCmd, alertsCmd, historyCmd, reconcileCmd,
		metricsCmd, searchCmd, watchCmd, exportCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
