package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/query-router-agent/internal/app"
	"github.com/example/query-router-agent/internal/models"
	"github.com/example/query-router-agent/internal/telemetry"
)

// askFlags override config values only when set explicitly.
var askFlags struct {
	maxIterations int
	verbose       bool
}

var askCmd = &cobra.Command{
	Use:   "ask <query>",
	Short: "Answer a single query and print the response",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().IntVar(&askFlags.maxIterations, "max-iterations", 0, "override max_iterations from the config")
	askCmd.Flags().BoolVar(&askFlags.verbose, "verbose", false, "log every step")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(logContext(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("max-iterations") {
		cfg.MaxIterations = askFlags.maxIterations
	}

	a, err := app.New(ctx, cfg, telemetry.ClueLogger{})
	if err != nil {
		return err
	}
	defer a.Close()

	_, out, err := a.Orchestrator.Run(ctx, args[0], cfg.MaxIterations, askFlags.verbose)
	if out == nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintln(w, out.Response)
	fmt.Fprintf(w, "\nstatus: %s (steps: %d, retries: %d)\n", out.Status, out.Steps, out.Iterations)
	if out.Status == models.StatusExhausted {
		fmt.Fprintln(w, "the evaluator never accepted a response; showing the last one")
	}
	return err
}
