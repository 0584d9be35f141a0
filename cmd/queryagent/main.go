package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"goa.design/clue/log"

	"github.com/example/query-router-agent/internal/config"
)

var version = "v0.1.0"

var rootFlags struct {
	configPath string
	envFile    string
	debug      bool
}

var rootCmd = &cobra.Command{
	Use:           "queryagent",
	Short:         "Answer questions by routing them to query tools and retrying with rewritten queries",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVar(&rootFlags.configPath, "config", "queryagent.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&rootFlags.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().BoolVar(&rootFlags.debug, "debug", false, "enable debug logs")
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// logContext returns a context carrying the clue logger.
func logContext() context.Context {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if rootFlags.debug {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	return ctx
}

// loadConfig reads .env, the config file and the environment.
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(rootFlags.envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(rootFlags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
