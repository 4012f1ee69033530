// Package main provides the tierroute CLI.
//
// tierroute routes LLM requests to a cost tier (fast, quality or expert)
// using a heuristic scorer, an optional LLM classifier for ambiguous
// messages, and weighted experiments.
//
// # Basic Usage
//
// Classify a message:
//
//	tierroute classify "compare these two database designs"
//
// Send a message through the full pipeline:
//
//	tierroute chat --config tierroute.yaml "summarize this thread"
//
// Serve the HTTP API:
//
//	tierroute serve --config tierroute.yaml
//
// # Environment Variables
//
//   - TIERROUTE_CONFIG: configuration file (default: tierroute.yaml when present)
//   - TIERROUTE_FORCE_TIER, TIERROUTE_INTELLIGENT, TIERROUTE_THRESHOLD,
//     TIERROUTE_CLASSIFIER_MODEL: fill router settings the file leaves unset
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Persistent flags.
var (
	configPath string
	debug      bool
)

const defaultConfigName = "tierroute.yaml"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := buildRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("command execution failed", "error", err)
		stop()
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tierroute",
		Short: "Route LLM requests to cost tiers",
		Long: `tierroute picks the cheapest model tier that can handle a request.

Tiers: fast, quality, expert
Providers: anthropic, openai, google, custom (OpenAI-compatible)`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML or JSON5 configuration file (or set TIERROUTE_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	rootCmd.AddCommand(
		buildClassifyCmd(),
		buildClassifyTaskCmd(),
		buildChatCmd(),
		buildExperimentCmd(),
		buildModelsCmd(),
		buildUsageCmd(),
		buildConfigCmd(),
		buildServeCmd(),
	)
	return rootCmd
}

// resolveConfigPath picks the flag, then TIERROUTE_CONFIG, then
// tierroute.yaml in the working directory. Empty means defaults only.
func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("TIERROUTE_CONFIG")); env != "" {
		return env
	}
	if _, err := os.Stat(defaultConfigName); err == nil {
		return defaultConfigName
	}
	return ""
}
