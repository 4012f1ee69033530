package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/tierroute/internal/config"
	"github.com/haasonsaas/tierroute/internal/experiments"
	"github.com/haasonsaas/tierroute/internal/providers"
	"github.com/haasonsaas/tierroute/internal/server"
	"github.com/haasonsaas/tierroute/internal/usage"
)

// =============================================================================
// Classification Commands
// =============================================================================

func buildClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <message>",
		Short: "Classify a message into a tier",
		Example: `  tierroute classify "hi"
  TIERROUTE_INTELLIGENT=true tierroute classify "write a short story about a robot"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.router.Classify(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

func buildClassifyTaskCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "classify-task <task>",
		Short:   "Map a task label to a tier",
		Example: `  tierroute classify-task code-generation`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.router.ClassifyTask(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

// =============================================================================
// Chat Command
// =============================================================================

func buildChatCmd() *cobra.Command {
	var req server.CompletionRequest

	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Route a message and send it to the configured provider",
		Long: `Classify the message, apply any experiment assignment and send it through
the middleware pipeline (logging, metrics, tracing, response cache, retry,
timeout, cost recording) to the configured provider.`,
		Example: `  tierroute chat "what is the capital of France?"
  tierroute chat --task legal-analysis "review this clause"
  tierroute chat --experiment prompt-test "summarize this"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, appOptions{withProvider: true})
			if err != nil {
				return err
			}
			defer a.Close()
			if a.providerErr != nil {
				return fmt.Errorf("provider: %w", a.providerErr)
			}

			req.Messages = []providers.Message{{Role: "user", Content: strings.Join(args, " ")}}
			completion, err := a.engine.Complete(cmd.Context(), req)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), completion.Content)
			total := a.usage.Total()
			fmt.Fprintf(cmd.ErrOrStderr(), "tier=%s model=%s tokens=%s in / %s out cost=%s\n",
				completion.Tier, completion.ModelID,
				usage.FormatTokenCount(completion.InputTokens), usage.FormatTokenCount(completion.OutputTokens),
				usage.FormatUSD(total.CostUSD))
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Task, "task", "", "Route by task label instead of the message")
	cmd.Flags().StringVar(&req.Experiment, "experiment", "", "Experiment to assign a variant from")
	cmd.Flags().StringVar(&req.System, "system", "", "System prompt")
	cmd.Flags().IntVar(&req.MaxTokens, "max-tokens", 0, "Maximum output tokens (provider default when 0)")
	return cmd
}

// =============================================================================
// Experiment Commands
// =============================================================================

func buildExperimentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "experiment",
		Short: "Validate and simulate experiments",
	}
	cmd.AddCommand(buildExperimentValidateCmd(), buildExperimentAssignCmd())
	return cmd
}

func buildExperimentValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate every experiment in a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := experiments.ReadFile(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			invalid := 0
			for _, exp := range file.Experiments {
				name := exp.Name
				if name == "" {
					name = "(unnamed)"
				}
				result := experiments.Validate(exp)
				if result.Valid {
					fmt.Fprintf(out, "ok       %s (%d variants)\n", name, len(exp.Variants))
					continue
				}
				invalid++
				fmt.Fprintf(out, "invalid  %s\n", name)
				for _, problem := range result.Errors {
					fmt.Fprintf(out, "  - %s\n", problem)
				}
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d experiments invalid", invalid, len(file.Experiments))
			}
			return nil
		},
	}
}

func buildExperimentAssignCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:     "assign <file> <experiment>",
		Short:   "Simulate assignments and print the observed distribution",
		Example: `  tierroute experiment assign experiments.yaml prompt-test -n 1000`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return errors.New("-n must be positive")
			}
			a, err := loadApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			loaded, err := a.experiments.LoadFile(args[0])
			if err != nil && loaded == 0 {
				return err
			}

			name := args[1]
			modelByVariant := map[string]string{}
			for i := 0; i < count; i++ {
				assignment, err := a.experiments.Assign(name)
				if err != nil {
					return err
				}
				if assignment == nil {
					return fmt.Errorf("experiment %q is unknown or inactive", name)
				}
				modelByVariant[assignment.VariantName] = assignment.ModelID
			}

			stats, _ := a.experiments.GetDistribution(name)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "VARIANT\tMODEL\tCOUNT\tFRACTION")
			for _, s := range stats {
				fmt.Fprintf(w, "%s\t%s\t%d\t%.3f\n", s.Variant, modelByVariant[s.Variant], s.Count, s.Fraction)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 100, "Number of assignments to simulate")
	return cmd
}

// =============================================================================
// Models and Usage Commands
// =============================================================================

func buildModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List registered models by provider and tier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tTIER\tMODEL\tINPUT $/M\tOUTPUT $/M")
			for _, spec := range a.registry.List() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%.2f\n", spec.Provider, spec.Tier, spec.ID, spec.InputPrice, spec.OutputPrice)
			}
			return w.Flush()
		},
	}
}

func buildUsageCmd() *cobra.Command {
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Summarize persisted token usage per model",
		Long:  "Reads usage records from usage.database_url and prints per-model totals.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return err
			}
			if cfg.Usage.DatabaseURL == "" {
				return errors.New("usage.database_url is not configured")
			}
			store, err := usage.OpenSQLStore(cmd.Context(), cfg.Usage.DatabaseURL, usage.DefaultSQLConfig())
			if err != nil {
				return err
			}
			defer store.Close()

			totals, err := store.TotalsByModel(cmd.Context(), time.Now().Add(-since))
			if err != nil {
				return err
			}
			return printUsage(cmd.OutOrStdout(), totals)
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "How far back to aggregate")
	return cmd
}

func printUsage(out io.Writer, totals map[string]usage.Usage) error {
	ids := make([]string, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sum usage.Usage
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tREQUESTS\tINPUT\tOUTPUT\tCOST")
	for _, id := range ids {
		u := totals[id]
		sum.Add(&u)
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", id, u.Requests,
			usage.FormatTokenCount(u.InputTokens), usage.FormatTokenCount(u.OutputTokens), usage.FormatUSD(u.CostUSD))
	}
	fmt.Fprintf(w, "TOTAL\t%d\t%s\t%s\t%s\n", sum.Requests,
		usage.FormatTokenCount(sum.InputTokens), usage.FormatTokenCount(sum.OutputTokens), usage.FormatUSD(sum.CostUSD))
	return w.Flush()
}

// =============================================================================
// Config Commands
// =============================================================================

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "validate",
			Short: "Load the configuration and report problems",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				path := resolveConfigPath(configPath)
				if _, err := config.Load(path); err != nil {
					return err
				}
				if path == "" {
					path = "(defaults)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "config ok: %s\n", path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "schema",
			Short: "Print the JSON Schema for the configuration file",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				schema, err := config.JSONSchema()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
				return err
			},
		},
	)
	return cmd
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
