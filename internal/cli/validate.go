package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/shiftload/internal/loadgen/config"
	"github.com/wesleyorama2/shiftload/internal/loadgen/executor"
	"github.com/wesleyorama2/shiftload/internal/output"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a load test configuration without sending requests",
		Long: `Parse and validate a configuration file, then print what each scenario
would do. With --check-target the API base URL and key must also resolve,
from the file, the flags or API_URL and API_KEY.`,
		Args: cobra.NoArgs,
		RunE: runValidate,
	}

	cmd.Flags().StringP("config", "c", "", "Load test configuration file (YAML or JSON)")
	cmd.Flags().Bool("check-target", false, "Also require the API base URL and key")
	cmd.Flags().String("url", "", "API base URL")
	cmd.Flags().String("api-key", "", "API key")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runValidate(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	noColor, _ := cmd.Flags().GetBool("no-color")
	colors := output.DefaultColorScheme()
	if noColor {
		colors = output.NoColorScheme()
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return configError(err)
	}

	if check, _ := cmd.Flags().GetBool("check-target"); check {
		if v, _ := cmd.Flags().GetString("url"); v != "" {
			cfg.Settings.BaseURL = v
		}
		if v, _ := cmd.Flags().GetString("api-key"); v != "" {
			cfg.Settings.APIKey = v
		}
		config.ApplyEnv(cfg, nil)
		if err := cfg.CheckTarget(); err != nil {
			return err
		}
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s %s is valid\n", output.SuccessIcon(noColor), colors.Title.Sprint(path))
	if cfg.Name != "" {
		fmt.Fprintf(w, "  %s %s\n", colors.Label.Sprint("Name:"), cfg.Name)
	}
	if cfg.Options != nil && cfg.Options.Sequential {
		fmt.Fprintf(w, "  %s sequential\n", colors.Label.Sprint("Mode:"))
	}

	for _, name := range cfg.ScenarioNames() {
		sc := cfg.Scenarios[name]
		execCfg, err := executor.FromScenario(name, sc)
		if err != nil {
			return configError(fmt.Errorf("scenario %s: %w", name, err))
		}

		fmt.Fprintf(w, "\n  %s\n", colors.Highlight.Sprint(name))
		fmt.Fprintf(w, "    %-12s %s\n", "operation:", sc.Operation)
		if desc := executor.GetExecutorDescription(execCfg.Type); desc != nil {
			fmt.Fprintf(w, "    %-12s %s (%s)\n", "executor:", desc.Name, colors.Dim.Sprint(desc.Description))
		}
		fmt.Fprintf(w, "    %-12s %s\n", "duration:", execCfg.TotalDuration())
		fmt.Fprintf(w, "    %-12s %d\n", "max VUs:", execCfg.MaxVUsNeeded())
		if sc.IsBatch() {
			fmt.Fprintf(w, "    %-12s %d x %d concurrent\n", "batch:", sc.BatchSize, sc.ConcurrentBatches)
		} else {
			fmt.Fprintf(w, "    %-12s %d\n", "page size:", sc.PageSize)
		}
		if sc.NeedsPool() {
			fmt.Fprintf(w, "    %-12s %s\n", "pool:", describePool(cfg.PoolFor(name)))
		}

		thresholds := cfg.ThresholdsFor(name)
		keys := make([]string, 0, len(thresholds))
		for k := range thresholds {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "    %-12s %s: %s\n", "threshold:", k, strings.Join(thresholds[k], ", "))
		}
	}
	return nil
}

func describePool(p *config.PoolConfig) string {
	switch {
	case p == nil:
		return "none"
	case len(p.IDs) > 0:
		return fmt.Sprintf("%d inline identifiers", len(p.IDs))
	case p.File != "":
		return "file " + p.File
	case p.Range != nil:
		return fmt.Sprintf("range %s%d..%s%d", p.Range.Prefix, p.Range.Start, p.Range.Prefix, p.Range.Start+p.Range.Count-1)
	case p.Fetch != nil:
		return fmt.Sprintf("fetched from the API (up to %d)", p.Fetch.Limit)
	}
	return "none"
}
