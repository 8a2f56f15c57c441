// File: cmd/check.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rulecheck/internal/config"
	"github.com/xkilldash9x/rulecheck/internal/observability"
	"github.com/xkilldash9x/rulecheck/internal/orchestrator"
	"github.com/xkilldash9x/rulecheck/internal/store"
)

// flagBindings maps flags onto the configuration keys they override.
var flagBindings = map[string]string{
	"rules-dir":    "rulesets.rules_dir",
	"certs-dir":    "certificates.base_dir",
	"queue-size":   "engine.queue_size",
	"metric":       "thresholds.metric",
	"max-distance": "thresholds.max_distance",
	"report":       "report.output",
	"rps":          "http.requests_per_second",
}

// newCheckCmd creates and configures the `check` command.
func newCheckCmd(v *viper.Viper) *cobra.Command {
	checkCmd := &cobra.Command{
		Use:   "check [ruleset files...]",
		Short: "Fetch every ruleset's test URLs plain and rewritten and report broken rewrites",
		Long: `Loads the rulesets (the given files, or every *.xml in the rules directory),
fetches each test URL once as-is and once rewritten, and reports rewrites that
turn a working page into an error. With --auto-disable, failing rulesets are
marked default_off in place.

Exits 1 when --check-coverage finds rules without tests.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			for flag, key := range flagBindings {
				if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return err
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return err
			}
			applyFlagOverrides(cmd.Flags(), cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			opts := []orchestrator.Option{orchestrator.WithToolVersion(Version)}
			if dbURL := cfg.Database().URL; dbURL != "" {
				pool, err := store.Connect(ctx, dbURL)
				if err != nil {
					return err
				}
				defer pool.Close()

				st, err := store.New(ctx, pool, logger)
				if err != nil {
					return err
				}
				if err := st.EnsureSchema(ctx); err != nil {
					return err
				}
				opts = append(opts, orchestrator.WithRecorder(st))
			}

			orch, err := orchestrator.New(cfg, logger, opts...)
			if err != nil {
				return err
			}

			logger.Info("Starting ruleset check",
				zap.Int("files", len(args)),
				zap.String("rules_dir", cfg.Rulesets().RulesDir),
				zap.Int("workers", cfg.Engine().WorkerConcurrency),
				zap.Bool("http", cfg.HTTP().Enabled),
				zap.Bool("auto_disable", cfg.Rulesets().AutoDisable))

			summary, err := orch.Run(ctx, args)
			if err != nil {
				return err
			}
			if code := orch.ExitCode(summary); code != 0 {
				logger.Error("Coverage problems found")
				return &ExitCodeError{Code: code}
			}
			return nil
		},
	}

	flags := checkCmd.Flags()
	flags.String("rules-dir", "", "directory holding the ruleset XML files")
	flags.String("certs-dir", "", "directory with one trust-store subdirectory per platform")
	flags.IntP("workers", "w", 0, "number of concurrent comparison workers")
	flags.Int("queue-size", 0, "capacity of the task queue")
	flags.String("metric", "", "similarity metric: markup, text or json")
	flags.Float64("max-distance", 0, "distance reported as a big difference, in [0,1]")
	flags.StringP("report", "o", "", "write a JSON report to this file ('stdout' for standard output)")
	flags.Float64("rps", 0, "requests per second per host, 0 for unlimited")
	flags.String("url-list", "", "file with URLs to test instead of the rulesets' own test URLs")
	flags.Bool("auto-disable", false, "mark failing rulesets default_off in place")
	flags.Bool("include-default-off", false, "also test rulesets that are already disabled")
	flags.Bool("check-coverage", false, "report rules, exclusions and targets without tests")
	flags.Bool("no-http", false, "only load rulesets and check coverage, fetch nothing")
	return checkCmd
}

// applyFlagOverrides applies the flags that toggle behavior on top of the loaded configuration.
func applyFlagOverrides(flags *pflag.FlagSet, cfg config.Interface) {
	if flags.Changed("workers") {
		w, _ := flags.GetInt("workers")
		cfg.SetEngineWorkerConcurrency(w)
	}
	if flags.Changed("url-list") {
		p, _ := flags.GetString("url-list")
		cfg.SetHTTPURLList(p)
	}
	if flags.Changed("auto-disable") {
		b, _ := flags.GetBool("auto-disable")
		cfg.SetRulesetsAutoDisable(b)
	}
	if flags.Changed("include-default-off") {
		b, _ := flags.GetBool("include-default-off")
		cfg.SetRulesetsIncludeDefaultOff(b)
	}
	if flags.Changed("check-coverage") {
		b, _ := flags.GetBool("check-coverage")
		cfg.SetRulesetsCheckCoverage(b)
	}
	if flags.Changed("no-http") {
		b, _ := flags.GetBool("no-http")
		cfg.SetHTTPEnabled(!b)
	}
}
