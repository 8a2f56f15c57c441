// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rulecheck/internal/config"
	"github.com/xkilldash9x/rulecheck/internal/observability"
)

// ExitCodeError carries a non-zero process exit status that is not a failure
// of the command itself, such as coverage problems.
type ExitCodeError struct {
	Code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// NewRootCommand builds a fresh command tree with its own viper instance, so
// that flags and configuration never leak between executions.
func NewRootCommand() *cobra.Command {
	var cfgFile string
	v := viper.New()

	config.Version = Version

	rootCmd := &cobra.Command{
		Use:           "rulecheck",
		Short:         "rulecheck verifies HTTPS rewrite rulesets against live sites.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.SetDefaults(v)
			if err := initializeConfig(v, cfgFile); err != nil {
				return err
			}

			var loggerCfg config.LoggerConfig
			if err := v.UnmarshalKey("logger", &loggerCfg); err != nil {
				return fmt.Errorf("failed to read logger configuration: %w", err)
			}
			logger, err := observability.Initialize(loggerCfg)
			if err != nil {
				return err
			}
			logger.Debug("Starting rulecheck", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./rulecheck.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)

	rootCmd.AddCommand(newCheckCmd(v))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the command line. Errors other than an ExitCodeError are logged.
func Execute(ctx context.Context, args []string) error {
	defer observability.Sync()

	rootCmd := NewRootCommand()
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)

	var exitErr *ExitCodeError
	if err != nil && !errors.As(err, &exitErr) {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
	}
	return err
}

// initializeConfig reads in the config file and RULECHECK_ environment variables.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("rulecheck")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("RULECHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}
