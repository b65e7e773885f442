package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/isdmx/sqlbox/app"
	"github.com/isdmx/sqlbox/config"
	"github.com/isdmx/sqlbox/logger"
)

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			_ = printJSON(os.Stdout, map[string]any{"error": err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var (
		configFile string
		output     string
	)

	rootCmd := &cobra.Command{
		Use:           "sqlbox",
		Short:         "Sandboxed SQL execution and grading",
		Long:          "Operator command-line interface for the sqlbox sandbox engine.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return validateOutputFormat(output)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format: table or json")

	rootCmd.AddCommand(
		newValidateCmd(),
		newProblemsCmd(),
		newProvisionCmd(),
		newRunCmd(),
		newGradeCmd(),
		newSandboxesCmd(),
		newAttemptsCmd(),
		newDropCmd(),
	)

	return rootCmd
}

// getOutputFormat returns the effective output format from the root command's persistent flags.
func getOutputFormat(cmd *cobra.Command) string {
	v, _ := cmd.Root().PersistentFlags().GetString("output")
	return v
}

func validateOutputFormat(output string) error {
	if output != "" && output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", output)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// loadConfig reads the configuration named by --config, or the default
// locations when the flag is empty.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	if path, _ := cmd.Root().PersistentFlags().GetString("config"); path != "" {
		v.SetConfigFile(path)
	}
	return config.Load(v)
}

// openEngine loads configuration and opens every component. The returned
// function closes them.
func openEngine(cmd *cobra.Command) (*app.Components, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.NewFromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	c, err := app.Open(commandContext(cmd), cfg, log)
	if err != nil {
		_ = log.Sync()
		return nil, nil, err
	}
	return c, func() {
		if err := c.Close(); err != nil {
			log.Warn("Failed to close engine", zap.Error(err))
		}
		_ = log.Sync()
	}, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
