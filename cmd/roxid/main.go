// Package main provides the roxid binary entry point.
// Roxid runs Azure DevOps style pipelines locally: it resolves
// templates, executes stages and jobs with local runners, and tests
// pipelines against declarative assertions.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c360studio/roxid/commands"
	"github.com/c360studio/roxid/config"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "roxid"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var logLevel string

	levelVar := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	// Filled in by PersistentPreRunE; subcommands hold the pointer.
	cfg := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Local pipeline execution engine",
		Long: `Roxid runs Azure DevOps style pipelines on your machine.

It provides:
- Template resolution (extends, includes, parameters, expressions)
- Local execution with shell and task runners
- Pipeline test suites with declarative assertions
- A local task cache for Azure DevOps tasks`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.NewLoader(logger).Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			*cfg = *loaded

			level := cfg.Log.Level
			if cmd.Root().PersistentFlags().Changed("log-level") {
				level = logLevel
			}
			levelVar.Set(parseLevel(level))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(commands.NewRunCommand(cfg, logger))
	cmd.AddCommand(commands.NewTestCommand(cfg, logger))
	cmd.AddCommand(commands.NewValidateCommand())
	cmd.AddCommand(commands.NewTaskCommand(cfg))

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
