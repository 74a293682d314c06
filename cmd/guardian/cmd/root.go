// Package cmd provides the CLI commands for Guardian.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/guardian-hq/guardian/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "guardian",
	Short: "Guardian - policy supervisor for autonomous agents",
	Long: `Guardian sits between autonomous agents and the outside world. Agents
declare what they intend to do; Guardian evaluates each intent against
operator policies and renders ALLOW, REWRITE, REQUIRE_APPROVAL, or BLOCK
before anything executes.

Quick start:
  1. Seed the bundled starter policies: guardian seed policies/guardian-policies.yaml
  2. Start the API server:              guardian serve
  3. Start a stream worker:             guardian work

Configuration:
  Config is loaded from guardian.yaml in the current directory,
  $HOME/.guardian/, or /etc/guardian/.

  Environment variables override config values with the GUARDIAN_ prefix.
  Example: GUARDIAN_REDIS_URL=redis://cache:6379/0

Commands:
  serve       Start the HTTP API server
  work        Start a stream worker consuming the intent stream
  mcp         Serve Guardian tools over MCP stdio
  seed        Load policy rules from a YAML file
  hashkey     Generate an argon2id hash for the admin key
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./guardian.yaml)")
}

func initConfig() {
	if err := config.InitViper(cfgFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger builds the process logger from the configured level. Logs go to
// stderr so stdout stays clean for MCP stdio transport.
func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(level),
	}))
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
