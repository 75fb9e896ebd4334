package cli

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ppiankov/incognito/internal/config"
	"github.com/ppiankov/incognito/internal/logging"
)

var (
	configPath string
	logLevel   string
	logPretty  bool
)

var rootCmd = &cobra.Command{
	Use:   "incognito",
	Short: "Client-side anti-fingerprinting guard",
	Long: "Inspects what a client reveals to the server it plays on: advertised\n" +
		"channels, identity, label values and resource URLs. The subcommands run\n" +
		"the same guards an embedding host links through the SDK.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML (default: ~/.incognito/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "pretty", false, "Human-readable console logs")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadSettings reads the config file named by --config.
func loadSettings() (*config.Settings, string, error) {
	return config.LoadConfigWithHash(configPath)
}

// newLogger builds the stderr logger, with flags overriding the file.
func newLogger(cfg *config.Settings) zerolog.Logger {
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	return logging.New(os.Stderr, level, logPretty || cfg.Log.Pretty)
}

// stdout returns where a command prints results.
func stdout(cmd *cobra.Command) io.Writer {
	if cmd == nil {
		return os.Stdout
	}
	return cmd.OutOrStdout()
}
