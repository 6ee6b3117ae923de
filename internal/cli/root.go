package cli

import (
	"fmt"

	"github.com/harun/aiguide/internal/config"
	"github.com/harun/aiguide/internal/logger"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "aiguide",
	Short: "aiguide - multimodal travel guide assistant",
	Long: `aiguide is a multimodal travel guide assistant. It answers text and
image queries through a tool-using model, keeps per-session conversation
state, and pushes proactive tips to connected clients.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.aiguide/aiguide.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig reads the config file and applies an explicit --log-level
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. One-shot commands log to stderr
// at warn unless --log-level is given, leaving stdout for their output.
func newLogger(cmd *cobra.Command, cfg *config.Config, oneShot bool) (*logger.Logger, error) {
	lc := logger.FromConfig(cfg.Logging)
	if oneShot {
		lc.Out = cmd.ErrOrStderr()
		if f := cmd.Flags().Lookup("log-level"); f == nil || !f.Changed {
			lc.Level = "warn"
		}
	}
	log, err := logger.New(lc)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return log, nil
}
