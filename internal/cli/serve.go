package cli

import (
	"fmt"

	"github.com/harun/aiguide/internal/daemon"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the aiguide HTTP service",
	Long: `Run the aiguide HTTP service in the foreground. It serves chat,
notification and status endpoints until SIGINT or SIGTERM, then shuts
down gracefully.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := newLogger(cmd, cfg, false)
	if err != nil {
		return err
	}
	defer log.Close()

	d, err := daemon.New(cfg, log, version)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		d.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	return d.Wait()
}
