package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/harun/aiguide/internal/daemon"
	"github.com/harun/aiguide/internal/media"
	"github.com/harun/aiguide/pkg/agent"
	"github.com/spf13/cobra"
)

var askImage string

var askCmd = &cobra.Command{
	Use:   "ask [text]",
	Short: "Ask the guide one question",
	Long: `Ask the guide one question locally and print the reply. An image can
be attached with --image; text may then be omitted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askImage, "image", "", "path to an image to attach")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	text := ""
	if len(args) > 0 {
		text = args[0]
	}
	if strings.TrimSpace(text) == "" && askImage == "" {
		return fmt.Errorf("a question or --image is required")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Session.ProactiveEnabled = false

	var image *agent.Attachment
	if askImage != "" {
		data, err := os.ReadFile(askImage)
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		img, err := media.Normalize(data, media.Options{
			MaxDimension: cfg.Server.MaxImageDim,
			MaxBytes:     cfg.Server.MaxImageBytes,
		})
		if err != nil {
			return fmt.Errorf("invalid image: %w", err)
		}
		image = &agent.Attachment{Data: img.Data, MimeType: img.MimeType}
	}

	log, err := newLogger(cmd, cfg, true)
	if err != nil {
		return err
	}
	defer log.Close()

	d, err := daemon.New(cfg, log, version)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	defer d.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	reply, err := d.Ask(ctx, text, image)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), reply)
	return nil
}
