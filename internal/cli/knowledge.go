package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/harun/aiguide/pkg/knowledge"
	"github.com/spf13/cobra"
)

var (
	searchMode  string
	searchLimit int
)

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Inspect the guide knowledge base",
}

var knowledgeSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runKnowledgeSearch,
}

func init() {
	knowledgeSearchCmd.Flags().StringVar(&searchMode, "mode", string(knowledge.ModeAuto), "retrieval mode (kg, vector, auto)")
	knowledgeSearchCmd.Flags().IntVar(&searchLimit, "limit", 0, "maximum results (default from config)")
	knowledgeCmd.AddCommand(knowledgeSearchCmd)
	rootCmd.AddCommand(knowledgeCmd)
}

func runKnowledgeSearch(cmd *cobra.Command, args []string) error {
	mode, err := knowledge.ParseMode(searchMode)
	if err != nil {
		return err
	}
	query := strings.Join(args, " ")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := newLogger(cmd, cfg, true)
	if err != nil {
		return err
	}
	defer log.Close()

	if err := os.MkdirAll(filepath.Dir(cfg.Knowledge.DBPath), 0700); err != nil {
		return fmt.Errorf("failed to create knowledge directory: %w", err)
	}
	store, err := knowledge.Open(knowledge.FromConfig(cfg.Knowledge, log.Component("knowledge")))
	if err != nil {
		return fmt.Errorf("failed to open knowledge store: %w", err)
	}
	defer store.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Knowledge.SeedFile != "" {
		err = store.LoadFile(ctx, cfg.Knowledge.SeedFile)
	} else {
		err = store.LoadDefault(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to load knowledge: %w", err)
	}

	results, err := store.Search(ctx, query, mode, searchLimit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), knowledge.Format(results))
	return nil
}
