package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pharci/lexica/internal/app"
	"github.com/pharci/lexica/internal/config"
	"github.com/pharci/lexica/internal/extract"
)

var ingestText string

var ingestCmd = &cobra.Command{
	Use:   "ingest [file...]",
	Short: "Index documents into the knowledge base",
	Long: `Ingest extracts text from the given files, chunks it, embeds every
chunk into the vector index and archives the original document.

With --text, the argument-free form indexes raw text instead of a file.`,
	RunE: func(_ *cobra.Command, args []string) error {
		return runIngest(args)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestText, "text", "", "ingest raw text instead of files")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(paths []string) error {
	if len(paths) == 0 && ingestText == "" {
		return fmt.Errorf("nothing to ingest: pass files or --text")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := context.Background()
	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			a.Logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	if ingestText != "" {
		receipt, err := a.Pipeline.IngestText(ctx, ingestText)
		if err != nil {
			return fmt.Errorf("ingesting text: %w", err)
		}
		printReceipt(receipt.Filename, receipt.ChunkCount, receipt.VectorsIndexed)
	}

	for _, path := range paths {
		name := filepath.Base(path)
		if !extract.Supported(name) {
			return fmt.Errorf("unsupported document format: %s", name)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		receipt, err := a.Pipeline.IngestFile(ctx, data, name)
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", path, err)
		}
		printReceipt(receipt.Filename, receipt.ChunkCount, receipt.VectorsIndexed)
	}

	return nil
}

func printReceipt(filename string, chunks int, indexed bool) {
	status := "indexed"
	if !indexed {
		status = "archived only (index unavailable)"
	}
	fmt.Printf("%s: %d chunks, %s\n", filename, chunks, status)
}
