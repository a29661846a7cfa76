package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pharci/lexica/internal/app"
	"github.com/pharci/lexica/internal/config"
	"github.com/pharci/lexica/internal/conversation"
)

var askDiscussionID string

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question grounded in the indexed documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return runAsk(args)
	},
}

func init() {
	askCmd.Flags().StringVar(&askDiscussionID, "discussion", "", "continue an existing discussion")
	rootCmd.AddCommand(askCmd)
}

func runAsk(args []string) error {
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

	turn, err := a.Orchestrator.Ask(ctx, conversation.Request{
		Question:     strings.Join(args, " "),
		DiscussionID: askDiscussionID,
	})
	if err != nil {
		return fmt.Errorf("preparing answer: %w", err)
	}

	if len(turn.Filenames) > 0 {
		fmt.Fprintf(os.Stderr, "sources: %s\n", strings.Join(turn.Filenames, ", "))
	}

	_, err = turn.Stream(ctx, func(_ context.Context, chunk string) error {
		_, werr := fmt.Print(chunk)
		return werr
	})
	if err != nil {
		return fmt.Errorf("streaming answer: %w", err)
	}
	fmt.Println()

	fmt.Fprintf(os.Stderr, "discussion: %s\n", turn.DiscussionID)
	return nil
}
