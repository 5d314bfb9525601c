package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"spool/internal/pipeline"
	"spool/internal/state"
)

func newDownloadCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "download <book.odm> [more.odm...]",
		Short: "Acquire a license and download all parts of each book",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdCtx.withPipeline(func(ctx context.Context, orch *pipeline.Orchestrator, _ *state.Store, _ *slog.Logger) error {
				for _, odmPath := range args {
					book, err := orch.Download(ctx, odmPath)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Downloaded %s by %s (%s)\n", book.Title, book.Author, book.MediaID)
				}
				return nil
			})
		},
	}
}

func newExtractCommand(cmdCtx *commandContext) *cobra.Command {
	var doImport bool
	var cleanup bool

	cmd := &cobra.Command{
		Use:   "extract <media-id|book.odm>",
		Short: "Extract chapters and assemble the downloaded parts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mediaID, err := resolveMediaID(args[0])
			if err != nil {
				return err
			}
			return cmdCtx.withPipeline(func(ctx context.Context, orch *pipeline.Orchestrator, store *state.Store, _ *slog.Logger) error {
				opts := pipeline.ProcessOptions{Import: doImport, Cleanup: cleanup}
				if err := orch.ExtractAndProcess(ctx, mediaID, opts); err != nil {
					return err
				}
				return printAssembled(cmd, store, mediaID)
			})
		},
	}
	cmd.Flags().BoolVar(&doImport, "import", false, "Hand the finished book to the library import tool")
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "Delete the raw part files after assembly")
	return cmd
}

func newProcessCommand(cmdCtx *commandContext) *cobra.Command {
	var doImport bool
	var cleanup bool

	cmd := &cobra.Command{
		Use:   "process <media-id|book.odm>",
		Short: "Assemble a book whose chapters are already extracted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mediaID, err := resolveMediaID(args[0])
			if err != nil {
				return err
			}
			return cmdCtx.withPipeline(func(ctx context.Context, orch *pipeline.Orchestrator, store *state.Store, _ *slog.Logger) error {
				opts := pipeline.ProcessOptions{Import: doImport, Cleanup: cleanup}
				if err := orch.Process(ctx, mediaID, opts); err != nil {
					return err
				}
				return printAssembled(cmd, store, mediaID)
			})
		},
	}
	cmd.Flags().BoolVar(&doImport, "import", false, "Hand the finished book to the library import tool")
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "Delete the raw part files after assembly")
	return cmd
}

func newReturnCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "return <media-id|book.odm>",
		Short: "Return the loan via the early-return endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mediaID, err := resolveMediaID(args[0])
			if err != nil {
				return err
			}
			return cmdCtx.withPipeline(func(ctx context.Context, orch *pipeline.Orchestrator, _ *state.Store, _ *slog.Logger) error {
				if err := orch.Return(ctx, mediaID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Returned %s\n", mediaID)
				return nil
			})
		},
	}
}

func printAssembled(cmd *cobra.Command, store *state.Store, mediaID string) error {
	book, err := store.GetByMediaID(context.Background(), mediaID)
	if err != nil {
		return err
	}
	if book != nil && book.AssembledFile != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Assembled %s\n", book.AssembledFile)
	}
	return nil
}
