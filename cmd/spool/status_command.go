package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"spool/internal/deps"
	"spool/internal/pipeline"
	"spool/internal/state"
)

func newStatusCommand(cmdCtx *commandContext) *cobra.Command {
	var checkDeps bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show tracked books and their pipeline stage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdCtx.withPipeline(func(ctx context.Context, _ *pipeline.Orchestrator, store *state.Store, _ *slog.Logger) error {
				out := cmd.OutOrStdout()

				if checkDeps {
					cfg, _ := cmdCtx.ensureConfig()
					printDeps(out, deps.CheckBinaries(deps.ForConfig(cfg)))
					fmt.Fprintln(out)
				}

				books, err := store.List(ctx)
				if err != nil {
					return err
				}
				if len(books) == 0 {
					fmt.Fprintln(out, "No books tracked. Run 'spool download <book.odm>' to start.")
					return nil
				}

				rows := make([][]string, 0, len(books))
				for _, book := range books {
					title := book.Title
					if title == "" {
						title = "(pending parse)"
					}
					detail := ""
					if book.Status == state.StatusFailed {
						detail = book.ErrorMessage
					}
					rows = append(rows, []string{
						book.MediaID,
						title,
						book.Author,
						string(book.Status),
						humanize.Time(book.UpdatedAt),
						detail,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"MEDIA ID", "TITLE", "AUTHOR", "STATUS", "UPDATED", "ERROR"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&checkDeps, "deps", false, "Also report external binary availability")
	return cmd
}

func printDeps(out io.Writer, statuses []deps.Status) {
	rows := make([][]string, 0, len(statuses))
	for _, status := range statuses {
		availability := "ok"
		if !status.Available {
			availability = "missing"
			if status.Optional {
				availability = "missing (optional)"
			}
		}
		rows = append(rows, []string{status.Name, status.Command, availability, status.Detail})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"DEPENDENCY", "COMMAND", "STATE", "DETAIL"},
		rows,
		nil,
	))
	if missing := deps.MissingRequired(statuses); len(missing) > 0 {
		fmt.Fprintf(out, "Missing required binaries: %s\n", strings.Join(missing, ", "))
	}
}
