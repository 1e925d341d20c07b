package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"freebooter/internal/storage"
	_ "freebooter/internal/storage/redis"
	_ "freebooter/internal/storage/sqlite"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		source string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show what the watchers have handled",
		Long:  "Without --source, prints how many items each watcher has handled. With --source, lists that watcher's most recent items.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if _, err := ctx.ensureLogger(); err != nil {
				return err
			}

			store, err := storage.New(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			defer store.Close(context.WithoutCancel(cmd.Context()))

			out := cmd.OutOrStdout()
			if source == "" {
				summaries, err := store.Ledger().Sources(cmd.Context())
				if err != nil {
					return err
				}
				if len(summaries) == 0 {
					fmt.Fprintln(out, "Nothing handled yet")
					return nil
				}
				rows := make([][]string, 0, len(summaries))
				for _, s := range summaries {
					rows = append(rows, []string{s.Source, strconv.FormatInt(s.Count, 10), formatTime(s.LastHandled)})
				}
				fmt.Fprintln(out, renderTable([]string{"Watcher", "Items", "Last handled"}, rows, []columnAlignment{alignLeft, alignRight, alignLeft}))
				return nil
			}

			entries, err := store.Ledger().History(cmd.Context(), source, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintf(out, "Nothing handled by %s yet\n", source)
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{e.ItemID, formatTime(e.HandledAt)})
			}
			fmt.Fprintln(out, renderTable([]string{"Item", "Handled"}, rows, nil))
			return nil
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", "", "Watcher to list items for")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of items to list")
	return cmd
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
