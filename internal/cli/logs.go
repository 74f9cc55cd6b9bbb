package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/betbot/botvisor/pkg/client"
)

func (a *app) logsCmd() *cobra.Command {
	var (
		lines    int
		follow   bool
		page     int
		pageSize int
	)
	cmd := &cobra.Command{
		Use:   "logs <id>",
		Short: "Show bot logs",
		Long: `Show bot logs.

Without flags the last N lines of the sink file are printed. --page reads
the persisted log store instead, and --follow keeps the connection open and
prints new lines as the bot writes them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c := a.client()

			if page > 0 {
				res, err := c.Logs(cmd.Context(), id, page, pageSize)
				if err != nil {
					return err
				}
				if a.settings.JSON {
					return a.printJSON(res)
				}
				a.printEntries(res.Entries)
				fmt.Fprintf(a.out, "-- page %d, %d of %d entries --\n", res.Page, len(res.Entries), res.Total)
				return nil
			}

			entries, err := c.Tail(cmd.Context(), id, lines)
			if err != nil {
				return err
			}
			a.printEntries(entries)
			if !follow {
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return c.Follow(ctx, id, func(batch []client.LogEntry) error {
				a.printEntries(batch)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 100, "number of trailing lines")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "follow new output")
	cmd.Flags().IntVar(&page, "page", 0, "read persisted logs, 1-based page")
	cmd.Flags().IntVar(&pageSize, "page-size", 100, "persisted logs page size")
	return cmd
}

func (a *app) printEntries(entries []client.LogEntry) {
	for _, e := range entries {
		if a.settings.JSON {
			_ = a.printJSON(e)
			continue
		}
		fmt.Fprintf(a.out, "%s [%s] %s\n", e.Timestamp.Format("2006-01-02 15:04:05.000"), e.LevelTag(), e.Message)
	}
}

