package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/betbot/botvisor/pkg/client"
)

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid bot id: %q", s)
	}
	return id, nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List bots with their live status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bots, err := a.client().ListBots(cmd.Context())
			if err != nil {
				return err
			}
			if a.settings.JSON {
				return a.printJSON(bots)
			}
			if len(bots) == 0 {
				fmt.Fprintln(a.out, "No bots registered")
				return nil
			}
			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTATUS\tPID\tUPTIME\tRESTARTS\tAUTO")
			for _, b := range bots {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%v\n",
					b.ID, b.Name, b.Status, pidString(b), uptimeString(b), b.RestartCount, b.AutoRestart)
			}
			return w.Flush()
		},
	}
}

func (a *app) createCmd() *cobra.Command {
	var req client.CreateBotRequest
	cmd := &cobra.Command{
		Use:   "create <name> <command> [-- args...]",
		Short: "Register a new bot",
		Long: `Register a new bot. Arguments after the command are passed to the
process; the literal {{BOT_ID}} is replaced with the bot id at start.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Name = args[0]
			req.Command = args[1]
			req.Args = args[2:]
			b, err := a.client().CreateBot(cmd.Context(), req)
			if err != nil {
				return err
			}
			if a.settings.JSON {
				return a.printJSON(b)
			}
			fmt.Fprintf(a.out, "Bot '%s' created with id %d (log: %s)\n", b.Name, b.ID, b.LogPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.LogPath, "log-path", "", "sink file path (default: <logs-dir>/bots/bot-<id>.log)")
	cmd.Flags().BoolVar(&req.AutoRestart, "auto-restart", false, "restart automatically after a non-zero exit")
	cmd.Flags().BoolVar(&req.IsTemporary, "temporary", false, "mark the bot as temporary")
	return cmd
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a bot record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.showStatus(cmd, args[0])
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show live status of a bot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.showStatus(cmd, args[0])
		},
	}
}

func (a *app) showStatus(cmd *cobra.Command, arg string) error {
	id, err := parseID(arg)
	if err != nil {
		return err
	}
	st, err := a.client().Status(cmd.Context(), id)
	if err != nil {
		return err
	}
	if a.settings.JSON {
		return a.printJSON(st)
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%d\n", st.ID)
	fmt.Fprintf(w, "Name:\t%s\n", st.Name)
	fmt.Fprintf(w, "Command:\t%s %s\n", st.Command, strings.Join(st.Args, " "))
	fmt.Fprintf(w, "Status:\t%s\n", st.Status)
	fmt.Fprintf(w, "Running:\t%v\n", st.IsRunning)
	fmt.Fprintf(w, "PID:\t%s\n", pidString(*st))
	fmt.Fprintf(w, "Uptime:\t%s\n", uptimeString(*st))
	fmt.Fprintf(w, "Restarts:\t%d\n", st.RestartCount)
	fmt.Fprintf(w, "Auto restart:\t%v\n", st.AutoRestart)
	fmt.Fprintf(w, "Log:\t%s\n", st.LogPath)
	return w.Flush()
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a stopped bot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.client().DeleteBot(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Bot %d deleted\n", id)
			return nil
		},
	}
}

func (a *app) startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <id>",
		Short: "Start a bot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			pid, err := a.client().Start(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Bot %d started (pid %d)\n", id, pid)
			return nil
		},
	}
}

func (a *app) stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop a bot (SIGTERM, then SIGKILL after the grace period)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.client().Stop(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Bot %d stopped\n", id)
			return nil
		},
	}
}

func (a *app) restartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <id>",
		Short: "Restart a bot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			pid, err := a.client().Restart(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Bot %d restarted (pid %d)\n", id, pid)
			return nil
		},
	}
}

func pidString(st client.BotState) string {
	if st.PID == nil || !st.IsRunning {
		return "-"
	}
	return strconv.Itoa(*st.PID)
}

func uptimeString(st client.BotState) string {
	if !st.IsRunning {
		return "-"
	}
	return (time.Duration(st.Uptime) * time.Second).String()
}
