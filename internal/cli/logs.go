package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"syncbridge/internal/trigger"
)

// NewLogsCommand creates the logs command group.
func NewLogsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Inspect and prune webhook execution logs",
	}
	cmd.AddCommand(newLogsPurgeCommand(rootOpts))
	cmd.AddCommand(newLogsListCommand(rootOpts))
	cmd.AddCommand(newLogsClearCommand(rootOpts))
	return cmd
}

func newLogsPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete execution logs older than the retention period",
		Long: `Delete execution logs older than the retention period.

Without --days the configured triggers.log_retention_days is used. A value
of zero or less disables the purge.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, s, err := rootOpts.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			retention := cfg.Triggers.LogRetentionDays
			if cmd.Flags().Changed("days") {
				retention = days
			}
			n, err := trigger.PurgeLogs(ctx, s, retention, time.Now())
			if err != nil {
				return err
			}

			p := newPrinter(rootOpts, cmd.OutOrStdout())
			if p.json() {
				return p.emitJSON(map[string]any{"deleted": n, "retention_days": retention})
			}
			if retention <= 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Log retention disabled, nothing purged")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d log entries older than %d days\n", n, retention)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention in days (overrides config)")
	return cmd
}

func newLogsListCommand(rootOpts *RootOptions) *cobra.Command {
	var ruleID string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show recent execution logs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, s, err := rootOpts.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			logs, err := trigger.NewExecutionLogger(s, nil).ListLogs(ctx, trigger.LogFilter{RuleID: ruleID, Limit: limit})
			if err != nil {
				return err
			}
			p := newPrinter(rootOpts, cmd.OutOrStdout())
			if p.json() {
				return p.emitJSON(logs)
			}
			rows := make([][]string, 0, len(logs))
			for _, l := range logs {
				status := "-"
				if l.StatusCode != nil {
					status = strconv.Itoa(*l.StatusCode)
				}
				rows = append(rows, []string{
					l.ExecutedAt.UTC().Format(time.RFC3339), l.RuleName, l.EventType,
					l.ObjectType, l.ObjectKey, fmt.Sprint(l.IsSuccess), status, l.ErrorMessage,
				})
			}
			return p.table([]string{"EXECUTED", "RULE", "EVENT", "TYPE", "KEY", "OK", "STATUS", "ERROR"}, rows)
		},
	}
	cmd.Flags().StringVar(&ruleID, "rule", "", "only logs for this rule id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func newLogsClearCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <rule-id>",
		Short: "Delete every execution log of one rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, s, err := rootOpts.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := trigger.NewExecutionLogger(s, nil).ClearLogs(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d log entries for rule %s\n", n, args[0])
			return nil
		},
	}
}
