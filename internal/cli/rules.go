package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"syncbridge/internal/metadata"
	"syncbridge/internal/metrics"
	"syncbridge/internal/trigger"
)

// NewRulesCommand creates the rules command group.
func NewRulesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and probe trigger rules",
	}
	cmd.AddCommand(newRulesListCommand(rootOpts))
	cmd.AddCommand(newRulesTestCommand(rootOpts))
	return cmd
}

func newRulesListCommand(rootOpts *RootOptions) *cobra.Command {
	var activeOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List trigger rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, s, err := rootOpts.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			reg := metadata.NewRegistry()
			if err := metadata.LoadAll(ctx, s.DB, reg); err != nil {
				return err
			}
			rules := reg.AllTriggerRules()
			if activeOnly {
				rules = reg.ActiveTriggerRules()
			}

			p := newPrinter(rootOpts, cmd.OutOrStdout())
			if p.json() {
				return p.emitJSON(rules)
			}
			rows := make([][]string, 0, len(rules))
			for _, r := range rules {
				rows = append(rows, []string{r.ID, r.Name, r.TargetType, eventFlags(r), r.HTTPMethod(), r.WebhookURL, fmt.Sprint(r.Active)})
			}
			return p.table([]string{"ID", "NAME", "TARGET", "EVENTS", "METHOD", "URL", "ACTIVE"}, rows)
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active rules")
	return cmd
}

func newRulesTestCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "test <rule-id|name>",
		Short: "Send a Test payload to a rule's webhook",
		Long: `Send a Test payload to a rule's webhook and print the response.

The call is not written to the execution log. Inactive rules can be tested.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, s, err := rootOpts.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			reg := metadata.NewRegistry()
			if err := metadata.LoadAll(ctx, s.DB, reg); err != nil {
				return err
			}
			rule := findRule(reg, args[0])
			if rule == nil {
				return fmt.Errorf("trigger rule %q not found", args[0])
			}

			res := trigger.SendTest(ctx, trigger.NewDispatcher(cfg.Webhook.Timeout()), rule, metrics.NewNoopSink())
			if err := printResult(rootOpts, cmd, res); err != nil {
				return err
			}
			if !res.Success {
				return errors.New("test webhook failed")
			}
			return nil
		},
	}
}

func findRule(reg *metadata.Registry, ref string) *metadata.TriggerRule {
	if r := reg.GetTriggerRule(ref); r != nil {
		return r
	}
	for _, r := range reg.AllTriggerRules() {
		if strings.EqualFold(r.Name, ref) {
			return r
		}
	}
	return nil
}

func eventFlags(r *metadata.TriggerRule) string {
	var flags []string
	if r.OnCreated {
		flags = append(flags, "created")
	}
	if r.OnModified {
		flags = append(flags, "modified")
	}
	if r.OnRemoved {
		flags = append(flags, "deleted")
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}

func printResult(rootOpts *RootOptions, cmd *cobra.Command, res trigger.Result) error {
	p := newPrinter(rootOpts, cmd.OutOrStdout())
	if p.json() {
		return p.emitJSON(map[string]any{
			"success":       res.Success,
			"status_code":   res.StatusCode,
			"response_body": res.ResponseBody,
			"error":         res.Error,
			"duration_ms":   res.Duration.Milliseconds(),
		})
	}
	out := cmd.OutOrStdout()
	if res.Success {
		fmt.Fprintf(out, "OK %d in %s\n", res.StatusCode, res.Duration.Round(time.Millisecond))
	} else {
		fmt.Fprintf(out, "FAILED: %s\n", res.Error)
	}
	if res.ResponseBody != "" {
		fmt.Fprintln(out, res.ResponseBody)
	}
	return nil
}
