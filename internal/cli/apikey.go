package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"syncbridge/internal/auth"
)

// NewAPIKeyCommand creates the apikey command group.
func NewAPIKeyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage receiver API keys",
	}
	cmd.AddCommand(newAPIKeyGenerateCommand(rootOpts))
	cmd.AddCommand(newAPIKeyListCommand(rootOpts))
	cmd.AddCommand(newAPIKeyRevokeCommand(rootOpts))
	return cmd
}

func newAPIKeyGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	var name string
	var expiresIn time.Duration

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Create an API key and print it once",
		Long: `Create an API key for a machine caller of the sync endpoint.

The plaintext key is printed once and cannot be recovered afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, s, err := rootOpts.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			var expiresAt *time.Time
			if expiresIn > 0 {
				t := time.Now().UTC().Add(expiresIn)
				expiresAt = &t
			}
			key, created, err := auth.CreateAPIKey(ctx, s, name, expiresAt)
			if err != nil {
				return err
			}

			p := newPrinter(rootOpts, cmd.OutOrStdout())
			if p.json() {
				return p.emitJSON(map[string]any{"key": key, "api_key": created})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "API key %q created (id %s)\n", created.Name, created.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", key)
			fmt.Fprintln(cmd.ErrOrStderr(), "Store this key now. It will not be shown again.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "key name, shown as the caller identity")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "lifetime of the key, e.g. 720h (default: never)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newAPIKeyListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, s, err := rootOpts.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			keys, err := auth.ListAPIKeys(ctx, s)
			if err != nil {
				return err
			}
			p := newPrinter(rootOpts, cmd.OutOrStdout())
			if p.json() {
				return p.emitJSON(keys)
			}
			rows := make([][]string, 0, len(keys))
			for _, k := range keys {
				rows = append(rows, []string{k.ID, k.Name, k.Prefix, fmt.Sprint(k.Active), formatTime(k.ExpiresAt), formatTime(k.LastUsedAt)})
			}
			return p.table([]string{"ID", "NAME", "PREFIX", "ACTIVE", "EXPIRES", "LAST USED"}, rows)
		},
	}
}

func newAPIKeyRevokeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Deactivate an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, s, err := rootOpts.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := auth.RevokeAPIKey(ctx, s, args[0]); err != nil {
				return fmt.Errorf("revoke %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "API key %s revoked\n", args[0])
			return nil
		},
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
