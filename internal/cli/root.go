// Package cli implements syncctl, the operator command line for a syncbridge
// deployment. Commands talk to the database directly and do not need the
// server to be running.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"syncbridge/internal/config"
	"syncbridge/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for syncctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "syncctl",
		Short: "Operate a syncbridge deployment",
		Long:  "Manage API keys, trigger rules and execution logs, and send payloads to a receiver.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to app.yaml (default: search . and ../..)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewAPIKeyCommand(opts))
	cmd.AddCommand(NewLogsCommand(opts))
	cmd.AddCommand(NewRulesCommand(opts))
	cmd.AddCommand(NewPayloadCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) loadConfig() (*config.Config, error) {
	if o.ConfigPath != "" {
		return config.LoadFile(o.ConfigPath)
	}
	return config.Load()
}

// openStore loads config and connects. System tables are created if missing
// so the tool works against a fresh database.
func (o *RootOptions) openStore(ctx context.Context) (*config.Config, *store.Store, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	s, err := store.New(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	if err := s.Bootstrap(ctx); err != nil {
		s.Close()
		return nil, nil, fmt.Errorf("bootstrap: %w", err)
	}
	return cfg, s, nil
}
