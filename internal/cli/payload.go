package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"syncbridge/internal/auth"
	"syncbridge/internal/metadata"
	"syncbridge/internal/trigger"
	"syncbridge/internal/wire"
)

type payloadSendOptions struct {
	URL      string
	Method   string
	Event    string
	Type     string
	Key      string
	Data     string
	APIKey   string
	Headers  []string
	RuleName string
	Timeout  time.Duration
}

// NewPayloadCommand creates the payload command group.
func NewPayloadCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payload",
		Short: "Build and send sync payloads by hand",
	}
	cmd.AddCommand(newPayloadSendCommand(rootOpts))
	return cmd
}

func newPayloadSendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &payloadSendOptions{}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one payload to a receiver URL",
		Long: `Send one payload to a receiver URL, as a trigger rule would.

Useful for replaying a change against a receiver or probing a mapping.
Example:

  syncctl payload send --url http://mirror:8080/api/sync --api-key sb_... \
    --event Modified --type Sales.Order --key 6f1c... --data '{"number":"A-1"}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, rule, err := buildSend(opts, time.Now())
			if err != nil {
				return err
			}
			res := trigger.NewDispatcher(opts.Timeout).Send(cmd.Context(), rule, body)
			if err := printResult(rootOpts, cmd, res); err != nil {
				return err
			}
			if !res.Success {
				return errors.New("send failed")
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.URL, "url", "", "receiver URL")
	f.StringVar(&opts.Method, "method", "POST", "HTTP method")
	f.StringVar(&opts.Event, "event", string(wire.EventModified), "event type (Created|Modified|Deleted|Test)")
	f.StringVar(&opts.Type, "type", "", "object type name")
	f.StringVar(&opts.Key, "key", "", "object key (default: random uuid)")
	f.StringVar(&opts.Data, "data", "", "JSON object of field values")
	f.StringVar(&opts.APIKey, "api-key", "", "API key sent as "+auth.APIKeyHeader)
	f.StringArrayVarP(&opts.Headers, "header", "H", nil, "extra header as Name=Value (repeatable)")
	f.StringVar(&opts.RuleName, "rule-name", "syncctl", "value of the triggerRule field")
	f.DurationVar(&opts.Timeout, "timeout", trigger.DefaultTimeout, "request timeout")
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

// buildSend assembles the payload body and an ad hoc rule that carries the
// URL, method and headers for the dispatcher.
func buildSend(opts *payloadSendOptions, now time.Time) ([]byte, *metadata.TriggerRule, error) {
	key := opts.Key
	if key == "" {
		key = uuid.NewString()
	}
	p := wire.Payload{
		EventType:   opts.Event,
		ObjectType:  opts.Type,
		ObjectKey:   key,
		Timestamp:   now.UTC().Format(time.RFC3339Nano),
		TriggerRule: opts.RuleName,
	}
	if err := wire.Validate(&p); err != nil {
		return nil, nil, err
	}
	if p.EventType != string(wire.EventDeleted) {
		p.Data = map[string]any{}
		if strings.TrimSpace(opts.Data) != "" {
			dec := json.NewDecoder(bytes.NewReader([]byte(opts.Data)))
			dec.UseNumber()
			if err := dec.Decode(&p.Data); err != nil {
				return nil, nil, fmt.Errorf("--data must be a JSON object: %w", err)
			}
		}
	}

	headers := make(map[string]string, len(opts.Headers)+1)
	for _, h := range opts.Headers {
		name, value, ok := strings.Cut(h, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, nil, fmt.Errorf("invalid header %q, want Name=Value", h)
		}
		headers[strings.TrimSpace(name)] = value
	}
	if opts.APIKey != "" {
		headers[auth.APIKeyHeader] = opts.APIKey
	}
	rawHeaders, err := json.Marshal(headers)
	if err != nil {
		return nil, nil, err
	}

	rule := &metadata.TriggerRule{
		Name:          opts.RuleName,
		TargetType:    opts.Type,
		WebhookURL:    opts.URL,
		Method:        opts.Method,
		CustomHeaders: string(rawHeaders),
		Active:        true,
	}
	if err := rule.Validate(); err != nil {
		return nil, nil, err
	}

	body, err := json.Marshal(p)
	if err != nil {
		return nil, nil, err
	}
	return body, rule, nil
}
