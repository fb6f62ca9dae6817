package metadata

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"syncbridge/internal/wire"
)

// TriggerRule binds a target type and a set of event flags to a webhook.
type TriggerRule struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	TargetType    string `json:"target_type"`
	OnCreated     bool   `json:"on_created"`
	OnModified    bool   `json:"on_modified"`
	OnRemoved     bool   `json:"on_removed"`
	WebhookURL    string `json:"webhook_url"`
	Method        string `json:"http_method"`
	CustomHeaders string `json:"custom_headers,omitempty"` // JSON object of header name -> value
	Condition     string `json:"condition,omitempty"`      // expression; empty = always fire
	Active        bool   `json:"active"`

	program *vm.Program
}

var allowedMethods = map[string]bool{
	http.MethodPost: true, http.MethodGet: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true,
}

// Fires reports whether the rule's flag for ev is set.
func (r *TriggerRule) Fires(ev wire.EventType) bool {
	switch ev {
	case wire.EventCreated:
		return r.OnCreated
	case wire.EventModified:
		return r.OnModified
	case wire.EventDeleted:
		return r.OnRemoved
	default:
		return false
	}
}

// MatchesType accepts either the full type name or the simple class name,
// ignoring case.
func (r *TriggerRule) MatchesType(e *Entity) bool {
	target := strings.TrimSpace(r.TargetType)
	return strings.EqualFold(target, e.Name) || strings.EqualFold(target, e.SimpleName())
}

// HTTPMethod returns the upper-cased method, defaulting to POST.
func (r *TriggerRule) HTTPMethod() string {
	m := strings.ToUpper(strings.TrimSpace(r.Method))
	if m == "" {
		return http.MethodPost
	}
	return m
}

// Headers decodes CustomHeaders. An empty value yields no headers.
func (r *TriggerRule) Headers() (map[string]string, error) {
	if strings.TrimSpace(r.CustomHeaders) == "" {
		return nil, nil
	}
	var headers map[string]string
	if err := json.Unmarshal([]byte(r.CustomHeaders), &headers); err != nil {
		return nil, fmt.Errorf("custom headers: %w", err)
	}
	return headers, nil
}

// Validate checks the fields an operator must supply.
func (r *TriggerRule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(r.TargetType) == "" {
		return fmt.Errorf("target_type is required")
	}
	if strings.TrimSpace(r.WebhookURL) == "" {
		return fmt.Errorf("webhook_url is required")
	}
	if !allowedMethods[r.HTTPMethod()] {
		return fmt.Errorf("http_method must be one of POST, GET, PUT, PATCH, DELETE")
	}
	if r.Condition != "" {
		if _, err := expr.Compile(r.Condition, expr.AsBool()); err != nil {
			return fmt.Errorf("condition: %w", err)
		}
	}
	return nil
}

// Compile prepares the condition program. Rules are compiled once at load
// so concurrent dispatches only read the program.
func (r *TriggerRule) Compile() error {
	r.Method = r.HTTPMethod()
	if r.Condition == "" {
		r.program = nil
		return nil
	}
	prog, err := expr.Compile(r.Condition, expr.AsBool())
	if err != nil {
		return fmt.Errorf("compile condition for rule %s: %w", r.Name, err)
	}
	r.program = prog
	return nil
}

// ConditionHolds evaluates the condition against env. An empty condition
// always holds.
func (r *TriggerRule) ConditionHolds(env map[string]any) (bool, error) {
	if r.Condition == "" {
		return true, nil
	}
	prog := r.program
	if prog == nil {
		compiled, err := expr.Compile(r.Condition, expr.AsBool())
		if err != nil {
			return false, fmt.Errorf("compile condition for rule %s: %w", r.Name, err)
		}
		prog = compiled
	}
	result, err := expr.Run(prog, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition for rule %s: %w", r.Name, err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition for rule %s did not return bool", r.Name)
	}
	return b, nil
}
