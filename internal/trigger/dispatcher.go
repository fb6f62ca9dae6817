package trigger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"syncbridge/internal/metadata"
)

const (
	// DefaultTimeout bounds a single webhook call.
	DefaultTimeout = 30 * time.Second

	maxResponseBytes = 64 * 1024
	contentType      = "application/json; charset=utf-8"
)

// Result is the outcome of one webhook call. Transport failures are
// reported here, never returned as errors.
type Result struct {
	Success      bool
	StatusCode   int
	ResponseBody string
	Error        string
	Duration     time.Duration
}

// Dispatcher performs webhook HTTP calls.
type Dispatcher struct {
	client *http.Client
}

func NewDispatcher(timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{client: &http.Client{Timeout: timeout}}
}

// Send delivers body to the rule's webhook with the rule's method and
// custom headers.
func (d *Dispatcher) Send(ctx context.Context, rule *metadata.TriggerRule, body []byte) Result {
	start := time.Now()
	res := d.send(ctx, rule, body)
	res.Duration = time.Since(start)
	return res
}

func (d *Dispatcher) send(ctx context.Context, rule *metadata.TriggerRule, body []byte) Result {
	req, err := http.NewRequestWithContext(ctx, rule.HTTPMethod(), rule.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Sprintf("build request: %v", err)}
	}

	headers, err := rule.Headers()
	if err != nil {
		log.Printf("WARN: trigger rule %s: ignoring custom headers: %v", rule.Name, err)
	}
	for k, v := range ResolveHeaders(headers) {
		req.Header[k] = []string{v}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := d.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return Result{Error: "Request timed out"}
		}
		return Result{Error: err.Error()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	res := Result{
		StatusCode:   resp.StatusCode,
		ResponseBody: string(respBody),
		Success:      resp.StatusCode >= 200 && resp.StatusCode < 300,
	}
	if !res.Success {
		res.Error = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return res
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ResolveHeaders replaces {{env.VAR_NAME}} in header values with os env values.
func ResolveHeaders(headers map[string]string) map[string]string {
	resolved := make(map[string]string, len(headers))
	for k, v := range headers {
		resolved[k] = resolveEnvVars(v)
	}
	return resolved
}

func resolveEnvVars(s string) string {
	for {
		start := strings.Index(s, "{{env.")
		if start == -1 {
			return s
		}
		end := strings.Index(s[start:], "}}")
		if end == -1 {
			return s
		}
		end += start
		s = s[:start] + os.Getenv(s[start+6:end]) + s[end+2:]
	}
}
