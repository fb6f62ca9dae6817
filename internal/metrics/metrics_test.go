package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name string
		code int
		err  error
		want string
	}{
		{"ok", 200, nil, StatusClass2xx},
		{"created", 201, nil, StatusClass2xx},
		{"redirect", 302, nil, StatusClass3xx},
		{"not found", 404, nil, StatusClass4xx},
		{"server error", 503, nil, StatusClass5xx},
		{"deadline", 0, context.DeadlineExceeded, StatusClassTimeout},
		{"refused", 0, errors.New("dial tcp 127.0.0.1:1: connect: connection refused"), StatusClassConnectionError},
		{"other", 0, errors.New("tls: bad certificate"), StatusClassOtherError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyStatus(tt.code, tt.err); got != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPrometheusSink_RecordsAndServes(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewPrometheusSink(reg)

	s.DispatchCompleted(ModeSync, StatusClass2xx, 20*time.Millisecond)
	s.DispatchCompleted(ModeSync, StatusClass2xx, 30*time.Millisecond)
	s.ReconcileCompleted("Created", true)
	s.LogsPurged(5)

	if got := testutil.ToFloat64(s.dispatchTotal.WithLabelValues(ModeSync, StatusClass2xx)); got != 2 {
		t.Fatalf("expected 2 dispatches, got %v", got)
	}
	if got := testutil.ToFloat64(s.logsPurged); got != 5 {
		t.Fatalf("expected 5 purged, got %v", got)
	}

	app := fiber.New()
	app.Get("/metrics", Handler(reg))
	req, _ := http.NewRequest("GET", "/metrics", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "syncbridge_receiver_reconcile_total") {
		t.Fatalf("expected reconcile metric in output, got:\n%s", body)
	}
}

func TestPrometheusSink_DuplicateRegistrationDoesNotPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusSink(reg)
	s := NewPrometheusSink(reg)
	s.DispatchDropped()
}
