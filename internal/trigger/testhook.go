package trigger

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"syncbridge/internal/metadata"
	"syncbridge/internal/metrics"
	"syncbridge/internal/wire"
)

const testObjectType = "TestObject"

// TestPayload builds the probe payload sent by SendTest.
func TestPayload(rule *metadata.TriggerRule, now time.Time) wire.Payload {
	objectType := strings.TrimSpace(rule.TargetType)
	if objectType == "" {
		objectType = testObjectType
	}
	return wire.Payload{
		EventType:   string(wire.EventTest),
		ObjectType:  objectType,
		ObjectKey:   uuid.New().String(),
		Timestamp:   now.UTC().Format(time.RFC3339Nano),
		TriggerRule: rule.Name,
		Data: map[string]any{
			"message": "This is a test webhook from " + rule.Name,
		},
	}
}

// SendTest sends a Test payload to the rule's webhook and waits for the
// answer. Test sends are not written to the execution log.
func SendTest(ctx context.Context, d *Dispatcher, rule *metadata.TriggerRule, sink metrics.Sink) Result {
	body, err := json.Marshal(TestPayload(rule, time.Now()))
	if err != nil {
		return Result{Error: err.Error()}
	}
	res := d.Send(ctx, rule, body)
	if sink != nil {
		sink.DispatchCompleted(metrics.ModeTest, metrics.ClassifyStatus(res.StatusCode, nil), res.Duration)
	}
	return res
}
