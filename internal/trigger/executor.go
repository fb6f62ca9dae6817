package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"syncbridge/internal/config"
	"syncbridge/internal/metadata"
	"syncbridge/internal/metrics"
	"syncbridge/internal/wire"
)

const errQueueFull = "dispatch queue full"

// Executor sends payloads and records each attempt.
type Executor struct {
	dispatcher *Dispatcher
	logger     *ExecutionLogger
	pool       *Pool
	mode       string
	metrics    metrics.Sink
}

// NewExecutor wires delivery. pool is required for config.ModeAsync.
func NewExecutor(d *Dispatcher, l *ExecutionLogger, pool *Pool, mode string, sink metrics.Sink) *Executor {
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	if mode == config.ModeAsync && pool == nil {
		log.Printf("WARN: async webhook mode without a worker pool, falling back to sync")
		mode = config.ModeSync
	}
	return &Executor{dispatcher: d, logger: l, pool: pool, mode: mode, metrics: sink}
}

// Execute delivers p using the configured mode.
func (e *Executor) Execute(ctx context.Context, rule *metadata.TriggerRule, p wire.Payload) {
	if e.mode == config.ModeAsync {
		e.ExecuteAsync(ctx, rule, p)
		return
	}
	e.ExecuteSync(ctx, rule, p)
}

// ExecuteSync sends, waits for the response and logs the real outcome.
func (e *Executor) ExecuteSync(ctx context.Context, rule *metadata.TriggerRule, p wire.Payload) Result {
	body, err := json.Marshal(p)
	if err != nil {
		log.Printf("ERROR: encode payload for rule %s: %v", rule.Name, err)
		return Result{Error: err.Error()}
	}

	res := e.dispatcher.Send(ctx, rule, body)
	e.record(metrics.ModeSync, res)

	entry := newLogEntry(rule, p, body)
	entry.IsSuccess = res.Success
	entry.ResponseBody = res.ResponseBody
	entry.ErrorMessage = res.Error
	if res.StatusCode != 0 {
		code := res.StatusCode
		entry.StatusCode = &code
	}
	e.logger.Write(ctx, entry)
	return res
}

// ExecuteAsync hands the send to the pool and logs the attempt as fired.
// The real outcome only reaches metrics and the process log. Work the pool
// refuses is logged as a failed attempt.
func (e *Executor) ExecuteAsync(ctx context.Context, rule *metadata.TriggerRule, p wire.Payload) {
	body, err := json.Marshal(p)
	if err != nil {
		log.Printf("ERROR: encode payload for rule %s: %v", rule.Name, err)
		return
	}

	entry := newLogEntry(rule, p, body)
	accepted := e.pool.Submit(func() {
		res := e.dispatcher.Send(context.Background(), rule, body)
		e.record(metrics.ModeAsync, res)
		if !res.Success {
			log.Printf("WARN: webhook %s for %s %s failed: %s", rule.Name, p.ObjectType, p.ObjectKey, res.Error)
		}
	})
	if accepted {
		entry.IsSuccess = true
	} else {
		e.metrics.DispatchDropped()
		log.Printf("WARN: webhook queue full, dropped %s for %s %s", rule.Name, p.ObjectType, p.ObjectKey)
		entry.ErrorMessage = errQueueFull
	}
	e.logger.Write(ctx, entry)
}

func (e *Executor) record(mode string, res Result) {
	var err error
	if res.Error != "" && res.StatusCode == 0 {
		err = errors.New(res.Error)
	}
	class := metrics.ClassifyStatus(res.StatusCode, err)
	if res.Error == "Request timed out" {
		class = metrics.StatusClassTimeout
	}
	e.metrics.DispatchCompleted(mode, class, res.Duration)
}

func newLogEntry(rule *metadata.TriggerRule, p wire.Payload, body []byte) ExecutionLog {
	return ExecutionLog{
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		ExecutedAt: time.Now(),
		ObjectType: p.ObjectType,
		ObjectKey:  p.ObjectKey,
		EventType:  p.EventType,
		HTTPMethod: rule.HTTPMethod(),
		Payload:    string(body),
	}
}
