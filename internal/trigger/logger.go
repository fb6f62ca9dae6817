package trigger

import (
	"context"
	"fmt"
	"log"
	"time"

	"syncbridge/internal/engine"
	"syncbridge/internal/metrics"
	"syncbridge/internal/store"
)

const (
	MaxResponseBodyLength = 4000
	MaxErrorLength        = 2000

	truncationMarker = "..."
	logWriteTimeout  = 10 * time.Second
)

// ExecutionLog is one row of _trigger_logs.
type ExecutionLog struct {
	ID           string    `json:"id"`
	RuleID       string    `json:"rule_id,omitempty"`
	RuleName     string    `json:"rule_name"`
	ExecutedAt   time.Time `json:"executed_at"`
	ObjectType   string    `json:"object_type"`
	ObjectKey    string    `json:"object_key"`
	EventType    string    `json:"event_type"`
	HTTPMethod   string    `json:"http_method"`
	Payload      string    `json:"payload"`
	IsSuccess    bool      `json:"is_success"`
	StatusCode   *int      `json:"status_code"`
	ResponseBody string    `json:"response_body"`
	ErrorMessage string    `json:"error_message"`
}

// ExecutionLogger persists dispatch attempts. It should be given its own
// store handle so logging never shares a transaction with business writes.
type ExecutionLogger struct {
	store   *store.Store
	metrics metrics.Sink
}

func NewExecutionLogger(s *store.Store, sink metrics.Sink) *ExecutionLogger {
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	return &ExecutionLogger{store: s, metrics: sink}
}

// Truncate shortens s to limit characters followed by a marker.
func Truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + truncationMarker
}

// Write inserts the entry. Failures are logged and swallowed.
func (l *ExecutionLogger) Write(ctx context.Context, entry ExecutionLog) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logWriteTimeout)
	defer cancel()

	if entry.ID == "" {
		entry.ID = store.GenerateUUID()
	}
	if entry.ExecutedAt.IsZero() {
		entry.ExecutedAt = time.Now()
	}

	d := l.store.Dialect
	pb := d.NewParamBuilder()
	var ruleID, status any
	if entry.RuleID != "" {
		ruleID = entry.RuleID
	}
	if entry.StatusCode != nil {
		status = *entry.StatusCode
	}
	// The rule may have been deleted since the registry was loaded; the
	// subquery then stores NULL instead of failing the foreign key.
	sql := fmt.Sprintf(`INSERT INTO _trigger_logs (id, rule_id, rule_name, executed_at, object_type, object_key,
		event_type, http_method, payload, is_success, status_code, response_body, error_message)
		VALUES (%s, (SELECT id FROM _trigger_rules WHERE id = %s), %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		pb.Add(entry.ID), pb.Add(ruleID), pb.Add(entry.RuleName), pb.Add(d.TimeParam(entry.ExecutedAt)),
		pb.Add(entry.ObjectType), pb.Add(entry.ObjectKey), pb.Add(entry.EventType), pb.Add(entry.HTTPMethod),
		pb.Add(entry.Payload), pb.Add(entry.IsSuccess), pb.Add(status),
		pb.Add(Truncate(entry.ResponseBody, MaxResponseBodyLength)),
		pb.Add(Truncate(entry.ErrorMessage, MaxErrorLength)))

	if _, err := store.Exec(ctx, l.store.DB, sql, pb.Params()...); err != nil {
		l.metrics.LogWriteFailed()
		log.Printf("ERROR: write trigger log for rule %s (%s %s): %v", entry.RuleName, entry.ObjectType, entry.ObjectKey, err)
	}
}

// LogFilter narrows ListLogs. Zero values mean no filter.
type LogFilter struct {
	RuleID string
	Limit  int
	Offset int
}

// ListLogs returns log rows, newest first.
func (l *ExecutionLogger) ListLogs(ctx context.Context, f LogFilter) ([]ExecutionLog, error) {
	pb := l.store.Dialect.NewParamBuilder()
	sql := `SELECT id, rule_id, rule_name, executed_at, object_type, object_key, event_type, http_method,
		payload, is_success, status_code, response_body, error_message FROM _trigger_logs`
	if f.RuleID != "" {
		sql += " WHERE rule_id = " + pb.Add(f.RuleID)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	sql += fmt.Sprintf(" ORDER BY executed_at DESC LIMIT %s OFFSET %s", pb.Add(limit), pb.Add(f.Offset))

	rows, err := store.QueryRows(ctx, l.store.DB, sql, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("list trigger logs: %w", err)
	}
	if l.store.Dialect.NeedsBoolFix() {
		store.NormalizeBooleans(rows, "is_success")
	}

	logs := make([]ExecutionLog, 0, len(rows))
	for _, row := range rows {
		logs = append(logs, scanLog(row))
	}
	return logs, nil
}

func scanLog(row map[string]any) ExecutionLog {
	entry := ExecutionLog{
		ID:           str(row["id"]),
		RuleID:       str(row["rule_id"]),
		RuleName:     str(row["rule_name"]),
		ObjectType:   str(row["object_type"]),
		ObjectKey:    str(row["object_key"]),
		EventType:    str(row["event_type"]),
		HTTPMethod:   str(row["http_method"]),
		Payload:      str(row["payload"]),
		ResponseBody: str(row["response_body"]),
		ErrorMessage: str(row["error_message"]),
	}
	entry.IsSuccess, _ = row["is_success"].(bool)
	switch t := row["executed_at"].(type) {
	case time.Time:
		entry.ExecutedAt = t
	case string:
		entry.ExecutedAt, _ = engine.ParseTime(t)
	}
	if code, ok := row["status_code"].(int64); ok {
		c := int(code)
		entry.StatusCode = &c
	}
	return entry
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// ClearLogs deletes every log row for a rule and returns the count.
func (l *ExecutionLogger) ClearLogs(ctx context.Context, ruleID string) (int64, error) {
	pb := l.store.Dialect.NewParamBuilder()
	n, err := store.Exec(ctx, l.store.DB, "DELETE FROM _trigger_logs WHERE rule_id = "+pb.Add(ruleID), pb.Params()...)
	if err != nil {
		return 0, fmt.Errorf("clear trigger logs: %w", err)
	}
	return n, nil
}

// Purge removes rows older than retentionDays from the logger's store.
func (l *ExecutionLogger) Purge(ctx context.Context, retentionDays int, now time.Time) (int64, error) {
	n, err := PurgeLogs(ctx, l.store, retentionDays, now)
	if err != nil {
		return 0, err
	}
	l.metrics.LogsPurged(n)
	return n, nil
}
