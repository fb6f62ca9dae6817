package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"syncbridge/internal/config"
	"syncbridge/internal/engine"
	"syncbridge/internal/metadata"
	"syncbridge/internal/metrics"
	"syncbridge/internal/store"
	"syncbridge/internal/wire"
)

type received struct {
	Method  string
	Header  http.Header
	Payload wire.Payload
}

// webhookTarget records every request it receives.
type webhookTarget struct {
	mu       sync.Mutex
	requests []received
	status   int
	server   *httptest.Server
}

func newWebhookTarget(t *testing.T, status int) *webhookTarget {
	t.Helper()
	w := &webhookTarget{status: status}
	w.server = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var p wire.Payload
		_ = json.Unmarshal(body, &p)
		w.mu.Lock()
		w.requests = append(w.requests, received{Method: r.Method, Header: r.Header.Clone(), Payload: p})
		w.mu.Unlock()
		rw.WriteHeader(w.status)
		_, _ = rw.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(w.server.Close)
	return w
}

func (w *webhookTarget) all() []received {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]received(nil), w.requests...)
}

type fixture struct {
	store    *store.Store
	registry *metadata.Registry
	entity   *metadata.Entity
	logger   *ExecutionLogger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "trigger.db"), 0)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	order := &metadata.Entity{
		Name:  "Sales.Order",
		Table: "orders",
		Fields: []metadata.Field{
			{Name: "number", Type: metadata.TypeString, Unique: true},
			{Name: "total", Type: metadata.TypeDecimal},
			{Name: "status", Type: metadata.TypeEnum, Enum: []string{"Draft", "Open", "Closed"}},
			{Name: "placed_at", Type: metadata.TypeTimestamp, Nullable: true},
			{Name: "lines", Type: metadata.TypeJSON, Nullable: true},
			{Name: "OptimisticLockField", Type: metadata.TypeInt, Nullable: true},
		},
		Rules: []metadata.ValidationRule{
			{Expression: "record.total == nil || record.total >= 0", Message: "total must not be negative"},
		},
	}
	if err := order.Prepare(); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := store.NewMigrator(s).Migrate(ctx, order); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	reg := metadata.NewRegistry()
	reg.Load([]*metadata.Entity{order})

	return &fixture{store: s, registry: reg, entity: order, logger: NewExecutionLogger(s, nil)}
}

func (f *fixture) addRule(t *testing.T, r *metadata.TriggerRule) *metadata.TriggerRule {
	t.Helper()
	if err := InsertRule(context.Background(), f.store, r); err != nil {
		t.Fatalf("insert rule: %v", err)
	}
	if err := metadata.Reload(context.Background(), f.store.DB, f.registry); err != nil {
		t.Fatalf("reload: %v", err)
	}
	return f.registry.GetTriggerRule(r.ID)
}

func (f *fixture) syncPipeline() *Pipeline {
	exec := NewExecutor(NewDispatcher(5*time.Second), f.logger, nil, config.ModeSync, nil)
	return NewPipeline(f.registry, exec)
}

func (f *fixture) logs(t *testing.T) []ExecutionLog {
	t.Helper()
	logs, err := f.logger.ListLogs(context.Background(), LogFilter{})
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	return logs
}

func TestCaptureChanges_Classification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seed := engine.NewUnitOfWork(f.store, f.registry)
	existing := seed.New(f.entity)
	existing.Set("number", "A")
	doomed := seed.New(f.entity)
	doomed.Set("number", "B")
	if err := seed.Commit(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}

	uow := engine.NewUnitOfWork(f.store, f.registry)
	created := uow.New(f.entity)
	created.Set("number", "C")
	loaded, _ := uow.Get(ctx, f.entity, existing.KeyValue())
	loaded.Set("total", 9.0)
	loaded.Set("total", 10.0)
	gone, _ := uow.Get(ctx, f.entity, doomed.KeyValue())
	uow.Delete(gone)

	changes := CaptureChanges(uow)
	if len(changes) != 3 {
		t.Fatalf("expected 3 de-duplicated changes, got %d", len(changes))
	}
	want := map[*engine.Object]wire.EventType{
		created: wire.EventCreated,
		loaded:  wire.EventModified,
		gone:    wire.EventDeleted,
	}
	for _, ch := range changes {
		if want[ch.Object] != ch.Event {
			t.Fatalf("object %s: expected %s, got %s", ch.Object.Key(), want[ch.Object], ch.Event)
		}
	}
}

func TestPipeline_DispatchesAfterCommit(t *testing.T) {
	f := newFixture(t)
	target := newWebhookTarget(t, http.StatusOK)
	rule := f.addRule(t, &metadata.TriggerRule{
		Name: "orders", TargetType: "order", OnCreated: true, OnModified: true, OnRemoved: true,
		WebhookURL: target.server.URL, Method: "put", CustomHeaders: `{"X-Api-Key":"k1"}`, Active: true,
	})
	pipeline := f.syncPipeline()
	ctx := context.Background()

	uow := engine.NewUnitOfWork(f.store, f.registry, engine.WithHooks(pipeline.Hooks()...))
	o := uow.New(f.entity)
	o.Set("number", "123")
	o.Set("status", "Open")
	if err := uow.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	o.Set("status", "Closed")
	if err := uow.Commit(ctx); err != nil {
		t.Fatalf("modify commit: %v", err)
	}
	uow.Delete(o)
	if err := uow.Commit(ctx); err != nil {
		t.Fatalf("delete commit: %v", err)
	}

	reqs := target.all()
	if len(reqs) != 3 {
		t.Fatalf("expected 3 webhook calls, got %d", len(reqs))
	}
	for i, ev := range []wire.EventType{wire.EventCreated, wire.EventModified, wire.EventDeleted} {
		r := reqs[i]
		if r.Payload.EventType != string(ev) || r.Payload.ObjectKey != o.Key() || r.Payload.TriggerRule != "orders" {
			t.Fatalf("call %d: unexpected payload %+v", i, r.Payload)
		}
		if r.Method != http.MethodPut || r.Header.Get("X-Api-Key") != "k1" {
			t.Fatalf("call %d: unexpected request %s %v", i, r.Method, r.Header)
		}
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			t.Fatalf("call %d: unexpected content type %q", i, r.Header.Get("Content-Type"))
		}
	}
	if reqs[1].Payload.Data["status"] != "Closed" {
		t.Fatalf("expected modified data, got %v", reqs[1].Payload.Data)
	}
	if reqs[2].Payload.Data != nil {
		t.Fatalf("expected no data for delete, got %v", reqs[2].Payload.Data)
	}

	logs := f.logs(t)
	if len(logs) != 3 {
		t.Fatalf("expected 3 log rows, got %d", len(logs))
	}
	for _, l := range logs {
		if l.RuleID != rule.ID || !l.IsSuccess || l.StatusCode == nil || *l.StatusCode != 200 {
			t.Fatalf("unexpected log %+v", l)
		}
		if !strings.Contains(l.Payload, o.Key()) || !strings.HasSuffix(l.ObjectType, "Order") {
			t.Fatalf("log payload missing key: %+v", l)
		}
	}
}

func TestPipeline_NoDispatchWhenCommitFails(t *testing.T) {
	f := newFixture(t)
	target := newWebhookTarget(t, http.StatusOK)
	f.addRule(t, &metadata.TriggerRule{
		Name: "orders", TargetType: "Sales.Order", OnCreated: true, WebhookURL: target.server.URL, Active: true,
	})
	pipeline := f.syncPipeline()
	ctx := context.Background()

	first := engine.NewUnitOfWork(f.store, f.registry, engine.WithHooks(pipeline.Hooks()...))
	first.New(f.entity).Set("number", "DUP")
	if err := first.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	coord := pipeline.NewCoordinator()
	dup := engine.NewUnitOfWork(f.store, f.registry, engine.WithHooks(coord))
	dup.New(f.entity).Set("number", "DUP")
	if err := dup.Commit(ctx); err == nil {
		t.Fatal("expected unique violation")
	}
	if coord.State() != StateIdle {
		t.Fatalf("expected idle coordinator after abort, got %s", coord.State())
	}
	if n := len(target.all()); n != 1 {
		t.Fatalf("expected only the first commit to dispatch, got %d calls", n)
	}
	if n := len(f.logs(t)); n != 1 {
		t.Fatalf("expected 1 log row, got %d", n)
	}
}

func TestPipeline_ValidationFailureSkipsSnapshotAndDispatch(t *testing.T) {
	f := newFixture(t)
	target := newWebhookTarget(t, http.StatusOK)
	f.addRule(t, &metadata.TriggerRule{
		Name: "orders", TargetType: "Order", OnCreated: true, OnModified: true, WebhookURL: target.server.URL, Active: true,
	})
	pipeline := f.syncPipeline()
	coord := pipeline.NewCoordinator()
	ctx := context.Background()

	uow := engine.NewUnitOfWork(f.store, f.registry, engine.WithHooks(coord))
	o := uow.New(f.entity)
	o.Set("number", "NEG")
	o.Set("total", -5.0)
	err := uow.Commit(ctx)

	var appErr *engine.AppError
	if !errors.As(err, &appErr) || appErr.Code != "VALIDATION_FAILED" {
		t.Fatalf("expected validation error, got %v", err)
	}
	if coord.State() != StateIdle {
		t.Fatalf("expected idle coordinator, got %s", coord.State())
	}
	if n := len(target.all()); n != 0 {
		t.Fatalf("expected no webhook calls, got %d", n)
	}
	if n := len(f.logs(t)); n != 0 {
		t.Fatalf("expected no log rows, got %d", n)
	}
	row, err := store.QueryRow(ctx, f.store.DB, "SELECT COUNT(*) AS n FROM orders")
	if err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if row["n"].(int64) != 0 {
		t.Fatalf("expected nothing written, got %v", row["n"])
	}
}

func TestMatchRules(t *testing.T) {
	entity := &metadata.Entity{Name: "Sales.Order"}
	rules := []*metadata.TriggerRule{
		{Name: "full", TargetType: "sales.order", OnModified: true, Active: true},
		{Name: "simple", TargetType: "ORDER", OnModified: true, Active: true},
		{Name: "wrong-flag", TargetType: "Order", OnCreated: true, Active: true},
		{Name: "inactive", TargetType: "Order", OnModified: true, Active: false},
		{Name: "other-type", TargetType: "Customer", OnModified: true, Active: true},
		{Name: "cond-true", TargetType: "Order", OnModified: true, Active: true, Condition: `record.status == "Open"`},
		{Name: "cond-false", TargetType: "Order", OnModified: true, Active: true, Condition: `record.status == "Closed"`},
		{Name: "cond-broken", TargetType: "Order", OnModified: true, Active: true, Condition: `record.status ==`},
	}
	reg := metadata.NewRegistry()
	reg.LoadTriggerRules(rules)

	matched := MatchRules(reg, entity, wire.EventModified, map[string]any{"status": "Open"})
	var names []string
	for _, r := range matched {
		names = append(names, r.Name)
	}
	if strings.Join(names, ",") != "full,simple,cond-true" {
		t.Fatalf("unexpected matches: %v", names)
	}
}

func TestBuildPayload_Formatting(t *testing.T) {
	f := newFixture(t)
	uow := engine.NewUnitOfWork(f.store, f.registry)
	o := uow.New(f.entity)
	placed := time.Date(2024, 5, 1, 8, 30, 0, 0, time.FixedZone("X", 2*3600))
	o.Set("number", "N-1")
	o.Set("total", 19.99)
	o.Set("status", int64(2))
	o.Set("placed_at", placed)
	o.Set("lines", map[string]any{"a": 1})
	o.Set("OptimisticLockField", int64(4))

	now := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	p := BuildPayload(o, wire.EventCreated, "r1", now)
	if p.ObjectKey != o.Key() || p.ObjectType != "Sales.Order" || p.Timestamp != "2024-05-02T00:00:00Z" {
		t.Fatalf("unexpected envelope %+v", p)
	}
	if _, ok := p.Data["id"]; ok {
		t.Fatal("primary key must not appear in data")
	}
	if _, ok := p.Data["lines"]; ok {
		t.Fatal("nested structures must be omitted")
	}
	if _, ok := p.Data["OptimisticLockField"]; ok {
		t.Fatal("bookkeeping members must be omitted")
	}
	if p.Data["status"] != "Closed" {
		t.Fatalf("expected enum name, got %v", p.Data["status"])
	}
	if p.Data["placed_at"] != "2024-05-01T06:30:00Z" {
		t.Fatalf("expected UTC ISO timestamp, got %v", p.Data["placed_at"])
	}
	if p.Data["total"] != 19.99 || p.Data["number"] != "N-1" {
		t.Fatalf("unexpected primitives %v", p.Data)
	}

	del := BuildPayload(o, wire.EventDeleted, "r1", now)
	b, _ := json.Marshal(del)
	if !strings.Contains(string(b), `"data":null`) {
		t.Fatalf("expected null data for delete, got %s", b)
	}
}

func TestBuildData_RefEmitsKey(t *testing.T) {
	customer := &metadata.Entity{Name: "Customer", Table: "customers"}
	line := &metadata.Entity{
		Name:   "OrderLine",
		Table:  "order_lines",
		Fields: []metadata.Field{{Name: "customer", Type: metadata.TypeRef, Ref: "Customer"}},
	}
	for _, e := range []*metadata.Entity{customer, line} {
		if err := e.Prepare(); err != nil {
			t.Fatalf("prepare: %v", err)
		}
	}
	uow := engine.NewUnitOfWork(nil, metadata.NewRegistry())
	c := uow.New(customer)
	l := uow.New(line)
	l.Set("customer", c)

	data := BuildData(l)
	if data["customer"] != c.Key() {
		t.Fatalf("expected referenced key, got %v", data["customer"])
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", 5000)
	got := Truncate(long, MaxResponseBodyLength)
	if len(got) != 4000+len("...") || !strings.HasSuffix(got, "...") {
		t.Fatalf("unexpected truncation length %d", len(got))
	}
	short := strings.Repeat("y", 3999)
	if Truncate(short, MaxResponseBodyLength) != short {
		t.Fatal("short strings must be unchanged")
	}
}

func TestDispatcher_Outcomes(t *testing.T) {
	failing := newWebhookTarget(t, http.StatusInternalServerError)
	d := NewDispatcher(time.Second)

	res := d.Send(context.Background(), &metadata.TriggerRule{Name: "r", WebhookURL: failing.server.URL, CustomHeaders: "{not json"}, []byte(`{}`))
	if res.Success || res.StatusCode != 500 || res.Error != "HTTP 500: Internal Server Error" {
		t.Fatalf("unexpected result %+v", res)
	}
	if n := len(failing.all()); n != 1 {
		t.Fatalf("malformed headers must not block the send, got %d calls", n)
	}

	slow := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer slow.Close()
	res = NewDispatcher(50*time.Millisecond).Send(context.Background(), &metadata.TriggerRule{Name: "r", WebhookURL: slow.URL}, []byte(`{}`))
	if res.Success || res.Error != "Request timed out" {
		t.Fatalf("expected timeout, got %+v", res)
	}

	res = d.Send(context.Background(), &metadata.TriggerRule{Name: "r", WebhookURL: "http://127.0.0.1:1"}, []byte(`{}`))
	if res.Success || res.Error == "" || res.StatusCode != 0 {
		t.Fatalf("expected transport failure, got %+v", res)
	}
}

func TestResolveHeaders(t *testing.T) {
	t.Setenv("SB_TOKEN", "secret")
	got := ResolveHeaders(map[string]string{"Authorization": "Bearer {{env.SB_TOKEN}}", "X-Plain": "v"})
	if got["Authorization"] != "Bearer secret" || got["X-Plain"] != "v" {
		t.Fatalf("unexpected headers %v", got)
	}
}

func TestExecutor_AsyncLogsFiredEntry(t *testing.T) {
	f := newFixture(t)
	target := newWebhookTarget(t, http.StatusInternalServerError)
	rule := f.addRule(t, &metadata.TriggerRule{
		Name: "async", TargetType: "Order", OnCreated: true, WebhookURL: target.server.URL, Active: true,
	})

	pool := NewPool(2, 8, nil)
	exec := NewExecutor(NewDispatcher(time.Second), f.logger, pool, config.ModeAsync, nil)
	key := uuid.New().String()
	exec.Execute(context.Background(), rule, wire.Payload{EventType: "Created", ObjectType: "Sales.Order", ObjectKey: key})
	pool.Stop()

	if n := len(target.all()); n != 1 {
		t.Fatalf("expected the pool to send once, got %d", n)
	}
	logs := f.logs(t)
	if len(logs) != 1 {
		t.Fatalf("expected one fired log, got %d", len(logs))
	}
	// The later 500 is not written back.
	if !logs[0].IsSuccess || logs[0].StatusCode != nil || logs[0].ObjectKey != key {
		t.Fatalf("unexpected fired log %+v", logs[0])
	}
}

func TestPool_DropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	pool := NewPool(1, 1, nil)
	started := make(chan struct{})
	if !pool.Submit(func() { close(started); <-block }) {
		t.Fatal("first submit must be accepted")
	}
	<-started
	if !pool.Submit(func() {}) {
		t.Fatal("second submit fills the queue")
	}
	if pool.Submit(func() {}) {
		t.Fatal("third submit must be dropped")
	}
	close(block)
	pool.Stop()
	if pool.Submit(func() {}) {
		t.Fatal("stopped pool must refuse work")
	}
}

func TestExecutor_AsyncQueueFullLogsFailure(t *testing.T) {
	f := newFixture(t)
	target := newWebhookTarget(t, http.StatusOK)
	rule := f.addRule(t, &metadata.TriggerRule{
		Name: "async-full", TargetType: "Order", OnCreated: true, WebhookURL: target.server.URL, Active: true,
	})

	block := make(chan struct{})
	started := make(chan struct{})
	pool := NewPool(1, 1, nil)
	pool.Submit(func() { close(started); <-block })
	<-started
	pool.Submit(func() {})

	exec := NewExecutor(NewDispatcher(time.Second), f.logger, pool, config.ModeAsync, nil)
	exec.Execute(context.Background(), rule, wire.Payload{EventType: "Created", ObjectType: "Sales.Order", ObjectKey: uuid.New().String()})
	close(block)
	pool.Stop()

	if n := len(target.all()); n != 0 {
		t.Fatalf("dropped work must not be sent, got %d requests", n)
	}
	logs := f.logs(t)
	if len(logs) != 1 {
		t.Fatalf("expected one log entry, got %d", len(logs))
	}
	if logs[0].IsSuccess || logs[0].ErrorMessage != "dispatch queue full" {
		t.Fatalf("expected a failed queue-full entry, got %+v", logs[0])
	}
}

func TestExecutionLogger_DeletedRuleStoresNullReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rule := f.addRule(t, &metadata.TriggerRule{Name: "stale", TargetType: "Order", OnCreated: true, WebhookURL: "http://example.invalid", Active: true})
	if err := DeleteRule(ctx, f.store, rule.ID); err != nil {
		t.Fatalf("delete rule: %v", err)
	}

	// The registry still hands out the deleted rule.
	f.logger.Write(ctx, ExecutionLog{RuleID: rule.ID, RuleName: rule.Name, ObjectType: "Sales.Order", ObjectKey: "1", EventType: "Created", HTTPMethod: "POST"})

	logs := f.logs(t)
	if len(logs) != 1 {
		t.Fatalf("expected the log row to be kept, got %d", len(logs))
	}
	if logs[0].RuleID != "" || logs[0].RuleName != "stale" {
		t.Fatalf("expected null rule reference with name kept, got %+v", logs[0])
	}
}

func TestPurgeAndClearLogs(t *testing.T) {
	f := newFixture(t)
	rule := f.addRule(t, &metadata.TriggerRule{Name: "r", TargetType: "Order", WebhookURL: "http://example.invalid", Active: true})
	ctx := context.Background()
	now := time.Now()

	f.logger.Write(ctx, ExecutionLog{RuleID: rule.ID, RuleName: "r", ExecutedAt: now.AddDate(0, 0, -120), ObjectType: "Order", ObjectKey: "1", EventType: "Created", HTTPMethod: "POST"})
	f.logger.Write(ctx, ExecutionLog{RuleID: rule.ID, RuleName: "r", ExecutedAt: now.AddDate(0, 0, -10), ObjectType: "Order", ObjectKey: "2", EventType: "Created", HTTPMethod: "POST"})
	f.logger.Write(ctx, ExecutionLog{RuleName: "gone", ExecutedAt: now, ObjectType: "Order", ObjectKey: "3", EventType: "Created", HTTPMethod: "POST"})

	if n, err := PurgeLogs(ctx, f.store, 0, now); err != nil || n != 0 {
		t.Fatalf("disabled purge: %d %v", n, err)
	}
	n, err := PurgeLogs(ctx, f.store, 90, now)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 purged, got %d %v", n, err)
	}

	sink := metrics.NewNoopSink()
	RunPurge(ctx, f.store, 90, sink)

	cleared, err := f.logger.ClearLogs(ctx, rule.ID)
	if err != nil || cleared != 1 {
		t.Fatalf("expected 1 cleared, got %d %v", cleared, err)
	}
	remaining := f.logs(t)
	if len(remaining) != 1 || remaining[0].RuleName != "gone" {
		t.Fatalf("unexpected remaining logs %+v", remaining)
	}
}

func TestSendTest(t *testing.T) {
	target := newWebhookTarget(t, http.StatusOK)
	rule := &metadata.TriggerRule{Name: "probe", WebhookURL: target.server.URL}

	res := SendTest(context.Background(), NewDispatcher(time.Second), rule, nil)
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	p := target.all()[0].Payload
	if p.EventType != "Test" || p.ObjectType != "TestObject" || p.Data["message"] == nil {
		t.Fatalf("unexpected test payload %+v", p)
	}
	if _, err := uuid.Parse(p.ObjectKey); err != nil {
		t.Fatalf("expected uuid key, got %q", p.ObjectKey)
	}
}
