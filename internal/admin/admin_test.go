package admin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"syncbridge/internal/engine"
	"syncbridge/internal/metadata"
	"syncbridge/internal/store"
	"syncbridge/internal/trigger"
)

type fixture struct {
	app      *fiber.App
	store    *store.Store
	registry *metadata.Registry
	logs     *trigger.ExecutionLogger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "admin.db"), 0)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	reg := metadata.NewRegistry()
	logs := trigger.NewExecutionLogger(s, nil)
	h := NewHandler(s, reg, store.NewMigrator(s), Options{
		Logs:          logs,
		Dispatcher:    trigger.NewDispatcher(2 * time.Second),
		RetentionDays: 30,
	})

	app := fiber.New(fiber.Config{ErrorHandler: engine.ErrorHandler})
	RegisterAdminRoutes(app, h)
	return &fixture{app: app, store: s, registry: reg, logs: logs}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s %s response %q: %v", method, path, raw, err)
		}
	}
	return resp.StatusCode, out
}

func dataOf(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	d, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object, got %v", body)
	}
	return d
}

const orderEntity = `{"name":"Sales.Order","table":"orders","syncable":true,
	"fields":[{"name":"number","type":"string","required":true},{"name":"total","type":"decimal"}]}`

func (f *fixture) createOrderEntity(t *testing.T) {
	t.Helper()
	if status, body := f.do(t, "POST", "/api/_admin/entities", orderEntity); status != 201 {
		t.Fatalf("create entity: %d %v", status, body)
	}
}

func (f *fixture) createRule(t *testing.T, url string) string {
	t.Helper()
	status, body := f.do(t, "POST", "/api/_admin/rules",
		`{"name":"orders-out","target_type":"Order","on_created":true,"webhook_url":"`+url+`","http_method":"post"}`)
	if status != 201 {
		t.Fatalf("create rule: %d %v", status, body)
	}
	return dataOf(t, body)["id"].(string)
}

func TestEntityLifecycle(t *testing.T) {
	f := newFixture(t)
	f.createOrderEntity(t)

	e := f.registry.GetEntity("Sales.Order")
	if e == nil {
		t.Fatal("expected entity in registry after create")
	}
	if !e.HasField(metadata.SyncedAtField) {
		t.Fatal("expected syncable entity to carry synced_at")
	}
	exists, err := f.store.Dialect.TableExists(context.Background(), f.store.DB, "orders")
	if err != nil || !exists {
		t.Fatalf("expected orders table, exists=%v err=%v", exists, err)
	}

	status, body := f.do(t, "GET", "/api/_admin/entities/Sales.Order", "")
	if status != 200 {
		t.Fatalf("get entity: %d %v", status, body)
	}
	def, _ := dataOf(t, body)["definition"].(map[string]any)
	if def["table"] != "orders" {
		t.Fatalf("expected decoded definition, got %v", dataOf(t, body)["definition"])
	}

	if status, _ := f.do(t, "POST", "/api/_admin/entities", orderEntity); status != 409 {
		t.Fatalf("expected 409 for duplicate entity, got %d", status)
	}

	status, _ = f.do(t, "PUT", "/api/_admin/entities/Sales.Order",
		`{"table":"orders","syncable":true,"fields":[{"name":"number","type":"string"},{"name":"note","type":"text"}]}`)
	if status != 200 {
		t.Fatalf("update entity: %d", status)
	}
	cols, err := f.store.Dialect.GetColumns(context.Background(), f.store.DB, "orders")
	if err != nil {
		t.Fatalf("columns: %v", err)
	}
	if _, ok := cols["note"]; !ok {
		t.Fatalf("expected note column after update, got %v", cols)
	}

	if status, _ := f.do(t, "DELETE", "/api/_admin/entities/Sales.Order", ""); status != 200 {
		t.Fatalf("delete entity: %d", status)
	}
	if f.registry.GetEntity("Sales.Order") != nil {
		t.Fatal("expected entity removed from registry")
	}
	if status, _ := f.do(t, "GET", "/api/_admin/entities/Sales.Order", ""); status != 404 {
		t.Fatalf("expected 404 after delete, got %d", status)
	}
}

func TestCreateEntity_Invalid(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty body", "", 400},
		{"bad json", "{", 400},
		{"missing table", `{"name":"A","fields":[{"name":"x","type":"string"}]}`, 422},
		{"unknown field type", `{"name":"A","table":"a","fields":[{"name":"x","type":"blob"}]}`, 422},
		{"syncable int key", `{"name":"A","table":"a","syncable":true,"primary_key":{"field":"id","type":"int"},"fields":[{"name":"x","type":"string"}]}`, 422},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if status, body := f.do(t, "POST", "/api/_admin/entities", tt.body); status != tt.want {
				t.Fatalf("expected %d, got %d: %v", tt.want, status, body)
			}
		})
	}
}

func TestRuleLifecycle(t *testing.T) {
	f := newFixture(t)
	id := f.createRule(t, "http://127.0.0.1:1/hook")

	rule := f.registry.GetTriggerRule(id)
	if rule == nil || !rule.Active || rule.Method != "POST" {
		t.Fatalf("expected active POST rule in registry, got %+v", rule)
	}

	if status, _ := f.do(t, "POST", "/api/_admin/rules",
		`{"name":"orders-out","target_type":"Order","webhook_url":"http://x"}`); status != 409 {
		t.Fatalf("expected 409 for duplicate name, got %d", status)
	}
	if status, _ := f.do(t, "POST", "/api/_admin/rules",
		`{"name":"bad","target_type":"Order","webhook_url":"http://x","http_method":"TRACE"}`); status != 422 {
		t.Fatalf("expected 422 for bad method, got %d", status)
	}

	status, _ := f.do(t, "PUT", "/api/_admin/rules/"+id,
		`{"name":"orders-out","target_type":"Order","on_removed":true,"webhook_url":"http://x","active":false}`)
	if status != 200 {
		t.Fatalf("update rule: %d", status)
	}
	if len(f.registry.ActiveTriggerRules()) != 0 {
		t.Fatal("expected deactivated rule to be excluded from active rules")
	}
	if r := f.registry.GetTriggerRule(id); r == nil || !r.OnRemoved || r.OnCreated {
		t.Fatalf("expected updated flags, got %+v", r)
	}

	if status, _ := f.do(t, "PUT", "/api/_admin/rules/missing",
		`{"name":"x","target_type":"Order","webhook_url":"http://x"}`); status != 404 {
		t.Fatalf("expected 404 for missing rule, got %d", status)
	}

	if status, _ := f.do(t, "DELETE", "/api/_admin/rules/"+id, ""); status != 200 {
		t.Fatalf("delete rule: %d", status)
	}
	if f.registry.GetTriggerRule(id) != nil {
		t.Fatal("expected rule removed from registry")
	}
}

func TestTestRule(t *testing.T) {
	var mu sync.Mutex
	var got map[string]any
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("queued"))
	}))
	defer target.Close()

	f := newFixture(t)
	id := f.createRule(t, target.URL)

	status, body := f.do(t, "POST", "/api/_admin/rules/"+id+"/test", "")
	if status != 200 {
		t.Fatalf("test rule: %d %v", status, body)
	}
	res := dataOf(t, body)
	if res["success"] != true || res["status_code"] != float64(202) || res["response_body"] != "queued" {
		t.Fatalf("unexpected test result %v", res)
	}

	mu.Lock()
	defer mu.Unlock()
	if got["eventType"] != "Test" || got["objectType"] != "Order" {
		t.Fatalf("unexpected test payload %v", got)
	}

	logs, err := f.logs.ListLogs(context.Background(), trigger.LogFilter{RuleID: id})
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 0 {
		t.Fatalf("expected test sends to stay out of the log, got %d rows", len(logs))
	}
}

func TestTestRule_Unreachable(t *testing.T) {
	f := newFixture(t)
	id := f.createRule(t, "http://127.0.0.1:1/hook")

	status, body := f.do(t, "POST", "/api/_admin/rules/"+id+"/test", "")
	if status != 200 {
		t.Fatalf("test rule: %d %v", status, body)
	}
	res := dataOf(t, body)
	if res["success"] != false || res["status_code"] != nil || res["error"] == "" {
		t.Fatalf("expected connection failure result, got %v", res)
	}
}

func TestRuleLogs_ListClearPurge(t *testing.T) {
	f := newFixture(t)
	id := f.createRule(t, "http://127.0.0.1:1/hook")
	ctx := context.Background()

	now := time.Now().UTC()
	for _, at := range []time.Time{now, now.Add(-time.Minute), now.AddDate(0, 0, -40)} {
		f.logs.Write(ctx, trigger.ExecutionLog{
			RuleID: id, RuleName: "orders-out", ExecutedAt: at,
			ObjectType: "Sales.Order", ObjectKey: "k", EventType: "Created",
			HTTPMethod: "POST", Payload: "{}", IsSuccess: true,
		})
	}

	status, body := f.do(t, "GET", "/api/_admin/rules/"+id+"/logs", "")
	if status != 200 {
		t.Fatalf("list rule logs: %d", status)
	}
	if rows, _ := body["data"].([]any); len(rows) != 3 {
		t.Fatalf("expected 3 logs, got %v", body["data"])
	}

	status, body = f.do(t, "POST", "/api/_admin/logs/purge", "")
	if status != 200 || dataOf(t, body)["deleted"] != float64(1) {
		t.Fatalf("expected default 30 day purge to delete 1, got %d %v", status, body)
	}
	if status, _ := f.do(t, "POST", "/api/_admin/logs/purge", `{"retention_days":0}`); status != 422 {
		t.Fatalf("expected 422 for zero retention, got %d", status)
	}

	status, body = f.do(t, "DELETE", "/api/_admin/rules/"+id+"/logs", "")
	if status != 200 || dataOf(t, body)["deleted"] != float64(2) {
		t.Fatalf("expected clear to delete 2, got %d %v", status, body)
	}

	status, body = f.do(t, "GET", "/api/_admin/logs?rule_id="+id, "")
	if rows, _ := body["data"].([]any); status != 200 || len(rows) != 0 {
		t.Fatalf("expected no logs after clear, got %d %v", status, body)
	}

	if status, _ := f.do(t, "DELETE", "/api/_admin/rules/missing/logs", ""); status != 404 {
		t.Fatalf("expected 404 for unknown rule, got %d", status)
	}
}

func TestTypeMappings(t *testing.T) {
	f := newFixture(t)
	f.createOrderEntity(t)

	status, body := f.do(t, "POST", "/api/_admin/type-mappings", `{"source_type":"Erp.SalesOrder","local_type":"Nope"}`)
	if status != 422 {
		t.Fatalf("expected 422 for unknown local type, got %d %v", status, body)
	}

	status, body = f.do(t, "POST", "/api/_admin/type-mappings", `{"source_type":"Erp.SalesOrder","local_type":"Sales.Order"}`)
	if status != 201 {
		t.Fatalf("create mapping: %d %v", status, body)
	}
	id := dataOf(t, body)["id"].(string)
	if m := f.registry.ActiveTypeMapping("erp.salesorder"); m == nil || m.LocalType != "Sales.Order" {
		t.Fatalf("expected active mapping in registry, got %+v", m)
	}

	if status, _ := f.do(t, "POST", "/api/_admin/type-mappings", `{"source_type":"Erp.SalesOrder","local_type":"Sales.Order"}`); status != 409 {
		t.Fatalf("expected 409 for duplicate source type, got %d", status)
	}

	status, _ = f.do(t, "PUT", "/api/_admin/type-mappings/"+id, `{"source_type":"Erp.SalesOrder","local_type":"Sales.Order","active":false}`)
	if status != 200 {
		t.Fatalf("update mapping: %d", status)
	}
	if f.registry.ActiveTypeMapping("Erp.SalesOrder") != nil {
		t.Fatal("expected inactive mapping to be invisible")
	}

	status, body = f.do(t, "GET", "/api/_admin/type-mappings", "")
	rows, _ := body["data"].([]any)
	if status != 200 || len(rows) != 1 || rows[0].(map[string]any)["active"] != false {
		t.Fatalf("expected one inactive mapping listed, got %d %v", status, body)
	}

	if status, _ := f.do(t, "DELETE", "/api/_admin/type-mappings/"+id, ""); status != 200 {
		t.Fatalf("delete mapping: %d", status)
	}
	if status, _ := f.do(t, "DELETE", "/api/_admin/type-mappings/"+id, ""); status != 404 {
		t.Fatalf("expected 404 on second delete, got %d", status)
	}
}

func TestAPIKeys(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, "POST", "/api/_admin/api-keys", `{"name":"erp"}`)
	if status != 201 {
		t.Fatalf("create key: %d %v", status, body)
	}
	d := dataOf(t, body)
	key, _ := d["key"].(string)
	if !strings.HasPrefix(key, "sb_") {
		t.Fatalf("expected plaintext key, got %v", d)
	}
	id := d["api_key"].(map[string]any)["id"].(string)

	status, body = f.do(t, "GET", "/api/_admin/api-keys", "")
	rows, _ := body["data"].([]any)
	if status != 200 || len(rows) != 1 {
		t.Fatalf("expected one key, got %d %v", status, body)
	}
	if _, leaked := rows[0].(map[string]any)["key_hash"]; leaked {
		t.Fatal("key hash must not be listed")
	}

	if status, _ := f.do(t, "DELETE", "/api/_admin/api-keys/"+id, ""); status != 200 {
		t.Fatalf("revoke: %d", status)
	}
	if status, _ := f.do(t, "DELETE", "/api/_admin/api-keys/missing", ""); status != 404 {
		t.Fatalf("expected 404 for missing key, got %d", status)
	}
}
