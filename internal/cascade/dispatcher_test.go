package cascade

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/For-Sunny/cascade-memory/internal/config"
	"github.com/For-Sunny/cascade-memory/internal/logging"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	dir := t.TempDir()
	coordinator, err := NewCoordinator(filepath.Join(dir, "durable"), "", 0.9)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	t.Cleanup(func() { _ = coordinator.Close() })

	decay := NewDecayEngine(coordinator, 0.01, 0.9, 0.1, 1000, time.Hour)
	limiter := NewRateLimiter(time.Minute, 300, map[string]int{}, 60)
	t.Cleanup(limiter.Stop)

	return NewDispatcher(coordinator, decay, limiter, nil, &config.Config{})
}

func TestDispatchRememberAutoRoutes(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch(Request{Tool: "remember", Args: map[string]interface{}{
		"content": "How to deploy the MCP server: step 1 install dependencies",
	}})
	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp.Error)
	}
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map data, got %T", resp.Data)
	}
	if data["layer"] != "procedural" {
		t.Fatalf("expected procedural, got %v", data["layer"])
	}
}

func TestDispatchSaveToLayerRequiresLayer(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch(Request{Tool: "save_to_layer", Args: map[string]interface{}{
		"content": "no layer given",
	}})
	if resp.Success {
		t.Fatal("expected failure without layer")
	}
	if resp.Error.Code != string(CodeInvalidLayer) {
		t.Fatalf("expected INVALID_LAYER, got %s", resp.Error.Code)
	}
}

func TestDispatchUnknownToolReturnsWellFormedError(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch(Request{Tool: "not_a_real_tool", Args: map[string]interface{}{}})
	if resp.Success {
		t.Fatal("expected failure for unknown tool")
	}
	if resp.Error.Code != string(CodeUnknownTool) {
		t.Fatalf("expected UNKNOWN_TOOL, got %s", resp.Error.Code)
	}
	if resp.Error.StatusCode != 400 {
		t.Fatalf("expected status 400, got %d", resp.Error.StatusCode)
	}
}

func TestDispatchRecallRoundTrip(t *testing.T) {
	d := newTestDispatcher(t)
	remember := d.Dispatch(Request{Tool: "remember", Args: map[string]interface{}{
		"content":  "The deployment process requires running migrations before starting the app server",
		"metadata": map[string]interface{}{"importance": 0.8},
	}})
	if !remember.Success {
		t.Fatalf("remember failed: %+v", remember.Error)
	}

	recall := d.Dispatch(Request{Tool: "recall", Args: map[string]interface{}{
		"query": "deployment process",
	}})
	if !recall.Success {
		t.Fatalf("recall failed: %+v", recall.Error)
	}
	rows, ok := recall.Data.([]map[string]interface{})
	if !ok || len(rows) == 0 {
		t.Fatalf("expected at least one recalled record, got %+v", recall.Data)
	}
	if rows[0]["importance"] != 0.8 {
		t.Fatalf("expected importance 0.8, got %v", rows[0]["importance"])
	}
}

func TestDispatchRateLimitExceeded(t *testing.T) {
	dir := t.TempDir()
	coordinator, err := NewCoordinator(filepath.Join(dir, "durable"), "", 0.9)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	defer coordinator.Close()

	decay := NewDecayEngine(coordinator, 0.01, 0.9, 0.1, 1000, time.Hour)
	limiter := NewRateLimiter(time.Minute, 300, map[string]int{"remember": 1}, 60)
	defer limiter.Stop()
	d := NewDispatcher(coordinator, decay, limiter, nil, &config.Config{})

	first := d.Dispatch(Request{Tool: "remember", Args: map[string]interface{}{"content": "first"}})
	if !first.Success {
		t.Fatalf("first remember should succeed: %+v", first.Error)
	}
	second := d.Dispatch(Request{Tool: "remember", Args: map[string]interface{}{"content": "second"}})
	if second.Success {
		t.Fatal("second remember should be rate limited")
	}
	if second.Error.Code != string(CodeRateLimitExceeded) {
		t.Fatalf("expected RATE_LIMIT_EXCEEDED, got %s", second.Error.Code)
	}
	if second.Error.RetryAfterMs < 1000 {
		t.Fatalf("expected retryAfterMs >= 1000, got %d", second.Error.RetryAfterMs)
	}
}

// TestDispatchThreadsRequestIDIntoAuditEvent covers A2: the request_id
// returned to the caller must be the same id correlated in the audit log,
// not a second, disconnected id.
func TestDispatchThreadsRequestIDIntoAuditEvent(t *testing.T) {
	dir := t.TempDir()
	coordinator, err := NewCoordinator(filepath.Join(dir, "durable"), "", 0.9)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	defer coordinator.Close()

	decay := NewDecayEngine(coordinator, 0.01, 0.9, 0.1, 1000, time.Hour)
	limiter := NewRateLimiter(time.Minute, 300, map[string]int{}, 60)
	defer limiter.Stop()

	auditPath := filepath.Join(dir, "audit.jsonl")
	audit := logging.NewAuditBuffer(1, auditPath)
	d := NewDispatcher(coordinator, decay, limiter, audit, &config.Config{})

	resp := d.Dispatch(Request{Tool: "remember", Args: map[string]interface{}{"content": "correlate me"}})
	if !resp.Success {
		t.Fatalf("remember failed: %+v", resp.Error)
	}
	data := resp.Data.(map[string]interface{})
	requestID, _ := data["request_id"].(string)
	if requestID == "" {
		t.Fatal("expected non-empty request_id in response")
	}

	f, err := os.Open(auditPath)
	if err != nil {
		t.Fatalf("open audit sink: %v", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	var event logging.AuditEvent
	for scanner.Scan() {
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("unmarshal audit event: %v", err)
		}
	}
	if event.RequestID != requestID {
		t.Fatalf("expected audit event request id %q to match response %q", event.RequestID, requestID)
	}
}

// TestDispatchGetStatsIncludesDecayConfig covers §6: get_stats carries the
// decay configuration alongside the per-layer aggregates.
func TestDispatchGetStatsIncludesDecayConfig(t *testing.T) {
	dir := t.TempDir()
	coordinator, err := NewCoordinator(filepath.Join(dir, "durable"), "", 0.9)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	defer coordinator.Close()

	decay := NewDecayEngine(coordinator, 0.01, 0.9, 0.1, 1000, time.Hour)
	limiter := NewRateLimiter(time.Minute, 300, map[string]int{}, 60)
	defer limiter.Stop()

	cfg := &config.Config{Decay: config.DecayConfig{
		Enabled: true, BaseRatePerDay: 0.01, VisibilityThreshold: 0.1,
		ImmortalThreshold: 0.9, SweepIntervalMin: 60, SweepBatchSize: 1000,
	}}
	d := NewDispatcher(coordinator, decay, limiter, nil, cfg)

	resp := d.Dispatch(Request{Tool: "get_stats", Args: map[string]interface{}{}})
	if !resp.Success {
		t.Fatalf("get_stats failed: %+v", resp.Error)
	}
	data := resp.Data.(map[string]interface{})
	echoed, ok := data["decay"].(config.DecayConfig)
	if !ok {
		t.Fatalf("expected decay config echoed in get_stats, got %T", data["decay"])
	}
	if echoed != cfg.Decay {
		t.Fatalf("expected echoed decay config %+v, got %+v", cfg.Decay, echoed)
	}
}

// TestDispatchGetStatusIncludesPerLayerCount covers §6: get_status's
// per-layer health record carries a row count, not just status/path.
func TestDispatchGetStatusIncludesPerLayerCount(t *testing.T) {
	d := newTestDispatcher(t)
	remember := d.Dispatch(Request{Tool: "remember", Args: map[string]interface{}{
		"content": "How to deploy the MCP server: step 1 install dependencies",
	}})
	if !remember.Success {
		t.Fatalf("remember failed: %+v", remember.Error)
	}

	resp := d.Dispatch(Request{Tool: "get_status", Args: map[string]interface{}{}})
	if !resp.Success {
		t.Fatalf("get_status failed: %+v", resp.Error)
	}
	data := resp.Data.(map[string]interface{})
	health, ok := data["health"].(Health)
	if !ok {
		t.Fatalf("expected Health in get_status data, got %T", data["health"])
	}
	if health.Layers[LayerProcedural].Count != 1 {
		t.Fatalf("expected procedural layer count 1, got %d", health.Layers[LayerProcedural].Count)
	}
}
