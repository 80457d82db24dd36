package cascade

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/For-Sunny/cascade-memory/internal/config"
	"github.com/For-Sunny/cascade-memory/internal/logging"
)

// Request is one parsed line from the stdio transport (§6).
type Request struct {
	Tool string                 `json:"tool"`
	Args map[string]interface{} `json:"args"`
}

// Response is the uniform success/error envelope (§6).
type Response struct {
	Success   bool        `json:"success"`
	Tool      string      `json:"tool,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody is the error half of the response envelope (§6, §7).
type ErrorBody struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	StatusCode   int    `json:"statusCode"`
	Timestamp    int64  `json:"timestamp"`
	Tool         string `json:"tool"`
	RetryAfterMs int64  `json:"retryAfterMs,omitempty"`
	Details      string `json:"details,omitempty"`
}

var statusCodeByCode = map[Code]int{
	CodeValidation:         400,
	CodeInvalidInput:       400,
	CodeInvalidLayer:       400,
	CodeInvalidContent:     400,
	CodeInvalidQuery:       400,
	CodeRateLimitExceeded:  429,
	CodeDatabaseError:      500,
	CodeConnectionError:    500,
	CodeWriteError:         500,
	CodeInternalError:      500,
	CodeUnknownTool:        400,
	CodeConfigurationError: 503,
}

// Dispatcher binds the rate limiter, validator, router, coordinator, and
// decay engine to the fixed operation vocabulary (§4.8).
type Dispatcher struct {
	coordinator *Coordinator
	decay       *DecayEngine
	limiter     *RateLimiter
	audit       *logging.AuditBuffer
	debug       bool
	decayCfg    config.DecayConfig

	mu               sync.Mutex
	configReloadedAt time.Time
}

// NewDispatcher wires a Dispatcher from already-constructed components.
func NewDispatcher(coordinator *Coordinator, decay *DecayEngine, limiter *RateLimiter, audit *logging.AuditBuffer, cfg *config.Config) *Dispatcher {
	return &Dispatcher{coordinator: coordinator, decay: decay, limiter: limiter, audit: audit, debug: cfg.Debug, decayCfg: cfg.Decay}
}

// NoteConfigReload records the time a hot-reload last applied, surfaced by
// get_status for operational visibility into the config watcher (A4).
func (d *Dispatcher) NoteConfigReload(at time.Time) {
	d.mu.Lock()
	d.configReloadedAt = at
	d.mu.Unlock()
}

// Dispatch routes one request to its handler, applying rate limiting first
// and a final catch-all that converts any residual error into
// INTERNAL_ERROR (§4.8, §7).
func (d *Dispatcher) Dispatch(req Request) Response {
	start := time.Now()
	requestID := uuid.NewString()

	admitted, retryAfterMs := d.limiter.Admit(req.Tool, start)
	if !admitted {
		resp := d.errorResponse(req.Tool, NewError(CodeRateLimitExceeded, "rate limit exceeded for %s", req.Tool))
		resp.Error.RetryAfterMs = retryAfterMs
		d.recordAudit(req.Tool, "", requestID, false, start, CodeRateLimitExceeded)
		return resp
	}

	resp := d.dispatchHandler(req, requestID)
	success := resp.Success
	code := ""
	layer := ""
	if !success && resp.Error != nil {
		code = resp.Error.Code
	}
	if success {
		if m, ok := resp.Data.(map[string]interface{}); ok {
			if l, ok := m["layer"].(string); ok {
				layer = l
			}
		}
	}
	d.recordAudit(req.Tool, layer, requestID, success, start, Code(code))
	return resp
}

func (d *Dispatcher) dispatchHandler(req Request, requestID string) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = d.errorResponse(req.Tool, NewError(CodeInternalError, "unhandled panic in %s", req.Tool))
		}
	}()

	switch req.Tool {
	case "remember":
		return d.handleRemember(req, requestID)
	case "save_to_layer":
		return d.handleSaveToLayer(req, requestID)
	case "recall":
		return d.handleRecall(req)
	case "query_layer":
		return d.handleQueryLayer(req)
	case "get_status":
		return d.handleGetStatus(req)
	case "get_stats":
		return d.handleGetStats(req)
	default:
		return d.errorResponse(req.Tool, NewError(CodeUnknownTool, "unknown operation %q", req.Tool))
	}
}

func (d *Dispatcher) handleRemember(req Request, requestID string) Response {
	return d.save(req, "", requestID)
}

func (d *Dispatcher) handleSaveToLayer(req Request, requestID string) Response {
	layerArg, _ := req.Args["layer"].(string)
	if layerArg == "" {
		return d.errorResponse(req.Tool, NewError(CodeInvalidLayer, "layer is required"))
	}
	return d.save(req, layerArg, requestID)
}

func (d *Dispatcher) save(req Request, explicitLayer, requestID string) Response {
	rawContent, _ := req.Args["content"].(string)
	content, err := ValidateContent(rawContent)
	if err != nil {
		return d.errorResponse(req.Tool, err.(*Error))
	}

	if explicitLayer == "" {
		if l, _ := req.Args["layer"].(string); l != "" {
			explicitLayer = l
		}
	}

	rawMeta, _ := req.Args["metadata"].(map[string]interface{})
	meta, err := ValidateMetadata(rawMeta)
	if err != nil {
		return d.errorResponse(req.Tool, err.(*Error))
	}

	importance := 0.7
	if v, ok := numberFromMeta(rawMeta, "importance"); ok {
		importance = v
	}
	emotional := 0.5
	if v, ok := numberFromMeta(rawMeta, "emotional_intensity"); ok {
		emotional = v
	}
	if err := ValidateUnitInterval("importance", importance); err != nil {
		return d.errorResponse(req.Tool, err.(*Error))
	}
	if err := ValidateUnitInterval("emotional_intensity", emotional); err != nil {
		return d.errorResponse(req.Tool, err.(*Error))
	}

	var layer Layer
	if explicitLayer != "" {
		l, err := ValidateLayer(explicitLayer)
		if err != nil {
			return d.errorResponse(req.Tool, err.(*Error))
		}
		layer = l
	} else {
		decision := Analyze(content)
		layer = decision.Layer
	}

	now := nowSeconds()
	record := Record{
		Layer:              layer,
		Timestamp:          now,
		Content:            content,
		Importance:         importance,
		EmotionalIntensity: emotional,
		Metadata:           meta,
	}

	id, dualWrite, werr := d.coordinator.Write(layer, record)
	if werr != nil {
		return d.errorResponse(req.Tool, asError(werr))
	}

	return d.successResponse(req.Tool, map[string]interface{}{
		"layer":      string(layer),
		"id":         id,
		"timestamp":  now,
		"dual_write": dualWrite,
		"request_id": requestID,
	})
}

func numberFromMeta(raw map[string]interface{}, key string) (float64, bool) {
	if raw == nil {
		return 0, false
	}
	v, ok := raw[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

func (d *Dispatcher) handleRecall(req Request) Response {
	rawQuery, _ := req.Args["query"].(string)
	query, err := ValidateQuery(rawQuery)
	if err != nil {
		return d.errorResponse(req.Tool, err.(*Error))
	}

	includeDecayed, _ := req.Args["include_decayed"].(bool)
	limit, lerr := limitFromArgs(req.Args)
	if lerr != nil {
		return d.errorResponse(req.Tool, lerr.(*Error))
	}

	layers := Layers
	if l, ok := req.Args["layer"].(string); ok && l != "" {
		layer, err := ValidateLayer(l)
		if err != nil {
			return d.errorResponse(req.Tool, err.(*Error))
		}
		layers = []Layer{layer}
	}

	filters := Filters{QueryContains: &query}
	var all []Record
	for _, layer := range layers {
		store, err := d.coordinator.ReadStore(layer)
		if err != nil {
			return d.errorResponse(req.Tool, asError(err))
		}
		compiled, cerr := Compile(filters, includeDecayed, d.decay.VisibilityThreshold(), "")
		if cerr != nil {
			return d.errorResponse(req.Tool, cerr.(*Error))
		}
		rows, serr := store.Scan(compiled.Where, compiled.Args, RecallOrderBy, limit)
		if serr != nil {
			return d.errorResponse(req.Tool, asError(serr))
		}
		for i := range rows {
			rows[i].Layer = layer
		}
		all = append(all, rows...)
	}

	all = sortByEffectiveImportance(all)
	if len(all) > limit {
		all = all[:limit]
	}

	touchByLayer := make(map[Layer][]int64)
	for _, r := range all {
		touchByLayer[r.Layer] = append(touchByLayer[r.Layer], r.ID)
	}
	now := nowSeconds()
	for layer, ids := range touchByLayer {
		d.decay.Touch(layer, ids, now)
	}

	return d.successResponse(req.Tool, recordsToPayload(all))
}

func (d *Dispatcher) handleQueryLayer(req Request) Response {
	layerArg, _ := req.Args["layer"].(string)
	layer, err := ValidateLayer(layerArg)
	if err != nil {
		return d.errorResponse(req.Tool, err.(*Error))
	}

	includeDecayed, _ := req.Args["include_decayed"].(bool)
	limit, lerr := limitFromArgs(req.Args)
	if lerr != nil {
		return d.errorResponse(req.Tool, lerr.(*Error))
	}

	options, _ := req.Args["options"].(map[string]interface{})
	filters := filtersFromArgs(options)
	orderBy := ""
	if options != nil {
		if ob, ok := options["order_by"].(string); ok {
			orderBy = ob
		}
	}

	store, serr := d.coordinator.ReadStore(layer)
	if serr != nil {
		return d.errorResponse(req.Tool, asError(serr))
	}
	compiled, cerr := Compile(filters, includeDecayed, d.decay.VisibilityThreshold(), orderBy)
	if cerr != nil {
		return d.errorResponse(req.Tool, cerr.(*Error))
	}
	rows, rerr := store.Scan(compiled.Where, compiled.Args, compiled.OrderBy, limit)
	if rerr != nil {
		return d.errorResponse(req.Tool, asError(rerr))
	}
	for i := range rows {
		rows[i].Layer = layer
	}

	return d.successResponse(req.Tool, recordsToPayload(rows))
}

func (d *Dispatcher) handleGetStatus(req Request) Response {
	health := d.coordinator.Health()
	sweep := d.decay.LastSweep()

	auditDepth := 0
	if d.audit != nil {
		auditDepth = d.audit.Depth()
	}

	d.mu.Lock()
	reloadedAt := d.configReloadedAt
	d.mu.Unlock()
	var configReloadedAt string
	if !reloadedAt.IsZero() {
		configReloadedAt = reloadedAt.UTC().Format(time.RFC3339)
	}

	return d.successResponse(req.Tool, map[string]interface{}{
		"version":    "1.0.0",
		"health":     health,
		"dual_write": d.coordinator.DualWriteConfigured(),
		"decay": map[string]interface{}{
			"last_sweep_sequence": sweep.Sequence,
			"last_sweep_duration": sweep.Duration.String(),
		},
		"audit_depth":        auditDepth,
		"config_reloaded_at": configReloadedAt,
	})
}

func (d *Dispatcher) handleGetStats(req Request) Response {
	out := make(map[string]Stats, len(Layers))
	for _, layer := range Layers {
		store, err := d.coordinator.ReadStore(layer)
		if err != nil {
			continue
		}
		stats, serr := store.GetStats(d.decay.ImmortalThreshold(), d.decay.VisibilityThreshold())
		if serr != nil {
			continue
		}
		out[string(layer)] = stats
	}
	return d.successResponse(req.Tool, map[string]interface{}{
		"layers": out,
		"decay":  d.decayCfg,
	})
}

func limitFromArgs(args map[string]interface{}) (int, error) {
	limit := 0
	if v, ok := args["limit"].(float64); ok {
		limit = int(v)
	}
	return ValidateLimit(limit)
}

func filtersFromArgs(options map[string]interface{}) Filters {
	var f Filters
	if options == nil {
		return f
	}
	raw, _ := options["filters"].(map[string]interface{})
	if raw == nil {
		return f
	}
	f.ID = int64PtrFrom(raw, "id")
	f.ImportanceMin = float64PtrFrom(raw, "importance_min")
	f.ImportanceMax = float64PtrFrom(raw, "importance_max")
	f.EmotionalIntensityMin = float64PtrFrom(raw, "emotional_intensity_min")
	f.EmotionalIntensityMax = float64PtrFrom(raw, "emotional_intensity_max")
	f.TimestampAfter = float64PtrFrom(raw, "timestamp_after")
	f.TimestampBefore = float64PtrFrom(raw, "timestamp_before")
	f.ContentContains = stringPtrFrom(raw, "content_contains")
	f.ContextContains = stringPtrFrom(raw, "context_contains")
	f.EffectiveImportanceMin = float64PtrFrom(raw, "effective_importance_min")
	f.EffectiveImportanceMax = float64PtrFrom(raw, "effective_importance_max")
	return f
}

func int64PtrFrom(m map[string]interface{}, key string) *int64 {
	if v, ok := m[key].(float64); ok {
		iv := int64(v)
		return &iv
	}
	return nil
}

func float64PtrFrom(m map[string]interface{}, key string) *float64 {
	if v, ok := m[key].(float64); ok {
		return &v
	}
	return nil
}

func stringPtrFrom(m map[string]interface{}, key string) *string {
	if v, ok := m[key].(string); ok {
		return &v
	}
	return nil
}

func recordsToPayload(records []Record) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(records))
	for _, r := range records {
		entry := map[string]interface{}{
			"layer":               string(r.Layer),
			"id":                  r.ID,
			"timestamp":           r.Timestamp,
			"content":             r.Content,
			"context":             r.Context,
			"importance":          r.Importance,
			"emotional_intensity": r.EmotionalIntensity,
			"metadata":            r.Metadata,
		}
		if r.EffectiveImportance != nil {
			entry["effective_importance"] = *r.EffectiveImportance
		}
		out = append(out, entry)
	}
	return out
}

func sortByEffectiveImportance(records []Record) []Record {
	out := append([]Record(nil), records...)
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && lessRecall(out[j], out[j-1]) {
			out[j], out[j-1] = out[j-1], out[j]
			j--
		}
	}
	return out
}

// lessRecall reports whether a should sort before b under
// COALESCE(effective_importance, importance) DESC, timestamp DESC (§6).
func lessRecall(a, b Record) bool {
	av := a.Importance
	if a.EffectiveImportance != nil {
		av = *a.EffectiveImportance
	}
	bv := b.Importance
	if b.EffectiveImportance != nil {
		bv = *b.EffectiveImportance
	}
	if av != bv {
		return av > bv
	}
	return a.Timestamp > b.Timestamp
}

func (d *Dispatcher) successResponse(tool string, data interface{}) Response {
	return Response{Success: true, Tool: tool, Timestamp: time.Now().UnixMilli(), Data: data}
}

func (d *Dispatcher) errorResponse(tool string, err *Error) Response {
	status := statusCodeByCode[err.Code]
	if status == 0 {
		status = 500
	}
	body := &ErrorBody{
		Code:       string(err.Code),
		Message:    err.Message,
		StatusCode: status,
		Timestamp:  time.Now().UnixMilli(),
		Tool:       tool,
	}
	if d.debug && err.Err != nil {
		body.Details = Sanitize(err.Err.Error())
	}
	return Response{Success: false, Tool: tool, Error: body}
}

func (d *Dispatcher) recordAudit(tool, layer, requestID string, success bool, start time.Time, code Code) {
	if d.audit == nil {
		return
	}
	d.audit.Record(logging.AuditEvent{
		RequestID:  requestID,
		Tool:       tool,
		Layer:      layer,
		Success:    success,
		DurationMs: time.Since(start).Milliseconds(),
		ErrorCode:  string(code),
	})
}

func asError(err error) *Error {
	if ce, ok := err.(*Error); ok {
		return ce
	}
	return WrapError(CodeInternalError, err, "unexpected error")
}
