package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/haasonsaas/tierroute/internal/experiments"
	"github.com/haasonsaas/tierroute/internal/models"
	"github.com/haasonsaas/tierroute/internal/observability"
	"github.com/haasonsaas/tierroute/internal/pipeline"
	"github.com/haasonsaas/tierroute/internal/providers"
	"github.com/haasonsaas/tierroute/internal/routing"
	"github.com/haasonsaas/tierroute/internal/usage"
)

type recordingFinal struct {
	mu    sync.Mutex
	calls int
	last  *pipeline.RequestContext
	err   error
}

func (f *recordingFinal) handle(_ context.Context, req *pipeline.RequestContext) (*pipeline.ResponseContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.ResponseContext{
		Content:      "answer",
		ModelID:      req.Classification.ModelID,
		Tier:         req.Classification.Tier,
		InputTokens:  3,
		OutputTokens: 5,
		Latency:      2 * time.Millisecond,
	}, nil
}

func newTestEngine(t *testing.T, final *recordingFinal, mws ...pipeline.Middleware) *Engine {
	t.Helper()
	registry := models.NewDefaultRegistry(models.ProviderAnthropic)
	router, err := routing.NewRouter(routing.Config{}, registry)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	manager := experiments.NewManager(registry, experiments.WithRand(func() float64 { return 0 }))
	manager.Add(experiments.Experiment{
		Name:   "prompt-test",
		Active: true,
		Variants: []experiments.Variant{
			{Name: "expert", Tier: models.TierExpert, Weight: 1, SystemPrompt: "be brief"},
		},
	})
	manager.Add(experiments.Experiment{Name: "empty", Active: true})

	cfg := EngineConfig{
		Router:      router,
		Experiments: manager,
		Pipeline:    pipeline.New(mws...),
	}
	if final != nil {
		cfg.Final = final.handle
	}
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return engine
}

func userMessage(content string) []providers.Message {
	return []providers.Message{{Role: "user", Content: content}}
}

func TestEngine_Complete(t *testing.T) {
	final := &recordingFinal{}
	responses := pipeline.NewResponseCache(pipeline.ResponseCacheOptions{})
	engine := newTestEngine(t, final, responses.Middleware())

	got, err := engine.Complete(context.Background(), CompletionRequest{Messages: userMessage("hi")})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got.Tier != "fast" || got.ModelID != "claude-3-5-haiku-latest" || got.Content != "answer" {
		t.Errorf("Complete() = %+v", got)
	}
	if got.RequestID == "" || got.CacheHit || got.Assignment != nil {
		t.Errorf("unexpected completion fields: %+v", got)
	}
	if final.last.RequestID != got.RequestID {
		t.Errorf("request id not threaded: %q vs %q", final.last.RequestID, got.RequestID)
	}

	again, err := engine.Complete(context.Background(), CompletionRequest{Messages: userMessage("hi")})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if !again.CacheHit || final.calls != 1 {
		t.Errorf("second call should be served from cache; hit=%v calls=%d", again.CacheHit, final.calls)
	}
}

func TestEngine_CompleteWithTask(t *testing.T) {
	final := &recordingFinal{}
	engine := newTestEngine(t, final)

	got, err := engine.Complete(context.Background(), CompletionRequest{
		Messages: userMessage("please handle this"),
		Task:     "Legal Analysis",
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got.Classification.Tier != models.TierExpert {
		t.Errorf("Tier = %s, want expert", got.Classification.Tier)
	}
	if final.last.TaskType() != "legal-analysis" {
		t.Errorf("TaskType() = %q", final.last.TaskType())
	}
}

func TestEngine_CompleteExperimentOverrides(t *testing.T) {
	final := &recordingFinal{}
	engine := newTestEngine(t, final)

	got, err := engine.Complete(context.Background(), CompletionRequest{
		Messages:   userMessage("hi"),
		Experiment: "prompt-test",
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got.Assignment == nil || got.Assignment.VariantName != "expert" {
		t.Fatalf("Assignment = %+v", got.Assignment)
	}
	if got.ModelID != "claude-opus-4-20250514" || final.last.SystemPrompt != "be brief" {
		t.Errorf("variant not applied: model=%s system=%q", got.ModelID, final.last.SystemPrompt)
	}
	last := got.Classification.Reasons[len(got.Classification.Reasons)-1]
	if !strings.Contains(last, "prompt-test") {
		t.Errorf("last reason = %q", last)
	}

	// An explicit system prompt wins over the variant's.
	if _, err := engine.Complete(context.Background(), CompletionRequest{
		Messages:   userMessage("hi"),
		Experiment: "prompt-test",
		System:     "custom",
	}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if final.last.SystemPrompt != "custom" {
		t.Errorf("SystemPrompt = %q, want custom", final.last.SystemPrompt)
	}

	// Unknown experiments leave routing alone.
	got, err = engine.Complete(context.Background(), CompletionRequest{Messages: userMessage("hi"), Experiment: "missing"})
	if err != nil || got.Assignment != nil || got.Tier != "fast" {
		t.Errorf("Complete(missing experiment) = %+v, %v", got, err)
	}
}

func TestEngine_CompleteErrors(t *testing.T) {
	engine := newTestEngine(t, &recordingFinal{})
	tests := []struct {
		name string
		req  CompletionRequest
		want error
	}{
		{"no messages", CompletionRequest{}, ErrEmptyRequest},
		{"blank user message", CompletionRequest{Messages: userMessage("  ")}, ErrEmptyRequest},
		{"assistant only", CompletionRequest{Messages: []providers.Message{{Role: "assistant", Content: "hello"}}}, ErrEmptyRequest},
		{"experiment without variants", CompletionRequest{Messages: userMessage("hi"), Experiment: "empty"}, experiments.ErrNoVariants},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := engine.Complete(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Errorf("Complete() error = %v, want %v", err, tt.want)
			}
		})
	}

	noProvider := newTestEngine(t, nil)
	if _, err := noProvider.Complete(context.Background(), CompletionRequest{Messages: userMessage("hi")}); !errors.Is(err, ErrNoProvider) {
		t.Errorf("Complete() error = %v, want ErrNoProvider", err)
	}

	failing := newTestEngine(t, &recordingFinal{err: errors.New("upstream failed")})
	if _, err := failing.Complete(context.Background(), CompletionRequest{Messages: userMessage("hi")}); err == nil || !strings.Contains(err.Error(), "upstream failed") {
		t.Errorf("Complete() error = %v", err)
	}

	if _, err := NewEngine(EngineConfig{}); err == nil {
		t.Error("expected error without router")
	}
}

func TestEngine_CompleteTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	tracer := observability.NewTracerFromProvider(provider, "test")

	engine := newTestEngine(t, &recordingFinal{}, pipeline.Tracing(tracer))
	engine.tracer = tracer

	got, err := engine.Complete(context.Background(), CompletionRequest{Messages: userMessage("hi")})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got.TraceID == "" {
		t.Fatal("TraceID should be set when tracing is enabled")
	}

	spans := map[string]sdktrace.ReadOnlySpan{}
	for _, span := range recorder.Ended() {
		spans[span.Name()] = span
		if span.SpanContext().TraceID().String() != got.TraceID {
			t.Errorf("span %s trace = %s, want %s", span.Name(), span.SpanContext().TraceID(), got.TraceID)
		}
	}
	for _, name := range []string{"route.complete", "route.classify", "llm.request"} {
		if _, ok := spans[name]; !ok {
			t.Errorf("missing span %q", name)
		}
	}

	classify, ok := spans["route.classify"]
	if !ok {
		return
	}
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range classify.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if attrs["route.kind"].AsString() != "message" || attrs["route.tier"].AsString() != "fast" {
		t.Errorf("classify attributes = %v", classify.Attributes())
	}
	if classify.Parent().SpanID() != spans["route.complete"].SpanContext().SpanID() {
		t.Error("classification span should be a child of the completion span")
	}

	untraced := newTestEngine(t, &recordingFinal{})
	plain, err := untraced.Complete(context.Background(), CompletionRequest{Messages: userMessage("hi")})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if plain.TraceID != "" {
		t.Errorf("TraceID = %q without a tracer provider, want empty", plain.TraceID)
	}
}

func newTestServer(t *testing.T, final *recordingFinal) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	tracker := usage.NewTracker(usage.TrackerConfig{Prices: models.NewDefaultRegistry(models.ProviderAnthropic)})
	engine := newTestEngine(t, final, pipeline.Metrics(metrics), pipeline.CostRecorder(tracker))
	return New(Config{MetricsPath: "/metrics", Gatherer: reg, Usage: tracker}, engine), reg
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return out
}

func TestHandlers_Classify(t *testing.T) {
	srv, _ := newTestServer(t, &recordingFinal{})
	handler := srv.Handler()

	rec := doRequest(t, handler, http.MethodPost, "/v1/classify", `{"message":"hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	result := decodeJSON[routing.Result](t, rec)
	if result.Tier != models.TierFast || result.ModelID == "" || len(result.Reasons) == 0 {
		t.Errorf("classify = %+v", result)
	}

	rec = doRequest(t, handler, http.MethodPost, "/v1/classify-task", `{"task":"summarization"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := decodeJSON[routing.Result](t, rec); got.Tier != models.TierFast {
		t.Errorf("classify-task = %+v", got)
	}

	badRequests := []struct {
		path string
		body string
	}{
		{"/v1/classify", `{"message":""}`},
		{"/v1/classify", `{"msg":"hi"}`},
		{"/v1/classify", `not json`},
		{"/v1/classify-task", `{"task":"  "}`},
	}
	for _, tt := range badRequests {
		if rec := doRequest(t, handler, http.MethodPost, tt.path, tt.body); rec.Code != http.StatusBadRequest {
			t.Errorf("POST %s %s status = %d, want 400", tt.path, tt.body, rec.Code)
		}
	}

	if rec := doRequest(t, handler, http.MethodGet, "/v1/classify", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /v1/classify status = %d, want 405", rec.Code)
	}
}

func TestHandlers_ChatAndUsage(t *testing.T) {
	final := &recordingFinal{}
	srv, reg := newTestServer(t, final)
	handler := srv.Handler()

	rec := doRequest(t, handler, http.MethodPost, "/v1/chat", `{"messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	completion := decodeJSON[Completion](t, rec)
	if completion.Content != "answer" || completion.Tier != "fast" || completion.OutputTokens != 5 {
		t.Errorf("completion = %+v", completion)
	}

	rec = doRequest(t, handler, http.MethodGet, "/v1/usage", "")
	summary := decodeJSON[usageResponse](t, rec)
	if summary.Total.Requests != 1 || len(summary.Models) != 1 || summary.Models[0].ModelID != "claude-3-5-haiku-latest" {
		t.Errorf("usage = %+v", summary)
	}

	rec = doRequest(t, handler, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "tierroute_requests_total") {
		t.Errorf("metrics status = %d, body missing request counter", rec.Code)
	}
	if families, err := reg.Gather(); err != nil || len(families) == 0 {
		t.Errorf("Gather() = %d families, %v", len(families), err)
	}

	rec = doRequest(t, handler, http.MethodPost, "/v1/chat", `{"messages":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty chat status = %d, want 400", rec.Code)
	}
}

func TestHandlers_Experiments(t *testing.T) {
	srv, _ := newTestServer(t, &recordingFinal{})
	handler := srv.Handler()

	rec := doRequest(t, handler, http.MethodPost, "/v1/assign/prompt-test", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	assignment := decodeJSON[experiments.Assignment](t, rec)
	if assignment.VariantName != "expert" || assignment.ModelID != "claude-opus-4-20250514" || assignment.ID == "" {
		t.Errorf("assignment = %+v", assignment)
	}

	if rec := doRequest(t, handler, http.MethodPost, "/v1/assign/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown experiment status = %d, want 404", rec.Code)
	}
	if rec := doRequest(t, handler, http.MethodPost, "/v1/assign/empty", ""); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty experiment status = %d, want 422", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodGet, "/v1/experiments/prompt-test/distribution", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	dist := decodeJSON[struct {
		Variants []experiments.VariantStats `json:"variants"`
	}](t, rec)
	if len(dist.Variants) != 1 || dist.Variants[0].Count != 1 || dist.Variants[0].Fraction != 1 {
		t.Errorf("distribution = %+v", dist)
	}
	if rec := doRequest(t, handler, http.MethodGet, "/v1/experiments/missing/distribution", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown distribution status = %d, want 404", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodGet, "/v1/experiments", "")
	list := decodeJSON[struct {
		Experiments []experiments.Experiment `json:"experiments"`
	}](t, rec)
	if len(list.Experiments) != 2 {
		t.Errorf("experiments = %+v", list.Experiments)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrEmptyRequest, http.StatusBadRequest},
		{ErrNoProvider, http.StatusServiceUnavailable},
		{fmt.Errorf("assign: %w", experiments.ErrNoVariants), http.StatusUnprocessableEntity},
		{models.ErrNoModelForTier, http.StatusInternalServerError},
		{&pipeline.TimeoutError{Limit: time.Second}, http.StatusGatewayTimeout},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{context.Canceled, 499},
		{errors.New("status=500"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestServer_StartStop(t *testing.T) {
	srv := New(Config{Addr: "127.0.0.1:0"}, newTestEngine(t, nil))
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer srv.Stop(context.Background())

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"status":"ok"`) {
		t.Errorf("healthz = %d %s", resp.StatusCode, body)
	}

	// No provider configured.
	resp, err = http.Post("http://"+srv.Addr()+"/v1/chat", "application/json",
		strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	if err != nil {
		t.Fatalf("POST /v1/chat error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("chat without provider status = %d, want 503", resp.StatusCode)
	}
}
