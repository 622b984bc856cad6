package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory tracer provider globally for the test.
// Tests using it must not run in parallel.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
	return exp
}

// listener mirrors the health and metrics mux the app serves.
func listener(m *Metrics, log *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		_ = http.NewResponseController(w).Flush()
	})
	mux.HandleFunc("GET /debug/sessions/{guild}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.PathValue("guild")))
	})
	return Middleware(m, log)(mux)
}

func get(h http.Handler, path string, hdr http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range hdr {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_CorrelationID(t *testing.T) {
	useTestTracer(t)
	m, _ := newTestMetrics(t)
	h := listener(m, slog.New(slog.DiscardHandler))

	fresh := get(h, "/healthz", nil).Header().Get("X-Correlation-ID")
	if len(fresh) != 32 {
		t.Errorf("X-Correlation-ID = %q, want a 32 digit trace ID", fresh)
	}

	const parent = "4bf92f3577b34da6a3ce929d0e0e4736"
	rec := get(h, "/readyz", http.Header{"Traceparent": {"00-" + parent + "-00f067aa0ba902b7-01"}})
	if got := rec.Header().Get("X-Correlation-ID"); got != parent {
		t.Errorf("X-Correlation-ID = %q, want the caller's trace ID %q", got, parent)
	}
	if got := rec.Header().Get("Traceparent"); !strings.Contains(got, parent) {
		t.Errorf("traceparent = %q, want it to continue %s", got, parent)
	}
}

func TestMiddleware_LabelsByRoute(t *testing.T) {
	exp := useTestTracer(t)
	m, reader := newTestMetrics(t)
	h := listener(m, slog.New(slog.DiscardHandler))

	get(h, "/debug/sessions/111", nil)
	get(h, "/debug/sessions/222", nil)
	if rec := get(h, "/wp-login.php", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown path status = %d, want 404", rec.Code)
	}

	met := findMetric(collect(t, reader), "voxqueue.http.request.duration")
	if met == nil {
		t.Fatal("voxqueue.http.request.duration not recorded")
	}
	counts := map[string]uint64{}
	for _, dp := range met.Data.(metricdata.Histogram[float64]).DataPoints {
		path, _ := dp.Attributes.Value("path")
		counts[path.AsString()] += dp.Count
	}
	if counts["GET /debug/sessions/{guild}"] != 2 {
		t.Errorf("per-guild requests = %d, want both under the route pattern (all: %v)", counts["GET /debug/sessions/{guild}"], counts)
	}
	if counts[unmatchedRoute] != 1 {
		t.Errorf("unmatched requests = %d, want 1 (all: %v)", counts[unmatchedRoute], counts)
	}
	if len(counts) != 2 {
		t.Errorf("path series = %v, want 2", counts)
	}

	spans := exp.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("spans = %d, want 3", len(spans))
	}
	if got := spans[0].Name; got != "HTTP GET /debug/sessions/{guild}" {
		t.Errorf("span name = %q", got)
	}
	if got := spans[2].Name; got != "HTTP GET" {
		t.Errorf("unmatched span name = %q, want HTTP GET", got)
	}
}

func TestMiddleware_StatusCode(t *testing.T) {
	exp := useTestTracer(t)
	m, _ := newTestMetrics(t)
	h := listener(m, slog.New(slog.DiscardHandler))

	tests := []struct {
		path string
		want int64
	}{
		{"/healthz", http.StatusOK},                // body only, implicit 200
		{"/readyz", http.StatusServiceUnavailable}, // explicit header
		{"/metrics", http.StatusOK},                // flushed through ResponseController
	}
	for i, tt := range tests {
		rec := get(h, tt.path, nil)
		if int64(rec.Code) != tt.want {
			t.Errorf("%s: response status = %d, want %d", tt.path, rec.Code, tt.want)
		}
		var got int64
		for _, a := range exp.GetSpans()[i].Attributes {
			if a.Key == "http.response.status_code" {
				got = a.Value.AsInt64()
			}
		}
		if got != tt.want {
			t.Errorf("%s: span status = %d, want %d", tt.path, got, tt.want)
		}
	}
}

func TestMiddleware_LogLevels(t *testing.T) {
	useTestTracer(t)
	m, _ := newTestMetrics(t)

	tests := []struct {
		path string
		want string
	}{
		{"/healthz", "level=DEBUG"},
		{"/metrics", "level=DEBUG"},
		{"/readyz", "level=WARN"}, // not ready is worth seeing
		{"/debug/sessions/42", "level=INFO"},
		{"/nope", "level=INFO"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			var buf bytes.Buffer
			log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
			get(listener(m, log), tt.path, nil)
			out := buf.String()
			if !strings.Contains(out, tt.want) {
				t.Errorf("log = %q, want %s", out, tt.want)
			}
			if !strings.Contains(out, "trace_id=") {
				t.Errorf("log = %q, want a trace_id", out)
			}
		})
	}
}
