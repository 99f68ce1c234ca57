package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumOf(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: data is %T, want Sum[int64]", m.Name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_Recorders(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ExecutionsStarted.Add(ctx, 1)
	m.RecordPoll(ctx, "IN_PROGRESS")
	m.RecordPoll(ctx, "COMPLETED")
	m.RecordRetry(ctx, "model")
	m.RecordStage(ctx, "FORK", 1500*time.Millisecond)
	m.RecordFinished(ctx, "SUCCEEDED", "", 42*time.Second)

	rm := collect(t, reader)

	counters := map[string]int64{
		"speechmentor.executions.started":  1,
		"speechmentor.transcription.polls": 2,
		"speechmentor.leaf.retries":        1,
		"speechmentor.executions.finished": 1,
	}
	for name, want := range counters {
		t.Run(name, func(t *testing.T) {
			found := findMetric(rm, name)
			if found == nil {
				t.Fatalf("metric %q not found", name)
			}
			if got := sumOf(t, found); got != want {
				t.Errorf("sum = %d, want %d", got, want)
			}
		})
	}

	stage := findMetric(rm, "speechmentor.stage.duration")
	if stage == nil {
		t.Fatal("stage duration not found")
	}
	hist, ok := stage.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("stage histogram = %+v", stage.Data)
	}
}

func TestMiddleware_RecordsDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}

	found := findMetric(collect(t, reader), "speechmentor.http.request.duration")
	if found == nil {
		t.Fatal("http duration not recorded")
	}
}
