package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) (float64, bool) {
	t.Helper()
	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() == name {
			total := 0.0
			for _, m := range mf.GetMetric() {
				total += m.GetCounter().GetValue()
			}
			return total, true
		}
	}
	return 0, false
}

// TestRecordDeliveryPrimary_IncrementsCounter はDM配送成功カウンタが増加することを検証する。
func TestRecordDeliveryPrimary_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordDeliveryPrimary("selection")
	c.RecordDeliveryPrimary("selection")

	val, found := counterValue(t, reg, "eventometer_delivery_primary_total")
	if !found {
		t.Fatal("eventometer_delivery_primary_total metric not found")
	}
	if val != 2 {
		t.Errorf("delivery_primary_total = %v, want 2", val)
	}
}

// TestRecordDeliveryFallback_LabelsByKind はフォールバック配送カウンタが種別ラベル付きで増加することを検証する。
func TestRecordDeliveryFallback_LabelsByKind(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordDeliveryFallback("selection")
	c.RecordDeliveryFallback("selection")
	c.RecordDeliveryFallback("reminder")

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "eventometer_delivery_fallback_total" {
			found = true
			if len(mf.GetMetric()) != 2 {
				t.Fatalf("expected 2 label combinations, got %d", len(mf.GetMetric()))
			}
			for _, m := range mf.GetMetric() {
				label := m.GetLabel()[0].GetValue()
				val := m.GetCounter().GetValue()
				switch label {
				case "selection":
					if val != 2 {
						t.Errorf("delivery_fallback_total{kind=selection} = %v, want 2", val)
					}
				case "reminder":
					if val != 1 {
						t.Errorf("delivery_fallback_total{kind=reminder} = %v, want 1", val)
					}
				default:
					t.Errorf("unexpected label value: %s", label)
				}
			}
		}
	}
	if !found {
		t.Error("eventometer_delivery_fallback_total metric not found")
	}
}

// TestRecordDeliveryFailure_IncrementsCounter は配送失敗カウンタが増加することを検証する。
func TestRecordDeliveryFailure_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordDeliveryFailure("rejection")

	val, found := counterValue(t, reg, "eventometer_delivery_failure_total")
	if !found {
		t.Fatal("eventometer_delivery_failure_total metric not found")
	}
	if val != 1 {
		t.Errorf("delivery_failure_total = %v, want 1", val)
	}
}

// TestRecordDeliveryLatency_ObservesHistogram は配送レイテンシのヒストグラムに値が記録されることを検証する。
func TestRecordDeliveryLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordDeliveryLatency(100 * time.Millisecond)
	c.RecordDeliveryLatency(2 * time.Second)

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "eventometer_delivery_latency_seconds" {
			found = true
			h := mf.GetMetric()[0].GetHistogram()
			if h.GetSampleCount() != 2 {
				t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
			}
			// 合計は0.1 + 2.0 = 2.1秒
			if h.GetSampleSum() < 2.0 || h.GetSampleSum() > 2.2 {
				t.Errorf("sample_sum = %v, want ~2.1", h.GetSampleSum())
			}
		}
	}
	if !found {
		t.Error("eventometer_delivery_latency_seconds metric not found")
	}
}

// TestRecordCascadedRejections_AddsCount は選外カウンタが件数分増加することを検証する。
func TestRecordCascadedRejections_AddsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCascadedRejections(3)
	c.RecordCascadedRejections(2)

	val, found := counterValue(t, reg, "eventometer_cascaded_rejections_total")
	if !found {
		t.Fatal("eventometer_cascaded_rejections_total metric not found")
	}
	if val != 5 {
		t.Errorf("cascaded_rejections_total = %v, want 5", val)
	}
}

// TestRecordQueueDepth_SetsGauge はキュー深度のゲージが最新値を保持することを検証する。
func TestRecordQueueDepth_SetsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordQueueDepth(10)
	c.RecordQueueDepth(4)

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "eventometer_notification_queue_depth" {
			found = true
			val := mf.GetMetric()[0].GetGauge().GetValue()
			if val != 4 {
				t.Errorf("notification_queue_depth = %v, want 4", val)
			}
		}
	}
	if !found {
		t.Error("eventometer_notification_queue_depth metric not found")
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat は/metricsエンドポイントがPrometheus形式で返すことを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	// いくつかのメトリクスを記録
	c.RecordDeliveryPrimary("selection")
	c.RecordDeliveryFailure("reminder")
	c.RecordDeliveryLatency(500 * time.Millisecond)
	c.RecordSelection()
	c.RecordCascadedRejections(2)

	handler := Handler(reg)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	// Prometheus形式のメトリクスが含まれていることを確認
	expectedMetrics := []string{
		"eventometer_delivery_primary_total",
		"eventometer_delivery_failure_total",
		"eventometer_delivery_latency_seconds",
		"eventometer_selections_total",
		"eventometer_cascaded_rejections_total",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("response body does not contain %q", metric)
		}
	}
}

// TestCollector_ImplementsMetricsCollectorInterface はCollectorがMetricsCollectorインターフェースを実装することを検証する。
func TestCollector_ImplementsMetricsCollectorInterface(t *testing.T) {
	reg := prometheus.NewRegistry()
	var _ MetricsCollector = NewCollector(reg)
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリで独立に動作することを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	c2 := NewCollector(reg2)

	c1.RecordSelection()
	c2.RecordSelection()
	c2.RecordSelection()

	metrics1, _ := reg1.Gather()
	metrics2, _ := reg2.Gather()

	var val1, val2 float64
	for _, mf := range metrics1 {
		if mf.GetName() == "eventometer_selections_total" {
			val1 = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	for _, mf := range metrics2 {
		if mf.GetName() == "eventometer_selections_total" {
			val2 = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}

	if val1 != 1 {
		t.Errorf("reg1 selections = %v, want 1", val1)
	}
	if val2 != 2 {
		t.Errorf("reg2 selections = %v, want 2", val2)
	}
}
