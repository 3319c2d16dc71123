package prometheus

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder_CountersUseSanitizedNames(t *testing.T) {
	recorder := NewRecorder()
	ctx := context.Background()

	recorder.IncCounter(ctx, "fulfillment.webhook.accepted", 1, map[string]string{"provider_id": "stripe"})
	recorder.IncCounter(ctx, "fulfillment.webhook.accepted", 2, map[string]string{"provider_id": "stripe"})

	entry := recorder.counters["fulfillment_webhook_accepted_total"]
	if entry == nil {
		t.Fatalf("expected sanitized counter to be registered, got %v", recorder.counters)
	}
	if got := testutil.ToFloat64(entry.collector.WithLabelValues("stripe")); got != 3 {
		t.Fatalf("expected counter value 3, got %v", got)
	}
}

func TestRecorder_KeepsFirstLabelSet(t *testing.T) {
	recorder := NewRecorder()
	ctx := context.Background()

	recorder.IncCounter(ctx, "fulfillment.handle_payment_event.total", 1, map[string]string{"operation": "handle_payment_event", "status": "success"})
	recorder.IncCounter(ctx, "fulfillment.handle_payment_event.total", 1, map[string]string{"status": "failure", "event_kind": "checkout.completed"})

	entry := recorder.counters["fulfillment_handle_payment_event_total"]
	if entry == nil {
		t.Fatalf("expected counter to be registered")
	}
	if len(entry.labels) != 2 || entry.labels[0] != "operation" || entry.labels[1] != "status" {
		t.Fatalf("unexpected labels %v", entry.labels)
	}
	if got := testutil.ToFloat64(entry.collector.WithLabelValues("", "failure")); got != 1 {
		t.Fatalf("expected missing label to be recorded empty, got %v", got)
	}
}

func TestRecorder_HistogramsAndHandler(t *testing.T) {
	recorder := NewRecorder()
	recorder.ObserveHistogram(context.Background(), "fulfillment.notification.job.duration_ms", 42, map[string]string{"kind": "order.paid"})
	recorder.IncCounter(context.Background(), "fulfillment.notification.delivered", 0, nil)

	if testutil.CollectAndCount(recorder.histograms["fulfillment_notification_job_duration_ms"].collector) != 1 {
		t.Fatalf("expected one histogram series")
	}
	if _, ok := recorder.counters["fulfillment_notification_delivered_total"]; ok {
		t.Fatalf("expected non-positive counter increments to be ignored")
	}

	server := httptest.NewServer(recorder.Handler())
	defer server.Close()
	res, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(body), `fulfillment_notification_job_duration_ms_count{kind="order.paid"} 1`) {
		t.Fatalf("expected histogram in exposition output, got:\n%s", body)
	}
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"fulfillment.event.ignored": "fulfillment_event_ignored",
		"9lives":                    "_9lives",
		"a-b c":                     "a_b_c",
		"  ":                        "",
	}
	for in, want := range cases {
		if got := sanitizeName(in); got != want {
			t.Fatalf("sanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}
