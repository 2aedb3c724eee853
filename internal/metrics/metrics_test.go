package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ConnectionOpened()
	m.Published("message", nil)
	m.BroadcastPass(0.1, 1, 1)
	m.Submitted(errors.New("x"))
	m.Persisted()
	m.PersistFailed("store")
	m.FrameDropped("malformed")
}

func TestBroadcastPassCountsEvictions(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.BroadcastPass(0.001, 3, 2)

	if got := testutil.ToFloat64(m.ConnectionsEvicted); got != 2 {
		t.Fatalf("expected 2 evictions, got %v", got)
	}
	if got := testutil.ToFloat64(m.BroadcastSends.WithLabelValues("ok")); got != 3 {
		t.Fatalf("expected 3 ok sends, got %v", got)
	}
}

func TestSubmittedLabelsResult(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Submitted(nil)
	m.Submitted(errors.New("down"))
	m.Submitted(errors.New("down"))

	if got := testutil.ToFloat64(m.QueueSubmissions.WithLabelValues("error")); got != 2 {
		t.Fatalf("expected 2 failed submissions, got %v", got)
	}
}
