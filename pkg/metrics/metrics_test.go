package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserve(t *testing.T) {
	m := New()
	m.ObserveTx("deposit", "success")
	m.ObserveTx("deposit", "success")
	m.ObserveTx("fill_order", "failed")
	m.ObserveFill("0xabc", true)
	m.ObserveFill("0xabc", false)
	m.ObserveBlock(7, 5*time.Millisecond, 3)
	m.SetMempoolSize(4)

	if got := testutil.ToFloat64(m.Transactions.WithLabelValues("deposit", "success")); got != 2 {
		t.Errorf("deposit successes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Settlements); got != 2 {
		t.Errorf("settlements = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.FeeEvents.WithLabelValues("0xabc")); got != 1 {
		t.Errorf("fee events = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.BlockHeight); got != 7 {
		t.Errorf("height = %v, want 7", got)
	}
	if got := testutil.ToFloat64(m.MempoolSize); got != 4 {
		t.Errorf("mempool = %v, want 4", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTx("deposit", "success")
	m.ObserveFill("x", true)
	m.ObserveBlock(1, time.Second, 1)
	m.SetMempoolSize(1)
	m.ObserveHTTP("/health", 200)
	m.SetWSClients(1)
	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}
}
