package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveCapabilityRecordsLatency(t *testing.T) {
	before := testutil.CollectAndCount(CapabilityLatencySeconds)

	done := ObserveCapability("llm")
	time.Sleep(time.Millisecond)
	done()

	after := testutil.CollectAndCount(CapabilityLatencySeconds)
	if after <= before {
		t.Errorf("expected CapabilityLatencySeconds to gain a sample, before=%d after=%d", before, after)
	}
}

func TestToolCallTotalIncrements(t *testing.T) {
	ToolCallTotal.WithLabelValues("search_web", "success").Inc()
	got := testutil.ToFloat64(ToolCallTotal.WithLabelValues("search_web", "success"))
	if got < 1 {
		t.Errorf("ToolCallTotal counter = %v, want >= 1", got)
	}
}

func TestRunTerminalTotalIncrements(t *testing.T) {
	RunTerminalTotal.WithLabelValues("report", "completed").Inc()
	got := testutil.ToFloat64(RunTerminalTotal.WithLabelValues("report", "completed"))
	if got < 1 {
		t.Errorf("RunTerminalTotal counter = %v, want >= 1", got)
	}
}

func TestActiveRunsGaugeSettable(t *testing.T) {
	ActiveRuns.Set(3)
	if got := testutil.ToFloat64(ActiveRuns); got != 3 {
		t.Errorf("ActiveRuns = %v, want 3", got)
	}
	ActiveRuns.Set(0)
}
