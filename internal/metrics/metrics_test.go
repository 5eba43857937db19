package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveCommand(t *testing.T) {
	before := testutil.ToFloat64(StaffCommandsTotal.WithLabelValues("status", "false"))
	ObserveCommand("status", false)
	after := testutil.ToFloat64(StaffCommandsTotal.WithLabelValues("status", "false"))
	if after-before != 1 {
		t.Fatalf("expected counter to grow by 1, got %v", after-before)
	}
}
