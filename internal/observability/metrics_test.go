package observability

import (
	"testing"
	"time"

	"github.com/danmuck/spellctl/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordRequest("listener", "list-contexts", OutcomeOK, 12*time.Millisecond)
	RecordRequest("listener", "list-contexts", OutcomeTimeout, 0)
	RecordOrphan("context")
	RecordSimRequest("listener", "login", true)
	RecordHTTPRequest("spellsim", "GET", "/health", 200, 3*time.Millisecond)

	if got := testutil.ToFloat64(transportRequests.WithLabelValues("listener", "list-contexts", OutcomeTimeout)); got < 1 {
		t.Fatalf("timeout outcome not recorded: %v", got)
	}
	if got := testutil.ToFloat64(transportOrphans.WithLabelValues("context")); got < 1 {
		t.Fatalf("orphan not recorded: %v", got)
	}
}
