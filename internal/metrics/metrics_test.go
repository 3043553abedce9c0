package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordClaim(t *testing.T) {
	initialClaims := testutil.ToFloat64(claims)
	initialClaimed := testutil.ToFloat64(claimedExecutions)

	RecordClaim(3)
	RecordClaim(0)

	if got := testutil.ToFloat64(claims); got != initialClaims+2 {
		t.Errorf("expected claims to increment by 2, got initial=%f, new=%f", initialClaims, got)
	}
	if got := testutil.ToFloat64(claimedExecutions); got != initialClaimed+3 {
		t.Errorf("expected claimed executions to increment by 3, got initial=%f, new=%f", initialClaimed, got)
	}
}

func TestRecordExecution(t *testing.T) {
	initial := testutil.ToFloat64(executions.With(prometheus.Labels{"status": "completed"}))

	RecordExecution("completed")

	if got := testutil.ToFloat64(executions.With(prometheus.Labels{"status": "completed"})); got != initial+1 {
		t.Errorf("expected count to increment by 1, got initial=%f, new=%f", initial, got)
	}
}

func TestRecordStep(t *testing.T) {
	initial := testutil.ToFloat64(steps.With(prometheus.Labels{"type": "http", "status": "failed"}))

	RecordStep("http", "failed", 125*time.Millisecond)

	if got := testutil.ToFloat64(steps.With(prometheus.Labels{"type": "http", "status": "failed"})); got != initial+1 {
		t.Errorf("expected count to increment by 1, got initial=%f, new=%f", initial, got)
	}
}

func TestActiveExecutionsGauge(t *testing.T) {
	initial := testutil.ToFloat64(activeExecutions)

	ExecutionStarted()
	ExecutionStarted()
	ExecutionFinished()

	if got := testutil.ToFloat64(activeExecutions); got != initial+1 {
		t.Errorf("expected gauge at initial+1, got initial=%f, new=%f", initial, got)
	}
	ExecutionFinished()
}

func TestRecordStaleClaimsReleased(t *testing.T) {
	initial := testutil.ToFloat64(staleClaimsReleased)

	RecordStaleClaimsReleased(4)
	RecordStaleClaimsReleased(0)

	if got := testutil.ToFloat64(staleClaimsReleased); got != initial+4 {
		t.Errorf("expected count to increment by 4, got initial=%f, new=%f", initial, got)
	}
}

func TestRecordStoreError(t *testing.T) {
	initial := testutil.ToFloat64(storeErrors.With(prometheus.Labels{"op": "UpdateExecution"}))

	RecordStoreError("UpdateExecution")

	if got := testutil.ToFloat64(storeErrors.With(prometheus.Labels{"op": "UpdateExecution"})); got != initial+1 {
		t.Errorf("expected count to increment by 1, got initial=%f, new=%f", initial, got)
	}
}
