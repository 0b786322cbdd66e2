package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func counterVecValue(t *testing.T, v *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	c, err := v.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("get label values: %v", err)
	}
	return counterValue(t, c)
}

func TestRecordInviteLifecycle(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordInviteIssued()
	m.RecordInviteConsumed()
	m.RecordInviteExpired()

	if got := counterValue(t, m.InvitesIssued); got != 1 {
		t.Errorf("InvitesIssued = %v, want 1", got)
	}
	if got := counterValue(t, m.InvitesConsumed); got != 1 {
		t.Errorf("InvitesConsumed = %v, want 1", got)
	}
	if got := counterValue(t, m.InvitesExpired); got != 1 {
		t.Errorf("InvitesExpired = %v, want 1", got)
	}
}

func TestRecordPairingCompletedAndRejected(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordPairingCompleted(1.5)
	m.RecordPairingRejected("sas_mismatch")
	m.RecordPairingRejected("sas_mismatch")

	if got := counterValue(t, m.PairingsCompleted); got != 1 {
		t.Errorf("PairingsCompleted = %v, want 1", got)
	}
	if got := counterVecValue(t, m.PairingsRejected, "sas_mismatch"); got != 2 {
		t.Errorf("PairingsRejected[sas_mismatch] = %v, want 2", got)
	}
}

func TestRecordSessionLifecycleTracksActiveGauge(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordSessionEstablished(0.2)
	m.RecordSessionEstablished(0.3)
	if got := gaugeValue(t, m.SessionsActive); got != 2 {
		t.Errorf("SessionsActive after two establishes = %v, want 2", got)
	}

	m.RecordSessionTerminated("operator_closed")
	if got := gaugeValue(t, m.SessionsActive); got != 1 {
		t.Errorf("SessionsActive after one terminate = %v, want 1", got)
	}
	if got := counterVecValue(t, m.SessionsTerminated, "operator_closed"); got != 1 {
		t.Errorf("SessionsTerminated[operator_closed] = %v, want 1", got)
	}
}

func TestRecordReplayRejectionIsKeyedByStream(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordReplayRejection("control")
	m.RecordReplayRejection("control")
	m.RecordReplayRejection("frames")

	if got := counterVecValue(t, m.ReplayRejections, "control"); got != 2 {
		t.Errorf("ReplayRejections[control] = %v, want 2", got)
	}
	if got := counterVecValue(t, m.ReplayRejections, "frames"); got != 1 {
		t.Errorf("ReplayRejections[frames] = %v, want 1", got)
	}
}

func TestRecordRateLimitHitIsKeyedByOperation(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordRateLimitHit("pairing_request")

	if got := counterVecValue(t, m.RateLimitHits, "pairing_request"); got != 1 {
		t.Errorf("RateLimitHits[pairing_request] = %v, want 1", got)
	}
}

func TestRecordPolicyDecisionAndConsentPrompt(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordPolicyDecision("auto_approved")
	m.RecordConsentPrompt("approved")

	if got := counterVecValue(t, m.PolicyDecisions, "auto_approved"); got != 1 {
		t.Errorf("PolicyDecisions[auto_approved] = %v, want 1", got)
	}
	if got := counterVecValue(t, m.ConsentPrompts, "approved"); got != 1 {
		t.Errorf("ConsentPrompts[approved] = %v, want 1", got)
	}
}

func TestDefaultReturnsSingleton(t *testing.T) {
	a := Default()
	b := Default()
	if a != b {
		t.Errorf("Default() returned distinct instances")
	}
}
