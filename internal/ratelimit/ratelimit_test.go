package ratelimit

import (
	"testing"
	"time"
)

func TestAllowWithinQuota(t *testing.T) {
	l := New(map[Operation]Quota{OpPairingRequest: {PerMinute: 3}})

	for i := 0; i < 3; i++ {
		res := l.Allow(OpPairingRequest, "device-a")
		if !res.Allowed {
			t.Fatalf("request %d: expected allowed, got rejected", i)
		}
	}
}

func TestAllowRejectsOverQuota(t *testing.T) {
	l := New(map[Operation]Quota{OpPairingRequest: {PerMinute: 3}})

	for i := 0; i < 3; i++ {
		if res := l.Allow(OpPairingRequest, "device-a"); !res.Allowed {
			t.Fatalf("warm-up request %d unexpectedly rejected", i)
		}
	}

	res := l.Allow(OpPairingRequest, "device-a")
	if res.Allowed {
		t.Fatalf("expected fourth request within the same minute to be rejected")
	}
	if res.RetryAfter <= 0 {
		t.Fatalf("expected a positive RetryAfter on rejection")
	}
}

func TestAllowIsKeyedPerSource(t *testing.T) {
	l := New(map[Operation]Quota{OpAuthentication: {PerMinute: 1}})

	if res := l.Allow(OpAuthentication, "device-a"); !res.Allowed {
		t.Fatalf("first request from device-a should be allowed")
	}
	if res := l.Allow(OpAuthentication, "device-a"); res.Allowed {
		t.Fatalf("second request from device-a should be rejected")
	}
	if res := l.Allow(OpAuthentication, "device-b"); !res.Allowed {
		t.Fatalf("first request from a distinct source should be allowed independently")
	}
}

func TestAllowIsKeyedPerOperation(t *testing.T) {
	l := New(DefaultQuotas())

	if res := l.Allow(OpAuthentication, "device-a"); !res.Allowed {
		t.Fatalf("authentication request should be allowed")
	}
	if res := l.Allow(OpPairingRequest, "device-a"); !res.Allowed {
		t.Fatalf("pairing request from the same source should be tracked independently")
	}
}

func TestAllowUnconfiguredOperationIsUnlimited(t *testing.T) {
	l := New(map[Operation]Quota{})

	for i := 0; i < 100; i++ {
		if res := l.Allow(Operation("unconfigured"), "device-a"); !res.Allowed {
			t.Fatalf("unconfigured operation should never be rate limited, failed at request %d", i)
		}
	}
}

func TestResetClearsBuckets(t *testing.T) {
	l := New(map[Operation]Quota{OpAuthentication: {PerMinute: 1}})

	l.Allow(OpAuthentication, "device-a")
	if res := l.Allow(OpAuthentication, "device-a"); res.Allowed {
		t.Fatalf("expected second request to be rejected before reset")
	}

	l.Reset()
	if res := l.Allow(OpAuthentication, "device-a"); !res.Allowed {
		t.Fatalf("expected request to be allowed again after Reset")
	}
}

func TestDefaultQuotasMatchSpec(t *testing.T) {
	quotas := DefaultQuotas()
	want := map[Operation]int{
		OpAuthentication: 5,
		OpPairingRequest: 3,
		OpSessionRequest: 10,
	}
	for op, perMinute := range want {
		q, ok := quotas[op]
		if !ok {
			t.Fatalf("missing default quota for %s", op)
		}
		if q.PerMinute != perMinute {
			t.Fatalf("%s: got %d/minute, want %d/minute", op, q.PerMinute, perMinute)
		}
	}
}

func TestRetryAfterIsBounded(t *testing.T) {
	l := New(map[Operation]Quota{OpSessionRequest: {PerMinute: 10}})
	for i := 0; i < 10; i++ {
		l.Allow(OpSessionRequest, "device-a")
	}
	res := l.Allow(OpSessionRequest, "device-a")
	if res.Allowed {
		t.Fatalf("expected rejection after exhausting quota")
	}
	if res.RetryAfter > time.Minute {
		t.Fatalf("RetryAfter %s exceeds the refill period", res.RetryAfter)
	}
}
