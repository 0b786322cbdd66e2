package audit

import (
	"testing"
	"time"

	"github.com/zrc-project/zrc/internal/identity"
)

func mustKeys(t *testing.T) *identity.Keys {
	t.Helper()
	keys, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	return keys
}

func TestAppendSignsEachEvent(t *testing.T) {
	keys := mustKeys(t)
	log := New(keys)

	e := Event{
		Timestamp:  time.Unix(1_760_000_000, 0),
		Type:       EventPairingApproved,
		OperatorID: identity.DeriveID(keys.SignPub),
		Details:    map[string]any{"granted_permissions": 0x03},
	}

	signed, err := log.Append(e)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(signed.Signature) == 0 {
		t.Fatal("expected a non-empty signature")
	}
	if !Verify(keys.SignPub, signed) {
		t.Fatal("expected the appended event's signature to verify")
	}
}

func TestVerifyRejectsTamperedDetails(t *testing.T) {
	keys := mustKeys(t)
	log := New(keys)

	signed, err := log.Append(Event{
		Timestamp: time.Unix(1_760_000_000, 0),
		Type:      EventSessionStart,
		Details:   map[string]any{"permissions": 0x01},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	signed.Details = map[string]any{"permissions": 0xFF}
	if Verify(keys.SignPub, signed) {
		t.Fatal("expected verification to fail after tampering with details")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	keys := mustKeys(t)
	other := mustKeys(t)
	log := New(keys)

	signed, err := log.Append(Event{Timestamp: time.Unix(1_760_000_000, 0), Type: EventKeyRotated})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if Verify(other.SignPub, signed) {
		t.Fatal("expected verification under the wrong key to fail")
	}
}

func TestListReturnsSnapshotInAppendOrder(t *testing.T) {
	keys := mustKeys(t)
	log := New(keys)

	types := []EventType{EventPairingApproved, EventSessionStart, EventSessionEnd}
	for _, typ := range types {
		if _, err := log.Append(Event{Timestamp: time.Unix(1_760_000_000, 0), Type: typ}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	events := log.List()
	if len(events) != len(types) {
		t.Fatalf("len(events) = %d, want %d", len(events), len(types))
	}
	for i, typ := range types {
		if events[i].Type != typ {
			t.Fatalf("events[%d].Type = %v, want %v", i, events[i].Type, typ)
		}
	}
	if log.Len() != len(types) {
		t.Fatalf("Len() = %d, want %d", log.Len(), len(types))
	}
}

func TestAppendIsSafeForConcurrentUse(t *testing.T) {
	keys := mustKeys(t)
	log := New(keys)

	const n = 50
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			_, err := log.Append(Event{Timestamp: time.Unix(1_760_000_000, 0), Type: EventRateLimitHit, Details: map[string]any{"i": i}})
			if err != nil {
				t.Errorf("Append: %v", err)
			}
		}(i)
	}
	for i := 0; i < n; i++ {
		<-done
	}

	if log.Len() != n {
		t.Fatalf("Len() = %d, want %d", log.Len(), n)
	}
}
