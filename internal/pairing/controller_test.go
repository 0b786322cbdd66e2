package pairing

import (
	"context"
	"testing"
	"time"

	"github.com/zrc-project/zrc/internal/identity"
	"github.com/zrc-project/zrc/internal/store"
)

// TestSASMismatchAbortsWithoutPersisting covers the case where the
// host completes its half of the pairing, but the operator reports the
// displayed SAS does not match, so the controller must not persist a
// PairingRecord even though one now exists on the host.
func TestSASMismatchAbortsWithoutPersisting(t *testing.T) {
	hostStore := store.NewMemoryStore()
	consent := &fixedConsent{approve: true, grant: permViewControl}
	host, deviceKeys := newTestHost(t, hostStore, consent)

	now := time.Unix(1_760_000_000, 0)
	host.nowFn = func() time.Time { return now }
	invite, secret, zErr := host.GenerateInvite(600 * time.Second)
	if zErr != nil {
		t.Fatalf("GenerateInvite: %v", zErr)
	}

	operatorKeys, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	controllerStore := store.NewMemoryStore()
	controller := NewController(operatorKeys, controllerStore)
	controller.nowFn = func() time.Time { return now }

	req, err := controller.BuildPairRequest(invite, secret, true)
	if err != nil {
		t.Fatalf("BuildPairRequest: %v", err)
	}

	outcome, zErr := host.HandleRequest(context.Background(), req)
	if zErr != nil {
		t.Fatalf("HandleRequest: %v", zErr)
	}

	pending, zErr := controller.HandleReceipt(req, invite, outcome.Receipt, permViewControl)
	if zErr != nil {
		t.Fatalf("HandleReceipt: %v", zErr)
	}

	if _, zErr := controller.ConfirmSAS(pending, false); zErr == nil {
		t.Fatal("expected ConfirmSAS(false) to report an error rather than persist")
	}

	if _, ok, _ := controllerStore.GetPairing(deviceKeys.ID, operatorKeys.ID); ok {
		t.Fatal("controller must not persist a PairingRecord after a reported SAS mismatch")
	}
	if _, ok, _ := hostStore.GetPairing(deviceKeys.ID, operatorKeys.ID); !ok {
		t.Fatal("host's PairingRecord should still exist; the mismatch is a controller-side abort")
	}
}

func TestHandleReceiptRejectsWrongPinnedDeviceKey(t *testing.T) {
	hostStore := store.NewMemoryStore()
	consent := &fixedConsent{approve: true, grant: permViewControl}
	host, _ := newTestHost(t, hostStore, consent)

	now := time.Unix(1_760_000_000, 0)
	host.nowFn = func() time.Time { return now }
	invite, secret, zErr := host.GenerateInvite(600 * time.Second)
	if zErr != nil {
		t.Fatalf("GenerateInvite: %v", zErr)
	}

	operatorKeys, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	controller := NewController(operatorKeys, store.NewMemoryStore())
	controller.nowFn = func() time.Time { return now }

	req, err := controller.BuildPairRequest(invite, secret, false)
	if err != nil {
		t.Fatalf("BuildPairRequest: %v", err)
	}
	outcome, zErr := host.HandleRequest(context.Background(), req)
	if zErr != nil {
		t.Fatalf("HandleRequest: %v", zErr)
	}

	impostor, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	tamperedInvite := invite
	tamperedInvite.DeviceSignPub = impostor.SignPub

	if _, zErr := controller.HandleReceipt(req, tamperedInvite, outcome.Receipt, permViewControl); zErr == nil {
		t.Fatal("expected HandleReceipt to reject a receipt verified against the wrong pinned device key")
	}
}

func TestHandleReceiptRejectsPermissionEscalation(t *testing.T) {
	hostStore := store.NewMemoryStore()
	consent := &fixedConsent{approve: true, grant: permViewControl}
	host, _ := newTestHost(t, hostStore, consent)

	now := time.Unix(1_760_000_000, 0)
	host.nowFn = func() time.Time { return now }
	invite, secret, zErr := host.GenerateInvite(600 * time.Second)
	if zErr != nil {
		t.Fatalf("GenerateInvite: %v", zErr)
	}

	operatorKeys, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	controller := NewController(operatorKeys, store.NewMemoryStore())
	controller.nowFn = func() time.Time { return now }

	req, err := controller.BuildPairRequest(invite, secret, false)
	if err != nil {
		t.Fatalf("BuildPairRequest: %v", err)
	}
	outcome, zErr := host.HandleRequest(context.Background(), req)
	if zErr != nil {
		t.Fatalf("HandleRequest: %v", zErr)
	}

	// The device granted VIEW|CONTROL, but the controller claims it
	// only ever requested VIEW: the receipt's granted set is not a
	// subset of that, so it must be rejected.
	const permView = 0x01
	if _, zErr := controller.HandleReceipt(req, invite, outcome.Receipt, permView); zErr == nil {
		t.Fatal("expected HandleReceipt to reject granted_permissions exceeding the requested set")
	}
}

func TestHandleRequestRejectsAlreadyPairingConcurrently(t *testing.T) {
	hostStore := store.NewMemoryStore()
	// blockingConsent holds the first HandleRequest call inside its
	// consent prompt so the second call is guaranteed to observe it as
	// still in-flight rather than racing to completion first.
	consent := &blockingConsent{entered: make(chan struct{}), release: make(chan struct{})}
	host, _ := newTestHost(t, hostStore, consent)

	now := time.Unix(1_760_000_000, 0)
	host.nowFn = func() time.Time { return now }
	invite, secret, zErr := host.GenerateInvite(600 * time.Second)
	if zErr != nil {
		t.Fatalf("GenerateInvite: %v", zErr)
	}
	operatorKeys, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	controller := NewController(operatorKeys, store.NewMemoryStore())
	controller.nowFn = func() time.Time { return now }
	req, err := controller.BuildPairRequest(invite, secret, false)
	if err != nil {
		t.Fatalf("BuildPairRequest: %v", err)
	}

	done := make(chan struct{})
	go func() {
		_, _ = host.HandleRequest(context.Background(), req)
		close(done)
	}()

	// Give the first call a moment to register as in-flight before the
	// second arrives for the same operator.
	<-consent.entered

	if _, zErr := host.HandleRequest(context.Background(), req); zErr == nil {
		t.Fatal("expected AlreadyPairing for a concurrent request from the same operator")
	}

	close(consent.release)
	<-done
}

// blockingConsent blocks inside PromptPairing until release is closed,
// signalling entry via entered so a test can synchronize with it.
type blockingConsent struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingConsent) PromptPairing(ctx context.Context, operatorID identity.ID, sas string) (bool, uint32, error) {
	close(b.entered)
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return true, permViewControl, nil
}
