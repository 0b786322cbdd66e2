package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/zrc-project/zrc/internal/audit"
	"github.com/zrc-project/zrc/internal/config"
	"github.com/zrc-project/zrc/internal/identity"
	"github.com/zrc-project/zrc/internal/pairing"
	"github.com/zrc-project/zrc/internal/ratelimit"
	"github.com/zrc-project/zrc/internal/session"
	"github.com/zrc-project/zrc/internal/store"
	"github.com/zrc-project/zrc/internal/zrcerr"
)

const permViewControl = 0x03

type fixedPairConsent struct{ grant uint32 }

func (f *fixedPairConsent) PromptPairing(ctx context.Context, operatorID identity.ID, sas string) (bool, uint32, error) {
	return true, f.grant, nil
}

type fixedSessionConsent struct{}

func (fixedSessionConsent) PromptSession(ctx context.Context, operatorID identity.ID, granted uint32) (bool, error) {
	return true, nil
}

func testPolicyConfig() config.PolicyConfig {
	return config.PolicyConfig{
		ConsentMode:           config.ConsentUnattendedAllowed,
		SessionTTL:            time.Hour,
		ConsentTimeout:        time.Second,
		MaxConcurrentSessions: 4,
		MaxConcurrentInvites:  3,
		Schedule: config.ScheduleConfig{
			AllowedDays:  []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"},
			AllowedHours: []string{"00:00-23:59"},
		},
	}
}

// TestPairingRoundTripOverEnvelopes drives a full pairing exchange
// through sealed envelopes: the operator seals a PairRequest, the
// device's Device dispatcher opens and handles it, and the operator's
// Controller dispatcher opens the resulting PairReceipt.
func TestPairingRoundTripOverEnvelopes(t *testing.T) {
	deviceKeys, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	operatorKeys, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}

	deviceStore := store.NewMemoryStore()
	limiter := ratelimit.New(ratelimit.DefaultQuotas())
	pairingHost := pairing.NewHost(deviceKeys, deviceStore, testPolicyConfig(), &fixedPairConsent{grant: permViewControl}, limiter, audit.New(deviceKeys), nil)

	invite, secret, zErr := pairingHost.GenerateInvite(600 * time.Second)
	if zErr != nil {
		t.Fatalf("GenerateInvite: %v", zErr)
	}

	operatorStore := store.NewMemoryStore()
	pairingController := pairing.NewController(operatorKeys, operatorStore)
	req, err := pairingController.BuildPairRequest(invite, secret, true)
	if err != nil {
		t.Fatalf("BuildPairRequest: %v", err)
	}

	controllerDispatch := NewController(operatorKeys)
	reqEnvelope, err := controllerDispatch.SealPairRequest(deviceKeys.ID, deviceKeys.KexPub, req)
	if err != nil {
		t.Fatalf("SealPairRequest: %v", err)
	}

	deviceDispatch := NewDevice(deviceKeys, pairingHost, nil)
	respEnvelope, err := deviceDispatch.Dispatch(context.Background(), reqEnvelope)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	receipt, err := controllerDispatch.OpenPairReceipt(respEnvelope, deviceKeys.ID)
	if err != nil {
		t.Fatalf("OpenPairReceipt: %v", err)
	}
	if receipt.GrantedPermissions != permViewControl {
		t.Fatalf("GrantedPermissions = %#x, want %#x", receipt.GrantedPermissions, permViewControl)
	}

	pending, zErr := pairingController.HandleReceipt(req, invite, receipt, permViewControl)
	if zErr != nil {
		t.Fatalf("HandleReceipt: %v", zErr)
	}
	if _, zErr := pairingController.ConfirmSAS(pending, true); zErr != nil {
		t.Fatalf("ConfirmSAS: %v", zErr)
	}
}

// TestSessionRoundTripOverEnvelopes drives a full session exchange
// through sealed envelopes once a pairing record already exists, then
// verifies a session init for an unpaired operator surfaces NotPaired
// over the wire as a bare Error envelope.
func TestSessionRoundTripOverEnvelopes(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)

	deviceKeys, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	operatorKeys, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}

	deviceStore := store.NewMemoryStore()
	if err := deviceStore.PutPairing(store.PairingRecord{
		DeviceID:           deviceKeys.ID,
		OperatorID:         operatorKeys.ID,
		DeviceSignPub:      deviceKeys.SignPub,
		OperatorSignPub:    operatorKeys.SignPub,
		OperatorKexPub:     operatorKeys.KexPub.Bytes(),
		GrantedPermissions: permViewControl,
		UnattendedEnabled:  true,
	}); err != nil {
		t.Fatalf("PutPairing: %v", err)
	}

	limiter := ratelimit.New(ratelimit.DefaultQuotas())
	sessionHost := session.NewHost(deviceKeys, deviceStore, testPolicyConfig(), fixedSessionConsent{}, limiter, audit.New(deviceKeys), nil)
	deviceDispatch := NewDevice(deviceKeys, nil, sessionHost)

	sessionController := session.NewController(operatorKeys)
	initReq, err := sessionController.BuildInitRequest(deviceKeys.ID, permViewControl, operatorKeys.KexPub.Bytes(), now)
	if err != nil {
		t.Fatalf("BuildInitRequest: %v", err)
	}

	controllerDispatch := NewController(operatorKeys)
	reqEnvelope, err := controllerDispatch.SealSessionInitRequest(deviceKeys.ID, deviceKeys.KexPub, initReq)
	if err != nil {
		t.Fatalf("SealSessionInitRequest: %v", err)
	}

	respEnvelope, err := deviceDispatch.Dispatch(context.Background(), reqEnvelope)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	tkt, zErr, err := controllerDispatch.OpenSessionInitResponse(respEnvelope, deviceKeys.ID)
	if err != nil {
		t.Fatalf("OpenSessionInitResponse: %v", err)
	}
	if zErr != nil {
		t.Fatalf("unexpected taxonomy error: %v", zErr)
	}
	if tkt == nil {
		t.Fatal("expected an issued ticket")
	}
	if tkt.Permissions != permViewControl {
		t.Fatalf("Permissions = %#x, want %#x", tkt.Permissions, permViewControl)
	}

	// An operator with no pairing record must see NotPaired, delivered
	// as a bare Error envelope rather than a SessionInitResponse.
	strangerKeys, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	strangerController := session.NewController(strangerKeys)
	strangerReq, err := strangerController.BuildInitRequest(deviceKeys.ID, permViewControl, strangerKeys.KexPub.Bytes(), now)
	if err != nil {
		t.Fatalf("BuildInitRequest: %v", err)
	}
	strangerDispatch := NewController(strangerKeys)
	strangerEnvelope, err := strangerDispatch.SealSessionInitRequest(deviceKeys.ID, deviceKeys.KexPub, strangerReq)
	if err != nil {
		t.Fatalf("SealSessionInitRequest: %v", err)
	}

	strangerResp, err := deviceDispatch.Dispatch(context.Background(), strangerEnvelope)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	_, rejectZErr, err := strangerDispatch.OpenSessionInitResponse(strangerResp, deviceKeys.ID)
	if err != nil {
		t.Fatalf("OpenSessionInitResponse: %v", err)
	}
	if rejectZErr == nil || rejectZErr.Code != zrcerr.NotPaired {
		t.Fatalf("expected NotPaired, got %v", rejectZErr)
	}
}
