package pairing

import (
	"context"
	"testing"
	"time"

	"github.com/zrc-project/zrc/internal/audit"
	"github.com/zrc-project/zrc/internal/config"
	"github.com/zrc-project/zrc/internal/identity"
	"github.com/zrc-project/zrc/internal/ratelimit"
	"github.com/zrc-project/zrc/internal/store"
)

// fixedConsent always approves with a fixed permission grant, recording
// the SAS it was shown and how many times it was asked.
type fixedConsent struct {
	approve bool
	grant   uint32
	calls   int
	lastSAS string
}

func (f *fixedConsent) PromptPairing(ctx context.Context, operatorID identity.ID, sas string) (bool, uint32, error) {
	f.calls++
	f.lastSAS = sas
	return f.approve, f.grant, nil
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

func newTestHost(t *testing.T, st store.Store, consent ConsentPrompter) (*Host, *identity.Keys) {
	t.Helper()
	deviceKeys, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	limiter := ratelimit.New(ratelimit.DefaultQuotas())
	h := NewHost(deviceKeys, st, testPolicyConfig(), consent, limiter, audit.New(deviceKeys), nil)
	return h, deviceKeys
}
