package policy

import (
	"testing"
	"time"

	"github.com/zrc-project/zrc/internal/config"
)

func weekdayAllHoursSchedule() config.ScheduleConfig {
	return config.ScheduleConfig{
		AllowedDays:  []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"},
		AllowedHours: []string{"00:00-23:59"},
	}
}

func TestAlwaysRequireNeverAutoApproves(t *testing.T) {
	cfg := config.PolicyConfig{ConsentMode: config.ConsentAlwaysRequire, Schedule: weekdayAllHoursSchedule()}
	pairing := PairingView{GrantedPermissions: 0x03, UnattendedEnabled: true}

	out := Evaluate(cfg, pairing, 0x01, time.Now())
	if out.Decision != AwaitingConsent {
		t.Fatalf("Decision = %v, want AwaitingConsent", out.Decision)
	}
}

func TestUnattendedAllowedAutoApprovesWhenEnabled(t *testing.T) {
	cfg := config.PolicyConfig{ConsentMode: config.ConsentUnattendedAllowed, Schedule: weekdayAllHoursSchedule()}
	pairing := PairingView{GrantedPermissions: 0x03, UnattendedEnabled: true}

	out := Evaluate(cfg, pairing, 0x01, time.Now())
	if out.Decision != AutoApproved {
		t.Fatalf("Decision = %v, want AutoApproved", out.Decision)
	}
	if out.GrantedPermissions != 0x01 {
		t.Fatalf("GrantedPermissions = %#x, want 0x01", out.GrantedPermissions)
	}
}

func TestUnattendedAllowedRequiresConsentWhenPerSessionConsentDemanded(t *testing.T) {
	cfg := config.PolicyConfig{ConsentMode: config.ConsentUnattendedAllowed, Schedule: weekdayAllHoursSchedule()}
	pairing := PairingView{GrantedPermissions: 0x03, UnattendedEnabled: true, RequireConsentEachTime: true}

	out := Evaluate(cfg, pairing, 0x01, time.Now())
	if out.Decision != AwaitingConsent {
		t.Fatalf("Decision = %v, want AwaitingConsent", out.Decision)
	}
}

func TestTrustedOnlyRoutesNonTrustedToConsentPrompt(t *testing.T) {
	cfg := config.PolicyConfig{ConsentMode: config.ConsentTrustedOnly, Schedule: weekdayAllHoursSchedule()}
	pairing := PairingView{GrantedPermissions: 0x03, UnattendedEnabled: false}

	out := Evaluate(cfg, pairing, 0x01, time.Now())
	if out.Decision != AwaitingConsent {
		t.Fatalf("Decision = %v, want AwaitingConsent", out.Decision)
	}
}

func TestOutOfScheduleRejectsRegardlessOfConsentMode(t *testing.T) {
	cfg := config.PolicyConfig{
		ConsentMode: config.ConsentUnattendedAllowed,
		Schedule: config.ScheduleConfig{
			AllowedDays:  []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"},
			AllowedHours: []string{"00:00-00:01"},
		},
	}
	pairing := PairingView{GrantedPermissions: 0x03, UnattendedEnabled: true}

	// A time far outside the narrow allowed window.
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	out := Evaluate(cfg, pairing, 0x01, now)
	if out.Decision != Rejected || out.RejectReason != ReasonTimeRestriction {
		t.Fatalf("Decision=%v Reason=%v, want Rejected/ReasonTimeRestriction", out.Decision, out.RejectReason)
	}
}

func TestGrantedPermissionsIsIntersection(t *testing.T) {
	cfg := config.PolicyConfig{ConsentMode: config.ConsentUnattendedAllowed, Schedule: weekdayAllHoursSchedule()}
	pairing := PairingView{GrantedPermissions: 0x01, UnattendedEnabled: true}

	out := Evaluate(cfg, pairing, 0x03, time.Now())
	if out.GrantedPermissions != 0x01 {
		t.Fatalf("GrantedPermissions = %#x, want intersection 0x01", out.GrantedPermissions)
	}
}

func TestAllowedDaysRestrictsToNamedWeekdays(t *testing.T) {
	cfg := config.PolicyConfig{
		ConsentMode: config.ConsentUnattendedAllowed,
		Schedule:    config.ScheduleConfig{AllowedDays: []string{"mon"}, AllowedHours: []string{"00:00-23:59"}},
	}
	pairing := PairingView{GrantedPermissions: 0x01, UnattendedEnabled: true}

	// 2026-07-31 is a Friday.
	friday := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	out := Evaluate(cfg, pairing, 0x01, friday)
	if out.Decision != Rejected {
		t.Fatalf("Decision on disallowed day = %v, want Rejected", out.Decision)
	}

	monday := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	out = Evaluate(cfg, pairing, 0x01, monday)
	if out.Decision != AutoApproved {
		t.Fatalf("Decision on allowed day = %v, want AutoApproved", out.Decision)
	}
}
