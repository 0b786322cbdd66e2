// Package policy implements the pure policy-evaluation function: given
// a consent mode, schedule, and an operator's requested permissions, it
// decides whether a session request is auto-approved, needs an
// explicit consent prompt, or is rejected outright.
package policy

import (
	"strings"
	"time"

	"github.com/zrc-project/zrc/internal/config"
	"github.com/zrc-project/zrc/internal/identity"
)

// Decision is the outcome of evaluating a session request against policy.
type Decision int

const (
	// Rejected means the request must not proceed; Reason names why.
	Rejected Decision = iota
	// AutoApproved means the request may proceed without a consent prompt.
	AutoApproved
	// AwaitingConsent means the request needs an explicit human decision.
	AwaitingConsent
)

// RejectReason enumerates why a Rejected decision was reached.
type RejectReason int

const (
	ReasonNone RejectReason = iota
	ReasonTimeRestriction
)

// Outcome is the full result of Evaluate.
type Outcome struct {
	Decision           Decision
	RejectReason       RejectReason
	GrantedPermissions uint32
}

var dayIndex = map[time.Weekday]string{
	time.Sunday:    "sun",
	time.Monday:    "mon",
	time.Tuesday:   "tue",
	time.Wednesday: "wed",
	time.Thursday:  "thu",
	time.Friday:    "fri",
	time.Saturday:  "sat",
}

// inSchedule reports whether now falls within the configured allowed
// days and hour ranges. An empty AllowedDays or AllowedHours list means
// no restriction on that axis.
func inSchedule(sched config.ScheduleConfig, now time.Time) bool {
	if len(sched.AllowedDays) > 0 {
		today := dayIndex[now.Weekday()]
		found := false
		for _, d := range sched.AllowedDays {
			if strings.EqualFold(d, today) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(sched.AllowedHours) > 0 {
		nowMinutes := now.Hour()*60 + now.Minute()
		for _, window := range sched.AllowedHours {
			start, end, ok := parseHourRange(window)
			if !ok {
				continue
			}
			if nowMinutes >= start && nowMinutes <= end {
				return true
			}
		}
		return false
	}

	return true
}

func parseHourRange(window string) (startMinutes, endMinutes int, ok bool) {
	parts := strings.SplitN(window, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, ok1 := parseHHMM(parts[0])
	end, ok2 := parseHHMM(parts[1])
	if !ok1 || !ok2 {
		return 0, 0, false
	}
	return start, end, true
}

func parseHHMM(s string) (int, bool) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	t, err := time.Parse("15:04", parts[0]+":"+parts[1])
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

// Evaluate is the pure policy-evaluation function described in spec
// consent-mode, schedule, and whether the operator carries the
// Unattended capability determine AutoApproved / AwaitingConsent /
// Rejected. Out-of-schedule requests are rejected with
// ReasonTimeRestriction regardless of other permissions.
func Evaluate(cfg config.PolicyConfig, pairing PairingView, requestedPermissions uint32, now time.Time) Outcome {
	granted := requestedPermissions & pairing.GrantedPermissions

	if !inSchedule(cfg.Schedule, now) {
		return Outcome{Decision: Rejected, RejectReason: ReasonTimeRestriction}
	}

	switch cfg.ConsentMode {
	case config.ConsentUnattendedAllowed:
		if pairing.UnattendedEnabled && !pairing.RequireConsentEachTime {
			return Outcome{Decision: AutoApproved, GrantedPermissions: granted}
		}
		return Outcome{Decision: AwaitingConsent, GrantedPermissions: granted}
	case config.ConsentTrustedOnly:
		if pairing.UnattendedEnabled {
			return Outcome{Decision: AutoApproved, GrantedPermissions: granted}
		}
		return Outcome{Decision: AwaitingConsent, GrantedPermissions: granted}
	case config.ConsentAlwaysRequire:
		fallthrough
	default:
		return Outcome{Decision: AwaitingConsent, GrantedPermissions: granted}
	}
}

// PairingView is the minimal slice of a PairingRecord policy needs;
// kept separate from store.PairingRecord so this package stays pure
// and import-cycle-free.
type PairingView struct {
	OperatorID             identity.ID
	GrantedPermissions     uint32
	UnattendedEnabled      bool
	RequireConsentEachTime bool
}
