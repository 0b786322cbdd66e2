package consent

import (
	"context"

	"github.com/zrc-project/zrc/internal/identity"
)

// Headless auto-approves every prompt with a fixed permission set and
// never blocks on human input, for unattended devices (kiosks, CI
// runners, servers). A zero-value Headless with Allow=false denies
// everything, matching an operator who disabled unattended access
// entirely.
type Headless struct {
	Allow       bool
	Permissions uint32
}

// NewHeadless constructs a Headless handler that grants permissions
// when allow is true, and denies every request otherwise.
func NewHeadless(allow bool, permissions uint32) *Headless {
	return &Headless{Allow: allow, Permissions: permissions}
}

func (h *Headless) PromptPairing(ctx context.Context, operatorID identity.ID, sas string) (bool, uint32, error) {
	if !h.Allow {
		return false, 0, nil
	}
	return true, h.Permissions, nil
}

func (h *Headless) PromptSession(ctx context.Context, operatorID identity.ID, granted uint32) (bool, error) {
	return h.Allow, nil
}
