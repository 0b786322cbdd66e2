package consent

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"

	"github.com/zrc-project/zrc/internal/identity"
)

// Terminal prompts the device operator on stdin/stdout using huh forms.
// It satisfies both pairing.ConsentPrompter and session.ConsentPrompter.
type Terminal struct {
	// AllPermissions lists the permission bits offered to the operator
	// when approving a pairing. Defaults to view|control|clipboard|file
	// transfer when zero.
	AllPermissions uint32
}

// NewTerminal constructs a Terminal prompting for the full permission
// set on pairing approval.
func NewTerminal() *Terminal {
	return &Terminal{AllPermissions: PermView | PermControl | PermClipboard | PermFileTransfer}
}

// PromptPairing shows the operator's id and the SAS, asks for a
// yes/no decision, and on approval lets the operator pick which
// permissions to grant from AllPermissions.
func (t *Terminal) PromptPairing(ctx context.Context, operatorID identity.ID, sas string) (bool, uint32, error) {
	var approved bool
	confirmForm := huh.NewForm(huh.NewGroup(
		huh.NewNote().
			Title("Pairing request").
			Description(fmt.Sprintf("Operator %s wants to pair.\nConfirm this code matches on both sides: %s", operatorID, sas)),
		huh.NewConfirm().
			Title("Approve pairing?").
			Affirmative("Approve").
			Negative("Deny").
			Value(&approved),
	))
	if err := confirmForm.RunWithContext(ctx); err != nil {
		return false, 0, fmt.Errorf("consent: pairing prompt: %w", err)
	}
	if !approved {
		return false, 0, nil
	}

	options := permissionOptions(t.permissionSet())
	var chosen []uint32
	grantForm := huh.NewForm(huh.NewGroup(
		huh.NewMultiSelect[uint32]().
			Title("Grant which permissions?").
			Options(options...).
			Value(&chosen),
	))
	if err := grantForm.RunWithContext(ctx); err != nil {
		return false, 0, fmt.Errorf("consent: permission prompt: %w", err)
	}

	var granted uint32
	for _, bit := range chosen {
		granted |= bit
	}
	return true, granted, nil
}

// PromptSession asks the operator to approve a session carrying
// granted, already narrowed to the intersection policy.Evaluate
// produced.
func (t *Terminal) PromptSession(ctx context.Context, operatorID identity.ID, granted uint32) (bool, error) {
	var approved bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title("Session request").
			Description(fmt.Sprintf("Operator %s requests a session with: %s", operatorID, describePermissions(granted))).
			Affirmative("Approve").
			Negative("Deny").
			Value(&approved),
	))
	if err := form.RunWithContext(ctx); err != nil {
		return false, fmt.Errorf("consent: session prompt: %w", err)
	}
	return approved, nil
}

func (t *Terminal) permissionSet() uint32 {
	if t.AllPermissions == 0 {
		return PermView | PermControl | PermClipboard | PermFileTransfer
	}
	return t.AllPermissions
}

func permissionOptions(bits uint32) []huh.Option[uint32] {
	var opts []huh.Option[uint32]
	for _, p := range permissionOrder {
		if bits&p.bit != 0 {
			opts = append(opts, huh.NewOption(p.name, p.bit))
		}
	}
	return opts
}
