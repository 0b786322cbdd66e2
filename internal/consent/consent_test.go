package consent

import (
	"context"
	"testing"

	"github.com/zrc-project/zrc/internal/identity"
)

func TestDescribePermissions(t *testing.T) {
	cases := []struct {
		bits uint32
		want string
	}{
		{0, "(none)"},
		{PermView, "view"},
		{PermView | PermControl, "view, control"},
		{PermControl | PermClipboard | PermFileTransfer, "control, clipboard, file transfer"},
	}
	for _, c := range cases {
		if got := describePermissions(c.bits); got != c.want {
			t.Errorf("describePermissions(%#x) = %q, want %q", c.bits, got, c.want)
		}
	}
}

func TestHeadlessDeniesWhenNotAllowed(t *testing.T) {
	h := NewHeadless(false, PermView|PermControl)
	operatorID, _ := identity.FromBytes(make([]byte, identity.IDSize))

	approved, granted, err := h.PromptPairing(context.Background(), operatorID, "123456")
	if err != nil {
		t.Fatalf("PromptPairing: %v", err)
	}
	if approved || granted != 0 {
		t.Fatalf("PromptPairing = (%v, %#x), want (false, 0)", approved, granted)
	}

	sessionApproved, err := h.PromptSession(context.Background(), operatorID, PermView)
	if err != nil {
		t.Fatalf("PromptSession: %v", err)
	}
	if sessionApproved {
		t.Fatal("PromptSession = true, want false")
	}
}

func TestHeadlessGrantsFixedPermissionsWhenAllowed(t *testing.T) {
	h := NewHeadless(true, PermView|PermClipboard)
	operatorID, _ := identity.FromBytes(make([]byte, identity.IDSize))

	approved, granted, err := h.PromptPairing(context.Background(), operatorID, "654321")
	if err != nil {
		t.Fatalf("PromptPairing: %v", err)
	}
	if !approved || granted != PermView|PermClipboard {
		t.Fatalf("PromptPairing = (%v, %#x), want (true, %#x)", approved, granted, PermView|PermClipboard)
	}

	sessionApproved, err := h.PromptSession(context.Background(), operatorID, PermView)
	if err != nil {
		t.Fatalf("PromptSession: %v", err)
	}
	if !sessionApproved {
		t.Fatal("PromptSession = false, want true")
	}
}
