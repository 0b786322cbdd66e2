package zrcerr

import "testing"

func TestErrorMessageIsGenericNeverLeaksDetail(t *testing.T) {
	err := New(SignatureInvalid, "ed25519 verify failed for operator abc123")
	if err.Message() == err.Detail {
		t.Fatalf("Message() must never equal the internal Detail")
	}
	if err.Message() != "authentication failed" {
		t.Fatalf("Message() = %q, want generic authentication failure text", err.Message())
	}
}

func TestProofInvalidAndBindingMismatchShareUniformSurface(t *testing.T) {
	proof := New(ProofInvalid, "hmac mismatch")
	binding := New(BindingMismatch, "session_binding mismatch")
	if proof.Message() != binding.Message() {
		t.Fatalf("ProofInvalid Message() = %q, BindingMismatch Message() = %q; cryptographic failures must share one generic message", proof.Message(), binding.Message())
	}
}

func TestCodeStringRoundTrips(t *testing.T) {
	for code, name := range names {
		if code.String() != name {
			t.Fatalf("code %d: String() = %q, want %q", code, code.String(), name)
		}
	}
}

func TestUnknownCodeFallsBackToUnspecified(t *testing.T) {
	var c Code = 9999
	if c.String() != "Unspecified" {
		t.Fatalf("unknown code String() = %q, want Unspecified", c.String())
	}
	err := &Error{Code: c}
	if err.Message() != genericMessages[Unspecified] {
		t.Fatalf("unknown code Message() = %q, want the Unspecified message", err.Message())
	}
}

func TestErrorIsMatchesOnCodeOnly(t *testing.T) {
	a := New(RateLimited, "source xyz over quota")
	b := New(RateLimited, "a different detail")
	if !a.Is(b) {
		t.Fatalf("errors with the same code should match via Is")
	}
	c := New(NotPaired, "")
	if a.Is(c) {
		t.Fatalf("errors with different codes should not match via Is")
	}
}
