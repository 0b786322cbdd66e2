package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/zrc-project/zrc/internal/config"
	"github.com/zrc-project/zrc/internal/consent"
	"github.com/zrc-project/zrc/internal/ratelimit"
)

func TestLoadConfigDefaultsWhenNoPath(t *testing.T) {
	cfg, err := loadConfig("", "")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	want := config.Defaults()
	if cfg.Identity.DataDir != want.Identity.DataDir {
		t.Fatalf("data_dir = %q, want %q", cfg.Identity.DataDir, want.Identity.DataDir)
	}
}

func TestLoadConfigDataDirOverride(t *testing.T) {
	cfg, err := loadConfig("", "/tmp/custom-data")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Identity.DataDir != "/tmp/custom-data" {
		t.Fatalf("data_dir = %q, want override applied", cfg.Identity.DataDir)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zrc.yaml")
	if err := os.WriteFile(path, []byte("role: device\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(path, "")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Role != config.RoleDevice {
		t.Fatalf("role = %q, want %q", cfg.Role, config.RoleDevice)
	}
}

func TestLoadConfigMissingFileReturnsError(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), ""); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestOpenStoreMemoryBackendByDefault(t *testing.T) {
	cfg := config.Defaults()
	st, closeStore, err := openStore(cfg)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer closeStore()
	if st == nil {
		t.Fatal("expected a non-nil store")
	}
}

func TestOpenStoreSQLiteBackend(t *testing.T) {
	cfg := config.Defaults()
	cfg.Store.Backend = config.StoreBackendSQLite
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "device.db")

	st, closeStore, err := openStore(cfg)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer closeStore()
	if st == nil {
		t.Fatal("expected a non-nil store")
	}
}

func TestQuotasFromConfig(t *testing.T) {
	cfg := config.RateLimitsConfig{
		Authentication: config.RateLimitRule{PerMinute: 5},
		PairingRequest: config.RateLimitRule{PerMinute: 3},
		SessionRequest: config.RateLimitRule{PerMinute: 10},
	}
	quotas := quotasFromConfig(cfg)

	cases := []struct {
		op   ratelimit.Operation
		want int
	}{
		{ratelimit.OpAuthentication, 5},
		{ratelimit.OpPairingRequest, 3},
		{ratelimit.OpSessionRequest, 10},
	}
	for _, c := range cases {
		q, ok := quotas[c.op]
		if !ok {
			t.Fatalf("quotas missing entry for %v", c.op)
		}
		if q.PerMinute != c.want {
			t.Fatalf("quotas[%v].PerMinute = %d, want %d", c.op, q.PerMinute, c.want)
		}
	}
}

func TestNewConsentPrompterUnattendedAllowed(t *testing.T) {
	cfg := config.Defaults()
	cfg.Policy.ConsentMode = config.ConsentUnattendedAllowed

	prompter := newConsentPrompter(cfg)
	if _, ok := prompter.(*consent.Headless); !ok {
		t.Fatalf("expected *consent.Headless for unattended_allowed, got %T", prompter)
	}
}

func TestNewConsentPrompterAlwaysRequireUsesTerminal(t *testing.T) {
	cfg := config.Defaults()
	cfg.Policy.ConsentMode = config.ConsentAlwaysRequire

	prompter := newConsentPrompter(cfg)
	if _, ok := prompter.(*consent.Terminal); !ok {
		t.Fatalf("expected *consent.Terminal for always_require, got %T", prompter)
	}
}

func TestNewConsentPrompterTrustedOnlyUsesTerminal(t *testing.T) {
	cfg := config.Defaults()
	cfg.Policy.ConsentMode = config.ConsentTrustedOnly

	prompter := newConsentPrompter(cfg)
	if _, ok := prompter.(*consent.Terminal); !ok {
		t.Fatalf("expected *consent.Terminal for trusted_only (policy.Evaluate handles the trust distinction), got %T", prompter)
	}
}

func TestListenEnvelopeSocketRemovesStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "envelope.sock")
	if err := os.WriteFile(path, []byte("stale"), 0600); err != nil {
		t.Fatal(err)
	}

	ln, err := listenEnvelopeSocket(path)
	if err != nil {
		t.Fatalf("listenEnvelopeSocket: %v", err)
	}
	defer ln.Close()
}
