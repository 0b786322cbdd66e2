// Package main provides the CLI entry point for a ZRC device (host)
// process: the role that accepts pairing invites and answers session
// requests from paired operators.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zrc-project/zrc/internal/audit"
	"github.com/zrc-project/zrc/internal/config"
	"github.com/zrc-project/zrc/internal/consent"
	"github.com/zrc-project/zrc/internal/control"
	"github.com/zrc-project/zrc/internal/dispatch"
	"github.com/zrc-project/zrc/internal/envelope"
	"github.com/zrc-project/zrc/internal/identity"
	"github.com/zrc-project/zrc/internal/logging"
	"github.com/zrc-project/zrc/internal/metrics"
	"github.com/zrc-project/zrc/internal/pairing"
	"github.com/zrc-project/zrc/internal/ratelimit"
	"github.com/zrc-project/zrc/internal/recovery"
	"github.com/zrc-project/zrc/internal/session"
	"github.com/zrc-project/zrc/internal/store"
	"github.com/zrc-project/zrc/internal/wire"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "zrc-device",
		Short:   "ZRC device agent - accepts pairing invites and session requests",
		Version: version,
	}

	rootCmd.AddGroup(&cobra.Group{ID: "start", Title: "Getting Started:"})
	rootCmd.AddGroup(&cobra.Group{ID: "status", Title: "Status:"})

	for _, c := range []*cobra.Command{initCmd(), inviteCmd(), serveCmd()} {
		c.GroupID = "start"
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{statusCmd(), pairingsCmd()} {
		c.GroupID = "status"
		rootCmd.AddCommand(c)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	var dataDir string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate this device's long-term identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if identity.Exists(dataDir) {
				keys, err := identity.Load(dataDir)
				if err != nil {
					return fmt.Errorf("load existing identity: %w", err)
				}
				fmt.Printf("Device already initialized in %s\n", dataDir)
				fmt.Printf("Device ID: %s\n", keys.ID)
				return nil
			}

			keys, _, err := identity.LoadOrCreate(dataDir)
			if err != nil {
				return fmt.Errorf("initialize device identity: %w", err)
			}
			fmt.Printf("Device initialized in %s\n", dataDir)
			fmt.Printf("Device ID: %s\n", keys.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "./data", "Directory for persistent identity")
	return cmd
}

// inviteBundle is the out-of-band artifact an operator imports to
// build a PairRequest: everything pairing.Invite carries on the wire,
// plus the device_kex_pub and envelope socket address the core never
// transports or persists, so an operator on another machine can
// actually reach this device's envelope socket.
type inviteBundle struct {
	DeviceID         string    `json:"device_id"`
	DeviceSignPub    string    `json:"device_sign_pub"`
	DeviceKexPub     string    `json:"device_kex_pub"`
	InviteSecretHash string    `json:"invite_secret_hash"`
	InviteSecret     string    `json:"invite_secret"`
	ExpiresAt        time.Time `json:"expires_at"`
	EnvelopeSocket   string    `json:"envelope_socket"`
}

func inviteCmd() *cobra.Command {
	var dataDir string
	var configPath string
	var ttl time.Duration
	var envelopeSocket string

	cmd := &cobra.Command{
		Use:   "invite",
		Short: "Issue a pairing invite and print an out-of-band bundle for the operator",
		Long: `Issue a pairing invite and print a JSON bundle to stdout.

The bundle must reach the operator through a channel outside ZRC
itself (a QR code, a copy-pasted message, a file transferred by some
other means) — ZRC never specifies how. Persist invites with
store.backend: sqlite in the config file if "serve" is already running
against the same data directory, since a memory store does not survive
across separate process invocations.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, dataDir)
			if err != nil {
				return err
			}
			keys, err := identity.Load(cfg.Identity.DataDir)
			if err != nil {
				return fmt.Errorf("load identity (run init first): %w", err)
			}
			st, closeStore, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			host := pairing.NewHost(keys, st, cfg.Policy, nil, ratelimit.New(quotasFromConfig(cfg.RateLimits)), audit.New(keys), nil)
			invite, secret, zErr := host.GenerateInvite(ttl)
			if zErr != nil {
				return fmt.Errorf("generate invite: %s", zErr.Message())
			}

			bundle := inviteBundle{
				DeviceID:         invite.DeviceID.String(),
				DeviceSignPub:    hex.EncodeToString(invite.DeviceSignPub),
				DeviceKexPub:     hex.EncodeToString(keys.KexPub.Bytes()),
				InviteSecretHash: hex.EncodeToString(invite.InviteSecretHash[:]),
				InviteSecret:     hex.EncodeToString(secret),
				ExpiresAt:        invite.ExpiresAt,
				EnvelopeSocket:   envelopeSocket,
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(bundle)
		},
	}

	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "./data", "Directory for persistent identity")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().DurationVar(&ttl, "ttl", 300*time.Second, "Invite lifetime, clamped to at most 600s")
	cmd.Flags().StringVar(&envelopeSocket, "envelope-socket", "./data/envelope.sock", "Unix socket path to embed in the bundle for the operator to dial")
	return cmd
}

func serveCmd() *cobra.Command {
	var configPath string
	var envelopeSocket string
	var controlSocket string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the device agent, answering pair and session requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, "")
			if err != nil {
				return err
			}
			logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

			keys, created, err := identity.LoadOrCreate(cfg.Identity.DataDir)
			if err != nil {
				return fmt.Errorf("load identity: %w", err)
			}
			if created {
				logger.Info("generated new device identity", logging.KeyDeviceID, keys.ID.String())
			}

			st, closeStore, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			m := metrics.NewMetrics()
			auditLog := audit.New(keys)
			limiter := ratelimit.New(quotasFromConfig(cfg.RateLimits))
			consentPrompter := newConsentPrompter(cfg)

			pairingHost := pairing.NewHost(keys, st, cfg.Policy, consentPrompter, limiter, auditLog, m)
			sessionHost := session.NewHost(keys, st, cfg.Policy, consentPrompter, limiter, auditLog, m)
			device := dispatch.NewDevice(keys, pairingHost, sessionHost)

			statusProvider := control.NewDeviceStatusProvider(keys, st, auditLog, sessionHost)
			controlSrv := control.NewServer(control.ServerConfig{
				SocketPath:   controlSocket,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}, statusProvider)
			if err := controlSrv.Start(); err != nil {
				return fmt.Errorf("start control socket: %w", err)
			}
			defer controlSrv.Stop()

			envListener, err := listenEnvelopeSocket(envelopeSocket)
			if err != nil {
				return fmt.Errorf("start envelope socket: %w", err)
			}
			defer envListener.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go serveEnvelopeSocket(ctx, envListener, device, logger)

			logger.Info("device agent running",
				logging.KeyDeviceID, keys.ID.String(),
				"control_socket", controlSocket,
				"envelope_socket", envelopeSocket,
			)
			fmt.Printf("Device ID: %s\n", keys.ID)
			fmt.Printf("Envelope socket: %s\n", envelopeSocket)
			fmt.Printf("Control socket: %s\n", controlSocket)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			fmt.Printf("\nReceived signal %v, shutting down...\n", sig)
			cancel()
			fmt.Println("Device agent stopped.")

			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")
	cmd.Flags().StringVar(&envelopeSocket, "envelope-socket", "./data/envelope.sock", "Unix socket to accept sealed envelope exchanges on")
	cmd.Flags().StringVar(&controlSocket, "control-socket", "./data/control.sock", "Unix socket for read-only introspection (status, pairings)")
	return cmd
}

// listenEnvelopeSocket opens the Unix socket cmd/zrc-operator dials to
// exchange one framed, sealed envelope per connection. This is
// deliberately the only transport the device CLI owns: it moves
// opaque bytes between a FrameReader/FrameWriter and
// dispatch.Device.Dispatch, never interpreting envelope contents
// itself, so the production QUIC/WebSocket transport spec explicitly
// excludes from the core has no analogue here to conflict with.
func listenEnvelopeSocket(path string) (net.Listener, error) {
	_ = os.Remove(path)
	return net.Listen("unix", path)
}

// serveEnvelopeSocket accepts one connection at a time and handles
// exactly one request/response frame pair per connection, matching the
// operator CLI's synchronous dial-send-receive-exit lifecycle.
func serveEnvelopeSocket(ctx context.Context, ln net.Listener, device *dispatch.Device, logger *slog.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				logger.Error("envelope socket accept failed", "error", err)
				return
			}
		}
		go func() {
			defer recovery.RecoverWithLog(logger, "envelope-conn")
			handleEnvelopeConn(ctx, conn, device)
		}()
	}
}

func handleEnvelopeConn(ctx context.Context, conn net.Conn, device *dispatch.Device) {
	defer conn.Close()

	reader := wire.NewFrameReader(conn)
	payload, err := reader.ReadFrame()
	if err != nil {
		return
	}
	env, err := envelope.Unmarshal(payload)
	if err != nil {
		return
	}

	resp, err := device.Dispatch(ctx, env)
	if err != nil || resp == nil {
		return
	}

	writer := wire.NewFrameWriter(conn)
	_ = writer.WriteFrame(envelope.Marshal(resp))
}

func newConsentPrompter(cfg *config.Config) interface {
	pairing.ConsentPrompter
	session.ConsentPrompter
} {
	if cfg.Policy.ConsentMode == config.ConsentUnattendedAllowed {
		return consent.NewHeadless(true, consent.PermView|consent.PermControl)
	}
	return consent.NewTerminal()
}

func statusCmd() *cobra.Command {
	var controlSocket string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show this device's pairing and session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			client := control.NewClient(controlSocket)
			defer client.Close()

			resp, err := client.Status(ctx)
			if err != nil {
				return fmt.Errorf("connect to device agent: %w", err)
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}

			fmt.Println("Device Status")
			fmt.Println("=============")
			fmt.Printf("Device ID:            %s\n", resp.DeviceID)
			fmt.Printf("Pairing Count:        %d\n", resp.PairingCount)
			fmt.Printf("Active Session Count: %d\n", resp.ActiveSessionCount)
			fmt.Printf("Audit Event Count:    %d\n", resp.AuditEventCount)
			return nil
		},
	}

	cmd.Flags().StringVarP(&controlSocket, "control-socket", "s", "./data/control.sock", "Control socket of a running zrc-device serve process")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

func pairingsCmd() *cobra.Command {
	var controlSocket string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "pairings",
		Short: "List current pairings",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			client := control.NewClient(controlSocket)
			defer client.Close()

			resp, err := client.Pairings(ctx)
			if err != nil {
				return fmt.Errorf("connect to device agent: %w", err)
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}

			fmt.Println("Pairings")
			fmt.Println("========")
			if len(resp.Pairings) == 0 {
				fmt.Println("No pairings.")
				return nil
			}
			fmt.Printf("%-66s %-10s %-12s\n", "OPERATOR", "PERMS", "UNATTENDED")
			for _, p := range resp.Pairings {
				fmt.Printf("%-66s %#04x       %-12v\n", p.OperatorID, p.GrantedPermissions, p.UnattendedEnabled)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&controlSocket, "control-socket", "s", "./data/control.sock", "Control socket of a running zrc-device serve process")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

func loadConfig(path, dataDirOverride string) (*config.Config, error) {
	var cfg *config.Config
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.Defaults()
	}
	if dataDirOverride != "" {
		cfg.Identity.DataDir = dataDirOverride
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreBackendSQLite:
		st, err := store.OpenSQLiteStore(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, func() { _ = st.Close() }, nil
	default:
		return store.NewMemoryStore(), func() {}, nil
	}
}

func quotasFromConfig(cfg config.RateLimitsConfig) map[ratelimit.Operation]ratelimit.Quota {
	return map[ratelimit.Operation]ratelimit.Quota{
		ratelimit.OpAuthentication: {PerMinute: cfg.Authentication.PerMinute},
		ratelimit.OpPairingRequest: {PerMinute: cfg.PairingRequest.PerMinute},
		ratelimit.OpSessionRequest: {PerMinute: cfg.SessionRequest.PerMinute},
	}
}
