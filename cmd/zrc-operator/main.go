// Package main provides the CLI entry point for a ZRC operator
// (controller) process: the role that imports a pairing invite and
// later requests sessions against a paired device.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/zrc-project/zrc/internal/consent"
	"github.com/zrc-project/zrc/internal/dispatch"
	"github.com/zrc-project/zrc/internal/envelope"
	"github.com/zrc-project/zrc/internal/identity"
	"github.com/zrc-project/zrc/internal/pairing"
	"github.com/zrc-project/zrc/internal/session"
	"github.com/zrc-project/zrc/internal/store"
	"github.com/zrc-project/zrc/internal/wire"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "zrc-operator",
		Short:   "ZRC operator CLI - pairs with and opens sessions against a ZRC device",
		Version: version,
	}

	rootCmd.AddGroup(&cobra.Group{ID: "start", Title: "Getting Started:"})
	rootCmd.AddGroup(&cobra.Group{ID: "remote", Title: "Remote Operations:"})

	initC := initCmd()
	initC.GroupID = "start"
	rootCmd.AddCommand(initC)

	pair := pairCmd()
	pair.GroupID = "remote"
	rootCmd.AddCommand(pair)

	sess := sessionCmd()
	sess.GroupID = "remote"
	rootCmd.AddCommand(sess)

	pairings := pairingsCmd()
	pairings.GroupID = "remote"
	rootCmd.AddCommand(pairings)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	var dataDir string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate this operator's long-term identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if identity.Exists(dataDir) {
				keys, err := identity.Load(dataDir)
				if err != nil {
					return fmt.Errorf("load existing identity: %w", err)
				}
				fmt.Printf("Operator already initialized in %s\n", dataDir)
				fmt.Printf("Operator ID: %s\n", keys.ID)
				return nil
			}

			keys, _, err := identity.LoadOrCreate(dataDir)
			if err != nil {
				return fmt.Errorf("initialize operator identity: %w", err)
			}
			fmt.Printf("Operator initialized in %s\n", dataDir)
			fmt.Printf("Operator ID: %s\n", keys.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "./data", "Directory for persistent identity")
	return cmd
}

// inviteBundle mirrors the JSON cmd/zrc-device's invite command
// prints: everything a pairing.Invite carries plus the device_kex_pub
// and envelope socket address needed to actually reach the device, two
// things the core protocol deliberately never transports itself.
type inviteBundle struct {
	DeviceID         string    `json:"device_id"`
	DeviceSignPub    string    `json:"device_sign_pub"`
	DeviceKexPub     string    `json:"device_kex_pub"`
	InviteSecretHash string    `json:"invite_secret_hash"`
	InviteSecret     string    `json:"invite_secret"`
	ExpiresAt        time.Time `json:"expires_at"`
	EnvelopeSocket   string    `json:"envelope_socket"`
}

func readBundle(path string) (*inviteBundle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	var b inviteBundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("parse bundle: %w", err)
	}
	return &b, nil
}

func (b *inviteBundle) toInvite() (pairing.Invite, error) {
	deviceID, err := identity.ParseID(b.DeviceID)
	if err != nil {
		return pairing.Invite{}, fmt.Errorf("bundle device_id: %w", err)
	}
	deviceSignPub, err := hex.DecodeString(b.DeviceSignPub)
	if err != nil {
		return pairing.Invite{}, fmt.Errorf("bundle device_sign_pub: %w", err)
	}
	hashBytes, err := hex.DecodeString(b.InviteSecretHash)
	if err != nil || len(hashBytes) != 32 {
		return pairing.Invite{}, fmt.Errorf("bundle invite_secret_hash must be 32 bytes hex")
	}
	var hash [32]byte
	copy(hash[:], hashBytes)

	return pairing.Invite{
		DeviceID:         deviceID,
		DeviceSignPub:    deviceSignPub,
		InviteSecretHash: hash,
		ExpiresAt:        b.ExpiresAt,
	}, nil
}

func pairCmd() *cobra.Command {
	var dataDir string
	var bundlePath string
	var requestedPermissions uint32

	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Import an invite bundle and pair with a device",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := identity.Load(dataDir)
			if err != nil {
				return fmt.Errorf("load identity (run init first): %w", err)
			}

			bundle, err := readBundle(bundlePath)
			if err != nil {
				return err
			}
			invite, err := bundle.toInvite()
			if err != nil {
				return err
			}
			secret, err := hex.DecodeString(bundle.InviteSecret)
			if err != nil {
				return fmt.Errorf("bundle invite_secret: %w", err)
			}
			deviceKexPub, err := identity.ParseKexPub(mustHexDecode(bundle.DeviceKexPub))
			if err != nil {
				return fmt.Errorf("bundle device_kex_pub: %w", err)
			}

			st, closeStore, err := openOperatorStore(dataDir)
			if err != nil {
				return err
			}
			defer closeStore()

			pairingController := pairing.NewController(keys, st)
			req, err := pairingController.BuildPairRequest(invite, secret, true)
			if err != nil {
				return fmt.Errorf("build pair request: %w", err)
			}

			controllerDispatch := dispatch.NewController(keys)
			reqEnvelope, err := controllerDispatch.SealPairRequest(invite.DeviceID, deviceKexPub, req)
			if err != nil {
				return fmt.Errorf("seal pair request: %w", err)
			}

			respEnvelope, err := exchangeEnvelope(bundle.EnvelopeSocket, reqEnvelope)
			if err != nil {
				return fmt.Errorf("exchange with device: %w", err)
			}

			receipt, err := controllerDispatch.OpenPairReceipt(respEnvelope, invite.DeviceID)
			if err != nil {
				return fmt.Errorf("open pair receipt: %w", err)
			}

			pending, zErr := pairingController.HandleReceipt(req, invite, receipt, requestedPermissions)
			if zErr != nil {
				return fmt.Errorf("pairing rejected: %s", zErr.Message())
			}

			fmt.Printf("Device reports granted permissions: %#04x\n", receipt.GrantedPermissions)
			match, err := confirmSAS(pending.SAS)
			if err != nil {
				return err
			}

			if _, zErr := pairingController.ConfirmSAS(pending, match); zErr != nil {
				return fmt.Errorf("pairing aborted: %s", zErr.Message())
			}
			if !match {
				return fmt.Errorf("pairing aborted: SAS mismatch reported")
			}

			fmt.Printf("Paired with device %s\n", invite.DeviceID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "./data", "Directory for persistent identity and pairing store")
	cmd.Flags().StringVarP(&bundlePath, "bundle", "b", "", "Path to the invite bundle JSON file (required)")
	cmd.Flags().Uint32Var(&requestedPermissions, "permissions", consent.PermView|consent.PermControl, "Upper bound on permissions this operator will accept")
	cmd.MarkFlagRequired("bundle")
	return cmd
}

// confirmSAS displays the short authentication string both principals
// derived independently and asks the human operator to confirm it
// matches what the device displayed. This is the operator's own
// out-of-band verification step, not a ConsentPrompter decision (the
// device, not the operator, owns consent.ConsentPrompter), so it is
// asked directly here with huh rather than through internal/consent.
func confirmSAS(sas string) (bool, error) {
	var match bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewNote().
			Title("Confirm pairing code").
			Description(fmt.Sprintf("Does this code match what the device displayed?\n\n    %s", sas)),
		huh.NewConfirm().
			Title("Codes match?").
			Affirmative("Yes, matches").
			Negative("No, abort").
			Value(&match),
	))
	if err := form.Run(); err != nil {
		return false, fmt.Errorf("confirm SAS: %w", err)
	}
	return match, nil
}

func sessionCmd() *cobra.Command {
	var dataDir string
	var bundlePath string
	var requestedPermissions uint32

	cmd := &cobra.Command{
		Use:   "session",
		Short: "Request a session against an already-paired device",
		Long: `Request a session using the same invite bundle used for "pair".

The bundle still supplies the device_kex_pub and envelope socket
address needed to reach the device; PairingRecord itself only pins
signing keys for ticket verification, never transport details, since
those are out of scope for the core pairing/session state machines.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := identity.Load(dataDir)
			if err != nil {
				return fmt.Errorf("load identity (run init first): %w", err)
			}

			bundle, err := readBundle(bundlePath)
			if err != nil {
				return err
			}
			deviceID, err := identity.ParseID(bundle.DeviceID)
			if err != nil {
				return fmt.Errorf("bundle device_id: %w", err)
			}
			deviceKexPub, err := identity.ParseKexPub(mustHexDecode(bundle.DeviceKexPub))
			if err != nil {
				return fmt.Errorf("bundle device_kex_pub: %w", err)
			}

			st, closeStore, err := openOperatorStore(dataDir)
			if err != nil {
				return err
			}
			defer closeStore()

			record, ok, err := st.GetPairing(deviceID, keys.ID)
			if err != nil {
				return fmt.Errorf("look up pairing: %w", err)
			}
			if !ok {
				return fmt.Errorf("no local pairing record for device %s; run \"pair\" first", deviceID)
			}

			sessionController := session.NewController(keys)
			now := time.Now()
			initReq, err := sessionController.BuildInitRequest(deviceID, requestedPermissions, keys.KexPub.Bytes(), now)
			if err != nil {
				return fmt.Errorf("build session init request: %w", err)
			}

			controllerDispatch := dispatch.NewController(keys)
			reqEnvelope, err := controllerDispatch.SealSessionInitRequest(deviceID, deviceKexPub, initReq)
			if err != nil {
				return fmt.Errorf("seal session init request: %w", err)
			}

			respEnvelope, err := exchangeEnvelope(bundle.EnvelopeSocket, reqEnvelope)
			if err != nil {
				return fmt.Errorf("exchange with device: %w", err)
			}

			ticket, zErr, err := controllerDispatch.OpenSessionInitResponse(respEnvelope, deviceID)
			if err != nil {
				return fmt.Errorf("open session init response: %w", err)
			}
			if zErr != nil {
				return fmt.Errorf("session rejected: %s", zErr.Message())
			}

			sessionKeys, zErr := sessionController.HandleResponse(ticket, record.DeviceSignPub, initReq.TicketBindingNonce, time.Now())
			if zErr != nil {
				return fmt.Errorf("session ticket invalid: %s", zErr.Message())
			}
			defer sessionKeys.Zero()

			fmt.Printf("Session established with device %s\n", deviceID)
			fmt.Printf("Ticket ID:   %x\n", ticket.TicketID)
			fmt.Printf("Session ID:  %x\n", ticket.SessionID)
			fmt.Printf("Permissions: %#04x\n", ticket.Permissions)
			fmt.Printf("Expires at:  %s\n", ticket.ExpiresAt)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "./data", "Directory for persistent identity and pairing store")
	cmd.Flags().StringVarP(&bundlePath, "bundle", "b", "", "Path to the device's invite bundle JSON file (required)")
	cmd.Flags().Uint32Var(&requestedPermissions, "permissions", consent.PermView|consent.PermControl, "Permissions to request for this session")
	cmd.MarkFlagRequired("bundle")
	return cmd
}

func pairingsCmd() *cobra.Command {
	var dataDir string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "pairings",
		Short: "List this operator's local pairing records",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeStore, err := openOperatorStore(dataDir)
			if err != nil {
				return err
			}
			defer closeStore()

			records, err := st.ListPairings()
			if err != nil {
				return fmt.Errorf("list pairings: %w", err)
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}

			fmt.Println("Pairings")
			fmt.Println("========")
			if len(records) == 0 {
				fmt.Println("No pairings.")
				return nil
			}
			for _, r := range records {
				fmt.Printf("%-66s perms=%#04x issued=%s\n", r.DeviceID, r.GrantedPermissions, r.IssuedAt)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "./data", "Directory for persistent identity and pairing store")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

// exchangeEnvelope dials socketPath, writes one framed, sealed
// envelope, and reads back exactly one framed response. This is the
// operator CLI's only transport code: it carries opaque bytes between
// a FrameWriter/FrameReader and dispatch.Controller's open/seal calls,
// never interpreting envelope contents itself.
func exchangeEnvelope(socketPath string, req *envelope.Envelope) (*envelope.Envelope, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial envelope socket: %w", err)
	}
	defer conn.Close()

	if err := wire.NewFrameWriter(conn).WriteFrame(envelope.Marshal(req)); err != nil {
		return nil, fmt.Errorf("write envelope frame: %w", err)
	}

	payload, err := wire.NewFrameReader(conn).ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("read envelope frame: %w", err)
	}
	return envelope.Unmarshal(payload)
}

// openOperatorStore opens the operator's local persistence for
// pairing records. Unlike a device, an operator has no invites or
// tickets of its own to persist, but it still needs PairingRecord
// lookups (for the pinned device_sign_pub used by session ticket
// verification), so it always uses a SQLite-backed store under
// dataDir so pairings survive across "pair" and "session" being
// separate invocations.
func openOperatorStore(dataDir string) (store.Store, func(), error) {
	path := dataDir + "/operator.db"
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("create data directory: %w", err)
	}
	st, err := store.OpenSQLiteStore(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open pairing store: %w", err)
	}
	return st, func() { _ = st.Close() }, nil
}

func mustHexDecode(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}
