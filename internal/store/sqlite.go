package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/zrc-project/zrc/internal/identity"
)

// schema creates the invites, pairings, and tickets tables. There is
// no audit_events table: internal/audit keeps its signed log in memory
// only, and audit events are not persisted here or anywhere else.
const schema = `
CREATE TABLE IF NOT EXISTS invites (
	device_id TEXT PRIMARY KEY,
	device_sign_pub BLOB NOT NULL,
	invite_secret BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pairings (
	device_id TEXT NOT NULL,
	operator_id TEXT NOT NULL,
	device_sign_pub BLOB NOT NULL,
	operator_sign_pub BLOB NOT NULL,
	operator_kex_pub BLOB NOT NULL,
	permissions INTEGER NOT NULL,
	unattended_enabled INTEGER NOT NULL,
	require_consent_each_time INTEGER NOT NULL,
	issued_at INTEGER NOT NULL,
	last_session_at INTEGER NOT NULL,
	PRIMARY KEY (device_id, operator_id)
);

CREATE TABLE IF NOT EXISTS tickets (
	ticket_id TEXT PRIMARY KEY,
	session_id BLOB NOT NULL,
	operator_id TEXT NOT NULL,
	device_id TEXT NOT NULL,
	permissions INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	session_binding BLOB NOT NULL
);
`

// SQLiteStore is a database/sql-backed Store for persistent
// deployments, satisfying the same atomicity contract as MemoryStore.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if necessary) a SQLite-backed store
// at path and applies the schema.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// A single connection keeps TakeInvite's check-then-delete atomic
	// without a separate application-level lock; SQLite itself only
	// supports one writer at a time regardless.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) PutInvite(record InviteRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO invites (device_id, device_sign_pub, invite_secret, expires_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(device_id) DO UPDATE SET
		   device_sign_pub = excluded.device_sign_pub,
		   invite_secret = excluded.invite_secret,
		   expires_at = excluded.expires_at`,
		record.DeviceID.String(), record.DeviceSignPub, record.InviteSecret, record.ExpiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("put invite: %w", err)
	}
	return nil
}

func (s *SQLiteStore) TakeInvite(deviceID identity.ID, now time.Time) (InviteRecord, bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return InviteRecord{}, false, fmt.Errorf("take invite: begin: %w", err)
	}
	defer tx.Rollback()

	var signPub, secret []byte
	var expiresAtUnix int64
	row := tx.QueryRow(`SELECT device_sign_pub, invite_secret, expires_at FROM invites WHERE device_id = ?`, deviceID.String())
	if err := row.Scan(&signPub, &secret, &expiresAtUnix); err != nil {
		if err == sql.ErrNoRows {
			return InviteRecord{}, false, nil
		}
		return InviteRecord{}, false, fmt.Errorf("take invite: scan: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM invites WHERE device_id = ?`, deviceID.String()); err != nil {
		return InviteRecord{}, false, fmt.Errorf("take invite: delete: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return InviteRecord{}, false, fmt.Errorf("take invite: commit: %w", err)
	}

	expiresAt := time.Unix(expiresAtUnix, 0)
	if !now.Before(expiresAt) {
		return InviteRecord{}, false, nil
	}

	return InviteRecord{
		DeviceID:      deviceID,
		DeviceSignPub: signPub,
		InviteSecret:  secret,
		ExpiresAt:     expiresAt,
	}, true, nil
}

func (s *SQLiteStore) PutPairing(record PairingRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO pairings (device_id, operator_id, device_sign_pub, operator_sign_pub, operator_kex_pub,
		   permissions, unattended_enabled, require_consent_each_time, issued_at, last_session_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(device_id, operator_id) DO UPDATE SET
		   device_sign_pub = excluded.device_sign_pub,
		   operator_sign_pub = excluded.operator_sign_pub,
		   operator_kex_pub = excluded.operator_kex_pub,
		   permissions = excluded.permissions,
		   unattended_enabled = excluded.unattended_enabled,
		   require_consent_each_time = excluded.require_consent_each_time,
		   issued_at = excluded.issued_at,
		   last_session_at = excluded.last_session_at`,
		record.DeviceID.String(), record.OperatorID.String(), record.DeviceSignPub, record.OperatorSignPub, record.OperatorKexPub,
		record.GrantedPermissions, record.UnattendedEnabled, record.RequireConsentEachTime,
		record.IssuedAt.Unix(), record.LastSessionAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("put pairing: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetPairing(deviceID, operatorID identity.ID) (PairingRecord, bool, error) {
	row := s.db.QueryRow(
		`SELECT device_sign_pub, operator_sign_pub, operator_kex_pub, permissions,
		        unattended_enabled, require_consent_each_time, issued_at, last_session_at
		 FROM pairings WHERE device_id = ? AND operator_id = ?`,
		deviceID.String(), operatorID.String(),
	)

	var record PairingRecord
	var issuedAtUnix, lastSessionAtUnix int64
	err := row.Scan(&record.DeviceSignPub, &record.OperatorSignPub, &record.OperatorKexPub,
		&record.GrantedPermissions, &record.UnattendedEnabled, &record.RequireConsentEachTime,
		&issuedAtUnix, &lastSessionAtUnix)
	if err == sql.ErrNoRows {
		return PairingRecord{}, false, nil
	}
	if err != nil {
		return PairingRecord{}, false, fmt.Errorf("get pairing: %w", err)
	}

	record.DeviceID = deviceID
	record.OperatorID = operatorID
	record.IssuedAt = time.Unix(issuedAtUnix, 0)
	record.LastSessionAt = time.Unix(lastSessionAtUnix, 0)
	return record, true, nil
}

func (s *SQLiteStore) ListPairings() ([]PairingRecord, error) {
	rows, err := s.db.Query(
		`SELECT device_id, operator_id, device_sign_pub, operator_sign_pub, operator_kex_pub,
		        permissions, unattended_enabled, require_consent_each_time, issued_at, last_session_at
		 FROM pairings`)
	if err != nil {
		return nil, fmt.Errorf("list pairings: %w", err)
	}
	defer rows.Close()

	var out []PairingRecord
	for rows.Next() {
		var record PairingRecord
		var deviceIDStr, operatorIDStr string
		var issuedAtUnix, lastSessionAtUnix int64
		if err := rows.Scan(&deviceIDStr, &operatorIDStr, &record.DeviceSignPub, &record.OperatorSignPub,
			&record.OperatorKexPub, &record.GrantedPermissions, &record.UnattendedEnabled,
			&record.RequireConsentEachTime, &issuedAtUnix, &lastSessionAtUnix); err != nil {
			return nil, fmt.Errorf("list pairings: scan: %w", err)
		}
		deviceID, err := identity.ParseID(deviceIDStr)
		if err != nil {
			return nil, fmt.Errorf("list pairings: parse device_id: %w", err)
		}
		operatorID, err := identity.ParseID(operatorIDStr)
		if err != nil {
			return nil, fmt.Errorf("list pairings: parse operator_id: %w", err)
		}
		record.DeviceID = deviceID
		record.OperatorID = operatorID
		record.IssuedAt = time.Unix(issuedAtUnix, 0)
		record.LastSessionAt = time.Unix(lastSessionAtUnix, 0)
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RevokePairing(deviceID, operatorID identity.ID) error {
	_, err := s.db.Exec(`DELETE FROM pairings WHERE device_id = ? AND operator_id = ?`, deviceID.String(), operatorID.String())
	if err != nil {
		return fmt.Errorf("revoke pairing: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PutTicket(record TicketRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO tickets (ticket_id, session_id, operator_id, device_id, permissions, expires_at, session_binding)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(ticket_id) DO UPDATE SET
		   session_id = excluded.session_id,
		   operator_id = excluded.operator_id,
		   device_id = excluded.device_id,
		   permissions = excluded.permissions,
		   expires_at = excluded.expires_at,
		   session_binding = excluded.session_binding`,
		fmt.Sprintf("%x", record.TicketID), record.SessionID[:], record.OperatorID.String(), record.DeviceID.String(),
		record.Permissions, record.ExpiresAt.Unix(), record.SessionBinding[:],
	)
	if err != nil {
		return fmt.Errorf("put ticket: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTicket(ticketID [16]byte) (TicketRecord, bool, error) {
	row := s.db.QueryRow(
		`SELECT session_id, operator_id, device_id, permissions, expires_at, session_binding
		 FROM tickets WHERE ticket_id = ?`, fmt.Sprintf("%x", ticketID))

	var record TicketRecord
	var sessionID, sessionBinding []byte
	var operatorIDStr, deviceIDStr string
	var expiresAtUnix int64
	err := row.Scan(&sessionID, &operatorIDStr, &deviceIDStr, &record.Permissions, &expiresAtUnix, &sessionBinding)
	if err == sql.ErrNoRows {
		return TicketRecord{}, false, nil
	}
	if err != nil {
		return TicketRecord{}, false, fmt.Errorf("get ticket: %w", err)
	}

	operatorID, err := identity.ParseID(operatorIDStr)
	if err != nil {
		return TicketRecord{}, false, fmt.Errorf("get ticket: parse operator_id: %w", err)
	}
	deviceID, err := identity.ParseID(deviceIDStr)
	if err != nil {
		return TicketRecord{}, false, fmt.Errorf("get ticket: parse device_id: %w", err)
	}

	record.TicketID = ticketID
	record.OperatorID = operatorID
	record.DeviceID = deviceID
	record.ExpiresAt = time.Unix(expiresAtUnix, 0)
	copy(record.SessionID[:], sessionID)
	copy(record.SessionBinding[:], sessionBinding)
	return record, true, nil
}

func (s *SQLiteStore) DeleteTicket(ticketID [16]byte) error {
	_, err := s.db.Exec(`DELETE FROM tickets WHERE ticket_id = ?`, fmt.Sprintf("%x", ticketID))
	if err != nil {
		return fmt.Errorf("delete ticket: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ExpireTickets(now time.Time) (int, error) {
	result, err := s.db.Exec(`DELETE FROM tickets WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("expire tickets: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire tickets: rows affected: %w", err)
	}
	return int(n), nil
}
