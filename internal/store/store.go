// Package store defines the persistence capability pairing and session
// state machines are built against, plus an in-memory implementation.
package store

import (
	"errors"
	"sync"
	"time"

	"github.com/zrc-project/zrc/internal/identity"
)

// ErrNotFound is returned by lookups that find nothing.
var ErrNotFound = errors.New("store: not found")

// InviteRecord is the host-side persisted half of an Invite; the raw
// secret never leaves the host.
type InviteRecord struct {
	DeviceID      identity.ID
	DeviceSignPub []byte
	InviteSecret  []byte
	ExpiresAt     time.Time
}

// PairingRecord is the persistent, bidirectional trust anchor keyed by
// (device_id, operator_id).
type PairingRecord struct {
	DeviceID                identity.ID
	OperatorID               identity.ID
	DeviceSignPub            []byte
	OperatorSignPub          []byte
	OperatorKexPub           []byte
	GrantedPermissions       uint32
	UnattendedEnabled        bool
	RequireConsentEachTime   bool
	IssuedAt                 time.Time
	LastSessionAt            time.Time
}

// TicketRecord is the persisted half of a SessionTicket, keyed by
// ticket_id.
type TicketRecord struct {
	TicketID       [16]byte
	SessionID      [32]byte
	OperatorID     identity.ID
	DeviceID       identity.ID
	Permissions    uint32
	ExpiresAt      time.Time
	SessionBinding [32]byte
}

// pairingKey is the composite key PairingRecords are addressed by.
type pairingKey struct {
	device   identity.ID
	operator identity.ID
}

// Store is the capability-style persistence abstraction pairing and
// session managers are built against. Every injection site in the rest
// of the core names this single interface, never a concrete backend.
type Store interface {
	PutInvite(record InviteRecord) error
	// TakeInvite atomically removes and returns the invite for
	// deviceID if present and unexpired. TTL is checked here
	// regardless of whether a background sweep has run.
	TakeInvite(deviceID identity.ID, now time.Time) (InviteRecord, bool, error)

	PutPairing(record PairingRecord) error
	GetPairing(deviceID, operatorID identity.ID) (PairingRecord, bool, error)
	ListPairings() ([]PairingRecord, error)
	RevokePairing(deviceID, operatorID identity.ID) error

	PutTicket(record TicketRecord) error
	GetTicket(ticketID [16]byte) (TicketRecord, bool, error)
	DeleteTicket(ticketID [16]byte) error
	ExpireTickets(now time.Time) (int, error)
}

// MemoryStore is an in-memory Store guarded by a single reader-writer
// lock; writes are all-or-nothing and concurrent TakeInvite calls for
// the same device_id return true to exactly one caller.
type MemoryStore struct {
	mu       sync.RWMutex
	invites  map[identity.ID]InviteRecord
	pairings map[pairingKey]PairingRecord
	tickets  map[[16]byte]TicketRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		invites:  make(map[identity.ID]InviteRecord),
		pairings: make(map[pairingKey]PairingRecord),
		tickets:  make(map[[16]byte]TicketRecord),
	}
}

func (s *MemoryStore) PutInvite(record InviteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invites[record.DeviceID] = record
	return nil
}

func (s *MemoryStore) TakeInvite(deviceID identity.ID, now time.Time) (InviteRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.invites[deviceID]
	if !ok {
		return InviteRecord{}, false, nil
	}
	// Always delete on the first observation, whether or not it is
	// expired: a second concurrent call must see nothing, and an
	// expired record must never be handed out.
	delete(s.invites, deviceID)
	if !now.Before(record.ExpiresAt) {
		return InviteRecord{}, false, nil
	}
	return record, true, nil
}

func (s *MemoryStore) PutPairing(record PairingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairings[pairingKey{device: record.DeviceID, operator: record.OperatorID}] = record
	return nil
}

func (s *MemoryStore) GetPairing(deviceID, operatorID identity.ID) (PairingRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.pairings[pairingKey{device: deviceID, operator: operatorID}]
	return record, ok, nil
}

func (s *MemoryStore) ListPairings() ([]PairingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PairingRecord, 0, len(s.pairings))
	for _, r := range s.pairings {
		out = append(out, r)
	}
	return out, nil
}

func (s *MemoryStore) RevokePairing(deviceID, operatorID identity.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pairings, pairingKey{device: deviceID, operator: operatorID})
	return nil
}

func (s *MemoryStore) PutTicket(record TicketRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[record.TicketID] = record
	return nil
}

func (s *MemoryStore) GetTicket(ticketID [16]byte) (TicketRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.tickets[ticketID]
	return record, ok, nil
}

func (s *MemoryStore) DeleteTicket(ticketID [16]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tickets, ticketID)
	return nil
}

func (s *MemoryStore) ExpireTickets(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, record := range s.tickets {
		if !now.Before(record.ExpiresAt) {
			delete(s.tickets, id)
			n++
		}
	}
	return n, nil
}
