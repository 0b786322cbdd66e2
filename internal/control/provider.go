package control

import (
	"github.com/zrc-project/zrc/internal/audit"
	"github.com/zrc-project/zrc/internal/identity"
	"github.com/zrc-project/zrc/internal/store"
)

// sessionCounter is satisfied by session.Host; kept narrow so this
// package does not need to import internal/session (an operator
// process that only ever pairs, never hosts, has no use for it).
type sessionCounter interface {
	ActiveSessionCount() int
}

// DeviceStatusProvider adapts a device's identity, store, and audit log
// into the StatusProvider the control server exposes. sessions is
// optional: pass nil on a process that never runs a session.Host (an
// operator has nothing to host).
type DeviceStatusProvider struct {
	keys     *identity.Keys
	store    store.Store
	auditLog *audit.Log
	sessions sessionCounter
}

// NewDeviceStatusProvider constructs a DeviceStatusProvider.
func NewDeviceStatusProvider(keys *identity.Keys, st store.Store, auditLog *audit.Log, sessions sessionCounter) *DeviceStatusProvider {
	return &DeviceStatusProvider{keys: keys, store: st, auditLog: auditLog, sessions: sessions}
}

func (p *DeviceStatusProvider) DeviceID() identity.ID {
	return p.keys.ID
}

func (p *DeviceStatusProvider) Pairings() ([]store.PairingRecord, error) {
	return p.store.ListPairings()
}

func (p *DeviceStatusProvider) ActiveSessionCount() int {
	if p.sessions == nil {
		return 0
	}
	return p.sessions.ActiveSessionCount()
}

func (p *DeviceStatusProvider) AuditEventCount() int {
	return p.auditLog.Len()
}
