package hub

import (
	"time"

	"github.com/google/uuid"

	"github.com/moeru-ai/airi-sub003/internal/protocol"
)

// Role is the part a downstream plays.
type Role string

const (
	RoleController Role = "controller"
	RoleObserver   Role = "observer"
)

// Conn is a protocol connection handle as the hub sees it.
type Conn interface {
	ID() uint64
	Username() string
	UUID() uuid.UUID
	// Phase is the outbound framing phase; SetPhase moves it.
	Phase() protocol.Phase
	SetPhase(protocol.Phase)
	SetCompressionThreshold(int)
	Write(name string, payload protocol.Payload) error
	WriteRaw(raw []byte) error
	End(reason string) error
	Ended() bool
}

// Session is one registered downstream.
type Session struct {
	Role         Role
	Username     string
	UUID         uuid.UUID
	Downstream   Conn
	ReadyForPlay bool
	JoinedAt     time.Time
}

func (s *Session) identity() TargetIdentity {
	return TargetIdentity{Username: s.Username, UUID: s.UUID}
}

// sessionRegistry keeps sessions in registration order.
type sessionRegistry struct {
	list []*Session
}

func (r *sessionRegistry) add(s *Session) {
	r.list = append(r.list, s)
}

func (r *sessionRegistry) remove(connID uint64) *Session {
	for i, s := range r.list {
		if s.Downstream.ID() == connID {
			r.list = append(r.list[:i:i], r.list[i+1:]...)
			return s
		}
	}
	return nil
}

func (r *sessionRegistry) get(connID uint64) *Session {
	for _, s := range r.list {
		if s.Downstream.ID() == connID {
			return s
		}
	}
	return nil
}

func (r *sessionRegistry) hasRole(role Role) bool {
	for _, s := range r.list {
		if s.Role == role {
			return true
		}
	}
	return false
}

// all returns a snapshot safe to iterate while sessions are removed.
func (r *sessionRegistry) all() []*Session {
	out := make([]*Session, len(r.list))
	copy(out, r.list)
	return out
}

func (r *sessionRegistry) clear() []*Session {
	out := r.list
	r.list = nil
	return out
}

func (r *sessionRegistry) len() int {
	return len(r.list)
}
