package hub

import (
	"github.com/google/uuid"

	"github.com/moeru-ai/airi-sub003/internal/protocol"
)

// Rewrite substitutes the hub's upstream identity with the session's own
// identity in a packet headed for that session. It never mutates payload;
// a new value is returned only when something was substituted.
func Rewrite(name string, payload protocol.Payload, session, target TargetIdentity) protocol.Payload {
	if target.UUID == uuid.Nil || session.UUID == uuid.Nil {
		return payload
	}
	if session.UUID == target.UUID && (target.Username == "" || session.Username == target.Username) {
		return payload
	}

	switch p := payload.(type) {
	case protocol.RosterUpdate:
		var entries []protocol.RosterEntry
		for i, e := range p.Entries {
			if e.UUID != target.UUID {
				continue
			}
			if entries == nil {
				entries = make([]protocol.RosterEntry, len(p.Entries))
				copy(entries, p.Entries)
			}
			e.UUID = session.UUID
			if target.Username != "" && e.Name == target.Username {
				e.Name = session.Username
			}
			entries[i] = e
		}
		if entries == nil {
			return payload
		}
		return protocol.RosterUpdate{Actions: p.Actions, Entries: entries}

	case protocol.RosterRemove:
		var ids []uuid.UUID
		for i, id := range p.UUIDs {
			if id != target.UUID {
				continue
			}
			if ids == nil {
				ids = make([]uuid.UUID, len(p.UUIDs))
				copy(ids, p.UUIDs)
			}
			ids[i] = session.UUID
		}
		if ids == nil {
			return payload
		}
		return protocol.RosterRemove{UUIDs: ids}

	case protocol.EntityAppeared:
		if p.UUID == target.UUID {
			p.UUID = session.UUID
			return p
		}

	case protocol.GenericID:
		if p.UUID == target.UUID {
			p.UUID = session.UUID
			return p
		}
	}
	return payload
}
