package hub

import (
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/moeru-ai/airi-sub003/internal/protocol"
)

var (
	uuidA = uuid.MustParse("aaaaaaaa-aaaa-3aaa-8aaa-aaaaaaaaaaaa")
	uuidB = uuid.MustParse("bbbbbbbb-bbbb-3bbb-8bbb-bbbbbbbbbbbb")
	uuidC = uuid.MustParse("cccccccc-cccc-3ccc-8ccc-cccccccccccc")
)

func TestRewriteNoOp(t *testing.T) {
	update := protocol.RosterUpdate{
		Actions: protocol.RosterAddPlayer,
		Entries: []protocol.RosterEntry{{UUID: uuidA, Name: "bot"}},
	}

	cases := []struct {
		name            string
		session, target TargetIdentity
	}{
		{"same identity", TargetIdentity{"bot", uuidA}, TargetIdentity{"bot", uuidA}},
		{"target unknown", TargetIdentity{"ghost", uuidB}, TargetIdentity{"bot", uuid.Nil}},
		{"session unknown", TargetIdentity{"ghost", uuid.Nil}, TargetIdentity{"bot", uuidA}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Rewrite(protocol.NamePlayerInfo, update, c.session, c.target)
			if !reflect.DeepEqual(got, update) {
				t.Errorf("got %+v, want unchanged", got)
			}
		})
	}
}

func TestRewriteRosterUpdate(t *testing.T) {
	update := protocol.RosterUpdate{
		Actions: protocol.RosterAddPlayer | protocol.RosterListed,
		Entries: []protocol.RosterEntry{
			{UUID: uuidC, Name: "alice", Tail: []byte{1}},
			{UUID: uuidA, Name: "bot", Tail: []byte{2}},
		},
	}
	session := TargetIdentity{"ghost", uuidB}
	target := TargetIdentity{"bot", uuidA}

	got := Rewrite(protocol.NamePlayerInfo, update, session, target).(protocol.RosterUpdate)
	if got.Actions != update.Actions {
		t.Errorf("actions = %#x", got.Actions)
	}
	if got.Entries[0].UUID != uuidC || got.Entries[0].Name != "alice" {
		t.Errorf("unrelated entry changed: %+v", got.Entries[0])
	}
	if got.Entries[1].UUID != uuidB || got.Entries[1].Name != "ghost" {
		t.Errorf("target entry = %+v, want ghost/%s", got.Entries[1], uuidB)
	}

	// input untouched
	if update.Entries[1].UUID != uuidA || update.Entries[1].Name != "bot" {
		t.Errorf("input mutated: %+v", update.Entries[1])
	}
}

func TestRewriteKeepsForeignName(t *testing.T) {
	update := protocol.RosterUpdate{
		Actions: protocol.RosterAddPlayer,
		Entries: []protocol.RosterEntry{{UUID: uuidA, Name: "renamed"}},
	}
	got := Rewrite(protocol.NamePlayerInfo, update, TargetIdentity{"ghost", uuidB}, TargetIdentity{"bot", uuidA}).(protocol.RosterUpdate)
	if got.Entries[0].UUID != uuidB || got.Entries[0].Name != "renamed" {
		t.Errorf("entry = %+v", got.Entries[0])
	}
}

func TestRewriteRosterRemove(t *testing.T) {
	remove := protocol.RosterRemove{UUIDs: []uuid.UUID{uuidC, uuidA}}
	got := Rewrite(protocol.NamePlayerRemove, remove, TargetIdentity{"ghost", uuidB}, TargetIdentity{"bot", uuidA}).(protocol.RosterRemove)

	if !reflect.DeepEqual(got.UUIDs, []uuid.UUID{uuidC, uuidB}) {
		t.Errorf("uuids = %v", got.UUIDs)
	}
	if remove.UUIDs[1] != uuidA {
		t.Error("input mutated")
	}
}

func TestRewriteEntityAndBossBar(t *testing.T) {
	session := TargetIdentity{"ghost", uuidB}
	target := TargetIdentity{"bot", uuidA}

	spawn := protocol.EntityAppeared{EntityID: 4, UUID: uuidA, Tail: []byte{9}}
	got := Rewrite(protocol.NameSpawnEntity, spawn, session, target).(protocol.EntityAppeared)
	if got.UUID != uuidB || got.EntityID != 4 {
		t.Errorf("spawn = %+v", got)
	}
	if spawn.UUID != uuidA {
		t.Error("spawn input mutated")
	}

	other := protocol.EntityAppeared{EntityID: 5, UUID: uuidC}
	if got := Rewrite(protocol.NameSpawnEntity, other, session, target); !reflect.DeepEqual(got, other) {
		t.Errorf("unrelated entity changed: %+v", got)
	}

	bar := protocol.GenericID{UUID: uuidA, Tail: []byte{0}}
	if got := Rewrite(protocol.NameBossBar, bar, session, target).(protocol.GenericID); got.UUID != uuidB {
		t.Errorf("boss bar = %+v", got)
	}
}

func TestRewriteIgnoresOtherPayloads(t *testing.T) {
	raw := protocol.Unrecognized{Body: []byte{0xaa, 0xaa}}
	got := Rewrite("map_chunk", raw, TargetIdentity{"ghost", uuidB}, TargetIdentity{"bot", uuidA})
	if !reflect.DeepEqual(got, raw) {
		t.Errorf("got %+v", got)
	}
}
