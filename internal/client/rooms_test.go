// ABOUTME: Tests for room membership tracking
// ABOUTME: Covers join/leave semantics and disconnect-time purging

package client

import (
	"sort"
	"testing"
)

func TestRooms_JoinAndMembers(t *testing.T) {
	rooms := NewRooms(nil)

	rooms.Join("room-1", "alice")
	rooms.Join("room-1", "bob")
	rooms.Join("room-1", "alice") // duplicate join is a no-op

	members := rooms.Members("room-1")
	sort.Strings(members)
	if len(members) != 2 || members[0] != "alice" || members[1] != "bob" {
		t.Errorf("Members = %v, want [alice bob]", members)
	}

	if !rooms.Contains("room-1", "alice") {
		t.Error("Contains(room-1, alice) = false, want true")
	}
	if rooms.Contains("room-1", "carol") {
		t.Error("Contains(room-1, carol) = true, want false")
	}
}

func TestRooms_Leave(t *testing.T) {
	rooms := NewRooms(nil)

	rooms.Join("room-1", "alice")
	rooms.Join("room-1", "bob")
	rooms.Leave("room-1", "alice")

	members := rooms.Members("room-1")
	if len(members) != 1 || members[0] != "bob" {
		t.Errorf("Members = %v, want [bob]", members)
	}

	// Leaving a room the user never joined is harmless
	rooms.Leave("room-2", "alice")
	rooms.Leave("room-1", "carol")
}

func TestRooms_MembersOfUnknownRoom(t *testing.T) {
	rooms := NewRooms(nil)
	if members := rooms.Members("nope"); members != nil {
		t.Errorf("Members of unknown room = %v, want nil", members)
	}
}

func TestRooms_LeaveAll(t *testing.T) {
	rooms := NewRooms(nil)

	rooms.Join("room-1", "alice")
	rooms.Join("room-2", "alice")
	rooms.Join("room-2", "bob")
	rooms.Join("room-3", "bob")

	left := rooms.LeaveAll("alice")
	sort.Strings(left)
	if len(left) != 2 || left[0] != "room-1" || left[1] != "room-2" {
		t.Errorf("LeaveAll = %v, want [room-1 room-2]", left)
	}

	if rooms.Contains("room-1", "alice") || rooms.Contains("room-2", "alice") {
		t.Error("alice still a member after LeaveAll")
	}
	if !rooms.Contains("room-2", "bob") {
		t.Error("bob evicted by alice's LeaveAll")
	}

	if left := rooms.LeaveAll("nobody"); left != nil {
		t.Errorf("LeaveAll for unknown user = %v, want nil", left)
	}
}
