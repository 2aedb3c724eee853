package core

import "testing"

func TestRegistrySnapshotIsPointInTimeCopy(t *testing.T) {
	r := NewRegistry()
	a := NewConnection(1, Identity{UserID: 1}, 1)
	b := NewConnection(1, Identity{UserID: 2}, 1)
	r.Register(1, a)
	r.Register(1, b)

	snap := r.Snapshot(1)
	r.Unregister(1, a)

	if len(snap) != 2 || snap[0] != a || snap[1] != b {
		t.Fatalf("snapshot changed after unregister: %+v", snap)
	}
	if got := r.Snapshot(1); len(got) != 1 || got[0] != b {
		t.Fatalf("unexpected membership after unregister: %+v", got)
	}
}

func TestRegistryUnregisterAbsentIsNoop(t *testing.T) {
	r := NewRegistry()
	a := NewConnection(1, Identity{UserID: 1}, 1)

	if r.Unregister(1, a) {
		t.Fatalf("expected unregister of absent connection to report false")
	}
	r.Register(1, a)
	if r.Unregister(2, a) {
		t.Fatalf("expected unregister from wrong channel to report false")
	}
	if r.Len(1) != 1 {
		t.Fatalf("expected connection to stay registered")
	}
}

func TestRegistryIsUserConnectedAnywhere(t *testing.T) {
	r := NewRegistry()
	inOne := NewConnection(1, Identity{UserID: 7}, 1)
	inTwo := NewConnection(2, Identity{UserID: 7}, 1)
	r.Register(1, inOne)
	r.Register(2, inTwo)

	r.Unregister(1, inOne)
	if !r.IsUserConnectedAnywhere(7) {
		t.Fatalf("user should still be connected through channel 2")
	}
	r.Unregister(2, inTwo)
	if r.IsUserConnectedAnywhere(7) {
		t.Fatalf("user should not be connected anymore")
	}
	if r.Total() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Total())
	}
}

func TestRegistryHasOtherUser(t *testing.T) {
	r := NewRegistry()
	r.Register(5, NewConnection(5, Identity{UserID: 1}, 1))
	r.Register(5, NewConnection(5, Identity{UserID: 1}, 1))

	if r.HasOtherUser(5, 1) {
		t.Fatalf("two devices of the same user are not another user")
	}
	r.Register(5, NewConnection(5, Identity{UserID: 2}, 1))
	if !r.HasOtherUser(5, 1) {
		t.Fatalf("expected user 2 to count as another user")
	}
}
