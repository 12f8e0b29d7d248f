package gateway

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/dialectica/realtime/internal/room"
)

type fakeRoomStore struct {
	grace time.Duration

	mu           sync.Mutex
	disconnected []string
	reconnected  []string
	evicted      []string
}

func (f *fakeRoomStore) MarkDisconnected(_ uuid.UUID, identityID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, identityID)
}

func (f *fakeRoomStore) MarkReconnected(roomID uuid.UUID, identityID string) (room.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnected = append(f.reconnected, identityID)
	return room.Snapshot{RoomID: roomID, Seq: 7}, nil
}

func (f *fakeRoomStore) Evict(_ uuid.UUID, identityID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evicted = append(f.evicted, identityID)
}

func (f *fakeRoomStore) GraceWindow() time.Duration { return f.grace }

func (f *fakeRoomStore) evictedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.evicted...)
}

func testConn(id string) *Conn {
	return &Conn{
		ID:     id,
		send:   make(chan []byte, 8),
		closed: make(chan struct{}),
	}
}

// waitFor polls until cond holds. Grace expiry crosses a goroutine
// boundary after the fake clock advances.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestDetachWithoutRoomDropsSession(t *testing.T) {
	store := &fakeRoomStore{grace: 30 * time.Second}
	r := NewRegistry(clockwork.NewFakeClock(), store)

	identity := room.Identity{ID: "alice"}
	sess, rebind := r.Attach(testConn("c1"), identity)
	if rebind != nil {
		t.Fatal("fresh attach must not report a room to rebind")
	}

	r.Detach(sess)

	r.mu.Lock()
	_, exists := r.sessions[identity.ID]
	r.mu.Unlock()
	if exists {
		t.Fatal("roomless session should be dropped on detach")
	}
	if len(store.disconnected) != 0 {
		t.Fatal("no room membership, so no disconnect should be recorded")
	}
}

func TestGraceExpiryEvicts(t *testing.T) {
	store := &fakeRoomStore{grace: 30 * time.Second}
	clock := clockwork.NewFakeClock()
	r := NewRegistry(clock, store)

	identity := room.Identity{ID: "alice"}
	roomID := uuid.New()
	sess, _ := r.Attach(testConn("c1"), identity)
	r.BindRoom(sess, roomID)

	r.Detach(sess)
	if got := store.disconnected; len(got) != 1 || got[0] != "alice" {
		t.Fatalf("disconnected = %v, want [alice]", got)
	}

	clock.Advance(30 * time.Second)
	waitFor(t, func() bool {
		ids := store.evictedIDs()
		return len(ids) == 1 && ids[0] == "alice"
	})

	r.mu.Lock()
	_, exists := r.sessions[identity.ID]
	r.mu.Unlock()
	if exists {
		t.Fatal("evicted identity should have no session")
	}
}

func TestReattachWithinGraceRebinds(t *testing.T) {
	store := &fakeRoomStore{grace: 30 * time.Second}
	clock := clockwork.NewFakeClock()
	r := NewRegistry(clock, store)

	identity := room.Identity{ID: "alice"}
	roomID := uuid.New()
	sess, _ := r.Attach(testConn("c1"), identity)
	r.BindRoom(sess, roomID)
	r.Detach(sess)

	clock.Advance(10 * time.Second)

	sess2, rebind := r.Attach(testConn("c2"), identity)
	if rebind == nil || *rebind != roomID {
		t.Fatalf("rebind = %v, want %s", rebind, roomID)
	}
	// The room is untouched until Rebind, so the caller can subscribe to
	// the delta stream in between.
	if len(store.reconnected) != 0 {
		t.Fatalf("reconnected = %v before Rebind, want none", store.reconnected)
	}

	snap, ok := r.Rebind(sess2, *rebind)
	if !ok || snap == nil {
		t.Fatal("reattach inside the grace window must produce a resync snapshot")
	}
	if snap.RoomID != roomID {
		t.Fatalf("snapshot room = %s, want %s", snap.RoomID, roomID)
	}
	if got, ok := sess2.CurrentRoom(); !ok || got != roomID {
		t.Fatal("reattached session should be rebound to its old room")
	}
	if len(store.reconnected) != 1 {
		t.Fatalf("reconnected = %v, want one entry", store.reconnected)
	}

	// The canceled grace timer must never fire.
	clock.Advance(time.Minute)
	time.Sleep(10 * time.Millisecond)
	if ids := store.evictedIDs(); len(ids) != 0 {
		t.Fatalf("evicted = %v, want none after reattach", ids)
	}
}

func TestDuplicateAttachRebindsRoom(t *testing.T) {
	store := &fakeRoomStore{grace: 30 * time.Second}
	r := NewRegistry(clockwork.NewFakeClock(), store)

	identity := room.Identity{ID: "alice"}
	roomID := uuid.New()
	sess1, _ := r.Attach(testConn("c1"), identity)
	r.BindRoom(sess1, roomID)

	// The old connection is half-dead: the replacement attaches before any
	// Detach fires, so no grace window exists to rebind from.
	sess2, rebind := r.Attach(testConn("c2"), identity)
	if rebind == nil || *rebind != roomID {
		t.Fatalf("rebind = %v, want the replaced session's room %s", rebind, roomID)
	}

	snap, ok := r.Rebind(sess2, *rebind)
	if !ok || snap.RoomID != roomID {
		t.Fatal("replacement session must rebind into the identity's room")
	}
	if got, ok := sess2.CurrentRoom(); !ok || got != roomID {
		t.Fatal("replacement session should carry the room membership")
	}

	// The old connection's readPump exits afterwards; its stale detach
	// must not disturb the rebound session.
	r.Detach(sess1)
	if len(store.disconnected) != 0 {
		t.Fatal("stale detach must not mark the participant disconnected")
	}
	if got, ok := sess2.CurrentRoom(); !ok || got != roomID {
		t.Fatal("stale detach must not unbind the replacement session")
	}
}

func TestStaleDetachIgnored(t *testing.T) {
	store := &fakeRoomStore{grace: 30 * time.Second}
	r := NewRegistry(clockwork.NewFakeClock(), store)

	identity := room.Identity{ID: "alice"}
	sess1, _ := r.Attach(testConn("c1"), identity)
	r.BindRoom(sess1, uuid.New())
	sess2, _ := r.Attach(testConn("c2"), identity)

	// The old connection's readPump exits after the replacement attached.
	r.Detach(sess1)
	if len(store.disconnected) != 0 {
		t.Fatal("detach of a replaced session must not start a grace window")
	}

	r.mu.Lock()
	current := r.sessions[identity.ID]
	r.mu.Unlock()
	if current != sess2 {
		t.Fatal("replacement session should survive the stale detach")
	}
}

func TestSecondAttachClosesPreviousConn(t *testing.T) {
	store := &fakeRoomStore{grace: 30 * time.Second}
	r := NewRegistry(clockwork.NewFakeClock(), store)

	identity := room.Identity{ID: "alice"}
	c1 := testConn("c1")
	r.Attach(c1, identity)
	r.Attach(testConn("c2"), identity)

	select {
	case <-c1.closed:
	default:
		t.Fatal("previous connection should be closed on duplicate attach")
	}
}
