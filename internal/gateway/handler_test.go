package gateway

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dialectica/realtime/internal/room"
)

type catalogStub map[string]room.Format

func (c catalogStub) Get(name string) (room.Format, bool) {
	f, ok := c[name]
	return f, ok
}

func duelCatalog() catalogStub {
	return catalogStub{"duel": {
		Name: "duel",
		Roles: []room.RoleSlot{
			{Name: room.RoleDebaterA, Capacity: 1},
			{Name: room.RoleDebaterB, Capacity: 1},
			{Name: room.RoleAudience, Capacity: 0},
		},
		Phases: []room.Phase{
			{Name: "opening-a", Speaker: room.RoleDebaterA, Duration: time.Minute},
			{Name: "opening-b", Speaker: room.RoleDebaterB, Duration: time.Minute},
		},
	}}
}

func newTestHandler(t *testing.T) (*Handler, *room.Store, *Hub) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	hub := NewHub()
	store := room.NewStore(clock, room.DefaultConfig(), duelCatalog(), hub, room.NopSink{})
	t.Cleanup(store.Close)
	registry := NewRegistry(clock, store)
	return NewHandler(DefaultConnectionConfig(), registry, hub, store), store, hub
}

func readReply(t *testing.T, c *Conn) Reply {
	t.Helper()
	select {
	case data := <-c.send:
		var reply Reply
		if err := json.Unmarshal(data, &reply); err != nil {
			t.Fatalf("unmarshal reply: %v", err)
		}
		return reply
	default:
		t.Fatal("no reply queued")
		return Reply{}
	}
}

func TestResyncAtCurrentSeqIsIdempotent(t *testing.T) {
	h, store, hub := newTestHandler(t)

	host := room.Identity{ID: "alice", DisplayName: "Alice", Host: true}
	created, err := store.CreateRoom(host, "duel")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := store.Join(created.RoomID, host, room.RoleDebaterA); err != nil {
		t.Fatalf("Join: %v", err)
	}

	c := testConn("c1")
	hub.Subscribe(created.RoomID, c)

	current, _ := store.Snapshot(created.RoomID)
	h.handleResync(c, ClientCommand{Type: CmdResync, RequestID: "r1", LastSeq: current.Seq})
	first := readReply(t, c)
	if !first.OK || first.Snapshot == nil {
		t.Fatalf("resync reply = %+v, want ok with snapshot", first)
	}
	if first.Snapshot.Seq != current.Seq {
		t.Fatalf("snapshot seq = %d, want current %d", first.Snapshot.Seq, current.Seq)
	}

	// Replaying resync at the sequence just returned yields the same state.
	h.handleResync(c, ClientCommand{Type: CmdResync, RequestID: "r2", LastSeq: first.Snapshot.Seq})
	second := readReply(t, c)
	if !reflect.DeepEqual(first.Snapshot, second.Snapshot) {
		t.Fatalf("resync not idempotent:\nfirst:  %+v\nsecond: %+v", first.Snapshot, second.Snapshot)
	}
}

func TestResyncBehindClientGetsFullSnapshot(t *testing.T) {
	h, store, hub := newTestHandler(t)

	host := room.Identity{ID: "alice", DisplayName: "Alice", Host: true}
	created, _ := store.CreateRoom(host, "duel")
	store.Join(created.RoomID, host, room.RoleDebaterA)

	c := testConn("c1")
	hub.Subscribe(created.RoomID, c)

	// The room moves on while the client is behind.
	if _, err := store.Join(created.RoomID, room.Identity{ID: "bob"}, room.RoleDebaterB); err != nil {
		t.Fatalf("Join bob: %v", err)
	}
	for len(c.send) > 0 {
		<-c.send
	}

	h.handleResync(c, ClientCommand{Type: CmdResync, RequestID: "r1", LastSeq: 1})
	reply := readReply(t, c)
	if !reply.OK || reply.Snapshot == nil {
		t.Fatalf("resync reply = %+v, want ok with snapshot", reply)
	}
	current, _ := store.Snapshot(created.RoomID)
	if reply.Snapshot.Seq != current.Seq {
		t.Fatalf("snapshot seq = %d, want current %d", reply.Snapshot.Seq, current.Seq)
	}
	if len(reply.Snapshot.Participants) != 2 {
		t.Fatalf("snapshot has %d participants, want 2", len(reply.Snapshot.Participants))
	}
}
