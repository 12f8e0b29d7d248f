package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dialectica/realtime/internal/room/events"
)

func delta(roomID uuid.UUID, seq uint64) events.StateDelta {
	return events.New(roomID, seq, events.TypePhaseAdvanced, time.Unix(0, 0), nil)
}

func readDelta(t *testing.T, c *Conn) events.StateDelta {
	t.Helper()
	select {
	case data := <-c.send:
		var frame DeltaFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("unmarshal delta frame: %v", err)
		}
		if frame.Type != FrameStateDelta {
			t.Fatalf("frame type = %q, want %q", frame.Type, FrameStateDelta)
		}
		return frame.Delta
	default:
		t.Fatal("no frame queued")
		return events.StateDelta{}
	}
}

func TestPublishPreservesCommitOrder(t *testing.T) {
	hub := NewHub()
	roomID := uuid.New()
	c := testConn("c1")
	hub.Subscribe(roomID, c)

	for seq := uint64(1); seq <= 3; seq++ {
		hub.Publish(delta(roomID, seq))
	}

	for want := uint64(1); want <= 3; want++ {
		if got := readDelta(t, c).Seq; got != want {
			t.Fatalf("delta seq = %d, want %d", got, want)
		}
	}
}

func TestPublishOnlyReachesSubscribers(t *testing.T) {
	hub := NewHub()
	roomA, roomB := uuid.New(), uuid.New()
	ca, cb := testConn("ca"), testConn("cb")
	hub.Subscribe(roomA, ca)
	hub.Subscribe(roomB, cb)

	hub.Publish(delta(roomA, 1))

	if len(ca.send) != 1 {
		t.Fatalf("room A conn queued %d frames, want 1", len(ca.send))
	}
	if len(cb.send) != 0 {
		t.Fatalf("room B conn queued %d frames, want 0", len(cb.send))
	}
}

func TestPublishOverflowForcesResync(t *testing.T) {
	hub := NewHub()
	roomID := uuid.New()
	c := &Conn{ID: "slow", send: make(chan []byte, 2), closed: make(chan struct{})}
	hub.Subscribe(roomID, c)

	for seq := uint64(1); seq <= 3; seq++ {
		hub.Publish(delta(roomID, seq))
	}

	if !c.needResync.Load() {
		t.Fatal("overflowed connection should be flagged for resync")
	}
	if len(c.send) != 2 {
		t.Fatalf("queued %d frames, want the 2 that fit", len(c.send))
	}

	// While flagged, further deltas are skipped outright; the snapshot
	// that clears the flag supersedes them all.
	hub.Publish(delta(roomID, 4))
	if len(c.send) != 2 {
		t.Fatal("flagged connection must not queue more deltas")
	}
}

func TestCloseRoomDetachesSubscribers(t *testing.T) {
	hub := NewHub()
	roomID := uuid.New()
	c := testConn("c1")
	hub.Subscribe(roomID, c)

	hub.CloseRoom(roomID)

	if _, ok := c.room(); ok {
		t.Fatal("connection should be unbound after CloseRoom")
	}
	hub.Publish(delta(roomID, 1))
	if len(c.send) != 0 {
		t.Fatal("closed room must not deliver deltas")
	}
	if total, _ := hub.Stats(); total != 0 {
		t.Fatalf("stats report %d conns, want 0", total)
	}
}

func TestUnsubscribeRemovesEmptyRoom(t *testing.T) {
	hub := NewHub()
	roomID := uuid.New()
	c := testConn("c1")
	hub.Subscribe(roomID, c)

	hub.Unsubscribe(c)

	total, counts := hub.Stats()
	if total != 0 || len(counts) != 0 {
		t.Fatalf("stats = %d conns, %d rooms, want empty", total, len(counts))
	}
	if _, ok := c.room(); ok {
		t.Fatal("connection should be unbound after unsubscribe")
	}
}

func TestStats(t *testing.T) {
	hub := NewHub()
	roomA, roomB := uuid.New(), uuid.New()
	hub.Subscribe(roomA, testConn("c1"))
	hub.Subscribe(roomA, testConn("c2"))
	hub.Subscribe(roomB, testConn("c3"))

	total, counts := hub.Stats()
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	if counts[roomA.String()] != 2 || counts[roomB.String()] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}
