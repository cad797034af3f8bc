package chat

import (
	"sort"
	"sync"
	"testing"
)

func TestJoinIdempotent(t *testing.T) {
	d := NewRoomDirectory()
	conn := NewConnection("s1", 1, "alice")

	d.Join(10, conn)
	d.Join(10, conn)

	if got := d.Subscribers(10); len(got) != 1 {
		t.Fatalf("len(Subscribers(10)) = %d, want 1", len(got))
	}
	if !conn.Subscribed(10) {
		t.Fatal("Subscribed(10) = false after join")
	}
}

func TestLeaveIdempotent(t *testing.T) {
	d := NewRoomDirectory()
	conn := NewConnection("s1", 1, "alice")

	// Leaving a room never joined is a no-op.
	d.Leave(10, conn)

	d.Join(10, conn)
	d.Leave(10, conn)
	d.Leave(10, conn)

	if got := d.Subscribers(10); len(got) != 0 {
		t.Fatalf("len(Subscribers(10)) = %d, want 0", len(got))
	}
	if conn.Subscribed(10) {
		t.Fatal("Subscribed(10) = true after leave")
	}
}

func TestSubscribersIsSnapshot(t *testing.T) {
	d := NewRoomDirectory()
	a := NewConnection("s1", 1, "alice")
	b := NewConnection("s2", 2, "bob")

	d.Join(10, a)
	snapshot := d.Subscribers(10)

	d.Join(10, b)
	if len(snapshot) != 1 {
		t.Fatalf("snapshot grew after later join: %d", len(snapshot))
	}
	if got := d.Subscribers(10); len(got) != 2 {
		t.Fatalf("len(Subscribers(10)) = %d, want 2", len(got))
	}
}

func TestPurgeRemovesEverywhere(t *testing.T) {
	d := NewRoomDirectory()
	conn := NewConnection("s1", 1, "alice")
	other := NewConnection("s2", 2, "bob")

	for _, roomID := range []int{1, 2, 3} {
		d.Join(roomID, conn)
	}
	d.Join(2, other)

	purged := d.Purge(conn)
	sort.Ints(purged)
	want := []int{1, 2, 3}
	if len(purged) != len(want) {
		t.Fatalf("Purge() = %v, want %v", purged, want)
	}
	for i := range want {
		if purged[i] != want[i] {
			t.Fatalf("Purge() = %v, want %v", purged, want)
		}
	}

	for _, roomID := range []int{1, 2, 3} {
		for _, sub := range d.Subscribers(roomID) {
			if sub == conn {
				t.Fatalf("room %d still lists purged connection", roomID)
			}
		}
	}
	if len(conn.Rooms()) != 0 {
		t.Fatalf("Rooms() = %v after purge, want empty", conn.Rooms())
	}

	// The other connection's membership survives the purge.
	if got := d.Subscribers(2); len(got) != 1 || got[0] != other {
		t.Fatalf("Subscribers(2) = %v, want [other]", got)
	}
}

func TestRejoinAfterRoomEvicted(t *testing.T) {
	d := NewRoomDirectory()
	conn := NewConnection("s1", 1, "alice")

	d.Join(10, conn)
	d.Leave(10, conn)
	d.Join(10, conn)

	if got := d.Subscribers(10); len(got) != 1 {
		t.Fatalf("len(Subscribers(10)) = %d after rejoin, want 1", len(got))
	}
}

func TestConcurrentJoinLeaveChurn(t *testing.T) {
	d := NewRoomDirectory()

	var wg sync.WaitGroup
	conns := make([]*Connection, 16)
	for i := range conns {
		conns[i] = NewConnection("s", i, "u")
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				d.Join(7, c)
				d.Subscribers(7)
				d.Leave(7, c)
			}
			d.Join(7, c)
		}(conns[i])
	}
	wg.Wait()

	if got := d.Subscribers(7); len(got) != len(conns) {
		t.Fatalf("len(Subscribers(7)) = %d after churn, want %d", len(got), len(conns))
	}

	for _, c := range conns {
		d.Purge(c)
	}
	if got := d.Subscribers(7); len(got) != 0 {
		t.Fatalf("len(Subscribers(7)) = %d after purge, want 0", len(got))
	}
}
