// This file is part of fgevents.
//
// SPDX-License-Identifier: AGPL3.0-or-later

package peertable

import "testing"

func TestAddBindLookup(t *testing.T) {
	tb := New()
	e := tb.Add(nil, 7)

	if got, ok := tb.LookupByHandshake(7); !ok || got != e {
		t.Fatalf("LookupByHandshake(7) = %v, %v", got, ok)
	}

	evicted, ok := tb.Bind(e, 2)
	if !ok || evicted != nil {
		t.Fatalf("Bind = %v, %v, want ok=true evicted=nil", evicted, ok)
	}
	if _, found := tb.LookupByHandshake(7); found {
		t.Fatal("handshake slot should be cleared after bind")
	}
	got, ok := tb.LookupByPeer(2)
	if !ok || got != e || got.State != Connected {
		t.Fatalf("LookupByPeer(2) = %+v, %v", got, ok)
	}
}

func TestBindRejectsDuplicateConnectedIdentity(t *testing.T) {
	tb := New()
	e1 := tb.Add(nil, 1)
	if _, ok := tb.Bind(e1, 5); !ok {
		t.Fatal("first bind should succeed")
	}

	e2 := tb.Add(nil, 2)
	evicted, ok := tb.Bind(e2, 5)
	if ok {
		t.Fatal("bind onto a Connected peer id must be rejected")
	}
	if evicted != nil {
		t.Fatal("no eviction should happen on a rejected bind")
	}
	got, _ := tb.LookupByPeer(5)
	if got != e1 {
		t.Fatal("incumbent connection must remain bound")
	}
}

func TestBindEvictsNonConnectedIncumbent(t *testing.T) {
	tb := New()
	e1 := tb.Add(nil, 1)
	tb.Bind(e1, 9)
	tb.SetState(e1, Disconnected)

	e2 := tb.Add(nil, 2)
	evicted, ok := tb.Bind(e2, 9)
	if !ok {
		t.Fatal("bind over a non-Connected incumbent should succeed")
	}
	if evicted != e1 {
		t.Fatalf("evicted = %v, want e1", evicted)
	}
	got, _ := tb.LookupByPeer(9)
	if got != e2 {
		t.Fatal("new connection should now hold the peer slot")
	}
}

func TestRemoveClearsWhicheverIndexHoldsTheEntry(t *testing.T) {
	tb := New()
	parked := tb.Add(nil, 3)
	tb.Remove(parked)
	if _, ok := tb.LookupByHandshake(3); ok {
		t.Fatal("handshake-indexed entry should be removed")
	}

	bound := tb.Add(nil, 4)
	tb.Bind(bound, 11)
	tb.Remove(bound)
	if _, ok := tb.LookupByPeer(11); ok {
		t.Fatal("peer-indexed entry should be removed")
	}
}

func TestAddNextSkipsIdsLiveInEitherIndex(t *testing.T) {
	tb := New()
	// Occupy handshake id 0 (the cursor's starting point) directly in
	// the handshake index, and peer id 1 in the peer index, so the
	// very first two candidates AddNext would try are both taken.
	tb.Add(nil, 0)
	parked := tb.Add(nil, 9)
	bound, ok := tb.Bind(parked, 1)
	if bound != nil || !ok {
		t.Fatal("setup bind failed")
	}

	e, err := tb.AddNext(nil)
	if err != nil {
		t.Fatal(err)
	}
	if e.HandshakeID == 0 || e.HandshakeID == 1 {
		t.Fatalf("AddNext returned colliding id %d", e.HandshakeID)
	}
	if _, ok := tb.LookupByHandshake(e.HandshakeID); !ok {
		t.Fatal("AddNext did not register the new entry")
	}
}

func TestAddNextNeverReturnsSameIDTwiceWhileBothLive(t *testing.T) {
	tb := New()
	e1, err := tb.AddNext(nil)
	if err != nil {
		t.Fatal(err)
	}
	e2, err := tb.AddNext(nil)
	if err != nil {
		t.Fatal(err)
	}
	if e1.HandshakeID == e2.HandshakeID {
		t.Fatalf("AddNext handed out the same id %d twice while both are live", e1.HandshakeID)
	}
}

func TestAddNextSaturatedReturnsError(t *testing.T) {
	tb := New()
	for i := 0; i < 256; i++ {
		if _, err := tb.AddNext(nil); err != nil {
			t.Fatalf("unexpected saturation at i=%d: %v", i, err)
		}
	}
	if _, err := tb.AddNext(nil); err != ErrSaturated {
		t.Fatalf("AddNext with all 256 ids live = %v, want ErrSaturated", err)
	}
}

func TestSnapshotCoversBothIndices(t *testing.T) {
	tb := New()
	parked := tb.Add(nil, 1)
	bound := tb.Add(nil, 2)
	tb.Bind(bound, 20)

	snap := tb.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot len = %d, want 2", len(snap))
	}
	seen := map[*Entry]bool{}
	for _, e := range snap {
		seen[e] = true
	}
	if !seen[parked] || !seen[bound] {
		t.Fatal("snapshot missing an entry")
	}
}
