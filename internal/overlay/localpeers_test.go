package overlay

import (
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

func TestLocalPeersMark(t *testing.T) {
	l := newLocalPeers(time.Minute)

	if !l.Mark(peer.ID("a")) {
		t.Fatal("first Mark returned false")
	}
	if l.Mark(peer.ID("a")) {
		t.Fatal("repeated Mark returned true")
	}
	if !l.Mark(peer.ID("b")) {
		t.Fatal("Mark of a different peer returned false")
	}
}

func TestLocalPeersExpired(t *testing.T) {
	l := newLocalPeers(10 * time.Millisecond)
	l.Mark(peer.ID("a"))

	if got := l.Expired(); len(got) != 0 {
		t.Fatalf("fresh entry expired: %v", got)
	}

	time.Sleep(25 * time.Millisecond)

	got := l.Expired()
	if len(got) != 1 || got[0] != peer.ID("a") {
		t.Fatalf("Expired = %v, want [a]", got)
	}
	// Expired removes, so re-announcing counts as new again.
	if !l.Mark(peer.ID("a")) {
		t.Fatal("Mark after expiry returned false")
	}
}

func TestLocalPeersExpiredRefreshed(t *testing.T) {
	l := newLocalPeers(30 * time.Millisecond)
	l.Mark(peer.ID("a"))
	time.Sleep(20 * time.Millisecond)
	l.Mark(peer.ID("a")) // re-announce resets the clock
	time.Sleep(20 * time.Millisecond)

	if got := l.Expired(); len(got) != 0 {
		t.Fatalf("refreshed entry expired: %v", got)
	}
}
