package overlay

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// localPeers tracks peers discovered over local-network (mDNS) discovery.
// mDNS re-announces periodically, so a peer that stops announcing ages out of
// the set. Owned by the reactor goroutine; no locking needed.
type localPeers struct {
	ttl  time.Duration
	seen map[peer.ID]time.Time
}

func newLocalPeers(ttl time.Duration) *localPeers {
	return &localPeers{
		ttl:  ttl,
		seen: make(map[peer.ID]time.Time),
	}
}

// Mark records a discovery announcement. Returns true if the peer is new to
// the set.
func (l *localPeers) Mark(id peer.ID) bool {
	_, known := l.seen[id]
	l.seen[id] = time.Now()
	return !known
}

// Expired removes and returns the peers whose last announcement is older than
// the ttl.
func (l *localPeers) Expired() []peer.ID {
	now := time.Now()
	var out []peer.ID
	for id, at := range l.seen {
		if now.Sub(at) > l.ttl {
			delete(l.seen, id)
			out = append(out, id)
		}
	}
	return out
}
