package overlay

import (
	"github.com/libp2p/go-libp2p/core/peer"

	"wisp/internal/proto"
)

type commandKind int

const (
	cmdDial commandKind = iota
	cmdSubscribe
	cmdPublish
	cmdFindNearest
)

// command is a typed intent sent from the facade to the reactor. Consumed
// exactly once, never persisted.
type command struct {
	kind  commandKind
	addr  peer.AddrInfo  // cmdDial
	topic string         // cmdSubscribe, cmdPublish
	env   proto.Envelope // cmdPublish
	peer  peer.ID        // cmdFindNearest
}
