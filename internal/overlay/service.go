// Package overlay implements the peer overlay engine: a libp2p-backed
// behavior composite driven by a single-owner reactor, a peer
// identity-verification protocol that derives pairwise pub/sub topics, and a
// facade that lets callers pair with peers and send payloads to DIDs without
// knowing connection or topic details.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	ma "github.com/multiformats/go-multiaddr"

	"wisp/internal/didkey"
	"wisp/internal/proto"
)

var log = logging.Logger("wisp/overlay")

// ErrClosed is returned by facade operations after Close; it is the only
// synchronous failure an enqueue can produce besides context cancellation.
var ErrClosed = errors.New("overlay: service closed")

const (
	commandBacklog  = 64
	deliveryBacklog = 64
)

// Config wires the overlay's collaborators. DID must carry private key
// material; Cache and Identities must be non-nil; a nil Sink discards events.
type Config struct {
	DID        didkey.DID
	ListenAddr string // multiaddr, e.g. /ip4/0.0.0.0/tcp/0
	KnownPeers []peer.AddrInfo
	Cache      Cache
	Identities IdentityDirectory
	Sink       EventSink
}

// Service is the overlay handle. All public operations translate intent into
// commands for the reactor; none of them blocks on network completion.
type Service struct {
	did        didkey.DID
	beh        *behaviour
	topics     *topicDirectory
	local      *localPeers
	cache      Cache
	identities IdentityDirectory
	sink       EventSink

	commands chan command
	messages chan Message

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// New constructs the overlay and starts its reactor. Construction is the only
// fatal path: invalid key material, an unusable listen address or a
// sub-behavior that fails to initialize all abort here.
func New(cfg Config) (*Service, error) {
	if !cfg.DID.HasPrivate() {
		return nil, fmt.Errorf("%w: config DID", didkey.ErrBadKeyMaterial)
	}
	if cfg.Cache == nil {
		return nil, errors.New("overlay: nil cache")
	}
	if cfg.Identities == nil {
		return nil, errors.New("overlay: nil identity directory")
	}
	if cfg.Sink == nil {
		cfg.Sink = NopSink{}
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "/ip4/0.0.0.0/tcp/0"
	}

	priv, err := cfg.DID.ToLibp2pKeypair()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	beh, err := newBehaviour(ctx, priv, cfg.ListenAddr)
	if err != nil {
		cancel()
		return nil, err
	}

	for _, p := range cfg.KnownPeers {
		beh.host.Peerstore().AddAddrs(p.ID, p.Addrs, peerstore.PermanentAddrTTL)
	}

	s := &Service{
		did:        cfg.DID,
		beh:        beh,
		topics:     newTopicDirectory(),
		local:      newLocalPeers(localPeerTTL),
		cache:      cfg.Cache,
		identities: cfg.Identities,
		sink:       cfg.Sink,
		commands:   make(chan command, commandBacklog),
		messages:   make(chan Message, deliveryBacklog),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	go s.run()

	log.Debugw("overlay started", "peer", beh.host.ID(), "did", cfg.DID.String())
	return s, nil
}

// DID returns this node's identity.
func (s *Service) DID() didkey.DID { return s.did }

// PeerID returns the network identifier derived from the DID's public key.
func (s *Service) PeerID() peer.ID { return s.beh.host.ID() }

// ListenAddrs returns the currently bound listen addresses, with the /p2p
// component appended so they are directly dialable.
func (s *Service) ListenAddrs() []ma.Multiaddr {
	id := s.beh.host.ID()
	out := make([]ma.Multiaddr, 0, len(s.beh.host.Addrs()))
	for _, a := range s.beh.host.Addrs() {
		full, err := ma.NewMultiaddr(fmt.Sprintf("%s/p2p/%s", a, id))
		if err != nil {
			continue
		}
		out = append(out, full)
	}
	return out
}

// Messages returns the local delivery channel. It is closed by Close.
func (s *Service) Messages() <-chan Message { return s.messages }

// TopicFor reports the pairwise topic derived for a validated peer DID.
func (s *Service) TopicFor(did string) (string, bool) { return s.topics.lookup(did) }

// Pair asks the reactor to dial a peer. target is either a full multiaddr
// (with /p2p/ component) or a bare peer ID whose address was previously
// seeded. Pair returns once the command is enqueued; the connection outcome
// surfaces as DialSuccessful/DialError events.
func (s *Service) Pair(ctx context.Context, target string) error {
	var addr peer.AddrInfo
	if strings.HasPrefix(target, "/") {
		info, err := peer.AddrInfoFromString(target)
		if err != nil {
			return fmt.Errorf("pair: %w", err)
		}
		addr = *info
	} else {
		pid, err := peer.Decode(target)
		if err != nil {
			return fmt.Errorf("pair: %w", err)
		}
		addr = peer.AddrInfo{ID: pid}
	}
	return s.enqueue(ctx, command{kind: cmdDial, addr: addr})
}

// Subscribe joins an explicit topic by name.
func (s *Service) Subscribe(ctx context.Context, name string) error {
	return s.enqueue(ctx, command{kind: cmdSubscribe, topic: name})
}

// Publish sends a payload to an explicit topic.
func (s *Service) Publish(ctx context.Context, name string, payload []byte) error {
	env := proto.Envelope{Payload: payload}
	return s.enqueue(ctx, command{kind: cmdPublish, topic: name, env: env})
}

// Send delivers a payload to each recipient over its pairwise topic. An
// unresolved recipient is a normal condition: it produces a
// RecipientTopicNotFound event and the remaining recipients still get the
// payload. Each resolved recipient gets a fresh envelope stamped with the
// send time.
func (s *Service) Send(ctx context.Context, payload []byte, recipients []didkey.DID) error {
	for _, r := range recipients {
		did := r.String()
		topic, ok := s.topics.lookup(did)
		if !ok {
			s.emit(Event{Type: EventRecipientTopicNotFound, Peer: did})
			continue
		}
		env := proto.Envelope{Payload: payload, SentAt: time.Now().UnixNano()}
		if err := s.enqueue(ctx, command{kind: cmdPublish, topic: topic, env: env}); err != nil {
			return err
		}
	}
	return nil
}

// FindNearest asks the DHT for the peers closest to target.
func (s *Service) FindNearest(ctx context.Context, target peer.ID) error {
	return s.enqueue(ctx, command{kind: cmdFindNearest, peer: target})
}

// enqueue hands a command to the reactor, blocking while the bounded channel
// is full. That block is the overlay's backpressure against a slow reactor.
func (s *Service) enqueue(ctx context.Context, cmd command) error {
	select {
	case <-s.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case s.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrClosed
	}
}

// Close cancels the reactor, waits for it to exit and tears down the
// composite. No command enqueued after Close is processed. The delivery
// channel is closed so application readers terminate.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		close(s.messages)
		s.closeErr = s.beh.close()
	})
	return s.closeErr
}
