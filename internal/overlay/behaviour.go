package overlay

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	pubsub_pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	ma "github.com/multiformats/go-multiaddr"
)

const (
	protocolVersion = "wisp/0.1.0"
	mdnsServiceName = "wisp-mdns"

	// queryTimeout bounds every DHT query issued by the overlay.
	queryTimeout = 5 * time.Minute

	netEventBacklog = 128
)

type netEventKind int

const (
	evIdentified netEventKind = iota // identify exchange completed for a peer
	evMessage                        // inbound pub/sub frame
	evLocalPeerFound                 // mDNS discovery announcement
	evConnected
	evDisconnected
	evListenAddrs
)

// netEvent is the composite's unified outbound event: one tagged value no
// matter which sub-behavior produced it. Consumed only by the reactor.
type netEvent struct {
	kind  netEventKind
	peer  peer.ID
	addrs []ma.Multiaddr
	topic string
	data  []byte
}

// behaviour aggregates the network sub-behaviors into one polled event
// source: the libp2p host (transport, identify, relay), gossipsub, the
// kademlia DHT and mDNS discovery. All mutation of behaviour state after
// construction happens on the reactor goroutine.
type behaviour struct {
	ctx  context.Context
	host host.Host
	ps   *pubsub.PubSub
	dht  *dht.IpfsDHT
	mdns mdns.Service

	busSub event.Subscription
	out    chan netEvent

	// joined topics and active subscriptions; reactor-owned
	topics map[string]*pubsub.Topic
	subs   map[string]*pubsub.Subscription
}

// contentID derives message identity from payload bytes, so identical
// payloads are propagated at most once by the pub/sub mesh.
func contentID(m *pubsub_pb.Message) string {
	sum := sha256.Sum256(m.GetData())
	return string(sum[:])
}

func newBehaviour(ctx context.Context, priv crypto.PrivKey, listenAddr string) (*behaviour, error) {
	cm, err := connmgr.NewConnManager(32, 256)
	if err != nil {
		return nil, fmt.Errorf("init behaviour: connmgr: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(listenAddr),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Security(noise.ID, noise.New),
		libp2p.ProtocolVersion(protocolVersion),
		libp2p.ConnectionManager(cm),
		libp2p.EnableRelay(),
		libp2p.NATPortMap(),
	)
	if err != nil {
		return nil, fmt.Errorf("init behaviour: host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h,
		pubsub.WithMessageSignaturePolicy(pubsub.StrictSign),
		pubsub.WithMessageIdFn(contentID),
	)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("init behaviour: gossipsub: %w", err)
	}

	kad, err := dht.New(ctx, h, dht.Mode(dht.ModeServer))
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("init behaviour: dht: %w", err)
	}
	if err := kad.Bootstrap(ctx); err != nil {
		log.Warnw("dht bootstrap", "err", err)
	}

	busSub, err := h.EventBus().Subscribe([]interface{}{
		new(event.EvtPeerIdentificationCompleted),
		new(event.EvtLocalAddressesUpdated),
	})
	if err != nil {
		kad.Close()
		h.Close()
		return nil, fmt.Errorf("init behaviour: event bus: %w", err)
	}

	b := &behaviour{
		ctx:    ctx,
		host:   h,
		ps:     ps,
		dht:    kad,
		busSub: busSub,
		out:    make(chan netEvent, netEventBacklog),
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*pubsub.Subscription),
	}

	b.mdns = mdns.NewMdnsService(h, mdnsServiceName, &mdnsNotifee{b: b})
	if err := b.mdns.Start(); err != nil {
		busSub.Close()
		kad.Close()
		h.Close()
		return nil, fmt.Errorf("init behaviour: mdns: %w", err)
	}

	h.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			b.push(netEvent{kind: evConnected, peer: c.RemotePeer()})
		},
		DisconnectedF: func(_ network.Network, c network.Conn) {
			b.push(netEvent{kind: evDisconnected, peer: c.RemotePeer()})
		},
	})

	go b.pumpBus()

	return b, nil
}

// push hands an event to the reactor, giving up if the overlay shuts down.
func (b *behaviour) push(ev netEvent) {
	select {
	case b.out <- ev:
	case <-b.ctx.Done():
	}
}

func (b *behaviour) pumpBus() {
	for {
		select {
		case e, ok := <-b.busSub.Out():
			if !ok {
				return
			}
			switch evt := e.(type) {
			case event.EvtPeerIdentificationCompleted:
				b.push(netEvent{kind: evIdentified, peer: evt.Peer})
			case event.EvtLocalAddressesUpdated:
				addrs := make([]ma.Multiaddr, 0, len(evt.Current))
				for _, a := range evt.Current {
					addrs = append(addrs, a.Address)
				}
				b.push(netEvent{kind: evListenAddrs, addrs: addrs})
			}
		case <-b.ctx.Done():
			return
		}
	}
}

func peerAddrInfo(ev netEvent) peer.AddrInfo {
	return peer.AddrInfo{ID: ev.peer, Addrs: ev.addrs}
}

type mdnsNotifee struct {
	b *behaviour
}

func (m *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == m.b.host.ID() {
		return
	}
	m.b.push(netEvent{kind: evLocalPeerFound, peer: pi.ID, addrs: pi.Addrs})
}

// subscribe joins a topic and starts a pump that feeds its messages into the
// unified event stream. A no-op for an already-subscribed name, so each topic
// has at most one pump and each frame is delivered at most once. Reactor-only.
func (b *behaviour) subscribe(name string) error {
	if _, ok := b.subs[name]; ok {
		return nil
	}
	topic, err := b.join(name)
	if err != nil {
		return err
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return err
	}
	b.subs[name] = sub
	go b.pumpTopic(name, sub)
	return nil
}

func (b *behaviour) pumpTopic(name string, sub *pubsub.Subscription) {
	defer sub.Cancel()
	for {
		msg, err := sub.Next(b.ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == b.host.ID() {
			continue
		}
		b.push(netEvent{kind: evMessage, topic: name, peer: msg.ReceivedFrom, data: msg.GetData()})
	}
}

// join returns the topic handle, joining the mesh on first use. Reactor-only.
func (b *behaviour) join(name string) (*pubsub.Topic, error) {
	if t, ok := b.topics[name]; ok {
		return t, nil
	}
	t, err := b.ps.Join(name)
	if err != nil {
		return nil, err
	}
	b.topics[name] = t
	return t, nil
}

// publish sends a serialized frame to a topic. Reactor-only.
func (b *behaviour) publish(ctx context.Context, name string, data []byte) error {
	t, err := b.join(name)
	if err != nil {
		return err
	}
	return t.Publish(ctx, data)
}

func (b *behaviour) connect(ctx context.Context, addr peer.AddrInfo) error {
	return b.host.Connect(ctx, addr)
}

func (b *behaviour) disconnect(p peer.ID) error {
	return b.host.Network().ClosePeer(p)
}

// closestPeers runs a bounded kademlia query for the peers nearest to target.
func (b *behaviour) closestPeers(target peer.ID) ([]peer.ID, error) {
	ctx, cancel := context.WithTimeout(b.ctx, queryTimeout)
	defer cancel()
	return b.dht.GetClosestPeers(ctx, string(target))
}

// knownElsewhere reports whether a peer is still reachable through a
// discovery path other than mDNS (the DHT routing table).
func (b *behaviour) knownElsewhere(p peer.ID) bool {
	return b.dht.RoutingTable().Find(p) != ""
}

func (b *behaviour) close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(b.mdns.Close())
	keep(b.busSub.Close())
	keep(b.dht.Close())
	keep(b.host.Close())
	return firstErr
}
