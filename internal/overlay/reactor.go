package overlay

import (
	"context"
	"time"

	"wisp/internal/proto"
)

const (
	dialTimeout = 30 * time.Second

	// localPeerTTL ages out peers that stop announcing over mDNS.
	localPeerTTL   = 2 * time.Minute
	maintainEvery  = 30 * time.Second
	publishTimeout = 10 * time.Second
)

// run is the reactor: the single goroutine that owns the behaviour composite.
// It multiplexes the command channel and the unified network event stream;
// nothing else touches behaviour state. Cancellation emits TaskCancelled and
// terminates the loop.
func (s *Service) run() {
	defer close(s.done)

	maintain := time.NewTicker(maintainEvery)
	defer maintain.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.emit(Event{Type: EventTaskCancelled})
			return
		case cmd := <-s.commands:
			s.handleCommand(cmd)
		case ev := <-s.beh.out:
			s.handleNetEvent(ev)
		case <-maintain.C:
			s.expireLocalPeers()
		}
	}
}

func (s *Service) emit(ev Event) {
	s.sink.OnEvent(ev)
}

func (s *Service) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdDial:
		// Connect blocks until the connection is secured, so it runs off the
		// loop. It touches only the host, which is safe to share; the dial
		// outcome surfaces as an event either way.
		addr := cmd.addr
		go func() {
			ctx, cancel := context.WithTimeout(s.ctx, dialTimeout)
			defer cancel()
			if err := s.beh.connect(ctx, addr); err != nil {
				s.emit(Event{Type: EventDialError, Peer: addr.ID.String(), Err: err.Error()})
				return
			}
			s.emit(Event{Type: EventDialSuccessful, Peer: addr.ID.String()})
		}()

	case cmdSubscribe:
		if err := s.beh.subscribe(cmd.topic); err != nil {
			s.emit(Event{Type: EventSubscriptionError, Topic: cmd.topic, Err: err.Error()})
			return
		}
		s.emit(Event{Type: EventSubscribedToTopic, Topic: cmd.topic})

	case cmdPublish:
		data, err := proto.Marshal(cmd.env)
		if err != nil {
			// drop the command; the overlay stays up
			s.emit(Event{Type: EventErrorSerializingData, Topic: cmd.topic, Err: err.Error()})
			return
		}
		ctx, cancel := context.WithTimeout(s.ctx, publishTimeout)
		defer cancel()
		if err := s.beh.publish(ctx, cmd.topic, data); err != nil {
			s.emit(Event{Type: EventErrorPublishingData, Topic: cmd.topic, Err: err.Error()})
		}

	case cmdFindNearest:
		target := cmd.peer
		go func() {
			peers, err := s.beh.closestPeers(target)
			if err != nil {
				log.Debugw("find nearest", "peer", target, "err", err)
				return
			}
			log.Debugw("find nearest", "peer", target, "found", len(peers))
			s.emit(Event{Type: EventFindNearestCompleted, Peer: target.String()})
		}()
	}
}

// handleNetEvent dispatches one inbound network event to exactly one handler.
func (s *Service) handleNetEvent(ev netEvent) {
	switch ev.kind {
	case evIdentified:
		s.verifyPeer(ev.peer)
	case evMessage:
		s.routeMessage(ev.topic, ev.data)
	case evLocalPeerFound:
		s.handleLocalPeerFound(ev)
	case evConnected:
		s.emit(Event{Type: EventConnectionEstablished, Peer: ev.peer.String()})
	case evDisconnected:
		// a once-validated peer keeps its directory entry; send still
		// resolves it across a reconnect
		s.emit(Event{Type: EventPeerConnectionClosed, Peer: ev.peer.String()})
	case evListenAddrs:
		for _, a := range ev.addrs {
			s.emit(Event{Type: EventNewListenAddr, Addr: a.String()})
		}
	}
}

// handleLocalPeerFound wires mDNS discoveries straight into the pub/sub mesh:
// the peer is protected from connection pruning and dialed if new.
func (s *Service) handleLocalPeerFound(ev netEvent) {
	fresh := s.local.Mark(ev.peer)
	s.beh.host.ConnManager().Protect(ev.peer, "local-discovery")
	if !fresh {
		return
	}
	addr := peerAddrInfo(ev)
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, dialTimeout)
		defer cancel()
		if err := s.beh.connect(ctx, addr); err != nil {
			log.Debugw("local peer dial", "peer", addr.ID, "err", err)
		}
	}()
}

// expireLocalPeers drops peers that aged out of mDNS and are not known
// through any other discovery path.
func (s *Service) expireLocalPeers() {
	for _, p := range s.local.Expired() {
		s.beh.host.ConnManager().Unprotect(p, "local-discovery")
		if s.beh.knownElsewhere(p) {
			continue
		}
		if err := s.beh.disconnect(p); err != nil {
			log.Debugw("expire local peer", "peer", p, "err", err)
		}
	}
}
