package overlay

import (
	"github.com/libp2p/go-libp2p/core/peer"

	"wisp/internal/didkey"
)

// verifyPeer runs the identity-verification protocol for a peer whose
// identify exchange just completed: public key -> DID -> directory lookup ->
// pairwise topic. Every failure is reported and recovered locally; a peer
// that fails verification is disconnected, not retried.
func (s *Service) verifyPeer(p peer.ID) {
	pub := s.beh.host.Peerstore().PubKey(p)
	if pub == nil {
		return
	}

	theirDID, err := didkey.FromLibp2pPublic(pub)
	if err != nil {
		s.emit(Event{Type: EventConvertKeyError, Peer: p.String(), Err: err.Error()})
		return
	}
	did := theirDID.String()

	// a reconnecting peer that already validated is idempotent
	if _, ok := s.topics.lookup(did); ok {
		s.emit(Event{Type: EventPeerIdentified, Peer: did})
		return
	}

	if _, err := s.identities.GetIdentity(did); err != nil {
		s.emit(Event{Type: EventFailureToIdentifyPeer, Peer: did, Err: err.Error()})
		if err := s.beh.disconnect(p); err != nil {
			// the peer may remain connected but unvalidated; reported, not retried
			s.emit(Event{Type: EventFailureToDisconnectPeer, Peer: p.String(), Err: err.Error()})
		}
		return
	}

	topic, err := didkey.DeriveTopic(s.did, theirDID)
	if err != nil {
		s.emit(Event{Type: EventConvertKeyError, Peer: did, Err: err.Error()})
		return
	}

	s.topics.insert(did, topic)

	if err := s.beh.subscribe(topic); err != nil {
		s.emit(Event{Type: EventSubscriptionError, Topic: topic, Err: err.Error()})
		return
	}

	s.emit(Event{Type: EventTopicGenerated, Peer: did, Topic: topic})
	s.emit(Event{Type: EventSubscribedToTopic, Topic: topic})
	s.emit(Event{Type: EventPeerIdentified, Peer: did})
}
