package overlay

// EventType tags an observable occurrence inside the overlay. The taxonomy is
// additive: events are informational, never control flow, and none of them
// unwinds the reactor.
type EventType string

const (
	EventNewListenAddr           EventType = "new_listen_addr"
	EventDialSuccessful          EventType = "dial_successful"
	EventDialError               EventType = "dial_error"
	EventConnectionEstablished   EventType = "connection_established"
	EventPeerConnectionClosed    EventType = "peer_connection_closed"
	EventConvertKeyError         EventType = "convert_key_error"
	EventTopicGenerated          EventType = "topic_generated"
	EventSubscribedToTopic       EventType = "subscribed_to_topic"
	EventSubscriptionError       EventType = "subscription_error"
	EventPeerIdentified          EventType = "peer_identified"
	EventFailureToIdentifyPeer   EventType = "failure_to_identify_peer"
	EventFailureToDisconnectPeer EventType = "failure_to_disconnect_peer"
	EventErrorSerializingData    EventType = "error_serializing_data"
	EventErrorDeserializingData  EventType = "error_deserializing_data"
	EventErrorPublishingData     EventType = "error_publishing_data"
	EventErrorAddingToCache      EventType = "error_adding_to_cache"
	EventFailedToSendMessage     EventType = "failed_to_send_message"
	EventRecipientTopicNotFound  EventType = "recipient_topic_not_found"
	EventFindNearestCompleted    EventType = "find_nearest_completed"
	EventTaskCancelled           EventType = "task_cancelled"
)

// Event is a single observable occurrence. Fields are filled as applicable to
// the type; unused fields are zero.
type Event struct {
	Type  EventType
	Peer  string // network peer ID or DID string form
	Topic string
	Addr  string
	Err   string
}

// EventSink receives events inline from the reactor and protocol code. It
// must not block for long periods.
type EventSink interface {
	OnEvent(Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) OnEvent(Event) {}
