package overlay

import (
	"wisp/internal/proto"
)

// Message is a delivered application payload: the topic it arrived on and the
// decoded envelope contents. Consumed once by the application.
type Message struct {
	Topic   string
	Payload []byte
	SentAt  int64 // unix nanoseconds, 0 if the sender did not stamp one
}

// routeMessage turns an inbound pub/sub frame into a delivered Message:
// decode, cache, forward. Decode failure drops the frame; a cache error is
// reported but never blocks delivery; a full delivery channel drops the
// message (at-most-once, best-effort local delivery).
func (s *Service) routeMessage(topic string, data []byte) {
	env, err := proto.Unmarshal(data)
	if err != nil {
		s.emit(Event{Type: EventErrorDeserializingData, Topic: topic, Err: err.Error()})
		return
	}

	if err := s.cache.AddData(CategoryMessaging, env.Payload); err != nil {
		s.emit(Event{Type: EventErrorAddingToCache, Topic: topic, Err: err.Error()})
	}

	select {
	case s.messages <- Message{Topic: topic, Payload: env.Payload, SentAt: env.SentAt}:
	default:
		s.emit(Event{Type: EventFailedToSendMessage, Topic: topic})
	}
}
