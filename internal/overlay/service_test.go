package overlay

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wisp/internal/didkey"
	"wisp/internal/proto"
)

// recordingSink collects events so tests can poll for them.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) OnEvent(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingSink) find(match func(Event) bool) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if match(ev) {
			return ev, true
		}
	}
	return Event{}, false
}

func byType(typ EventType) func(Event) bool {
	return func(ev Event) bool { return ev.Type == typ }
}

func (r *recordingSink) wait(t *testing.T, timeout time.Duration, match func(Event) bool, what string) Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ev, ok := r.find(match); ok {
			return ev
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("no %s event within %s", what, timeout)
	return Event{}
}

// memCache stores payloads in memory.
type memCache struct {
	mu   sync.Mutex
	data map[Category][][]byte
}

func newMemCache() *memCache {
	return &memCache{data: make(map[Category][][]byte)}
}

func (c *memCache) AddData(cat Category, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[cat] = append(c.data[cat], append([]byte(nil), payload...))
	return nil
}

func (c *memCache) count(cat Category) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data[cat])
}

// failingCache rejects every write.
type failingCache struct{}

func (failingCache) AddData(Category, []byte) error {
	return errors.New("disk full")
}

// testDirectory validates only admitted DIDs. Mutable so tests can admit a
// peer after both nodes exist.
type testDirectory struct {
	mu    sync.Mutex
	byDID map[string]Identity
}

func newTestDirectory() *testDirectory {
	return &testDirectory{byDID: make(map[string]Identity)}
}

func (d *testDirectory) admit(did string) {
	d.mu.Lock()
	d.byDID[did] = Identity{DID: did}
	d.mu.Unlock()
}

func (d *testDirectory) GetIdentity(did string) (Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.byDID[did]; ok {
		return id, nil
	}
	return Identity{}, ErrIdentityNotFound
}

type testNode struct {
	svc   *Service
	sink  *recordingSink
	dir   *testDirectory
	cache *memCache
}

func newTestNode(t *testing.T, cache Cache) *testNode {
	t.Helper()
	did, err := didkey.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	sink := &recordingSink{}
	dir := newTestDirectory()
	mc, _ := cache.(*memCache)
	svc, err := New(Config{
		DID:        did,
		ListenAddr: "/ip4/127.0.0.1/tcp/0",
		Cache:      cache,
		Identities: dir,
		Sink:       sink,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return &testNode{svc: svc, sink: sink, dir: dir, cache: mc}
}

// admitEachOther puts each node's DID in the other's directory.
func admitEachOther(a, b *testNode) {
	a.dir.admit(b.svc.DID().String())
	b.dir.admit(a.svc.DID().String())
}

// pairNodes dials b from a and waits until both sides validate each other.
func pairNodes(t *testing.T, a, b *testNode) {
	t.Helper()
	addrs := b.svc.ListenAddrs()
	if len(addrs) == 0 {
		t.Fatal("b has no listen addrs")
	}
	if err := a.svc.Pair(context.Background(), addrs[0].String()); err != nil {
		t.Fatalf("Pair: %v", err)
	}
	a.sink.wait(t, 10*time.Second, byType(EventPeerIdentified), "PeerIdentified")
	b.sink.wait(t, 10*time.Second, byType(EventPeerIdentified), "PeerIdentified")
}

func TestNewRejectsBadConfig(t *testing.T) {
	did, err := didkey.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	pub, err := didkey.FromPublic(did.PublicKey())
	if err != nil {
		t.Fatalf("FromPublic: %v", err)
	}
	if _, err := New(Config{DID: pub, Cache: newMemCache(), Identities: newTestDirectory()}); err == nil {
		t.Fatal("New accepted a DID without private key material")
	}
	if _, err := New(Config{DID: did, Identities: newTestDirectory()}); err == nil {
		t.Fatal("New accepted a nil cache")
	}
	if _, err := New(Config{DID: did, Cache: newMemCache()}); err == nil {
		t.Fatal("New accepted a nil identity directory")
	}
}

func TestPairingDerivesSymmetricTopic(t *testing.T) {
	a := newTestNode(t, newMemCache())
	b := newTestNode(t, newMemCache())
	admitEachOther(a, b)

	pairNodes(t, a, b)

	topicAB, ok := a.svc.TopicFor(b.svc.DID().String())
	if !ok {
		t.Fatal("a has no topic for b after pairing")
	}
	topicBA, ok := b.svc.TopicFor(a.svc.DID().String())
	if !ok {
		t.Fatal("b has no topic for a after pairing")
	}
	if topicAB != topicBA {
		t.Fatalf("pairwise topics differ: %q vs %q", topicAB, topicBA)
	}

	ev := a.sink.wait(t, time.Second, byType(EventTopicGenerated), "TopicGenerated")
	if ev.Topic != topicAB {
		t.Fatalf("TopicGenerated carries %q, want %q", ev.Topic, topicAB)
	}
	if _, ok := a.sink.find(byType(EventDialSuccessful)); !ok {
		t.Fatal("no DialSuccessful event on the dialer")
	}
}

func TestSendDeliversOverPairwiseTopic(t *testing.T) {
	a := newTestNode(t, newMemCache())
	b := newTestNode(t, newMemCache())
	admitEachOther(a, b)

	pairNodes(t, a, b)

	payload := []byte("hello over the pairwise topic")
	recipient, err := didkey.FromPublic(b.svc.DID().PublicKey())
	if err != nil {
		t.Fatalf("FromPublic: %v", err)
	}

	// Gossipsub meshes form asynchronously after both sides subscribe, so
	// retry the send until the payload lands.
	deadline := time.Now().Add(20 * time.Second)
	for {
		if err := a.svc.Send(context.Background(), payload, []didkey.DID{recipient}); err != nil {
			t.Fatalf("Send: %v", err)
		}
		select {
		case msg, ok := <-b.svc.Messages():
			if !ok {
				t.Fatal("delivery channel closed")
			}
			if !bytes.Equal(msg.Payload, payload) {
				t.Fatalf("payload = %q, want %q", msg.Payload, payload)
			}
			if msg.SentAt == 0 {
				t.Fatal("Send did not stamp SentAt")
			}
			if b.cache.count(CategoryMessaging) == 0 {
				t.Fatal("delivered payload was not cached")
			}
			return
		case <-time.After(500 * time.Millisecond):
			if time.Now().After(deadline) {
				t.Fatal("no delivery within deadline")
			}
		}
	}
}

func TestSendUnknownRecipient(t *testing.T) {
	a := newTestNode(t, newMemCache())

	stranger, err := didkey.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := a.svc.Send(context.Background(), []byte("x"), []didkey.DID{stranger}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ev := a.sink.wait(t, 2*time.Second, byType(EventRecipientTopicNotFound), "RecipientTopicNotFound")
	if ev.Peer != stranger.String() {
		t.Fatalf("event peer = %q, want %q", ev.Peer, stranger.String())
	}
	if ev.Err != "" {
		t.Fatalf("unresolved recipient is not an error, got %q", ev.Err)
	}
}

func TestUnknownPeerIsRejected(t *testing.T) {
	a := newTestNode(t, newMemCache())
	b := newTestNode(t, newMemCache())
	// Neither directory admits anyone.

	addrs := b.svc.ListenAddrs()
	if err := a.svc.Pair(context.Background(), addrs[0].String()); err != nil {
		t.Fatalf("Pair: %v", err)
	}

	a.sink.wait(t, 10*time.Second, byType(EventFailureToIdentifyPeer), "FailureToIdentifyPeer")
	if _, ok := a.svc.TopicFor(b.svc.DID().String()); ok {
		t.Fatal("rejected peer still got a directory entry")
	}
	if _, ok := a.sink.find(byType(EventPeerIdentified)); ok {
		t.Fatal("rejected peer produced PeerIdentified")
	}
}

func TestPublishOversizedPayload(t *testing.T) {
	a := newTestNode(t, newMemCache())
	ctx := context.Background()

	if err := a.svc.Subscribe(ctx, "room"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	a.sink.wait(t, 5*time.Second, byType(EventSubscribedToTopic), "SubscribedToTopic")

	big := make([]byte, proto.MaxPayloadSize+1)
	if err := a.svc.Publish(ctx, "room", big); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	a.sink.wait(t, 5*time.Second, byType(EventErrorSerializingData), "ErrorSerializingData")

	// The reactor survives the drop and keeps serving commands.
	if err := a.svc.Subscribe(ctx, "room2"); err != nil {
		t.Fatalf("Subscribe after drop: %v", err)
	}
	a.sink.wait(t, 5*time.Second, func(ev Event) bool {
		return ev.Type == EventSubscribedToTopic && ev.Topic == "room2"
	}, "SubscribedToTopic(room2)")
}

func TestRepeatedSubscribeDeliversOnce(t *testing.T) {
	a := newTestNode(t, newMemCache())
	b := newTestNode(t, newMemCache())
	admitEachOther(a, b)

	pairNodes(t, a, b)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := b.svc.Subscribe(ctx, "room"); err != nil {
			t.Fatalf("Subscribe #%d: %v", i+1, err)
		}
	}
	b.sink.wait(t, 5*time.Second, func(ev Event) bool {
		return ev.Type == EventSubscribedToTopic && ev.Topic == "room"
	}, "SubscribedToTopic(room)")

	// Identical payload bytes share a content ID, so republishing while the
	// mesh forms cannot itself produce duplicate deliveries.
	payload := []byte("exactly once")
	deadline := time.Now().Add(20 * time.Second)
	for {
		if err := a.svc.Publish(ctx, "room", payload); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		select {
		case msg := <-b.svc.Messages():
			if !bytes.Equal(msg.Payload, payload) {
				t.Fatalf("payload = %q, want %q", msg.Payload, payload)
			}
			// One subscription pump per topic: no second copy may arrive.
			select {
			case dup := <-b.svc.Messages():
				t.Fatalf("payload delivered twice: %q", dup.Payload)
			case <-time.After(2 * time.Second):
			}
			return
		case <-time.After(500 * time.Millisecond):
			if time.Now().After(deadline) {
				t.Fatal("no delivery within deadline")
			}
		}
	}
}

func TestCacheFailureDoesNotBlockDelivery(t *testing.T) {
	a := newTestNode(t, newMemCache())
	b := newTestNode(t, failingCache{})
	admitEachOther(a, b)

	pairNodes(t, a, b)

	recipient, err := didkey.FromPublic(b.svc.DID().PublicKey())
	if err != nil {
		t.Fatalf("FromPublic: %v", err)
	}
	payload := []byte("cache is down")

	deadline := time.Now().Add(20 * time.Second)
	for {
		if err := a.svc.Send(context.Background(), payload, []didkey.DID{recipient}); err != nil {
			t.Fatalf("Send: %v", err)
		}
		select {
		case msg := <-b.svc.Messages():
			if !bytes.Equal(msg.Payload, payload) {
				t.Fatalf("payload = %q, want %q", msg.Payload, payload)
			}
			b.sink.wait(t, 2*time.Second, byType(EventErrorAddingToCache), "ErrorAddingToCache")
			return
		case <-time.After(500 * time.Millisecond):
			if time.Now().After(deadline) {
				t.Fatal("no delivery within deadline")
			}
		}
	}
}

func TestCloseTerminatesReactor(t *testing.T) {
	a := newTestNode(t, newMemCache())

	if err := a.svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, ok := a.sink.find(byType(EventTaskCancelled)); !ok {
		t.Fatal("no TaskCancelled event after Close")
	}
	if _, open := <-a.svc.Messages(); open {
		t.Fatal("delivery channel still open after Close")
	}
	if err := a.svc.Subscribe(context.Background(), "x"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Subscribe after Close = %v, want ErrClosed", err)
	}
	// Close is idempotent.
	if err := a.svc.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
