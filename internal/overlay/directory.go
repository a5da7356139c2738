package overlay

import "sync"

// topicDirectory maps a validated peer's DID to its derived pairwise topic.
// Written only by the verification protocol, read by Send. An entry is
// write-once: once a peer validates, its topic never changes for the process
// lifetime, and disconnection does not remove it.
type topicDirectory struct {
	mu    sync.RWMutex
	byDID map[string]string
}

func newTopicDirectory() *topicDirectory {
	return &topicDirectory{byDID: make(map[string]string)}
}

// insert records did -> topic. Returns false if the DID already has a topic;
// the existing entry is kept.
func (d *topicDirectory) insert(did, topic string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byDID[did]; ok {
		return false
	}
	d.byDID[did] = topic
	return true
}

func (d *topicDirectory) lookup(did string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	topic, ok := d.byDID[did]
	return topic, ok
}

func (d *topicDirectory) len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byDID)
}
