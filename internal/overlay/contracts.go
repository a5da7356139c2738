package overlay

import "errors"

// Category names a class of cached data.
type Category string

// CategoryMessaging holds payloads delivered over pub/sub topics.
const CategoryMessaging Category = "messaging"

// Cache persists delivered payloads. Write failures are reported through the
// event sink and never block delivery.
type Cache interface {
	AddData(category Category, payload []byte) error
}

// Identity is the directory's view of a peer.
type Identity struct {
	DID  string
	Name string
}

// ErrIdentityNotFound is returned by a directory for peers it does not know;
// the verification protocol treats any lookup error as a rejection.
var ErrIdentityNotFound = errors.New("overlay: identity not found")

// IdentityDirectory validates peers during pairing. Implementations may be
// remote but are called inline from the reactor, so lookups should be fast.
type IdentityDirectory interface {
	GetIdentity(did string) (Identity, error)
}
