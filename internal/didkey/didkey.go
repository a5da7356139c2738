// Package didkey implements the did:key identity used across the overlay and
// its bridge to the libp2p keypair representation. All functions are pure.
package didkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/libp2p/go-libp2p/core/crypto"
	crypto_pb "github.com/libp2p/go-libp2p/core/crypto/pb"
	"github.com/mr-tron/base58"
)

var (
	ErrBadKeyMaterial     = errors.New("didkey: bad key material")
	ErrUnsupportedKeyType = errors.New("didkey: unsupported key type")
)

// multicodec prefix for an ed25519 public key (0xed as a varint).
var ed25519Multicodec = []byte{0xed, 0x01}

// 'z' is the multibase marker for base58btc.
const didKeyPrefix = "did:key:z"

// DID is a self-certifying ed25519 identity. The private half is present only
// on the local node's own DID; remote DIDs carry the public key alone.
type DID struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// Generate creates a new DID with fresh private key material.
func Generate() (DID, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return DID{}, err
	}
	return DID{pub: pub, priv: priv}, nil
}

// FromSeed builds a DID from a 32-byte ed25519 seed.
func FromSeed(seed []byte) (DID, error) {
	if len(seed) != ed25519.SeedSize {
		return DID{}, fmt.Errorf("%w: seed must be %d bytes, got %d", ErrBadKeyMaterial, ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return DID{pub: priv.Public().(ed25519.PublicKey), priv: priv}, nil
}

// FromPublic builds a public-only DID for a remote peer.
func FromPublic(pub ed25519.PublicKey) (DID, error) {
	if len(pub) != ed25519.PublicKeySize {
		return DID{}, fmt.Errorf("%w: public key must be %d bytes, got %d", ErrBadKeyMaterial, ed25519.PublicKeySize, len(pub))
	}
	return DID{pub: append(ed25519.PublicKey(nil), pub...)}, nil
}

// Parse decodes the did:key string form produced by String.
func Parse(s string) (DID, error) {
	if !strings.HasPrefix(s, didKeyPrefix) {
		return DID{}, fmt.Errorf("%w: missing %q prefix", ErrBadKeyMaterial, didKeyPrefix)
	}
	raw, err := base58.Decode(strings.TrimPrefix(s, didKeyPrefix))
	if err != nil {
		return DID{}, fmt.Errorf("%w: %v", ErrBadKeyMaterial, err)
	}
	if len(raw) != len(ed25519Multicodec)+ed25519.PublicKeySize ||
		raw[0] != ed25519Multicodec[0] || raw[1] != ed25519Multicodec[1] {
		return DID{}, fmt.Errorf("%w: not an ed25519 did:key", ErrUnsupportedKeyType)
	}
	return FromPublic(raw[len(ed25519Multicodec):])
}

// String renders the canonical did:key form. This is the directory key used
// everywhere a DID identifies a peer.
func (d DID) String() string {
	buf := make([]byte, 0, len(ed25519Multicodec)+len(d.pub))
	buf = append(buf, ed25519Multicodec...)
	buf = append(buf, d.pub...)
	return didKeyPrefix + base58.Encode(buf)
}

// PublicKey returns the ed25519 public half.
func (d DID) PublicKey() ed25519.PublicKey { return d.pub }

// HasPrivate reports whether this DID carries private key material.
func (d DID) HasPrivate() bool { return d.priv != nil }

// Equal compares by public key.
func (d DID) Equal(other DID) bool { return d.pub.Equal(other.pub) }

// ToLibp2pKeypair converts the DID's private material into the libp2p keypair
// used for the host identity. The network peer ID is then a deterministic
// function of the same public key.
func (d DID) ToLibp2pKeypair() (crypto.PrivKey, error) {
	if len(d.priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: DID has no usable private key", ErrBadKeyMaterial)
	}
	priv, err := crypto.UnmarshalEd25519PrivateKey(d.priv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKeyMaterial, err)
	}
	return priv, nil
}

// FromLibp2pPublic converts a libp2p public key back into a DID. It is the
// inverse of ToLibp2pKeypair over the public half for ed25519 keys; every
// other key algorithm is rejected.
func FromLibp2pPublic(pub crypto.PubKey) (DID, error) {
	if pub == nil {
		return DID{}, fmt.Errorf("%w: nil public key", ErrBadKeyMaterial)
	}
	if pub.Type() != crypto_pb.KeyType_Ed25519 {
		return DID{}, fmt.Errorf("%w: %s", ErrUnsupportedKeyType, pub.Type())
	}
	raw, err := pub.Raw()
	if err != nil {
		return DID{}, fmt.Errorf("%w: %v", ErrBadKeyMaterial, err)
	}
	return FromPublic(raw)
}
