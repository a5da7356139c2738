package didkey

import (
	"crypto/sha512"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/curve25519"
)

// DeriveTopic computes the pairwise pub/sub topic shared by two peers: an
// X25519 exchange between our private key and the peer's public key, hashed
// with SHA-512 and base58-encoded. Symmetric by construction:
//
//	DeriveTopic(a, B) == DeriveTopic(b, A)
//
// so either side derives the identical channel name with no coordination.
func DeriveTopic(self DID, peer DID) (string, error) {
	scalar, err := self.exchangeScalar()
	if err != nil {
		return "", err
	}
	point, err := peer.exchangePublic()
	if err != nil {
		return "", err
	}
	shared, err := curve25519.X25519(scalar, point)
	if err != nil {
		// all-zero shared secret, i.e. a low-order peer point
		return "", fmt.Errorf("%w: %v", ErrBadKeyMaterial, err)
	}
	sum := sha512.Sum512(shared)
	return base58.Encode(sum[:]), nil
}

// exchangeScalar maps the ed25519 seed to its X25519 scalar (RFC 8032 key
// expansion plus clamping).
func (d DID) exchangeScalar() ([]byte, error) {
	if len(d.priv) != 64 {
		return nil, fmt.Errorf("%w: DID has no usable private key", ErrBadKeyMaterial)
	}
	h := sha512.Sum512(d.priv.Seed())
	s := make([]byte, curve25519.ScalarSize)
	copy(s, h[:curve25519.ScalarSize])
	s[0] &= 248
	s[31] &= 127
	s[31] |= 64
	return s, nil
}

// exchangePublic maps the ed25519 public key to its birationally equivalent
// curve25519 point.
func (d DID) exchangePublic() ([]byte, error) {
	p, err := new(edwards25519.Point).SetBytes(d.pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKeyMaterial, err)
	}
	return p.BytesMontgomery(), nil
}
