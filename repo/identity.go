package repo

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"

	"github.com/libp2p/go-libp2p-core/crypto"
	peer "github.com/libp2p/go-libp2p-core/peer"
)

// identitySeedKey is the HMAC key used to derive the identity key from
// the mnemonic seed.
var identitySeedKey = []byte("xmrescrow identity seed")

// Identity is the node's libp2p identity.
type Identity struct {
	PeerID  string
	PrivKey string
}

// IdentityKeyFromSeed deterministically derives a serialized ed25519
// identity key from the seed. The bits parameter is ignored by ed25519
// but kept so other key types can be used later.
func IdentityKeyFromSeed(seed []byte, bits int) ([]byte, error) {
	hm := hmac.New(sha256.New, identitySeedKey)
	hm.Write(seed)
	reader := bytes.NewReader(hm.Sum(nil))
	sk, _, err := crypto.GenerateKeyPairWithReader(crypto.Ed25519, bits, reader)
	if err != nil {
		return nil, err
	}
	return crypto.MarshalPrivateKey(sk)
}

// IdentityFromKey returns the identity for a serialized private key.
func IdentityFromKey(privkey []byte) (Identity, error) {
	ident := Identity{}
	sk, err := crypto.UnmarshalPrivateKey(privkey)
	if err != nil {
		return ident, err
	}
	id, err := peer.IDFromPrivateKey(sk)
	if err != nil {
		return ident, err
	}
	ident.PeerID = id.Pretty()
	ident.PrivKey = crypto.ConfigEncodeKey(privkey)
	return ident, nil
}
