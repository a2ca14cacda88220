package net

import (
	"crypto/rand"
	"errors"

	extra "github.com/agl/ed25519/extra25519"
	"github.com/golang/protobuf/proto"
	crypto "github.com/libp2p/go-libp2p-core/crypto"
	"golang.org/x/crypto/nacl/box"
)

// Mailbox ciphertexts are laid out as
//
//	ephemeral curve25519 pubkey (32) | nonce (24) | nacl box
const (
	ephemeralKeyLen = 32
	nonceLen        = 24
	headerLen       = ephemeralKeyLen + nonceLen
)

var (
	// ErrBoxDecryption means the nacl box failed to open.
	ErrBoxDecryption = errors.New("failed to decrypt curve25519")

	// ErrShortCiphertext means the ciphertext cannot hold the header.
	ErrShortCiphertext = errors.New("ciphertext too short")

	// ErrUnsupportedKey is returned for keys other than ed25519.
	ErrUnsupportedKey = errors.New("only ed25519 keys can be used for encryption")

	errCurveConversion = errors.New("error converting ed25519 pubkey to curve25519 pubkey")
)

// Encrypt seals a message to the recipient's identity key so it can be
// left with the store and forward servers.
func Encrypt(pubKey crypto.PubKey, message proto.Message) ([]byte, error) {
	edPub, ok := pubKey.(*crypto.Ed25519PublicKey)
	if !ok {
		return nil, ErrUnsupportedKey
	}
	recipient, err := curvePublicKey(edPub)
	if err != nil {
		return nil, err
	}
	plaintext, err := proto.Marshal(message)
	if err != nil {
		return nil, err
	}

	ephemPub, ephemPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	var nonce [nonceLen]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}

	out := make([]byte, headerLen, headerLen+len(plaintext)+box.Overhead)
	copy(out, ephemPub[:])
	copy(out[ephemeralKeyLen:], nonce[:])
	return box.Seal(out, plaintext, &nonce, recipient, ephemPriv), nil
}

// Decrypt opens a ciphertext produced by Encrypt into message.
func Decrypt(privKey crypto.PrivKey, ciphertext []byte, message proto.Message) error {
	edPriv, ok := privKey.(*crypto.Ed25519PrivateKey)
	if !ok {
		return ErrUnsupportedKey
	}
	if len(ciphertext) < headerLen+box.Overhead {
		return ErrShortCiphertext
	}
	priv, err := curvePrivateKey(edPriv)
	if err != nil {
		return err
	}

	var (
		ephemPub [ephemeralKeyLen]byte
		nonce    [nonceLen]byte
	)
	copy(ephemPub[:], ciphertext[:ephemeralKeyLen])
	copy(nonce[:], ciphertext[ephemeralKeyLen:headerLen])

	plaintext, ok := box.Open(nil, ciphertext[headerLen:], &nonce, &ephemPub, priv)
	if !ok {
		return ErrBoxDecryption
	}
	return proto.Unmarshal(plaintext, message)
}

func curvePublicKey(pub *crypto.Ed25519PublicKey) (*[32]byte, error) {
	raw, err := pub.Raw()
	if err != nil {
		return nil, err
	}
	var edKey, curveKey [32]byte
	copy(edKey[:], raw)
	if !extra.PublicKeyToCurve25519(&curveKey, &edKey) {
		return nil, errCurveConversion
	}
	return &curveKey, nil
}

func curvePrivateKey(priv *crypto.Ed25519PrivateKey) (*[32]byte, error) {
	raw, err := priv.Raw()
	if err != nil {
		return nil, err
	}
	var (
		edKey    [64]byte
		curveKey [32]byte
	)
	copy(edKey[:], raw)
	extra.PrivateKeyToCurve25519(&curveKey, &edKey)
	return &curveKey, nil
}
