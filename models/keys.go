package models

// Names of the rows in the key table.
const (
	// KeyIdentity is the serialized libp2p identity key.
	KeyIdentity = "identity"

	// KeyMnemonic is the bip39 seed the identity key was derived from.
	KeyMnemonic = "mnemonic"
)

// Key is a named secret stored in the database.
type Key struct {
	Name  string `gorm:"primary_key"`
	Value []byte
}
