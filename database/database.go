// Package database defines the node's transactional storage. Trades,
// offers and keys live in sql tables and the offers we publish are
// mirrored to a public directory on disk.
package database

import (
	"github.com/cpacia/xmrescrow/models"
	"github.com/jinzhu/gorm"
)

// PublicData is the public directory. It holds the signed offers we
// currently publish so they can be republished after a restart.
type PublicData interface {
	GetPublicOffer(offerID string) (*models.PublicOffer, error)

	// SetPublicOffer saves the offer and adds it to the offer index.
	SetPublicOffer(offer *models.PublicOffer) error

	// DeletePublicOffer deletes the offer and drops it from the index.
	DeletePublicOffer(offerID string) error

	// GetOfferIndex returns the IDs of all saved offers, sorted.
	GetOfferIndex() ([]string, error)
}

// Tx is a read-only or read-write transaction spanning both the sql
// tables and the public directory. Nothing is written until Commit.
// Missing public data is reported with an os.IsNotExist error.
type Tx interface {
	// Commit writes the changes. It panics on a managed transaction.
	Commit() error

	// Rollback discards the changes. It panics on a managed
	// transaction.
	Rollback() error

	// Read returns the sql handle for queries.
	Read() *gorm.DB

	// Save inserts or overwrites model.
	Save(i interface{}) error

	// Update sets column key to value on the rows of model matching
	// where. Each where key is a condition such as "timestamp <= ?".
	Update(key string, value interface{}, where map[string]interface{}, model interface{}) error

	// Delete removes the rows of model where key equals value and the
	// where conditions hold.
	Delete(key string, value interface{}, where map[string]interface{}, model interface{}) error

	// Migrate brings the table for model up to its current schema.
	Migrate(model interface{}) error

	// RegisterCommitHook runs fn after a successful commit. Hooks never
	// run on rollback.
	RegisterCommitHook(fn func())

	PublicData
}

// Database runs managed transactions. The transaction passed to fn must
// not be committed or rolled back by fn.
type Database interface {
	// View runs fn in a read-only transaction and returns its error.
	View(fn func(tx Tx) error) error

	// Update runs fn in a read-write transaction. The transaction is
	// committed if fn returns nil and rolled back otherwise.
	Update(fn func(tx Tx) error) error

	// PublicDataPath returns the path of the public directory.
	PublicDataPath() string

	// Close waits for open transactions and closes the database.
	Close() error
}
