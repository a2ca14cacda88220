package ffsqlite

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"sync"

	"github.com/cpacia/xmrescrow/database"
	"github.com/cpacia/xmrescrow/models"
	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/sqlite" // Import sqlite dialect
)

const dbName = "xmrescrow.db"

// ErrReadOnly is returned by the write methods of a View transaction.
var ErrReadOnly = errors.New("tx is read only")

// DB is an implementation of the Database interface using a flat file
// store for the public offers and a sqlite database for everything else.
type DB struct {
	db   *gorm.DB
	ffdb *FlatFileDB
	mtx  sync.Mutex
}

// NewFFSqliteDB opens the sqlite database and public directory in dataDir.
func NewFFSqliteDB(dataDir string) (database.Database, error) {
	db, err := gorm.Open("sqlite3", path.Join(dataDir, dbName))
	if err != nil {
		return nil, err
	}
	ffdb, err := NewFlatFileDB(path.Join(dataDir, "public"))
	if err != nil {
		return nil, err
	}
	return &DB{db: db, ffdb: ffdb, mtx: sync.Mutex{}}, nil
}

// NewFFMemoryDB is NewFFSqliteDB with the sqlite tables held in memory.
// The public directory is still written to dataDir.
func NewFFMemoryDB(dataDir string) (database.Database, error) {
	db, err := gorm.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, err
	}
	// Every connection to :memory: opens a new, empty database.
	db.DB().SetMaxOpenConns(1)
	ffdb, err := NewFlatFileDB(path.Join(dataDir, "public"))
	if err != nil {
		return nil, err
	}
	return &DB{db: db, ffdb: ffdb, mtx: sync.Mutex{}}, nil
}

func (fdb *DB) View(fn func(tx database.Tx) error) error {
	fdb.mtx.Lock()
	defer fdb.mtx.Unlock()

	tx := readTx(fdb.db, fdb.ffdb)
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (fdb *DB) Update(fn func(tx database.Tx) error) error {
	fdb.mtx.Lock()
	defer fdb.mtx.Unlock()

	tx := writeTx(fdb.db, fdb.ffdb)
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (fdb *DB) PublicDataPath() string {
	return fdb.ffdb.Path()
}

func (fdb *DB) Close() error {
	fdb.mtx.Lock()
	defer fdb.mtx.Unlock()

	return fdb.db.Close()
}

type tx struct {
	dbtx *gorm.DB
	ffdb *FlatFileDB

	rollbackCache []interface{}
	commitCache   []interface{}

	commitHooks []func()

	closed      bool
	isForWrites bool
}

type deletePublicOffer string

func writeTx(db *gorm.DB, ffdb *FlatFileDB) database.Tx {
	dbtx := db.Begin()
	return &tx{dbtx: dbtx, ffdb: ffdb, isForWrites: true}
}

func readTx(db *gorm.DB, ffdb *FlatFileDB) database.Tx {
	return &tx{dbtx: db, ffdb: ffdb, isForWrites: false}
}

// Commit writes the cached public offers to disk and then commits the
// sql transaction.
func (t *tx) Commit() error {
	if t.closed {
		panic("tx already closed")
	}

	defer func() { t.closed = true }()

	if !t.isForWrites {
		return nil
	}

	for _, i := range t.commitCache {
		if err := t.setInterfaceType(i); err != nil {
			t.Rollback()
			return err
		}
	}

	if err := t.dbtx.Commit().Error; err != nil {
		t.Rollback()
		return err
	}
	for _, fn := range t.commitHooks {
		fn()
	}
	return nil
}

// Rollback restores any public offers that were already written and
// rolls back the sql transaction.
func (t *tx) Rollback() error {
	if t.closed {
		panic("tx already closed")
	}

	defer func() { t.closed = true }()

	if !t.isForWrites {
		return nil
	}

	for _, i := range t.rollbackCache {
		if err := t.setInterfaceType(i); err != nil {
			return err
		}
	}

	if err := t.dbtx.Rollback().Error; err != nil {
		return err
	}
	return nil
}

func (t *tx) Save(model interface{}) error {
	if !t.isForWrites {
		return ErrReadOnly
	}
	return t.dbtx.Save(model).Error
}

func (t *tx) Read() *gorm.DB {
	return t.dbtx
}

func (t *tx) Update(key string, value interface{}, where map[string]interface{}, model interface{}) error {
	if !t.isForWrites {
		return ErrReadOnly
	}
	db := t.dbtx.Model(model)
	for k, v := range where {
		db = db.Where(k, v)
	}
	return db.UpdateColumn(key, value).Error
}

func (t *tx) Delete(key string, value interface{}, where map[string]interface{}, model interface{}) error {
	if !t.isForWrites {
		return ErrReadOnly
	}
	db := t.dbtx.Model(model)
	for k, v := range where {
		db = db.Where(k, v)
	}
	return db.Where(fmt.Sprintf("%s = ?", key), value).Delete(model).Error
}

func (t *tx) Migrate(model interface{}) error {
	if !t.isForWrites {
		return ErrReadOnly
	}
	return t.dbtx.AutoMigrate(model).Error
}

func (t *tx) RegisterCommitHook(fn func()) {
	t.commitHooks = append(t.commitHooks, fn)
}

// GetPublicOffer sees the offers set or deleted earlier in the
// transaction before falling back to disk.
func (t *tx) GetPublicOffer(offerID string) (*models.PublicOffer, error) {
	for x := len(t.commitCache) - 1; x >= 0; x-- {
		switch i := t.commitCache[x].(type) {
		case *models.PublicOffer:
			if i.Offer.ID == offerID {
				return i, nil
			}
		case deletePublicOffer:
			if string(i) == offerID {
				return nil, os.ErrNotExist
			}
		}
	}
	return t.ffdb.GetPublicOffer(offerID)
}

func (t *tx) SetPublicOffer(offer *models.PublicOffer) error {
	if !t.isForWrites {
		return ErrReadOnly
	}
	if err := t.cacheRollback(offer.Offer.ID); err != nil {
		return err
	}
	t.commitCache = append(t.commitCache, offer)
	return nil
}

func (t *tx) DeletePublicOffer(offerID string) error {
	if !t.isForWrites {
		return ErrReadOnly
	}
	if err := t.cacheRollback(offerID); err != nil {
		return err
	}
	t.commitCache = append(t.commitCache, deletePublicOffer(offerID))
	return nil
}

// GetOfferIndex returns the IDs of all published offers including any
// changes made in this transaction.
func (t *tx) GetOfferIndex() ([]string, error) {
	index, err := t.ffdb.GetOfferIndex()
	if err != nil {
		return nil, err
	}
	m := make(map[string]bool)
	for _, id := range index {
		m[id] = true
	}
	for _, i := range t.commitCache {
		switch i := i.(type) {
		case *models.PublicOffer:
			m[i.Offer.ID] = true
		case deletePublicOffer:
			delete(m, string(i))
		}
	}
	ret := make([]string, 0, len(m))
	for id := range m {
		ret = append(ret, id)
	}
	sort.Strings(ret)
	return ret, nil
}

// cacheRollback records how to restore the on disk offer should the
// transaction be rolled back after a partial commit.
func (t *tx) cacheRollback(offerID string) error {
	current, err := t.ffdb.GetPublicOffer(offerID)
	if os.IsNotExist(err) {
		t.rollbackCache = append(t.rollbackCache, deletePublicOffer(offerID))
		return nil
	} else if err != nil {
		return err
	}
	t.rollbackCache = append(t.rollbackCache, current)
	return nil
}

func (t *tx) setInterfaceType(i interface{}) error {
	switch i := i.(type) {
	case *models.PublicOffer:
		if i == nil {
			return nil
		}
		return t.ffdb.SetPublicOffer(i)
	case deletePublicOffer:
		return t.ffdb.DeletePublicOffer(string(i))
	}
	return nil
}
