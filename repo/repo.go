package repo

import (
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"strconv"

	"github.com/cpacia/xmrescrow/database"
	"github.com/cpacia/xmrescrow/database/ffsqlite"
	"github.com/cpacia/xmrescrow/models"
	"github.com/cpacia/xmrescrow/version"
	"github.com/jinzhu/gorm"
	"github.com/op/go-logging"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"
)

const (
	// defaultRepoVersion is the current repo version used for migrations.
	defaultRepoVersion = 0

	// versionFileName is the name of the version file.
	versionFileName = "version"

	// identityPassphrase salts the mnemonic when deriving the identity key.
	identityPassphrase = "Secret Passphrase"
)

var log = logging.MustGetLogger("REPO")

// Repo is a representation of a node's data directory.
// In this we store:
// - The xmrescrow.conf file
// - The sqlite database with trades, offers and keys
// - The public directory with the offers we serve to the network
type Repo struct {
	db      database.Database
	dataDir string
}

// NewRepo returns a new Repo for the given data directory. It will
// be initialized if it is not already.
func NewRepo(dataDir string) (*Repo, error) {
	return newRepo(dataDir, "", false)
}

// NewRepoWithCustomMnemonicSeed behaves the same as NewRepo but allows
// the caller to pass in a custom mnemonic seed. This is useful for
// restoring a node from seed.
func NewRepoWithCustomMnemonicSeed(dataDir, mnemonic string) (*Repo, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid mnemonic")
	}
	return newRepo(dataDir, mnemonic, false)
}

// IsInitialized reports whether dataDir already holds a repo.
func IsInitialized(dataDir string) bool {
	_, err := os.Stat(path.Join(dataDir, versionFileName))
	return err == nil
}

// DB returns the database implementation.
func (r *Repo) DB() database.Database {
	return r.db
}

// DataDir returns the data directory associated with this repo.
func (r *Repo) DataDir() string {
	return r.dataDir
}

// IdentityKey loads the serialized identity private key.
func (r *Repo) IdentityKey() ([]byte, error) {
	var key models.Key
	err := r.db.View(func(tx database.Tx) error {
		return tx.Read().Where("name = ?", models.KeyIdentity).First(&key).Error
	})
	if err != nil {
		return nil, errors.Wrap(err, "load identity key")
	}
	return key.Value, nil
}

// Close will close the repo and associated databases.
func (r *Repo) Close() {
	r.db.Close()
}

// DestroyRepo deletes the entire directory. Do NOT use this unless you are
// positive you want to wipe all data.
func (r *Repo) DestroyRepo() error {
	if err := r.db.Close(); err != nil {
		return err
	}
	return os.RemoveAll(r.dataDir)
}

// writeVersion writes the version number to file.
func (r *Repo) writeVersion(version int) error {
	versionStr := strconv.Itoa(version)
	return ioutil.WriteFile(path.Join(r.dataDir, versionFileName), []byte(versionStr), os.ModePerm)
}

// WriteUserAgent writes our user agent into the public directory.
func (r *Repo) WriteUserAgent(comment string) error {
	return ioutil.WriteFile(path.Join(r.db.PublicDataPath(), "user_agent"), []byte(fmt.Sprintf("%s%s", version.UserAgent(), comment)), os.ModePerm)
}

func newRepo(dataDir, mnemonicSeed string, inMemoryDB bool) (*Repo, error) {
	if err := checkWriteable(dataDir); err != nil {
		return nil, err
	}

	var (
		db  database.Database
		err error
	)
	if inMemoryDB {
		db, err = ffsqlite.NewFFMemoryDB(dataDir)
	} else {
		db, err = ffsqlite.NewFFSqliteDB(dataDir)
	}
	if err != nil {
		return nil, err
	}

	if err := autoMigrateDatabase(db); err != nil {
		return nil, err
	}

	isNew := false
	err = db.Update(func(tx database.Tx) error {
		var existing models.Key
		err := tx.Read().Where("name = ?", models.KeyIdentity).First(&existing).Error
		if err == nil {
			return nil
		} else if !gorm.IsRecordNotFoundError(err) {
			return err
		}

		if mnemonicSeed == "" {
			mnemonicSeed, err = createMnemonic(bip39.NewEntropy, bip39.NewMnemonic)
			if err != nil {
				return err
			}
		}

		identitySeed := bip39.NewSeed(mnemonicSeed, identityPassphrase)
		identityKey, err := IdentityKeyFromSeed(identitySeed, 0)
		if err != nil {
			return err
		}

		if err := tx.Save(&models.Key{Name: models.KeyIdentity, Value: identityKey}); err != nil {
			return err
		}
		isNew = true
		return tx.Save(&models.Key{Name: models.KeyMnemonic, Value: []byte(mnemonicSeed)})
	})
	if err != nil {
		return nil, err
	}

	if err := CheckAndSetUlimit(); err != nil {
		return nil, err
	}

	r := &Repo{
		dataDir: dataDir,
		db:      db,
	}
	if isNew {
		log.Infof("Initialized new data directory at %s", dataDir)
		if err := r.writeVersion(defaultRepoVersion); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func checkWriteable(dir string) error {
	_, err := os.Stat(dir)
	if err == nil {
		// Directory exists, make sure we can write to it
		testfile := path.Join(dir, "test")
		fi, err := os.Create(testfile)
		if err != nil {
			if os.IsPermission(err) {
				return fmt.Errorf("%s is not writeable by the current user", dir)
			}
			return fmt.Errorf("unexpected error while checking writeablility of repo root: %s", err)
		}
		fi.Close()
		return os.Remove(testfile)
	}

	if os.IsNotExist(err) {
		// Directory does not exist, check that we can create it
		return os.MkdirAll(dir, 0775)
	}

	if os.IsPermission(err) {
		return fmt.Errorf("cannot write to %s, incorrect permissions", err)
	}

	return err
}

func createMnemonic(newEntropy func(int) ([]byte, error), newMnemonic func([]byte) (string, error)) (string, error) {
	entropy, err := newEntropy(128)
	if err != nil {
		return "", err
	}
	mnemonic, err := newMnemonic(entropy)
	if err != nil {
		return "", err
	}
	return mnemonic, nil
}

func autoMigrateDatabase(db database.Database) error {
	dbModels := []interface{}{
		&models.Key{},
		&models.OutgoingMessage{},
		&models.NotificationRecord{},
		&models.Event{},
		&models.StoreAndForwardServers{},
		&models.Trade{},
		&models.ArchivedTrade{},
		&models.OpenOffer{},
		&models.SignedOffer{},
		&models.PaymentAccount{},
	}

	return db.Update(func(tx database.Tx) error {
		for _, m := range dbModels {
			if err := tx.Migrate(m); err != nil {
				return err
			}
		}
		return nil
	})
}
