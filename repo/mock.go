package repo

import (
	"io/ioutil"
	"path"

	"github.com/cpacia/xmrescrow/database"
	"github.com/cpacia/xmrescrow/database/ffsqlite"
)

func mockDataDir() (string, error) {
	tmp, err := ioutil.TempDir("", "xmrescrow-test")
	if err != nil {
		return "", err
	}
	return path.Join(tmp, "data"), nil
}

// MockDB returns a migrated in-memory database whose public directory
// lives in a fresh temp directory.
func MockDB() (database.Database, error) {
	dataDir, err := mockDataDir()
	if err != nil {
		return nil, err
	}
	db, err := ffsqlite.NewFFMemoryDB(dataDir)
	if err != nil {
		return nil, err
	}
	if err := autoMigrateDatabase(db); err != nil {
		return nil, err
	}
	return db, nil
}

// MockRepo returns a repo with an in-memory database and a temp data
// directory. A new identity is generated for every call.
func MockRepo() (*Repo, error) {
	dataDir, err := mockDataDir()
	if err != nil {
		return nil, err
	}
	return newRepo(dataDir, "", true)
}
