package ffsqlite

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cpacia/xmrescrow/models"
)

const (
	// OfferIndexFile is the filename of the offer index on disk.
	OfferIndexFile = "offers.json"

	offersDir = "offers"
)

// FlatFileDB represents the directory that holds the node's public data.
// Updating or deleting an offer also updates the offer index so the two
// are always consistent.
type FlatFileDB struct {
	rootDir string

	mtx sync.RWMutex
}

// NewFlatFileDB returns a new public data directory. If one does not
// already exist at the given location, it will be initialized.
func NewFlatFileDB(rootDir string) (*FlatFileDB, error) {
	fdb := &FlatFileDB{rootDir: rootDir}

	if _, err := os.Stat(fdb.dataPathJoin(offersDir)); os.IsNotExist(err) {
		if err := fdb.initializeDirectory(); err != nil {
			return nil, err
		}
	}

	return fdb, nil
}

// Path returns the path to the public directory.
func (fdb *FlatFileDB) Path() string {
	return fdb.rootDir
}

// GetPublicOffer loads the offer from disk and returns it.
func (fdb *FlatFileDB) GetPublicOffer(offerID string) (*models.PublicOffer, error) {
	fdb.mtx.RLock()
	defer fdb.mtx.RUnlock()

	raw, err := ioutil.ReadFile(fdb.dataPathJoin(offersDir, offerID+".json"))
	if err != nil {
		return nil, err
	}
	offer := new(models.PublicOffer)
	if err := json.Unmarshal(raw, offer); err != nil {
		return nil, err
	}
	return offer, nil
}

// SetPublicOffer saves the offer to disk and adds it to the index.
func (fdb *FlatFileDB) SetPublicOffer(offer *models.PublicOffer) error {
	fdb.mtx.Lock()
	defer fdb.mtx.Unlock()

	out, err := json.MarshalIndent(offer, "", "    ")
	if err != nil {
		return err
	}
	if err := ioutil.WriteFile(fdb.dataPathJoin(offersDir, offer.Offer.ID+".json"), out, os.ModePerm); err != nil {
		return err
	}

	index, err := fdb.readIndex()
	if err != nil {
		return err
	}
	for _, id := range index {
		if id == offer.Offer.ID {
			return nil
		}
	}
	index = append(index, offer.Offer.ID)
	sort.Strings(index)
	return fdb.writeIndex(index)
}

// DeletePublicOffer deletes an offer from disk and from the index.
func (fdb *FlatFileDB) DeletePublicOffer(offerID string) error {
	fdb.mtx.Lock()
	defer fdb.mtx.Unlock()

	if err := os.Remove(fdb.dataPathJoin(offersDir, offerID+".json")); err != nil && !os.IsNotExist(err) {
		return err
	}

	index, err := fdb.readIndex()
	if err != nil {
		return err
	}
	for i, id := range index {
		if id == offerID {
			index = append(index[:i], index[i+1:]...)
			break
		}
	}
	return fdb.writeIndex(index)
}

// GetOfferIndex loads the offer index from disk and returns it.
func (fdb *FlatFileDB) GetOfferIndex() ([]string, error) {
	fdb.mtx.RLock()
	defer fdb.mtx.RUnlock()

	return fdb.readIndex()
}

func (fdb *FlatFileDB) readIndex() ([]string, error) {
	raw, err := ioutil.ReadFile(fdb.dataPathJoin(OfferIndexFile))
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var index []string
	if err := json.Unmarshal(raw, &index); err != nil {
		return nil, err
	}
	return index, nil
}

func (fdb *FlatFileDB) writeIndex(index []string) error {
	if index == nil {
		index = []string{}
	}
	out, err := json.MarshalIndent(index, "", "    ")
	if err != nil {
		return err
	}
	return ioutil.WriteFile(fdb.dataPathJoin(OfferIndexFile), out, os.ModePerm)
}

// dataPathJoin is a helper function which joins the pathArgs to the service's
// dataPath and returns the result
func (fdb *FlatFileDB) dataPathJoin(pathArgs ...string) string {
	allPathArgs := append([]string{fdb.rootDir}, pathArgs...)
	return filepath.Join(allPathArgs...)
}

func (fdb *FlatFileDB) initializeDirectory() error {
	directories := []string{
		fdb.rootDir,
		fdb.dataPathJoin(offersDir),
	}

	for _, dir := range directories {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return err
		}
	}
	return nil
}
