package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/cpacia/xmrescrow/repo"
)

// Init initializes a new escrow node at the provided path.
type Init struct {
	DataDir  string `short:"d" long:"datadir" description:"Directory to store data"`
	Mnemonic string `short:"m" long:"mnemonic" description:"A mnemonic seed to initialize the node with"`
	Force    bool   `short:"f" long:"force" description:"Force overwrite existing repo (dangerous!)"`
}

// Execute creates the data directory, database and identity key.
func (x *Init) Execute(args []string) error {
	if x.DataDir == "" {
		x.DataDir = repo.DefaultHomeDir
	}

	if repo.IsInitialized(x.DataDir) && !x.Force {
		return errors.New("node is already initialized")
	}

	if err := os.RemoveAll(x.DataDir); err != nil {
		return err
	}

	var (
		r   *repo.Repo
		err error
	)
	if x.Mnemonic != "" {
		r, err = repo.NewRepoWithCustomMnemonicSeed(x.DataDir, x.Mnemonic)
	} else {
		r, err = repo.NewRepo(x.DataDir)
	}
	if err != nil {
		return err
	}
	defer r.Close()

	keyBytes, err := r.IdentityKey()
	if err != nil {
		return err
	}
	identity, err := repo.IdentityFromKey(keyBytes)
	if err != nil {
		return err
	}
	fmt.Printf("Initialized node %s at %s\n", identity.PeerID, x.DataDir)
	return nil
}
