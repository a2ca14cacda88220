package ffsqlite

import (
	"errors"
	"os"
	"path"
	"testing"

	"github.com/cpacia/xmrescrow/database"
	"github.com/cpacia/xmrescrow/models"
	"github.com/jinzhu/gorm"
)

func newTestDB(t *testing.T, name string) (database.Database, func()) {
	dataDir := path.Join(os.TempDir(), "xmrescrow-test", name)
	if err := os.MkdirAll(dataDir, os.ModePerm); err != nil {
		t.Fatal(err)
	}
	db, err := NewFFMemoryDB(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	err = db.Update(func(tx database.Tx) error {
		if err := tx.Migrate(&models.OutgoingMessage{}); err != nil {
			return err
		}
		return tx.Migrate(&models.Trade{})
	})
	if err != nil {
		t.Fatal(err)
	}
	return db, func() {
		db.Close()
		os.RemoveAll(dataDir)
	}
}

func TestFFSqliteDB_UpdateAndView(t *testing.T) {
	db, teardown := newTestDB(t, "ffsqlitedb-update")
	defer teardown()

	err := db.Update(func(tx database.Tx) error {
		return tx.Save(&models.OutgoingMessage{ID: "abc"})
	})
	if err != nil {
		t.Error(err)
	}

	var messages []models.OutgoingMessage
	err = db.View(func(tx database.Tx) error {
		if err := tx.Read().Find(&messages).Error; err != nil && !gorm.IsRecordNotFoundError(err) {
			return err
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(messages) != 1 {
		t.Errorf("Db update failed. Expected %d messages got %d", 1, len(messages))
	}

	err = db.Update(func(tx database.Tx) error {
		if err := tx.Save(&models.OutgoingMessage{ID: "def"}); err != nil {
			return err
		}
		return errors.New("atomic update failure")
	})
	if err == nil {
		t.Error("Update function did not return error")
	}

	var messages2 []models.OutgoingMessage
	err = db.View(func(tx database.Tx) error {
		return tx.Read().Find(&messages2).Error
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(messages2) != 1 {
		t.Error("Db update failed to roll back.")
	}
}

func TestFFSqliteDB_ReadOnly(t *testing.T) {
	db, teardown := newTestDB(t, "ffsqlitedb-readonly")
	defer teardown()

	err := db.View(func(tx database.Tx) error {
		return tx.Save(&models.OutgoingMessage{ID: "abc"})
	})
	if err != ErrReadOnly {
		t.Errorf("Expected ErrReadOnly got %v", err)
	}
	err = db.View(func(tx database.Tx) error {
		return tx.SetPublicOffer(&models.PublicOffer{Offer: models.Offer{ID: "abc"}})
	})
	if err != ErrReadOnly {
		t.Errorf("Expected ErrReadOnly got %v", err)
	}
}

func TestFFSqliteDB_CommitHooks(t *testing.T) {
	db, teardown := newTestDB(t, "ffsqlitedb-hooks")
	defer teardown()

	called := 0
	err := db.Update(func(tx database.Tx) error {
		tx.RegisterCommitHook(func() { called++ })
		return tx.Save(&models.OutgoingMessage{ID: "abc"})
	})
	if err != nil {
		t.Fatal(err)
	}
	if called != 1 {
		t.Errorf("Expected hook to be called once, got %d", called)
	}

	err = db.Update(func(tx database.Tx) error {
		tx.RegisterCommitHook(func() { called++ })
		return errors.New("fail")
	})
	if err == nil {
		t.Fatal("Expected error")
	}
	if called != 1 {
		t.Error("Hook called after rollback")
	}
}

func TestFFSqliteDB_UpdateAndDelete(t *testing.T) {
	db, teardown := newTestDB(t, "ffsqlitedb-delete")
	defer teardown()

	err := db.Update(func(tx database.Tx) error {
		if err := tx.Save(&models.OutgoingMessage{ID: "abc", MessageType: "TRADE"}); err != nil {
			return err
		}
		if err := tx.Save(&models.OutgoingMessage{ID: "def", MessageType: "TRADE"}); err != nil {
			return err
		}
		if err := tx.Update("message_type", "ACK", map[string]interface{}{"id = ?": "abc"}, &models.OutgoingMessage{}); err != nil {
			return err
		}
		return tx.Delete("id", "def", nil, &models.OutgoingMessage{})
	})
	if err != nil {
		t.Fatal(err)
	}

	var messages []models.OutgoingMessage
	err = db.View(func(tx database.Tx) error {
		return tx.Read().Find(&messages).Error
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 1 {
		t.Fatalf("Expected 1 message got %d", len(messages))
	}
	if messages[0].MessageType != "ACK" {
		t.Errorf("Expected updated message type, got %s", messages[0].MessageType)
	}
}

func TestFFSqliteDB_Trade(t *testing.T) {
	db, teardown := newTestDB(t, "ffsqlitedb-trade")
	defer teardown()

	trade := &models.Trade{
		ID:    "trade1",
		Role:  models.RoleMaker,
		State: models.StateMultisigCompleted,
		Phase: models.PhaseInit,
		Open:  true,
		Maker: models.TradingPeer{PeerID: "maker", ReserveTxHash: "abc"},
	}
	trade.ProcessModel.MultisigSetupComplete = true

	err := db.Update(func(tx database.Tx) error {
		return tx.Save(trade)
	})
	if err != nil {
		t.Fatal(err)
	}

	var loaded models.Trade
	err = db.View(func(tx database.Tx) error {
		return tx.Read().Where("id = ?", "trade1").First(&loaded).Error
	})
	if err != nil {
		t.Fatal(err)
	}
	if loaded.State != models.StateMultisigCompleted {
		t.Errorf("Expected state %s got %s", models.StateMultisigCompleted, loaded.State)
	}
	if loaded.Maker.ReserveTxHash != "abc" {
		t.Error("Peer record not restored")
	}
	if !loaded.ProcessModel.MultisigSetupComplete {
		t.Error("Process model not restored")
	}
}

func TestFFSqliteDB_PublicOffers(t *testing.T) {
	db, teardown := newTestDB(t, "ffsqlitedb-offers")
	defer teardown()

	err := db.Update(func(tx database.Tx) error {
		if err := tx.SetPublicOffer(&models.PublicOffer{Offer: models.Offer{ID: "b"}}); err != nil {
			return err
		}
		if err := tx.SetPublicOffer(&models.PublicOffer{Offer: models.Offer{ID: "a"}}); err != nil {
			return err
		}
		index, err := tx.GetOfferIndex()
		if err != nil {
			return err
		}
		if len(index) != 2 {
			t.Errorf("Expected uncommitted index of 2 got %d", len(index))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	err = db.Update(func(tx database.Tx) error {
		if err := tx.DeletePublicOffer("b"); err != nil {
			return err
		}
		if _, err := tx.GetPublicOffer("b"); !os.IsNotExist(err) {
			t.Errorf("Expected not exist error for deleted offer, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	err = db.Update(func(tx database.Tx) error {
		if err := tx.SetPublicOffer(&models.PublicOffer{Offer: models.Offer{ID: "c"}}); err != nil {
			return err
		}
		return errors.New("rollback")
	})
	if err == nil {
		t.Fatal("Expected error")
	}

	err = db.View(func(tx database.Tx) error {
		index, err := tx.GetOfferIndex()
		if err != nil {
			return err
		}
		if len(index) != 1 || index[0] != "a" {
			t.Errorf("Unexpected index %v", index)
		}
		offer, err := tx.GetPublicOffer("a")
		if err != nil {
			return err
		}
		if offer.Offer.ID != "a" {
			t.Errorf("Expected offer a got %s", offer.Offer.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
