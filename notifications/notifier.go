package notifications

import (
	"github.com/cpacia/xmrescrow/database"
	"github.com/cpacia/xmrescrow/events"
	"github.com/cpacia/xmrescrow/models"
	"github.com/google/uuid"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("NOTIF")

const subscriptionBuffer = 256

type notificationWrapper struct {
	Notification interface{} `json:"notification"`
}

type walletWrapper struct {
	Wallet interface{} `json:"wallet"`
}

// notifierStarted is emitted once the notifier is subscribed.
type notifierStarted struct{}

// Notifier manages translating events into notifications and
// sending them to websockets.
type Notifier struct {
	notifyFunc func(interface{}) error
	bus        events.Bus
	db         database.Database
	shutdown   chan struct{}
}

// NewNotifier returns a new notifer.
func NewNotifier(bus events.Bus, db database.Database, notifyFunc func(interface{}) error) *Notifier {
	return &Notifier{
		bus:        bus,
		db:         db,
		notifyFunc: notifyFunc,
		shutdown:   make(chan struct{}),
	}
}

// Start will start up the notifier. This should use it's own goroutine.
func (n *Notifier) Start() {
	notifications := []interface{}{
		&events.TradeCreated{},
		&events.TradeStateChanged{},
		&events.TradeFailed{},
		&events.TradeCompleted{},
		&events.TradeErrorReported{},
		&events.OfferStateChanged{},
		&events.TransactionReceived{},
	}

	notificationSub, err := n.bus.Subscribe(notifications, events.BufSize(subscriptionBuffer))
	if err != nil {
		log.Errorf("Error subscribing to events: %s", err)
		return
	}
	defer notificationSub.Close()

	walletSub, err := n.bus.Subscribe(&events.BalanceChanged{}, events.BufSize(subscriptionBuffer))
	if err != nil {
		log.Errorf("Error subscribing to events: %s", err)
		return
	}
	defer walletSub.Close()

	n.bus.Emit(&notifierStarted{})

	for {
		select {
		case event := <-notificationSub.Out():
			notif := convertToNotification(event)
			if notif == nil {
				continue
			}

			record, err := models.NewNotificationRecord(notif)
			if err != nil {
				log.Errorf("Error serializing notification: %s", err)
				continue
			}
			err = n.db.Update(func(tx database.Tx) error {
				return tx.Save(record)
			})
			if err != nil {
				log.Errorf("Error saving notification to the database: %s", err)
				continue
			}

			if err := n.notifyFunc(notificationWrapper{notif}); err != nil {
				log.Errorf("Error sending notification: %s", err)
			}
		case event := <-walletSub.Out():
			if err := n.notifyFunc(walletWrapper{event}); err != nil {
				log.Errorf("Error sending notification: %s", err)
			}
		case <-n.shutdown:
			return
		}
	}
}

// Stop shuts down the notifier.
func (n *Notifier) Stop() {
	close(n.shutdown)
}

func convertToNotification(event interface{}) events.TypedNotification {
	id := uuid.New().String()

	switch e := event.(type) {
	case *events.TradeCreated:
		return &events.NewTradeNotification{ID: id, TradeID: e.TradeID, OfferID: e.OfferID, Role: e.Role}
	case *events.TradeStateChanged:
		return &events.TradeStateNotification{ID: id, TradeID: e.TradeID, Phase: e.Phase, State: e.State}
	case *events.TradeFailed:
		return &events.TradeFailedNotification{ID: id, TradeID: e.TradeID, Reason: e.Reason}
	case *events.TradeCompleted:
		return &events.TradeCompletedNotification{ID: id, TradeID: e.TradeID, PayoutTx: e.PayoutTx}
	case *events.TradeErrorReported:
		return &events.TradeErrorNotification{ID: id, TradeID: e.TradeID, MessageType: e.MessageType, Error: e.Error}
	case *events.OfferStateChanged:
		return &events.OfferStateNotification{ID: id, OfferID: e.OfferID, State: e.State}
	case *events.TransactionReceived:
		return &events.IncomingTransactionNotification{ID: id, Txid: string(e.ID), Confirmations: e.Confirmations}
	}
	return nil
}
