package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cpacia/xmrescrow/events"
	"github.com/google/uuid"
)

// NotificationRecord encapsulates one of many notifications with additional
// metadata. The actual notification is serialized as JSON so as to
// make this model suitable for the database. It may also be sent over
// the websocket API in this format.
type NotificationRecord struct {
	ID         string          `gorm:"primary_key" json:"-"`
	Timestamp  time.Time       `json:"timestamp"`
	IsRead     bool            `json:"read"`
	Serialized json.RawMessage `json:"notification"`
	Type       string          `json:"type"`
}

// NewNotificationRecord takes in a notification and returns a new NotificationRecord
// with a new ID and timestamp.
func NewNotificationRecord(notification events.TypedNotification) (*NotificationRecord, error) {
	out, err := json.MarshalIndent(notification, "", "    ")
	if err != nil {
		return nil, err
	}

	return &NotificationRecord{
		ID:         uuid.New().String(),
		Timestamp:  time.Now(),
		Type:       string(notification.Type()),
		Serialized: out,
	}, nil
}

// Notification decodes the stored notification.
func (n *NotificationRecord) Notification() (events.TypedNotification, error) {
	newNotif, ok := notificationMap[n.Type]
	if !ok {
		return nil, fmt.Errorf("unknown notification type: %s", n.Type)
	}
	notif := newNotif()
	if err := json.Unmarshal(n.Serialized, notif); err != nil {
		return nil, err
	}
	return notif, nil
}

var notificationMap = map[string]func() events.TypedNotification{
	"NewTradeNotification":            func() events.TypedNotification { return &events.NewTradeNotification{} },
	"TradeStateNotification":          func() events.TypedNotification { return &events.TradeStateNotification{} },
	"TradeFailedNotification":         func() events.TypedNotification { return &events.TradeFailedNotification{} },
	"TradeCompletedNotification":      func() events.TypedNotification { return &events.TradeCompletedNotification{} },
	"TradeErrorNotification":          func() events.TypedNotification { return &events.TradeErrorNotification{} },
	"OfferStateNotification":          func() events.TypedNotification { return &events.OfferStateNotification{} },
	"IncomingTransactionNotification": func() events.TypedNotification { return &events.IncomingTransactionNotification{} },
	"TestNotification":                func() events.TypedNotification { return &events.TestNotification{} },
}
