package models

import (
	"encoding/json"
	"time"
)

// ArchivedTrade is a failed trade that was replaced when its offer was
// taken again. The new attempt reuses the trade ID.
type ArchivedTrade struct {
	ID           string     `gorm:"primary_key" json:"archiveID"`
	TradeID      string     `gorm:"index" json:"tradeID"`
	State        TradeState `json:"state"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	ArchivedAt   time.Time  `json:"archivedAt"`

	Trade           json.RawMessage `gorm:"-" json:"trade"`
	SerializedTrade []byte          `json:"-"`
}

// NewArchivedTrade snapshots t under the given archive ID.
func NewArchivedTrade(id string, t *Trade) (*ArchivedTrade, error) {
	ser, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return &ArchivedTrade{
		ID:              id,
		TradeID:         t.ID,
		State:           t.State,
		ErrorMessage:    t.ErrorMessage,
		ArchivedAt:      time.Now(),
		Trade:           ser,
		SerializedTrade: ser,
	}, nil
}

// AfterFind exposes the snapshot in the JSON encoding.
func (a *ArchivedTrade) AfterFind() error {
	a.Trade = a.SerializedTrade
	return nil
}

// Decode returns the archived trade.
func (a *ArchivedTrade) Decode() (*Trade, error) {
	t := new(Trade)
	if err := json.Unmarshal(a.SerializedTrade, t); err != nil {
		return nil, err
	}
	return t, nil
}
