package events

// TypedNotification contains a single method which allows
// us to get the type of the notification. All notifications
// should implement this.
type TypedNotification interface {
	// Type returns the type of the notification.
	Type() string
}

// NewTradeNotification is sent when a trade is created on this node.
type NewTradeNotification struct {
	ID      string `json:"notificationID"`
	TradeID string `json:"tradeID"`
	OfferID string `json:"offerID"`
	Role    string `json:"role"`
}

func (n *NewTradeNotification) Type() string { return "NewTradeNotification" }

// TradeStateNotification is sent whenever a trade moves to a new state.
type TradeStateNotification struct {
	ID      string `json:"notificationID"`
	TradeID string `json:"tradeID"`
	Phase   string `json:"phase"`
	State   string `json:"state"`
}

func (n *TradeStateNotification) Type() string { return "TradeStateNotification" }

// TradeFailedNotification is sent when a trade fails.
type TradeFailedNotification struct {
	ID      string `json:"notificationID"`
	TradeID string `json:"tradeID"`
	Reason  string `json:"reason"`
}

func (n *TradeFailedNotification) Type() string { return "TradeFailedNotification" }

// TradeCompletedNotification is sent when a trade's payout confirms.
type TradeCompletedNotification struct {
	ID       string `json:"notificationID"`
	TradeID  string `json:"tradeID"`
	PayoutTx string `json:"payoutTx"`
}

func (n *TradeCompletedNotification) Type() string { return "TradeCompletedNotification" }

// TradeErrorNotification is sent when the counterparty rejects a message.
type TradeErrorNotification struct {
	ID          string `json:"notificationID"`
	TradeID     string `json:"tradeID"`
	MessageType string `json:"messageType"`
	Error       string `json:"error"`
}

func (n *TradeErrorNotification) Type() string { return "TradeErrorNotification" }

// OfferStateNotification is sent when an open offer changes state.
type OfferStateNotification struct {
	ID      string `json:"notificationID"`
	OfferID string `json:"offerID"`
	State   string `json:"state"`
}

func (n *OfferStateNotification) Type() string { return "OfferStateNotification" }

// IncomingTransactionNotification is sent for every wallet transaction.
type IncomingTransactionNotification struct {
	ID            string `json:"notificationID"`
	Txid          string `json:"txid"`
	Confirmations uint64 `json:"confirmations"`
}

func (n *IncomingTransactionNotification) Type() string { return "IncomingTransactionNotification" }

// TestNotification is a test notification.
type TestNotification struct{}

func (n *TestNotification) Type() string { return "TestNotification" }
