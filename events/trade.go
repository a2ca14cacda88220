package events

// TradeCreated fires when a new trade is persisted.
type TradeCreated struct {
	TradeID string
	OfferID string
	Role    string
}

// TradeStateChanged fires every time a trade advances.
type TradeStateChanged struct {
	TradeID string
	Phase   string
	State   string
}

// TradeFailed fires when a trade fails or times out.
type TradeFailed struct {
	TradeID string
	Reason  string
}

// TradeCompleted fires when the payout transaction confirms.
type TradeCompleted struct {
	TradeID  string
	PayoutTx string
}

// TradeErrorReported fires when a peer rejects one of our messages
// or when processing a message fails.
type TradeErrorReported struct {
	TradeID     string
	MessageType string
	Error       string
}
