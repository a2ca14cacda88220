package events

import (
	iwallet "github.com/cpacia/wallet-interface"
)

// TransactionReceived is an event that fires whenever a transaction
// relevant to the wallet is seen, either in the mempool or in a block.
type TransactionReceived struct {
	iwallet.Transaction
	Confirmations uint64
}

// BlockReceived is an event that fires when a new block is
// received by the wallet.
type BlockReceived struct {
	BlockID string
	Height  uint64
}

// BalanceChanged fires whenever the wallet balance changes.
type BalanceChanged struct {
	Balance         uint64
	UnlockedBalance uint64
}

// TransactionConfirmed fires when the number of confirmations of a
// transaction relevant to the wallet changes.
type TransactionConfirmed struct {
	TxID          string
	Confirmations uint64
	Unlocked      bool
}
