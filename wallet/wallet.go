// Package wallet defines the Monero wallet collaborator used by the trade
// engine and the offer scheduler, along with a simulated wallet network
// used by the node and by tests.
package wallet

import (
	"errors"
	"time"

	iwallet "github.com/cpacia/wallet-interface"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("WALLET")

// MultisigThreshold is the number of signatures needed to spend from
// a trade's escrow wallet.
const MultisigThreshold = 2

var (
	// ErrInsufficientFunds is returned when the wallet's unlocked, unfrozen
	// outputs cannot cover a transaction.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrTxNotFound is returned when a transaction is not known to the chain.
	ErrTxNotFound = errors.New("transaction not found")

	// ErrInvalidTx is returned when a transaction fails verification.
	ErrInvalidTx = errors.New("invalid transaction")

	// ErrDoubleSpend is returned when relaying a transaction which spends
	// an output that has already been spent.
	ErrDoubleSpend = errors.New("output already spent")

	// ErrUnknownOutput is returned when a key image doesn't belong to
	// the wallet.
	ErrUnknownOutput = errors.New("unknown output")

	// ErrMultisigState is returned when a multisig round is attempted
	// before the previous round completed.
	ErrMultisigState = errors.New("multisig round out of order")

	// ErrInvalidMultisigHex is returned when a peer's multisig data does
	// not belong to the escrow wallet.
	ErrInvalidMultisigHex = errors.New("invalid multisig hex")

	// ErrMultisigNotSynced is returned when creating or signing a payout
	// before the peers' multisig info was imported.
	ErrMultisigNotSynced = errors.New("multisig info not imported")

	// ErrFundsLocked is returned when spending escrow outputs that have not
	// reached the unlock depth.
	ErrFundsLocked = errors.New("funds are locked")
)

// SignedTx is a signed but possibly unrelayed transaction along with the
// key that proves its outputs to a third party.
type SignedTx struct {
	Hash      string
	Hex       string
	Key       string
	KeyImages []string
}

// IncomingTx is a wallet transaction whose outputs have not unlocked yet.
type IncomingTx struct {
	ID            iwallet.TransactionID
	Amount        uint64
	Confirmations uint64
	Timestamp     time.Time
}

// TxInfo describes a transaction known to the chain.
type TxInfo struct {
	ID            iwallet.TransactionID
	Height        uint64
	Confirmations uint64
	Unlocked      bool
	Timestamp     time.Time
}

// DepositTerms describe the transaction which funds a trade's escrow
// wallet. KeyImages are the outputs committed by the trader's reserve
// transaction. The fee output is omitted when Fee is zero.
type DepositTerms struct {
	MultisigAddress string
	Amount          uint64
	FeeAddress      string
	Fee             uint64
	KeyImages       []string
}

// PayoutOutput is one output of the escrow payout transaction.
type PayoutOutput struct {
	Address string
	Amount  uint64
}

// MultisigResult is produced by the final key exchange round.
type MultisigResult struct {
	ExchangedHex string
	Address      string
}

// Wallet is the interface the trade engine and offer scheduler use to
// interact with the Monero wallet. Implementations must be safe for
// concurrent use; calls may block the calling trade.
//
// Multisig methods are keyed by trade ID. Every trade has its own escrow
// wallet which is created in three rounds: prepare, make and exchange.
type Wallet interface {
	// Balance returns the wallet balance excluding frozen outputs.
	Balance() (uint64, error)

	// UnlockedBalance returns the spendable balance excluding frozen outputs.
	UnlockedBalance() (uint64, error)

	// LockedTransactions returns the incoming transactions which have not
	// unlocked yet, oldest first.
	LockedTransactions() ([]IncomingTx, error)

	// GetTransaction returns the chain state of a transaction.
	GetTransaction(txid iwallet.TransactionID) (*TxInfo, error)

	// CreateReserveTx creates, but does not relay, a transaction locking
	// amount. The outputs it spends are frozen until thawed or spent.
	CreateReserveTx(amount uint64) (*SignedTx, error)

	// VerifyReserveTx checks that a peer's reserve transaction is valid,
	// unspent and reserves at least amount.
	VerifyReserveTx(tx *SignedTx, amount uint64) error

	// FreezeOutputs excludes the outputs from balance and coin selection.
	FreezeOutputs(keyImages []string) error

	// ThawOutputs releases outputs frozen by FreezeOutputs or
	// CreateReserveTx.
	ThawOutputs(keyImages []string) error

	// PrepareMultisig starts the escrow wallet for the trade and returns
	// our prepared multisig hex.
	PrepareMultisig(tradeID string) (string, error)

	// MakeMultisig consumes the other two parties' prepared hex and returns
	// our made multisig hex.
	MakeMultisig(tradeID string, peerPrepared []string) (string, error)

	// ExchangeMultisigKeys consumes the other two parties' made hex and
	// completes the escrow wallet.
	ExchangeMultisigKeys(tradeID string, peerMade []string) (*MultisigResult, error)

	// ExportMultisigHex returns our multisig info needed by the other
	// signers to create or sign a payout.
	ExportMultisigHex(tradeID string) (string, error)

	// ImportMultisigHex imports the other signers' multisig info and
	// returns the number of escrow outputs now spendable.
	ImportMultisigHex(tradeID string, hexes []string) (int, error)

	// CreateDepositTx creates, but does not relay, the transaction funding
	// the escrow wallet from the reserved outputs.
	CreateDepositTx(terms DepositTerms) (*SignedTx, error)

	// VerifyDepositTx checks a trader's deposit transaction against the
	// terms of the trade.
	VerifyDepositTx(tx *SignedTx, terms DepositTerms) error

	// RelayTx broadcasts a signed transaction. Relaying a transaction
	// which is already known is not an error.
	RelayTx(txHex string) (iwallet.TransactionID, error)

	// CreatePayoutTx creates a payout from the escrow wallet signed by us.
	// The network fee is deducted from the last output.
	CreatePayoutTx(tradeID string, outputs []PayoutOutput) (string, error)

	// DescribePayoutTx returns the outputs of a payout transaction.
	DescribePayoutTx(txHex string) ([]PayoutOutput, error)

	// SignMultisigTx adds our signature to a payout transaction.
	SignMultisigTx(tradeID string, txHex string) (string, error)

	// SubmitMultisigTx relays a fully signed payout transaction.
	SubmitMultisigTx(tradeID string, txHex string) (iwallet.TransactionID, error)

	// NewAddress returns a new receiving address.
	NewAddress() (iwallet.Address, error)
}
