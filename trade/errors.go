package trade

import "errors"

var (
	// ErrTradeNotFound is returned when no trade exists for a trade ID.
	ErrTradeNotFound = errors.New("trade not found")

	// ErrTradeExists is returned when taking an offer we already have a
	// trade for.
	ErrTradeExists = errors.New("trade already exists")

	// ErrWrongTrade is returned when a message is routed to a protocol
	// for a different trade.
	ErrWrongTrade = errors.New("message is for a different trade")

	// ErrUnknownSender is returned when the sender is not a party to the
	// trade or its key does not match the one on file.
	ErrUnknownSender = errors.New("sender is not a party to this trade")

	// ErrUnexpectedMessage is returned when the message type is not
	// handled by our role or not accepted from the sender's role.
	ErrUnexpectedMessage = errors.New("unexpected message for role")

	// ErrPrecondition is returned when a message arrives for a state the
	// trade has not reached yet.
	ErrPrecondition = errors.New("trade is not in the required state")

	// ErrTradeClosed is returned for actions on completed or failed trades.
	ErrTradeClosed = errors.New("trade is closed")

	// ErrTimeout is recorded on trades whose step was not answered in time.
	ErrTimeout = errors.New("trade step timed out")

	// ErrDeferralExpired is sent back for deferred messages whose
	// prerequisite state was not reached in time.
	ErrDeferralExpired = errors.New("deferred message expired")

	// ErrPeerRejected is recorded when a peer negatively acknowledges one
	// of our trade initiating messages.
	ErrPeerRejected = errors.New("peer rejected trade message")

	// ErrMultisigMismatch is returned when a peer reports multisig data
	// different from what it sent before.
	ErrMultisigMismatch = errors.New("multisig data does not match")

	// ErrContractMismatch is returned when a peer's contract differs from
	// ours.
	ErrContractMismatch = errors.New("contract does not match")

	// ErrInvalidSignature is returned for bad contract signatures.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrInvalidPayout is returned when the payout transaction does not
	// pay the trade terms.
	ErrInvalidPayout = errors.New("payout does not match trade terms")

	// ErrOfferUnavailable is returned when the maker's offer cannot be
	// reserved for a new trade.
	ErrOfferUnavailable = errors.New("offer is not available")

	// ErrInvalidAmount is returned when the trade amount is outside the
	// offer's range.
	ErrInvalidAmount = errors.New("trade amount outside offer range")

	// ErrConflictingData is returned when a peer resends a trade field
	// with a different value.
	ErrConflictingData = errors.New("conflicting trade data")
)
