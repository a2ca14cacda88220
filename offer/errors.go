package offer

import (
	"errors"
	"fmt"
)

var (
	// ErrOfferNotFound is returned when no open offer exists for an ID.
	ErrOfferNotFound = errors.New("offer not found")

	// ErrInvalidTransition is returned when an offer cannot move from
	// its current state to the requested one.
	ErrInvalidTransition = errors.New("invalid offer state transition")

	// ErrInsufficientFunds is returned when the wallet cannot fund an
	// offer even counting its locked incoming transactions.
	ErrInsufficientFunds = errors.New("insufficient funds to schedule offer")

	// ErrNoArbitrator is returned when posting an offer without a
	// configured arbitrator.
	ErrNoArbitrator = errors.New("no arbitrator configured")

	// ErrNoResponse is returned when the arbitrator does not answer a
	// sign offer request in time.
	ErrNoResponse = errors.New("no response to sign offer request")

	// ErrSignatureRefused is returned when the arbitrator refuses to
	// sign an offer.
	ErrSignatureRefused = errors.New("arbitrator refused to sign offer")

	// ErrNotBootstrapped is returned by offer book operations attempted
	// before the offer book has peers.
	ErrNotBootstrapped = errors.New("offer book not bootstrapped")

	// ErrInvalidRecord is returned for offer book records that fail
	// validation.
	ErrInvalidRecord = errors.New("invalid offer book record")
)

// ScheduleError is the reason the scheduler canceled one offer.
type ScheduleError struct {
	OfferID string
	Err     error
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("offer %s: %s", e.OfferID, e.Err)
}

// Cause returns the underlying error.
func (e *ScheduleError) Cause() error { return e.Err }

func (e *ScheduleError) Unwrap() error { return e.Err }
