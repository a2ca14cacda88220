package core

import (
	"errors"
	"fmt"

	"github.com/cpacia/xmrescrow/core/coreiface"
	"github.com/cpacia/xmrescrow/models"
	"github.com/cpacia/xmrescrow/offer"
	"github.com/cpacia/xmrescrow/trade"
	"github.com/cpacia/xmrescrow/wallet"
)

var (
	// ErrPeerUnreachable is returned when a peer does not answer a ping.
	ErrPeerUnreachable = coreiface.ErrPeerUnreachable

	// ErrOfferNotInBook is returned when an offer we try to take is not
	// in the offer book.
	ErrOfferNotInBook = fmt.Errorf("%w: offer not in offer book", coreiface.ErrNotFound)

	// ErrNoExchangeRates is returned when the node was started without
	// an exchange rate source.
	ErrNoExchangeRates = fmt.Errorf("%w: no exchange rate source configured", coreiface.ErrUnavailable)

	// ErrPaymentAccountNotFound is returned when a payment account does
	// not exist in the database.
	ErrPaymentAccountNotFound = fmt.Errorf("%w: payment account", coreiface.ErrNotFound)

	// ErrInvalidPaymentAccount is returned when a payment account has
	// no payment method.
	ErrInvalidPaymentAccount = fmt.Errorf("%w: payment account has no method", coreiface.ErrBadRequest)
)

var (
	notFoundErrors = []error{
		offer.ErrOfferNotFound,
		trade.ErrTradeNotFound,
		wallet.ErrRateNotFound,
	}
	badRequestErrors = []error{
		models.ErrInvalidOffer,
		models.ErrInvalidSignature,
		offer.ErrInvalidTransition,
		offer.ErrInsufficientFunds,
		offer.ErrNoArbitrator,
		offer.ErrSignatureRefused,
		trade.ErrTradeExists,
		trade.ErrPrecondition,
		trade.ErrTradeClosed,
		trade.ErrOfferUnavailable,
		trade.ErrInvalidAmount,
		trade.ErrInvalidSignature,
	}
	unavailableErrors = []error{
		offer.ErrNotBootstrapped,
		offer.ErrNoResponse,
	}
)

// classify wraps manager errors with the coreiface error kinds so the
// API can map them to status codes. Errors which are already
// classified are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{coreiface.ErrNotFound, coreiface.ErrBadRequest, coreiface.ErrUnavailable, coreiface.ErrPeerUnreachable} {
		if errors.Is(err, kind) {
			return err
		}
	}
	for _, e := range notFoundErrors {
		if errors.Is(err, e) {
			return fmt.Errorf("%w: %s", coreiface.ErrNotFound, err)
		}
	}
	for _, e := range badRequestErrors {
		if errors.Is(err, e) {
			return fmt.Errorf("%w: %s", coreiface.ErrBadRequest, err)
		}
	}
	for _, e := range unavailableErrors {
		if errors.Is(err, e) {
			return fmt.Errorf("%w: %s", coreiface.ErrUnavailable, err)
		}
	}
	return err
}
