package core

import (
	"context"

	"github.com/cpacia/xmrescrow/models"
)

// TakeOffer starts a trade against an offer in the offer book. The trade
// is returned once the initial request is on its way to the arbitrator.
func (n *XMREscrowNode) TakeOffer(ctx context.Context, offerID string, currency models.CurrencyCode, amount uint64, paymentAccountID string) (*models.Trade, error) {
	if _, err := n.GetPaymentAccount(paymentAccountID); err != nil {
		return nil, err
	}
	offer, err := n.lookupOffer(ctx, offerID, currency)
	if err != nil {
		return nil, classify(err)
	}
	t, err := n.tradeManager.TakeOffer(offer, amount, paymentAccountID)
	return t, classify(err)
}

// GetTrade returns the trade with the given ID.
func (n *XMREscrowNode) GetTrade(tradeID string) (*models.Trade, error) {
	t, err := n.tradeManager.GetTrade(tradeID)
	return t, classify(err)
}

// GetTradeHistory returns the failed attempts replaced by later attempts
// on the same trade.
func (n *XMREscrowNode) GetTradeHistory(tradeID string) ([]models.ArchivedTrade, error) {
	archived, err := n.tradeManager.TradeHistory(tradeID)
	return archived, classify(err)
}

// ListTrades returns all our trades, open and closed.
func (n *XMREscrowNode) ListTrades() ([]models.Trade, error) {
	trades, err := n.tradeManager.ListTrades()
	return trades, classify(err)
}

// ConfirmPaymentSent is called by the buyer after sending the counter
// currency payment.
func (n *XMREscrowNode) ConfirmPaymentSent(tradeID string) error {
	return classify(n.tradeManager.OnPaymentSent(tradeID))
}

// ConfirmPaymentReceived is called by the seller once the counter
// currency payment has arrived. It releases the escrow.
func (n *XMREscrowNode) ConfirmPaymentReceived(tradeID string) error {
	return classify(n.tradeManager.OnPaymentReceived(tradeID))
}
