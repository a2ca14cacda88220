package api

import (
	"context"

	iwallet "github.com/cpacia/wallet-interface"
	"github.com/cpacia/xmrescrow/models"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/shopspring/decimal"
)

// CoreIface is used to get around a circular import of the Core package.
type CoreIface interface {
	Identity() peer.ID
	PingNode(ctx context.Context, peer peer.ID) error

	PlaceOffer(o models.Offer) (*models.OpenOffer, error)
	GetOpenOffer(offerID string) (*models.OpenOffer, error)
	ListOpenOffers() ([]models.OpenOffer, error)
	GetOffers(ctx context.Context, currency models.CurrencyCode) ([]*models.PublicOffer, error)
	CancelOffer(offerID string) error
	DeactivateOffer(offerID string) error
	ActivateOffer(offerID string) error

	TakeOffer(ctx context.Context, offerID string, currency models.CurrencyCode, amount uint64, paymentAccountID string) (*models.Trade, error)
	GetTrade(tradeID string) (*models.Trade, error)
	GetTradeHistory(tradeID string) ([]models.ArchivedTrade, error)
	ListTrades() ([]models.Trade, error)
	ConfirmPaymentSent(tradeID string) error
	ConfirmPaymentReceived(tradeID string) error

	WalletBalance() (balance uint64, unlocked uint64, err error)
	NewAddress() (iwallet.Address, error)
	ExchangeRate(currency models.CurrencyCode) (decimal.Decimal, error)

	SavePaymentAccount(acct *models.PaymentAccount) error
	ListPaymentAccounts() ([]models.PaymentAccount, error)

	ListNotifications(limit int) ([]models.NotificationRecord, error)
}
