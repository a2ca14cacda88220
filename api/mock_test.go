package api

import (
	"context"

	iwallet "github.com/cpacia/wallet-interface"
	"github.com/cpacia/xmrescrow/models"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/shopspring/decimal"
)

type mockNode struct {
	identityFunc               func() peer.ID
	pingNodeFunc               func(ctx context.Context, peer peer.ID) error
	placeOfferFunc             func(o models.Offer) (*models.OpenOffer, error)
	getOpenOfferFunc           func(offerID string) (*models.OpenOffer, error)
	listOpenOffersFunc         func() ([]models.OpenOffer, error)
	getOffersFunc              func(ctx context.Context, currency models.CurrencyCode) ([]*models.PublicOffer, error)
	cancelOfferFunc            func(offerID string) error
	deactivateOfferFunc        func(offerID string) error
	activateOfferFunc          func(offerID string) error
	takeOfferFunc              func(ctx context.Context, offerID string, currency models.CurrencyCode, amount uint64, paymentAccountID string) (*models.Trade, error)
	getTradeFunc               func(tradeID string) (*models.Trade, error)
	getTradeHistoryFunc        func(tradeID string) ([]models.ArchivedTrade, error)
	listTradesFunc             func() ([]models.Trade, error)
	confirmPaymentSentFunc     func(tradeID string) error
	confirmPaymentReceivedFunc func(tradeID string) error
	walletBalanceFunc          func() (uint64, uint64, error)
	newAddressFunc             func() (iwallet.Address, error)
	exchangeRateFunc           func(currency models.CurrencyCode) (decimal.Decimal, error)
	savePaymentAccountFunc     func(acct *models.PaymentAccount) error
	listPaymentAccountsFunc    func() ([]models.PaymentAccount, error)
	listNotificationsFunc      func(limit int) ([]models.NotificationRecord, error)
}

func (m *mockNode) Identity() peer.ID {
	return m.identityFunc()
}

func (m *mockNode) PingNode(ctx context.Context, peer peer.ID) error {
	return m.pingNodeFunc(ctx, peer)
}

func (m *mockNode) PlaceOffer(o models.Offer) (*models.OpenOffer, error) {
	return m.placeOfferFunc(o)
}

func (m *mockNode) GetOpenOffer(offerID string) (*models.OpenOffer, error) {
	return m.getOpenOfferFunc(offerID)
}

func (m *mockNode) ListOpenOffers() ([]models.OpenOffer, error) {
	return m.listOpenOffersFunc()
}

func (m *mockNode) GetOffers(ctx context.Context, currency models.CurrencyCode) ([]*models.PublicOffer, error) {
	return m.getOffersFunc(ctx, currency)
}

func (m *mockNode) CancelOffer(offerID string) error {
	return m.cancelOfferFunc(offerID)
}

func (m *mockNode) DeactivateOffer(offerID string) error {
	return m.deactivateOfferFunc(offerID)
}

func (m *mockNode) ActivateOffer(offerID string) error {
	return m.activateOfferFunc(offerID)
}

func (m *mockNode) TakeOffer(ctx context.Context, offerID string, currency models.CurrencyCode, amount uint64, paymentAccountID string) (*models.Trade, error) {
	return m.takeOfferFunc(ctx, offerID, currency, amount, paymentAccountID)
}

func (m *mockNode) GetTrade(tradeID string) (*models.Trade, error) {
	return m.getTradeFunc(tradeID)
}

func (m *mockNode) GetTradeHistory(tradeID string) ([]models.ArchivedTrade, error) {
	return m.getTradeHistoryFunc(tradeID)
}

func (m *mockNode) ListTrades() ([]models.Trade, error) {
	return m.listTradesFunc()
}

func (m *mockNode) ConfirmPaymentSent(tradeID string) error {
	return m.confirmPaymentSentFunc(tradeID)
}

func (m *mockNode) ConfirmPaymentReceived(tradeID string) error {
	return m.confirmPaymentReceivedFunc(tradeID)
}

func (m *mockNode) WalletBalance() (uint64, uint64, error) {
	return m.walletBalanceFunc()
}

func (m *mockNode) NewAddress() (iwallet.Address, error) {
	return m.newAddressFunc()
}

func (m *mockNode) ExchangeRate(currency models.CurrencyCode) (decimal.Decimal, error) {
	return m.exchangeRateFunc(currency)
}

func (m *mockNode) SavePaymentAccount(acct *models.PaymentAccount) error {
	return m.savePaymentAccountFunc(acct)
}

func (m *mockNode) ListPaymentAccounts() ([]models.PaymentAccount, error) {
	return m.listPaymentAccountsFunc()
}

func (m *mockNode) ListNotifications(limit int) ([]models.NotificationRecord, error) {
	return m.listNotificationsFunc(limit)
}
