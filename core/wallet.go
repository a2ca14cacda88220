package core

import (
	"fmt"

	iwallet "github.com/cpacia/wallet-interface"
	"github.com/cpacia/xmrescrow/core/coreiface"
	"github.com/cpacia/xmrescrow/database"
	"github.com/cpacia/xmrescrow/models"
	"github.com/google/uuid"
	"github.com/jinzhu/gorm"
	"github.com/shopspring/decimal"
)

// WalletBalance returns the total and the unlocked wallet balance.
func (n *XMREscrowNode) WalletBalance() (balance uint64, unlocked uint64, err error) {
	balance, err = n.wallet.Balance()
	if err != nil {
		return 0, 0, err
	}
	unlocked, err = n.wallet.UnlockedBalance()
	if err != nil {
		return 0, 0, err
	}
	return balance, unlocked, nil
}

// NewAddress returns a new receiving address.
func (n *XMREscrowNode) NewAddress() (iwallet.Address, error) {
	return n.wallet.NewAddress()
}

// ExchangeRate returns the price of one XMR in the given currency.
func (n *XMREscrowNode) ExchangeRate(currency models.CurrencyCode) (decimal.Decimal, error) {
	if n.exchangeRates == nil {
		return decimal.Zero, ErrNoExchangeRates
	}
	rate, err := n.exchangeRates.GetRate(currency, false)
	return rate, classify(err)
}

// SavePaymentAccount saves a payment account. A new ID is assigned if
// the account doesn't have one.
func (n *XMREscrowNode) SavePaymentAccount(acct *models.PaymentAccount) error {
	if acct.ID == "" {
		acct.ID = uuid.New().String()
	}
	if acct.Method == "" {
		return ErrInvalidPaymentAccount
	}
	if _, err := models.LookupCurrency(acct.Currency.String()); err != nil {
		return fmt.Errorf("%w: %s", coreiface.ErrBadRequest, err)
	}
	return n.repo.DB().Update(func(tx database.Tx) error {
		return tx.Save(acct)
	})
}

// GetPaymentAccount loads a payment account by ID.
func (n *XMREscrowNode) GetPaymentAccount(id string) (*models.PaymentAccount, error) {
	var acct models.PaymentAccount
	err := n.repo.DB().View(func(tx database.Tx) error {
		return tx.Read().Where("id = ?", id).First(&acct).Error
	})
	if gorm.IsRecordNotFoundError(err) {
		return nil, ErrPaymentAccountNotFound
	} else if err != nil {
		return nil, err
	}
	return &acct, nil
}

// ListPaymentAccounts returns all saved payment accounts.
func (n *XMREscrowNode) ListPaymentAccounts() ([]models.PaymentAccount, error) {
	var accts []models.PaymentAccount
	err := n.repo.DB().View(func(tx database.Tx) error {
		return tx.Read().Find(&accts).Error
	})
	if err != nil && !gorm.IsRecordNotFoundError(err) {
		return nil, err
	}
	return accts, nil
}
