package models

import (
	"crypto/sha256"
	"encoding/json"
)

// Contract binds the trade terms and both traders' payment accounts to
// the multisig address. The maker creates it, the taker counter signs
// and the arbitrator keeps a copy.
type Contract struct {
	TradeID               string `json:"tradeID"`
	OfferID               string `json:"offerID"`
	Amount                uint64 `json:"amount"`
	Price                 string `json:"price"`
	Currency              string `json:"currency"`
	PaymentMethod         string `json:"paymentMethod"`
	MakerPeerID           string `json:"makerPeerID"`
	TakerPeerID           string `json:"takerPeerID"`
	ArbitratorPeerID      string `json:"arbitratorPeerID"`
	MakerIsBuyer          bool   `json:"makerIsBuyer"`
	MakerPaymentAccount   []byte `json:"makerPaymentAccountHash"`
	TakerPaymentAccount   []byte `json:"takerPaymentAccountHash"`
	MakerPayoutAddress    string `json:"makerPayoutAddress"`
	TakerPayoutAddress    string `json:"takerPayoutAddress"`
	MultisigAddress       string `json:"multisigAddress"`
	BuyerSecurityDeposit  uint64 `json:"buyerSecurityDeposit"`
	SellerSecurityDeposit uint64 `json:"sellerSecurityDeposit"`
}

// NewContract builds the contract for the trade as it currently stands.
func NewContract(t *Trade) *Contract {
	return &Contract{
		TradeID:               t.ID,
		OfferID:               t.Offer.ID,
		Amount:                t.Amount,
		Price:                 t.Price,
		Currency:              t.Offer.Currency.String(),
		PaymentMethod:         t.Offer.PaymentMethod,
		MakerPeerID:           t.Maker.PeerID,
		TakerPeerID:           t.Taker.PeerID,
		ArbitratorPeerID:      t.Arbitrator.PeerID,
		MakerIsBuyer:          t.Offer.Direction == DirectionBuy,
		MakerPaymentAccount:   t.Maker.PaymentAccountHash,
		TakerPaymentAccount:   t.Taker.PaymentAccountHash,
		MakerPayoutAddress:    t.Maker.PayoutAddress,
		TakerPayoutAddress:    t.Taker.PayoutAddress,
		MultisigAddress:       t.ProcessModel.MultisigAddress,
		BuyerSecurityDeposit:  t.Offer.BuyerSecurityDeposit,
		SellerSecurityDeposit: t.Offer.SellerSecurityDeposit,
	}
}

// Serialize returns the canonical JSON encoding of the contract.
func (c *Contract) Serialize() ([]byte, error) {
	return json.Marshal(c)
}

// Hash returns the sha256 hash of the serialized contract.
func (c *Contract) Hash() ([]byte, error) {
	ser, err := c.Serialize()
	if err != nil {
		return nil, err
	}
	h := sha256.Sum256(ser)
	return h[:], nil
}
