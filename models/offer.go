package models

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"time"

	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidOffer signifies an offer that fails basic validation.
	ErrInvalidOffer = errors.New("invalid offer")

	// ErrInvalidSignature signifies an offer whose arbitrator signature
	// does not verify.
	ErrInvalidSignature = errors.New("invalid arbitrator signature")
)

// Direction is the side of the offer from the maker's point of view.
type Direction string

const (
	// DirectionBuy means the maker buys XMR.
	DirectionBuy Direction = "BUY"
	// DirectionSell means the maker sells XMR.
	DirectionSell Direction = "SELL"
)

// Offer is the public description of a maker's offer. Amounts are in
// atomic units.
type Offer struct {
	ID                    string          `json:"id"`
	Direction             Direction       `json:"direction"`
	Currency              CurrencyCode    `json:"currency"`
	PaymentMethod         string          `json:"paymentMethod"`
	Price                 decimal.Decimal `json:"price"`
	Amount                uint64          `json:"amount"`
	MinAmount             uint64          `json:"minAmount"`
	BuyerSecurityDeposit  uint64          `json:"buyerSecurityDeposit"`
	SellerSecurityDeposit uint64          `json:"sellerSecurityDeposit"`
	MakerFee              uint64          `json:"makerFee"`
	TakerFee              uint64          `json:"takerFee"`
	MakerPeerID           string          `json:"makerPeerID"`
	MakerPubkey           []byte          `json:"makerPubkey"`
	ArbitratorPeerID      string          `json:"arbitratorPeerID"`
	PaymentAccountID      string          `json:"paymentAccountID"`
	ProtocolVersion       uint32          `json:"protocolVersion"`
	Date                  time.Time       `json:"date"`
}

// Validate checks the offer for obvious inconsistencies.
func (o *Offer) Validate() error {
	switch {
	case o.ID == "":
		return ErrInvalidOffer
	case o.Direction != DirectionBuy && o.Direction != DirectionSell:
		return ErrInvalidOffer
	case o.Amount == 0 || o.MinAmount > o.Amount:
		return ErrInvalidOffer
	case !o.Price.IsPositive():
		return ErrInvalidOffer
	case o.MakerPeerID == "" || o.ArbitratorPeerID == "":
		return ErrInvalidOffer
	}
	return nil
}

// MakerFundsRole returns the funds role of the maker.
func (o *Offer) MakerFundsRole() FundsRole {
	if o.Direction == DirectionBuy {
		return FundsRoleBuyer
	}
	return FundsRoleSeller
}

// TakerFundsRole returns the funds role of the taker.
func (o *Offer) TakerFundsRole() FundsRole {
	if o.Direction == DirectionBuy {
		return FundsRoleSeller
	}
	return FundsRoleBuyer
}

// SecurityDeposit returns the security deposit owed by the given side.
func (o *Offer) SecurityDeposit(role FundsRole) uint64 {
	if role == FundsRoleBuyer {
		return o.BuyerSecurityDeposit
	}
	return o.SellerSecurityDeposit
}

// ReserveAmount returns the funds a trader must lock for a trade of the
// given amount: the trade fee plus its own security deposit, plus the
// trade amount when that trader is the seller.
func (o *Offer) ReserveAmount(role TradeRole, tradeAmount uint64) uint64 {
	var (
		fee   uint64
		funds FundsRole
	)
	switch role {
	case RoleMaker:
		fee, funds = o.MakerFee, o.MakerFundsRole()
	case RoleTaker:
		fee, funds = o.TakerFee, o.TakerFundsRole()
	default:
		return 0
	}
	total := fee + o.SecurityDeposit(funds)
	if funds == FundsRoleSeller {
		total += tradeAmount
	}
	return total
}

// Hash returns the sha256 hash of the serialized offer. The arbitrator
// signs this hash.
func (o *Offer) Hash() ([]byte, error) {
	ser, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	h := sha256.Sum256(ser)
	return h[:], nil
}

// OpenOfferState is the lifecycle state of one of our own offers.
type OpenOfferState string

const (
	OpenOfferScheduled   OpenOfferState = "SCHEDULED"
	OpenOfferAvailable   OpenOfferState = "AVAILABLE"
	OpenOfferReserved    OpenOfferState = "RESERVED"
	OpenOfferDeactivated OpenOfferState = "DEACTIVATED"
	OpenOfferClosed      OpenOfferState = "CLOSED"
	OpenOfferCanceled    OpenOfferState = "CANCELED"
)

// OpenOffer is an offer this node made along with its lifecycle state and
// the reserve transaction that backs it.
type OpenOffer struct {
	OfferID string         `gorm:"primary_key" json:"offerID"`
	State   OpenOfferState `gorm:"index" json:"state"`

	ReserveTxHash       string   `json:"reserveTxHash,omitempty"`
	ReserveTxHex        string   `json:"-"`
	ReserveTxKey        string   `json:"-"`
	ReserveTxKeyImages  []string `gorm:"-" json:"-"`
	ArbitratorSignature []byte   `json:"arbitratorSignature,omitempty"`

	ScheduledTxHashes []string `gorm:"-" json:"scheduledTxHashes,omitempty"`
	ScheduledAmount   uint64   `json:"scheduledAmount,omitempty"`
	TriggerPrice      string   `json:"triggerPrice,omitempty"`

	Offer Offer `gorm:"-" json:"offer"`

	Timestamp time.Time `json:"timestamp"`

	SerializedOffer     []byte `json:"-"`
	SerializedKeyImages []byte `json:"-"`
	SerializedScheduled []byte `json:"-"`
}

// BeforeSave serializes the structured columns.
func (o *OpenOffer) BeforeSave() error {
	var err error
	if o.SerializedOffer, err = json.Marshal(o.Offer); err != nil {
		return err
	}
	if o.SerializedKeyImages, err = json.Marshal(o.ReserveTxKeyImages); err != nil {
		return err
	}
	if o.SerializedScheduled, err = json.Marshal(o.ScheduledTxHashes); err != nil {
		return err
	}
	return nil
}

// AfterFind deserializes the structured columns.
func (o *OpenOffer) AfterFind() error {
	if len(o.SerializedOffer) > 0 {
		if err := json.Unmarshal(o.SerializedOffer, &o.Offer); err != nil {
			return err
		}
	}
	if len(o.SerializedKeyImages) > 0 {
		if err := json.Unmarshal(o.SerializedKeyImages, &o.ReserveTxKeyImages); err != nil {
			return err
		}
	}
	if len(o.SerializedScheduled) > 0 {
		if err := json.Unmarshal(o.SerializedScheduled, &o.ScheduledTxHashes); err != nil {
			return err
		}
	}
	return nil
}

// IsPosted returns whether the offer should be in the offer book.
func (o *OpenOffer) IsPosted() bool {
	return o.State == OpenOfferAvailable
}

// SignedOffer is the arbitrator's record of an offer whose reserve
// transaction it verified and signed.
type SignedOffer struct {
	OfferID             string `gorm:"primary_key" json:"offerID"`
	MakerPeerID         string `gorm:"index" json:"makerPeerID"`
	ReserveTxHash       string `json:"reserveTxHash"`
	ReserveTxHex        string `json:"reserveTxHex"`
	ReserveTxKey        string `json:"reserveTxKey"`
	ReserveAmount       uint64 `json:"reserveAmount"`
	ArbitratorSignature []byte `json:"arbitratorSignature"`

	Offer              Offer    `gorm:"-" json:"offer"`
	ReserveTxKeyImages []string `gorm:"-" json:"reserveTxKeyImages"`

	Timestamp time.Time `json:"timestamp"`

	SerializedOffer     []byte `json:"-"`
	SerializedKeyImages []byte `json:"-"`
}

// BeforeSave serializes the structured columns.
func (s *SignedOffer) BeforeSave() error {
	var err error
	if s.SerializedOffer, err = json.Marshal(s.Offer); err != nil {
		return err
	}
	s.SerializedKeyImages, err = json.Marshal(s.ReserveTxKeyImages)
	return err
}

// AfterFind deserializes the structured columns.
func (s *SignedOffer) AfterFind() error {
	if len(s.SerializedOffer) > 0 {
		if err := json.Unmarshal(s.SerializedOffer, &s.Offer); err != nil {
			return err
		}
	}
	if len(s.SerializedKeyImages) > 0 {
		return json.Unmarshal(s.SerializedKeyImages, &s.ReserveTxKeyImages)
	}
	return nil
}

// PublicOffer is the entry published to the offer book: the offer along
// with the arbitrator's signature over its hash.
type PublicOffer struct {
	Offer               Offer  `json:"offer"`
	ArbitratorSignature []byte `json:"arbitratorSignature"`
	ReserveTxHash       string `json:"reserveTxHash"`
}

// VerifySignature checks the arbitrator's signature over the offer hash.
// The key is taken from the arbitrator's peer ID.
func (p *PublicOffer) VerifySignature() error {
	pid, err := peer.Decode(p.Offer.ArbitratorPeerID)
	if err != nil {
		return err
	}
	pubkey, err := pid.ExtractPublicKey()
	if err != nil {
		return err
	}
	hash, err := p.Offer.Hash()
	if err != nil {
		return err
	}
	valid, err := pubkey.Verify(hash, p.ArbitratorSignature)
	if err != nil {
		return err
	}
	if !valid {
		return ErrInvalidSignature
	}
	return nil
}

// PaymentAccount holds the details a buyer needs to pay the seller in
// the counter currency.
type PaymentAccount struct {
	ID       string       `gorm:"primary_key" json:"id"`
	Method   string       `json:"method"`
	Currency CurrencyCode `json:"currency"`
	Payload  []byte       `json:"payload"`
}

// Hash returns the hash of the account payload which is committed to in
// the contract.
func (a *PaymentAccount) Hash() []byte {
	h := sha256.Sum256(append([]byte(a.ID+a.Method), a.Payload...))
	return h[:]
}
