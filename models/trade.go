package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidRole signifies a role that is not part of this trade.
	ErrInvalidRole = errors.New("invalid trade role")

	// ErrStateRegression is returned when a caller attempts to move a
	// trade to a state it has already passed.
	ErrStateRegression = errors.New("trade state may not move backwards")
)

// TradeRole specifies a node's role in the trade.
type TradeRole string

const (
	// RoleUnknown means we haven't yet determined the role.
	RoleUnknown TradeRole = ""
	// RoleMaker is the party who posted the offer.
	RoleMaker TradeRole = "maker"
	// RoleTaker is the party who took the offer.
	RoleTaker TradeRole = "taker"
	// RoleArbitrator signs the offer and is the third key of the escrow.
	RoleArbitrator TradeRole = "arbitrator"
)

// FundsRole specifies which side of the exchange a trader is on.
type FundsRole string

const (
	// FundsRoleNone is used by the arbitrator.
	FundsRoleNone FundsRole = ""
	// FundsRoleBuyer buys XMR and sends the fiat payment.
	FundsRoleBuyer FundsRole = "buyer"
	// FundsRoleSeller sells XMR and receives the fiat payment.
	FundsRoleSeller FundsRole = "seller"
)

// TradePhase is the coarse, ordered stage of a trade.
type TradePhase int

const (
	PhaseInit TradePhase = iota
	PhaseDepositRequested
	PhaseDepositsPublished
	PhaseDepositsUnlocked
	PhasePaymentSent
	PhasePaymentReceived
	PhaseCompleted
	PhaseFailed
)

var phaseNames = []string{
	"INIT",
	"DEPOSIT_REQUESTED",
	"DEPOSITS_PUBLISHED",
	"DEPOSITS_UNLOCKED",
	"PAYMENT_SENT",
	"PAYMENT_RECEIVED",
	"COMPLETED",
	"FAILED",
}

func (p TradePhase) String() string {
	if int(p) < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("PHASE(%d)", int(p))
	}
	return phaseNames[p]
}

// MarshalJSON encodes the phase as its name.
func (p TradePhase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes a phase name.
func (p *TradePhase) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for i, name := range phaseNames {
		if name == s {
			*p = TradePhase(i)
			return nil
		}
	}
	return fmt.Errorf("unknown trade phase %s", s)
}

// TradeState is the fine grained, ordered state of a trade. Every
// state belongs to exactly one phase.
type TradeState int

const (
	StatePreparation TradeState = iota
	StateInitTradeRequestSent
	StateArbitratorForwardedInitTradeRequest
	StateMultisigPrepared
	StateMultisigMade
	StateMultisigExchanged
	StateMultisigCompleted
	StateContractSignatureRequested
	StateContractSigned

	StateSentDepositRequest
	StateArbitratorReceivedDepositRequests

	StateArbitratorPublishedDepositTxs
	StateDepositTxsSeenInNetwork
	StateDepositTxsConfirmedInBlockchain

	StateDepositTxsUnlockedInBlockchain
	StateMultisigUpdated

	StateBuyerConfirmedInUIPaymentSent
	StateBuyerSentPaymentSentMsg
	StateSellerReceivedPaymentSentMsg

	StateSellerConfirmedInUIPaymentReceipt
	StateSellerPublishedPayoutTx
	StateSellerSentPaymentReceivedMsg
	StateBuyerReceivedPaymentReceivedMsg

	StatePayoutPublished
	StateTradeCompleted

	StateTradeFailed
)

type stateInfo struct {
	name  string
	phase TradePhase
}

var stateTable = []stateInfo{
	{"PREPARATION", PhaseInit},
	{"INIT_TRADE_REQUEST_SENT", PhaseInit},
	{"ARBITRATOR_FORWARDED_INIT_TRADE_REQUEST", PhaseInit},
	{"MULTISIG_PREPARED", PhaseInit},
	{"MULTISIG_MADE", PhaseInit},
	{"MULTISIG_EXCHANGED", PhaseInit},
	{"MULTISIG_COMPLETED", PhaseInit},
	{"CONTRACT_SIGNATURE_REQUESTED", PhaseInit},
	{"CONTRACT_SIGNED", PhaseInit},

	{"SENT_DEPOSIT_REQUEST", PhaseDepositRequested},
	{"ARBITRATOR_RECEIVED_DEPOSIT_REQUESTS", PhaseDepositRequested},

	{"ARBITRATOR_PUBLISHED_DEPOSIT_TXS", PhaseDepositsPublished},
	{"DEPOSIT_TXS_SEEN_IN_NETWORK", PhaseDepositsPublished},
	{"DEPOSIT_TXS_CONFIRMED_IN_BLOCKCHAIN", PhaseDepositsPublished},

	{"DEPOSIT_TXS_UNLOCKED_IN_BLOCKCHAIN", PhaseDepositsUnlocked},
	{"MULTISIG_UPDATED", PhaseDepositsUnlocked},

	{"BUYER_CONFIRMED_IN_UI_PAYMENT_SENT", PhasePaymentSent},
	{"BUYER_SENT_PAYMENT_SENT_MSG", PhasePaymentSent},
	{"SELLER_RECEIVED_PAYMENT_SENT_MSG", PhasePaymentSent},

	{"SELLER_CONFIRMED_IN_UI_PAYMENT_RECEIPT", PhasePaymentReceived},
	{"SELLER_PUBLISHED_PAYOUT_TX", PhasePaymentReceived},
	{"SELLER_SENT_PAYMENT_RECEIVED_MSG", PhasePaymentReceived},
	{"BUYER_RECEIVED_PAYMENT_RECEIVED_MSG", PhasePaymentReceived},

	{"PAYOUT_PUBLISHED", PhaseCompleted},
	{"TRADE_COMPLETED", PhaseCompleted},

	{"TRADE_FAILED", PhaseFailed},
}

func (s TradeState) valid() bool {
	return int(s) >= 0 && int(s) < len(stateTable)
}

func (s TradeState) String() string {
	if !s.valid() {
		return fmt.Sprintf("STATE(%d)", int(s))
	}
	return stateTable[s].name
}

// Phase returns the phase the state belongs to.
func (s TradeState) Phase() TradePhase {
	if !s.valid() {
		return PhaseFailed
	}
	return stateTable[s].phase
}

// MarshalJSON encodes the state as its name.
func (s TradeState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a state name.
func (s *TradeState) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	st, err := ParseTradeState(name)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ParseTradeState returns the state with the given name.
func ParseTradeState(name string) (TradeState, error) {
	for i, info := range stateTable {
		if info.name == name {
			return TradeState(i), nil
		}
	}
	return 0, fmt.Errorf("unknown trade state %s", name)
}

// TradingPeer holds everything we know about one of the three parties in
// a trade. Empty fields have not been provided by the peer yet.
type TradingPeer struct {
	PeerID                string `json:"peerID"`
	Pubkey                []byte `json:"pubkey,omitempty"`
	PaymentAccountID      string `json:"paymentAccountID,omitempty"`
	PaymentAccountPayload []byte `json:"paymentAccountPayload,omitempty"`
	PaymentAccountHash    []byte `json:"paymentAccountHash,omitempty"`

	PreparedMultisigHex  string `json:"preparedMultisigHex,omitempty"`
	MadeMultisigHex      string `json:"madeMultisigHex,omitempty"`
	ExchangedMultisigHex string `json:"exchangedMultisigHex,omitempty"`
	UpdatedMultisigHex   string `json:"updatedMultisigHex,omitempty"`
	MultisigAddress      string `json:"multisigAddress,omitempty"`

	ReserveTxHash      string   `json:"reserveTxHash,omitempty"`
	ReserveTxHex       string   `json:"reserveTxHex,omitempty"`
	ReserveTxKey       string   `json:"reserveTxKey,omitempty"`
	ReserveTxKeyImages []string `json:"reserveTxKeyImages,omitempty"`

	DepositTxHash string `json:"depositTxHash,omitempty"`
	DepositTxHex  string `json:"depositTxHex,omitempty"`
	DepositTxKey  string `json:"depositTxKey,omitempty"`

	ContractSignature []byte `json:"contractSignature,omitempty"`
	PayoutAddress     string `json:"payoutAddress,omitempty"`
	SecurityDeposit   uint64 `json:"securityDeposit,omitempty"`
	DepositsConfirmed bool   `json:"depositsConfirmed,omitempty"`
}

// Trade holds the state of a single trade. It is saved in the database
// indexed by the trade ID which is the same as the offer ID.
type Trade struct {
	ID              string     `gorm:"primary_key" json:"tradeID"`
	ProtocolVersion uint32     `json:"protocolVersion"`
	Role            TradeRole  `json:"role"`
	FundsRole       FundsRole  `json:"fundsRole"`
	Phase           TradePhase `json:"phase"`
	State           TradeState `json:"state"`

	Amount uint64 `json:"amount"`
	Price  string `json:"price"`

	MakerDepositTxID string `json:"makerDepositTxID,omitempty"`
	TakerDepositTxID string `json:"takerDepositTxID,omitempty"`
	PayoutTxID       string `json:"payoutTxID,omitempty"`
	ErrorMessage     string `json:"errorMessage,omitempty"`

	Open        bool      `gorm:"index" json:"open"`
	Timestamp   time.Time `json:"timestamp"`
	LastUpdated time.Time `json:"lastUpdated"`

	Offer        Offer             `gorm:"-" json:"offer"`
	Maker        TradingPeer       `gorm:"-" json:"maker"`
	Taker        TradingPeer       `gorm:"-" json:"taker"`
	Arbitrator   TradingPeer       `gorm:"-" json:"arbitrator"`
	ProcessModel ProcessModelState `gorm:"-" json:"-"`

	SerializedOffer        []byte `json:"-"`
	SerializedPeers        []byte `json:"-"`
	SerializedProcessModel []byte `json:"-"`
}

type tradePeers struct {
	Maker      TradingPeer `json:"maker"`
	Taker      TradingPeer `json:"taker"`
	Arbitrator TradingPeer `json:"arbitrator"`
}

// BeforeSave serializes the structured columns.
func (t *Trade) BeforeSave() error {
	var err error
	if t.SerializedOffer, err = json.Marshal(t.Offer); err != nil {
		return err
	}
	if t.SerializedPeers, err = json.Marshal(tradePeers{t.Maker, t.Taker, t.Arbitrator}); err != nil {
		return err
	}
	if t.SerializedProcessModel, err = json.Marshal(t.ProcessModel); err != nil {
		return err
	}
	t.LastUpdated = time.Now()
	return nil
}

// AfterFind deserializes the structured columns.
func (t *Trade) AfterFind() error {
	if len(t.SerializedOffer) > 0 {
		if err := json.Unmarshal(t.SerializedOffer, &t.Offer); err != nil {
			return err
		}
	}
	if len(t.SerializedPeers) > 0 {
		var peers tradePeers
		if err := json.Unmarshal(t.SerializedPeers, &peers); err != nil {
			return err
		}
		t.Maker, t.Taker, t.Arbitrator = peers.Maker, peers.Taker, peers.Arbitrator
	}
	if len(t.SerializedProcessModel) > 0 {
		if err := json.Unmarshal(t.SerializedProcessModel, &t.ProcessModel); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy of the trade. Pipelines run against a clone
// so a failed pipeline leaves the original untouched.
func (t *Trade) Clone() (*Trade, error) {
	cpy := *t
	if err := cpy.BeforeSave(); err != nil {
		return nil, err
	}
	cpy.Offer = Offer{}
	cpy.Maker, cpy.Taker, cpy.Arbitrator = TradingPeer{}, TradingPeer{}, TradingPeer{}
	cpy.ProcessModel = ProcessModelState{}
	if err := cpy.AfterFind(); err != nil {
		return nil, err
	}
	cpy.LastUpdated = t.LastUpdated
	return &cpy, nil
}

// SetState moves the trade to the given state and its phase. Moving to a
// state lower than the current one is an error.
func (t *Trade) SetState(s TradeState) error {
	if s < t.State {
		return ErrStateRegression
	}
	t.State = s
	t.Phase = s.Phase()
	return nil
}

// Peer returns the record for the party with the given role.
func (t *Trade) Peer(role TradeRole) (*TradingPeer, error) {
	switch role {
	case RoleMaker:
		return &t.Maker, nil
	case RoleTaker:
		return &t.Taker, nil
	case RoleArbitrator:
		return &t.Arbitrator, nil
	}
	return nil, ErrInvalidRole
}

// RoleOf returns the role the given peer ID plays in this trade.
func (t *Trade) RoleOf(peerID string) TradeRole {
	switch peerID {
	case "":
		return RoleUnknown
	case t.Maker.PeerID:
		return RoleMaker
	case t.Taker.PeerID:
		return RoleTaker
	case t.Arbitrator.PeerID:
		return RoleArbitrator
	}
	return RoleUnknown
}

// Self returns our own record.
func (t *Trade) Self() *TradingPeer {
	p, _ := t.Peer(t.Role)
	return p
}

// IsArbitrator returns whether we are the arbitrator of this trade.
func (t *Trade) IsArbitrator() bool {
	return t.Role == RoleArbitrator
}

// IsBuyer returns whether we are buying XMR in this trade.
func (t *Trade) IsBuyer() bool {
	return t.FundsRole == FundsRoleBuyer
}

// IsSeller returns whether we are selling XMR in this trade.
func (t *Trade) IsSeller() bool {
	return t.FundsRole == FundsRoleSeller
}

// BuyerRole returns the trade role of the XMR buyer.
func (t *Trade) BuyerRole() TradeRole {
	if t.Offer.Direction == DirectionBuy {
		return RoleMaker
	}
	return RoleTaker
}

// SellerRole returns the trade role of the XMR seller.
func (t *Trade) SellerRole() TradeRole {
	if t.Offer.Direction == DirectionBuy {
		return RoleTaker
	}
	return RoleMaker
}

// Buyer returns the XMR buyer's record.
func (t *Trade) Buyer() *TradingPeer {
	p, _ := t.Peer(t.BuyerRole())
	return p
}

// Seller returns the XMR seller's record.
func (t *Trade) Seller() *TradingPeer {
	p, _ := t.Peer(t.SellerRole())
	return p
}

// FundsRoleFor returns the funds role of the given trader.
func (t *Trade) FundsRoleFor(role TradeRole) FundsRole {
	switch role {
	case t.BuyerRole():
		return FundsRoleBuyer
	case t.SellerRole():
		return FundsRoleSeller
	}
	return FundsRoleNone
}

// Counterparty returns the role of the other trader. The arbitrator has
// no counterparty.
func (t *Trade) Counterparty() TradeRole {
	switch t.Role {
	case RoleMaker:
		return RoleTaker
	case RoleTaker:
		return RoleMaker
	}
	return RoleUnknown
}

// OtherRoles returns the roles of the two other parties.
func (t *Trade) OtherRoles() []TradeRole {
	var roles []TradeRole
	for _, r := range []TradeRole{RoleMaker, RoleTaker, RoleArbitrator} {
		if r != t.Role {
			roles = append(roles, r)
		}
	}
	return roles
}

// DepositTxIDs returns the deposit transaction IDs known so far.
func (t *Trade) DepositTxIDs() []string {
	var ids []string
	if t.MakerDepositTxID != "" {
		ids = append(ids, t.MakerDepositTxID)
	}
	if t.TakerDepositTxID != "" {
		ids = append(ids, t.TakerDepositTxID)
	}
	return ids
}
