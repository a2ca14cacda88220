// Package pb defines the trade protocol messages exchanged between
// maker, taker and arbitrator. Each TradeMessage wraps one of the
// message bodies in this package.
package pb

import (
	"fmt"

	"github.com/golang/protobuf/proto"
)

// TradeMessage_Type identifies the body carried by a TradeMessage.
type TradeMessage_Type int32

const (
	TradeMessage_UNKNOWN                  TradeMessage_Type = 0
	TradeMessage_INIT_TRADE_REQUEST       TradeMessage_Type = 1
	TradeMessage_PREPARE_MULTISIG_REQUEST TradeMessage_Type = 2
	TradeMessage_INIT_MULTISIG_REQUEST    TradeMessage_Type = 3
	TradeMessage_INIT_MULTISIG_RESPONSE   TradeMessage_Type = 4
	TradeMessage_SIGN_CONTRACT_REQUEST    TradeMessage_Type = 5
	TradeMessage_SIGN_CONTRACT_RESPONSE   TradeMessage_Type = 6
	TradeMessage_DEPOSIT_REQUEST          TradeMessage_Type = 7
	TradeMessage_DEPOSIT_RESPONSE         TradeMessage_Type = 8
	TradeMessage_DEPOSIT_TX               TradeMessage_Type = 9
	TradeMessage_DEPOSITS_CONFIRMED       TradeMessage_Type = 10
	TradeMessage_PAYMENT_SENT             TradeMessage_Type = 11
	TradeMessage_PAYMENT_RECEIVED         TradeMessage_Type = 12
	TradeMessage_PAYOUT_TX_PUBLISHED      TradeMessage_Type = 13
	TradeMessage_UPDATE_MULTISIG_REQUEST  TradeMessage_Type = 14
	TradeMessage_UPDATE_MULTISIG_RESPONSE TradeMessage_Type = 15
)

var TradeMessage_Type_name = map[int32]string{
	0:  "UNKNOWN",
	1:  "INIT_TRADE_REQUEST",
	2:  "PREPARE_MULTISIG_REQUEST",
	3:  "INIT_MULTISIG_REQUEST",
	4:  "INIT_MULTISIG_RESPONSE",
	5:  "SIGN_CONTRACT_REQUEST",
	6:  "SIGN_CONTRACT_RESPONSE",
	7:  "DEPOSIT_REQUEST",
	8:  "DEPOSIT_RESPONSE",
	9:  "DEPOSIT_TX",
	10: "DEPOSITS_CONFIRMED",
	11: "PAYMENT_SENT",
	12: "PAYMENT_RECEIVED",
	13: "PAYOUT_TX_PUBLISHED",
	14: "UPDATE_MULTISIG_REQUEST",
	15: "UPDATE_MULTISIG_RESPONSE",
}

var TradeMessage_Type_value = map[string]int32{
	"UNKNOWN":                  0,
	"INIT_TRADE_REQUEST":       1,
	"PREPARE_MULTISIG_REQUEST": 2,
	"INIT_MULTISIG_REQUEST":    3,
	"INIT_MULTISIG_RESPONSE":   4,
	"SIGN_CONTRACT_REQUEST":    5,
	"SIGN_CONTRACT_RESPONSE":   6,
	"DEPOSIT_REQUEST":          7,
	"DEPOSIT_RESPONSE":         8,
	"DEPOSIT_TX":               9,
	"DEPOSITS_CONFIRMED":       10,
	"PAYMENT_SENT":             11,
	"PAYMENT_RECEIVED":         12,
	"PAYOUT_TX_PUBLISHED":      13,
	"UPDATE_MULTISIG_REQUEST":  14,
	"UPDATE_MULTISIG_RESPONSE": 15,
}

func (x TradeMessage_Type) String() string {
	return proto.EnumName(TradeMessage_Type_name, int32(x))
}

// IsMailbox returns whether messages of this type are stored for offline
// peers and resent until acknowledged. All other messages are direct and
// are only delivered while the peer is online.
func (x TradeMessage_Type) IsMailbox() bool {
	switch x {
	case TradeMessage_DEPOSIT_TX,
		TradeMessage_DEPOSITS_CONFIRMED,
		TradeMessage_PAYMENT_SENT,
		TradeMessage_PAYMENT_RECEIVED,
		TradeMessage_PAYOUT_TX_PUBLISHED:
		return true
	}
	return false
}

// NewBody returns an empty body for the given message type.
func NewBody(t TradeMessage_Type) (proto.Message, error) {
	switch t {
	case TradeMessage_INIT_TRADE_REQUEST:
		return new(InitTradeRequest), nil
	case TradeMessage_PREPARE_MULTISIG_REQUEST:
		return new(PrepareMultisigRequest), nil
	case TradeMessage_INIT_MULTISIG_REQUEST:
		return new(InitMultisigRequest), nil
	case TradeMessage_INIT_MULTISIG_RESPONSE:
		return new(InitMultisigResponse), nil
	case TradeMessage_SIGN_CONTRACT_REQUEST:
		return new(SignContractRequest), nil
	case TradeMessage_SIGN_CONTRACT_RESPONSE:
		return new(SignContractResponse), nil
	case TradeMessage_DEPOSIT_REQUEST:
		return new(DepositRequest), nil
	case TradeMessage_DEPOSIT_RESPONSE:
		return new(DepositResponse), nil
	case TradeMessage_DEPOSIT_TX:
		return new(DepositTxMessage), nil
	case TradeMessage_DEPOSITS_CONFIRMED:
		return new(DepositsConfirmedMessage), nil
	case TradeMessage_PAYMENT_SENT:
		return new(PaymentSentMessage), nil
	case TradeMessage_PAYMENT_RECEIVED:
		return new(PaymentReceivedMessage), nil
	case TradeMessage_PAYOUT_TX_PUBLISHED:
		return new(PayoutTxPublishedMessage), nil
	case TradeMessage_UPDATE_MULTISIG_REQUEST:
		return new(UpdateMultisigRequest), nil
	case TradeMessage_UPDATE_MULTISIG_RESPONSE:
		return new(UpdateMultisigResponse), nil
	}
	return nil, fmt.Errorf("unknown trade message type %d", t)
}

// TradeMessage is the envelope for every trade protocol message.
type TradeMessage struct {
	TradeID              string            `protobuf:"bytes,1,opt,name=tradeID,proto3" json:"tradeID,omitempty"`
	UID                  string            `protobuf:"bytes,2,opt,name=uid,proto3" json:"uid,omitempty"`
	Type                 TradeMessage_Type `protobuf:"varint,3,opt,name=type,proto3,enum=pb.TradeMessage_Type" json:"type,omitempty"`
	SenderPeerID         string            `protobuf:"bytes,4,opt,name=senderPeerID,proto3" json:"senderPeerID,omitempty"`
	SenderPubkey         []byte            `protobuf:"bytes,5,opt,name=senderPubkey,proto3" json:"senderPubkey,omitempty"`
	ProtocolVersion      uint32            `protobuf:"varint,6,opt,name=protocolVersion,proto3" json:"protocolVersion,omitempty"`
	Payload              []byte            `protobuf:"bytes,7,opt,name=payload,proto3" json:"payload,omitempty"`
	MailboxServers       []string          `protobuf:"bytes,8,rep,name=mailboxServers,proto3" json:"mailboxServers,omitempty"`
	XXX_NoUnkeyedLiteral struct{}          `json:"-"`
	XXX_unrecognized     []byte            `json:"-"`
	XXX_sizecache        int32             `json:"-"`
}

func (m *TradeMessage) Reset()         { *m = TradeMessage{} }
func (m *TradeMessage) String() string { return proto.CompactTextString(m) }
func (*TradeMessage) ProtoMessage()    {}

// Body decodes the payload into the body type matching the message type.
func (m *TradeMessage) Body() (proto.Message, error) {
	body, err := NewBody(m.Type)
	if err != nil {
		return nil, err
	}
	if err := proto.Unmarshal(m.Payload, body); err != nil {
		return nil, err
	}
	return body, nil
}

// TradeAck is sent in response to every processed TradeMessage.
type TradeAck struct {
	TradeID              string            `protobuf:"bytes,1,opt,name=tradeID,proto3" json:"tradeID,omitempty"`
	SourceMessageType    TradeMessage_Type `protobuf:"varint,2,opt,name=sourceMessageType,proto3,enum=pb.TradeMessage_Type" json:"sourceMessageType,omitempty"`
	SourceUID            string            `protobuf:"bytes,3,opt,name=sourceUID,proto3" json:"sourceUID,omitempty"`
	Success              bool              `protobuf:"varint,4,opt,name=success,proto3" json:"success,omitempty"`
	ErrorMessage         string            `protobuf:"bytes,5,opt,name=errorMessage,proto3" json:"errorMessage,omitempty"`
	XXX_NoUnkeyedLiteral struct{}          `json:"-"`
	XXX_unrecognized     []byte            `json:"-"`
	XXX_sizecache        int32             `json:"-"`
}

func (m *TradeAck) Reset()         { *m = TradeAck{} }
func (m *TradeAck) String() string { return proto.CompactTextString(m) }
func (*TradeAck) ProtoMessage()    {}

// ReserveTx is the proof of funds a trader attaches to its trade request.
type ReserveTx struct {
	Hash                 string   `protobuf:"bytes,1,opt,name=hash,proto3" json:"hash,omitempty"`
	Hex                  string   `protobuf:"bytes,2,opt,name=hex,proto3" json:"hex,omitempty"`
	Key                  string   `protobuf:"bytes,3,opt,name=key,proto3" json:"key,omitempty"`
	KeyImages            []string `protobuf:"bytes,4,rep,name=keyImages,proto3" json:"keyImages,omitempty"`
	XXX_NoUnkeyedLiteral struct{} `json:"-"`
	XXX_unrecognized     []byte   `json:"-"`
	XXX_sizecache        int32    `json:"-"`
}

func (m *ReserveTx) Reset()         { *m = ReserveTx{} }
func (m *ReserveTx) String() string { return proto.CompactTextString(m) }
func (*ReserveTx) ProtoMessage()    {}

// InitTradeRequest starts a trade. The taker sends it to the arbitrator,
// the arbitrator forwards it to the maker and the maker sends it back to
// the arbitrator with its own fields filled in.
type InitTradeRequest struct {
	OfferID                 string     `protobuf:"bytes,1,opt,name=offerID,proto3" json:"offerID,omitempty"`
	Amount                  uint64     `protobuf:"varint,2,opt,name=amount,proto3" json:"amount,omitempty"`
	Price                   string     `protobuf:"bytes,3,opt,name=price,proto3" json:"price,omitempty"`
	MakerPeerID             string     `protobuf:"bytes,4,opt,name=makerPeerID,proto3" json:"makerPeerID,omitempty"`
	TakerPeerID             string     `protobuf:"bytes,5,opt,name=takerPeerID,proto3" json:"takerPeerID,omitempty"`
	ArbitratorPeerID        string     `protobuf:"bytes,6,opt,name=arbitratorPeerID,proto3" json:"arbitratorPeerID,omitempty"`
	TakerPubkey             []byte     `protobuf:"bytes,7,opt,name=takerPubkey,proto3" json:"takerPubkey,omitempty"`
	TakerPaymentAccountID   string     `protobuf:"bytes,8,opt,name=takerPaymentAccountID,proto3" json:"takerPaymentAccountID,omitempty"`
	TakerPaymentAccountHash []byte     `protobuf:"bytes,9,opt,name=takerPaymentAccountHash,proto3" json:"takerPaymentAccountHash,omitempty"`
	TakerPayoutAddress      string     `protobuf:"bytes,10,opt,name=takerPayoutAddress,proto3" json:"takerPayoutAddress,omitempty"`
	TakerReserveTx          *ReserveTx `protobuf:"bytes,11,opt,name=takerReserveTx,proto3" json:"takerReserveTx,omitempty"`
	MakerPubkey             []byte     `protobuf:"bytes,12,opt,name=makerPubkey,proto3" json:"makerPubkey,omitempty"`
	MakerPaymentAccountID   string     `protobuf:"bytes,13,opt,name=makerPaymentAccountID,proto3" json:"makerPaymentAccountID,omitempty"`
	MakerPaymentAccountHash []byte     `protobuf:"bytes,14,opt,name=makerPaymentAccountHash,proto3" json:"makerPaymentAccountHash,omitempty"`
	MakerPayoutAddress      string     `protobuf:"bytes,15,opt,name=makerPayoutAddress,proto3" json:"makerPayoutAddress,omitempty"`
	MakerReserveTx          *ReserveTx `protobuf:"bytes,16,opt,name=makerReserveTx,proto3" json:"makerReserveTx,omitempty"`
	XXX_NoUnkeyedLiteral    struct{}   `json:"-"`
	XXX_unrecognized        []byte     `json:"-"`
	XXX_sizecache           int32      `json:"-"`
}

func (m *InitTradeRequest) Reset()         { *m = InitTradeRequest{} }
func (m *InitTradeRequest) String() string { return proto.CompactTextString(m) }
func (*InitTradeRequest) ProtoMessage()    {}

// PrepareMultisigRequest is sent by the arbitrator to both traders once
// both reserves are verified. It carries the arbitrator's prepared
// multisig hex, the address the trade fees are paid to and the combined
// trade request so each trader learns its counterparty's terms.
type PrepareMultisigRequest struct {
	PreparedMultisigHex  string            `protobuf:"bytes,1,opt,name=preparedMultisigHex,proto3" json:"preparedMultisigHex,omitempty"`
	TradeFeeAddress      string            `protobuf:"bytes,2,opt,name=tradeFeeAddress,proto3" json:"tradeFeeAddress,omitempty"`
	TradeRequest         *InitTradeRequest `protobuf:"bytes,3,opt,name=tradeRequest,proto3" json:"tradeRequest,omitempty"`
	XXX_NoUnkeyedLiteral struct{}          `json:"-"`
	XXX_unrecognized     []byte            `json:"-"`
	XXX_sizecache        int32             `json:"-"`
}

func (m *PrepareMultisigRequest) Reset()         { *m = PrepareMultisigRequest{} }
func (m *PrepareMultisigRequest) String() string { return proto.CompactTextString(m) }
func (*PrepareMultisigRequest) ProtoMessage()    {}

// InitMultisigRequest carries whichever multisig round data the sender
// has produced so far. Empty fields have not been produced yet.
type InitMultisigRequest struct {
	PreparedMultisigHex  string   `protobuf:"bytes,1,opt,name=preparedMultisigHex,proto3" json:"preparedMultisigHex,omitempty"`
	MadeMultisigHex      string   `protobuf:"bytes,2,opt,name=madeMultisigHex,proto3" json:"madeMultisigHex,omitempty"`
	ExchangedMultisigHex string   `protobuf:"bytes,3,opt,name=exchangedMultisigHex,proto3" json:"exchangedMultisigHex,omitempty"`
	XXX_NoUnkeyedLiteral struct{} `json:"-"`
	XXX_unrecognized     []byte   `json:"-"`
	XXX_sizecache        int32    `json:"-"`
}

func (m *InitMultisigRequest) Reset()         { *m = InitMultisigRequest{} }
func (m *InitMultisigRequest) String() string { return proto.CompactTextString(m) }
func (*InitMultisigRequest) ProtoMessage()    {}

// InitMultisigResponse reports a trader's completed multisig wallet
// to the arbitrator.
type InitMultisigResponse struct {
	MultisigAddress      string   `protobuf:"bytes,1,opt,name=multisigAddress,proto3" json:"multisigAddress,omitempty"`
	XXX_NoUnkeyedLiteral struct{} `json:"-"`
	XXX_unrecognized     []byte   `json:"-"`
	XXX_sizecache        int32    `json:"-"`
}

func (m *InitMultisigResponse) Reset()         { *m = InitMultisigResponse{} }
func (m *InitMultisigResponse) String() string { return proto.CompactTextString(m) }
func (*InitMultisigResponse) ProtoMessage()    {}

// SignContractRequest carries the maker signed contract.
type SignContractRequest struct {
	ContractJSON          []byte   `protobuf:"bytes,1,opt,name=contractJSON,proto3" json:"contractJSON,omitempty"`
	Signature             []byte   `protobuf:"bytes,2,opt,name=signature,proto3" json:"signature,omitempty"`
	PaymentAccountPayload []byte   `protobuf:"bytes,3,opt,name=paymentAccountPayload,proto3" json:"paymentAccountPayload,omitempty"`
	XXX_NoUnkeyedLiteral  struct{} `json:"-"`
	XXX_unrecognized      []byte   `json:"-"`
	XXX_sizecache         int32    `json:"-"`
}

func (m *SignContractRequest) Reset()         { *m = SignContractRequest{} }
func (m *SignContractRequest) String() string { return proto.CompactTextString(m) }
func (*SignContractRequest) ProtoMessage()    {}

// SignContractResponse carries the taker's counter signature.
type SignContractResponse struct {
	ContractHash          []byte   `protobuf:"bytes,1,opt,name=contractHash,proto3" json:"contractHash,omitempty"`
	Signature             []byte   `protobuf:"bytes,2,opt,name=signature,proto3" json:"signature,omitempty"`
	PaymentAccountPayload []byte   `protobuf:"bytes,3,opt,name=paymentAccountPayload,proto3" json:"paymentAccountPayload,omitempty"`
	XXX_NoUnkeyedLiteral  struct{} `json:"-"`
	XXX_unrecognized      []byte   `json:"-"`
	XXX_sizecache         int32    `json:"-"`
}

func (m *SignContractResponse) Reset()         { *m = SignContractResponse{} }
func (m *SignContractResponse) String() string { return proto.CompactTextString(m) }
func (*SignContractResponse) ProtoMessage()    {}

// DepositRequest hands a trader's signed, unpublished deposit transaction
// to the arbitrator.
type DepositRequest struct {
	ContractSignature    []byte   `protobuf:"bytes,1,opt,name=contractSignature,proto3" json:"contractSignature,omitempty"`
	DepositTxHash        string   `protobuf:"bytes,2,opt,name=depositTxHash,proto3" json:"depositTxHash,omitempty"`
	DepositTxHex         string   `protobuf:"bytes,3,opt,name=depositTxHex,proto3" json:"depositTxHex,omitempty"`
	DepositTxKey         string   `protobuf:"bytes,4,opt,name=depositTxKey,proto3" json:"depositTxKey,omitempty"`
	XXX_NoUnkeyedLiteral struct{} `json:"-"`
	XXX_unrecognized     []byte   `json:"-"`
	XXX_sizecache        int32    `json:"-"`
}

func (m *DepositRequest) Reset()         { *m = DepositRequest{} }
func (m *DepositRequest) String() string { return proto.CompactTextString(m) }
func (*DepositRequest) ProtoMessage()    {}

// DepositResponse tells the traders both deposits were published.
type DepositResponse struct {
	MakerDepositTxHash   string   `protobuf:"bytes,1,opt,name=makerDepositTxHash,proto3" json:"makerDepositTxHash,omitempty"`
	TakerDepositTxHash   string   `protobuf:"bytes,2,opt,name=takerDepositTxHash,proto3" json:"takerDepositTxHash,omitempty"`
	ErrorMessage         string   `protobuf:"bytes,3,opt,name=errorMessage,proto3" json:"errorMessage,omitempty"`
	XXX_NoUnkeyedLiteral struct{} `json:"-"`
	XXX_unrecognized     []byte   `json:"-"`
	XXX_sizecache        int32    `json:"-"`
}

func (m *DepositResponse) Reset()         { *m = DepositResponse{} }
func (m *DepositResponse) String() string { return proto.CompactTextString(m) }
func (*DepositResponse) ProtoMessage()    {}

// DepositTxMessage informs the counterparty of the sender's deposit.
type DepositTxMessage struct {
	DepositTxHash        string   `protobuf:"bytes,1,opt,name=depositTxHash,proto3" json:"depositTxHash,omitempty"`
	DepositTxKey         string   `protobuf:"bytes,2,opt,name=depositTxKey,proto3" json:"depositTxKey,omitempty"`
	XXX_NoUnkeyedLiteral struct{} `json:"-"`
	XXX_unrecognized     []byte   `json:"-"`
	XXX_sizecache        int32    `json:"-"`
}

func (m *DepositTxMessage) Reset()         { *m = DepositTxMessage{} }
func (m *DepositTxMessage) String() string { return proto.CompactTextString(m) }
func (*DepositTxMessage) ProtoMessage()    {}

// DepositsConfirmedMessage is sent once the sender sees both deposits
// unlocked.
type DepositsConfirmedMessage struct {
	XXX_NoUnkeyedLiteral struct{} `json:"-"`
	XXX_unrecognized     []byte   `json:"-"`
	XXX_sizecache        int32    `json:"-"`
}

func (m *DepositsConfirmedMessage) Reset()         { *m = DepositsConfirmedMessage{} }
func (m *DepositsConfirmedMessage) String() string { return proto.CompactTextString(m) }
func (*DepositsConfirmedMessage) ProtoMessage()    {}

// PaymentSentMessage is sent by the buyer once the fiat payment was
// started. It carries the buyer signed payout transaction.
type PaymentSentMessage struct {
	PayoutTxHex          string   `protobuf:"bytes,1,opt,name=payoutTxHex,proto3" json:"payoutTxHex,omitempty"`
	UpdatedMultisigHex   string   `protobuf:"bytes,2,opt,name=updatedMultisigHex,proto3" json:"updatedMultisigHex,omitempty"`
	CounterCurrencyTxID  string   `protobuf:"bytes,3,opt,name=counterCurrencyTxID,proto3" json:"counterCurrencyTxID,omitempty"`
	XXX_NoUnkeyedLiteral struct{} `json:"-"`
	XXX_unrecognized     []byte   `json:"-"`
	XXX_sizecache        int32    `json:"-"`
}

func (m *PaymentSentMessage) Reset()         { *m = PaymentSentMessage{} }
func (m *PaymentSentMessage) String() string { return proto.CompactTextString(m) }
func (*PaymentSentMessage) ProtoMessage()    {}

// PaymentReceivedMessage is sent by the seller after publishing the payout.
type PaymentReceivedMessage struct {
	PayoutTxID           string   `protobuf:"bytes,1,opt,name=payoutTxID,proto3" json:"payoutTxID,omitempty"`
	SignedPayoutTxHex    string   `protobuf:"bytes,2,opt,name=signedPayoutTxHex,proto3" json:"signedPayoutTxHex,omitempty"`
	XXX_NoUnkeyedLiteral struct{} `json:"-"`
	XXX_unrecognized     []byte   `json:"-"`
	XXX_sizecache        int32    `json:"-"`
}

func (m *PaymentReceivedMessage) Reset()         { *m = PaymentReceivedMessage{} }
func (m *PaymentReceivedMessage) String() string { return proto.CompactTextString(m) }
func (*PaymentReceivedMessage) ProtoMessage()    {}

// PayoutTxPublishedMessage informs the arbitrator of the published payout.
type PayoutTxPublishedMessage struct {
	PayoutTxID           string   `protobuf:"bytes,1,opt,name=payoutTxID,proto3" json:"payoutTxID,omitempty"`
	SignedPayoutTxHex    string   `protobuf:"bytes,2,opt,name=signedPayoutTxHex,proto3" json:"signedPayoutTxHex,omitempty"`
	XXX_NoUnkeyedLiteral struct{} `json:"-"`
	XXX_unrecognized     []byte   `json:"-"`
	XXX_sizecache        int32    `json:"-"`
}

func (m *PayoutTxPublishedMessage) Reset()         { *m = PayoutTxPublishedMessage{} }
func (m *PayoutTxPublishedMessage) String() string { return proto.CompactTextString(m) }
func (*PayoutTxPublishedMessage) ProtoMessage()    {}

// UpdateMultisigRequest carries the sender's exported multisig info.
type UpdateMultisigRequest struct {
	UpdatedMultisigHex   string   `protobuf:"bytes,1,opt,name=updatedMultisigHex,proto3" json:"updatedMultisigHex,omitempty"`
	XXX_NoUnkeyedLiteral struct{} `json:"-"`
	XXX_unrecognized     []byte   `json:"-"`
	XXX_sizecache        int32    `json:"-"`
}

func (m *UpdateMultisigRequest) Reset()         { *m = UpdateMultisigRequest{} }
func (m *UpdateMultisigRequest) String() string { return proto.CompactTextString(m) }
func (*UpdateMultisigRequest) ProtoMessage()    {}

// UpdateMultisigResponse answers an UpdateMultisigRequest with the
// responder's exported multisig info.
type UpdateMultisigResponse struct {
	UpdatedMultisigHex   string   `protobuf:"bytes,1,opt,name=updatedMultisigHex,proto3" json:"updatedMultisigHex,omitempty"`
	XXX_NoUnkeyedLiteral struct{} `json:"-"`
	XXX_unrecognized     []byte   `json:"-"`
	XXX_sizecache        int32    `json:"-"`
}

func (m *UpdateMultisigResponse) Reset()         { *m = UpdateMultisigResponse{} }
func (m *UpdateMultisigResponse) String() string { return proto.CompactTextString(m) }
func (*UpdateMultisigResponse) ProtoMessage()    {}
