// Package pb holds the network level wire messages. Every message sent
// between peers is wrapped in a Message which identifies the type of the
// payload.
package pb

import (
	"github.com/golang/protobuf/proto"
)

// Message_MessageType identifies the payload carried by a Message.
type Message_MessageType int32

const (
	Message_PING                Message_MessageType = 0
	Message_ACK                 Message_MessageType = 1
	Message_TRADE               Message_MessageType = 2
	Message_TRADE_ACK           Message_MessageType = 3
	Message_SIGN_OFFER_REQUEST  Message_MessageType = 4
	Message_SIGN_OFFER_RESPONSE Message_MessageType = 5
	Message_PONG                Message_MessageType = 6
)

var Message_MessageType_name = map[int32]string{
	0: "PING",
	1: "ACK",
	2: "TRADE",
	3: "TRADE_ACK",
	4: "SIGN_OFFER_REQUEST",
	5: "SIGN_OFFER_RESPONSE",
	6: "PONG",
}

var Message_MessageType_value = map[string]int32{
	"PING":                0,
	"ACK":                 1,
	"TRADE":               2,
	"TRADE_ACK":           3,
	"SIGN_OFFER_REQUEST":  4,
	"SIGN_OFFER_RESPONSE": 5,
	"PONG":                6,
}

func (x Message_MessageType) String() string {
	return proto.EnumName(Message_MessageType_name, int32(x))
}

// Message is the top level container for all network messages.
type Message struct {
	MessageID            string              `protobuf:"bytes,1,opt,name=messageID,proto3" json:"messageID,omitempty"`
	MessageType          Message_MessageType `protobuf:"varint,2,opt,name=messageType,proto3,enum=pb.Message_MessageType" json:"messageType,omitempty"`
	Payload              []byte              `protobuf:"bytes,3,opt,name=payload,proto3" json:"payload,omitempty"`
	Sequence             uint32              `protobuf:"varint,4,opt,name=sequence,proto3" json:"sequence,omitempty"`
	XXX_NoUnkeyedLiteral struct{}            `json:"-"`
	XXX_unrecognized     []byte              `json:"-"`
	XXX_sizecache        int32               `json:"-"`
}

func (m *Message) Reset()         { *m = Message{} }
func (m *Message) String() string { return proto.CompactTextString(m) }
func (*Message) ProtoMessage()    {}

// Envelope wraps a Message with the sender's public key and a
// signature. It is used for messages sent through the store and
// forward servers, where the sender can't be inferred from the stream.
type Envelope struct {
	Message              *Message `protobuf:"bytes,1,opt,name=message,proto3" json:"message,omitempty"`
	SenderPubkey         []byte   `protobuf:"bytes,2,opt,name=senderPubkey,proto3" json:"senderPubkey,omitempty"`
	Signature            []byte   `protobuf:"bytes,3,opt,name=signature,proto3" json:"signature,omitempty"`
	XXX_NoUnkeyedLiteral struct{} `json:"-"`
	XXX_unrecognized     []byte   `json:"-"`
	XXX_sizecache        int32    `json:"-"`
}

func (m *Envelope) Reset()         { *m = Envelope{} }
func (m *Envelope) String() string { return proto.CompactTextString(m) }
func (*Envelope) ProtoMessage()    {}

// AckMessage acknowledges receipt of a network message that isn't
// acknowledged at the trade level.
type AckMessage struct {
	AckedMessageID       string   `protobuf:"bytes,1,opt,name=ackedMessageID,proto3" json:"ackedMessageID,omitempty"`
	XXX_NoUnkeyedLiteral struct{} `json:"-"`
	XXX_unrecognized     []byte   `json:"-"`
	XXX_sizecache        int32    `json:"-"`
}

func (m *AckMessage) Reset()         { *m = AckMessage{} }
func (m *AckMessage) String() string { return proto.CompactTextString(m) }
func (*AckMessage) ProtoMessage()    {}

// SignOfferRequest asks an arbitrator to validate the maker's reserve
// transaction and sign the offer.
type SignOfferRequest struct {
	OfferID              string   `protobuf:"bytes,1,opt,name=offerID,proto3" json:"offerID,omitempty"`
	Offer                []byte   `protobuf:"bytes,2,opt,name=offer,proto3" json:"offer,omitempty"`
	ReserveTxHash        string   `protobuf:"bytes,3,opt,name=reserveTxHash,proto3" json:"reserveTxHash,omitempty"`
	ReserveTxHex         string   `protobuf:"bytes,4,opt,name=reserveTxHex,proto3" json:"reserveTxHex,omitempty"`
	ReserveTxKey         string   `protobuf:"bytes,5,opt,name=reserveTxKey,proto3" json:"reserveTxKey,omitempty"`
	ReserveTxKeyImages   []string `protobuf:"bytes,6,rep,name=reserveTxKeyImages,proto3" json:"reserveTxKeyImages,omitempty"`
	XXX_NoUnkeyedLiteral struct{} `json:"-"`
	XXX_unrecognized     []byte   `json:"-"`
	XXX_sizecache        int32    `json:"-"`
}

func (m *SignOfferRequest) Reset()         { *m = SignOfferRequest{} }
func (m *SignOfferRequest) String() string { return proto.CompactTextString(m) }
func (*SignOfferRequest) ProtoMessage()    {}

// SignOfferResponse carries the arbitrator's signature or the reason
// the offer was refused.
type SignOfferResponse struct {
	OfferID              string   `protobuf:"bytes,1,opt,name=offerID,proto3" json:"offerID,omitempty"`
	Signature            []byte   `protobuf:"bytes,2,opt,name=signature,proto3" json:"signature,omitempty"`
	ErrorMessage         string   `protobuf:"bytes,3,opt,name=errorMessage,proto3" json:"errorMessage,omitempty"`
	XXX_NoUnkeyedLiteral struct{} `json:"-"`
	XXX_unrecognized     []byte   `json:"-"`
	XXX_sizecache        int32    `json:"-"`
}

func (m *SignOfferResponse) Reset()         { *m = SignOfferResponse{} }
func (m *SignOfferResponse) String() string { return proto.CompactTextString(m) }
func (*SignOfferResponse) ProtoMessage()    {}
