package models

import (
	"time"

	"github.com/cpacia/xmrescrow/net/pb"
	"github.com/golang/protobuf/proto"
)

// OutgoingMessage is a message waiting on an ACK from its recipient.
// The messenger retries it on a backoff, falling back to the
// recipient's mailbox servers, until the ACK arrives. Trade messages
// are only acked by a successful TradeAck.
type OutgoingMessage struct {
	ID                string `gorm:"primary_key"`
	Recipient         string `gorm:"index"`
	SerializedMessage []byte
	MessageType       string
	Timestamp         time.Time
	LastAttempt       time.Time
}

// Message decodes the stored message.
func (m *OutgoingMessage) Message() (*pb.Message, error) {
	msg := new(pb.Message)
	if err := proto.Unmarshal(m.SerializedMessage, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
