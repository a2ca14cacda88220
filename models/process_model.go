package models

import "time"

// MessageState tracks the delivery of an outgoing trade message.
type MessageState string

const (
	MessageStateUnsent          MessageState = "UNSENT"
	MessageStateArrived         MessageState = "ARRIVED"
	MessageStateStoredInMailbox MessageState = "STORED_IN_MAILBOX"
	MessageStateAcknowledged    MessageState = "ACKNOWLEDGED"
	MessageStateFailed          MessageState = "FAILED"
)

// DeliveryRecord is the delivery state of one outgoing trade message.
type DeliveryRecord struct {
	Recipient   string       `json:"recipient"`
	MessageType string       `json:"messageType"`
	Mailbox     bool         `json:"mailbox"`
	State       MessageState `json:"state"`
	Error       string       `json:"error,omitempty"`

	// Rejected is set once a negative ack ends the resends of the message.
	Rejected bool `json:"rejected,omitempty"`
}

// PendingMessage is an inbound message whose processing was deferred
// until the trade reaches RequiredState.
type PendingMessage struct {
	UID               string     `json:"uid"`
	Sender            string     `json:"sender"`
	SerializedMessage []byte     `json:"message"`
	RequiredState     TradeState `json:"requiredState"`
	Deadline          time.Time  `json:"deadline"`
}

// ProcessModelState is the persisted scratch space shared by all tasks
// of a trade.
type ProcessModelState struct {
	CurrentMessageUID  string `json:"currentMessageUID,omitempty"`
	CurrentMessageType string `json:"currentMessageType,omitempty"`

	ProcessedUIDs map[string]bool            `json:"processedUIDs,omitempty"`
	Deliveries    map[string]*DeliveryRecord `json:"deliveries,omitempty"`
	Pending       []PendingMessage           `json:"pending,omitempty"`

	TimeoutAt time.Time `json:"timeoutAt,omitempty"`

	MultisigSetupComplete bool   `json:"multisigSetupComplete"`
	MultisigAddress       string `json:"multisigAddress,omitempty"`

	ContractJSON []byte `json:"contractJSON,omitempty"`
	ContractHash []byte `json:"contractHash,omitempty"`

	PayoutTxHex    string `json:"payoutTxHex,omitempty"`
	PaymentSentUID string `json:"paymentSentUID,omitempty"`

	DepositRequestsReceived int               `json:"depositRequestsReceived,omitempty"`
	DepositConfirmations    map[string]uint64 `json:"depositConfirmations,omitempty"`
}

// MarkProcessed records a successfully processed message uid.
func (p *ProcessModelState) MarkProcessed(uid string) {
	if p.ProcessedUIDs == nil {
		p.ProcessedUIDs = make(map[string]bool)
	}
	p.ProcessedUIDs[uid] = true
}

// IsProcessed returns whether the message uid was already processed.
func (p *ProcessModelState) IsProcessed(uid string) bool {
	return p.ProcessedUIDs[uid]
}

// SetDelivery creates or updates the delivery record for uid.
func (p *ProcessModelState) SetDelivery(uid string, rec *DeliveryRecord) {
	if p.Deliveries == nil {
		p.Deliveries = make(map[string]*DeliveryRecord)
	}
	p.Deliveries[uid] = rec
}

// UnacknowledgedMailbox returns the uids of mailbox messages that the
// recipient has not acknowledged yet.
func (p *ProcessModelState) UnacknowledgedMailbox() []string {
	var uids []string
	for uid, rec := range p.Deliveries {
		if rec.Mailbox && !rec.Rejected && rec.State != MessageStateAcknowledged {
			uids = append(uids, uid)
		}
	}
	return uids
}
