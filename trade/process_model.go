package trade

import (
	"context"

	"github.com/cpacia/xmrescrow/database"
	"github.com/cpacia/xmrescrow/events"
	"github.com/cpacia/xmrescrow/filter"
	"github.com/cpacia/xmrescrow/models"
	"github.com/cpacia/xmrescrow/net"
	npb "github.com/cpacia/xmrescrow/net/pb"
	"github.com/cpacia/xmrescrow/trade/pb"
	"github.com/cpacia/xmrescrow/wallet"
	"github.com/golang/protobuf/proto"
	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p-core/crypto"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("TRADE")

// Messenger is the transport the trade engine sends through. Mailbox
// messages are persisted inside the caller's db transaction and retried
// until deleted. Direct messages are attempted once.
type Messenger interface {
	SendDirect(ctx context.Context, to peer.ID, message *npb.Message) error
	ReliablySendMessage(tx database.Tx, to peer.ID, message *npb.Message, onResult net.ResultFunc) error
	DeleteMessage(tx database.Tx, messageID string) error
	RetryMessage(messageID string, onResult net.ResultFunc) (bool, error)
	SendACK(messageID string, to peer.ID)
	UpdatePeerServers(peerID peer.ID, servers []string) error
	MailboxServers() []string
}

// OpenOfferStore gives the maker's protocol access to its open offers.
type OpenOfferStore interface {
	// ReserveOffer moves an AVAILABLE offer to RESERVED and returns it.
	ReserveOffer(offerID string) (*models.OpenOffer, error)

	// UnreserveOffer returns a RESERVED offer to AVAILABLE.
	UnreserveOffer(offerID string) error

	// CloseOffer marks the offer CLOSED once its trade is funded.
	CloseOffer(offerID string) error
}

// Services are the collaborators shared by every trade protocol.
type Services struct {
	Wallet     wallet.Wallet
	Messenger  Messenger
	DB         database.Database
	Bus        events.Bus
	Filter     *filter.Filter
	OpenOffers OpenOfferStore
	Identity   crypto.PrivKey
	PeerID     peer.ID
	Config     *Config
}

// outgoing is a message queued by a pipeline. It is written out when the
// pipeline's db transaction commits.
type outgoing struct {
	to      peer.ID
	msg     *npb.Message
	mailbox bool
	uid     string
}

// ProcessModel is the working context of one pipeline run. Tasks read
// the inbound message from it and mutate its trade, which is a copy of
// the protocol's trade until the run commits.
type ProcessModel struct {
	Trade *models.Trade

	Message    *pb.TradeMessage
	Body       proto.Message
	Sender     peer.ID
	SenderRole models.TradeRole

	svc     *Services
	outbox  []outgoing
	events  []interface{}
	changed bool

	// reserved is set once funds were reserved by this run so a failed
	// run can release them.
	reserved bool
}

func newProcessModel(t *models.Trade, svc *Services, in *input) *ProcessModel {
	pm := &ProcessModel{Trade: t, svc: svc}
	if in != nil {
		pm.Message = in.msg
		pm.Body = in.body
		pm.Sender = in.sender
		pm.SenderRole = in.senderRole
	}
	return pm
}

// State returns the persisted part of the process model.
func (pm *ProcessModel) State() *models.ProcessModelState {
	return &pm.Trade.ProcessModel
}

// Wallet returns the shared wallet.
func (pm *ProcessModel) Wallet() wallet.Wallet {
	return pm.svc.Wallet
}

// Advance moves the trade forward to s. Moving backwards is a no-op so
// tasks can advance unconditionally.
func (pm *ProcessModel) Advance(s models.TradeState) {
	if s <= pm.Trade.State {
		return
	}
	pm.Trade.SetState(s)
	pm.changed = true
}

// MarkChanged forces the run to be persisted.
func (pm *ProcessModel) MarkChanged() {
	pm.changed = true
}

// Emit queues an event to be published after the run commits.
func (pm *ProcessModel) Emit(event interface{}) {
	pm.events = append(pm.events, event)
}

// Send queues a trade message to the party with the given role.
func (pm *ProcessModel) Send(role models.TradeRole, typ pb.TradeMessage_Type, body proto.Message) error {
	rec, err := pm.Trade.Peer(role)
	if err != nil {
		return err
	}
	to, err := peer.Decode(rec.PeerID)
	if err != nil {
		return err
	}
	payload, err := proto.Marshal(body)
	if err != nil {
		return err
	}
	pubkey, err := crypto.MarshalPublicKey(pm.svc.Identity.GetPublic())
	if err != nil {
		return err
	}
	tm := &pb.TradeMessage{
		TradeID:         pm.Trade.ID,
		UID:             uuid.New().String(),
		Type:            typ,
		SenderPeerID:    pm.svc.PeerID.Pretty(),
		SenderPubkey:    pubkey,
		ProtocolVersion: pm.svc.Config.protocolVersion(),
		Payload:         payload,
	}
	if pm.svc.Messenger != nil {
		tm.MailboxServers = pm.svc.Messenger.MailboxServers()
	}
	ser, err := proto.Marshal(tm)
	if err != nil {
		return err
	}

	pm.State().SetDelivery(tm.UID, &models.DeliveryRecord{
		Recipient:   rec.PeerID,
		MessageType: typ.String(),
		Mailbox:     typ.IsMailbox(),
		State:       models.MessageStateUnsent,
	})
	if typ == pb.TradeMessage_PAYMENT_SENT {
		pm.State().PaymentSentUID = tm.UID
	}

	pm.outbox = append(pm.outbox, outgoing{
		to: to,
		msg: &npb.Message{
			MessageID:   tm.UID,
			MessageType: npb.Message_TRADE,
			Payload:     ser,
		},
		mailbox: typ.IsMailbox(),
		uid:     tm.UID,
	})
	pm.changed = true
	log.Debugf("Trade %s: queued %s to %s", pm.Trade.ID, typ, role)
	return nil
}

// SendToOthers queues the message to both other parties of the trade.
func (pm *ProcessModel) SendToOthers(typ pb.TradeMessage_Type, body proto.Message) error {
	for _, role := range pm.Trade.OtherRoles() {
		if err := pm.Send(role, typ, body); err != nil {
			return err
		}
	}
	return nil
}

// newAck builds the acknowledgment for a processed message. Acks for
// mailbox messages are themselves delivered reliably.
func newAck(tradeID string, msg *pb.TradeMessage, to peer.ID, ackErr error) (outgoing, error) {
	ack := &pb.TradeAck{
		TradeID:           tradeID,
		SourceMessageType: msg.Type,
		SourceUID:         msg.UID,
		Success:           ackErr == nil,
	}
	if ackErr != nil {
		ack.ErrorMessage = ackErr.Error()
	}
	payload, err := proto.Marshal(ack)
	if err != nil {
		return outgoing{}, err
	}
	return outgoing{
		to: to,
		msg: &npb.Message{
			MessageID:   uuid.New().String(),
			MessageType: npb.Message_TRADE_ACK,
			Payload:     payload,
		},
		mailbox: msg.Type.IsMailbox(),
	}, nil
}
