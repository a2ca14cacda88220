package core

import (
	"github.com/cpacia/xmrescrow/database"
	"github.com/cpacia/xmrescrow/events"
	"github.com/cpacia/xmrescrow/models"
	"github.com/cpacia/xmrescrow/net/pb"
	"github.com/golang/protobuf/proto"
	"github.com/libp2p/go-libp2p-core/peer"
)

// handleAckMessage stops the retries of the acked message.
func (n *XMREscrowNode) handleAckMessage(from peer.ID, message *pb.Message) error {
	if message.MessageType != pb.Message_ACK {
		return nil
	}
	ack := new(pb.AckMessage)
	if err := proto.Unmarshal(message.Payload, ack); err != nil {
		return err
	}
	err := n.repo.DB().Update(func(tx database.Tx) error {
		return n.messenger.ProcessACK(tx, ack)
	})
	if err != nil {
		return err
	}
	n.eventBus.Emit(&events.MessageACK{MessageID: ack.AckedMessageID})
	return nil
}

// syncMessages resends the unacked messages for a peer as soon as it
// connects instead of waiting for the next retry tick.
func (n *XMREscrowNode) syncMessages(sub events.Subscription) {
	defer sub.Close()
	for {
		select {
		case <-n.shutdown:
			return
		case e, ok := <-sub.Out():
			if !ok {
				return
			}
			connected, ok := e.(*events.PeerConnected)
			if !ok {
				continue
			}
			go n.retryMessagesFor(connected.Peer)
		}
	}
}

func (n *XMREscrowNode) retryMessagesFor(p peer.ID) {
	var messages []models.OutgoingMessage
	err := n.repo.DB().View(func(tx database.Tx) error {
		return tx.Read().Where("recipient = ?", p.Pretty()).Find(&messages).Error
	})
	if err != nil {
		log.Errorf("Error loading outgoing messages for %s: %s", p, err)
		return
	}
	for _, m := range messages {
		if _, err := n.messenger.RetryMessage(m.ID, nil); err != nil {
			log.Errorf("Error retrying message %s: %s", m.ID, err)
		}
	}
}
