package core

import (
	"context"
	"time"

	"github.com/cpacia/xmrescrow/events"
	"github.com/cpacia/xmrescrow/net/pb"
	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p-core/peer"
)

const pingTimeout = time.Second * 10

// PingNode sends a ping to the given peer and waits for the pong. It
// returns ErrPeerUnreachable if no pong arrives in time.
func (n *XMREscrowNode) PingNode(ctx context.Context, p peer.ID) error {
	sub, err := n.eventBus.Subscribe(&events.PongReceived{}, events.MatchFieldValue("Peer", p.Pretty()))
	if err != nil {
		return err
	}
	defer sub.Close()

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	msg := &pb.Message{
		MessageID:   uuid.New().String(),
		MessageType: pb.Message_PING,
	}
	if err := n.networkService.SendMessage(ctx, p, msg); err != nil {
		return ErrPeerUnreachable
	}

	select {
	case <-sub.Out():
		return nil
	case <-ctx.Done():
		return ErrPeerUnreachable
	}
}

func (n *XMREscrowNode) handlePingMessage(from peer.ID, message *pb.Message) error {
	if message.MessageType != pb.Message_PING {
		return nil
	}
	log.Debugf("Received PING message from %s", from)
	n.eventBus.Emit(&events.PingReceived{Peer: from})

	pong := &pb.Message{
		MessageID:   uuid.New().String(),
		MessageType: pb.Message_PONG,
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	return n.networkService.SendMessage(ctx, from, pong)
}

func (n *XMREscrowNode) handlePongMessage(from peer.ID, message *pb.Message) error {
	if message.MessageType != pb.Message_PONG {
		return nil
	}
	log.Debugf("Received PONG message from %s", from)
	n.eventBus.Emit(&events.PongReceived{Peer: from})
	return nil
}
