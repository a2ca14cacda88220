package net

import (
	"context"
	"io"
	"sync"

	"github.com/cpacia/xmrescrow/net/pb"
	ggio "github.com/gogo/protobuf/io"
	ctxio "github.com/jbenet/go-context/io"
	"github.com/libp2p/go-libp2p-core/host"
	inet "github.com/libp2p/go-libp2p-core/network"
	peer "github.com/libp2p/go-libp2p-core/peer"
	protocol "github.com/libp2p/go-libp2p-core/protocol"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("NET")

// MessageHandler processes a message received from a peer.
type MessageHandler func(peerID peer.ID, msg *pb.Message) error

// NetworkService delivers messages directly to online peers over libp2p
// streams and dispatches incoming messages to the registered handlers.
type NetworkService struct {
	ctx       context.Context
	ctxCancel context.CancelFunc

	host host.Host

	senders map[peer.ID]*streamSender
	msMtx   sync.RWMutex

	handlers   map[pb.Message_MessageType]MessageHandler
	handlerMtx sync.RWMutex

	banManager *BanManager

	protocolID protocol.ID
}

func NewNetworkService(host host.Host, banManager *BanManager, useTestnet bool) *NetworkService {
	ctx, cancel := context.WithCancel(context.Background())
	protocolID := ProtocolAppMainnetOne
	if useTestnet {
		protocolID = ProtocolAppTestnetOne
	}
	ns := &NetworkService{
		ctx:        ctx,
		ctxCancel:  cancel,
		host:       host,
		senders:    make(map[peer.ID]*streamSender),
		handlers:   make(map[pb.Message_MessageType]MessageHandler),
		banManager: banManager,
		protocolID: protocol.ID(protocolID),
	}
	host.SetStreamHandler(ns.protocolID, ns.HandleNewStream)
	host.Network().Notify(&inet.NotifyBundle{
		DisconnectedF: func(_ inet.Network, conn inet.Conn) {
			if len(host.Network().ConnsToPeer(conn.RemotePeer())) == 0 {
				ns.dropSender(conn.RemotePeer())
			}
		},
	})
	return ns
}

// Host returns the libp2p host the service runs on.
func (ns *NetworkService) Host() host.Host {
	return ns.host
}

func (ns *NetworkService) Close() {
	ns.host.RemoveStreamHandler(ns.protocolID)
	ns.ctxCancel()
}

func (ns *NetworkService) RegisterHandler(messageType pb.Message_MessageType, handler MessageHandler) {
	ns.handlerMtx.Lock()
	defer ns.handlerMtx.Unlock()
	ns.handlers[messageType] = handler
}

// HandleNewStream receives new incoming streams from other peers.
// A stream is not a connection. Many streams may be multiplexed over
// one connection and each stream is read in its own goroutine.
func (ns *NetworkService) HandleNewStream(s inet.Stream) {
	go ns.handleNewMessage(s)
}

func (ns *NetworkService) handleNewMessage(s inet.Stream) {
	defer s.Close()
	contextReader := ctxio.NewReader(ns.ctx, s)
	reader := ggio.NewDelimitedReader(contextReader, inet.MessageSizeMax)
	remotePeer := s.Conn().RemotePeer()

	if ns.banManager.IsBanned(remotePeer) {
		log.Debugf("Received new stream request from banned peer %s. Closing.", remotePeer)
		return
	}

	for {
		select {
		case <-ns.ctx.Done():
			return
		default:
		}

		pmes := new(pb.Message)
		if err := reader.ReadMsg(pmes); err != nil {
			s.Reset()
			if err == io.EOF {
				log.Debugf("Peer %s closed stream", remotePeer)
			}
			return
		}
		// Check again
		if ns.banManager.IsBanned(remotePeer) {
			log.Debugf("Received message from banned peer %s. Closing.", remotePeer)
			return
		}

		ns.dispatch(remotePeer, pmes)
	}
}

// dispatch hands the message to its registered handler.
func (ns *NetworkService) dispatch(remotePeer peer.ID, pmes *pb.Message) bool {
	ns.handlerMtx.RLock()
	handler, ok := ns.handlers[pmes.MessageType]
	ns.handlerMtx.RUnlock()
	if !ok {
		log.Warningf("Received message type %s with unregistered handler", pmes.MessageType.String())
		return false
	}
	if err := handler(remotePeer, pmes); err != nil {
		log.Errorf("Error processing %s message from %s: %s", pmes.MessageType.String(), remotePeer, err)
	}
	return true
}

// SendMessage writes the message to the peer over a direct stream.
func (ns *NetworkService) SendMessage(ctx context.Context, peerID peer.ID, message *pb.Message) error {
	s, err := ns.senderFor(ctx, peerID)
	if err != nil {
		return err
	}
	return s.send(ctx, message)
}
