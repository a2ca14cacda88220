package events

import "github.com/libp2p/go-libp2p-core/peer"

// PeerConnected is emitted when the first connection to a peer opens.
type PeerConnected struct {
	Peer peer.ID
}

// PeerDisconnected is emitted when a connection to a peer closes.
type PeerDisconnected struct {
	Peer peer.ID
}

// MessageACK is emitted when a peer acks one of our outgoing messages.
type MessageACK struct {
	MessageID string
}

// PingReceived is emitted when a peer pings us.
type PingReceived struct {
	Peer peer.ID
}

// PongReceived is emitted when a peer answers one of our pings.
type PongReceived struct {
	Peer peer.ID
}
