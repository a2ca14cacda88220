package models

import (
	"encoding/json"
	"time"

	"github.com/libp2p/go-libp2p-core/peer"
)

// StoreAndForwardServers is the mailbox server list a peer advertised
// to us. Messages for the peer are left with these servers while it's
// offline.
type StoreAndForwardServers struct {
	PeerID      string `gorm:"primary_key"`
	SNFServers  json.RawMessage
	LastUpdated time.Time
}

// PutServers replaces the saved server list and bumps LastUpdated.
func (s *StoreAndForwardServers) PutServers(servers []string) error {
	for _, server := range servers {
		if _, err := peer.Decode(server); err != nil {
			return err
		}
	}
	ser, err := json.Marshal(servers)
	if err != nil {
		return err
	}
	s.SNFServers = ser
	s.LastUpdated = time.Now()
	return nil
}

// Servers decodes the saved server list. A record which was never
// filled returns an empty list.
func (s *StoreAndForwardServers) Servers() ([]peer.ID, error) {
	if len(s.SNFServers) == 0 {
		return nil, nil
	}
	var encoded []string
	if err := json.Unmarshal(s.SNFServers, &encoded); err != nil {
		return nil, err
	}
	servers := make([]peer.ID, len(encoded))
	for i, e := range encoded {
		pid, err := peer.Decode(e)
		if err != nil {
			return nil, err
		}
		servers[i] = pid
	}
	return servers, nil
}
