package net

import (
	"testing"

	peer "github.com/libp2p/go-libp2p-core/peer"
)

func bannedPeers() []peer.ID {
	peerStrings := []string{
		"QmY3ArotKMKaL7YGfbQfyDrib6RVraLqZYWXZvVgZktBxp",
		"QmYVXrKrKHDC9FobgmcmshCDyWwdrfwfanNQN4oxJ9Fk3h",
		"QmZNkThpqfVXs9GNbexPrfBbXSLNYeKrE7jwFM2oqHbyqN",
	}
	peers := make([]peer.ID, 0, len(peerStrings))

	for _, p := range peerStrings {
		pid, err := peer.Decode(p)
		if err != nil {
			panic(err)
		}
		peers = append(peers, pid)
	}
	return peers
}

func TestNewBanManager(t *testing.T) {
	banned := bannedPeers()
	bm := NewBanManager(banned)

	if len(bm.Banned()) != len(banned) {
		t.Errorf("Expected to initialize the ban manager with %d peers. Got %d", len(banned), len(bm.Banned()))
	}
	for _, p := range banned {
		if !bm.IsBanned(p) {
			t.Errorf("Expected %s to be banned", p)
		}
		if !bm.IsBannedString(p.Pretty()) {
			t.Errorf("Expected %s to be banned", p)
		}
	}
}

func TestBanManager_BanUnban(t *testing.T) {
	banned := bannedPeers()
	bm := NewBanManager(nil)

	for _, p := range banned {
		bm.Ban(p)
	}
	if len(bm.Banned()) != len(banned) {
		t.Errorf("Expected %d banned peers got %d", len(banned), len(bm.Banned()))
	}

	bm.Unban(banned[0])
	if bm.IsBanned(banned[0]) {
		t.Error("Failed to unban peer")
	}
	if !bm.IsBanned(banned[1]) {
		t.Error("Removed the wrong id")
	}

	bm.Replace(banned[:1])
	if !bm.IsBanned(banned[0]) || bm.IsBanned(banned[1]) || bm.IsBanned(banned[2]) {
		t.Error("Replace did not replace the set")
	}
	if bm.IsBannedString("not a peer") {
		t.Error("Undecodable peer ID reported as banned")
	}
}
