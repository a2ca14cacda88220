package net

import (
	"sync"

	peer "github.com/libp2p/go-libp2p-core/peer"
)

// BanManager holds the peers we refuse to talk to. The network service
// drops their streams and the trade filter rejects their offers.
type BanManager struct {
	mtx    sync.RWMutex
	banned map[peer.ID]struct{}
}

// NewBanManager returns a BanManager seeded with banned.
func NewBanManager(banned []peer.ID) *BanManager {
	bm := &BanManager{}
	bm.Replace(banned)
	return bm
}

// Ban adds p to the ban list.
func (bm *BanManager) Ban(p peer.ID) {
	bm.mtx.Lock()
	defer bm.mtx.Unlock()
	bm.banned[p] = struct{}{}
}

// Unban removes p from the ban list.
func (bm *BanManager) Unban(p peer.ID) {
	bm.mtx.Lock()
	defer bm.mtx.Unlock()
	delete(bm.banned, p)
}

// Replace swaps the whole ban list for peers.
func (bm *BanManager) Replace(peers []peer.ID) {
	banned := make(map[peer.ID]struct{}, len(peers))
	for _, p := range peers {
		banned[p] = struct{}{}
	}
	bm.mtx.Lock()
	bm.banned = banned
	bm.mtx.Unlock()
}

// Banned returns the banned peers in no particular order.
func (bm *BanManager) Banned() []peer.ID {
	bm.mtx.RLock()
	defer bm.mtx.RUnlock()
	ret := make([]peer.ID, 0, len(bm.banned))
	for p := range bm.banned {
		ret = append(ret, p)
	}
	return ret
}

func (bm *BanManager) IsBanned(p peer.ID) bool {
	bm.mtx.RLock()
	defer bm.mtx.RUnlock()
	_, ok := bm.banned[p]
	return ok
}

// IsBannedString is IsBanned for a base58 peer ID. Strings which don't
// decode are never banned.
func (bm *BanManager) IsBannedString(p string) bool {
	pid, err := peer.Decode(p)
	if err != nil {
		return false
	}
	return bm.IsBanned(pid)
}
