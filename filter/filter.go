// Package filter holds the node's ban lists. Offers and trade messages
// from banned peers, and offers in banned currencies or payment methods,
// are refused before any protocol work starts.
package filter

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/cpacia/xmrescrow/models"
	"github.com/cpacia/xmrescrow/net"
	"github.com/libp2p/go-libp2p-core/peer"
)

var (
	// ErrBannedPeer is returned for a peer on the ban list.
	ErrBannedPeer = errors.New("peer is banned")

	// ErrBannedCurrency is returned for an offer in a banned currency.
	ErrBannedCurrency = errors.New("currency is banned")

	// ErrBannedPaymentMethod is returned for an offer with a banned
	// payment method.
	ErrBannedPaymentMethod = errors.New("payment method is banned")
)

// Filter checks peers and offers against the ban lists. The peer list is
// shared with the network service so banned peers are also disconnected
// at the stream level.
type Filter struct {
	mtx        sync.RWMutex
	banManager *net.BanManager
	currencies map[string]bool
	methods    map[string]bool
}

// NewFilter returns a filter using the given ban manager and banned
// currency and payment method lists.
func NewFilter(banManager *net.BanManager, currencies, methods []string) *Filter {
	if banManager == nil {
		banManager = net.NewBanManager(nil)
	}
	f := &Filter{
		banManager: banManager,
		currencies: make(map[string]bool),
		methods:    make(map[string]bool),
	}
	for _, c := range currencies {
		f.currencies[strings.ToUpper(c)] = true
	}
	for _, m := range methods {
		f.methods[strings.ToUpper(m)] = true
	}
	return f
}

// BanManager returns the underlying peer ban list.
func (f *Filter) BanManager() *net.BanManager {
	return f.banManager
}

// BanPeer adds the peer to the ban list.
func (f *Filter) BanPeer(p peer.ID) {
	f.banManager.Ban(p)
}

// BanCurrency adds the currency to the ban list.
func (f *Filter) BanCurrency(code string) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.currencies[strings.ToUpper(code)] = true
}

// BanPaymentMethod adds the payment method to the ban list.
func (f *Filter) BanPaymentMethod(method string) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.methods[strings.ToUpper(method)] = true
}

// BannedCurrencies returns the sorted list of banned currencies.
func (f *Filter) BannedCurrencies() []string {
	f.mtx.RLock()
	defer f.mtx.RUnlock()
	var ret []string
	for c := range f.currencies {
		ret = append(ret, c)
	}
	sort.Strings(ret)
	return ret
}

// ValidatePeer returns ErrBannedPeer if the peer is banned.
func (f *Filter) ValidatePeer(peerID string) error {
	if f.banManager.IsBannedString(peerID) {
		return ErrBannedPeer
	}
	return nil
}

// ValidateOffer checks the offer's maker, arbitrator, currency and
// payment method against the ban lists.
func (f *Filter) ValidateOffer(offer *models.Offer) error {
	if err := f.ValidatePeer(offer.MakerPeerID); err != nil {
		return err
	}
	if err := f.ValidatePeer(offer.ArbitratorPeerID); err != nil {
		return err
	}
	if _, err := models.LookupCurrency(offer.Currency.String()); err != nil {
		return err
	}

	f.mtx.RLock()
	defer f.mtx.RUnlock()
	if f.currencies[offer.Currency.String()] {
		return ErrBannedCurrency
	}
	if f.methods[strings.ToUpper(offer.PaymentMethod)] {
		return ErrBannedPaymentMethod
	}
	return nil
}
