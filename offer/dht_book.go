package offer

import (
	"context"
	"sync"
	"time"

	"github.com/cpacia/xmrescrow/models"
	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p-core/crypto"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-core/routing"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	record "github.com/libp2p/go-libp2p-record"
	mh "github.com/multiformats/go-multihash"
	"github.com/pkg/errors"
)

const (
	maxProviders = 100
	getTimeout   = time.Second * 30
)

// Validators returns the record validators the DHT needs to accept offer
// book records alongside public keys.
func Validators() record.NamespacedValidator {
	return record.NamespacedValidator{
		"pk":           record.PublicKeyValidator{},
		offerNamespace: OfferValidator{},
		indexNamespace: IndexValidator{},
	}
}

// valueStore is the part of the DHT the offer book uses.
type valueStore interface {
	PutValue(ctx context.Context, key string, value []byte, opts ...routing.Option) error
	GetValue(ctx context.Context, key string, opts ...routing.Option) ([]byte, error)
	Provide(ctx context.Context, key cid.Cid, announce bool) error
	FindProvidersAsync(ctx context.Context, key cid.Cid, count int) <-chan peer.AddrInfo
}

// DHTOfferBook publishes offers in the DHT. Each offer is stored under
// /offer/<id> and each maker keeps an index of its live offers under
// /offerindex/<peer id>. Makers announce themselves as providers of a
// per currency key so takers can find them.
//
// Index updates are batched until Flush.
type DHTOfferBook struct {
	store        valueStore
	bootstrapped func() bool
	sk           crypto.PrivKey
	self         peer.ID

	mtx    sync.Mutex
	offers map[string]*models.PublicOffer
	dirty  bool
}

// NewDHTOfferBook returns an offer book on top of the given DHT. Records
// are signed with our identity key.
func NewDHTOfferBook(d *dht.IpfsDHT, sk crypto.PrivKey) (*DHTOfferBook, error) {
	return newDHTOfferBook(d, func() bool { return d.RoutingTable().Size() > 0 }, sk)
}

func newDHTOfferBook(store valueStore, bootstrapped func() bool, sk crypto.PrivKey) (*DHTOfferBook, error) {
	self, err := peer.IDFromPrivateKey(sk)
	if err != nil {
		return nil, err
	}
	return &DHTOfferBook{
		store:        store,
		bootstrapped: bootstrapped,
		sk:           sk,
		self:         self,
		offers:       make(map[string]*models.PublicOffer),
	}, nil
}

func currencyKey(currency models.CurrencyCode) (cid.Cid, error) {
	return cid.NewPrefixV1(cid.Raw, mh.SHA2_256).Sum([]byte("/offerbook/" + currency.String()))
}

// AddOffer publishes the offer record and announces us as a maker in its
// currency.
func (b *DHTOfferBook) AddOffer(ctx context.Context, offer *models.PublicOffer) error {
	if offer.Offer.MakerPeerID != b.self.Pretty() {
		return errors.New("can only publish our own offers")
	}
	if !b.IsBootstrapped() {
		return ErrNotBootstrapped
	}
	if err := b.putOffer(ctx, offer); err != nil {
		return err
	}

	b.mtx.Lock()
	b.offers[offer.Offer.ID] = offer
	b.dirty = true
	b.mtx.Unlock()

	return b.provide(ctx, offer.Offer.Currency)
}

// RemoveOffer replaces the offer record with a tombstone.
func (b *DHTOfferBook) RemoveOffer(ctx context.Context, offerID string) error {
	b.mtx.Lock()
	_, ok := b.offers[offerID]
	delete(b.offers, offerID)
	if ok {
		b.dirty = true
	}
	b.mtx.Unlock()

	rec := &offerRecord{
		OfferID:     offerID,
		MakerPeerID: b.self.Pretty(),
		Removed:     true,
		Sequence:    nextSequence(),
	}
	value, err := signRecord(b.sk, rec)
	if err != nil {
		return err
	}
	return b.store.PutValue(ctx, offerKey(offerID), value)
}

// RefreshOffer puts the offer record again with a new sequence number.
func (b *DHTOfferBook) RefreshOffer(ctx context.Context, offerID string) error {
	b.mtx.Lock()
	offer, ok := b.offers[offerID]
	b.mtx.Unlock()
	if !ok {
		return ErrOfferNotFound
	}
	if !b.IsBootstrapped() {
		return ErrNotBootstrapped
	}
	if err := b.putOffer(ctx, offer); err != nil {
		return err
	}
	return b.provide(ctx, offer.Offer.Currency)
}

func (b *DHTOfferBook) putOffer(ctx context.Context, offer *models.PublicOffer) error {
	rec := &offerRecord{
		OfferID:     offer.Offer.ID,
		MakerPeerID: b.self.Pretty(),
		Offer:       offer,
		Sequence:    nextSequence(),
	}
	value, err := signRecord(b.sk, rec)
	if err != nil {
		return err
	}
	return b.store.PutValue(ctx, offerKey(offer.Offer.ID), value)
}

func (b *DHTOfferBook) provide(ctx context.Context, currency models.CurrencyCode) error {
	key, err := currencyKey(currency)
	if err != nil {
		return err
	}
	return b.store.Provide(ctx, key, true)
}

// Flush writes our offer index if it changed.
func (b *DHTOfferBook) Flush(ctx context.Context) error {
	b.mtx.Lock()
	if !b.dirty {
		b.mtx.Unlock()
		return nil
	}
	rec := &indexRecord{
		MakerPeerID: b.self.Pretty(),
		OfferIDs:    make([]string, 0, len(b.offers)),
		Sequence:    nextSequence(),
	}
	for id := range b.offers {
		rec.OfferIDs = append(rec.OfferIDs, id)
	}
	b.dirty = false
	b.mtx.Unlock()

	value, err := signRecord(b.sk, rec)
	if err == nil {
		err = b.store.PutValue(ctx, indexKey(b.self), value)
	}
	if err != nil {
		b.mtx.Lock()
		b.dirty = true
		b.mtx.Unlock()
	}
	return err
}

// GetOffers looks up the makers providing the currency and loads their
// live offers. Our own offers are always included.
func (b *DHTOfferBook) GetOffers(ctx context.Context, currency models.CurrencyCode) ([]*models.PublicOffer, error) {
	key, err := currencyKey(currency)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var ret []*models.PublicOffer

	b.mtx.Lock()
	for id, o := range b.offers {
		if o.Offer.Currency == currency {
			seen[id] = true
			ret = append(ret, o)
		}
	}
	b.mtx.Unlock()

	if !b.IsBootstrapped() {
		return ret, nil
	}

	ctx, cancel := context.WithTimeout(ctx, getTimeout)
	defer cancel()

	for pi := range b.store.FindProvidersAsync(ctx, key, maxProviders) {
		if pi.ID == b.self {
			continue
		}
		offers, err := b.makerOffers(ctx, pi.ID)
		if err != nil {
			log.Debugf("Error loading offers of %s: %s", pi.ID, err)
			continue
		}
		for _, o := range offers {
			if seen[o.Offer.ID] || o.Offer.Currency != currency {
				continue
			}
			seen[o.Offer.ID] = true
			ret = append(ret, o)
		}
	}
	return ret, nil
}

func (b *DHTOfferBook) makerOffers(ctx context.Context, maker peer.ID) ([]*models.PublicOffer, error) {
	key := indexKey(maker)
	value, err := b.store.GetValue(ctx, key)
	if err != nil {
		return nil, err
	}
	index, err := parseIndexRecord(key, value)
	if err != nil {
		return nil, err
	}
	var ret []*models.PublicOffer
	for _, id := range index.OfferIDs {
		key := offerKey(id)
		value, err := b.store.GetValue(ctx, key)
		if err != nil {
			log.Debugf("Error loading offer %s: %s", id, err)
			continue
		}
		rec, err := parseOfferRecord(key, value)
		if err != nil || rec.Removed || rec.MakerPeerID != maker.Pretty() {
			continue
		}
		ret = append(ret, rec.Offer)
	}
	return ret, nil
}

// IsBootstrapped returns whether the DHT routing table has peers.
func (b *DHTOfferBook) IsBootstrapped() bool {
	return b.bootstrapped()
}
