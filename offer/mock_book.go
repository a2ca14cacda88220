package offer

import (
	"context"
	"sort"
	"sync"

	"github.com/cpacia/xmrescrow/models"
)

// MockOfferBook is an in-memory OfferBook. One instance can be shared by
// every node of a test network.
type MockOfferBook struct {
	mtx          sync.Mutex
	offers       map[string]*models.PublicOffer
	bootstrapped bool
	failures     int
	err          error
	calls        map[string]int
}

// NewMockOfferBook returns a bootstrapped, empty book.
func NewMockOfferBook() *MockOfferBook {
	return &MockOfferBook{
		offers:       make(map[string]*models.PublicOffer),
		bootstrapped: true,
		calls:        make(map[string]int),
	}
}

// SetBootstrapped sets the value IsBootstrapped returns.
func (b *MockOfferBook) SetBootstrapped(bootstrapped bool) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.bootstrapped = bootstrapped
}

// FailNext makes the next n write operations return err.
func (b *MockOfferBook) FailNext(n int, err error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.failures, b.err = n, err
}

// Calls returns how many times the named operation succeeded.
func (b *MockOfferBook) Calls(op string) int {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.calls[op]
}

// Has returns whether the offer is in the book.
func (b *MockOfferBook) Has(offerID string) bool {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	_, ok := b.offers[offerID]
	return ok
}

func (b *MockOfferBook) write(op string) error {
	if b.failures > 0 {
		b.failures--
		return b.err
	}
	b.calls[op]++
	return nil
}

func (b *MockOfferBook) AddOffer(ctx context.Context, offer *models.PublicOffer) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if !b.bootstrapped {
		return ErrNotBootstrapped
	}
	if err := b.write("add"); err != nil {
		return err
	}
	b.offers[offer.Offer.ID] = offer
	return nil
}

func (b *MockOfferBook) RemoveOffer(ctx context.Context, offerID string) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if err := b.write("remove"); err != nil {
		return err
	}
	delete(b.offers, offerID)
	return nil
}

func (b *MockOfferBook) RefreshOffer(ctx context.Context, offerID string) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if !b.bootstrapped {
		return ErrNotBootstrapped
	}
	if _, ok := b.offers[offerID]; !ok {
		return ErrOfferNotFound
	}
	return b.write("refresh")
}

func (b *MockOfferBook) GetOffers(ctx context.Context, currency models.CurrencyCode) ([]*models.PublicOffer, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	var ret []*models.PublicOffer
	for _, o := range b.offers {
		if o.Offer.Currency == currency {
			ret = append(ret, o)
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Offer.Date.Before(ret[j].Offer.Date) })
	return ret, nil
}

func (b *MockOfferBook) IsBootstrapped() bool {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.bootstrapped
}

func (b *MockOfferBook) Flush(ctx context.Context) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.write("flush")
}
