package offer

import (
	"context"
	"sync"
	"time"

	"github.com/cpacia/xmrescrow/database"
	"github.com/cpacia/xmrescrow/models"
	"github.com/sony/gobreaker"
	"go.uber.org/ratelimit"
)

const (
	bookOpTimeout = time.Second * 30

	// republishRate caps offer book writes per second during a bulk
	// republish.
	republishRate = 10
)

// Republisher keeps our posted offers in the offer book. Offers are
// refreshed every RefreshInterval and put again in full every
// RepublishInterval. Failed operations are retried with exponential
// backoff and every book call goes through a circuit breaker.
type Republisher struct {
	book    OfferBook
	db      database.Database
	cfg     *Config
	breaker *gobreaker.CircuitBreaker
	limiter ratelimit.Limiter
	metrics *offerMetrics

	mtx     sync.Mutex
	pending map[string]bool // offer ID -> true to add, false to remove
	backoff time.Duration
	retry   *time.Timer

	trigger chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewRepublisher returns a Republisher for the offers saved in the public
// data directory of db.
func NewRepublisher(book OfferBook, db database.Database, cfg *Config) *Republisher {
	r := &Republisher{
		book:    book,
		db:      db,
		cfg:     cfg,
		limiter: ratelimit.New(republishRate),
		metrics: managerMetrics(),
		pending: make(map[string]bool),
		trigger: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "offerbook",
		Timeout: cfg.refreshInterval() / 2,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			switch {
			case to == gobreaker.StateOpen:
				log.Warning("Offer book seems down, pausing offer publishing")
				r.metrics.breaker.Set(1)
			case from == gobreaker.StateHalfOpen && to == gobreaker.StateClosed:
				log.Info("Offer book is back, resuming offer publishing")
				r.metrics.breaker.Set(0)
			}
		},
	})
	return r
}

// Start runs the refresh and republish loop until Stop is called.
func (r *Republisher) Start() {
	r.wg.Add(1)
	go r.run()
}

func (r *Republisher) run() {
	defer r.wg.Done()

	if r.republishDue() {
		r.republishAll()
	}

	refreshTicker := time.NewTicker(r.cfg.refreshInterval())
	republishTicker := time.NewTicker(r.cfg.republishInterval())
	defer refreshTicker.Stop()
	defer republishTicker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-refreshTicker.C:
			r.refreshAll()
		case <-republishTicker.C:
			r.republishAll()
		case <-r.trigger:
			r.retryPending()
		}
	}
}

// Stop ends the loop. Offers stay in the book until Withdraw or
// WithdrawAll removes them.
func (r *Republisher) Stop() {
	close(r.done)
	r.mtx.Lock()
	if r.retry != nil {
		r.retry.Stop()
	}
	r.mtx.Unlock()
	r.wg.Wait()
}

// Publish adds the offer to the book, retrying in the background on
// failure.
func (r *Republisher) Publish(offer *models.PublicOffer) {
	err := r.call("add", func(ctx context.Context) error {
		return r.book.AddOffer(ctx, offer)
	})
	if err == nil {
		err = r.flush()
	}
	r.settle(offer.Offer.ID, true, err)
}

// Withdraw removes the offer from the book, retrying in the background on
// failure.
func (r *Republisher) Withdraw(offerID string) {
	err := r.call("remove", func(ctx context.Context) error {
		return r.book.RemoveOffer(ctx, offerID)
	})
	if err == nil {
		err = r.flush()
	}
	r.settle(offerID, false, err)
}

// WithdrawAll removes every posted offer from the book and flushes it
// without waiting for batching. It bypasses the circuit breaker so a
// shutdown always makes the attempt.
func (r *Republisher) WithdrawAll(ctx context.Context) error {
	offers, err := r.postedOffers()
	if err != nil {
		return err
	}
	for _, o := range offers {
		if err := r.book.RemoveOffer(ctx, o.Offer.ID); err != nil {
			log.Errorf("Error removing offer %s from the offer book: %s", o.Offer.ID, err)
		}
	}
	return r.book.Flush(ctx)
}

// call runs fn through the circuit breaker. ErrOfferNotFound does not
// count against the book.
func (r *Republisher) call(op string, fn func(ctx context.Context) error) error {
	var notFound bool
	_, err := r.breaker.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), bookOpTimeout)
		defer cancel()
		err := fn(ctx)
		if err == ErrOfferNotFound {
			notFound = true
			return nil, nil
		}
		return nil, err
	})
	if notFound {
		err = ErrOfferNotFound
	}
	r.metrics.bookOps.WithLabelValues(op, resultLabel(err)).Inc()
	return err
}

func (r *Republisher) flush() error {
	return r.call("flush", r.book.Flush)
}

// settle records the outcome of an add or remove. A failure is queued
// for the retry loop.
func (r *Republisher) settle(offerID string, add bool, err error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if err == nil {
		if cur, ok := r.pending[offerID]; ok && cur == add {
			delete(r.pending, offerID)
		}
		return
	}
	op := "remove"
	if add {
		op = "add"
	}
	log.Warningf("Offer book %s of %s failed: %s", op, offerID, err)
	r.pending[offerID] = add
	r.scheduleRetry()
}

// scheduleRetry arms the retry timer. The mutex must be held.
func (r *Republisher) scheduleRetry() {
	if r.retry != nil {
		return
	}
	if r.backoff == 0 {
		r.backoff = r.cfg.minBackoff()
	}
	delay := r.backoff
	r.backoff *= 2
	if max := r.cfg.refreshInterval(); r.backoff > max {
		r.backoff = max
	}
	r.retry = time.AfterFunc(delay, func() {
		r.mtx.Lock()
		r.retry = nil
		r.mtx.Unlock()
		select {
		case r.trigger <- struct{}{}:
		default:
		}
	})
}

func (r *Republisher) retryPending() {
	r.mtx.Lock()
	work := make(map[string]bool, len(r.pending))
	for id, add := range r.pending {
		work[id] = add
	}
	r.mtx.Unlock()
	if len(work) == 0 {
		return
	}
	if !r.book.IsBootstrapped() {
		log.Debug("Offer book not bootstrapped, postponing retries")
		r.mtx.Lock()
		r.scheduleRetry()
		r.mtx.Unlock()
		return
	}

	failed := false
	for id, add := range work {
		var err error
		if add {
			var offer *models.PublicOffer
			offer, err = r.postedOffer(id)
			if err != nil {
				// No longer posted.
				r.settle(id, true, nil)
				continue
			}
			err = r.call("add", func(ctx context.Context) error {
				return r.book.AddOffer(ctx, offer)
			})
		} else {
			err = r.call("remove", func(ctx context.Context) error {
				return r.book.RemoveOffer(ctx, id)
			})
		}
		if err != nil {
			failed = true
			log.Debugf("Offer book retry of %s failed: %s", id, err)
			continue
		}
		r.settle(id, add, nil)
	}
	if err := r.flush(); err != nil {
		failed = true
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()
	if failed || len(r.pending) > 0 {
		r.scheduleRetry()
		return
	}
	r.backoff = 0
}

func (r *Republisher) refreshAll() {
	if !r.book.IsBootstrapped() {
		log.Debug("Offer book not bootstrapped, skipping refresh")
		return
	}
	offers, err := r.postedOffers()
	if err != nil {
		log.Errorf("Error loading posted offers: %s", err)
		return
	}
	for _, o := range offers {
		id := o.Offer.ID
		err := r.call("refresh", func(ctx context.Context) error {
			return r.book.RefreshOffer(ctx, id)
		})
		if err == ErrOfferNotFound {
			offer := o
			err = r.call("add", func(ctx context.Context) error {
				return r.book.AddOffer(ctx, offer)
			})
		}
		if err != nil {
			r.settle(id, true, err)
		}
	}
	if err := r.flush(); err != nil {
		log.Warningf("Error flushing offer book: %s", err)
	}
	r.recordEvent(models.EventOffersRefreshed)
}

// republishAll puts every posted offer again, rate limited.
func (r *Republisher) republishAll() {
	if !r.book.IsBootstrapped() {
		log.Debug("Offer book not bootstrapped, skipping republish")
		return
	}
	offers, err := r.postedOffers()
	if err != nil {
		log.Errorf("Error loading posted offers: %s", err)
		return
	}
	for _, o := range offers {
		offer := o
		r.limiter.Take()
		err := r.call("add", func(ctx context.Context) error {
			return r.book.AddOffer(ctx, offer)
		})
		r.settle(offer.Offer.ID, true, err)
	}
	if err := r.flush(); err != nil {
		log.Warningf("Error flushing offer book: %s", err)
	}
	log.Infof("Republished %d offers", len(offers))
	r.recordEvent(models.EventOffersRepublished)
}

// republishDue returns whether the last republish is older than the
// republish interval.
func (r *Republisher) republishDue() bool {
	var last models.Event
	err := r.db.View(func(tx database.Tx) error {
		return tx.Read().Where("name = ?", models.EventOffersRepublished).First(&last).Error
	})
	if err != nil {
		return true
	}
	return time.Since(last.Time) >= r.cfg.republishInterval()
}

func (r *Republisher) recordEvent(name string) {
	err := r.db.Update(func(tx database.Tx) error {
		return tx.Save(&models.Event{Name: name, Time: time.Now()})
	})
	if err != nil {
		log.Errorf("Error recording %s: %s", name, err)
	}
}

func (r *Republisher) postedOffers() ([]*models.PublicOffer, error) {
	var offers []*models.PublicOffer
	err := r.db.View(func(tx database.Tx) error {
		index, err := tx.GetOfferIndex()
		if err != nil {
			return err
		}
		for _, id := range index {
			o, err := tx.GetPublicOffer(id)
			if err != nil {
				log.Warningf("Error loading posted offer %s: %s", id, err)
				continue
			}
			offers = append(offers, o)
		}
		return nil
	})
	return offers, err
}

func (r *Republisher) postedOffer(offerID string) (*models.PublicOffer, error) {
	var offer *models.PublicOffer
	err := r.db.View(func(tx database.Tx) error {
		var err error
		offer, err = tx.GetPublicOffer(offerID)
		return err
	})
	return offer, err
}
