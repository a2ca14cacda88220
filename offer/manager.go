// Package offer manages the offers this node makes: funding them from the
// wallet, getting them signed by an arbitrator and keeping them in the
// shared offer book.
package offer

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cpacia/xmrescrow/database"
	"github.com/cpacia/xmrescrow/events"
	"github.com/cpacia/xmrescrow/models"
	npb "github.com/cpacia/xmrescrow/net/pb"
	"github.com/cpacia/xmrescrow/wallet"
	"github.com/google/uuid"
	"github.com/jinzhu/gorm"
	"github.com/libp2p/go-libp2p-core/crypto"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/op/go-logging"
	"github.com/pkg/errors"
)

var log = logging.MustGetLogger("OFFER")

const shutdownTimeout = time.Second * 10

// Sender delivers a direct message to an online peer.
type Sender interface {
	SendMessage(ctx context.Context, p peer.ID, message *npb.Message) error
}

// Filter rejects offers from banned peers or in banned currencies and
// payment methods.
type Filter interface {
	ValidatePeer(peerID string) error
	ValidateOffer(offer *models.Offer) error
}

// Services are the collaborators of the offer manager.
type Services struct {
	Wallet   wallet.Wallet
	DB       database.Database
	Bus      events.Bus
	Network  Sender
	Book     OfferBook
	Filter   Filter
	Identity crypto.PrivKey
	PeerID   peer.ID
	Config   *Config
}

// transitions lists the states each open offer state may move to.
var transitions = map[models.OpenOfferState][]models.OpenOfferState{
	models.OpenOfferScheduled:   {models.OpenOfferAvailable, models.OpenOfferDeactivated, models.OpenOfferCanceled},
	models.OpenOfferAvailable:   {models.OpenOfferReserved, models.OpenOfferDeactivated, models.OpenOfferCanceled},
	models.OpenOfferReserved:    {models.OpenOfferAvailable, models.OpenOfferClosed},
	models.OpenOfferDeactivated: {models.OpenOfferScheduled, models.OpenOfferAvailable, models.OpenOfferCanceled},
}

func canTransition(from, to models.OpenOfferState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Manager owns our open offers. Every state change is persisted and
// mirrored to the public data directory which the Republisher reads.
type Manager struct {
	svc         *Services
	republisher *Republisher
	metrics     *offerMetrics

	// mtx serializes state changes and scheduling runs.
	mtx sync.Mutex

	// lastUnlocked is only touched by balanceLoop after Start.
	lastUnlocked uint64
	sub          events.Subscription
	reschedule   chan struct{}
	done         chan struct{}
	wg           sync.WaitGroup
}

// NewManager returns a new offer manager.
func NewManager(svc *Services) (*Manager, error) {
	if svc.PeerID == "" && svc.Identity != nil {
		pid, err := peer.IDFromPrivateKey(svc.Identity)
		if err != nil {
			return nil, err
		}
		svc.PeerID = pid
	}
	if svc.Config == nil {
		svc.Config = &Config{}
	}
	return &Manager{
		svc:         svc,
		republisher: NewRepublisher(svc.Book, svc.DB, svc.Config),
		metrics:     managerMetrics(),
		reschedule:  make(chan struct{}, 1),
		done:        make(chan struct{}),
	}, nil
}

// Republisher returns the loop which keeps our posted offers in the
// offer book.
func (m *Manager) Republisher() *Republisher {
	return m.republisher
}

// Start schedules the saved offers, begins watching the wallet balance
// and starts the republisher.
func (m *Manager) Start() error {
	offers, err := m.ListOpenOffers()
	if err != nil {
		return err
	}
	for _, oo := range offers {
		m.metrics.moved("", oo.State)
	}

	if unlocked, err := m.svc.Wallet.UnlockedBalance(); err == nil {
		m.lastUnlocked = unlocked
	}
	if m.svc.Bus != nil {
		m.sub, err = m.svc.Bus.Subscribe(new(events.BalanceChanged))
		if err != nil {
			return err
		}
		m.wg.Add(2)
		go m.balanceLoop()
		go m.scheduleLoop()
	}

	if err := m.ScheduleOffers(); err != nil {
		log.Errorf("Error scheduling offers at startup: %s", err)
	}
	m.republisher.Start()
	return nil
}

// balanceLoop drains the balance events and wakes the scheduler every
// time the unlocked balance increases. Scheduling runs on its own
// goroutine so the bus never blocks on a pending sign request.
func (m *Manager) balanceLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case e, ok := <-m.sub.Out():
			if !ok {
				return
			}
			notif := e.(*events.BalanceChanged)
			increased := notif.UnlockedBalance > m.lastUnlocked
			m.lastUnlocked = notif.UnlockedBalance
			if !increased {
				continue
			}
			select {
			case m.reschedule <- struct{}{}:
			default:
			}
		}
	}
}

func (m *Manager) scheduleLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case <-m.reschedule:
			if err := m.ScheduleOffers(); err != nil {
				log.Errorf("Error scheduling offers: %s", err)
			}
		}
	}
}

// Shutdown removes every posted offer from the offer book, flushing it
// immediately, and then stops the manager. It must run before the
// network is torn down.
func (m *Manager) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := m.republisher.WithdrawAll(ctx); err != nil {
		log.Errorf("Error removing offers from the offer book: %s", err)
	}
	m.republisher.Stop()

	close(m.done)
	if m.sub != nil {
		m.sub.Close()
	}
	m.wg.Wait()
}

// PlaceOffer creates a new open offer from the terms in o and schedules
// it. The returned offer is either AVAILABLE or still SCHEDULED waiting on
// incoming funds. If the wallet cannot fund it the offer is canceled and
// the scheduling error is returned.
func (m *Manager) PlaceOffer(o models.Offer) (*models.OpenOffer, error) {
	o.ID = uuid.New().String()
	o.MakerPeerID = m.svc.PeerID.Pretty()
	o.ArbitratorPeerID = m.svc.Config.ArbitratorPeerID
	o.ProtocolVersion = m.svc.Config.protocolVersion()
	o.Date = time.Now().UTC().Truncate(time.Second)
	if m.svc.Identity != nil {
		pubkey, err := crypto.MarshalPublicKey(m.svc.Identity.GetPublic())
		if err != nil {
			return nil, err
		}
		o.MakerPubkey = pubkey
	}
	if o.ArbitratorPeerID == "" || o.ArbitratorPeerID == o.MakerPeerID {
		return nil, ErrNoArbitrator
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if m.svc.Filter != nil {
		if err := m.svc.Filter.ValidateOffer(&o); err != nil {
			return nil, err
		}
	}

	oo := &models.OpenOffer{
		OfferID:   o.ID,
		State:     models.OpenOfferScheduled,
		Offer:     o,
		Timestamp: time.Now(),
	}
	m.mtx.Lock()
	err := m.save(oo, "")
	m.mtx.Unlock()
	if err != nil {
		return nil, err
	}
	log.Infof("Placed offer %s to %s %d %s", o.ID, o.Direction, o.Amount, o.Currency)

	if err := m.ScheduleOffers(); err != nil {
		if serr := scheduleErrorFor(err, o.ID); serr != nil {
			return nil, serr
		}
		log.Warningf("Scheduling offers: %s", err)
	}
	return m.GetOpenOffer(o.ID)
}

// GetOpenOffer returns one of our open offers.
func (m *Manager) GetOpenOffer(offerID string) (*models.OpenOffer, error) {
	var oo *models.OpenOffer
	err := m.svc.DB.View(func(tx database.Tx) error {
		var err error
		oo, err = loadOffer(tx, offerID)
		return err
	})
	return oo, err
}

// ListOpenOffers returns all of our offers, oldest first.
func (m *Manager) ListOpenOffers() ([]models.OpenOffer, error) {
	var offers []models.OpenOffer
	err := m.svc.DB.View(func(tx database.Tx) error {
		return tx.Read().Order("timestamp asc").Find(&offers).Error
	})
	if err != nil && !gorm.IsRecordNotFoundError(err) {
		return nil, err
	}
	return offers, nil
}

// GetOffers returns the offers in the offer book for the currency,
// excluding those which fail the filter or the arbitrator signature.
func (m *Manager) GetOffers(ctx context.Context, currency models.CurrencyCode) ([]*models.PublicOffer, error) {
	offers, err := m.svc.Book.GetOffers(ctx, currency)
	if err != nil {
		return nil, err
	}
	ret := make([]*models.PublicOffer, 0, len(offers))
	for _, o := range offers {
		if m.svc.Filter != nil && m.svc.Filter.ValidateOffer(&o.Offer) != nil {
			continue
		}
		if err := o.VerifySignature(); err != nil {
			log.Debugf("Dropping offer %s with bad signature: %s", o.Offer.ID, err)
			continue
		}
		ret = append(ret, o)
	}
	sort.SliceStable(ret, func(i, j int) bool {
		return ret[i].Offer.Price.LessThan(ret[j].Offer.Price)
	})
	return ret, nil
}

// CancelOffer removes the offer for good and releases its funds.
func (m *Manager) CancelOffer(offerID string) error {
	return m.transition(offerID, models.OpenOfferCanceled, nil)
}

// DeactivateOffer takes the offer out of the offer book without
// releasing its reserve.
func (m *Manager) DeactivateOffer(offerID string) error {
	return m.transition(offerID, models.OpenOfferDeactivated, nil)
}

// ActivateOffer puts a deactivated offer back. Offers which were never
// signed go back to the scheduler.
func (m *Manager) ActivateOffer(offerID string) error {
	oo, err := m.GetOpenOffer(offerID)
	if err != nil {
		return err
	}
	if oo.State != models.OpenOfferDeactivated {
		return errors.Wrapf(ErrInvalidTransition, "%s to %s", oo.State, models.OpenOfferAvailable)
	}
	if len(oo.ArbitratorSignature) == 0 {
		if err := m.transition(offerID, models.OpenOfferScheduled, nil); err != nil {
			return err
		}
		return m.ScheduleOffers()
	}
	return m.transition(offerID, models.OpenOfferAvailable, nil)
}

// ReserveOffer moves an AVAILABLE offer to RESERVED when a taker engages
// it and returns the reserved offer.
func (m *Manager) ReserveOffer(offerID string) (*models.OpenOffer, error) {
	var reserved *models.OpenOffer
	err := m.transition(offerID, models.OpenOfferReserved, func(oo *models.OpenOffer) error {
		if oo.State != models.OpenOfferAvailable {
			return errors.Wrapf(ErrInvalidTransition, "offer %s is %s", offerID, oo.State)
		}
		reserved = oo
		return nil
	})
	return reserved, err
}

// UnreserveOffer returns a RESERVED offer to AVAILABLE after its trade
// failed.
func (m *Manager) UnreserveOffer(offerID string) error {
	return m.transition(offerID, models.OpenOfferAvailable, func(oo *models.OpenOffer) error {
		if oo.State != models.OpenOfferReserved {
			return errors.Wrapf(ErrInvalidTransition, "offer %s is %s", offerID, oo.State)
		}
		return nil
	})
}

// CloseOffer marks a RESERVED offer as CLOSED once its trade deposited.
func (m *Manager) CloseOffer(offerID string) error {
	return m.transition(offerID, models.OpenOfferClosed, nil)
}

// transition moves the offer to state under the manager lock. check, if
// set, runs against the current offer before the move.
func (m *Manager) transition(offerID string, to models.OpenOfferState, check func(oo *models.OpenOffer) error) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	oo, err := m.GetOpenOffer(offerID)
	if err != nil {
		return err
	}
	if check != nil {
		if err := check(oo); err != nil {
			return err
		}
	}
	if !canTransition(oo.State, to) {
		return errors.Wrapf(ErrInvalidTransition, "%s to %s", oo.State, to)
	}
	from := oo.State
	oo.State = to

	switch to {
	case models.OpenOfferCanceled:
		m.release(oo)
	case models.OpenOfferScheduled:
		oo.ScheduledTxHashes = nil
		oo.ScheduledAmount = 0
	}
	return m.save(oo, from)
}

// release thaws the outputs of the offer's reserve transaction.
func (m *Manager) release(oo *models.OpenOffer) {
	if len(oo.ReserveTxKeyImages) == 0 {
		return
	}
	if err := m.svc.Wallet.ThawOutputs(oo.ReserveTxKeyImages); err != nil {
		log.Errorf("Error releasing reserve of offer %s: %s", oo.OfferID, err)
	}
}

// save persists the offer and mirrors it into the public data. Offer
// book updates happen after commit. The manager lock must be held.
func (m *Manager) save(oo *models.OpenOffer, from models.OpenOfferState) error {
	var public *models.PublicOffer
	err := m.svc.DB.Update(func(tx database.Tx) error {
		if err := tx.Save(oo); err != nil {
			return err
		}
		if oo.IsPosted() {
			public = &models.PublicOffer{
				Offer:               oo.Offer,
				ArbitratorSignature: oo.ArbitratorSignature,
				ReserveTxHash:       oo.ReserveTxHash,
			}
			return tx.SetPublicOffer(public)
		}
		if _, err := tx.GetPublicOffer(oo.OfferID); err == nil {
			return tx.DeletePublicOffer(oo.OfferID)
		} else if !os.IsNotExist(errors.Cause(err)) {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.metrics.moved(from, oo.State)
	if from != oo.State {
		log.Infof("Offer %s: %s", oo.OfferID, oo.State)
		if m.svc.Bus != nil {
			m.svc.Bus.Emit(&events.OfferStateChanged{
				OfferID: oo.OfferID,
				State:   string(oo.State),
			})
		}
	}

	wasPosted := from == models.OpenOfferAvailable
	switch {
	case public != nil && !wasPosted:
		go m.publish(public)
	case public == nil && wasPosted:
		go m.withdraw(oo.OfferID)
	}
	return nil
}

func (m *Manager) publish(offer *models.PublicOffer) {
	m.republisher.Publish(offer)
	if m.svc.Bus != nil {
		m.svc.Bus.Emit(&events.OfferBookUpdated{OfferID: offer.Offer.ID})
	}
}

func (m *Manager) withdraw(offerID string) {
	m.republisher.Withdraw(offerID)
	if m.svc.Bus != nil {
		m.svc.Bus.Emit(&events.OfferBookUpdated{OfferID: offerID, Removed: true})
	}
}

func loadOffer(tx database.Tx, offerID string) (*models.OpenOffer, error) {
	var oo models.OpenOffer
	if err := tx.Read().Where("offer_id = ?", offerID).First(&oo).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, ErrOfferNotFound
		}
		return nil, err
	}
	return &oo, nil
}
