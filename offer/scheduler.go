package offer

import (
	"sort"

	"github.com/cpacia/xmrescrow/models"
	"github.com/cpacia/xmrescrow/wallet"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ScheduleOffers runs the funding scheduler over every SCHEDULED offer,
// oldest first. An offer the wallet can fund now is signed and posted.
// Otherwise it claims enough of the wallet's locked incoming transactions
// to fund it once they unlock. The claimed transactions alone must cover
// the offer. Offers which cannot be funded even then
// are canceled and their errors are returned together.
func (m *Manager) ScheduleOffers() error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	offers, err := m.ListOpenOffers()
	if err != nil {
		return err
	}
	var scheduled []*models.OpenOffer
	for i := range offers {
		if offers[i].State == models.OpenOfferScheduled {
			scheduled = append(scheduled, &offers[i])
		}
	}
	sort.SliceStable(scheduled, func(i, j int) bool {
		return scheduled[i].Timestamp.Before(scheduled[j].Timestamp)
	})

	var result error
	for _, oo := range scheduled {
		if err := m.scheduleOffer(oo, scheduled); err != nil {
			log.Warningf("Canceling offer %s: %s", oo.OfferID, err)
			m.release(oo)
			oo.State = models.OpenOfferCanceled
			if serr := m.save(oo, models.OpenOfferScheduled); serr != nil {
				log.Errorf("Error saving canceled offer %s: %s", oo.OfferID, serr)
			}
			result = multierror.Append(result, &ScheduleError{OfferID: oo.OfferID, Err: err})
		}
	}
	return result
}

// scheduleErrorFor picks the error of one offer out of the result of
// ScheduleOffers.
func scheduleErrorFor(err error, offerID string) *ScheduleError {
	merr, ok := err.(*multierror.Error)
	if !ok {
		return nil
	}
	for _, e := range merr.Errors {
		if serr, ok := e.(*ScheduleError); ok && serr.OfferID == offerID {
			return serr
		}
	}
	return nil
}

// scheduleOffer decides the fate of one offer. The manager lock must be
// held. scheduled holds every offer of this run so claims made earlier
// in the run are respected.
func (m *Manager) scheduleOffer(oo *models.OpenOffer, scheduled []*models.OpenOffer) error {
	required := oo.Offer.ReserveAmount(models.RoleMaker, oo.Offer.Amount)

	unlocked, err := m.svc.Wallet.UnlockedBalance()
	if err != nil {
		return err
	}
	if unlocked >= required {
		err := m.post(oo, required)
		if err == nil {
			return nil
		}
		if errors.Cause(err) != wallet.ErrInsufficientFunds {
			return err
		}
		log.Debugf("Offer %s: unlocked balance does not cover fees, scheduling", oo.OfferID)
	}

	balance, err := m.svc.Wallet.Balance()
	if err != nil {
		return err
	}
	var (
		alreadyScheduled uint64
		claimed          = make(map[string]bool)
	)
	for _, other := range scheduled {
		if other.OfferID == oo.OfferID || other.State != models.OpenOfferScheduled {
			continue
		}
		alreadyScheduled += other.ScheduledAmount
		for _, txid := range other.ScheduledTxHashes {
			claimed[txid] = true
		}
	}
	if balance < alreadyScheduled || balance-alreadyScheduled < required {
		return errors.Wrapf(ErrInsufficientFunds, "need %d, have %d with %d already scheduled", required, balance, alreadyScheduled)
	}

	locked, err := m.svc.Wallet.LockedTransactions()
	if err != nil {
		return err
	}
	sort.SliceStable(locked, func(i, j int) bool {
		return locked[i].Timestamp.Before(locked[j].Timestamp)
	})

	var (
		hashes []string
		amount uint64
	)
	for _, tx := range locked {
		if amount >= required {
			break
		}
		if claimed[string(tx.ID)] {
			continue
		}
		hashes = append(hashes, string(tx.ID))
		amount += tx.Amount
	}
	if amount < required {
		return errors.Wrapf(ErrInsufficientFunds, "locked transactions cover %d of %d", amount, required)
	}

	if sameHashes(hashes, oo.ScheduledTxHashes) && amount == oo.ScheduledAmount {
		return nil
	}
	oo.ScheduledTxHashes = hashes
	oo.ScheduledAmount = amount
	log.Infof("Offer %s scheduled against %d incoming transactions totaling %d", oo.OfferID, len(hashes), amount)
	return m.save(oo, models.OpenOfferScheduled)
}

// post reserves the funds for the offer, has the arbitrator sign it and
// makes it AVAILABLE. The reserve is released on failure. The manager
// lock must be held.
func (m *Manager) post(oo *models.OpenOffer, required uint64) error {
	stx, err := m.svc.Wallet.CreateReserveTx(required)
	if err != nil {
		return err
	}
	oo.ReserveTxHash = stx.Hash
	oo.ReserveTxHex = stx.Hex
	oo.ReserveTxKey = stx.Key
	oo.ReserveTxKeyImages = stx.KeyImages

	sig, err := m.requestSignature(oo, stx)
	if err != nil {
		return err
	}
	oo.ArbitratorSignature = sig
	oo.ScheduledTxHashes = nil
	oo.ScheduledAmount = 0
	oo.State = models.OpenOfferAvailable
	return m.save(oo, models.OpenOfferScheduled)
}

func sameHashes(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
