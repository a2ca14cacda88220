package trade

import (
	"bytes"

	iwallet "github.com/cpacia/wallet-interface"
	"github.com/cpacia/xmrescrow/models"
	"github.com/cpacia/xmrescrow/trade/pb"
	"github.com/cpacia/xmrescrow/wallet"
	"github.com/pkg/errors"
)

var (
	createDepositTx       = Task{Name: "CreateDepositTx", Run: runCreateDepositTx}
	sendDepositRequest    = Task{Name: "SendDepositRequest", Run: runSendDepositRequest}
	verifyDepositRequest  = Task{Name: "VerifyDepositRequest", Run: runVerifyDepositRequest}
	publishDepositTxs     = Task{Name: "PublishDepositTxs", Run: runPublishDepositTxs}
	applyDepositResponse  = Task{Name: "ApplyDepositResponse", Run: runApplyDepositResponse}
	sendDepositTxMessage  = Task{Name: "SendDepositTxMessage", Run: runSendDepositTxMessage}
	closeOpenOffer        = Task{Name: "CloseOpenOffer", Run: runCloseOpenOffer}
	applyDepositTxMessage = Task{Name: "ApplyDepositTxMessage", Run: runApplyDepositTxMessage}
	markDepositsConfirmed = Task{Name: "MarkDepositsConfirmed", Run: runMarkDepositsConfirmed}
	updateDepositState    = Task{Name: "UpdateDepositState", Run: runUpdateDepositState}
)

// depositTerms returns what the trader with the given role must pay into
// escrow: its security deposit, plus the trade amount for the seller,
// and its trade fee to the arbitrator.
func depositTerms(t *models.Trade, role models.TradeRole) (wallet.DepositTerms, error) {
	rec, err := t.Peer(role)
	if err != nil {
		return wallet.DepositTerms{}, err
	}
	funds := t.FundsRoleFor(role)
	amount := t.Offer.SecurityDeposit(funds)
	if funds == models.FundsRoleSeller {
		amount += t.Amount
	}
	fee := t.Offer.TakerFee
	if role == models.RoleMaker {
		fee = t.Offer.MakerFee
	}
	if t.ProcessModel.MultisigAddress == "" {
		return wallet.DepositTerms{}, errors.Wrap(ErrPrecondition, "multisig address unknown")
	}
	return wallet.DepositTerms{
		MultisigAddress: t.ProcessModel.MultisigAddress,
		Amount:          amount,
		FeeAddress:      t.Arbitrator.PayoutAddress,
		Fee:             fee,
		KeyImages:       rec.ReserveTxKeyImages,
	}, nil
}

func runCreateDepositTx(pm *ProcessModel) error {
	t := pm.Trade
	terms, err := depositTerms(t, t.Role)
	if err != nil {
		return err
	}
	stx, err := pm.Wallet().CreateDepositTx(terms)
	if err != nil {
		return err
	}
	self := t.Self()
	self.DepositTxHash = stx.Hash
	self.DepositTxHex = stx.Hex
	self.DepositTxKey = stx.Key
	return nil
}

func runSendDepositRequest(pm *ProcessModel) error {
	self := pm.Trade.Self()
	err := pm.Send(models.RoleArbitrator, pb.TradeMessage_DEPOSIT_REQUEST, &pb.DepositRequest{
		ContractSignature: self.ContractSignature,
		DepositTxHash:     self.DepositTxHash,
		DepositTxHex:      self.DepositTxHex,
		DepositTxKey:      self.DepositTxKey,
	})
	if err != nil {
		return err
	}
	pm.Advance(models.StateSentDepositRequest)
	return nil
}

func runVerifyDepositRequest(pm *ProcessModel) error {
	req, ok := pm.Body.(*pb.DepositRequest)
	if !ok {
		return ErrUnexpectedMessage
	}
	t := pm.Trade
	rec, err := t.Peer(pm.SenderRole)
	if err != nil {
		return err
	}
	ser, hash, err := contractFor(t)
	if err != nil {
		return err
	}
	if len(pm.State().ContractHash) == 0 {
		pm.State().ContractJSON = ser
		pm.State().ContractHash = hash
	} else if !bytes.Equal(pm.State().ContractHash, hash) {
		return ErrContractMismatch
	}
	if err := verifyPeerSignature(rec, hash, req.ContractSignature); err != nil {
		return err
	}

	terms, err := depositTerms(t, pm.SenderRole)
	if err != nil {
		return err
	}
	stx := &wallet.SignedTx{
		Hash: req.DepositTxHash,
		Hex:  req.DepositTxHex,
		Key:  req.DepositTxKey,
	}
	if err := pm.Wallet().VerifyDepositTx(stx, terms); err != nil {
		return err
	}
	if err := setOnce(&rec.DepositTxHash, req.DepositTxHash); err != nil {
		return errors.Wrapf(err, "%s deposit", pm.SenderRole)
	}
	rec.DepositTxHex = req.DepositTxHex
	rec.DepositTxKey = req.DepositTxKey
	rec.ContractSignature = req.ContractSignature

	received := 0
	for _, p := range []*models.TradingPeer{&t.Maker, &t.Taker} {
		if p.DepositTxHex != "" {
			received++
		}
	}
	pm.State().DepositRequestsReceived = received
	return nil
}

// runPublishDepositTxs relays both deposits once both requests are in.
func runPublishDepositTxs(pm *ProcessModel) error {
	t := pm.Trade
	if t.Maker.DepositTxHex == "" || t.Taker.DepositTxHex == "" {
		return nil
	}
	pm.Advance(models.StateArbitratorReceivedDepositRequests)

	makerID, err := pm.Wallet().RelayTx(t.Maker.DepositTxHex)
	if err != nil {
		return errors.Wrap(err, "relaying maker deposit")
	}
	takerID, err := pm.Wallet().RelayTx(t.Taker.DepositTxHex)
	if err != nil {
		return errors.Wrap(err, "relaying taker deposit")
	}
	t.MakerDepositTxID = string(makerID)
	t.TakerDepositTxID = string(takerID)
	log.Infof("Trade %s: published deposits %s and %s", t.ID, makerID, takerID)

	resp := &pb.DepositResponse{
		MakerDepositTxHash: t.MakerDepositTxID,
		TakerDepositTxHash: t.TakerDepositTxID,
	}
	for _, role := range []models.TradeRole{models.RoleMaker, models.RoleTaker} {
		if err := pm.Send(role, pb.TradeMessage_DEPOSIT_RESPONSE, resp); err != nil {
			return err
		}
	}
	pm.Advance(models.StateArbitratorPublishedDepositTxs)
	return nil
}

func runApplyDepositResponse(pm *ProcessModel) error {
	resp, ok := pm.Body.(*pb.DepositResponse)
	if !ok {
		return ErrUnexpectedMessage
	}
	if resp.ErrorMessage != "" {
		return errors.Wrap(ErrPeerRejected, resp.ErrorMessage)
	}
	t := pm.Trade
	own := resp.TakerDepositTxHash
	if t.Role == models.RoleMaker {
		own = resp.MakerDepositTxHash
	}
	if own != t.Self().DepositTxHash {
		return errors.Wrap(ErrConflictingData, "arbitrator reported a different deposit")
	}
	if err := setOnce(&t.Maker.DepositTxHash, resp.MakerDepositTxHash); err != nil {
		return err
	}
	if err := setOnce(&t.Taker.DepositTxHash, resp.TakerDepositTxHash); err != nil {
		return err
	}
	t.MakerDepositTxID = resp.MakerDepositTxHash
	t.TakerDepositTxID = resp.TakerDepositTxHash
	pm.Advance(models.StateArbitratorPublishedDepositTxs)
	return nil
}

func runSendDepositTxMessage(pm *ProcessModel) error {
	self := pm.Trade.Self()
	return pm.Send(pm.Trade.Counterparty(), pb.TradeMessage_DEPOSIT_TX, &pb.DepositTxMessage{
		DepositTxHash: self.DepositTxHash,
		DepositTxKey:  self.DepositTxKey,
	})
}

// runCloseOpenOffer takes the maker's offer off the book for good. A
// failure here must not undo the published deposits so it is only logged.
func runCloseOpenOffer(pm *ProcessModel) error {
	if pm.svc.OpenOffers == nil {
		return nil
	}
	if err := pm.svc.OpenOffers.CloseOffer(pm.Trade.ID); err != nil {
		log.Warningf("Trade %s: error closing offer: %s", pm.Trade.ID, err)
	}
	return nil
}

func runApplyDepositTxMessage(pm *ProcessModel) error {
	msg, ok := pm.Body.(*pb.DepositTxMessage)
	if !ok {
		return ErrUnexpectedMessage
	}
	t := pm.Trade
	rec, err := t.Peer(pm.SenderRole)
	if err != nil {
		return err
	}
	if err := setOnce(&rec.DepositTxHash, msg.DepositTxHash); err != nil {
		return err
	}
	rec.DepositTxKey = msg.DepositTxKey
	switch pm.SenderRole {
	case models.RoleMaker:
		if t.MakerDepositTxID == "" {
			t.MakerDepositTxID = msg.DepositTxHash
		}
	case models.RoleTaker:
		if t.TakerDepositTxID == "" {
			t.TakerDepositTxID = msg.DepositTxHash
		}
	}
	return nil
}

func runMarkDepositsConfirmed(pm *ProcessModel) error {
	rec, err := pm.Trade.Peer(pm.SenderRole)
	if err != nil {
		return err
	}
	rec.DepositsConfirmed = true
	return nil
}

// runUpdateDepositState moves the trade through the deposit states as
// the deposits are seen, confirmed and unlocked on chain.
func runUpdateDepositState(pm *ProcessModel) error {
	t := pm.Trade

	// A lost DepositResponse is recovered from the chain.
	if t.Phase == models.PhaseDepositRequested && !t.IsArbitrator() {
		self := t.Self()
		if self.DepositTxHash == "" {
			return nil
		}
		if _, err := pm.Wallet().GetTransaction(iwallet.TransactionID(self.DepositTxHash)); err != nil {
			if errors.Cause(err) == wallet.ErrTxNotFound {
				return nil
			}
			return err
		}
		if t.Role == models.RoleMaker {
			t.MakerDepositTxID = self.DepositTxHash
			if t.TakerDepositTxID == "" {
				t.TakerDepositTxID = t.Taker.DepositTxHash
			}
		} else {
			t.TakerDepositTxID = self.DepositTxHash
			if t.MakerDepositTxID == "" {
				t.MakerDepositTxID = t.Maker.DepositTxHash
			}
		}
		pm.Advance(models.StateArbitratorPublishedDepositTxs)
	}
	if t.Phase != models.PhaseDepositsPublished {
		return nil
	}

	ids := t.DepositTxIDs()
	if len(ids) < 2 {
		return nil
	}
	seen, confirmed, unlocked := true, true, true
	for _, id := range ids {
		info, err := pm.Wallet().GetTransaction(iwallet.TransactionID(id))
		if err != nil {
			if errors.Cause(err) == wallet.ErrTxNotFound {
				seen, confirmed, unlocked = false, false, false
				continue
			}
			return err
		}
		if pm.State().DepositConfirmations == nil {
			pm.State().DepositConfirmations = make(map[string]uint64)
		}
		if pm.State().DepositConfirmations[id] != info.Confirmations {
			pm.State().DepositConfirmations[id] = info.Confirmations
			pm.MarkChanged()
		}
		if info.Confirmations == 0 {
			confirmed = false
		}
		if !info.Unlocked {
			unlocked = false
		}
	}
	if seen {
		pm.Advance(models.StateDepositTxsSeenInNetwork)
	}
	if confirmed {
		pm.Advance(models.StateDepositTxsConfirmedInBlockchain)
	}
	if !unlocked {
		return nil
	}
	pm.Advance(models.StateDepositTxsUnlockedInBlockchain)
	log.Infof("Trade %s: deposits unlocked", t.ID)
	if t.IsArbitrator() {
		return nil
	}
	t.Self().DepositsConfirmed = true
	return pm.SendToOthers(pb.TradeMessage_DEPOSITS_CONFIRMED, &pb.DepositsConfirmedMessage{})
}
