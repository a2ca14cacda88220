package trade

import (
	"github.com/cpacia/xmrescrow/models"
	"github.com/cpacia/xmrescrow/trade/pb"
	"github.com/pkg/errors"
)

var (
	prepareMultisig        = Task{Name: "PrepareMultisig", Run: runPrepareMultisig}
	applyInitMultisigReq   = Task{Name: "ApplyInitMultisigRequest", Run: runApplyInitMultisigRequest}
	applyInitMultisigResp  = Task{Name: "ApplyInitMultisigResponse", Run: runApplyInitMultisigResponse}
	advanceMultisig        = Task{Name: "AdvanceMultisig", Run: runAdvanceMultisig}
	importPeerMultisig     = Task{Name: "ImportPeerMultisig", Run: runImportPeerMultisig}
	sendUpdateMultisigResp = Task{Name: "SendUpdateMultisigResponse", Run: runSendUpdateMultisigResponse}
	requestMultisigUpdate  = Task{Name: "RequestMultisigUpdate", Run: runRequestMultisigUpdate}
)

func runPrepareMultisig(pm *ProcessModel) error {
	t := pm.Trade
	self := t.Self()
	first := self.PreparedMultisigHex == ""

	prepared, err := pm.Wallet().PrepareMultisig(t.ID)
	if err != nil {
		return err
	}
	if err := setOnce(&self.PreparedMultisigHex, prepared); err != nil {
		return errors.Wrap(ErrMultisigMismatch, "prepared hex changed")
	}
	pm.Advance(models.StateMultisigPrepared)

	// The arbitrator's prepared hex travels in its PrepareMultisigRequest.
	if first && !t.IsArbitrator() {
		return pm.SendToOthers(pb.TradeMessage_INIT_MULTISIG_REQUEST, &pb.InitMultisigRequest{
			PreparedMultisigHex: prepared,
		})
	}
	return nil
}

func runApplyInitMultisigRequest(pm *ProcessModel) error {
	req, ok := pm.Body.(*pb.InitMultisigRequest)
	if !ok {
		return ErrUnexpectedMessage
	}
	rec, err := pm.Trade.Peer(pm.SenderRole)
	if err != nil {
		return err
	}
	for _, f := range []struct {
		dst *string
		v   string
	}{
		{&rec.PreparedMultisigHex, req.PreparedMultisigHex},
		{&rec.MadeMultisigHex, req.MadeMultisigHex},
		{&rec.ExchangedMultisigHex, req.ExchangedMultisigHex},
	} {
		if err := setOnce(f.dst, f.v); err != nil {
			return errors.Wrapf(ErrMultisigMismatch, "from %s", pm.SenderRole)
		}
	}
	return nil
}

func runApplyInitMultisigResponse(pm *ProcessModel) error {
	resp, ok := pm.Body.(*pb.InitMultisigResponse)
	if !ok {
		return ErrUnexpectedMessage
	}
	rec, err := pm.Trade.Peer(pm.SenderRole)
	if err != nil {
		return err
	}
	if err := setOnce(&rec.MultisigAddress, resp.MultisigAddress); err != nil {
		return errors.Wrapf(ErrMultisigMismatch, "%s reported a new address", pm.SenderRole)
	}
	if addr := pm.State().MultisigAddress; addr != "" && addr != resp.MultisigAddress {
		return errors.Wrapf(ErrMultisigMismatch, "%s address %s", pm.SenderRole, resp.MultisigAddress)
	}
	return nil
}

// otherPeers returns the records of the two other parties.
func otherPeers(t *models.Trade) []*models.TradingPeer {
	var peers []*models.TradingPeer
	for _, role := range t.OtherRoles() {
		rec, _ := t.Peer(role)
		peers = append(peers, rec)
	}
	return peers
}

// runAdvanceMultisig runs every multisig round whose inputs are now
// available. Each produced round is sent to both other parties along with
// the earlier rounds so a lost message is repaired by the next one.
func runAdvanceMultisig(pm *ProcessModel) error {
	t := pm.Trade
	self := t.Self()
	if self.PreparedMultisigHex == "" {
		return nil
	}
	peers := otherPeers(t)

	if self.MadeMultisigHex == "" {
		var prepared []string
		for _, p := range peers {
			if p.PreparedMultisigHex == "" {
				return nil
			}
			prepared = append(prepared, p.PreparedMultisigHex)
		}
		made, err := pm.Wallet().MakeMultisig(t.ID, prepared)
		if err != nil {
			return err
		}
		self.MadeMultisigHex = made
		err = pm.SendToOthers(pb.TradeMessage_INIT_MULTISIG_REQUEST, &pb.InitMultisigRequest{
			PreparedMultisigHex: self.PreparedMultisigHex,
			MadeMultisigHex:     made,
		})
		if err != nil {
			return err
		}
		pm.Advance(models.StateMultisigMade)
	}

	if self.ExchangedMultisigHex == "" {
		var made []string
		for _, p := range peers {
			if p.MadeMultisigHex == "" {
				return nil
			}
			made = append(made, p.MadeMultisigHex)
		}
		res, err := pm.Wallet().ExchangeMultisigKeys(t.ID, made)
		if err != nil {
			return err
		}
		self.ExchangedMultisigHex = res.ExchangedHex
		self.MultisigAddress = res.Address
		pm.State().MultisigAddress = res.Address
		err = pm.SendToOthers(pb.TradeMessage_INIT_MULTISIG_REQUEST, &pb.InitMultisigRequest{
			PreparedMultisigHex:  self.PreparedMultisigHex,
			MadeMultisigHex:      self.MadeMultisigHex,
			ExchangedMultisigHex: res.ExchangedHex,
		})
		if err != nil {
			return err
		}
		pm.Advance(models.StateMultisigExchanged)
	}

	if pm.State().MultisigSetupComplete {
		return nil
	}
	if t.IsArbitrator() {
		// Complete once both traders reported the address we derived.
		for _, p := range peers {
			if p.MultisigAddress == "" {
				return nil
			}
			if p.MultisigAddress != self.MultisigAddress {
				return errors.Wrapf(ErrMultisigMismatch, "trader reported %s", p.MultisigAddress)
			}
		}
	} else {
		for _, p := range peers {
			if p.ExchangedMultisigHex == "" {
				return nil
			}
		}
		err := pm.Send(models.RoleArbitrator, pb.TradeMessage_INIT_MULTISIG_RESPONSE, &pb.InitMultisigResponse{
			MultisigAddress: self.MultisigAddress,
		})
		if err != nil {
			return err
		}
	}
	pm.State().MultisigSetupComplete = true
	pm.Advance(models.StateMultisigCompleted)
	log.Infof("Trade %s: multisig wallet %s created", t.ID, self.MultisigAddress)

	if t.Role == models.RoleMaker {
		return requestContractSignature(pm)
	}
	return nil
}

func runImportPeerMultisig(pm *ProcessModel) error {
	var hex string
	switch body := pm.Body.(type) {
	case *pb.UpdateMultisigRequest:
		hex = body.UpdatedMultisigHex
	case *pb.UpdateMultisigResponse:
		hex = body.UpdatedMultisigHex
	default:
		return ErrUnexpectedMessage
	}
	rec, err := pm.Trade.Peer(pm.SenderRole)
	if err != nil {
		return err
	}
	if _, err := pm.Wallet().ImportMultisigHex(pm.Trade.ID, []string{hex}); err != nil {
		return err
	}
	rec.UpdatedMultisigHex = hex
	return nil
}

func runSendUpdateMultisigResponse(pm *ProcessModel) error {
	hex, err := pm.Wallet().ExportMultisigHex(pm.Trade.ID)
	if err != nil {
		return err
	}
	pm.Trade.Self().UpdatedMultisigHex = hex
	return pm.Send(pm.SenderRole, pb.TradeMessage_UPDATE_MULTISIG_RESPONSE, &pb.UpdateMultisigResponse{
		UpdatedMultisigHex: hex,
	})
}

// runRequestMultisigUpdate has the buyer send its multisig info to the
// seller once the deposits unlock. It is repeated whenever the exported
// info changes until the seller answers.
func runRequestMultisigUpdate(pm *ProcessModel) error {
	t := pm.Trade
	if !t.IsBuyer() || t.State != models.StateDepositTxsUnlockedInBlockchain {
		return nil
	}
	hex, err := pm.Wallet().ExportMultisigHex(t.ID)
	if err != nil {
		return err
	}
	self := t.Self()
	if hex == self.UpdatedMultisigHex {
		return nil
	}
	self.UpdatedMultisigHex = hex
	return pm.Send(t.SellerRole(), pb.TradeMessage_UPDATE_MULTISIG_REQUEST, &pb.UpdateMultisigRequest{
		UpdatedMultisigHex: hex,
	})
}
