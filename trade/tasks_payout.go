package trade

import (
	iwallet "github.com/cpacia/wallet-interface"
	"github.com/cpacia/xmrescrow/events"
	"github.com/cpacia/xmrescrow/models"
	"github.com/cpacia/xmrescrow/trade/pb"
	"github.com/cpacia/xmrescrow/wallet"
	"github.com/pkg/errors"
)

var (
	createPayoutTx       = Task{Name: "CreatePayoutTx", Run: runCreatePayoutTx}
	sendPaymentSent      = Task{Name: "SendPaymentSent", Run: runSendPaymentSent}
	verifyPayoutTx       = Task{Name: "VerifyPayoutTx", Run: runVerifyPayoutTx}
	signAndPublishPayout = Task{Name: "SignAndPublishPayout", Run: runSignAndPublishPayout}
	sendPaymentReceived  = Task{Name: "SendPaymentReceived", Run: runSendPaymentReceived}
	applyPayout          = Task{Name: "ApplyPayout", Run: runApplyPayout}
	updatePayoutState    = Task{Name: "UpdatePayoutState", Run: runUpdatePayoutState}
)

// payoutOutputs returns the outputs of a payout that follows the trade
// terms. The seller gets its deposit back and the buyer gets the amount
// plus its deposit. The network fee is paid out of the last output.
func payoutOutputs(t *models.Trade) []wallet.PayoutOutput {
	var outs []wallet.PayoutOutput
	if d := t.Offer.SellerSecurityDeposit; d > 0 {
		outs = append(outs, wallet.PayoutOutput{Address: t.Seller().PayoutAddress, Amount: d})
	}
	return append(outs, wallet.PayoutOutput{
		Address: t.Buyer().PayoutAddress,
		Amount:  t.Amount + t.Offer.BuyerSecurityDeposit,
	})
}

func runCreatePayoutTx(pm *ProcessModel) error {
	t := pm.Trade
	if t.Seller().UpdatedMultisigHex == "" {
		return errors.Wrap(ErrPrecondition, "seller multisig info not imported")
	}
	hex, err := pm.Wallet().CreatePayoutTx(t.ID, payoutOutputs(t))
	if err != nil {
		return err
	}
	pm.State().PayoutTxHex = hex
	pm.Advance(models.StateBuyerConfirmedInUIPaymentSent)
	return nil
}

func runSendPaymentSent(pm *ProcessModel) error {
	t := pm.Trade
	hex, err := pm.Wallet().ExportMultisigHex(t.ID)
	if err != nil {
		return err
	}
	t.Self().UpdatedMultisigHex = hex
	err = pm.Send(t.SellerRole(), pb.TradeMessage_PAYMENT_SENT, &pb.PaymentSentMessage{
		PayoutTxHex:        pm.State().PayoutTxHex,
		UpdatedMultisigHex: hex,
	})
	if err != nil {
		return err
	}
	pm.Advance(models.StateBuyerSentPaymentSentMsg)
	return nil
}

// runVerifyPayoutTx checks the buyer's payout pays the seller exactly
// and adds nothing beyond the trade terms.
func runVerifyPayoutTx(pm *ProcessModel) error {
	msg, ok := pm.Body.(*pb.PaymentSentMessage)
	if !ok {
		return ErrUnexpectedMessage
	}
	t := pm.Trade
	outs, err := pm.Wallet().DescribePayoutTx(msg.PayoutTxHex)
	if err != nil {
		return errors.Wrap(ErrInvalidPayout, err.Error())
	}
	expected := payoutOutputs(t)
	if len(outs) != len(expected) {
		return errors.Wrapf(ErrInvalidPayout, "%d outputs, expected %d", len(outs), len(expected))
	}
	var total, expectedTotal uint64
	for i, o := range outs {
		if o.Address != expected[i].Address {
			return errors.Wrapf(ErrInvalidPayout, "output %d pays %s", i, o.Address)
		}
		if o.Address == t.Seller().PayoutAddress && o.Amount != expected[i].Amount {
			return errors.Wrapf(ErrInvalidPayout, "seller output is %d, expected %d", o.Amount, expected[i].Amount)
		}
		total += o.Amount
		expectedTotal += expected[i].Amount
	}
	if total > expectedTotal {
		return errors.Wrapf(ErrInvalidPayout, "payout of %d exceeds %d", total, expectedTotal)
	}
	pm.State().PayoutTxHex = msg.PayoutTxHex
	t.Buyer().UpdatedMultisigHex = msg.UpdatedMultisigHex
	return nil
}

func runSignAndPublishPayout(pm *ProcessModel) error {
	t := pm.Trade
	if hex := t.Buyer().UpdatedMultisigHex; hex != "" {
		if _, err := pm.Wallet().ImportMultisigHex(t.ID, []string{hex}); err != nil {
			return err
		}
	}
	signed, err := pm.Wallet().SignMultisigTx(t.ID, pm.State().PayoutTxHex)
	if err != nil {
		return err
	}
	pm.Advance(models.StateSellerConfirmedInUIPaymentReceipt)

	txid, err := pm.Wallet().SubmitMultisigTx(t.ID, signed)
	if err != nil {
		return err
	}
	t.PayoutTxID = string(txid)
	pm.State().PayoutTxHex = signed
	pm.Advance(models.StateSellerPublishedPayoutTx)
	log.Infof("Trade %s: published payout %s", t.ID, txid)
	return nil
}

func runSendPaymentReceived(pm *ProcessModel) error {
	t := pm.Trade
	err := pm.Send(t.BuyerRole(), pb.TradeMessage_PAYMENT_RECEIVED, &pb.PaymentReceivedMessage{
		PayoutTxID:        t.PayoutTxID,
		SignedPayoutTxHex: pm.State().PayoutTxHex,
	})
	if err != nil {
		return err
	}
	err = pm.Send(models.RoleArbitrator, pb.TradeMessage_PAYOUT_TX_PUBLISHED, &pb.PayoutTxPublishedMessage{
		PayoutTxID:        t.PayoutTxID,
		SignedPayoutTxHex: pm.State().PayoutTxHex,
	})
	if err != nil {
		return err
	}
	pm.Advance(models.StateSellerSentPaymentReceivedMsg)
	return nil
}

// runApplyPayout records the seller's payout and relays it in case the
// seller's broadcast did not reach us.
func runApplyPayout(pm *ProcessModel) error {
	var txid, signed string
	switch msg := pm.Body.(type) {
	case *pb.PaymentReceivedMessage:
		txid, signed = msg.PayoutTxID, msg.SignedPayoutTxHex
	case *pb.PayoutTxPublishedMessage:
		txid, signed = msg.PayoutTxID, msg.SignedPayoutTxHex
	default:
		return ErrUnexpectedMessage
	}
	id, err := pm.Wallet().RelayTx(signed)
	if err != nil {
		return err
	}
	if string(id) != txid {
		return errors.Wrapf(ErrInvalidPayout, "payout id %s does not match %s", id, txid)
	}
	pm.Trade.PayoutTxID = txid
	pm.State().PayoutTxHex = signed
	return nil
}

// runUpdatePayoutState completes the trade once the payout confirms.
func runUpdatePayoutState(pm *ProcessModel) error {
	t := pm.Trade
	if t.PayoutTxID == "" {
		return nil
	}
	info, err := pm.Wallet().GetTransaction(iwallet.TransactionID(t.PayoutTxID))
	if err != nil {
		if errors.Cause(err) == wallet.ErrTxNotFound {
			return nil
		}
		return err
	}
	pm.Advance(models.StatePayoutPublished)
	if info.Confirmations == 0 {
		return nil
	}
	pm.Advance(models.StateTradeCompleted)
	t.Open = false
	pm.Emit(&events.TradeCompleted{TradeID: t.ID, PayoutTx: t.PayoutTxID})
	log.Infof("Trade %s completed", t.ID)
	return nil
}
