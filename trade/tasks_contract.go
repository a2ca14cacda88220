package trade

import (
	"bytes"
	"encoding/json"

	"github.com/cpacia/xmrescrow/models"
	"github.com/cpacia/xmrescrow/trade/pb"
	"github.com/libp2p/go-libp2p-core/crypto"
	"github.com/pkg/errors"
)

var (
	verifyContract         = Task{Name: "VerifyContract", Run: runVerifyContract}
	signContract           = Task{Name: "SignContract", Run: runSignContract}
	verifyContractResponse = Task{Name: "VerifyContractResponse", Run: runVerifyContractResponse}
)

// contractFor serializes and hashes the contract as we see it.
func contractFor(t *models.Trade) ([]byte, []byte, error) {
	c := models.NewContract(t)
	ser, err := c.Serialize()
	if err != nil {
		return nil, nil, err
	}
	hash, err := c.Hash()
	if err != nil {
		return nil, nil, err
	}
	return ser, hash, nil
}

func verifyPeerSignature(rec *models.TradingPeer, data, sig []byte) error {
	pub, err := crypto.UnmarshalPublicKey(rec.Pubkey)
	if err != nil {
		return errors.Wrap(ErrInvalidSignature, err.Error())
	}
	valid, err := pub.Verify(data, sig)
	if err != nil {
		return errors.Wrap(ErrInvalidSignature, err.Error())
	}
	if !valid {
		return ErrInvalidSignature
	}
	return nil
}

// verifyPaymentAccount checks the revealed payment account against the
// hash committed to in the trade request.
func verifyPaymentAccount(rec *models.TradingPeer, payload []byte) error {
	var acct models.PaymentAccount
	if err := json.Unmarshal(payload, &acct); err != nil {
		return errors.Wrap(ErrContractMismatch, "malformed payment account")
	}
	if !bytes.Equal(acct.Hash(), rec.PaymentAccountHash) {
		return errors.Wrap(ErrContractMismatch, "payment account hash")
	}
	rec.PaymentAccountPayload = payload
	return nil
}

// requestContractSignature is run by the maker once the multisig wallet
// is complete.
func requestContractSignature(pm *ProcessModel) error {
	t := pm.Trade
	ser, hash, err := contractFor(t)
	if err != nil {
		return err
	}
	sig, err := pm.svc.Identity.Sign(hash)
	if err != nil {
		return err
	}
	pm.State().ContractJSON = ser
	pm.State().ContractHash = hash
	t.Maker.ContractSignature = sig

	err = pm.Send(models.RoleTaker, pb.TradeMessage_SIGN_CONTRACT_REQUEST, &pb.SignContractRequest{
		ContractJSON:          ser,
		Signature:             sig,
		PaymentAccountPayload: t.Maker.PaymentAccountPayload,
	})
	if err != nil {
		return err
	}
	pm.Advance(models.StateContractSignatureRequested)
	return nil
}

func runVerifyContract(pm *ProcessModel) error {
	req, ok := pm.Body.(*pb.SignContractRequest)
	if !ok {
		return ErrUnexpectedMessage
	}
	t := pm.Trade
	ser, hash, err := contractFor(t)
	if err != nil {
		return err
	}
	if !bytes.Equal(ser, req.ContractJSON) {
		return ErrContractMismatch
	}
	if err := verifyPeerSignature(&t.Maker, hash, req.Signature); err != nil {
		return err
	}
	if err := verifyPaymentAccount(&t.Maker, req.PaymentAccountPayload); err != nil {
		return err
	}
	t.Maker.ContractSignature = req.Signature
	pm.State().ContractJSON = ser
	pm.State().ContractHash = hash
	return nil
}

func runSignContract(pm *ProcessModel) error {
	t := pm.Trade
	hash := pm.State().ContractHash
	if len(hash) == 0 {
		return errors.Wrap(ErrPrecondition, "no contract to sign")
	}
	sig, err := pm.svc.Identity.Sign(hash)
	if err != nil {
		return err
	}
	t.Taker.ContractSignature = sig

	err = pm.Send(models.RoleMaker, pb.TradeMessage_SIGN_CONTRACT_RESPONSE, &pb.SignContractResponse{
		ContractHash:          hash,
		Signature:             sig,
		PaymentAccountPayload: t.Taker.PaymentAccountPayload,
	})
	if err != nil {
		return err
	}
	pm.Advance(models.StateContractSigned)
	return nil
}

func runVerifyContractResponse(pm *ProcessModel) error {
	resp, ok := pm.Body.(*pb.SignContractResponse)
	if !ok {
		return ErrUnexpectedMessage
	}
	t := pm.Trade
	if !bytes.Equal(resp.ContractHash, pm.State().ContractHash) {
		return ErrContractMismatch
	}
	if err := verifyPeerSignature(&t.Taker, resp.ContractHash, resp.Signature); err != nil {
		return err
	}
	if err := verifyPaymentAccount(&t.Taker, resp.PaymentAccountPayload); err != nil {
		return err
	}
	t.Taker.ContractSignature = resp.Signature
	pm.Advance(models.StateContractSigned)
	return nil
}
