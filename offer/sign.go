package offer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cpacia/xmrescrow/database"
	"github.com/cpacia/xmrescrow/events"
	"github.com/cpacia/xmrescrow/models"
	npb "github.com/cpacia/xmrescrow/net/pb"
	"github.com/cpacia/xmrescrow/wallet"
	"github.com/golang/protobuf/proto"
	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/pkg/errors"
)

// requestSignature sends the offer and its reserve transaction to the
// arbitrator and waits for the signature over the offer hash. The
// request is a direct message and is not retried.
func (m *Manager) requestSignature(oo *models.OpenOffer, stx *wallet.SignedTx) (sig []byte, err error) {
	defer func() {
		m.metrics.signatures.WithLabelValues("maker", resultLabel(err)).Inc()
	}()

	arbitrator, err := peer.Decode(oo.Offer.ArbitratorPeerID)
	if err != nil {
		return nil, errors.Wrap(ErrNoArbitrator, err.Error())
	}
	ser, err := json.Marshal(oo.Offer)
	if err != nil {
		return nil, err
	}
	payload, err := proto.Marshal(&npb.SignOfferRequest{
		OfferID:            oo.OfferID,
		Offer:              ser,
		ReserveTxHash:      stx.Hash,
		ReserveTxHex:       stx.Hex,
		ReserveTxKey:       stx.Key,
		ReserveTxKeyImages: stx.KeyImages,
	})
	if err != nil {
		return nil, err
	}
	message := &npb.Message{
		MessageID:   uuid.New().String(),
		MessageType: npb.Message_SIGN_OFFER_REQUEST,
		Payload:     payload,
	}

	sub, err := m.svc.Bus.Subscribe(new(events.OfferSignResponse), events.MatchFieldValue("OfferID", oo.OfferID))
	if err != nil {
		return nil, err
	}
	defer sub.Close()

	timeout := m.svc.Config.signTimeout()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	go func() {
		if err := m.svc.Network.SendMessage(ctx, arbitrator, message); err != nil {
			log.Warningf("Error sending sign request for offer %s: %s", oo.OfferID, err)
		}
	}()

	hash, err := oo.Offer.Hash()
	if err != nil {
		return nil, err
	}
	for {
		select {
		case e := <-sub.Out():
			resp := e.(*events.OfferSignResponse)
			// Only the offer's arbitrator may answer.
			if resp.PeerID != arbitrator.Pretty() {
				continue
			}
			if resp.Error != "" {
				return nil, errors.Wrap(ErrSignatureRefused, resp.Error)
			}
			pubkey, err := arbitrator.ExtractPublicKey()
			if err != nil {
				return nil, err
			}
			valid, err := pubkey.Verify(hash, resp.Signature)
			if err != nil || !valid {
				return nil, models.ErrInvalidSignature
			}
			return resp.Signature, nil
		case <-time.After(timeout):
			return nil, ErrNoResponse
		case <-ctx.Done():
			return nil, ErrNoResponse
		}
	}
}

// HandleSignOfferRequest is the arbitrator's handler for the
// SIGN_OFFER_REQUEST message. It verifies the maker's reserve
// transaction, signs the offer and records it. A refusal is answered
// with the reason.
func (m *Manager) HandleSignOfferRequest(from peer.ID, message *npb.Message) error {
	if message.MessageType != npb.Message_SIGN_OFFER_REQUEST {
		return errors.New("message is not type SIGN_OFFER_REQUEST")
	}
	req := new(npb.SignOfferRequest)
	if err := proto.Unmarshal(message.Payload, req); err != nil {
		return err
	}

	sig, signErr := m.signOffer(from, req)
	m.metrics.signatures.WithLabelValues("arbitrator", resultLabel(signErr)).Inc()

	resp := &npb.SignOfferResponse{
		OfferID:   req.OfferID,
		Signature: sig,
	}
	if signErr != nil {
		log.Warningf("Refused to sign offer %s from %s: %s", req.OfferID, from, signErr)
		resp.ErrorMessage = signErr.Error()
	} else {
		log.Infof("Signed offer %s for %s", req.OfferID, from)
	}
	payload, err := proto.Marshal(resp)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.svc.Config.signTimeout())
	defer cancel()
	return m.svc.Network.SendMessage(ctx, from, &npb.Message{
		MessageID:   uuid.New().String(),
		MessageType: npb.Message_SIGN_OFFER_RESPONSE,
		Payload:     payload,
	})
}

func (m *Manager) signOffer(from peer.ID, req *npb.SignOfferRequest) ([]byte, error) {
	if !m.svc.Config.Arbitrator {
		return nil, errors.New("not an arbitrator")
	}
	var offer models.Offer
	if err := json.Unmarshal(req.Offer, &offer); err != nil {
		return nil, errors.Wrap(models.ErrInvalidOffer, err.Error())
	}
	if err := offer.Validate(); err != nil {
		return nil, err
	}
	switch {
	case offer.ID != req.OfferID:
		return nil, errors.Wrap(models.ErrInvalidOffer, "offer ID mismatch")
	case offer.ArbitratorPeerID != m.svc.PeerID.Pretty():
		return nil, errors.Wrap(models.ErrInvalidOffer, "offer names another arbitrator")
	case offer.MakerPeerID != from.Pretty():
		return nil, errors.Wrap(models.ErrInvalidOffer, "sender is not the maker")
	}
	if m.svc.Filter != nil {
		if err := m.svc.Filter.ValidateOffer(&offer); err != nil {
			return nil, err
		}
	}

	amount := offer.ReserveAmount(models.RoleMaker, offer.Amount)
	stx := &wallet.SignedTx{
		Hash:      req.ReserveTxHash,
		Hex:       req.ReserveTxHex,
		Key:       req.ReserveTxKey,
		KeyImages: req.ReserveTxKeyImages,
	}
	if err := m.svc.Wallet.VerifyReserveTx(stx, amount); err != nil {
		return nil, err
	}

	hash, err := offer.Hash()
	if err != nil {
		return nil, err
	}
	sig, err := m.svc.Identity.Sign(hash)
	if err != nil {
		return nil, err
	}

	signed := &models.SignedOffer{
		OfferID:             offer.ID,
		MakerPeerID:         offer.MakerPeerID,
		ReserveTxHash:       req.ReserveTxHash,
		ReserveTxHex:        req.ReserveTxHex,
		ReserveTxKey:        req.ReserveTxKey,
		ReserveAmount:       amount,
		ArbitratorSignature: sig,
		Offer:               offer,
		ReserveTxKeyImages:  req.ReserveTxKeyImages,
		Timestamp:           time.Now(),
	}
	err = m.svc.DB.Update(func(tx database.Tx) error {
		return tx.Save(signed)
	})
	if err != nil {
		return nil, err
	}
	return sig, nil
}

// HandleSignOfferResponse is the handler for the SIGN_OFFER_RESPONSE
// message. The waiting request picks it up from the bus.
func (m *Manager) HandleSignOfferResponse(from peer.ID, message *npb.Message) error {
	if message.MessageType != npb.Message_SIGN_OFFER_RESPONSE {
		return errors.New("message is not type SIGN_OFFER_RESPONSE")
	}
	resp := new(npb.SignOfferResponse)
	if err := proto.Unmarshal(message.Payload, resp); err != nil {
		return err
	}
	m.svc.Bus.Emit(&events.OfferSignResponse{
		PeerID:    from.Pretty(),
		OfferID:   resp.OfferID,
		Signature: resp.Signature,
		Error:     resp.ErrorMessage,
	})
	return nil
}

// SignedOffers returns the offers this arbitrator signed for a maker.
func (m *Manager) SignedOffers(maker peer.ID) ([]models.SignedOffer, error) {
	var offers []models.SignedOffer
	err := m.svc.DB.View(func(tx database.Tx) error {
		return tx.Read().Where("maker_peer_id = ?", maker.Pretty()).Find(&offers).Error
	})
	return offers, err
}
