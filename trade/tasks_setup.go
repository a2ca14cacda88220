package trade

import (
	"bytes"
	"encoding/json"

	"github.com/cpacia/xmrescrow/database"
	"github.com/cpacia/xmrescrow/models"
	"github.com/cpacia/xmrescrow/trade/pb"
	"github.com/cpacia/xmrescrow/wallet"
	"github.com/libp2p/go-libp2p-core/crypto"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/pkg/errors"
)

var (
	checkOffer                 = Task{Name: "CheckOffer", Run: runCheckOffer}
	setPayoutInfo              = Task{Name: "SetPayoutInfo", Run: runSetPayoutInfo}
	reserveFunds               = Task{Name: "ReserveFunds", Run: runReserveFunds}
	reserveOpenOffer           = Task{Name: "ReserveOpenOffer", Run: runReserveOpenOffer}
	loadSignedOffer            = Task{Name: "LoadSignedOffer", Run: runLoadSignedOffer}
	verifySignedReserve        = Task{Name: "VerifySignedReserve", Run: runVerifySignedReserve}
	applyInitTradeRequest      = Task{Name: "ApplyInitTradeRequest", Run: runApplyInitTradeRequest}
	sendInitTradeRequest       = Task{Name: "SendInitTradeRequest", Run: runSendInitTradeRequest}
	forwardInitTradeRequest    = Task{Name: "ForwardInitTradeRequest", Run: runForwardInitTradeRequest}
	sendPrepareMultisigRequest = Task{Name: "SendPrepareMultisigRequest", Run: runSendPrepareMultisigRequest}
	applyPrepareMultisigReq    = Task{Name: "ApplyPrepareMultisigRequest", Run: runApplyPrepareMultisigRequest}
)

// advanceTo moves the trade to s once the preceding tasks succeeded.
func advanceTo(s models.TradeState) Task {
	return Task{
		Name: "AdvanceTo" + s.String(),
		Run: func(pm *ProcessModel) error {
			pm.Advance(s)
			return nil
		},
	}
}

// verifyReserveTx checks the reserve transaction of the trader with the
// given role covers its fee, deposit and, for the seller, the amount.
func verifyReserveTx(role models.TradeRole) Task {
	return Task{
		Name: "VerifyReserveTx",
		Run: func(pm *ProcessModel) error {
			t := pm.Trade
			rec, err := t.Peer(role)
			if err != nil {
				return err
			}
			if rec.ReserveTxHash == "" {
				return errors.Wrapf(ErrPrecondition, "%s reserve tx missing", role)
			}
			stx := &wallet.SignedTx{
				Hash:      rec.ReserveTxHash,
				Hex:       rec.ReserveTxHex,
				Key:       rec.ReserveTxKey,
				KeyImages: rec.ReserveTxKeyImages,
			}
			return pm.Wallet().VerifyReserveTx(stx, t.Offer.ReserveAmount(role, t.Amount))
		},
	}
}

func runCheckOffer(pm *ProcessModel) error {
	t := pm.Trade
	if err := t.Offer.Validate(); err != nil {
		return err
	}
	if t.Offer.ID != t.ID {
		return ErrWrongTrade
	}
	if pm.svc.Filter != nil {
		if err := pm.svc.Filter.ValidateOffer(&t.Offer); err != nil {
			return err
		}
	}
	if t.Offer.ProtocolVersion != pm.svc.Config.protocolVersion() {
		return errors.Errorf("offer protocol version %d not supported", t.Offer.ProtocolVersion)
	}
	if t.Amount == 0 || t.Amount < t.Offer.MinAmount || t.Amount > t.Offer.Amount {
		return errors.Wrapf(ErrInvalidAmount, "%d not in [%d, %d]", t.Amount, t.Offer.MinAmount, t.Offer.Amount)
	}
	if t.Price != t.Offer.Price.String() {
		return errors.Errorf("price %s does not match offer price %s", t.Price, t.Offer.Price)
	}
	return nil
}

func runSetPayoutInfo(pm *ProcessModel) error {
	t := pm.Trade
	self := t.Self()

	pubkey, err := crypto.MarshalPublicKey(pm.svc.Identity.GetPublic())
	if err != nil {
		return err
	}
	self.Pubkey = pubkey

	if self.PayoutAddress == "" {
		addr, err := pm.Wallet().NewAddress()
		if err != nil {
			return err
		}
		self.PayoutAddress = addr.String()
	}
	if t.IsArbitrator() {
		return nil
	}

	var acct models.PaymentAccount
	err = pm.svc.DB.View(func(tx database.Tx) error {
		return tx.Read().Where("id = ?", self.PaymentAccountID).First(&acct).Error
	})
	if err != nil {
		return errors.Wrapf(err, "payment account %s", self.PaymentAccountID)
	}
	if acct.Method != t.Offer.PaymentMethod {
		return errors.Errorf("payment account %s does not support %s", acct.ID, t.Offer.PaymentMethod)
	}
	payload, err := json.Marshal(&acct)
	if err != nil {
		return err
	}
	self.PaymentAccountPayload = payload
	self.PaymentAccountHash = acct.Hash()
	self.SecurityDeposit = t.Offer.SecurityDeposit(t.FundsRole)
	return nil
}

func runReserveFunds(pm *ProcessModel) error {
	t := pm.Trade
	stx, err := pm.Wallet().CreateReserveTx(t.Offer.ReserveAmount(t.Role, t.Amount))
	if err != nil {
		return err
	}
	self := t.Self()
	self.ReserveTxHash = stx.Hash
	self.ReserveTxHex = stx.Hex
	self.ReserveTxKey = stx.Key
	self.ReserveTxKeyImages = stx.KeyImages
	pm.reserved = true
	return nil
}

func runReserveOpenOffer(pm *ProcessModel) error {
	if pm.svc.OpenOffers == nil {
		return ErrOfferUnavailable
	}
	t := pm.Trade
	oo, err := pm.svc.OpenOffers.ReserveOffer(t.ID)
	if err != nil {
		return errors.Wrap(ErrOfferUnavailable, err.Error())
	}
	pm.reserved = true

	t.Offer = oo.Offer
	t.FundsRole = oo.Offer.MakerFundsRole()
	t.Maker.PaymentAccountID = oo.Offer.PaymentAccountID
	t.Maker.ReserveTxHash = oo.ReserveTxHash
	t.Maker.ReserveTxHex = oo.ReserveTxHex
	t.Maker.ReserveTxKey = oo.ReserveTxKey
	t.Maker.ReserveTxKeyImages = oo.ReserveTxKeyImages
	return nil
}

func loadSignedOfferRecord(db database.Database, offerID string) (*models.SignedOffer, error) {
	var so models.SignedOffer
	err := db.View(func(tx database.Tx) error {
		return tx.Read().Where("offer_id = ?", offerID).First(&so).Error
	})
	if err != nil {
		return nil, errors.Wrapf(ErrOfferUnavailable, "offer %s was not signed by us", offerID)
	}
	return &so, nil
}

func runLoadSignedOffer(pm *ProcessModel) error {
	t := pm.Trade
	so, err := loadSignedOfferRecord(pm.svc.DB, t.ID)
	if err != nil {
		return err
	}
	if so.MakerPeerID != t.Maker.PeerID || so.Offer.ArbitratorPeerID != t.Arbitrator.PeerID {
		return errors.Wrap(ErrUnknownSender, "offer parties do not match request")
	}
	t.Offer = so.Offer
	return nil
}

func runVerifySignedReserve(pm *ProcessModel) error {
	t := pm.Trade
	so, err := loadSignedOfferRecord(pm.svc.DB, t.ID)
	if err != nil {
		return err
	}
	if so.ReserveTxHash != t.Maker.ReserveTxHash {
		return errors.Wrap(ErrConflictingData, "maker reserve tx differs from the signed offer")
	}
	return nil
}

// initTradeRequest builds a request carrying everything known about the
// trade so far.
func initTradeRequest(t *models.Trade) *pb.InitTradeRequest {
	req := &pb.InitTradeRequest{
		OfferID:                 t.ID,
		Amount:                  t.Amount,
		Price:                   t.Price,
		MakerPeerID:             t.Maker.PeerID,
		TakerPeerID:             t.Taker.PeerID,
		ArbitratorPeerID:        t.Arbitrator.PeerID,
		TakerPubkey:             t.Taker.Pubkey,
		TakerPaymentAccountID:   t.Taker.PaymentAccountID,
		TakerPaymentAccountHash: t.Taker.PaymentAccountHash,
		TakerPayoutAddress:      t.Taker.PayoutAddress,
		MakerPubkey:             t.Maker.Pubkey,
		MakerPaymentAccountID:   t.Maker.PaymentAccountID,
		MakerPaymentAccountHash: t.Maker.PaymentAccountHash,
		MakerPayoutAddress:      t.Maker.PayoutAddress,
	}
	if t.Taker.ReserveTxHash != "" {
		req.TakerReserveTx = &pb.ReserveTx{
			Hash:      t.Taker.ReserveTxHash,
			Hex:       t.Taker.ReserveTxHex,
			Key:       t.Taker.ReserveTxKey,
			KeyImages: t.Taker.ReserveTxKeyImages,
		}
	}
	if t.Maker.ReserveTxHash != "" {
		req.MakerReserveTx = &pb.ReserveTx{
			Hash:      t.Maker.ReserveTxHash,
			Hex:       t.Maker.ReserveTxHex,
			Key:       t.Maker.ReserveTxKey,
			KeyImages: t.Maker.ReserveTxKeyImages,
		}
	}
	return req
}

// checkRequestTerms makes sure a request is about this trade and these
// parties.
func checkRequestTerms(t *models.Trade, req *pb.InitTradeRequest) error {
	if req.OfferID != t.ID {
		return ErrWrongTrade
	}
	if req.MakerPeerID != t.Maker.PeerID || req.TakerPeerID != t.Taker.PeerID || req.ArbitratorPeerID != t.Arbitrator.PeerID {
		return errors.Wrap(ErrUnknownSender, "trade parties do not match")
	}
	if t.Amount == 0 {
		t.Amount, t.Price = req.Amount, req.Price
		return nil
	}
	if req.Amount != t.Amount || req.Price != t.Price {
		return errors.Wrap(ErrConflictingData, "trade amount or price changed")
	}
	return nil
}

// applyRequestFields copies the fields of the trader with the given role
// out of the request.
func applyRequestFields(t *models.Trade, req *pb.InitTradeRequest, role models.TradeRole) error {
	var (
		pubkey      []byte
		accountID   string
		accountHash []byte
		payout      string
		reserve     *pb.ReserveTx
	)
	switch role {
	case models.RoleMaker:
		pubkey, accountID, accountHash, payout, reserve = req.MakerPubkey, req.MakerPaymentAccountID, req.MakerPaymentAccountHash, req.MakerPayoutAddress, req.MakerReserveTx
	case models.RoleTaker:
		pubkey, accountID, accountHash, payout, reserve = req.TakerPubkey, req.TakerPaymentAccountID, req.TakerPaymentAccountHash, req.TakerPayoutAddress, req.TakerReserveTx
	default:
		return models.ErrInvalidRole
	}
	if reserve == nil || reserve.Hash == "" || payout == "" || len(accountHash) == 0 {
		return errors.Wrapf(ErrPrecondition, "%s fields missing from trade request", role)
	}

	rec, err := t.Peer(role)
	if err != nil {
		return err
	}
	if err := checkPubkey(rec.PeerID, pubkey); err != nil {
		return err
	}
	if len(rec.Pubkey) > 0 && !bytes.Equal(rec.Pubkey, pubkey) {
		return errors.Wrapf(ErrConflictingData, "%s pubkey", role)
	}
	if len(rec.PaymentAccountHash) > 0 && !bytes.Equal(rec.PaymentAccountHash, accountHash) {
		return errors.Wrapf(ErrConflictingData, "%s payment account", role)
	}
	if err := setOnce(&rec.PayoutAddress, payout); err != nil {
		return err
	}
	if err := setOnce(&rec.ReserveTxHash, reserve.Hash); err != nil {
		return err
	}
	rec.Pubkey = pubkey
	rec.PaymentAccountID = accountID
	rec.PaymentAccountHash = accountHash
	rec.ReserveTxHex = reserve.Hex
	rec.ReserveTxKey = reserve.Key
	rec.ReserveTxKeyImages = reserve.KeyImages
	rec.SecurityDeposit = t.Offer.SecurityDeposit(t.FundsRoleFor(role))
	return nil
}

// checkPubkey verifies the key belongs to the peer ID.
func checkPubkey(peerID string, pubkey []byte) error {
	pub, err := crypto.UnmarshalPublicKey(pubkey)
	if err != nil {
		return errors.Wrap(ErrUnknownSender, err.Error())
	}
	id, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return errors.Wrap(ErrUnknownSender, err.Error())
	}
	if id.Pretty() != peerID {
		return errors.Wrap(ErrUnknownSender, "pubkey does not match peer ID")
	}
	return nil
}

// setOnce sets dst to v. Empty values are ignored and a populated field
// may only be set to the same value again.
func setOnce(dst *string, v string) error {
	if v == "" {
		return nil
	}
	if *dst != "" && *dst != v {
		return ErrConflictingData
	}
	*dst = v
	return nil
}

func runApplyInitTradeRequest(pm *ProcessModel) error {
	req, ok := pm.Body.(*pb.InitTradeRequest)
	if !ok {
		return ErrUnexpectedMessage
	}
	t := pm.Trade
	if err := checkRequestTerms(t, req); err != nil {
		return err
	}
	// The maker receives the taker's request by way of the arbitrator.
	role := pm.SenderRole
	if role == models.RoleArbitrator {
		role = models.RoleTaker
	}
	return applyRequestFields(t, req, role)
}

func runSendInitTradeRequest(pm *ProcessModel) error {
	return pm.Send(models.RoleArbitrator, pb.TradeMessage_INIT_TRADE_REQUEST, initTradeRequest(pm.Trade))
}

func runForwardInitTradeRequest(pm *ProcessModel) error {
	return pm.Send(models.RoleMaker, pb.TradeMessage_INIT_TRADE_REQUEST, initTradeRequest(pm.Trade))
}

func runSendPrepareMultisigRequest(pm *ProcessModel) error {
	t := pm.Trade
	self := t.Self()
	if self.PreparedMultisigHex == "" || self.PayoutAddress == "" {
		return errors.Wrap(ErrPrecondition, "multisig not prepared")
	}
	req := &pb.PrepareMultisigRequest{
		PreparedMultisigHex: self.PreparedMultisigHex,
		TradeFeeAddress:     self.PayoutAddress,
		TradeRequest:        initTradeRequest(t),
	}
	for _, role := range []models.TradeRole{models.RoleMaker, models.RoleTaker} {
		if err := pm.Send(role, pb.TradeMessage_PREPARE_MULTISIG_REQUEST, req); err != nil {
			return err
		}
	}
	return nil
}

func runApplyPrepareMultisigRequest(pm *ProcessModel) error {
	req, ok := pm.Body.(*pb.PrepareMultisigRequest)
	if !ok {
		return ErrUnexpectedMessage
	}
	if req.PreparedMultisigHex == "" || req.TradeFeeAddress == "" || req.TradeRequest == nil {
		return errors.Wrap(ErrPrecondition, "incomplete prepare multisig request")
	}
	t := pm.Trade
	if err := checkRequestTerms(t, req.TradeRequest); err != nil {
		return err
	}

	// Our own fields must come back unchanged.
	self := t.Self()
	reserve, payout := req.TradeRequest.TakerReserveTx, req.TradeRequest.TakerPayoutAddress
	if t.Role == models.RoleMaker {
		reserve, payout = req.TradeRequest.MakerReserveTx, req.TradeRequest.MakerPayoutAddress
	}
	if reserve == nil || reserve.Hash != self.ReserveTxHash || payout != self.PayoutAddress {
		return errors.Wrapf(ErrConflictingData, "%s terms changed", t.Role)
	}
	if err := applyRequestFields(t, req.TradeRequest, t.Counterparty()); err != nil {
		return err
	}
	if err := setOnce(&t.Arbitrator.PreparedMultisigHex, req.PreparedMultisigHex); err != nil {
		return errors.Wrap(ErrMultisigMismatch, "arbitrator prepared hex")
	}
	return setOnce(&t.Arbitrator.PayoutAddress, req.TradeFeeAddress)
}
