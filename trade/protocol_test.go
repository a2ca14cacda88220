package trade

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cpacia/xmrescrow/database"
	"github.com/cpacia/xmrescrow/events"
	"github.com/cpacia/xmrescrow/models"
	npb "github.com/cpacia/xmrescrow/net/pb"
	"github.com/cpacia/xmrescrow/repo"
	"github.com/cpacia/xmrescrow/trade/pb"
	"github.com/cpacia/xmrescrow/wallet"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/pkg/errors"
)

func TestProtocol_CompleteTrade(t *testing.T) {
	for _, direction := range []models.Direction{models.DirectionSell, models.DirectionBuy} {
		t.Run(string(direction), func(t *testing.T) {
			tn := newTestNetwork(t, Config{Timeout: time.Second * 10, ProtocolVersion: 1})
			offer := tn.postOffer(t, direction)
			id := offer.Offer.ID

			tr, err := tn.taker.mgr.TakeOffer(offer, testTradeAmount, accountID(tn.taker))
			if err != nil {
				t.Fatal(err)
			}
			if tr.State < models.StateInitTradeRequestSent {
				t.Errorf("expected state at least %s, got %s", models.StateInitTradeRequestSent, tr.State)
			}
			if _, err := tn.taker.mgr.TakeOffer(offer, testTradeAmount, accountID(tn.taker)); errors.Cause(err) != ErrTradeExists {
				t.Errorf("expected ErrTradeExists, got %v", err)
			}

			for _, n := range tn.nodes() {
				tn.waitForState(t, n, id, models.StateArbitratorPublishedDepositTxs)
			}
			if s := tn.maker.offers.state(id); s != models.OpenOfferClosed {
				t.Errorf("expected open offer %s, got %s", models.OpenOfferClosed, s)
			}

			var multisigAddr string
			for _, n := range tn.nodes() {
				tr := n.trade(t, id)
				if tr.ProcessModel.MultisigAddress == "" {
					t.Fatalf("%s has no multisig address", tr.Role)
				}
				if multisigAddr != "" && tr.ProcessModel.MultisigAddress != multisigAddr {
					t.Errorf("%s multisig address %s differs from %s", tr.Role, tr.ProcessModel.MultisigAddress, multisigAddr)
				}
				multisigAddr = tr.ProcessModel.MultisigAddress
				if len(tr.DepositTxIDs()) != 2 {
					t.Errorf("%s expected 2 deposit tx IDs, got %d", tr.Role, len(tr.DepositTxIDs()))
				}
			}

			tn.chain.GenerateBlock()
			buyer, seller := tn.buyerSeller(direction)
			tn.waitForState(t, buyer, id, models.StateMultisigUpdated)

			if err := seller.mgr.OnPaymentSent(id); err == nil {
				t.Error("seller must not be able to confirm payment sent")
			}
			if err := buyer.mgr.OnPaymentSent(id); err != nil {
				t.Fatal(err)
			}
			tn.waitForState(t, seller, id, models.StateSellerReceivedPaymentSentMsg)
			if err := seller.mgr.OnPaymentReceived(id); err != nil {
				t.Fatal(err)
			}
			tn.waitForState(t, buyer, id, models.StateBuyerReceivedPaymentReceivedMsg)
			tn.waitForState(t, tn.arbitrator, id, models.StatePayoutPublished)

			tn.chain.GenerateBlock()
			var payoutID string
			for _, n := range tn.nodes() {
				tr := tn.waitForState(t, n, id, models.StateTradeCompleted)
				if tr.Open {
					t.Errorf("%s trade still open", tr.Role)
				}
				if tr.Phase != models.PhaseCompleted {
					t.Errorf("%s expected phase %s, got %s", tr.Role, models.PhaseCompleted, tr.Phase)
				}
				if payoutID != "" && tr.PayoutTxID != payoutID {
					t.Errorf("%s payout %s differs from %s", tr.Role, tr.PayoutTxID, payoutID)
				}
				payoutID = tr.PayoutTxID
			}

			buyerFee, sellerFee := testTakerFee, testMakerFee
			if direction == models.DirectionBuy {
				buyerFee, sellerFee = testMakerFee, testTakerFee
			}
			checkBalance(t, "buyer", buyer.wallet, testFunding+testTradeAmount-buyerFee-2*wallet.MockTxFee)
			checkBalance(t, "seller", seller.wallet, testFunding-testTradeAmount-sellerFee-wallet.MockTxFee)
			checkBalance(t, "arbitrator", tn.arbitrator.wallet, testMakerFee+testTakerFee)

			tn.waitFor(t, "outgoing mailbox messages to clear", func() bool {
				for _, n := range tn.nodes() {
					if n.messenger.pending() > 0 {
						return false
					}
				}
				return true
			})
		})
	}
}

func checkBalance(t *testing.T, name string, w *wallet.MockWallet, expected uint64) {
	t.Helper()
	balance, err := w.Balance()
	if err != nil {
		t.Fatal(err)
	}
	if balance != expected {
		t.Errorf("%s expected balance %d, got %d", name, expected, balance)
	}
}

func TestProtocol_MailboxDelivery(t *testing.T) {
	tn := newTestNetwork(t, Config{Timeout: time.Second * 10, ProtocolVersion: 1})
	offer := tn.postOffer(t, models.DirectionSell)
	id := offer.Offer.ID

	if _, err := tn.taker.mgr.TakeOffer(offer, testTradeAmount, accountID(tn.taker)); err != nil {
		t.Fatal(err)
	}
	for _, n := range tn.nodes() {
		tn.waitForState(t, n, id, models.StateArbitratorPublishedDepositTxs)
	}
	tn.chain.GenerateBlock()
	tn.waitForState(t, tn.taker, id, models.StateMultisigUpdated)

	tn.router.setOnline(tn.maker.id, false)
	if err := tn.taker.mgr.OnPaymentSent(id); err != nil {
		t.Fatal(err)
	}

	deliveryState := func() models.MessageState {
		tr := tn.taker.trade(t, id)
		rec := tr.ProcessModel.Deliveries[tr.ProcessModel.PaymentSentUID]
		if rec == nil {
			return ""
		}
		return rec.State
	}
	tn.waitFor(t, "payment sent stored in mailbox", func() bool {
		return deliveryState() == models.MessageStateStoredInMailbox
	})
	if tr := tn.maker.trade(t, id); tr.State >= models.StateSellerReceivedPaymentSentMsg {
		t.Fatalf("offline seller advanced to %s", tr.State)
	}

	tn.router.setOnline(tn.maker.id, true)
	tn.waitForState(t, tn.maker, id, models.StateSellerReceivedPaymentSentMsg)
	tn.waitFor(t, "payment sent acknowledged", func() bool {
		return deliveryState() == models.MessageStateAcknowledged
	})
}

func TestProtocol_LostDepositResponse(t *testing.T) {
	tn := newTestNetwork(t, Config{Timeout: time.Second * 10, ProtocolVersion: 1})
	tn.router.drop = func(from, to peer.ID, msg *npb.Message) bool {
		return to == tn.taker.id && tradeMessageType(msg) == pb.TradeMessage_DEPOSIT_RESPONSE
	}
	offer := tn.postOffer(t, models.DirectionSell)
	id := offer.Offer.ID

	if _, err := tn.taker.mgr.TakeOffer(offer, testTradeAmount, accountID(tn.taker)); err != nil {
		t.Fatal(err)
	}
	tn.waitForState(t, tn.arbitrator, id, models.StateArbitratorPublishedDepositTxs)

	tr := tn.waitForState(t, tn.taker, id, models.StateArbitratorPublishedDepositTxs)
	if tr.TakerDepositTxID == "" || tr.TakerDepositTxID != tr.Taker.DepositTxHash {
		t.Errorf("taker deposit ID %q not recovered from the chain", tr.TakerDepositTxID)
	}
	tn.chain.GenerateBlock()
	tn.waitForState(t, tn.taker, id, models.StateDepositTxsUnlockedInBlockchain)
}

func TestProtocol_TimeoutReleasesFunds(t *testing.T) {
	tn := newTestNetwork(t, Config{Timeout: time.Millisecond * 300, ProtocolVersion: 1})
	offer := tn.postOffer(t, models.DirectionSell)
	id := offer.Offer.ID

	sub, err := tn.taker.bus.Subscribe(new(events.TradeFailed))
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	tn.router.setOnline(tn.arbitrator.id, false)
	if _, err := tn.taker.mgr.TakeOffer(offer, testTradeAmount, accountID(tn.taker)); err != nil {
		t.Fatal(err)
	}
	if unlocked, _ := tn.taker.wallet.UnlockedBalance(); unlocked >= testFunding {
		t.Errorf("expected reserved funds to be frozen, unlocked balance %d", unlocked)
	}

	select {
	case evt := <-sub.Out():
		failed := evt.(*events.TradeFailed)
		if failed.TradeID != id {
			t.Errorf("expected trade %s, got %s", id, failed.TradeID)
		}
		if !strings.Contains(failed.Reason, ErrTimeout.Error()) {
			t.Errorf("unexpected failure reason %s", failed.Reason)
		}
	case <-time.After(time.Second * 10):
		t.Fatal("timed out waiting for trade failure")
	}

	tr := tn.taker.trade(t, id)
	if tr.State != models.StateTradeFailed || tr.Open {
		t.Errorf("expected closed failed trade, got %s open=%t", tr.State, tr.Open)
	}
	checkBalance(t, "taker", tn.taker.wallet, testFunding)
	if unlocked, _ := tn.taker.wallet.UnlockedBalance(); unlocked != testFunding {
		t.Errorf("expected unlocked balance %d, got %d", testFunding, unlocked)
	}
}

func TestProtocol_MakerRejectsReservedOffer(t *testing.T) {
	tn := newTestNetwork(t, Config{Timeout: time.Second, ProtocolVersion: 1})
	offer := tn.postOffer(t, models.DirectionSell)
	id := offer.Offer.ID
	if _, err := tn.maker.offers.ReserveOffer(id); err != nil {
		t.Fatal(err)
	}

	if _, err := tn.taker.mgr.TakeOffer(offer, testTradeAmount, accountID(tn.taker)); err != nil {
		t.Fatal(err)
	}

	tr := tn.waitForState(t, tn.arbitrator, id, models.StateTradeFailed)
	if !strings.Contains(tr.ErrorMessage, ErrPeerRejected.Error()) {
		t.Errorf("unexpected arbitrator error %q", tr.ErrorMessage)
	}
	if _, err := tn.maker.mgr.GetTrade(id); errors.Cause(err) != ErrTradeNotFound {
		t.Errorf("expected maker to keep no trade, got %v", err)
	}
	if s := tn.maker.offers.state(id); s != models.OpenOfferReserved {
		t.Errorf("rejected request changed the offer to %s", s)
	}

	tn.waitForState(t, tn.taker, id, models.StateTradeFailed)
	checkBalance(t, "taker", tn.taker.wallet, testFunding)
}

func TestProtocol_InvalidAmountRejected(t *testing.T) {
	tn := newTestNetwork(t, Config{Timeout: time.Second * 10, ProtocolVersion: 1})
	offer := tn.postOffer(t, models.DirectionSell)

	_, err := tn.taker.mgr.TakeOffer(offer, testOfferAmount+1, accountID(tn.taker))
	if errors.Cause(err) != ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := tn.taker.mgr.GetTrade(offer.Offer.ID); errors.Cause(err) != ErrTradeNotFound {
		t.Errorf("expected no trade to be saved, got %v", err)
	}
	checkBalance(t, "taker", tn.taker.wallet, testFunding)

	offer.ArbitratorSignature = []byte("bad")
	if _, err := tn.taker.mgr.TakeOffer(offer, testTradeAmount, accountID(tn.taker)); err == nil {
		t.Error("expected offer with a bad signature to be refused")
	}
}

// singleProtocol is a taker protocol driven directly by test parties.
type singleProtocol struct {
	p          *Protocol
	messenger  *recordingMessenger
	bus        events.Bus
	maker      *testParty
	arbitrator *testParty
	stranger   *testParty
}

func newSingleProtocol(t *testing.T, cfg Config, setup func(tr *models.Trade)) *singleProtocol {
	t.Helper()
	self, maker, arb := newTestParty(t), newTestParty(t), newTestParty(t)
	tr := &models.Trade{
		ID:         "c5a6f7d2-trade",
		Role:       models.RoleTaker,
		FundsRole:  models.FundsRoleBuyer,
		Phase:      models.PhaseInit,
		State:      models.StateMultisigPrepared,
		Open:       true,
		Timestamp:  time.Now(),
		Offer:      models.Offer{ID: "c5a6f7d2-trade", Direction: models.DirectionSell},
		Maker:      models.TradingPeer{PeerID: maker.id.Pretty(), Pubkey: maker.pubkey},
		Taker:      models.TradingPeer{PeerID: self.id.Pretty(), Pubkey: self.pubkey},
		Arbitrator: models.TradingPeer{PeerID: arb.id.Pretty(), Pubkey: arb.pubkey},
	}
	if setup != nil {
		setup(tr)
	}
	db, err := repo.MockDB()
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Update(func(tx database.Tx) error { return tx.Save(tr) }); err != nil {
		t.Fatal(err)
	}
	sp := &singleProtocol{
		messenger:  newRecordingMessenger(),
		bus:        events.NewBus(),
		maker:      maker,
		arbitrator: arb,
		stranger:   newTestParty(t),
	}
	sp.p, err = NewProtocol(tr, &Services{
		Wallet:    wallet.NewMockWallet(),
		Messenger: sp.messenger,
		DB:        db,
		Bus:       sp.bus,
		Identity:  self.identity,
		PeerID:    self.id,
		Config:    &cfg,
	}, true)
	if err != nil {
		t.Fatal(err)
	}
	sp.p.Start()
	t.Cleanup(sp.p.Stop)
	return sp
}

func (sp *singleProtocol) trade(t *testing.T) *models.Trade {
	t.Helper()
	tr, err := sp.p.Trade()
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

func TestProtocol_RejectsMessages(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(tr *models.Trade)
		build    func(t *testing.T, sp *singleProtocol) (*pb.TradeMessage, peer.ID)
		expected error
		acked    bool
	}{
		{
			name: "Unexpected type for role",
			build: func(t *testing.T, sp *singleProtocol) (*pb.TradeMessage, peer.ID) {
				return sp.maker.message(t, sp.p.ID(), pb.TradeMessage_INIT_TRADE_REQUEST, &pb.InitTradeRequest{}), sp.maker.id
			},
			expected: ErrUnexpectedMessage,
			acked:    true,
		},
		{
			name: "Too early and not deferrable",
			build: func(t *testing.T, sp *singleProtocol) (*pb.TradeMessage, peer.ID) {
				return sp.arbitrator.message(t, sp.p.ID(), pb.TradeMessage_DEPOSIT_RESPONSE, &pb.DepositResponse{}), sp.arbitrator.id
			},
			expected: ErrPrecondition,
			acked:    true,
		},
		{
			name:  "Closed trade",
			setup: func(tr *models.Trade) { tr.Open = false },
			build: func(t *testing.T, sp *singleProtocol) (*pb.TradeMessage, peer.ID) {
				return sp.maker.message(t, sp.p.ID(), pb.TradeMessage_INIT_MULTISIG_REQUEST, &pb.InitMultisigRequest{}), sp.maker.id
			},
			expected: ErrTradeClosed,
			acked:    true,
		},
		{
			name: "Stranger",
			build: func(t *testing.T, sp *singleProtocol) (*pb.TradeMessage, peer.ID) {
				return sp.stranger.message(t, sp.p.ID(), pb.TradeMessage_INIT_MULTISIG_REQUEST, &pb.InitMultisigRequest{}), sp.stranger.id
			},
			expected: ErrUnknownSender,
		},
		{
			name: "Wrong pubkey",
			build: func(t *testing.T, sp *singleProtocol) (*pb.TradeMessage, peer.ID) {
				msg := sp.maker.message(t, sp.p.ID(), pb.TradeMessage_INIT_MULTISIG_REQUEST, &pb.InitMultisigRequest{})
				msg.SenderPubkey = sp.stranger.pubkey
				return msg, sp.maker.id
			},
			expected: ErrUnknownSender,
		},
		{
			name: "Spoofed sender ID",
			build: func(t *testing.T, sp *singleProtocol) (*pb.TradeMessage, peer.ID) {
				return sp.maker.message(t, sp.p.ID(), pb.TradeMessage_INIT_MULTISIG_REQUEST, &pb.InitMultisigRequest{}), sp.stranger.id
			},
			expected: ErrUnknownSender,
		},
		{
			name: "Wrong trade",
			build: func(t *testing.T, sp *singleProtocol) (*pb.TradeMessage, peer.ID) {
				return sp.maker.message(t, "other-trade", pb.TradeMessage_INIT_MULTISIG_REQUEST, &pb.InitMultisigRequest{}), sp.maker.id
			},
			expected: ErrWrongTrade,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			sp := newSingleProtocol(t, Config{ProtocolVersion: 1}, test.setup)
			msg, from := test.build(t, sp)
			before := sp.trade(t)

			err := sp.p.HandleMessage(msg, from)
			if errors.Cause(err) != test.expected {
				t.Fatalf("expected %v, got %v", test.expected, err)
			}
			if test.acked {
				ack := sp.messenger.nextAck(t)
				if ack.Success {
					t.Error("expected negative ack")
				}
				if ack.SourceUID != msg.UID || ack.SourceMessageType != msg.Type {
					t.Errorf("ack for %s %s, expected %s %s", ack.SourceMessageType, ack.SourceUID, msg.Type, msg.UID)
				}
			} else {
				sp.messenger.expectNothing(t)
			}

			after := sp.trade(t)
			if after.State != before.State || after.ProcessModel.IsProcessed(msg.UID) {
				t.Error("rejected message changed the trade")
			}
		})
	}
}

func TestProtocol_DuplicateMessage(t *testing.T) {
	const uid = "already-processed"
	sp := newSingleProtocol(t, Config{ProtocolVersion: 1}, func(tr *models.Trade) {
		tr.ProcessModel.MarkProcessed(uid)
	})
	msg := sp.maker.message(t, sp.p.ID(), pb.TradeMessage_SIGN_CONTRACT_REQUEST, &pb.SignContractRequest{})
	msg.UID = uid

	if err := sp.p.HandleMessage(msg, sp.maker.id); err != nil {
		t.Fatal(err)
	}
	ack := sp.messenger.nextAck(t)
	if !ack.Success || ack.SourceUID != uid {
		t.Errorf("expected positive ack for %s, got %+v", uid, ack)
	}
	if tr := sp.trade(t); len(tr.ProcessModel.Pending) != 0 || tr.State != models.StateMultisigPrepared {
		t.Error("duplicate message was processed again")
	}
}

func TestProtocol_DeferredMessageExpires(t *testing.T) {
	sp := newSingleProtocol(t, Config{ProtocolVersion: 1, MaxDeferral: time.Millisecond * 100}, nil)
	msg := sp.maker.message(t, sp.p.ID(), pb.TradeMessage_SIGN_CONTRACT_REQUEST, &pb.SignContractRequest{})

	if err := sp.p.HandleMessage(msg, sp.maker.id); err != nil {
		t.Fatal(err)
	}
	sp.messenger.expectNothing(t)

	tr := sp.trade(t)
	if len(tr.ProcessModel.Pending) != 1 {
		t.Fatalf("expected 1 pending message, got %d", len(tr.ProcessModel.Pending))
	}
	if tr.ProcessModel.Pending[0].RequiredState != models.StateMultisigCompleted {
		t.Errorf("expected required state %s, got %s", models.StateMultisigCompleted, tr.ProcessModel.Pending[0].RequiredState)
	}

	// A resend of the same message is not queued twice.
	if err := sp.p.HandleMessage(msg, sp.maker.id); err != nil {
		t.Fatal(err)
	}
	if tr := sp.trade(t); len(tr.ProcessModel.Pending) != 1 {
		t.Fatalf("expected 1 pending message, got %d", len(tr.ProcessModel.Pending))
	}

	time.Sleep(time.Millisecond * 150)
	sp.p.ChainUpdated()

	ack := sp.messenger.nextAck(t)
	if ack.Success || ack.SourceUID != msg.UID {
		t.Errorf("expected negative ack for %s, got %+v", msg.UID, ack)
	}
	if ack.ErrorMessage != ErrDeferralExpired.Error() {
		t.Errorf("expected %q, got %q", ErrDeferralExpired.Error(), ack.ErrorMessage)
	}
	if tr := sp.trade(t); len(tr.ProcessModel.Pending) != 0 {
		t.Errorf("expected no pending messages, got %d", len(tr.ProcessModel.Pending))
	}
}

func TestProtocol_ActionPreconditions(t *testing.T) {
	sp := newSingleProtocol(t, Config{ProtocolVersion: 1}, nil)
	if err := sp.p.PaymentSent(); errors.Cause(err) != ErrPrecondition {
		t.Errorf("expected ErrPrecondition, got %v", err)
	}
	if err := sp.p.PaymentReceived(); errors.Cause(err) != ErrPrecondition {
		t.Errorf("expected ErrPrecondition, got %v", err)
	}
	if err := sp.p.TakeOffer(); errors.Cause(err) != ErrPrecondition {
		t.Errorf("expected ErrPrecondition, got %v", err)
	}

	seller := newSingleProtocol(t, Config{ProtocolVersion: 1}, func(tr *models.Trade) {
		tr.FundsRole = models.FundsRoleSeller
		tr.Offer.Direction = models.DirectionBuy
		tr.State = models.StateMultisigUpdated
		tr.Phase = tr.State.Phase()
	})
	if err := seller.p.PaymentSent(); errors.Cause(err) != ErrUnexpectedMessage {
		t.Errorf("expected ErrUnexpectedMessage, got %v", err)
	}
}

func TestProtocol_NegativeAckFailsTrade(t *testing.T) {
	sp := newSingleProtocol(t, Config{ProtocolVersion: 1}, func(tr *models.Trade) {
		tr.ProcessModel.SetDelivery("init-1", &models.DeliveryRecord{
			Recipient:   tr.Arbitrator.PeerID,
			MessageType: pb.TradeMessage_INIT_TRADE_REQUEST.String(),
			State:       models.MessageStateArrived,
		})
		tr.ProcessModel.SetDelivery("multisig-1", &models.DeliveryRecord{
			Recipient:   tr.Arbitrator.PeerID,
			MessageType: pb.TradeMessage_INIT_MULTISIG_REQUEST.String(),
			State:       models.MessageStateArrived,
		})
	})
	sub, err := sp.bus.Subscribe(new(events.TradeFailed))
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	err = sp.p.HandleAck(&pb.TradeAck{
		TradeID:           sp.p.ID(),
		SourceMessageType: pb.TradeMessage_INIT_MULTISIG_REQUEST,
		SourceUID:         "multisig-1",
		Success:           true,
	}, sp.arbitrator.id)
	if err != nil {
		t.Fatal(err)
	}
	tr := sp.trade(t)
	if rec := tr.ProcessModel.Deliveries["multisig-1"]; rec.State != models.MessageStateAcknowledged {
		t.Errorf("expected %s, got %s", models.MessageStateAcknowledged, rec.State)
	}

	// Acks from a peer other than the recipient are ignored.
	err = sp.p.HandleAck(&pb.TradeAck{
		TradeID:           sp.p.ID(),
		SourceMessageType: pb.TradeMessage_INIT_TRADE_REQUEST,
		SourceUID:         "init-1",
	}, sp.maker.id)
	if err != nil {
		t.Fatal(err)
	}
	if tr := sp.trade(t); !tr.Open {
		t.Fatal("ack from the wrong peer failed the trade")
	}

	err = sp.p.HandleAck(&pb.TradeAck{
		TradeID:           sp.p.ID(),
		SourceMessageType: pb.TradeMessage_INIT_TRADE_REQUEST,
		SourceUID:         "init-1",
		ErrorMessage:      "offer is not available",
	}, sp.arbitrator.id)
	if err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-sub.Out():
		if !strings.Contains(evt.(*events.TradeFailed).Reason, "offer is not available") {
			t.Errorf("unexpected reason %s", evt.(*events.TradeFailed).Reason)
		}
	case <-time.After(time.Second * 5):
		t.Fatal("timed out waiting for trade failure")
	}
	tr = sp.trade(t)
	if tr.State != models.StateTradeFailed || tr.Open {
		t.Errorf("expected closed failed trade, got %s open=%t", tr.State, tr.Open)
	}
	rec := tr.ProcessModel.Deliveries["init-1"]
	if !rec.Rejected || rec.State != models.MessageStateFailed {
		t.Errorf("expected rejected delivery, got %+v", rec)
	}
}

func TestProtocol_TimeoutRestoredOnStartup(t *testing.T) {
	sp := newSingleProtocol(t, Config{ProtocolVersion: 1}, func(tr *models.Trade) {
		tr.ProcessModel.TimeoutAt = time.Now().Add(time.Millisecond * 100)
	})
	sub, err := sp.bus.Subscribe(new(events.TradeFailed))
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	if err := sp.p.Initialize(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-sub.Out():
	case <-time.After(time.Second * 5):
		t.Fatal("timed out waiting for trade failure")
	}
	tr := sp.trade(t)
	if tr.State != models.StateTradeFailed {
		t.Errorf("expected %s, got %s", models.StateTradeFailed, tr.State)
	}
	if !tr.ProcessModel.TimeoutAt.IsZero() {
		t.Error("expected timeout to be cleared")
	}
}

func TestProtocol_NoTimeoutAfterDeposits(t *testing.T) {
	sp := newSingleProtocol(t, Config{ProtocolVersion: 1}, func(tr *models.Trade) {
		tr.State = models.StateDepositTxsSeenInNetwork
		tr.Phase = tr.State.Phase()
		tr.ProcessModel.TimeoutAt = time.Now().Add(-time.Second)
	})
	if err := sp.p.Initialize(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(time.Millisecond * 100)
	if tr := sp.trade(t); tr.State == models.StateTradeFailed || !tr.Open {
		t.Error("trade with published deposits must not time out")
	}
}

func TestProtocol_StepsDoNotOverlap(t *testing.T) {
	sp := newSingleProtocol(t, Config{ProtocolVersion: 1}, nil)

	var running, maxRunning int32
	sp.p.handlers[handlerKey{pb.TradeMessage_INIT_MULTISIG_REQUEST, models.RoleMaker}] = &handlerSpec{
		name:   "Count",
		states: atLeast(models.StateMultisigPrepared),
		timer:  timerKeep,
		tasks: []Task{{Name: "Count", Run: func(pm *ProcessModel) error {
			n := atomic.AddInt32(&running, 1)
			for {
				peak := atomic.LoadInt32(&maxRunning)
				if n <= peak || atomic.CompareAndSwapInt32(&maxRunning, peak, n) {
					break
				}
			}
			time.Sleep(time.Millisecond * 5)
			atomic.AddInt32(&running, -1)
			return nil
		}}},
	}

	const n = 16
	var (
		wg   sync.WaitGroup
		uids = make([]string, n)
		errs = make(chan error, n)
	)
	for i := 0; i < n; i++ {
		msg := sp.maker.message(t, sp.p.ID(), pb.TradeMessage_INIT_MULTISIG_REQUEST, &pb.InitMultisigRequest{})
		uids[i] = msg.UID
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- sp.p.HandleMessage(msg, sp.maker.id)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Error(err)
		}
	}

	if peak := atomic.LoadInt32(&maxRunning); peak != 1 {
		t.Errorf("expected one step at a time, got %d", peak)
	}
	tr := sp.trade(t)
	for _, uid := range uids {
		if !tr.ProcessModel.IsProcessed(uid) {
			t.Errorf("message %s not processed", uid)
		}
	}
}

func TestProtocol_InitializeResendsMailbox(t *testing.T) {
	sp := newSingleProtocol(t, Config{ProtocolVersion: 1}, func(tr *models.Trade) {
		tr.State = models.StateBuyerSentPaymentSentMsg
		tr.Phase = tr.State.Phase()
		tr.ProcessModel.SetDelivery("payment-sent-1", &models.DeliveryRecord{
			Recipient:   tr.Maker.PeerID,
			MessageType: pb.TradeMessage_PAYMENT_SENT.String(),
			Mailbox:     true,
			State:       models.MessageStateStoredInMailbox,
		})
		tr.ProcessModel.SetDelivery("deposit-tx-1", &models.DeliveryRecord{
			Recipient:   tr.Maker.PeerID,
			MessageType: pb.TradeMessage_DEPOSIT_TX.String(),
			Mailbox:     true,
			State:       models.MessageStateArrived,
		})
	})
	sp.messenger.store("payment-sent-1")

	if err := sp.p.Initialize(); err != nil {
		t.Fatal(err)
	}
	if retried := sp.messenger.retries(); len(retried) != 1 || retried[0] != "payment-sent-1" {
		t.Errorf("expected payment-sent-1 to be resent, got %v", retried)
	}
	tr := sp.trade(t)
	if rec := tr.ProcessModel.Deliveries["payment-sent-1"]; rec.State != models.MessageStateStoredInMailbox {
		t.Errorf("expected %s, got %s", models.MessageStateStoredInMailbox, rec.State)
	}
	// A message no longer in the outbox was acked before we went down.
	if rec := tr.ProcessModel.Deliveries["deposit-tx-1"]; rec.State != models.MessageStateAcknowledged {
		t.Errorf("expected %s, got %s", models.MessageStateAcknowledged, rec.State)
	}
}

func TestProtocol_NegativeAckOnMailboxMessage(t *testing.T) {
	const uid = "payment-sent-1"
	setup := func(tr *models.Trade) {
		tr.State = models.StateBuyerSentPaymentSentMsg
		tr.Phase = tr.State.Phase()
		tr.ProcessModel.SetDelivery(uid, &models.DeliveryRecord{
			Recipient:   tr.Maker.PeerID,
			MessageType: pb.TradeMessage_PAYMENT_SENT.String(),
			Mailbox:     true,
			State:       models.MessageStateArrived,
		})
	}
	nack := func(sp *singleProtocol, reason string) {
		err := sp.p.HandleAck(&pb.TradeAck{
			TradeID:           sp.p.ID(),
			SourceMessageType: pb.TradeMessage_PAYMENT_SENT,
			SourceUID:         uid,
			ErrorMessage:      reason,
		}, sp.maker.id)
		if err != nil {
			t.Fatal(err)
		}
	}
	unacknowledged := func(tr *models.Trade) bool {
		for _, u := range tr.ProcessModel.UnacknowledgedMailbox() {
			if u == uid {
				return true
			}
		}
		return false
	}

	t.Run("Resent", func(t *testing.T) {
		sp := newSingleProtocol(t, Config{ProtocolVersion: 1}, setup)
		sp.messenger.store(uid)

		nack(sp, "wallet busy")
		tr := sp.trade(t)
		rec := tr.ProcessModel.Deliveries[uid]
		if rec.State != models.MessageStateFailed || rec.Rejected || rec.Error != "wallet busy" {
			t.Errorf("expected failed delivery kept for resending, got %+v", rec)
		}
		if !tr.Open || tr.State != models.StateBuyerSentPaymentSentMsg {
			t.Errorf("negative ack changed the trade to %s open=%t", tr.State, tr.Open)
		}
		if !sp.messenger.isStored(uid) {
			t.Error("message removed from the outbox")
		}
		if !unacknowledged(tr) {
			t.Error("expected message to be resent")
		}

		if err := sp.p.Initialize(); err != nil {
			t.Fatal(err)
		}
		if retried := sp.messenger.retries(); len(retried) != 1 || retried[0] != uid {
			t.Errorf("expected %s to be resent, got %v", uid, retried)
		}

		err := sp.p.HandleAck(&pb.TradeAck{
			TradeID:           sp.p.ID(),
			SourceMessageType: pb.TradeMessage_PAYMENT_SENT,
			SourceUID:         uid,
			Success:           true,
		}, sp.maker.id)
		if err != nil {
			t.Fatal(err)
		}
		rec = sp.trade(t).ProcessModel.Deliveries[uid]
		if rec.State != models.MessageStateAcknowledged || rec.Error != "" {
			t.Errorf("expected acknowledged delivery, got %+v", rec)
		}
		if sp.messenger.isStored(uid) {
			t.Error("acknowledged message left in the outbox")
		}
	})

	t.Run("Peer closed the trade", func(t *testing.T) {
		sp := newSingleProtocol(t, Config{ProtocolVersion: 1}, setup)
		sp.messenger.store(uid)

		nack(sp, ErrTradeClosed.Error())
		tr := sp.trade(t)
		if rec := tr.ProcessModel.Deliveries[uid]; !rec.Rejected || rec.State != models.MessageStateFailed {
			t.Errorf("expected rejected delivery, got %+v", rec)
		}
		if sp.messenger.isStored(uid) {
			t.Error("rejected message left in the outbox")
		}
		if unacknowledged(tr) {
			t.Error("rejected message would be resent")
		}
		if !tr.Open {
			t.Error("rejection after the deposits failed the trade")
		}
	})
}

func TestProtocol_DeferredMessageProcessed(t *testing.T) {
	tn := newTestNetwork(t, Config{Timeout: time.Second * 10, ProtocolVersion: 1})
	tn.router.hold = func(from, to peer.ID, msg *npb.Message) bool {
		return from == tn.arbitrator.id && to == tn.taker.id && exchangedMultisig(msg)
	}
	offer := tn.postOffer(t, models.DirectionSell)
	id := offer.Offer.ID

	if _, err := tn.taker.mgr.TakeOffer(offer, testTradeAmount, accountID(tn.taker)); err != nil {
		t.Fatal(err)
	}
	tn.waitFor(t, "deferred contract request", func() bool {
		tr, err := tn.taker.mgr.GetTrade(id)
		if err != nil || len(tr.ProcessModel.Pending) != 1 {
			return false
		}
		return tr.ProcessModel.Pending[0].RequiredState == models.StateMultisigCompleted
	})
	if tn.router.heldCount() == 0 {
		t.Fatal("expected the arbitrator's key exchange to be held")
	}
	if tr := tn.taker.trade(t, id); tr.State >= models.StateMultisigCompleted {
		t.Fatalf("taker completed the multisig wallet early in state %s", tr.State)
	}

	tn.router.release()

	tr := tn.waitForState(t, tn.taker, id, models.StateContractSigned)
	if tr.State == models.StateTradeFailed {
		t.Fatalf("trade failed: %s", tr.ErrorMessage)
	}
	if len(tr.ProcessModel.Pending) != 0 {
		t.Errorf("expected no pending messages, got %d", len(tr.ProcessModel.Pending))
	}
	tn.waitFor(t, "contract request acked", func() bool {
		for _, rec := range tn.maker.trade(t, id).ProcessModel.Deliveries {
			if rec.MessageType == pb.TradeMessage_SIGN_CONTRACT_REQUEST.String() {
				return rec.State == models.MessageStateAcknowledged
			}
		}
		return false
	})
}
