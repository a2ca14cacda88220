package trade

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cpacia/xmrescrow/database"
	"github.com/cpacia/xmrescrow/events"
	"github.com/cpacia/xmrescrow/models"
	"github.com/cpacia/xmrescrow/net"
	npb "github.com/cpacia/xmrescrow/net/pb"
	"github.com/cpacia/xmrescrow/repo"
	"github.com/cpacia/xmrescrow/trade/pb"
	"github.com/cpacia/xmrescrow/wallet"
	"github.com/golang/protobuf/proto"
	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p-core/crypto"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/shopspring/decimal"
)

const (
	testFunding       uint64 = 5000000000000
	testOfferAmount   uint64 = 1000000000000
	testTradeAmount   uint64 = 500000000000
	testDeposit       uint64 = 150000000000
	testMakerFee      uint64 = 2000000000
	testTakerFee      uint64 = 3000000000
	testPaymentMethod        = "SEPA"
)

var errPeerOffline = errors.New("peer offline")

// mockRouter connects the mock messengers of a test network. Mailbox
// messages for offline peers are queued until the peer comes back.
type mockRouter struct {
	mtx     sync.Mutex
	nodes   map[peer.ID]*testNode
	offline map[peer.ID]bool
	mailbox map[peer.ID][]routedMessage

	// drop, when set, discards matching messages in flight.
	drop func(from, to peer.ID, msg *npb.Message) bool

	// hold, when set, keeps matching messages back until release.
	hold func(from, to peer.ID, msg *npb.Message) bool
	held []heldMessage
}

type heldMessage struct {
	from, to peer.ID
	msg      *npb.Message
}

// routedMessage is a message along with the peer on the other end.
type routedMessage struct {
	remote peer.ID
	msg    *npb.Message
}

func newMockRouter() *mockRouter {
	return &mockRouter{
		nodes:   make(map[peer.ID]*testNode),
		offline: make(map[peer.ID]bool),
		mailbox: make(map[peer.ID][]routedMessage),
	}
}

func (r *mockRouter) setOnline(id peer.ID, online bool) {
	r.mtx.Lock()
	r.offline[id] = !online
	var queued []routedMessage
	if online {
		queued = r.mailbox[id]
		delete(r.mailbox, id)
	}
	node := r.nodes[id]
	r.mtx.Unlock()

	for _, rm := range queued {
		go node.receive(rm.remote, rm.msg)
	}
}

func (r *mockRouter) deliver(from, to peer.ID, msg *npb.Message, mailbox bool) (net.DeliveryResult, error) {
	r.mtx.Lock()
	node, ok := r.nodes[to]
	if !ok {
		r.mtx.Unlock()
		return net.DeliveryFailed, errors.New("unknown peer")
	}
	if r.offline[from] {
		r.mtx.Unlock()
		return net.DeliveryFailed, errPeerOffline
	}
	if r.offline[to] {
		if !mailbox {
			r.mtx.Unlock()
			return net.DeliveryFailed, errPeerOffline
		}
		r.mailbox[to] = append(r.mailbox[to], routedMessage{from, msg})
		r.mtx.Unlock()
		return net.DeliveredToMailbox, nil
	}
	drop := r.drop
	if r.hold != nil && r.hold(from, to, msg) {
		r.held = append(r.held, heldMessage{from, to, msg})
		r.mtx.Unlock()
		return net.DeliveredDirect, nil
	}
	r.mtx.Unlock()

	if drop != nil && drop(from, to, msg) {
		return net.DeliveredDirect, nil
	}
	go node.receive(from, msg)
	return net.DeliveredDirect, nil
}

func (r *mockRouter) heldCount() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return len(r.held)
}

// release stops holding messages and delivers the held ones.
func (r *mockRouter) release() {
	r.mtx.Lock()
	held := r.held
	r.held = nil
	r.hold = nil
	r.mtx.Unlock()

	for _, hm := range held {
		go r.nodes[hm.to].receive(hm.from, hm.msg)
	}
}

func (r *mockRouter) ack(to peer.ID, messageID string) {
	r.mtx.Lock()
	node := r.nodes[to]
	r.mtx.Unlock()
	if node != nil {
		node.messenger.remove(messageID)
	}
}

// mockMessenger implements Messenger on top of the router.
type mockMessenger struct {
	self   peer.ID
	router *mockRouter

	mtx    sync.Mutex
	stored map[string]routedMessage
}

func (m *mockMessenger) SendDirect(ctx context.Context, to peer.ID, message *npb.Message) error {
	_, err := m.router.deliver(m.self, to, message, false)
	return err
}

func (m *mockMessenger) ReliablySendMessage(tx database.Tx, to peer.ID, message *npb.Message, onResult net.ResultFunc) error {
	m.mtx.Lock()
	m.stored[message.MessageID] = routedMessage{remote: to, msg: message}
	m.mtx.Unlock()

	tx.RegisterCommitHook(func() {
		go m.send(to, message, onResult)
	})
	return nil
}

func (m *mockMessenger) send(to peer.ID, message *npb.Message, onResult net.ResultFunc) {
	result, err := m.router.deliver(m.self, to, message, true)
	if onResult != nil {
		onResult(result, err)
	}
}

func (m *mockMessenger) DeleteMessage(tx database.Tx, messageID string) error {
	m.remove(messageID)
	return nil
}

func (m *mockMessenger) RetryMessage(messageID string, onResult net.ResultFunc) (bool, error) {
	m.mtx.Lock()
	rm, ok := m.stored[messageID]
	m.mtx.Unlock()
	if !ok {
		return false, nil
	}
	go m.send(rm.remote, rm.msg, onResult)
	return true, nil
}

func (m *mockMessenger) SendACK(messageID string, to peer.ID) {
	m.router.ack(to, messageID)
}

func (m *mockMessenger) UpdatePeerServers(peerID peer.ID, servers []string) error {
	return nil
}

func (m *mockMessenger) MailboxServers() []string {
	return nil
}

func (m *mockMessenger) remove(messageID string) {
	m.mtx.Lock()
	delete(m.stored, messageID)
	m.mtx.Unlock()
}

func (m *mockMessenger) pending() int {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return len(m.stored)
}

// mockOpenOffers is an in-memory OpenOfferStore.
type mockOpenOffers struct {
	mtx    sync.Mutex
	offers map[string]*models.OpenOffer
}

func (m *mockOpenOffers) ReserveOffer(offerID string) (*models.OpenOffer, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	oo, ok := m.offers[offerID]
	if !ok || oo.State != models.OpenOfferAvailable {
		return nil, errors.New("offer not available")
	}
	oo.State = models.OpenOfferReserved
	cpy := *oo
	return &cpy, nil
}

func (m *mockOpenOffers) UnreserveOffer(offerID string) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	oo, ok := m.offers[offerID]
	if !ok {
		return errors.New("offer not found")
	}
	if oo.State == models.OpenOfferReserved {
		oo.State = models.OpenOfferAvailable
	}
	return nil
}

func (m *mockOpenOffers) CloseOffer(offerID string) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	oo, ok := m.offers[offerID]
	if !ok {
		return errors.New("offer not found")
	}
	oo.State = models.OpenOfferClosed
	return nil
}

func (m *mockOpenOffers) state(offerID string) models.OpenOfferState {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if oo, ok := m.offers[offerID]; ok {
		return oo.State
	}
	return ""
}

type testNode struct {
	id        peer.ID
	identity  crypto.PrivKey
	db        database.Database
	bus       events.Bus
	wallet    *wallet.MockWallet
	messenger *mockMessenger
	offers    *mockOpenOffers
	mgr       *Manager
}

func (n *testNode) receive(from peer.ID, msg *npb.Message) {
	var err error
	switch msg.MessageType {
	case npb.Message_TRADE:
		err = n.mgr.HandleTradeMessage(from, msg)
	case npb.Message_TRADE_ACK:
		err = n.mgr.HandleTradeAck(from, msg)
	}
	if err != nil {
		log.Debugf("Test node %s: %s", n.id.Pretty()[:8], err)
	}
}

func (n *testNode) trade(t *testing.T, id string) *models.Trade {
	t.Helper()
	tr, err := n.mgr.GetTrade(id)
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

// testNetwork is a maker, a taker and an arbitrator sharing one router
// and one simulated chain.
type testNetwork struct {
	router     *mockRouter
	chain      *wallet.MockWalletNetwork
	maker      *testNode
	taker      *testNode
	arbitrator *testNode
}

func newTestNetwork(t *testing.T, cfg Config) *testNetwork {
	t.Helper()
	chain := wallet.NewMockWalletNetwork(3)
	chain.SetUnlockDepth(1)
	router := newMockRouter()

	var nodes []*testNode
	for i, w := range chain.Wallets() {
		priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
		if err != nil {
			t.Fatal(err)
		}
		id, err := peer.IDFromPrivateKey(priv)
		if err != nil {
			t.Fatal(err)
		}
		db, err := repo.MockDB()
		if err != nil {
			t.Fatal(err)
		}
		nodeCfg := cfg
		nodeCfg.Arbitrator = i == 2
		node := &testNode{
			id:        id,
			identity:  priv,
			db:        db,
			bus:       events.NewBus(),
			wallet:    w,
			messenger: &mockMessenger{self: id, router: router, stored: make(map[string]routedMessage)},
			offers:    &mockOpenOffers{offers: make(map[string]*models.OpenOffer)},
		}
		node.mgr, err = NewManager(&Services{
			Wallet:     w,
			Messenger:  node.messenger,
			DB:         db,
			Bus:        node.bus,
			OpenOffers: node.offers,
			Identity:   priv,
			Config:     &nodeCfg,
		})
		if err != nil {
			t.Fatal(err)
		}
		router.nodes[id] = node
		nodes = append(nodes, node)
	}
	tn := &testNetwork{
		router:     router,
		chain:      chain,
		maker:      nodes[0],
		taker:      nodes[1],
		arbitrator: nodes[2],
	}
	for _, n := range tn.traders() {
		addr, err := n.wallet.NewAddress()
		if err != nil {
			t.Fatal(err)
		}
		if _, err := chain.GenerateToAddress(addr, testFunding); err != nil {
			t.Fatal(err)
		}
		acct := &models.PaymentAccount{
			ID:       "acct-" + n.id.Pretty()[:8],
			Method:   testPaymentMethod,
			Currency: "USD",
			Payload:  []byte(`{"iban":"` + n.id.Pretty()[:12] + `"}`),
		}
		if err := n.db.Update(func(tx database.Tx) error { return tx.Save(acct) }); err != nil {
			t.Fatal(err)
		}
	}
	chain.GenerateBlock()

	for _, n := range tn.nodes() {
		if err := n.mgr.Start(); err != nil {
			t.Fatal(err)
		}
	}
	t.Cleanup(func() {
		for _, n := range tn.nodes() {
			n.mgr.Stop()
		}
	})
	return tn
}

func (tn *testNetwork) nodes() []*testNode {
	return []*testNode{tn.maker, tn.taker, tn.arbitrator}
}

func (tn *testNetwork) traders() []*testNode {
	return []*testNode{tn.maker, tn.taker}
}

func accountID(n *testNode) string {
	return "acct-" + n.id.Pretty()[:8]
}

// postOffer creates the maker's open offer and the arbitrator's signed
// offer record and returns the public offer the taker sees.
func (tn *testNetwork) postOffer(t *testing.T, direction models.Direction) *models.PublicOffer {
	t.Helper()
	makerPubkey, err := crypto.MarshalPublicKey(tn.maker.identity.GetPublic())
	if err != nil {
		t.Fatal(err)
	}
	offer := models.Offer{
		ID:                    uuid.New().String(),
		Direction:             direction,
		Currency:              "USD",
		PaymentMethod:         testPaymentMethod,
		Price:                 decimal.RequireFromString("152.25"),
		Amount:                testOfferAmount,
		MinAmount:             testOfferAmount / 10,
		BuyerSecurityDeposit:  testDeposit,
		SellerSecurityDeposit: testDeposit,
		MakerFee:              testMakerFee,
		TakerFee:              testTakerFee,
		MakerPeerID:           tn.maker.id.Pretty(),
		MakerPubkey:           makerPubkey,
		ArbitratorPeerID:      tn.arbitrator.id.Pretty(),
		PaymentAccountID:      accountID(tn.maker),
		ProtocolVersion:       1,
		Date:                  time.Now().UTC().Truncate(time.Second),
	}
	reserve, err := tn.maker.wallet.CreateReserveTx(offer.ReserveAmount(models.RoleMaker, offer.Amount))
	if err != nil {
		t.Fatal(err)
	}
	hash, err := offer.Hash()
	if err != nil {
		t.Fatal(err)
	}
	sig, err := tn.arbitrator.identity.Sign(hash)
	if err != nil {
		t.Fatal(err)
	}

	tn.maker.offers.mtx.Lock()
	tn.maker.offers.offers[offer.ID] = &models.OpenOffer{
		OfferID:             offer.ID,
		State:               models.OpenOfferAvailable,
		ReserveTxHash:       reserve.Hash,
		ReserveTxHex:        reserve.Hex,
		ReserveTxKey:        reserve.Key,
		ReserveTxKeyImages:  reserve.KeyImages,
		ArbitratorSignature: sig,
		Offer:               offer,
		Timestamp:           time.Now(),
	}
	tn.maker.offers.mtx.Unlock()

	signed := &models.SignedOffer{
		OfferID:             offer.ID,
		MakerPeerID:         offer.MakerPeerID,
		ReserveTxHash:       reserve.Hash,
		ReserveTxHex:        reserve.Hex,
		ReserveTxKey:        reserve.Key,
		ReserveAmount:       offer.ReserveAmount(models.RoleMaker, offer.Amount),
		ArbitratorSignature: sig,
		Offer:               offer,
		ReserveTxKeyImages:  reserve.KeyImages,
		Timestamp:           time.Now(),
	}
	err = tn.arbitrator.db.Update(func(tx database.Tx) error { return tx.Save(signed) })
	if err != nil {
		t.Fatal(err)
	}
	return &models.PublicOffer{
		Offer:               offer,
		ArbitratorSignature: sig,
		ReserveTxHash:       reserve.Hash,
	}
}

// tick emulates the chain poll of every node.
func (tn *testNetwork) tick() {
	for _, n := range tn.nodes() {
		n.mgr.chainUpdated()
	}
}

// waitFor polls cond until it holds, ticking the chain in between.
func (tn *testNetwork) waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second * 20)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		tn.tick()
		time.Sleep(time.Millisecond * 25)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func (tn *testNetwork) waitForState(t *testing.T, n *testNode, tradeID string, s models.TradeState) *models.Trade {
	t.Helper()
	var tr *models.Trade
	tn.waitFor(t, s.String(), func() bool {
		var err error
		tr, err = n.mgr.GetTrade(tradeID)
		return err == nil && tr.State >= s
	})
	return tr
}

// buyerSeller returns the buyer and seller nodes of a trade.
func (tn *testNetwork) buyerSeller(direction models.Direction) (*testNode, *testNode) {
	if direction == models.DirectionBuy {
		return tn.maker, tn.taker
	}
	return tn.taker, tn.maker
}

func tradeMessageType(msg *npb.Message) pb.TradeMessage_Type {
	if msg.MessageType != npb.Message_TRADE {
		return pb.TradeMessage_UNKNOWN
	}
	tm := new(pb.TradeMessage)
	if err := proto.Unmarshal(msg.Payload, tm); err != nil {
		return pb.TradeMessage_UNKNOWN
	}
	return tm.Type
}

// exchangedMultisig reports whether msg is a multisig request carrying the
// sender's final key exchange round.
func exchangedMultisig(msg *npb.Message) bool {
	if tradeMessageType(msg) != pb.TradeMessage_INIT_MULTISIG_REQUEST {
		return false
	}
	tm := new(pb.TradeMessage)
	if err := proto.Unmarshal(msg.Payload, tm); err != nil {
		return false
	}
	req := new(pb.InitMultisigRequest)
	if err := proto.Unmarshal(tm.Payload, req); err != nil {
		return false
	}
	return req.ExchangedMultisigHex != ""
}

// recordingMessenger captures outgoing messages for single protocol tests.
// Mailbox messages are kept in stored until deleted.
type recordingMessenger struct {
	sent chan routedMessage

	mtx     sync.Mutex
	stored  map[string]bool
	retried []string
}

func newRecordingMessenger() *recordingMessenger {
	return &recordingMessenger{
		sent:   make(chan routedMessage, 32),
		stored: make(map[string]bool),
	}
}

func (m *recordingMessenger) SendDirect(ctx context.Context, to peer.ID, message *npb.Message) error {
	m.sent <- routedMessage{remote: to, msg: message}
	return nil
}

func (m *recordingMessenger) ReliablySendMessage(tx database.Tx, to peer.ID, message *npb.Message, onResult net.ResultFunc) error {
	m.store(message.MessageID)
	tx.RegisterCommitHook(func() {
		m.sent <- routedMessage{remote: to, msg: message}
	})
	return nil
}

func (m *recordingMessenger) DeleteMessage(tx database.Tx, messageID string) error {
	m.mtx.Lock()
	delete(m.stored, messageID)
	m.mtx.Unlock()
	return nil
}

func (m *recordingMessenger) RetryMessage(messageID string, onResult net.ResultFunc) (bool, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if !m.stored[messageID] {
		return false, nil
	}
	m.retried = append(m.retried, messageID)
	return true, nil
}

func (m *recordingMessenger) store(messageID string) {
	m.mtx.Lock()
	m.stored[messageID] = true
	m.mtx.Unlock()
}

func (m *recordingMessenger) isStored(messageID string) bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.stored[messageID]
}

func (m *recordingMessenger) retries() []string {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return append([]string(nil), m.retried...)
}

func (m *recordingMessenger) SendACK(messageID string, to peer.ID) {}

func (m *recordingMessenger) UpdatePeerServers(peerID peer.ID, servers []string) error { return nil }

func (m *recordingMessenger) MailboxServers() []string { return nil }

// nextAck waits for the next outgoing trade ack.
func (m *recordingMessenger) nextAck(t *testing.T) *pb.TradeAck {
	t.Helper()
	timeout := time.After(time.Second * 5)
	for {
		select {
		case rm := <-m.sent:
			if rm.msg.MessageType != npb.Message_TRADE_ACK {
				continue
			}
			ack := new(pb.TradeAck)
			if err := proto.Unmarshal(rm.msg.Payload, ack); err != nil {
				t.Fatal(err)
			}
			return ack
		case <-timeout:
			t.Fatal("timed out waiting for ack")
		}
	}
}

func (m *recordingMessenger) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case rm := <-m.sent:
		t.Fatalf("unexpected %s message", rm.msg.MessageType)
	case <-time.After(time.Millisecond * 200):
	}
}

type testParty struct {
	id       peer.ID
	identity crypto.PrivKey
	pubkey   []byte
}

func newTestParty(t *testing.T) *testParty {
	t.Helper()
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	pubkey, err := crypto.MarshalPublicKey(priv.GetPublic())
	if err != nil {
		t.Fatal(err)
	}
	return &testParty{id: id, identity: priv, pubkey: pubkey}
}

// message builds a trade message from the party.
func (p *testParty) message(t *testing.T, tradeID string, typ pb.TradeMessage_Type, body proto.Message) *pb.TradeMessage {
	t.Helper()
	payload, err := proto.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	return &pb.TradeMessage{
		TradeID:         tradeID,
		UID:             uuid.New().String(),
		Type:            typ,
		SenderPeerID:    p.id.Pretty(),
		SenderPubkey:    p.pubkey,
		ProtocolVersion: 1,
		Payload:         payload,
	}
}
