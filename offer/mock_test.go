package offer

import (
	"context"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/cpacia/xmrescrow/database"
	"github.com/cpacia/xmrescrow/events"
	"github.com/cpacia/xmrescrow/models"
	npb "github.com/cpacia/xmrescrow/net/pb"
	"github.com/cpacia/xmrescrow/repo"
	"github.com/cpacia/xmrescrow/wallet"
	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p-core/crypto"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const xmr uint64 = 1000000000000

const (
	testAmount      = xmr
	testDeposit     = xmr / 10
	testMakerFee    = xmr / 100
	testTakerFee    = xmr / 50
	testUnlockDepth = 5
)

type handler func(from peer.ID, message *npb.Message) error

// mockNetwork delivers direct messages between managers in the same
// process.
type mockNetwork struct {
	mtx      sync.Mutex
	handlers map[peer.ID]map[npb.Message_MessageType]handler
}

func newMockNetwork() *mockNetwork {
	return &mockNetwork{handlers: make(map[peer.ID]map[npb.Message_MessageType]handler)}
}

func (n *mockNetwork) register(id peer.ID, typ npb.Message_MessageType, h handler) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	if n.handlers[id] == nil {
		n.handlers[id] = make(map[npb.Message_MessageType]handler)
	}
	n.handlers[id][typ] = h
}

// sender returns the Sender used by the node with the given ID.
func (n *mockNetwork) sender(self peer.ID) Sender {
	return &mockSender{network: n, self: self}
}

type mockSender struct {
	network *mockNetwork
	self    peer.ID
}

func (s *mockSender) SendMessage(ctx context.Context, p peer.ID, message *npb.Message) error {
	s.network.mtx.Lock()
	h, ok := s.network.handlers[p][message.MessageType]
	s.network.mtx.Unlock()
	if !ok {
		return errors.New("peer not connected")
	}
	go h(s.self, message)
	return nil
}

type testNode struct {
	id       peer.ID
	identity crypto.PrivKey
	db       database.Database
	bus      events.Bus
	wallet   *wallet.MockWallet
	book     *MockOfferBook
	mgr      *Manager
}

func newIdentity(t *testing.T) (crypto.PrivKey, peer.ID) {
	t.Helper()
	sk, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	id, err := peer.IDFromPrivateKey(sk)
	if err != nil {
		t.Fatal(err)
	}
	return sk, id
}

func newTestNode(t *testing.T, w *wallet.MockWallet, book *MockOfferBook, network *mockNetwork, cfg *Config) *testNode {
	t.Helper()
	sk, id := newIdentity(t)
	db, err := repo.MockDB()
	if err != nil {
		t.Fatal(err)
	}
	bus := events.NewBus()
	w.SetEventBus(bus)

	mgr, err := NewManager(&Services{
		Wallet:   w,
		DB:       db,
		Bus:      bus,
		Network:  network.sender(id),
		Book:     book,
		Identity: sk,
		Config:   cfg,
	})
	if err != nil {
		t.Fatal(err)
	}
	network.register(id, npb.Message_SIGN_OFFER_REQUEST, mgr.HandleSignOfferRequest)
	network.register(id, npb.Message_SIGN_OFFER_RESPONSE, mgr.HandleSignOfferResponse)
	return &testNode{
		id:       id,
		identity: sk,
		db:       db,
		bus:      bus,
		wallet:   w,
		book:     book,
		mgr:      mgr,
	}
}

// testPair is a maker and its arbitrator sharing a chain and an offer
// book.
type testPair struct {
	chain      *wallet.MockWalletNetwork
	network    *mockNetwork
	book       *MockOfferBook
	maker      *testNode
	arbitrator *testNode
}

func newTestPair(t *testing.T) *testPair {
	t.Helper()
	chain := wallet.NewMockWalletNetwork(2)
	chain.SetUnlockDepth(testUnlockDepth)
	network := newMockNetwork()
	book := NewMockOfferBook()

	arbitrator := newTestNode(t, chain.Wallets()[1], book, network, &Config{Arbitrator: true})
	maker := newTestNode(t, chain.Wallets()[0], book, network, &Config{
		ArbitratorPeerID: arbitrator.id.Pretty(),
		SignTimeout:      time.Second * 2,
		MinBackoff:       time.Millisecond * 10,
		ProtocolVersion:  1,
	})
	chain.Start()
	t.Cleanup(chain.Stop)
	return &testPair{
		chain:      chain,
		network:    network,
		book:       book,
		maker:      maker,
		arbitrator: arbitrator,
	}
}

// fund sends amount to the node's wallet. The transaction is confirmed
// but locked.
func (tp *testPair) fund(t *testing.T, n *testNode, amount uint64) string {
	t.Helper()
	addr, err := n.wallet.NewAddress()
	if err != nil {
		t.Fatal(err)
	}
	txid, err := tp.chain.GenerateToAddress(addr, amount)
	if err != nil {
		t.Fatal(err)
	}
	tp.chain.GenerateBlock()
	return string(txid)
}

func (tp *testPair) unlock() {
	tp.chain.GenerateBlocks(testUnlockDepth)
}

func testOffer(direction models.Direction) models.Offer {
	return models.Offer{
		Direction:             direction,
		Currency:              "USD",
		PaymentMethod:         "SEPA",
		Price:                 decimal.RequireFromString("152.25"),
		Amount:                testAmount,
		MinAmount:             testAmount / 10,
		BuyerSecurityDeposit:  testDeposit,
		SellerSecurityDeposit: testDeposit,
		MakerFee:              testMakerFee,
		TakerFee:              testTakerFee,
		PaymentAccountID:      "acct-1",
	}
}

// signedOffer builds a public offer from maker signed by arbitrator.
func signedOffer(t *testing.T, maker peer.ID, arbitrator crypto.PrivKey) *models.PublicOffer {
	t.Helper()
	arbitratorID, err := peer.IDFromPrivateKey(arbitrator)
	if err != nil {
		t.Fatal(err)
	}
	o := testOffer(models.DirectionSell)
	o.ID = uuid.New().String()
	o.MakerPeerID = maker.Pretty()
	o.ArbitratorPeerID = arbitratorID.Pretty()
	o.Date = time.Now().UTC().Truncate(time.Second)

	hash, err := o.Hash()
	if err != nil {
		t.Fatal(err)
	}
	sig, err := arbitrator.Sign(hash)
	if err != nil {
		t.Fatal(err)
	}
	return &models.PublicOffer{
		Offer:               o,
		ArbitratorSignature: sig,
		ReserveTxHash:       "abc",
	}
}

func waitFor(t *testing.T, desc string, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second * 5)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(time.Millisecond * 10)
	}
	t.Fatalf("Timed out waiting for %s", desc)
}

func waitForState(t *testing.T, mgr *Manager, offerID string, state models.OpenOfferState) *models.OpenOffer {
	t.Helper()
	var oo *models.OpenOffer
	waitFor(t, "offer "+string(state), func() bool {
		var err error
		oo, err = mgr.GetOpenOffer(offerID)
		return err == nil && oo.State == state
	})
	return oo
}
