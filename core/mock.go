package core

import (
	"context"
	"fmt"
	"time"

	"github.com/cpacia/xmrescrow/events"
	"github.com/cpacia/xmrescrow/filter"
	"github.com/cpacia/xmrescrow/net"
	"github.com/cpacia/xmrescrow/notifications"
	"github.com/cpacia/xmrescrow/offer"
	"github.com/cpacia/xmrescrow/repo"
	"github.com/cpacia/xmrescrow/wallet"
	"github.com/libp2p/go-libp2p-core/crypto"
	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	ma "github.com/multiformats/go-multiaddr"
)

// Mocknet is a network of in-memory nodes. The nodes share one simulated
// Monero chain and one offer book. The last node is the arbitrator and
// signs the offers of the others.
type Mocknet struct {
	nodes []*XMREscrowNode
	chain *wallet.MockWalletNetwork
	book  *offer.MockOfferBook
	net   mocknet.Mocknet
}

// NewMocknet builds numNodes mock nodes linked over a libp2p mocknet.
// The nodes are connected but not started.
func NewMocknet(numNodes int) (*Mocknet, error) {
	ctx := context.Background()
	mn := mocknet.New(ctx)

	chain := wallet.NewMockWalletNetwork(numNodes)
	chain.SetUnlockDepth(1)

	var (
		repos []*repo.Repo
		keys  []crypto.PrivKey
	)
	for i := 0; i < numNodes; i++ {
		r, err := repo.MockRepo()
		if err != nil {
			return nil, err
		}
		keyBytes, err := r.IdentityKey()
		if err != nil {
			return nil, err
		}
		sk, err := crypto.UnmarshalPrivateKey(keyBytes)
		if err != nil {
			return nil, err
		}
		repos = append(repos, r)
		keys = append(keys, sk)
	}

	m := &Mocknet{
		chain: chain,
		book:  offer.NewMockOfferBook(),
		net:   mn,
	}
	for i := 0; i < numNodes; i++ {
		addr, err := ma.NewMultiaddr(fmt.Sprintf("/ip4/100.64.0.%d/tcp/4001", i+1))
		if err != nil {
			return nil, err
		}
		h, err := mn.AddPeer(keys[i], addr)
		if err != nil {
			return nil, err
		}

		bus := events.NewBus()
		bm := net.NewBanManager(nil)
		service := net.NewNetworkService(h, bm, true)
		messenger, err := net.NewMessenger(&net.MessengerConfig{
			Service: service,
			Privkey: keys[i],
			DB:      repos[i].DB(),
		})
		if err != nil {
			return nil, err
		}

		w := chain.Wallets()[i]
		w.SetEventBus(bus)

		node := &XMREscrowNode{
			repo:           repos[i],
			host:           h,
			identity:       keys[i],
			networkService: service,
			messenger:      messenger,
			banManager:     bm,
			filter:         filter.NewFilter(bm, nil, nil),
			eventBus:       bus,
			wallet:         w,
			offerBook:      m.book,
			testnet:        true,
			shutdown:       make(chan struct{}),
		}
		m.nodes = append(m.nodes, node)
	}

	arbitrator := m.nodes[numNodes-1].Identity()
	for i, node := range m.nodes {
		cfg := &repo.Config{
			Testnet:      true,
			Arbitrator:   i == numNodes-1,
			TradeTimeout: time.Second * 30,
		}
		if !cfg.Arbitrator {
			cfg.ArbitratorPeer = arbitrator.Pretty()
		}
		if err := node.buildManagers(cfg); err != nil {
			return nil, err
		}
		node.registerHandlers()
		node.listenNetworkEvents()
	}

	if err := mn.LinkAll(); err != nil {
		return nil, err
	}
	if err := mn.ConnectAllButSelf(); err != nil {
		return nil, err
	}
	return m, nil
}

// Nodes returns the nodes in the network.
func (m *Mocknet) Nodes() []*XMREscrowNode {
	return m.nodes
}

// Arbitrator returns the node which signs offers.
func (m *Mocknet) Arbitrator() *XMREscrowNode {
	return m.nodes[len(m.nodes)-1]
}

// Chain returns the simulated chain shared by the node wallets.
func (m *Mocknet) Chain() *wallet.MockWalletNetwork {
	return m.chain
}

// OfferBook returns the offer book shared by the nodes.
func (m *Mocknet) OfferBook() *offer.MockOfferBook {
	return m.book
}

// FundWallet mines amount to a new address of the node's wallet and
// confirms it.
func (m *Mocknet) FundWallet(n *XMREscrowNode, amount uint64) error {
	addr, err := n.wallet.NewAddress()
	if err != nil {
		return err
	}
	if _, err := m.chain.GenerateToAddress(addr, amount); err != nil {
		return err
	}
	m.chain.GenerateBlock()
	return nil
}

// StartAll starts every node.
func (m *Mocknet) StartAll() error {
	for _, n := range m.nodes {
		if err := n.Start(); err != nil {
			return err
		}
	}
	return nil
}

// TearDown shuts down the network and deletes the node data.
func (m *Mocknet) TearDown() {
	for _, n := range m.nodes {
		n.DestroyNode()
	}
	m.net.Close()
}

// AttachGateways gives each node an API gateway on the matching address
// in gatewayAddrs. It must be called before StartAll.
func (m *Mocknet) AttachGateways(gatewayAddrs []string) error {
	if len(gatewayAddrs) != len(m.nodes) {
		return fmt.Errorf("expected %d gateway addresses got %d", len(m.nodes), len(gatewayAddrs))
	}
	for i, n := range m.nodes {
		gw, err := n.newHTTPGateway(&repo.Config{GatewayAddr: gatewayAddrs[i]})
		if err != nil {
			return err
		}
		n.gateway = gw
		n.notifier = notifications.NewNotifier(n.eventBus, n.repo.DB(), gw.NotifyWebsockets)
	}
	return nil
}
