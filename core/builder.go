package core

import (
	"context"
	"fmt"
	"time"

	storeandforward "github.com/cpacia/go-store-and-forward"
	"github.com/cpacia/xmrescrow/api"
	"github.com/cpacia/xmrescrow/events"
	"github.com/cpacia/xmrescrow/filter"
	"github.com/cpacia/xmrescrow/net"
	"github.com/cpacia/xmrescrow/net/pb"
	"github.com/cpacia/xmrescrow/notifications"
	"github.com/cpacia/xmrescrow/offer"
	"github.com/cpacia/xmrescrow/repo"
	"github.com/cpacia/xmrescrow/trade"
	"github.com/cpacia/xmrescrow/version"
	"github.com/cpacia/xmrescrow/wallet"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p-core/crypto"
	"github.com/libp2p/go-libp2p-core/host"
	inet "github.com/libp2p/go-libp2p-core/network"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-core/protocol"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr-net"
	"github.com/op/go-logging"
	"github.com/pkg/errors"
)

// maxRecordAge is the maximum amount of time to keep a record in the DHT before deleting it.
const maxRecordAge = time.Hour * 24 * 7

var (
	log = logging.MustGetLogger("CORE")

	defaultSwarmAddrs = []string{
		"/ip4/0.0.0.0/tcp/4101",
		"/ip6/::/tcp/4101",
	}
)

// NewNode constructs and returns an XMREscrowNode using the given cfg.
func NewNode(ctx context.Context, cfg *repo.Config) (*XMREscrowNode, error) {
	escrowRepo, err := repo.NewRepo(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	if err := escrowRepo.WriteUserAgent(""); err != nil {
		return nil, err
	}

	keyBytes, err := escrowRepo.IdentityKey()
	if err != nil {
		return nil, err
	}
	sk, err := crypto.UnmarshalPrivateKey(keyBytes)
	if err != nil {
		return nil, err
	}

	swarmAddrs := cfg.SwarmAddrs
	if len(swarmAddrs) == 0 {
		swarmAddrs = defaultSwarmAddrs
	}
	peerHost, err := libp2p.New(ctx,
		libp2p.Identity(sk),
		libp2p.ListenAddrStrings(swarmAddrs...),
		libp2p.UserAgent(version.UserAgent()),
	)
	if err != nil {
		return nil, err
	}

	bootstrapAddrs := make([]ma.Multiaddr, 0, len(cfg.BootstrapAddrs))
	for _, addr := range cfg.BootstrapAddrs {
		maddr, err := ma.NewMultiaddr(addr)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid bootstrap address %s", addr)
		}
		bootstrapAddrs = append(bootstrapAddrs, maddr)
	}

	// The DHT records and the mailbox server share one datastore.
	dstore := dssync.MutexWrap(datastore.NewMapDatastore())

	kad, err := constructDHT(ctx, peerHost, dstore, cfg.Testnet)
	if err != nil {
		return nil, err
	}

	// Store and forward client and server
	snfServers := make([]peer.ID, 0, len(cfg.StoreAndForwardServers))
	for _, serverStr := range cfg.StoreAndForwardServers {
		server, err := peer.Decode(serverStr)
		if err != nil {
			return nil, errors.Wrap(err, "invalid store and forward peer ID in config")
		}
		snfServers = append(snfServers, server)
	}

	snfProtocol := net.ProtocolStoreAndForwardMainnet
	if cfg.Testnet {
		snfProtocol = net.ProtocolStoreAndForwardTestnet
	}

	if cfg.EnableSNFServer {
		serverOpts := []storeandforward.Option{
			storeandforward.Protocols(protocol.ID(snfProtocol)),
			storeandforward.Datastore(dstore),
		}
		if _, err := storeandforward.NewServer(ctx, peerHost, serverOpts...); err != nil {
			return nil, err
		}
	}

	var snfClient *storeandforward.Client
	if len(snfServers) > 0 {
		snfClient, err = storeandforward.NewClient(ctx, sk, snfServers, peerHost, storeandforward.Protocols(protocol.ID(snfProtocol)))
		if err != nil {
			return nil, err
		}
	}

	blocked := make([]peer.ID, 0, len(cfg.BannedPeers))
	for _, p := range cfg.BannedPeers {
		pid, err := peer.Decode(p)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid banned peer %s", p)
		}
		blocked = append(blocked, pid)
	}
	bm := net.NewBanManager(blocked)
	service := net.NewNetworkService(peerHost, bm, cfg.Testnet)

	messenger, err := net.NewMessenger(&net.MessengerConfig{
		Service:    service,
		Privkey:    sk,
		DB:         escrowRepo.DB(),
		SNFClient:  snfClient,
		SNFServers: snfServers,
	})
	if err != nil {
		return nil, err
	}

	book, err := offer.NewDHTOfferBook(kad, sk)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus()
	w := wallet.NewMockWallet()
	w.SetEventBus(bus)

	var erp *wallet.ExchangeRateProvider
	if cfg.ExchangeRateURL != "" {
		erp = wallet.NewExchangeRateProvider([]string{cfg.ExchangeRateURL})
	}

	node := &XMREscrowNode{
		repo:                   escrowRepo,
		host:                   peerHost,
		dht:                    kad,
		identity:               sk,
		networkService:         service,
		messenger:              messenger,
		banManager:             bm,
		filter:                 filter.NewFilter(bm, cfg.BannedCurrency, cfg.BannedMethod),
		eventBus:               bus,
		wallet:                 w,
		exchangeRates:          erp,
		offerBook:              book,
		bootstrapAddrs:         bootstrapAddrs,
		storeAndForwardServers: cfg.StoreAndForwardServers,
		testnet:                cfg.Testnet,
		shutdown:               make(chan struct{}),
	}

	if err := node.buildManagers(cfg); err != nil {
		return nil, err
	}

	if cfg.GatewayAddr != "" {
		node.gateway, err = node.newHTTPGateway(cfg)
		if err != nil {
			return nil, err
		}
		node.notifier = notifications.NewNotifier(bus, escrowRepo.DB(), node.gateway.NotifyWebsockets)
	}

	node.registerHandlers()
	node.listenNetworkEvents()

	return node, nil
}

// buildManagers creates the offer and trade managers. The offer manager
// is the trade engine's view of our open offers.
func (n *XMREscrowNode) buildManagers(cfg *repo.Config) error {
	var err error
	n.offerManager, err = offer.NewManager(&offer.Services{
		Wallet:   n.wallet,
		DB:       n.repo.DB(),
		Bus:      n.eventBus,
		Network:  n.networkService,
		Book:     n.offerBook,
		Filter:   n.filter,
		Identity: n.identity,
		PeerID:   n.host.ID(),
		Config: &offer.Config{
			ArbitratorPeerID:  cfg.ArbitratorPeer,
			Arbitrator:        cfg.Arbitrator,
			RefreshInterval:   cfg.RefreshInterval,
			RepublishInterval: cfg.RepublishInterval,
			ProtocolVersion:   version.ProtocolVersion,
		},
	})
	if err != nil {
		return err
	}

	n.tradeManager, err = trade.NewManager(&trade.Services{
		Wallet:     n.wallet,
		Messenger:  n.messenger,
		DB:         n.repo.DB(),
		Bus:        n.eventBus,
		Filter:     n.filter,
		OpenOffers: n.offerManager,
		Identity:   n.identity,
		PeerID:     n.host.ID(),
		Config: &trade.Config{
			Timeout:         cfg.TradeTimeout,
			MaxDeferral:     cfg.MaxDeferral,
			Arbitrator:      cfg.Arbitrator,
			ProtocolVersion: version.ProtocolVersion,
		},
	})
	return err
}

func (n *XMREscrowNode) newHTTPGateway(cfg *repo.Config) (*api.Gateway, error) {
	gatewayMaddr, err := ma.NewMultiaddr(cfg.GatewayAddr)
	if err != nil {
		return nil, fmt.Errorf("newHTTPGateway: invalid gateway address: %q (err: %s)", cfg.GatewayAddr, err)
	}
	gwLis, err := manet.Listen(gatewayMaddr)
	if err != nil {
		return nil, fmt.Errorf("newHTTPGateway: manet.Listen(%s) failed: %s", gatewayMaddr, err)
	}

	config := &api.GatewayConfig{
		Listener:       manet.NetListener(gwLis),
		Username:       cfg.APIUsername,
		Password:       cfg.APIPassword,
		DisableMetrics: cfg.DisableMetrics,
	}
	return api.NewGateway(n, config)
}

// constructDHT builds the Kademlia DHT on our own protocol prefix so
// the network stays separate from the public IPFS DHT. Only public keys
// and offer book records are accepted.
func constructDHT(ctx context.Context, h host.Host, dstore datastore.Batching, testnet bool) (*dht.IpfsDHT, error) {
	prefix := net.ProtocolPrefixMainnet
	if testnet {
		prefix = net.ProtocolPrefixTestnet
	}
	return dht.New(
		ctx, h,
		dht.Concurrency(10),
		dht.Mode(dht.ModeAuto),
		dht.Datastore(dstore),
		dht.Validator(offer.Validators()),
		dht.ProtocolPrefix(protocol.ID(prefix)),
		dht.MaxRecordAge(maxRecordAge),
	)
}

func (n *XMREscrowNode) registerHandlers() {
	n.networkService.RegisterHandler(pb.Message_ACK, n.handleAckMessage)
	n.networkService.RegisterHandler(pb.Message_TRADE, n.tradeManager.HandleTradeMessage)
	n.networkService.RegisterHandler(pb.Message_TRADE_ACK, n.tradeManager.HandleTradeAck)
	n.networkService.RegisterHandler(pb.Message_SIGN_OFFER_REQUEST, n.offerManager.HandleSignOfferRequest)
	n.networkService.RegisterHandler(pb.Message_SIGN_OFFER_RESPONSE, n.offerManager.HandleSignOfferResponse)
	n.networkService.RegisterHandler(pb.Message_PING, n.handlePingMessage)
	n.networkService.RegisterHandler(pb.Message_PONG, n.handlePongMessage)
}

func (n *XMREscrowNode) listenNetworkEvents() {
	serverMap := make(map[string]bool)
	for _, server := range n.storeAndForwardServers {
		serverMap[server] = true
	}

	connected := func(_ inet.Network, conn inet.Conn) {
		if serverMap[conn.RemotePeer().Pretty()] {
			log.Debugf("Established connection to store and forward server %s", conn.RemotePeer().Pretty())
		}
		n.eventBus.Emit(&events.PeerConnected{Peer: conn.RemotePeer()})
	}
	disConnected := func(_ inet.Network, conn inet.Conn) {
		if serverMap[conn.RemotePeer().Pretty()] {
			log.Debugf("Disconnected from store and forward server %s", conn.RemotePeer().Pretty())
		}
		n.eventBus.Emit(&events.PeerDisconnected{Peer: conn.RemotePeer()})
	}

	notifier := &inet.NotifyBundle{
		ConnectedF:    connected,
		DisconnectedF: disConnected,
	}

	n.host.Network().Notify(notifier)

	sub, err := n.eventBus.Subscribe(&events.PeerConnected{})
	if err != nil {
		log.Errorf("Error subscribing to PeerConnected event: %s", err)
		return
	}
	go n.syncMessages(sub)
}
