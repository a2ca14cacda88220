package core

import (
	"context"
	"sync"

	"github.com/cpacia/xmrescrow/api"
	"github.com/cpacia/xmrescrow/events"
	"github.com/cpacia/xmrescrow/filter"
	"github.com/cpacia/xmrescrow/net"
	"github.com/cpacia/xmrescrow/notifications"
	"github.com/cpacia/xmrescrow/offer"
	"github.com/cpacia/xmrescrow/repo"
	"github.com/cpacia/xmrescrow/trade"
	"github.com/cpacia/xmrescrow/wallet"
	"github.com/libp2p/go-libp2p-core/crypto"
	"github.com/libp2p/go-libp2p-core/host"
	peer "github.com/libp2p/go-libp2p-core/peer"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	ma "github.com/multiformats/go-multiaddr"
)

// XMREscrowNode holds all the components that make up a network node
// on the escrow network. It also exposes an exported API which can
// be used to control the node.
type XMREscrowNode struct {

	// repo holds the database and public data directory.
	repo *repo.Repo

	// host is the libp2p host the node listens on.
	host host.Host

	// dht stores the offer book. It is nil for mock nodes.
	dht *dht.IpfsDHT

	// identity is the node's libp2p private key.
	identity crypto.PrivKey

	// networkService manages sending and receiving messages
	// on the network.
	networkService *net.NetworkService

	// messenger manages the reliable sending of trade messages.
	// Messages are retried until they are acked and fall back to
	// the store and forward servers when the peer is offline.
	messenger *net.Messenger

	// banManager holds the peers we refuse to talk to.
	banManager *net.BanManager

	// filter extends the ban list with banned currencies and payment
	// methods.
	filter *filter.Filter

	// eventBus is used to pass events around the node components.
	eventBus events.Bus

	// wallet is the Monero wallet. Trade escrows are built with it.
	wallet *wallet.MockWallet

	// exchangeRates prices offers in the counter currencies.
	exchangeRates *wallet.ExchangeRateProvider

	// offerBook is the shared book our offers are published to and
	// other makers' offers are read from.
	offerBook offer.OfferBook

	// offerManager owns our open offers.
	offerManager *offer.Manager

	// tradeManager runs the trade protocols.
	tradeManager *trade.Manager

	// gateway is the HTTP API. Mock nodes don't have one.
	gateway *api.Gateway

	// notifier turns events into notifications for the API.
	notifier *notifications.Notifier

	// bootstrapAddrs are dialed at startup to join the DHT.
	bootstrapAddrs []ma.Multiaddr

	// storeAndForwardServers are our own mailbox servers.
	storeAndForwardServers []string

	testnet bool

	// shutdown is closed when the node is stopped. Any listening
	// goroutines can use this to terminate.
	shutdown chan struct{}
	stopOnce sync.Once
}

// Start gets the node up and running. Open trades are resumed and our
// saved offers are rescheduled.
func (n *XMREscrowNode) Start() error {
	n.wallet.Start()
	go n.messenger.Start()

	if n.notifier != nil {
		go n.notifier.Start()
	}
	if n.gateway != nil {
		go func() {
			if err := n.gateway.Serve(); err != nil {
				log.Debugf("Gateway stopped: %s", err)
			}
		}()
	}
	if n.dht != nil {
		go n.bootstrapDHT()
	}

	if err := n.tradeManager.Start(); err != nil {
		return err
	}
	return n.offerManager.Start()
}

// Stop cleanly shuts down the node and signals to any listening
// goroutines that it's time to stop. Our offers are removed from the
// offer book before anything else is torn down.
func (n *XMREscrowNode) Stop() {
	n.stopOnce.Do(func() {
		close(n.shutdown)
		n.offerManager.Shutdown()
		n.tradeManager.Stop()
		n.messenger.Stop()
		if n.notifier != nil {
			n.notifier.Stop()
		}
		if n.gateway != nil {
			if err := n.gateway.Close(); err != nil {
				log.Debugf("Error closing gateway: %s", err)
			}
		}
		n.wallet.Close()
		n.networkService.Close()
		if n.dht != nil {
			n.dht.Close()
		}
		n.host.Close()
		n.repo.Close()
	})
}

// DestroyNode shuts down the node and deletes the entire data directory.
// This should only be used during testing as destroying a live node will
// result in data loss.
func (n *XMREscrowNode) DestroyNode() {
	n.Stop()
	n.repo.DestroyRepo()
}

// Identity returns the peer ID for this node.
func (n *XMREscrowNode) Identity() peer.ID {
	return n.host.ID()
}

// Host returns the libp2p host.
func (n *XMREscrowNode) Host() host.Host {
	return n.host
}

// Wallet returns the node's wallet.
func (n *XMREscrowNode) Wallet() *wallet.MockWallet {
	return n.wallet
}

// Filter returns the node's ban lists.
func (n *XMREscrowNode) Filter() *filter.Filter {
	return n.filter
}

// SubscribeEvent subscribes to the provided event type on the bus.
func (n *XMREscrowNode) SubscribeEvent(event interface{}, opts ...events.SubscriptionOpt) (events.Subscription, error) {
	return n.eventBus.Subscribe(event, opts...)
}

// bootstrapDHT connects to the bootstrap peers and fills the routing
// table so the offer book becomes usable.
func (n *XMREscrowNode) bootstrapDHT() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-n.shutdown
		cancel()
	}()

	var wg sync.WaitGroup
	for _, addr := range n.bootstrapAddrs {
		pi, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			log.Warningf("Invalid bootstrap address %s: %s", addr, err)
			continue
		}
		wg.Add(1)
		go func(pi peer.AddrInfo) {
			defer wg.Done()
			if err := n.host.Connect(ctx, pi); err != nil {
				log.Debugf("Error connecting to bootstrap peer %s: %s", pi.ID, err)
			}
		}(*pi)
	}
	wg.Wait()

	if err := n.dht.Bootstrap(ctx); err != nil {
		log.Errorf("Error bootstrapping DHT: %s", err)
	}
}
