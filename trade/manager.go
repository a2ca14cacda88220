package trade

import (
	"context"
	"sync"
	"time"

	"github.com/cpacia/xmrescrow/database"
	"github.com/cpacia/xmrescrow/events"
	"github.com/cpacia/xmrescrow/models"
	npb "github.com/cpacia/xmrescrow/net/pb"
	"github.com/cpacia/xmrescrow/trade/pb"
	"github.com/golang/protobuf/proto"
	"github.com/jinzhu/gorm"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const chainPollInterval = time.Second * 30

// Manager owns the protocols of every open trade and routes trade
// messages, acks and chain events to them.
type Manager struct {
	svc       *Services
	protocols map[string]*Protocol
	mtx       sync.RWMutex
	sub       events.Subscription
	shutdown  chan struct{}
}

// NewManager returns a new trade manager.
func NewManager(svc *Services) (*Manager, error) {
	if svc.PeerID == "" && svc.Identity != nil {
		pid, err := peer.IDFromPrivateKey(svc.Identity)
		if err != nil {
			return nil, err
		}
		svc.PeerID = pid
	}
	return &Manager{
		svc:       svc,
		protocols: make(map[string]*Protocol),
		shutdown:  make(chan struct{}),
	}, nil
}

// Start loads the open trades from the database and resumes them.
func (m *Manager) Start() error {
	var trades []models.Trade
	err := m.svc.DB.View(func(tx database.Tx) error {
		return tx.Read().Where("open = ?", true).Find(&trades).Error
	})
	if err != nil && !gorm.IsRecordNotFoundError(err) {
		return err
	}

	eg := &errgroup.Group{}
	for i := range trades {
		t := trades[i]
		p, err := m.newProtocol(&t, true)
		if err != nil {
			log.Errorf("Error loading trade %s: %s", t.ID, err)
			continue
		}
		m.mtx.Lock()
		m.protocols[t.ID] = p
		m.mtx.Unlock()
		eg.Go(p.Initialize)
	}
	if err := eg.Wait(); err != nil {
		log.Errorf("Error resuming trades: %s", err)
	}
	log.Infof("Resumed %d open trades", len(trades))

	if m.svc.Bus != nil {
		sub, err := m.svc.Bus.Subscribe([]interface{}{
			new(events.BlockReceived),
			new(events.TransactionConfirmed),
		})
		if err != nil {
			return err
		}
		m.sub = sub
	}
	go m.chainLoop()
	return nil
}

// Stop shuts down every protocol.
func (m *Manager) Stop() {
	close(m.shutdown)
	if m.sub != nil {
		m.sub.Close()
	}
	m.mtx.Lock()
	protocols := m.protocols
	m.protocols = make(map[string]*Protocol)
	m.mtx.Unlock()

	for _, p := range protocols {
		p.Stop()
	}
}

func (m *Manager) chainLoop() {
	var sub <-chan interface{}
	if m.sub != nil {
		sub = m.sub.Out()
	}
	ticker := time.NewTicker(chainPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.shutdown:
			return
		case _, ok := <-sub:
			if !ok {
				sub = nil
				continue
			}
			m.chainUpdated()
		case <-ticker.C:
			m.chainUpdated()
		}
	}
}

func (m *Manager) chainUpdated() {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	for _, p := range m.protocols {
		p.ChainUpdated()
	}
}

func (m *Manager) newProtocol(t *models.Trade, persisted bool) (*Protocol, error) {
	p, err := NewProtocol(t, m.svc, persisted)
	if err != nil {
		return nil, err
	}
	p.onClose = m.remove
	p.Start()
	return p, nil
}

// createProtocol registers a protocol for a trade that is not running.
// build receives the stored trade, if any, and returns the trade to run.
// When a protocol is already registered it is returned with created
// unset. The manager lock is held throughout so concurrent creations of
// the same trade yield one protocol.
func (m *Manager) createProtocol(id string, build func(existing *models.Trade) (*models.Trade, error)) (p *Protocol, created bool, err error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if p := m.protocols[id]; p != nil {
		return p, false, nil
	}
	existing, err := m.loadTrade(id)
	if err != nil && err != ErrTradeNotFound {
		return nil, false, err
	}
	t, err := build(existing)
	if err != nil {
		return nil, false, err
	}
	p, err = m.newProtocol(t, false)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		p.replaces = existing
	}
	m.protocols[id] = p
	return p, true, nil
}

func (m *Manager) protocol(id string) *Protocol {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.protocols[id]
}

// remove stops p and unregisters it unless another protocol has
// replaced it.
func (m *Manager) remove(p *Protocol) {
	m.mtx.Lock()
	if m.protocols[p.id] == p {
		delete(m.protocols, p.id)
	}
	m.mtx.Unlock()
	p.Stop()
}

func (m *Manager) loadTrade(id string) (*models.Trade, error) {
	var t models.Trade
	err := m.svc.DB.View(func(tx database.Tx) error {
		return tx.Read().Where("id = ?", id).First(&t).Error
	})
	if gorm.IsRecordNotFoundError(err) {
		return nil, ErrTradeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// HandleTradeMessage routes a trade message to its protocol. An
// INIT_TRADE_REQUEST for an unknown trade creates the protocol when we
// are the arbitrator or the maker named in it.
func (m *Manager) HandleTradeMessage(from peer.ID, message *npb.Message) error {
	msg := new(pb.TradeMessage)
	if err := proto.Unmarshal(message.Payload, msg); err != nil {
		return err
	}
	if msg.SenderPeerID != from.Pretty() {
		return errors.Wrap(ErrUnknownSender, "sender peer ID mismatch")
	}

	if p := m.protocol(msg.TradeID); p != nil {
		return p.HandleMessage(msg, from)
	}

	var (
		closed *models.Trade
		role   models.TradeRole
	)
	p, created, err := m.createProtocol(msg.TradeID, func(existing *models.Trade) (*models.Trade, error) {
		if existing != nil && !m.canRecreate(existing, msg) {
			closed = existing
			return nil, ErrTradeClosed
		}
		if msg.Type != pb.TradeMessage_INIT_TRADE_REQUEST {
			return nil, errors.Wrapf(ErrTradeNotFound, "%s for trade %s", msg.Type, msg.TradeID)
		}
		t, err := m.newTradeFromRequest(msg, from)
		if err != nil {
			return nil, err
		}
		role = t.Role
		return t, nil
	})
	if closed != nil {
		return m.ackClosedTrade(closed, msg, from)
	}
	if err != nil {
		return err
	}
	handleErr := p.HandleMessage(msg, from)
	if !created {
		return handleErr
	}
	if !p.isPersisted() {
		m.remove(p)
		return handleErr
	}
	if m.svc.Bus != nil {
		m.svc.Bus.Emit(&events.TradeCreated{
			TradeID: msg.TradeID,
			OfferID: msg.TradeID,
			Role:    string(role),
		})
	}
	return handleErr
}

// canRecreate allows a failed trade to be started over by a new request.
// Offers stay open after a failed take so the same trade ID is reused.
func (m *Manager) canRecreate(t *models.Trade, msg *pb.TradeMessage) bool {
	return t.State == models.StateTradeFailed &&
		msg.Type == pb.TradeMessage_INIT_TRADE_REQUEST &&
		!t.ProcessModel.IsProcessed(msg.UID)
}

// ackClosedTrade answers messages for trades that are no longer running
// so the sender stops resending them.
func (m *Manager) ackClosedTrade(t *models.Trade, msg *pb.TradeMessage, from peer.ID) error {
	var ackErr error
	if !t.ProcessModel.IsProcessed(msg.UID) {
		ackErr = ErrTradeClosed
	}
	ack, err := newAck(t.ID, msg, from, ackErr)
	if err != nil {
		return err
	}
	if ack.mailbox {
		return m.svc.DB.Update(func(tx database.Tx) error {
			return m.svc.Messenger.ReliablySendMessage(tx, ack.to, ack.msg, nil)
		})
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := m.svc.Messenger.SendDirect(ctx, ack.to, ack.msg); err != nil {
			log.Debugf("Error acking closed trade %s: %s", t.ID, err)
		}
	}()
	return nil
}

func (m *Manager) newTradeFromRequest(msg *pb.TradeMessage, from peer.ID) (*models.Trade, error) {
	body, err := msg.Body()
	if err != nil {
		return nil, err
	}
	req := body.(*pb.InitTradeRequest)
	if req.OfferID != msg.TradeID {
		return nil, ErrWrongTrade
	}

	self := m.svc.PeerID.Pretty()
	var role models.TradeRole
	switch {
	case m.svc.Config != nil && m.svc.Config.Arbitrator && req.ArbitratorPeerID == self && from.Pretty() == req.TakerPeerID:
		role = models.RoleArbitrator
	case req.MakerPeerID == self && from.Pretty() == req.ArbitratorPeerID:
		role = models.RoleMaker
	default:
		return nil, errors.Wrap(ErrUnknownSender, "not a party to the requested trade")
	}
	return &models.Trade{
		ID:              msg.TradeID,
		ProtocolVersion: msg.ProtocolVersion,
		Role:            role,
		Phase:           models.PhaseInit,
		State:           models.StatePreparation,
		Open:            true,
		Timestamp:       time.Now(),
		Maker:           models.TradingPeer{PeerID: req.MakerPeerID},
		Taker:           models.TradingPeer{PeerID: req.TakerPeerID},
		Arbitrator:      models.TradingPeer{PeerID: req.ArbitratorPeerID},
	}, nil
}

// HandleTradeAck routes a trade ack to its protocol.
func (m *Manager) HandleTradeAck(from peer.ID, message *npb.Message) error {
	ack := new(pb.TradeAck)
	if err := proto.Unmarshal(message.Payload, ack); err != nil {
		return err
	}
	// Acks of mailbox messages are themselves mailbox messages and
	// must be acked at the network level.
	if ack.SourceMessageType.IsMailbox() {
		m.svc.Messenger.SendACK(message.MessageID, from)
	}

	p := m.protocol(ack.TradeID)
	if p == nil {
		return m.svc.DB.Update(func(tx database.Tx) error {
			return m.svc.Messenger.DeleteMessage(tx, ack.SourceUID)
		})
	}
	return p.HandleAck(ack, from)
}

// TakeOffer starts a trade for the given public offer.
func (m *Manager) TakeOffer(offer *models.PublicOffer, amount uint64, paymentAccountID string) (*models.Trade, error) {
	o := offer.Offer
	if err := verifyArbitratorSignature(offer); err != nil {
		return nil, err
	}
	if o.MakerPeerID == m.svc.PeerID.Pretty() {
		return nil, errors.New("cannot take our own offer")
	}
	build := func(existing *models.Trade) (*models.Trade, error) {
		if existing != nil && existing.State != models.StateTradeFailed {
			return nil, ErrTradeExists
		}
		return m.newTakerTrade(o, amount, paymentAccountID), nil
	}
	p, created, err := m.createProtocol(o.ID, build)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, ErrTradeExists
	}
	if err := p.TakeOffer(); err != nil {
		m.remove(p)
		return nil, err
	}
	if m.svc.Bus != nil {
		m.svc.Bus.Emit(&events.TradeCreated{
			TradeID: o.ID,
			OfferID: o.ID,
			Role:    string(models.RoleTaker),
		})
	}
	return p.Trade()
}

func (m *Manager) newTakerTrade(o models.Offer, amount uint64, paymentAccountID string) *models.Trade {
	return &models.Trade{
		ID:              o.ID,
		ProtocolVersion: o.ProtocolVersion,
		Role:            models.RoleTaker,
		FundsRole:       o.TakerFundsRole(),
		Phase:           models.PhaseInit,
		State:           models.StatePreparation,
		Amount:          amount,
		Price:           o.Price.String(),
		Open:            true,
		Timestamp:       time.Now(),
		Offer:           o,
		Maker: models.TradingPeer{
			PeerID: o.MakerPeerID,
			Pubkey: o.MakerPubkey,
		},
		Taker: models.TradingPeer{
			PeerID:           m.svc.PeerID.Pretty(),
			PaymentAccountID: paymentAccountID,
		},
		Arbitrator: models.TradingPeer{PeerID: o.ArbitratorPeerID},
	}
}

func verifyArbitratorSignature(offer *models.PublicOffer) error {
	if err := offer.VerifySignature(); err != nil {
		return errors.Wrap(ErrInvalidSignature, err.Error())
	}
	return nil
}

// OnPaymentSent records that the buyer started the counter currency
// payment.
func (m *Manager) OnPaymentSent(tradeID string) error {
	p := m.protocol(tradeID)
	if p == nil {
		return ErrTradeNotFound
	}
	return p.PaymentSent()
}

// OnPaymentReceived records that the seller received the counter
// currency payment and releases the escrow.
func (m *Manager) OnPaymentReceived(tradeID string) error {
	p := m.protocol(tradeID)
	if p == nil {
		return ErrTradeNotFound
	}
	return p.PaymentReceived()
}

// GetTrade returns a trade by ID, open or not.
func (m *Manager) GetTrade(tradeID string) (*models.Trade, error) {
	if p := m.protocol(tradeID); p != nil {
		t, err := p.Trade()
		if err == nil {
			return t, nil
		}
	}
	return m.loadTrade(tradeID)
}

// ListTrades returns every trade in the database, newest first.
func (m *Manager) ListTrades() ([]models.Trade, error) {
	var trades []models.Trade
	err := m.svc.DB.View(func(tx database.Tx) error {
		return tx.Read().Order("timestamp desc").Find(&trades).Error
	})
	if err != nil && !gorm.IsRecordNotFoundError(err) {
		return nil, err
	}
	return trades, nil
}

// TradeHistory returns the failed attempts on a trade that were replaced
// by a later attempt, oldest first.
func (m *Manager) TradeHistory(tradeID string) ([]models.ArchivedTrade, error) {
	var archived []models.ArchivedTrade
	err := m.svc.DB.View(func(tx database.Tx) error {
		return tx.Read().Where("trade_id = ?", tradeID).Order("archived_at asc").Find(&archived).Error
	})
	if err != nil && !gorm.IsRecordNotFoundError(err) {
		return nil, err
	}
	return archived, nil
}
