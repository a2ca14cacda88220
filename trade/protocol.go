package trade

import (
	"bytes"
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cpacia/xmrescrow/database"
	"github.com/cpacia/xmrescrow/events"
	"github.com/cpacia/xmrescrow/models"
	"github.com/cpacia/xmrescrow/net"
	"github.com/cpacia/xmrescrow/trade/pb"
	"github.com/golang/protobuf/proto"
	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/pkg/errors"
)

const sendTimeout = time.Second * 30

// input is a message being processed along with its authenticated sender.
type input struct {
	msg        *pb.TradeMessage
	body       proto.Message
	sender     peer.ID
	senderRole models.TradeRole
}

// Protocol drives a single trade. Every access to the trade happens on
// the protocol's goroutine so two steps of the same trade never overlap.
// Steps run against a copy of the trade which replaces the original only
// once it has been committed along with the step's outgoing messages.
type Protocol struct {
	id       string
	svc      *Services
	trade    *models.Trade
	handlers map[handlerKey]*handlerSpec
	actions  map[action]*handlerSpec
	metrics  *tradeMetrics

	persisted int32
	timer     *time.Timer
	onClose   func(p *Protocol)

	// replaces is a failed trade with the same ID. It is archived when
	// this protocol first saves its trade.
	replaces *models.Trade

	inbox    chan func()
	done     chan struct{}
	stopOnce sync.Once
}

// NewProtocol returns the protocol for the trade according to our role in
// it. persisted is set for trades loaded from the database.
func NewProtocol(t *models.Trade, svc *Services, persisted bool) (*Protocol, error) {
	handlers, actions := handlersFor(t.Role)
	if handlers == nil {
		return nil, models.ErrInvalidRole
	}
	p := &Protocol{
		id:       t.ID,
		svc:      svc,
		trade:    t,
		handlers: handlers,
		actions:  actions,
		metrics:  protocolMetrics(),
		inbox:    make(chan func()),
		done:     make(chan struct{}),
	}
	if persisted {
		p.persisted = 1
		p.metrics.opened(t.Phase)
	}
	return p, nil
}

// Start runs the protocol's goroutine.
func (p *Protocol) Start() {
	go p.run()
}

// Stop shuts the protocol down. Calls made after Stop return
// ErrTradeClosed.
func (p *Protocol) Stop() {
	p.stopOnce.Do(func() {
		p.do(func() error {
			p.stopTimer()
			return nil
		})
		close(p.done)
	})
}

func (p *Protocol) run() {
	for {
		select {
		case fn := <-p.inbox:
			fn()
		case <-p.done:
			return
		}
	}
}

// do runs fn on the protocol goroutine and waits for it to finish.
func (p *Protocol) do(fn func() error) error {
	resp := make(chan error, 1)
	select {
	case p.inbox <- func() { resp <- fn() }:
	case <-p.done:
		return ErrTradeClosed
	}
	return <-resp
}

// submit queues fn without waiting. Timers and delivery callbacks use it.
func (p *Protocol) submit(fn func() error) {
	go func() {
		if err := p.do(fn); err != nil && err != ErrTradeClosed {
			log.Errorf("Trade %s: %s", p.id, err)
		}
	}()
}

func (p *Protocol) isPersisted() bool {
	return atomic.LoadInt32(&p.persisted) == 1
}

// ID returns the trade ID.
func (p *Protocol) ID() string {
	return p.id
}

// Trade returns a copy of the current trade.
func (p *Protocol) Trade() (*models.Trade, error) {
	var (
		t   *models.Trade
		err error
	)
	derr := p.do(func() error {
		t, err = p.trade.Clone()
		return nil
	})
	if derr != nil {
		return nil, derr
	}
	return t, err
}

// HandleMessage processes a trade message from a peer.
func (p *Protocol) HandleMessage(msg *pb.TradeMessage, sender peer.ID) error {
	return p.do(func() error {
		return p.handle(msg, sender)
	})
}

// HandleAck processes a peer's acknowledgment of one of our messages.
func (p *Protocol) HandleAck(ack *pb.TradeAck, sender peer.ID) error {
	return p.do(func() error {
		return p.handleAck(ack, sender)
	})
}

// TakeOffer starts the trade as the taker.
func (p *Protocol) TakeOffer() error {
	return p.do(func() error {
		return p.runAction(actionTakeOffer)
	})
}

// PaymentSent is called by the buyer once the counter currency payment
// has been started.
func (p *Protocol) PaymentSent() error {
	return p.do(func() error {
		return p.runAction(actionPaymentSent)
	})
}

// PaymentReceived is called by the seller once the counter currency
// payment has arrived.
func (p *Protocol) PaymentReceived() error {
	return p.do(func() error {
		return p.runAction(actionPaymentReceived)
	})
}

// ChainUpdated re-evaluates the trade against the chain and expires
// stale deferred messages.
func (p *Protocol) ChainUpdated() {
	p.submit(func() error {
		p.drainPending()
		return p.chainUpdate()
	})
}

// Initialize resumes a trade loaded at startup. Unacknowledged mailbox
// messages are resent and the timeout is restored.
func (p *Protocol) Initialize() error {
	return p.do(p.initialize)
}

func (p *Protocol) initialize() error {
	changed := false
	for _, uid := range p.trade.ProcessModel.UnacknowledgedMailbox() {
		found, err := p.svc.Messenger.RetryMessage(uid, p.onDelivery(uid))
		if err != nil {
			log.Warningf("Trade %s: error resending %s: %s", p.id, uid, err)
			continue
		}
		// Messages are only removed from the outbox once acknowledged.
		if !found {
			p.trade.ProcessModel.Deliveries[uid].State = models.MessageStateAcknowledged
			changed = true
		}
	}
	if changed {
		if err := p.commit(p.trade, nil); err != nil {
			return err
		}
	}
	p.resetTimer()
	p.drainPending()
	return p.chainUpdate()
}

func (p *Protocol) emit(evt interface{}) {
	if p.svc.Bus != nil {
		p.svc.Bus.Emit(evt)
	}
}

// authenticate returns the sender's role. The sender must be one of the
// other parties and its key must match the one on file or, if none is on
// file yet, its peer ID.
func (p *Protocol) authenticate(msg *pb.TradeMessage, sender peer.ID) (models.TradeRole, error) {
	if msg.SenderPeerID != sender.Pretty() {
		return models.RoleUnknown, errors.Wrap(ErrUnknownSender, "sender peer ID mismatch")
	}
	role := p.trade.RoleOf(sender.Pretty())
	if role == models.RoleUnknown || role == p.trade.Role {
		return models.RoleUnknown, ErrUnknownSender
	}
	rec, err := p.trade.Peer(role)
	if err != nil {
		return models.RoleUnknown, err
	}
	if len(rec.Pubkey) > 0 {
		if !bytes.Equal(rec.Pubkey, msg.SenderPubkey) {
			return models.RoleUnknown, errors.Wrap(ErrUnknownSender, "pubkey does not match")
		}
		return role, nil
	}
	if err := checkPubkey(rec.PeerID, msg.SenderPubkey); err != nil {
		return models.RoleUnknown, err
	}
	return role, nil
}

func (p *Protocol) handle(msg *pb.TradeMessage, sender peer.ID) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Trade %s: panic handling %s: %v\n%s", p.id, msg.Type, r, debug.Stack())
			err = p.reply(msg, sender, fmt.Errorf("internal error: %v", r))
		}
	}()

	if msg.TradeID != p.id {
		return ErrWrongTrade
	}
	role, err := p.authenticate(msg, sender)
	if err != nil {
		log.Warningf("Trade %s: dropping %s from %s: %s", p.id, msg.Type, sender, err)
		return err
	}
	if p.svc.Filter != nil {
		if err := p.svc.Filter.ValidatePeer(sender.Pretty()); err != nil {
			log.Warningf("Trade %s: dropping %s from %s: %s", p.id, msg.Type, sender, err)
			return err
		}
	}
	if len(msg.MailboxServers) > 0 && p.svc.Messenger != nil {
		if err := p.svc.Messenger.UpdatePeerServers(sender, msg.MailboxServers); err != nil {
			log.Debugf("Trade %s: error saving mailbox servers of %s: %s", p.id, sender, err)
		}
	}

	if p.trade.ProcessModel.IsProcessed(msg.UID) {
		log.Debugf("Trade %s: %s %s already processed", p.id, msg.Type, msg.UID)
		return p.reply(msg, sender, nil)
	}
	if !p.trade.Open {
		return p.reply(msg, sender, ErrTradeClosed)
	}
	spec := p.handlers[handlerKey{msg.Type, role}]
	if spec == nil {
		return p.reply(msg, sender, errors.Wrapf(ErrUnexpectedMessage, "%s from %s", msg.Type, role))
	}
	body, err := msg.Body()
	if err != nil {
		return p.reply(msg, sender, err)
	}

	switch spec.states.check(p.trade.State) {
	case tooLate:
		log.Debugf("Trade %s: ignoring %s in state %s", p.id, msg.Type, p.trade.State)
		return p.reply(msg, sender, nil)
	case tooEarly:
		if spec.deferrable {
			return p.deferMessage(msg, sender, spec)
		}
		return p.reply(msg, sender, errors.Wrapf(ErrPrecondition, "%s in state %s", msg.Type, p.trade.State))
	}
	if spec.guard != nil {
		if err := spec.guard(p.trade); err != nil {
			return p.reply(msg, sender, err)
		}
	}
	return p.runStep(spec, &input{
		msg:        msg,
		body:       body,
		sender:     sender,
		senderRole: role,
	})
}

func (p *Protocol) runAction(a action) error {
	spec := p.actions[a]
	if spec == nil {
		return errors.Wrapf(ErrUnexpectedMessage, "%s is not available to the %s", a, p.trade.Role)
	}
	if !p.trade.Open {
		return ErrTradeClosed
	}
	if spec.states.check(p.trade.State) != ready {
		return errors.Wrapf(ErrPrecondition, "%s not allowed in state %s", spec.name, p.trade.State)
	}
	if spec.guard != nil {
		if err := spec.guard(p.trade); err != nil {
			return err
		}
	}
	return p.runStep(spec, nil)
}

func (p *Protocol) chainUpdate() error {
	spec := p.actions[actionChainUpdate]
	if spec == nil || !p.trade.Open || spec.states.check(p.trade.State) != ready {
		return nil
	}
	return p.runStep(spec, nil)
}

// runStep runs the step's tasks against a copy of the trade. On success
// the copy, its outgoing messages and the acknowledgment of the input are
// committed together and the copy becomes the trade.
func (p *Protocol) runStep(spec *handlerSpec, in *input) error {
	work, err := p.trade.Clone()
	if err != nil {
		return err
	}
	pm := newProcessModel(work, p.svc, in)
	if in != nil {
		pm.State().CurrentMessageUID = in.msg.UID
		pm.State().CurrentMessageType = in.msg.Type.String()
		if rec, err := work.Peer(in.senderRole); err == nil && len(rec.Pubkey) == 0 {
			rec.Pubkey = in.msg.SenderPubkey
		}
	}

	var taskErr error
	start := time.Now()
	NewTaskRunner(pm, nil, func(err error) { taskErr = err }, spec.tasks...).Run()
	p.metrics.observeStep(spec.name, taskErr, time.Since(start))

	if taskErr != nil {
		if spec.onFailure != nil {
			spec.onFailure(pm)
		}
		return p.stepFailed(spec, in, taskErr)
	}
	if in == nil && !pm.changed {
		return nil
	}

	if in != nil {
		pm.State().MarkProcessed(in.msg.UID)
		ack, err := newAck(p.id, in.msg, in.sender, nil)
		if err != nil {
			return err
		}
		pm.outbox = append(pm.outbox, ack)
	}
	switch spec.timer {
	case timerArm:
		pm.State().TimeoutAt = time.Now().Add(p.svc.Config.timeout())
	case timerClear:
		pm.State().TimeoutAt = time.Time{}
	}
	if work.Phase >= models.PhaseDepositsPublished {
		pm.State().TimeoutAt = time.Time{}
	}

	if err := p.commit(work, pm.outbox); err != nil {
		if spec.onFailure != nil {
			spec.onFailure(pm)
		}
		log.Errorf("Trade %s: error committing %s: %s", p.id, spec.name, err)
		return err
	}
	if in != nil {
		p.metrics.ack("sent", true)
	}

	prev := p.trade
	p.trade = work
	wasPersisted := atomic.SwapInt32(&p.persisted, 1) == 1
	p.afterCommit(prev, wasPersisted, pm)
	return nil
}

// stepFailed rejects the input, if any, and records the error. Nothing
// the failed step did is kept.
func (p *Protocol) stepFailed(spec *handlerSpec, in *input, taskErr error) error {
	log.Errorf("Trade %s: %s failed: %s", p.id, spec.name, taskErr)

	var out []outgoing
	if in != nil {
		ack, err := newAck(p.id, in.msg, in.sender, taskErr)
		if err == nil {
			out = append(out, ack)
		}
		p.metrics.ack("sent", false)
	}
	var save *models.Trade
	if p.isPersisted() {
		p.trade.ErrorMessage = taskErr.Error()
		save = p.trade
	}
	if err := p.commit(save, out); err != nil {
		log.Errorf("Trade %s: error recording failure: %s", p.id, err)
	}
	p.emit(&events.TradeErrorReported{
		TradeID:     p.id,
		MessageType: spec.name,
		Error:       taskErr.Error(),
	})
	return taskErr
}

func (p *Protocol) afterCommit(prev *models.Trade, wasPersisted bool, pm *ProcessModel) {
	t := p.trade
	if !wasPersisted {
		p.metrics.opened(t.Phase)
	} else {
		p.metrics.moved(prev.Phase, t.Phase)
	}
	if t.State != prev.State {
		log.Infof("Trade %s: %s -> %s", p.id, prev.State, t.State)
		p.emit(&events.TradeStateChanged{
			TradeID: p.id,
			Phase:   t.Phase.String(),
			State:   t.State.String(),
		})
	}
	for _, evt := range pm.events {
		p.emit(evt)
	}
	p.resetTimer()
	if !t.Open {
		p.closed()
		return
	}
	p.drainPending()
}

func (p *Protocol) closed() {
	p.metrics.closed(p.trade.Phase)
	if p.onClose != nil {
		go p.onClose(p)
	}
}

// commit saves the trade, when given, and hands the outgoing messages to
// the messenger in one transaction. Mailbox messages are stored in the
// same transaction. Direct messages go out once it commits.
func (p *Protocol) commit(t *models.Trade, out []outgoing) error {
	err := p.svc.DB.Update(func(tx database.Tx) error {
		if t != nil {
			if err := p.archiveReplaced(tx); err != nil {
				return err
			}
			if err := tx.Save(t); err != nil {
				return err
			}
		}
		for _, o := range out {
			if err := p.flush(tx, o); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil && t != nil {
		p.replaces = nil
	}
	return err
}

func (p *Protocol) archiveReplaced(tx database.Tx) error {
	if p.replaces == nil {
		return nil
	}
	archived, err := models.NewArchivedTrade(uuid.New().String(), p.replaces)
	if err != nil {
		return err
	}
	log.Infof("Trade %s: archiving failed attempt %s", p.id, archived.ID)
	return tx.Save(archived)
}

func (p *Protocol) flush(tx database.Tx, o outgoing) error {
	var onResult net.ResultFunc
	if o.uid != "" {
		onResult = p.onDelivery(o.uid)
	}
	if o.mailbox {
		return p.svc.Messenger.ReliablySendMessage(tx, o.to, o.msg, onResult)
	}
	tx.RegisterCommitHook(func() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()

			err := p.svc.Messenger.SendDirect(ctx, o.to, o.msg)
			if err != nil {
				log.Warningf("Trade %s: error sending to %s: %s", p.id, o.to, err)
			}
			if onResult == nil {
				return
			}
			if err != nil {
				onResult(net.DeliveryFailed, err)
			} else {
				onResult(net.DeliveredDirect, nil)
			}
		}()
	})
	return nil
}

// reply acknowledges msg outside of a step.
func (p *Protocol) reply(msg *pb.TradeMessage, to peer.ID, ackErr error) error {
	ack, err := newAck(p.id, msg, to, ackErr)
	if err != nil {
		log.Errorf("Trade %s: error building ack: %s", p.id, err)
		return ackErr
	}
	if err := p.commit(nil, []outgoing{ack}); err != nil {
		log.Errorf("Trade %s: error sending ack: %s", p.id, err)
	}
	p.metrics.ack("sent", ackErr == nil)
	if ackErr != nil {
		log.Warningf("Trade %s: rejected %s from %s: %s", p.id, msg.Type, to, ackErr)
	}
	return ackErr
}

func (p *Protocol) onDelivery(uid string) net.ResultFunc {
	return func(result net.DeliveryResult, err error) {
		p.submit(func() error {
			return p.recordDelivery(uid, result, err)
		})
	}
}

func (p *Protocol) recordDelivery(uid string, result net.DeliveryResult, sendErr error) error {
	rec := p.trade.ProcessModel.Deliveries[uid]
	if rec == nil || rec.State == models.MessageStateAcknowledged || rec.Rejected {
		return nil
	}
	state := models.MessageStateFailed
	switch result {
	case net.DeliveredDirect:
		state = models.MessageStateArrived
	case net.DeliveredToMailbox:
		state = models.MessageStateStoredInMailbox
	}
	if rec.State == state {
		return nil
	}
	rec.State = state
	rec.Error = ""
	if sendErr != nil {
		rec.Error = sendErr.Error()
	}
	if !p.isPersisted() {
		return nil
	}
	return p.commit(p.trade, nil)
}

func (p *Protocol) handleAck(ack *pb.TradeAck, sender peer.ID) error {
	rec := p.trade.ProcessModel.Deliveries[ack.SourceUID]
	if rec == nil || rec.Recipient != sender.Pretty() || rec.MessageType != ack.SourceMessageType.String() {
		log.Debugf("Trade %s: ignoring ack for unknown message %s from %s", p.id, ack.SourceUID, sender)
		return nil
	}
	if rec.State == models.MessageStateAcknowledged || rec.Rejected {
		return nil
	}
	p.metrics.ack("received", ack.Success)

	work, err := p.trade.Clone()
	if err != nil {
		return err
	}
	wrec := work.ProcessModel.Deliveries[ack.SourceUID]

	// A rejected mailbox message stays in the outbox and is resent
	// until the recipient accepts it or one side closes the trade.
	resend := !ack.Success && wrec.Mailbox && work.Open && ack.ErrorMessage != ErrTradeClosed.Error()
	if ack.Success {
		wrec.State = models.MessageStateAcknowledged
		wrec.Error = ""
	} else {
		wrec.State = models.MessageStateFailed
		wrec.Rejected = !resend
		wrec.Error = ack.ErrorMessage
	}
	err = p.svc.DB.Update(func(tx database.Tx) error {
		if err := tx.Save(work); err != nil {
			return err
		}
		if wrec.Mailbox && !resend {
			return p.svc.Messenger.DeleteMessage(tx, ack.SourceUID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.trade = work
	if ack.Success {
		return nil
	}

	log.Warningf("Trade %s: %s rejected our %s: %s", p.id, sender, rec.MessageType, ack.ErrorMessage)
	p.emit(&events.TradeErrorReported{
		TradeID:     p.id,
		MessageType: rec.MessageType,
		Error:       ack.ErrorMessage,
	})
	if resend {
		log.Infof("Trade %s: %s %s will be resent", p.id, rec.MessageType, ack.SourceUID)
		return nil
	}
	if work.Open && work.Phase <= models.PhaseDepositRequested {
		return p.failTrade(errors.Wrap(ErrPeerRejected, ack.ErrorMessage))
	}
	return nil
}

// deferMessage holds a message that arrived before the trade reached the
// state it needs. It is replayed once the state is reached and rejected
// when its deadline passes.
func (p *Protocol) deferMessage(msg *pb.TradeMessage, sender peer.ID, spec *handlerSpec) error {
	state := &p.trade.ProcessModel
	for _, pending := range state.Pending {
		if pending.UID == msg.UID {
			return nil
		}
	}
	ser, err := proto.Marshal(msg)
	if err != nil {
		return err
	}
	state.Pending = append(state.Pending, models.PendingMessage{
		UID:               msg.UID,
		Sender:            sender.Pretty(),
		SerializedMessage: ser,
		RequiredState:     spec.states.min,
		Deadline:          time.Now().Add(p.svc.Config.maxDeferral()),
	})
	log.Infof("Trade %s: deferring %s until %s", p.id, msg.Type, spec.states.min)
	if !p.isPersisted() {
		return nil
	}
	return p.commit(p.trade, nil)
}

// popPending removes and returns the first deferred message that is
// either ready or expired.
func (p *Protocol) popPending() (models.PendingMessage, bool) {
	state := &p.trade.ProcessModel
	now := time.Now()
	for i, pending := range state.Pending {
		if p.trade.State >= pending.RequiredState || now.After(pending.Deadline) {
			state.Pending = append(state.Pending[:i:i], state.Pending[i+1:]...)
			return pending, true
		}
	}
	return models.PendingMessage{}, false
}

func (p *Protocol) drainPending() {
	for {
		pending, ok := p.popPending()
		if !ok {
			return
		}
		msg := new(pb.TradeMessage)
		if err := proto.Unmarshal(pending.SerializedMessage, msg); err != nil {
			log.Errorf("Trade %s: corrupt deferred message %s: %s", p.id, pending.UID, err)
			continue
		}
		sender, err := peer.Decode(pending.Sender)
		if err != nil {
			log.Errorf("Trade %s: corrupt deferred message %s: %s", p.id, pending.UID, err)
			continue
		}
		if p.trade.State < pending.RequiredState {
			// Expired. The removal is persisted along with the rejection.
			ack, err := newAck(p.id, msg, sender, ErrDeferralExpired)
			if err != nil {
				continue
			}
			if err := p.commit(p.trade, []outgoing{ack}); err != nil {
				log.Errorf("Trade %s: error rejecting deferred message: %s", p.id, err)
			}
			p.metrics.ack("sent", false)
			continue
		}
		log.Debugf("Trade %s: replaying deferred %s", p.id, msg.Type)
		if err := p.handle(msg, sender); err != nil {
			log.Warningf("Trade %s: deferred %s failed: %s", p.id, msg.Type, err)
		}
	}
}

func (p *Protocol) stopTimer() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Protocol) resetTimer() {
	p.stopTimer()
	at := p.trade.ProcessModel.TimeoutAt
	if at.IsZero() || !p.trade.Open {
		return
	}
	p.timer = time.AfterFunc(time.Until(at), func() {
		p.submit(p.onTimeout)
	})
}

func (p *Protocol) onTimeout() error {
	t := p.trade
	at := t.ProcessModel.TimeoutAt
	if !t.Open || at.IsZero() || time.Now().Before(at) || t.Phase >= models.PhaseDepositsPublished {
		return nil
	}
	p.metrics.timeouts.Inc()
	return p.failTrade(errors.Wrapf(ErrTimeout, "no response in state %s", t.State))
}

// failTrade releases our funds and closes the trade. It is only used
// before the deposits are published.
func (p *Protocol) failTrade(reason error) error {
	work, err := p.trade.Clone()
	if err != nil {
		return err
	}
	p.releaseFunds(work)

	var out []outgoing
	for _, pending := range work.ProcessModel.Pending {
		msg := new(pb.TradeMessage)
		sender, err := peer.Decode(pending.Sender)
		if err != nil || proto.Unmarshal(pending.SerializedMessage, msg) != nil {
			continue
		}
		if ack, err := newAck(p.id, msg, sender, ErrTradeClosed); err == nil {
			out = append(out, ack)
		}
	}
	work.ProcessModel.Pending = nil
	work.ProcessModel.TimeoutAt = time.Time{}
	work.ErrorMessage = reason.Error()
	work.Open = false
	if err := work.SetState(models.StateTradeFailed); err != nil {
		return err
	}
	if err := p.commit(work, out); err != nil {
		return err
	}

	prev := p.trade
	p.trade = work
	atomic.StoreInt32(&p.persisted, 1)
	p.metrics.moved(prev.Phase, work.Phase)
	log.Warningf("Trade %s failed: %s", p.id, reason)

	p.emit(&events.TradeStateChanged{
		TradeID: p.id,
		Phase:   work.Phase.String(),
		State:   work.State.String(),
	})
	p.emit(&events.TradeFailed{TradeID: p.id, Reason: reason.Error()})
	p.stopTimer()
	p.closed()
	return nil
}

// releaseFunds returns the funds a failed trade had locked: the taker's
// reserved outputs or the maker's offer.
func (p *Protocol) releaseFunds(t *models.Trade) {
	switch t.Role {
	case models.RoleTaker:
		if len(t.Taker.ReserveTxKeyImages) == 0 {
			return
		}
		if err := p.svc.Wallet.ThawOutputs(t.Taker.ReserveTxKeyImages); err != nil {
			log.Errorf("Trade %s: error thawing reserved outputs: %s", p.id, err)
		}
	case models.RoleMaker:
		if t.Maker.ReserveTxHash == "" || p.svc.OpenOffers == nil {
			return
		}
		if err := p.svc.OpenOffers.UnreserveOffer(t.ID); err != nil {
			log.Errorf("Trade %s: error unreserving offer: %s", p.id, err)
		}
	}
}
