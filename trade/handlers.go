package trade

import (
	"github.com/cpacia/xmrescrow/models"
	"github.com/cpacia/xmrescrow/trade/pb"
	"github.com/pkg/errors"
)

// handlerKey selects a handler by message type and the sender's role.
type handlerKey struct {
	typ  pb.TradeMessage_Type
	from models.TradeRole
}

// action is a step triggered locally rather than by a peer's message.
type action int

const (
	actionTakeOffer action = iota
	actionPaymentSent
	actionPaymentReceived
	actionChainUpdate
)

var actionNames = map[action]string{
	actionTakeOffer:       "TakeOffer",
	actionPaymentSent:     "PaymentSent",
	actionPaymentReceived: "PaymentReceived",
	actionChainUpdate:     "ChainUpdate",
}

func (a action) String() string {
	return actionNames[a]
}

// timerMode says what a successful step does with the trade timeout.
type timerMode int

const (
	// timerClear stops the timeout. The awaited response arrived.
	timerClear timerMode = iota
	// timerArm restarts the timeout. We now wait on a peer.
	timerArm
	// timerKeep leaves the timeout as it is.
	timerKeep
)

type readiness int

const (
	ready readiness = iota
	tooEarly
	tooLate
)

// stateRange is the inclusive range of states a step may run in.
type stateRange struct {
	min, max models.TradeState
}

func between(min, max models.TradeState) stateRange {
	return stateRange{min, max}
}

func exactly(s models.TradeState) stateRange {
	return stateRange{s, s}
}

func atLeast(s models.TradeState) stateRange {
	return stateRange{s, models.StateTradeCompleted}
}

func (r stateRange) check(s models.TradeState) readiness {
	switch {
	case s < r.min:
		return tooEarly
	case s > r.max:
		return tooLate
	}
	return ready
}

// handlerSpec describes one protocol step: the states it is valid in, an
// optional guard and the tasks it runs.
type handlerSpec struct {
	name   string
	states stateRange
	guard  func(t *models.Trade) error

	// deferrable steps hold messages that arrive before states.min.
	deferrable bool
	timer      timerMode
	tasks      []Task

	// onFailure releases resources acquired by a failed run.
	onFailure func(pm *ProcessModel)
}

func buyerOnly(t *models.Trade) error {
	if !t.IsBuyer() {
		return errors.Wrap(ErrUnexpectedMessage, "only the buyer may do this")
	}
	return nil
}

func sellerOnly(t *models.Trade) error {
	if !t.IsSeller() {
		return errors.Wrap(ErrUnexpectedMessage, "only the seller may do this")
	}
	return nil
}

func releaseReservedFunds(pm *ProcessModel) {
	if !pm.reserved {
		return
	}
	t := pm.Trade
	switch t.Role {
	case models.RoleTaker:
		if err := pm.Wallet().ThawOutputs(t.Taker.ReserveTxKeyImages); err != nil {
			log.Errorf("Trade %s: error thawing reserved outputs: %s", t.ID, err)
		}
	case models.RoleMaker:
		if err := pm.svc.OpenOffers.UnreserveOffer(t.ID); err != nil {
			log.Errorf("Trade %s: error unreserving offer: %s", t.ID, err)
		}
	}
}

// traderHandlers are shared by the maker and the taker.
func traderHandlers(counterparty models.TradeRole) map[handlerKey]*handlerSpec {
	multisigRequest := &handlerSpec{
		name:   "InitMultisigRequest",
		states: between(models.StateInitTradeRequestSent, models.StateContractSigned),
		timer:  timerArm,
		tasks:  []Task{applyInitMultisigReq, advanceMultisig},
	}
	return map[handlerKey]*handlerSpec{
		{pb.TradeMessage_PREPARE_MULTISIG_REQUEST, models.RoleArbitrator}: {
			name:   "PrepareMultisigRequest",
			states: exactly(models.StateInitTradeRequestSent),
			timer:  timerArm,
			tasks:  []Task{applyPrepareMultisigReq, prepareMultisig, advanceMultisig},
		},
		{pb.TradeMessage_INIT_MULTISIG_REQUEST, counterparty}:          multisigRequest,
		{pb.TradeMessage_INIT_MULTISIG_REQUEST, models.RoleArbitrator}: multisigRequest,
		{pb.TradeMessage_DEPOSIT_RESPONSE, models.RoleArbitrator}: {
			name:   "DepositResponse",
			states: exactly(models.StateSentDepositRequest),
			timer:  timerClear,
			tasks:  []Task{applyDepositResponse, sendDepositTxMessage},
		},
		{pb.TradeMessage_DEPOSIT_TX, counterparty}: {
			name:   "DepositTx",
			states: atLeast(models.StateSentDepositRequest),
			timer:  timerKeep,
			tasks:  []Task{applyDepositTxMessage},
		},
		{pb.TradeMessage_DEPOSITS_CONFIRMED, counterparty}: {
			name:   "DepositsConfirmed",
			states: atLeast(models.StateSentDepositRequest),
			timer:  timerKeep,
			tasks:  []Task{markDepositsConfirmed},
		},
		{pb.TradeMessage_UPDATE_MULTISIG_REQUEST, counterparty}: {
			name:   "UpdateMultisigRequest",
			states: between(models.StateArbitratorPublishedDepositTxs, models.StateSellerReceivedPaymentSentMsg),
			guard:  sellerOnly,
			timer:  timerKeep,
			tasks:  []Task{importPeerMultisig, sendUpdateMultisigResp},
		},
		{pb.TradeMessage_UPDATE_MULTISIG_RESPONSE, counterparty}: {
			name:   "UpdateMultisigResponse",
			states: between(models.StateDepositTxsUnlockedInBlockchain, models.StateMultisigUpdated),
			guard:  buyerOnly,
			timer:  timerKeep,
			tasks:  []Task{importPeerMultisig, advanceTo(models.StateMultisigUpdated)},
		},
		{pb.TradeMessage_PAYMENT_SENT, counterparty}: {
			name:   "PaymentSent",
			states: between(models.StateArbitratorPublishedDepositTxs, models.StateSellerReceivedPaymentSentMsg),
			guard:  sellerOnly,
			timer:  timerKeep,
			tasks:  []Task{verifyPayoutTx, advanceTo(models.StateSellerReceivedPaymentSentMsg)},
		},
		{pb.TradeMessage_PAYMENT_RECEIVED, counterparty}: {
			name:   "PaymentReceived",
			states: between(models.StateBuyerConfirmedInUIPaymentSent, models.StateBuyerReceivedPaymentReceivedMsg),
			guard:  buyerOnly,
			timer:  timerKeep,
			tasks:  []Task{applyPayout, advanceTo(models.StateBuyerReceivedPaymentReceivedMsg)},
		},
	}
}

func takerHandlers() map[handlerKey]*handlerSpec {
	handlers := traderHandlers(models.RoleMaker)
	handlers[handlerKey{pb.TradeMessage_SIGN_CONTRACT_REQUEST, models.RoleMaker}] = &handlerSpec{
		name:       "SignContractRequest",
		states:     exactly(models.StateMultisigCompleted),
		deferrable: true,
		timer:      timerArm,
		tasks:      []Task{verifyContract, signContract, createDepositTx, sendDepositRequest},
	}
	return handlers
}

func makerHandlers() map[handlerKey]*handlerSpec {
	handlers := traderHandlers(models.RoleTaker)
	handlers[handlerKey{pb.TradeMessage_INIT_TRADE_REQUEST, models.RoleArbitrator}] = &handlerSpec{
		name:      "InitTradeRequest",
		states:    exactly(models.StatePreparation),
		timer:     timerArm,
		tasks:     []Task{reserveOpenOffer, applyInitTradeRequest, checkOffer, setPayoutInfo, sendInitTradeRequest, advanceTo(models.StateInitTradeRequestSent)},
		onFailure: releaseReservedFunds,
	}
	handlers[handlerKey{pb.TradeMessage_SIGN_CONTRACT_RESPONSE, models.RoleTaker}] = &handlerSpec{
		name:       "SignContractResponse",
		states:     exactly(models.StateContractSignatureRequested),
		deferrable: true,
		timer:      timerArm,
		tasks:      []Task{verifyContractResponse, createDepositTx, sendDepositRequest},
	}
	handlers[handlerKey{pb.TradeMessage_DEPOSIT_RESPONSE, models.RoleArbitrator}].tasks = []Task{
		applyDepositResponse, sendDepositTxMessage, closeOpenOffer,
	}
	return handlers
}

func arbitratorHandlers() map[handlerKey]*handlerSpec {
	handlers := map[handlerKey]*handlerSpec{
		{pb.TradeMessage_INIT_TRADE_REQUEST, models.RoleTaker}: {
			name:   "InitTradeRequest",
			states: exactly(models.StatePreparation),
			timer:  timerArm,
			tasks: []Task{
				loadSignedOffer, applyInitTradeRequest, checkOffer, verifyReserveTx(models.RoleTaker),
				forwardInitTradeRequest, advanceTo(models.StateArbitratorForwardedInitTradeRequest),
			},
		},
		{pb.TradeMessage_INIT_TRADE_REQUEST, models.RoleMaker}: {
			name:   "InitTradeRequest",
			states: exactly(models.StateArbitratorForwardedInitTradeRequest),
			timer:  timerArm,
			tasks: []Task{
				applyInitTradeRequest, verifySignedReserve, verifyReserveTx(models.RoleMaker),
				setPayoutInfo, prepareMultisig, sendPrepareMultisigRequest,
			},
		},
	}
	for _, role := range []models.TradeRole{models.RoleMaker, models.RoleTaker} {
		handlers[handlerKey{pb.TradeMessage_INIT_MULTISIG_REQUEST, role}] = &handlerSpec{
			name:   "InitMultisigRequest",
			states: between(models.StateMultisigPrepared, models.StateMultisigCompleted),
			timer:  timerArm,
			tasks:  []Task{applyInitMultisigReq, advanceMultisig},
		}
		handlers[handlerKey{pb.TradeMessage_INIT_MULTISIG_RESPONSE, role}] = &handlerSpec{
			name:   "InitMultisigResponse",
			states: between(models.StateMultisigPrepared, models.StateMultisigCompleted),
			timer:  timerArm,
			tasks:  []Task{applyInitMultisigResp, advanceMultisig},
		}
		handlers[handlerKey{pb.TradeMessage_DEPOSIT_REQUEST, role}] = &handlerSpec{
			name:       "DepositRequest",
			states:     between(models.StateMultisigCompleted, models.StateArbitratorReceivedDepositRequests),
			deferrable: true,
			timer:      timerArm,
			tasks:      []Task{verifyDepositRequest, publishDepositTxs},
		}
		handlers[handlerKey{pb.TradeMessage_DEPOSITS_CONFIRMED, role}] = &handlerSpec{
			name:   "DepositsConfirmed",
			states: atLeast(models.StateArbitratorPublishedDepositTxs),
			timer:  timerKeep,
			tasks:  []Task{markDepositsConfirmed},
		}
		payoutFrom := role
		handlers[handlerKey{pb.TradeMessage_PAYOUT_TX_PUBLISHED, role}] = &handlerSpec{
			name:   "PayoutTxPublished",
			states: between(models.StateArbitratorPublishedDepositTxs, models.StatePayoutPublished),
			guard: func(t *models.Trade) error {
				if t.SellerRole() != payoutFrom {
					return errors.Wrap(ErrUnexpectedMessage, "payout must be published by the seller")
				}
				return nil
			},
			timer: timerKeep,
			tasks: []Task{applyPayout, advanceTo(models.StatePayoutPublished)},
		}
	}
	return handlers
}

// chainUpdate follows the deposits and the payout on chain.
var chainUpdate = &handlerSpec{
	name:   "ChainUpdate",
	states: atLeast(models.StateSentDepositRequest),
	timer:  timerKeep,
	tasks:  []Task{updateDepositState, requestMultisigUpdate, updatePayoutState},
}

func takerActions() map[action]*handlerSpec {
	actions := traderActions()
	actions[actionTakeOffer] = &handlerSpec{
		name:      "TakeOffer",
		states:    exactly(models.StatePreparation),
		timer:     timerArm,
		tasks:     []Task{checkOffer, setPayoutInfo, reserveFunds, sendInitTradeRequest, advanceTo(models.StateInitTradeRequestSent)},
		onFailure: releaseReservedFunds,
	}
	return actions
}

func traderActions() map[action]*handlerSpec {
	return map[action]*handlerSpec{
		actionPaymentSent: {
			name:   "PaymentSent",
			states: exactly(models.StateMultisigUpdated),
			guard:  buyerOnly,
			timer:  timerKeep,
			tasks:  []Task{createPayoutTx, sendPaymentSent},
		},
		actionPaymentReceived: {
			name:   "PaymentReceived",
			states: exactly(models.StateSellerReceivedPaymentSentMsg),
			guard:  sellerOnly,
			timer:  timerKeep,
			tasks:  []Task{signAndPublishPayout, sendPaymentReceived},
		},
		actionChainUpdate: chainUpdate,
	}
}

// handlersFor returns the message handlers and local actions of a role.
func handlersFor(role models.TradeRole) (map[handlerKey]*handlerSpec, map[action]*handlerSpec) {
	switch role {
	case models.RoleMaker:
		return makerHandlers(), traderActions()
	case models.RoleTaker:
		return takerHandlers(), takerActions()
	case models.RoleArbitrator:
		return arbitratorHandlers(), map[action]*handlerSpec{actionChainUpdate: chainUpdate}
	}
	return nil, nil
}
