package trade

import (
	"testing"

	"github.com/cpacia/xmrescrow/models"
	"github.com/cpacia/xmrescrow/trade/pb"
)

func TestStateRange_Check(t *testing.T) {
	tests := []struct {
		r        stateRange
		s        models.TradeState
		expected readiness
	}{
		{exactly(models.StateMultisigCompleted), models.StateMultisigCompleted, ready},
		{exactly(models.StateMultisigCompleted), models.StateMultisigExchanged, tooEarly},
		{exactly(models.StateMultisigCompleted), models.StateContractSigned, tooLate},
		{between(models.StatePreparation, models.StateContractSigned), models.StatePreparation, ready},
		{between(models.StatePreparation, models.StateContractSigned), models.StateContractSigned, ready},
		{between(models.StatePreparation, models.StateContractSigned), models.StateSentDepositRequest, tooLate},
		{atLeast(models.StateSentDepositRequest), models.StateTradeCompleted, ready},
		{atLeast(models.StateSentDepositRequest), models.StateTradeFailed, tooLate},
		{atLeast(models.StateSentDepositRequest), models.StateContractSigned, tooEarly},
	}
	for i, test := range tests {
		if got := test.r.check(test.s); got != test.expected {
			t.Errorf("test %d: expected %d for %s in [%s, %s], got %d", i, test.expected, test.s, test.r.min, test.r.max, got)
		}
	}
}

func TestHandlersFor(t *testing.T) {
	tests := []struct {
		role     models.TradeRole
		key      handlerKey
		expected bool
	}{
		{models.RoleArbitrator, handlerKey{pb.TradeMessage_INIT_TRADE_REQUEST, models.RoleTaker}, true},
		{models.RoleArbitrator, handlerKey{pb.TradeMessage_INIT_TRADE_REQUEST, models.RoleMaker}, true},
		{models.RoleMaker, handlerKey{pb.TradeMessage_INIT_TRADE_REQUEST, models.RoleArbitrator}, true},
		{models.RoleMaker, handlerKey{pb.TradeMessage_INIT_TRADE_REQUEST, models.RoleTaker}, false},
		{models.RoleTaker, handlerKey{pb.TradeMessage_INIT_TRADE_REQUEST, models.RoleArbitrator}, false},
		{models.RoleTaker, handlerKey{pb.TradeMessage_SIGN_CONTRACT_REQUEST, models.RoleMaker}, true},
		{models.RoleMaker, handlerKey{pb.TradeMessage_SIGN_CONTRACT_RESPONSE, models.RoleTaker}, true},
		{models.RoleTaker, handlerKey{pb.TradeMessage_PAYMENT_SENT, models.RoleMaker}, true},
		{models.RoleMaker, handlerKey{pb.TradeMessage_PAYMENT_SENT, models.RoleTaker}, true},
		{models.RoleArbitrator, handlerKey{pb.TradeMessage_PAYMENT_SENT, models.RoleTaker}, false},
		{models.RoleArbitrator, handlerKey{pb.TradeMessage_PAYOUT_TX_PUBLISHED, models.RoleMaker}, true},
	}
	for _, test := range tests {
		handlers, _ := handlersFor(test.role)
		if _, ok := handlers[test.key]; ok != test.expected {
			t.Errorf("%s handling %s from %s: expected %t", test.role, test.key.typ, test.key.from, test.expected)
		}
	}

	if handlers, actions := handlersFor(models.RoleUnknown); handlers != nil || actions != nil {
		t.Error("expected no handlers for unknown role")
	}
	_, actions := handlersFor(models.RoleArbitrator)
	if _, ok := actions[actionPaymentSent]; ok {
		t.Error("arbitrator must not confirm payments")
	}
	_, actions = handlersFor(models.RoleTaker)
	if _, ok := actions[actionTakeOffer]; !ok {
		t.Error("taker is missing the take offer action")
	}
}
