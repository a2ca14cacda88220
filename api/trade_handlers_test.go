package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/cpacia/xmrescrow/core/coreiface"
	"github.com/cpacia/xmrescrow/models"
)

func TestTradeHandlers(t *testing.T) {
	trade := models.Trade{
		ID:        "trade-1",
		Role:      models.RoleMaker,
		FundsRole: models.FundsRoleSeller,
		Phase:     models.PhaseDepositsPublished,
		State:     models.StateArbitratorPublishedDepositTxs,
		Amount:    500000000000,
		Open:      true,
	}
	archived := models.ArchivedTrade{
		ID:           "archive-1",
		TradeID:      "trade-1",
		State:        models.StateTradeFailed,
		ErrorMessage: "trade timed out",
		Trade:        json.RawMessage(`{"tradeID":"trade-1"}`),
	}

	runAPITests(t, apiTests{
		{
			name:   "List trades",
			path:   "/v1/trades",
			method: http.MethodGet,
			setNodeMethods: func(n *mockNode) {
				n.listTradesFunc = func() ([]models.Trade, error) {
					return []models.Trade{trade}, nil
				}
			},
			statusCode: http.StatusOK,
			expectedResponse: func() ([]byte, error) {
				return marshalAndSanitizeJSON([]models.Trade{trade})
			},
		},
		{
			name:   "List no trades",
			path:   "/v1/trades",
			method: http.MethodGet,
			setNodeMethods: func(n *mockNode) {
				n.listTradesFunc = func() ([]models.Trade, error) {
					return nil, nil
				}
			},
			statusCode: http.StatusOK,
			expectedResponse: func() ([]byte, error) {
				return []byte("[]"), nil
			},
		},
		{
			name:   "Get trade",
			path:   "/v1/trades/trade-1",
			method: http.MethodGet,
			setNodeMethods: func(n *mockNode) {
				n.getTradeFunc = func(tradeID string) (*models.Trade, error) {
					if tradeID != trade.ID {
						return nil, fmt.Errorf("%w: trade", coreiface.ErrNotFound)
					}
					return &trade, nil
				}
			},
			statusCode: http.StatusOK,
			expectedResponse: func() ([]byte, error) {
				return marshalAndSanitizeJSON(&trade)
			},
		},
		{
			name:   "Get trade history",
			path:   "/v1/trades/trade-1/history",
			method: http.MethodGet,
			setNodeMethods: func(n *mockNode) {
				n.getTradeHistoryFunc = func(tradeID string) ([]models.ArchivedTrade, error) {
					return []models.ArchivedTrade{archived}, nil
				}
			},
			statusCode: http.StatusOK,
			expectedResponse: func() ([]byte, error) {
				return marshalAndSanitizeJSON([]models.ArchivedTrade{archived})
			},
		},
		{
			name:   "Get empty trade history",
			path:   "/v1/trades/trade-2/history",
			method: http.MethodGet,
			setNodeMethods: func(n *mockNode) {
				n.getTradeHistoryFunc = func(tradeID string) ([]models.ArchivedTrade, error) {
					return nil, nil
				}
			},
			statusCode: http.StatusOK,
			expectedResponse: func() ([]byte, error) {
				return []byte("[]"), nil
			},
		},
		{
			name:   "Get unknown trade",
			path:   "/v1/trades/trade-2",
			method: http.MethodGet,
			setNodeMethods: func(n *mockNode) {
				n.getTradeFunc = func(tradeID string) (*models.Trade, error) {
					return nil, fmt.Errorf("%w: trade", coreiface.ErrNotFound)
				}
			},
			statusCode: http.StatusNotFound,
			expectedResponse: func() ([]byte, error) {
				return []byte("not found: trade\n"), nil
			},
		},
		{
			name:   "Payment sent",
			path:   "/v1/trades/trade-1/paymentsent",
			method: http.MethodPost,
			setNodeMethods: func(n *mockNode) {
				n.confirmPaymentSentFunc = func(tradeID string) error { return nil }
			},
			statusCode: http.StatusOK,
			expectedResponse: func() ([]byte, error) {
				return nil, nil
			},
		},
		{
			name:   "Payment sent wrong state",
			path:   "/v1/trades/trade-1/paymentsent",
			method: http.MethodPost,
			setNodeMethods: func(n *mockNode) {
				n.confirmPaymentSentFunc = func(tradeID string) error {
					return fmt.Errorf("%w: trade is not in the required state", coreiface.ErrBadRequest)
				}
			},
			statusCode: http.StatusBadRequest,
			expectedResponse: func() ([]byte, error) {
				return []byte("bad request: trade is not in the required state\n"), nil
			},
		},
		{
			name:   "Payment received internal error",
			path:   "/v1/trades/trade-1/paymentreceived",
			method: http.MethodPost,
			setNodeMethods: func(n *mockNode) {
				n.confirmPaymentReceivedFunc = func(tradeID string) error {
					return fmt.Errorf("database closed")
				}
			},
			statusCode: http.StatusInternalServerError,
			expectedResponse: func() ([]byte, error) {
				return []byte("database closed\n"), nil
			},
		},
	})
}
