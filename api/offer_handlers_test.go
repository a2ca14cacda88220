package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/cpacia/xmrescrow/core/coreiface"
	"github.com/cpacia/xmrescrow/models"
	"github.com/shopspring/decimal"
)

func testPublicOffer() *models.PublicOffer {
	return &models.PublicOffer{
		Offer: models.Offer{
			ID:            "offer-1",
			Direction:     models.DirectionSell,
			Currency:      "USD",
			PaymentMethod: "SEPA",
			Price:         decimal.RequireFromString("152.25"),
			Amount:        1000000000000,
			MinAmount:     100000000000,
			Date:          time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC),
		},
		ReserveTxHash: "abcd",
	}
}

func TestOfferHandlers(t *testing.T) {
	runAPITests(t, apiTests{
		{
			name:   "Get offers",
			path:   "/v1/offers?currency=usd",
			method: http.MethodGet,
			setNodeMethods: func(n *mockNode) {
				n.getOffersFunc = func(ctx context.Context, currency models.CurrencyCode) ([]*models.PublicOffer, error) {
					if currency != "USD" {
						return nil, fmt.Errorf("unexpected currency %s", currency)
					}
					return []*models.PublicOffer{testPublicOffer()}, nil
				}
			},
			statusCode: http.StatusOK,
			expectedResponse: func() ([]byte, error) {
				return marshalAndSanitizeJSON([]*models.PublicOffer{testPublicOffer()})
			},
		},
		{
			name:   "Get offers empty book",
			path:   "/v1/offers?currency=EUR",
			method: http.MethodGet,
			setNodeMethods: func(n *mockNode) {
				n.getOffersFunc = func(ctx context.Context, currency models.CurrencyCode) ([]*models.PublicOffer, error) {
					return nil, nil
				}
			},
			statusCode: http.StatusOK,
			expectedResponse: func() ([]byte, error) {
				return marshalAndSanitizeJSON([]*models.PublicOffer{})
			},
		},
		{
			name:           "Get offers missing currency",
			path:           "/v1/offers",
			method:         http.MethodGet,
			setNodeMethods: func(n *mockNode) {},
			statusCode:     http.StatusBadRequest,
			expectedResponse: func() ([]byte, error) {
				return []byte("currency query parameter is required\n"), nil
			},
		},
		{
			name:   "Get offers book not bootstrapped",
			path:   "/v1/offers?currency=USD",
			method: http.MethodGet,
			setNodeMethods: func(n *mockNode) {
				n.getOffersFunc = func(ctx context.Context, currency models.CurrencyCode) ([]*models.PublicOffer, error) {
					return nil, fmt.Errorf("%w: offer book not bootstrapped", coreiface.ErrUnavailable)
				}
			},
			statusCode: http.StatusServiceUnavailable,
			expectedResponse: func() ([]byte, error) {
				return []byte("unavailable: offer book not bootstrapped\n"), nil
			},
		},
		{
			name:   "Place offer",
			path:   "/v1/offers",
			method: http.MethodPost,
			body:   []byte(`{"direction":"SELL","currency":"USD","paymentMethod":"SEPA","price":"152.25","amount":1000000000000}`),
			setNodeMethods: func(n *mockNode) {
				n.placeOfferFunc = func(o models.Offer) (*models.OpenOffer, error) {
					if o.Amount != 1000000000000 || !o.Price.Equal(decimal.RequireFromString("152.25")) {
						return nil, errors.New("offer not decoded")
					}
					o.ID = "offer-1"
					return &models.OpenOffer{OfferID: o.ID, State: models.OpenOfferScheduled, Offer: o}, nil
				}
			},
			statusCode: http.StatusOK,
			expectedResponse: func() ([]byte, error) {
				return marshalAndSanitizeJSON(&models.OpenOffer{
					OfferID: "offer-1",
					State:   models.OpenOfferScheduled,
					Offer: models.Offer{
						ID:            "offer-1",
						Direction:     models.DirectionSell,
						Currency:      "USD",
						PaymentMethod: "SEPA",
						Price:         decimal.RequireFromString("152.25"),
						Amount:        1000000000000,
					},
				})
			},
		},
		{
			name:           "Place offer invalid JSON",
			path:           "/v1/offers",
			method:         http.MethodPost,
			body:           []byte(`{`),
			setNodeMethods: func(n *mockNode) {},
			statusCode:     http.StatusBadRequest,
			expectedResponse: func() ([]byte, error) {
				return []byte("unexpected EOF\n"), nil
			},
		},
		{
			name:   "Place invalid offer",
			path:   "/v1/offers",
			method: http.MethodPost,
			body:   []byte(`{"direction":"SELL"}`),
			setNodeMethods: func(n *mockNode) {
				n.placeOfferFunc = func(o models.Offer) (*models.OpenOffer, error) {
					return nil, fmt.Errorf("%w: invalid offer", coreiface.ErrBadRequest)
				}
			},
			statusCode: http.StatusBadRequest,
			expectedResponse: func() ([]byte, error) {
				return []byte("bad request: invalid offer\n"), nil
			},
		},
		{
			name:   "Cancel offer",
			path:   "/v1/offers/offer-1",
			method: http.MethodDelete,
			setNodeMethods: func(n *mockNode) {
				n.cancelOfferFunc = func(offerID string) error {
					if offerID != "offer-1" {
						return fmt.Errorf("%w: offer", coreiface.ErrNotFound)
					}
					return nil
				}
			},
			statusCode: http.StatusOK,
			expectedResponse: func() ([]byte, error) {
				return nil, nil
			},
		},
		{
			name:   "Cancel unknown offer",
			path:   "/v1/offers/offer-2",
			method: http.MethodDelete,
			setNodeMethods: func(n *mockNode) {
				n.cancelOfferFunc = func(offerID string) error {
					return fmt.Errorf("%w: offer", coreiface.ErrNotFound)
				}
			},
			statusCode: http.StatusNotFound,
			expectedResponse: func() ([]byte, error) {
				return []byte("not found: offer\n"), nil
			},
		},
		{
			name:   "Deactivate offer",
			path:   "/v1/offers/offer-1/deactivate",
			method: http.MethodPost,
			setNodeMethods: func(n *mockNode) {
				n.deactivateOfferFunc = func(offerID string) error { return nil }
			},
			statusCode: http.StatusOK,
			expectedResponse: func() ([]byte, error) {
				return nil, nil
			},
		},
		{
			name:   "Activate offer invalid transition",
			path:   "/v1/offers/offer-1/activate",
			method: http.MethodPost,
			setNodeMethods: func(n *mockNode) {
				n.activateOfferFunc = func(offerID string) error {
					return fmt.Errorf("%w: invalid offer state transition", coreiface.ErrBadRequest)
				}
			},
			statusCode: http.StatusBadRequest,
			expectedResponse: func() ([]byte, error) {
				return []byte("bad request: invalid offer state transition\n"), nil
			},
		},
		{
			name:   "Take offer",
			path:   "/v1/offers/offer-1/take",
			method: http.MethodPost,
			body:   []byte(`{"currency":"usd","amount":500000000000,"paymentAccountID":"acct-1"}`),
			setNodeMethods: func(n *mockNode) {
				n.takeOfferFunc = func(ctx context.Context, offerID string, currency models.CurrencyCode, amount uint64, paymentAccountID string) (*models.Trade, error) {
					if offerID != "offer-1" || currency != "USD" || amount != 500000000000 || paymentAccountID != "acct-1" {
						return nil, errors.New("bad arguments")
					}
					return &models.Trade{ID: offerID, Role: models.RoleTaker, Amount: amount, Open: true}, nil
				}
			},
			statusCode: http.StatusOK,
			expectedResponse: func() ([]byte, error) {
				return marshalAndSanitizeJSON(&models.Trade{ID: "offer-1", Role: models.RoleTaker, Amount: 500000000000, Open: true})
			},
		},
		{
			name:           "Take offer missing amount",
			path:           "/v1/offers/offer-1/take",
			method:         http.MethodPost,
			body:           []byte(`{"currency":"USD","paymentAccountID":"acct-1"}`),
			setNodeMethods: func(n *mockNode) {},
			statusCode:     http.StatusBadRequest,
			expectedResponse: func() ([]byte, error) {
				return []byte("currency, amount and paymentAccountID are required\n"), nil
			},
		},
		{
			name:   "Take offer not in book",
			path:   "/v1/offers/offer-2/take",
			method: http.MethodPost,
			body:   []byte(`{"currency":"USD","amount":1,"paymentAccountID":"acct-1"}`),
			setNodeMethods: func(n *mockNode) {
				n.takeOfferFunc = func(ctx context.Context, offerID string, currency models.CurrencyCode, amount uint64, paymentAccountID string) (*models.Trade, error) {
					return nil, fmt.Errorf("%w: offer not in offer book", coreiface.ErrNotFound)
				}
			},
			statusCode: http.StatusNotFound,
			expectedResponse: func() ([]byte, error) {
				return []byte("not found: offer not in offer book\n"), nil
			},
		},
		{
			name:   "List open offers",
			path:   "/v1/openoffers",
			method: http.MethodGet,
			setNodeMethods: func(n *mockNode) {
				n.listOpenOffersFunc = func() ([]models.OpenOffer, error) {
					return []models.OpenOffer{{OfferID: "offer-1", State: models.OpenOfferAvailable}}, nil
				}
			},
			statusCode: http.StatusOK,
			expectedResponse: func() ([]byte, error) {
				return marshalAndSanitizeJSON([]models.OpenOffer{{OfferID: "offer-1", State: models.OpenOfferAvailable}})
			},
		},
		{
			name:   "Get open offer",
			path:   "/v1/openoffers/offer-1",
			method: http.MethodGet,
			setNodeMethods: func(n *mockNode) {
				n.getOpenOfferFunc = func(offerID string) (*models.OpenOffer, error) {
					return &models.OpenOffer{OfferID: offerID, State: models.OpenOfferReserved}, nil
				}
			},
			statusCode: http.StatusOK,
			expectedResponse: func() ([]byte, error) {
				return marshalAndSanitizeJSON(&models.OpenOffer{OfferID: "offer-1", State: models.OpenOfferReserved})
			},
		},
	})
}
