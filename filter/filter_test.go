package filter

import (
	"testing"

	"github.com/cpacia/xmrescrow/models"
	"github.com/cpacia/xmrescrow/net"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/shopspring/decimal"
)

const (
	makerID      = "QmY3ArotKMKaL7YGfbQfyDrib6RVraLqZYWXZvVgZktBxp"
	arbitratorID = "QmYVXrKrKHDC9FobgmcmshCDyWwdrfwfanNQN4oxJ9Fk3h"
)

func testOffer() *models.Offer {
	return &models.Offer{
		ID:               "offer1",
		Direction:        models.DirectionSell,
		Currency:         "USD",
		PaymentMethod:    "SEPA",
		Price:            decimal.NewFromInt(150),
		Amount:           1000000000000,
		MakerPeerID:      makerID,
		ArbitratorPeerID: arbitratorID,
	}
}

func TestFilter_ValidateOffer(t *testing.T) {
	maker, err := peer.Decode(makerID)
	if err != nil {
		t.Fatal(err)
	}
	arbitrator, err := peer.Decode(arbitratorID)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		filter   func() *Filter
		modify   func(o *models.Offer)
		expected error
	}{
		{
			name:   "no bans",
			filter: func() *Filter { return NewFilter(nil, nil, nil) },
		},
		{
			name: "banned maker",
			filter: func() *Filter {
				return NewFilter(net.NewBanManager([]peer.ID{maker}), nil, nil)
			},
			expected: ErrBannedPeer,
		},
		{
			name: "banned arbitrator",
			filter: func() *Filter {
				f := NewFilter(nil, nil, nil)
				f.BanPeer(arbitrator)
				return f
			},
			expected: ErrBannedPeer,
		},
		{
			name:     "banned currency",
			filter:   func() *Filter { return NewFilter(nil, []string{"usd"}, nil) },
			expected: ErrBannedCurrency,
		},
		{
			name:     "banned method",
			filter:   func() *Filter { return NewFilter(nil, nil, []string{"sepa"}) },
			expected: ErrBannedPaymentMethod,
		},
		{
			name: "banned method added later",
			filter: func() *Filter {
				f := NewFilter(nil, nil, nil)
				f.BanPaymentMethod("Sepa")
				return f
			},
			expected: ErrBannedPaymentMethod,
		},
		{
			name:     "unknown currency",
			filter:   func() *Filter { return NewFilter(nil, nil, nil) },
			modify:   func(o *models.Offer) { o.Currency = "DOGE" },
			expected: models.ErrUnknownCurrency,
		},
		{
			name:   "other currency banned",
			filter: func() *Filter { return NewFilter(nil, []string{"EUR"}, nil) },
		},
	}

	for _, test := range tests {
		offer := testOffer()
		if test.modify != nil {
			test.modify(offer)
		}
		err := test.filter().ValidateOffer(offer)
		if err != test.expected {
			t.Errorf("%s: expected error %v, got %v", test.name, test.expected, err)
		}
	}
}

func TestFilter_ValidatePeer(t *testing.T) {
	f := NewFilter(nil, nil, nil)
	if err := f.ValidatePeer(makerID); err != nil {
		t.Fatal(err)
	}
	maker, err := peer.Decode(makerID)
	if err != nil {
		t.Fatal(err)
	}
	f.BanPeer(maker)
	if err := f.ValidatePeer(makerID); err != ErrBannedPeer {
		t.Errorf("expected ErrBannedPeer, got %v", err)
	}
	f.BanManager().Unban(maker)
	if err := f.ValidatePeer(makerID); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestFilter_BannedCurrencies(t *testing.T) {
	f := NewFilter(nil, []string{"usd", "EUR"}, nil)
	f.BanCurrency("cad")
	banned := f.BannedCurrencies()
	expected := []string{"CAD", "EUR", "USD"}
	if len(banned) != len(expected) {
		t.Fatalf("expected %d currencies, got %d", len(expected), len(banned))
	}
	for i := range expected {
		if banned[i] != expected[i] {
			t.Errorf("expected %s at %d, got %s", expected[i], i, banned[i])
		}
	}
}
