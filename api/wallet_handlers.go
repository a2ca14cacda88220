package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/cpacia/xmrescrow/models"
	"github.com/gorilla/mux"
	"github.com/libp2p/go-libp2p-core/peer"
)

type walletBalanceResponse struct {
	Balance  string `json:"balance"`
	Unlocked string `json:"unlocked"`
}

type walletAddressResponse struct {
	Address string `json:"address"`
}

type exchangeRateResponse struct {
	Currency string `json:"currency"`
	Rate     string `json:"rate"`
}

const defaultNotificationLimit = 50

func (g *Gateway) handleGETBalance(w http.ResponseWriter, r *http.Request) {
	balance, unlocked, err := g.node.WalletBalance()
	if err != nil {
		writeError(w, err)
		return
	}
	sanitizedJSONResponse(w, walletBalanceResponse{
		Balance:  strconv.FormatUint(balance, 10),
		Unlocked: strconv.FormatUint(unlocked, 10),
	})
}

func (g *Gateway) handleGETAddress(w http.ResponseWriter, r *http.Request) {
	addr, err := g.node.NewAddress()
	if err != nil {
		writeError(w, err)
		return
	}
	sanitizedJSONResponse(w, walletAddressResponse{Address: addr.String()})
}

func (g *Gateway) handleGETExchangeRate(w http.ResponseWriter, r *http.Request) {
	currency := strings.ToUpper(mux.Vars(r)["currency"])
	rate, err := g.node.ExchangeRate(models.CurrencyCode(currency))
	if err != nil {
		writeError(w, err)
		return
	}
	sanitizedJSONResponse(w, exchangeRateResponse{Currency: currency, Rate: rate.String()})
}

func (g *Gateway) handleGETPaymentAccounts(w http.ResponseWriter, r *http.Request) {
	accts, err := g.node.ListPaymentAccounts()
	if err != nil {
		writeError(w, err)
		return
	}
	if accts == nil {
		accts = []models.PaymentAccount{}
	}
	sanitizedJSONResponse(w, accts)
}

func (g *Gateway) handlePOSTPaymentAccount(w http.ResponseWriter, r *http.Request) {
	var acct models.PaymentAccount
	if err := json.NewDecoder(r.Body).Decode(&acct); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := g.node.SavePaymentAccount(&acct); err != nil {
		writeError(w, err)
		return
	}
	sanitizedJSONResponse(w, acct)
}

func (g *Gateway) handleGETPing(w http.ResponseWriter, r *http.Request) {
	pid, err := peer.Decode(mux.Vars(r)["peerID"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	status := "online"
	if err := g.node.PingNode(r.Context(), pid); err != nil {
		status = "offline"
	}
	sanitizedJSONResponse(w, map[string]string{"status": status})
}

func (g *Gateway) handleGETNotifications(w http.ResponseWriter, r *http.Request) {
	limit := defaultNotificationLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	records, err := g.node.ListNotifications(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []models.NotificationRecord{}
	}
	sanitizedJSONResponse(w, records)
}
