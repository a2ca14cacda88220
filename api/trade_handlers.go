package api

import (
	"net/http"

	"github.com/cpacia/xmrescrow/models"
	"github.com/gorilla/mux"
)

func (g *Gateway) handleGETTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := g.node.ListTrades()
	if err != nil {
		writeError(w, err)
		return
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	sanitizedJSONResponse(w, trades)
}

func (g *Gateway) handleGETTrade(w http.ResponseWriter, r *http.Request) {
	trade, err := g.node.GetTrade(mux.Vars(r)["tradeID"])
	if err != nil {
		writeError(w, err)
		return
	}
	sanitizedJSONResponse(w, trade)
}

func (g *Gateway) handleGETTradeHistory(w http.ResponseWriter, r *http.Request) {
	archived, err := g.node.GetTradeHistory(mux.Vars(r)["tradeID"])
	if err != nil {
		writeError(w, err)
		return
	}
	if archived == nil {
		archived = []models.ArchivedTrade{}
	}
	sanitizedJSONResponse(w, archived)
}

func (g *Gateway) handlePOSTPaymentSent(w http.ResponseWriter, r *http.Request) {
	if err := g.node.ConfirmPaymentSent(mux.Vars(r)["tradeID"]); err != nil {
		writeError(w, err)
		return
	}
}

func (g *Gateway) handlePOSTPaymentReceived(w http.ResponseWriter, r *http.Request) {
	if err := g.node.ConfirmPaymentReceived(mux.Vars(r)["tradeID"]); err != nil {
		writeError(w, err)
		return
	}
}
