package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cpacia/xmrescrow/models"
	"github.com/gorilla/mux"
)

type takeOfferRequest struct {
	Currency         models.CurrencyCode `json:"currency"`
	Amount           uint64              `json:"amount"`
	PaymentAccountID string              `json:"paymentAccountID"`
}

func (g *Gateway) handleGETOffers(w http.ResponseWriter, r *http.Request) {
	currency := strings.ToUpper(r.URL.Query().Get("currency"))
	if currency == "" {
		http.Error(w, "currency query parameter is required", http.StatusBadRequest)
		return
	}
	offers, err := g.node.GetOffers(r.Context(), models.CurrencyCode(currency))
	if err != nil {
		writeError(w, err)
		return
	}
	if offers == nil {
		offers = []*models.PublicOffer{}
	}
	sanitizedJSONResponse(w, offers)
}

func (g *Gateway) handlePOSTOffer(w http.ResponseWriter, r *http.Request) {
	var offer models.Offer
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	oo, err := g.node.PlaceOffer(offer)
	if err != nil {
		writeError(w, err)
		return
	}
	sanitizedJSONResponse(w, oo)
}

func (g *Gateway) handleDELETEOffer(w http.ResponseWriter, r *http.Request) {
	if err := g.node.CancelOffer(mux.Vars(r)["offerID"]); err != nil {
		writeError(w, err)
		return
	}
}

func (g *Gateway) handlePOSTActivateOffer(w http.ResponseWriter, r *http.Request) {
	if err := g.node.ActivateOffer(mux.Vars(r)["offerID"]); err != nil {
		writeError(w, err)
		return
	}
}

func (g *Gateway) handlePOSTDeactivateOffer(w http.ResponseWriter, r *http.Request) {
	if err := g.node.DeactivateOffer(mux.Vars(r)["offerID"]); err != nil {
		writeError(w, err)
		return
	}
}

func (g *Gateway) handlePOSTTakeOffer(w http.ResponseWriter, r *http.Request) {
	var req takeOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Currency == "" || req.Amount == 0 || req.PaymentAccountID == "" {
		http.Error(w, "currency, amount and paymentAccountID are required", http.StatusBadRequest)
		return
	}
	trade, err := g.node.TakeOffer(r.Context(), mux.Vars(r)["offerID"], models.CurrencyCode(strings.ToUpper(req.Currency.String())), req.Amount, req.PaymentAccountID)
	if err != nil {
		writeError(w, err)
		return
	}
	sanitizedJSONResponse(w, trade)
}

func (g *Gateway) handleGETOpenOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := g.node.ListOpenOffers()
	if err != nil {
		writeError(w, err)
		return
	}
	if offers == nil {
		offers = []models.OpenOffer{}
	}
	sanitizedJSONResponse(w, offers)
}

func (g *Gateway) handleGETOpenOffer(w http.ResponseWriter, r *http.Request) {
	oo, err := g.node.GetOpenOffer(mux.Vars(r)["offerID"])
	if err != nil {
		writeError(w, err)
		return
	}
	sanitizedJSONResponse(w, oo)
}
