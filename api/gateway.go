package api

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/op/go-logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var log = logging.MustGetLogger("API")

// GatewayConfig holds the listener and the access settings of the API.
type GatewayConfig struct {
	Listener       net.Listener
	NoCors         bool
	AllowedIPs     map[string]bool
	Cookie         string
	Username       string
	Password       string
	DisableMetrics bool
}

// Gateway represents an HTTP API gateway
type Gateway struct {
	listener net.Listener
	node     CoreIface
	handler  http.Handler
	config   *GatewayConfig
	hub      *hub
}

// NewGateway instantiates a new gateway. The prometheus metrics are
// served next to the API unless disabled.
func NewGateway(node CoreIface, config *GatewayConfig) (*Gateway, error) {
	var (
		g = &Gateway{
			node:     node,
			config:   config,
			listener: config.Listener,
			hub:      newHub(),
		}
		topMux = http.NewServeMux()
	)

	go g.hub.run()

	r := g.newV1Router()

	if !config.NoCors {
		r.Use(mux.CORSMethodMiddleware(r), g.CORSAllowAllOriginsMiddleware)
	}
	r.Use(g.AuthenticationMiddleware)

	topMux.Handle("/v1/", r)
	if !config.DisableMetrics {
		topMux.Handle("/metrics", g.AuthenticationMiddleware(promhttp.Handler()))
	}

	g.handler = topMux
	return g, nil
}

// Close shutsdown the Gateway listener.
func (g *Gateway) Close() error {
	g.hub.stop()
	return g.listener.Close()
}

// Serve begins listening on the configured address.
func (g *Gateway) Serve() error {
	log.Infof("Gateway/API server listening on %s", g.listener.Addr())
	return http.Serve(g.listener, g.handler)
}

// NotifyWebsockets broadcasts the JSON encoding of i to every
// connected websocket.
func (g *Gateway) NotifyWebsockets(i interface{}) error {
	out, err := json.MarshalIndent(i, "", "    ")
	if err != nil {
		return err
	}
	g.hub.broadcast(out)
	return nil
}

func (g *Gateway) newV1Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/v1/offers", g.handleGETOffers).Methods("GET")
	r.HandleFunc("/v1/offers", g.handlePOSTOffer).Methods("POST")
	r.HandleFunc("/v1/offers/{offerID}", g.handleDELETEOffer).Methods("DELETE")
	r.HandleFunc("/v1/offers/{offerID}/take", g.handlePOSTTakeOffer).Methods("POST")
	r.HandleFunc("/v1/offers/{offerID}/activate", g.handlePOSTActivateOffer).Methods("POST")
	r.HandleFunc("/v1/offers/{offerID}/deactivate", g.handlePOSTDeactivateOffer).Methods("POST")
	r.HandleFunc("/v1/openoffers", g.handleGETOpenOffers).Methods("GET")
	r.HandleFunc("/v1/openoffers/{offerID}", g.handleGETOpenOffer).Methods("GET")

	r.HandleFunc("/v1/trades", g.handleGETTrades).Methods("GET")
	r.HandleFunc("/v1/trades/{tradeID}", g.handleGETTrade).Methods("GET")
	r.HandleFunc("/v1/trades/{tradeID}/history", g.handleGETTradeHistory).Methods("GET")
	r.HandleFunc("/v1/trades/{tradeID}/paymentsent", g.handlePOSTPaymentSent).Methods("POST")
	r.HandleFunc("/v1/trades/{tradeID}/paymentreceived", g.handlePOSTPaymentReceived).Methods("POST")

	r.HandleFunc("/v1/wallet/balance", g.handleGETBalance).Methods("GET")
	r.HandleFunc("/v1/wallet/address", g.handleGETAddress).Methods("GET")
	r.HandleFunc("/v1/exchangerates/{currency}", g.handleGETExchangeRate).Methods("GET")

	r.HandleFunc("/v1/paymentaccounts", g.handleGETPaymentAccounts).Methods("GET")
	r.HandleFunc("/v1/paymentaccounts", g.handlePOSTPaymentAccount).Methods("POST")

	r.HandleFunc("/v1/ping/{peerID}", g.handleGETPing).Methods("GET")
	r.HandleFunc("/v1/notifications", g.handleGETNotifications).Methods("GET")
	r.Handle("/v1/ws", newWebsocketHandler(g.hub))
	return r
}
