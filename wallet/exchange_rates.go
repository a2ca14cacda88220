package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cpacia/proxyclient"
	"github.com/cpacia/xmrescrow/models"
	"github.com/shopspring/decimal"
)

// ReserveCurrency is the currency the API quotes every rate against. The
// XMR price in another currency is derived from the two reserve rates.
const ReserveCurrency = models.CurrencyCode("BTC")

const cacheTTL = time.Minute * 10

// ErrRateNotFound is returned when no provider quotes the currency.
var ErrRateNotFound = errors.New("rate not found")

// ExchangeRateProvider provides the market price of XMR in the offer
// counter currencies.
type ExchangeRateProvider struct {
	cache       map[models.CurrencyCode]decimal.Decimal
	lastQueried time.Time
	mtx         sync.Mutex
	providers   []provider
}

// NewExchangeRateProvider returns a new ExchangeRateProvider. The provided
// sources must conform to the BitcoinAverage API specification.
func NewExchangeRateProvider(sources []string) *ExchangeRateProvider {
	e := ExchangeRateProvider{
		cache: make(map[models.CurrencyCode]decimal.Decimal),
		mtx:   sync.Mutex{},
	}

	client := proxyclient.NewHttpClient()
	client.Timeout = time.Minute

	for _, src := range sources {
		e.providers = append(e.providers, &bitcoinAverageAPI{src, client})
	}

	return &e
}

// GetRate returns the price of one XMR in the given currency.
func (e *ExchangeRateProvider) GetRate(to models.CurrencyCode, breakCache bool) (decimal.Decimal, error) {
	rates, err := e.GetAllRates(breakCache)
	if err != nil {
		return decimal.Zero, err
	}
	rate, ok := rates[models.CurrencyCode(to.String())]
	if !ok {
		return decimal.Zero, ErrRateNotFound
	}
	return rate, nil
}

// GetAllRates returns the XMR price in every quoted currency.
func (e *ExchangeRateProvider) GetAllRates(breakCache bool) (map[models.CurrencyCode]decimal.Decimal, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	if breakCache || len(e.cache) == 0 || e.lastQueried.Add(cacheTTL).Before(time.Now()) {
		rates, err := e.fetchRatesFromProviders()
		if err != nil {
			return nil, err
		}
		e.cache = rates
		e.lastQueried = time.Now()
	}
	ret := make(map[models.CurrencyCode]decimal.Decimal, len(e.cache))
	for cc, rate := range e.cache {
		ret[cc] = rate
	}
	return ret, nil
}

// fetchRatesFromProviders queries the exchange rate sources serially until it gets a response back.
func (e *ExchangeRateProvider) fetchRatesFromProviders() (map[models.CurrencyCode]decimal.Decimal, error) {
	for _, provider := range e.providers {
		rates, err := provider.fetchRates()
		if err == nil {
			return rates, nil
		}
		log.Debugf("Exchange rate provider failed: %s", err)
	}
	return nil, errors.New("all exchange rate providers failed")
}

// provider is an interface to a specific exchange rate API.
type provider interface {
	fetchRates() (map[models.CurrencyCode]decimal.Decimal, error)
}

// bitcoinAverageAPI is an implementation of the provider interface for
// APIs which quote every currency against BTC.
type bitcoinAverageAPI struct {
	url    string
	client *http.Client
}

type apiRate struct {
	Last decimal.Decimal `json:"last"`
}

// fetchRates converts the BTC quotes into XMR prices.
func (b *bitcoinAverageAPI) fetchRates() (map[models.CurrencyCode]decimal.Decimal, error) {
	rates := make(map[string]apiRate)

	resp, err := b.client.Get(b.url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(&rates); err != nil {
		return nil, err
	}

	xmr, ok := rates[models.BaseCurrency.Code.String()]
	if !ok || !xmr.Last.IsPositive() {
		return nil, fmt.Errorf("base currency %s not quoted", models.BaseCurrency.Code)
	}

	ret := make(map[models.CurrencyCode]decimal.Decimal)
	for cc, rate := range rates {
		def, err := models.LookupCurrency(cc)
		if err != nil {
			continue
		}
		ret[def.Code] = rate.Last.Div(xmr.Last).Round(int32(def.Divisibility) + 2)
	}
	return ret, nil
}
