package models

import (
	"errors"
	"strings"
)

// ErrUnknownCurrency is returned for currency codes we don't trade.
var ErrUnknownCurrency = errors.New("unknown currency")

// CurrencyCode is an ISO 4217 style currency code.
type CurrencyCode string

// String returns the upper case code.
func (c CurrencyCode) String() string {
	return strings.ToUpper(string(c))
}

// CurrencyDefinition describes a counter currency.
type CurrencyDefinition struct {
	Name         string
	Code         CurrencyCode
	Divisibility uint
}

// BaseCurrency is the currency escrowed by every trade.
var BaseCurrency = CurrencyDefinition{Name: "Monero", Code: "XMR", Divisibility: 12}

// CounterCurrencies are the currencies an offer may be priced in.
var CounterCurrencies = map[CurrencyCode]CurrencyDefinition{
	"USD": {Name: "United States Dollar", Code: "USD", Divisibility: 2},
	"EUR": {Name: "Euro", Code: "EUR", Divisibility: 2},
	"GBP": {Name: "Pound Sterling", Code: "GBP", Divisibility: 2},
	"CAD": {Name: "Canadian Dollar", Code: "CAD", Divisibility: 2},
	"AUD": {Name: "Australian Dollar", Code: "AUD", Divisibility: 2},
	"CHF": {Name: "Swiss Franc", Code: "CHF", Divisibility: 2},
	"JPY": {Name: "Yen", Code: "JPY", Divisibility: 0},
	"BRL": {Name: "Brazilian Real", Code: "BRL", Divisibility: 2},
	"BTC": {Name: "Bitcoin", Code: "BTC", Divisibility: 8},
}

// LookupCurrency returns the definition for the given code.
func LookupCurrency(code string) (CurrencyDefinition, error) {
	def, ok := CounterCurrencies[CurrencyCode(strings.ToUpper(code))]
	if !ok {
		return CurrencyDefinition{}, ErrUnknownCurrency
	}
	return def, nil
}
