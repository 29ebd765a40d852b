package models

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

type CurrencyKind string

const (
	CurrencyFiat   CurrencyKind = "fiat"
	CurrencyCrypto CurrencyKind = "crypto"
)

// Currency describes a supported currency and its limits
type Currency struct {
	Code          string
	Kind          CurrencyKind
	Scale         int32
	MinDeposit    decimal.Decimal
	MinWithdrawal decimal.Decimal
	FeePercent    decimal.Decimal // fiat only
	FeeFloor      decimal.Decimal // fiat only
	FlatFee       decimal.Decimal // crypto only, in fiat
	WalletId      string          // Prime wallet used for crypto payouts
	Network       string
}

// Catalog holds the supported currencies, keyed by upper-case code
type Catalog struct {
	FiatCurrency string
	Currencies   map[string]Currency
}

// Lookup finds a currency by code, case-insensitively
func (c *Catalog) Lookup(code string) (Currency, bool) {
	cur, ok := c.Currencies[strings.ToUpper(code)]
	return cur, ok
}

// Codes returns the supported currency codes in sorted order
func (c *Catalog) Codes() []string {
	codes := make([]string, 0, len(c.Currencies))
	for code := range c.Currencies {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
