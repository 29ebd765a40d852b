package models

import "github.com/shopspring/decimal"

// Portfolio represents a Prime portfolio
type Portfolio struct {
	Id   string
	Name string
}

// Wallet represents a Prime wallet
type Wallet struct {
	Id     string
	Name   string
	Symbol string
	Type   string
}

// PayoutRequest describes a crypto payout for an approved withdrawal
type PayoutRequest struct {
	IdempotencyKey string
	Currency       string
	Network        string
	WalletId       string
	Amount         decimal.Decimal
	Destination    string
}

