/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package prime

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"settlement-engine/internal/httpclient"
	"settlement-engine/internal/models"
	"settlement-engine/internal/store"

	"github.com/coinbase-samples/prime-sdk-go/client"
	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/coinbase-samples/prime-sdk-go/model"
	"github.com/coinbase-samples/prime-sdk-go/portfolios"
	"github.com/coinbase-samples/prime-sdk-go/transactions"
	"github.com/coinbase-samples/prime-sdk-go/wallets"
	"go.uber.org/zap"
)

const defaultPortfolioName = "Default Portfolio"

type Service struct {
	client          client.RestClient
	portfoliosSvc   portfolios.PortfoliosService
	walletsSvc      wallets.WalletsService
	transactionsSvc transactions.TransactionsService

	portfolioId string
	mu          sync.Mutex
	walletIds   map[string]string
}

func NewService(cfg models.PrimeConfig) (*Service, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("missing required Prime API credentials: PRIME_ACCESS_KEY, PRIME_PASSPHRASE, PRIME_SIGNING_KEY")
	}

	httpClient, err := httpclient.New(0)
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	restClient := client.NewRestClient(&credentials.Credentials{
		AccessKey:  cfg.AccessKey,
		Passphrase: cfg.Passphrase,
		SigningKey: cfg.SigningKey,
	}, httpClient)

	return &Service{
		client:          restClient,
		portfoliosSvc:   portfolios.NewPortfoliosService(restClient),
		walletsSvc:      wallets.NewWalletsService(restClient),
		transactionsSvc: transactions.NewTransactionsService(restClient),
		portfolioId:     cfg.PortfolioId,
		walletIds:       make(map[string]string),
	}, nil
}

func (s *Service) ListPortfolios(ctx context.Context) ([]models.Portfolio, error) {
	response, err := s.portfoliosSvc.ListPortfolios(ctx, &portfolios.ListPortfoliosRequest{})
	if err != nil {
		return nil, fmt.Errorf("unable to list portfolios: %w", err)
	}

	portfolioList := make([]models.Portfolio, len(response.Portfolios))
	for i, p := range response.Portfolios {
		portfolioList[i] = models.Portfolio{
			Id:   p.Id,
			Name: p.Name,
		}
	}

	return portfolioList, nil
}

func (s *Service) FindDefaultPortfolio(ctx context.Context) (*models.Portfolio, error) {
	portfolioList, err := s.ListPortfolios(ctx)
	if err != nil {
		return nil, err
	}

	for _, portfolio := range portfolioList {
		if portfolio.Name == defaultPortfolioName {
			return &portfolio, nil
		}
	}

	return nil, fmt.Errorf("default portfolio not found")
}

func (s *Service) ListWallets(ctx context.Context, portfolioId, walletType string, symbols []string) ([]models.Wallet, error) {
	request := &wallets.ListWalletsRequest{
		PortfolioId: portfolioId,
		Type:        walletType,
		Symbols:     symbols,
	}

	response, err := s.walletsSvc.ListWallets(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("unable to list wallets: %w", err)
	}

	walletList := make([]models.Wallet, len(response.Wallets))
	for i, w := range response.Wallets {
		walletList[i] = models.Wallet{
			Id:     w.Id,
			Name:   w.Name,
			Symbol: w.Symbol,
			Type:   w.Type,
		}
	}

	return walletList, nil
}

// Payout submits an on-chain withdrawal and returns the Prime activity id.
// The idempotency key makes a retried payout for the same withdrawal safe.
func (s *Service) Payout(ctx context.Context, req models.PayoutRequest) (string, error) {
	portfolioId, err := s.resolvePortfolio(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", store.ErrExternalService, err)
	}

	walletId := req.WalletId
	if walletId == "" {
		walletId, err = s.resolveWallet(ctx, portfolioId, req.Currency)
		if err != nil {
			return "", fmt.Errorf("%w: %v", store.ErrExternalService, err)
		}
	}

	amount := req.Amount.StringFixed(models.CryptoScale)
	zap.L().Info("Creating payout via Prime API",
		zap.String("portfolio_id", portfolioId),
		zap.String("wallet_id", walletId),
		zap.String("currency", req.Currency),
		zap.String("amount", amount),
		zap.String("destination", req.Destination),
		zap.String("idempotency_key", req.IdempotencyKey))

	blockchainAddr := &model.BlockchainAddress{
		Address: req.Destination,
	}
	// Network is "<id>-<type>", e.g. ethereum-mainnet
	if networkId, networkType, ok := strings.Cut(req.Network, "-"); ok {
		blockchainAddr.Network = &model.NetworkDetails{
			Id:   networkId,
			Type: networkType,
		}
	}

	response, err := s.transactionsSvc.CreateWalletWithdrawal(ctx, &transactions.CreateWalletWithdrawalRequest{
		PortfolioId:       portfolioId,
		SourceWalletId:    walletId,
		Amount:            amount,
		IdempotencyKey:    req.IdempotencyKey,
		Symbol:            strings.ToUpper(req.Currency),
		DestinationType:   "DESTINATION_BLOCKCHAIN",
		BlockchainAddress: blockchainAddr,
	})
	if err != nil {
		zap.L().Error("Failed to create payout",
			zap.String("wallet_id", walletId),
			zap.String("amount", amount),
			zap.String("currency", req.Currency),
			zap.Error(err))
		return "", fmt.Errorf("%w: unable to create withdrawal: %v", store.ErrExternalService, err)
	}

	zap.L().Info("Payout created successfully",
		zap.String("activity_id", response.ActivityId),
		zap.String("idempotency_key", req.IdempotencyKey))

	return response.ActivityId, nil
}

func (s *Service) resolvePortfolio(ctx context.Context) (string, error) {
	s.mu.Lock()
	id := s.portfolioId
	s.mu.Unlock()
	if id != "" {
		return id, nil
	}

	portfolio, err := s.FindDefaultPortfolio(ctx)
	if err != nil {
		return "", err
	}
	zap.L().Info("Using default portfolio",
		zap.String("name", portfolio.Name),
		zap.String("id", portfolio.Id))

	s.mu.Lock()
	s.portfolioId = portfolio.Id
	s.mu.Unlock()
	return portfolio.Id, nil
}

func (s *Service) resolveWallet(ctx context.Context, portfolioId, currency string) (string, error) {
	symbol := strings.ToUpper(currency)

	s.mu.Lock()
	id, ok := s.walletIds[symbol]
	s.mu.Unlock()
	if ok {
		return id, nil
	}

	walletList, err := s.ListWallets(ctx, portfolioId, "TRADING", []string{symbol})
	if err != nil {
		return "", err
	}
	if len(walletList) == 0 {
		return "", fmt.Errorf("no trading wallet for %s", symbol)
	}

	s.mu.Lock()
	s.walletIds[symbol] = walletList[0].Id
	s.mu.Unlock()
	return walletList[0].Id, nil
}

// Unconfigured stands in for Prime when no credentials are set. Every payout
// fails as an upstream error so the withdrawal is retried and then refunded.
type Unconfigured struct{}

func (Unconfigured) Payout(ctx context.Context, req models.PayoutRequest) (string, error) {
	return "", fmt.Errorf("%w: crypto payouts are not configured", store.ErrExternalService)
}
