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


package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"settlement-engine/internal/audit"
	"settlement-engine/internal/common"
	"settlement-engine/internal/config"
	"settlement-engine/internal/mirror"
	"settlement-engine/internal/models"

	"go.uber.org/zap"
)

type balanceStats struct {
	users       int
	reconciled  int
	mismatched  int
	mirrorDrift int
	total       string
}

type reportDeps struct {
	recorder *audit.Recorder
	mirror   *mirror.Service
	fiat     string
}

func printBalance(balance models.AccountBalance, fiat string) {
	fmt.Printf("\n┌─ User: %s\n", balance.UserId)
	fmt.Printf("│  Balance: %s (v%d, updated: %s)\n",
		common.Fiat(balance.Balance, fiat),
		balance.Version,
		balance.UpdatedAt.Format("2006-01-02 15:04:05"))
}

func checkUser(ctx context.Context, deps reportDeps, balance models.AccountBalance, stats *balanceStats) {
	err := deps.recorder.Reconcile(ctx, balance.UserId)
	switch {
	case err == nil:
		stats.reconciled++
		fmt.Printf("%s Audit replay: ok\n", common.BoxPrefix(deps.mirror == nil))
	case errors.Is(err, audit.ErrMismatch):
		stats.mismatched++
		fmt.Printf("%s Audit replay: MISMATCH (%v)\n", common.BoxPrefix(deps.mirror == nil), err)
	default:
		fmt.Printf("%s Audit replay: error (%v)\n", common.BoxPrefix(deps.mirror == nil), err)
	}

	if deps.mirror == nil {
		return
	}

	mirrored, err := deps.mirror.UserBalance(ctx, balance.UserId)
	if err != nil {
		fmt.Printf("%s Mirror: error (%v)\n", common.BoxPrefix(true), err)
		return
	}
	if !mirrored.Equal(balance.Balance) {
		stats.mirrorDrift++
		fmt.Printf("%s Mirror: DRIFT (mirror=%s)\n", common.BoxPrefix(true), common.Fiat(mirrored, ""))
		return
	}
	fmt.Printf("%s Mirror: ok\n", common.BoxPrefix(true))
}

func generateReport(ctx context.Context, balances []models.AccountBalance, deps reportDeps) balanceStats {
	stats := balanceStats{}
	total := models.AccountBalance{}

	for _, balance := range balances {
		stats.users++
		total.Balance = total.Balance.Add(balance.Balance)

		printBalance(balance, deps.fiat)
		checkUser(ctx, deps, balance, &stats)
	}

	stats.total = common.Fiat(total.Balance, deps.fiat)
	return stats
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	userFlag := flag.String("user", "", "Report a single user id (optional)")
	mirrorFlag := flag.Bool("mirror", false, "Compare balances against the Formance mirror ledger")
	flag.Parse()

	logger.Info("Starting balance report")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	catalog, err := common.LoadCatalog(cfg.CatalogFile)
	if err != nil {
		logger.Fatal("Failed to load currency catalog", zap.Error(err))
	}

	// Read-only: no payment provider or payout credentials needed
	logger.Info("Connecting to database", zap.String("driver", cfg.Database.Driver))
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	deps := reportDeps{recorder: audit.NewRecorder(dbService), fiat: catalog.FiatCurrency}
	if *mirrorFlag {
		if !cfg.Mirror.Enabled() {
			logger.Fatal("--mirror requires FORMANCE_STACK_URL, FORMANCE_CLIENT_ID and FORMANCE_CLIENT_SECRET")
		}
		deps.mirror, err = mirror.NewService(ctx, cfg.Mirror, catalog.FiatCurrency)
		if err != nil {
			logger.Fatal("Failed to connect to mirror ledger", zap.Error(err))
		}
	}

	var balances []models.AccountBalance
	if *userFlag != "" {
		balance, err := dbService.GetBalance(ctx, *userFlag)
		if err != nil {
			logger.Fatal("Failed to get balance", zap.String("user_id", *userFlag), zap.Error(err))
		}
		balances = []models.AccountBalance{*balance}
	} else {
		balances, err = dbService.ListBalances(ctx)
		if err != nil {
			logger.Fatal("Failed to list balances", zap.Error(err))
		}
	}

	common.PrintHeader("USER BALANCE REPORT", common.DefaultWidth)

	stats := generateReport(ctx, balances, deps)

	summary := fmt.Sprintf("SUMMARY: %d users, %s held, %d reconciled, %d mismatched",
		stats.users, stats.total, stats.reconciled, stats.mismatched)
	if deps.mirror != nil {
		summary += fmt.Sprintf(", %d drifted from mirror", stats.mirrorDrift)
	}
	common.PrintFooter(summary, common.DefaultWidth)

	logger.Info("Balance report completed",
		zap.Int("users", stats.users),
		zap.Int("reconciled", stats.reconciled),
		zap.Int("mismatched", stats.mismatched),
		zap.Int("mirror_drift", stats.mirrorDrift))

	if stats.mismatched > 0 || stats.mirrorDrift > 0 {
		logger.Fatal("Balance report found discrepancies")
	}
}
