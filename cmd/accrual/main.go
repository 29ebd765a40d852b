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
	"time"

	"settlement-engine/internal/accrual"
	"settlement-engine/internal/common"
	"settlement-engine/internal/config"
	"settlement-engine/internal/models"

	"go.uber.org/zap"
)

// Runs one accrual sweep for backfilling a missed day or rerunning a
// partially failed one. The run is queued and processed here under the same
// exclusive lease settlementd uses, so it never overlaps a scheduled sweep.
// Investments already credited for the date are skipped.
func main() {
	dateFlag := flag.String("date", "", "Accrual date YYYY-MM-DD (default: today UTC)")
	enqueueFlag := flag.Bool("enqueue", false, "Enqueue the run for settlementd instead of running it here")
	flag.Parse()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	date := *dateFlag
	if date == "" {
		date = time.Now().UTC().Format(accrual.DateLayout)
	}
	if _, err := accrual.ParseDate(date); err != nil {
		zap.L().Fatal("Invalid date", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	ctx := context.Background()
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if *enqueueFlag {
		env := services.API.TriggerAccrual(ctx, date)
		if !env.Success {
			zap.L().Fatal("Failed to enqueue accrual", zap.String("error", env.Error))
		}
		trigger := env.Data.(models.AccrualTrigger)
		fmt.Printf("Accrual for %s enqueued as job %s\n", trigger.Date, trigger.JobId)
		return
	}

	result, err := services.Accrual.RunNow(ctx, services.Jobs, date, cfg.Jobs.PollInterval)
	if errors.Is(err, accrual.ErrRanElsewhere) {
		fmt.Printf("Accrual for %s was processed by settlementd\n", date)
		return
	}
	if err != nil {
		zap.L().Fatal("Accrual run failed", zap.String("date", date), zap.Error(err))
	}

	// Mirror postings queued by the run are sent by settlementd's workers
	common.PrintHeader("INTEREST ACCRUAL "+result.Date, common.DefaultWidth)
	fmt.Printf("Eligible investments: %d\n", result.Eligible)
	fmt.Printf("Credited:             %d\n", result.Credited)
	fmt.Printf("Already credited:     %d\n", result.Skipped)
	fmt.Printf("Failed:               %d\n", result.Failed)
	fmt.Printf("Matured:              %d\n", result.MaturedCount)
	common.PrintFooter("Total interest: "+common.Fiat(result.TotalInterest, services.Catalog.FiatCurrency), common.DefaultWidth)

	if result.Failed > 0 {
		zap.L().Fatal("Accrual finished with failures, the queued job retries them",
			zap.String("date", date),
			zap.Int("failed", result.Failed))
	}
}
