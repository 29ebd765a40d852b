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
	"flag"
	"fmt"

	"settlement-engine/internal/common"
	"settlement-engine/internal/config"
	"settlement-engine/internal/models"

	"go.uber.org/zap"
)

type reviewRequest struct {
	action      string
	id          string
	admin       string
	reason      string
	txReference string
}

func parseAndValidateFlags() (*reviewRequest, error) {
	listFlag := flag.Bool("list", false, "List withdrawals pending review")
	approveFlag := flag.String("approve", "", "Withdrawal id to approve")
	rejectFlag := flag.String("reject", "", "Withdrawal id to reject")
	adminFlag := flag.String("admin", "", "Administrator id recorded on the audit trail (required for approve/reject)")
	reasonFlag := flag.String("reason", "", "Rejection reason (required with --reject)")
	txRefFlag := flag.String("tx-ref", "", "Bank transfer reference for a fiat approval (optional)")
	flag.Parse()

	switch {
	case *listFlag:
		return &reviewRequest{action: "list"}, nil
	case *approveFlag != "" && *rejectFlag != "":
		return nil, fmt.Errorf("use only one of --approve and --reject")
	case *approveFlag != "":
		if *adminFlag == "" {
			return nil, fmt.Errorf("--admin is required")
		}
		return &reviewRequest{action: "approve", id: *approveFlag, admin: *adminFlag, txReference: *txRefFlag}, nil
	case *rejectFlag != "":
		if *adminFlag == "" || *reasonFlag == "" {
			return nil, fmt.Errorf("--admin and --reason are required")
		}
		return &reviewRequest{action: "reject", id: *rejectFlag, admin: *adminFlag, reason: *reasonFlag}, nil
	default:
		return nil, fmt.Errorf("one of --list, --approve or --reject is required")
	}
}

func printWithdrawal(w *models.Withdrawal, isLast bool) {
	prefix := common.BoxPrefix(isLast)
	detail := common.BoxDetailPrefix(isLast)

	fmt.Printf("%s %s  %s\n", prefix, w.Id, w.Status)
	fmt.Printf("%s   User:     %s\n", detail, w.UserId)
	fmt.Printf("%s   Amount:   %s (fee %s, reserved %s)\n", detail,
		common.Fiat(w.Amount, w.Currency), common.Fiat(w.Fee, ""), common.Fiat(w.Total(), ""))
	if w.WalletAddress != "" {
		fmt.Printf("%s   Wallet:   %s\n", detail, w.WalletAddress)
	}
	fmt.Printf("%s   Created:  %s\n", detail, w.CreatedAt.Format("2006-01-02 15:04:05"))
}

func listPending(ctx context.Context, services *common.Services) {
	env := services.API.ListWithdrawals(ctx, "", string(models.WithdrawalPending), 200, 0)
	if !env.Success {
		zap.L().Fatal("Failed to list withdrawals", zap.String("error_kind", env.ErrorKind), zap.String("error", env.Error))
	}
	pending := env.Data.([]models.Withdrawal)

	common.PrintHeader("WITHDRAWALS PENDING REVIEW", common.DefaultWidth)
	for i := range pending {
		printWithdrawal(&pending[i], i == len(pending)-1)
	}
	common.PrintFooter(fmt.Sprintf("%d pending", len(pending)), common.DefaultWidth)
}

func review(ctx context.Context, services *common.Services, req *reviewRequest) {
	var env models.Envelope
	if req.action == "approve" {
		env = services.API.ApproveWithdrawal(ctx, req.id, req.admin, req.txReference)
	} else {
		env = services.API.RejectWithdrawal(ctx, req.id, req.admin, req.reason)
	}

	if !env.Success {
		common.PrintHeader("REVIEW FAILED", common.DefaultWidth)
		fmt.Printf("Withdrawal: %s\n", req.id)
		fmt.Printf("Error:      %s (%s)\n", env.Error, env.ErrorKind)
		common.PrintSeparator("=", common.DefaultWidth)
		zap.L().Fatal("Withdrawal review failed",
			zap.String("withdrawal_id", req.id),
			zap.String("action", req.action),
			zap.String("error_kind", env.ErrorKind),
			zap.String("error", env.Error))
	}

	w := env.Data.(*models.Withdrawal)
	common.PrintHeader("WITHDRAWAL "+string(w.Status), common.DefaultWidth)
	printWithdrawal(w, true)
	switch w.Status {
	case models.WithdrawalProcessing:
		fmt.Println("\nPayout queued; settlementd sends it and records the chain reference")
	case models.WithdrawalFailed:
		fmt.Printf("\nRefunded %s to %s\n", common.Fiat(w.Total(), w.Currency), w.UserId)
	}
	common.PrintSeparator("=", common.DefaultWidth)

	zap.L().Info("Withdrawal reviewed",
		zap.String("withdrawal_id", w.Id),
		zap.String("action", req.action),
		zap.String("status", string(w.Status)),
		zap.String("admin_id", req.admin))
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	req, err := parseAndValidateFlags()
	if err != nil {
		zap.L().Fatal("Invalid flags", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	zap.L().Info("Initializing services")
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if req.action == "list" {
		listPending(ctx, services)
		return
	}
	review(ctx, services, req)
}
