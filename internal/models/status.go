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

package models

import "unicode/utf8"

type DepositStatus string

const (
	DepositPending    DepositStatus = "pending"
	DepositProcessing DepositStatus = "processing"
	DepositCompleted  DepositStatus = "completed"
	DepositFailed     DepositStatus = "failed"
)

// Terminal reports whether no further transitions are allowed
func (s DepositStatus) Terminal() bool {
	return s == DepositCompleted || s == DepositFailed
}

type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalFailed     WithdrawalStatus = "failed"
)

func (s WithdrawalStatus) Terminal() bool {
	return s == WithdrawalCompleted || s == WithdrawalFailed
}

type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobDead    JobStatus = "dead"
)

// Actor recorded on audit entries written by background processing
const ActorSystem = "system"

// AdminActor formats the audit actor for an administrator
func AdminActor(adminId string) string {
	return "admin:" + adminId
}

// Entity types recorded on audit entries
const (
	EntityDeposit    = "deposit"
	EntityWithdrawal = "withdrawal"
	EntityInvestment = "investment"
)

// Fiat amounts are held at two decimal places, crypto amounts at eight
const (
	FiatScale   int32 = 2
	CryptoScale int32 = 8
)

// DateLayout is the layout of accrual, start and end dates
const DateLayout = "2006-01-02"

// MaxReasonLen bounds the failure and rejection reasons stored on settlements
const MaxReasonLen = 200

// TruncateReason shortens reason to at most MaxReasonLen bytes
func TruncateReason(reason string) string {
	return Truncate(reason, MaxReasonLen)
}

// Truncate shortens s to at most n bytes without splitting a UTF-8 sequence
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
