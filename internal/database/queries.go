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

package database

const (
	// Balance queries
	queryGetBalance = `
		SELECT user_id, balance, version, updated_at
		FROM account_balances
		WHERE user_id = ?`

	queryListBalances = `
		SELECT user_id, balance, version, updated_at
		FROM account_balances
		ORDER BY user_id`

	queryInsertAccountBalance = `
		INSERT INTO account_balances (user_id, balance, version, updated_at)
		VALUES (?, ?, 1, ?)`

	queryUpdateAccountBalance = `
		UPDATE account_balances
		SET balance = ?, version = version + 1, updated_at = ?
		WHERE user_id = ? AND version = ?`

	// Deposit queries
	depositColumns = `
		id, user_id, currency, crypto_amount, fiat_amount, rate, status, provider_ref,
		payment_url, payment_uri, expires_at, provider_resolved, failure_reason,
		created_at, updated_at, completed_at`

	queryInsertDeposit = `
		INSERT INTO deposits (id, user_id, currency, crypto_amount, status, provider_ref,
			payment_url, payment_uri, expires_at, provider_resolved, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetDeposit = `
		SELECT` + depositColumns + `
		FROM deposits
		WHERE id = ?`

	queryGetDepositByProviderRef = `
		SELECT` + depositColumns + `
		FROM deposits
		WHERE provider_ref = ?`

	queryListDeposits = `
		SELECT` + depositColumns + `
		FROM deposits
		WHERE user_id = ?
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?`

	querySetDepositConversion = `
		UPDATE deposits
		SET fiat_amount = ?, rate = ?, updated_at = ?
		WHERE id = ? AND status = 'processing' AND fiat_amount IS NULL`

	// Withdrawal queries
	withdrawalColumns = `
		id, user_id, currency, amount, fee, crypto_amount, rate, status, wallet_address,
		tx_reference, rejection_reason, created_at, updated_at, completed_at`

	queryInsertWithdrawal = `
		INSERT INTO withdrawals (id, user_id, currency, amount, fee, status, wallet_address,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetWithdrawal = `
		SELECT` + withdrawalColumns + `
		FROM withdrawals
		WHERE id = ?`

	querySetWithdrawalQuote = `
		UPDATE withdrawals
		SET crypto_amount = ?, rate = ?, updated_at = ?
		WHERE id = ? AND status = 'processing' AND crypto_amount IS NULL`

	// Identity verification queries
	queryHasApprovedVerification = `
		SELECT COUNT(*)
		FROM identity_verifications
		WHERE user_id = ? AND status = 'approved'`

	queryInsertVerification = `
		INSERT INTO identity_verifications (id, user_id, status, reviewed_at)
		VALUES (?, ?, ?, ?)`

	// Investment queries
	queryInsertPlan = `
		INSERT INTO investment_plans (id, name, daily_rate_percent, duration_days)
		VALUES (?, ?, ?, ?)`

	queryGetPlan = `
		SELECT id, name, daily_rate_percent, duration_days
		FROM investment_plans
		WHERE id = ?`

	queryInsertInvestment = `
		INSERT INTO investments (id, user_id, plan_id, amount, start_date, end_date,
			total_interest_earned, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	investmentColumns = `
		id, user_id, plan_id, amount, start_date, end_date, total_interest_earned,
		is_active, matured_at, created_at`

	queryGetInvestment = `
		SELECT` + investmentColumns + `
		FROM investments
		WHERE id = ?`

	// Matured investments stay accruable for the days inside their term so a
	// missed day can still be backfilled after maturity.
	queryFindAccruableInvestments = `
		SELECT` + investmentColumns + `
		FROM investments
		WHERE start_date <= ? AND end_date > ?
		  AND (is_active = ? OR matured_at IS NOT NULL)
		ORDER BY id`

	queryMarkMaturedInvestments = `
		UPDATE investments
		SET is_active = ?, matured_at = end_date, updated_at = ?
		WHERE is_active = ? AND end_date <= ?`

	queryGetInterestEarned = `
		SELECT total_interest_earned
		FROM investments
		WHERE id = ?`

	queryUpdateInterestEarned = `
		UPDATE investments
		SET total_interest_earned = ?, updated_at = ?
		WHERE id = ?`

	queryHasAccrual = `
		SELECT COUNT(*)
		FROM interest_accruals
		WHERE investment_id = ? AND accrual_date = ?`

	queryInsertAccrual = `
		INSERT INTO interest_accruals (id, investment_id, user_id, accrual_date, amount,
			rate_percent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	queryListAccruals = `
		SELECT id, investment_id, user_id, accrual_date, amount, rate_percent, created_at
		FROM interest_accruals
		WHERE investment_id = ?
		ORDER BY accrual_date`

	// Audit queries
	auditColumns = `
		id, user_id, actor, action, entity_type, entity_id, delta, balance_after,
		metadata, ip_address, user_agent, created_at`

	queryInsertAuditEntry = `
		INSERT INTO audit_entries (id, user_id, actor, action, entity_type, entity_id,
			delta, balance_after, metadata, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryListAuditEntries = `
		SELECT` + auditColumns + `
		FROM audit_entries
		WHERE user_id = ?
		ORDER BY created_at, id`

	queryListAuditEntriesForEntity = `
		SELECT` + auditColumns + `
		FROM audit_entries
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY created_at, id`

	querySumAuditDeltas = `
		SELECT delta
		FROM audit_entries
		WHERE user_id = ? AND delta IS NOT NULL`

	// Job queries
	jobColumns = `
		id, job_type, payload, status, attempts, max_attempts, run_at, last_error, created_at`

	queryInsertJob = `
		INSERT INTO jobs (id, job_type, payload, status, attempts, max_attempts, run_at,
			last_error, created_at, updated_at)
		VALUES (?, ?, ?, 'queued', 0, ?, ?, '', ?, ?)`

	queryNextDueJob = `
		SELECT` + jobColumns + `
		FROM jobs
		WHERE job_type = ? AND status IN ('queued', 'running') AND run_at <= ?
		  AND (locked_until IS NULL OR locked_until <= ?)
		ORDER BY run_at, created_at
		LIMIT 1`

	queryClaimJob = `
		UPDATE jobs
		SET status = 'running', attempts = attempts + 1, locked_until = ?, updated_at = ?
		WHERE id = ? AND attempts = ?`

	// Outcome writes are fenced on the claim's attempt number so a worker
	// whose lease was taken over cannot overwrite the new owner's result.
	queryCompleteJob = `
		UPDATE jobs
		SET status = 'done', locked_until = NULL, last_error = '', updated_at = ?
		WHERE id = ? AND attempts = ? AND status = 'running'`

	queryRetryJob = `
		UPDATE jobs
		SET status = 'queued', locked_until = NULL, run_at = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND attempts = ? AND status = 'running'`

	queryKillJob = `
		UPDATE jobs
		SET status = 'dead', locked_until = NULL, last_error = ?, updated_at = ?
		WHERE id = ? AND attempts = ? AND status = 'running'`

	queryExtendJobLease = `
		UPDATE jobs
		SET locked_until = ?, updated_at = ?
		WHERE id = ? AND attempts = ? AND status = 'running'`

	queryCountLeasedJobs = `
		SELECT COUNT(*)
		FROM jobs
		WHERE job_type = ? AND status = 'running' AND locked_until > ?`

	queryGetJob = `
		SELECT` + jobColumns + `
		FROM jobs
		WHERE id = ?`
)
