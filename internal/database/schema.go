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

// Monetary values are stored as TEXT decimal strings and parsed with
// shopspring/decimal. Calendar dates are TEXT YYYY-MM-DD. Job times are
// unix milliseconds so that due-time comparisons behave the same on both drivers.
const schema = `
	-- Account Balances (current state, one fiat balance per user)
	CREATE TABLE IF NOT EXISTS account_balances (
		user_id TEXT PRIMARY KEY,
		balance TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS deposits (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		crypto_amount TEXT NOT NULL,
		fiat_amount TEXT,
		rate TEXT,
		status TEXT NOT NULL,
		provider_ref TEXT NOT NULL UNIQUE,
		payment_url TEXT NOT NULL DEFAULT '',
		payment_uri TEXT NOT NULL DEFAULT '',
		expires_at TIMESTAMP,
		provider_resolved BOOLEAN NOT NULL DEFAULT FALSE,
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_deposits_user_id ON deposits(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_deposits_status ON deposits(status);

	CREATE TABLE IF NOT EXISTS withdrawals (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		amount TEXT NOT NULL,
		fee TEXT NOT NULL,
		crypto_amount TEXT,
		rate TEXT,
		status TEXT NOT NULL,
		wallet_address TEXT NOT NULL DEFAULT '',
		tx_reference TEXT NOT NULL DEFAULT '',
		rejection_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_withdrawals_user_id ON withdrawals(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_withdrawals_status ON withdrawals(status);

	CREATE TABLE IF NOT EXISTS investment_plans (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		daily_rate_percent TEXT NOT NULL,
		duration_days INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS investments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		plan_id TEXT NOT NULL REFERENCES investment_plans(id),
		amount TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		total_interest_earned TEXT NOT NULL DEFAULT '0',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		matured_at TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_investments_dates ON investments(start_date, end_date);

	-- One accrual per investment per day
	CREATE TABLE IF NOT EXISTS interest_accruals (
		id TEXT PRIMARY KEY,
		investment_id TEXT NOT NULL REFERENCES investments(id),
		user_id TEXT NOT NULL,
		accrual_date TEXT NOT NULL,
		amount TEXT NOT NULL,
		rate_percent TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(investment_id, accrual_date)
	);

	-- Audit trail (append-only)
	CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		delta TEXT,
		balance_after TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		ip_address TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entries_user_id ON audit_entries(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_entity ON audit_entries(entity_type, entity_id);

	-- Written by the identity verification system
	CREATE TABLE IF NOT EXISTS identity_verifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL,
		reviewed_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_identity_verifications_user_id ON identity_verifications(user_id);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		job_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL,
		run_at BIGINT NOT NULL,
		locked_until BIGINT,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_due ON jobs(job_type, status, run_at);
`
