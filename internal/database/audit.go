package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"settlement-engine/internal/models"

	"github.com/shopspring/decimal"
)

// InsertAuditEntry appends an entry. There is no update or delete path.
func (t *txStore) InsertAuditEntry(ctx context.Context, e models.AuditEntry) error {
	metadata := "{}"
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode audit metadata: %w", err)
		}
		metadata = string(raw)
	}

	_, err := t.exec(ctx, queryInsertAuditEntry,
		e.Id, e.UserId, e.Actor, e.Action, e.EntityType, e.EntityId,
		nullDecimal(e.Delta, models.FiatScale), nullDecimal(e.BalanceAfter, models.FiatScale),
		metadata, e.IPAddress, e.UserAgent, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (s *Service) ListAuditEntries(ctx context.Context, userId string) ([]models.AuditEntry, error) {
	return s.listAuditEntries(ctx, queryListAuditEntries, userId)
}

func (s *Service) ListAuditEntriesForEntity(ctx context.Context, entityType, entityId string) ([]models.AuditEntry, error) {
	return s.listAuditEntries(ctx, queryListAuditEntriesForEntity, entityType, entityId)
}

// SumAuditDeltas replays every balance movement recorded for the user from zero
func (s *Service) SumAuditDeltas(ctx context.Context, userId string) (decimal.Decimal, error) {
	rows, err := s.query(ctx, querySumAuditDeltas, userId)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read audit deltas: %w", err)
	}
	defer closeRows(rows)

	total := decimal.Zero
	for rows.Next() {
		var deltaStr string
		if err := rows.Scan(&deltaStr); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan audit delta: %w", err)
		}
		delta, err := parseDecimal("delta", deltaStr)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(delta)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("error iterating audit rows: %w", err)
	}

	return total, nil
}

func (s *Service) listAuditEntries(ctx context.Context, query string, args ...any) ([]models.AuditEntry, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer closeRows(rows)

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var delta, balanceAfter sql.NullString
		var metadata string

		err := rows.Scan(&e.Id, &e.UserId, &e.Actor, &e.Action, &e.EntityType, &e.EntityId,
			&delta, &balanceAfter, &metadata, &e.IPAddress, &e.UserAgent, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		if e.Delta, err = parseNullDecimal("delta", delta); err != nil {
			return nil, err
		}
		if e.BalanceAfter, err = parseNullDecimal("balance_after", balanceAfter); err != nil {
			return nil, err
		}
		if metadata != "" && metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode audit metadata for %s: %w", e.Id, err)
			}
		}

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit rows: %w", err)
	}

	return entries, nil
}
