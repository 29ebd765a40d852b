package mirror

import (
	"context"
	"fmt"

	"settlement-engine/internal/jobs"
	"settlement-engine/internal/ledger"
	"settlement-engine/internal/models"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const numscriptCredit = `vars {
  asset $asset
  number $amount
  account $user_id
  string $entry_id
  string $action
  string $entity_type
  string $entity_id
}

send [$asset $amount] (
  source = @world
  destination = @users:$user_id
)

set_tx_meta("entry_id", $entry_id)
set_tx_meta("action", $action)
set_tx_meta("entity_type", $entity_type)
set_tx_meta("entity_id", $entity_id)
`

const numscriptDebit = `vars {
  asset $asset
  number $amount
  account $user_id
  string $entry_id
  string $action
  string $entity_type
  string $entity_id
}

send [$asset $amount] (
  source = @users:$user_id allowing unbounded overdraft
  destination = @world
)

set_tx_meta("entry_id", $entry_id)
set_tx_meta("action", $action)
set_tx_meta("entity_type", $entity_type)
set_tx_meta("entity_id", $entity_id)
`

// Handle posts one movement. The audit entry id is the transaction
// reference, so a redelivered job hits a conflict and counts as done.
func (s *Service) Handle(ctx context.Context, job models.Job) error {
	payload, err := jobs.Decode[ledger.MirrorPayload](job)
	if err != nil {
		return err
	}

	postTx, err := s.buildTransaction(payload)
	if err != nil {
		return err
	}

	_, err = s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger:            s.ledger,
		V2PostTransaction: postTx,
	})
	if err != nil {
		if errorCodeIs(err, shared.V2ErrorsEnumConflict) {
			zap.L().Debug("Movement already mirrored", zap.String("entry_id", payload.EntryId))
			return nil
		}
		return fmt.Errorf("error mirroring movement %s: %w", payload.EntryId, err)
	}

	zap.L().Info("Movement mirrored to Formance",
		zap.String("entry_id", payload.EntryId),
		zap.String("user_id", payload.UserId),
		zap.String("delta", payload.Delta))
	return nil
}

// Exhausted only logs. The mirror carries no settlement state.
func (s *Service) Exhausted(ctx context.Context, job models.Job, cause error) error {
	zap.L().Error("Movement could not be mirrored",
		zap.String("job_id", job.Id),
		zap.String("payload", string(job.Payload)),
		zap.Error(cause))
	return nil
}

func (s *Service) buildTransaction(p ledger.MirrorPayload) (shared.V2PostTransaction, error) {
	delta, err := decimal.NewFromString(p.Delta)
	if err != nil || delta.IsZero() {
		return shared.V2PostTransaction{}, jobs.Permanent(fmt.Errorf("invalid mirrored delta %q", p.Delta))
	}

	script := numscriptCredit
	if delta.IsNegative() {
		script = numscriptDebit
	}

	postTx := shared.V2PostTransaction{
		Reference: strPtr(p.EntryId),
		Script: &shared.V2PostTransactionScript{
			Plain: script,
			Vars: map[string]string{
				"asset":       s.asset,
				"amount":      smallestUnits(delta.Abs()),
				"user_id":     p.UserId,
				"entry_id":    p.EntryId,
				"action":      p.Action,
				"entity_type": p.EntityType,
				"entity_id":   p.EntityId,
			},
		},
	}
	if !p.OccurredAt.IsZero() {
		postTx.Timestamp = v3.Pointer(p.OccurredAt)
	}
	return postTx, nil
}

func smallestUnits(amount decimal.Decimal) string {
	return amount.Shift(models.FiatScale).BigInt().String()
}

// UserBalance reads the mirrored balance for a user
func (s *Service) UserBalance(ctx context.Context, userId string) (decimal.Decimal, error) {
	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: userAccount(userId),
		Expand:  v3.Pointer("volumes"),
	})
	if err != nil {
		if errorCodeIs(err, shared.V2ErrorsEnumNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("failed to get mirrored account: %w", err)
	}

	vol, ok := resp.V2AccountResponse.Data.Volumes[s.asset]
	if !ok {
		return decimal.Zero, nil
	}
	if vol.Balance != nil {
		return decimal.NewFromBigInt(vol.Balance, -models.FiatScale), nil
	}
	if vol.Input == nil {
		return decimal.Zero, nil
	}
	bal := decimal.NewFromBigInt(vol.Input, -models.FiatScale)
	if vol.Output != nil {
		bal = bal.Sub(decimal.NewFromBigInt(vol.Output, -models.FiatScale))
	}
	return bal, nil
}
