package mirror

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"settlement-engine/internal/models"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/sdkerrors"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"go.uber.org/zap"
)

const defaultLedgerName = "settlement-engine"

// Service copies committed balance movements to a Formance Stack ledger.
// The local database stays the source of truth.
type Service struct {
	client *v3.Formance
	ledger string
	asset  string
	fiat   string
}

// NewService connects to the stack and creates the ledger if it doesn't already exist.
func NewService(ctx context.Context, cfg models.MirrorConfig, fiatCurrency string) (*Service, error) {
	if cfg.StackURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("formance config requires StackURL, ClientID, and ClientSecret")
	}
	if cfg.LedgerName == "" {
		cfg.LedgerName = defaultLedgerName
	}

	zap.L().Info("Connecting to Formance Stack",
		zap.String("stack_url", cfg.StackURL),
		zap.String("ledger", cfg.LedgerName))

	client := v3.New(
		v3.WithServerURL(cfg.StackURL),
		v3.WithSecurity(shared.Security{
			ClientID:     v3.Pointer(cfg.ClientID),
			ClientSecret: v3.Pointer(cfg.ClientSecret),
		}),
	)

	fiat := strings.ToUpper(fiatCurrency)
	svc := &Service{
		client: client,
		ledger: cfg.LedgerName,
		asset:  formanceAsset(fiat),
		fiat:   fiat,
	}

	if err := svc.ensureLedger(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure ledger exists: %w", err)
	}

	zap.L().Info("Formance mirror initialized", zap.String("ledger", cfg.LedgerName))
	return svc, nil
}

func (s *Service) ensureLedger(ctx context.Context) error {
	_, err := s.client.Ledger.V2.CreateLedger(ctx, operations.V2CreateLedgerRequest{
		Ledger: s.ledger,
		V2CreateLedgerRequest: shared.V2CreateLedgerRequest{
			Metadata: map[string]string{
				"application": defaultLedgerName,
			},
		},
	})
	if err != nil {
		if errorCodeIs(err, shared.V2ErrorsEnumLedgerAlreadyExists) {
			zap.L().Info("Ledger already exists", zap.String("ledger", s.ledger))
			return nil
		}
		return err
	}
	zap.L().Info("Ledger created", zap.String("ledger", s.ledger))
	return nil
}

// formanceAsset returns the UMN notation for the fiat currency, e.g. "INR/2".
func formanceAsset(symbol string) string {
	return fmt.Sprintf("%s/%d", symbol, models.FiatScale)
}

func userAccount(userId string) string {
	return "users:" + userId
}

func errorCodeIs(err error, code shared.V2ErrorsEnum) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == code
}

func strPtr(s string) *string { return &s }
