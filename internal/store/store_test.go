package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		kind string
	}{
		{nil, ""},
		{fmt.Errorf("amount must be positive: %w", ErrValidation), KindValidation},
		{fmt.Errorf("debit 10: %w", ErrInsufficientFunds), KindInsufficientFund},
		{fmt.Errorf("withdrawal w1 is completed: %w", ErrInvalidState), KindInvalidState},
		{fmt.Errorf("deposit d1: %w", ErrNotFound), KindNotFound},
		{ErrInvalidSignature, KindInvalidSignature},
		{fmt.Errorf("%w: oracle timeout", ErrExternalService), KindExternalService},
		{errors.New("disk full"), KindInternal},
		{ErrDuplicate, KindInternal},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.kind, KindOf(tc.err), "error %v", tc.err)
	}
}

func TestPublicMessageHidesInternals(t *testing.T) {
	assert.Equal(t, "internal error", PublicMessage(errors.New("pq: connection refused at 10.0.0.3")))
	assert.Equal(t, "upstream service unavailable, please retry", PublicMessage(fmt.Errorf("%w: dial tcp", ErrExternalService)))
	assert.Equal(t, "validation error: amount below minimum", PublicMessage(fmt.Errorf("%w: amount below minimum", ErrValidation)))
	assert.Empty(t, PublicMessage(nil))
}
