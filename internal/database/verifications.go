package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Identity verification statuses written by the KYC system
const (
	VerificationApproved = "approved"
	VerificationRejected = "rejected"
	VerificationPending  = "pending"
)

// HasApprovedVerification reports whether the user passed identity verification
func (s *Service) HasApprovedVerification(ctx context.Context, userId string) (bool, error) {
	var count int
	if err := s.queryRow(ctx, queryHasApprovedVerification, userId).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check identity verification: %w", err)
	}
	return count > 0, nil
}

// RecordVerification stores a verification decision
func (s *Service) RecordVerification(ctx context.Context, userId, status string) error {
	if _, err := s.exec(ctx, queryInsertVerification, uuid.New().String(), userId, status, now()); err != nil {
		return fmt.Errorf("failed to record identity verification: %w", err)
	}
	return nil
}
