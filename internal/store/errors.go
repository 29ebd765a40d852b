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

package store

import (
	"errors"
	"strings"
)

// Sentinel errors shared across the engine. Callers wrap them with
// fmt.Errorf("...: %w", ...) and classify with errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidState      = errors.New("invalid state")
	ErrNotFound          = errors.New("not found")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrExternalService   = errors.New("external service error")
	ErrInternal          = errors.New("internal error")

	ErrDuplicate              = errors.New("duplicate record")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrLeaseLost              = errors.New("job lease lost")
)

// Machine-readable error kinds
const (
	KindValidation       = "validation_error"
	KindInsufficientFund = "insufficient_funds"
	KindInvalidState     = "invalid_state"
	KindNotFound         = "not_found"
	KindInvalidSignature = "invalid_signature"
	KindExternalService  = "external_service_error"
	KindInternal         = "internal_error"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrValidation, KindValidation},
	{ErrInsufficientFunds, KindInsufficientFund},
	{ErrInvalidState, KindInvalidState},
	{ErrNotFound, KindNotFound},
	{ErrInvalidSignature, KindInvalidSignature},
	{ErrExternalService, KindExternalService},
}

// KindOf maps an error to its kind. Unclassified errors are internal.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// PublicMessage returns a message safe to show to callers.
// Internal and upstream failure details are not exposed.
func PublicMessage(err error) string {
	switch KindOf(err) {
	case "":
		return ""
	case KindInternal:
		return "internal error"
	case KindExternalService:
		return "upstream service unavailable, please retry"
	default:
		return strings.TrimSpace(err.Error())
	}
}
