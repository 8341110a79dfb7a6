// Package errors provides structured error handling for ledger and escrow operations.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Authorization errors
	CodeUnauthorized Code = "UNAUTHORIZED"

	// Ledger errors
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeAllowanceExceeded   Code = "ALLOWANCE_EXCEEDED"

	// Escrow errors
	CodeInvalidState      Code = "INVALID_STATE"
	CodeOverfundedDeposit Code = "OVERFUNDED_DEPOSIT"

	// Validation errors
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"

	// Integrity errors
	CodeConservationViolated Code = "CONSERVATION_VIOLATED"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeInvalidArgument:
		return codes.InvalidArgument

	// PermissionDenied - caller lacks the role the operation requires
	case CodeUnauthorized:
		return codes.PermissionDenied

	// FailedPrecondition - state doesn't allow the operation
	case CodeInvalidState,
		CodeInsufficientBalance,
		CodeAllowanceExceeded,
		CodeOverfundedDeposit:
		return codes.FailedPrecondition

	// NotFound - resource doesn't exist
	case CodeNotFound:
		return codes.NotFound

	default:
		return codes.Internal
	}
}
