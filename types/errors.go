package types

import (
	"errors"
	"fmt"
)

// BridgeError is the typed error carried across package boundaries.
type BridgeError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Err     error       `json:"-"`
}

func (e *BridgeError) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BridgeError) Unwrap() error {
	return e.Err
}

// Is matches any BridgeError carrying the same code.
func (e *BridgeError) Is(target error) bool {
	t, ok := target.(*BridgeError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Error codes
const (
	ErrCodeMalformedMemo           = "MALFORMED_MEMO"
	ErrCodeUnknownInstructionCode  = "UNKNOWN_INSTRUCTION_CODE"
	ErrCodeDuplicateTransaction    = "DUPLICATE_TRANSACTION"
	ErrCodeNotFound                = "NOT_FOUND"
	ErrCodeInvalidTransition       = "INVALID_TRANSITION"
	ErrCodeAttestationUnavailable  = "ATTESTATION_UNAVAILABLE"
	ErrCodeProofTimeout            = "PROOF_TIMEOUT"
	ErrCodeInsufficientBalance     = "INSUFFICIENT_BALANCE"
	ErrCodeVaultCapExceeded        = "VAULT_CAP_EXCEEDED"
	ErrCodeDepositNotAllowed       = "DEPOSIT_NOT_ALLOWED"
	ErrCodePartialSplitFailure     = "PARTIAL_SPLIT_FAILURE"
	ErrCodeSimulationFailed        = "SIMULATION_FAILED"
	ErrCodeChainSubmissionReverted = "CHAIN_SUBMISSION_REVERTED"
	ErrCodeConnectivityLost        = "CONNECTIVITY_LOST"
	ErrCodeInvalidRequest          = "INVALID_REQUEST"
	ErrCodeNetworkError            = "NETWORK_ERROR"
	ErrCodeConfigError             = "CONFIG_ERROR"
	ErrCodeQueueFull               = "QUEUE_FULL"
)

// Sentinels for errors.Is.
var (
	ErrMalformedMemo           = &BridgeError{Code: ErrCodeMalformedMemo}
	ErrUnknownInstructionCode  = &BridgeError{Code: ErrCodeUnknownInstructionCode}
	ErrDuplicateTransaction    = &BridgeError{Code: ErrCodeDuplicateTransaction}
	ErrNotFound                = &BridgeError{Code: ErrCodeNotFound}
	ErrInvalidTransition       = &BridgeError{Code: ErrCodeInvalidTransition}
	ErrAttestationUnavailable  = &BridgeError{Code: ErrCodeAttestationUnavailable}
	ErrProofTimeout            = &BridgeError{Code: ErrCodeProofTimeout}
	ErrInsufficientBalance     = &BridgeError{Code: ErrCodeInsufficientBalance}
	ErrVaultCapExceeded        = &BridgeError{Code: ErrCodeVaultCapExceeded}
	ErrDepositNotAllowed       = &BridgeError{Code: ErrCodeDepositNotAllowed}
	ErrPartialSplitFailure     = &BridgeError{Code: ErrCodePartialSplitFailure}
	ErrSimulationFailed        = &BridgeError{Code: ErrCodeSimulationFailed}
	ErrChainSubmissionReverted = &BridgeError{Code: ErrCodeChainSubmissionReverted}
	ErrConnectivityLost        = &BridgeError{Code: ErrCodeConnectivityLost}
	ErrInvalidRequest          = &BridgeError{Code: ErrCodeInvalidRequest}
	ErrQueueFull               = &BridgeError{Code: ErrCodeQueueFull}
)

// NewError builds a BridgeError with a formatted message.
func NewError(code, format string, args ...interface{}) *BridgeError {
	return &BridgeError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError attaches a code and message to an underlying error.
func WrapError(code string, err error, format string, args ...interface{}) *BridgeError {
	return &BridgeError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// CodeOf returns the code of the first BridgeError in err's chain, or "" if none.
func CodeOf(err error) string {
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// CodeOrDefault returns CodeOf(err), or def when err carries no code.
func CodeOrDefault(err error, def string) string {
	if code := CodeOf(err); code != "" {
		return code
	}
	return def
}
