package utils

import (
	"bytes"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/vitwit/xrpfi/types"
)

var validate = validator.New()

// ValidateStruct runs struct tag validation and reports failures as INVALID_REQUEST.
func ValidateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return types.WrapError(types.ErrCodeInvalidRequest, err, "validation failed")
	}
	return nil
}

// ParsePrepareRequest parses and validates a prepare request body
func ParsePrepareRequest(data []byte) (*types.PrepareRequest, error) {
	var req types.PrepareRequest

	if err := json.Unmarshal(data, &req); err != nil {
		return nil, types.WrapError(types.ErrCodeInvalidRequest, err, "failed to parse prepare request")
	}

	if err := ValidateStruct(&req); err != nil {
		return nil, err
	}

	return &req, nil
}

// NormalizeJSON formats JSON with consistent indentation
func NormalizeJSON(data interface{}) ([]byte, error) {
	return json.MarshalIndent(data, "", "  ")
}

// CompactJSON removes whitespace from JSON
func CompactJSON(data []byte) ([]byte, error) {
	var buffer bytes.Buffer
	if err := json.Compact(&buffer, data); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}
