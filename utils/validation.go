package utils

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/vitwit/xrpfi/types"
	"github.com/vitwit/xrpfi/xrpl"
)

var hexPattern = regexp.MustCompile("^[0-9a-fA-F]+$")

// ValidateAmount checks that amount is a positive decimal
func ValidateAmount(amount string) (decimal.Decimal, error) {
	if amount == "" {
		return decimal.Zero, types.NewError(types.ErrCodeInvalidRequest, "amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, types.WrapError(types.ErrCodeInvalidRequest, err, "invalid amount format")
	}

	if !dec.IsPositive() {
		return decimal.Zero, types.NewError(types.ErrCodeInvalidRequest, "amount must be positive")
	}

	return dec, nil
}

// ValidateTransactionHash checks an XRPL transaction hash and returns it upper-cased,
// the form the ledger keys records by.
func ValidateTransactionHash(hash string) (string, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return "", types.NewError(types.ErrCodeInvalidRequest, "transaction hash cannot be empty")
	}
	if len(hash) != 64 || !isHexString(hash) {
		return "", types.NewError(types.ErrCodeInvalidRequest, "transaction hash must be 64 hex characters")
	}
	return strings.ToUpper(hash), nil
}

// ValidateSourceAddress checks an XRPL classic address, including its checksum.
func ValidateSourceAddress(address string) error {
	if address == "" {
		return types.NewError(types.ErrCodeInvalidRequest, "address cannot be empty")
	}
	if !xrpl.IsValidClassicAddress(address) {
		return types.NewError(types.ErrCodeInvalidRequest, "invalid XRPL address %q", address)
	}
	return nil
}

// ValidateEVMAddress checks a 0x-prefixed 20-byte hex address.
func ValidateEVMAddress(address string) error {
	if !strings.HasPrefix(address, "0x") {
		return types.NewError(types.ErrCodeInvalidRequest, "EVM address must start with 0x")
	}
	if len(address) != 42 || !isHexString(address[2:]) {
		return types.NewError(types.ErrCodeInvalidRequest, "EVM address must be 20 bytes of hex")
	}
	return nil
}

// ResolveDestination accepts either an XRPL classic address, which is mapped to
// its derived destination account, or a destination-chain address used as is.
func ResolveDestination(address string) (common.Address, error) {
	if strings.HasPrefix(address, "0x") {
		if err := ValidateEVMAddress(address); err != nil {
			return common.Address{}, err
		}
		return common.HexToAddress(address), nil
	}
	if err := ValidateSourceAddress(address); err != nil {
		return common.Address{}, err
	}
	return xrpl.DeriveDestinationAddress(address)
}

func isHexString(s string) bool {
	return hexPattern.MatchString(s)
}
