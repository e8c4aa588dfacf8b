package xrpl

import (
	"bytes"
	"crypto/sha256"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"github.com/vitwit/xrpfi/types"
)

const (
	accountIDVersion = 0x00
	accountIDLen     = 20
	checksumLen      = 4
	dropsPerXRP      = 6
)

var xrplAlphabet = base58.NewAlphabet("rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz")

// DecodeAccountID returns the 20-byte account id of a classic address after
// checking the version byte and the double-SHA256 checksum.
func DecodeAccountID(classic string) ([accountIDLen]byte, error) {
	var id [accountIDLen]byte
	raw, err := base58.DecodeAlphabet(classic, xrplAlphabet)
	if err != nil {
		return id, types.WrapError(types.ErrCodeInvalidRequest, err, "invalid XRPL address %q", classic)
	}
	if len(raw) != 1+accountIDLen+checksumLen || raw[0] != accountIDVersion {
		return id, types.NewError(types.ErrCodeInvalidRequest, "invalid XRPL address %q", classic)
	}
	payload, sum := raw[:1+accountIDLen], raw[1+accountIDLen:]
	if !bytes.Equal(checksum(payload), sum) {
		return id, types.NewError(types.ErrCodeInvalidRequest, "bad checksum in XRPL address %q", classic)
	}
	copy(id[:], payload[1:])
	return id, nil
}

// EncodeClassicAddress is the inverse of DecodeAccountID.
func EncodeClassicAddress(id [accountIDLen]byte) string {
	payload := append([]byte{accountIDVersion}, id[:]...)
	return base58.EncodeAlphabet(append(payload, checksum(payload)...), xrplAlphabet)
}

// IsValidClassicAddress reports whether s decodes to an account id.
func IsValidClassicAddress(s string) bool {
	_, err := DecodeAccountID(s)
	return err == nil
}

// DeriveDestinationAddress maps a classic address to its destination-chain
// address by reinterpreting the account id bytes. The mapping is pure and stable.
func DeriveDestinationAddress(classic string) (common.Address, error) {
	id, err := DecodeAccountID(classic)
	if err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(id[:]), nil
}

func checksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:checksumLen]
}

// DropsToXRP converts an integer drops string to XRP.
func DropsToXRP(drops string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(drops)
	if err != nil || !d.Equal(d.Truncate(0)) || d.IsNegative() {
		return decimal.Zero, types.NewError(types.ErrCodeInvalidRequest, "invalid drops amount %q", drops)
	}
	return d.Shift(-dropsPerXRP), nil
}

// XRPToDrops converts XRP to whole drops, truncating sub-drop precision.
func XRPToDrops(xrp decimal.Decimal) string {
	return xrp.Shift(dropsPerXRP).Truncate(0).String()
}
