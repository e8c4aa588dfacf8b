// Package instruction encodes and decodes the 32-byte payment memo that carries
// a user's deposit intent from the XRP Ledger to Flare.
//
// Standard layout (firelight, upshift):
//
//	[0]      instruction code
//	[1]      wallet id (0 = default)
//	[2..21]  target vault address
//	[22..25] vault id, uint32 big-endian
//	[26..31] lots, uint48 big-endian
//
// Split layout:
//
//	[0]      instruction code
//	[1]      percent routed to vault A (0..100)
//	[2..25]  reserved, zero
//	[26..31] lots, uint48 big-endian
package instruction

import (
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vitwit/xrpfi/types"
)

const (
	MemoSize = 32

	// MaxLots is the largest value representable in the 6-byte lots field.
	MaxLots = uint64(1)<<48 - 1
)

// Lot size: 1 lot = 0.1 XRP.
var lotsPerXRP = decimal.NewFromInt(10)

// Instruction is a decoded memo. SplitPercentA is only meaningful for the split kind.
type Instruction struct {
	Code          byte
	WalletID      byte
	VaultAddress  [20]byte
	VaultID       uint32
	Lots          uint64
	SplitPercentA byte
}

// Kind resolves the instruction code.
func (i Instruction) Kind() (Kind, error) {
	return KindForCode(i.Code)
}

// IsSplit reports whether the code selects the split layout.
func (i Instruction) IsSplit() bool {
	return i.Code == CodeSplit
}

// SplitPercentB is the share routed to vault B.
func (i Instruction) SplitPercentB() byte {
	return 100 - i.SplitPercentA
}

// Bytes re-encodes the instruction.
func (i Instruction) Bytes() [MemoSize]byte {
	var out [MemoSize]byte
	out[0] = i.Code
	if i.IsSplit() {
		out[1] = i.SplitPercentA
	} else {
		out[1] = i.WalletID
		copy(out[2:22], i.VaultAddress[:])
		binary.BigEndian.PutUint32(out[22:26], i.VaultID)
	}
	putUint48(out[26:32], i.Lots)
	return out
}

// Hex is the upper-case hex form placed in the XRPL MemoData field.
func (i Instruction) Hex() string {
	b := i.Bytes()
	return strings.ToUpper(hex.EncodeToString(b[:]))
}

// Encode builds a single-protocol memo.
func Encode(kind Kind, vaultAddress [20]byte, vaultID uint32, lots uint64) ([MemoSize]byte, error) {
	var out [MemoSize]byte
	if kind == KindSplit {
		return out, types.NewError(types.ErrCodeInvalidRequest, "split instructions must be built with EncodeSplit")
	}
	code, ok := kindCodes[kind]
	if !ok {
		return out, types.NewError(types.ErrCodeUnknownInstructionCode, "unknown instruction kind %q", kind)
	}
	if lots > MaxLots {
		return out, types.NewError(types.ErrCodeInvalidRequest, "lots %d exceed the 48-bit field", lots)
	}

	out[0] = code
	out[1] = 0
	copy(out[2:22], vaultAddress[:])
	binary.BigEndian.PutUint32(out[22:26], vaultID)
	putUint48(out[26:32], lots)
	return out, nil
}

// EncodeSplit builds a split memo. percentA is clamped to 0..100.
func EncodeSplit(percentA int, lots uint64) ([MemoSize]byte, error) {
	var out [MemoSize]byte
	if lots > MaxLots {
		return out, types.NewError(types.ErrCodeInvalidRequest, "lots %d exceed the 48-bit field", lots)
	}
	switch {
	case percentA < 0:
		percentA = 0
	case percentA > 100:
		percentA = 100
	}

	out[0] = CodeSplit
	out[1] = byte(percentA)
	putUint48(out[26:32], lots)
	return out, nil
}

// Decode parses a raw memo. Unknown codes decode structurally; resolve them with Kind.
func Decode(b []byte) (Instruction, error) {
	if len(b) != MemoSize {
		return Instruction{}, types.NewError(types.ErrCodeMalformedMemo, "memo must be %d bytes, got %d", MemoSize, len(b))
	}

	ins := Instruction{
		Code: b[0],
		Lots: uint48(b[26:32]),
	}
	if ins.Code == CodeSplit {
		ins.SplitPercentA = b[1]
		if ins.SplitPercentA > 100 {
			return Instruction{}, types.NewError(types.ErrCodeMalformedMemo, "split percent %d out of range", b[1])
		}
		return ins, nil
	}

	ins.WalletID = b[1]
	copy(ins.VaultAddress[:], b[2:22])
	ins.VaultID = binary.BigEndian.Uint32(b[22:26])
	return ins, nil
}

// DecodeHex parses a hex memo, with or without a 0x prefix, in either case.
func DecodeHex(s string) (Instruction, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Instruction{}, types.WrapError(types.ErrCodeMalformedMemo, err, "memo is not valid hex")
	}
	return Decode(raw)
}

// LotsFromAmount converts an XRP amount to lots, rounding half away from zero.
func LotsFromAmount(amountXRP decimal.Decimal) (uint64, error) {
	if amountXRP.IsNegative() {
		return 0, types.NewError(types.ErrCodeInvalidRequest, "amount cannot be negative")
	}
	lots := amountXRP.Mul(lotsPerXRP).Round(0)
	if lots.GreaterThan(decimal.NewFromInt(int64(MaxLots))) {
		return 0, types.NewError(types.ErrCodeInvalidRequest, "amount %s exceeds the 48-bit lots field", amountXRP)
	}
	return uint64(lots.IntPart()), nil
}

// AmountFromLots converts lots back to XRP.
func AmountFromLots(lots uint64) decimal.Decimal {
	return decimal.NewFromInt(int64(lots)).Div(lotsPerXRP)
}

func putUint48(dst []byte, v uint64) {
	dst[0] = byte(v >> 40)
	dst[1] = byte(v >> 32)
	dst[2] = byte(v >> 24)
	dst[3] = byte(v >> 16)
	dst[4] = byte(v >> 8)
	dst[5] = byte(v)
}

func uint48(b []byte) uint64 {
	return uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 |
		uint64(b[3])<<16 | uint64(b[4])<<8 | uint64(b[5])
}
