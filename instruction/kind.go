package instruction

import (
	"github.com/vitwit/xrpfi/types"
)

// Instruction codes carried in byte 0 of the memo.
const (
	CodeFirelight byte = 0x10
	CodeUpshift   byte = 0x20
	CodeSplit     byte = 0x30
)

// Kind is the resolved instruction kind.
type Kind = types.InstructionType

const (
	KindFirelight = types.InstructionFirelight
	KindUpshift   = types.InstructionUpshift
	KindSplit     = types.InstructionSplit
)

var kindCodes = map[Kind]byte{
	KindFirelight: CodeFirelight,
	KindUpshift:   CodeUpshift,
	KindSplit:     CodeSplit,
}

// KindForCode maps a memo code to its kind.
func KindForCode(code byte) (Kind, error) {
	switch code {
	case CodeFirelight:
		return KindFirelight, nil
	case CodeUpshift:
		return KindUpshift, nil
	case CodeSplit:
		return KindSplit, nil
	default:
		return "", types.NewError(types.ErrCodeUnknownInstructionCode, "unknown instruction code 0x%02x", code)
	}
}

// CodeForKind is the inverse of KindForCode.
func CodeForKind(kind Kind) (byte, error) {
	code, ok := kindCodes[kind]
	if !ok {
		return 0, types.NewError(types.ErrCodeUnknownInstructionCode, "unknown instruction kind %q", kind)
	}
	return code, nil
}

// ParseKind accepts a kind name as used in configs and CLI flags.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := kindCodes[k]; !ok {
		return "", types.NewError(types.ErrCodeUnknownInstructionCode, "unknown instruction kind %q", s)
	}
	return k, nil
}
