package instruction

import (
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/xrpfi/types"
)

var firelightVault = common.HexToAddress("0x91Bfe6A68aB035DFebb6A770FFfB748C03C0E40B")

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		kind    Kind
		vaultID uint32
		lots    uint64
	}{
		{"firelight zero lots", KindFirelight, 0, 0},
		{"firelight", KindFirelight, 7, 100},
		{"upshift max vault id", KindUpshift, ^uint32(0), 1},
		{"upshift max lots", KindUpshift, 2, MaxLots},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := Encode(tc.kind, firelightVault, tc.vaultID, tc.lots)
			require.NoError(t, err)

			ins, err := Decode(raw[:])
			require.NoError(t, err)

			kind, err := ins.Kind()
			require.NoError(t, err)
			assert.Equal(t, tc.kind, kind)
			assert.Equal(t, byte(0), ins.WalletID)
			assert.Equal(t, [20]byte(firelightVault), ins.VaultAddress)
			assert.Equal(t, tc.vaultID, ins.VaultID)
			assert.Equal(t, tc.lots, ins.Lots)
			assert.Equal(t, raw, ins.Bytes())
		})
	}
}

func TestEncodeLayout(t *testing.T) {
	raw, err := Encode(KindUpshift, firelightVault, 0x01020304, 0x0A0B0C0D0E0F)
	require.NoError(t, err)

	assert.Equal(t, CodeUpshift, raw[0])
	assert.Equal(t, firelightVault.Bytes(), raw[2:22])
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, raw[22:26])
	assert.Equal(t, []byte{0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F}, raw[26:32])
}

func TestEncodeRejectsLotsOverflow(t *testing.T) {
	_, err := Encode(KindFirelight, firelightVault, 0, MaxLots+1)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInvalidRequest, types.CodeOf(err))

	_, err = EncodeSplit(50, MaxLots+1)
	require.Error(t, err)
}

func TestEncodeRejectsSplitKind(t *testing.T) {
	_, err := Encode(KindSplit, firelightVault, 0, 1)
	require.Error(t, err)
}

func TestSplitPercentages(t *testing.T) {
	for _, pa := range []int{0, 1, 50, 99, 100} {
		raw, err := EncodeSplit(pa, 1000)
		require.NoError(t, err)

		ins, err := Decode(raw[:])
		require.NoError(t, err)
		assert.True(t, ins.IsSplit())
		assert.Equal(t, byte(pa), ins.SplitPercentA)
		assert.Equal(t, byte(100-pa), ins.SplitPercentB())
		assert.Equal(t, uint64(1000), ins.Lots)
		assert.Equal(t, make([]byte, 24), raw[2:26])
	}
}

func TestEncodeSplitClamps(t *testing.T) {
	raw, err := EncodeSplit(150, 1)
	require.NoError(t, err)
	assert.Equal(t, byte(100), raw[1])

	raw, err = EncodeSplit(-5, 1)
	require.NoError(t, err)
	assert.Equal(t, byte(0), raw[1])
}

func TestDecodeWrongLength(t *testing.T) {
	for _, n := range []int{0, 1, 31, 33, 64} {
		_, err := Decode(make([]byte, n))
		require.Error(t, err)
		assert.True(t, errors.Is(err, types.ErrMalformedMemo), "length %d", n)
	}
}

func TestDecodeUnknownCode(t *testing.T) {
	raw := make([]byte, MemoSize)
	raw[0] = 0x99
	raw[31] = 5

	ins, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, byte(0x99), ins.Code)
	assert.Equal(t, uint64(5), ins.Lots)

	_, err = ins.Kind()
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrUnknownInstructionCode))
}

func TestDecodeHex(t *testing.T) {
	raw, err := Encode(KindFirelight, firelightVault, 0, 25)
	require.NoError(t, err)

	ins, err := Decode(raw[:])
	require.NoError(t, err)

	for _, s := range []string{ins.Hex(), "0x" + ins.Hex(), "0x" + strings.ToLower(ins.Hex())} {
		got, err := DecodeHex(s)
		require.NoError(t, err)
		assert.Equal(t, ins, got)
	}

	_, err = DecodeHex("zz")
	assert.True(t, errors.Is(err, types.ErrMalformedMemo))
}

func TestLots(t *testing.T) {
	lots, err := LotsFromAmount(decimal.RequireFromString("10"))
	require.NoError(t, err)
	assert.Equal(t, uint64(100), lots)

	lots, err = LotsFromAmount(decimal.RequireFromString("0.15"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), lots)

	assert.Equal(t, "2.5", AmountFromLots(25).String())

	_, err = LotsFromAmount(decimal.RequireFromString("-1"))
	require.Error(t, err)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("upshift")
	require.NoError(t, err)
	assert.Equal(t, KindUpshift, k)

	code, err := CodeForKind(KindSplit)
	require.NoError(t, err)
	assert.Equal(t, CodeSplit, code)

	_, err = ParseKind("transfer")
	assert.Error(t, err)
}
