package clients

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	bridgetypes "github.com/vitwit/xrpfi/types"
)

type dataErr struct {
	msg  string
	data interface{}
}

func (e dataErr) Error() string          { return e.msg }
func (e dataErr) ErrorData() interface{} { return e.data }

// Error(string) selector followed by the ABI encoding of "cap exceeded".
func revertPayload() string {
	b := []byte{0x08, 0xc3, 0x79, 0xa0}
	offset := make([]byte, 32)
	offset[31] = 0x20
	length := make([]byte, 32)
	length[31] = byte(len("cap exceeded"))
	str := make([]byte, 32)
	copy(str, "cap exceeded")
	b = append(b, offset...)
	b = append(b, length...)
	b = append(b, str...)
	return hexutil.Encode(b)
}

func TestClassifyCallError(t *testing.T) {
	err := classifyCallError(dataErr{msg: "execution reverted", data: revertPayload()})
	assert.Equal(t, bridgetypes.ErrCodeSimulationFailed, bridgetypes.CodeOf(err))
	assert.Contains(t, err.Error(), "cap exceeded")

	err = classifyCallError(errors.New("execution reverted"))
	assert.Equal(t, bridgetypes.ErrCodeSimulationFailed, bridgetypes.CodeOf(err))

	err = classifyCallError(errors.New("connection refused"))
	assert.Equal(t, bridgetypes.ErrCodeNetworkError, bridgetypes.CodeOf(err))
}

func TestRevertReasonWithoutData(t *testing.T) {
	_, ok := RevertReason(errors.New("plain"))
	assert.False(t, ok)
	_, ok = RevertReason(dataErr{msg: "x", data: 42})
	assert.False(t, ok)
}

func TestCleanHex(t *testing.T) {
	assert.Equal(t, "abcd", cleanHex("0xabcd"))
	assert.Equal(t, "abcd", cleanHex("0Xabcd"))
	assert.Equal(t, "abcd", cleanHex("abcd"))
}
