package verification

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProofFromResponseDataSources(t *testing.T) {
	p, err := ProofFromResponse(&ProofResponse{MerkleProof: []string{leaf}, Data: json.RawMessage(`"0xbeef"`)})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xbe, 0xef}, p.Data)

	p, err = ProofFromResponse(&ProofResponse{MerkleProof: []string{leaf}, ResponseHex: "cafe"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xca, 0xfe}, p.Data)

	p, err = ProofFromResponse(&ProofResponse{MerkleProof: []string{leaf}, Data: json.RawMessage(`{"a":1}`)})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(p.Data))
}

func TestProofFromResponseRejectsBadInput(t *testing.T) {
	_, err := ProofFromResponse(nil)
	assert.Error(t, err)
	_, err = ProofFromResponse(&ProofResponse{})
	assert.Error(t, err)
	_, err = ProofFromResponse(&ProofResponse{MerkleProof: []string{"0x1234"}})
	assert.Error(t, err)
}

func TestEncodeForExecutionRoundTrip(t *testing.T) {
	p := &Proof{
		MerkleProof: []common.Hash{common.HexToHash(leaf), common.HexToHash("0x01")},
		Data:        []byte("payload"),
	}
	encoded, err := p.EncodeForExecution()
	require.NoError(t, err)

	values, err := proofArgs.Unpack(encoded)
	require.NoError(t, err)
	require.Len(t, values, 2)
	hashes := values[0].([][32]byte)
	assert.Len(t, hashes, 2)
	assert.Equal(t, common.HexToHash(leaf), common.Hash(hashes[0]))
	assert.Equal(t, []byte("payload"), values[1].([]byte))
}
