package verification

import (
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/vitwit/xrpfi/types"
)

// Proof is an attestation proof ready to be handed to an executor contract.
type Proof struct {
	MerkleProof []common.Hash
	Data        []byte
	RoundID     uint64
}

var proofArgs = func() abi.Arguments {
	bytes32Arr, _ := abi.NewType("bytes32[]", "", nil)
	bytesT, _ := abi.NewType("bytes", "", nil)
	return abi.Arguments{{Type: bytes32Arr}, {Type: bytesT}}
}()

// ProofFromResponse converts a DA layer reply. Data is taken from a hex string
// when the layer returns one, otherwise from response_hex, otherwise the raw JSON.
func ProofFromResponse(resp *ProofResponse) (*Proof, error) {
	if resp == nil || len(resp.MerkleProof) == 0 {
		return nil, types.NewError(types.ErrCodeProofTimeout, "empty proof")
	}
	p := &Proof{RoundID: resp.RoundID}
	for _, h := range resp.MerkleProof {
		b, err := hexutil.Decode(h)
		if err != nil || len(b) != common.HashLength {
			return nil, types.NewError(types.ErrCodeNetworkError, "invalid merkle proof element %q", h)
		}
		p.MerkleProof = append(p.MerkleProof, common.BytesToHash(b))
	}

	var s string
	switch {
	case json.Unmarshal(resp.Data, &s) == nil && strings.HasPrefix(s, "0x"):
		b, err := hexutil.Decode(s)
		if err != nil {
			return nil, types.WrapError(types.ErrCodeNetworkError, err, "invalid proof data")
		}
		p.Data = b
	case resp.ResponseHex != "":
		b, err := hexutil.Decode(ensure0x(resp.ResponseHex))
		if err != nil {
			return nil, types.WrapError(types.ErrCodeNetworkError, err, "invalid response_hex")
		}
		p.Data = b
	default:
		p.Data = []byte(resp.Data)
	}
	return p, nil
}

// EncodeForExecution ABI-encodes the proof as (bytes32[] merkleProof, bytes data).
func (p *Proof) EncodeForExecution() ([]byte, error) {
	hashes := make([][32]byte, len(p.MerkleProof))
	for i, h := range p.MerkleProof {
		hashes[i] = h
	}
	data := p.Data
	if data == nil {
		data = []byte{}
	}
	return proofArgs.Pack(hashes, data)
}

func ensure0x(s string) string {
	if strings.HasPrefix(s, "0x") {
		return s
	}
	return "0x" + s
}
