package clients

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	bridgetypes "github.com/vitwit/xrpfi/types"
)

// classifyCallError turns eth_call / eth_estimateGas failures into typed errors.
// Execution reverts become SIMULATION_FAILED with the decoded reason when the node returns one.
func classifyCallError(err error) error {
	if reason, ok := RevertReason(err); ok {
		return &bridgetypes.BridgeError{
			Code:    bridgetypes.ErrCodeSimulationFailed,
			Message: "simulation reverted: " + reason,
			Data:    reason,
			Err:     err,
		}
	}
	if strings.Contains(err.Error(), "execution reverted") {
		return bridgetypes.WrapError(bridgetypes.ErrCodeSimulationFailed, err, "simulation reverted")
	}
	return bridgetypes.WrapError(bridgetypes.ErrCodeNetworkError, err, "rpc call failed")
}

// RevertReason extracts a solidity Error(string) reason carried in a JSON-RPC error.
func RevertReason(err error) (string, bool) {
	var de rpc.DataError
	if !errors.As(err, &de) {
		return "", false
	}
	s, ok := de.ErrorData().(string)
	if !ok {
		return "", false
	}
	data, decodeErr := hexutil.Decode(s)
	if decodeErr != nil {
		return "", false
	}
	reason, unpackErr := abi.UnpackRevert(data)
	if unpackErr != nil {
		return "", false
	}
	return reason, true
}
