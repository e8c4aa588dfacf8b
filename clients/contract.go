package clients

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	bridgetypes "github.com/vitwit/xrpfi/types"
)

// Contract binds an ABI to an address on a Backend.
type Contract struct {
	Address common.Address
	abi     abi.ABI
	backend Backend
}

func NewContract(backend Backend, address common.Address, parsed abi.ABI) *Contract {
	return &Contract{Address: address, abi: parsed, backend: backend}
}

// Call packs a view call, executes it and unpacks the outputs.
func (c *Contract) Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.backend.CallContract(ctx, c.Address, data)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 && len(c.abi.Methods[method].Outputs) > 0 {
		return nil, bridgetypes.NewError(bridgetypes.ErrCodeNetworkError, "%s returned no data from %s", method, c.Address.Hex())
	}
	values, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// Transact packs and submits a state-changing call.
func (c *Contract) Transact(ctx context.Context, value *big.Int, method string, args ...interface{}) (*types.Receipt, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return c.backend.Transact(ctx, c.Address, value, data)
}

func (c *Contract) CallBig(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	values, err := c.Call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := first(values).(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected output %T", method, first(values))
	}
	return v, nil
}

func (c *Contract) CallAddress(ctx context.Context, method string, args ...interface{}) (common.Address, error) {
	values, err := c.Call(ctx, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	v, ok := first(values).(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s: unexpected output %T", method, first(values))
	}
	return v, nil
}

func (c *Contract) CallUint8(ctx context.Context, method string, args ...interface{}) (uint8, error) {
	values, err := c.Call(ctx, method, args...)
	if err != nil {
		return 0, err
	}
	v, ok := first(values).(uint8)
	if !ok {
		return 0, fmt.Errorf("%s: unexpected output %T", method, first(values))
	}
	return v, nil
}

func (c *Contract) CallUint32(ctx context.Context, method string, args ...interface{}) (uint32, error) {
	values, err := c.Call(ctx, method, args...)
	if err != nil {
		return 0, err
	}
	v, ok := first(values).(uint32)
	if !ok {
		return 0, fmt.Errorf("%s: unexpected output %T", method, first(values))
	}
	return v, nil
}

func (c *Contract) CallString(ctx context.Context, method string, args ...interface{}) (string, error) {
	values, err := c.Call(ctx, method, args...)
	if err != nil {
		return "", err
	}
	v, ok := first(values).(string)
	if !ok {
		return "", fmt.Errorf("%s: unexpected output %T", method, first(values))
	}
	return v, nil
}

func first(values []interface{}) interface{} {
	if len(values) == 0 {
		return nil
	}
	return values[0]
}
