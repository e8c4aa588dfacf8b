package clients

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Backend is the destination-chain surface the gateway and the attestation submitter need.
// EVMClient is the production implementation.
type Backend interface {
	// CallContract runs a read-only call against the latest block.
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	// Transact simulates, signs, submits and waits for the receipt of a call from the operator.
	Transact(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Receipt, error)
	// BalanceAt returns the native balance of an account.
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	// From is the operator (signer) address.
	From() common.Address
}
