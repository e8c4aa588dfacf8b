package gateway

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/vitwit/xrpfi/clients"
	"github.com/vitwit/xrpfi/types"
	"golang.org/x/sync/errgroup"
)

// DepositToVault deposits amount of the vault's asset under the operator's identity.
// When receiver differs from the operator, the minted shares are transferred on in
// a second transaction. If that transfer fails the shares stay with the operator
// and the error carries the deposit hash for manual recovery.
func (g *Gateway) DepositToVault(ctx context.Context, vaultID uint32, amount decimal.Decimal, receiver common.Address) (*types.DepositResult, error) {
	v, err := g.vault(vaultID)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, types.NewError(types.ErrCodeInvalidRequest, "deposit amount must be positive, got %s", amount)
	}

	assetAddr, err := g.vaultAsset(ctx, v.Address)
	if err != nil {
		return nil, err
	}
	dec, err := g.tokenDecimals(ctx, assetAddr)
	if err != nil {
		return nil, err
	}
	units := clients.ToBaseUnits(amount, dec)
	operator := g.Operator()
	asset := clients.NewContract(g.backend, assetAddr, clients.ERC20ABI)
	vault := clients.NewContract(g.backend, v.Address, clients.VaultABI)

	if err := g.checkBalance(ctx, asset, units, dec); err != nil {
		return nil, err
	}

	limit, err := vault.CallBig(ctx, "maxDeposit", operator)
	if err != nil {
		return nil, err
	}
	if limit.Sign() == 0 {
		return nil, types.NewError(types.ErrCodeDepositNotAllowed, "vault %s does not accept deposits from %s", v.Name, operator.Hex())
	}
	if units.Cmp(limit) > 0 {
		return nil, types.NewError(types.ErrCodeVaultCapExceeded,
			"deposit of %s exceeds vault %s capacity: %s available",
			clients.FormatUnits(units, dec), v.Name, clients.FormatUnits(limit, dec))
	}

	if err := g.EnsureAllowance(ctx, assetAddr, v.Address, units); err != nil {
		return nil, err
	}

	start := time.Now()
	receipt, err := vault.Transact(ctx, nil, "deposit", units, operator)
	g.observe("deposit", start, err)
	if err != nil {
		return nil, err
	}

	// shares minted by this deposit only; concurrent deposits share the operator balance
	shares, found := mintedShares(receipt, v.Address, operator)
	if !found {
		shares = big.NewInt(0)
	}

	result := &types.DepositResult{
		VaultID:  vaultID,
		TxHash:   receipt.TxHash.Hex(),
		Shares:   shares.String(),
		Receiver: operator.Hex(),
	}
	g.logger.Info("vault deposit confirmed", map[string]any{"vault": v.Name, "amount": amount.String(), "shares": result.Shares, "tx": result.TxHash})

	if receiver == operator || receiver == (common.Address{}) {
		return result, nil
	}
	if !found || shares.Sign() <= 0 {
		g.logger.Error("deposit minted no attributable shares, shares held by operator", map[string]any{
			"vault": v.Name, "depositTx": result.TxHash, "receiver": receiver.Hex(),
		})
		return result, types.NewError(types.ErrCodeChainSubmissionReverted,
			"deposit %s confirmed without a Deposit event for %s; shares held by operator", result.TxHash, operator.Hex())
	}

	transfer, err := vault.Transact(ctx, nil, "transfer", receiver, shares)
	if err != nil {
		g.logger.Error("share transfer failed, shares held by operator", map[string]any{
			"vault": v.Name, "shares": result.Shares, "depositTx": result.TxHash, "receiver": receiver.Hex(), "error": err,
		})
		return result, types.WrapError(types.CodeOrDefault(err, types.ErrCodeChainSubmissionReverted), err,
			"deposit %s succeeded but share transfer to %s failed", result.TxHash, receiver.Hex())
	}
	result.TransferTxHash = transfer.TxHash.Hex()
	result.Receiver = receiver.Hex()
	return result, nil
}

// mintedShares reads the shares field of the vault's Deposit event whose owner is owner.
func mintedShares(receipt *ethtypes.Receipt, vault, owner common.Address) (*big.Int, bool) {
	ev, ok := clients.VaultABI.Events["Deposit"]
	if !ok || receipt == nil {
		return nil, false
	}
	ownerTopic := common.BytesToHash(owner.Bytes())
	for _, l := range receipt.Logs {
		if l.Address != vault || len(l.Topics) != 3 || l.Topics[0] != ev.ID || l.Topics[2] != ownerTopic {
			continue
		}
		values, err := ev.Inputs.NonIndexed().Unpack(l.Data)
		if err != nil || len(values) != 2 {
			continue
		}
		if shares, ok := values[1].(*big.Int); ok {
			return shares, true
		}
	}
	return nil, false
}

// DepositSplit runs both legs concurrently and reports them independently.
// A leg with a non-positive amount is skipped.
func (g *Gateway) DepositSplit(ctx context.Context, vaultA uint32, amountA decimal.Decimal, vaultB uint32, amountB decimal.Decimal, receiver common.Address) *types.SplitResult {
	res := &types.SplitResult{}
	var eg errgroup.Group
	if amountA.IsPositive() {
		eg.Go(func() error {
			res.A, res.ErrA = g.DepositToVault(ctx, vaultA, amountA, receiver)
			if res.ErrA != nil {
				res.A = nil
			}
			return nil
		})
	}
	if amountB.IsPositive() {
		eg.Go(func() error {
			res.B, res.ErrB = g.DepositToVault(ctx, vaultB, amountB, receiver)
			if res.ErrB != nil {
				res.B = nil
			}
			return nil
		})
	}
	_ = eg.Wait()
	return res
}
