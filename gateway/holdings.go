package gateway

import (
	"context"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/vitwit/xrpfi/clients"
	"github.com/vitwit/xrpfi/types"
	"golang.org/x/sync/errgroup"
)

const (
	zeroAmount  = "0.000000"
	defaultRate = "1.000000"
)

// VaultStatus reads a snapshot of the vault's totals.
func (g *Gateway) VaultStatus(ctx context.Context, vaultID uint32) (*types.VaultStatus, error) {
	v, err := g.vault(vaultID)
	if err != nil {
		return nil, err
	}
	vault := clients.NewContract(g.backend, v.Address, clients.VaultABI)

	var (
		assetAddr           common.Address
		totalAssets, supply *big.Int
		assetDec, shareDec  uint8
	)
	eg, ectx := errgroup.WithContext(ctx)
	eg.Go(func() (err error) {
		assetAddr, err = g.vaultAsset(ectx, v.Address)
		if err != nil {
			return err
		}
		assetDec, err = g.tokenDecimals(ectx, assetAddr)
		return err
	})
	eg.Go(func() (err error) {
		totalAssets, err = vault.CallBig(ectx, "totalAssets")
		return err
	})
	eg.Go(func() (err error) {
		supply, err = vault.CallBig(ectx, "totalSupply")
		return err
	})
	eg.Go(func() (err error) {
		shareDec, err = g.tokenDecimals(ectx, v.Address)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return &types.VaultStatus{
		ID:           v.ID,
		Name:         v.Name,
		Address:      v.Address.Hex(),
		AssetAddress: assetAddr.Hex(),
		TotalAssets:  clients.FormatUnits(totalAssets, assetDec),
		TotalSupply:  clients.FormatUnits(supply, shareDec),
		ExchangeRate: exchangeRate(totalAssets, assetDec, supply, shareDec),
	}, nil
}

// GetHoldings aggregates the asset balance and vault positions of addr. It never
// fails: each read that errors degrades its field to zero (rate to 1.000000).
func (g *Gateway) GetHoldings(ctx context.Context, addr common.Address) *types.Holdings {
	h := &types.Holdings{
		Address:      addr.Hex(),
		AssetBalance: zeroAmount,
		Vaults:       make(map[string]types.VaultHolding, len(g.cfg.Vaults)),
	}
	holdings := make([]types.VaultHolding, len(g.cfg.Vaults))

	var eg errgroup.Group
	if g.cfg.AssetToken != (common.Address{}) {
		eg.Go(func() error {
			h.AssetBalance = g.balanceOf(ctx, g.cfg.AssetToken, addr)
			return nil
		})
	}
	for i, v := range g.cfg.Vaults {
		i, v := i, v
		eg.Go(func() error {
			holdings[i] = g.vaultHolding(ctx, v, addr)
			return nil
		})
	}
	_ = eg.Wait()

	total, _ := decimal.NewFromString(h.AssetBalance)
	for i, v := range g.cfg.Vaults {
		h.Vaults[vaultKey(v)] = holdings[i]
		if val, err := decimal.NewFromString(holdings[i].AssetsValue); err == nil {
			total = total.Add(val)
		}
	}
	h.TotalValueXRP = total.StringFixed(clients.DisplayDecimals)
	return h
}

func (g *Gateway) vaultHolding(ctx context.Context, v Vault, addr common.Address) types.VaultHolding {
	out := types.VaultHolding{Shares: zeroAmount, AssetsValue: zeroAmount, ExchangeRate: defaultRate}
	if v.Address == (common.Address{}) {
		return out
	}
	if status, err := g.VaultStatus(ctx, v.ID); err == nil {
		out.ExchangeRate = status.ExchangeRate
	} else {
		g.logger.Debug("vault status unavailable", map[string]any{"vault": v.Name, "error": err})
	}

	vault := clients.NewContract(g.backend, v.Address, clients.VaultABI)
	shares, err := vault.CallBig(ctx, "balanceOf", addr)
	if err != nil {
		g.logger.Debug("share balance unavailable", map[string]any{"vault": v.Name, "error": err})
		return out
	}
	if shareDec, err := g.tokenDecimals(ctx, v.Address); err == nil {
		out.Shares = clients.FormatUnits(shares, shareDec)
	}
	if shares.Sign() == 0 {
		return out
	}

	assets, err := vault.CallBig(ctx, "convertToAssets", shares)
	if err != nil {
		return out
	}
	assetAddr, err := g.vaultAsset(ctx, v.Address)
	if err != nil {
		return out
	}
	if dec, err := g.tokenDecimals(ctx, assetAddr); err == nil {
		out.AssetsValue = clients.FormatUnits(assets, dec)
	}
	return out
}

func (g *Gateway) balanceOf(ctx context.Context, token, owner common.Address) string {
	dec, err := g.tokenDecimals(ctx, token)
	if err != nil {
		return zeroAmount
	}
	bal, err := clients.NewContract(g.backend, token, clients.ERC20ABI).CallBig(ctx, "balanceOf", owner)
	if err != nil {
		return zeroAmount
	}
	return clients.FormatUnits(bal, dec)
}

// exchangeRate is assets per share with six decimals; an empty vault is 1:1.
func exchangeRate(assets *big.Int, assetDec uint8, supply *big.Int, shareDec uint8) string {
	if supply == nil || supply.Sign() == 0 || assets == nil {
		return defaultRate
	}
	a := clients.FromBaseUnits(assets, assetDec)
	s := clients.FromBaseUnits(supply, shareDec)
	return a.DivRound(s, clients.DisplayDecimals).StringFixed(clients.DisplayDecimals)
}

func vaultKey(v Vault) string {
	if v.Kind != "" {
		return string(v.Kind)
	}
	return strconv.FormatUint(uint64(v.ID), 10)
}
