// Package gateway performs every destination-chain read and write the bridge needs:
// asset transfers, vault deposits, allowance management and holdings queries.
package gateway

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/vitwit/xrpfi/clients"
	"github.com/vitwit/xrpfi/config"
	"github.com/vitwit/xrpfi/logger"
	"github.com/vitwit/xrpfi/metrics"
	"github.com/vitwit/xrpfi/types"
)

// Vault is a configured deposit target.
type Vault struct {
	ID      uint32
	Name    string
	Kind    types.InstructionType
	Address common.Address
}

type Config struct {
	// AssetToken is the bridged asset held by the operator (FXRP).
	AssetToken              common.Address
	MasterAccountController common.Address
	Vaults                  []Vault
}

// ConfigFrom maps the file configuration. Vaults without an address are kept so
// they show up in listings, but every call against them fails or reads zero.
func ConfigFrom(cfg *config.Config) Config {
	out := Config{
		AssetToken:              common.HexToAddress(cfg.Flare.FXRPToken),
		MasterAccountController: common.HexToAddress(cfg.Flare.MasterAccountController),
	}
	for _, v := range cfg.Vaults {
		out.Vaults = append(out.Vaults, Vault{
			ID:      v.ID,
			Name:    v.Name,
			Kind:    types.InstructionType(v.Kind),
			Address: common.HexToAddress(v.Address),
		})
	}
	return out
}

type Gateway struct {
	backend    clients.Backend
	cfg        Config
	vaults     map[uint32]Vault
	asset      *clients.Contract
	controller *clients.Contract
	logger     logger.Logger
	metrics    metrics.Recorder

	mu       sync.Mutex
	decimals map[common.Address]uint8
	assets   map[common.Address]common.Address
}

type Option func(*Gateway)

func WithLogger(l logger.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(g *Gateway) { g.metrics = m }
}

func New(backend clients.Backend, cfg Config, opts ...Option) *Gateway {
	g := &Gateway{
		backend:    backend,
		cfg:        cfg,
		vaults:     make(map[uint32]Vault, len(cfg.Vaults)),
		asset:      clients.NewContract(backend, cfg.AssetToken, clients.ERC20ABI),
		controller: clients.NewContract(backend, cfg.MasterAccountController, clients.MasterAccountControllerABI),
		logger:     logger.NoopLogger{},
		metrics:    metrics.NoopRecorder{},
		decimals:   make(map[common.Address]uint8),
		assets:     make(map[common.Address]common.Address),
	}
	for _, v := range cfg.Vaults {
		g.vaults[v.ID] = v
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Operator is the address every submission is signed by.
func (g *Gateway) Operator() common.Address { return g.backend.From() }

// Vaults returns the configured vaults in configuration order.
func (g *Gateway) Vaults() []Vault {
	return append([]Vault(nil), g.cfg.Vaults...)
}

// VaultByKind returns the vault that single-protocol instructions of kind target.
func (g *Gateway) VaultByKind(kind types.InstructionType) (Vault, bool) {
	for _, v := range g.cfg.Vaults {
		if v.Kind == kind {
			return v, true
		}
	}
	return Vault{}, false
}

func (g *Gateway) vault(id uint32) (Vault, error) {
	v, ok := g.vaults[id]
	if !ok {
		return Vault{}, types.NewError(types.ErrCodeInvalidRequest, "unknown vault %d", id)
	}
	if v.Address == (common.Address{}) {
		return Vault{}, types.NewError(types.ErrCodeConfigError, "vault %s has no address configured", v.Name)
	}
	return v, nil
}

// tokenDecimals reads and caches decimals() of an ERC-20 compatible contract.
func (g *Gateway) tokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	g.mu.Lock()
	d, ok := g.decimals[token]
	g.mu.Unlock()
	if ok {
		return d, nil
	}
	d, err := clients.NewContract(g.backend, token, clients.ERC20ABI).CallUint8(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	g.mu.Lock()
	g.decimals[token] = d
	g.mu.Unlock()
	return d, nil
}

// vaultAsset reads and caches the underlying asset of a vault.
func (g *Gateway) vaultAsset(ctx context.Context, vault common.Address) (common.Address, error) {
	g.mu.Lock()
	a, ok := g.assets[vault]
	g.mu.Unlock()
	if ok {
		return a, nil
	}
	a, err := clients.NewContract(g.backend, vault, clients.VaultABI).CallAddress(ctx, "asset")
	if err != nil {
		return common.Address{}, err
	}
	g.mu.Lock()
	g.assets[vault] = a
	g.mu.Unlock()
	return a, nil
}

// TransferAsset sends amount of the bridged asset from the operator to to.
func (g *Gateway) TransferAsset(ctx context.Context, to common.Address, amount decimal.Decimal) (string, error) {
	if g.cfg.AssetToken == (common.Address{}) {
		return "", types.NewError(types.ErrCodeConfigError, "asset token address not configured")
	}
	dec, err := g.tokenDecimals(ctx, g.cfg.AssetToken)
	if err != nil {
		return "", err
	}
	units := clients.ToBaseUnits(amount, dec)
	if err := g.checkBalance(ctx, g.asset, units, dec); err != nil {
		return "", err
	}

	start := time.Now()
	receipt, err := g.asset.Transact(ctx, nil, "transfer", to, units)
	g.observe("transfer", start, err)
	if err != nil {
		return "", err
	}
	g.logger.Info("asset transferred", map[string]any{"to": to.Hex(), "amount": amount.String(), "tx": receipt.TxHash.Hex()})
	return receipt.TxHash.Hex(), nil
}

// EnsureAllowance approves spender for the maximum amount when the current
// allowance does not cover amount.
func (g *Gateway) EnsureAllowance(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	erc20 := clients.NewContract(g.backend, token, clients.ERC20ABI)
	current, err := erc20.CallBig(ctx, "allowance", g.Operator(), spender)
	if err != nil {
		return err
	}
	if current.Cmp(amount) >= 0 {
		return nil
	}
	g.logger.Info("approving spender", map[string]any{"token": token.Hex(), "spender": spender.Hex()})
	_, err = erc20.Transact(ctx, nil, "approve", spender, maxUint256())
	return err
}

// ExecuteProof hands an attestation proof to the MasterAccountController, which
// performs the encoded action from the user's smart account.
func (g *Gateway) ExecuteProof(ctx context.Context, proof []byte, sourceAccount common.Address) (string, error) {
	if g.cfg.MasterAccountController == (common.Address{}) {
		return "", types.NewError(types.ErrCodeConfigError, "master account controller not configured")
	}
	start := time.Now()
	receipt, err := g.controller.Transact(ctx, nil, "executeTransaction", proof, sourceAccount)
	g.observe("execute_proof", start, err)
	if err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

// SmartAccount returns the smart account owned by sourceAccount, if one exists.
// Reverts and read errors are treated as "no account".
func (g *Gateway) SmartAccount(ctx context.Context, sourceAccount common.Address) (common.Address, bool) {
	addr, err := g.controller.CallAddress(ctx, "smartAccounts", sourceAccount)
	if err != nil {
		g.logger.Debug("smart account lookup failed", map[string]any{"account": sourceAccount.Hex(), "error": err})
		return common.Address{}, false
	}
	if addr == (common.Address{}) {
		return common.Address{}, false
	}
	return addr, true
}

// OperatorBalances returns the operator's native and asset balances, formatted.
func (g *Gateway) OperatorBalances(ctx context.Context) (native string, asset string, err error) {
	bal, err := g.backend.BalanceAt(ctx, g.Operator())
	if err != nil {
		return "", "", err
	}
	native = clients.FormatUnits(bal, 18)
	asset = zeroAmount
	if g.cfg.AssetToken != (common.Address{}) {
		asset = g.balanceOf(ctx, g.cfg.AssetToken, g.Operator())
	}
	return native, asset, nil
}

func (g *Gateway) checkBalance(ctx context.Context, token *clients.Contract, units *big.Int, dec uint8) error {
	bal, err := token.CallBig(ctx, "balanceOf", g.Operator())
	if err != nil {
		return err
	}
	if bal.Cmp(units) < 0 {
		return types.NewError(types.ErrCodeInsufficientBalance,
			"operator holds %s, needs %s", clients.FormatUnits(bal, dec), clients.FormatUnits(units, dec))
	}
	return nil
}

func (g *Gateway) observe(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	g.metrics.ObserveLatency(metrics.OpExecution, time.Since(start), map[string]string{"outcome": outcome, "call": op})
}

func maxUint256() *big.Int {
	return new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
}
