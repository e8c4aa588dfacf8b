// Package quote builds the payment a user signs on the XRP Ledger to enter a
// yield strategy: destination, memo, drops and fee estimate.
package quote

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/vitwit/xrpfi/config"
	"github.com/vitwit/xrpfi/instruction"
	"github.com/vitwit/xrpfi/types"
	"github.com/vitwit/xrpfi/xrpl"
)

const (
	StrategySplit = "split"

	// XRPLFee is the standard reference fee of one payment.
	XRPLFee = "0.000012"
)

var (
	minimumAmount  = decimal.RequireFromString("0.1")
	mintingFeeRate = decimal.RequireFromString("0.002")
	xrplFee        = decimal.RequireFromString(XRPLFee)
	hundred        = decimal.NewFromInt(100)
)

var descriptions = map[types.InstructionType]string{
	types.InstructionFirelight: "Stake FXRP to receive stXRP, a liquid staking token. Earn yield from DeFi cover fees and Firelight Points.",
	types.InstructionUpshift:   "Deposit FXRP to earn yield from carry trades, AMM liquidity, and Firelight integration.",
}

var defaultAllocation = types.Allocation{Firelight: 50, Upshift: 50}

// Quoter answers strategy and prepare requests from the configured vaults.
type Quoter struct {
	operator string

	once       sync.Once
	vaults     []config.VaultConfig
	strategies []types.Strategy
}

func New(operatorAddress string, vaults []config.VaultConfig) *Quoter {
	return &Quoter{operator: operatorAddress, vaults: vaults}
}

// Strategies lists one strategy per configured vault kind. A vault without an
// address is listed but disabled.
func (q *Quoter) Strategies() []types.Strategy {
	q.once.Do(func() {
		for _, v := range q.vaults {
			kind := types.InstructionType(v.Kind)
			code, err := instruction.CodeForKind(kind)
			if err != nil || kind == types.InstructionSplit {
				continue
			}
			q.strategies = append(q.strategies, types.Strategy{
				ID:              v.Kind,
				Name:            v.Name,
				Description:     descriptions[kind],
				APY:             formatAPY(parseAPY(v.APY)),
				Risk:            v.Risk,
				Enabled:         common.IsHexAddress(v.Address),
				InstructionCode: code,
				VaultAddress:    v.Address,
			})
		}
	})
	return q.strategies
}

func (q *Quoter) Strategy(id string) (types.Strategy, bool) {
	for _, s := range q.Strategies() {
		if s.ID == id {
			return s, true
		}
	}
	return types.Strategy{}, false
}

// Prepare validates req and returns the payment to sign. A 100% allocation
// yields a single-protocol memo; anything else a split memo with percentA
// taken from the firelight share.
func (q *Quoter) Prepare(req *types.PrepareRequest) (*types.PrepareResponse, error) {
	if !xrpl.IsValidClassicAddress(req.XRPLAddress) {
		return nil, types.NewError(types.ErrCodeInvalidRequest, "invalid XRPL address %q", req.XRPLAddress)
	}
	amount, err := decimal.NewFromString(req.AmountXRP)
	if err != nil {
		return nil, types.WrapError(types.ErrCodeInvalidRequest, err, "invalid amount %q", req.AmountXRP)
	}
	if amount.LessThan(minimumAmount) {
		return nil, types.NewError(types.ErrCodeInvalidRequest, "minimum amount is %s XRP", minimumAmount)
	}

	alloc := defaultAllocation
	if req.Allocation != nil {
		alloc = *req.Allocation
	}
	if alloc.Firelight < 0 || alloc.Upshift < 0 || alloc.Firelight+alloc.Upshift != 100 {
		return nil, types.NewError(types.ErrCodeInvalidRequest, "allocation must total 100%%, got %d + %d", alloc.Firelight, alloc.Upshift)
	}

	lots, err := instruction.LotsFromAmount(amount)
	if err != nil {
		return nil, err
	}

	var (
		memo [instruction.MemoSize]byte
		info types.StrategyInfo
	)
	switch {
	case alloc.Firelight == 100:
		memo, info, err = q.single(types.InstructionFirelight, lots)
	case alloc.Upshift == 100:
		memo, info, err = q.single(types.InstructionUpshift, lots)
	default:
		memo, err = instruction.EncodeSplit(alloc.Firelight, lots)
		info = types.StrategyInfo{
			ID:   StrategySplit,
			Name: fmt.Sprintf("%d%% Firelight / %d%% Upshift", alloc.Firelight, alloc.Upshift),
			APY:  formatAPY(q.blendedAPY(alloc)),
		}
	}
	if err != nil {
		return nil, err
	}

	dest, err := xrpl.DeriveDestinationAddress(req.XRPLAddress)
	if err != nil {
		return nil, err
	}
	ins, err := instruction.Decode(memo[:])
	if err != nil {
		return nil, err
	}

	return &types.PrepareResponse{
		DestinationAddress: q.operator,
		Memo:               ins.Hex(),
		AmountDrops:        xrpl.XRPToDrops(amount),
		Lots:               lots,
		EstimatedFees:      Fees(amount),
		Strategy:           info,
		Allocation:         alloc,
		FlareAddress:       dest.Hex(),
	}, nil
}

// Fees estimates the cost of bridging amount XRP.
func Fees(amount decimal.Decimal) types.EstimatedFees {
	minting := amount.Mul(mintingFeeRate)
	return types.EstimatedFees{
		XRPLFee:    XRPLFee,
		MintingFee: minting.StringFixed(6),
		TotalXRP:   amount.Add(minting).Add(xrplFee).StringFixed(6),
	}
}

func (q *Quoter) single(kind types.InstructionType, lots uint64) ([instruction.MemoSize]byte, types.StrategyInfo, error) {
	v, ok := q.vault(kind)
	if !ok {
		return [instruction.MemoSize]byte{}, types.StrategyInfo{}, types.NewError(types.ErrCodeConfigError, "no vault configured for %s", kind)
	}
	var addr [20]byte
	if common.IsHexAddress(v.Address) {
		addr = common.HexToAddress(v.Address)
	}
	memo, err := instruction.Encode(kind, addr, v.ID, lots)
	return memo, types.StrategyInfo{ID: string(kind), Name: v.Name, APY: formatAPY(parseAPY(v.APY))}, err
}

func (q *Quoter) vault(kind types.InstructionType) (config.VaultConfig, bool) {
	for _, v := range q.vaults {
		if types.InstructionType(v.Kind) == kind {
			return v, true
		}
	}
	return config.VaultConfig{}, false
}

func (q *Quoter) blendedAPY(alloc types.Allocation) decimal.Decimal {
	var a, b decimal.Decimal
	if v, ok := q.vault(types.InstructionFirelight); ok {
		a = parseAPY(v.APY)
	}
	if v, ok := q.vault(types.InstructionUpshift); ok {
		b = parseAPY(v.APY)
	}
	return a.Mul(decimal.NewFromInt(int64(alloc.Firelight))).
		Add(b.Mul(decimal.NewFromInt(int64(alloc.Upshift)))).
		Div(hundred)
}

func parseAPY(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func formatAPY(d decimal.Decimal) string {
	return d.StringFixed(1) + "%"
}
