package gateway

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/xrpfi/clients"
	"github.com/vitwit/xrpfi/clients/fakechain"
	"github.com/vitwit/xrpfi/types"
)

var (
	operator   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	user       = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	fxrp       = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	firelight  = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	upshift    = common.HexToAddress("0x00000000000000000000000000000000000000f2")
	controller = common.HexToAddress("0x00000000000000000000000000000000000000c0")
)

// chainFixture keeps token and vault state behind the fake backend.
type chainFixture struct {
	chain *fakechain.Backend

	mu        sync.Mutex
	balances  map[common.Address]*big.Int
	shares    map[common.Address]map[common.Address]*big.Int
	allowance map[common.Address]*big.Int
	maxDep    map[common.Address]*big.Int
}

func units(s string) *big.Int {
	return clients.ToBaseUnits(decimal.RequireFromString(s), 6)
}

func newFixture(t *testing.T) *chainFixture {
	t.Helper()
	f := &chainFixture{
		chain:     fakechain.New(operator),
		balances:  map[common.Address]*big.Int{operator: units("1000")},
		shares:    map[common.Address]map[common.Address]*big.Int{firelight: {}, upshift: {}},
		allowance: map[common.Address]*big.Int{firelight: big.NewInt(0), upshift: big.NewInt(0)},
		maxDep:    map[common.Address]*big.Int{firelight: maxUint256(), upshift: maxUint256()},
	}
	c := f.chain

	c.Register(fxrp, clients.ERC20ABI)
	c.Returns(fxrp, "decimals", uint8(6))
	c.OnCall(fxrp, "balanceOf", func(args []interface{}) ([]interface{}, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		return []interface{}{f.bal(f.balances, args[0].(common.Address))}, nil
	})
	c.OnCall(fxrp, "allowance", func(args []interface{}) ([]interface{}, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		return []interface{}{new(big.Int).Set(f.allowance[args[1].(common.Address)])}, nil
	})
	c.OnTransact(fxrp, "approve", func(args []interface{}) ([]interface{}, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.allowance[args[0].(common.Address)] = args[1].(*big.Int)
		return nil, nil
	})
	c.OnTransact(fxrp, "transfer", func(args []interface{}) ([]interface{}, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		amt := args[1].(*big.Int)
		f.balances[operator] = new(big.Int).Sub(f.balances[operator], amt)
		to := args[0].(common.Address)
		f.balances[to] = new(big.Int).Add(f.bal(f.balances, to), amt)
		return nil, nil
	})

	for _, v := range []common.Address{firelight, upshift} {
		vault := v
		c.Register(vault, clients.VaultABI)
		c.Returns(vault, "asset", fxrp)
		c.Returns(vault, "decimals", uint8(6))
		c.Returns(vault, "totalAssets", units("1100"))
		c.Returns(vault, "totalSupply", units("1000"))
		c.OnCall(vault, "maxDeposit", func([]interface{}) ([]interface{}, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			return []interface{}{f.maxDep[vault]}, nil
		})
		c.OnCall(vault, "balanceOf", func(args []interface{}) ([]interface{}, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			return []interface{}{f.bal(f.shares[vault], args[0].(common.Address))}, nil
		})
		c.OnCall(vault, "convertToAssets", func(args []interface{}) ([]interface{}, error) {
			s := args[0].(*big.Int)
			return []interface{}{new(big.Int).Div(new(big.Int).Mul(s, big.NewInt(11)), big.NewInt(10))}, nil
		})
		c.OnTransact(vault, "deposit", func(args []interface{}) ([]interface{}, error) {
			return nil, f.deposit(vault, args)
		})
		c.OnLogs(vault, "deposit", func(args []interface{}) ([]*ethtypes.Log, error) {
			return depositLogs(args)
		})
		c.OnTransact(vault, "transfer", func(args []interface{}) ([]interface{}, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			to, amt := args[0].(common.Address), args[1].(*big.Int)
			f.shares[vault][operator] = new(big.Int).Sub(f.shares[vault][operator], amt)
			f.shares[vault][to] = new(big.Int).Add(f.bal(f.shares[vault], to), amt)
			return nil, nil
		})
	}

	c.Register(controller, clients.MasterAccountControllerABI)
	return f
}

// deposit mints 9 shares per 10 assets to the receiver.
func (f *chainFixture) deposit(vault common.Address, args []interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	amt := args[0].(*big.Int)
	if f.allowance[vault].Cmp(amt) < 0 {
		return errors.New("execution reverted: allowance")
	}
	f.balances[operator] = new(big.Int).Sub(f.balances[operator], amt)
	recv := args[1].(common.Address)
	f.shares[vault][recv] = new(big.Int).Add(f.bal(f.shares[vault], recv), mintedFor(amt))
	return nil
}

func mintedFor(assets *big.Int) *big.Int {
	return new(big.Int).Div(new(big.Int).Mul(assets, big.NewInt(9)), big.NewInt(10))
}

func depositLogs(args []interface{}) ([]*ethtypes.Log, error) {
	assets, recv := args[0].(*big.Int), args[1].(common.Address)
	l, err := fakechain.EventLog(clients.VaultABI.Events["Deposit"],
		[]common.Hash{common.BytesToHash(operator.Bytes()), common.BytesToHash(recv.Bytes())},
		assets, mintedFor(assets))
	if err != nil {
		return nil, err
	}
	return []*ethtypes.Log{l}, nil
}

func (f *chainFixture) bal(m map[common.Address]*big.Int, a common.Address) *big.Int {
	if v, ok := m[a]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

func (f *chainFixture) gateway() *Gateway {
	return New(f.chain, Config{
		AssetToken:              fxrp,
		MasterAccountController: controller,
		Vaults: []Vault{
			{ID: 1, Name: "Firelight", Kind: types.InstructionFirelight, Address: firelight},
			{ID: 2, Name: "Upshift", Kind: types.InstructionUpshift, Address: upshift},
		},
	})
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDepositToVaultForwardsShares(t *testing.T) {
	f := newFixture(t)
	g := f.gateway()

	res, err := g.DepositToVault(context.Background(), 1, dec("10"), user)
	require.NoError(t, err)

	assert.Equal(t, uint32(1), res.VaultID)
	assert.Equal(t, units("9").String(), res.Shares)
	assert.Equal(t, user.Hex(), res.Receiver)
	assert.NotEmpty(t, res.TxHash)
	assert.NotEmpty(t, res.TransferTxHash)

	// approve, deposit, transfer in that order
	sent := f.chain.Sent("")
	require.Len(t, sent, 3)
	assert.Equal(t, "approve", sent[0].Method)
	assert.Equal(t, 0, sent[0].Args[1].(*big.Int).Cmp(maxUint256()))
	assert.Equal(t, "deposit", sent[1].Method)
	assert.Equal(t, units("10").String(), sent[1].Args[0].(*big.Int).String())
	assert.Equal(t, operator, sent[1].Args[1].(common.Address))
	assert.Equal(t, "transfer", sent[2].Method)
	assert.Equal(t, firelight, sent[2].To)

	assert.Equal(t, units("9").String(), f.shares[firelight][user].String())
	assert.Equal(t, "0", f.shares[firelight][operator].String())
}

func TestConcurrentDepositsForwardOwnShares(t *testing.T) {
	f := newFixture(t)
	f.allowance[firelight] = units("100")
	other := common.HexToAddress("0x00000000000000000000000000000000000000bc")

	// both deposits mint before either reads its result
	var minted sync.WaitGroup
	minted.Add(2)
	f.chain.OnTransact(firelight, "deposit", func(args []interface{}) ([]interface{}, error) {
		err := f.deposit(firelight, args)
		minted.Done()
		minted.Wait()
		return nil, err
	})
	g := f.gateway()

	var wg sync.WaitGroup
	results := make([]*types.DepositResult, 2)
	errs := make([]error, 2)
	for i, recv := range []common.Address{user, other} {
		wg.Add(1)
		go func(i int, recv common.Address) {
			defer wg.Done()
			results[i], errs[i] = g.DepositToVault(context.Background(), 1, dec("10"), recv)
		}(i, recv)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, units("9").String(), results[i].Shares)
	}
	assert.Equal(t, units("9").String(), f.shares[firelight][user].String())
	assert.Equal(t, units("9").String(), f.shares[firelight][other].String())
	assert.Equal(t, "0", f.shares[firelight][operator].String())
}

func TestDepositWithoutEventKeepsSharesWithOperator(t *testing.T) {
	f := newFixture(t)
	f.chain.OnLogs(firelight, "deposit", func([]interface{}) ([]*ethtypes.Log, error) { return nil, nil })

	res, err := f.gateway().DepositToVault(context.Background(), 1, dec("10"), user)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Contains(t, err.Error(), res.TxHash)
	assert.Empty(t, f.chain.Sent("transfer"))
	assert.Equal(t, units("9").String(), f.shares[firelight][operator].String())
}

func TestDepositToVaultSkipsApprovalWhenAllowed(t *testing.T) {
	f := newFixture(t)
	f.allowance[firelight] = units("100")
	g := f.gateway()

	res, err := g.DepositToVault(context.Background(), 1, dec("10"), operator)
	require.NoError(t, err)
	assert.Empty(t, res.TransferTxHash)
	assert.Empty(t, f.chain.Sent("approve"))
	assert.Len(t, f.chain.Sent("deposit"), 1)
	assert.Empty(t, f.chain.Sent("transfer"))
}

func TestDepositCapExceededSubmitsNothing(t *testing.T) {
	f := newFixture(t)
	f.maxDep[firelight] = units("5")
	g := f.gateway()

	_, err := g.DepositToVault(context.Background(), 1, dec("10"), user)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrVaultCapExceeded))
	assert.Contains(t, err.Error(), "10.000000")
	assert.Contains(t, err.Error(), "5.000000")
	assert.Empty(t, f.chain.Sent(""))
}

func TestDepositNotAllowed(t *testing.T) {
	f := newFixture(t)
	f.maxDep[upshift] = big.NewInt(0)

	_, err := f.gateway().DepositToVault(context.Background(), 2, dec("1"), user)
	assert.True(t, errors.Is(err, types.ErrDepositNotAllowed))
	assert.Empty(t, f.chain.Sent(""))
}

func TestDepositInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	f.balances[operator] = units("1")

	_, err := f.gateway().DepositToVault(context.Background(), 1, dec("10"), user)
	assert.True(t, errors.Is(err, types.ErrInsufficientBalance))
	assert.Empty(t, f.chain.Sent(""))
}

func TestDepositUnknownVault(t *testing.T) {
	f := newFixture(t)
	_, err := f.gateway().DepositToVault(context.Background(), 9, dec("1"), user)
	assert.True(t, errors.Is(err, types.ErrInvalidRequest))
}

func TestDepositShareTransferFailureKeepsDepositHash(t *testing.T) {
	f := newFixture(t)
	f.chain.FailReceipt(firelight, "transfer", types.NewError(types.ErrCodeChainSubmissionReverted, "reverted"))

	res, err := f.gateway().DepositToVault(context.Background(), 1, dec("10"), user)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Contains(t, err.Error(), res.TxHash)
	assert.True(t, errors.Is(err, types.ErrChainSubmissionReverted))
}

func TestDepositSplitBothLegs(t *testing.T) {
	f := newFixture(t)
	res := f.gateway().DepositSplit(context.Background(), 1, dec("30"), 2, dec("70"), user)

	require.NoError(t, res.ErrA)
	require.NoError(t, res.ErrB)
	assert.False(t, res.Partial())
	assert.False(t, res.Failed())
	assert.Equal(t, units("27").String(), res.A.Shares)
	assert.Equal(t, units("63").String(), res.B.Shares)

	deposits := f.chain.Sent("deposit")
	require.Len(t, deposits, 2)
	amounts := []string{deposits[0].Args[0].(*big.Int).String(), deposits[1].Args[0].(*big.Int).String()}
	assert.ElementsMatch(t, []string{units("30").String(), units("70").String()}, amounts)
}

func TestDepositSplitPartial(t *testing.T) {
	f := newFixture(t)
	f.maxDep[upshift] = units("1")

	res := f.gateway().DepositSplit(context.Background(), 1, dec("30"), 2, dec("70"), user)
	assert.True(t, res.Partial())
	assert.False(t, res.Failed())
	assert.NotNil(t, res.A)
	assert.Nil(t, res.B)
	assert.True(t, errors.Is(res.ErrB, types.ErrVaultCapExceeded))
}

func TestDepositSplitSkipsZeroLeg(t *testing.T) {
	f := newFixture(t)
	res := f.gateway().DepositSplit(context.Background(), 1, dec("50"), 2, decimal.Zero, user)
	assert.NotNil(t, res.A)
	assert.Nil(t, res.B)
	assert.NoError(t, res.ErrB)
	assert.False(t, res.Partial())
	assert.Len(t, f.chain.Sent("deposit"), 1)
}

func TestTransferAsset(t *testing.T) {
	f := newFixture(t)
	g := f.gateway()

	hash, err := g.TransferAsset(context.Background(), user, dec("2.5"))
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.Equal(t, units("2.5").String(), f.balances[user].String())

	_, err = g.TransferAsset(context.Background(), user, dec("5000"))
	assert.True(t, errors.Is(err, types.ErrInsufficientBalance))
	assert.Len(t, f.chain.Sent("transfer"), 1)
}

func TestGetHoldings(t *testing.T) {
	f := newFixture(t)
	f.balances[user] = units("3")
	f.shares[firelight][user] = units("10")

	h := f.gateway().GetHoldings(context.Background(), user)
	assert.Equal(t, user.Hex(), h.Address)
	assert.Equal(t, "3.000000", h.AssetBalance)

	fl := h.Vaults["firelight"]
	assert.Equal(t, "10.000000", fl.Shares)
	assert.Equal(t, "11.000000", fl.AssetsValue)
	assert.Equal(t, "1.100000", fl.ExchangeRate)

	up := h.Vaults["upshift"]
	assert.Equal(t, "0.000000", up.Shares)
	assert.Equal(t, "0.000000", up.AssetsValue)

	assert.Equal(t, "14.000000", h.TotalValueXRP)
}

func TestGetHoldingsDegradesOnReadFailure(t *testing.T) {
	f := newFixture(t)
	f.chain.OnCall(upshift, "balanceOf", func([]interface{}) ([]interface{}, error) {
		return nil, errors.New("rpc down")
	})
	f.chain.OnCall(upshift, "totalSupply", func([]interface{}) ([]interface{}, error) {
		return nil, errors.New("rpc down")
	})

	g := New(f.chain, Config{
		AssetToken: fxrp,
		Vaults: []Vault{
			{ID: 2, Name: "Upshift", Kind: types.InstructionUpshift, Address: upshift},
			{ID: 3, Name: "Unconfigured", Kind: "other"},
		},
	})
	h := g.GetHoldings(context.Background(), user)
	assert.Equal(t, types.VaultHolding{Shares: "0.000000", AssetsValue: "0.000000", ExchangeRate: "1.000000"}, h.Vaults["upshift"])
	assert.Equal(t, "1.000000", h.Vaults["other"].ExchangeRate)
	assert.Equal(t, "0.000000", h.TotalValueXRP)
}

func TestVaultStatus(t *testing.T) {
	f := newFixture(t)
	st, err := f.gateway().VaultStatus(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Firelight", st.Name)
	assert.Equal(t, fxrp.Hex(), st.AssetAddress)
	assert.Equal(t, "1100.000000", st.TotalAssets)
	assert.Equal(t, "1000.000000", st.TotalSupply)
	assert.Equal(t, "1.100000", st.ExchangeRate)
}

func TestExecuteProofAndSmartAccount(t *testing.T) {
	f := newFixture(t)
	smart := common.HexToAddress("0x00000000000000000000000000000000000000dd")
	f.chain.OnCall(controller, "smartAccounts", func(args []interface{}) ([]interface{}, error) {
		if args[0].(common.Address) == user {
			return []interface{}{smart}, nil
		}
		return []interface{}{common.Address{}}, nil
	})
	g := f.gateway()

	hash, err := g.ExecuteProof(context.Background(), []byte{1, 2, 3}, user)
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
	sent := f.chain.Sent("executeTransaction")
	require.Len(t, sent, 1)
	assert.Equal(t, []byte{1, 2, 3}, sent[0].Args[0].([]byte))
	assert.Equal(t, user, sent[0].Args[1].(common.Address))

	got, ok := g.SmartAccount(context.Background(), user)
	assert.True(t, ok)
	assert.Equal(t, smart, got)

	_, ok = g.SmartAccount(context.Background(), operator)
	assert.False(t, ok)
}

func TestOperatorBalances(t *testing.T) {
	f := newFixture(t)
	f.chain.SetBalance(operator, new(big.Int).Mul(big.NewInt(2), big.NewInt(1e18)))

	native, asset, err := f.gateway().OperatorBalances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2.000000", native)
	assert.Equal(t, "1000.000000", asset)
}
