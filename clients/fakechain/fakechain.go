// Package fakechain is an in-memory clients.Backend for tests. Calls are decoded with
// the real ABIs so code under test packs and unpacks exactly as it would on chain.
package fakechain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Handler receives the decoded arguments and returns the outputs to pack.
// For transactions, a non-nil error aborts the call as a failed simulation.
type Handler func(args []interface{}) ([]interface{}, error)

// LogHandler returns the logs a successful transaction emits.
type LogHandler func(args []interface{}) ([]*types.Log, error)

type Submission struct {
	To     common.Address
	Method string
	Args   []interface{}
	Value  *big.Int
	TxHash common.Hash
}

type key struct {
	addr   common.Address
	method string
}

type Backend struct {
	mu        sync.Mutex
	from      common.Address
	contracts map[common.Address]abi.ABI
	calls     map[key]Handler
	txs       map[key]Handler
	logs      map[key]LogHandler
	balances  map[common.Address]*big.Int
	sent      []Submission
	failures  map[key]error
}

func New(from common.Address) *Backend {
	return &Backend{
		from:      from,
		contracts: make(map[common.Address]abi.ABI),
		calls:     make(map[key]Handler),
		txs:       make(map[key]Handler),
		logs:      make(map[key]LogHandler),
		balances:  make(map[common.Address]*big.Int),
		failures:  make(map[key]error),
	}
}

func (b *Backend) From() common.Address { return b.from }

// Register makes a contract address known with its ABI.
func (b *Backend) Register(addr common.Address, parsed abi.ABI) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.contracts[addr] = parsed
}

// OnCall installs a view handler.
func (b *Backend) OnCall(addr common.Address, method string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[key{addr, method}] = h
}

// Returns is OnCall with fixed outputs.
func (b *Backend) Returns(addr common.Address, method string, outputs ...interface{}) {
	b.OnCall(addr, method, func([]interface{}) ([]interface{}, error) { return outputs, nil })
}

// OnTransact installs a handler run when a transaction is submitted.
func (b *Backend) OnTransact(addr common.Address, method string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.txs[key{addr, method}] = h
}

// OnLogs attaches the logs h returns to the receipt of each method submission.
func (b *Backend) OnLogs(addr common.Address, method string, h LogHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logs[key{addr, method}] = h
}

// FailReceipt makes a submitted transaction mine with a reverted receipt.
func (b *Backend) FailReceipt(addr common.Address, method string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[key{addr, method}] = err
}

func (b *Backend) SetBalance(addr common.Address, v *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[addr] = v
}

func (b *Backend) BalanceAt(_ context.Context, account common.Address) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.balances[account]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (b *Backend) CallContract(_ context.Context, to common.Address, data []byte) ([]byte, error) {
	method, args, err := b.decode(to, data)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	h, ok := b.calls[key{to, method.Name}]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("fakechain: no handler for %s on %s", method.Name, to.Hex())
	}
	outs, err := h(args)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(outs...)
}

func (b *Backend) Transact(_ context.Context, to common.Address, value *big.Int, data []byte) (*types.Receipt, error) {
	method, args, err := b.decode(to, data)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	h := b.txs[key{to, method.Name}]
	failure := b.failures[key{to, method.Name}]
	emit := b.logs[key{to, method.Name}]
	b.mu.Unlock()

	if h != nil {
		if _, err := h(args); err != nil {
			return nil, err
		}
	}
	var logs []*types.Log
	if emit != nil && failure == nil {
		var err error
		if logs, err = emit(args); err != nil {
			return nil, err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	hash := crypto.Keccak256Hash([]byte(fmt.Sprintf("%s-%d", method.Name, len(b.sent))))
	b.sent = append(b.sent, Submission{To: to, Method: method.Name, Args: args, Value: value, TxHash: hash})

	receipt := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      hash,
		BlockNumber: big.NewInt(int64(len(b.sent))),
		Logs:        logs,
	}
	for i, l := range logs {
		l.Address = to
		l.TxHash = hash
		l.Index = uint(i)
	}
	if failure != nil {
		receipt.Status = types.ReceiptStatusFailed
		return receipt, failure
	}
	return receipt, nil
}

// Sent returns the submitted transactions, optionally filtered by method name.
func (b *Backend) Sent(method string) []Submission {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Submission
	for _, s := range b.sent {
		if method == "" || s.Method == method {
			out = append(out, s)
		}
	}
	return out
}

func (b *Backend) decode(to common.Address, data []byte) (*abi.Method, []interface{}, error) {
	b.mu.Lock()
	parsed, ok := b.contracts[to]
	b.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("fakechain: unknown contract %s", to.Hex())
	}
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("fakechain: short calldata")
	}
	method, err := parsed.MethodById(data[:4])
	if err != nil {
		return nil, nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, err
	}
	return method, args, nil
}

// EventLog builds a log for ev. indexed holds the topic values after the event id,
// values the non-indexed fields in order.
func EventLog(ev abi.Event, indexed []common.Hash, values ...interface{}) (*types.Log, error) {
	data, err := ev.Inputs.NonIndexed().Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("fakechain: pack %s: %w", ev.Name, err)
	}
	topics := append([]common.Hash{ev.ID}, indexed...)
	return &types.Log{Topics: topics, Data: data}, nil
}
