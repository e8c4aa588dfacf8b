// Package settlement drives recorded payments through attestation and
// destination-chain execution on a supervised worker pool.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/vitwit/xrpfi/config"
	"github.com/vitwit/xrpfi/gateway"
	"github.com/vitwit/xrpfi/instruction"
	"github.com/vitwit/xrpfi/logger"
	"github.com/vitwit/xrpfi/metrics"
	"github.com/vitwit/xrpfi/types"
	"github.com/vitwit/xrpfi/verification"
	"github.com/vitwit/xrpfi/xrpl"
)

const (
	interruptedMessage = "interrupted by restart; retry to resume"
	storeWriteTimeout  = 10 * time.Second
	// asset amounts are kept at the bridged token's precision
	amountDecimals = 6
)

// Store is the subset of the ledger the orchestrator mutates.
type Store interface {
	Get(ctx context.Context, hash string) (*types.Transaction, error)
	Update(ctx context.Context, hash string, upd types.TransactionUpdate) error
	SetStatus(ctx context.Context, hash string, status types.TransactionStatus) error
	Fail(ctx context.Context, hash, message string) error
	Retry(ctx context.Context, hash string) (*types.Transaction, error)
	FailInterrupted(ctx context.Context, message string) ([]string, error)
	ListByStatus(ctx context.Context, statuses ...types.TransactionStatus) ([]*types.Transaction, error)
}

// Prover obtains the attestation proof for a source payment.
type Prover interface {
	GetPaymentProof(ctx context.Context, hash string) (*verification.Proof, error)
}

// Executor performs destination-chain actions.
type Executor interface {
	VaultByKind(kind types.InstructionType) (gateway.Vault, bool)
	DepositToVault(ctx context.Context, vaultID uint32, amount decimal.Decimal, receiver common.Address) (*types.DepositResult, error)
	DepositSplit(ctx context.Context, vaultA uint32, amountA decimal.Decimal, vaultB uint32, amountB decimal.Decimal, receiver common.Address) *types.SplitResult
	TransferAsset(ctx context.Context, to common.Address, amount decimal.Decimal) (string, error)
	ExecuteProof(ctx context.Context, proof []byte, sourceAccount common.Address) (string, error)
	SmartAccount(ctx context.Context, sourceAccount common.Address) (common.Address, bool)
}

type Orchestrator struct {
	store    Store
	prover   Prover
	executor Executor
	pool     *Pool
	mode     string
	logger   logger.Logger
	metrics  metrics.Recorder
}

type Option func(*Orchestrator)

func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithMode selects direct gateway execution or smart-account execution.
func WithMode(mode string) Option {
	return func(o *Orchestrator) { o.mode = mode }
}

func NewOrchestrator(store Store, prover Prover, executor Executor, poolCfg PoolConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		prover:   prover,
		executor: executor,
		mode:     config.ExecutionModeDirect,
		logger:   logger.NoopLogger{},
		metrics:  metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.pool = NewPool(poolCfg, o.recordFailure, o.logger, o.metrics)
	return o
}

var _ xrpl.Dispatcher = (*Orchestrator)(nil)

// Pool exposes the worker pool so the caller owns its lifecycle.
func (o *Orchestrator) Pool() *Pool { return o.pool }

// Dispatch queues hash for processing on the pool without blocking. When the
// queue is full the record stays pending and the next Sweep picks it up.
func (o *Orchestrator) Dispatch(_ context.Context, hash string) error {
	_, err := o.pool.TrySubmit(hash, o.Process)
	if errors.Is(err, types.ErrQueueFull) {
		o.logger.Warn("queue full, left pending", map[string]any{"tx": hash})
		return nil
	}
	return err
}

// Sweep dispatches every pending record and reports how many it saw.
func (o *Orchestrator) Sweep(ctx context.Context) (int, error) {
	pending, err := o.store.ListByStatus(ctx, types.StatusPending)
	if err != nil {
		return 0, err
	}
	for _, tx := range pending {
		if err := o.Dispatch(ctx, tx.SourceTxHash); err != nil {
			return 0, err
		}
	}
	return len(pending), nil
}

// Retry moves a failed record back to pending and queues it again.
func (o *Orchestrator) Retry(ctx context.Context, hash string) (*types.Transaction, error) {
	tx, err := o.store.Retry(ctx, hash)
	if err != nil {
		return nil, err
	}
	o.logger.Info("retrying transaction", map[string]any{"tx": hash})
	if err := o.Dispatch(ctx, hash); err != nil {
		return tx, err
	}
	return tx, nil
}

// Recover fails records a previous process left mid-flight. They are not resumed.
func (o *Orchestrator) Recover(ctx context.Context) ([]string, error) {
	hashes, err := o.store.FailInterrupted(ctx, interruptedMessage)
	if err != nil {
		return nil, err
	}
	if len(hashes) > 0 {
		o.logger.Warn("marked interrupted transactions failed", map[string]any{"count": len(hashes), "txs": hashes})
	}
	return hashes, nil
}

// Process drives one pending record to a terminal status. Records that are not
// pending are left alone. Every failure is written to the store before returning.
func (o *Orchestrator) Process(ctx context.Context, hash string) error {
	tx, err := o.store.Get(ctx, hash)
	if err != nil {
		return err
	}
	if tx.Status != types.StatusPending {
		o.logger.Debug("skipping non-pending transaction", map[string]any{"tx": hash, "status": tx.Status})
		return nil
	}
	lg := o.logger.With(map[string]any{"tx": hash})

	ins, err := instruction.DecodeHex(tx.Memo)
	if err != nil {
		return o.fail(ctx, hash, err)
	}
	amount, err := decimal.NewFromString(tx.SourceAmount)
	if err != nil {
		return o.fail(ctx, hash, types.WrapError(types.ErrCodeInvalidRequest, err, "invalid amount %q", tx.SourceAmount))
	}

	if err := o.store.SetStatus(ctx, hash, types.StatusProving); err != nil {
		if errors.Is(err, types.ErrInvalidTransition) {
			// another worker claimed it
			return nil
		}
		return err
	}
	lg.Info("requesting attestation", nil)

	proof, err := o.prover.GetPaymentProof(ctx, hash)
	if err != nil {
		return o.fail(ctx, hash, err)
	}

	if err := o.store.SetStatus(ctx, hash, types.StatusExecuting); err != nil {
		return o.fail(ctx, hash, err)
	}

	dest, err := xrpl.DeriveDestinationAddress(tx.SourceAddress)
	if err != nil {
		return o.fail(ctx, hash, err)
	}
	lg.Info("executing", map[string]any{"destination": dest.Hex(), "kind": tx.InstructionType, "mode": o.mode})

	var upd types.TransactionUpdate
	if o.mode == config.ExecutionModeSmartAccount {
		upd, err = o.executeSmartAccount(ctx, proof, dest)
	} else {
		upd, err = o.executeDirect(ctx, tx.InstructionType, ins, amount, dest)
	}
	if err != nil {
		return o.fail(ctx, hash, err)
	}

	// chain legs are confirmed; the terminal write must not be lost to cancellation
	wctx, cancel := detached(ctx)
	defer cancel()
	if err := o.store.Update(wctx, hash, upd); err != nil {
		return err
	}
	status := *upd.Status
	event := metrics.EventOrchestrationCompleted
	if status == types.StatusPartiallyCompleted {
		event = metrics.EventOrchestrationPartial
	}
	o.metrics.IncCounter(event, map[string]string{"reason": string(tx.InstructionType)})
	lg.Info("transaction finished", map[string]any{"status": status, "destinationTx": deref(upd.DestinationTxHash)})
	return nil
}

func (o *Orchestrator) executeSmartAccount(ctx context.Context, proof *verification.Proof, dest common.Address) (types.TransactionUpdate, error) {
	encoded, err := proof.EncodeForExecution()
	if err != nil {
		return types.TransactionUpdate{}, err
	}
	txHash, err := o.executor.ExecuteProof(ctx, encoded, dest)
	if err != nil {
		return types.TransactionUpdate{}, err
	}
	if sa, ok := o.executor.SmartAccount(ctx, dest); ok {
		return completed(sa, txHash, nil), nil
	}
	// failing here would let a retry execute the proof twice
	o.logger.Error("smart account not resolved after execution", map[string]any{"source": dest.Hex(), "executionTx": txHash})
	upd := completed(common.Address{}, txHash, nil)
	upd.DestinationAccount = nil
	msg := fmt.Sprintf("executed in %s but no smart account resolved for %s", txHash, dest.Hex())
	upd.ErrorMessage = &msg
	return upd, nil
}

// executeDirect routes by kind: single-protocol deposits, split deposits, or a
// plain asset transfer when the kind has no configured vault.
func (o *Orchestrator) executeDirect(ctx context.Context, kind types.InstructionType, ins instruction.Instruction, amount decimal.Decimal, dest common.Address) (types.TransactionUpdate, error) {
	if ins.IsSplit() {
		return o.executeSplit(ctx, ins, amount, dest)
	}

	vault, ok := o.executor.VaultByKind(kind)
	if !ok || vault.Address == (common.Address{}) {
		o.logger.Warn("no vault for instruction kind, transferring asset", map[string]any{"kind": kind})
		txHash, err := o.executor.TransferAsset(ctx, dest, amount)
		if err != nil {
			return types.TransactionUpdate{}, err
		}
		return completed(dest, txHash, nil), nil
	}

	res, err := o.executor.DepositToVault(ctx, vault.ID, amount, dest)
	if err != nil {
		return types.TransactionUpdate{}, err
	}
	return completed(dest, depositHash(res), nil), nil
}

func (o *Orchestrator) executeSplit(ctx context.Context, ins instruction.Instruction, amount decimal.Decimal, dest common.Address) (types.TransactionUpdate, error) {
	vaultA, okA := o.executor.VaultByKind(types.InstructionFirelight)
	vaultB, okB := o.executor.VaultByKind(types.InstructionUpshift)
	amountA, amountB := SplitAmounts(amount, ins.SplitPercentA)
	if (amountA.IsPositive() && !okA) || (amountB.IsPositive() && !okB) {
		return types.TransactionUpdate{}, types.NewError(types.ErrCodeConfigError, "split vaults are not configured")
	}

	res := o.executor.DepositSplit(ctx, vaultA.ID, amountA, vaultB.ID, amountB, dest)
	switch {
	case res.Failed():
		err := res.ErrA
		if err == nil {
			err = res.ErrB
		}
		if res.ErrA != nil && res.ErrB != nil {
			err = fmt.Errorf("vault A: %v; vault B: %w", res.ErrA, res.ErrB)
		}
		if err == nil {
			err = types.NewError(types.ErrCodeInvalidRequest, "split of %s produced no deposits", amount)
		}
		return types.TransactionUpdate{}, err
	case res.Partial():
		ok, failedLeg, legErr := res.A, "B", res.ErrB
		if res.A == nil {
			ok, failedLeg, legErr = res.B, "A", res.ErrA
		}
		msg := types.WrapError(types.ErrCodePartialSplitFailure, legErr, "split leg %s failed", failedLeg).Error()
		upd := completed(dest, depositHash(ok), nil)
		status := types.StatusPartiallyCompleted
		upd.Status = &status
		upd.ErrorMessage = &msg
		return upd, nil
	}

	var primary, secondary *types.DepositResult = res.A, res.B
	if primary == nil {
		primary, secondary = res.B, nil
	}
	var split *string
	if secondary != nil {
		h := depositHash(secondary)
		split = &h
	}
	return completed(dest, depositHash(primary), split), nil
}

// SplitAmounts divides amount by percentA. A is truncated to token precision
// and B takes the remainder, so A+B always equals amount.
func SplitAmounts(amount decimal.Decimal, percentA byte) (decimal.Decimal, decimal.Decimal) {
	a := amount.Mul(decimal.NewFromInt(int64(percentA))).Div(decimal.NewFromInt(100)).Truncate(amountDecimals)
	return a, amount.Sub(a)
}

func (o *Orchestrator) fail(ctx context.Context, hash string, cause error) error {
	wctx, cancel := detached(ctx)
	defer cancel()
	o.recordFailure(wctx, hash, cause)
	return cause
}

// detached outlives cancellation of ctx for a bounded store write.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
}

// recordFailure moves hash to failed. A record already terminal is left as is.
func (o *Orchestrator) recordFailure(ctx context.Context, hash string, cause error) {
	err := o.store.Fail(ctx, hash, cause.Error())
	switch {
	case err == nil:
		o.metrics.IncCounter(metrics.EventOrchestrationFailed, map[string]string{"reason": types.CodeOrDefault(cause, "internal")})
		o.logger.Error("transaction failed", map[string]any{"tx": hash, "error": cause})
	case errors.Is(err, types.ErrInvalidTransition):
	default:
		o.logger.Error("could not record failure", map[string]any{"tx": hash, "cause": cause, "error": err})
	}
}

func completed(dest common.Address, txHash string, splitHash *string) types.TransactionUpdate {
	status := types.StatusCompleted
	account := dest.Hex()
	return types.TransactionUpdate{
		Status:             &status,
		DestinationAccount: &account,
		DestinationTxHash:  &txHash,
		SplitTxHash:        splitHash,
	}
}

// depositHash prefers the share transfer hash, which is the last confirmed leg.
func depositHash(r *types.DepositResult) string {
	if r.TransferTxHash != "" {
		return r.TransferTxHash
	}
	return r.TxHash
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
