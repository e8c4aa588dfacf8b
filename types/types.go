package types

import (
	"time"
)

// TransactionStatus is the lifecycle state of a bridged payment.
type TransactionStatus string

const (
	StatusPending            TransactionStatus = "pending"
	StatusProving            TransactionStatus = "proving"
	StatusExecuting          TransactionStatus = "executing"
	StatusCompleted          TransactionStatus = "completed"
	StatusPartiallyCompleted TransactionStatus = "partially_completed"
	StatusFailed             TransactionStatus = "failed"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []TransactionStatus{
	StatusPending,
	StatusProving,
	StatusExecuting,
	StatusCompleted,
	StatusPartiallyCompleted,
	StatusFailed,
}

// IsTerminal reports whether no further forward progress is made from s.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusPartiallyCompleted || s == StatusFailed
}

func (s TransactionStatus) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

func (s TransactionStatus) String() string {
	return string(s)
}

// InstructionType names the user intent carried by a memo.
type InstructionType string

const (
	InstructionFirelight InstructionType = "firelight"
	InstructionUpshift   InstructionType = "upshift"
	InstructionSplit     InstructionType = "split"
	// InstructionTransfer is the fallback route: plain FXRP transfer to the destination account.
	InstructionTransfer InstructionType = "transfer"
)

func (t InstructionType) String() string {
	return string(t)
}

// Transaction is the persistent record kept for every observed source payment.
type Transaction struct {
	ID                 int64             `json:"-"`
	SourceTxHash       string            `json:"xrplTxHash"`
	SourceAddress      string            `json:"xrplAddress"`
	SourceAmount       string            `json:"xrpAmount"`
	InstructionType    InstructionType   `json:"instructionType"`
	Memo               string            `json:"memo,omitempty"`
	Status             TransactionStatus `json:"status"`
	DestinationAccount *string           `json:"flareAccount"`
	DestinationTxHash  *string           `json:"flareTxHash"`
	SplitTxHash        *string           `json:"flareSplitTxHash,omitempty"`
	ErrorMessage       *string           `json:"error"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}

// TransactionUpdate carries the fields to merge into a record. Nil fields are left untouched.
// A non-nil ErrorMessage pointing at the empty string clears the stored message.
type TransactionUpdate struct {
	Status             *TransactionStatus
	DestinationAccount *string
	DestinationTxHash  *string
	SplitTxHash        *string
	ErrorMessage       *string
}

// Payment is a validated incoming source-chain payment, ready for the ledger.
type Payment struct {
	TxHash      string `json:"txHash"`
	Account     string `json:"account"`
	Destination string `json:"destination"`
	AmountDrops string `json:"amountDrops"`
	AmountXRP   string `json:"amountXRP"`
	MemoHex     string `json:"memo"`
	LedgerIndex uint64 `json:"ledgerIndex,omitempty"`
}

// DepositResult is the outcome of one vault deposit leg.
type DepositResult struct {
	VaultID        uint32 `json:"vaultId"`
	TxHash         string `json:"txHash"`
	TransferTxHash string `json:"transferTxHash,omitempty"`
	Shares         string `json:"shares"`
	Receiver       string `json:"receiver"`
}

// SplitResult reports both legs of a split deposit independently.
type SplitResult struct {
	A    *DepositResult `json:"a,omitempty"`
	B    *DepositResult `json:"b,omitempty"`
	ErrA error          `json:"-"`
	ErrB error          `json:"-"`
}

// Partial reports whether exactly one attempted leg failed.
func (r *SplitResult) Partial() bool {
	return (r.ErrA == nil) != (r.ErrB == nil)
}

// Failed reports whether no leg succeeded.
func (r *SplitResult) Failed() bool {
	return r.A == nil && r.B == nil
}

// VaultHolding is a derived vault position for one address.
type VaultHolding struct {
	Shares       string `json:"shares"`
	AssetsValue  string `json:"assetsValue"`
	ExchangeRate string `json:"exchangeRate"`
}

// Holdings aggregates destination-chain balances for one address.
type Holdings struct {
	Address       string                  `json:"flareAddress"`
	AssetBalance  string                  `json:"fxrpBalance"`
	Vaults        map[string]VaultHolding `json:"vaults"`
	TotalValueXRP string                  `json:"totalValueXRP"`
}

// VaultStatus is a read-only snapshot of a vault.
type VaultStatus struct {
	ID           uint32 `json:"id"`
	Name         string `json:"name"`
	Address      string `json:"address"`
	AssetAddress string `json:"assetAddress"`
	TotalAssets  string `json:"totalAssets"`
	TotalSupply  string `json:"totalSupply"`
	ExchangeRate string `json:"exchangeRate"`
}
