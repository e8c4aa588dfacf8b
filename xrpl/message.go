package xrpl

import (
	"encoding/json"
	"strings"

	"github.com/vitwit/xrpfi/types"
)

// Discard reasons reported when a stream message is not a bridge payment.
const (
	ReasonNotTransaction   = "not_transaction"
	ReasonNotValidated     = "not_validated"
	ReasonNotPayment       = "not_payment"
	ReasonFailedResult     = "failed_result"
	ReasonWrongDestination = "wrong_destination"
	ReasonMissingHash      = "missing_hash"
	ReasonNonNativeAmount  = "non_native_amount"
	ReasonMissingMemo      = "missing_memo"
	ReasonMalformedMemo    = "malformed_memo"
	ReasonUnknownCode      = "unknown_instruction_code"
	ReasonDuplicate        = "duplicate"
)

type streamMessage struct {
	Type        string          `json:"type"`
	Validated   bool            `json:"validated"`
	Hash        string          `json:"hash"`
	LedgerIndex uint64          `json:"ledger_index"`
	Transaction json.RawMessage `json:"transaction"`
	TxJSON      json.RawMessage `json:"tx_json"`
	Meta        *txMeta         `json:"meta"`
	Metadata    *txMeta         `json:"metadata"`
}

type txFields struct {
	TransactionType string          `json:"TransactionType"`
	Account         string          `json:"Account"`
	Destination     string          `json:"Destination"`
	Hash            string          `json:"hash"`
	Amount          json.RawMessage `json:"Amount"`
	DeliverMax      json.RawMessage `json:"DeliverMax"`
	Memos           []struct {
		Memo struct {
			MemoData string `json:"MemoData"`
			MemoType string `json:"MemoType"`
		} `json:"Memo"`
	} `json:"Memos"`
}

type txMeta struct {
	TransactionResult string          `json:"TransactionResult"`
	DeliveredAmount   json.RawMessage `json:"delivered_amount"`
}

// ParsePayment extracts an incoming native payment to operator from a raw
// transaction stream message. A non-empty reason means the message is not one.
func ParsePayment(raw []byte, operator string) (*types.Payment, string) {
	var msg streamMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != "transaction" {
		return nil, ReasonNotTransaction
	}
	if !msg.Validated {
		return nil, ReasonNotValidated
	}

	// API v2 streams carry tx_json, v1 carries transaction.
	body := msg.Transaction
	if len(body) == 0 {
		body = msg.TxJSON
	}
	var tx txFields
	if len(body) == 0 || json.Unmarshal(body, &tx) != nil || tx.TransactionType == "" {
		return nil, ReasonNotTransaction
	}
	if tx.TransactionType != "Payment" {
		return nil, ReasonNotPayment
	}

	meta := msg.Meta
	if meta == nil {
		meta = msg.Metadata
	}
	if meta == nil || meta.TransactionResult != "tesSUCCESS" {
		return nil, ReasonFailedResult
	}
	if tx.Destination != operator {
		return nil, ReasonWrongDestination
	}

	hash := msg.Hash
	if hash == "" {
		hash = tx.Hash
	}
	if hash == "" {
		return nil, ReasonMissingHash
	}

	drops, ok := nativeAmount(tx.DeliverMax, tx.Amount, meta.DeliveredAmount)
	if !ok {
		return nil, ReasonNonNativeAmount
	}
	xrp, err := DropsToXRP(drops)
	if err != nil {
		return nil, ReasonNonNativeAmount
	}

	if len(tx.Memos) == 0 || tx.Memos[0].Memo.MemoData == "" {
		return nil, ReasonMissingMemo
	}

	return &types.Payment{
		TxHash:      strings.ToUpper(hash),
		Account:     tx.Account,
		Destination: tx.Destination,
		AmountDrops: drops,
		AmountXRP:   xrp.String(),
		MemoHex:     tx.Memos[0].Memo.MemoData,
		LedgerIndex: msg.LedgerIndex,
	}, ""
}

// nativeAmount returns the first present amount field. Native amounts are drop
// strings; an object is an issued currency and is rejected.
func nativeAmount(fields ...json.RawMessage) (string, bool) {
	for _, f := range fields {
		if len(f) == 0 || string(f) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(f, &s); err != nil {
			return "", false
		}
		return s, true
	}
	return "", false
}
