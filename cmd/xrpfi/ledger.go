package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vitwit/xrpfi/ledger"
	"github.com/vitwit/xrpfi/utils"
)

func openLedger(load configLoader) (*ledger.Ledger, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	return ledger.Open(cfg.Database.Path)
}

func newStatusCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "status <xrpl-tx-hash>",
		Short: "Show the ledger record for a source payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := utils.ValidateTransactionHash(args[0])
			if err != nil {
				return err
			}
			l, err := openLedger(load)
			if err != nil {
				return err
			}
			defer l.Close()

			tx, err := l.Get(contextOf(cmd), hash)
			if err != nil {
				return err
			}
			return printJSON(cmd, tx)
		},
	}
}

// The record is moved back to pending; a running or next serve picks it up.
func newRetryCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <xrpl-tx-hash>",
		Short: "Move a failed record back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := utils.ValidateTransactionHash(args[0])
			if err != nil {
				return err
			}
			l, err := openLedger(load)
			if err != nil {
				return err
			}
			defer l.Close()

			tx, err := l.Retry(contextOf(cmd), hash)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s queued for the next settlement run\n", tx.SourceTxHash)
			return printJSON(cmd, tx)
		},
	}
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a Flare operator key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, addr, err := utils.GenerateOperatorKey()
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{"address": addr.Hex(), "privateKey": key})
		},
	}
}
