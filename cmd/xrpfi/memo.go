package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/vitwit/xrpfi/instruction"
	"github.com/vitwit/xrpfi/types"
	"github.com/vitwit/xrpfi/utils"
	"github.com/vitwit/xrpfi/xrpl"
)

func newMemoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memo",
		Short: "Encode or decode payment instruction memos",
	}
	cmd.AddCommand(newMemoEncodeCmd(), newMemoDecodeCmd())
	return cmd
}

func newMemoEncodeCmd() *cobra.Command {
	var (
		kind         string
		vault        string
		vaultID      uint32
		lots         uint64
		amount       string
		splitPercent int
	)
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Build the 32-byte memo for a deposit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if amount != "" {
				xrp, err := utils.ValidateAmount(amount)
				if err != nil {
					return err
				}
				if lots, err = instruction.LotsFromAmount(xrp); err != nil {
					return err
				}
			}

			k, err := instruction.ParseKind(kind)
			if err != nil {
				return err
			}
			var memo [instruction.MemoSize]byte
			if k == instruction.KindSplit {
				if splitPercent < 0 || splitPercent > 100 {
					return types.NewError(types.ErrCodeInvalidRequest, "split percent must be within 0..100, got %d", splitPercent)
				}
				memo, err = instruction.EncodeSplit(splitPercent, lots)
			} else {
				var addr common.Address
				if vault != "" {
					if err := utils.ValidateEVMAddress(vault); err != nil {
						return err
					}
					addr = common.HexToAddress(vault)
				}
				memo, err = instruction.Encode(k, addr, vaultID, lots)
			}
			if err != nil {
				return err
			}

			ins, err := instruction.Decode(memo[:])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ins.Hex())
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&kind, "kind", string(instruction.KindFirelight), "instruction kind: firelight, upshift or split")
	f.StringVar(&vault, "vault", "", "target vault address")
	f.Uint32Var(&vaultID, "vault-id", 0, "target vault id")
	f.Uint64Var(&lots, "lots", 0, "amount in lots of 0.1 XRP")
	f.StringVar(&amount, "amount", "", "amount in XRP, converted to lots (overrides --lots)")
	f.IntVar(&splitPercent, "split-percent", 50, "percent routed to the first vault for split instructions")
	return cmd
}

type decodedMemo struct {
	Kind          types.InstructionType `json:"kind"`
	Code          string                `json:"code"`
	WalletID      byte                  `json:"walletId,omitempty"`
	VaultAddress  string                `json:"vaultAddress,omitempty"`
	VaultID       uint32                `json:"vaultId,omitempty"`
	SplitPercentA *byte                 `json:"splitPercentA,omitempty"`
	SplitPercentB *byte                 `json:"splitPercentB,omitempty"`
	Lots          uint64                `json:"lots"`
	AmountXRP     decimal.Decimal       `json:"amountXRP"`
}

func newMemoDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <hex>",
		Short: "Decode a memo into its fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ins, err := instruction.DecodeHex(args[0])
			if err != nil {
				return err
			}
			kind, err := ins.Kind()
			if err != nil {
				return err
			}
			out := decodedMemo{
				Kind:      kind,
				Code:      fmt.Sprintf("0x%02X", ins.Code),
				Lots:      ins.Lots,
				AmountXRP: instruction.AmountFromLots(ins.Lots),
			}
			if ins.IsSplit() {
				a, b := ins.SplitPercentA, ins.SplitPercentB()
				out.SplitPercentA, out.SplitPercentB = &a, &b
			} else {
				out.WalletID = ins.WalletID
				out.VaultAddress = common.BytesToAddress(ins.VaultAddress[:]).Hex()
				out.VaultID = ins.VaultID
			}
			return printJSON(cmd, out)
		},
	}
}

func newDeriveAddressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "derive-address <classic-address>",
		Short: "Print the Flare address derived from an XRPL classic address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := xrpl.DeriveDestinationAddress(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), addr.Hex())
			return nil
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := utils.NormalizeJSON(v)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
