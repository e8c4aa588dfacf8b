package clients

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const erc20ABI = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// ERC-4626 subset; vault shares are themselves ERC-20 tokens.
const vaultABI = `[
	{"type":"function","name":"asset","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"totalAssets","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"maxDeposit","stateMutability":"view","inputs":[{"name":"receiver","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"convertToAssets","stateMutability":"view","inputs":[{"name":"shares","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"deposit","stateMutability":"nonpayable","inputs":[{"name":"assets","type":"uint256"},{"name":"receiver","type":"address"}],"outputs":[{"name":"shares","type":"uint256"}]},
	{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"event","name":"Deposit","anonymous":false,"inputs":[{"name":"sender","type":"address","indexed":true},{"name":"owner","type":"address","indexed":true},{"name":"assets","type":"uint256","indexed":false},{"name":"shares","type":"uint256","indexed":false}]}
]`

const contractRegistryABI = `[
	{"type":"function","name":"getContractAddressByName","stateMutability":"view","inputs":[{"name":"_name","type":"string"}],"outputs":[{"name":"","type":"address"}]}
]`

const masterAccountControllerABI = `[
	{"type":"function","name":"executeTransaction","stateMutability":"nonpayable","inputs":[{"name":"_proof","type":"bytes"},{"name":"_xrplAddress","type":"address"}],"outputs":[]},
	{"type":"function","name":"smartAccounts","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"address"}]}
]`

const fdcHubABI = `[
	{"type":"function","name":"requestAttestation","stateMutability":"payable","inputs":[{"name":"_data","type":"bytes"}],"outputs":[]}
]`

const flareSystemsManagerABI = `[
	{"type":"function","name":"getCurrentVotingEpochId","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint32"}]}
]`

var (
	ERC20ABI                   = mustParseABI(erc20ABI)
	VaultABI                   = mustParseABI(vaultABI)
	ContractRegistryABI        = mustParseABI(contractRegistryABI)
	MasterAccountControllerABI = mustParseABI(masterAccountControllerABI)
	FdcHubABI                  = mustParseABI(fdcHubABI)
	FlareSystemsManagerABI     = mustParseABI(flareSystemsManagerABI)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
