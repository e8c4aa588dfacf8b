package verification

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/vitwit/xrpfi/clients"
	"github.com/vitwit/xrpfi/types"
)

// HubSubmitter submits attestation requests to the FdcHub found through the contract registry.
type HubSubmitter struct {
	registry *clients.Contract
	backend  clients.Backend
	fee      *big.Int
}

var _ Submitter = (*HubSubmitter)(nil)

func NewHubSubmitter(backend clients.Backend, registry common.Address, feeWei string) *HubSubmitter {
	return &HubSubmitter{
		registry: clients.NewContract(backend, registry, clients.ContractRegistryABI),
		backend:  backend,
		fee:      feeOrDefault(feeWei),
	}
}

func (h *HubSubmitter) lookup(ctx context.Context, name string) (common.Address, error) {
	addr, err := h.registry.CallAddress(ctx, "getContractAddressByName", name)
	if err != nil {
		return common.Address{}, err
	}
	if addr == (common.Address{}) {
		return common.Address{}, types.NewError(types.ErrCodeConfigError, "%s not found in contract registry", name)
	}
	return addr, nil
}

// Submit reads the current voting epoch, pays the request fee and returns epoch+1.
func (h *HubSubmitter) Submit(ctx context.Context, abiEncodedRequest string) (uint64, error) {
	request, err := hexutil.Decode(ensure0x(abiEncodedRequest))
	if err != nil {
		return 0, types.WrapError(types.ErrCodeInvalidRequest, err, "attestation request is not hex")
	}

	hubAddr, err := h.lookup(ctx, "FdcHub")
	if err != nil {
		return 0, err
	}
	managerAddr, err := h.lookup(ctx, "FlareSystemsManager")
	if err != nil {
		return 0, err
	}

	manager := clients.NewContract(h.backend, managerAddr, clients.FlareSystemsManagerABI)
	epoch, err := manager.CallUint32(ctx, "getCurrentVotingEpochId")
	if err != nil {
		return 0, err
	}

	hub := clients.NewContract(h.backend, hubAddr, clients.FdcHubABI)
	if _, err := hub.Transact(ctx, h.fee, "requestAttestation", request); err != nil {
		return 0, err
	}
	return uint64(epoch) + 1, nil
}
