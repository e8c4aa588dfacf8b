package types

// Network represents a chain the bridge talks to.
type Network string

const (
	// Source chains
	NetworkXRPLMainnet Network = "xrpl-mainnet"
	NetworkXRPLTestnet Network = "xrpl-testnet"

	// Destination chains
	NetworkFlare   Network = "flare"
	NetworkCoston2 Network = "coston2" // testnet
)

// ChainID returns the EVM chain id of a destination network, or 0 for source networks.
func (n Network) ChainID() int64 {
	switch n {
	case NetworkFlare:
		return 14
	case NetworkCoston2:
		return 114
	default:
		return 0
	}
}

func (n Network) IsXRPL() bool {
	return n == NetworkXRPLMainnet || n == NetworkXRPLTestnet
}

func (n Network) IsEVM() bool {
	return n == NetworkFlare || n == NetworkCoston2
}

func (n Network) IsTestnet() bool {
	return n == NetworkXRPLTestnet || n == NetworkCoston2
}

// FDCSourceID is the attestation source identifier for an XRPL network.
func (n Network) FDCSourceID() string {
	if n == NetworkXRPLMainnet {
		return "XRP"
	}
	return "testXRP"
}

func (n Network) String() string {
	return string(n)
}
