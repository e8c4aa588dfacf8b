package types

// Strategy is a yield destination offered to users.
type Strategy struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	APY             string `json:"apy"`
	Risk            string `json:"risk"`
	Enabled         bool   `json:"enabled"`
	InstructionCode byte   `json:"instructionCode"`
	VaultAddress    string `json:"vaultAddress,omitempty"`
}

// Allocation splits a deposit between the two vault strategies, in percent.
type Allocation struct {
	Firelight int `json:"firelight" validate:"min=0,max=100"`
	Upshift   int `json:"upshift" validate:"min=0,max=100"`
}

// PrepareRequest asks for the payment a user must sign to enter a strategy.
type PrepareRequest struct {
	XRPLAddress string      `json:"xrplAddress" validate:"required,min=25,max=35"`
	AmountXRP   string      `json:"amountXRP" validate:"required,numeric"`
	Allocation  *Allocation `json:"allocation,omitempty"`
}

type EstimatedFees struct {
	XRPLFee    string `json:"xrplFee"`
	MintingFee string `json:"mintingFee"`
	TotalXRP   string `json:"totalXRP"`
}

type StrategyInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	APY  string `json:"apy"`
}

// PrepareResponse is everything the wallet needs to build the source payment.
type PrepareResponse struct {
	DestinationAddress string        `json:"destinationAddress"`
	Memo               string        `json:"memo"`
	AmountDrops        string        `json:"amountDrops"`
	Lots               uint64        `json:"lots"`
	EstimatedFees      EstimatedFees `json:"estimatedFees"`
	Strategy           StrategyInfo  `json:"strategy"`
	Allocation         Allocation    `json:"allocation"`
	FlareAddress       string        `json:"flareAddress"`
}
