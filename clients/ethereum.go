package clients

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/vitwit/xrpfi/logger"
	bridgetypes "github.com/vitwit/xrpfi/types"
)

const defaultConfirmTimeout = 2 * time.Minute

// EVMClient talks to the destination chain on behalf of the single operator signer.
type EVMClient struct {
	network        bridgetypes.Network
	eth            *ethclient.Client
	chainID        *big.Int
	signer         *ecdsa.PrivateKey
	from           common.Address
	confirmTimeout time.Duration
	logger         logger.Logger

	// serializes nonce read, sign and send for the shared signer
	sendMu sync.Mutex
}

var _ Backend = (*EVMClient)(nil)

type EVMOption func(*EVMClient)

func WithConfirmTimeout(d time.Duration) EVMOption {
	return func(c *EVMClient) {
		if d > 0 {
			c.confirmTimeout = d
		}
	}
}

func WithEVMLogger(l logger.Logger) EVMOption {
	return func(c *EVMClient) {
		c.logger = l
	}
}

// NewEVMClient dials rpcURL. signerPrivHex may be empty for a read-only client.
func NewEVMClient(network bridgetypes.Network, rpcURL string, chainID *big.Int, signerPrivHex string, opts ...EVMOption) (*EVMClient, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("ethereum rpc dial: %w", err)
	}

	c := &EVMClient{
		network:        network,
		eth:            eth,
		chainID:        chainID,
		confirmTimeout: defaultConfirmTimeout,
		logger:         logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}

	if signerPrivHex != "" {
		signer, err := crypto.HexToECDSA(cleanHex(strings.TrimSpace(signerPrivHex)))
		if err != nil {
			eth.Close()
			return nil, bridgetypes.WrapError(bridgetypes.ErrCodeConfigError, err, "invalid signer key")
		}
		c.signer = signer
		c.from = crypto.PubkeyToAddress(signer.PublicKey)
	}

	return c, nil
}

func (c *EVMClient) GetNetwork() bridgetypes.Network { return c.network }
func (c *EVMClient) From() common.Address            { return c.from }
func (c *EVMClient) HasSigner() bool                 { return c.signer != nil }
func (c *EVMClient) Close()                          { c.eth.Close() }

// ChainID returns the configured chain id, asking the node when none was configured.
func (c *EVMClient) ChainID(ctx context.Context) (*big.Int, error) {
	if c.chainID != nil && c.chainID.Sign() > 0 {
		return c.chainID, nil
	}
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, bridgetypes.WrapError(bridgetypes.ErrCodeNetworkError, err, "chain id fetch failed")
	}
	c.chainID = id
	return id, nil
}

func (c *EVMClient) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: data}, nil)
	if err != nil {
		return nil, classifyCallError(err)
	}
	return out, nil
}

func (c *EVMClient) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	bal, err := c.eth.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, bridgetypes.WrapError(bridgetypes.ErrCodeNetworkError, err, "balance of %s", account.Hex())
	}
	return bal, nil
}

// Transact runs simulate -> estimate -> sign -> send -> wait. The simulation step
// surfaces reverts before any fee is spent.
func (c *EVMClient) Transact(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Receipt, error) {
	if c.signer == nil {
		return nil, bridgetypes.NewError(bridgetypes.ErrCodeConfigError, "no signer configured on client")
	}
	if value == nil {
		value = big.NewInt(0)
	}

	msg := ethereum.CallMsg{From: c.from, To: &to, Value: value, Data: data}
	if _, err := c.eth.CallContract(ctx, msg, nil); err != nil {
		return nil, classifyCallError(err)
	}

	signed, err := c.signAndSend(ctx, msg)
	if err != nil {
		return nil, err
	}
	c.logger.Info("transaction submitted", map[string]any{"tx": signed.Hash().Hex(), "to": to.Hex()})

	waitCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, c.eth, signed)
	if err != nil {
		return nil, bridgetypes.WrapError(bridgetypes.ErrCodeNetworkError, err, "waiting for transaction %s", signed.Hash().Hex())
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, &bridgetypes.BridgeError{
			Code:    bridgetypes.ErrCodeChainSubmissionReverted,
			Message: fmt.Sprintf("transaction %s reverted in block %s", signed.Hash().Hex(), receipt.BlockNumber),
			Data:    signed.Hash().Hex(),
		}
	}

	c.logger.Info("transaction confirmed", map[string]any{"tx": signed.Hash().Hex(), "block": receipt.BlockNumber.Uint64()})
	return receipt, nil
}

func (c *EVMClient) signAndSend(ctx context.Context, msg ethereum.CallMsg) (*types.Transaction, error) {
	chainID, err := c.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	gasLimit, err := c.eth.EstimateGas(ctx, msg)
	if err != nil {
		return nil, classifyCallError(err)
	}
	// headroom for state drift between estimate and inclusion
	gasLimit = gasLimit * 12 / 10

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, bridgetypes.WrapError(bridgetypes.ErrCodeNetworkError, err, "suggest gas price failed")
	}

	nonce, err := c.eth.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, bridgetypes.WrapError(bridgetypes.ErrCodeNetworkError, err, "pending nonce failed")
	}

	tx := types.NewTransaction(nonce, *msg.To, msg.Value, gasLimit, gasPrice, msg.Data)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(chainID), c.signer)
	if err != nil {
		return nil, fmt.Errorf("sign tx failed: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return nil, bridgetypes.WrapError(bridgetypes.ErrCodeNetworkError, err, "send tx failed")
	}
	return signed, nil
}

// ----------------- Helpers -----------------
func cleanHex(s string) string {
	if len(s) >= 2 && (s[0:2] == "0x" || s[0:2] == "0X") {
		return s[2:]
	}
	return s
}
