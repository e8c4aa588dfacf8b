// Package verification obtains Flare Data Connector proofs that a source-chain
// payment happened: verifier request, FdcHub submission and DA layer polling.
package verification

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/vitwit/xrpfi/config"
	"github.com/vitwit/xrpfi/logger"
	"github.com/vitwit/xrpfi/metrics"
	"github.com/vitwit/xrpfi/types"
	"golang.org/x/time/rate"
)

const (
	preparePathFmt = "/verifier/xrp/%s/prepareRequest"
	proofPath      = "/api/v1/fdc/proof-by-request-round-raw"
	notVisibleYet  = "DOES NOT EXIST"
)

// Config holds the endpoints and timing of the attestation flow.
type Config struct {
	VerifierURL       string
	APIKey            string
	DALayerURL        string
	AttestationType   string
	SourceID          string
	InitialDelay      time.Duration
	RetryInterval     time.Duration
	MaxRetries        int
	ProofInitialWait  time.Duration
	ProofPollInterval time.Duration
	RoundWindow       int
	RoundCheckDelay   time.Duration
	MaxWait           time.Duration
	RequestsPerSecond float64
}

// ConfigFrom maps the file configuration onto the service configuration.
func ConfigFrom(c config.FDCConfig) Config {
	return Config{
		VerifierURL:       strings.TrimRight(c.VerifierURL, "/"),
		APIKey:            c.VerifierAPIKey,
		DALayerURL:        strings.TrimRight(c.DALayerURL, "/"),
		AttestationType:   c.AttestationType,
		SourceID:          c.SourceID,
		InitialDelay:      c.InitialDelay.D(),
		RetryInterval:     c.RetryInterval.D(),
		MaxRetries:        c.MaxRetries,
		ProofInitialWait:  c.ProofInitialWait.D(),
		ProofPollInterval: c.ProofPollInterval.D(),
		RoundWindow:       c.RoundWindow,
		RoundCheckDelay:   c.RoundCheckDelay.D(),
		MaxWait:           c.MaxWait.D(),
		RequestsPerSecond: c.RequestsPerSecond,
	}
}

// Submitter records an attestation request on chain and returns the voting
// round in which the proof is expected.
type Submitter interface {
	Submit(ctx context.Context, abiEncodedRequest string) (uint64, error)
}

// Service drives the attestation flow. Every outbound HTTP request waits on a
// shared limiter.
type Service struct {
	cfg       Config
	http      *http.Client
	limiter   *rate.Limiter
	submitter Submitter
	logger    logger.Logger
	metrics   metrics.Recorder
}

type Option func(*Service)

func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.http = c }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(cfg Config, submitter Submitter, opts ...Option) *Service {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.RoundWindow <= 0 {
		cfg.RoundWindow = 1
	}
	s := &Service{
		cfg:       cfg,
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   rate.NewLimiter(limit, 1),
		submitter: submitter,
		logger:    logger.NoopLogger{},
		metrics:   metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type attestationRequest struct {
	AttestationType string             `json:"attestationType"`
	SourceID        string             `json:"sourceId"`
	RequestBody     paymentRequestBody `json:"requestBody"`
}

type paymentRequestBody struct {
	TransactionID string `json:"transactionId"`
	InUtxo        string `json:"inUtxo"`
	Utxo          string `json:"utxo"`
}

type prepareResponse struct {
	Status             string `json:"status"`
	AbiEncodedRequest  string `json:"abiEncodedRequest"`
	AbiEncodedResponse string `json:"abiEncodedResponse"`
	Response           *struct {
		AbiEncodedRequest string `json:"abiEncodedRequest"`
	} `json:"response"`
}

func (r prepareResponse) encoded() string {
	switch {
	case r.AbiEncodedRequest != "":
		return r.AbiEncodedRequest
	case r.AbiEncodedResponse != "":
		return r.AbiEncodedResponse
	case r.Response != nil:
		return r.Response.AbiEncodedRequest
	}
	return ""
}

// Bytes32Hex right-pads s with zeros to 32 bytes and hex encodes it with a 0x prefix.
func Bytes32Hex(s string) string {
	var b [32]byte
	copy(b[:], s)
	return "0x" + hex.EncodeToString(b[:])
}

// RequestAttestation asks the verifier to prepare an attestation request for a
// source transaction. It waits InitialDelay first and retries while the
// verifier does not yet see the transaction.
func (s *Service) RequestAttestation(ctx context.Context, txHash string) (string, error) {
	if err := sleep(ctx, s.cfg.InitialDelay); err != nil {
		return "", err
	}

	txID := txHash
	if !strings.HasPrefix(txID, "0x") {
		txID = "0x" + txID
	}
	body := attestationRequest{
		AttestationType: Bytes32Hex(s.cfg.AttestationType),
		SourceID:        Bytes32Hex(s.cfg.SourceID),
		RequestBody:     paymentRequestBody{TransactionID: txID, InUtxo: "0", Utxo: "0"},
	}
	url := s.cfg.VerifierURL + fmt.Sprintf(preparePathFmt, s.cfg.AttestationType)

	for attempt := 0; ; attempt++ {
		var resp prepareResponse
		status, raw, err := s.postJSON(ctx, url, body, &resp)
		if err != nil {
			return "", types.WrapError(types.ErrCodeNetworkError, err, "verifier request failed")
		}
		if status < 200 || status > 299 {
			return "", types.NewError(types.ErrCodeAttestationUnavailable, "verifier returned %d: %s", status, truncate(raw, 200))
		}
		if encoded := resp.encoded(); encoded != "" {
			s.logger.Info("attestation request prepared", map[string]any{"tx": txHash, "status": resp.Status})
			return encoded, nil
		}
		if !strings.Contains(resp.Status, notVisibleYet) {
			return "", types.NewError(types.ErrCodeAttestationUnavailable, "verifier status %q for %s", resp.Status, txHash)
		}
		if attempt >= s.cfg.MaxRetries {
			return "", types.NewError(types.ErrCodeAttestationUnavailable, "transaction %s not visible to verifier after %d retries", txHash, s.cfg.MaxRetries)
		}
		s.logger.Debug("transaction not yet visible to verifier", map[string]any{"tx": txHash, "retriesLeft": s.cfg.MaxRetries - attempt})
		if err := sleep(ctx, s.cfg.RetryInterval); err != nil {
			return "", err
		}
	}
}

// SubmitAttestationRequest records the request on chain and returns the expected voting round.
func (s *Service) SubmitAttestationRequest(ctx context.Context, abiEncodedRequest string) (uint64, error) {
	if s.submitter == nil {
		return 0, types.NewError(types.ErrCodeConfigError, "no attestation submitter configured")
	}
	round, err := s.submitter.Submit(ctx, abiEncodedRequest)
	if err != nil {
		return 0, err
	}
	s.logger.Info("attestation request submitted", map[string]any{"round": round})
	return round, nil
}

// ProofResponse is what the DA layer returns for a finalized request.
type ProofResponse struct {
	MerkleProof []string        `json:"merkleProof"`
	Data        json.RawMessage `json:"data"`
	ResponseHex string          `json:"response_hex"`
	RoundID     uint64          `json:"-"`
}

type proofQuery struct {
	VotingRoundID uint64 `json:"votingRoundId"`
	RequestBytes  string `json:"requestBytes"`
}

// WaitForProof polls the DA layer for rounds startRound..startRound+RoundWindow-1
// until a non-empty merkle proof appears. MaxWait bounds the whole wait.
func (s *Service) WaitForProof(ctx context.Context, abiEncodedRequest string, startRound uint64) (*ProofResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.MaxWait)
	defer cancel()

	timeoutErr := func() error {
		if ctx.Err() == context.DeadlineExceeded {
			return types.NewError(types.ErrCodeProofTimeout, "no proof after %s", s.cfg.MaxWait)
		}
		return ctx.Err()
	}

	if err := sleep(ctx, s.cfg.ProofInitialWait); err != nil {
		return nil, timeoutErr()
	}

	ticker := time.NewTicker(s.cfg.ProofPollInterval)
	defer ticker.Stop()

	for {
		for offset := 0; offset < s.cfg.RoundWindow; offset++ {
			round := startRound + uint64(offset)
			if proof := s.fetchProof(ctx, abiEncodedRequest, round); proof != nil {
				s.logger.Info("proof found", map[string]any{"round": round})
				return proof, nil
			}
			if err := sleep(ctx, s.cfg.RoundCheckDelay); err != nil {
				return nil, timeoutErr()
			}
		}
		select {
		case <-ctx.Done():
			return nil, timeoutErr()
		case <-ticker.C:
		}
	}
}

// fetchProof returns nil for every kind of miss: transport errors, non-2xx and empty proofs.
func (s *Service) fetchProof(ctx context.Context, abiEncodedRequest string, round uint64) *ProofResponse {
	var resp ProofResponse
	status, raw, err := s.postJSON(ctx, s.cfg.DALayerURL+proofPath, proofQuery{VotingRoundID: round, RequestBytes: abiEncodedRequest}, &resp)
	if err != nil {
		s.logger.Debug("DA layer fetch failed", map[string]any{"round": round, "error": err})
		return nil
	}
	if status < 200 || status > 299 {
		s.logger.Debug("DA layer miss", map[string]any{"round": round, "status": status, "body": truncate(raw, 100)})
		return nil
	}
	if len(resp.MerkleProof) == 0 {
		return nil
	}
	resp.RoundID = round
	return &resp
}

// GetPaymentProof runs the whole flow and returns the execution proof bytes.
func (s *Service) GetPaymentProof(ctx context.Context, txHash string) (*Proof, error) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		s.metrics.ObserveLatency(metrics.OpAttestation, time.Since(start), map[string]string{"outcome": outcome})
	}()

	encoded, err := s.RequestAttestation(ctx, txHash)
	if err != nil {
		outcome = "error"
		return nil, err
	}
	round, err := s.SubmitAttestationRequest(ctx, encoded)
	if err != nil {
		outcome = "error"
		return nil, err
	}
	resp, err := s.WaitForProof(ctx, encoded, round)
	if err != nil {
		outcome = "error"
		return nil, err
	}
	proof, err := ProofFromResponse(resp)
	if err != nil {
		outcome = "error"
		return nil, err
	}
	return proof, nil
}

// postJSON returns the status and raw body; out is decoded only for 2xx replies.
func (s *Service) postJSON(ctx context.Context, url string, in, out interface{}) (int, []byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", s.cfg.APIKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, raw, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, raw, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}

// feeOrDefault parses a wei amount, falling back to 0.001 FLR.
func feeOrDefault(wei string) *big.Int {
	if v, ok := new(big.Int).SetString(wei, 10); ok && v.Sign() >= 0 {
		return v
	}
	return big.NewInt(1_000_000_000_000_000)
}
