package verification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/xrpfi/types"
)

const txHash = "A1B2C3D4E5F60718293A4B5C6D7E8F90A1B2C3D4E5F60718293A4B5C6D7E8F90"

var leaf = "0x" + strings.Repeat("ab", 32)

func testConfig(url string) Config {
	return Config{
		VerifierURL:       url,
		APIKey:            "secret",
		DALayerURL:        url,
		AttestationType:   "Payment",
		SourceID:          "testXRP",
		InitialDelay:      time.Millisecond,
		RetryInterval:     time.Millisecond,
		MaxRetries:        2,
		ProofInitialWait:  time.Millisecond,
		ProofPollInterval: 5 * time.Millisecond,
		RoundWindow:       5,
		RoundCheckDelay:   time.Millisecond,
		MaxWait:           time.Second,
	}
}

type stubSubmitter struct {
	round uint64
	err   error
	got   string
}

func (s *stubSubmitter) Submit(_ context.Context, req string) (uint64, error) {
	s.got = req
	return s.round, s.err
}

func TestBytes32Hex(t *testing.T) {
	got := Bytes32Hex("Payment")
	assert.Equal(t, "0x5061796d656e74"+strings.Repeat("0", 50), got)
	assert.Len(t, got, 66)
}

func TestRequestAttestationSendsPaddedFields(t *testing.T) {
	var body attestationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/verifier/xrp/Payment/prepareRequest", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-API-KEY"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"status":"VALID","abiEncodedRequest":"0xdeadbeef"}`))
	}))
	defer srv.Close()

	s := NewService(testConfig(srv.URL), nil)
	encoded, err := s.RequestAttestation(context.Background(), txHash)
	require.NoError(t, err)
	assert.Equal(t, "0xdeadbeef", encoded)

	assert.Equal(t, Bytes32Hex("Payment"), body.AttestationType)
	assert.Equal(t, Bytes32Hex("testXRP"), body.SourceID)
	assert.Equal(t, "0x"+txHash, body.RequestBody.TransactionID)
	assert.Equal(t, "0", body.RequestBody.InUtxo)
	assert.Equal(t, "0", body.RequestBody.Utxo)
}

func TestRequestAttestationRetriesUntilVisible(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			_, _ = w.Write([]byte(`{"status":"INVALID: TRANSACTION DOES NOT EXIST"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"VALID","abiEncodedRequest":"0x01"}`))
	}))
	defer srv.Close()

	encoded, err := NewService(testConfig(srv.URL), nil).RequestAttestation(context.Background(), txHash)
	require.NoError(t, err)
	assert.Equal(t, "0x01", encoded)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRequestAttestationUnavailableAfterRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"status":"INVALID: TRANSACTION DOES NOT EXIST"}`))
	}))
	defer srv.Close()

	_, err := NewService(testConfig(srv.URL), nil).RequestAttestation(context.Background(), txHash)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrAttestationUnavailable))
	// first attempt plus MaxRetries
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRequestAttestationOtherStatusFailsFast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"INVALID: NOT A PAYMENT"}`))
	}))
	defer srv.Close()

	_, err := NewService(testConfig(srv.URL), nil).RequestAttestation(context.Background(), txHash)
	assert.True(t, errors.Is(err, types.ErrAttestationUnavailable))
}

func TestRequestAttestationHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewService(testConfig(srv.URL), nil).RequestAttestation(context.Background(), txHash)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestWaitForProofScansRoundWindow(t *testing.T) {
	var mu sync.Mutex
	var rounds []uint64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var q proofQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&q))
		assert.Equal(t, "0xabcd", q.RequestBytes)
		mu.Lock()
		rounds = append(rounds, q.VotingRoundID)
		mu.Unlock()
		switch q.VotingRoundID {
		case 102:
			_, _ = w.Write([]byte(`{"merkleProof":["` + leaf + `"],"data":"0x1234"}`))
		case 101:
			http.Error(w, "not found", http.StatusNotFound)
		default:
			_, _ = w.Write([]byte(`{"merkleProof":[]}`))
		}
	}))
	defer srv.Close()

	resp, err := NewService(testConfig(srv.URL), nil).WaitForProof(context.Background(), "0xabcd", 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(102), resp.RoundID)
	assert.Equal(t, []uint64{100, 101, 102}, rounds)
}

func TestWaitForProofTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"merkleProof":[]}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxWait = 50 * time.Millisecond

	start := time.Now()
	_, err := NewService(cfg, nil).WaitForProof(context.Background(), "0xabcd", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrProofTimeout))
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitForProofCancelled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.ProofInitialWait = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewService(cfg, nil).WaitForProof(ctx, "0x", 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetPaymentProof(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/verifier/xrp/Payment/prepareRequest", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"VALID","abiEncodedRequest":"0xfeed"}`))
	})
	mux.HandleFunc(proofPath, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"merkleProof":["` + leaf + `"],"data":"0x0102"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sub := &stubSubmitter{round: 7}
	proof, err := NewService(testConfig(srv.URL), sub).GetPaymentProof(context.Background(), txHash)
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", sub.got)
	assert.Equal(t, uint64(7), proof.RoundID)
	assert.Equal(t, []byte{0x01, 0x02}, proof.Data)
	require.Len(t, proof.MerkleProof, 1)
}

func TestGetPaymentProofSubmitFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"VALID","abiEncodedRequest":"0xfeed"}`))
	}))
	defer srv.Close()

	sub := &stubSubmitter{err: types.NewError(types.ErrCodeSimulationFailed, "insufficient fee")}
	_, err := NewService(testConfig(srv.URL), sub).GetPaymentProof(context.Background(), txHash)
	assert.True(t, errors.Is(err, types.ErrSimulationFailed))
}
