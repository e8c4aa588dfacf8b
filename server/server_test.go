package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/xrpfi/config"
	"github.com/vitwit/xrpfi/gateway"
	"github.com/vitwit/xrpfi/ledger"
	"github.com/vitwit/xrpfi/metrics"
	"github.com/vitwit/xrpfi/quote"
	"github.com/vitwit/xrpfi/types"
)

const (
	genesis  = "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
	operator = "rPT1Sjq2YGrBMTttX4GZHjKu9dyfzbpAYe"
	hashA    = "A1B2C3D4E5F60718293A4B5C6D7E8F90A1B2C3D4E5F60718293A4B5C6D7E8F90"
	memoHex  = "1000000000000000000000000000000000000000000000000000000000000064"
)

var operatorEVM = common.HexToAddress("0x00000000000000000000000000000000000000aa")

type stubChain struct {
	balancesErr error
	holdingsFor common.Address
}

func (c *stubChain) Vaults() []gateway.Vault {
	return []gateway.Vault{
		{ID: 1, Name: "Firelight", Kind: types.InstructionFirelight, Address: common.HexToAddress("0xf1")},
		{ID: 2, Name: "Upshift", Kind: types.InstructionUpshift},
	}
}

func (c *stubChain) VaultStatus(_ context.Context, id uint32) (*types.VaultStatus, error) {
	if id != 1 {
		return nil, types.NewError(types.ErrCodeConfigError, "vault %d has no address configured", id)
	}
	return &types.VaultStatus{ID: 1, Name: "Firelight", TotalAssets: "1100.000000", TotalSupply: "1000.000000", ExchangeRate: "1.100000"}, nil
}

func (c *stubChain) GetHoldings(_ context.Context, addr common.Address) *types.Holdings {
	c.holdingsFor = addr
	return &types.Holdings{Address: addr.Hex(), AssetBalance: "1.000000", TotalValueXRP: "1.000000", Vaults: map[string]types.VaultHolding{}}
}

func (c *stubChain) Operator() common.Address { return operatorEVM }

func (c *stubChain) OperatorBalances(context.Context) (string, string, error) {
	if c.balancesErr != nil {
		return "", "", c.balancesErr
	}
	return "12.500000", "340.000000", nil
}

type fixedQueue int

func (q fixedQueue) Pending() int { return int(q) }

type fixture struct {
	ledger *ledger.Ledger
	chain  *stubChain
	srv    *Server
	reg    *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l, err := ledger.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	f := &fixture{ledger: l, chain: &stubChain{}, reg: prometheus.NewRegistry()}
	rec := metrics.NewPrometheusRecorder("xrpfi", f.reg)
	rec.IncCounter(metrics.EventPaymentObserved, nil)

	f.srv = New(Config{
		AllowedOrigins:  []string{"http://localhost:3000"},
		OperatorAddress: operator,
		AssetToken:      "0x00000000000000000000000000000000000000f0",
		Version:         "9.9.9",
	}, l, l, f.chain, quote.New(operator, config.Default().Vaults),
		WithGatherer(f.reg), WithQueue(fixedQueue(3)))
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestInfoAndStrategies(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "running", decode(t, w)["status"])
	assert.Equal(t, "9.9.9", decode(t, w)["version"])

	w = f.do(t, http.MethodGet, "/api/strategies", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["strategies"], 2)

	w = f.do(t, http.MethodGet, "/api/strategies/upshift", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "12.3%", decode(t, w)["apy"])

	w = f.do(t, http.MethodGet, "/api/strategies/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, types.ErrCodeNotFound, decode(t, w)["code"])
}

func TestPrepare(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/prepare", `{"xrplAddress":"`+genesis+`","amountXRP":"10","allocation":{"firelight":30,"upshift":70}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, operator, body["destinationAddress"])
	assert.Equal(t, "10000000", body["amountDrops"])
	assert.True(t, strings.HasPrefix(body["memo"].(string), "301E"))

	w = f.do(t, http.MethodPost, "/api/prepare", `{"xrplAddress":"`+genesis+`","amountXRP":"0.01"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/prepare", `{`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, types.ErrCodeInvalidRequest, decode(t, w)["code"])
}

func TestStatusAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.Create(ctx, hashA, genesis, "10", types.InstructionFirelight, memoHex)
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/api/status/"+strings.ToLower(hashA), "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, hashA, body["xrplTxHash"])
	assert.Equal(t, "pending", body["status"])
	assert.Nil(t, body["flareTxHash"])

	w = f.do(t, http.MethodGet, "/api/status/"+strings.Repeat("0", 64), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/status/xyz", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/status/address/"+genesis, "")
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, genesis, body["address"])
	assert.Len(t, body["transactions"], 1)

	w = f.do(t, http.MethodGet, "/api/status/address/"+operator, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["transactions"])
}

func TestRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.Create(ctx, hashA, genesis, "10", types.InstructionFirelight, memoHex)
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/api/status/"+hashA+"/retry", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, types.ErrCodeInvalidTransition, decode(t, w)["code"])

	require.NoError(t, f.ledger.Fail(ctx, hashA, "attestation unavailable"))
	w = f.do(t, http.MethodPost, "/api/status/"+hashA+"/retry", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	body := decode(t, w)
	assert.Equal(t, "pending", body["status"])
	assert.Nil(t, body["error"])
}

func TestHoldings(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/holdings/"+genesis, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, genesis, body["xrplAddress"])
	assert.True(t, strings.EqualFold("0xb5f762798a53d543a014caf8b297cff8f2f937e8", body["flareAddress"].(string)))
	assert.Equal(t, common.HexToAddress("0xb5f762798a53d543a014caf8b297cff8f2f937e8"), f.chain.holdingsFor)

	w = f.do(t, http.MethodGet, "/api/holdings/0x00000000000000000000000000000000000000bb", "")
	require.Equal(t, http.StatusOK, w.Code)
	_, hasClassic := decode(t, w)["xrplAddress"]
	assert.False(t, hasClassic)

	w = f.do(t, http.MethodGet, "/api/holdings/rNotValid", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVaults(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/holdings/vaults", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["vaults"], 1, "vault without address is skipped")

	w = f.do(t, http.MethodGet, "/api/holdings/vault/firelight", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1.100000", decode(t, w)["exchangeRate"])

	w = f.do(t, http.MethodGet, "/api/holdings/vault/1", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/holdings/vault/upshift", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, types.ErrCodeConfigError, decode(t, w)["code"])

	w = f.do(t, http.MethodGet, "/api/holdings/vault/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQueueAndOperator(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Create(context.Background(), hashA, genesis, "10", types.InstructionFirelight, memoHex)
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/api/queue", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(3), body["queued"])
	counts := body["counts"].(map[string]any)
	assert.Equal(t, float64(1), counts["pending"])
	assert.Equal(t, float64(0), counts["failed"])

	w = f.do(t, http.MethodGet, "/api/operator", "")
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, operator, body["xrplAddress"])
	assert.Equal(t, "12.500000", body["flareBalance"])
	assert.Equal(t, "340.000000", body["fxrpBalance"])

	f.chain.balancesErr = errors.New("rpc down")
	w = f.do(t, http.MethodGet, "/api/operator", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", decode(t, w)["fxrpBalance"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "xrpfi_events_total")
	assert.Contains(t, w.Body.String(), `type="payment_observed"`)
}

func TestCORS(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/prepare", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestWriteErrorMapping(t *testing.T) {
	cases := map[error]int{
		types.NewError(types.ErrCodeNotFound, "x"):          http.StatusNotFound,
		types.NewError(types.ErrCodeMalformedMemo, "x"):     http.StatusBadRequest,
		types.NewError(types.ErrCodeInvalidTransition, "x"): http.StatusConflict,
		types.NewError(types.ErrCodeProofTimeout, "x"):      http.StatusInternalServerError,
		errors.New("plain"):                                 http.StatusInternalServerError,
	}
	for err, status := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		writeError(c, err)
		assert.Equal(t, status, w.Code, err.Error())
	}
}
