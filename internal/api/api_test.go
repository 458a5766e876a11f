package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/nhbchain/quoted/internal/arbiter"
	"github.com/nhbchain/quoted/internal/quote"
)

type stubPipeline struct {
	resp quote.Response
	err  error
}

func (s *stubPipeline) Quote(ctx context.Context, req quote.Request) (quote.Response, error) {
	return s.resp, s.err
}

func sampleResponse() quote.Response {
	return quote.Response{
		Compact: quote.Compact{
			Arbiter:       common.HexToAddress("0x2602AAAABBBBCCCCDDDDEEEE111122223333F626"),
			Tribunal:      common.HexToAddress("0xfaBE000011112222333344445555666677776c1F"),
			Sponsor:       common.HexToAddress("0x1111000000000000000000000000000000000011"),
			Expires:       bigInt("1703026800"),
			ID:            bigInt("42"),
			Amount:        bigInt("1000000000000000000"),
			MaximumAmount: bigInt("900000000000000000"),
			Mandate: quote.Mandate{
				ChainID:             bigInt("8453"),
				Tribunal:            common.HexToAddress("0xfaBE000011112222333344445555666677776c1F"),
				Recipient:           common.HexToAddress("0x1111000000000000000000000000000000000011"),
				Expires:             bigInt("1703026800"),
				Token:               common.HexToAddress("0x5500000000000000000000000000000000000055"),
				MinimumAmount:       bigInt("990000000000000000"),
				BaselinePriorityFee: bigInt("0"),
				ScalingFactor:       bigInt("1000000000100000000"),
			},
		},
		SpotOutputAmount:        bigInt("2000000000000000000"),
		QuoteOutputAmountDirect: bigInt("1000000000000000000"),
		QuoteOutputAmountNet:    bigInt("900000000000000000"),
		DeltaAmount:             bigInt("-1100000000000000000"),
		TribunalQuote:           bigInt("50000000000000000"),
		TribunalQuoteUSD:        bigInt("150000000000000000000"), // $150.0000
	}
}

func bigInt(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad literal " + s)
	}
	return v
}

func requestBody() string {
	return `{
		"sponsor": "0x1111000000000000000000000000000000000011",
		"inputTokenChainId": 10,
		"inputTokenAddress": "0x4400000000000000000000000000000000000044",
		"inputTokenAmount": "1000000000000000000",
		"outputTokenChainId": 8453,
		"outputTokenAddress": "0x5500000000000000000000000000000000000055",
		"lockParameters": {"allocatorId": "123", "resetPeriod": 4, "isMultichain": true}
	}`
}

func TestHandleQuoteHappyPath(t *testing.T) {
	srv := New(&stubPipeline{resp: sampleResponse()}, nil)
	req := httptest.NewRequest(http.MethodPost, "/quote", bytes.NewBufferString(requestBody()))
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var payload quoteResponsePayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "990000000000000000", payload.Data.Mandate.MinimumAmount)
	require.Nil(t, payload.Data.Nonce)
	require.Equal(t, "$150.0000", *payload.Context.DispensationUSD)
	require.Equal(t, "900000000000000000", *payload.Context.QuoteOutputAmountNet)
}

func TestHandleQuoteNoArbiterSurfaces400(t *testing.T) {
	srv := New(&stubPipeline{err: arbiter.ErrNoArbiterForChainPair}, nil)
	req := httptest.NewRequest(http.MethodPost, "/quote", bytes.NewBufferString(requestBody()))
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.True(t, strings.Contains(payload["message"], "No arbiter found for chain pair"))
}

func TestHandleQuoteMalformedAddress(t *testing.T) {
	srv := New(&stubPipeline{resp: sampleResponse()}, nil)
	body := strings.Replace(requestBody(), "0x1111000000000000000000000000000000000011", "not-an-address", 1)
	req := httptest.NewRequest(http.MethodPost, "/quote", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	srv := New(&stubPipeline{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "ok", payload["status"])
	require.NotNil(t, payload["timestamp"])
}
