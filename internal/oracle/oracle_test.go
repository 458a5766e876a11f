package oracle

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

type fakeDoer struct {
	responses map[string]string
	calls     int
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.calls++
	key := req.URL.Path
	body, ok := f.responses[key]
	if !ok {
		return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader("{}"))}, nil
	}
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(body))}, nil
}

func testOracle(doer *fakeDoer) *Oracle {
	cfg := Config{Endpoint: "http://oracle.local", PriceTTL: 30 * time.Second, TokenInfoTTL: time.Hour, RequestsPerSecond: 1000, Burst: 1000}
	chains := map[uint32]string{1: "ethereum", 10: "optimistic-ethereum", 8453: "base"}
	return New(doer, cfg, chains)
}

func TestUsdPriceFloorsToWei(t *testing.T) {
	addr := common.HexToAddress("0x4400000000000000000000000000000000000044")
	doer := &fakeDoer{responses: map[string]string{
		"/simple/token_price/ethereum": `{"` + strings.ToLower(addr.Hex()) + `":{"usd":2.5}}`,
	}}
	o := testOracle(doer)

	price, err := o.UsdPrice(context.Background(), 1, addr)
	require.NoError(t, err)
	require.Equal(t, "2500000000000000000", price.String())
}

func TestUsdPriceCachesWithinTTL(t *testing.T) {
	addr := common.HexToAddress("0x4400000000000000000000000000000000000044")
	doer := &fakeDoer{responses: map[string]string{
		"/simple/token_price/ethereum": `{"` + strings.ToLower(addr.Hex()) + `":{"usd":1}}`,
	}}
	o := testOracle(doer)

	_, err := o.UsdPrice(context.Background(), 1, addr)
	require.NoError(t, err)
	_, err = o.UsdPrice(context.Background(), 1, addr)
	require.NoError(t, err)

	require.Equal(t, 1, doer.calls)
}

func TestUsdPriceUnsupportedChain(t *testing.T) {
	o := testOracle(&fakeDoer{responses: map[string]string{}})
	_, err := o.UsdPrice(context.Background(), 42161, common.Address{})
	require.ErrorIs(t, err, ErrUnsupportedChain)
}

func TestTokenInfoZeroAddressIsNative(t *testing.T) {
	o := testOracle(&fakeDoer{responses: map[string]string{}})
	info, err := o.TokenInfo(context.Background(), 1, common.Address{})
	require.NoError(t, err)
	require.Equal(t, TokenInfo{Decimals: 18, Symbol: "ETH"}, info)
}

func TestUsdPriceMissingEntryIsUnavailable(t *testing.T) {
	addr := common.HexToAddress("0x9900000000000000000000000000000000000099")
	doer := &fakeDoer{responses: map[string]string{
		"/simple/token_price/ethereum": `{}`,
	}}
	o := testOracle(doer)
	_, err := o.UsdPrice(context.Background(), 1, addr)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestQueryParametersIncludeContractAddress(t *testing.T) {
	addr := common.HexToAddress("0x9900000000000000000000000000000000000099")
	var captured *url.URL
	doer := &fakeDoer{responses: map[string]string{}}
	_ = doer
	recorder := recordingDoer{fakeDoer: &fakeDoer{responses: map[string]string{
		"/simple/token_price/ethereum": `{"` + strings.ToLower(addr.Hex()) + `":{"usd":1}}`,
	}}, captured: &captured}
	o := testOracle(nil)
	o.client = recorder

	_, err := o.UsdPrice(context.Background(), 1, addr)
	require.NoError(t, err)
	require.Contains(t, captured.Query().Get("contract_addresses"), strings.ToLower(addr.Hex()))
}

type recordingDoer struct {
	*fakeDoer
	captured **url.URL
}

func (r recordingDoer) Do(req *http.Request) (*http.Response, error) {
	*r.captured = req.URL
	return r.fakeDoer.Do(req)
}
