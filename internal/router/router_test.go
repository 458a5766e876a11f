package router

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

type scriptedDoer struct {
	amounts []string
	calls   int
}

func (d *scriptedDoer) Do(req *http.Request) (*http.Response, error) {
	idx := d.calls
	d.calls++
	amount := "0"
	if idx < len(d.amounts) {
		amount = d.amounts[idx]
	}
	body, _ := json.Marshal(legResponse{OutputAmount: amount})
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(string(body)))}, nil
}

func testClient(doer *scriptedDoer) *Client {
	return New(doer, Config{Endpoint: "http://router.local", RequestsPerSecond: 1000, Burst: 1000})
}

var nativeAddr = common.Address{}

func TestSameChainDirectEqualsNet(t *testing.T) {
	doer := &scriptedDoer{amounts: []string{"1000"}}
	c := testClient(doer)
	tokenIn := common.HexToAddress("0x11")
	tokenOut := common.HexToAddress("0x22")

	direct, sess, err := c.Quote(context.Background(), 1, 1, tokenIn, tokenOut, big.NewInt(500))
	require.NoError(t, err)
	require.Equal(t, "1000", direct.String())

	net, err := c.Refine(context.Background(), sess, big.NewInt(50))
	require.NoError(t, err)
	require.Equal(t, direct, net)
	require.Equal(t, 1, doer.calls)
}

func TestCrossChainBothNonNativeThreeCalls(t *testing.T) {
	doer := &scriptedDoer{amounts: []string{"100", "1000", "950"}}
	c := testClient(doer)
	tokenIn := common.HexToAddress("0x11")
	tokenOut := common.HexToAddress("0x22")

	direct, sess, err := c.Quote(context.Background(), 10, 8453, tokenIn, tokenOut, big.NewInt(500))
	require.NoError(t, err)
	require.Equal(t, "1000", direct.String())
	require.Equal(t, "100", sess.Intermediate().String())

	net, err := c.Refine(context.Background(), sess, big.NewInt(5))
	require.NoError(t, err)
	require.Equal(t, "950", net.String())
	require.Equal(t, 3, doer.calls)
	require.True(t, net.Cmp(direct) <= 0)
}

func TestCrossChainNativeOutOnlyNoSecondCall(t *testing.T) {
	doer := &scriptedDoer{amounts: []string{"1000"}}
	c := testClient(doer)
	tokenIn := common.HexToAddress("0x11")

	direct, sess, err := c.Quote(context.Background(), 10, 8453, tokenIn, nativeAddr, big.NewInt(500))
	require.NoError(t, err)
	require.Equal(t, "1000", direct.String())

	net, err := c.Refine(context.Background(), sess, big.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, "900", net.String())
	require.Equal(t, 1, doer.calls)
}

func TestCrossChainBothNativeNoRouterCalls(t *testing.T) {
	doer := &scriptedDoer{}
	c := testClient(doer)

	direct, sess, err := c.Quote(context.Background(), 10, 8453, nativeAddr, nativeAddr, big.NewInt(500))
	require.NoError(t, err)
	require.Equal(t, "500", direct.String())
	require.Equal(t, 0, doer.calls)

	net, err := c.Refine(context.Background(), sess, big.NewInt(10))
	require.NoError(t, err)
	require.Equal(t, "490", net.String())
}

func TestCrossChainBothNonNativeZeroDispensationSkipsSecondCall(t *testing.T) {
	doer := &scriptedDoer{amounts: []string{"100", "1000"}}
	c := testClient(doer)
	tokenIn := common.HexToAddress("0x11")
	tokenOut := common.HexToAddress("0x22")

	direct, sess, err := c.Quote(context.Background(), 10, 8453, tokenIn, tokenOut, big.NewInt(500))
	require.NoError(t, err)
	require.Equal(t, "1000", direct.String())
	require.Equal(t, 2, doer.calls)

	net, err := c.Refine(context.Background(), sess, big.NewInt(0))
	require.NoError(t, err)
	require.Same(t, direct, net)
	require.Equal(t, 2, doer.calls, "zero dispensation must not issue a third router call")
}

func TestDispensationExceedsIntermediate(t *testing.T) {
	doer := &scriptedDoer{amounts: []string{"1000"}}
	c := testClient(doer)
	tokenIn := common.HexToAddress("0x11")

	_, sess, err := c.Quote(context.Background(), 10, 8453, tokenIn, nativeAddr, big.NewInt(500))
	require.NoError(t, err)

	_, err = c.Refine(context.Background(), sess, big.NewInt(1000))
	require.ErrorIs(t, err, ErrDispensationExceedsIntermediate)
}
