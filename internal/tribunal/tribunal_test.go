package tribunal

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/nhbchain/quoted/internal/quote"
)

var testABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(tribunalABIJSON))
	if err != nil {
		panic(err)
	}
	return parsed
}()

var errDial = errors.New("dial failed")

type fakeEthClient struct {
	baseFee     *big.Int
	quoteResult *big.Int
	hashResult  [32]byte
	lastCallMsg ethereum.CallMsg
	headerErr   error
	callErr     error
	headerCalls int
}

func (f *fakeEthClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	f.headerCalls++
	if f.headerErr != nil {
		return nil, f.headerErr
	}
	return &types.Header{BaseFee: f.baseFee}, nil
}

func (f *fakeEthClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.lastCallMsg = msg
	if f.callErr != nil {
		return nil, f.callErr
	}
	if len(msg.Data) < 4 {
		return nil, errors.New("short call data")
	}
	switch {
	case bytes.Equal(msg.Data[:4], testABI.Methods["quote"].ID):
		return testABI.Methods["quote"].Outputs.Pack(f.quoteResult)
	case bytes.Equal(msg.Data[:4], testABI.Methods["deriveMandateHash"].ID):
		return testABI.Methods["deriveMandateHash"].Outputs.Pack(f.hashResult)
	default:
		return nil, errors.New("unknown selector")
	}
}

func sampleMandate() quote.Mandate {
	return quote.Mandate{
		ChainID:             big.NewInt(8453),
		Tribunal:            common.HexToAddress("0xfaBE000011112222333344445555666677776c1F"),
		Recipient:           common.HexToAddress("0x1234567890123456789012345678901234567890"),
		Expires:             big.NewInt(1703026800),
		Token:               common.HexToAddress("0x2222222222222222222222222222222222222222"),
		MinimumAmount:       big.NewInt(990000000000000000),
		BaselinePriorityFee: big.NewInt(0),
		ScalingFactor:       big.NewInt(1000000000100000000),
	}
}

func testClient(t *testing.T, eth EthClient, chains map[uint32]ChainSpec) *Client {
	t.Helper()
	c, err := NewWithDialer(chains, func(ctx context.Context, rawurl string) (EthClient, error) {
		return eth, nil
	})
	require.NoError(t, err)
	return c
}

func TestSimulateDispensationUnsupportedChain(t *testing.T) {
	c := testClient(t, &fakeEthClient{}, map[uint32]ChainSpec{})
	_, err := c.SimulateDispensation(context.Background(), 42161, common.Address{}, sampleMandate(), big.NewInt(1))
	require.ErrorIs(t, err, ErrUnsupportedTribunalChain)
}

func TestSimulateDispensationBaseChainElevatesGas(t *testing.T) {
	eth := &fakeEthClient{baseFee: big.NewInt(1_000_000_000), quoteResult: big.NewInt(42)}
	chains := map[uint32]ChainSpec{
		8453: {ChainID: 8453, RPCURL: "http://base.local", TribunalAddress: common.HexToAddress("0xfaBE000011112222333344445555666677776c1F")},
	}
	c := testClient(t, eth, chains)

	dispensation, err := c.SimulateDispensation(context.Background(), 8453, common.HexToAddress("0xaaaa"), sampleMandate(), big.NewInt(1000))
	require.NoError(t, err)
	require.Equal(t, "42", dispensation.String())
	require.Equal(t, 1, eth.headerCalls)
	require.Equal(t, elevatedGasLimit, eth.lastCallMsg.Gas)
	require.Equal(t, "2000000000", eth.lastCallMsg.GasPrice.String())
}

func TestSimulateDispensationNonBaseChainNoGasOverride(t *testing.T) {
	eth := &fakeEthClient{quoteResult: big.NewInt(7)}
	chains := map[uint32]ChainSpec{
		10: {ChainID: 10, RPCURL: "http://op.local", TribunalAddress: common.HexToAddress("0xfaBE000011112222333344445555666677776c1F")},
	}
	c := testClient(t, eth, chains)

	dispensation, err := c.SimulateDispensation(context.Background(), 10, common.HexToAddress("0xaaaa"), sampleMandate(), big.NewInt(1000))
	require.NoError(t, err)
	require.Equal(t, "7", dispensation.String())
	require.Equal(t, 0, eth.headerCalls)
	require.Equal(t, uint64(0), eth.lastCallMsg.Gas)
}

func TestDeriveMandateHashRoundTrips(t *testing.T) {
	var want [32]byte
	copy(want[:], []byte("deadbeefdeadbeefdeadbeefdeadbeef"))
	eth := &fakeEthClient{hashResult: want}
	chains := map[uint32]ChainSpec{
		1: {ChainID: 1, RPCURL: "http://mainnet.local", TribunalAddress: common.HexToAddress("0x1111999988887777666655554444333322221111")},
	}
	c := testClient(t, eth, chains)

	got, err := c.DeriveMandateHash(context.Background(), 1, sampleMandate())
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestDialFailureWrapsErrRPC(t *testing.T) {
	chains := map[uint32]ChainSpec{
		1: {ChainID: 1, RPCURL: "http://mainnet.local", TribunalAddress: common.Address{}},
	}
	c, err := NewWithDialer(chains, func(ctx context.Context, rawurl string) (EthClient, error) {
		return nil, errDial
	})
	require.NoError(t, err)

	_, err = c.SimulateDispensation(context.Background(), 1, common.Address{}, sampleMandate(), big.NewInt(1))
	require.ErrorIs(t, err, ErrRPC)
}
