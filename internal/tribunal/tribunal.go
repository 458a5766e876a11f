// Package tribunal implements per-chain RPC clients that simulate a
// destination-chain tribunal contract's quote() and deriveMandateHash()
// view functions, dialing and caching one client per chain id lazily.
package tribunal

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nhbchain/quoted/internal/quote"
)

// ErrUnsupportedTribunalChain is returned when destChainId has no configured
// ChainSpec.
var ErrUnsupportedTribunalChain = errors.New("unsupported tribunal chain")

// ErrRPC wraps a transport-level failure talking to a tribunal RPC endpoint,
// distinct from ErrUnsupportedTribunalChain.
var ErrRPC = errors.New("tribunal rpc error")

// baseChainID gets an elevated gas budget to side-step L2 fee-data quirks.
const baseChainID uint32 = 8453

const elevatedGasLimit = uint64(10_000_000)

// ChainSpec is one row of the static chainId -> RPC/tribunal table.
type ChainSpec struct {
	ChainID         uint32
	RPCURL          string
	TribunalAddress common.Address
}

// tribunalABIJSON declares the two view functions this client calls against
// the destination-chain tribunal contract (the pipeline uses only quote).
const tribunalABIJSON = `[
  {"type":"function","name":"quote","stateMutability":"view","inputs":[
    {"name":"claimant","type":"address"},
    {"name":"mandate","type":"tuple","components":[
      {"name":"chainId","type":"uint256"},
      {"name":"tribunal","type":"address"},
      {"name":"recipient","type":"address"},
      {"name":"expires","type":"uint256"},
      {"name":"token","type":"address"},
      {"name":"minimumAmount","type":"uint256"},
      {"name":"baselinePriorityFee","type":"uint256"},
      {"name":"scalingFactor","type":"uint256"},
      {"name":"salt","type":"bytes32"}
    ]},
    {"name":"amount","type":"uint256"}
  ],"outputs":[{"name":"dispensation","type":"uint256"}]},
  {"type":"function","name":"deriveMandateHash","stateMutability":"view","inputs":[
    {"name":"mandate","type":"tuple","components":[
      {"name":"chainId","type":"uint256"},
      {"name":"tribunal","type":"address"},
      {"name":"recipient","type":"address"},
      {"name":"expires","type":"uint256"},
      {"name":"token","type":"address"},
      {"name":"minimumAmount","type":"uint256"},
      {"name":"baselinePriorityFee","type":"uint256"},
      {"name":"scalingFactor","type":"uint256"},
      {"name":"salt","type":"bytes32"}
    ]}
  ],"outputs":[{"name":"witnessHash","type":"bytes32"}]}
]`

type mandateTuple struct {
	ChainId             *big.Int
	Tribunal            common.Address
	Recipient           common.Address
	Expires             *big.Int
	Token               common.Address
	MinimumAmount       *big.Int
	BaselinePriorityFee *big.Int
	ScalingFactor       *big.Int
	Salt                [32]byte
}

func toTuple(m quote.Mandate) mandateTuple {
	return mandateTuple{
		ChainId:             m.ChainID,
		Tribunal:            m.Tribunal,
		Recipient:           m.Recipient,
		Expires:             m.Expires,
		Token:               m.Token,
		MinimumAmount:       m.MinimumAmount,
		BaselinePriorityFee: m.BaselinePriorityFee,
		ScalingFactor:       m.ScalingFactor,
		Salt:                m.Salt,
	}
}

// EthClient is the subset of *ethclient.Client the tribunal client needs;
// tests substitute a fake over this interface instead of dialing real RPC.
type EthClient interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Dialer abstracts ethclient.DialContext so tests can avoid real network dials.
type Dialer func(ctx context.Context, rawurl string) (EthClient, error)

func defaultDial(ctx context.Context, rawurl string) (EthClient, error) {
	return ethclient.DialContext(ctx, rawurl)
}

// Client is the TribunalClient implementation (C3). RPC clients are dialed
// lazily, one per chain, and reused across requests.
type Client struct {
	chains map[uint32]ChainSpec
	dial   Dialer
	tracer trace.Tracer
	abi    abi.ABI

	mu      sync.Mutex
	clients map[uint32]EthClient
}

// New constructs a tribunal Client over the given static chain table.
func New(chains map[uint32]ChainSpec) (*Client, error) {
	return NewWithDialer(chains, defaultDial)
}

// NewWithDialer is New with an injectable Dialer, letting callers (tests,
// other packages' tests) substitute a fake EthClient instead of dialing a
// real RPC endpoint.
func NewWithDialer(chains map[uint32]ChainSpec, dial Dialer) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(tribunalABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse tribunal abi: %w", err)
	}
	return &Client{
		chains:  chains,
		dial:    dial,
		tracer:  otel.Tracer("quoted/tribunal"),
		abi:     parsed,
		clients: make(map[uint32]EthClient),
	}, nil
}

func (c *Client) spec(destChainID uint32) (ChainSpec, error) {
	spec, ok := c.chains[destChainID]
	if !ok {
		return ChainSpec{}, fmt.Errorf("%w: %d", ErrUnsupportedTribunalChain, destChainID)
	}
	return spec, nil
}

func (c *Client) dialChain(ctx context.Context, destChainID uint32) (EthClient, ChainSpec, error) {
	spec, err := c.spec(destChainID)
	if err != nil {
		return nil, ChainSpec{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.clients[destChainID]; ok {
		return existing, spec, nil
	}
	eth, err := c.dial(ctx, spec.RPCURL)
	if err != nil {
		return nil, ChainSpec{}, fmt.Errorf("%w: dial %s: %v", ErrRPC, spec.RPCURL, err)
	}
	c.clients[destChainID] = eth
	return eth, spec, nil
}

func (c *Client) callMsg(ctx context.Context, eth EthClient, destChainID uint32, tribunal common.Address, data []byte) (ethereum.CallMsg, error) {
	msg := ethereum.CallMsg{To: &tribunal, Data: data}
	if destChainID == baseChainID {
		header, err := eth.HeaderByNumber(ctx, nil)
		if err != nil {
			return msg, fmt.Errorf("%w: fetch base header: %v", ErrRPC, err)
		}
		if header.BaseFee != nil {
			msg.Gas = elevatedGasLimit
			msg.GasPrice = new(big.Int).Mul(header.BaseFee, big.NewInt(2))
		}
	}
	return msg, nil
}

// SimulateDispensation performs the view call that returns the wei amount
// the tribunal charges to relay/settle the mandate.
func (c *Client) SimulateDispensation(ctx context.Context, destChainID uint32, claimant common.Address, mandate quote.Mandate, amount *big.Int) (*big.Int, error) {
	ctx, span := c.tracer.Start(ctx, "tribunal.simulate_dispensation", trace.WithAttributes(
		attribute.Int64("chain_id", int64(destChainID)),
	))
	defer span.End()

	eth, spec, err := c.dialChain(ctx, destChainID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	data, err := c.abi.Pack("quote", claimant, toTuple(mandate), amount)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: encode quote call: %v", ErrRPC, err)
	}

	msg, err := c.callMsg(ctx, eth, destChainID, spec.TribunalAddress, data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	result, err := eth.CallContract(ctx, msg, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrRPC, err)
	}

	outputs, err := c.abi.Unpack("quote", result)
	if err != nil || len(outputs) != 1 {
		err := fmt.Errorf("%w: decode quote result: %v", ErrRPC, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	dispensation, ok := outputs[0].(*big.Int)
	if !ok {
		err := fmt.Errorf("%w: unexpected quote result type", ErrRPC)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return dispensation, nil
}

// DeriveMandateHash performs the view call used only by the test/debug path
// to cross-check the locally computed witness hash (see internal/witness).
func (c *Client) DeriveMandateHash(ctx context.Context, destChainID uint32, mandate quote.Mandate) ([32]byte, error) {
	ctx, span := c.tracer.Start(ctx, "tribunal.derive_mandate_hash", trace.WithAttributes(
		attribute.Int64("chain_id", int64(destChainID)),
	))
	defer span.End()

	eth, spec, err := c.dialChain(ctx, destChainID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return [32]byte{}, err
	}

	data, err := c.abi.Pack("deriveMandateHash", toTuple(mandate))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return [32]byte{}, fmt.Errorf("%w: encode deriveMandateHash call: %v", ErrRPC, err)
	}

	msg, err := c.callMsg(ctx, eth, destChainID, spec.TribunalAddress, data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return [32]byte{}, err
	}

	result, err := eth.CallContract(ctx, msg, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return [32]byte{}, fmt.Errorf("%w: %v", ErrRPC, err)
	}

	outputs, err := c.abi.Unpack("deriveMandateHash", result)
	if err != nil || len(outputs) != 1 {
		err := fmt.Errorf("%w: decode deriveMandateHash result: %v", ErrRPC, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return [32]byte{}, err
	}
	hashBytes, ok := outputs[0].([32]byte)
	if !ok {
		err := fmt.Errorf("%w: unexpected deriveMandateHash result type", ErrRPC)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return [32]byte{}, err
	}

	span.SetStatus(codes.Ok, "")
	return hashBytes, nil
}
