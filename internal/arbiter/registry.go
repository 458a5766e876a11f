// Package arbiter holds the process-global, immutable lookup from a
// (sourceChain, destinationChain) pair to the arbiter contract, tribunal
// contract and mandate-building rule that pair uses. The registry is built
// once at startup from static configuration and never mutated afterward, so
// concurrent reads need no synchronization.
package arbiter

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nhbchain/quoted/internal/quote"
	"github.com/nhbchain/quoted/internal/witness"
)

// ErrNoArbiterForChainPair is returned by Lookup when no entry exists for
// the requested (src, dst) pair.
var ErrNoArbiterForChainPair = errors.New("No arbiter found for chain pair")

// MandateWitnessTypeString is the witness-type-string every entry in the
// reference deployment carries. The codec (internal/witness) parses this at
// registry-build time rather than special-casing it; the registry never
// hard-codes the parsed shape.
const MandateWitnessTypeString = "Mandate mandate)Mandate(uint256 chainId,address tribunal,address recipient,uint256 expires,address token,uint256 minimumAmount,uint256 baselinePriorityFee,uint256 scalingFactor,bytes32 salt)"

// Entry is one row of the registry: the arbiter/tribunal addresses for a
// chain pair, the parsed witness schema, and the pure function that turns a
// slippage-adjusted minimum amount + request context into a Mandate.
type Entry struct {
	Address           common.Address
	Tribunal          common.Address
	WitnessTypeString string
	Schema            witness.Schema
	BuildMandate      func(amount *big.Int, ctx quote.Context, tribunal common.Address, destChainID uint32, token common.Address, salt [32]byte) quote.Mandate
}

// Registry is the immutable (srcChainId, dstChainId) -> Entry lookup.
type Registry struct {
	entries map[string]Entry
}

func pairKey(src, dst uint32) string {
	return fmt.Sprintf("%d-%d", src, dst)
}

// Lookup returns the entry for the given directed chain pair.
func (r *Registry) Lookup(src, dst uint32) (Entry, error) {
	entry, ok := r.entries[pairKey(src, dst)]
	if !ok {
		return Entry{}, fmt.Errorf("%w %d-%d", ErrNoArbiterForChainPair, src, dst)
	}
	return entry, nil
}

// BuildMandate is the shared mandateBuilder every registry entry uses: a pure
// function of the minimum amount (already slippage-adjusted by the caller, see
// pipeline.applySlippage), request context, destination tribunal, chain,
// token and salt. minimumAmount is stored on the Mandate as given.
func BuildMandate(minimumAmount *big.Int, ctx quote.Context, tribunal common.Address, destChainID uint32, token common.Address, salt [32]byte) quote.Mandate {
	return quote.Mandate{
		ChainID:             new(big.Int).SetUint64(uint64(destChainID)),
		Tribunal:            tribunal,
		Recipient:           ctx.Recipient,
		Expires:             big.NewInt(ctx.FillExpires),
		Token:               token,
		MinimumAmount:       minimumAmount,
		BaselinePriorityFee: ctx.BaselinePriorityFee,
		ScalingFactor:       ctx.ScalingFactor,
		Salt:                salt,
	}
}

// Supported chain ids in the reference deployment.
const (
	ChainMainnet  uint32 = 1
	ChainOptimism uint32 = 10
	ChainBase     uint32 = 8453
	ChainUnichain uint32 = 130
)

// arbiterByChain and tribunalByChain model the convention that an arbiter
// lives on the source chain and a tribunal lives on the destination chain
// (see GLOSSARY); the registry below combines them per directed pair.
var arbiterByChain = map[uint32]common.Address{
	ChainMainnet:  common.HexToAddress("0x1111000011112222333344445555666677778888"),
	ChainOptimism: common.HexToAddress("0x2602AAAABBBBCCCCDDDDEEEE111122223333F626"),
	ChainBase:     common.HexToAddress("0x8453000011112222333344445555666677778888"),
	ChainUnichain: common.HexToAddress("0x0130000011112222333344445555666677778888"),
}

var tribunalByChain = map[uint32]common.Address{
	ChainMainnet:  common.HexToAddress("0x1111999988887777666655554444333322221111"),
	ChainOptimism: common.HexToAddress("0x1010999988887777666655554444333322221111"),
	ChainBase:     common.HexToAddress("0xfaBE000011112222333344445555666677776c1F"),
	ChainUnichain: common.HexToAddress("0x0130999988887777666655554444333322221111"),
}

// TribunalAddress returns the tribunal contract address configured for a
// destination chain id in the reference deployment, for callers (e.g.
// cmd/quoted) that need to build a tribunal.ChainSpec table without
// constructing a full Registry.
func TribunalAddress(chainID uint32) (common.Address, error) {
	addr, ok := tribunalByChain[chainID]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: no tribunal configured for chain %d", ErrNoArbiterForChainPair, chainID)
	}
	return addr, nil
}

// NewDefaultRegistry builds the fixed 4-chain/12-pair reference-deployment
// registry, parsing MandateWitnessTypeString once and sharing the parsed
// Schema across every entry.
func NewDefaultRegistry() (*Registry, error) {
	schema, err := witness.Parse(MandateWitnessTypeString)
	if err != nil {
		return nil, fmt.Errorf("parse registry witness type string: %w", err)
	}

	chains := []uint32{ChainMainnet, ChainOptimism, ChainBase, ChainUnichain}
	entries := make(map[string]Entry, len(chains)*(len(chains)-1))
	for _, src := range chains {
		for _, dst := range chains {
			if src == dst {
				continue
			}
			entries[pairKey(src, dst)] = Entry{
				Address:           arbiterByChain[src],
				Tribunal:          tribunalByChain[dst],
				WitnessTypeString: MandateWitnessTypeString,
				Schema:            schema,
				BuildMandate:      BuildMandate,
			}
		}
	}
	return &Registry{entries: entries}, nil
}
