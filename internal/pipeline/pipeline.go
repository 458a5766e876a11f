// Package pipeline implements the QuotePipeline component: it orchestrates
// the oracle, router, tribunal, registry and codec collaborators into the
// nine-step quote algorithm, tolerating partial failures in the spot and
// routed-quote signals while surfacing invalid-input and registry errors.
package pipeline

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nhbchain/quoted/internal/arbiter"
	"github.com/nhbchain/quoted/internal/compactid"
	"github.com/nhbchain/quoted/internal/oracle"
	"github.com/nhbchain/quoted/internal/quote"
	"github.com/nhbchain/quoted/internal/router"
	"github.com/nhbchain/quoted/internal/tribunal"
	"github.com/nhbchain/quoted/observability"
)

// mainnetChainID is where ETH-USD is looked up for the dispensation's dollar
// display, regardless of which chain actually pays the dispensation.
const mainnetChainID uint32 = 1

const bipsDenominator = 10000

// Pipeline is the QuotePipeline implementation (C7).
type Pipeline struct {
	oracle   *oracle.Oracle
	router   *router.Client
	tribunal *tribunal.Client
	registry *arbiter.Registry
	metrics  *observability.PipelineMetrics
	tracer   trace.Tracer
	now      func() time.Time
}

// New wires the pipeline's collaborators together.
func New(o *oracle.Oracle, r *router.Client, t *tribunal.Client, reg *arbiter.Registry) *Pipeline {
	return &Pipeline{
		oracle:   o,
		router:   r,
		tribunal: t,
		registry: reg,
		metrics:  observability.Pipeline(),
		tracer:   otel.Tracer("quoted/pipeline"),
		now:      time.Now,
	}
}

func (p *Pipeline) timedStep(operation string, start time.Time, err error) {
	p.metrics.Observe(operation, time.Since(start), err)
}

// Quote validates the request, looks up the chain-pair registry entry,
// packs the lock id, resolves an indicative spot price and a routed quote
// with its tribunal dispensation, then assembles the signable compact and
// its witness hash.
func (p *Pipeline) Quote(ctx context.Context, req quote.Request) (quote.Response, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.quote", trace.WithAttributes(
		attribute.Int64("src_chain", int64(req.InputToken.ChainID)),
		attribute.Int64("dst_chain", int64(req.OutputToken.ChainID)),
	))
	defer span.End()

	if err := req.Lock.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return quote.Response{}, err
	}

	normalizedCtx, err := req.Context.Normalize(req.Sponsor, p.now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return quote.Response{}, err
	}
	req.Context = normalizedCtx

	entry, err := p.registry.Lookup(req.InputToken.ChainID, req.OutputToken.ChainID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return quote.Response{}, err
	}

	packedID, err := compactid.Pack(compactid.Fields{
		IsMultichain: req.Lock.IsMultichain,
		ResetPeriod:  req.Lock.ResetPeriod,
		AllocatorID:  req.Lock.AllocatorID,
		InputToken:   req.InputToken.Address,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return quote.Response{}, err
	}

	salt, err := randomSalt()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return quote.Response{}, fmt.Errorf("generate mandate salt: %w", err)
	}

	spot, spotErr := p.resolveSpot(ctx, req)
	if spotErr != nil {
		span.RecordError(spotErr)
		span.SetStatus(codes.Error, spotErr.Error())
		return quote.Response{}, spotErr
	}
	if spot == nil {
		p.metrics.RecordPartialResult("spot")
	}

	direct, net, dispensation, mandate := p.resolveRoute(ctx, req, entry, salt)
	if direct == nil {
		p.metrics.RecordPartialResult("route")
		zero := big.NewInt(0)
		fallback := entry.BuildMandate(zero, req.Context, entry.Tribunal, req.OutputToken.ChainID, req.OutputToken.Address, salt)
		mandate = &fallback
	}

	finalAmount := net
	if finalAmount == nil {
		finalAmount = direct
	}

	var delta *big.Int
	if spot != nil && finalAmount != nil {
		delta = new(big.Int).Sub(finalAmount, spot)
	}

	var tribunalQuoteUSD *big.Int
	if dispensation != nil {
		start := p.now()
		ethUsdWei, err := p.oracle.UsdPrice(ctx, mainnetChainID, common.Address{})
		p.timedStep("tribunal_quote_usd", start, err)
		if err == nil {
			tribunalQuoteUSD = scaleByWei(dispensation, ethUsdWei)
		}
	}

	witnessHash, err := entry.Schema.StructHash(mandate.Values())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return quote.Response{}, err
	}

	maximumAmount := finalAmount
	if maximumAmount == nil {
		maximumAmount = big.NewInt(0)
	}
	compact := quote.Compact{
		Arbiter:       entry.Address,
		Tribunal:      entry.Tribunal,
		Sponsor:       req.Sponsor,
		Expires:       big.NewInt(req.Context.ClaimExpires),
		ID:            packedID.ToBig(),
		Amount:        req.InputAmount,
		MaximumAmount: maximumAmount,
		Mandate:       *mandate,
	}

	if dispensation != nil {
		p.metrics.RecordDispensation(req.InputToken.ChainID, req.OutputToken.ChainID, dispensation)
	}

	span.SetStatus(codes.Ok, "")
	return quote.Response{
		Compact:                 compact,
		SpotOutputAmount:        spot,
		QuoteOutputAmountDirect: direct,
		QuoteOutputAmountNet:    net,
		DeltaAmount:             delta,
		TribunalQuote:           dispensation,
		TribunalQuoteUSD:        tribunalQuoteUSD,
		WitnessHash:             witnessHash,
	}, nil
}

// resolveSpot attempts the two USD-price lookups and the decimal lookups
// concurrently (step 1 & 2). A transient oracle failure yields spot=nil
// without error; an unsupported-chain failure on the request's own chains is
// fatal and returned as an error.
func (p *Pipeline) resolveSpot(ctx context.Context, req quote.Request) (*big.Int, error) {
	var wg sync.WaitGroup
	var inInfo, outInfo oracle.TokenInfo
	var inPrice, outPrice *big.Int
	var inErr, outErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		start := p.now()
		info, err := p.oracle.TokenInfo(ctx, req.InputToken.ChainID, req.InputToken.Address)
		if err == nil {
			price, priceErr := p.oracle.UsdPrice(ctx, req.InputToken.ChainID, req.InputToken.Address)
			inPrice, inInfo = price, info
			err = priceErr
		}
		p.timedStep("spot_input", start, err)
		inErr = err
	}()
	go func() {
		defer wg.Done()
		start := p.now()
		info, err := p.oracle.TokenInfo(ctx, req.OutputToken.ChainID, req.OutputToken.Address)
		if err == nil {
			price, priceErr := p.oracle.UsdPrice(ctx, req.OutputToken.ChainID, req.OutputToken.Address)
			outPrice, outInfo = price, info
			err = priceErr
		}
		p.timedStep("spot_output", start, err)
		outErr = err
	}()
	wg.Wait()

	if isUnsupportedChain(inErr) {
		return nil, inErr
	}
	if isUnsupportedChain(outErr) {
		return nil, outErr
	}
	if inErr != nil || outErr != nil {
		return nil, nil
	}

	return computeSpot(req.InputAmount, inPrice, inInfo.Decimals, outPrice, outInfo.Decimals), nil
}

func isUnsupportedChain(err error) bool {
	return err != nil && errors.Is(err, oracle.ErrUnsupportedChain)
}

// computeSpot converts amountIn into the output token's units at the
// oracle's current USD prices:
// floor(amountIn * priceInWei * 10^decimalsOut / (10^decimalsIn * priceOutWei)).
func computeSpot(amountIn, priceInWei *big.Int, decimalsIn uint8, priceOutWei *big.Int, decimalsOut uint8) *big.Int {
	numerator := new(big.Int).Mul(amountIn, priceInWei)
	numerator.Mul(numerator, pow10(decimalsOut))
	denominator := new(big.Int).Mul(pow10(decimalsIn), priceOutWei)
	if denominator.Sign() == 0 {
		return nil
	}
	return new(big.Int).Quo(numerator, denominator)
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// resolveRoute runs the direct routed quote, the phase-1 provisional
// mandate and dispensation, the phase-2 net quote, and the phase-2
// dispensation refinement. minimumAmount is computed once from direct in
// phase 1 and carried unchanged into phase 2 and the final mandate — only
// the amount argument to the tribunal call changes between phases. A route
// failure returns a nil mandate so the caller can fall back to a
// zero-amount mandate.
func (p *Pipeline) resolveRoute(ctx context.Context, req quote.Request, entry arbiter.Entry, salt [32]byte) (direct, net, dispensation *big.Int, mandate *quote.Mandate) {
	start := p.now()
	directAmount, sess, routeErr := p.router.Quote(ctx, req.InputToken.ChainID, req.OutputToken.ChainID, req.InputToken.Address, req.OutputToken.Address, req.InputAmount)
	p.timedStep("direct_quote", start, routeErr)
	if routeErr != nil {
		return nil, nil, nil, nil
	}
	direct = directAmount

	minimumAmount := applySlippage(direct, req.Context.SlippageBips)
	built := entry.BuildMandate(minimumAmount, req.Context, entry.Tribunal, req.OutputToken.ChainID, req.OutputToken.Address, salt)
	mandate = &built

	start = p.now()
	dispensation1, tribErr := p.tribunal.SimulateDispensation(ctx, req.OutputToken.ChainID, req.Sponsor, built, direct)
	p.timedStep("dispensation_phase1", start, tribErr)
	if tribErr != nil {
		// Route signal is available; per the error taxonomy a tribunal RPC
		// failure is absorbed locally when another signal survives.
		return direct, direct, nil, mandate
	}

	start = p.now()
	netAmount, refineErr := p.router.Refine(ctx, sess, dispensation1)
	p.timedStep("net_quote", start, refineErr)
	switch {
	case errors.Is(refineErr, router.ErrDispensationExceedsIntermediate):
		return direct, big.NewInt(0), dispensation1, mandate
	case refineErr != nil:
		return direct, nil, dispensation1, mandate
	}
	net = netAmount

	start = p.now()
	dispensation2, tribErr2 := p.tribunal.SimulateDispensation(ctx, req.OutputToken.ChainID, req.Sponsor, built, net)
	p.timedStep("dispensation_phase2", start, tribErr2)
	if tribErr2 != nil {
		dispensation = dispensation1
	} else {
		dispensation = dispensation2
	}
	return direct, net, dispensation, mandate
}

// applySlippage computes direct * (10000 - bips) / 10000, clamped so a
// caller-supplied bips above the denominator floors the result at zero
// rather than overflowing negative.
func applySlippage(amount *big.Int, bips uint16) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	factor := bipsDenominator - int64(bips)
	if factor < 0 {
		factor = 0
	}
	scaled := new(big.Int).Mul(amount, big.NewInt(factor))
	return scaled.Quo(scaled, big.NewInt(bipsDenominator))
}

// scaleByWei computes dispensation * ethUsdWei / 10^18, an 18-decimal
// fixed-point value the HTTP layer formats as a dollar string.
func scaleByWei(dispensation, ethUsdWei *big.Int) *big.Int {
	product := new(big.Int).Mul(dispensation, ethUsdWei)
	return product.Quo(product, pow10(18))
}

func randomSalt() ([32]byte, error) {
	var salt [32]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return salt, err
	}
	return salt, nil
}
