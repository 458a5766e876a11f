// Package router implements the RouteQuoter component: an indicative,
// Uniswap-style routing quoter that composes same-chain and cross-chain
// (via a native-token intermediate leg) quotes, and refines a cross-chain
// quote once the tribunal's dispensation is known.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// ErrUnavailable is returned when an upstream router call fails.
var ErrUnavailable = errors.New("route unavailable")

// ErrDispensationExceedsIntermediate is returned when the dispensation is at
// least the intermediate native-token amount it would be deducted from.
var ErrDispensationExceedsIntermediate = errors.New("dispensation exceeds intermediate amount")

// HTTPDoer is the minimal HTTP seam, matching internal/oracle's.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures the router client.
type Config struct {
	Endpoint          string
	APIKey            string
	RequestsPerSecond float64
	Burst             int
}

func (c Config) withDefaults() Config {
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 5
	}
	if c.Burst <= 0 {
		c.Burst = 5
	}
	return c
}

// Client is the RouteQuoter implementation (C2).
type Client struct {
	httpClient HTTPDoer
	cfg        Config
	limiter    *rate.Limiter
	tracer     trace.Tracer
}

// New constructs a router Client.
func New(httpClient HTTPDoer, cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		httpClient: httpClient,
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		tracer:     otel.Tracer("quoted/router"),
	}
}

func isNative(addr common.Address) bool {
	return addr == (common.Address{})
}

// routingCase classifies a (srcChain, dstChain, tokenIn, tokenOut) request
// into one of the routing shapes quoteLeg composition can handle: a single
// same-chain leg, or a cross-chain route via a native-token intermediate
// leg, further split by which side (if either) is already native.
type routingCase int

const (
	caseSameChain routingCase = iota
	caseCrossBothNonNative
	caseCrossNativeInOnly
	caseCrossNativeOutOnly
	caseCrossBothNative
)

func classify(srcChain, dstChain uint32, tokenIn, tokenOut common.Address) routingCase {
	if srcChain == dstChain {
		return caseSameChain
	}
	switch {
	case isNative(tokenIn) && isNative(tokenOut):
		return caseCrossBothNative
	case isNative(tokenIn):
		return caseCrossNativeInOnly
	case isNative(tokenOut):
		return caseCrossNativeOutOnly
	default:
		return caseCrossBothNonNative
	}
}

// Session carries the state a phase-1 Quote call must remember so a later
// Refine call can re-run just the output-side leg with a known dispensation,
// without re-deriving the routing case.
type Session struct {
	class        routingCase
	dstChain     uint32
	tokenOut     common.Address
	intermediate *big.Int // native-token amount available to the output leg
	direct       *big.Int
}

// Quote runs the phase-1 (dispensation-free) routing quote across the
// routing cases classify recognizes, returning the direct output amount
// (with net==direct, since no dispensation is known yet) and a Session that
// Refine can later use to compute net once the tribunal quotes a
// dispensation.
func (c *Client) Quote(ctx context.Context, srcChain, dstChain uint32, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, *Session, error) {
	ctx, span := c.tracer.Start(ctx, "router.quote", trace.WithAttributes(
		attribute.Int64("src_chain", int64(srcChain)),
		attribute.Int64("dst_chain", int64(dstChain)),
	))
	defer span.End()

	class := classify(srcChain, dstChain, tokenIn, tokenOut)
	switch class {
	case caseSameChain:
		// Cases 1 & 2: one leg, regardless of whether either side is native.
		out, err := c.quoteLeg(ctx, srcChain, tokenIn, tokenOut, amountIn)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, nil, err
		}
		span.SetStatus(codes.Ok, "")
		return out, &Session{class: class, direct: out}, nil

	case caseCrossBothNonNative:
		// Case 3: input->native_src, then native_dst->output sized to the
		// first leg's output.
		intermediate, err := c.quoteLeg(ctx, srcChain, tokenIn, common.Address{}, amountIn)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, nil, err
		}
		direct, err := c.quoteLeg(ctx, dstChain, common.Address{}, tokenOut, intermediate)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, nil, err
		}
		span.SetStatus(codes.Ok, "")
		return direct, &Session{class: class, dstChain: dstChain, tokenOut: tokenOut, intermediate: intermediate, direct: direct}, nil

	case caseCrossNativeInOnly:
		// Case 4: amountIn is already native on the source side; one
		// output-side leg at full size gives direct.
		direct, err := c.quoteLeg(ctx, dstChain, common.Address{}, tokenOut, amountIn)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, nil, err
		}
		span.SetStatus(codes.Ok, "")
		return direct, &Session{class: class, dstChain: dstChain, tokenOut: tokenOut, intermediate: amountIn, direct: direct}, nil

	case caseCrossNativeOutOnly:
		// Case 5: input->native_src is the only leg; direct = I.out.
		intermediate, err := c.quoteLeg(ctx, srcChain, tokenIn, common.Address{}, amountIn)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, nil, err
		}
		span.SetStatus(codes.Ok, "")
		return intermediate, &Session{class: class, intermediate: intermediate, direct: intermediate}, nil

	default: // caseCrossBothNative
		// Case 6: no router call at all; direct = amountIn.
		span.SetStatus(codes.Ok, "")
		return amountIn, &Session{class: class, intermediate: amountIn, direct: amountIn}, nil
	}
}

// Refine computes the post-dispensation "net" amount for a session produced
// by Quote. Same-chain sessions have no dispensation leg and simply return
// direct unchanged.
func (c *Client) Refine(ctx context.Context, sess *Session, dispensation *big.Int) (*big.Int, error) {
	if sess == nil {
		return nil, fmt.Errorf("router: nil session")
	}
	if dispensation == nil {
		dispensation = big.NewInt(0)
	}

	switch sess.class {
	case caseSameChain:
		return sess.direct, nil

	case caseCrossBothNonNative, caseCrossNativeInOnly:
		if dispensation.Sign() == 0 {
			return sess.direct, nil
		}
		if dispensation.Cmp(sess.intermediate) >= 0 {
			return nil, ErrDispensationExceedsIntermediate
		}
		size := new(big.Int).Sub(sess.intermediate, dispensation)
		return c.quoteLeg(ctx, sess.dstChain, common.Address{}, sess.tokenOut, size)

	case caseCrossNativeOutOnly, caseCrossBothNative:
		if dispensation.Cmp(sess.intermediate) >= 0 {
			return nil, ErrDispensationExceedsIntermediate
		}
		return new(big.Int).Sub(sess.intermediate, dispensation), nil

	default:
		return sess.direct, nil
	}
}

// Intermediate exposes the native-token leg size a Refine call deducts the
// dispensation from (zero for same-chain sessions).
func (s *Session) Intermediate() *big.Int {
	if s == nil || s.intermediate == nil {
		return big.NewInt(0)
	}
	return s.intermediate
}

type legRequest struct {
	ChainID   uint32 `json:"chainId"`
	TokenIn   string `json:"tokenIn"`
	TokenOut  string `json:"tokenOut"`
	AmountIn  string `json:"amountIn"`
}

type legResponse struct {
	OutputAmount string `json:"outputAmount"`
}

func (c *Client) quoteLeg(ctx context.Context, chainID uint32, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(legRequest{
		ChainID:  chainID,
		TokenIn:  tokenIn.Hex(),
		TokenOut: tokenOut.Hex(),
		AmountIn: amountIn.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/quote", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %s", ErrUnavailable, resp.Status)
	}

	var out legResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	amount, ok := new(big.Int).SetString(out.OutputAmount, 10)
	if !ok {
		return nil, fmt.Errorf("%w: malformed outputAmount %q", ErrUnavailable, out.OutputAmount)
	}
	return amount, nil
}
