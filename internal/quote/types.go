// Package quote holds the request/response data model shared by the quote
// pipeline and its collaborators: token references, lock parameters, the
// mandate/compact claim payload, and the errors the pipeline surfaces to the
// HTTP layer.
package quote

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Sentinel errors. The HTTP layer (internal/api) maps each of these to a
// 400 response with its own message.
var (
	ErrInvalidLockParameters = errors.New("Reset period must be between 0 and 7")
	ErrExpiresOrderViolation = errors.New("fillExpires must be before claimExpires")
	ErrSchemaViolation       = errors.New("schema violation")
)

// TokenRef identifies a token on a specific chain. Decimals and symbol are
// looked up from the oracle, never trusted from the request.
type TokenRef struct {
	ChainID uint32
	Address common.Address
}

// LockParameters are the sponsor's resource-lock configuration.
type LockParameters struct {
	AllocatorID  *big.Int
	ResetPeriod  uint8
	IsMultichain bool
}

// Validate enforces the resetPeriod invariant.
func (l LockParameters) Validate() error {
	if l.ResetPeriod > 7 {
		return ErrInvalidLockParameters
	}
	return nil
}

// Context carries the optional, per-request overrides of mandate defaults.
type Context struct {
	SlippageBips        uint16
	Recipient            common.Address
	BaselinePriorityFee *big.Int
	ScalingFactor        *big.Int
	FillExpires          int64
	ClaimExpires         int64
}

// DefaultSlippageBips is applied when the request omits context.slippageBips.
const DefaultSlippageBips = 100

// DefaultScalingFactor is applied when the request omits context.scalingFactor.
var DefaultScalingFactor = mustBigInt("1000000000100000000")

// DefaultFillExpiresWindow is the duration added to "now" when neither
// fillExpires nor claimExpires is supplied.
const DefaultFillExpiresWindow = time.Hour

func mustBigInt(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("quote: invalid default big.Int literal " + s)
	}
	return v
}

// Normalize fills in context defaults and validates the fillExpires/claimExpires
// ordering invariant. sponsor is used as the default recipient; now is injected
// so callers (and tests) control the clock.
func (c Context) Normalize(sponsor common.Address, now time.Time) (Context, error) {
	out := c
	if out.SlippageBips == 0 {
		out.SlippageBips = DefaultSlippageBips
	}
	if (out.Recipient == common.Address{}) {
		out.Recipient = sponsor
	}
	if out.BaselinePriorityFee == nil {
		out.BaselinePriorityFee = big.NewInt(0)
	}
	if out.ScalingFactor == nil {
		out.ScalingFactor = new(big.Int).Set(DefaultScalingFactor)
	}
	if out.FillExpires == 0 {
		if out.ClaimExpires != 0 {
			// Derive a fill window strictly before the supplied claim expiry.
			out.FillExpires = out.ClaimExpires - int64(DefaultFillExpiresWindow/time.Second)
			if out.FillExpires <= 0 {
				out.FillExpires = now.Unix()
			}
		} else {
			out.FillExpires = now.Add(DefaultFillExpiresWindow).Unix()
		}
	}
	if out.ClaimExpires == 0 {
		out.ClaimExpires = now.Add(DefaultFillExpiresWindow).Unix()
		if out.ClaimExpires <= out.FillExpires {
			out.ClaimExpires = out.FillExpires + int64(DefaultFillExpiresWindow/time.Second)
		}
	}
	if out.FillExpires >= out.ClaimExpires {
		return Context{}, ErrExpiresOrderViolation
	}
	return out, nil
}

// Request is the fully-parsed quote request.
type Request struct {
	Sponsor      common.Address
	InputToken   TokenRef
	InputAmount  *big.Int
	OutputToken  TokenRef
	Lock         LockParameters
	Context      Context
}

// PriceSource enumerates where a PriceSample came from.
type PriceSource int

const (
	SourceOracle PriceSource = iota
	SourceRouter
)

// PriceSample is an 18-decimal fixed point price reading.
type PriceSample struct {
	PriceWei  *big.Int
	Source    PriceSource
	FetchedAt time.Time
}

// RouteQuote is the routing quoter's output: direct (pre-dispensation) and
// net (post-dispensation, always <= direct) amounts of the output token.
type RouteQuote struct {
	Direct *big.Int
	Net    *big.Int
}

// Mandate is the destination-side parameter bundle a filler must satisfy.
type Mandate struct {
	ChainID             *big.Int
	Tribunal            common.Address
	Recipient           common.Address
	Expires             *big.Int
	Token               common.Address
	MinimumAmount       *big.Int
	BaselinePriorityFee *big.Int
	ScalingFactor       *big.Int
	Salt                [32]byte
}

// Values returns the mandate's fields keyed by the names the witness codec
// expects, ready to hand to witness.Schema.StructHash.
func (m Mandate) Values() map[string]interface{} {
	return map[string]interface{}{
		"chainId":             m.ChainID,
		"tribunal":            m.Tribunal,
		"recipient":           m.Recipient,
		"expires":             m.Expires,
		"token":                m.Token,
		"minimumAmount":       m.MinimumAmount,
		"baselinePriorityFee": m.BaselinePriorityFee,
		"scalingFactor":       m.ScalingFactor,
		"salt":                m.Salt,
	}
}

// Compact is the full claim payload the sponsor signs; Nonce is always null.
type Compact struct {
	Arbiter       common.Address
	Tribunal      common.Address
	Sponsor       common.Address
	Expires       *big.Int
	ID            *big.Int
	Amount        *big.Int
	MaximumAmount *big.Int
	Mandate       Mandate
}

// Response is the fully assembled answer to a quote request. Amount-shaped
// fields are *big.Int so the HTTP layer can render them as decimal strings;
// nil means the pipeline couldn't resolve that particular signal (e.g. the
// spot price when the oracle is down) without failing the whole request.
type Response struct {
	Compact Compact

	SpotOutputAmount         *big.Int
	QuoteOutputAmountDirect  *big.Int
	QuoteOutputAmountNet     *big.Int
	DeltaAmount              *big.Int
	TribunalQuote            *big.Int
	// TribunalQuoteUSD is wei-scaled (18-decimal fixed point), like every
	// other amount in the response; the HTTP layer divides by 10^18 and
	// formats it as "$X.XXXX".
	TribunalQuoteUSD         *big.Int
	WitnessHash              [32]byte
}
