// Package oracle implements a CoinGecko-backed USD price source with
// process-global TTL caches for platform ids, token metadata and prices,
// behind a minimal HTTPDoer seam so callers can substitute a stub HTTP
// client in tests.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// ErrUnavailable wraps any API-layer failure; the pipeline treats it as
// "no spot price" rather than a fatal error.
var ErrUnavailable = errors.New("oracle unavailable")

// ErrUnsupportedChain is returned when chainId has no configured platform.
var ErrUnsupportedChain = errors.New("unsupported chain")

// HTTPDoer is the minimal HTTP seam, satisfied by *http.Client and easily
// stubbed with httptest in tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenInfo is the looked-up decimals/symbol pair for a token.
type TokenInfo struct {
	Decimals uint8
	Symbol   string
}

var nativeTokenInfo = TokenInfo{Decimals: 18, Symbol: "ETH"}

// Config configures the oracle's endpoints and cache lifetimes.
type Config struct {
	Endpoint         string
	APIKey           string
	PriceTTL         time.Duration // default 30s
	TokenInfoTTL     time.Duration // default 24h
	RequestsPerSecond float64      // outbound throttle toward the upstream API
	Burst             int
}

func (c Config) withDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = "https://api.coingecko.com/api/v3"
	}
	if c.PriceTTL <= 0 {
		c.PriceTTL = 30 * time.Second
	}
	if c.TokenInfoTTL <= 0 {
		c.TokenInfoTTL = 24 * time.Hour
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 5
	}
	if c.Burst <= 0 {
		c.Burst = 5
	}
	return c
}

type cacheEntry struct {
	fetchedAt time.Time
	price     *big.Int
	info      TokenInfo
}

// Oracle is the UsdOracle implementation (C1).
type Oracle struct {
	client  HTTPDoer
	cfg     Config
	limiter *rate.Limiter
	tracer  trace.Tracer

	chainToPlatform map[uint32]string

	mu          sync.Mutex
	platforms   map[string]struct{}
	platformsAt time.Time
	tokenInfo   map[string]cacheEntry
	usdPrices   map[string]cacheEntry
}

// New constructs an Oracle. chainToPlatform is the static chainId -> CoinGecko
// platform-id table (e.g. 1 -> "ethereum", 10 -> "optimistic-ethereum").
func New(client HTTPDoer, cfg Config, chainToPlatform map[uint32]string) *Oracle {
	cfg = cfg.withDefaults()
	return &Oracle{
		client:          client,
		cfg:             cfg,
		limiter:         rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		tracer:          otel.Tracer("quoted/oracle"),
		chainToPlatform: chainToPlatform,
		tokenInfo:       make(map[string]cacheEntry),
		usdPrices:       make(map[string]cacheEntry),
	}
}

// ChainToPlatform maps a chainId to its CoinGecko platform id.
func (o *Oracle) ChainToPlatform(chainID uint32) (string, error) {
	platform, ok := o.chainToPlatform[chainID]
	if !ok {
		return "", fmt.Errorf("%w: chain %d", ErrUnsupportedChain, chainID)
	}
	return platform, nil
}

// Platforms fetches the supported asset-platform set once per process and
// caches it indefinitely.
func (o *Oracle) Platforms(ctx context.Context) (map[string]struct{}, error) {
	o.mu.Lock()
	if o.platforms != nil {
		defer o.mu.Unlock()
		return o.platforms, nil
	}
	o.mu.Unlock()

	ctx, span := o.tracer.Start(ctx, "oracle.platforms")
	defer span.End()

	var payload []struct {
		ID string `json:"id"`
	}
	if err := o.get(ctx, "/asset_platforms", nil, &payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	set := make(map[string]struct{}, len(payload))
	for _, p := range payload {
		set[p.ID] = struct{}{}
	}

	o.mu.Lock()
	o.platforms = set
	o.platformsAt = time.Now()
	o.mu.Unlock()

	span.SetStatus(codes.Ok, "")
	return set, nil
}

// TokenInfo returns the decimals/symbol of a token, TTL 24h. The zero address
// is treated as the chain's native asset.
func (o *Oracle) TokenInfo(ctx context.Context, chainID uint32, address common.Address) (TokenInfo, error) {
	if address == (common.Address{}) {
		return nativeTokenInfo, nil
	}

	key := cacheKey(chainID, address)
	o.mu.Lock()
	if entry, ok := o.tokenInfo[key]; ok && time.Since(entry.fetchedAt) < o.cfg.TokenInfoTTL {
		o.mu.Unlock()
		return entry.info, nil
	}
	o.mu.Unlock()

	ctx, span := o.tracer.Start(ctx, "oracle.token_info", trace.WithAttributes(
		attribute.Int64("chain_id", int64(chainID)),
		attribute.String("address", address.Hex()),
	))
	defer span.End()

	platform, err := o.ChainToPlatform(chainID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return TokenInfo{}, err
	}

	var payload struct {
		Symbol   string `json:"symbol"`
		Decimals *int   `json:"decimal_place"`
		Detail   struct {
			DecimalPlace *int `json:"decimal_place"`
		} `json:"detail_platforms"`
	}
	path := fmt.Sprintf("/coins/%s/contract/%s", platform, strings.ToLower(address.Hex()))
	if err := o.get(ctx, path, nil, &payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return TokenInfo{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	decimals := 18
	if payload.Decimals != nil {
		decimals = *payload.Decimals
	}
	info := TokenInfo{Decimals: uint8(decimals), Symbol: strings.ToUpper(payload.Symbol)}

	o.mu.Lock()
	o.tokenInfo[key] = cacheEntry{fetchedAt: time.Now(), info: info}
	o.mu.Unlock()

	span.SetStatus(codes.Ok, "")
	return info, nil
}

// UsdPrice returns the token's USD price as an 18-decimal fixed-point
// integer (floor(usd * 10^18)), TTL per-config (default 30s).
func (o *Oracle) UsdPrice(ctx context.Context, chainID uint32, address common.Address) (*big.Int, error) {
	key := cacheKey(chainID, address)
	o.mu.Lock()
	if entry, ok := o.usdPrices[key]; ok && time.Since(entry.fetchedAt) < o.cfg.PriceTTL {
		o.mu.Unlock()
		return entry.price, nil
	}
	o.mu.Unlock()

	ctx, span := o.tracer.Start(ctx, "oracle.usd_price", trace.WithAttributes(
		attribute.Int64("chain_id", int64(chainID)),
		attribute.String("address", address.Hex()),
	))
	defer span.End()

	platform, err := o.ChainToPlatform(chainID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	contract := strings.ToLower(address.Hex())
	path := fmt.Sprintf("/simple/token_price/%s", platform)
	query := map[string]string{
		"contract_addresses": contract,
		"vs_currencies":       "usd",
	}
	var payload map[string]map[string]json.Number
	if err := o.get(ctx, path, query, &payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	entry, ok := payload[contract]
	if !ok {
		err := fmt.Errorf("%w: no price for %s", ErrUnavailable, contract)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	usd, ok := entry["usd"]
	if !ok {
		err := fmt.Errorf("%w: missing usd field for %s", ErrUnavailable, contract)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	priceWei, err := toWeiFloor(usd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	o.mu.Lock()
	o.usdPrices[key] = cacheEntry{fetchedAt: time.Now(), price: priceWei}
	o.mu.Unlock()

	span.SetStatus(codes.Ok, "")
	return priceWei, nil
}

var weiPerUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// toWeiFloor computes floor(usd * 10^18) without float rounding error by
// working over big.Rat, matching native/swap/oracle.go's big.Rat price
// representation.
func toWeiFloor(usd json.Number) (*big.Int, error) {
	rat, ok := new(big.Rat).SetString(usd.String())
	if !ok {
		return nil, fmt.Errorf("parse usd price %q", usd.String())
	}
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(weiPerUnit))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom()), nil
}

func cacheKey(chainID uint32, address common.Address) string {
	return fmt.Sprintf("%d:%s", chainID, strings.ToLower(address.Hex()))
}

func (o *Oracle) get(ctx context.Context, path string, query map[string]string, out interface{}) error {
	if err := o.limiter.Wait(ctx); err != nil {
		return err
	}

	url := o.cfg.Endpoint + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	if o.cfg.APIKey != "" {
		q.Set("x_cg_api_key", o.cfg.APIKey)
	}
	req.URL.RawQuery = q.Encode()

	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	return decoder.Decode(out)
}

// ParseDecimalAmount parses a decimal-string base-unit amount, returning an
// error instead of panicking (used on the request path).
func ParseDecimalAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal amount %q", s)
	}
	return v, nil
}

// FormatDecimalAmount renders a big integer as a base-10 string, or "0" for nil.
func FormatDecimalAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
