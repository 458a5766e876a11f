// Package api implements the HTTP surface over the quote pipeline: a
// chi-routed server that decodes the quote request JSON, calls into
// internal/pipeline, and encodes the response (or a classified error) back
// out as JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nhbchain/quoted/internal/arbiter"
	"github.com/nhbchain/quoted/internal/oracle"
	"github.com/nhbchain/quoted/internal/quote"
	"github.com/nhbchain/quoted/internal/witness"
	"github.com/nhbchain/quoted/observability"
)

// Pipeline is the subset of *pipeline.Pipeline the HTTP layer depends on,
// letting tests substitute a stub instead of wiring real oracle/router/
// tribunal collaborators.
type Pipeline interface {
	Quote(ctx context.Context, req quote.Request) (quote.Response, error)
}

// Server hosts the quote HTTP surface.
type Server struct {
	pipeline Pipeline
	logger   *log.Logger
	metrics  *observability.APIMetrics
	now      func() time.Time
}

// New constructs a Server bound to the given pipeline.
func New(p Pipeline, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		pipeline: p,
		logger:   logger,
		metrics:  observability.API(),
		now:      time.Now,
	}
}

// Router builds the chi handler: POST /quote, GET /health, GET /metrics.
// The whole tree is wrapped in otelhttp so every request carries a server
// span, propagated from whatever trace context the caller sent in.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.instrument("health", s.handleHealth))
	r.Post("/quote", s.instrument("quote", s.handleQuote))
	r.Handle("/metrics", promhttp.Handler())
	return otelhttp.NewHandler(r, "quoted")
}

func (s *Server) instrument(route string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		requestID := r.Header.Get("X-Request-Id")
		if strings.TrimSpace(requestID) == "" {
			requestID = uuid.NewString()
		}
		recorder.Header().Set("X-Request-Id", requestID)
		handler(recorder, r)
		s.metrics.Observe(route, recorder.status, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": s.now().UnixMilli(),
	})
}

// lockParametersPayload mirrors the request body's lockParameters object.
type lockParametersPayload struct {
	AllocatorID  string `json:"allocatorId"`
	ResetPeriod  uint8  `json:"resetPeriod"`
	IsMultichain bool   `json:"isMultichain"`
}

// contextPayload mirrors the request body's optional context object.
type contextPayload struct {
	SlippageBips        uint16 `json:"slippageBips"`
	Recipient           string `json:"recipient"`
	BaselinePriorityFee string `json:"baselinePriorityFee"`
	ScalingFactor       string `json:"scalingFactor"`
	FillExpires         string `json:"fillExpires"`
	ClaimExpires        string `json:"claimExpires"`
}

// quoteRequestPayload mirrors the POST /quote body.
type quoteRequestPayload struct {
	Sponsor            string                `json:"sponsor"`
	InputTokenChainID  uint32                `json:"inputTokenChainId"`
	InputTokenAddress  string                `json:"inputTokenAddress"`
	InputTokenAmount   string                `json:"inputTokenAmount"`
	OutputTokenChainID uint32                `json:"outputTokenChainId"`
	OutputTokenAddress string                `json:"outputTokenAddress"`
	LockParameters     lockParametersPayload  `json:"lockParameters"`
	Context            *contextPayload        `json:"context"`
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var payload quoteRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := toRequest(payload)
	if err != nil {
		status, message := classifyError(err)
		writeError(w, status, message)
		return
	}

	resp, err := s.pipeline.Quote(r.Context(), req)
	if err != nil {
		status, message := classifyError(err)
		if status >= 500 {
			s.logger.Printf("quoted: internal error serving /quote: %v", err)
		}
		writeError(w, status, message)
		return
	}

	writeJSON(w, http.StatusOK, toResponsePayload(resp))
}

func toRequest(p quoteRequestPayload) (quote.Request, error) {
	if !common.IsHexAddress(p.Sponsor) {
		return quote.Request{}, fmt.Errorf("%w: sponsor must be a 20-byte hex address", quote.ErrSchemaViolation)
	}
	if !common.IsHexAddress(p.InputTokenAddress) {
		return quote.Request{}, fmt.Errorf("%w: inputTokenAddress must be a 20-byte hex address", quote.ErrSchemaViolation)
	}
	if !common.IsHexAddress(p.OutputTokenAddress) {
		return quote.Request{}, fmt.Errorf("%w: outputTokenAddress must be a 20-byte hex address", quote.ErrSchemaViolation)
	}

	amount, err := oracle.ParseDecimalAmount(p.InputTokenAmount)
	if err != nil {
		return quote.Request{}, fmt.Errorf("%w: inputTokenAmount must be a decimal string", quote.ErrSchemaViolation)
	}

	allocatorID, ok := new(big.Int).SetString(strings.TrimSpace(p.LockParameters.AllocatorID), 10)
	if !ok {
		return quote.Request{}, fmt.Errorf("%w: lockParameters.allocatorId must be a decimal string", quote.ErrSchemaViolation)
	}

	req := quote.Request{
		Sponsor:     common.HexToAddress(p.Sponsor),
		InputToken:  quote.TokenRef{ChainID: p.InputTokenChainID, Address: common.HexToAddress(p.InputTokenAddress)},
		InputAmount: amount,
		OutputToken: quote.TokenRef{ChainID: p.OutputTokenChainID, Address: common.HexToAddress(p.OutputTokenAddress)},
		Lock: quote.LockParameters{
			AllocatorID:  allocatorID,
			ResetPeriod:  p.LockParameters.ResetPeriod,
			IsMultichain: p.LockParameters.IsMultichain,
		},
	}

	if p.Context != nil {
		ctx, err := toContext(*p.Context)
		if err != nil {
			return quote.Request{}, err
		}
		req.Context = ctx
	}

	return req, nil
}

func toContext(p contextPayload) (quote.Context, error) {
	out := quote.Context{SlippageBips: p.SlippageBips}

	if strings.TrimSpace(p.Recipient) != "" {
		if !common.IsHexAddress(p.Recipient) {
			return quote.Context{}, fmt.Errorf("%w: context.recipient must be a 20-byte hex address", quote.ErrSchemaViolation)
		}
		out.Recipient = common.HexToAddress(p.Recipient)
	}
	if strings.TrimSpace(p.BaselinePriorityFee) != "" {
		v, err := oracle.ParseDecimalAmount(p.BaselinePriorityFee)
		if err != nil {
			return quote.Context{}, fmt.Errorf("%w: context.baselinePriorityFee must be a decimal string", quote.ErrSchemaViolation)
		}
		out.BaselinePriorityFee = v
	}
	if strings.TrimSpace(p.ScalingFactor) != "" {
		v, err := oracle.ParseDecimalAmount(p.ScalingFactor)
		if err != nil {
			return quote.Context{}, fmt.Errorf("%w: context.scalingFactor must be a decimal string", quote.ErrSchemaViolation)
		}
		out.ScalingFactor = v
	}
	if strings.TrimSpace(p.FillExpires) != "" {
		v, err := parseUnixSeconds(p.FillExpires)
		if err != nil {
			return quote.Context{}, fmt.Errorf("%w: context.fillExpires must be a decimal unix-seconds string", quote.ErrSchemaViolation)
		}
		out.FillExpires = v
	}
	if strings.TrimSpace(p.ClaimExpires) != "" {
		v, err := parseUnixSeconds(p.ClaimExpires)
		if err != nil {
			return quote.Context{}, fmt.Errorf("%w: context.claimExpires must be a decimal unix-seconds string", quote.ErrSchemaViolation)
		}
		out.ClaimExpires = v
	}
	return out, nil
}

func parseUnixSeconds(s string) (int64, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return 0, fmt.Errorf("%w: invalid unix-seconds value", quote.ErrSchemaViolation)
	}
	return v.Int64(), nil
}

// mandatePayload mirrors the response body's nine-field mandate object.
type mandatePayload struct {
	ChainID             string `json:"chainId"`
	Tribunal            string `json:"tribunal"`
	Recipient           string `json:"recipient"`
	Expires             string `json:"expires"`
	Token               string `json:"token"`
	MinimumAmount       string `json:"minimumAmount"`
	BaselinePriorityFee string `json:"baselinePriorityFee"`
	ScalingFactor       string `json:"scalingFactor"`
	Salt                string `json:"salt"`
}

func toMandatePayload(m quote.Mandate) mandatePayload {
	return mandatePayload{
		ChainID:             oracle.FormatDecimalAmount(m.ChainID),
		Tribunal:            m.Tribunal.Hex(),
		Recipient:           m.Recipient.Hex(),
		Expires:             oracle.FormatDecimalAmount(m.Expires),
		Token:               m.Token.Hex(),
		MinimumAmount:       oracle.FormatDecimalAmount(m.MinimumAmount),
		BaselinePriorityFee: oracle.FormatDecimalAmount(m.BaselinePriorityFee),
		ScalingFactor:       oracle.FormatDecimalAmount(m.ScalingFactor),
		Salt:                "0x" + common.Bytes2Hex(m.Salt[:]),
	}
}

// dataPayload mirrors the response body's "data" object (the signable Compact).
type dataPayload struct {
	Arbiter       string         `json:"arbiter"`
	Tribunal      string         `json:"tribunal"`
	Sponsor       string         `json:"sponsor"`
	Nonce         interface{}    `json:"nonce"`
	Expires       string         `json:"expires"`
	ID            string         `json:"id"`
	Amount        string         `json:"amount"`
	MaximumAmount string         `json:"maximumAmount"`
	Mandate       mandatePayload `json:"mandate"`
}

// contextResponsePayload mirrors the response body's "context" object.
type contextResponsePayload struct {
	Dispensation            *string `json:"dispensation"`
	DispensationUSD         *string `json:"dispensationUSD"`
	SpotOutputAmount        *string `json:"spotOutputAmount"`
	QuoteOutputAmountDirect *string `json:"quoteOutputAmountDirect"`
	QuoteOutputAmountNet    *string `json:"quoteOutputAmountNet"`
	DeltaAmount             *string `json:"deltaAmount"`
	WitnessHash             string  `json:"witnessHash"`
}

type quoteResponsePayload struct {
	Data    dataPayload            `json:"data"`
	Context contextResponsePayload `json:"context"`
}

func toResponsePayload(resp quote.Response) quoteResponsePayload {
	return quoteResponsePayload{
		Data: dataPayload{
			Arbiter:       resp.Compact.Arbiter.Hex(),
			Tribunal:      resp.Compact.Tribunal.Hex(),
			Sponsor:       resp.Compact.Sponsor.Hex(),
			Nonce:         nil,
			Expires:       oracle.FormatDecimalAmount(resp.Compact.Expires),
			ID:            oracle.FormatDecimalAmount(resp.Compact.ID),
			Amount:        oracle.FormatDecimalAmount(resp.Compact.Amount),
			MaximumAmount: oracle.FormatDecimalAmount(resp.Compact.MaximumAmount),
			Mandate:       toMandatePayload(resp.Compact.Mandate),
		},
		Context: contextResponsePayload{
			Dispensation:            decimalOrNil(resp.TribunalQuote),
			DispensationUSD:         formatDollarsOrNil(resp.TribunalQuoteUSD),
			SpotOutputAmount:        decimalOrNil(resp.SpotOutputAmount),
			QuoteOutputAmountDirect: decimalOrNil(resp.QuoteOutputAmountDirect),
			QuoteOutputAmountNet:    decimalOrNil(resp.QuoteOutputAmountNet),
			DeltaAmount:             decimalOrNil(resp.DeltaAmount),
			WitnessHash:             "0x" + common.Bytes2Hex(resp.WitnessHash[:]),
		},
	}
}

func decimalOrNil(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

var wei = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// formatDollarsOrNil renders an 18-decimal-fixed-point wei amount as
// "$X.XXXX" (four decimal places), or nil if unavailable.
func formatDollarsOrNil(v *big.Int) *string {
	if v == nil {
		return nil
	}
	scaled := new(big.Int).Mul(v, big.NewInt(10000))
	scaled.Quo(scaled, wei)
	whole := new(big.Int)
	frac := new(big.Int)
	whole.QuoRem(scaled, big.NewInt(10000), frac)
	if frac.Sign() < 0 {
		frac.Neg(frac)
	}
	s := "$" + whole.String() + "." + padFrac(frac.String())
	return &s
}

func padFrac(s string) string {
	for len(s) < 4 {
		s = "0" + s
	}
	return s
}

// classifyError maps the pipeline's sentinel errors onto HTTP status codes:
// invalid-input and registry errors surface as 400 with their own message;
// anything else is a 500 with a generic message, never leaking internal
// error detail to a caller.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, arbiter.ErrNoArbiterForChainPair):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, quote.ErrInvalidLockParameters):
		return http.StatusBadRequest, quote.ErrInvalidLockParameters.Error()
	case errors.Is(err, quote.ErrExpiresOrderViolation):
		return http.StatusBadRequest, quote.ErrExpiresOrderViolation.Error()
	case errors.Is(err, quote.ErrSchemaViolation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, witness.ErrTypeParse):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, oracle.ErrUnsupportedChain):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
