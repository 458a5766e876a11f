// Command quoted runs the price-discovery and parameter-calibration HTTP
// service: it wires the oracle, router, tribunal and arbiter registry
// collaborators into the quote pipeline and serves it over HTTP, following
// the wiring/shutdown shape of services/swapd/main.go.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nhbchain/quoted/internal/api"
	"github.com/nhbchain/quoted/internal/arbiter"
	"github.com/nhbchain/quoted/internal/config"
	"github.com/nhbchain/quoted/internal/oracle"
	"github.com/nhbchain/quoted/internal/pipeline"
	"github.com/nhbchain/quoted/internal/router"
	"github.com/nhbchain/quoted/internal/tribunal"
	"github.com/nhbchain/quoted/observability/logging"
	otelinit "github.com/nhbchain/quoted/observability/otel"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to quoted's optional YAML configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("NHB_ENV"))
	logger := logging.Setup("quoted", env)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("quoted: load config: %v", err)
	}
	logger.LogAttrs(context.Background(), slog.LevelInfo, "configuration loaded",
		slog.String("listen", cfg.ListenAddress),
		slog.String("oracle_endpoint", cfg.Oracle.Endpoint),
		slog.String("router_endpoint", cfg.Router.Endpoint),
		logging.MaskField("oracle_api_key", cfg.Oracle.APIKey),
		logging.MaskField("router_api_key", cfg.Router.APIKey),
	)

	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); endpoint != "" {
		shutdownTelemetry, err := otelinit.Init(context.Background(), otelinit.Config{
			ServiceName: "quoted",
			Environment: env,
			Endpoint:    endpoint,
			Insecure:    strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")) == "true",
			Headers:     otelinit.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
			Traces:      true,
			Metrics:     true,
		})
		if err != nil {
			log.Fatalf("quoted: init telemetry: %v", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTelemetry(shutdownCtx)
		}()
	}

	tracedClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}

	o := oracle.New(tracedClient, oracle.Config{
		Endpoint:          cfg.Oracle.Endpoint,
		APIKey:            cfg.Oracle.APIKey,
		PriceTTL:          cfg.Oracle.PriceTTL.Duration,
		TokenInfoTTL:      cfg.Oracle.TokenInfoTTL.Duration,
		RequestsPerSecond: cfg.Oracle.RequestsPerSecond,
		Burst:             cfg.Oracle.Burst,
	}, config.ChainToPlatform())

	r := router.New(tracedClient, router.Config{
		Endpoint:          cfg.Router.Endpoint,
		APIKey:            cfg.Router.APIKey,
		RequestsPerSecond: cfg.Router.RequestsPerSecond,
		Burst:             cfg.Router.Burst,
	})

	chains := make(map[uint32]tribunal.ChainSpec, len(cfg.Chains))
	for chainID, rpcURL := range cfg.Chains {
		tribunalAddr, err := arbiter.TribunalAddress(chainID)
		if err != nil {
			log.Fatalf("quoted: no tribunal address configured for chain %d: %v", chainID, err)
		}
		chains[chainID] = tribunal.ChainSpec{ChainID: chainID, RPCURL: rpcURL, TribunalAddress: tribunalAddr}
	}
	t, err := tribunal.New(chains)
	if err != nil {
		log.Fatalf("quoted: tribunal client: %v", err)
	}

	registry, err := arbiter.NewDefaultRegistry()
	if err != nil {
		log.Fatalf("quoted: arbiter registry: %v", err)
	}

	quotePipeline := pipeline.New(o, r, t, registry)
	httpServer := api.New(quotePipeline, log.Default())

	srv := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-rootCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("quoted: http server listening on %s", cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("quoted: http server error: %v", err)
	}
}
