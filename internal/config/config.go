// Package config loads quoted's runtime configuration: a YAML file for
// listen address and tunable timeouts/TTLs, overlaid with the chain RPC
// endpoints and upstream API keys that must come from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nhbchain/quoted/internal/arbiter"
)

// Duration wraps time.Duration so YAML can express "30s"/"24h" literally.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	if value.Value == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures quoted's runtime configuration.
type Config struct {
	ListenAddress string        `yaml:"listen"`
	Oracle        OracleConfig  `yaml:"oracle"`
	Router        RouterConfig  `yaml:"router"`

	// Chains is the RPC-URL table, keyed by supported chain id, with each URL
	// taken from that chain's env var (see Load); not user-editable in YAML.
	Chains map[uint32]string `yaml:"-"`
}

// OracleConfig tunes the UsdOracle's outbound request shape and TTLs.
// APIKey is never read from YAML (see Load) so a secret never round-trips
// through a config file on disk.
type OracleConfig struct {
	Endpoint          string   `yaml:"endpoint"`
	APIKey            string   `yaml:"-"`
	PriceTTL          Duration `yaml:"price_ttl"`
	TokenInfoTTL      Duration `yaml:"token_info_ttl"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	Burst             int      `yaml:"burst"`
}

// RouterConfig tunes the RouteQuoter's outbound request shape. APIKey is
// populated from the environment only (see Load).
type RouterConfig struct {
	Endpoint          string  `yaml:"endpoint"`
	APIKey            string  `yaml:"-"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// requiredChainEnv maps each supported chain id to the env var that carries
// its RPC URL.
var requiredChainEnv = map[uint32]string{
	arbiter.ChainMainnet:  "ETHEREUM_RPC_URL",
	arbiter.ChainOptimism: "OPTIMISM_RPC_URL",
	arbiter.ChainBase:     "BASE_RPC_URL",
	arbiter.ChainUnichain: "UNICHAIN_RPC_URL",
}

// Load reads the YAML file at path (listen address, timeouts, TTLs), then
// overlays the required chain RPC URLs and optional upstream API keys from
// the environment. A missing required env var is a fatal config error.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	applyDefaults(&cfg)

	chains := make(map[uint32]string, len(requiredChainEnv))
	var missing []string
	for chainID, envVar := range requiredChainEnv {
		value := strings.TrimSpace(os.Getenv(envVar))
		if value == "" {
			missing = append(missing, envVar)
			continue
		}
		chains[chainID] = value
	}
	if len(missing) > 0 {
		return cfg, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	cfg.Chains = chains

	cfg.Oracle.APIKey = strings.TrimSpace(os.Getenv("COINGECKO_API_KEY"))
	cfg.Router.APIKey = strings.TrimSpace(os.Getenv("UNISWAP_API_KEY"))

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8080"
	}
	if cfg.Oracle.Endpoint == "" {
		cfg.Oracle.Endpoint = "https://api.coingecko.com/api/v3"
	}
	if cfg.Oracle.PriceTTL.Duration == 0 {
		cfg.Oracle.PriceTTL.Duration = 30 * time.Second
	}
	if cfg.Oracle.TokenInfoTTL.Duration == 0 {
		cfg.Oracle.TokenInfoTTL.Duration = 24 * time.Hour
	}
	if cfg.Oracle.RequestsPerSecond == 0 {
		cfg.Oracle.RequestsPerSecond = 5
	}
	if cfg.Oracle.Burst == 0 {
		cfg.Oracle.Burst = 5
	}
	if cfg.Router.Endpoint == "" {
		cfg.Router.Endpoint = "https://api.uniswap.org/v2"
	}
	if cfg.Router.RequestsPerSecond == 0 {
		cfg.Router.RequestsPerSecond = 5
	}
	if cfg.Router.Burst == 0 {
		cfg.Router.Burst = 5
	}
}

// ChainToPlatform is the static chainId -> CoinGecko asset-platform id table
// for the registry's four supported chains.
func ChainToPlatform() map[uint32]string {
	return map[uint32]string{
		arbiter.ChainMainnet:  "ethereum",
		arbiter.ChainOptimism: "optimistic-ethereum",
		arbiter.ChainBase:     "base",
		arbiter.ChainUnichain: "unichain",
	}
}
