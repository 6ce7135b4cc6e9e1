package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"zerodust/pkg/sweeperr"
)

const (
	EnvPrefix       = "ZERODUST"
	DefaultPriceAPI = "https://api.coingecko.com/api/v3"

	configName   = ".zerodust"
	rpcEnvPrefix = EnvPrefix + "_RPC_"
)

// Config holds the application configuration
type Config struct {
	BungeeEndpoint string
	BungeeAPIKey   string
	PriceAPIURL    string

	PrivateKey    string
	WalletAddress string            // Used for read-only commands when no private key is set
	RPCURLs       map[uint64]string // Chain ID -> RPC URL

	HistoryPath          string
	GasCostUSD           float64
	SweepGasLimit        uint64
	PriceRefreshInterval time.Duration
	QuoteTimeout         time.Duration
}

// Load reads configuration from environment variables and an optional config file.
// When configFile is empty, .zerodust.yaml is looked up in $HOME and the working directory.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME")
		v.AddConfigPath(".")
	}

	// Set default values
	v.SetDefault("price_api_url", DefaultPriceAPI)
	v.SetDefault("gas_cost_usd", 0.05)
	v.SetDefault("sweep_gas_limit", 300000)
	v.SetDefault("price_refresh_interval", "60s")
	v.SetDefault("quote_timeout", "15s")

	// Read from environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		BungeeEndpoint:       strings.TrimSpace(v.GetString("bungee_endpoint")),
		BungeeAPIKey:         strings.TrimSpace(v.GetString("bungee_api_key")),
		PriceAPIURL:          strings.TrimSpace(v.GetString("price_api_url")),
		PrivateKey:           strings.TrimSpace(v.GetString("private_key")),
		WalletAddress:        strings.TrimSpace(v.GetString("wallet_address")),
		HistoryPath:          v.GetString("history_path"),
		GasCostUSD:           v.GetFloat64("gas_cost_usd"),
		SweepGasLimit:        v.GetUint64("sweep_gas_limit"),
		PriceRefreshInterval: v.GetDuration("price_refresh_interval"),
		QuoteTimeout:         v.GetDuration("quote_timeout"),
	}

	rpcURLs, err := rpcURLs(v.GetStringMapString("rpc_urls"), os.Environ())
	if err != nil {
		return nil, err
	}
	cfg.RPCURLs = rpcURLs

	if cfg.GasCostUSD < 0 {
		return nil, fmt.Errorf("gas_cost_usd must not be negative, got %v", cfg.GasCostUSD)
	}
	if cfg.PriceRefreshInterval <= 0 {
		return nil, fmt.Errorf("price_refresh_interval must be positive, got %v", cfg.PriceRefreshInterval)
	}

	return cfg, nil
}

// rpcURLs merges the rpc_urls map with ZERODUST_RPC_<CHAINID> variables; variables win
func rpcURLs(fromFile map[string]string, environ []string) (map[uint64]string, error) {
	urls := make(map[uint64]string, len(fromFile))

	for key, url := range fromFile {
		id, err := strconv.ParseUint(strings.TrimSpace(key), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("rpc_urls key '%s' is not a chain id", key)
		}
		if url = strings.TrimSpace(url); url != "" {
			urls[id] = url
		}
	}

	for _, kv := range environ {
		name, url, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, rpcEnvPrefix) {
			continue
		}
		id, err := strconv.ParseUint(strings.TrimPrefix(name, rpcEnvPrefix), 10, 64)
		if err != nil {
			continue
		}
		if url = strings.TrimSpace(url); url != "" {
			urls[id] = url
		}
	}

	return urls, nil
}

// ValidateQuoting reports a configuration error when the bridging service cannot be reached.
// It must pass before any quote is requested.
func (c *Config) ValidateQuoting() error {
	if c.BungeeEndpoint == "" {
		return sweeperr.Configuration("bridging service endpoint not found. Please set ZERODUST_BUNGEE_ENDPOINT environment variable or add bungee_endpoint to .zerodust.yaml")
	}
	if c.BungeeAPIKey == "" {
		return sweeperr.Configuration("bridging service API key not found. Please set ZERODUST_BUNGEE_API_KEY environment variable or add bungee_api_key to .zerodust.yaml")
	}
	return nil
}

// ValidateSigning reports a configuration error when no private key is set
func (c *Config) ValidateSigning() error {
	if c.PrivateKey == "" {
		return sweeperr.Configuration("private key not found. Please set ZERODUST_PRIVATE_KEY environment variable or add private_key to .zerodust.yaml")
	}
	return nil
}
