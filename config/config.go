package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete keeper configuration.
type Config struct {
	Network     NetworkConfig     `yaml:"network"`
	Contracts   ContractsConfig   `yaml:"contracts"`
	Agent       AgentConfig       `yaml:"agent"`
	Cycle       CycleConfig       `yaml:"cycle"`
	Thresholds  ThresholdsConfig  `yaml:"thresholds"`
	Registry    RegistryConfig    `yaml:"registry"`
	Advisory    AdvisoryConfig    `yaml:"advisory"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Server      ServerConfig      `yaml:"server"`
	Attestation AttestationConfig `yaml:"attestation"`
	Notify      NotifyConfig      `yaml:"notify"`
	Log         LogConfig         `yaml:"log"`
}

// NetworkConfig selects the chain the keeper operates on.
type NetworkConfig struct {
	ChainID int64  `yaml:"chain_id"`
	RPCURL  string `yaml:"rpc_url"` // env KEEPER_RPC_URL
}

// ContractsConfig holds the protocol addresses.
type ContractsConfig struct {
	Staking     string `yaml:"staking"`
	Pool        string `yaml:"pool"`
	StableToken string `yaml:"stable_token"`
}

// AgentConfig identifies the keeper wallet.
type AgentConfig struct {
	PrivateKey      string `yaml:"private_key"` // env KEEPER_PRIVATE_KEY
	AttributionCode string `yaml:"attribution_code"`
}

// CycleConfig controls the treasury loop cadence.
type CycleConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// ThresholdsConfig holds the policy rule triggers.
type ThresholdsConfig struct {
	IdleStable       float64 `yaml:"idle_stable"`
	LowGasNative     float64 `yaml:"low_gas_native"`
	TreasuryWithdraw float64 `yaml:"treasury_withdraw"`
}

// RegistryConfig controls stake discovery.
type RegistryConfig struct {
	WindowBlocks uint64   `yaml:"window_blocks"`
	Allowlist    []string `yaml:"allowlist"`
}

// AdvisoryConfig controls the model rebalance gate.
type AdvisoryConfig struct {
	Enabled         bool    `yaml:"enabled"`
	IntervalSeconds int     `yaml:"interval_seconds"`
	Model           string  `yaml:"model"`
	MaxTokens       int     `yaml:"max_tokens"`
	APIKey          string  `yaml:"api_key"` // env ANTHROPIC_API_KEY
	CostPerCall     float64 `yaml:"cost_per_call"`
}

// LedgerConfig controls where the financial log lives.
type LedgerConfig struct {
	DSN                 string  `yaml:"dsn"` // SQLite file path, or ":memory:"
	ComputeCostPerCycle float64 `yaml:"compute_cost_per_cycle"`
}

// ServerConfig controls the read API.
type ServerConfig struct {
	Port    int `yaml:"port"`
	MaxPage int `yaml:"max_page"`
}

// AttestationConfig prices the paid attestation endpoint.
type AttestationConfig struct {
	Price float64 `yaml:"price"`
	Asset string  `yaml:"asset"`
}

// NotifyConfig holds the optional Telegram push channel.
type NotifyConfig struct {
	TelegramToken  string `yaml:"telegram_token"` // env KEEPER_TELEGRAM_TOKEN
	TelegramChatID int64  `yaml:"telegram_chat_id"`
}

// LogConfig controls log format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML file and the .env file if present. Environment
// values override the YAML for the keys that carry secrets.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// CycleInterval returns the loop cadence as a time.Duration.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Cycle.IntervalSeconds) * time.Second
}

// AdvisoryInterval returns the advisory window as a time.Duration.
func (c *Config) AdvisoryInterval() time.Duration {
	return time.Duration(c.Advisory.IntervalSeconds) * time.Second
}

// Validate checks the settings required to sign and submit
// transactions. Report-only modes work without them.
func (c *Config) Validate() error {
	var missing []string
	if c.Network.RPCURL == "" {
		missing = append(missing, "network.rpc_url (KEEPER_RPC_URL)")
	}
	if c.Agent.PrivateKey == "" {
		missing = append(missing, "agent.private_key (KEEPER_PRIVATE_KEY)")
	}
	if c.Contracts.Staking == "" {
		missing = append(missing, "contracts.staking")
	}
	if c.Contracts.Pool == "" {
		missing = append(missing, "contracts.pool")
	}
	if c.Contracts.StableToken == "" {
		missing = append(missing, "contracts.stable_token")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config.Validate: missing required settings: %s", strings.Join(missing, ", "))
	}
	if c.Advisory.Enabled && c.Advisory.APIKey == "" {
		return fmt.Errorf("config.Validate: advisory.enabled requires advisory.api_key (ANTHROPIC_API_KEY)")
	}
	return nil
}

// applyEnvOverrides pulls secrets from the environment when present.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KEEPER_RPC_URL"); v != "" {
		cfg.Network.RPCURL = v
	}
	if v := os.Getenv("KEEPER_PRIVATE_KEY"); v != "" {
		cfg.Agent.PrivateKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Advisory.APIKey = v
	}
	if v := os.Getenv("KEEPER_TELEGRAM_TOKEN"); v != "" {
		cfg.Notify.TelegramToken = v
	}
	if v := os.Getenv("KEEPER_TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Notify.TelegramChatID = id
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// setDefaults fills every optional setting with a sensible value.
func setDefaults(cfg *Config) {
	if cfg.Cycle.IntervalSeconds <= 0 {
		cfg.Cycle.IntervalSeconds = 300
	}
	if cfg.Thresholds.IdleStable <= 0 {
		cfg.Thresholds.IdleStable = 10
	}
	if cfg.Thresholds.LowGasNative <= 0 {
		cfg.Thresholds.LowGasNative = 0.005
	}
	if cfg.Thresholds.TreasuryWithdraw <= 0 {
		cfg.Thresholds.TreasuryWithdraw = 25
	}
	if cfg.Registry.WindowBlocks == 0 {
		cfg.Registry.WindowBlocks = 50_000
	}
	if cfg.Agent.AttributionCode == "" {
		cfg.Agent.AttributionCode = "stakekeeper"
	}
	if cfg.Advisory.IntervalSeconds <= 0 {
		cfg.Advisory.IntervalSeconds = 3600
	}
	if cfg.Advisory.Model == "" {
		cfg.Advisory.Model = "claude-3-5-haiku-latest"
	}
	if cfg.Advisory.MaxTokens <= 0 {
		cfg.Advisory.MaxTokens = 256
	}
	if cfg.Advisory.CostPerCall <= 0 {
		cfg.Advisory.CostPerCall = 0.02
	}
	if cfg.Ledger.DSN == "" {
		cfg.Ledger.DSN = "keeper.db"
	}
	if cfg.Ledger.ComputeCostPerCycle <= 0 {
		cfg.Ledger.ComputeCostPerCycle = 0.001
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxPage <= 0 {
		cfg.Server.MaxPage = 200
	}
	if cfg.Attestation.Price <= 0 {
		cfg.Attestation.Price = 0.25
	}
	if cfg.Attestation.Asset == "" {
		cfg.Attestation.Asset = "USDC"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
