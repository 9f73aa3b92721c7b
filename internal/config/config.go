package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"weather-options/internal/chain"
	"weather-options/pkg/database"
)

// Config is the process configuration. Values come from an optional YAML
// file, then environment variables override individual fields.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Chain     ChainConfig     `yaml:"chain"`
	Contracts ContractsConfig `yaml:"contracts"`
	Flow      FlowConfig      `yaml:"flow"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type ChainConfig struct {
	RPCURL              string        `yaml:"rpc_url"`
	ChainID             int64         `yaml:"chain_id"`
	PrivateKey          string        `yaml:"private_key"`
	WalletConnectID     string        `yaml:"walletconnect_project_id"`
	RequestsPerSecond   float64       `yaml:"requests_per_second"`
	Burst               int           `yaml:"burst"`
	ReceiptPollInterval time.Duration `yaml:"receipt_poll_interval"`
	ReceiptTimeout      time.Duration `yaml:"receipt_timeout"`
}

type ContractsConfig struct {
	WeatherOption   string `yaml:"weather_option"`
	Vault           string `yaml:"vault"`
	WETH            string `yaml:"weth"`
	PremiumConsumer string `yaml:"premium_consumer"`
}

type FlowConfig struct {
	QuoteTimeBuffer       time.Duration `yaml:"quote_time_buffer"`
	PollInterval          time.Duration `yaml:"poll_interval"`
	SuccessResetDelay     time.Duration `yaml:"success_reset_delay"`
	RefetchDelay          time.Duration `yaml:"refetch_delay"`
	ParamsRefreshInterval time.Duration `yaml:"params_refresh_interval"`
	ScanLimit             int           `yaml:"scan_limit"`
	TermsCacheSize        int           `yaml:"terms_cache_size"`
}

// Default returns the built-in configuration targeting the Sepolia deployment
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:    "Weather Options",
			Version: "1.0.0",
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Enabled:         false,
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Database:        "weather_options",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info"},
		Chain: ChainConfig{
			RPCURL:              "https://ethereum-sepolia-rpc.publicnode.com",
			ChainID:             11155111,
			RequestsPerSecond:   10,
			Burst:               5,
			ReceiptPollInterval: 2 * time.Second,
			ReceiptTimeout:      5 * time.Minute,
		},
		Contracts: ContractsConfig{
			WeatherOption:   "0x3C97d44c502488AcF0Dfda5c691be3A264D84CE0",
			Vault:           "0x8E333D07F74FF9A45b0E3E0805a10d58fb61E72C",
			WETH:            "0xfFf9976782d46CC05630D1f6eBAb18b2324d6B14",
			PremiumConsumer: "0xEB36260fc0647D9ca4b67F40E1310697074897d4",
		},
		Flow: FlowConfig{
			QuoteTimeBuffer:       600 * time.Second,
			PollInterval:          3 * time.Second,
			SuccessResetDelay:     5 * time.Second,
			RefetchDelay:          2 * time.Second,
			ParamsRefreshInterval: 30 * time.Second,
			ScanLimit:             50,
			TermsCacheSize:        256,
		},
	}
}

// LoadConfig reads path (if non-empty) over the defaults and applies environment overrides
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	str("SERVER_HOST", &c.Server.Host)
	str("LOG_LEVEL", &c.Logging.Level)
	str("DB_HOST", &c.Database.Host)
	str("DB_USER", &c.Database.User)
	str("DB_PASSWORD", &c.Database.Password)
	str("DB_NAME", &c.Database.Database)
	str("DB_SSLMODE", &c.Database.SSLMode)
	str("RPC_URL", &c.Chain.RPCURL)
	str("PRIVATE_KEY", &c.Chain.PrivateKey)
	str("WALLETCONNECT_PROJECT_ID", &c.Chain.WalletConnectID)
	str("WEATHER_OPTION_ADDRESS", &c.Contracts.WeatherOption)
	str("VAULT_ADDRESS", &c.Contracts.Vault)
	str("WETH_ADDRESS", &c.Contracts.WETH)
	str("PREMIUM_CONSUMER_ADDRESS", &c.Contracts.PremiumConsumer)

	ints := map[string]*int{
		"SERVER_PORT":     &c.Server.Port,
		"DB_PORT":         &c.Database.Port,
		"FLOW_SCAN_LIMIT": &c.Flow.ScanLimit,
	}
	for key, dst := range ints {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = n
		}
	}

	if v, ok := os.LookupEnv("CHAIN_ID"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid CHAIN_ID: %w", err)
		}
		c.Chain.ChainID = n
	}

	if v, ok := os.LookupEnv("DB_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid DB_ENABLED: %w", err)
		}
		c.Database.Enabled = b
	}

	return nil
}

// Validate checks values the services cannot start without
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Chain.RPCURL == "" {
		problems = append(problems, "chain.rpc_url is required")
	}

	addrs := map[string]string{
		"contracts.weather_option":   c.Contracts.WeatherOption,
		"contracts.vault":            c.Contracts.Vault,
		"contracts.weth":             c.Contracts.WETH,
		"contracts.premium_consumer": c.Contracts.PremiumConsumer,
	}
	for name, v := range addrs {
		if !common.IsHexAddress(v) {
			problems = append(problems, fmt.Sprintf("%s %q is not an address", name, v))
		}
	}

	durations := map[string]time.Duration{
		"flow.poll_interval":       c.Flow.PollInterval,
		"flow.success_reset_delay": c.Flow.SuccessResetDelay,
		"flow.refetch_delay":       c.Flow.RefetchDelay,
	}
	for name, d := range durations {
		if d <= 0 {
			problems = append(problems, name+" must be positive")
		}
	}
	if c.Flow.QuoteTimeBuffer < 0 {
		problems = append(problems, "flow.quote_time_buffer must not be negative")
	}
	if c.Flow.ScanLimit <= 0 {
		problems = append(problems, "flow.scan_limit must be positive")
	}
	if c.Database.Enabled && c.Database.Host == "" {
		problems = append(problems, "database.host is required when the database is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ChainClientConfig maps the chain and contract sections onto chain.Config
func (c *Config) ChainClientConfig() chain.Config {
	return chain.Config{
		RPCURL:              c.Chain.RPCURL,
		ChainID:             c.Chain.ChainID,
		PrivateKey:          c.Chain.PrivateKey,
		Addresses:           c.Addresses(),
		RequestsPerSecond:   c.Chain.RequestsPerSecond,
		Burst:               c.Chain.Burst,
		ReceiptPollInterval: c.Chain.ReceiptPollInterval,
	}
}

// Addresses parses the contract section
func (c *Config) Addresses() chain.Addresses {
	return chain.Addresses{
		WeatherOption:   common.HexToAddress(c.Contracts.WeatherOption),
		Vault:           common.HexToAddress(c.Contracts.Vault),
		WETH:            common.HexToAddress(c.Contracts.WETH),
		PremiumConsumer: common.HexToAddress(c.Contracts.PremiumConsumer),
	}
}

// DatabaseClientConfig maps the database section onto database.Config
func (c *Config) DatabaseClientConfig() *database.Config {
	return &database.Config{
		Host:            c.Database.Host,
		Port:            c.Database.Port,
		User:            c.Database.User,
		Password:        c.Database.Password,
		Database:        c.Database.Database,
		SSLMode:         c.Database.SSLMode,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		ConnMaxIdleTime: c.Database.ConnMaxIdleTime,
	}
}
