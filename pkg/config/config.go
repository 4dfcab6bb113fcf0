package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration accepts human-readable values like "5s" or "2m" in config files.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

type Config struct {
	Server     ServerConfig               `yaml:"server"`
	Database   DatabaseConfig             `yaml:"database"`
	Ledger     LedgerConfig               `yaml:"ledger"`
	Settlement SettlementConfig           `yaml:"settlement"`
	Notifier   NotifierConfig             `yaml:"notifier"`
	Identity   IdentityConfig             `yaml:"identity"`
	WalletAPI  WalletAPIConfig            `yaml:"wallet_api"`
	Security   SecurityConfig             `yaml:"security"`
	WebSocket  WebSocketConfig            `yaml:"websocket"`
	Logging    LoggingConfig              `yaml:"logging"`
	Accounts   map[string]AccountIdentity `yaml:"accounts"` // subdomain -> identity
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        string `yaml:"port"`
	Environment string `yaml:"environment"`
}

type DatabaseConfig struct {
	Host            string   `yaml:"host"`
	Port            string   `yaml:"port"`
	User            string   `yaml:"user"`
	DBName          string   `yaml:"name"`
	Password        string   `yaml:"password"`
	SSLMode         string   `yaml:"ssl_mode"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

type LedgerConfig struct {
	RPCURL       string   `yaml:"rpc_url"`
	ChainID      int64    `yaml:"chain_id"`
	PollInterval Duration `yaml:"poll_interval"`
	WatchCeiling Duration `yaml:"watch_ceiling"`
}

type SettlementConfig struct {
	Kind            string   `yaml:"kind"` // direct_transfer | allowance_approval
	AssetAddress    string   `yaml:"asset_address"`
	TreasuryAddress string   `yaml:"treasury_address"`
	TokenDecimals   int      `yaml:"token_decimals"`
	CardCreationFee string   `yaml:"card_creation_fee"` // whole-token decimal string
	MinTopUpAmount  string   `yaml:"min_topup_amount"`
	PendingDelay    Duration `yaml:"pending_delay"` // top-up courtesy delay before complete
}

type NotifierConfig struct {
	BaseURL       string   `yaml:"base_url"`
	CardBotToken  string   `yaml:"card_bot_token"`
	TopUpBotToken string   `yaml:"topup_bot_token"`
	ChatID        string   `yaml:"chat_id"`
	Timeout       Duration `yaml:"timeout"`
}

type IdentityConfig struct {
	DefaultSubdomain string `yaml:"default_subdomain"`
}

type AccountIdentity struct {
	Email string `yaml:"email"`
}

type WalletAPIConfig struct {
	BaseURL    string   `yaml:"base_url"`
	APIKey     string   `yaml:"api_key"`
	Timeout    Duration `yaml:"timeout"`
	MaxRetries int      `yaml:"max_retries"`
	RetryDelay Duration `yaml:"retry_delay"`
}

type SecurityConfig struct {
	APIKey string `yaml:"api_key"`
}

type WebSocketConfig struct {
	ReadBufferSize  int  `yaml:"read_buffer_size"`
	WriteBufferSize int  `yaml:"write_buffer_size"`
	CheckOrigin     bool `yaml:"check_origin"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	TimeFormat string `yaml:"time_format"`
	Pretty     bool   `yaml:"pretty"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		return nil, err
	}

	var config Config
	configData, err := os.ReadFile("./config.yaml")
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(configData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Ledger.PollInterval == 0 {
		c.Ledger.PollInterval = Duration(5 * time.Second)
	}
	if c.Ledger.WatchCeiling == 0 {
		c.Ledger.WatchCeiling = Duration(5 * time.Minute)
	}
	if c.Settlement.TokenDecimals == 0 {
		c.Settlement.TokenDecimals = 18
	}
	if c.Settlement.PendingDelay == 0 {
		c.Settlement.PendingDelay = Duration(3 * time.Second)
	}
	if c.Identity.DefaultSubdomain == "" {
		c.Identity.DefaultSubdomain = "demo"
	}
}
