package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"autohodl/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Server     ServerConfig     `mapstructure:"server"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Chain      ChainConfig      `mapstructure:"chain"`
	Bridge     BridgeConfig     `mapstructure:"bridge"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Events     EventsConfig     `mapstructure:"events"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	DeploySalt  string `mapstructure:"deploy_salt"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ServerConfig controls the inbound HTTP listener.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// WebhookConfig holds the notification secret and monitored allow-lists.
type WebhookConfig struct {
	Secret                string   `mapstructure:"secret"`
	SignatureHeader       string   `mapstructure:"signature_header"`
	MonitoredDestinations []string `mapstructure:"monitored_destinations"`
	MonitoredAssets       []string `mapstructure:"monitored_assets"`
}

// ChainConfig covers the settlement chain and the execution identity.
type ChainConfig struct {
	RPCURL             string        `mapstructure:"rpc_url"`
	ChainID            int64         `mapstructure:"chain_id"`
	DelegatePrivateKey string        `mapstructure:"delegate_private_key"`
	DelegationManager  string        `mapstructure:"delegation_manager"`
	PoolAddress        string        `mapstructure:"pool_address"`
	TokenDecimals      int32         `mapstructure:"token_decimals"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	SubmitTimeout      time.Duration `mapstructure:"submit_timeout"`
	GasLimitBuffer     uint64        `mapstructure:"gas_limit_buffer_pct"`
}

// BridgeConfig captures LI.FI connectivity for multi-chain settlement.
type BridgeConfig struct {
	BaseURL            string            `mapstructure:"base_url"`
	Integrator         string            `mapstructure:"integrator"`
	APIKey             string            `mapstructure:"api_key"`
	DestinationChainID int64             `mapstructure:"destination_chain_id"`
	ProbeAmount        string            `mapstructure:"probe_amount"`
	AllowBridges       []string          `mapstructure:"allow_bridges"`
	TokenAddresses     map[string]string `mapstructure:"token_addresses"`
	RequestTimeout     time.Duration     `mapstructure:"request_timeout"`
	UserAgent          string            `mapstructure:"user_agent"`
}

// SettlementConfig bounds the blocking steps of a settlement.
type SettlementConfig struct {
	BalanceTimeout time.Duration `mapstructure:"balance_timeout"`
	RouteTimeout   time.Duration `mapstructure:"route_timeout"`
	SubmitTimeout  time.Duration `mapstructure:"submit_timeout"`
	LockTimeout    time.Duration `mapstructure:"lock_timeout"`
}

// ReconcilerConfig governs the out-of-band re-attempt loop.
type ReconcilerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Interval        time.Duration `mapstructure:"interval"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	MinAge          time.Duration `mapstructure:"min_age"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	BatchSize       int           `mapstructure:"batch_size"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// AlertingConfig defines failure notification routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// EventsConfig configures outcome publication.
type EventsConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	ClientID string   `mapstructure:"client_id"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AUTOHODL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "autohodl")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "2m")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_body_bytes", int64(1<<20))

	// secret has no default: a missing secret must surface as a configuration error per request.
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.signature_header", "x-signature")
	v.SetDefault("webhook.monitored_destinations", []string{
		"0xA90b298d05C2667dDC64e2A4e17111357c215dD2",
		"0x9dd23A4a0845f10d65D293776B792af1131c7B30",
	})
	v.SetDefault("webhook.monitored_assets", []string{
		"0x176211869cA2b568f2A7D4EE941E073a821EE1ff",
		"0xFEce4462D57bD51A6A552365A011b95f0E16d9B7",
	})

	v.SetDefault("chain.chain_id", int64(59144))
	v.SetDefault("chain.token_decimals", 6)
	v.SetDefault("chain.request_timeout", "10s")
	v.SetDefault("chain.submit_timeout", "30s")
	v.SetDefault("chain.gas_limit_buffer_pct", uint64(20))

	v.SetDefault("bridge.base_url", "https://li.quest/v1")
	v.SetDefault("bridge.integrator", "autohodl")
	v.SetDefault("bridge.destination_chain_id", int64(8453))
	v.SetDefault("bridge.probe_amount", "1000000")
	v.SetDefault("bridge.allow_bridges", []string{"mayanMCTP"})
	v.SetDefault("bridge.token_addresses", map[string]string{
		"59144": "0x176211869cA2b568f2A7D4EE941E073a821EE1ff",
		"8453":  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		"42161": "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
	})
	v.SetDefault("bridge.request_timeout", "15s")
	v.SetDefault("bridge.user_agent", "autohodl/1.0")

	v.SetDefault("settlement.balance_timeout", "10s")
	v.SetDefault("settlement.route_timeout", "20s")
	v.SetDefault("settlement.submit_timeout", "45s")
	v.SetDefault("settlement.lock_timeout", "30s")

	v.SetDefault("reconciler.enabled", false)
	v.SetDefault("reconciler.interval", "5m")
	v.SetDefault("reconciler.align_to_interval", false)
	v.SetDefault("reconciler.startup_delay", "30s")
	v.SetDefault("reconciler.min_age", "10m")
	v.SetDefault("reconciler.max_attempts", 5)
	v.SetDefault("reconciler.batch_size", 50)
	v.SetDefault("reconciler.advisory_lock_key", int64(0x686f646c))

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("events.enabled", false)
	v.SetDefault("events.topic", "autohodl.settlements")
	v.SetDefault("events.client_id", "autohodl")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be greater than zero")
	}
	if len(c.Webhook.MonitoredDestinations) == 0 {
		return fmt.Errorf("webhook.monitored_destinations must not be empty")
	}
	if len(c.Webhook.MonitoredAssets) == 0 {
		return fmt.Errorf("webhook.monitored_assets must not be empty")
	}
	if c.Chain.TokenDecimals < 0 || c.Chain.TokenDecimals > 36 {
		return fmt.Errorf("chain.token_decimals must be between 0 and 36")
	}
	probe, err := decimal.NewFromString(c.Bridge.ProbeAmount)
	if err != nil || !probe.IsInteger() || !probe.IsPositive() {
		return fmt.Errorf("bridge.probe_amount must be a positive integer in smallest units")
	}
	if c.Reconciler.Enabled {
		if c.Reconciler.Interval <= 0 {
			return fmt.Errorf("reconciler.interval must be greater than zero")
		}
		if c.Reconciler.MaxAttempts <= 0 {
			return fmt.Errorf("reconciler.max_attempts must be greater than zero")
		}
		if c.Reconciler.BatchSize <= 0 {
			return fmt.Errorf("reconciler.batch_size must be greater than zero")
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Events.Enabled {
		if len(c.Events.Brokers) == 0 {
			return fmt.Errorf("events.brokers must be set when events are enabled")
		}
		if c.Events.Topic == "" {
			return fmt.Errorf("events.topic must be set when events are enabled")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// BridgeToken returns the configured stablecoin address for a chain.
func (c *Config) BridgeToken(chainID int64) (string, bool) {
	addr, ok := c.Bridge.TokenAddresses[fmt.Sprintf("%d", chainID)]
	return addr, ok && addr != ""
}
