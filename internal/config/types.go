package config

import (
	"strings"
	"time"
)

const (
	ModePaper = "paper"
	ModeLive  = "live"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the root configuration for the agent runtime.
type Config struct {
	App      AppConfig      `toml:"app"`
	Broker   BrokerConfig   `toml:"broker"`
	Network  NetworkConfig  `toml:"network"`
	Trading  TradingConfig  `toml:"trading"`
	Risk     RiskConfig     `toml:"risk"`
	Data     DataConfig     `toml:"data"`
	Database DatabaseConfig `toml:"database"`
	Notify   NotifyConfig   `toml:"notify"`
}

type AppConfig struct {
	Env         string `toml:"env"`
	LogLevel    string `toml:"log_level"`
	HTTPAddr    string `toml:"http_addr"`
	HTTPEnabled bool   `toml:"http_enabled"`
	LogPath     string `toml:"log_path"`
}

// BrokerConfig holds the broker session credentials. String values may
// reference environment variables as ${NAME}.
type BrokerConfig struct {
	Name           string `toml:"name"`
	APIURL         string `toml:"api_url"`
	APIKey         string `toml:"api_key"`
	APISecret      string `toml:"api_secret"`
	TOTPSecret     string `toml:"totp_secret"`
	ClientCode     string `toml:"client_code"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// HasCredentials reports whether the fields required to authenticate are set.
func (b BrokerConfig) HasCredentials() bool {
	return strings.TrimSpace(b.APIKey) != "" &&
		strings.TrimSpace(b.APISecret) != "" &&
		strings.TrimSpace(b.TOTPSecret) != ""
}

func (b BrokerConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// NetworkConfig drives the reconnection supervisor. All values are seconds.
type NetworkConfig struct {
	ReconnectIntervalSeconds int `toml:"reconnect_interval"`
	MaxRetries               int `toml:"max_retries"`
	RetryDelaySeconds        int `toml:"retry_delay"`
	HealthPollSeconds        int `toml:"health_poll"`
}

func (n NetworkConfig) ReconnectInterval() time.Duration {
	return time.Duration(n.ReconnectIntervalSeconds) * time.Second
}

func (n NetworkConfig) RetryDelay() time.Duration {
	return time.Duration(n.RetryDelaySeconds) * time.Second
}

func (n NetworkConfig) HealthPoll() time.Duration {
	return time.Duration(n.HealthPollSeconds) * time.Second
}

// TradingConfig controls order routing. AutoTrade can be flipped at runtime
// through the config watcher or the HTTP API.
type TradingConfig struct {
	Mode            string  `toml:"mode"`
	AutoTrade       bool    `toml:"auto_trade"`
	MaxPositions    int     `toml:"max_positions"`
	PaperFillPrice  float64 `toml:"paper_fill_price"`
	// PaperUseLastPrice lets paper MARKET orders without a price fill at the
	// data agent's last quote before falling back to PaperFillPrice.
	PaperUseLastPrice bool `toml:"paper_use_last_price"`
	DefaultExchange string  `toml:"default_exchange"`
	MonitorSeconds  int     `toml:"monitor_interval"`
}

func (t TradingConfig) IsLive() bool {
	return strings.EqualFold(strings.TrimSpace(t.Mode), ModeLive)
}

func (t TradingConfig) MonitorInterval() time.Duration {
	return time.Duration(t.MonitorSeconds) * time.Second
}

type RiskConfig struct {
	MaxDailyLoss          float64 `toml:"max_daily_loss"`
	WarningRatio          float64 `toml:"warning_ratio"`
	CircuitBreakerEnabled bool    `toml:"circuit_breaker_enabled"`
	BreakerThreshold      int     `toml:"breaker_threshold"`
	BreakerCooldown       int     `toml:"breaker_cooldown_seconds"`
}

func (r RiskConfig) BreakerCooldownDuration() time.Duration {
	return time.Duration(r.BreakerCooldown) * time.Second
}

type DataConfig struct {
	Enabled         bool     `toml:"enabled"`
	Symbols         []string `toml:"symbols"`
	Exchange        string   `toml:"exchange"`
	PollSeconds     int      `toml:"poll_interval"`
	CacheTTLSeconds int      `toml:"cache_ttl"`
}

func (d DataConfig) PollInterval() time.Duration {
	return time.Duration(d.PollSeconds) * time.Second
}

func (d DataConfig) CacheTTL() time.Duration {
	return time.Duration(d.CacheTTLSeconds) * time.Second
}

type DatabaseConfig struct {
	Driver      string `toml:"driver"`
	Path        string `toml:"path"`
	DSN         string `toml:"dsn"`
	JournalPath string `toml:"journal_path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// keySet tracks the dotted paths explicitly present in the config files.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
