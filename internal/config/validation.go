package config

import (
	"fmt"
	"math"
	"strings"
)

func validate(c *Config) error {
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Network.validate(); err != nil {
		return err
	}
	if err := c.Data.validate(); err != nil {
		return err
	}
	if err := c.Database.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	if c.Trading.IsLive() {
		if !c.Broker.HasCredentials() {
			return fmt.Errorf("trading.mode=live requires broker.api_key, broker.api_secret and broker.totp_secret")
		}
		if strings.TrimSpace(c.Broker.APIURL) == "" {
			return fmt.Errorf("trading.mode=live requires broker.api_url")
		}
	}
	return nil
}

func (t *TradingConfig) validate() error {
	switch t.Mode {
	case ModePaper, ModeLive:
	default:
		return fmt.Errorf("trading.mode must be %q or %q, got %q", ModePaper, ModeLive, t.Mode)
	}
	if t.MaxPositions <= 0 {
		return fmt.Errorf("trading.max_positions must be > 0")
	}
	if !(t.PaperFillPrice > 0) || math.IsInf(t.PaperFillPrice, 0) {
		return fmt.Errorf("trading.paper_fill_price must be a finite number > 0")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if !(r.MaxDailyLoss > 0) || math.IsInf(r.MaxDailyLoss, 0) {
		return fmt.Errorf("risk.max_daily_loss must be a finite number > 0")
	}
	if !(r.WarningRatio > 0 && r.WarningRatio < 1) {
		return fmt.Errorf("risk.warning_ratio must be within (0, 1)")
	}
	if r.BreakerThreshold <= 0 {
		return fmt.Errorf("risk.breaker_threshold must be > 0")
	}
	return nil
}

func (n *NetworkConfig) validate() error {
	if n.ReconnectIntervalSeconds <= 0 {
		return fmt.Errorf("network.reconnect_interval must be > 0")
	}
	if n.MaxRetries <= 0 {
		return fmt.Errorf("network.max_retries must be > 0")
	}
	if n.RetryDelaySeconds < 0 {
		return fmt.Errorf("network.retry_delay must be >= 0")
	}
	if n.HealthPollSeconds <= 0 {
		return fmt.Errorf("network.health_poll must be > 0")
	}
	return nil
}

func (d *DataConfig) validate() error {
	if d.PollSeconds <= 0 {
		return fmt.Errorf("data.poll_interval must be > 0")
	}
	if d.CacheTTLSeconds <= 0 {
		return fmt.Errorf("data.cache_ttl must be > 0")
	}
	return nil
}

func (d *DatabaseConfig) validate() error {
	switch d.Driver {
	case DriverSQLite:
		if strings.TrimSpace(d.Path) == "" && strings.TrimSpace(d.DSN) == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case DriverPostgres:
		if strings.TrimSpace(d.DSN) == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, d.Driver)
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if !n.Telegram.Enabled {
		return nil
	}
	if strings.TrimSpace(n.Telegram.BotToken) == "" || strings.TrimSpace(n.Telegram.ChatID) == "" {
		return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
	}
	return nil
}
