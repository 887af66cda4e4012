package config

import (
	"strings"

	"roboai/internal/pkg/symbol"
)

const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":9991"
	defaultAppLogPath        = "data/logs/roboai.log"
	defaultBrokerName        = "mstock"
	defaultBrokerTimeout     = 15
	defaultReconnectInterval = 60
	defaultMaxRetries        = 5
	defaultRetryDelay        = 10
	defaultHealthPoll        = 10
	defaultTradingMode       = ModePaper
	defaultMaxPositions      = 5
	defaultPaperFillPrice    = 1000.0
	defaultExchange          = "NSE"
	defaultMonitorInterval   = 10
	defaultMaxDailyLoss      = 5000.0
	defaultWarningRatio      = 0.8
	defaultBreakerThreshold  = 3
	defaultBreakerCooldown   = 30
	defaultDataPoll          = 5
	defaultDataCacheTTL      = 5
	defaultDatabaseDriver    = DriverSQLite
	defaultDatabasePath      = "data/db/roboai.db"
	defaultJournalPath       = "data/db/journal.db"
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Broker.applyDefaults(keys)
	c.Network.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Data.applyDefaults(keys, c.Trading.DefaultExchange)
	c.Database.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		boolFieldDefault("app.http_enabled", &a.HTTPEnabled, true),
	)
}

func (b *BrokerConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("broker.name", &b.Name, defaultBrokerName),
		intFieldDefault("broker.timeout_seconds", &b.TimeoutSeconds, defaultBrokerTimeout),
	)
}

func (n *NetworkConfig) applyDefaults(keys keySet) {
	if n == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("network.reconnect_interval", &n.ReconnectIntervalSeconds, defaultReconnectInterval),
		intFieldDefault("network.max_retries", &n.MaxRetries, defaultMaxRetries),
		intFieldDefault("network.retry_delay", &n.RetryDelaySeconds, defaultRetryDelay),
		intFieldDefault("network.health_poll", &n.HealthPollSeconds, defaultHealthPoll),
	)
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("trading.mode", &t.Mode, defaultTradingMode),
		intFieldDefault("trading.max_positions", &t.MaxPositions, defaultMaxPositions),
		stringFieldDefault("trading.default_exchange", &t.DefaultExchange, defaultExchange),
		intFieldDefault("trading.monitor_interval", &t.MonitorSeconds, defaultMonitorInterval),
		fieldDefault{
			key:   "trading.paper_fill_price",
			need:  func() bool { return t.PaperFillPrice <= 0 },
			apply: func() { t.PaperFillPrice = defaultPaperFillPrice },
		},
	)
	t.Mode = strings.ToLower(strings.TrimSpace(t.Mode))
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "risk.max_daily_loss",
			need:  func() bool { return r.MaxDailyLoss <= 0 },
			apply: func() { r.MaxDailyLoss = defaultMaxDailyLoss },
		},
		fieldDefault{
			key:   "risk.warning_ratio",
			need:  func() bool { return r.WarningRatio <= 0 },
			apply: func() { r.WarningRatio = defaultWarningRatio },
		},
		boolFieldDefault("risk.circuit_breaker_enabled", &r.CircuitBreakerEnabled, true),
		intFieldDefault("risk.breaker_threshold", &r.BreakerThreshold, defaultBreakerThreshold),
		intFieldDefault("risk.breaker_cooldown_seconds", &r.BreakerCooldown, defaultBreakerCooldown),
	)
}

func (d *DataConfig) applyDefaults(keys keySet, exchange string) {
	if d == nil {
		return
	}
	if strings.TrimSpace(exchange) == "" {
		exchange = defaultExchange
	}
	applyFieldDefaults(keys,
		boolFieldDefault("data.enabled", &d.Enabled, true),
		stringFieldDefault("data.exchange", &d.Exchange, exchange),
		intFieldDefault("data.poll_interval", &d.PollSeconds, defaultDataPoll),
		intFieldDefault("data.cache_ttl", &d.CacheTTLSeconds, defaultDataCacheTTL),
	)
	d.Symbols = symbol.Unique(d.Symbols)
}

func (d *DatabaseConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("database.driver", &d.Driver, defaultDatabaseDriver),
		stringFieldDefault("database.path", &d.Path, defaultDatabasePath),
		stringFieldDefault("database.journal_path", &d.JournalPath, defaultJournalPath),
	)
	d.Driver = strings.ToLower(strings.TrimSpace(d.Driver))
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

// boolFieldDefault only applies when the key is absent, so an explicit
// false in the file survives.
func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil },
		apply: func() { *target = def },
	}
}
