package types

import "time"

// Account is the immutable identity loaded for one upstream client session.
type Account struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	AuthSecret string `json:"auth_secret,omitempty"`
}

// ServerConf controls the HTTP surface (C7).
type ServerConf struct {
	Port         int    `ini:"port"`
	AdminUser    string `ini:"admin_user"`
	AdminPass    string `ini:"admin_password"`
	SettingsPath string `ini:"settings_path"`
}

// AccountsConf points at the account list and proxy list files.
type AccountsConf struct {
	AccountsPath string `ini:"accounts_path"`
	ProxiesPath  string `ini:"proxies_path"`
}

// FleetConf drives the Session Fleet Supervisor (C3).
type FleetConf struct {
	MaxOnlineBots              int `ini:"max_online_bots"`
	InitialChunkSize           int `ini:"initial_chunk_size"`
	InitialChunkGapSeconds     int `ini:"initial_chunk_gap_seconds"`
	SpareAccountDelaySeconds   int `ini:"spare_account_delay_seconds"`
	MaintenanceIntervalSeconds int `ini:"maintenance_interval_seconds"`
}

// ProxyPoolConf drives the Proxy Pool Scheduler (C2).
type ProxyPoolConf struct {
	MaxRequestsPerProxy int    `ini:"max_requests_per_proxy"`
	RequestCooldownMs   int    `ini:"request_cooldown_ms"`
	SelectionStrategy   string `ini:"selection_strategy"` // "least_loaded" | "round_robin"
	RetryEnabled        bool   `ini:"retry_enabled"`
	RetryMaxRetries     int    `ini:"retry_max_retries"`
	RetryExcludeFailed  bool   `ini:"retry_exclude_failed"`
	RetryDelayMs        int    `ini:"retry_delay_ms"`
}

// QueueConf drives the Request Queue (C4).
type QueueConf struct {
	MaxAttempts             int `ini:"max_attempts"`
	MaxSimultaneousRequests int `ini:"max_simultaneous_requests"`
	MaxQueueSize            int `ini:"max_queue_size"`
	ConcurrencyTickMs       int `ini:"concurrency_tick_ms"`
}

// SessionConf drives per-session inspect pacing (C1).
type SessionConf struct {
	RequestDelayMs int `ini:"request_delay_ms"`
	TTLMs          int `ini:"ttl_ms"`
}

// CacheConf selects the Cache Facade backend (C6).
type CacheConf struct {
	PostgresDSN string `ini:"postgres_dsn"`
}

// RateLimitConf drives the HTTP rate limiter (C10).
type RateLimitConf struct {
	Enabled  bool `ini:"enabled"`
	Window   int  `ini:"window_seconds"`
	MaxCount int  `ini:"max_requests"`
}

// LogConf contains logging specific configuration.
type LogConf struct {
	Level string `ini:"level"`
}

// Config is the unified behavior configuration, mapped from an .ini file.
type Config struct {
	LogConf       `ini:"log"`
	ServerConf    `ini:"server"`
	AccountsConf  `ini:"accounts"`
	FleetConf     `ini:"fleet"`
	ProxyPoolConf `ini:"proxypool"`
	QueueConf     `ini:"queue"`
	SessionConf   `ini:"session"`
	CacheConf     `ini:"cache"`
	RateLimitConf `ini:"ratelimit"`
}

// RequestDelay returns the configured per-session post-reply spacing delay.
func (c *Config) RequestDelay() time.Duration {
	return time.Duration(c.SessionConf.RequestDelayMs) * time.Millisecond
}

// InspectTTL returns the configured inspect-reply timeout.
func (c *Config) InspectTTL() time.Duration {
	return time.Duration(c.SessionConf.TTLMs) * time.Millisecond
}

// RetryDelayDuration returns the configured non-steamguard, non-ratelimit
// login retry delay, used as the fleet's policy default.
func (c *ProxyPoolConf) RetryDelayDuration() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}
