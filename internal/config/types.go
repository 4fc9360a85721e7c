package config

import "time"

// Config is the top-level configuration carrier.
type Config struct {
	App      AppConfig      `toml:"app"`
	Engine   EngineConfig   `toml:"engine"`
	Executor ExecutorConfig `toml:"executor"`
	Store    StoreConfig    `toml:"store"`
	Backends BackendsConfig `toml:"backends"`
	Builder  BuilderConfig  `toml:"builder"`
	Notify   NotifyConfig   `toml:"notify"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// EngineConfig controls the scheduler: worker pool size, queue capacity and
// the retry policy applied to transient failures.
type EngineConfig struct {
	MaxConcurrentExecutions int     `toml:"max_concurrent_executions"`
	QueueSize               int     `toml:"queue_size"`
	MaxRetries              int     `toml:"max_retries"`
	RetryBaseDelayMS        int     `toml:"retry_base_delay_ms"`
	RetryMaxDelayMS         int     `toml:"retry_max_delay_ms"`
	RetryFactor             float64 `toml:"retry_factor"`
	DrainTimeoutSeconds     int     `toml:"drain_timeout_seconds"`
}

func (e EngineConfig) RetryBaseDelay() time.Duration {
	return time.Duration(e.RetryBaseDelayMS) * time.Millisecond
}

func (e EngineConfig) RetryMaxDelay() time.Duration {
	return time.Duration(e.RetryMaxDelayMS) * time.Millisecond
}

func (e EngineConfig) DrainTimeout() time.Duration {
	return time.Duration(e.DrainTimeoutSeconds) * time.Second
}

// ExecutorConfig controls per-attempt submission and confirmation behavior.
type ExecutorConfig struct {
	ExecutionTimeoutSeconds    int  `toml:"execution_timeout_seconds"`
	ConfirmBudgetSeconds       int  `toml:"confirm_budget_seconds"`
	ConfirmPollInitialMS       int  `toml:"confirm_poll_initial_ms"`
	ConfirmPollMaxMS           int  `toml:"confirm_poll_max_ms"`
	CircuitBreakerThreshold    int  `toml:"circuit_breaker_threshold"`
	CircuitBreakerResetSeconds int  `toml:"circuit_breaker_reset_seconds"`
	Preflight                  bool `toml:"preflight"`
}

func (e ExecutorConfig) ExecutionTimeout() time.Duration {
	return time.Duration(e.ExecutionTimeoutSeconds) * time.Second
}

func (e ExecutorConfig) ConfirmBudget() time.Duration {
	return time.Duration(e.ConfirmBudgetSeconds) * time.Second
}

func (e ExecutorConfig) ConfirmPollInitial() time.Duration {
	return time.Duration(e.ConfirmPollInitialMS) * time.Millisecond
}

func (e ExecutorConfig) ConfirmPollMax() time.Duration {
	return time.Duration(e.ConfirmPollMaxMS) * time.Millisecond
}

func (e ExecutorConfig) CircuitBreakerReset() time.Duration {
	return time.Duration(e.CircuitBreakerResetSeconds) * time.Second
}

type StoreConfig struct {
	Path                   string `toml:"path"`
	RetentionHours         int    `toml:"retention_hours"`
	CleanupIntervalMinutes int    `toml:"cleanup_interval_minutes"`
	SnapshotIntervalMin    int    `toml:"snapshot_interval_minutes"`
}

func (s StoreConfig) Retention() time.Duration {
	return time.Duration(s.RetentionHours) * time.Hour
}

func (s StoreConfig) CleanupInterval() time.Duration {
	return time.Duration(s.CleanupIntervalMinutes) * time.Minute
}

func (s StoreConfig) SnapshotInterval() time.Duration {
	return time.Duration(s.SnapshotIntervalMin) * time.Minute
}

// BackendsConfig points at the backend registry file, which carries the
// ordered backend priority list plus per-backend endpoints.
type BackendsConfig struct {
	RegistryPath string `toml:"registry_path"`
}

// BuilderConfig describes the external transaction builder endpoint.
type BuilderConfig struct {
	URL            string `toml:"url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

func (b BuilderConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

type NotifyConfig struct {
	Webhook WebhookConfig `toml:"webhook"`
}

type WebhookConfig struct {
	Enabled        bool   `toml:"enabled"`
	URL            string `toml:"url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

func (w WebhookConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutSeconds) * time.Second
}
