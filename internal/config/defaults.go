package config

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = ":9985"
	}

	if c.Engine.MaxConcurrentExecutions <= 0 {
		c.Engine.MaxConcurrentExecutions = 3
	}
	if c.Engine.QueueSize <= 0 {
		c.Engine.QueueSize = 256
	}
	if c.Engine.MaxRetries < 0 {
		c.Engine.MaxRetries = 0
	}
	if c.Engine.RetryBaseDelayMS <= 0 {
		c.Engine.RetryBaseDelayMS = 500
	}
	if c.Engine.RetryMaxDelayMS <= 0 {
		c.Engine.RetryMaxDelayMS = 30000
	}
	if c.Engine.RetryFactor <= 1 {
		c.Engine.RetryFactor = 2
	}
	if c.Engine.DrainTimeoutSeconds <= 0 {
		c.Engine.DrainTimeoutSeconds = 20
	}

	if c.Executor.ExecutionTimeoutSeconds <= 0 {
		c.Executor.ExecutionTimeoutSeconds = 30
	}
	if c.Executor.ConfirmBudgetSeconds <= 0 {
		c.Executor.ConfirmBudgetSeconds = 45
	}
	if c.Executor.ConfirmPollInitialMS <= 0 {
		c.Executor.ConfirmPollInitialMS = 250
	}
	if c.Executor.ConfirmPollMaxMS <= 0 {
		c.Executor.ConfirmPollMaxMS = 4000
	}
	if c.Executor.CircuitBreakerThreshold <= 0 {
		c.Executor.CircuitBreakerThreshold = 5
	}
	if c.Executor.CircuitBreakerResetSeconds <= 0 {
		c.Executor.CircuitBreakerResetSeconds = 60
	}

	if c.Store.Path == "" {
		c.Store.Path = "data/txpilot.db"
	}
	if c.Store.RetentionHours <= 0 {
		c.Store.RetentionHours = 72
	}
	if c.Store.CleanupIntervalMinutes <= 0 {
		c.Store.CleanupIntervalMinutes = 30
	}
	if c.Store.SnapshotIntervalMin <= 0 {
		c.Store.SnapshotIntervalMin = 5
	}

	if c.Backends.RegistryPath == "" {
		c.Backends.RegistryPath = "configs/backends.yaml"
	}

	if c.Builder.TimeoutSeconds <= 0 {
		c.Builder.TimeoutSeconds = 10
	}
	if c.Notify.Webhook.TimeoutSeconds <= 0 {
		c.Notify.Webhook.TimeoutSeconds = 5
	}
}
