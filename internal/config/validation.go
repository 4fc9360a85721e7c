package config

import (
	"fmt"
	"strings"
)

func validate(cfg *Config) error {
	var problems []string

	if cfg.Engine.MaxConcurrentExecutions > 256 {
		problems = append(problems, "engine.max_concurrent_executions exceeds 256")
	}
	if cfg.Engine.RetryBaseDelayMS > cfg.Engine.RetryMaxDelayMS {
		problems = append(problems, "engine.retry_base_delay_ms exceeds retry_max_delay_ms")
	}
	if cfg.Executor.ConfirmPollInitialMS > cfg.Executor.ConfirmPollMaxMS {
		problems = append(problems, "executor.confirm_poll_initial_ms exceeds confirm_poll_max_ms")
	}
	if cfg.Executor.ConfirmBudgetSeconds > cfg.Executor.ExecutionTimeoutSeconds*10 {
		problems = append(problems, "executor.confirm_budget_seconds unreasonably large vs execution_timeout_seconds")
	}
	if strings.TrimSpace(cfg.Backends.RegistryPath) == "" {
		problems = append(problems, "backends.registry_path cannot be empty")
	}
	if cfg.Notify.Webhook.Enabled && strings.TrimSpace(cfg.Notify.Webhook.URL) == "" {
		problems = append(problems, "notify.webhook.url required when webhook enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
