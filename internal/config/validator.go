package config

import (
	"fmt"
	"strings"

	"github.com/gyaneshwarpardhi/engage/internal/expr"
	"github.com/gyaneshwarpardhi/engage/internal/trigger"
)

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	if cfg.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	var errs []string

	if cfg.Engine.TickIntervalMs < 0 || cfg.Engine.IdleTimeoutSec < 0 || cfg.Engine.MilestoneIntervalSec < 0 {
		errs = append(errs, "engine: intervals must not be negative")
	}
	if cfg.Engine.ExitIntentThresholdPx < 0 {
		errs = append(errs, "engine: exit_intent_threshold_px must not be negative")
	}

	switch cfg.Beacon.Transport {
	case "nop":
	case "http":
		if cfg.Beacon.Endpoint == "" {
			errs = append(errs, "beacon: endpoint is required for the http transport")
		}
	case "kafka":
		if len(cfg.Beacon.Brokers) == 0 {
			errs = append(errs, "beacon: brokers are required for the kafka transport")
		}
	default:
		errs = append(errs, fmt.Sprintf("beacon: unknown transport %q", cfg.Beacon.Transport))
	}
	if cfg.Beacon.Workers < 0 || cfg.Beacon.QueueDepth < 0 || cfg.Beacon.FlushWindow < 0 {
		errs = append(errs, "beacon: workers, queue_depth and flush_window must not be negative")
	}

	switch cfg.Storage.Backend {
	case "memory":
	case "sqlite":
		if cfg.Storage.Path == "" {
			errs = append(errs, "storage: path is required for the sqlite backend")
		}
	case "redis":
		if cfg.Storage.RedisAddr == "" {
			errs = append(errs, "storage: redis_addr is required for the redis backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q", cfg.Storage.Backend))
	}

	seen := make(map[string]int)
	for i, p := range cfg.Prompts {
		loc := fmt.Sprintf("prompts[%d]", i)
		if p.Prompt == "" {
			errs = append(errs, loc+": prompt is required")
		} else if first, ok := seen[p.Prompt]; ok {
			errs = append(errs, fmt.Sprintf("%s: duplicate prompt %q (first seen at prompts[%d])", loc, p.Prompt, first))
		} else {
			seen[p.Prompt] = i
		}
		if p.Expression == "" {
			errs = append(errs, loc+": expression is required")
		} else if _, err := expr.Compile(p.Expression); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", loc, err))
		}
		switch trigger.Kind(p.Trigger) {
		case trigger.OnTick, trigger.OnExitIntent, "":
		default:
			errs = append(errs, fmt.Sprintf("%s: unknown trigger %q", loc, p.Trigger))
		}
		if p.CooldownHours < 0 {
			errs = append(errs, loc+": cooldown_hours must not be negative")
		}
	}

	if len(errs) == 0 && len(cfg.Prompts) > 0 {
		if _, err := cfg.Policy(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Policy compiles the prompt rules, or returns the built-in policy when the
// file defines none.
func (c *Config) Policy() (*trigger.Policy, error) {
	if len(c.Prompts) == 0 {
		return trigger.DefaultPolicy(), nil
	}
	rules := make([]trigger.Rule, 0, len(c.Prompts))
	for _, p := range c.Prompts {
		rules = append(rules, trigger.Rule{
			Prompt:        p.Prompt,
			Expression:    p.Expression,
			Trigger:       trigger.Kind(p.Trigger),
			CooldownHours: p.CooldownHours,
			OneShot:       p.OneShot,
		})
	}
	return trigger.NewPolicy(rules)
}
