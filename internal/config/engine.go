package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EngineConfig tunes the event router and outbox dispatcher. It can be
// reloaded at runtime from engine.yml without restarting the service.
type EngineConfig struct {
	DispatchTimeout     time.Duration `mapstructure:"dispatchTimeout"`
	ConflictRetries     int           `mapstructure:"conflictRetries"`
	ConflictBackoff     time.Duration `mapstructure:"conflictBackoff"`
	OutboxBatchSize     int           `mapstructure:"outboxBatchSize"`
	OutboxPollInterval  time.Duration `mapstructure:"outboxPollInterval"`
	OutboxMaxAttempts   int           `mapstructure:"outboxMaxAttempts"`
	OutboxRetryBackoff  time.Duration `mapstructure:"outboxRetryBackoff"`
	InboundBlockTimeout time.Duration `mapstructure:"inboundBlockTimeout"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DispatchTimeout:     5 * time.Second,
		ConflictRetries:     3,
		ConflictBackoff:     50 * time.Millisecond,
		OutboxBatchSize:     50,
		OutboxPollInterval:  time.Second,
		OutboxMaxAttempts:   10,
		OutboxRetryBackoff:  500 * time.Millisecond,
		InboundBlockTimeout: 5 * time.Second,
	}
}

// EngineConfigHolder hands out the current engine config and swaps it
// atomically on file change.
type EngineConfigHolder struct {
	current atomic.Value // holds EngineConfig
}

func NewEngineConfigHolder() (*EngineConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("engine")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/pointledger")
	v.AddConfigPath(".")

	v.SetEnvPrefix("POINTLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultEngineConfig()
	v.SetDefault("engine.dispatchTimeout", defaults.DispatchTimeout)
	v.SetDefault("engine.conflictRetries", defaults.ConflictRetries)
	v.SetDefault("engine.conflictBackoff", defaults.ConflictBackoff)
	v.SetDefault("engine.outboxBatchSize", defaults.OutboxBatchSize)
	v.SetDefault("engine.outboxPollInterval", defaults.OutboxPollInterval)
	v.SetDefault("engine.outboxMaxAttempts", defaults.OutboxMaxAttempts)
	v.SetDefault("engine.outboxRetryBackoff", defaults.OutboxRetryBackoff)
	v.SetDefault("engine.inboundBlockTimeout", defaults.InboundBlockTimeout)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg EngineConfig
	if err := v.UnmarshalKey("engine", &cfg); err != nil {
		return nil, err
	}
	if err := validateEngineConfig(cfg); err != nil {
		return nil, err
	}

	holder := &EngineConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated EngineConfig
		if err := v.UnmarshalKey("engine", &updated); err != nil {
			log.Printf("[engine-config] reload failed: %v", err)
			return
		}
		if err := validateEngineConfig(updated); err != nil {
			log.Printf("[engine-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[engine-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *EngineConfigHolder) Get() EngineConfig {
	return h.current.Load().(EngineConfig)
}

// NewStaticEngineConfigHolder returns a holder pinned to cfg. Test helper.
func NewStaticEngineConfigHolder(cfg EngineConfig) *EngineConfigHolder {
	holder := &EngineConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func validateEngineConfig(cfg EngineConfig) error {
	if cfg.DispatchTimeout <= 0 {
		return errors.New("engine.dispatchTimeout must be positive")
	}
	if cfg.ConflictRetries < 0 {
		return errors.New("engine.conflictRetries cannot be negative")
	}
	if cfg.OutboxBatchSize <= 0 {
		return errors.New("engine.outboxBatchSize must be positive")
	}
	if cfg.OutboxPollInterval <= 0 {
		return errors.New("engine.outboxPollInterval must be positive")
	}
	return nil
}
