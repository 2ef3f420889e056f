package relay

import (
	"strings"
	"time"

	"github.com/smallbiznis/medaudit/internal/config"
)

const defaultConsumer = "amqp"

// Config controls relay polling.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	Consumer     string
	Exchange     string
	// SettleDelay holds back entries younger than this so transactions that
	// allocated a lower id but committed later are not skipped.
	SettleDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
		BatchSize:    200,
		Consumer:     defaultConsumer,
		Exchange:     "medaudit.traceability",
		SettleDelay:  2 * time.Second,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		PollInterval: cfg.RelayPollInterval,
		BatchSize:    cfg.RelayBatchSize,
		Exchange:     cfg.AMQPExchange,
		SettleDelay:  cfg.RelaySettleDelay,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.Consumer = strings.TrimSpace(c.Consumer); c.Consumer == "" {
		c.Consumer = defaults.Consumer
	}
	if c.Exchange = strings.TrimSpace(c.Exchange); c.Exchange == "" {
		c.Exchange = defaults.Exchange
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	return c
}
