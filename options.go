package credex

import "go.uber.org/zap"

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	driver   string // "valkey" or "redis"
	addrs    []string
	password string

	keyPrefix        string
	agents           []string
	dailyLimit       int64
	warningThreshold float64
	overageTolerance int64
	pollLimit        int

	logger *zap.Logger
}

// WithRedis configures the client to connect to a Redis instance.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "redis"
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithValkey configures the client to connect to a Valkey instance.
func WithValkey(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "valkey"
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithKeyPrefix sets the storage key namespace. Default: "credex:".
func WithKeyPrefix(prefix string) Option {
	return optionFunc(func(c *clientConfig) {
		c.keyPrefix = prefix
	})
}

// WithAgents restricts ledger operations to the given agent ids.
// Without it, any agent id is accepted.
func WithAgents(agents ...string) Option {
	return optionFunc(func(c *clientConfig) {
		c.agents = agents
	})
}

// WithDailyLimit sets the per-agent daily budget in units. Default: 300000.
func WithDailyLimit(limit int64) Option {
	return optionFunc(func(c *clientConfig) {
		c.dailyLimit = limit
	})
}

// WithWarningThreshold sets the usage fraction above which status reads set
// the warning flag. Default: 0.8.
func WithWarningThreshold(threshold float64) Option {
	return optionFunc(func(c *clientConfig) {
		c.warningThreshold = threshold
	})
}

// WithOverageTolerance sets how many units an actual cost may exceed its
// estimate before an overage warning fires. Default: 0.
func WithOverageTolerance(units int64) Option {
	return optionFunc(func(c *clientConfig) {
		c.overageTolerance = units
	})
}

// WithPollLimit caps how many messages a single Poll returns. Default: 100.
func WithPollLimit(limit int) Option {
	return optionFunc(func(c *clientConfig) {
		c.pollLimit = limit
	})
}

// WithLogger enables structured logging for client operations.
// Pass nil to disable (default).
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}
