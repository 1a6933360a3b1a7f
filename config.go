package tenantfair

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jabbala/tenantfair/tier"
)

// Config holds configuration for the scheduler engine.
type Config struct {
	// PoolSize is the fixed number of worker slots per replica. This is
	// the primary concurrency bound protecting the downstream pipeline.
	PoolSize int `yaml:"pool_size"`

	// QueueCeiling is the hard size limit of the global queue across
	// all tiers. Enqueues beyond it fail with ErrCapacityExhausted.
	QueueCeiling int `yaml:"queue_ceiling"`

	// TickInterval is the fair-share allocation tick. The expiry scan
	// runs once per tick, before allocation.
	TickInterval time.Duration `yaml:"tick_interval"`

	// QueueDeadline is the maximum time a request may wait in the queue
	// before it is expired to the DLQ.
	QueueDeadline time.Duration `yaml:"queue_deadline"`

	// LocalClaimBuffer is the upper bound on credits one tick may grant.
	// Grants are sized to the pool's free slots; this caps them when a
	// large pool sits idle. Zero disables claiming entirely.
	LocalClaimBuffer int `yaml:"local_claim_buffer"`

	// RedistributionCapped bounds idle-capacity redistribution by each
	// tier's hard cap. Disabling it lets a lone busy tier absorb the
	// full capacity.
	RedistributionCapped bool `yaml:"redistribution_capped"`

	// GovernorInterval is how often the noisy-neighbor scan runs.
	GovernorInterval time.Duration `yaml:"governor_interval"`

	// GovernorWindow is the sliding consumption window the governor
	// evaluates tenants over.
	GovernorWindow time.Duration `yaml:"governor_window"`

	// GovernorSustain is the number of consecutive over-cap scans
	// before a tenant transitions to Throttled.
	GovernorSustain int `yaml:"governor_sustain"`

	// GovernorCooldown is the number of consecutive compliant scans
	// before a throttled tenant returns to Normal.
	GovernorCooldown int `yaml:"governor_cooldown"`

	// GovernorPenalty multiplies a throttled tenant's sustained refill
	// rate. Must be in (0, 1).
	GovernorPenalty float64 `yaml:"governor_penalty"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Tiers holds the per-tier fair shares, hard caps, and bucket rates.
	Tiers tier.Set `yaml:"tiers"`
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		PoolSize:             10,
		QueueCeiling:         1000,
		TickInterval:         100 * time.Millisecond,
		QueueDeadline:        30 * time.Second,
		LocalClaimBuffer:     100,
		RedistributionCapped: true,
		GovernorInterval:     time.Second,
		GovernorWindow:       60 * time.Second,
		GovernorSustain:      3,
		GovernorCooldown:     5,
		GovernorPenalty:      0.25,
		ShutdownTimeout:      30 * time.Second,
		Tiers:                tier.DefaultSet(),
	}
}

// Validate checks structural invariants on the configuration.
func (c Config) Validate() error {
	if c.PoolSize <= 0 {
		return fmt.Errorf("tenantfair: pool size must be positive, got %d", c.PoolSize)
	}
	if c.QueueCeiling <= 0 {
		return fmt.Errorf("tenantfair: queue ceiling must be positive, got %d", c.QueueCeiling)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tenantfair: tick interval must be positive")
	}
	if c.QueueDeadline <= 0 {
		return fmt.Errorf("tenantfair: queue deadline must be positive")
	}
	if c.GovernorPenalty <= 0 || c.GovernorPenalty >= 1 {
		return fmt.Errorf("tenantfair: governor penalty must be in (0, 1), got %g", c.GovernorPenalty)
	}
	if c.GovernorSustain < 1 || c.GovernorCooldown < 1 {
		return fmt.Errorf("tenantfair: governor sustain and cooldown must be at least 1")
	}
	return c.Tiers.Validate()
}

// LoadConfig reads a YAML config file, overlaying it on DefaultConfig.
// Fields absent from the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("tenantfair: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("tenantfair: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
