package config

import (
	"fmt"
	"time"
)

type (
	EngineConfig struct {
		App            App            `json:"app"`
		Storage        Storage        `json:"storage"`
		Cache          Cache          `json:"cache"`
		Queue          Queue          `json:"queue"`
		Sync           Sync           `json:"sync"`
		Backoff        Backoff        `json:"backoff"`
		CircuitBreaker CircuitBreaker `json:"circuit_breaker"`
		DrainPacing    DrainPacing    `json:"drain_pacing"`
		Compression    Compression    `json:"compression"`
		Logging        Logging        `json:"logging"`
	}

	App struct {
		ServiceName string `envconfig:"FIELDSYNC_SERVICE_NAME" default:"fieldsync" json:"service_name"`
	}

	Storage struct {
		// Path locates the sqlite database file. ":memory:" keeps the
		// store in RAM, which tests rely on.
		Path        string        `envconfig:"FIELDSYNC_STORAGE_PATH" default:"fieldsync.db" json:"path"`
		BusyTimeout time.Duration `envconfig:"FIELDSYNC_STORAGE_BUSY_TIMEOUT" default:"5s" json:"busy_timeout"`
	}

	Cache struct {
		// CapacityBytes bounds payload bytes across all tiers.
		CapacityBytes   int64         `envconfig:"FIELDSYNC_CACHE_CAPACITY_BYTES" default:"52428800" json:"capacity_bytes"`
		SweepInterval   time.Duration `envconfig:"FIELDSYNC_CACHE_SWEEP_INTERVAL" default:"5m" json:"sweep_interval"`
		RecencyWeight   float64       `envconfig:"FIELDSYNC_CACHE_RECENCY_WEIGHT" default:"1.0" json:"recency_weight"`
		FrequencyWeight float64       `envconfig:"FIELDSYNC_CACHE_FREQUENCY_WEIGHT" default:"1.0" json:"frequency_weight"`
	}

	Queue struct {
		// MaxRetries is how many failed attempts a record gets before
		// it becomes failed-permanent.
		MaxRetries       uint          `envconfig:"FIELDSYNC_QUEUE_MAX_RETRIES" default:"5" json:"max_retries"`
		HistoryLimit     int           `envconfig:"FIELDSYNC_QUEUE_HISTORY_LIMIT" default:"100" json:"history_limit"`
		HistoryRetention time.Duration `envconfig:"FIELDSYNC_QUEUE_HISTORY_RETENTION" default:"168h" json:"history_retention"`
	}

	Sync struct {
		// DrainOnEnqueue starts a drain pass for operations enqueued
		// while already online instead of waiting for the next
		// connectivity event.
		DrainOnEnqueue bool          `envconfig:"FIELDSYNC_SYNC_DRAIN_ON_ENQUEUE" default:"true" json:"drain_on_enqueue"`
		PruneInterval  time.Duration `envconfig:"FIELDSYNC_SYNC_PRUNE_INTERVAL" default:"1h" json:"prune_interval"`
		StatusBuffer   uint          `envconfig:"FIELDSYNC_SYNC_STATUS_BUFFER" default:"8" json:"status_buffer"`
	}

	Backoff struct {
		BaseDelay  time.Duration `envconfig:"FIELDSYNC_BACKOFF_BASE_DELAY" default:"1s" json:"base_delay"`
		Multiplier float64       `envconfig:"FIELDSYNC_BACKOFF_MULTIPLIER" default:"2.0" json:"multiplier"`
		Jitter     float64       `envconfig:"FIELDSYNC_BACKOFF_JITTER" default:"0.3" json:"jitter"`
		MaxDelay   time.Duration `envconfig:"FIELDSYNC_BACKOFF_MAX_DELAY" default:"2m" json:"max_delay"`
	}

	CircuitBreaker struct {
		Enabled          bool          `envconfig:"FIELDSYNC_CB_ENABLED" default:"true" json:"enabled"`
		MaxRequests      uint          `envconfig:"FIELDSYNC_CB_MAX_REQUESTS" default:"1" json:"max_requests"`
		Interval         time.Duration `envconfig:"FIELDSYNC_CB_INTERVAL" default:"60s" json:"interval"`
		Timeout          time.Duration `envconfig:"FIELDSYNC_CB_TIMEOUT" default:"30s" json:"timeout"`
		FailureThreshold uint          `envconfig:"FIELDSYNC_CB_FAILURE_THRESHOLD" default:"5" json:"failure_threshold"`
	}

	// DrainPacing rate-limits transmissions during a drain so a fleet of
	// devices reconnecting together does not stampede the remote.
	DrainPacing struct {
		Enabled      bool `envconfig:"FIELDSYNC_PACING_ENABLED" default:"true" json:"enabled"`
		OpsPerSecond int  `envconfig:"FIELDSYNC_PACING_OPS_PER_SECOND" default:"5" json:"ops_per_second"`
		Burst        int  `envconfig:"FIELDSYNC_PACING_BURST" default:"10" json:"burst"`
	}

	// Compression applies to cache payloads at rest.
	Compression struct {
		Enabled bool `envconfig:"FIELDSYNC_COMPRESSION_ENABLED" default:"true" json:"enabled"`

		// Level sets the brotli quality (0-11). Higher levels trade
		// CPU for density; mid levels suit low-end devices.
		Level int `envconfig:"FIELDSYNC_COMPRESSION_LEVEL" default:"5" json:"level"`

		// MinSize is the smallest payload (bytes) worth compressing.
		MinSize int `envconfig:"FIELDSYNC_COMPRESSION_MIN_SIZE" default:"256" json:"min_size"`
	}

	Logging struct {
		Level  string `envconfig:"FIELDSYNC_LOG_LEVEL" default:"info" json:"level"`
		Format string `envconfig:"FIELDSYNC_LOG_FORMAT" default:"json" json:"format"`
	}
)

func (c *Cache) Validate() error {
	if c.CapacityBytes <= 0 {
		return fmt.Errorf("cache capacity must be positive, got %d", c.CapacityBytes)
	}

	if c.RecencyWeight < 0 || c.FrequencyWeight < 0 {
		return fmt.Errorf("eviction weights must be non-negative, got recency=%v frequency=%v", c.RecencyWeight, c.FrequencyWeight)
	}

	return nil
}

func (c *Queue) Validate() error {
	if c.HistoryLimit < 0 {
		return fmt.Errorf("history limit must be non-negative, got %d", c.HistoryLimit)
	}

	return nil
}

func (c *Backoff) Validate() error {
	if c.BaseDelay <= 0 {
		return fmt.Errorf("backoff base delay must be positive, got %s", c.BaseDelay)
	}

	if c.Multiplier < 1 {
		return fmt.Errorf("backoff multiplier must be at least 1, got %v", c.Multiplier)
	}

	if c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("backoff max delay %s must not be below base delay %s", c.MaxDelay, c.BaseDelay)
	}

	return nil
}

func (c *DrainPacing) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.OpsPerSecond <= 0 {
		return fmt.Errorf("pacing ops per second must be positive, got %d", c.OpsPerSecond)
	}

	if c.Burst <= 0 {
		return fmt.Errorf("pacing burst must be positive, got %d", c.Burst)
	}

	return nil
}

func (c *Compression) Validate() error {
	if c.Level < 0 || c.Level > 11 {
		return fmt.Errorf("compression level must be between 0 and 11, got %d", c.Level)
	}

	if c.MinSize < 0 {
		return fmt.Errorf("compression min_size must be non-negative, got %d", c.MinSize)
	}

	return nil
}

func (c *EngineConfig) Validate() error {
	if err := c.Cache.Validate(); err != nil {
		return err
	}

	if err := c.Queue.Validate(); err != nil {
		return err
	}

	if err := c.Backoff.Validate(); err != nil {
		return err
	}

	if err := c.DrainPacing.Validate(); err != nil {
		return err
	}

	return c.Compression.Validate()
}
