package scheduler

import "time"

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval       time.Duration
	ExpiryBatchSize   int
	RecheckBatchLimit int
	JobTimeout        time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       time.Minute,
		ExpiryBatchSize:   100,
		RecheckBatchLimit: 50,
		JobTimeout:        5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.ExpiryBatchSize <= 0 {
		c.ExpiryBatchSize = defaults.ExpiryBatchSize
	}
	if c.RecheckBatchLimit <= 0 {
		c.RecheckBatchLimit = defaults.RecheckBatchLimit
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
