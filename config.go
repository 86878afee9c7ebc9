package docrepl

import (
	"encoding/json"
	"time"

	"github.com/autom8ter/docrepl/errors"
	"github.com/autom8ter/docrepl/util"
)

// SourceConfig selects a registered oplog source
type SourceConfig struct {
	// Type is the registered source name: mongo, redis or memory
	Type   string         `json:"type" validate:"required"`
	Params map[string]any `json:"params"`
}

// Config configures a replicator
type Config struct {
	// Provider is the registered kv provider: badger, tikv or sqlite
	Provider       string         `json:"provider" validate:"required"`
	ProviderParams map[string]any `json:"providerParams"`
	Source         SourceConfig   `json:"source"`
	// BatchSize bounds the operations applied in one transaction
	BatchSize int `json:"batchSize" validate:"gte=0"`
	// PollTimeout bounds a single wait on the source
	PollTimeout time.Duration `json:"pollTimeout" validate:"gte=0"`
	// BatchLinger is how long a non-empty batch waits for more operations
	BatchLinger time.Duration `json:"batchLinger" validate:"gte=0"`
	// MetadataRetries bounds the optimistic metadata merge attempts
	MetadataRetries int `json:"metadataRetries" validate:"gte=0"`
	// MaxReconnects bounds consecutive reconnects to the source
	MaxReconnects int `json:"maxReconnects" validate:"gte=0"`
	// LockLease is the renewal interval of the replication lock
	LockLease time.Duration `json:"lockLease" validate:"gte=0"`
	LogLevel  string        `json:"logLevel" validate:"omitempty,oneof=debug info warn error"`
	// HTTPAddr serves the status api when set
	HTTPAddr string `json:"httpAddr"`
}

const (
	defaultBatchSize       = 1000
	defaultPollTimeout     = time.Second
	defaultBatchLinger     = 20 * time.Millisecond
	defaultMetadataRetries = 8
	defaultMaxReconnects   = 3
	defaultLockLease       = time.Second
)

// setDefaults fills zero values
func (c *Config) setDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = defaultPollTimeout
	}
	if c.BatchLinger == 0 {
		c.BatchLinger = defaultBatchLinger
	}
	if c.MetadataRetries == 0 {
		c.MetadataRetries = defaultMetadataRetries
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = defaultMaxReconnects
	}
	if c.LockLease == 0 {
		c.LockLease = defaultLockLease
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate fills defaults and validates the config
func (c *Config) Validate() error {
	c.setDefaults()
	return util.ValidateStruct(c)
}

// LoadConfig parses a yaml or json config. Durations are written as strings ("250ms").
func LoadConfig(content []byte) (Config, error) {
	bits, err := util.YAMLToJSON(content)
	if err != nil {
		return Config{}, errors.Wrap(err, errors.Validation, "invalid config")
	}
	var raw map[string]any
	if err := json.Unmarshal(bits, &raw); err != nil {
		return Config{}, errors.Wrap(err, errors.Validation, "invalid config")
	}
	var cfg Config
	if err := util.Decode(raw, &cfg); err != nil {
		return Config{}, errors.Wrap(err, errors.Validation, "invalid config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
