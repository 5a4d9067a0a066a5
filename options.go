package stash

import (
	"io/fs"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	str2duration "github.com/xhit/go-str2duration/v2"
)

const (
	// DefaultTTL tells Set and Push to use the store's configured default TTL.
	DefaultTTL time.Duration = 0

	// NoExpiration marks an entry that never expires. It is also the
	// default-of-defaults: a store configured without WithDefaultTTL writes
	// eternal entries.
	NoExpiration time.Duration = -1

	// DefaultDebounce is how long the store waits after a mutation before
	// flushing to disk, so a burst of mutations collapses into one write.
	DefaultDebounce = 100 * time.Millisecond
)

// config holds the resolved configuration for a Store.
type config struct {
	defaultTTL time.Duration
	debounce   time.Duration
	codec      Codec
	initial    map[string]any
	log        *logrus.Logger
	fileMode   fs.FileMode
}

// Option configures a Store.
type Option func(*config)

func defaultConfig() config {
	return config{
		defaultTTL: NoExpiration,
		debounce:   DefaultDebounce,
		codec:      JSON,
		log:        logrus.StandardLogger(),
		fileMode:   0o644,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithDefaultTTL sets the TTL applied when Set or Push is called with
// DefaultTTL, and the TTL stamped on entries seeded by WithInitialData.
// Defaults to NoExpiration.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *config) { c.defaultTTL = d }
}

// WithDebounce sets the write-back delay. Defaults to DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(c *config) { c.debounce = d }
}

// WithCodec sets the snapshot serialization format. Defaults to JSON.
func WithCodec(codec Codec) Option {
	return func(c *config) { c.codec = codec }
}

// WithInitialData seeds the store when the snapshot file does not exist yet.
// Each entry is written as a scalar with the store's default TTL. Ignored
// when a snapshot is loaded.
func WithInitialData(data map[string]any) Option {
	return func(c *config) { c.initial = data }
}

// WithLogger sets the logger used for load/persist diagnostics and for
// deferred flush failures, which have no caller to return an error to.
// Defaults to logrus.StandardLogger().
func WithLogger(log *logrus.Logger) Option {
	return func(c *config) { c.log = log }
}

// WithFileMode sets the permissions of the snapshot file. Defaults to 0644.
func WithFileMode(mode fs.FileMode) Option {
	return func(c *config) { c.fileMode = mode }
}

// ParseTTL parses a human TTL string such as "90m", "2d12h" or "1w". The
// empty string, "forever" and "never" parse to NoExpiration. Useful for
// stores whose TTLs come from configuration files.
func ParseTTL(s string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "forever", "never":
		return NoExpiration, nil
	}
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "parse ttl %q", s)
	}
	return d, nil
}
