package driver

import (
	"time"

	"github.com/mr-fatalyst/oxyde/oxerr"
	"github.com/mr-fatalyst/oxyde/query/sqlgen"
)

// PoolSettings configure one named pool. Zero values fall back to the
// dialect defaults at init.
type PoolSettings struct {
	MaxConnections    int           `mapstructure:"max_connections"`
	MinConnections    int           `mapstructure:"min_connections"`
	AcquireTimeout    time.Duration `mapstructure:"acquire_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	MaxLifetime       time.Duration `mapstructure:"max_lifetime"`
	TestBeforeAcquire bool          `mapstructure:"test_before_acquire"`

	TransactionTimeout         time.Duration `mapstructure:"transaction_timeout"`
	TransactionCleanupInterval time.Duration `mapstructure:"transaction_cleanup_interval"`

	// SQLite PRAGMAs, applied to every connection of a SQLite pool.
	SQLiteJournalMode string `mapstructure:"sqlite_journal_mode"`
	SQLiteSynchronous string `mapstructure:"sqlite_synchronous"`
	SQLiteCacheSize   int    `mapstructure:"sqlite_cache_size"`
	SQLiteBusyTimeout int    `mapstructure:"sqlite_busy_timeout"`

	// MaxPayload bounds an inbound wire frame in bytes.
	MaxPayload int `mapstructure:"max_payload"`

	// InsertBatchSize bounds one multi-row INSERT; larger batches are
	// chunked into consecutive statements.
	InsertBatchSize int `mapstructure:"insert_batch_size"`
}

// DefaultMaxPayload bounds inbound frames when the pool does not override it.
const DefaultMaxPayload = 16 << 20

// DefaultSettings returns the dialect defaults.
func DefaultSettings(d sqlgen.Dialect) PoolSettings {
	s := PoolSettings{
		MaxConnections:             10,
		MinConnections:             0,
		AcquireTimeout:             30 * time.Second,
		IdleTimeout:                10 * time.Minute,
		MaxLifetime:                30 * time.Minute,
		TransactionTimeout:         30 * time.Second,
		TransactionCleanupInterval: 5 * time.Second,
		MaxPayload:                 DefaultMaxPayload,
		InsertBatchSize:            1000,
	}
	if d == sqlgen.SQLite {
		s.MaxConnections = 5
		s.SQLiteJournalMode = "WAL"
		s.SQLiteSynchronous = "NORMAL"
		s.SQLiteCacheSize = 10000
		s.SQLiteBusyTimeout = 5000
	}
	return s
}

// withDefaults fills unset fields from the dialect defaults.
func (s PoolSettings) withDefaults(d sqlgen.Dialect) PoolSettings {
	def := DefaultSettings(d)
	if s.MaxConnections == 0 {
		s.MaxConnections = def.MaxConnections
	}
	if s.AcquireTimeout == 0 {
		s.AcquireTimeout = def.AcquireTimeout
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = def.IdleTimeout
	}
	if s.MaxLifetime == 0 {
		s.MaxLifetime = def.MaxLifetime
	}
	if s.TransactionTimeout == 0 {
		s.TransactionTimeout = def.TransactionTimeout
	}
	if s.TransactionCleanupInterval == 0 {
		s.TransactionCleanupInterval = def.TransactionCleanupInterval
	}
	if s.MaxPayload == 0 {
		s.MaxPayload = def.MaxPayload
	}
	if s.InsertBatchSize == 0 {
		s.InsertBatchSize = def.InsertBatchSize
	}
	if d == sqlgen.SQLite {
		if s.SQLiteJournalMode == "" {
			s.SQLiteJournalMode = def.SQLiteJournalMode
		}
		if s.SQLiteSynchronous == "" {
			s.SQLiteSynchronous = def.SQLiteSynchronous
		}
		if s.SQLiteCacheSize == 0 {
			s.SQLiteCacheSize = def.SQLiteCacheSize
		}
		if s.SQLiteBusyTimeout == 0 {
			s.SQLiteBusyTimeout = def.SQLiteBusyTimeout
		}
	}
	return s
}

// Validate rejects negative sizes and durations.
func (s PoolSettings) Validate() error {
	if s.MaxConnections < 0 {
		return oxerr.New(oxerr.KindConfig, "max_connections must not be negative")
	}
	if s.MinConnections < 0 {
		return oxerr.New(oxerr.KindConfig, "min_connections must not be negative")
	}
	if s.MinConnections > s.MaxConnections && s.MaxConnections > 0 {
		return oxerr.New(oxerr.KindConfig, "min_connections %d exceeds max_connections %d", s.MinConnections, s.MaxConnections)
	}
	for name, d := range map[string]time.Duration{
		"acquire_timeout":              s.AcquireTimeout,
		"idle_timeout":                 s.IdleTimeout,
		"max_lifetime":                 s.MaxLifetime,
		"transaction_timeout":          s.TransactionTimeout,
		"transaction_cleanup_interval": s.TransactionCleanupInterval,
	} {
		if d < 0 {
			return oxerr.New(oxerr.KindConfig, "%s must not be negative", name)
		}
	}
	if s.SQLiteCacheSize < 0 || s.SQLiteBusyTimeout < 0 {
		return oxerr.New(oxerr.KindConfig, "sqlite pragma values must not be negative")
	}
	if s.MaxPayload < 0 {
		return oxerr.New(oxerr.KindConfig, "max_payload must not be negative")
	}
	if s.InsertBatchSize < 0 {
		return oxerr.New(oxerr.KindConfig, "insert_batch_size must not be negative")
	}
	return nil
}
