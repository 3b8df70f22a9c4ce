// Package driver owns the named connection pools and the transaction table,
// executes compiled SQL, and classifies backend failures into the engine's
// typed error envelope.
package driver

import (
	"context"
	"database/sql"
	stddriver "database/sql/driver"
	"errors"
	"fmt"
	"net/url"
	"strings"

	goversion "github.com/hashicorp/go-version"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/mr-fatalyst/oxyde/internal/debug"
	"github.com/mr-fatalyst/oxyde/oxerr"
	"github.com/mr-fatalyst/oxyde/query/sqlgen"
	"github.com/mr-fatalyst/oxyde/telemetry"
)

// Pool is one named pool entry: the dialect, the pooled handle and the
// settings it was opened with.
type Pool struct {
	name     string
	dialect  sqlgen.Dialect
	db       *sql.DB
	settings PoolSettings
	caps     sqlgen.Capabilities
}

// Name returns the registry key of the pool.
func (p *Pool) Name() string { return p.name }

// Dialect returns the pool's SQL dialect.
func (p *Pool) Dialect() sqlgen.Dialect { return p.dialect }

// Settings returns the pool's effective settings.
func (p *Pool) Settings() PoolSettings { return p.settings }

// Capabilities returns the probed backend capabilities.
func (p *Pool) Capabilities() sqlgen.Capabilities { return p.caps }

// DB exposes the underlying handle. Intended for tests and the CLI ping.
func (p *Pool) DB() *sql.DB { return p.db }

// openPool resolves the URL's dialect, opens the backing pool and applies
// the settings.
func openPool(ctx context.Context, name, rawURL string, settings PoolSettings) (*Pool, error) {
	dialect, dsn, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	settings = settings.withDefaults(dialect)
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	if dialect == sqlgen.SQLite {
		dsn = sqliteDSN(dsn, settings)
	}

	db, err := sql.Open(driverName(dialect), dsn)
	if err != nil {
		return nil, oxerr.Wrap(oxerr.KindConfig, err, "opening pool %q", name)
	}
	db.SetMaxOpenConns(settings.MaxConnections)
	db.SetMaxIdleConns(settings.MaxConnections)
	db.SetConnMaxIdleTime(settings.IdleTimeout)
	db.SetConnMaxLifetime(settings.MaxLifetime)

	p := &Pool{
		name:     name,
		dialect:  dialect,
		db:       db,
		settings: settings,
		caps:     probeCapabilities(dialect),
	}

	if err := p.warmUp(ctx); err != nil {
		db.Close()
		return nil, err
	}
	debug.Debug("pool opened", "name", name, "dialect", string(dialect))
	telemetry.Record(telemetry.Event{Kind: "pool_init", Pool: name, Dialect: string(dialect)})
	return p, nil
}

func driverName(d sqlgen.Dialect) string {
	switch d {
	case sqlgen.Postgres:
		return "postgres"
	case sqlgen.MySQL:
		return "mysql"
	default:
		return "sqlite3"
	}
}

// probeCapabilities resolves version-gated features. SQLite grew RETURNING in
// 3.35.0; the linked library version decides.
func probeCapabilities(d sqlgen.Dialect) sqlgen.Capabilities {
	caps := sqlgen.DefaultCapabilities(d)
	if d == sqlgen.SQLite {
		libVersion, _, _ := sqlite3.Version()
		have, err := goversion.NewVersion(libVersion)
		if err != nil {
			caps.Returning = false
			return caps
		}
		min := goversion.Must(goversion.NewVersion("3.35.0"))
		caps.Returning = have.GreaterThanOrEqual(min)
	}
	return caps
}

// warmUp reaches MinConnections by holding that many live connections at
// once before releasing them back.
func (p *Pool) warmUp(ctx context.Context) error {
	if p.settings.MinConnections <= 0 {
		return p.db.PingContext(ctx)
	}
	conns := make([]*sql.Conn, 0, p.settings.MinConnections)
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()
	for i := 0; i < p.settings.MinConnections; i++ {
		conn, err := p.db.Conn(ctx)
		if err != nil {
			return classify(err)
		}
		conns = append(conns, conn)
	}
	return nil
}

// acquire checks a connection out of the pool honouring acquire_timeout and,
// when configured, a liveness ping before hand-out.
func (p *Pool) acquire(ctx context.Context) (*sql.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, p.settings.AcquireTimeout)
	defer cancel()

	conn, err := p.db.Conn(acquireCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, oxerr.New(oxerr.KindPoolTimeout, "acquiring connection from pool %q exceeded %s", p.name, p.settings.AcquireTimeout)
		}
		return nil, classify(err)
	}
	if p.settings.TestBeforeAcquire {
		if err := conn.PingContext(ctx); err != nil {
			discard(conn)
			return nil, classify(err)
		}
	}
	return conn, nil
}

// discard drops the connection instead of returning it to the pool.
func discard(conn *sql.Conn) {
	_ = conn.Raw(func(any) error { return stddriver.ErrBadConn })
	_ = conn.Close()
}

// releaseAfter returns the connection to the pool, discarding it instead
// when err is connection-level.
func releaseAfter(conn *sql.Conn, err error) {
	if err != nil && oxerr.IsKind(err, oxerr.KindConnection) {
		discard(conn)
		return
	}
	_ = conn.Close()
}

// ParseURL resolves the dialect from the URL scheme and produces the DSN the
// backend driver expects.
func ParseURL(rawURL string) (sqlgen.Dialect, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", oxerr.Wrap(oxerr.KindConfig, err, "malformed connection url")
	}
	dialect, err := sqlgen.DialectFromScheme(u.Scheme)
	if err != nil {
		return "", "", err
	}

	switch dialect {
	case sqlgen.Postgres:
		// lib/pq accepts the URL form directly.
		return dialect, rawURL, nil
	case sqlgen.MySQL:
		dsn, err := mysqlDSN(u)
		if err != nil {
			return "", "", err
		}
		return dialect, dsn, nil
	default:
		path := strings.TrimPrefix(u.Path, "/")
		if path == "" {
			return "", "", oxerr.New(oxerr.KindConfig, "sqlite url missing database path")
		}
		if path != ":memory:" && strings.HasPrefix(u.Path, "//") {
			// sqlite:////abs/path keeps the leading slash.
			path = strings.TrimPrefix(u.Path, "//")
			path = "/" + strings.TrimPrefix(path, "/")
		}
		return dialect, path, nil
	}
}

// mysqlDSN converts the URL form into the go-sql-driver DSN. parseTime is
// forced on so DATETIME columns scan as time.Time.
func mysqlDSN(u *url.URL) (string, error) {
	host := u.Hostname()
	if host == "" {
		host = "127.0.0.1"
	}
	port := u.Port()
	if port == "" {
		port = "3306"
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		return "", oxerr.New(oxerr.KindConfig, "mysql url missing database name")
	}

	var cred string
	if u.User != nil {
		cred = u.User.Username()
		if pass, ok := u.User.Password(); ok {
			cred += ":" + pass
		}
		cred += "@"
	}

	params := u.Query()
	params.Set("parseTime", "true")
	return fmt.Sprintf("%stcp(%s:%s)/%s?%s", cred, host, port, db, params.Encode()), nil
}

// sqliteDSN appends the pool's PRAGMA settings as mattn/go-sqlite3 DSN
// parameters so they apply to every connection.
func sqliteDSN(path string, s PoolSettings) string {
	if path == ":memory:" {
		path = "file::memory:?cache=shared"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_journal_mode=%s&_synchronous=%s&_cache_size=%d&_busy_timeout=%d",
		path, sep, s.SQLiteJournalMode, s.SQLiteSynchronous, s.SQLiteCacheSize, s.SQLiteBusyTimeout)
}
