package driver

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"

	"github.com/mr-fatalyst/oxyde/internal/debug"
	"github.com/mr-fatalyst/oxyde/oxerr"
	"github.com/mr-fatalyst/oxyde/query/sqlgen"
	"github.com/mr-fatalyst/oxyde/telemetry"
)

// Registry is the process-wide map from pool name to pool entry plus the
// transaction table. Registration is single-writer; lookups are shared.
type Registry struct {
	mu    sync.RWMutex
	pools map[string]*Pool

	txs    sync.Map // uint64 -> *Tx
	nextTx atomic.Uint64

	reapers map[string]*reaper
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		pools:   make(map[string]*Pool),
		reapers: make(map[string]*reaper),
	}
}

// Default is the registry the package-level bridge operates on.
var Default = NewRegistry()

// Register opens a pool under a unique name. Registering an existing name
// fails; use RegisterOverwrite to replace.
func (r *Registry) Register(ctx context.Context, name, url string, settings PoolSettings) error {
	return r.register(ctx, name, url, settings, false)
}

// RegisterOverwrite opens a pool under name, closing any pool previously
// registered there.
func (r *Registry) RegisterOverwrite(ctx context.Context, name, url string, settings PoolSettings) error {
	return r.register(ctx, name, url, settings, true)
}

func (r *Registry) register(ctx context.Context, name, url string, settings PoolSettings, overwrite bool) error {
	r.mu.Lock()
	existing, taken := r.pools[name]
	if taken && !overwrite {
		r.mu.Unlock()
		return oxerr.New(oxerr.KindConfig, "pool %q is already registered", name)
	}
	r.mu.Unlock()

	pool, err := openPool(ctx, name, url, settings)
	if err != nil {
		return err
	}

	r.mu.Lock()
	current, stillTaken := r.pools[name]
	if stillTaken && !overwrite {
		r.mu.Unlock()
		pool.db.Close()
		return oxerr.New(oxerr.KindConfig, "pool %q is already registered", name)
	}
	if stillTaken {
		existing = current
	}
	r.pools[name] = pool
	if old, ok := r.reapers[name]; ok {
		old.stop()
	}
	rp := newReaper(r, pool)
	r.reapers[name] = rp
	r.mu.Unlock()

	rp.start()

	if overwrite && existing != nil {
		r.drainPool(context.Background(), existing)
	}
	return nil
}

// AttachPool registers an already-open handle under name. Embedders holding
// their own *sql.DB (and the driver tests, via sqlmock) use this instead of
// a URL.
func (r *Registry) AttachPool(name string, dialect sqlgen.Dialect, db *sql.DB, settings PoolSettings) error {
	settings = settings.withDefaults(dialect)
	if err := settings.Validate(); err != nil {
		return err
	}
	pool := &Pool{
		name:     name,
		dialect:  dialect,
		db:       db,
		settings: settings,
		caps:     sqlgen.DefaultCapabilities(dialect),
	}

	r.mu.Lock()
	if _, taken := r.pools[name]; taken {
		r.mu.Unlock()
		return oxerr.New(oxerr.KindConfig, "pool %q is already registered", name)
	}
	r.pools[name] = pool
	rp := newReaper(r, pool)
	r.reapers[name] = rp
	r.mu.Unlock()

	rp.start()
	return nil
}

// Pool returns the named pool entry.
func (r *Registry) Pool(name string) (*Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[name]
	if !ok {
		return nil, oxerr.New(oxerr.KindConfig, "pool %q is not registered", name)
	}
	return p, nil
}

// ClosePool rolls back the pool's live transactions, stops its reaper and
// closes the pool. Closing an absent pool is a no-op.
func (r *Registry) ClosePool(ctx context.Context, name string) error {
	r.mu.Lock()
	p, ok := r.pools[name]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.pools, name)
	if rp, ok := r.reapers[name]; ok {
		rp.stop()
		delete(r.reapers, name)
	}
	r.mu.Unlock()

	r.drainPool(ctx, p)
	return nil
}

// CloseAll closes every registered pool.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	pools := r.pools
	reapers := r.reapers
	r.pools = make(map[string]*Pool)
	r.reapers = make(map[string]*reaper)
	r.mu.Unlock()

	for _, rp := range reapers {
		rp.stop()
	}
	for _, p := range pools {
		r.drainPool(ctx, p)
	}
	return nil
}

// drainPool rolls back in-flight transactions pinned to the pool, then
// closes idle connections.
func (r *Registry) drainPool(ctx context.Context, p *Pool) {
	r.txs.Range(func(key, value any) bool {
		tx := value.(*Tx)
		if tx.pool == p {
			if err := r.forceRollback(ctx, tx, oxerr.KindConnection); err != nil {
				debug.Warn("rollback during pool close failed", "pool", p.name, "tx", tx.id, "err", err)
			}
		}
		return true
	})
	if err := p.db.Close(); err != nil {
		debug.Warn("closing pool failed", "pool", p.name, "err", err)
	}
	debug.Debug("pool closed", "name", p.name)
	telemetry.Record(telemetry.Event{Kind: "pool_close", Pool: p.name, Dialect: string(p.dialect)})
}
