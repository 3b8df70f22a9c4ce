package driver

import (
	"context"
	"time"

	"github.com/mr-fatalyst/oxyde/internal/debug"
	"github.com/mr-fatalyst/oxyde/oxerr"
)

// reaper is the per-pool background task that rolls back transactions whose
// deadline has passed. It wakes every transaction_cleanup_interval and
// tolerates concurrent owner-driven finalisation.
type reaper struct {
	registry *Registry
	pool     *Pool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newReaper(r *Registry, p *Pool) *reaper {
	return &reaper{
		registry: r,
		pool:     p,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (rp *reaper) start() {
	go rp.run()
}

func (rp *reaper) stop() {
	select {
	case <-rp.stopCh:
	default:
		close(rp.stopCh)
	}
	<-rp.doneCh
}

func (rp *reaper) run() {
	defer close(rp.doneCh)

	ticker := time.NewTicker(rp.pool.settings.TransactionCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rp.stopCh:
			return
		case <-ticker.C:
			rp.sweep()
		}
	}
}

func (rp *reaper) sweep() {
	now := time.Now()
	rp.registry.txs.Range(func(_, value any) bool {
		tx := value.(*Tx)
		if tx.pool != rp.pool || now.Before(tx.deadline) {
			return true
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rp.registry.forceRollback(ctx, tx, oxerr.KindTransactionTimeout); err != nil {
			debug.Warn("reaper rollback failed", "tx", tx.id, "err", err)
		}
		cancel()
		return true
	})
}
