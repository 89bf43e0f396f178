/*
scheduler.go - Background expiration sweeper

PURPOSE:
  Periodically runs the ledger's expiration sweep so batches past their
  expiry surface as expired without waiting for a balance read. Balance
  math never depends on the sweep; the stored status is advisory and
  every read derives eligibility from the timestamps.

DESIGN:
  - Runs a background goroutine with configurable interval
  - Each pass marks expired batches via the service's optimistic update;
    batches touched concurrently are skipped and caught next pass

CONFIGURATION:
  - Interval: How often to sweep (default: 1 minute)
  - Enabled: Whether the sweeper is active (default: true)

USAGE:
  sweeper := NewExpirationSweeper(svc)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - handlers.go: TriggerSweep endpoint (manual sweep)
  - ledger/balance.go: ExpireSweep
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/points-ledger/ledger"
)

// ExpirationSweeper periodically marks expired point batches.
type ExpirationSweeper struct {
	Service  *ledger.Service
	Interval time.Duration
	Enabled  bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewExpirationSweeper creates a new sweeper with defaults.
func NewExpirationSweeper(svc *ledger.Service) *ExpirationSweeper {
	return &ExpirationSweeper{
		Service:  svc,
		Interval: time.Minute,
		Enabled:  true,
		stop:     make(chan bool),
	}
}

// Start begins the sweeper.
func (es *ExpirationSweeper) Start() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.Enabled {
		log.Println("[Sweeper] Disabled, not starting")
		return
	}

	es.ticker = time.NewTicker(es.Interval)
	es.wg.Add(1)

	go es.run()

	log.Printf("[Sweeper] Started with interval: %v", es.Interval)
}

// Stop stops the sweeper.
func (es *ExpirationSweeper) Stop() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.ticker != nil {
		es.ticker.Stop()
		close(es.stop)
		es.wg.Wait()
		log.Println("[Sweeper] Stopped")
	}
}

func (es *ExpirationSweeper) run() {
	defer es.wg.Done()

	// Run immediately on start
	es.sweep()

	for {
		select {
		case <-es.ticker.C:
			es.sweep()
		case <-es.stop:
			return
		}
	}
}

func (es *ExpirationSweeper) sweep() {
	ctx := context.Background()

	result, err := es.Service.ExpireSweep(ctx)
	if err != nil {
		log.Printf("[Sweeper] Sweep failed: %v", err)
		return
	}
	if result.BatchesMarked > 0 {
		log.Printf("[Sweeper] Marked %d batches expired (%d points forfeited)",
			result.BatchesMarked, result.PointsExpired)
	}
}
