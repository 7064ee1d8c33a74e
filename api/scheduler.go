/*
scheduler.go - Automated ledger verification scheduler

PURPOSE:
  Periodically re-folds every wallet's transaction history and compares it
  with the stored projection and the after-balances on each ledger row.
  Drift means a bug or manual database tampering; it is reported loudly
  and never silently corrected.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Walks every registered tenant, then every wallet of that tenant
  - Uses an admin-role context per tenant, so the isolation rules apply
    to the verifier exactly as they do to request handlers
  - Keeps the last run's summary for the admin UI

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewVerificationScheduler(processor, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: VerifyAllWallets endpoint (manual verification)
  - wallet/projector.go: Verify fold-check
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/wallet-engine/wallet"
)

// VerificationRun summarizes one completed verification pass.
type VerificationRun struct {
	StartedAt      time.Time
	CompletedAt    time.Time
	TenantsChecked int
	WalletsChecked int
	DriftsFound    int
	Errors         int
}

// VerificationScheduler handles automated ledger verification.
type VerificationScheduler struct {
	Processor     *wallet.Processor
	Log           *logrus.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker  *time.Ticker
	stop    chan bool
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun *VerificationRun
}

// NewVerificationScheduler creates a new scheduler.
func NewVerificationScheduler(p *wallet.Processor, log *logrus.Logger) *VerificationScheduler {
	if log == nil {
		log = logrus.New()
	}
	return &VerificationScheduler{
		Processor:     p,
		Log:           log,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (vs *VerificationScheduler) Start() {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if !vs.Enabled {
		vs.Log.Info("verification scheduler disabled, not starting")
		return
	}

	vs.ticker = time.NewTicker(vs.CheckInterval)
	vs.wg.Add(1)

	go vs.run()

	vs.Log.WithField("interval", vs.CheckInterval).Info("verification scheduler started")
}

// Stop stops the scheduler.
func (vs *VerificationScheduler) Stop() {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if vs.ticker != nil {
		vs.ticker.Stop()
		close(vs.stop)
		vs.wg.Wait()
		vs.Log.Info("verification scheduler stopped")
	}
}

func (vs *VerificationScheduler) run() {
	defer vs.wg.Done()

	// Run immediately on start
	vs.checkAndVerify()

	for {
		select {
		case <-vs.ticker.C:
			vs.checkAndVerify()
		case <-vs.stop:
			return
		}
	}
}

func (vs *VerificationScheduler) checkAndVerify() {
	ctx := context.Background()
	run := VerificationRun{StartedAt: time.Now().UTC()}

	tenants, err := vs.Processor.Store().ListTenants(ctx)
	if err != nil {
		vs.Log.WithError(err).Error("verification pass could not list tenants")
		return
	}

	for _, t := range tenants {
		run.TenantsChecked++
		// The verifier acts under the same isolation rules as any caller.
		tc := wallet.Context{
			UserID:   "ledger-verifier",
			TenantID: t.ID,
			Role:     wallet.RoleAdmin,
		}

		wallets, err := vs.Processor.Store().ListWallets(ctx, tc)
		if err != nil {
			vs.Log.WithError(err).WithField("tenant_id", t.ID).Error("verification pass could not list wallets")
			run.Errors++
			continue
		}

		for _, w := range wallets {
			run.WalletsChecked++
			drifts, err := vs.Processor.VerifyWallet(ctx, tc, w.ID)
			if err != nil {
				vs.Log.WithError(err).WithField("wallet_id", w.ID).Error("wallet verification failed")
				run.Errors++
				continue
			}
			for _, d := range drifts {
				run.DriftsFound++
				vs.Log.WithFields(logrus.Fields{
					"tenant_id":      t.ID,
					"wallet_id":      d.WalletID,
					"transaction_id": d.TransactionID,
					"field":          d.Field,
					"expected":       d.Expected.Value.String(),
					"stored":         d.Stored.Value.String(),
				}).Error("ledger drift detected")
			}
		}
	}

	run.CompletedAt = time.Now().UTC()

	vs.mu.Lock()
	vs.lastRun = &run
	vs.mu.Unlock()

	if run.DriftsFound > 0 || run.Errors > 0 {
		vs.Log.WithFields(logrus.Fields{
			"tenants": run.TenantsChecked,
			"wallets": run.WalletsChecked,
			"drifts":  run.DriftsFound,
			"errors":  run.Errors,
		}).Warn("verification pass completed with findings")
	} else {
		vs.Log.WithFields(logrus.Fields{
			"tenants": run.TenantsChecked,
			"wallets": run.WalletsChecked,
		}).Info("verification pass completed clean")
	}
}

// RunNow triggers an immediate pass (for testing/admin).
func (vs *VerificationScheduler) RunNow() {
	vs.checkAndVerify()
}

// LastRun returns the most recent completed run, or nil.
func (vs *VerificationScheduler) LastRun() *VerificationRun {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.lastRun
}
