package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"gold-accrual-engine/config"
	"gold-accrual-engine/models"
	"gold-accrual-engine/rates"
	"gold-accrual-engine/repository/memory"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeSource struct {
	mu     sync.Mutex
	assets map[string][]models.AssetRef
	errs   map[string]error
	block  map[string]bool
	calls  map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		assets: map[string][]models.AssetRef{},
		errs:   map[string]error{},
		block:  map[string]bool{},
		calls:  map[string]int{},
	}
}

func (f *fakeSource) set(wallet string, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	refs := make([]models.AssetRef, 0, len(ids))
	for i, id := range ids {
		refs = append(refs, models.AssetRef{AssetID: id, AssetName: "Mek " + id, MekNumber: i + 1, Rank: 100 + i})
	}
	f.assets[wallet] = refs
	delete(f.errs, wallet)
}

func (f *fakeSource) fail(wallet string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[wallet] = err
}

func (f *fakeSource) hang(wallet string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block[wallet] = true
}

func (f *fakeSource) FetchOwnedAssets(ctx context.Context, wallet string) ([]models.AssetRef, error) {
	f.mu.Lock()
	f.calls[wallet]++
	blocked := f.block[wallet]
	err := f.errs[wallet]
	assets := append([]models.AssetRef(nil), f.assets[wallet]...)
	f.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return assets, nil
}

// flatRate gives every asset 100 gold/hour regardless of rank.
func flatRate() rates.Params {
	return rates.Params{Curve: rates.Linear, MinRate: 100, MaxRate: 100, TotalAssets: 4000, Rounding: rates.RoundTwoDecimal}
}

type testEnv struct {
	store    *memory.Store
	clock    *testClock
	ledgers  *LedgerService
	notify   *NotificationService
	rates    *RateConfigService
	source   *fakeSource
	runner   *SnapshotRunner
	auditor  *HealthAuditor
	restorer *RestorationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memory.NewStore()
	clock := &testClock{now: t0}

	ledgers := NewLedgerService(store, NewWalletLocks(), 0)
	ledgers.Now = clock.Now

	notify := NewNotificationService(store)
	notify.Now = clock.Now

	rateConfigs := NewRateConfigService(store, flatRate())
	source := newFakeSource()

	runner := NewSnapshotRunner(store, ledgers, source, rateConfigs, notify, RunnerOptions{
		Interval:         6 * time.Hour,
		DueSlack:         5 * time.Minute,
		FetchTimeout:     time.Second,
		Concurrency:      4,
		FailingThreshold: 3,
	})
	runner.Now = clock.Now

	auditor := NewHealthAuditor(store, config.Defaults().Health)
	auditor.Now = clock.Now

	restorer := NewRestorationService(store, ledgers)
	restorer.Now = clock.Now

	return &testEnv{
		store:    store,
		clock:    clock,
		ledgers:  ledgers,
		notify:   notify,
		rates:    rateConfigs,
		source:   source,
		runner:   runner,
		auditor:  auditor,
		restorer: restorer,
	}
}

func (e *testEnv) connect(t *testing.T, wallets ...string) {
	t.Helper()
	for _, w := range wallets {
		_, _, err := e.ledgers.GetOrCreate(context.Background(), w)
		require.NoError(t, err)
	}
}

func (e *testEnv) run(t *testing.T) *models.SnapshotRunLog {
	t.Helper()
	run, err := e.runner.RunSnapshotCycle(context.Background(), models.TriggerManual)
	require.NoError(t, err)
	return run
}

func (e *testEnv) ledger(t *testing.T, wallet string) *models.WalletLedger {
	t.Helper()
	l, err := e.ledgers.Get(context.Background(), wallet)
	require.NoError(t, err)
	return l
}

func (e *testEnv) snapshots(t *testing.T, wallet string) []models.OwnershipSnapshot {
	t.Helper()
	snaps, err := e.store.Snapshots().ListByWallet(context.Background(), wallet)
	require.NoError(t, err)
	return snaps
}

func ids(prefix string, n int) []string {
	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, fmt.Sprintf("%s%d", prefix, i))
	}
	return out
}
