// Package memory is an in-process implementation of repository.Store. It
// backs the "memory" database driver for local runs and the service tests.
// Transactions serialize on one mutex. Every write made through a
// transaction records how to undo itself, and a rollback replays those
// entries in reverse, so writes made outside the transaction survive it.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"gold-accrual-engine/apperrors"
	"gold-accrual-engine/models"
	"gold-accrual-engine/repository"

	"github.com/google/uuid"
)

type state struct {
	mu            sync.Mutex
	ledgers       map[string]models.WalletLedger
	snapshots     []models.OwnershipSnapshot
	runs          []models.SnapshotRunLog
	progressions  map[string]models.MekProgression
	notifications []models.AdminNotification
	backups       []models.GoldBackup
	rateConfigs   []models.RateCurveConfig
}

// journal collects undo steps for one transaction. A nil journal records
// nothing. Steps run with state.mu held.
type journal struct {
	steps []func()
}

func (j *journal) record(step func()) {
	if j != nil {
		j.steps = append(j.steps, step)
	}
}

func (j *journal) rollback() {
	for i := len(j.steps) - 1; i >= 0; i-- {
		j.steps[i]()
	}
}

func removeWhere[T any](items []T, match func(T) bool) []T {
	out := items[:0:0]
	for _, it := range items {
		if !match(it) {
			out = append(out, it)
		}
	}
	return out
}

// insertAt puts v back at i, or at the end when the slice has shrunk since.
func insertAt[T any](items []T, i int, v T) []T {
	if i >= len(items) {
		return append(items, v)
	}
	out := append(items[:i:i], v)
	return append(out, items[i:]...)
}

type Store struct {
	st   *state
	txMu *sync.Mutex
	j    *journal
}

var _ repository.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		st: &state{
			ledgers:      make(map[string]models.WalletLedger),
			progressions: make(map[string]models.MekProgression),
		},
		txMu: &sync.Mutex{},
	}
}

func (s *Store) Ledgers() repository.LedgerStore             { return ledgerRepo{st: s.st, j: s.j} }
func (s *Store) Snapshots() repository.SnapshotStore         { return snapshotRepo{st: s.st, j: s.j} }
func (s *Store) RunLogs() repository.RunLogStore             { return runLogRepo{st: s.st, j: s.j} }
func (s *Store) Progressions() repository.ProgressionStore   { return progressionRepo{st: s.st, j: s.j} }
func (s *Store) Notifications() repository.NotificationStore { return notificationRepo{st: s.st, j: s.j} }
func (s *Store) Backups() repository.BackupStore             { return backupRepo{st: s.st, j: s.j} }
func (s *Store) RateConfigs() repository.RateConfigStore     { return rateConfigRepo{st: s.st, j: s.j} }

func (s *Store) InTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.j != nil {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &Store{st: s.st, txMu: s.txMu, j: &journal{}}
	if err := fn(tx); err != nil {
		s.st.mu.Lock()
		tx.j.rollback()
		s.st.mu.Unlock()
		return err
	}
	return nil
}

func newID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

func stamp(created, updated *time.Time) {
	now := time.Now().UTC()
	if created != nil && created.IsZero() {
		*created = now
	}
	if updated != nil {
		*updated = now
	}
}

type ledgerRepo struct {
	st *state
	j  *journal
}

func (r ledgerRepo) Get(ctx context.Context, wallet string) (*models.WalletLedger, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	l, ok := r.st.ledgers[wallet]
	if !ok {
		return nil, apperrors.NotFound("wallet", wallet)
	}
	out := l.Clone()
	return &out, nil
}

func (r ledgerRepo) GetForUpdate(ctx context.Context, wallet string) (*models.WalletLedger, error) {
	return r.Get(ctx, wallet)
}

func (r ledgerRepo) CreateIfAbsent(ctx context.Context, l *models.WalletLedger) (bool, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if _, ok := r.st.ledgers[l.WalletAddress]; ok {
		return false, nil
	}
	newID(&l.ID)
	stamp(&l.CreatedAt, nil)
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = l.CreatedAt
	}
	r.remember(l.WalletAddress)
	r.st.ledgers[l.WalletAddress] = l.Clone()
	return true, nil
}

func (r ledgerRepo) Save(ctx context.Context, l *models.WalletLedger) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	newID(&l.ID)
	stamp(&l.CreatedAt, &l.UpdatedAt)
	r.remember(l.WalletAddress)
	r.st.ledgers[l.WalletAddress] = l.Clone()
	return nil
}

// remember records the wallet's current row, or its absence, for rollback.
func (r ledgerRepo) remember(wallet string) {
	prev, existed := r.st.ledgers[wallet]
	if existed {
		prev = prev.Clone()
	}
	r.j.record(func() {
		if existed {
			r.st.ledgers[wallet] = prev
		} else {
			delete(r.st.ledgers, wallet)
		}
	})
}

func (r ledgerRepo) List(ctx context.Context) ([]models.WalletLedger, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	out := make([]models.WalletLedger, 0, len(r.st.ledgers))
	for _, l := range r.st.ledgers {
		out = append(out, l.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WalletAddress < out[j].WalletAddress })
	return out, nil
}

func (r ledgerRepo) Delete(ctx context.Context, wallet string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if _, ok := r.st.ledgers[wallet]; !ok {
		return apperrors.NotFound("wallet", wallet)
	}
	r.remember(wallet)
	delete(r.st.ledgers, wallet)
	return nil
}

type snapshotRepo struct {
	st *state
	j  *journal
}

func (r snapshotRepo) Append(ctx context.Context, s *models.OwnershipSnapshot) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	newID(&s.ID)
	stamp(&s.CreatedAt, nil)
	r.st.snapshots = append(r.st.snapshots, s.Clone())
	id := s.ID
	r.j.record(func() {
		r.st.snapshots = removeWhere(r.st.snapshots, func(x models.OwnershipSnapshot) bool { return x.ID == id })
	})
	return nil
}

func (r snapshotRepo) Get(ctx context.Context, id string) (*models.OwnershipSnapshot, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, s := range r.st.snapshots {
		if s.ID == id {
			out := s.Clone()
			return &out, nil
		}
	}
	return nil, apperrors.NotFound("snapshot", id)
}

func (r snapshotRepo) Latest(ctx context.Context, wallet string) (*models.OwnershipSnapshot, error) {
	snaps, _ := r.ListByWallet(ctx, wallet)
	if len(snaps) == 0 {
		return nil, apperrors.NotFound("snapshot for wallet", wallet)
	}
	out := snaps[len(snaps)-1]
	return &out, nil
}

func (r snapshotRepo) ListByWallet(ctx context.Context, wallet string) ([]models.OwnershipSnapshot, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []models.OwnershipSnapshot
	for _, s := range r.st.snapshots {
		if s.WalletAddress == wallet {
			out = append(out, s.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SnapshotTime.Before(out[j].SnapshotTime) })
	return out, nil
}

func (r snapshotRepo) Delete(ctx context.Context, id string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for i, s := range r.st.snapshots {
		if s.ID == id {
			r.st.snapshots = append(r.st.snapshots[:i:i], r.st.snapshots[i+1:]...)
			at, removed := i, s
			r.j.record(func() { r.st.snapshots = insertAt(r.st.snapshots, at, removed) })
			return nil
		}
	}
	return apperrors.NotFound("snapshot", id)
}

type runLogRepo struct {
	st *state
	j  *journal
}

func (r runLogRepo) Append(ctx context.Context, run *models.SnapshotRunLog) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	newID(&run.ID)
	r.st.runs = append(r.st.runs, *run)
	id := run.ID
	r.j.record(func() {
		r.st.runs = removeWhere(r.st.runs, func(x models.SnapshotRunLog) bool { return x.ID == id })
	})
	return nil
}

func (r runLogRepo) newestFirst() []models.SnapshotRunLog {
	out := append([]models.SnapshotRunLog(nil), r.st.runs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

func (r runLogRepo) List(ctx context.Context, limit int) ([]models.SnapshotRunLog, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	out := r.newestFirst()
	if limit = repository.ClampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r runLogRepo) Latest(ctx context.Context) (*models.SnapshotRunLog, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	runs := r.newestFirst()
	if len(runs) == 0 {
		return nil, apperrors.NotFound("run log", "latest")
	}
	return &runs[0], nil
}

func (r runLogRepo) LatestSuccessful(ctx context.Context) (*models.SnapshotRunLog, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, run := range r.newestFirst() {
		if run.Successful() {
			out := run
			return &out, nil
		}
	}
	return nil, apperrors.NotFound("run log", "latest successful")
}

type progressionRepo struct {
	st *state
	j  *journal
}

func (r progressionRepo) ListByWallet(ctx context.Context, wallet string) ([]models.MekProgression, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []models.MekProgression
	for _, p := range r.st.progressions {
		if p.WalletAddress == wallet {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out, nil
}

func (r progressionRepo) Upsert(ctx context.Context, rows []models.MekProgression) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, row := range rows {
		if existing, ok := r.st.progressions[row.AssetID]; ok {
			row.ID = existing.ID
			row.CreatedAt = existing.CreatedAt
		}
		newID(&row.ID)
		stamp(&row.CreatedAt, &row.UpdatedAt)
		r.remember(row.AssetID)
		r.st.progressions[row.AssetID] = row
	}
	return nil
}

func (r progressionRepo) DeleteByWalletExcept(ctx context.Context, wallet string, keep []string) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	kept := make(map[string]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}
	var deleted int64
	for assetID, p := range r.st.progressions {
		if p.WalletAddress == wallet && !kept[assetID] {
			r.remember(assetID)
			delete(r.st.progressions, assetID)
			deleted++
		}
	}
	return deleted, nil
}

func (r progressionRepo) remember(assetID string) {
	prev, existed := r.st.progressions[assetID]
	r.j.record(func() {
		if existed {
			r.st.progressions[assetID] = prev
		} else {
			delete(r.st.progressions, assetID)
		}
	})
}

type notificationRepo struct {
	st *state
	j  *journal
}

func (r notificationRepo) Create(ctx context.Context, n *models.AdminNotification) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	newID(&n.ID)
	stamp(&n.CreatedAt, nil)
	r.st.notifications = append(r.st.notifications, *n)
	id := n.ID
	r.j.record(func() {
		r.st.notifications = removeWhere(r.st.notifications, func(x models.AdminNotification) bool { return x.ID == id })
	})
	return nil
}

func (r notificationRepo) List(ctx context.Context, unreadOnly bool, limit int) ([]models.AdminNotification, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	limit = repository.ClampLimit(limit)
	var out []models.AdminNotification
	for i := len(r.st.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		n := r.st.notifications[i]
		if unreadOnly && n.IsRead {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (r notificationRepo) MarkRead(ctx context.Context, id string, at time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for i := range r.st.notifications {
		if r.st.notifications[i].ID == id {
			prevRead, prevAt := r.st.notifications[i].IsRead, r.st.notifications[i].ReadAt
			r.j.record(func() {
				for k := range r.st.notifications {
					if r.st.notifications[k].ID == id {
						r.st.notifications[k].IsRead, r.st.notifications[k].ReadAt = prevRead, prevAt
					}
				}
			})
			r.st.notifications[i].IsRead = true
			r.st.notifications[i].ReadAt = &at
			return nil
		}
	}
	return apperrors.NotFound("notification", id)
}

type backupRepo struct {
	st *state
	j  *journal
}

func (r backupRepo) Create(ctx context.Context, b *models.GoldBackup) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	newID(&b.ID)
	stamp(&b.CreatedAt, nil)
	for i := range b.Entries {
		newID(&b.Entries[i].ID)
		b.Entries[i].BackupID = b.ID
	}
	stored := *b
	stored.Entries = append([]models.GoldBackupEntry(nil), b.Entries...)
	r.st.backups = append(r.st.backups, stored)
	id := b.ID
	r.j.record(func() {
		r.st.backups = removeWhere(r.st.backups, func(x models.GoldBackup) bool { return x.ID == id })
	})
	return nil
}

func (r backupRepo) Get(ctx context.Context, id string) (*models.GoldBackup, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, b := range r.st.backups {
		if b.ID == id {
			out := b
			out.Entries = append([]models.GoldBackupEntry(nil), b.Entries...)
			sort.Slice(out.Entries, func(i, j int) bool {
				return out.Entries[i].WalletAddress < out.Entries[j].WalletAddress
			})
			return &out, nil
		}
	}
	return nil, apperrors.NotFound("backup", id)
}

func (r backupRepo) List(ctx context.Context, limit int) ([]models.GoldBackup, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	out := make([]models.GoldBackup, 0, len(r.st.backups))
	for _, b := range r.st.backups {
		b.Entries = nil
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].BackupTime.After(out[j].BackupTime) })
	if limit = repository.ClampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r backupRepo) SetArchiveKey(ctx context.Context, id, key string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for i := range r.st.backups {
		if r.st.backups[i].ID == id {
			prev := r.st.backups[i].ArchiveKey
			r.j.record(func() {
				for k := range r.st.backups {
					if r.st.backups[k].ID == id {
						r.st.backups[k].ArchiveKey = prev
					}
				}
			})
			r.st.backups[i].ArchiveKey = key
			return nil
		}
	}
	return apperrors.NotFound("backup", id)
}

type rateConfigRepo struct {
	st *state
	j  *journal
}

func (r rateConfigRepo) Active(ctx context.Context) (*models.RateCurveConfig, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for i := len(r.st.rateConfigs) - 1; i >= 0; i-- {
		if r.st.rateConfigs[i].IsActive {
			out := r.st.rateConfigs[i]
			return &out, nil
		}
	}
	return nil, apperrors.NotFound("rate config", "active")
}

func (r rateConfigRepo) SaveActive(ctx context.Context, c *models.RateCurveConfig) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	wasActive := make(map[string]bool, len(r.st.rateConfigs))
	for i := range r.st.rateConfigs {
		wasActive[r.st.rateConfigs[i].ID] = r.st.rateConfigs[i].IsActive
		r.st.rateConfigs[i].IsActive = false
	}
	newID(&c.ID)
	stamp(&c.CreatedAt, &c.UpdatedAt)
	c.IsActive = true
	r.st.rateConfigs = append(r.st.rateConfigs, *c)
	id := c.ID
	r.j.record(func() {
		r.st.rateConfigs = removeWhere(r.st.rateConfigs, func(x models.RateCurveConfig) bool { return x.ID == id })
		for i := range r.st.rateConfigs {
			if active, ok := wasActive[r.st.rateConfigs[i].ID]; ok {
				r.st.rateConfigs[i].IsActive = active
			}
		}
	})
	return nil
}

func (r rateConfigRepo) List(ctx context.Context, limit int) ([]models.RateCurveConfig, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	limit = repository.ClampLimit(limit)
	var out []models.RateCurveConfig
	for i := len(r.st.rateConfigs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.st.rateConfigs[i])
	}
	return out, nil
}
