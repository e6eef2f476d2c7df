package services

import (
	"context"
	"strings"
	"time"

	"gold-accrual-engine/apperrors"
	"gold-accrual-engine/logger"
	"gold-accrual-engine/models"
	"gold-accrual-engine/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// goldPlaces matches the numeric(24,6) gold columns.
const goldPlaces = 6

var secondsPerHour = decimal.NewFromInt(3600)

type LedgerService struct {
	Store        repository.Store
	Locks        *WalletLocks
	StartingGold decimal.Decimal
	Now          func() time.Time
}

func NewLedgerService(store repository.Store, locks *WalletLocks, startingGold float64) *LedgerService {
	if locks == nil {
		locks = NewWalletLocks()
	}
	return &LedgerService{
		Store:        store,
		Locks:        locks,
		StartingGold: decimal.NewFromFloat(startingGold).Round(goldPlaces),
		Now:          func() time.Time { return time.Now().UTC() },
	}
}

func normalizeWallet(wallet string) (string, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return "", apperrors.Validation("wallet address is required")
	}
	return wallet, nil
}

// GetOrCreate returns the wallet's ledger, creating a zeroed one on first
// connection. The bool reports whether this call created it.
func (s *LedgerService) GetOrCreate(ctx context.Context, wallet string) (*models.WalletLedger, bool, error) {
	wallet, err := normalizeWallet(wallet)
	if err != nil {
		return nil, false, err
	}

	existing, err := s.Store.Ledgers().Get(ctx, wallet)
	if err == nil {
		return existing, false, nil
	}
	if apperrors.CodeOf(err) != apperrors.CodeNotFound {
		return nil, false, err
	}

	unlock := s.Locks.Lock(wallet)
	defer unlock()

	now := s.Now()
	l := &models.WalletLedger{
		ID:                  uuid.NewString(),
		WalletAddress:       wallet,
		AccumulatedGold:     s.StartingGold,
		TotalCumulativeGold: s.StartingGold,
		TotalGoldSpent:      decimal.Zero,
		LastActiveTime:      now,
		Timestamps:          models.Timestamps{CreatedAt: now, UpdatedAt: now},
	}
	created, err := s.Store.Ledgers().CreateIfAbsent(ctx, l)
	if err != nil {
		return nil, false, err
	}
	if !created {
		existing, err := s.Store.Ledgers().Get(ctx, wallet)
		return existing, false, err
	}

	logger.WithFields(logrus.Fields{"wallet": wallet}).Info("🪙 [LEDGER] Created ledger for new wallet")
	return l, true, nil
}

func (s *LedgerService) Get(ctx context.Context, wallet string) (*models.WalletLedger, error) {
	wallet, err := normalizeWallet(wallet)
	if err != nil {
		return nil, err
	}
	return s.Store.Ledgers().Get(ctx, wallet)
}

func (s *LedgerService) List(ctx context.Context) ([]models.WalletLedger, error) {
	return s.Store.Ledgers().List(ctx)
}

// withLedger is the single write path for a ledger: per-wallet lock, one
// transaction, row lock, fn, save. fn may also write other stores via tx.
func (s *LedgerService) withLedger(ctx context.Context, wallet string, fn func(tx repository.Store, l *models.WalletLedger) error) (*models.WalletLedger, error) {
	wallet, err := normalizeWallet(wallet)
	if err != nil {
		return nil, err
	}

	unlock := s.Locks.Lock(wallet)
	defer unlock()

	return s.lockedUpdate(ctx, wallet, fn)
}

// lockedUpdate is withLedger for callers that already hold the wallet lock.
func (s *LedgerService) lockedUpdate(ctx context.Context, wallet string, fn func(tx repository.Store, l *models.WalletLedger) error) (*models.WalletLedger, error) {
	var out *models.WalletLedger
	err := s.Store.InTx(ctx, func(tx repository.Store) error {
		l, err := tx.Ledgers().GetForUpdate(ctx, wallet)
		if err != nil {
			return err
		}
		if err := fn(tx, l); err != nil {
			return err
		}
		if err := tx.Ledgers().Save(ctx, l); err != nil {
			return err
		}
		out = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyAccrual credits elapsed × ratePerHour to the wallet. Callers are
// responsible for applying it at most once per snapshot cycle.
func (s *LedgerService) ApplyAccrual(ctx context.Context, wallet string, elapsed time.Duration, ratePerHour float64) (*models.WalletLedger, error) {
	return s.withLedger(ctx, wallet, func(_ repository.Store, l *models.WalletLedger) error {
		applyAccrual(l, elapsed, ratePerHour)
		return nil
	})
}

func (s *LedgerService) RecordFailure(ctx context.Context, wallet string) (*models.WalletLedger, error) {
	return s.withLedger(ctx, wallet, func(_ repository.Store, l *models.WalletLedger) error {
		recordFailure(l)
		return nil
	})
}

func (s *LedgerService) RecordSuccess(ctx context.Context, wallet string, at time.Time) (*models.WalletLedger, error) {
	return s.withLedger(ctx, wallet, func(_ repository.Store, l *models.WalletLedger) error {
		return recordSuccess(l, at)
	})
}

// Spend moves gold from the spendable balance to the spent total.
func (s *LedgerService) Spend(ctx context.Context, wallet string, amount decimal.Decimal, reason string) (*models.WalletLedger, error) {
	l, err := s.withLedger(ctx, wallet, func(_ repository.Store, l *models.WalletLedger) error {
		return spend(l, amount)
	})
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"wallet": l.WalletAddress,
		"amount": amount.String(),
		"reason": reason,
		"left":   l.AccumulatedGold.String(),
	}).Info("💸 [LEDGER] Gold spent")
	return l, nil
}

func (s *LedgerService) MarkVerified(ctx context.Context, wallet string, verified bool) (*models.WalletLedger, error) {
	return s.withLedger(ctx, wallet, func(_ repository.Store, l *models.WalletLedger) error {
		l.IsVerified = verified
		return nil
	})
}

// Touch records gameplay activity. It never moves the clock backwards.
func (s *LedgerService) Touch(ctx context.Context, wallet string, at time.Time) (*models.WalletLedger, error) {
	if now := s.Now(); at.IsZero() || at.After(now) {
		at = now
	}
	return s.withLedger(ctx, wallet, func(_ repository.Store, l *models.WalletLedger) error {
		if at.After(l.LastActiveTime) {
			l.LastActiveTime = at
		}
		return nil
	})
}

// Delete removes a ledger. Admin only; snapshots are kept for audit.
func (s *LedgerService) Delete(ctx context.Context, wallet string) error {
	wallet, err := normalizeWallet(wallet)
	if err != nil {
		return err
	}
	unlock := s.Locks.Lock(wallet)
	defer unlock()

	if err := s.Store.Ledgers().Delete(ctx, wallet); err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{"wallet": wallet}).Warn("🗑️ [LEDGER] Ledger deleted by admin")
	return nil
}

func applyAccrual(l *models.WalletLedger, elapsed time.Duration, ratePerHour float64) decimal.Decimal {
	if elapsed <= 0 || ratePerHour <= 0 {
		return decimal.Zero
	}
	gained := decimal.NewFromFloat(elapsed.Seconds()).
		Div(secondsPerHour).
		Mul(decimal.NewFromFloat(ratePerHour)).
		Round(goldPlaces)

	l.AccumulatedGold = l.AccumulatedGold.Add(gained)
	l.TotalCumulativeGold = l.TotalCumulativeGold.Add(gained)
	return gained
}

func recordFailure(l *models.WalletLedger) int {
	l.ConsecutiveSnapshotFailures++
	return l.ConsecutiveSnapshotFailures
}

func recordSuccess(l *models.WalletLedger, at time.Time) error {
	if l.LastSnapshotTime != nil && at.Before(*l.LastSnapshotTime) {
		return apperrors.OutOfOrderSnapshot(l.WalletAddress, at, *l.LastSnapshotTime)
	}
	l.ConsecutiveSnapshotFailures = 0
	l.LastSnapshotTime = &at
	return nil
}

func spend(l *models.WalletLedger, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperrors.Validation("spend amount must be positive")
	}
	if amount.GreaterThan(l.AccumulatedGold) {
		return apperrors.InsufficientGold(l.WalletAddress, amount.String(), l.AccumulatedGold.String())
	}
	l.AccumulatedGold = l.AccumulatedGold.Sub(amount)
	l.TotalGoldSpent = l.TotalGoldSpent.Add(amount)
	return nil
}
