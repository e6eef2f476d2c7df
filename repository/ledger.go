package repository

import (
	"context"

	"gold-accrual-engine/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LedgerRepository struct {
	db *gorm.DB
}

func (r *LedgerRepository) Get(ctx context.Context, wallet string) (*models.WalletLedger, error) {
	var l models.WalletLedger
	err := r.db.WithContext(ctx).Where("wallet_address = ?", wallet).First(&l).Error
	if err != nil {
		return nil, translate(err, "wallet", wallet, "get ledger")
	}
	return &l, nil
}

func (r *LedgerRepository) GetForUpdate(ctx context.Context, wallet string) (*models.WalletLedger, error) {
	var l models.WalletLedger
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("wallet_address = ?", wallet).
		First(&l).Error
	if err != nil {
		return nil, translate(err, "wallet", wallet, "lock ledger")
	}
	return &l, nil
}

func (r *LedgerRepository) CreateIfAbsent(ctx context.Context, l *models.WalletLedger) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "wallet_address"}},
			DoNothing: true,
		}).
		Create(l)
	if result.Error != nil {
		return false, translate(result.Error, "wallet", l.WalletAddress, "create ledger")
	}
	return result.RowsAffected == 1, nil
}

func (r *LedgerRepository) Save(ctx context.Context, l *models.WalletLedger) error {
	return translate(r.db.WithContext(ctx).Save(l).Error, "wallet", l.WalletAddress, "save ledger")
}

// List returns every ledger. Wallet counts are in the thousands, so one
// query is fine for a 6h job.
func (r *LedgerRepository) List(ctx context.Context) ([]models.WalletLedger, error) {
	var ledgers []models.WalletLedger
	err := r.db.WithContext(ctx).Order("wallet_address").Find(&ledgers).Error
	return ledgers, translate(err, "ledgers", "", "list ledgers")
}

func (r *LedgerRepository) Delete(ctx context.Context, wallet string) error {
	result := r.db.WithContext(ctx).Where("wallet_address = ?", wallet).Delete(&models.WalletLedger{})
	if result.Error != nil {
		return translate(result.Error, "wallet", wallet, "delete ledger")
	}
	if result.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound, "wallet", wallet, "delete ledger")
	}
	return nil
}
