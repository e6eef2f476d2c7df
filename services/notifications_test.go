package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"gold-accrual-engine/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationService(t *testing.T) {
	ctx := context.Background()

	t.Run("should describe a failing wallet with grouped numbers", func(t *testing.T) {
		env := newTestEnv(t)
		l := &models.WalletLedger{
			WalletAddress:               "addrA",
			ConsecutiveSnapshotFailures: 3,
			AggregateRatePerHour:        1250,
			AccumulatedGold:             decimal.NewFromInt(1234567),
			OwnedMeks:                   []models.OwnedMek{{AssetID: "a1"}},
		}

		n := env.notify.failureThreshold(l)

		assert.Equal(t, models.NotificationSnapshotFailureThreshold, n.Type)
		assert.Contains(t, n.Message, "1,234,567.00 gold accumulated")
		assert.Contains(t, n.Message, "1,250.00 gold/hour")
		assert.Equal(t, 3, n.Data["consecutive_failures"])
		assert.Nil(t, n.Data["last_snapshot_time"])
	})

	t.Run("should list unread notifications and mark them read", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.notify.Notify(ctx, nil, env.notify.backupFailed("nightly", errors.New("r2 down"))))
		env.clock.Advance(time.Minute)
		require.NoError(t, env.notify.Notify(ctx, nil, env.notify.runFailed(&models.SnapshotRunLog{ID: "run-1", ErrorCount: 4})))

		unread, err := env.notify.List(ctx, true, 10)
		require.NoError(t, err)
		require.Len(t, unread, 2)
		assert.Equal(t, models.NotificationSnapshotRunFailed, unread[0].Type)
		assert.Equal(t, models.SeverityCritical, unread[0].Severity)

		require.NoError(t, env.notify.MarkRead(ctx, unread[0].ID))

		unread, err = env.notify.List(ctx, true, 10)
		require.NoError(t, err)
		require.Len(t, unread, 1)
		assert.Equal(t, models.NotificationBackupFailed, unread[0].Type)

		all, err := env.notify.List(ctx, false, 10)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}
