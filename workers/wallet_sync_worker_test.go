package workers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gold-accrual-engine/repository/memory"
	"gold-accrual-engine/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetChangedWallets(t *testing.T) {
	since := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("should pass the sync window and decode registrations", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/public/wallets", r.URL.Path)
			assert.Equal(t, "2025-03-01T12:00:00Z", r.URL.Query().Get("since"))
			assert.Equal(t, "svc-token", r.Header.Get("X-Service-Token"))
			_, _ = w.Write([]byte(`{"wallets":[{"address":"stake1a","is_verified":true},{"address":"stake1b"}]}`))
		}))
		defer srv.Close()

		client := NewWalletSyncClient(srv.URL, "svc-token", time.Second)
		wallets, err := client.GetChangedWallets(context.Background(), since)
		require.NoError(t, err)
		require.Len(t, wallets, 2)
		assert.True(t, wallets[0].IsVerified)
		assert.Equal(t, "stake1b", wallets[1].Address)
	})

	t.Run("should fail on a non-200 status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		client := NewWalletSyncClient(srv.URL, "svc-token", time.Second)
		_, err := client.GetChangedWallets(context.Background(), since)
		assert.ErrorContains(t, err, "401")
	})
}

func TestSyncWallets(t *testing.T) {
	ctx := context.Background()
	ledgers := services.NewLedgerService(memory.NewStore(), services.NewWalletLocks(), 0)

	t.Run("should create ledgers and apply verification", func(t *testing.T) {
		created, failed := SyncWallets(ctx, ledgers, []WalletRegistration{
			{Address: "stake1a", IsVerified: true},
			{Address: "stake1b"},
		})
		assert.Equal(t, 2, created)
		assert.Equal(t, 0, failed)

		a, err := ledgers.Get(ctx, "stake1a")
		require.NoError(t, err)
		assert.True(t, a.IsVerified)
	})

	t.Run("should update existing ledgers without recreating them", func(t *testing.T) {
		created, failed := SyncWallets(ctx, ledgers, []WalletRegistration{
			{Address: "stake1a", IsVerified: false},
		})
		assert.Equal(t, 0, created)
		assert.Equal(t, 0, failed)

		a, err := ledgers.Get(ctx, "stake1a")
		require.NoError(t, err)
		assert.False(t, a.IsVerified)
	})

	t.Run("should count invalid registrations as failures", func(t *testing.T) {
		_, failed := SyncWallets(ctx, ledgers, []WalletRegistration{{Address: "  "}})
		assert.Equal(t, 1, failed)
	})
}

func TestSyncOnce(t *testing.T) {
	ctx := context.Background()
	since := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	now := since.Add(10 * time.Second)

	serve := func(t *testing.T, status int, body string) *WalletSyncClient {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(body))
		}))
		t.Cleanup(srv.Close)
		return NewWalletSyncClient(srv.URL, "svc-token", time.Second)
	}
	ledgers := services.NewLedgerService(memory.NewStore(), services.NewWalletLocks(), 0)

	t.Run("should advance the window after a quiet tick", func(t *testing.T) {
		next := syncOnce(ctx, serve(t, http.StatusOK, `{"wallets":[]}`), ledgers, since, now)
		assert.Equal(t, now, next)
	})

	t.Run("should advance the window after a clean batch", func(t *testing.T) {
		next := syncOnce(ctx, serve(t, http.StatusOK, `{"wallets":[{"address":"stake1q"}]}`), ledgers, since, now)
		assert.Equal(t, now, next)

		_, err := ledgers.Get(ctx, "stake1q")
		assert.NoError(t, err)
	})

	t.Run("should keep the window when the fetch fails", func(t *testing.T) {
		next := syncOnce(ctx, serve(t, http.StatusBadGateway, ``), ledgers, since, now)
		assert.Equal(t, since, next)
	})

	t.Run("should keep the window when a record fails", func(t *testing.T) {
		next := syncOnce(ctx, serve(t, http.StatusOK, `{"wallets":[{"address":"stake1r"},{"address":" "}]}`), ledgers, since, now)
		assert.Equal(t, since, next)
	})
}
