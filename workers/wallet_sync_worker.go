package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"gold-accrual-engine/logger"
	"gold-accrual-engine/services"

	"github.com/sirupsen/logrus"
)

// WalletRegistration is one connected wallet as reported by the sync
// service.
type WalletRegistration struct {
	Address     string    `json:"address"`
	IsVerified  bool      `json:"is_verified"`
	ConnectedAt time.Time `json:"connected_at"`
}

type WalletSyncClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewWalletSyncClient(baseURL, token string, timeout time.Duration) *WalletSyncClient {
	return &WalletSyncClient{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *WalletSyncClient) GetChangedWallets(ctx context.Context, since time.Time) ([]WalletRegistration, error) {
	since = since.UTC()

	u, err := url.Parse(fmt.Sprintf("%s/api/v1/public/wallets", c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}

	q := u.Query()
	q.Set("since", since.Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call sync service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("sync service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Wallets []WalletRegistration `json:"wallets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode sync service response: %w", err)
	}

	return response.Wallets, nil
}

// SyncWallets makes sure every registration has a ledger with the right
// verification flag. It returns how many records failed.
func SyncWallets(ctx context.Context, ledgers *services.LedgerService, wallets []WalletRegistration) (created, failed int) {
	for _, w := range wallets {
		l, isNew, err := ledgers.GetOrCreate(ctx, w.Address)
		if err != nil {
			logger.WithFields(logrus.Fields{"wallet": w.Address}).WithError(err).Error("❌ [SYNC] Failed to ensure ledger")
			failed++
			continue
		}
		if isNew {
			created++
		}
		if l.IsVerified != w.IsVerified {
			if _, err := ledgers.MarkVerified(ctx, w.Address, w.IsVerified); err != nil {
				logger.WithFields(logrus.Fields{"wallet": w.Address}).WithError(err).Error("❌ [SYNC] Failed to update verification")
				failed++
			}
		}
	}
	return created, failed
}

// PollWallets keeps ledgers in step with wallet registrations until ctx is
// done.
func PollWallets(ctx context.Context, client *WalletSyncClient, ledgers *services.LedgerService, pollInterval time.Duration) {
	logger.Info("[SYNC] Starting wallet registration polling...")
	lastSyncTime := time.Now().UTC().Add(-24 * time.Hour)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("[SYNC] Wallet polling stopped.")
			return
		case <-ticker.C:
			lastSyncTime = syncOnce(ctx, client, ledgers, lastSyncTime, time.Now().UTC())
		}
	}
}

// syncOnce applies the registrations changed since and returns the next
// sync window start. The window only moves to now after a clean fetch and
// apply, so failed records are retried on the next tick.
func syncOnce(ctx context.Context, client *WalletSyncClient, ledgers *services.LedgerService, since, now time.Time) time.Time {
	wallets, err := client.GetChangedWallets(ctx, since)
	if err != nil {
		logger.WithError(err).Error("❌ [SYNC] Error polling wallets")
		return since
	}
	if len(wallets) == 0 {
		return now
	}

	created, failed := SyncWallets(ctx, ledgers, wallets)
	fields := logrus.Fields{"received": len(wallets), "created": created, "failed": failed}
	if failed > 0 {
		logger.WithFields(fields).Warn("⚠️ [SYNC] Wallet batch partially applied")
		return since
	}

	logger.WithFields(fields).Info("✅ [SYNC] Wallet registrations applied")
	return now
}
