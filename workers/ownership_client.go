package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"gold-accrual-engine/models"
)

// OwnershipClient asks the indexer service which assets a wallet holds.
type OwnershipClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewOwnershipClient(baseURL, token string, timeout time.Duration) *OwnershipClient {
	return &OwnershipClient{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type ownershipResponse struct {
	Wallet string             `json:"wallet"`
	Assets *[]models.AssetRef `json:"assets"`
}

// FetchOwnedAssets returns the wallet's current assets. A missing or null
// asset list is malformed, not empty.
func (c *OwnershipClient) FetchOwnedAssets(ctx context.Context, wallet string) ([]models.AssetRef, error) {
	u := fmt.Sprintf("%s/api/v1/public/wallets/%s/assets", c.BaseURL, url.PathEscape(wallet))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call ownership indexer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("ownership indexer returned status %d: %s", resp.StatusCode, string(body))
	}

	var payload ownershipResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode ownership response: %w", err)
	}
	if payload.Assets == nil {
		return nil, fmt.Errorf("ownership response for %s has no asset list", wallet)
	}
	if payload.Wallet != "" && payload.Wallet != wallet {
		return nil, fmt.Errorf("ownership response is for wallet %s, asked for %s", payload.Wallet, wallet)
	}
	return *payload.Assets, nil
}
