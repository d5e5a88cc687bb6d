package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DataClient is the REST client for the Polymarket Data API, which serves
// aggregated account state such as current on-chain positions.
type DataClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewDataClient creates a new Data API client.
//
// baseURL is the Data API root, e.g. "https://data-api.polymarket.com".
func NewDataClient(baseURL string) *DataClient {
	return &DataClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// FetchPositions returns the current open positions for a user address.
func (d *DataClient) FetchPositions(ctx context.Context, userAddress string) ([]APIPosition, error) {
	params := url.Values{}
	params.Set("user", userAddress)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		d.baseURL+"/positions?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: create request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: fetch positions: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, fmt.Errorf("polymarket/data: fetch positions: %w", err)
	}

	var positions []APIPosition
	if err := json.Unmarshal(body, &positions); err != nil {
		return nil, fmt.Errorf("polymarket/data: decode positions: %w", err)
	}
	return positions, nil
}
