// Package polymarket contains the REST and websocket clients for the
// Polymarket CLOB, Data and Gamma APIs, plus the DTO-to-domain conversions
// shared by the stream and backfill paths.
package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/pinbar/polywatcher/internal/crypto"
	"github.com/pinbar/polywatcher/internal/domain"
)

// ClobClient is the REST client for the Polymarket CLOB (Central Limit
// Order Book) API, scoped to the read endpoints the watcher needs: trade
// history and order snapshots for the authenticated account.
type ClobClient struct {
	baseURL     string
	httpClient  *http.Client
	creds       *crypto.APICreds
	userAddress string
}

// NewClobClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
// creds is the L2 HMAC credential triple; userAddress is the funder address
// whose trades and orders are fetched.
func NewClobClient(baseURL string, creds crypto.APICreds, userAddress string) *ClobClient {
	return &ClobClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		creds:       &creds,
		userAddress: userAddress,
	}
}

// FetchTrades returns the account's trade history, normalized into domain
// trades and sorted by match time. market optionally filters by condition
// ID; a zero "after" is omitted.
func (c *ClobClient) FetchTrades(ctx context.Context, market string, after time.Time) ([]domain.Trade, error) {
	params := url.Values{}
	params.Set("maker_address", c.userAddress)
	if market != "" {
		params.Set("market", market)
	}
	if !after.IsZero() {
		params.Set("after", fmt.Sprintf("%d", after.Unix()))
	}

	path := "/data/trades?" + params.Encode()

	body, err := c.doAuthenticatedGet(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: fetch trades: %w", err)
	}

	var msgs []APITradeMessage
	if err := json.Unmarshal(body, &msgs); err != nil {
		return nil, fmt.Errorf("polymarket/clob: decode trades: %w", err)
	}

	var trades []domain.Trade
	for i := range msgs {
		trades = append(trades, msgs[i].ToDomainTrades(c.userAddress, domain.OriginPoll)...)
	}

	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].MatchTime.Before(trades[j].MatchTime)
	})
	return trades, nil
}

// FetchOrder returns a single order snapshot. An order the CLOB no longer
// knows yields (nil, nil) so the caller can treat disappearance as a
// cancellation.
func (c *ClobClient) FetchOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	path := "/data/order/" + url.PathEscape(orderID)

	body, err := c.doAuthenticatedGet(ctx, path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("polymarket/clob: fetch order %s: %w", orderID, err)
	}

	var msg APIOrderMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("polymarket/clob: decode order: %w", err)
	}
	if msg.ID == "" {
		return nil, nil
	}

	order := msg.ToDomainOrder(domain.OriginPoll)
	return &order, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doAuthenticatedGet signs (HMAC L2), sends, and reads a GET request
// against the CLOB API. It returns the raw response body.
func (c *ClobClient) doAuthenticatedGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	headers := c.creds.L2Headers(c.userAddress, http.MethodGet, path, "")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
