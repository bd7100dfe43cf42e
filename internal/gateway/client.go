package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is an HTTP client for the marketplace API with retry and
// exponential backoff on transport failures and rate limiting.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	maxDelay   time.Duration
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// NewClient creates a marketplace API client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxRetries: 3,
		retryDelay: 500 * time.Millisecond,
		maxDelay:   10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response from the gateway. Code carries the
// machine-readable reason ("not_found", "unauthorized", ...).
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
}

// do sends one request with retries. Application errors (any decoded
// APIError) are not retried; transport failures and 429 are, with
// exponential backoff.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	var lastErr error
	delay := c.retryDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode >= 400 {
			apiErr := &APIError{Status: resp.StatusCode, Code: "internal", Message: string(data)}
			var er errorResponse
			if json.Unmarshal(data, &er) == nil && er.Code != "" {
				apiErr.Code = er.Code
				apiErr.Message = er.Error
			}
			return apiErr
		}

		if result != nil {
			if err := json.Unmarshal(data, result); err != nil {
				return fmt.Errorf("unmarshal response: %w", err)
			}
		}
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// CreateDomainRequest registers a new domain.
type CreateDomainRequest struct {
	Name       string `json:"name"`
	RenameCost uint64 `json:"rename_cost"`
	SaleFeeBps uint16 `json:"sale_fee_bps"`
	Treasury   string `json:"treasury"`
	Authority  string `json:"authority"`
}

// CreateDomain registers a domain and returns its derived address.
func (c *Client) CreateDomain(ctx context.Context, req CreateDomainRequest) (string, error) {
	var out createdResponse
	if err := c.do(ctx, http.MethodPost, "/v1/domains", req, &out); err != nil {
		return "", err
	}
	return out.Address, nil
}

// GetDomain fetches a domain record by name.
func (c *Client) GetDomain(ctx context.Context, name string) (*DomainResponse, error) {
	var out DomainResponse
	if err := c.do(ctx, http.MethodGet, "/v1/domains/"+url.PathEscape(name), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateKeychainRequest claims a username inside a domain.
type CreateKeychainRequest struct {
	Username  string `json:"username"`
	Wallet    string `json:"wallet"`
	Authority string `json:"authority"`
}

// CreateKeychain claims a username and returns the keychain address.
func (c *Client) CreateKeychain(ctx context.Context, domainName string, req CreateKeychainRequest) (string, error) {
	var out createdResponse
	path := "/v1/domains/" + url.PathEscape(domainName) + "/keychains"
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return "", err
	}
	return out.Address, nil
}

// GetKeychain fetches a keychain by domain and username.
func (c *Client) GetKeychain(ctx context.Context, domainName, username string) (*KeychainResponse, error) {
	var out KeychainResponse
	path := "/v1/domains/" + url.PathEscape(domainName) + "/keychains/" + url.PathEscape(username)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResolveWallet finds the keychain a verified wallet belongs to.
func (c *Client) ResolveWallet(ctx context.Context, domainName, wallet string) (*KeychainResponse, error) {
	var out KeychainResponse
	path := "/v1/domains/" + url.PathEscape(domainName) + "/resolve/" + url.PathEscape(wallet)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func keysPath(domainName, username, action string) string {
	return "/v1/domains/" + url.PathEscape(domainName) +
		"/keychains/" + url.PathEscape(username) + "/keys" + action
}

// AddKey stages a new unverified wallet on a keychain.
func (c *Client) AddKey(ctx context.Context, domainName, username, wallet, authority string) error {
	req := struct {
		Wallet    string `json:"wallet"`
		Authority string `json:"authority"`
	}{wallet, authority}
	return c.do(ctx, http.MethodPost, keysPath(domainName, username, ""), req, nil)
}

// ConfirmKey verifies a staged wallet. The wallet itself signs.
func (c *Client) ConfirmKey(ctx context.Context, domainName, username, wallet string) error {
	req := struct {
		Wallet string `json:"wallet"`
	}{wallet}
	return c.do(ctx, http.MethodPost, keysPath(domainName, username, "/confirm"), req, nil)
}

// RemoveKey drops a wallet from a keychain.
func (c *Client) RemoveKey(ctx context.Context, domainName, username, wallet, authority string) error {
	req := struct {
		Wallet    string `json:"wallet"`
		Authority string `json:"authority"`
	}{wallet, authority}
	return c.do(ctx, http.MethodPost, keysPath(domainName, username, "/remove"), req, nil)
}

// ListRequest puts an item up for sale.
type ListRequest struct {
	Domain   string `json:"domain"`
	Username string `json:"username"`
	Item     string `json:"item"`
	Price    uint64 `json:"price"`
	Currency string `json:"currency"`
	Proceeds string `json:"proceeds"`
	Seller   string `json:"seller"`
}

// ListItem lists an item for sale and returns the listing address.
func (c *Client) ListItem(ctx context.Context, req ListRequest) (string, error) {
	var out createdResponse
	if err := c.do(ctx, http.MethodPost, "/v1/listings", req, &out); err != nil {
		return "", err
	}
	return out.Address, nil
}

// PurchaseRequest buys a listed item.
type PurchaseRequest struct {
	Domain             string `json:"domain"`
	Username           string `json:"username"`
	Item               string `json:"item"`
	Buyer              string `json:"buyer"`
	BuyerCurrencyToken string `json:"buyer_currency_token,omitempty"`
}

// PurchaseItem buys a listed item and returns the recorded sale.
func (c *Client) PurchaseItem(ctx context.Context, req PurchaseRequest) (*SaleResponse, error) {
	var out SaleResponse
	if err := c.do(ctx, http.MethodPost, "/v1/purchases", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DelistRequest cancels a listing.
type DelistRequest struct {
	Domain   string `json:"domain"`
	Username string `json:"username"`
	Item     string `json:"item"`
	Seller   string `json:"seller"`
}

// DelistItem cancels a listing and returns the item to the seller.
func (c *Client) DelistItem(ctx context.Context, req DelistRequest) error {
	return c.do(ctx, http.MethodPost, "/v1/delistings", req, nil)
}

// GetListing fetches an active listing.
func (c *Client) GetListing(ctx context.Context, domainName, username, item string) (*ListingResponse, error) {
	var out ListingResponse
	path := "/v1/domains/" + url.PathEscape(domainName) +
		"/keychains/" + url.PathEscape(username) + "/listings/" + url.PathEscape(item)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SalesByItem fetches the sale history for an item.
func (c *Client) SalesByItem(ctx context.Context, item string) ([]SaleResponse, error) {
	var out []SaleResponse
	if err := c.do(ctx, http.MethodGet, "/v1/sales?item="+url.QueryEscape(item), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SalesBySeller fetches the sale history of a seller wallet.
func (c *Client) SalesBySeller(ctx context.Context, seller string) ([]SaleResponse, error) {
	var out []SaleResponse
	if err := c.do(ctx, http.MethodGet, "/v1/sales?seller="+url.QueryEscape(seller), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Balance fetches an account's lamport balance.
func (c *Client) Balance(ctx context.Context, address string) (uint64, error) {
	var out struct {
		Lamports uint64 `json:"lamports"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(address)+"/balance", nil, &out); err != nil {
		return 0, err
	}
	return out.Lamports, nil
}

// Airdrop credits lamports to an account.
func (c *Client) Airdrop(ctx context.Context, address string, amount uint64) error {
	req := struct {
		Address string `json:"address"`
		Amount  uint64 `json:"amount"`
	}{address, amount}
	return c.do(ctx, http.MethodPost, "/v1/airdrops", req, nil)
}
