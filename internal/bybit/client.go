package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	MainnetURL = "https://api.bybit.com"
	TestnetURL = "https://api-testnet.bybit.com"

	ordersPath      = "/v5/p2p/order"
	orderDetailPath = "/v5/p2p/order-detail"

	// RecvWindow is the freshness tolerance in milliseconds declared on every request.
	RecvWindow = "5000"

	HeaderAPIKey     = "X-BAPI-API-KEY"
	HeaderTimestamp  = "X-BAPI-TIMESTAMP"
	HeaderSign       = "X-BAPI-SIGN"
	HeaderRecvWindow = "X-BAPI-RECV-WINDOW"

	DefaultRetries    = 3
	DefaultRetryDelay = 5 * time.Second
)

type Options struct {
	BaseURL string
	// Retries is the number of retries after the first attempt; 0 selects
	// DefaultRetries and a negative value disables retrying.
	Retries    int
	RetryDelay time.Duration
	HTTPClient *http.Client
	// Now is the clock used for request timestamps.
	Now func() time.Time
}

// Client performs signed GET requests against the Bybit P2P API.
type Client struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	http       *http.Client
	retries    int
	retryDelay time.Duration
	now        func() time.Time
}

// NewClient validates credentials up front; a client never exists without a key and secret.
func NewClient(apiKey, apiSecret string, opts Options) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, &ConfigurationError{Missing: "api key"}
	}
	if strings.TrimSpace(apiSecret) == "" {
		return nil, &ConfigurationError{Missing: "api secret"}
	}

	c := &Client{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		http:       opts.HTTPClient,
		retries:    opts.Retries,
		retryDelay: opts.RetryDelay,
		now:        opts.Now,
	}
	if c.baseURL == "" {
		c.baseURL = MainnetURL
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 10 * time.Second}
	}
	switch {
	case c.retries == 0:
		c.retries = DefaultRetries
	case c.retries < 0:
		c.retries = 0
	}
	if c.retryDelay <= 0 {
		c.retryDelay = DefaultRetryDelay
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// --- API Types ---

// RawOrder is an order record as the exchange returns it, from either the list or the detail endpoint.
type RawOrder struct {
	ID                  string     `json:"id"`
	Side                *FlexInt   `json:"side"`
	Status              *FlexInt   `json:"status"`
	TokenID             FlexString `json:"tokenId"`
	Price               FlexString `json:"price"`
	NotifyTokenQuantity FlexString `json:"notifyTokenQuantity"`
	TargetNickName      FlexString `json:"targetNickName"`
	CreateDate          FlexString `json:"createDate"`
	SellerRealName      FlexString `json:"sellerRealName"`
	BuyerRealName       FlexString `json:"buyerRealName"`
	Amount              FlexString `json:"amount"`
}

type OrderList struct {
	Items []RawOrder `json:"items"`
	Total int        `json:"total"`
}

func (l *OrderList) UnmarshalJSON(data []byte) error {
	var aux struct {
		Items []RawOrder `json:"items"`
		Count *FlexInt   `json:"count"`
		Total *FlexInt   `json:"total"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	l.Items = aux.Items
	switch {
	case aux.Total != nil:
		l.Total = int(*aux.Total)
	case aux.Count != nil:
		l.Total = int(*aux.Count)
	}
	return nil
}

type envelope struct {
	RetCode   *int            `json:"ret_code"`
	RetMsg    string          `json:"ret_msg"`
	RetCodeV5 *int            `json:"retCode"`
	RetMsgV5  string          `json:"retMsg"`
	Result    json.RawMessage `json:"result"`
}

func (e envelope) code() (int, string) {
	if e.RetCode != nil {
		return *e.RetCode, e.RetMsg
	}
	if e.RetCodeV5 != nil {
		return *e.RetCodeV5, e.RetMsgV5
	}
	return 0, ""
}

// --- API Methods ---

func (c *Client) GetOrders(ctx context.Context, page, size int) (*OrderList, error) {
	params := map[string]any{"page": page, "size": size}

	var result OrderList
	if err := c.get(ctx, ordersPath, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetOrderDetail(ctx context.Context, orderID string) (*RawOrder, error) {
	params := map[string]any{"orderId": orderID}

	var result RawOrder
	if err := c.get(ctx, orderDetailPath, params, &result); err != nil {
		return nil, err
	}
	if result.ID == "" {
		result.ID = orderID
	}
	return &result, nil
}

// --- Signing ---

// CanonicalQuery sorts keys ascending and joins query-escaped key=value pairs
// with '&'. The same string is signed and sent.
func CanonicalQuery(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(fmt.Sprint(params[k])))
	}
	return strings.Join(parts, "&")
}

// Sign returns hex(HMAC-SHA256(secret, timestamp + apiKey + recvWindow + query)).
func Sign(apiKey, apiSecret string, timestamp int64, query string) string {
	payload := strconv.FormatInt(timestamp, 10) + apiKey + RecvWindow + query
	mac := hmac.New(sha256.New, []byte(apiSecret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// --- HTTP helpers ---

func (c *Client) get(ctx context.Context, path string, params map[string]any, out any) error {
	query := CanonicalQuery(params)

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			slog.Warn("bybit request failed, retrying",
				"path", path, "attempt", attempt, "of", c.retries, "delay", c.retryDelay, "error", lastErr)
			select {
			case <-ctx.Done():
				return fmt.Errorf("bybit %s: %w (last error: %v)", path, ctx.Err(), lastErr)
			case <-time.After(c.retryDelay):
			}
		}

		lastErr = c.do(ctx, path, query, out)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

// do signs with a fresh timestamp so a retried request stays inside the receive window.
func (c *Client) do(ctx context.Context, path, query string, out any) error {
	reqURL := c.baseURL + path
	if query != "" {
		reqURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &TransportError{Path: path, Err: fmt.Errorf("create request: %w", err)}
	}

	ts := c.now().UnixMilli()
	req.Header.Set(HeaderAPIKey, c.apiKey)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSign, Sign(c.apiKey, c.apiSecret, ts, query))
	req.Header.Set(HeaderRecvWindow, RecvWindow)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	slog.Debug("bybit request", "method", req.Method, "path", path, "query", query)

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Path: path, Err: fmt.Errorf("do request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Path: path, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &TransportError{Path: path, StatusCode: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(body)))}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return &TransportError{Path: path, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode envelope: %w", err)}
	}
	if code, msg := env.code(); code != 0 {
		return &RemoteError{Path: path, Code: code, Message: msg}
	}

	if out != nil && len(env.Result) > 0 && string(env.Result) != "null" {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return &TransportError{Path: path, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode result: %w", err)}
		}
	}
	return nil
}

// FlexString accepts a JSON string, number or null.
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	*s = FlexString(data)
	return nil
}

// FlexInt accepts a JSON number or a numeric string; an empty string decodes as -1.
type FlexInt int

func (i *FlexInt) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" {
		*i = -1
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("parse integer %q: %w", raw, err)
	}
	*i = FlexInt(n)
	return nil
}

// Code builds a *FlexInt for RawOrder literals.
func Code(v int) *FlexInt {
	f := FlexInt(v)
	return &f
}
