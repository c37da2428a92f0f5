package bybit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignGolden(t *testing.T) {
	query := CanonicalQuery(map[string]any{"size": 20, "page": 1})
	require.Equal(t, "page=1&size=20", query)

	sig := Sign("K", "S", 1700000000000, query)
	require.Equal(t, "6c7d2d4454d4c14eb55492909fba601de01dc0305bfea2921c65cce9ef53ac72", sig)
	require.Equal(t, sig, Sign("K", "S", 1700000000000, query))

	require.Equal(t,
		"c28f0bee197892a2338b077eded497080d2eab19f05027b865014527d9e019f7",
		Sign("K", "S", 1700000000000, CanonicalQuery(map[string]any{"orderId": "42"})))
}

func TestCanonicalQuerySortsKeys(t *testing.T) {
	got := CanonicalQuery(map[string]any{"b": "2", "a": 1, "c": true})
	require.Equal(t, "a=1&b=2&c=true", got)
	require.Equal(t, "", CanonicalQuery(nil))
	require.Equal(t, "orderId=a+b%26c%3Dd", CanonicalQuery(map[string]any{"orderId": "a b&c=d"}))
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient("", "secret", Options{})
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "api key", cfgErr.Missing)

	_, err = NewClient("key", "  ", Options{})
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "api secret", cfgErr.Missing)
}

func TestGetOrdersSignsRequest(t *testing.T) {
	fixed := time.UnixMilli(1700000000000)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v5/p2p/order", r.URL.Path)
		require.Equal(t, "1", r.URL.Query().Get("page"))
		require.Equal(t, "20", r.URL.Query().Get("size"))
		require.Equal(t, "K", r.Header.Get(HeaderAPIKey))
		require.Equal(t, "1700000000000", r.Header.Get(HeaderTimestamp))
		require.Equal(t, "5000", r.Header.Get(HeaderRecvWindow))
		require.Equal(t, "6c7d2d4454d4c14eb55492909fba601de01dc0305bfea2921c65cce9ef53ac72", r.Header.Get(HeaderSign))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ret_code":0,"ret_msg":"SUCCESS","result":{"count":2,"items":[
			{"id":"A1","side":0,"status":50,"price":"7.2","amount":"720","createDate":"1700000000000"},
			{"id":"A2","side":1,"status":"10","price":7.3}
		]}}`)
	}))
	defer srv.Close()

	c, err := NewClient("K", "S", Options{BaseURL: srv.URL, Now: func() time.Time { return fixed }})
	require.NoError(t, err)

	list, err := c.GetOrders(context.Background(), 1, 20)
	require.NoError(t, err)
	require.Equal(t, 2, list.Total)
	require.Len(t, list.Items, 2)
	require.Equal(t, "A1", list.Items[0].ID)
	require.Equal(t, FlexInt(10), *list.Items[1].Status)
	require.Equal(t, FlexString("7.3"), list.Items[1].Price)
}

func TestRetryThenSucceed(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"ret_code":0,"result":{"id":"X9","side":0,"status":50}}`)
	}))
	defer srv.Close()

	c, err := NewClient("K", "S", Options{BaseURL: srv.URL, Retries: 3, RetryDelay: time.Millisecond})
	require.NoError(t, err)

	raw, err := c.GetOrderDetail(context.Background(), "X9")
	require.NoError(t, err)
	require.Equal(t, "X9", raw.ID)
	require.Equal(t, int32(3), calls.Load())
}

func TestRetriesExhaustedReturnsLastError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"ret_code":10001,"ret_msg":"params error"}`)
	}))
	defer srv.Close()

	c, err := NewClient("K", "S", Options{BaseURL: srv.URL, Retries: 2, RetryDelay: time.Millisecond})
	require.NoError(t, err)

	_, err = c.GetOrders(context.Background(), 1, 10)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	require.Equal(t, 10001, remote.Code)
	require.Equal(t, "params error", remote.Message)
	require.Equal(t, int32(3), calls.Load())
}

func TestRetryDelayIsSequential(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	delay := 20 * time.Millisecond
	c, err := NewClient("K", "S", Options{BaseURL: srv.URL, Retries: 2, RetryDelay: delay})
	require.NoError(t, err)

	start := time.Now()
	_, err = c.GetOrders(context.Background(), 1, 10)
	elapsed := time.Since(start)

	var transport *TransportError
	require.ErrorAs(t, err, &transport)
	require.Equal(t, http.StatusServiceUnavailable, transport.StatusCode)
	require.Equal(t, int32(3), calls.Load())
	require.GreaterOrEqual(t, elapsed, 2*delay)
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewClient("K", "S", Options{BaseURL: srv.URL, Retries: 5, RetryDelay: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = c.GetOrders(ctx, 1, 10)
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSignedQueryMatchesSentQuery(t *testing.T) {
	fixed := time.UnixMilli(1700000000000)
	id := "a b&c=d/é"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, id, r.URL.Query().Get("orderId"))
		want := Sign("K", "S", fixed.UnixMilli(), r.URL.RawQuery)
		require.Equal(t, want, r.Header.Get(HeaderSign))
		fmt.Fprint(w, `{"ret_code":0,"result":{"side":1,"status":50}}`)
	}))
	defer srv.Close()

	c, err := NewClient("K", "S", Options{BaseURL: srv.URL, Now: func() time.Time { return fixed }})
	require.NoError(t, err)

	raw, err := c.GetOrderDetail(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, id, raw.ID)
}
