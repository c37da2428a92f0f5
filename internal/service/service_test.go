package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"p2precon/internal/bybit"
	"p2precon/internal/csvimport"
	"p2precon/internal/database"
	"p2precon/internal/events"
	"p2precon/internal/fixture"
	"p2precon/internal/kv"
	"p2precon/internal/model"
	"p2precon/internal/orders"
	"p2precon/internal/override"
	"p2precon/internal/repository"
)

type fakeSource struct {
	mu         sync.Mutex
	items      []bybit.RawOrder
	listErr    error
	details    map[string]bybit.RawOrder
	detailErrs map[string]error
	pageCalls  []int
}

func (f *fakeSource) GetOrders(ctx context.Context, page, size int) (*bybit.OrderList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageCalls = append(f.pageCalls, page)
	if f.listErr != nil {
		return nil, f.listErr
	}
	start := (page - 1) * size
	if start > len(f.items) {
		start = len(f.items)
	}
	end := start + size
	if end > len(f.items) {
		end = len(f.items)
	}
	return &bybit.OrderList{Items: f.items[start:end], Total: len(f.items)}, nil
}

func (f *fakeSource) GetOrderDetail(ctx context.Context, id string) (*bybit.RawOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.detailErrs[id]; err != nil {
		return nil, err
	}
	if d, ok := f.details[id]; ok {
		return &d, nil
	}
	for _, it := range f.items {
		if it.ID == id {
			return &it, nil
		}
	}
	return nil, &bybit.RemoteError{Code: 10001, Message: "order not found"}
}

type staticCreds struct{ c model.Credentials }

func (s *staticCreds) Credentials() model.Credentials { return s.c }

type recorder struct {
	mu    sync.Mutex
	kinds []string
}

func (r *recorder) Publish(kind string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
}

func (r *recorder) has(kind string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

type env struct {
	source    *fakeSource
	creds     *staticCreds
	factories int
	repo      *repository.OrderRepo
	overrides *override.Store
	events    *recorder
	sync      *SyncCoordinator
	svc       *OrderService
}

var configured = model.Credentials{UseAPI: true, APIKey: "K", APISecret: "S"}

func newEnv(t *testing.T, creds model.Credentials, cfg SyncConfig) *env {
	t.Helper()

	db, err := database.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.InitSchema(context.Background(), db))

	store, err := kv.OpenMem()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	e := &env{
		source:    &fakeSource{},
		creds:     &staticCreds{c: creds},
		repo:      repository.NewOrderRepo(db),
		overrides: override.NewStore(store),
		events:    &recorder{},
	}
	factory := func(c model.Credentials) (OrderSource, error) {
		e.factories++
		return e.source, nil
	}
	e.sync = NewSyncCoordinator(e.creds, factory, e.overrides, e.repo, e.events, cfg)
	e.svc = NewOrderService(e.repo, e.overrides, e.sync, e.events)
	return e
}

func raw(id string, side, status int) bybit.RawOrder {
	return bybit.RawOrder{
		ID:         id,
		Side:       bybit.Code(side),
		Status:     bybit.Code(status),
		Price:      "7.20",
		Amount:     "720",
		CreateDate: "1704448800000",
	}
}

func boolPtr(b bool) *bool    { return &b }
func strPtr(s string) *string { return &s }

func TestRunWithoutCredentialsFallsBackToDemo(t *testing.T) {
	for _, tolerant := range []bool{true, false} {
		e := newEnv(t, model.Credentials{UseAPI: true, APIKey: "K"}, SyncConfig{})

		snap, err := e.sync.Run(context.Background(), tolerant)
		require.NoError(t, err)
		require.True(t, snap.Result.Fallback)
		require.Equal(t, model.SourceDemo, snap.Result.Source)
		require.Equal(t, model.PhaseSucceeded, snap.Result.Phase)
		require.Equal(t, fixture.Size, snap.Result.NewOrders)
		require.Len(t, snap.Orders, fixture.Size)
		require.Contains(t, snap.Result.Message, "Demo mode")
		require.Equal(t, 0, e.factories)
		require.True(t, e.events.has(events.SyncCompleted))
	}
}

func TestRunSyncWithoutCredentialsSucceeds(t *testing.T) {
	e := newEnv(t, model.Credentials{}, SyncConfig{})

	res, err := e.svc.RunSync(context.Background())
	require.NoError(t, err)
	require.Greater(t, res.NewOrders, 0)
	require.True(t, res.Fallback)
}

func TestRunFetchFailureStrictVersusTolerant(t *testing.T) {
	e := newEnv(t, configured, SyncConfig{})
	e.source.listErr = &bybit.TransportError{Path: "/v5/p2p/order", StatusCode: 502, Err: errors.New("bad gateway")}

	snap, err := e.sync.Run(context.Background(), false)
	var transport *bybit.TransportError
	require.ErrorAs(t, err, &transport)
	require.Equal(t, model.PhaseFailed, snap.Result.Phase)
	require.Empty(t, snap.Orders)

	snap, err = e.sync.Run(context.Background(), true)
	require.NoError(t, err)
	require.True(t, snap.Result.Fallback)
	require.Len(t, snap.Orders, fixture.Size)

	e.source.listErr = nil
	e.source.items = []bybit.RawOrder{raw("A1", 0, 50)}
	snap, err = e.sync.Run(context.Background(), false)
	require.NoError(t, err)
	require.False(t, snap.Result.Fallback)
}

func TestRunDetailFailureKeepsListRecord(t *testing.T) {
	e := newEnv(t, configured, SyncConfig{PageSize: 10, DetailConcurrency: 2})
	e.source.items = []bybit.RawOrder{raw("A1", 0, 10), raw("A2", 1, 10), raw("A3", 0, 10)}
	e.source.details = map[string]bybit.RawOrder{"A1": raw("A1", 0, 50), "A3": raw("A3", 0, 40)}
	e.source.detailErrs = map[string]error{"A2": errors.New("timeout")}

	snap, err := e.sync.Run(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, model.SourceAPI, snap.Result.Source)
	require.Equal(t, 3, snap.Result.NewOrders)

	byID := map[string]model.Order{}
	for _, o := range snap.Orders {
		byID[o.ID] = o
	}
	require.Equal(t, "Order finished", byID["A1"].Status)
	require.Equal(t, "Waiting for buyer to pay", byID["A2"].Status)
	require.Equal(t, model.SideSell, byID["A2"].Side)
	require.Equal(t, "Order canceled", byID["A3"].Status)
	require.Equal(t, "2024-01-05T10:00:00.000Z", byID["A1"].CreateDate)

	n, err := e.repo.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestRunWalksPages(t *testing.T) {
	e := newEnv(t, configured, SyncConfig{PageSize: 2, MaxPages: 10})
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		e.source.items = append(e.source.items, raw(id, 0, 50))
	}

	snap, err := e.sync.Run(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, snap.Orders, 5)
	require.Equal(t, []int{1, 2, 3}, e.source.pageCalls)
}

func TestRunMaxPagesCaps(t *testing.T) {
	e := newEnv(t, configured, SyncConfig{PageSize: 2, MaxPages: 1})
	e.source.items = []bybit.RawOrder{raw("1", 0, 50), raw("2", 0, 50), raw("3", 0, 50)}

	snap, err := e.sync.Run(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, snap.Orders, 2)
}

func TestClientIsCachedUntilInvalidated(t *testing.T) {
	e := newEnv(t, configured, SyncConfig{})
	e.source.items = []bybit.RawOrder{raw("1", 0, 50)}

	_, err := e.sync.Run(context.Background(), false)
	require.NoError(t, err)
	_, err = e.sync.Run(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 1, e.factories)

	e.sync.Invalidate()
	_, err = e.sync.Run(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 2, e.factories)
}

func TestConfigurationErrorFallsBack(t *testing.T) {
	e := newEnv(t, configured, SyncConfig{})
	e.sync.factory = func(c model.Credentials) (OrderSource, error) {
		return nil, &bybit.ConfigurationError{Missing: "api secret"}
	}

	snap, err := e.sync.Run(context.Background(), false)
	require.NoError(t, err)
	require.True(t, snap.Result.Fallback)
}

func TestSyncNeverErasesReconciliation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, configured, SyncConfig{})
	e.source.items = []bybit.RawOrder{raw("A1", 0, 10), raw("A2", 1, 10)}

	_, err := e.svc.RunSync(ctx)
	require.NoError(t, err)

	before := time.Now()
	updated, err := e.svc.UpdateReconciliation(ctx, "A1", model.ReconciliationPatch{Reconciled: boolPtr(true), Notes: strPtr("bank ok")}, "user-7")
	require.NoError(t, err)
	require.True(t, updated.Reconciled)
	require.Equal(t, "user-7", *updated.ReconciledBy)
	require.False(t, updated.ReconciledAt.Before(before.Truncate(time.Second)))
	require.True(t, e.events.has(events.OrderReconciled))

	e.source.items[0].Status = bybit.Code(50)
	e.source.items[0].Price = "7.99"
	snap, err := e.sync.Run(ctx, false)
	require.NoError(t, err)

	var a1 model.Order
	for _, o := range snap.Orders {
		if o.ID == "A1" {
			a1 = o
		}
	}
	require.True(t, a1.Reconciled)
	require.Equal(t, "user-7", *a1.ReconciledBy)
	require.Equal(t, "bank ok", *a1.Notes)
	require.Equal(t, "Order finished", a1.Status)
	require.Equal(t, "7.99", a1.Price)

	page, err := e.svc.FetchOrders(ctx, mustCriteria(t, "reconciled=true"))
	require.NoError(t, err)
	require.Equal(t, model.SourceStore, page.Source)
	require.Equal(t, 1, page.Total)
	require.Equal(t, "7.99", page.Orders[0].Price)
}

func TestUnreconcileClearsStamps(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, model.Credentials{}, SyncConfig{})

	_, err := e.svc.UpdateReconciliation(ctx, "3", model.ReconciliationPatch{Reconciled: boolPtr(true)}, "u1")
	require.NoError(t, err)

	o, err := e.svc.UpdateReconciliation(ctx, "3", model.ReconciliationPatch{Reconciled: boolPtr(false)}, "u1")
	require.NoError(t, err)
	require.False(t, o.Reconciled)
	require.Nil(t, o.ReconciledBy)
	require.Nil(t, o.ReconciledAt)

	_, err = e.svc.UpdateReconciliation(ctx, "3", model.ReconciliationPatch{}, "u1")
	require.ErrorIs(t, err, ErrEmptyPatch)

	_, err = e.svc.UpdateReconciliation(ctx, "missing", model.ReconciliationPatch{Reconciled: boolPtr(true)}, "u1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFetchOrdersFromDemoWhenStoreEmpty(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, model.Credentials{}, SyncConfig{})

	_, err := e.svc.UpdateReconciliation(ctx, "1", model.ReconciliationPatch{Reconciled: boolPtr(true)}, "u1")
	require.NoError(t, err)

	page, err := e.svc.FetchOrders(ctx, mustCriteria(t, "per_page=5"))
	require.NoError(t, err)
	require.Equal(t, model.SourceDemo, page.Source)
	require.Equal(t, fixture.Size, page.Total)
	require.Equal(t, 4, page.Pages)
	require.Len(t, page.Orders, 5)

	page, err = e.svc.FetchOrders(ctx, mustCriteria(t, "reconciled=true"))
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	require.Equal(t, "1", page.Orders[0].ID)
}

func TestFetchOrderDetailSources(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, configured, SyncConfig{})
	e.source.details = map[string]bybit.RawOrder{"LIVE": raw("LIVE", 0, 50)}

	o, err := e.svc.FetchOrderDetail(ctx, "LIVE")
	require.NoError(t, err)
	require.Equal(t, "Order finished", o.Status)

	o, err = e.svc.FetchOrderDetail(ctx, "2")
	require.NoError(t, err)
	require.Equal(t, "ORD-100001", o.OrderID)

	_, err = e.svc.FetchOrderDetail(ctx, "nowhere")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestImportCSV(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, model.Credentials{}, SyncConfig{})

	body := "Order ID,Side,Status,Amount,Create Date\n" +
		"C1,BUY,Order finished,100,2024-01-05\n" +
		"C2,SELL,Appealing,200,2024-01-06\n" +
		"C3,BUY,Order finished,300,2024-01-07\n"

	_, err := e.svc.ImportCSV(ctx, strings.NewReader(body), false)
	require.ErrorIs(t, err, ErrForbidden)

	res, err := e.svc.ImportCSV(ctx, strings.NewReader(body), true)
	require.NoError(t, err)
	require.Equal(t, 3, res.ImportedOrders)
	require.Equal(t, 3, res.StoredOrders)
	require.True(t, e.events.has(events.OrdersImported))

	_, err = e.svc.UpdateReconciliation(ctx, "C2", model.ReconciliationPatch{Reconciled: boolPtr(true)}, "admin")
	require.NoError(t, err)

	res, err = e.svc.ImportCSV(ctx, strings.NewReader(strings.Replace(body, "Appealing", "Order finished", 1)), true)
	require.NoError(t, err)
	require.Equal(t, 3, res.ImportedOrders)

	c2, err := e.svc.FetchOrderDetail(ctx, "C2")
	require.NoError(t, err)
	require.True(t, c2.Reconciled)
	require.Equal(t, "admin", *c2.ReconciledBy)
	require.Equal(t, "Order finished", c2.Status)

	stored, err := e.repo.Get(ctx, "C2")
	require.NoError(t, err)
	require.True(t, stored.Reconciled)

	_, err = e.svc.ImportCSV(ctx, strings.NewReader("Order ID,Side\n"), true)
	var importErr *csvimport.ImportError
	require.ErrorAs(t, err, &importErr)
}

func TestReadsReuseSnapshotUntilStale(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, configured, SyncConfig{SnapshotTTL: time.Minute})
	e.source.listErr = &bybit.TransportError{Path: "/v5/p2p/order", StatusCode: 503, Err: errors.New("down")}

	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	e.sync.now = func() time.Time { return now }

	require.Equal(t, model.PhaseIdle, e.svc.SyncStatus().Phase)

	for range 3 {
		page, err := e.svc.FetchOrders(ctx, mustCriteria(t, ""))
		require.NoError(t, err)
		require.Equal(t, model.SourceDemo, page.Source)
	}
	_, err := e.svc.Statuses(ctx)
	require.NoError(t, err)
	require.Len(t, e.source.pageCalls, 1)
	require.True(t, e.svc.SyncStatus().Fallback)

	now = now.Add(2 * time.Minute)
	_, err = e.svc.Summary(ctx, mustCriteria(t, ""))
	require.NoError(t, err)
	require.Len(t, e.source.pageCalls, 2)

	e.sync.Invalidate()
	_, err = e.svc.FetchOrders(ctx, mustCriteria(t, ""))
	require.NoError(t, err)
	require.Len(t, e.source.pageCalls, 3)
}

func TestStatusesAndSummary(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, model.Credentials{}, SyncConfig{})

	statuses, err := e.svc.Statuses(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, statuses)

	sum, err := e.svc.Summary(ctx, mustCriteria(t, "side=BUY"))
	require.NoError(t, err)
	require.Equal(t, fixture.Size/2, sum.Total)
	require.Equal(t, fixture.Size/2, sum.Buy.Count)
	require.Equal(t, 0, sum.Sell.Count)
}

func mustCriteria(t *testing.T, q string) orders.Criteria {
	t.Helper()
	rc := orders.RawCriteria{}
	for _, pair := range strings.Split(q, "&") {
		k, v, _ := strings.Cut(pair, "=")
		switch k {
		case "reconciled":
			rc.Reconciled = v
		case "side":
			rc.Side = v
		case "per_page":
			rc.PerPage = v
		}
	}
	c, err := rc.Normalize()
	require.NoError(t, err)
	return c
}
