package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"p2precon/internal/bybit"
	"p2precon/internal/events"
	"p2precon/internal/fixture"
	"p2precon/internal/model"
)

// ErrNotConfigured is returned by live lookups when API credentials are not usable.
var ErrNotConfigured = errors.New("exchange api not configured")

type CredentialProvider interface {
	Credentials() model.Credentials
}

// OrderSource is the exchange API as the coordinator sees it.
type OrderSource interface {
	GetOrders(ctx context.Context, page, size int) (*bybit.OrderList, error)
	GetOrderDetail(ctx context.Context, orderID string) (*bybit.RawOrder, error)
}

// ClientFactory builds an OrderSource for a set of credentials.
type ClientFactory func(creds model.Credentials) (OrderSource, error)

// BybitFactory returns a ClientFactory producing signed Bybit clients.
func BybitFactory(opts bybit.Options) ClientFactory {
	return func(creds model.Credentials) (OrderSource, error) {
		c, err := bybit.NewClient(creds.APIKey, creds.APISecret, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

type OrderStore interface {
	Upsert(ctx context.Context, orders []model.Order, source model.Source) error
	List(ctx context.Context) ([]model.Order, error)
	Get(ctx context.Context, id string) (model.Order, error)
	UpdateReconciliation(ctx context.Context, id string, ov model.Override) error
	Count(ctx context.Context) (int, error)
}

type Overrides interface {
	Set(id string, patch model.ReconciliationPatch, actor string, base model.Override) (model.Override, error)
	Apply(o model.Order) (model.Order, error)
	ApplyAll(orders []model.Order) ([]model.Order, error)
}

type Publisher interface {
	Publish(kind string, payload any)
}

type SyncConfig struct {
	PageSize          int
	MaxPages          int
	DetailConcurrency int
	// SnapshotTTL is how long a successful pass serves reads before Current runs a new one.
	SnapshotTTL time.Duration
}

// Snapshot is the merged order set produced by one pass.
type Snapshot struct {
	Orders []model.Order
	Result model.SyncResult
}

// SyncCoordinator runs sync passes: fetch, normalize, merge. Between passes it
// keeps only a cached client and the last snapshot, both dropped by Invalidate.
type SyncCoordinator struct {
	creds     CredentialProvider
	factory   ClientFactory
	overrides Overrides
	store     OrderStore
	events    Publisher
	cfg       SyncConfig
	now       func() time.Time

	mu        sync.Mutex
	client    OrderSource
	clientFor model.Credentials

	snapMu     sync.Mutex
	last       *Snapshot
	lastAt     time.Time
	lastResult *model.SyncResult
	flight     singleflight.Group
}

func NewSyncCoordinator(creds CredentialProvider, factory ClientFactory, overrides Overrides, store OrderStore, events Publisher, cfg SyncConfig) *SyncCoordinator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	if cfg.DetailConcurrency <= 0 {
		cfg.DetailConcurrency = 4
	}
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = time.Minute
	}
	return &SyncCoordinator{
		creds:     creds,
		factory:   factory,
		overrides: overrides,
		store:     store,
		events:    events,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Invalidate drops the cached client and snapshot so the next pass rebuilds them.
func (c *SyncCoordinator) Invalidate() {
	c.mu.Lock()
	c.client = nil
	c.clientFor = model.Credentials{}
	c.mu.Unlock()

	c.snapMu.Lock()
	c.last = nil
	c.snapMu.Unlock()
}

// Current returns the last successful snapshot while it is younger than
// SnapshotTTL, otherwise runs one tolerant pass shared by concurrent callers.
func (c *SyncCoordinator) Current(ctx context.Context) (Snapshot, error) {
	c.snapMu.Lock()
	if c.last != nil && c.now().Sub(c.lastAt) < c.cfg.SnapshotTTL {
		snap := *c.last
		c.snapMu.Unlock()
		return snap, nil
	}
	c.snapMu.Unlock()

	v, err, _ := c.flight.Do("snapshot", func() (any, error) {
		return c.Run(ctx, true)
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

// Status reports the outcome of the last pass, or the idle phase before the first one.
func (c *SyncCoordinator) Status() model.SyncResult {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	if c.lastResult == nil {
		return model.SyncResult{Message: "No sync has run yet", Phase: model.PhaseIdle}
	}
	return *c.lastResult
}

func (c *SyncCoordinator) clientFrom(creds model.Credentials) (OrderSource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil && c.clientFor == creds {
		return c.client, nil
	}
	client, err := c.factory(creds)
	if err != nil {
		return nil, err
	}
	c.client, c.clientFor = client, creds
	return client, nil
}

// Run executes one pass. Unusable credentials always end in the synthetic
// dataset with a successful result. A fetch failure falls back the same way
// when tolerant is set and is returned otherwise.
func (c *SyncCoordinator) Run(ctx context.Context, tolerant bool) (Snapshot, error) {
	snap, err := c.run(ctx, tolerant)

	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	res := snap.Result
	c.lastResult = &res
	if err == nil {
		c.last = &snap
		c.lastAt = c.now()
	}
	return snap, err
}

func (c *SyncCoordinator) run(ctx context.Context, tolerant bool) (Snapshot, error) {
	pass := uuid.NewString()
	log := slog.With("pass", pass, "tolerant", tolerant)
	now := c.now()

	creds := c.creds.Credentials()
	if !creds.Configured() {
		return c.fallback(log, pass, now, "API not configured ("+creds.StatusText()+")")
	}
	client, err := c.clientFrom(creds)
	if err != nil {
		var cfgErr *bybit.ConfigurationError
		if errors.As(err, &cfgErr) {
			return c.fallback(log, pass, now, err.Error())
		}
		return c.fail(log, pass, tolerant, now, fmt.Errorf("build client: %w", err))
	}

	log.Info("sync phase", "phase", model.PhaseFetching)
	raw, err := c.fetchAll(ctx, client)
	if err != nil {
		return c.fail(log, pass, tolerant, now, err)
	}

	log.Info("sync phase", "phase", model.PhaseNormalizing, "fetched", len(raw))
	detailed := c.withDetails(ctx, log, client, raw)
	normalized := make([]model.Order, 0, len(detailed))
	for _, r := range detailed {
		normalized = append(normalized, bybit.Normalize(r, now))
	}

	log.Info("sync phase", "phase", model.PhaseMerging)
	if c.store != nil {
		if err := c.store.Upsert(ctx, normalized, model.SourceAPI); err != nil {
			log.Warn("persist synced orders failed", "error", err)
		}
	}
	merged, err := c.overrides.ApplyAll(normalized)
	if err != nil {
		return c.fail(log, pass, tolerant, now, fmt.Errorf("apply overrides: %w", err))
	}

	res := model.SyncResult{
		PassID:    pass,
		Message:   fmt.Sprintf("Synced %d orders from Bybit", len(merged)),
		NewOrders: len(merged),
		Source:    model.SourceAPI,
		Phase:     model.PhaseSucceeded,
	}
	log.Info("sync phase", "phase", res.Phase, "orders", res.NewOrders)
	c.publish(res)
	return Snapshot{Orders: merged, Result: res}, nil
}

func (c *SyncCoordinator) fail(log *slog.Logger, pass string, tolerant bool, now time.Time, err error) (Snapshot, error) {
	if tolerant {
		return c.fallback(log, pass, now, err.Error())
	}
	log.Error("sync phase", "phase", model.PhaseFailed, "error", err)
	return Snapshot{Result: model.SyncResult{
		PassID:  pass,
		Message: "Sync failed: " + err.Error(),
		Source:  model.SourceAPI,
		Phase:   model.PhaseFailed,
	}}, err
}

func (c *SyncCoordinator) fallback(log *slog.Logger, pass string, now time.Time, reason string) (Snapshot, error) {
	log.Warn("using demo data", "reason", reason)

	demo, err := c.overrides.ApplyAll(fixture.Orders(now))
	if err != nil {
		log.Error("apply overrides to demo data failed", "error", err)
		demo = fixture.Orders(now)
	}

	res := model.SyncResult{
		PassID:    pass,
		Message:   fmt.Sprintf("Demo mode: %s; showing %d sample orders", reason, len(demo)),
		NewOrders: len(demo),
		Source:    model.SourceDemo,
		Fallback:  true,
		Phase:     model.PhaseSucceeded,
	}
	log.Info("sync phase", "phase", res.Phase, "orders", res.NewOrders, "fallback", true)
	c.publish(res)
	return Snapshot{Orders: demo, Result: res}, nil
}

func (c *SyncCoordinator) publish(res model.SyncResult) {
	if c.events != nil {
		c.events.Publish(events.SyncCompleted, res)
	}
}

// fetchAll walks list pages until a short page, the reported total or MaxPages.
func (c *SyncCoordinator) fetchAll(ctx context.Context, client OrderSource) ([]bybit.RawOrder, error) {
	var all []bybit.RawOrder
	for page := 1; page <= c.cfg.MaxPages; page++ {
		list, err := client.GetOrders(ctx, page, c.cfg.PageSize)
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", page, err)
		}
		all = append(all, list.Items...)
		if len(list.Items) < c.cfg.PageSize || (list.Total > 0 && len(all) >= list.Total) {
			break
		}
	}
	return all, nil
}

// withDetails fetches the detail record of every order concurrently. A failed
// lookup keeps the list record for that order.
func (c *SyncCoordinator) withDetails(ctx context.Context, log *slog.Logger, client OrderSource, items []bybit.RawOrder) []bybit.RawOrder {
	out := make([]bybit.RawOrder, len(items))
	copy(out, items)

	var g errgroup.Group
	g.SetLimit(c.cfg.DetailConcurrency)
	for i, item := range items {
		g.Go(func() error {
			detail, err := client.GetOrderDetail(ctx, item.ID)
			if err != nil {
				log.Warn("order detail failed, using list record", "order_id", item.ID, "error", err)
				return nil
			}
			out[i] = *detail
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Detail fetches one order live from the exchange and applies its override.
func (c *SyncCoordinator) Detail(ctx context.Context, id string) (model.Order, error) {
	creds := c.creds.Credentials()
	if !creds.Configured() {
		return model.Order{}, ErrNotConfigured
	}
	client, err := c.clientFrom(creds)
	if err != nil {
		return model.Order{}, fmt.Errorf("build client: %w", err)
	}
	raw, err := client.GetOrderDetail(ctx, id)
	if err != nil {
		return model.Order{}, err
	}
	return c.overrides.Apply(bybit.Normalize(*raw, c.now()))
}
