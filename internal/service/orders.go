package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"p2precon/internal/csvimport"
	"p2precon/internal/events"
	"p2precon/internal/fixture"
	"p2precon/internal/model"
	"p2precon/internal/orders"
	"p2precon/internal/repository"
)

var (
	ErrNotFound   = errors.New("order not found")
	ErrForbidden  = errors.New("forbidden")
	ErrEmptyPatch = errors.New("nothing to update")
)

// OrderService is the caller-facing order API. Reads are failure tolerant;
// writes surface their errors.
type OrderService struct {
	store     OrderStore
	overrides Overrides
	engine    *orders.Engine
	sync      *SyncCoordinator
	events    Publisher
	now       func() time.Time
}

func NewOrderService(store OrderStore, overrides Overrides, sync *SyncCoordinator, events Publisher) *OrderService {
	return &OrderService{
		store:     store,
		overrides: overrides,
		engine:    orders.NewEngine(overrides),
		sync:      sync,
		events:    events,
		now:       time.Now,
	}
}

// load returns the current order set: the persisted store, or the coordinator's
// current snapshot when the store is empty or unavailable.
func (s *OrderService) load(ctx context.Context) ([]model.Order, model.Source, error) {
	stored, err := s.store.List(ctx)
	if err != nil {
		slog.Warn("order store unavailable, using live snapshot", "error", err)
	}
	if err == nil && len(stored) > 0 {
		return stored, model.SourceStore, nil
	}

	snap, err := s.sync.Current(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("sync snapshot: %w", err)
	}
	return snap.Orders, snap.Result.Source, nil
}

func (s *OrderService) FetchOrders(ctx context.Context, c orders.Criteria) (model.OrdersPage, error) {
	list, source, err := s.load(ctx)
	if err != nil {
		return model.OrdersPage{}, err
	}
	page, err := s.engine.Query(list, c)
	if err != nil {
		return model.OrdersPage{}, fmt.Errorf("query orders: %w", err)
	}
	page.Source = source
	return page, nil
}

// FetchOrderDetail looks in the persisted store, then the live API, then the
// synthetic dataset.
func (s *OrderService) FetchOrderDetail(ctx context.Context, id string) (model.Order, error) {
	o, err := s.store.Get(ctx, id)
	switch {
	case err == nil:
		return s.overrides.Apply(o)
	case !errors.Is(err, repository.ErrNotFound):
		slog.Warn("order store lookup failed", "id", id, "error", err)
	}

	o, err = s.sync.Detail(ctx, id)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, ErrNotConfigured) {
		slog.Warn("live order lookup failed", "id", id, "error", err)
	}

	if o, ok := fixture.Detail(id, s.now()); ok {
		return s.overrides.Apply(o)
	}
	return model.Order{}, ErrNotFound
}

// UpdateReconciliation is the only mutation path for reconciliation state.
func (s *OrderService) UpdateReconciliation(ctx context.Context, id string, patch model.ReconciliationPatch, actor string) (model.Order, error) {
	if patch.Empty() {
		return model.Order{}, ErrEmptyPatch
	}

	o, err := s.FetchOrderDetail(ctx, id)
	if err != nil {
		return model.Order{}, err
	}

	ov, err := s.overrides.Set(o.ID, patch, actor, o.Override())
	if err != nil {
		return model.Order{}, fmt.Errorf("save override: %w", err)
	}
	if err := s.store.UpdateReconciliation(ctx, o.ID, ov); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return model.Order{}, fmt.Errorf("persist reconciliation: %w", err)
	}

	updated := o.WithOverride(ov)
	slog.Info("order reconciliation updated", "id", o.ID, "reconciled", ov.Reconciled, "actor", actor)
	if s.events != nil {
		s.events.Publish(events.OrderReconciled, updated)
	}
	return updated, nil
}

// RunSync is the explicit "sync now" action; failures reach the caller.
func (s *OrderService) RunSync(ctx context.Context) (model.SyncResult, error) {
	snap, err := s.sync.Run(ctx, false)
	return snap.Result, err
}

func (s *OrderService) SyncStatus() model.SyncResult {
	return s.sync.Status()
}

// ImportCSV parses an upload and stores its orders. Stored reconciliation
// state for existing ids is kept.
func (s *OrderService) ImportCSV(ctx context.Context, r io.Reader, isAdmin bool) (model.ImportResult, error) {
	if !isAdmin {
		return model.ImportResult{}, ErrForbidden
	}

	parsed, err := csvimport.Parse(r, s.now())
	if err != nil {
		return model.ImportResult{Errors: parsed.Errors}, err
	}

	merged, err := s.overrides.ApplyAll(parsed.Orders)
	if err != nil {
		return model.ImportResult{}, fmt.Errorf("apply overrides: %w", err)
	}
	if err := s.store.Upsert(ctx, merged, model.SourceCSV); err != nil {
		return model.ImportResult{}, fmt.Errorf("store imported orders: %w", err)
	}

	stored, err := s.store.Count(ctx)
	if err != nil {
		return model.ImportResult{}, fmt.Errorf("count stored orders: %w", err)
	}

	res := model.ImportResult{
		Message:        fmt.Sprintf("Successfully imported %d orders from CSV", len(merged)),
		ImportedOrders: len(merged),
		Skipped:        parsed.Skipped,
		StoredOrders:   stored,
		Errors:         parsed.Errors,
	}
	slog.Info("csv import finished", "imported", res.ImportedOrders, "skipped", res.Skipped, "stored", stored, "warnings", len(res.Errors))
	if s.events != nil {
		s.events.Publish(events.OrdersImported, res)
	}
	return res, nil
}

// Statuses lists the status labels present in the current order set.
func (s *OrderService) Statuses(ctx context.Context) ([]string, error) {
	list, _, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return orders.Statuses(list), nil
}

// Summary aggregates the orders matching c, ignoring pagination.
func (s *OrderService) Summary(ctx context.Context, c orders.Criteria) (orders.Summary, error) {
	list, _, err := s.load(ctx)
	if err != nil {
		return orders.Summary{}, err
	}
	merged, err := s.engine.Merge(list)
	if err != nil {
		return orders.Summary{}, err
	}
	return orders.Summarize(orders.Filter(merged, c.Predicates()...)), nil
}
