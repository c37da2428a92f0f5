package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"p2precon/internal/bybit"
	"p2precon/internal/csvimport"
	"p2precon/internal/model"
	"p2precon/internal/mw"
	"p2precon/internal/orders"
	"p2precon/internal/service"
)

const maxImportBytes = 10 << 20

func ListOrdersHandler(orderSvc *service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := orders.CriteriaFromQuery(r.URL.Query())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		page, err := orderSvc.FetchOrders(r.Context(), c)
		if err != nil {
			slog.Error("fetch orders failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func GetOrderHandler(orderSvc *service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o, err := orderSvc.FetchOrderDetail(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeOrderError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, o)
	}
}

func UpdateOrderHandler(orderSvc *service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := mw.IdentityFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var patch model.ReconciliationPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		o, err := orderSvc.UpdateReconciliation(r.Context(), chi.URLParam(r, "id"), patch, id.UserID)
		if err != nil {
			writeOrderError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, o)
	}
}

// SyncHandler runs an explicit sync; an exchange failure is reported as 502.
func SyncHandler(orderSvc *service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := orderSvc.RunSync(r.Context())
		if err != nil {
			var transport *bybit.TransportError
			var remote *bybit.RemoteError
			if errors.As(err, &transport) || errors.As(err, &remote) {
				writeJSON(w, http.StatusBadGateway, res)
				return
			}
			slog.Error("sync failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, res)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// SyncStatusHandler reports the last sync pass, or the idle phase before the first.
func SyncStatusHandler(orderSvc *service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, orderSvc.SyncStatus())
	}
}

func ImportHandler(orderSvc *service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := mw.IdentityFromContext(r.Context())

		r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
		body, err := importBody(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer body.Close()

		res, err := orderSvc.ImportCSV(r.Context(), body, id.IsAdmin)
		if err != nil {
			var importErr *csvimport.ImportError
			if errors.As(err, &importErr) {
				writeJSON(w, http.StatusUnprocessableEntity, model.ImportResult{
					Message: importErr.Error(),
					Errors:  importErr.Lines,
				})
				return
			}
			writeOrderError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// importBody accepts a multipart upload in field "file" or the raw request body.
func importBody(r *http.Request) (io.ReadCloser, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		f, _, err := r.FormFile("file")
		if err != nil {
			return nil, errors.New("missing file field")
		}
		return f, nil
	}
	return r.Body, nil
}

func StatusesHandler(orderSvc *service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses, err := orderSvc.Statuses(r.Context())
		if err != nil {
			slog.Error("list statuses failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, statuses)
	}
}

func SummaryHandler(orderSvc *service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := orders.CriteriaFromQuery(r.URL.Query())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sum, err := orderSvc.Summary(r.Context(), c)
		if err != nil {
			slog.Error("summary failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, sum)
	}
}

func writeOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		http.Error(w, "order not found", http.StatusNotFound)
	case errors.Is(err, service.ErrForbidden):
		http.Error(w, "admin only", http.StatusForbidden)
	case errors.Is(err, service.ErrEmptyPatch):
		http.Error(w, "nothing to update", http.StatusBadRequest)
	default:
		slog.Error("order request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response failed", "error", err)
	}
}
