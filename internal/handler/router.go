package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"p2precon/internal/events"
	"p2precon/internal/mw"
	"p2precon/internal/service"
	"p2precon/internal/settings"
)

type Deps struct {
	Auth      *service.AuthService
	Orders    *service.OrderService
	Settings  *settings.Store
	Hub       *events.Hub
	JWTSecret string
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public routes
	r.Post("/api/user/register", RegisterHandler(d.Auth, d.JWTSecret))
	r.Post("/api/user/login", LoginHandler(d.Auth, d.JWTSecret))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(mw.AuthMiddleware(d.JWTSecret))

		r.Get("/api/orders", ListOrdersHandler(d.Orders))
		r.Get("/api/orders/statuses", StatusesHandler(d.Orders))
		r.Get("/api/orders/summary", SummaryHandler(d.Orders))
		r.Get("/api/orders/sync", SyncStatusHandler(d.Orders))
		r.Post("/api/orders/sync", SyncHandler(d.Orders))
		r.Post("/api/orders/import", ImportHandler(d.Orders))
		r.Get("/api/orders/{id}", GetOrderHandler(d.Orders))
		r.Patch("/api/orders/{id}", UpdateOrderHandler(d.Orders))

		r.Get("/api/settings/credentials", GetCredentialsHandler(d.Settings))

		if d.Hub != nil {
			r.Get("/api/events", d.Hub.ServeWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(mw.AdminOnly)

			r.Put("/api/settings/credentials", UpdateCredentialsHandler(d.Settings))
			r.Delete("/api/settings/credentials", ClearCredentialsHandler(d.Settings))
			r.Get("/api/admin/users", ListUsersHandler(d.Auth))
			r.Post("/api/admin/users", CreateUserHandler(d.Auth))
		})
	})

	return r
}
