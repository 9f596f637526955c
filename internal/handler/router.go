package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/dabil/internal/middleware"
	"github.com/mmeshcher/dabil/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса Dabil.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	staff := custommiddleware.RequireRole(model.RoleStaff, model.RoleManager, model.RoleAdmin)
	managers := custommiddleware.RequireRole(model.RoleManager, model.RoleAdmin)
	admins := custommiddleware.RequireRole(model.RoleAdmin)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/signup", h.Signup)
		r.Post("/auth/login", h.Login)

		r.Get("/restaurants", h.ListRestaurants)
		r.Get("/restaurants/{id}", h.GetRestaurant)
		r.Get("/restaurants/{id}/qr", h.RestaurantQR)

		r.Post("/webhooks/paystack", h.PaystackWebhook)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/users/me", h.Me)
			r.Put("/users/me", h.UpdateProfile)
			r.Put("/users/me/password", h.ChangePassword)

			r.With(admins).Post("/restaurants", h.CreateRestaurant)
			r.With(admins).Delete("/restaurants/{id}", h.DeactivateRestaurant)
			r.Group(func(r chi.Router) {
				r.Use(managers)
				r.Post("/restaurants/{id}/menu", h.AddMenuItem)
				r.Post("/restaurants/{id}/staff", h.CreateStaff)
				r.Get("/restaurants/{id}/staff", h.ListStaff)
				r.Get("/restaurants/{id}/stats", h.RestaurantStats)
				r.Get("/restaurants/{id}/loyalty-overview", h.LoyaltyOverview)
			})

			r.Post("/sessions/checkin", h.CheckIn)
			r.Get("/sessions/active", h.ActiveSession)
			r.Put("/sessions/{id}/checkout", h.CheckOut)
			r.Get("/sessions/{id}/orders", h.SessionOrders)

			r.With(staff).Get("/pos/guests", h.Guests)

			r.Post("/orders", h.CreateOrder)
			r.Get("/orders/{id}", h.GetOrder)
			r.Get("/orders/{id}/payment-status", h.PaymentStatus)
			r.Post("/orders/{id}/confirm-payment", h.ConfirmPayment)
			r.Post("/orders/{id}/decline-payment", h.DeclinePayment)
			r.Post("/orders/{id}/retry", h.RetryOrder)
			r.Group(func(r chi.Router) {
				r.Use(staff)
				r.Put("/orders/{id}/serve", h.ServeOrder)
				r.Post("/orders/{id}/request-payment", h.RequestPayment)
			})

			r.Get("/wallet/balance", h.Balance)
			r.Post("/wallet/fund", h.Fund)
			r.Get("/wallet/verify/{reference}", h.VerifyFunding)
			r.Get("/wallet/transactions", h.Transactions)
			r.Post("/wallet/redeem", h.Redeem)

			r.Get("/loyalty", h.Loyalty)

			r.Route("/admin", func(r chi.Router) {
				r.Use(admins)
				r.Get("/stats", h.AdminStats)
				r.Get("/wallets/{userID}/reconcile", h.Reconcile)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
