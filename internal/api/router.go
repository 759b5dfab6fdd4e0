/**
 * @description
 * This file sets up the HTTP router for the refund-service using the `chi`
 * routing library. It defines all the API routes, applies the CORS and auth
 * middleware, and mounts the realtime gateway endpoints.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: The routing library.
 * - github.com/go-chi/cors: CORS middleware for browser clients.
 * - The service's internal packages for handlers and middleware.
 */
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/refundly/refund-service/internal/app"
	"github.com/refundly/refund-service/internal/auth"
)

// NewRouter creates and configures a new HTTP router. realtime carries the
// gateway's /ws and /up endpoints and may be nil in tests.
func NewRouter(service *app.Service, resolver auth.SessionResolver, realtime http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	if realtime != nil {
		r.Mount("/realtime", realtime)
	}

	refundHandler := NewRefundHandler(service)

	// Group routes that require authentication
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(resolver))

		r.Route("/refunds", func(r chi.Router) {
			r.Post("/", refundHandler.CreateEstimate)
			r.Get("/", refundHandler.ListRefunds)
			r.Get("/{id}", refundHandler.GetRefund)
			r.Post("/{id}/approve", refundHandler.Approve)
			r.Post("/{id}/decline", refundHandler.Decline)
			r.Post("/{id}/verify-and-pay", refundHandler.VerifyAndPay)
			r.Route("/{id}/receipts", func(r chi.Router) {
				r.Post("/", refundHandler.SubmitReceipt)
				r.Get("/", refundHandler.ListReceipts)
				r.Post("/reject", refundHandler.RejectReceipts)
				r.Post("/request-more", refundHandler.RequestMoreReceipts)
				r.Patch("/{receiptId}", refundHandler.UpdateReceiptAmount)
			})
		})

		r.Get("/notifications", refundHandler.ListNotifications)
	})

	return r
}
