package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/MrJamesThe3rd/mpesa-gateway/internal/http/auth"
	"github.com/MrJamesThe3rd/mpesa-gateway/internal/http/mpesa"
	"github.com/MrJamesThe3rd/mpesa-gateway/internal/http/payment"
)

type Options struct {
	Timeout        time.Duration
	AllowedOrigins []string
	// JWTSecret enables bearer auth on the payment and push routes when set.
	JWTSecret string
}

func New(
	paymentsV1 *payment.Handler,
	mpesaV1 *mpesa.Handler,
	opts Options,
) http.Handler {
	router := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	if opts.Timeout > 0 {
		router.Use(middleware.Timeout(opts.Timeout))
	}

	router.Get("/health", health)

	protected := func(r chi.Router) {
		if opts.JWTSecret != "" {
			r.Use(auth.Middleware([]byte(opts.JWTSecret)))
		}
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/payments", func(r chi.Router) {
			protected(r)
			r.Use(middleware.AllowContentType("application/json"))
			paymentsV1.Routes(r)
		})

		r.Route("/mpesa", func(r chi.Router) {
			mpesaV1.CallbackRoutes(r)

			r.Group(func(r chi.Router) {
				protected(r)
				r.Use(middleware.AllowContentType("application/json"))
				mpesaV1.Routes(r)
			})
		})
	})

	return router
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(healthResponse{Status: "ok", Timestamp: time.Now().UTC()}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
