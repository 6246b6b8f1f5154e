package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ariefcatur/go-restaurant-backend/internal/auth"
)

// NewRouter builds the base router. A nil limiter disables rate limiting.
func NewRouter(limiter *ClientLimiter) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	if limiter != nil {
		r.Use(limiter.Middleware)
	}
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// API groups the authenticated handlers behind one bearer-token check.
type API struct {
	Auth         *auth.Verifier
	Cart         *CartHandler
	Orders       *OrdersHandler
	Reservations *ReservationsHandler
}

func (a API) Mount(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(a.Auth.Middleware)
		if a.Cart != nil {
			a.Cart.Register(r)
		}
		if a.Orders != nil {
			a.Orders.Register(r)
		}
		if a.Reservations != nil {
			a.Reservations.Register(r)
		}
	})
}
