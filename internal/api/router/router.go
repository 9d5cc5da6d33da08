package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/or-scheduler/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/or-scheduler/internal/http/middleware"
	"github.com/wolfman30/or-scheduler/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger    *logging.Logger
	Wizard    *handlers.WizardHandler
	Calendar  *handlers.CalendarHandler
	Reference *handlers.ReferenceHandler

	// StaffAuthSecret signs the JWTs required for booking status changes.
	StaffAuthSecret    string
	StaffRoles         []string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	RateLimitPerMinute int

	// Backend names the booking backend in the health response.
	Backend string
	// Ready reports dependency health; nil means always ready.
	Ready func(ctx context.Context) error
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(httpmiddleware.RateLimit(cfg.RateLimitPerMinute))

		// The stream upgrade must not be wrapped by body or timeout middleware.
		if cfg.Calendar != nil {
			api.Get("/calendar/stream", cfg.Calendar.Stream)
		}

		api.Group(func(rest chi.Router) {
			rest.Use(middleware.AllowContentType("application/json"))
			rest.Use(middleware.Timeout(30 * time.Second))

			if cfg.Reference != nil {
				rest.Get("/reference/centers", cfg.Reference.Centers)
				rest.Get("/reference/rooms", cfg.Reference.Rooms)
			}
			if cfg.Wizard != nil {
				mountWizard(rest, cfg.Wizard)
			}
			if cfg.Calendar != nil {
				rest.Get("/calendar", cfg.Calendar.Get)
				rest.Put("/calendar/filter", cfg.Calendar.SetFilter)
				rest.Post("/calendar/refresh", cfg.Calendar.Refresh)
				rest.With(httpmiddleware.StaffJWT(cfg.StaffAuthSecret, cfg.StaffRoles...)).
					Put("/bookings/{id}/status", cfg.Calendar.UpdateStatus)
			}
		})
	})

	return r
}

func mountWizard(r chi.Router, h *handlers.WizardHandler) {
	r.Post("/wizards", h.Open)
	r.Route("/wizards/{id}", func(w chi.Router) {
		w.Get("/", h.Get)
		w.Delete("/", h.Cancel)
		w.Put("/procedure", h.SetProcedure)
		w.Post("/slots/search", h.SearchSlots)
		w.Post("/slots/select", h.SelectSlot)
		w.Post("/next", h.Next)
		w.Post("/back", h.Back)
		w.Post("/validate", h.Validate)
		w.Post("/submit", h.Submit)

		w.Get("/professionals/search", h.SearchProfessionals)
		w.Post("/professionals", h.AddProfessionals)
		w.Delete("/professionals/{pid}", h.RemoveProfessional)

		w.Get("/resources/search", h.SearchResources)
		w.Post("/resources", h.AddResources)
		w.Delete("/resources/{rid}", h.RemoveResource)

		w.Post("/items", h.AddItem)
		w.Put("/items/{itemID}", h.SetItemQuantity)
		w.Delete("/items/{itemID}", h.RemoveItem)
	})
}

func healthHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]string{"status": "ok"}
		if cfg.Backend != "" {
			resp["backend"] = cfg.Backend
		}
		status := http.StatusOK
		if cfg.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := cfg.Ready(ctx); err != nil {
				resp["status"] = "degraded"
				resp["error"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
