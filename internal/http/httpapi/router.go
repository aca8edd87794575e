package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"aix/internal/http/handlers"
	"aix/internal/middleware"
)

// RouterOptions carries the cross-cutting settings of the router.
type RouterOptions struct {
	Logger          zerolog.Logger
	AllowedOrigins  []string
	RateLimitPerMin int
	Locales         *middleware.Locales
	CountryLookup   middleware.CountryLookup
}

func NewRouter(app *handlers.App, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.AllowedOrigins),
		middleware.I18N(opts.Locales, opts.CountryLookup),
	)

	r.Get("/v1/healthz", app.Health)

	limit := func(next http.Handler) http.Handler { return next }
	if opts.RateLimitPerMin > 0 {
		limit = middleware.RateLimit(opts.RateLimitPerMin, time.Minute)
	}

	r.Route("/v1/keys", func(r chi.Router) {
		r.Use(limit)
		r.Get("/status", app.KeyStatus)
		r.Post("/request", app.KeyRequest)
	})

	r.Route("/v1/videos", func(r chi.Router) {
		// The event stream is long-lived and stays outside the rate limit.
		r.Get("/events", app.VideosEvents)

		r.With(limit).Post("/", app.VideosGenerate)
		r.With(limit).Post("/cancel", app.VideosCancel)
		r.With(limit).Get("/current", app.VideosCurrent)
		r.With(limit).Get("/history", app.VideosHistory)
		r.With(limit).Get("/{run_id}/asset", app.VideoAsset)
	})

	r.Route("/v1/chat/sessions", func(r chi.Router) {
		r.Use(limit)
		r.Post("/", app.ChatCreate)
		r.Get("/{id}", app.ChatGet)
		r.Post("/{id}/messages", app.ChatSend)
		r.Delete("/{id}", app.ChatDelete)
	})

	return r
}
