package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/metrics/export/prometheus"
	"github.com/MrEthical07/authcore/middleware"
)

type handlers struct {
	engine  *authcore.Engine
	cookies middleware.Cookies
}

// NewRouter returns the public HTTP surface of engine. Metrics are served
// separately by NewMetricsHandler.
func NewRouter(engine *authcore.Engine) http.Handler {
	c := middleware.New(engine)
	h := &handlers{engine: engine, cookies: c.Cookies()}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(c.RequestID, c.ClientIP)

	r.Route("/auth", func(r chi.Router) {
		r.With(c.UnauthenticatedOnly, c.RateLimit(authcore.EndpointCSRFToken)).
			Get("/csrf-token", h.csrfToken)
		r.With(c.UnauthenticatedOnly, c.RateLimit(authcore.EndpointLogin), c.CSRF).
			Post("/login", h.login)
		r.With(c.RateLimit(authcore.EndpointGetSession)).
			Post("/get-session", h.getSession)
		r.With(c.RequireAuth, c.RateLimit(authcore.EndpointLogout), c.CSRF).
			Post("/logout", h.logout)
		r.With(c.RequireAuth, c.RateLimit(authcore.EndpointLogout), c.CSRF).
			Post("/logout/all-sessions", h.logoutAll)
	})

	r.Route("/users", func(r chi.Router) {
		r.With(c.UnauthenticatedOnly, c.RateLimit(authcore.EndpointRegister), c.CSRF).
			Post("/", h.register)
		r.With(c.RequireAuth, c.RateLimit(authcore.EndpointUsersMe)).
			Get("/me", h.me)
		r.With(c.RateLimit(authcore.EndpointUsernameAvailable)).
			Get("/username-available/{username}", h.usernameAvailable)

		r.Route("/{id}", func(r chi.Router) {
			r.Use(c.RequireAuthWithPermissions)
			r.With(c.RateLimit(authcore.EndpointPutUser), c.CSRF).Put("/", h.editUser)
			r.With(c.RateLimit(authcore.EndpointPutUser), c.CSRF).Put("/disabled", h.setDisabled)
			r.With(c.RateLimit(authcore.EndpointDeleteUser), c.CSRF).Delete("/", h.deleteUser)
			r.With(c.RateLimit(authcore.EndpointUserIcon), c.CSRF).Delete("/icon", h.deleteIcon)
		})
	})

	r.Route("/account", func(r chi.Router) {
		r.Use(c.RequireAuth)
		r.With(c.RateLimit(authcore.EndpointTOTPKey)).Get("/totp-key", h.totpKey)
		r.With(c.RateLimit(authcore.EndpointWebsocketToken)).Get("/websocket-token", h.websocketToken)
	})

	return r
}

// NewMetricsHandler serves the Prometheus exposition at GET /metrics. It
// belongs on a private listener, not on the public router.
func NewMetricsHandler(engine *authcore.Engine) http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", prometheus.NewExporter(engine).Handler())
	return r
}

func (h *handlers) fail(w http.ResponseWriter, err error) {
	middleware.WriteError(w, h.cookies, err)
}
