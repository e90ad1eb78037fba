package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sustainage/admission-gate/internal/http/handler"
	"github.com/sustainage/admission-gate/internal/http/middleware"
	"github.com/sustainage/admission-gate/internal/http/response"
	"github.com/sustainage/admission-gate/internal/repository"
	"github.com/sustainage/admission-gate/internal/service"
)

// ReadyCheck pings one dependency. A non-nil error marks the gate unready.
type ReadyCheck func(ctx context.Context) error

type Dependencies struct {
	AuthHandler    *handler.AuthHandler
	LicenseHandler *handler.LicenseHandler
	AdminHandler   *handler.AdminHandler

	Licenses *service.LicenseService
	Sessions *service.SessionService
	Users    repository.UserRepository

	RateLimiter        service.RateLimiter
	Bypass             *service.BypassList
	APIRateLimitMax    int
	APIRateLimitWindow time.Duration

	ReadyChecks map[string]ReadyCheck

	EnableOTelHTTP bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.BodyLimit(1 << 20))

	// Health endpoints sit outside the API limiter so probes never compete
	// with tenant traffic.
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		results := map[string]string{}
		ready := true
		for name, check := range dep.ReadyChecks {
			if err := check(r.Context()); err != nil {
				ready = false
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	// Like the login limiter and admission, an unanswerable counter store
	// refuses rather than admits.
	apiLimiter := middleware.NewRateLimit(
		dep.RateLimiter, "api", dep.APIRateLimitMax, dep.APIRateLimitWindow, middleware.FailClosed,
	).WithBypass(dep.Bypass).Middleware()

	requireSession := middleware.RequireSession(dep.Sessions, dep.Users)
	admission := middleware.Admission(dep.Licenses, dep.Sessions)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apiLimiter)

		r.Route("/auth", func(r chi.Router) {
			// Login throttling lives inside the guard; no extra limiter here.
			r.Post("/login", dep.AuthHandler.Login)
			r.Get("/captcha", dep.AuthHandler.Captcha)
			r.With(middleware.CSRFMiddleware).Post("/logout", dep.AuthHandler.Logout)
		})

		r.Group(func(r chi.Router) {
			r.Use(admission)
			r.Get("/licenses/current", dep.LicenseHandler.Current)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireSession)
			r.Use(middleware.RequireAdmin)
			r.Use(middleware.CSRFMiddleware)
			r.Post("/licenses", dep.LicenseHandler.Issue)
			r.Post("/licenses/revoke", dep.LicenseHandler.Revoke)
			r.Post("/users", dep.AdminHandler.CreateUser)
			r.Delete("/users/{id}", dep.AdminHandler.DeleteUser)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
