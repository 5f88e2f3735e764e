package main

import (
	"embed"
	"net/http"
	"net/http/httputil"
	"net/url"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/northpeak/studio/libs/auth"
	"github.com/northpeak/studio/libs/config"
	"github.com/northpeak/studio/libs/httpx"
)

//go:embed assets/gateway.v1.yaml
var openAPISpec embed.FS

const (
	headerUserID   = "X-User-Id"
	headerUserRole = "X-User-Role"
)

type upstreams struct {
	Auth      string
	Booking   string
	Content   string
	Careers   string
	Analytics string
}

func upstreamsFromEnv() upstreams {
	return upstreams{
		Auth:      config.String("AUTH_URL", "http://auth-service:8081"),
		Booking:   config.String("BOOKING_URL", "http://booking-service:8082"),
		Content:   config.String("CONTENT_URL", "http://content-service:8083"),
		Careers:   config.String("CAREERS_URL", "http://careers-service:8084"),
		Analytics: config.String("ANALYTICS_URL", "http://analytics-service:8086"),
	}
}

func registerRoutes(mux *http.ServeMux, up upstreams, jwtSecret string, publicWrites httpx.Middleware) {
	authProxy := newProxy(up.Auth)
	bookingProxy := newProxy(up.Booking)
	contentProxy := newProxy(up.Content)
	careersProxy := newProxy(up.Careers)
	analyticsProxy := newProxy(up.Analytics)

	staff := func(next http.Handler) http.Handler {
		return requireAuth(requireRole(next, auth.RoleEditor), jwtSecret)
	}
	admin := func(next http.Handler) http.Handler {
		return requireAuth(requireRole(next, auth.RoleAdmin), jwtSecret)
	}

	registerProxy(mux, "/api/v1/auth", anonymous(authProxy))

	registerProxy(mux, "/api/v1/public/slots", anonymous(bookingProxy))
	registerProxy(mux, "/api/v1/public/appointments", anonymous(limitWrites(bookingProxy, publicWrites)))
	registerProxy(mux, "/api/v1/public/services", anonymous(contentProxy))
	registerProxy(mux, "/api/v1/public/packages", anonymous(contentProxy))
	registerProxy(mux, "/api/v1/public/legal", anonymous(contentProxy))
	registerProxy(mux, "/api/v1/public/projects", anonymous(contentProxy))
	registerProxy(mux, "/api/v1/public/contact", anonymous(limitWrites(contentProxy, publicWrites)))

	registerProxy(mux, "/api/v1/admin/users", admin(authProxy))
	registerProxy(mux, "/api/v1/admin/audit", admin(authProxy))
	registerProxy(mux, "/api/v1/admin/appointments", staff(bookingProxy))
	registerProxy(mux, "/api/v1/admin/projects", staff(contentProxy))
	registerProxy(mux, "/api/v1/admin/applications", staff(careersProxy))
	registerProxy(mux, "/api/v1/admin/stats", staff(analyticsProxy))

	mux.HandleFunc("/openapi", func(w http.ResponseWriter, _ *http.Request) {
		data, err := openAPISpec.ReadFile("assets/gateway.v1.yaml")
		if err != nil {
			http.Error(w, "openapi not available", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})
}

func newProxy(raw string) *httputil.ReverseProxy {
	target, err := url.Parse(raw)
	if err != nil {
		panic(err)
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.Transport = otelhttp.NewTransport(http.DefaultTransport)
	proxy.ErrorHandler = func(w http.ResponseWriter, _ *http.Request, _ error) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}
	return proxy
}

func registerProxy(mux *http.ServeMux, prefix string, handler http.Handler) {
	mux.Handle(prefix, handler)
	mux.Handle(prefix+"/", handler)
}

// anonymous drops identity headers a caller may have set itself.
func anonymous(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Del(headerUserID)
		r.Header.Del(headerUserRole)
		next.ServeHTTP(w, r)
	})
}

// limitWrites applies limit to POST requests only.
func limitWrites(next http.Handler, limit httpx.Middleware) http.Handler {
	if limit == nil {
		return next
	}
	limited := limit(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			limited.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireAuth(next http.Handler, jwtSecret string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Del(headerUserID)
		r.Header.Del(headerUserRole)

		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
			return
		}
		claims, err := auth.ParseAndVerifyHS256(token, jwtSecret)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		r.Header.Set(headerUserID, claims.UserID())
		r.Header.Set(headerUserRole, claims.Role)
		next.ServeHTTP(w, r)
	})
}

func requireRole(next http.Handler, roles ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.HasRole(r.Header.Get(headerUserRole), roles...) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// routeLabel names the routes the gateway forwards. Upstream paths not listed
// here are labelled other.
var routeLabel = httpx.RouteLabels(
	"/openapi",
	"/api/v1/auth/login",
	"/api/v1/auth/refresh",
	"/api/v1/auth/logout",
	"/api/v1/auth/me",
	"/api/v1/public/slots",
	"/api/v1/public/appointments",
	"/api/v1/public/appointments/{id}",
	"/api/v1/public/appointments/{id}/reschedule",
	"/api/v1/public/appointments/{id}/cancel",
	"/api/v1/public/services",
	"/api/v1/public/packages",
	"/api/v1/public/legal/{slug}",
	"/api/v1/public/projects",
	"/api/v1/public/projects/{slug}",
	"/api/v1/public/contact",
	"/api/v1/admin/audit",
	"/api/v1/admin/users",
	"/api/v1/admin/users/{id}",
	"/api/v1/admin/users/{id}/password",
	"/api/v1/admin/appointments",
	"/api/v1/admin/appointments/{id}",
	"/api/v1/admin/projects",
	"/api/v1/admin/projects/{id}",
	"/api/v1/admin/projects/{id}/cover",
	"/api/v1/admin/applications",
	"/api/v1/admin/applications/{id}",
	"/api/v1/admin/applications/{id}/documents",
	"/api/v1/admin/stats",
)
