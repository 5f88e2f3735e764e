package main

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/northpeak/studio/libs/auth"
	"github.com/northpeak/studio/libs/httpx"
)

const testSecret = "test-secret"

func signedToken(t *testing.T, userID, role string) string {
	t.Helper()
	token, err := auth.SignHS256(auth.NewClaims(userID, userID+"@example.com", role, time.Now(), time.Hour), testSecret)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	return token
}

func TestRequireRole(t *testing.T) {
	h := requireRole(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), auth.RoleEditor)

	for role, want := range map[string]int{
		"":              http.StatusForbidden,
		"member":        http.StatusForbidden,
		auth.RoleEditor: http.StatusOK,
		auth.RoleAdmin:  http.StatusOK,
	} {
		req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
		req.Header.Set(headerUserRole, role)
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, req)
		if rw.Code != want {
			t.Fatalf("role %q: expected %d, got %d", role, want, rw.Code)
		}
	}
}

func TestRequireAuthHS256(t *testing.T) {
	h := requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(headerUserID) != "user-1" || r.Header.Get(headerUserRole) != auth.RoleEditor {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}), testSecret)

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "user-1", auth.RoleEditor))
	req.Header.Set(headerUserRole, auth.RoleAdmin)
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}

	reqBad := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	reqBad.Header.Set("Authorization", "Bearer badtoken")
	rwBad := httptest.NewRecorder()
	h.ServeHTTP(rwBad, reqBad)
	if rwBad.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rwBad.Code)
	}
}

type upstreamRecorder struct {
	srv  *httptest.Server
	hits []*http.Request
}

func newUpstream(t *testing.T) *upstreamRecorder {
	t.Helper()
	u := &upstreamRecorder{}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits = append(u.hits, r.Clone(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func TestRoutesProxyByPrefixAndRole(t *testing.T) {
	authUp, booking, content, careers, analytics := newUpstream(t), newUpstream(t), newUpstream(t), newUpstream(t), newUpstream(t)
	mux := http.NewServeMux()
	registerRoutes(mux, upstreams{
		Auth:      authUp.srv.URL,
		Booking:   booking.srv.URL,
		Content:   content.srv.URL,
		Careers:   careers.srv.URL,
		Analytics: analytics.srv.URL,
	}, testSecret, nil)

	editor := signedToken(t, "u-2", auth.RoleEditor)
	admin := signedToken(t, "u-1", auth.RoleAdmin)

	cases := []struct {
		method, path, token string
		want                int
		upstream            *upstreamRecorder
	}{
		{http.MethodGet, "/api/v1/public/slots", "", http.StatusOK, booking},
		{http.MethodPost, "/api/v1/public/contact", "", http.StatusOK, content},
		{http.MethodGet, "/api/v1/public/legal/privacy", "", http.StatusOK, content},
		{http.MethodPost, "/api/v1/auth/login", "", http.StatusOK, authUp},
		{http.MethodGet, "/api/v1/admin/appointments", "", http.StatusUnauthorized, nil},
		{http.MethodGet, "/api/v1/admin/appointments/abc", editor, http.StatusOK, booking},
		{http.MethodGet, "/api/v1/admin/applications", editor, http.StatusOK, careers},
		{http.MethodGet, "/api/v1/admin/stats", editor, http.StatusOK, analytics},
		{http.MethodGet, "/api/v1/admin/users", editor, http.StatusForbidden, nil},
		{http.MethodGet, "/api/v1/admin/users", admin, http.StatusOK, authUp},
	}
	for _, tc := range cases {
		before := 0
		if tc.upstream != nil {
			before = len(tc.upstream.hits)
		}
		req := httptest.NewRequest(tc.method, tc.path, nil)
		if tc.token != "" {
			req.Header.Set("Authorization", "Bearer "+tc.token)
		}
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s %s: expected %d, got %d", tc.method, tc.path, tc.want, rec.Code)
		}
		if tc.upstream != nil && len(tc.upstream.hits) != before+1 {
			t.Fatalf("%s %s: upstream not reached", tc.method, tc.path)
		}
	}

	last := booking.hits[len(booking.hits)-1]
	if last.Header.Get(headerUserID) != "u-2" || last.Header.Get(headerUserRole) != auth.RoleEditor {
		t.Fatalf("identity headers not forwarded: %v", last.Header)
	}
}

func TestPublicRoutesStripIdentityHeaders(t *testing.T) {
	booking := newUpstream(t)
	mux := http.NewServeMux()
	registerRoutes(mux, upstreams{Auth: booking.srv.URL, Booking: booking.srv.URL, Content: booking.srv.URL, Careers: booking.srv.URL, Analytics: booking.srv.URL}, testSecret, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/public/slots", nil)
	req.Header.Set(headerUserID, "spoofed")
	req.Header.Set(headerUserRole, auth.RoleAdmin)
	mux.ServeHTTP(httptest.NewRecorder(), req)

	if len(booking.hits) != 1 {
		t.Fatalf("expected 1 upstream hit, got %d", len(booking.hits))
	}
	if got := booking.hits[0].Header.Get(headerUserID); got != "" {
		t.Fatalf("spoofed user id forwarded: %q", got)
	}
}

func TestPublicWritesAreRateLimitedInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	booking := newUpstream(t)
	mux := http.NewServeMux()
	limiter := httpx.NewRedisRateLimiter(rdb, 1, time.Minute, "test:public").Middleware(nil, true)
	registerRoutes(mux, upstreams{Auth: booking.srv.URL, Booking: booking.srv.URL, Content: booking.srv.URL, Careers: booking.srv.URL, Analytics: booking.srv.URL}, testSecret, limiter)

	send := func(method string) int {
		req := httptest.NewRequest(method, "/api/v1/public/appointments", nil)
		req.RemoteAddr = "10.1.1.1:1234"
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := send(http.MethodPost); code != http.StatusOK {
		t.Fatalf("first POST: expected 200, got %d", code)
	}
	if code := send(http.MethodPost); code != http.StatusTooManyRequests {
		t.Fatalf("second POST: expected 429, got %d", code)
	}
	if code := send(http.MethodGet); code != http.StatusOK {
		t.Fatalf("GET should not be limited, got %d", code)
	}
}

func TestUpstreamDownIsBadGateway(t *testing.T) {
	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL
	down.Close()

	mux := http.NewServeMux()
	registerRoutes(mux, upstreams{Auth: downURL, Booking: downURL, Content: downURL, Careers: downURL, Analytics: downURL}, testSecret, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/public/slots", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/api/v1/public/slots":                   "/api/v1/public/slots",
		"/api/v1/public/appointments/abc/cancel": "/api/v1/public/appointments/{id}/cancel",
		"/api/v1/admin/applications/x/documents": "/api/v1/admin/applications/{id}/documents",
		"/api/v1/admin/projects/":                "/api/v1/admin/projects",
		"/api/v1/admin/users/9":                  "/api/v1/admin/users/{id}",
		"/api/v1/public/appointments/abc/zzz-1":  "other",
		"/wp-admin/setup.php":                    "other",
	}
	for path, want := range cases {
		req := &http.Request{URL: &url.URL{Path: path}}
		if got := routeLabel(req); got != want {
			t.Fatalf("routeLabel(%q) = %q, want %q", path, got, want)
		}
	}
}
