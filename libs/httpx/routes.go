package httpx

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// OtherRoute labels requests whose path matches no known route.
const OtherRoute = "other"

// RouteLabels returns a label func for HTTPMetrics.Middleware. A path is labelled
// with the first pattern it matches, where a {name} segment matches any single
// non-empty segment. Anything else is OtherRoute, so scanners and typos cannot
// grow the label set.
func RouteLabels(patterns ...string) func(*http.Request) string {
	split := make([][]string, len(patterns))
	for i, p := range patterns {
		split[i] = pathSegments(p)
	}
	return func(r *http.Request) string {
		segs := pathSegments(r.URL.Path)
		for i, want := range split {
			if matchSegments(want, segs) {
				return patterns[i]
			}
		}
		return OtherRoute
	}
}

func pathSegments(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}

func matchSegments(pattern, segs []string) bool {
	if len(pattern) != len(segs) {
		return false
	}
	for i, p := range pattern {
		if strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}") {
			if segs[i] == "" {
				return false
			}
			continue
		}
		if p != segs[i] {
			return false
		}
	}
	return true
}

// IsUUID reports whether s is a hyphenated UUID. Handlers check path ids with it
// so malformed ids are a 404 rather than a uuid cast error from Postgres.
func IsUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
