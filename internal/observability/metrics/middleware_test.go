package metrics

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPMiddlewareRecordsRequests(t *testing.T) {
	recorder := New()
	handler := HTTPMiddleware(recorder, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/widgets/abc123def456", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	body := scrape(t, recorder)
	expected := `pulsebench_http_requests_total{method="GET",route="/widgets/:id",status="418"} 1`
	if !strings.Contains(body, expected) {
		t.Fatalf("expected metrics output to contain %q, got:\n%s", expected, body)
	}
}

func TestNormalizeRouteCollapsesIDs(t *testing.T) {
	cases := map[string]string{
		"/api/research/items/11111111-2222-3333-4444-555555555555": "/api/research/items/:id",
		"/api/audits":             "/api/audits",
		"/api/v1/users/abcdef123": "/api/v1/users/:id",
	}
	for in, want := range cases {
		if got := normalizeRoute(in); got != want {
			t.Errorf("normalizeRoute(%q) = %q, want %q", in, got, want)
		}
	}
}

func scrape(t *testing.T, r *Recorder) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	r.Handler().ServeHTTP(rr, req)
	var buf bytes.Buffer
	buf.ReadFrom(rr.Result().Body)
	return buf.String()
}
