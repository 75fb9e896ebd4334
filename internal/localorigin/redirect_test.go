package localorigin

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ppiankov/incognito/internal/alert"
	"github.com/ppiankov/incognito/internal/metrics"
)

// fakeTransport answers from a route table and records every request.
type fakeTransport struct {
	mu     sync.Mutex
	routes map[string]func(*http.Request) *http.Response
	seen   []string
	bodies []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{routes: make(map[string]func(*http.Request) *http.Response)}
}

func (ft *fakeTransport) redirect(from string, code int, to string) {
	ft.routes[from] = func(req *http.Request) *http.Response {
		resp := response(req, code, "")
		resp.Header.Set("Location", to)
		return resp
	}
}

func (ft *fakeTransport) ok(url, body string) {
	ft.routes[url] = func(req *http.Request) *http.Response {
		return response(req, http.StatusOK, body)
	}
}

func (ft *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ft.mu.Lock()
	ft.seen = append(ft.seen, req.Method+" "+req.URL.String())
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		ft.bodies = append(ft.bodies, string(b))
	} else {
		ft.bodies = append(ft.bodies, "")
	}
	route, ok := ft.routes[req.URL.String()]
	ft.mu.Unlock()
	if !ok {
		return response(req, http.StatusNotFound, "not found"), nil
	}
	return route(req), nil
}

func (ft *fakeTransport) requests() []string {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return append([]string(nil), ft.seen...)
}

func response(req *http.Request, code int, body string) *http.Response {
	return &http.Response{
		StatusCode: code,
		Status:     http.StatusText(code),
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
}

func newRedirectGuard(t *testing.T) (*Guard, *alert.Recorder, *metrics.Metrics) {
	t.Helper()
	g, rec, m, _ := newPushGuard(t)
	return g, rec, m
}

func TestFetcherFollowsPublicChain(t *testing.T) {
	g, _, _ := newRedirectGuard(t)
	ft := newFakeTransport()
	ft.redirect("http://203.0.113.1/a", http.StatusFound, "http://198.51.100.2/b")
	ft.redirect("http://198.51.100.2/b", http.StatusMovedPermanently, "/c")
	ft.ok("http://198.51.100.2/c", "pack")

	f := g.Fetcher(&http.Client{Transport: ft}, 20, true)
	resp, err := f.Get(context.Background(), "http://203.0.113.1/a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "pack" {
		t.Errorf("expected pack, got %q", body)
	}
	if n := len(ft.requests()); n != 3 {
		t.Errorf("expected 3 requests, got %d", n)
	}
}

func TestFetcherBlocksLocalHop(t *testing.T) {
	g, rec, m := newRedirectGuard(t)
	ft := newFakeTransport()
	ft.redirect("http://203.0.113.1/a", http.StatusFound, "http://198.51.100.2/b")
	ft.redirect("http://198.51.100.2/b", http.StatusFound, "http://127.0.0.1:25575/c")
	ft.ok("http://127.0.0.1:25575/c", "secret")

	f := g.Fetcher(&http.Client{Transport: ft}, 20, true)
	resp, err := f.Get(context.Background(), "http://203.0.113.1/a")
	if resp != nil {
		t.Error("expected no response")
	}
	var lre *LocalRedirectError
	if !errors.As(err, &lre) {
		t.Fatalf("expected LocalRedirectError, got %v", err)
	}
	if !errors.Is(err, ErrLocalRedirect) {
		t.Error("expected error to match ErrLocalRedirect")
	}
	if lre.From != "http://198.51.100.2/b" || lre.To != "http://127.0.0.1:25575/c" {
		t.Errorf("unexpected hop %s -> %s", lre.From, lre.To)
	}

	reqs := ft.requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %v", reqs)
	}
	for _, r := range reqs {
		if strings.Contains(r, "127.0.0.1") {
			t.Errorf("local hop must never be requested, saw %s", r)
		}
	}
	if rec.Count("alert") != 1 {
		t.Errorf("expected one alert, got %d", rec.Count("alert"))
	}
	if v := testutil.ToFloat64(m.RedirectsBlocked); v != 1 {
		t.Errorf("expected 1 blocked redirect, got %v", v)
	}
}

func TestFetcherBlocksLocalStart(t *testing.T) {
	g, _, _ := newRedirectGuard(t)
	ft := newFakeTransport()
	f := g.Fetcher(&http.Client{Transport: ft}, 20, true)

	_, err := f.Get(context.Background(), "http://10.0.0.5/pack.zip")
	var lre *LocalRedirectError
	if !errors.As(err, &lre) {
		t.Fatalf("expected LocalRedirectError, got %v", err)
	}
	if lre.From != "" {
		t.Errorf("expected empty From for initial URL, got %q", lre.From)
	}
	if len(ft.requests()) != 0 {
		t.Error("expected no request to be sent")
	}
}

func TestFetcherRedirectLimit(t *testing.T) {
	g, _, _ := newRedirectGuard(t)
	ft := newFakeTransport()
	ft.redirect("http://203.0.113.1/0", http.StatusFound, "/1")
	ft.redirect("http://203.0.113.1/1", http.StatusFound, "/2")
	ft.redirect("http://203.0.113.1/2", http.StatusFound, "/3")
	ft.redirect("http://203.0.113.1/3", http.StatusFound, "/4")
	ft.ok("http://203.0.113.1/4", "late")

	f := g.Fetcher(&http.Client{Transport: ft}, 3, true)
	_, err := f.Get(context.Background(), "http://203.0.113.1/0")
	if !errors.Is(err, ErrRedirectLimit) {
		t.Fatalf("expected ErrRedirectLimit, got %v", err)
	}
	if n := len(ft.requests()); n != 4 {
		t.Errorf("expected initial request plus 3 hops, got %d", n)
	}
}

func TestFetcherLimitReachedOnFinalResponse(t *testing.T) {
	g, _, _ := newRedirectGuard(t)
	ft := newFakeTransport()
	ft.redirect("http://203.0.113.1/0", http.StatusFound, "/1")
	ft.redirect("http://203.0.113.1/1", http.StatusFound, "/2")
	ft.ok("http://203.0.113.1/2", "done")

	f := g.Fetcher(&http.Client{Transport: ft}, 2, true)
	resp, err := f.Get(context.Background(), "http://203.0.113.1/0")
	if err != nil {
		t.Fatalf("expected exactly max hops to succeed, got %v", err)
	}
	resp.Body.Close()
}

func TestFetcherStopsAtSchemeChange(t *testing.T) {
	g, _, _ := newRedirectGuard(t)
	ft := newFakeTransport()
	ft.redirect("http://203.0.113.1/a", http.StatusFound, "https://127.0.0.1/b")

	f := g.Fetcher(&http.Client{Transport: ft}, 20, true)
	resp, err := f.Get(context.Background(), "http://203.0.113.1/a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Errorf("expected the redirect itself to be returned, got %d", resp.StatusCode)
	}
	if n := len(ft.requests()); n != 1 {
		t.Errorf("expected 1 request, got %d", n)
	}
}

func TestFetcherPassThrough(t *testing.T) {
	tests := []struct {
		name     string
		remote   string
		blocking bool
	}{
		{"blocking disabled", "203.0.113.9:25565", false},
		{"trusted session", "192.168.1.10:25565", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, rec, _ := newRedirectGuard(t)
			g.Session().OnConnect(context.Background(), tt.remote)
			ft := newFakeTransport()
			ft.redirect("http://203.0.113.1/a", http.StatusFound, "http://192.168.1.10/b")
			ft.ok("http://192.168.1.10/b", "lan")

			f := g.Fetcher(&http.Client{Transport: ft}, 20, tt.blocking)
			resp, err := f.Get(context.Background(), "http://203.0.113.1/a")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			resp.Body.Close()
			if n := len(ft.requests()); n != 2 {
				t.Errorf("expected 2 requests, got %d", n)
			}
			if len(rec.Notices()) != 0 {
				t.Errorf("expected no notices, got %d", len(rec.Notices()))
			}
		})
	}
}

func TestFetcherMethodRewrite(t *testing.T) {
	tests := []struct {
		code       int
		wantMethod string
		wantBody   string
	}{
		{http.StatusSeeOther, http.MethodGet, ""},
		{http.StatusFound, http.MethodGet, ""},
		{http.StatusTemporaryRedirect, http.MethodPost, "payload"},
		{http.StatusPermanentRedirect, http.MethodPost, "payload"},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			g, _, _ := newRedirectGuard(t)
			ft := newFakeTransport()
			ft.redirect("http://203.0.113.1/submit", tt.code, "/done")
			ft.ok("http://203.0.113.1/done", "ok")

			req, err := http.NewRequest(http.MethodPost, "http://203.0.113.1/submit", strings.NewReader("payload"))
			if err != nil {
				t.Fatal(err)
			}
			f := g.Fetcher(&http.Client{Transport: ft}, 20, true)
			resp, err := f.Do(context.Background(), req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			resp.Body.Close()

			reqs := ft.requests()
			if len(reqs) != 2 {
				t.Fatalf("expected 2 requests, got %v", reqs)
			}
			if want := tt.wantMethod + " http://203.0.113.1/done"; reqs[1] != want {
				t.Errorf("expected %q, got %q", want, reqs[1])
			}
			ft.mu.Lock()
			body := ft.bodies[1]
			ft.mu.Unlock()
			if body != tt.wantBody {
				t.Errorf("expected body %q, got %q", tt.wantBody, body)
			}
		})
	}
}

func TestLocalRedirectErrorMessage(t *testing.T) {
	err := &LocalRedirectError{From: "http://a/", To: "http://127.0.0.1/"}
	if !strings.Contains(err.Error(), "http://a/ -> http://127.0.0.1/") {
		t.Errorf("unexpected message %q", err.Error())
	}
}
