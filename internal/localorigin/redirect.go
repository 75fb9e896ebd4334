package localorigin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ppiankov/incognito/internal/alert"
)

// DefaultMaxRedirects caps redirect chains.
const DefaultMaxRedirects = 20

var (
	// ErrRedirectLimit is returned when a chain is still redirecting after
	// the maximum number of hops.
	ErrRedirectLimit = errors.New("localorigin: too many redirects")

	// ErrLocalRedirect matches every *LocalRedirectError.
	ErrLocalRedirect = errors.New("localorigin: redirect to local address")
)

// LocalRedirectError reports a refused hop. From is empty when the first
// URL itself was local.
type LocalRedirectError struct {
	From string
	To   string
}

func (e *LocalRedirectError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("blocked connection to local address %s", e.To)
	}
	return fmt.Sprintf("blocked redirect to local address: %s -> %s", e.From, e.To)
}

// Is matches ErrLocalRedirect.
func (e *LocalRedirectError) Is(target error) bool {
	return target == ErrLocalRedirect
}

const tracerName = "github.com/ppiankov/incognito/internal/localorigin"

// Fetcher follows redirects by hand so every hop can be checked before it
// is requested. When the client uses an *http.Transport, each checked hop is
// dialed at the address the check saw.
type Fetcher struct {
	guard        *Guard
	client       *http.Client
	maxRedirects int
	blocking     bool
	tracer       trace.Tracer
}

// Fetcher returns a redirect-checking fetcher. blocking reflects the
// current local-origin setting; when false, hops are followed but not checked.
func (g *Guard) Fetcher(client *http.Client, maxRedirects int, blocking bool) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if maxRedirects <= 0 {
		maxRedirects = DefaultMaxRedirects
	}
	c := *client
	c.Transport = g.pinnedTransport(c.Transport)
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Fetcher{
		guard:        g,
		client:       &c,
		maxRedirects: maxRedirects,
		blocking:     blocking,
		tracer:       otel.Tracer(tracerName),
	}
}

// Get fetches rawURL.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return f.Do(ctx, req)
}

// Do sends req and follows up to the redirect limit. A hop whose scheme
// differs from the current one is returned as-is without following it.
func (f *Fetcher) Do(ctx context.Context, req *http.Request) (resp *http.Response, err error) {
	ctx, span := f.tracer.Start(ctx, "localorigin.fetch",
		trace.WithAttributes(attribute.String("url.full", req.URL.String())))
	hops := 0
	defer func() {
		span.SetAttributes(attribute.Int("incognito.redirects", hops))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	guarding := f.blocking && !f.guard.session.Trusted()
	cur := req.WithContext(ctx)
	if guarding {
		if cur, err = f.vet(ctx, "", cur); err != nil {
			return nil, err
		}
	}

	for {
		resp, err = f.client.Do(cur)
		if err != nil {
			return nil, err
		}
		if !isRedirect(resp.StatusCode) {
			return resp, nil
		}
		loc := resp.Header.Get("Location")
		if loc == "" {
			return resp, nil
		}
		next, perr := cur.URL.Parse(loc)
		if perr != nil {
			drain(resp)
			return nil, fmt.Errorf("invalid redirect location %q: %w", loc, perr)
		}
		if hops >= f.maxRedirects {
			drain(resp)
			return nil, fmt.Errorf("%w (%d)", ErrRedirectLimit, f.maxRedirects)
		}
		if !strings.EqualFold(next.Scheme, cur.URL.Scheme) {
			f.guard.logger.Debug().Str("from", cur.URL.Scheme).Str("to", next.Scheme).Msg("stopping at cross-scheme redirect")
			return resp, nil
		}
		drain(resp)

		nextReq, berr := redirectRequest(ctx, cur, next, resp.StatusCode)
		if berr != nil {
			return nil, berr
		}
		if guarding {
			if nextReq, err = f.vet(ctx, cur.URL.String(), nextReq); err != nil {
				return nil, err
			}
		}
		cur = nextReq
		hops++
		f.guard.logger.Debug().Int("hop", hops).Str("url", next.String()).Msg("following redirect")
	}
}

// vet refuses req when its host is local. Otherwise the request is pinned
// to the addresses that were checked.
func (f *Fetcher) vet(ctx context.Context, from string, req *http.Request) (*http.Request, error) {
	host := req.URL.Hostname()
	local, _, addrs := f.guard.vetHost(ctx, host)
	if local {
		to := req.URL.String()
		f.refused(from, to)
		return nil, &LocalRedirectError{From: from, To: to}
	}
	return req.WithContext(withPin(ctx, host, addrs)), nil
}

func (f *Fetcher) refused(from, to string) {
	f.guard.metrics.RedirectBlocked()
	f.guard.logger.Warn().Str("from", from).Str("to", to).Msg("blocked redirect-to-local attack")
	if f.guard.agg != nil {
		f.guard.agg.Notify("redirect:"+to, alert.SeverityDanger, "Blocked redirect-to-localhost attack!", "Local Redirect Blocked")
	}
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMultipleChoices, http.StatusMovedPermanently, http.StatusFound,
		http.StatusSeeOther, http.StatusUseProxy, http.StatusTemporaryRedirect,
		http.StatusPermanentRedirect:
		return true
	}
	return false
}

// redirectRequest builds the next hop. 303, and 301/302 after a POST,
// switch to a bodyless GET; other codes replay method and body.
func redirectRequest(ctx context.Context, prev *http.Request, next *url.URL, code int) (*http.Request, error) {
	method := prev.Method
	replayBody := true
	if code == http.StatusSeeOther || ((code == http.StatusMovedPermanently || code == http.StatusFound) && method == http.MethodPost) {
		if method != http.MethodHead {
			method = http.MethodGet
		}
		replayBody = false
	}

	var body io.ReadCloser
	if replayBody && prev.GetBody != nil {
		b, err := prev.GetBody()
		if err != nil {
			return nil, fmt.Errorf("replay request body: %w", err)
		}
		body = b
	}

	req, err := http.NewRequestWithContext(ctx, method, next.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build redirect request: %w", err)
	}
	if replayBody {
		req.GetBody = prev.GetBody
		req.ContentLength = prev.ContentLength
	}
	for k, vv := range prev.Header {
		if next.Host != prev.URL.Host && (k == "Authorization" || k == "Cookie") {
			continue
		}
		req.Header[k] = append([]string(nil), vv...)
	}
	return req, nil
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
