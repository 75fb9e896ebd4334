package incognito

import (
	"context"
	"net"
	"net/http"

	"github.com/ppiankov/incognito/internal/localorigin"
)

// SessionConnected starts a server session. remote is the server address
// as "host", "host:port" or "[v6]:port".
func (c *Client) SessionConnected(ctx context.Context, remote string) SessionState {
	return c.local.Session().OnConnect(ctx, remote)
}

// SessionConnectedAddr starts a server session from a socket address.
func (c *Client) SessionConnectedAddr(ctx context.Context, addr net.Addr) SessionState {
	return c.local.Session().OnConnectAddr(ctx, addr)
}

// SessionDisconnected ends the session. Cooldowns and pending batches are
// dropped at once; the session state itself is cleared one tick later
// unless a new session starts first.
func (c *Client) SessionDisconnected() {
	c.local.Session().OnDisconnect()
}

// Session returns the current session state.
func (c *Client) Session() SessionState {
	return c.local.Session().State()
}

// IsLocalURL reports whether rawURL points at the local network.
func (c *Client) IsLocalURL(ctx context.Context, rawURL string) bool {
	return c.local.IsLocalURL(ctx, rawURL)
}

// HandleResourcePush checks a server resource push and returns the message
// the host should act on.
func (c *Client) HandleResourcePush(ctx context.Context, msg ResourcePushMessage) (ResourcePushMessage, PushDecision) {
	s, ok := c.settings()
	if !ok {
		return msg, PushDecision{URL: msg.URL}
	}
	d := c.local.CheckPush(ctx, msg, s.LocalOrigin.BlockingEnabled)
	msg.URL = d.URL
	return msg, d
}

// Fetch downloads rawURL, refusing redirects into the local network unless
// the session is on a LAN server or blocking is off.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, req)
}

// Do is Fetch for a prepared request.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	blocking := false
	maxRedirects := localorigin.DefaultMaxRedirects
	if s, ok := c.settings(); ok {
		blocking = s.LocalOrigin.BlockingEnabled
		maxRedirects = s.LocalOrigin.MaxRedirects
	}
	return c.local.Fetcher(c.cfg.httpClient, maxRedirects, blocking).Do(ctx, req)
}
