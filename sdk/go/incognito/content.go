package incognito

import (
	"context"

	"github.com/ppiankov/incognito/internal/label"
)

// WithSource tags ctx with who triggered a label resolution.
func WithSource(ctx context.Context, src Source) context.Context {
	return label.WithSource(ctx, src)
}

// LoadStarted begins a content load. Records from the previous load are
// dropped.
func (c *Client) LoadStarted() {
	c.tracker.OnLoadStart()
}

// IdentifierObserved records one identifier with the value pack gives it.
func (c *Client) IdentifierObserved(id, value string, pack PackInfo) {
	c.tracker.OnIdentifierObserved(id, value, pack)
}

// LoadCompleted finishes a content load.
func (c *Client) LoadCompleted() {
	c.tracker.OnLoadComplete()
}

// RecordRuntimeBinding records an identifier registered outside content
// loading. An empty originID marks it native, with value as its default.
func (c *Client) RecordRuntimeBinding(id, value, originID string) {
	if originID == "" {
		c.tracker.RecordNativeDefault(id, value)
		return
	}
	c.tracker.RecordRuntime(id, originID)
}

// ResolveLabel returns the value to display for a label that just
// resolved to resolved. Tag ctx with WithSource when the caller knows who
// triggered the resolution.
func (c *Client) ResolveLabel(ctx context.Context, id, resolved string) string {
	return c.labels.Resolve(ctx, id, resolved)
}

// MarkUserInteraction attributes untagged resolutions shortly after a user
// action to the user.
func (c *Client) MarkUserInteraction() {
	c.labels.Attributor().MarkUserInteraction(c.sched.Now())
}

// MarkServerContent attributes untagged resolutions shortly after server
// content was rendered to the server.
func (c *Client) MarkServerContent() {
	c.labels.Attributor().MarkServerContent(c.sched.Now())
}
