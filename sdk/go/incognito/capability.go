package incognito

import (
	"context"
)

// Dispatch runs msg through the capability filter at the API call site and
// forwards whatever survives to send.
func (c *Client) Dispatch(ctx context.Context, scope Scope, msg Message, send SendFunc) (Verdict, error) {
	return c.enforcer.Dispatch(ctx, scope, msg, send)
}

// Encode runs msg through the capability filter at the encode boundary.
func (c *Client) Encode(ctx context.Context, scope Scope, msg Message, write SendFunc) (Verdict, error) {
	return c.enforcer.Encode(ctx, scope, msg, write)
}

// Identity returns the brand to present instead of native.
func (c *Client) Identity(native string) string {
	return c.enforcer.Identity(native)
}

// AdvertisedChannels filters the channel set the host would announce.
func (c *Client) AdvertisedChannels(set []Channel) []Channel {
	return c.enforcer.Advertised(set)
}
