// Package incognito is the in-process entry point for hosts that embed the
// anti-fingerprinting layer. A Client wires the capability filter, content
// origin tracker, label guard, local-origin guard and alert aggregator
// around one configuration snapshot, and exposes the hooks a host calls
// from its send path, content loader and connection lifecycle.
//
// Usage:
//
//	inc, err := incognito.New(incognito.WithConfigPath("/etc/incognito.yaml"))
//	inc.SessionConnected(ctx, "play.example.net:25565")
//	verdict, err := inc.Dispatch(ctx, incognito.Scope{}, msg, send)
//	push, decision := inc.HandleResourcePush(ctx, pushMsg)
//	shown := inc.ResolveLabel(ctx, "key.forward", "W")
//
// The SDK links directly against internal packages. External users import
// github.com/ppiankov/incognito/sdk/go/incognito.
package incognito
