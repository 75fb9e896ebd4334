package model

import (
	"fmt"
	"strings"
)

// NativeNamespace is the namespace owned by the unmodified client.
const NativeNamespace = "minecraft"

// Channel identifies one negotiable extension channel.
type Channel struct {
	Namespace string `json:"namespace"`
	Path      string `json:"path"`
}

// NewChannel builds a Channel, defaulting an empty namespace to native.
func NewChannel(namespace, path string) Channel {
	if namespace == "" {
		namespace = NativeNamespace
	}
	return Channel{Namespace: namespace, Path: path}
}

// ParseChannel parses "namespace:path". A bare path is native.
func ParseChannel(s string) (Channel, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Channel{}, fmt.Errorf("empty channel identifier")
	}
	ns, path, found := strings.Cut(s, ":")
	if !found {
		return NewChannel("", s), nil
	}
	if path == "" {
		return Channel{}, fmt.Errorf("channel %q has empty path", s)
	}
	if strings.Contains(path, ":") {
		return Channel{}, fmt.Errorf("channel %q has more than one separator", s)
	}
	return NewChannel(strings.ToLower(ns), path), nil
}

// MustParseChannel is ParseChannel for constants. It panics on error.
func MustParseChannel(s string) Channel {
	ch, err := ParseChannel(s)
	if err != nil {
		panic(err)
	}
	return ch
}

func (c Channel) String() string {
	return c.Namespace + ":" + c.Path
}

// InNamespace reports whether c is under ns or a hyphenated sub-namespace
// of it ("fabric" matches "fabric" and "fabric-networking").
func (c Channel) InNamespace(ns string) bool {
	return c.Namespace == ns || strings.HasPrefix(c.Namespace, ns+"-")
}

// EqualChannels compares two channel lists in order.
func EqualChannels(a, b []Channel) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
