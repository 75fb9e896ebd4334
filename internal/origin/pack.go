package origin

// PackKind is how a content pack reached the client.
type PackKind string

const (
	PackBuiltin         PackKind = "builtin"
	PackServerDownload  PackKind = "server-download"
	PackServerComposite PackKind = "server-composite"
	PackExtension       PackKind = "extension"
	PackLocalPath       PackKind = "local-path"
	PackUnknown         PackKind = "unknown"
)

// PackInfo describes the pack that produced an identifier.
type PackInfo struct {
	Kind PackKind `json:"kind"`
	// OriginID names the owning extension when the pack states it.
	OriginID string `json:"origin_id,omitempty"`
	// ImplType is the host's type name for the pack implementation, matched
	// against registered signatures when OriginID is empty.
	ImplType string `json:"impl_type,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Binding is one live entry of the host's binding table.
type Binding struct {
	Name    string
	Default string
	Native  bool
	// OriginID is the owning extension when the host knows it.
	OriginID string
}

// BindingSource exposes the host's live binding table for rescans.
type BindingSource interface {
	Bindings() []Binding
}

// BindingFunc adapts a function to BindingSource.
type BindingFunc func() []Binding

func (f BindingFunc) Bindings() []Binding { return f() }
