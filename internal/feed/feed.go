package feed

import (
	"context"
	"fmt"
	"iter"

	"MaterialsMonitor/internal/domain"
)

// Request carries all parameters required to execute one poll of a feed.
type Request struct {
	FeedID            string
	Kind              domain.SourceKind
	Endpoint          string
	Cursor            string
	AuthToken         string
	RequestsPerSecond float64
	Burst             int
	Options           map[string]string
}

// Document pairs a fetched RawDocument with the opaque cursor token the
// caller persists once the document has been successfully processed.
// Cursor tokens are monotonic per feed; acknowledging a later token
// implies all earlier ones.
type Document struct {
	Raw    domain.RawDocument
	Cursor string
}

// Adapter pulls raw payloads from one category of upstream feed and yields
// documents not yet covered by the request cursor. The sequence is lazy:
// callers may stop early and resume later from the last acknowledged
// cursor. A yielded error is either a *domain.FetchError or a
// *domain.FeedFormatError and terminates the sequence.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, req Request) iter.Seq2[Document, error]
}

// Registry keeps a mapping from adapter names to their implementations.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

// Register adds or replaces an adapter implementation.
func (r *Registry) Register(adapter Adapter) {
	if r.adapters == nil {
		r.adapters = map[string]Adapter{}
	}
	r.adapters[adapter.Name()] = adapter
}

// Resolve returns an adapter by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Adapter, error) {
	if adapter, ok := r.adapters[name]; ok {
		return adapter, nil
	}
	return nil, fmt.Errorf("feed adapter %s is not registered", name)
}
