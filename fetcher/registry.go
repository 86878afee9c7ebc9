package fetcher

import (
	"context"

	"github.com/autom8ter/docrepl/errors"
	"github.com/autom8ter/docrepl/internal/safe"
)

// SourceOpener opens a source from its configuration params
type SourceOpener func(ctx context.Context, params map[string]any) (Source, error)

var sources = safe.NewMap(map[string]SourceOpener{})

// RegisterSource registers a source opener by name
func RegisterSource(name string, opener SourceOpener) {
	sources.Set(name, opener)
}

// OpenSource opens a registered source
func OpenSource(ctx context.Context, name string, params map[string]any) (Source, error) {
	opener, ok := sources.Get(name)
	if !ok {
		return nil, errors.New(errors.NotFound, "oplog source %s is not registered", name)
	}
	return opener(ctx, params)
}

// Sources returns the names of the registered sources
func Sources() []string {
	return sources.Keys()
}
