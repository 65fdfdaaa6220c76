package sources

import (
	"context"
	"strings"

	"github.com/ternarybob/sheetporter/internal/interfaces"
	"github.com/ternarybob/sheetporter/internal/models"
)

const (
	// PrefixWorkbook routes a source id to the local workbook backend
	PrefixWorkbook = "xlsx:"
	// PrefixGoogle routes a source id to Google Sheets
	PrefixGoogle = "gsheet:"

	ProviderGoogle   = "google"
	ProviderWorkbook = "xlsx"
)

// Router dispatches to a backend by source id prefix, falling back to the default provider
type Router struct {
	backends        map[string]interfaces.RowSource
	defaultProvider string
}

// NewRouter creates a router. Nil backends are left unregistered.
func NewRouter(defaultProvider string, google, workbook interfaces.RowSource) *Router {
	r := &Router{
		backends:        make(map[string]interfaces.RowSource),
		defaultProvider: defaultProvider,
	}
	if google != nil {
		r.backends[ProviderGoogle] = google
	}
	if workbook != nil {
		r.backends[ProviderWorkbook] = workbook
	}
	return r
}

// route returns the backend and the source id with any routing prefix removed
func (r *Router) route(sourceID string) (interfaces.RowSource, string, error) {
	provider := r.defaultProvider
	id := sourceID
	switch {
	case strings.HasPrefix(sourceID, PrefixWorkbook):
		provider, id = ProviderWorkbook, strings.TrimPrefix(sourceID, PrefixWorkbook)
	case strings.HasPrefix(sourceID, PrefixGoogle):
		provider, id = ProviderGoogle, strings.TrimPrefix(sourceID, PrefixGoogle)
	}

	backend, ok := r.backends[provider]
	if !ok {
		return nil, id, models.NewSourceAccessError(sourceID, errNoProvider(provider))
	}
	return backend, id, nil
}

func (r *Router) FetchTable(ctx context.Context, sourceID, rng string) (models.RawTable, error) {
	backend, id, err := r.route(sourceID)
	if err != nil {
		return nil, err
	}
	return backend.FetchTable(ctx, id, rng)
}

func (r *Router) Metadata(ctx context.Context, sourceID string) (*models.SourceMetadata, error) {
	backend, id, err := r.route(sourceID)
	if err != nil {
		return nil, err
	}
	return backend.Metadata(ctx, id)
}

func (r *Router) ProbeAccess(ctx context.Context, sourceID string) bool {
	backend, id, err := r.route(sourceID)
	if err != nil {
		return false
	}
	return backend.ProbeAccess(ctx, id)
}

type errNoProvider string

func (e errNoProvider) Error() string {
	return "no row source configured for provider " + string(e)
}
