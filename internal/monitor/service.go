// Package monitor serves the structured monitoring documents: database
// status, execution statistics over a trailing window, performance
// percentiles and embedding similarity search.
//
// Responses are cached in a TTL cache keyed per endpoint and range.
// Status sub-checks that fail annotate the document's warnings/errors
// lists instead of failing the whole call.
package monitor

import (
	"log/slog"

	"github.com/execledger/execledger/internal/config"
	"github.com/execledger/execledger/internal/ingest"
	"github.com/execledger/execledger/internal/logging"
	"github.com/execledger/execledger/internal/store"
)

// Monitor answers monitoring queries against one store. The ingest
// service is optional; without it status reports omit the ingestion
// side channel.
type Monitor struct {
	store  *store.Store
	ingest *ingest.Service

	cache *responseCache

	log *slog.Logger
}

// New creates a monitor. ing may be nil for read-only deployments.
func New(cfg config.MonitorConfig, st *store.Store, ing *ingest.Service) (*Monitor, error) {
	cache, err := newResponseCache(cfg.CacheMaxBytes, cfg.CacheTTL)
	if err != nil {
		return nil, err
	}

	return &Monitor{
		store:  st,
		ingest: ing,
		cache:  cache,
		log:    logging.Component("monitor"),
	}, nil
}

// Close releases the response cache.
func (m *Monitor) Close() {
	m.cache.close()
}
