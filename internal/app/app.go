// Package app implements the catalog core: the search orchestrator, the
// upsert reconciler, identification handling, and the conversation log.
package app

import (
	"errors"

	"popoyan/internal/plantid"
	"popoyan/internal/store"
	"popoyan/pkg/storage"
)

const (
	defaultPageSize   = 25
	maxListPageSize   = 100
	maxSearchPageSize = 25
	maxSearchWorkers  = 10
)

// Provider is the slice of the identification API the app depends on.
type Provider interface {
	SearchByName(query string, limit int) (plantid.SearchResponse, error)
	GetDetails(accessToken string) (map[string]any, error)
	Identify(imageBase64 string, opts plantid.IdentifyOptions) (plantid.IdentificationResult, error)
	GetUsageInfo() (plantid.UsageInfo, error)
	AskChat(accessToken string, req plantid.ChatRequest) (plantid.ChatResponse, error)
	GetConversationSnapshot(accessToken string) (plantid.ChatResponse, error)
}

// Config wires the app's dependencies.
type Config struct {
	Store         store.Store
	Provider      Provider
	Objects       storage.ObjectStore
	SearchWorkers int
}

// App is the core application service.
type App struct {
	store         store.Store
	provider      Provider
	objects       storage.ObjectStore
	searchWorkers int
}

// New constructs the application. SearchWorkers bounds the provider
// detail-fetch fan-out and is clamped to [1, 10].
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Provider == nil {
		return nil, errors.New("provider client is required")
	}
	workers := cfg.SearchWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > maxSearchWorkers {
		workers = maxSearchWorkers
	}
	return &App{
		store:         cfg.Store,
		provider:      cfg.Provider,
		objects:       cfg.Objects,
		searchWorkers: workers,
	}, nil
}

func normalizePage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

func normalizeLimit(limit, max int) int {
	if limit < 1 {
		return defaultPageSize
	}
	if limit > max {
		return max
	}
	return limit
}

func totalPages(total, limit int) int {
	if total == 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// GetUsageInfo passes through the provider's account usage report.
func (a *App) GetUsageInfo() (plantid.UsageInfo, error) {
	return a.provider.GetUsageInfo()
}
