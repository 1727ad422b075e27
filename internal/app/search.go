package app

import (
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"popoyan/internal/plantid"
	"popoyan/internal/store"
	"popoyan/pkg/domain"
)

// SearchHit is one search result entry. Local hits carry the full cached
// row; provider-only hits carry the bare entity fields plus match metadata.
type SearchHit struct {
	ID             *int64            `json:"id,omitempty"`
	EntityName     string            `json:"entity_name"`
	ScientificName *string           `json:"scientific_name,omitempty"`
	CommonNames    []string          `json:"common_names,omitempty"`
	Taxonomy       map[string]string `json:"taxonomy,omitempty"`
	Images         []string          `json:"images,omitempty"`
	Status         string            `json:"status,omitempty"`
	AccessToken    *string           `json:"access_token"`
	MatchedIn      *string           `json:"matched_in,omitempty"`
	MatchedInType  *string           `json:"matched_in_type,omitempty"`
}

// SearchResult is a paginated search response.
type SearchResult struct {
	Plants     []SearchHit `json:"plants"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"totalPages"`
}

// SearchPlants serves a query local-first: the provider is consulted only
// when the cache has no hit at all, and never for queries shorter than two
// characters. Provider results are cached before the response is assembled.
func (a *App) SearchPlants(query string, page, limit int) (SearchResult, error) {
	q := strings.TrimSpace(query)
	pageSize := normalizeLimit(limit, maxSearchPageSize)
	safePage := normalizePage(page)
	offset := (safePage - 1) * pageSize

	// Too short to be useful to the provider; local cache only.
	if len([]rune(q)) < 2 {
		local, err := a.searchLocally(q, pageSize, offset, safePage)
		if err != nil {
			return SearchResult{}, err
		}
		if len(local.Plants) > 0 {
			return local, nil
		}
		return emptySearchResult(safePage, pageSize), nil
	}

	local, err := a.searchLocally(q, pageSize, offset, safePage)
	if err != nil {
		return SearchResult{}, err
	}
	if len(local.Plants) > 0 {
		return local, nil
	}

	// Cache miss: fall back to the provider, capped at its per-call limit.
	apiLimit := pageSize
	if apiLimit > plantid.MaxSearchLimit {
		apiLimit = plantid.MaxSearchLimit
	}
	resp, err := a.provider.SearchByName(q, apiLimit)
	if err != nil {
		var apiErr *plantid.APIError
		if errors.As(err, &apiErr) && apiErr.Status == 400 {
			return emptySearchResult(safePage, pageSize), nil
		}
		return SearchResult{}, err
	}
	entities := resp.Entities
	if len(entities) > apiLimit {
		entities = entities[:apiLimit]
	}
	if len(entities) == 0 {
		return emptySearchResult(safePage, pageSize), nil
	}

	a.recordSearchHistory(q, resp, entities, pageSize)
	a.seedStubs(entities)
	a.cacheDetails(entities)

	return a.formatProviderResults(entities, safePage, pageSize), nil
}

func (a *App) searchLocally(query string, limit, offset, page int) (SearchResult, error) {
	plants, total, err := a.store.SearchPlants(query, limit, offset)
	if err != nil {
		return SearchResult{}, err
	}
	hits := make([]SearchHit, 0, len(plants))
	for _, p := range plants {
		hits = append(hits, hitFromPlant(p))
	}
	return SearchResult{
		Plants:     hits,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages(total, limit),
	}, nil
}

// recordSearchHistory persists the audit row. Best-effort: search success
// must never depend on history logging.
func (a *App) recordSearchHistory(query string, resp plantid.SearchResponse, entities []plantid.SearchEntity, pageSize int) {
	rec := domain.SearchRecord{
		SearchQuery:     query,
		APIResponse:     resp.Raw,
		TotalResults:    len(entities),
		EntitiesTrimmed: resp.EntitiesTrimmed,
		LimitValue:      pageSize,
	}
	matches := make([]domain.SearchMatch, 0, len(entities))
	for _, e := range entities {
		match := domain.SearchMatch{
			EntityName:    optString(e.EntityName),
			AccessToken:   optString(e.AccessToken),
			MatchedIn:     optString(e.MatchedIn),
			MatchedInType: optString(e.MatchedInType),
			MatchPosition: e.MatchPosition,
			MatchLength:   e.MatchLength,
		}
		matches = append(matches, match)
	}
	if _, err := a.store.SaveSearchRecord(rec, matches); err != nil {
		slog.Error("failed to store search history", "query", query, "error", err)
	}
}

// seedStubs makes sure every returned entity has at least a minimal catalog
// row keyed by token. Concurrent duplicate inserts are expected and skipped.
func (a *App) seedStubs(entities []plantid.SearchEntity) {
	for _, e := range entities {
		token := strings.TrimSpace(e.AccessToken)
		if token == "" {
			continue
		}
		if err := a.store.EnsurePlantStub(token, e.EntityName); err != nil && !errors.Is(err, store.ErrDuplicate) {
			slog.Error("failed to seed plant stub", "access_token", token, "error", err)
		}
	}
}

// cacheDetails fans detail fetches out over a bounded worker pool and
// reconciles each entity. Per-entity failures are logged and never halt the
// pool.
func (a *App) cacheDetails(entities []plantid.SearchEntity) {
	var g errgroup.Group
	g.SetLimit(a.searchWorkers)
	for _, e := range entities {
		token := strings.TrimSpace(e.AccessToken)
		if token == "" {
			continue
		}
		g.Go(func() error {
			details, err := a.provider.GetDetails(token)
			if err != nil {
				slog.Error("failed to cache details", "access_token", token, "error", err)
				return nil
			}
			if err := a.UpsertFromDetails(details, token); err != nil {
				slog.Error("failed to reconcile details", "access_token", token, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// formatProviderResults re-reads each entity from the cache so the response
// carries the richer cached fields; entities without a row fall back to the
// bare provider fields. Totals here cover only the capped provider list.
func (a *App) formatProviderResults(entities []plantid.SearchEntity, page, pageSize int) SearchResult {
	hits := make([]SearchHit, 0, len(entities))
	for _, e := range entities {
		hit := SearchHit{
			EntityName:    e.EntityName,
			AccessToken:   optString(e.AccessToken),
			MatchedIn:     optString(e.MatchedIn),
			MatchedInType: optString(e.MatchedInType),
		}
		token := strings.TrimSpace(e.AccessToken)
		if token != "" {
			if p, ok, err := a.store.GetPlantByToken(token); err == nil && ok {
				hit.EntityName = p.EntityName
				hit.ScientificName = p.ScientificName
				hit.CommonNames = p.CommonNames
				hit.Taxonomy = p.Taxonomy
				hit.Images = p.Images
				hit.AccessToken = p.AccessToken
			} else if err != nil {
				slog.Error("failed to enrich search result", "access_token", token, "error", err)
			}
		}
		hits = append(hits, hit)
	}
	total := len(entities)
	return SearchResult{
		Plants:     hits,
		Total:      total,
		Page:       page,
		Limit:      pageSize,
		TotalPages: totalPages(total, pageSize),
	}
}

func hitFromPlant(p domain.Plant) SearchHit {
	id := p.ID
	return SearchHit{
		ID:             &id,
		EntityName:     p.EntityName,
		ScientificName: p.ScientificName,
		CommonNames:    p.CommonNames,
		Taxonomy:       p.Taxonomy,
		Images:         p.Images,
		Status:         string(p.Status),
		AccessToken:    p.AccessToken,
	}
}

func emptySearchResult(page, limit int) SearchResult {
	return SearchResult{
		Plants:     []SearchHit{},
		Total:      0,
		Page:       page,
		Limit:      limit,
		TotalPages: 0,
	}
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
