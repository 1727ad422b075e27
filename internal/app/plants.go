package app

import (
	"errors"
	"strings"

	"popoyan/internal/store"
	"popoyan/pkg/domain"
)

// PlantPage is one page of catalog rows.
type PlantPage struct {
	Plants     []domain.Plant `json:"plants"`
	Total      int            `json:"total"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
	TotalPages int            `json:"totalPages"`
}

// FamilyPage is one page of the family aggregation.
type FamilyPage struct {
	Families   []domain.FamilyGroup `json:"families"`
	Total      int                  `json:"total"`
	Page       int                  `json:"page"`
	Limit      int                  `json:"limit"`
	TotalPages int                  `json:"totalPages"`
}

// SearchHistoryPage is one page of external-search audit rows.
type SearchHistoryPage struct {
	Searches   []domain.SearchRecord `json:"searches"`
	Total      int                   `json:"total"`
	Page       int                   `json:"page"`
	Limit      int                   `json:"limit"`
	TotalPages int                   `json:"totalPages"`
}

// GetAllPlants lists the catalog; an empty status means no filter.
func (a *App) GetAllPlants(page, limit int, status string) (PlantPage, error) {
	safePage := normalizePage(page)
	safeLimit := normalizeLimit(limit, maxListPageSize)
	offset := (safePage - 1) * safeLimit

	plants, total, err := a.store.ListPlants(status, safeLimit, offset)
	if err != nil {
		return PlantPage{}, err
	}
	return PlantPage{
		Plants:     plants,
		Total:      total,
		Page:       safePage,
		Limit:      safeLimit,
		TotalPages: totalPages(total, safeLimit),
	}, nil
}

// GetFamilies aggregates active plants by taxonomy family.
func (a *App) GetFamilies(page, limit int) (FamilyPage, error) {
	safePage := normalizePage(page)
	safeLimit := normalizeLimit(limit, maxListPageSize)
	offset := (safePage - 1) * safeLimit

	families, total, err := a.store.ListFamilies(safeLimit, offset)
	if err != nil {
		return FamilyPage{}, err
	}
	return FamilyPage{
		Families:   families,
		Total:      total,
		Page:       safePage,
		Limit:      safeLimit,
		TotalPages: totalPages(total, safeLimit),
	}, nil
}

// GetSearchHistory lists external search calls, newest first.
func (a *App) GetSearchHistory(page, limit int) (SearchHistoryPage, error) {
	safePage := normalizePage(page)
	safeLimit := normalizeLimit(limit, maxListPageSize)
	offset := (safePage - 1) * safeLimit

	searches, total, err := a.store.ListSearchRecords(safeLimit, offset)
	if err != nil {
		return SearchHistoryPage{}, err
	}
	return SearchHistoryPage{
		Searches:   searches,
		Total:      total,
		Page:       safePage,
		Limit:      safeLimit,
		TotalPages: totalPages(total, safeLimit),
	}, nil
}

// GetPlantByID returns an active catalog row or ErrNotFound.
func (a *App) GetPlantByID(id int64) (domain.Plant, error) {
	p, ok, err := a.store.GetActivePlantByID(id)
	if err != nil {
		return domain.Plant{}, err
	}
	if !ok {
		return domain.Plant{}, ErrNotFound
	}
	return p, nil
}

// CreatePlant inserts a new row; identity collisions surface as ErrConflict.
func (a *App) CreatePlant(p domain.Plant) (domain.Plant, error) {
	created, err := a.store.CreatePlant(p)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.Plant{}, ErrConflict
		}
		return domain.Plant{}, err
	}
	return created, nil
}

// UpdatePlant applies a partial update.
func (a *App) UpdatePlant(id int64, u domain.PlantUpdate) (domain.Plant, error) {
	if u.IsZero() {
		return domain.Plant{}, ErrNoFields
	}
	p, ok, err := a.store.UpdatePlant(id, u)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.Plant{}, ErrConflict
		}
		return domain.Plant{}, err
	}
	if !ok {
		return domain.Plant{}, ErrNotFound
	}
	return p, nil
}

// ChangeStatus flips the lifecycle status; rows are never hard-deleted.
func (a *App) ChangeStatus(id int64, status domain.PlantStatus) (domain.Plant, error) {
	p, ok, err := a.store.SetPlantStatus(id, status)
	if err != nil {
		return domain.Plant{}, err
	}
	if !ok {
		return domain.Plant{}, ErrNotFound
	}
	return p, nil
}

// GetAndCacheDetails fetches provider details for a token and reconciles
// them into the catalog before returning the provider payload.
func (a *App) GetAndCacheDetails(accessToken string) (map[string]any, error) {
	details, err := a.provider.GetDetails(accessToken)
	if err != nil {
		return nil, err
	}
	if err := a.UpsertFromDetails(details, accessToken); err != nil {
		return nil, err
	}
	return details, nil
}

// DetailsByName resolves a plant name to an access token (cache first, then
// a single-result provider search) and returns cached-and-reconciled details.
type DetailsByNameResult struct {
	Details     map[string]any `json:"details"`
	AccessToken string         `json:"access_token"`
}

// GetAndCacheDetailsByName implements the name → token → details path.
// Returns ErrNotFound when neither the cache nor the provider knows the name.
func (a *App) GetAndCacheDetailsByName(plantName string) (DetailsByNameResult, error) {
	token, ok, err := a.store.FindTokenByName(plantName)
	if err != nil {
		return DetailsByNameResult{}, err
	}
	if !ok {
		resp, err := a.provider.SearchByName(plantName, 1)
		if err != nil {
			return DetailsByNameResult{}, err
		}
		if len(resp.Entities) == 0 {
			return DetailsByNameResult{}, ErrNotFound
		}
		entity := resp.Entities[0]
		token = strings.TrimSpace(entity.AccessToken)
		if token == "" {
			return DetailsByNameResult{}, ErrNotFound
		}
		if err := a.store.EnsurePlantStub(token, entity.EntityName); err != nil && !errors.Is(err, store.ErrDuplicate) {
			return DetailsByNameResult{}, err
		}
	}

	details, err := a.provider.GetDetails(token)
	if err != nil {
		return DetailsByNameResult{}, err
	}
	if err := a.UpsertFromDetails(details, token); err != nil {
		return DetailsByNameResult{}, err
	}
	return DetailsByNameResult{Details: details, AccessToken: token}, nil
}
