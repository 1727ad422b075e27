package app

import (
	"errors"
	"testing"

	"popoyan/internal/plantid"
	"popoyan/pkg/domain"
)

func TestGetPlantByIDExcludesInactive(t *testing.T) {
	a, memStore := newTestApp(t, &fakeProvider{})
	created := seedPlant(t, memStore, domain.Plant{EntityName: "Basil"})

	if _, err := a.GetPlantByID(created.ID); err != nil {
		t.Fatalf("get active plant: %v", err)
	}

	if _, err := a.ChangeStatus(created.ID, domain.StatusInactive); err != nil {
		t.Fatalf("change status: %v", err)
	}
	if _, err := a.GetPlantByID(created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound for inactive row", err)
	}
}

func TestCreatePlantConflict(t *testing.T) {
	a, _ := newTestApp(t, &fakeProvider{})

	if _, err := a.CreatePlant(domain.Plant{EntityName: "Mint", ScientificName: strPtr("Mentha spicata")}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := a.CreatePlant(domain.Plant{EntityName: "Spearmint", ScientificName: strPtr("mentha SPICATA")})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict for duplicate scientific name", err)
	}
}

func TestUpdatePlantPartialSemantics(t *testing.T) {
	a, memStore := newTestApp(t, &fakeProvider{})
	created := seedPlant(t, memStore, domain.Plant{
		EntityName:  "Lavender",
		Description: strPtr("Fragrant."),
	})

	updated, err := a.UpdatePlant(created.ID, domain.PlantUpdate{EntityName: strPtr("English Lavender")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.EntityName != "English Lavender" {
		t.Fatalf("entity name = %q", updated.EntityName)
	}
	if updated.Description == nil || *updated.Description != "Fragrant." {
		t.Fatalf("untouched field changed: %v", updated.Description)
	}
}

func TestUpdatePlantRequiresFields(t *testing.T) {
	a, memStore := newTestApp(t, &fakeProvider{})
	created := seedPlant(t, memStore, domain.Plant{EntityName: "Sage"})

	if _, err := a.UpdatePlant(created.ID, domain.PlantUpdate{}); !errors.Is(err, ErrNoFields) {
		t.Fatalf("err = %v, want ErrNoFields", err)
	}
}

func TestUpdatePlantNotFound(t *testing.T) {
	a, _ := newTestApp(t, &fakeProvider{})
	if _, err := a.UpdatePlant(404, domain.PlantUpdate{EntityName: strPtr("Ghost")}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStatusLifecycle(t *testing.T) {
	a, memStore := newTestApp(t, &fakeProvider{})
	created := seedPlant(t, memStore, domain.Plant{EntityName: "Thyme"})

	page, err := a.GetAllPlants(1, 10, "inactive")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 0 {
		t.Fatalf("inactive total = %d, want 0", page.Total)
	}

	if _, err := a.ChangeStatus(created.ID, domain.StatusInactive); err != nil {
		t.Fatalf("change status: %v", err)
	}
	page, err = a.GetAllPlants(1, 10, "inactive")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("inactive total = %d, want 1", page.Total)
	}
}

func TestGetAllPlantsClampsLimit(t *testing.T) {
	a, _ := newTestApp(t, &fakeProvider{})
	page, err := a.GetAllPlants(0, 1000, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Limit != maxListPageSize {
		t.Fatalf("limit = %d, want clamp to %d", page.Limit, maxListPageSize)
	}
	if page.Page != 1 {
		t.Fatalf("page = %d, want 1", page.Page)
	}
}

func TestGetFamilies(t *testing.T) {
	a, memStore := newTestApp(t, &fakeProvider{})
	seedPlant(t, memStore, domain.Plant{
		EntityName: "Monstera",
		Taxonomy:   map[string]string{"family": "Araceae"},
		Images:     []string{"https://img.example/monstera.jpg"},
	})
	seedPlant(t, memStore, domain.Plant{
		EntityName: "Philodendron",
		Taxonomy:   map[string]string{"family": "Araceae"},
	})
	seedPlant(t, memStore, domain.Plant{
		EntityName: "Rose",
		Taxonomy:   map[string]string{"family": "Rosaceae"},
	})
	seedPlant(t, memStore, domain.Plant{EntityName: "Unclassified"})

	page, err := a.GetFamilies(1, 10)
	if err != nil {
		t.Fatalf("families: %v", err)
	}
	if page.Total != 2 || len(page.Families) != 2 {
		t.Fatalf("families = %+v, want Araceae and Rosaceae", page.Families)
	}
	araceae := page.Families[0]
	if araceae.Family != "Araceae" || araceae.PlantCount != 2 {
		t.Fatalf("araceae group = %+v", araceae)
	}
	if araceae.SampleImage == nil || *araceae.SampleImage != "https://img.example/monstera.jpg" {
		t.Fatalf("sample image = %v", araceae.SampleImage)
	}
}

func TestGetAndCacheDetails(t *testing.T) {
	provider := &fakeProvider{
		details: map[string]map[string]any{
			"tok-ivy": {"name": "Hedera helix"},
		},
	}
	a, memStore := newTestApp(t, provider)

	details, err := a.GetAndCacheDetails("tok-ivy")
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if details["name"] != "Hedera helix" {
		t.Fatalf("details = %v", details)
	}
	if _, ok, _ := memStore.GetPlantByToken("tok-ivy"); !ok {
		t.Fatalf("details were not cached")
	}
}

func TestGetAndCacheDetailsByNameUsesCacheFirst(t *testing.T) {
	provider := &fakeProvider{
		details: map[string]map[string]any{
			"tok-oak": {"name": "Quercus robur"},
		},
	}
	a, memStore := newTestApp(t, provider)
	seedPlant(t, memStore, domain.Plant{EntityName: "Oak", AccessToken: strPtr("tok-oak")})

	result, err := a.GetAndCacheDetailsByName("Oak")
	if err != nil {
		t.Fatalf("details by name: %v", err)
	}
	if result.AccessToken != "tok-oak" {
		t.Fatalf("access token = %q", result.AccessToken)
	}
	if provider.searchCalls != 0 {
		t.Fatalf("provider search used despite a cached token")
	}
}

func TestGetAndCacheDetailsByNameFallsBackToProvider(t *testing.T) {
	provider := &fakeProvider{
		searchResp: plantid.SearchResponse{
			Entities: []plantid.SearchEntity{{EntityName: "Birch", AccessToken: "tok-birch"}},
		},
		details: map[string]map[string]any{
			"tok-birch": {"name": "Betula pendula"},
		},
	}
	a, memStore := newTestApp(t, provider)

	result, err := a.GetAndCacheDetailsByName("Birch")
	if err != nil {
		t.Fatalf("details by name: %v", err)
	}
	if result.AccessToken != "tok-birch" {
		t.Fatalf("access token = %q", result.AccessToken)
	}
	if provider.lastLimit != 1 {
		t.Fatalf("provider limit = %d, want 1", provider.lastLimit)
	}
	if _, ok, _ := memStore.GetPlantByToken("tok-birch"); !ok {
		t.Fatalf("resolved plant not cached")
	}
}

func TestGetAndCacheDetailsByNameNotFound(t *testing.T) {
	provider := &fakeProvider{searchResp: plantid.SearchResponse{}}
	a, _ := newTestApp(t, provider)

	if _, err := a.GetAndCacheDetailsByName("Unknownia"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
