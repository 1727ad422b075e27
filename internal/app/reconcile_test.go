package app

import (
	"testing"

	"popoyan/internal/store"
	"popoyan/pkg/domain"
)

func TestUpsertInsertsNewPlant(t *testing.T) {
	a, memStore := newTestApp(t, &fakeProvider{})

	details := map[string]any{
		"name":         "Ficus lyrata",
		"common_names": []any{"Fiddle-leaf fig"},
		"taxonomy":     map[string]any{"family": "Moraceae"},
		"description":  map[string]any{"value": "A popular houseplant."},
		"image":        map[string]any{"value": "https://img.example/ficus.jpg"},
	}
	if err := a.UpsertFromDetails(details, "tok-ficus"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	p, ok, err := memStore.GetPlantByToken("tok-ficus")
	if err != nil || !ok {
		t.Fatalf("row not inserted: ok=%v err=%v", ok, err)
	}
	if p.EntityName != "Ficus lyrata" {
		t.Fatalf("entity name = %q", p.EntityName)
	}
	if p.ScientificName == nil || *p.ScientificName != "Ficus lyrata" {
		t.Fatalf("scientific name = %v", p.ScientificName)
	}
	if p.Description == nil || *p.Description != "A popular houseplant." {
		t.Fatalf("description = %v", p.Description)
	}
	if len(p.Images) != 1 || p.Images[0] != "https://img.example/ficus.jpg" {
		t.Fatalf("images = %v", p.Images)
	}
	if p.Status != domain.StatusActive {
		t.Fatalf("status = %q, want active", p.Status)
	}
}

func TestUpsertMergeNeverRegressesFields(t *testing.T) {
	a, memStore := newTestApp(t, &fakeProvider{})
	seedPlant(t, memStore, domain.Plant{
		EntityName:  "Ficus",
		AccessToken: strPtr("tok-ficus"),
		Description: strPtr("Original description."),
		Images:      []string{"https://img.example/old.jpg"},
	})

	// Second payload lacks description and image but adds names.
	details := map[string]any{
		"name":         "Ficus lyrata",
		"common_names": []any{"Fiddle-leaf fig"},
	}
	if err := a.UpsertFromDetails(details, "tok-ficus"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	p, ok, _ := memStore.GetPlantByToken("tok-ficus")
	if !ok {
		t.Fatalf("row disappeared")
	}
	if p.Description == nil || *p.Description != "Original description." {
		t.Fatalf("description regressed to %v", p.Description)
	}
	if len(p.Images) != 1 || p.Images[0] != "https://img.example/old.jpg" {
		t.Fatalf("images regressed to %v", p.Images)
	}
	if len(p.CommonNames) != 1 || p.CommonNames[0] != "Fiddle-leaf fig" {
		t.Fatalf("common names not merged: %v", p.CommonNames)
	}

	// No second row was created.
	_, total, _ := memStore.ListPlants("", 100, 0)
	if total != 1 {
		t.Fatalf("plant count = %d, want 1", total)
	}
}

func TestUpsertMergeByScientificNameClaimsToken(t *testing.T) {
	a, memStore := newTestApp(t, &fakeProvider{})
	seedPlant(t, memStore, domain.Plant{
		EntityName:     "Aloe",
		ScientificName: strPtr("Aloe vera"),
	})

	details := map[string]any{"scientific_name": "Aloe vera"}
	if err := a.UpsertFromDetails(details, "tok-aloe"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	p, ok, _ := memStore.GetPlantByToken("tok-aloe")
	if !ok {
		t.Fatalf("token was not claimed by the existing row")
	}
	if p.ID != 1 {
		t.Fatalf("merged into wrong row: %+v", p)
	}
	// Entity name coalesces from the payload, which falls back to the
	// scientific name when no explicit entity name is present.
	if p.EntityName != "Aloe vera" {
		t.Fatalf("entity name = %q, want the payload's fallback", p.EntityName)
	}
	_, total, _ := memStore.ListPlants("", 100, 0)
	if total != 1 {
		t.Fatalf("plant count = %d, want 1", total)
	}
}

func TestUpsertEmptyTokenIsNoop(t *testing.T) {
	a, memStore := newTestApp(t, &fakeProvider{})

	if err := a.UpsertFromDetails(map[string]any{"name": "Ghost"}, "  "); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	_, total, _ := memStore.ListPlants("", 100, 0)
	if total != 0 {
		t.Fatalf("plant count = %d, want 0", total)
	}
}

func TestUpsertReactivatesInactiveRow(t *testing.T) {
	a, memStore := newTestApp(t, &fakeProvider{})
	created := seedPlant(t, memStore, domain.Plant{
		EntityName:  "Fern",
		AccessToken: strPtr("tok-fern"),
	})
	if _, ok, _ := memStore.SetPlantStatus(created.ID, domain.StatusInactive); !ok {
		t.Fatalf("deactivate failed")
	}

	if err := a.UpsertFromDetails(map[string]any{"name": "Fernus"}, "tok-fern"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	p, ok, _ := memStore.GetPlantByToken("tok-fern")
	if !ok || p.Status != domain.StatusActive {
		t.Fatalf("row not reactivated: ok=%v status=%q", ok, p.Status)
	}
}

// racingStore simulates a concurrent insert winning between the merge tiers
// and the insert: the insert fails with ErrDuplicate, but by then a row with
// the token exists.
type racingStore struct {
	*store.MemoryStore
}

func (s *racingStore) InsertPlantFromFields(token string, f domain.PlantFields) error {
	if err := s.MemoryStore.EnsurePlantStub(token, "winner"); err != nil {
		return err
	}
	return store.ErrDuplicate
}

func TestUpsertRetriesMergeAfterLostInsertRace(t *testing.T) {
	memStore := &racingStore{MemoryStore: store.NewMemoryStore()}
	a, err := New(Config{Store: memStore, Provider: &fakeProvider{}})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	details := map[string]any{"scientific_name": "Racea vulgaris"}
	if err := a.UpsertFromDetails(details, "tok-race"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	p, ok, _ := memStore.GetPlantByToken("tok-race")
	if !ok {
		t.Fatalf("winning row missing")
	}
	if p.ScientificName == nil || *p.ScientificName != "Racea vulgaris" {
		t.Fatalf("loser's fields not merged onto the winner: %+v", p)
	}
}

func TestExtractFieldsPrefersSpecificKeys(t *testing.T) {
	details := map[string]any{
		"name":            "Fallback name",
		"scientific_name": "Specificus primus",
		"entity_name":     "Specific entity",
		"wiki_description": map[string]any{
			"value": "From the wiki.",
		},
		"images": []any{"https://img.example/a.jpg", "https://img.example/b.jpg"},
	}
	f := extractFields(details)
	if f.ScientificName == nil || *f.ScientificName != "Specificus primus" {
		t.Fatalf("scientific name = %v", f.ScientificName)
	}
	if f.EntityName == nil || *f.EntityName != "Specific entity" {
		t.Fatalf("entity name = %v", f.EntityName)
	}
	if f.Description == nil || *f.Description != "From the wiki." {
		t.Fatalf("description = %v", f.Description)
	}
	if len(f.Images) != 1 || f.Images[0] != "https://img.example/a.jpg" {
		t.Fatalf("images = %v", f.Images)
	}
}
