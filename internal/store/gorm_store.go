package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"popoyan/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB, runs auto-migrations, and installs the
// case-insensitive identity indexes the reconciler relies on.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(
		&PlantModel{},
		&SearchResultModel{},
		&SearchEntityModel{},
		&IdentificationModel{},
		&ChatMessageModel{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	// Partial functional indexes; AutoMigrate cannot express these.
	identityIndexes := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_plants_access_token_lower
		 ON plants ((lower(access_token))) WHERE access_token IS NOT NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_plants_scientific_name_lower
		 ON plants ((lower(scientific_name))) WHERE scientific_name IS NOT NULL`,
	}
	for _, ddl := range identityIndexes {
		if err := db.Exec(ddl).Error; err != nil {
			return nil, fmt.Errorf("create identity index: %w", err)
		}
	}
	return &GormStore{db: db}, nil
}

const plantSearchCond = `status = 'active' AND (
	entity_name ILIKE ?
	OR scientific_name ILIKE ?
	OR common_names::text ILIKE ?
	OR taxonomy::text ILIKE ?
	OR lower(access_token) = lower(?)
)`

// SearchPlants performs the case-insensitive local cache search across
// names, common names, serialized taxonomy, and exact token match.
func (s *GormStore) SearchPlants(query string, limit, offset int) ([]domain.Plant, int, error) {
	pattern := "%" + query + "%"
	args := []any{pattern, pattern, pattern, pattern, query}

	var total int64
	if err := s.db.Model(&PlantModel{}).Where(plantSearchCond, args...).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []PlantModel
	err := s.db.Where(plantSearchCond, args...).
		Order("entity_name ASC, id ASC").
		Limit(limit).Offset(offset).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}
	return plantsFromModels(models), int(total), nil
}

// ListPlants returns a page of the catalog; empty status means no filter.
func (s *GormStore) ListPlants(status string, limit, offset int) ([]domain.Plant, int, error) {
	tx := s.db.Model(&PlantModel{})
	if status != "" {
		tx = tx.Where("status = ?", status)
	}
	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []PlantModel
	if err := tx.Order("entity_name ASC, id ASC").Limit(limit).Offset(offset).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	return plantsFromModels(models), int(total), nil
}

// GetActivePlantByID returns a plant only while its status is active.
func (s *GormStore) GetActivePlantByID(id int64) (domain.Plant, bool, error) {
	var m PlantModel
	if err := s.db.First(&m, "id = ? AND status = ?", id, string(domain.StatusActive)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Plant{}, false, nil
		}
		return domain.Plant{}, false, err
	}
	return plantFromModel(m), true, nil
}

// GetPlantByToken matches the access token case-insensitively, any status.
func (s *GormStore) GetPlantByToken(token string) (domain.Plant, bool, error) {
	var m PlantModel
	if err := s.db.First(&m, "lower(access_token) = lower(?)", token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Plant{}, false, nil
		}
		return domain.Plant{}, false, err
	}
	return plantFromModel(m), true, nil
}

// FindTokenByName resolves an access token by exact entity, common, or
// scientific name. Returns false when no row has a token for the name.
func (s *GormStore) FindTokenByName(name string) (string, bool, error) {
	var m PlantModel
	err := s.db.
		Where("entity_name = ? OR scientific_name = ? OR common_names @> ?",
			name, name, jsonValue([]string{name}, false)).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	if m.AccessToken == nil || *m.AccessToken == "" {
		return "", false, nil
	}
	return *m.AccessToken, true, nil
}

// CreatePlant inserts a new catalog row. Identity collisions surface as
// ErrDuplicate.
func (s *GormStore) CreatePlant(p domain.Plant) (domain.Plant, error) {
	m := plantToModel(p)
	m.ID = 0
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	if m.Status == "" {
		m.Status = string(domain.StatusActive)
	}
	if err := s.db.Create(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.Plant{}, ErrDuplicate
		}
		return domain.Plant{}, err
	}
	return plantFromModel(m), nil
}

// UpdatePlant applies a partial update. Absent fields stay untouched; arrays
// and taxonomy only replace non-empty values.
func (s *GormStore) UpdatePlant(id int64, u domain.PlantUpdate) (domain.Plant, bool, error) {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if u.EntityName != nil {
		updates["entity_name"] = *u.EntityName
	}
	if u.ScientificName != nil {
		updates["scientific_name"] = nullIfEmpty(*u.ScientificName)
	}
	if len(u.CommonNames) > 0 {
		updates["common_names"] = jsonValue(u.CommonNames, false)
	}
	if len(u.Taxonomy) > 0 {
		updates["taxonomy"] = jsonValue(u.Taxonomy, false)
	}
	if u.Description != nil && *u.Description != "" {
		updates["description"] = *u.Description
	}
	if len(u.Images) > 0 {
		updates["images"] = jsonValue(u.Images, false)
	}
	if u.AccessToken != nil && *u.AccessToken != "" {
		updates["access_token"] = *u.AccessToken
	}
	res := s.db.Model(&PlantModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return domain.Plant{}, false, ErrDuplicate
		}
		return domain.Plant{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Plant{}, false, nil
	}
	return s.getPlantAnyStatus(id)
}

// SetPlantStatus toggles the lifecycle status.
func (s *GormStore) SetPlantStatus(id int64, status domain.PlantStatus) (domain.Plant, bool, error) {
	res := s.db.Model(&PlantModel{}).Where("id = ?", id).Updates(map[string]any{
		"status":     string(status),
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return domain.Plant{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Plant{}, false, nil
	}
	return s.getPlantAnyStatus(id)
}

// ListFamilies groups active plants by taxonomy family with a count and one
// sample image per group, ordered alphabetically.
func (s *GormStore) ListFamilies(limit, offset int) ([]domain.FamilyGroup, int, error) {
	const familyCond = `status = 'active' AND COALESCE(taxonomy->>'family', '') <> ''`

	var total int64
	err := s.db.Model(&PlantModel{}).
		Where(familyCond).
		Distinct("taxonomy->>'family'").
		Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	var rows []struct {
		Family      string
		PlantCount  int
		SampleImage *string
	}
	err = s.db.Raw(`
		SELECT
			taxonomy->>'family' AS family,
			COUNT(*)::int AS plant_count,
			MAX(CASE WHEN jsonb_array_length(COALESCE(images, '[]'::jsonb)) > 0 THEN images->>0 END) AS sample_image
		FROM plants
		WHERE `+familyCond+`
		GROUP BY 1
		ORDER BY 1
		LIMIT ? OFFSET ?`, limit, offset).Scan(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	groups := make([]domain.FamilyGroup, 0, len(rows))
	for _, r := range rows {
		groups = append(groups, domain.FamilyGroup{
			Family:      r.Family,
			PlantCount:  r.PlantCount,
			SampleImage: r.SampleImage,
		})
	}
	return groups, int(total), nil
}

// MergePlantByToken is reconciliation tier 1: a single conditional UPDATE by
// case-insensitive token with coalesce merge semantics. Returns whether a row
// was updated.
func (s *GormStore) MergePlantByToken(token string, f domain.PlantFields) (bool, error) {
	res := s.db.Model(&PlantModel{}).
		Where("lower(access_token) = lower(?)", token).
		Updates(mergeAssignments(f, nil))
	return res.RowsAffected > 0, res.Error
}

// MergePlantByScientificName is tier 2: same merge matched by scientific
// name; the row additionally claims the token it was found through.
func (s *GormStore) MergePlantByScientificName(scientificName, token string, f domain.PlantFields) (bool, error) {
	res := s.db.Model(&PlantModel{}).
		Where("lower(scientific_name) = lower(?)", scientificName).
		Updates(mergeAssignments(f, &token))
	return res.RowsAffected > 0, res.Error
}

func mergeAssignments(f domain.PlantFields, token *string) map[string]any {
	m := map[string]any{
		"entity_name":     gorm.Expr("COALESCE(?::text, entity_name)", f.EntityName),
		"scientific_name": gorm.Expr("COALESCE(?::text, scientific_name)", f.ScientificName),
		"common_names":    gorm.Expr("COALESCE(?::jsonb, common_names)", jsonValue(f.CommonNames, len(f.CommonNames) == 0)),
		"taxonomy":        gorm.Expr("COALESCE(?::jsonb, taxonomy)", jsonValue(f.Taxonomy, len(f.Taxonomy) == 0)),
		"description":     gorm.Expr("COALESCE(?::text, description)", f.Description),
		"images":          gorm.Expr("COALESCE(?::jsonb, images)", jsonValue(f.Images, len(f.Images) == 0)),
		"status":          string(domain.StatusActive),
		"updated_at":      time.Now().UTC(),
	}
	if token != nil {
		m["access_token"] = gorm.Expr("COALESCE(?::text, access_token)", nullIfEmpty(*token))
	}
	return m
}

// InsertPlantFromFields is tier 3: insert a fresh row from whatever the
// provider supplied. ErrDuplicate signals a lost reconciliation race.
func (s *GormStore) InsertPlantFromFields(token string, f domain.PlantFields) error {
	name := ""
	switch {
	case f.EntityName != nil && *f.EntityName != "":
		name = *f.EntityName
	case f.ScientificName != nil && *f.ScientificName != "":
		name = *f.ScientificName
	default:
		name = token
	}
	m := PlantModel{
		EntityName:     name,
		ScientificName: f.ScientificName,
		CommonNames:    jsonValue(f.CommonNames, len(f.CommonNames) == 0),
		Taxonomy:       jsonValue(f.Taxonomy, len(f.Taxonomy) == 0),
		Description:    f.Description,
		Images:         jsonValue(f.Images, len(f.Images) == 0),
		Status:         string(domain.StatusActive),
		AccessToken:    &token,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	if err := s.db.Create(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// EnsurePlantStub creates a minimal row for a token when none exists yet so
// search matches always have something to point at. Losing a concurrent race
// is fine.
func (s *GormStore) EnsurePlantStub(token, entityName string) error {
	var count int64
	if err := s.db.Model(&PlantModel{}).Where("lower(access_token) = lower(?)", token).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if entityName == "" {
		entityName = token
	}
	m := PlantModel{
		EntityName:  entityName,
		Status:      string(domain.StatusActive),
		AccessToken: &token,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.db.Create(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// SaveSearchRecord persists one search audit row plus its per-entity matches.
func (s *GormStore) SaveSearchRecord(rec domain.SearchRecord, matches []domain.SearchMatch) (int64, error) {
	m := SearchResultModel{
		SearchQuery:     rec.SearchQuery,
		APIResponse:     jsonRawValue(rec.APIResponse),
		TotalResults:    rec.TotalResults,
		EntitiesTrimmed: rec.EntitiesTrimmed,
		LimitValue:      rec.LimitValue,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.db.Create(&m).Error; err != nil {
		return 0, err
	}
	for _, match := range matches {
		em := SearchEntityModel{
			SearchResultID: m.ID,
			EntityName:     match.EntityName,
			AccessToken:    match.AccessToken,
			MatchedIn:      match.MatchedIn,
			MatchedInType:  match.MatchedInType,
			MatchPosition:  match.MatchPosition,
			MatchLength:    match.MatchLength,
		}
		if match.AccessToken != nil && *match.AccessToken != "" {
			var plant PlantModel
			if err := s.db.Select("id").First(&plant, "lower(access_token) = lower(?)", *match.AccessToken).Error; err == nil {
				em.PlantID = &plant.ID
			}
		}
		if err := s.db.Create(&em).Error; err != nil {
			return 0, err
		}
	}
	return m.ID, nil
}

// ListSearchRecords returns the search history, newest first.
func (s *GormStore) ListSearchRecords(limit, offset int) ([]domain.SearchRecord, int, error) {
	var total int64
	if err := s.db.Model(&SearchResultModel{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []SearchResultModel
	if err := s.db.Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	recs := make([]domain.SearchRecord, 0, len(models))
	for _, m := range models {
		recs = append(recs, domain.SearchRecord{
			ID:              m.ID,
			SearchQuery:     m.SearchQuery,
			APIResponse:     []byte(m.APIResponse),
			TotalResults:    m.TotalResults,
			EntitiesTrimmed: m.EntitiesTrimmed,
			LimitValue:      m.LimitValue,
			CreatedAt:       m.CreatedAt,
		})
	}
	return recs, int(total), nil
}

// SaveIdentification persists one identification attempt.
func (s *GormStore) SaveIdentification(rec domain.Identification) (domain.Identification, error) {
	m := identificationToModel(rec)
	m.ID = 0
	if m.Status == "" {
		m.Status = "pending"
	}
	m.CreatedAt = time.Now().UTC()
	if err := s.db.Create(&m).Error; err != nil {
		return domain.Identification{}, err
	}
	return identificationFromModel(m), nil
}

// ListIdentifications returns identification history, newest first.
func (s *GormStore) ListIdentifications(limit, offset int) ([]domain.Identification, int, error) {
	var total int64
	if err := s.db.Model(&IdentificationModel{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []IdentificationModel
	if err := s.db.Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	recs := make([]domain.Identification, 0, len(models))
	for _, m := range models {
		recs = append(recs, identificationFromModel(m))
	}
	return recs, int(total), nil
}

// SetIdentificationStatus updates only the status column.
func (s *GormStore) SetIdentificationStatus(id int64, status string) (domain.Identification, bool, error) {
	res := s.db.Model(&IdentificationModel{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return domain.Identification{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Identification{}, false, nil
	}
	var m IdentificationModel
	if err := s.db.First(&m, "id = ?", id).Error; err != nil {
		return domain.Identification{}, false, err
	}
	return identificationFromModel(m), true, nil
}

const chatOrder = `created_at ASC, CASE WHEN type = 'question' THEN 0 ELSE 1 END ASC, id ASC`

// AppendChatMessages inserts conversation turns; exact duplicates of the
// natural key are silently dropped.
func (s *GormStore) AppendChatMessages(token string, msgs []domain.ChatMessage) error {
	for _, msg := range msgs {
		createdAt := msg.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		m := ChatMessageModel{
			AccessToken: token,
			Content:     msg.Content,
			Type:        string(msg.Type),
			CreatedAt:   createdAt,
		}
		if err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error; err != nil {
			return err
		}
	}
	return nil
}

// ListChatMessages returns one thread ordered by creation time, questions
// before answers on ties, then insertion order.
func (s *GormStore) ListChatMessages(token string) ([]domain.ChatMessage, error) {
	var models []ChatMessageModel
	err := s.db.Where("identification_access_token = ?", token).Order(chatOrder).Find(&models).Error
	if err != nil {
		return nil, err
	}
	return chatsFromModels(models), nil
}

// ListAllChatMessages returns every thread with the same ordering.
func (s *GormStore) ListAllChatMessages() ([]domain.ChatMessage, error) {
	var models []ChatMessageModel
	if err := s.db.Order(chatOrder).Find(&models).Error; err != nil {
		return nil, err
	}
	return chatsFromModels(models), nil
}

func (s *GormStore) getPlantAnyStatus(id int64) (domain.Plant, bool, error) {
	var m PlantModel
	if err := s.db.First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Plant{}, false, nil
		}
		return domain.Plant{}, false, err
	}
	return plantFromModel(m), true, nil
}

func plantsFromModels(models []PlantModel) []domain.Plant {
	res := make([]domain.Plant, 0, len(models))
	for _, m := range models {
		res = append(res, plantFromModel(m))
	}
	return res
}

func chatsFromModels(models []ChatMessageModel) []domain.ChatMessage {
	res := make([]domain.ChatMessage, 0, len(models))
	for _, m := range models {
		res = append(res, chatFromModel(m))
	}
	return res
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func jsonRawValue(raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
