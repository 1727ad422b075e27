package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"popoyan/pkg/domain"
)

// MemoryStore keeps the catalog in-process. It mirrors the Postgres store's
// semantics closely enough for tests and local development.
type MemoryStore struct {
	mu              sync.RWMutex
	plants          map[int64]domain.Plant
	nextPlantID     int64
	searches        []domain.SearchRecord
	matches         map[int64][]domain.SearchMatch
	nextSearchID    int64
	identifications []domain.Identification
	nextIdentID     int64
	chats           []domain.ChatMessage
	nextChatID      int64
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plants:       make(map[int64]domain.Plant),
		matches:      make(map[int64][]domain.SearchMatch),
		nextPlantID:  1,
		nextSearchID: 1,
		nextIdentID:  1,
		nextChatID:   1,
	}
}

func (m *MemoryStore) SearchPlants(query string, limit, offset int) ([]domain.Plant, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var hits []domain.Plant
	for _, p := range m.plants {
		if p.Status != domain.StatusActive {
			continue
		}
		if plantMatches(p, query) {
			hits = append(hits, p)
		}
	}
	sortPlants(hits)
	total := len(hits)
	return pagePlants(hits, limit, offset), total, nil
}

func plantMatches(p domain.Plant, query string) bool {
	q := strings.ToLower(query)
	if strings.Contains(strings.ToLower(p.EntityName), q) {
		return true
	}
	if p.ScientificName != nil && strings.Contains(strings.ToLower(*p.ScientificName), q) {
		return true
	}
	for _, cn := range p.CommonNames {
		if strings.Contains(strings.ToLower(cn), q) {
			return true
		}
	}
	for k, v := range p.Taxonomy {
		if strings.Contains(strings.ToLower(k), q) || strings.Contains(strings.ToLower(v), q) {
			return true
		}
	}
	if p.AccessToken != nil && strings.EqualFold(*p.AccessToken, query) {
		return true
	}
	return false
}

func (m *MemoryStore) ListPlants(status string, limit, offset int) ([]domain.Plant, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var hits []domain.Plant
	for _, p := range m.plants {
		if status != "" && string(p.Status) != status {
			continue
		}
		hits = append(hits, p)
	}
	sortPlants(hits)
	return pagePlants(hits, limit, offset), len(hits), nil
}

func (m *MemoryStore) GetActivePlantByID(id int64) (domain.Plant, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plants[id]
	if !ok || p.Status != domain.StatusActive {
		return domain.Plant{}, false, nil
	}
	return p, true, nil
}

func (m *MemoryStore) GetPlantByToken(token string) (domain.Plant, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.findByTokenLocked(token); ok {
		return p, true, nil
	}
	return domain.Plant{}, false, nil
}

func (m *MemoryStore) findByTokenLocked(token string) (domain.Plant, bool) {
	for _, p := range m.plants {
		if p.AccessToken != nil && strings.EqualFold(*p.AccessToken, token) {
			return p, true
		}
	}
	return domain.Plant{}, false
}

func (m *MemoryStore) FindTokenByName(name string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int64, 0, len(m.plants))
	for id := range m.plants {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		p := m.plants[id]
		match := p.EntityName == name ||
			(p.ScientificName != nil && *p.ScientificName == name)
		for _, cn := range p.CommonNames {
			if cn == name {
				match = true
			}
		}
		if !match {
			continue
		}
		if p.AccessToken == nil || *p.AccessToken == "" {
			return "", false, nil
		}
		return *p.AccessToken, true, nil
	}
	return "", false, nil
}

func (m *MemoryStore) CreatePlant(p domain.Plant) (domain.Plant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identityTakenLocked(p.AccessToken, p.ScientificName, 0) {
		return domain.Plant{}, ErrDuplicate
	}
	now := time.Now().UTC()
	p.ID = m.nextPlantID
	m.nextPlantID++
	if p.Status == "" {
		p.Status = domain.StatusActive
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	m.plants[p.ID] = p
	return p, nil
}

func (m *MemoryStore) identityTakenLocked(token, sci *string, exceptID int64) bool {
	for id, p := range m.plants {
		if id == exceptID {
			continue
		}
		if token != nil && *token != "" && p.AccessToken != nil && strings.EqualFold(*p.AccessToken, *token) {
			return true
		}
		if sci != nil && *sci != "" && p.ScientificName != nil && strings.EqualFold(*p.ScientificName, *sci) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) UpdatePlant(id int64, u domain.PlantUpdate) (domain.Plant, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plants[id]
	if !ok {
		return domain.Plant{}, false, nil
	}
	if u.EntityName != nil {
		p.EntityName = *u.EntityName
	}
	if u.ScientificName != nil {
		if *u.ScientificName == "" {
			p.ScientificName = nil
		} else {
			if m.identityTakenLocked(nil, u.ScientificName, id) {
				return domain.Plant{}, false, ErrDuplicate
			}
			p.ScientificName = u.ScientificName
		}
	}
	if len(u.CommonNames) > 0 {
		p.CommonNames = u.CommonNames
	}
	if len(u.Taxonomy) > 0 {
		p.Taxonomy = u.Taxonomy
	}
	if u.Description != nil && *u.Description != "" {
		p.Description = u.Description
	}
	if len(u.Images) > 0 {
		p.Images = u.Images
	}
	if u.AccessToken != nil && *u.AccessToken != "" {
		if m.identityTakenLocked(u.AccessToken, nil, id) {
			return domain.Plant{}, false, ErrDuplicate
		}
		p.AccessToken = u.AccessToken
	}
	p.UpdatedAt = time.Now().UTC()
	m.plants[id] = p
	return p, true, nil
}

func (m *MemoryStore) SetPlantStatus(id int64, status domain.PlantStatus) (domain.Plant, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plants[id]
	if !ok {
		return domain.Plant{}, false, nil
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	m.plants[id] = p
	return p, true, nil
}

func (m *MemoryStore) ListFamilies(limit, offset int) ([]domain.FamilyGroup, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byFamily := make(map[string]*domain.FamilyGroup)
	for _, p := range m.plants {
		if p.Status != domain.StatusActive {
			continue
		}
		family := p.Taxonomy["family"]
		if family == "" {
			continue
		}
		g, ok := byFamily[family]
		if !ok {
			g = &domain.FamilyGroup{Family: family}
			byFamily[family] = g
		}
		g.PlantCount++
		if g.SampleImage == nil && len(p.Images) > 0 {
			img := p.Images[0]
			g.SampleImage = &img
		}
	}
	families := make([]domain.FamilyGroup, 0, len(byFamily))
	for _, g := range byFamily {
		families = append(families, *g)
	}
	sort.Slice(families, func(i, j int) bool { return families[i].Family < families[j].Family })
	total := len(families)
	if offset >= len(families) {
		return []domain.FamilyGroup{}, total, nil
	}
	end := offset + limit
	if end > len(families) {
		end = len(families)
	}
	return families[offset:end], total, nil
}

func (m *MemoryStore) MergePlantByToken(token string, f domain.PlantFields) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.findByTokenLocked(token)
	if !ok {
		return false, nil
	}
	m.plants[p.ID] = mergeFields(p, f, nil)
	return true, nil
}

func (m *MemoryStore) MergePlantByScientificName(scientificName, token string, f domain.PlantFields) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.plants {
		if p.ScientificName != nil && strings.EqualFold(*p.ScientificName, scientificName) {
			m.plants[id] = mergeFields(p, f, &token)
			return true, nil
		}
	}
	return false, nil
}

// mergeFields applies coalesce semantics: new non-null values win, existing
// values are kept otherwise. Status always flips back to active.
func mergeFields(p domain.Plant, f domain.PlantFields, token *string) domain.Plant {
	if f.EntityName != nil && *f.EntityName != "" {
		p.EntityName = *f.EntityName
	}
	if f.ScientificName != nil && *f.ScientificName != "" {
		p.ScientificName = f.ScientificName
	}
	if len(f.CommonNames) > 0 {
		p.CommonNames = f.CommonNames
	}
	if len(f.Taxonomy) > 0 {
		p.Taxonomy = f.Taxonomy
	}
	if f.Description != nil && *f.Description != "" {
		p.Description = f.Description
	}
	if len(f.Images) > 0 {
		p.Images = f.Images
	}
	if token != nil && *token != "" {
		p.AccessToken = token
	}
	p.Status = domain.StatusActive
	p.UpdatedAt = time.Now().UTC()
	return p
}

func (m *MemoryStore) InsertPlantFromFields(token string, f domain.PlantFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok := token
	if m.identityTakenLocked(&tok, f.ScientificName, 0) {
		return ErrDuplicate
	}
	name := token
	if f.EntityName != nil && *f.EntityName != "" {
		name = *f.EntityName
	} else if f.ScientificName != nil && *f.ScientificName != "" {
		name = *f.ScientificName
	}
	now := time.Now().UTC()
	p := domain.Plant{
		ID:             m.nextPlantID,
		EntityName:     name,
		ScientificName: f.ScientificName,
		CommonNames:    f.CommonNames,
		Taxonomy:       f.Taxonomy,
		Description:    f.Description,
		Images:         f.Images,
		Status:         domain.StatusActive,
		AccessToken:    &tok,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.nextPlantID++
	m.plants[p.ID] = p
	return nil
}

func (m *MemoryStore) EnsurePlantStub(token, entityName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.findByTokenLocked(token); ok {
		return nil
	}
	if entityName == "" {
		entityName = token
	}
	tok := token
	now := time.Now().UTC()
	p := domain.Plant{
		ID:          m.nextPlantID,
		EntityName:  entityName,
		Status:      domain.StatusActive,
		AccessToken: &tok,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.nextPlantID++
	m.plants[p.ID] = p
	return nil
}

func (m *MemoryStore) SaveSearchRecord(rec domain.SearchRecord, matches []domain.SearchMatch) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = m.nextSearchID
	m.nextSearchID++
	rec.CreatedAt = time.Now().UTC()
	m.searches = append(m.searches, rec)
	for i := range matches {
		if matches[i].AccessToken != nil {
			if p, ok := m.findByTokenLocked(*matches[i].AccessToken); ok {
				id := p.ID
				matches[i].PlantID = &id
			}
		}
	}
	m.matches[rec.ID] = matches
	return rec.ID, nil
}

func (m *MemoryStore) ListSearchRecords(limit, offset int) ([]domain.SearchRecord, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := make([]domain.SearchRecord, len(m.searches))
	copy(recs, m.searches)
	// newest first
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID > recs[j].ID })
	total := len(recs)
	if offset >= len(recs) {
		return []domain.SearchRecord{}, total, nil
	}
	end := offset + limit
	if end > len(recs) {
		end = len(recs)
	}
	return recs[offset:end], total, nil
}

// MatchesFor exposes stored search matches for assertions in tests.
func (m *MemoryStore) MatchesFor(searchID int64) []domain.SearchMatch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.matches[searchID]
}

func (m *MemoryStore) SaveIdentification(rec domain.Identification) (domain.Identification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = m.nextIdentID
	m.nextIdentID++
	if rec.Status == "" {
		rec.Status = "pending"
	}
	rec.CreatedAt = time.Now().UTC()
	m.identifications = append(m.identifications, rec)
	return rec, nil
}

func (m *MemoryStore) ListIdentifications(limit, offset int) ([]domain.Identification, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := make([]domain.Identification, len(m.identifications))
	copy(recs, m.identifications)
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID > recs[j].ID })
	total := len(recs)
	if offset >= len(recs) {
		return []domain.Identification{}, total, nil
	}
	end := offset + limit
	if end > len(recs) {
		end = len(recs)
	}
	return recs[offset:end], total, nil
}

func (m *MemoryStore) SetIdentificationStatus(id int64, status string) (domain.Identification, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.identifications {
		if m.identifications[i].ID == id {
			m.identifications[i].Status = status
			return m.identifications[i], true, nil
		}
	}
	return domain.Identification{}, false, nil
}

func (m *MemoryStore) AppendChatMessages(token string, msgs []domain.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		createdAt := msg.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		dup := false
		for _, existing := range m.chats {
			if existing.AccessToken == token &&
				existing.Content == msg.Content &&
				existing.Type == msg.Type &&
				existing.CreatedAt.Equal(createdAt) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		m.chats = append(m.chats, domain.ChatMessage{
			ID:          m.nextChatID,
			AccessToken: token,
			Content:     msg.Content,
			Type:        msg.Type,
			CreatedAt:   createdAt,
		})
		m.nextChatID++
	}
	return nil
}

func (m *MemoryStore) ListChatMessages(token string) ([]domain.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var msgs []domain.ChatMessage
	for _, msg := range m.chats {
		if msg.AccessToken == token {
			msgs = append(msgs, msg)
		}
	}
	sortChats(msgs)
	return msgs, nil
}

func (m *MemoryStore) ListAllChatMessages() ([]domain.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := make([]domain.ChatMessage, len(m.chats))
	copy(msgs, m.chats)
	sortChats(msgs)
	return msgs, nil
}

func sortChats(msgs []domain.ChatMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		if msgs[i].Type != msgs[j].Type {
			return msgs[i].Type == domain.MessageQuestion
		}
		return msgs[i].ID < msgs[j].ID
	})
}

func sortPlants(plants []domain.Plant) {
	sort.Slice(plants, func(i, j int) bool {
		if plants[i].EntityName != plants[j].EntityName {
			return plants[i].EntityName < plants[j].EntityName
		}
		return plants[i].ID < plants[j].ID
	})
}

func pagePlants(plants []domain.Plant, limit, offset int) []domain.Plant {
	if offset >= len(plants) {
		return []domain.Plant{}
	}
	end := offset + limit
	if end > len(plants) {
		end = len(plants)
	}
	return plants[offset:end]
}
