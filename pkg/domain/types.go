package domain

import (
	"encoding/json"
	"time"
)

type PlantStatus string

const (
	StatusActive   PlantStatus = "active"
	StatusInactive PlantStatus = "inactive"
)

type MessageType string

const (
	MessageQuestion MessageType = "question"
	MessageAnswer   MessageType = "answer"
)

// Plant is a cached catalog entry. AccessToken is the provider-assigned
// identity (unique when present, case-insensitive); ScientificName is the
// botanical identity with the same uniqueness rule.
type Plant struct {
	ID             int64             `json:"id"`
	EntityName     string            `json:"entity_name"`
	ScientificName *string           `json:"scientific_name"`
	CommonNames    []string          `json:"common_names"`
	Taxonomy       map[string]string `json:"taxonomy"`
	Description    *string           `json:"description"`
	Images         []string          `json:"images"`
	Status         PlantStatus       `json:"status"`
	AccessToken    *string           `json:"access_token"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// PlantFields carries the attribute subset extracted from a provider payload.
// Nil means "not supplied"; the reconciler never lets nil overwrite a value.
type PlantFields struct {
	EntityName     *string
	ScientificName *string
	CommonNames    []string
	Taxonomy       map[string]string
	Description    *string
	Images         []string
}

// PlantUpdate is a partial update; nil fields are left untouched. Arrays and
// taxonomy replace the stored value only when non-empty.
type PlantUpdate struct {
	EntityName     *string
	ScientificName *string
	CommonNames    []string
	Taxonomy       map[string]string
	Description    *string
	Images         []string
	AccessToken    *string
}

// IsZero reports whether the update carries no recognized field.
func (u PlantUpdate) IsZero() bool {
	return u.EntityName == nil && u.ScientificName == nil && u.CommonNames == nil &&
		u.Taxonomy == nil && u.Description == nil && u.Images == nil && u.AccessToken == nil
}

// SearchRecord is one immutable audit row for an external search call.
type SearchRecord struct {
	ID              int64           `json:"id"`
	SearchQuery     string          `json:"search_query"`
	APIResponse     json.RawMessage `json:"api_response"`
	TotalResults    int             `json:"total_results"`
	EntitiesTrimmed bool            `json:"entities_trimmed"`
	LimitValue      int             `json:"limit_value"`
	CreatedAt       time.Time       `json:"created_at"`
}

// SearchMatch records one provider entity returned for a search.
type SearchMatch struct {
	ID            int64   `json:"id"`
	PlantID       *int64  `json:"plant_id"`
	EntityName    *string `json:"entity_name"`
	AccessToken   *string `json:"access_token"`
	MatchedIn     *string `json:"matched_in"`
	MatchedInType *string `json:"matched_in_type"`
	MatchPosition *int    `json:"match_position"`
	MatchLength   *int    `json:"match_length"`
}

// Identification is one user-submitted identification attempt. Immutable
// except for Status.
type Identification struct {
	ID               int64           `json:"id"`
	OriginalFilename *string         `json:"original_filename"`
	ImageData        string          `json:"-"`
	StorageKey       string          `json:"-"`
	Results          json.RawMessage `json:"identification_results"`
	ConfidenceScore  float64         `json:"confidence_score"`
	Status           string          `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ChatMessage is one turn in a conversation thread keyed by an identification
// access token. (AccessToken, Content, Type, CreatedAt) is the natural key.
type ChatMessage struct {
	ID          int64       `json:"id"`
	AccessToken string      `json:"access_token,omitempty"`
	Content     string      `json:"content"`
	Type        MessageType `json:"type"`
	CreatedAt   time.Time   `json:"created_at"`
}

// FamilyGroup is one row of the family aggregation.
type FamilyGroup struct {
	Family      string  `json:"family"`
	PlantCount  int     `json:"plant_count"`
	SampleImage *string `json:"sample_image"`
}
