package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"popoyan/pkg/domain"
)

// GORM models used for persistence. Arrays and taxonomy are stored as jsonb.
type PlantModel struct {
	ID             int64  `gorm:"primaryKey"`
	EntityName     string `gorm:"not null;index"`
	ScientificName *string
	CommonNames    datatypes.JSON `gorm:"type:jsonb"`
	Taxonomy       datatypes.JSON `gorm:"type:jsonb"`
	Description    *string
	Images         datatypes.JSON `gorm:"type:jsonb"`
	Status         string         `gorm:"not null;default:active;index"`
	AccessToken    *string
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (PlantModel) TableName() string { return "plants" }

type SearchResultModel struct {
	ID              int64          `gorm:"primaryKey"`
	SearchQuery     string         `gorm:"not null"`
	APIResponse     datatypes.JSON `gorm:"type:jsonb"`
	TotalResults    int            `gorm:"not null;default:0"`
	EntitiesTrimmed bool           `gorm:"default:false"`
	LimitValue      int
	CreatedAt       time.Time `gorm:"not null;index:,sort:desc"`
}

func (SearchResultModel) TableName() string { return "plant_search_results" }

type SearchEntityModel struct {
	ID             int64 `gorm:"primaryKey"`
	SearchResultID int64 `gorm:"not null;index"`
	PlantID        *int64
	EntityName     *string
	AccessToken    *string
	MatchedIn      *string
	MatchedInType  *string
	MatchPosition  *int
	MatchLength    *int
}

func (SearchEntityModel) TableName() string { return "plant_search_entities" }

type IdentificationModel struct {
	ID               int64 `gorm:"primaryKey"`
	OriginalFilename *string
	ImageData        string         `gorm:"type:text;not null"`
	StorageKey       string
	Results          datatypes.JSON `gorm:"column:identification_results;type:jsonb;not null"`
	ConfidenceScore  float64        `gorm:"not null;default:0"`
	Status           string         `gorm:"not null;default:pending;index"`
	CreatedAt        time.Time      `gorm:"not null;index:,sort:desc"`
}

func (IdentificationModel) TableName() string { return "plant_identifications" }

type ChatMessageModel struct {
	ID          int64     `gorm:"primaryKey"`
	AccessToken string    `gorm:"column:identification_access_token;not null;uniqueIndex:ux_chat_unique"`
	Content     string    `gorm:"not null;uniqueIndex:ux_chat_unique"`
	Type        string    `gorm:"not null;uniqueIndex:ux_chat_unique"`
	CreatedAt   time.Time `gorm:"not null;uniqueIndex:ux_chat_unique"`
}

func (ChatMessageModel) TableName() string { return "plant_chat_messages" }

func plantToModel(p domain.Plant) PlantModel {
	return PlantModel{
		ID:             p.ID,
		EntityName:     p.EntityName,
		ScientificName: p.ScientificName,
		CommonNames:    jsonValue(p.CommonNames, len(p.CommonNames) == 0),
		Taxonomy:       jsonValue(p.Taxonomy, len(p.Taxonomy) == 0),
		Description:    p.Description,
		Images:         jsonValue(p.Images, len(p.Images) == 0),
		Status:         string(p.Status),
		AccessToken:    p.AccessToken,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func plantFromModel(m PlantModel) domain.Plant {
	p := domain.Plant{
		ID:             m.ID,
		EntityName:     m.EntityName,
		ScientificName: m.ScientificName,
		Description:    m.Description,
		Status:         domain.PlantStatus(m.Status),
		AccessToken:    m.AccessToken,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if len(m.CommonNames) > 0 {
		_ = json.Unmarshal(m.CommonNames, &p.CommonNames)
	}
	if len(m.Taxonomy) > 0 {
		_ = json.Unmarshal(m.Taxonomy, &p.Taxonomy)
	}
	if len(m.Images) > 0 {
		_ = json.Unmarshal(m.Images, &p.Images)
	}
	return p
}

// jsonValue marshals v into a jsonb column value, or NULL when empty.
func jsonValue(v any, empty bool) datatypes.JSON {
	if empty {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

func identificationToModel(rec domain.Identification) IdentificationModel {
	return IdentificationModel{
		ID:               rec.ID,
		OriginalFilename: rec.OriginalFilename,
		ImageData:        rec.ImageData,
		StorageKey:       rec.StorageKey,
		Results:          datatypes.JSON(rec.Results),
		ConfidenceScore:  rec.ConfidenceScore,
		Status:           rec.Status,
		CreatedAt:        rec.CreatedAt,
	}
}

func identificationFromModel(m IdentificationModel) domain.Identification {
	return domain.Identification{
		ID:               m.ID,
		OriginalFilename: m.OriginalFilename,
		ImageData:        m.ImageData,
		StorageKey:       m.StorageKey,
		Results:          json.RawMessage(m.Results),
		ConfidenceScore:  m.ConfidenceScore,
		Status:           m.Status,
		CreatedAt:        m.CreatedAt,
	}
}

func chatFromModel(m ChatMessageModel) domain.ChatMessage {
	return domain.ChatMessage{
		ID:          m.ID,
		AccessToken: m.AccessToken,
		Content:     m.Content,
		Type:        domain.MessageType(m.Type),
		CreatedAt:   m.CreatedAt,
	}
}
