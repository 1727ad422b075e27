package store

import (
	"errors"

	"popoyan/pkg/domain"
)

// ErrDuplicate is returned when an insert collides with the unique identity
// indexes on access_token or scientific_name.
var ErrDuplicate = errors.New("duplicate plant identity")

// Store defines persistence operations for the plant catalog, search history,
// identifications, and chat messages.
type Store interface {
	// catalog
	SearchPlants(query string, limit, offset int) ([]domain.Plant, int, error)
	ListPlants(status string, limit, offset int) ([]domain.Plant, int, error)
	GetActivePlantByID(id int64) (domain.Plant, bool, error)
	GetPlantByToken(token string) (domain.Plant, bool, error)
	FindTokenByName(name string) (string, bool, error)
	CreatePlant(p domain.Plant) (domain.Plant, error)
	UpdatePlant(id int64, u domain.PlantUpdate) (domain.Plant, bool, error)
	SetPlantStatus(id int64, status domain.PlantStatus) (domain.Plant, bool, error)
	ListFamilies(limit, offset int) ([]domain.FamilyGroup, int, error)

	// reconciliation primitives; each is a single atomic statement
	MergePlantByToken(token string, f domain.PlantFields) (bool, error)
	MergePlantByScientificName(scientificName, token string, f domain.PlantFields) (bool, error)
	InsertPlantFromFields(token string, f domain.PlantFields) error
	EnsurePlantStub(token, entityName string) error

	// search history
	SaveSearchRecord(rec domain.SearchRecord, matches []domain.SearchMatch) (int64, error)
	ListSearchRecords(limit, offset int) ([]domain.SearchRecord, int, error)

	// identifications
	SaveIdentification(rec domain.Identification) (domain.Identification, error)
	ListIdentifications(limit, offset int) ([]domain.Identification, int, error)
	SetIdentificationStatus(id int64, status string) (domain.Identification, bool, error)

	// chat
	AppendChatMessages(token string, msgs []domain.ChatMessage) error
	ListChatMessages(token string) ([]domain.ChatMessage, error)
	ListAllChatMessages() ([]domain.ChatMessage, error)
}
