package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"popoyan/internal/plantid"
	"popoyan/pkg/domain"
)

// IdentifyResult carries the stored identification record together with the
// provider's raw response for the API layer to return verbatim.
type IdentifyResult struct {
	Record      domain.Identification
	AccessToken string
	Raw         []byte
}

// IdentificationPage is one page of identification history.
type IdentificationPage struct {
	Identifications []domain.Identification `json:"identifications"`
	Total           int                     `json:"total"`
	Page            int                     `json:"page"`
	Limit           int                     `json:"limit"`
	TotalPages      int                     `json:"totalPages"`
}

// IdentifyPlant sends an image to the provider, stores the identification and
// offloads the image bytes to object storage when one is configured. Storage
// failures do not fail the identification.
func (a *App) IdentifyPlant(imageBase64, filename string, opts plantid.IdentifyOptions) (IdentifyResult, error) {
	result, err := a.provider.Identify(imageBase64, opts)
	if err != nil {
		return IdentifyResult{}, err
	}

	confidence := 0.0
	if len(result.Suggestions) > 0 {
		confidence = result.Suggestions[0].Probability
	}

	rec := domain.Identification{
		ImageData:       imageBase64,
		Results:         result.Raw,
		ConfidenceScore: confidence,
	}
	if name := strings.TrimSpace(filename); name != "" {
		rec.OriginalFilename = &name
	}
	rec.StorageKey = a.storeImage(imageBase64, filename)

	saved, err := a.store.SaveIdentification(rec)
	if err != nil {
		return IdentifyResult{}, err
	}
	return IdentifyResult{Record: saved, AccessToken: result.AccessToken, Raw: result.Raw}, nil
}

// storeImage uploads the decoded image to object storage and returns the key,
// or "" when no store is configured or the upload fails.
func (a *App) storeImage(imageBase64, filename string) string {
	if a.objects == nil {
		return ""
	}
	data, err := base64.StdEncoding.DecodeString(imageBase64)
	if err != nil {
		slog.Error("failed to decode identification image", "error", err)
		return ""
	}
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		ext = ".jpg"
	}
	key := "identifications/" + uuid.NewString() + ext
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentTypeForExt(ext)); err != nil {
		slog.Error("failed to store identification image", "key", key, "error", err)
		return ""
	}
	return key
}

func contentTypeForExt(ext string) string {
	switch ext {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "image/jpeg"
	}
}

// GetIdentificationHistory returns stored identifications, newest first.
func (a *App) GetIdentificationHistory(page, pageSize int) (IdentificationPage, error) {
	page = normalizePage(page)
	pageSize = normalizeLimit(pageSize, maxListPageSize)

	items, total, err := a.store.ListIdentifications(pageSize, (page-1)*pageSize)
	if err != nil {
		return IdentificationPage{}, err
	}
	if items == nil {
		items = []domain.Identification{}
	}
	return IdentificationPage{
		Identifications: items,
		Total:           total,
		Page:            page,
		Limit:           pageSize,
		TotalPages:      totalPages(total, pageSize),
	}, nil
}

// UpdateIdentificationStatus changes the status of a stored identification.
func (a *App) UpdateIdentificationStatus(id int64, status string) (domain.Identification, error) {
	rec, ok, err := a.store.SetIdentificationStatus(id, status)
	if err != nil {
		return domain.Identification{}, err
	}
	if !ok {
		return domain.Identification{}, ErrNotFound
	}
	return rec, nil
}
