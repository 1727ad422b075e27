package app

import (
	"errors"
	"log/slog"
	"strings"

	"popoyan/internal/store"
	"popoyan/pkg/domain"
)

// UpsertFromDetails reconciles a provider detail payload into the catalog
// using tiered identity resolution: update by token, update by scientific
// name, insert. Each tier is a single atomic statement; the first one that
// touches a row wins. A tier-3 insert that loses a concurrent race retries
// the update tiers once so the data still lands on the winning row.
func (a *App) UpsertFromDetails(details map[string]any, accessToken string) error {
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return nil
	}
	fields := extractFields(details)

	merged, err := a.mergeTiers(token, fields)
	if err != nil || merged {
		return err
	}
	if err := a.store.InsertPlantFromFields(token, fields); err != nil {
		if !errors.Is(err, store.ErrDuplicate) {
			return err
		}
		// Lost the insert race; merge into whichever row won.
		if merged, err = a.mergeTiers(token, fields); err != nil {
			return err
		}
		if !merged {
			slog.Warn("reconcile: duplicate insert with no mergeable row", "access_token", token)
		}
	}
	return nil
}

func (a *App) mergeTiers(token string, fields domain.PlantFields) (bool, error) {
	if updated, err := a.store.MergePlantByToken(token, fields); err != nil || updated {
		return updated, err
	}
	if fields.ScientificName != nil && *fields.ScientificName != "" {
		return a.store.MergePlantByScientificName(*fields.ScientificName, token, fields)
	}
	return false, nil
}

// extractFields pulls the catalog attributes out of a provider detail
// payload. The payload shape varies between provider versions, so each
// attribute is read through an ordered list of extractors; the first
// non-empty result wins.
func extractFields(details map[string]any) domain.PlantFields {
	var f domain.PlantFields

	sci := firstString(details, "scientific_name", "scientificName", "name")
	f.ScientificName = sci

	if name := firstString(details, "entity_name", "preferred_common_name", "name"); name != nil {
		f.EntityName = name
	} else {
		f.EntityName = sci
	}

	f.CommonNames = firstStringSlice(details, "common_names", "commonNames")
	f.Taxonomy = firstStringMap(details, "taxonomy", "classification")
	f.Description = extractDescription(details)
	if img := extractImageURL(details); img != nil {
		f.Images = []string{*img}
	}
	return f
}

// extractDescription accepts either a plain string or a {value: ...} wrapper.
func extractDescription(details map[string]any) *string {
	extractors := []func() *string{
		func() *string { return nestedString(details, "description", "value") },
		func() *string { return stringAt(details, "description") },
		func() *string { return nestedString(details, "wiki_description", "value") },
		func() *string { return stringAt(details, "summary") },
	}
	for _, extract := range extractors {
		if v := extract(); v != nil {
			return v
		}
	}
	return nil
}

// extractImageURL accepts an object with value/url, a flat URL field, or the
// first element of an image array.
func extractImageURL(details map[string]any) *string {
	extractors := []func() *string{
		func() *string { return nestedString(details, "image", "value") },
		func() *string { return stringAt(details, "image_url") },
		func() *string { return nestedString(details, "image", "url") },
		func() *string {
			arr, ok := details["images"].([]any)
			if !ok || len(arr) == 0 {
				return nil
			}
			s, ok := arr[0].(string)
			if !ok || s == "" {
				return nil
			}
			return &s
		},
		func() *string { return nestedString(details, "picture", "url") },
	}
	for _, extract := range extractors {
		if v := extract(); v != nil {
			return v
		}
	}
	return nil
}

func firstString(m map[string]any, keys ...string) *string {
	for _, key := range keys {
		if v := stringAt(m, key); v != nil {
			return v
		}
	}
	return nil
}

func firstStringSlice(m map[string]any, keys ...string) []string {
	for _, key := range keys {
		arr, ok := m[key].([]any)
		if !ok || len(arr) == 0 {
			continue
		}
		out := make([]string, 0, len(arr))
		for _, item := range arr {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func firstStringMap(m map[string]any, keys ...string) map[string]string {
	for _, key := range keys {
		obj, ok := m[key].(map[string]any)
		if !ok || len(obj) == 0 {
			continue
		}
		out := make(map[string]string, len(obj))
		for k, v := range obj {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func stringAt(m map[string]any, key string) *string {
	s, ok := m[key].(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func nestedString(m map[string]any, key, sub string) *string {
	obj, ok := m[key].(map[string]any)
	if !ok {
		return nil
	}
	return stringAt(obj, sub)
}
