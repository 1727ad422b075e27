package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"popoyan/pkg/domain"
)

func (s *Server) handlePlants(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListPlants(w, r)
	case http.MethodPost:
		s.handleCreatePlant(w, r)
	default:
		methodNotAllowed(w)
	}
}

// /api/plants/search, /api/plants/history, /api/plants/families,
// /api/plants/usage/info, /api/plants/details/{token},
// /api/plants/details-by-name/{name}, /api/plants/{id},
// /api/plants/{id}/status
func (s *Server) handlePlantSubroutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/plants/")
	parts := strings.SplitN(path, "/", 2)
	head := parts[0]
	rest := ""
	if len(parts) == 2 {
		rest = parts[1]
	}

	switch head {
	case "":
		notFound(w, "not found")
	case "search":
		s.handleSearch(w, r)
	case "history":
		s.handleSearchHistory(w, r)
	case "families":
		s.handleFamilies(w, r)
	case "usage":
		if rest != "info" {
			notFound(w, "not found")
			return
		}
		s.handleUsageInfo(w, r)
	case "details":
		if rest == "" {
			notFound(w, "not found")
			return
		}
		s.handleDetails(w, r, rest)
	case "details-by-name":
		if rest == "" {
			notFound(w, "not found")
			return
		}
		s.handleDetailsByName(w, r, rest)
	default:
		id, err := strconv.ParseInt(head, 10, 64)
		if err != nil {
			notFound(w, "not found")
			return
		}
		switch rest {
		case "":
			s.handlePlantByID(w, r, id)
		case "status":
			s.handlePlantStatus(w, r, id)
		default:
			notFound(w, "not found")
		}
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	result, err := s.app.SearchPlants(query, queryInt(r, "page", 1), queryInt(r, "limit", 0))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListPlants(w http.ResponseWriter, r *http.Request) {
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	if status != "" && status != string(domain.StatusActive) && status != string(domain.StatusInactive) {
		writeError(w, http.StatusBadRequest, "status must be active or inactive")
		return
	}
	result, err := s.app.GetAllPlants(queryInt(r, "page", 1), queryInt(r, "limit", 0), status)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSearchHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	result, err := s.app.GetSearchHistory(queryInt(r, "page", 1), queryInt(r, "limit", 0))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleFamilies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	result, err := s.app.GetFamilies(queryInt(r, "page", 1), queryInt(r, "limit", 0))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUsageInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	usage, err := s.app.GetUsageInfo()
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"active":        usage.Active,
			"can_use":       usage.CanUseCredits.Value,
			"reason":        usage.CanUseCredits.Reason,
			"credit_limits": usage.CreditLimits,
			"used":          usage.Used,
			"remaining":     usage.Remaining,
		},
		"raw": json.RawMessage(usage.Raw),
	})
}

func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request, token string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	details, err := s.app.GetAndCacheDetails(token)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) handleDetailsByName(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	result, err := s.app.GetAndCacheDetailsByName(name)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePlantByID(w http.ResponseWriter, r *http.Request, id int64) {
	switch r.Method {
	case http.MethodGet:
		plant, err := s.app.GetPlantByID(id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, plant)
	case http.MethodPut:
		s.handleUpdatePlant(w, r, id)
	default:
		methodNotAllowed(w)
	}
}

type plantPayload struct {
	EntityName     *string           `json:"entity_name"`
	ScientificName *string           `json:"scientific_name"`
	CommonNames    stringList        `json:"common_names"`
	Taxonomy       map[string]string `json:"taxonomy"`
	Description    *string           `json:"description"`
	Images         stringList        `json:"images"`
	AccessToken    *string           `json:"access_token"`
}

// stringList decodes either a JSON array of strings or a single
// comma-separated string.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*l = arr
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	*l = out
	return nil
}

func (s *Server) handleCreatePlant(w http.ResponseWriter, r *http.Request) {
	var req plantPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.EntityName == nil || strings.TrimSpace(*req.EntityName) == "" {
		writeError(w, http.StatusBadRequest, "entity_name is required")
		return
	}
	plant := domain.Plant{
		EntityName:     strings.TrimSpace(*req.EntityName),
		ScientificName: req.ScientificName,
		CommonNames:    []string(req.CommonNames),
		Taxonomy:       req.Taxonomy,
		Description:    req.Description,
		Images:         []string(req.Images),
		AccessToken:    req.AccessToken,
	}
	created, err := s.app.CreatePlant(plant)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdatePlant(w http.ResponseWriter, r *http.Request, id int64) {
	var req plantPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	update := domain.PlantUpdate{
		EntityName:     req.EntityName,
		ScientificName: req.ScientificName,
		CommonNames:    []string(req.CommonNames),
		Taxonomy:       req.Taxonomy,
		Description:    req.Description,
		Images:         []string(req.Images),
		AccessToken:    req.AccessToken,
	}
	plant, err := s.app.UpdatePlant(id, update)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plant)
}

func (s *Server) handlePlantStatus(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	status := domain.PlantStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if status != domain.StatusActive && status != domain.StatusInactive {
		writeError(w, http.StatusBadRequest, "status must be active or inactive")
		return
	}
	plant, err := s.app.ChangeStatus(id, status)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plant)
}
