package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"popoyan/internal/plantid"
)

func (s *Server) handleIdentification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.handleIdentify(w, r)
}

// /api/identification/history, /api/identification/conversation,
// /api/identification/{id}/status, /api/identification/{token}/conversation
// and .../conversation/remote
func (s *Server) handleIdentificationSubroutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/identification/")
	parts := strings.SplitN(path, "/", 2)
	head := parts[0]
	rest := ""
	if len(parts) == 2 {
		rest = parts[1]
	}

	switch {
	case head == "":
		notFound(w, "not found")
	case head == "history" && rest == "":
		s.handleIdentificationHistory(w, r)
	case head == "conversation" && rest == "":
		s.handleAllConversations(w, r)
	case rest == "status":
		id, err := strconv.ParseInt(head, 10, 64)
		if err != nil {
			notFound(w, "not found")
			return
		}
		s.handleIdentificationStatus(w, r, id)
	case rest == "conversation":
		s.handleConversation(w, r, head)
	case rest == "conversation/remote":
		s.handleRemoteConversation(w, r, head)
	default:
		notFound(w, "not found")
	}
}

type identifyRequest struct {
	Image         string   `json:"image"`
	Filename      string   `json:"filename"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
	SimilarImages *bool    `json:"similar_images"`
}

// handleIdentify accepts either a multipart form with an image file or a JSON
// body with a base64-encoded image.
func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}

	var req identifyRequest
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form data")
			return
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			writeError(w, http.StatusBadRequest, "image is required (field: image)")
			return
		}
		defer file.Close()
		encoded, err := encodeImageFile(file, header)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Image = encoded
		req.Filename = header.Filename
		req.Latitude = parseFormFloat(r, "latitude")
		req.Longitude = parseFormFloat(r, "longitude")
	} else {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	req.Image = strings.TrimSpace(req.Image)
	if req.Image == "" {
		writeError(w, http.StatusBadRequest, "image is required")
		return
	}
	if _, err := base64.StdEncoding.DecodeString(req.Image); err != nil {
		writeError(w, http.StatusBadRequest, "image must be base64 encoded")
		return
	}

	result, err := s.app.IdentifyPlant(req.Image, req.Filename, plantid.IdentifyOptions{
		Latitude:      req.Latitude,
		Longitude:     req.Longitude,
		SimilarImages: req.SimilarImages,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"identification": result.Record,
		"access_token":   result.AccessToken,
		"result":         json.RawMessage(result.Raw),
	})
}

func encodeImageFile(file multipart.File, header *multipart.FileHeader) (string, error) {
	ct := header.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(ct, "image/") {
		return "", errors.New("uploaded file must be an image")
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func parseFormFloat(r *http.Request, name string) *float64 {
	v := strings.TrimSpace(r.FormValue(name))
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

func (s *Server) handleIdentificationHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	result, err := s.app.GetIdentificationHistory(queryInt(r, "page", 1), queryInt(r, "limit", 0))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleIdentificationStatus(w http.ResponseWriter, r *http.Request, id int64) {
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
	status := strings.TrimSpace(req.Status)
	if status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}
	rec, err := s.app.UpdateIdentificationStatus(id, status)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request, token string) {
	switch r.Method {
	case http.MethodPost:
		s.handleAskQuestion(w, r, token)
	case http.MethodGet:
		messages, err := s.app.GetChatHistory(token)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": token,
			"messages":     messages,
		})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAskQuestion(w http.ResponseWriter, r *http.Request, token string) {
	var req struct {
		Question    string   `json:"question"`
		Prompt      string   `json:"prompt"`
		Temperature *float64 `json:"temperature"`
		AppName     string   `json:"app_name"`
		Stream      *bool    `json:"stream"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	answer, err := s.app.AskChat(token, question, plantid.ChatRequest{
		Prompt:      req.Prompt,
		Temperature: req.Temperature,
		AppName:     req.AppName,
		Stream:      req.Stream,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleRemoteConversation(w http.ResponseWriter, r *http.Request, token string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	snapshot, err := s.app.GetRemoteSnapshot(token)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleAllConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	messages, err := s.app.GetAllChatHistory()
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}
