// Package plantid wraps the Plant.id v3 HTTP API. All failures are
// normalized into (status, message) pairs via APIError.
package plantid

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// MaxSearchLimit is the provider's hard cap on name-search results per call.
const MaxSearchLimit = 20

// detailFields is the detail set requested for plant lookups.
const detailFields = "common_names,url,description,taxonomy,rank,gbif_id,inaturalist_id,image,synonyms,edible_parts,watering,propagation_methods"

// Client calls the plant identification provider over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	language   string
	httpClient *http.Client
}

// APIError carries the provider's HTTP status and message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// NewClient constructs a provider client with a fixed request timeout.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://plant.id/api/v3"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		language:   "es",
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SearchEntity is one name-search hit.
type SearchEntity struct {
	MatchedIn     string `json:"matched_in"`
	MatchedInType string `json:"matched_in_type"`
	AccessToken   string `json:"access_token"`
	MatchPosition *int   `json:"match_position"`
	MatchLength   *int   `json:"match_length"`
	EntityName    string `json:"entity_name"`
}

// SearchResponse is the provider's name-search result. Raw preserves the
// response body for audit storage.
type SearchResponse struct {
	Entities        []SearchEntity  `json:"entities"`
	EntitiesTrimmed bool            `json:"entities_trimmed"`
	Limit           int             `json:"limit"`
	Raw             json.RawMessage `json:"-"`
}

// SearchByName looks up plants by free text. The limit is clamped to the
// provider's per-call cap.
func (c *Client) SearchByName(query string, limit int) (SearchResponse, error) {
	if limit < 1 {
		limit = MaxSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	params := url.Values{}
	params.Set("q", strings.TrimSpace(query))
	params.Set("limit", strconv.Itoa(limit))

	var resp SearchResponse
	raw, err := c.get("/kb/plants/name_search?"+params.Encode(), &resp)
	if err != nil {
		return SearchResponse{}, err
	}
	resp.Raw = raw
	return resp, nil
}

// GetDetails fetches the full detail payload for an access token. The shape
// varies across provider versions, so it stays a generic map for the tolerant
// extractors downstream.
func (c *Client) GetDetails(accessToken string) (map[string]any, error) {
	params := url.Values{}
	params.Set("details", detailFields)
	params.Set("language", c.language)

	var details map[string]any
	if _, err := c.get("/kb/plants/"+url.PathEscape(accessToken)+"?"+params.Encode(), &details); err != nil {
		return nil, err
	}
	return details, nil
}

// IdentifyOptions are optional knobs for an identification submit.
type IdentifyOptions struct {
	Latitude      *float64
	Longitude     *float64
	SimilarImages *bool
}

// IdentificationResult is the provider's identification response; Raw holds
// the full payload for persistence.
type IdentificationResult struct {
	AccessToken string `json:"access_token"`
	Suggestions []struct {
		Probability float64 `json:"probability"`
	} `json:"suggestions"`
	Raw json.RawMessage `json:"-"`
}

// Identify submits a base64 image for identification.
func (c *Client) Identify(imageBase64 string, opts IdentifyOptions) (IdentificationResult, error) {
	similar := true
	if opts.SimilarImages != nil {
		similar = *opts.SimilarImages
	}
	payload := map[string]any{
		"images":         []string{imageBase64},
		"similar_images": similar,
	}
	if opts.Latitude != nil {
		payload["latitude"] = *opts.Latitude
	}
	if opts.Longitude != nil {
		payload["longitude"] = *opts.Longitude
	}

	var result IdentificationResult
	raw, err := c.post("/identification", payload, &result)
	if err != nil {
		return IdentificationResult{}, err
	}
	result.Raw = raw
	return result, nil
}

// UsageInfo is the provider's API-key quota report.
type UsageInfo struct {
	Active        bool `json:"active"`
	CanUseCredits struct {
		Value  *bool   `json:"value"`
		Reason *string `json:"reason"`
	} `json:"can_use_credits"`
	CreditLimits json.RawMessage `json:"credit_limits"`
	Used         json.RawMessage `json:"used"`
	Remaining    json.RawMessage `json:"remaining"`
	Raw          json.RawMessage `json:"-"`
}

// GetUsageInfo fetches credit and key status.
func (c *Client) GetUsageInfo() (UsageInfo, error) {
	var info UsageInfo
	raw, err := c.get("/usage_info", &info)
	if err != nil {
		return UsageInfo{}, err
	}
	info.Raw = raw
	return info, nil
}

// ChatRequest is a conversation turn sent to the provider.
type ChatRequest struct {
	Question    string
	Prompt      string
	Temperature *float64
	AppName     string
	Stream      *bool
}

// ChatTurn is one message in the provider's conversation payload.
type ChatTurn struct {
	Content string `json:"content"`
	Type    string `json:"type"`
	Created string `json:"created"`
}

// ChatResponse is the provider's conversation payload; it returns the full
// thread on every call.
type ChatResponse struct {
	Messages        []ChatTurn      `json:"messages"`
	Identification  json.RawMessage `json:"identification"`
	RemainingCalls  *int            `json:"remaining_calls"`
	ModelParameters json.RawMessage `json:"model_parameters"`
	Raw             json.RawMessage `json:"-"`
}

// AskChat sends a question about an identification.
func (c *Client) AskChat(accessToken string, req ChatRequest) (ChatResponse, error) {
	payload := map[string]any{"question": req.Question}
	if req.Prompt != "" {
		payload["prompt"] = req.Prompt
	}
	if req.Temperature != nil {
		payload["temperature"] = *req.Temperature
	}
	if req.AppName != "" {
		payload["app_name"] = req.AppName
	}
	if req.Stream != nil {
		// The provider names this knob "flow" on the wire.
		payload["flow"] = *req.Stream
	}
	return c.conversation(accessToken, payload)
}

// GetConversationSnapshot asks the provider for the current full thread.
// This consumes a provider credit and is never persisted by callers.
func (c *Client) GetConversationSnapshot(accessToken string) (ChatResponse, error) {
	return c.conversation(accessToken, map[string]any{
		"question":    "Return conversation history only.",
		"app_name":    "HistoryBot",
		"temperature": 0.0,
	})
}

func (c *Client) conversation(accessToken string, payload map[string]any) (ChatResponse, error) {
	var resp ChatResponse
	raw, err := c.post("/identification/"+url.PathEscape(accessToken)+"/conversation", payload, &resp)
	if err != nil {
		return ChatResponse{}, err
	}
	resp.Raw = raw
	return resp, nil
}

func (c *Client) get(path string, out any) (json.RawMessage, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, out)
}

func (c *Client) post(path string, payload any, out any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return c.do(req, out)
}

// do executes the request and returns the raw body. Provider failures come
// back as *APIError with the original status preserved.
func (c *Client) do(req *http.Request, out any) (json.RawMessage, error) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &errResp)
		msg := errResp.Error
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		if msg == "" {
			msg = resp.Status
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return nil, fmt.Errorf("decode provider response: %w", err)
		}
	}
	return json.RawMessage(body), nil
}
