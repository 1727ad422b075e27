package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"popoyan/internal/app"
	"popoyan/internal/plantid"
	"popoyan/internal/store"
	"popoyan/pkg/domain"
)

type stubProvider struct {
	searchResp plantid.SearchResponse
	identify   plantid.IdentificationResult
	chatResp   plantid.ChatResponse
}

func (p *stubProvider) SearchByName(string, int) (plantid.SearchResponse, error) {
	return p.searchResp, nil
}

func (p *stubProvider) GetDetails(string) (map[string]any, error) {
	return map[string]any{"name": "Stubus"}, nil
}

func (p *stubProvider) Identify(string, plantid.IdentifyOptions) (plantid.IdentificationResult, error) {
	return p.identify, nil
}

func (p *stubProvider) GetUsageInfo() (plantid.UsageInfo, error) {
	return plantid.UsageInfo{Active: true}, nil
}

func (p *stubProvider) AskChat(string, plantid.ChatRequest) (plantid.ChatResponse, error) {
	return p.chatResp, nil
}

func (p *stubProvider) GetConversationSnapshot(string) (plantid.ChatResponse, error) {
	return p.chatResp, nil
}

func newTestServer(t *testing.T, limiter Limiter) (*Server, *store.MemoryStore) {
	t.Helper()
	memStore := store.NewMemoryStore()
	appCore, err := app.New(app.Config{Store: memStore, Provider: &stubProvider{}})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv, err := New(Config{App: appCore, Limiter: limiter, LimiterWindow: time.Minute})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv, memStore
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doRequest(t, srv, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doRequest(t, srv, http.MethodGet, "/api/plants/search", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Message == "" || resp.Error == "" {
		t.Fatalf("error body = %s", rec.Body.String())
	}
}

func TestCreatePlantRequiresEntityName(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doRequest(t, srv, http.MethodPost, "/api/plants", `{"scientific_name":"Nullus"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateAndGetPlant(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doRequest(t, srv, http.MethodPost, "/api/plants", `{"entity_name":"Rose","scientific_name":"Rosa rubiginosa"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created domain.Plant
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/plants/1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	// Duplicate scientific name maps to 409.
	rec = doRequest(t, srv, http.MethodPost, "/api/plants", `{"entity_name":"Other","scientific_name":"Rosa rubiginosa"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", rec.Code)
	}
}

func TestGetPlantNotFound(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doRequest(t, srv, http.MethodGet, "/api/plants/99", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestStatusValidation(t *testing.T) {
	srv, memStore := newTestServer(t, nil)
	if _, err := memStore.CreatePlant(domain.Plant{EntityName: "Sage"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := doRequest(t, srv, http.MethodPatch, "/api/plants/1/status", `{"status":"archived"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown status", rec.Code)
	}
	rec = doRequest(t, srv, http.MethodPatch, "/api/plants/1/status", `{"status":"inactive"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUpdatePlantNoFields(t *testing.T) {
	srv, memStore := newTestServer(t, nil)
	if _, err := memStore.CreatePlant(domain.Plant{EntityName: "Mint"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	rec := doRequest(t, srv, http.MethodPut, "/api/plants/1", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for empty update", rec.Code)
	}
}

func TestDetailsByNameUsesSnakeCaseKeys(t *testing.T) {
	srv, memStore := newTestServer(t, nil)
	token := "tok-stub"
	if _, err := memStore.CreatePlant(domain.Plant{EntityName: "Stubus", AccessToken: &token}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	rec := doRequest(t, srv, http.MethodGet, "/api/plants/details-by-name/Stubus", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var got map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := got["details"]; !ok {
		t.Fatalf("body missing details key: %s", rec.Body.String())
	}
	if _, ok := got["access_token"]; !ok {
		t.Fatalf("body missing access_token key: %s", rec.Body.String())
	}
}

func TestUpdatePlantAcceptsCommaSeparatedLists(t *testing.T) {
	srv, memStore := newTestServer(t, nil)
	if _, err := memStore.CreatePlant(domain.Plant{EntityName: "Mint"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	rec := doRequest(t, srv, http.MethodPut, "/api/plants/1", `{"common_names":"menta, hierbabuena , "}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var got domain.Plant
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []string{"menta", "hierbabuena"}
	if len(got.CommonNames) != len(want) || got.CommonNames[0] != want[0] || got.CommonNames[1] != want[1] {
		t.Fatalf("common_names = %v, want %v", got.CommonNames, want)
	}
}

func TestIdentifyRejectsNonBase64(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doRequest(t, srv, http.MethodPost, "/api/identification", `{"image":"not base64!!"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestIdentifyJSONBody(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	img := base64.StdEncoding.EncodeToString([]byte("img"))
	rec := doRequest(t, srv, http.MethodPost, "/api/identification", `{"image":"`+img+`","filename":"leaf.jpg"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestConversationRoutes(t *testing.T) {
	srv, memStore := newTestServer(t, nil)
	err := memStore.AppendChatMessages("tok-1", []domain.ChatMessage{
		{Content: "Q", Type: domain.MessageQuestion},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/identification/tok-1/conversation", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Messages []domain.ChatMessage `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(resp.Messages))
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/identification/tok-1/conversation", `{"question":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for empty question", rec.Code)
	}
}

type denyLimiter struct{}

func (denyLimiter) Allow(string) bool { return false }

func TestRateLimitMiddleware(t *testing.T) {
	srv, _ := newTestServer(t, denyLimiter{})

	rec := doRequest(t, srv, http.MethodGet, "/api/plants", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("Retry-After = %q, want 60", rec.Header().Get("Retry-After"))
	}

	// Health stays reachable.
	rec = doRequest(t, srv, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
}
