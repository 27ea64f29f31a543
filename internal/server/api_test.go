package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/oobits/snare/internal/api"
	"github.com/oobits/snare/internal/auth"
	"github.com/oobits/snare/internal/db"
	"github.com/oobits/snare/internal/events"
	"github.com/oobits/snare/internal/models"
	"github.com/oobits/snare/internal/subdomain"
)

func setupTestAPIServer(t *testing.T) (*APIServer, string) {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	displayKey, prefix, hash, err := auth.GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate API key: %v", err)
	}
	if _, err := db.CreateAPIKey(database, prefix, hash); err != nil {
		t.Fatalf("create API key: %v", err)
	}

	srv := &APIServer{
		DB:        database,
		Directory: subdomain.NewDirectory(database, 10*time.Minute),
		Hub:       events.NewHub(),
		Domain:    "collab.test",
		ScriptTTL: 5 * time.Minute,
		Logger:    zap.NewNop(),
	}
	return srv, displayKey
}

func doJSON(t *testing.T, srv *APIServer, key, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewBuffer(data)
	} else {
		reader = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+key)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func createTestSubdomain(t *testing.T, srv *APIServer, key, label string) api.SubdomainInfo {
	t.Helper()

	w := doJSON(t, srv, key, "POST", "/v1/subdomains", api.CreateSubdomainRequest{Label: label, TTLMinutes: 60})
	if w.Code != http.StatusCreated {
		t.Fatalf("create subdomain: status %d: %s", w.Code, w.Body.String())
	}
	var info api.SubdomainInfo
	if err := json.NewDecoder(w.Body).Decode(&info); err != nil {
		t.Fatalf("decode subdomain: %v", err)
	}
	return info
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	srv, _ := setupTestAPIServer(t)

	req := httptest.NewRequest("GET", "/v1/subdomains", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}

	var resp map[string]string
	_ = json.NewDecoder(w.Body).Decode(&resp)
	if resp["error"] != "unauthorized" {
		t.Errorf("expected error 'unauthorized', got %q", resp["error"])
	}
}

func TestAuthMiddleware_InvalidKey(t *testing.T) {
	srv, _ := setupTestAPIServer(t)

	req := httptest.NewRequest("GET", "/v1/subdomains", nil)
	req.Header.Set("Authorization", "Bearer invalid_key_format")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
}

func TestAuthMiddleware_WrongSecret(t *testing.T) {
	srv, displayKey := setupTestAPIServer(t)

	prefix, _, _ := auth.ParseAPIKey(displayKey)
	wrongKey := "snare_" + prefix + "_wrongsecret"

	req := httptest.NewRequest("GET", "/v1/subdomains", nil)
	req.Header.Set("Authorization", "Bearer "+wrongKey)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
}

func TestAuthMiddleware_ValidKey(t *testing.T) {
	srv, displayKey := setupTestAPIServer(t)

	w := doJSON(t, srv, displayKey, "GET", "/v1/subdomains", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}

func TestCreateSubdomain_Random(t *testing.T) {
	srv, displayKey := setupTestAPIServer(t)

	w := doJSON(t, srv, displayKey, "POST", "/v1/subdomains", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var info api.SubdomainInfo
	if err := json.NewDecoder(w.Body).Decode(&info); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if info.Label == "" {
		t.Error("expected non-empty label")
	}
	if info.IsCustom {
		t.Error("random subdomain should not be custom")
	}
	if info.Payloads["dns"] != info.Label+".collab.test" {
		t.Errorf("dns payload = %q", info.Payloads["dns"])
	}
	if info.Payloads["http"] != "http://"+info.Label+".collab.test/" {
		t.Errorf("http payload = %q", info.Payloads["http"])
	}
}

func TestCreateSubdomain_Custom(t *testing.T) {
	srv, displayKey := setupTestAPIServer(t)

	info := createTestSubdomain(t, srv, displayKey, "My-Label")
	if info.Label != "my-label" {
		t.Errorf("label = %q, want normalized %q", info.Label, "my-label")
	}
	if !info.IsCustom {
		t.Error("expected custom subdomain")
	}
}

func TestCreateSubdomain_Errors(t *testing.T) {
	srv, displayKey := setupTestAPIServer(t)

	tests := []struct {
		name   string
		body   api.CreateSubdomainRequest
		status int
	}{
		{"invalid label", api.CreateSubdomainRequest{Label: "-bad", TTLMinutes: 30}, http.StatusBadRequest},
		{"ttl too large", api.CreateSubdomainRequest{Label: "goodlabel", TTLMinutes: 10081}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, srv, displayKey, "POST", "/v1/subdomains", tt.body)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
		})
	}

	createTestSubdomain(t, srv, displayKey, "contested12")
	w := doJSON(t, srv, displayKey, "POST", "/v1/subdomains", api.CreateSubdomainRequest{Label: "contested12", TTLMinutes: 30})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate label status = %d, want 409", w.Code)
	}
}

func TestListSubdomains_CountsInteractions(t *testing.T) {
	srv, displayKey := setupTestAPIServer(t)

	info := createTestSubdomain(t, srv, displayKey, "counted1234")
	for i := 0; i < 3; i++ {
		insertTestInteraction(t, srv, info.ID, 1, int64(i))
	}

	w := doJSON(t, srv, displayKey, "GET", "/v1/subdomains", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp api.ListSubdomainsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Subdomains) != 1 {
		t.Fatalf("expected 1 subdomain, got %d", len(resp.Subdomains))
	}
	if resp.Subdomains[0].InteractionCount != 3 {
		t.Errorf("interaction count = %d, want 3", resp.Subdomains[0].InteractionCount)
	}
}

// insertTestInteraction writes an HTTP interaction directly to the store.
func insertTestInteraction(t *testing.T, srv *APIServer, subdomainID, ownerID, offset int64) {
	t.Helper()

	_, err := db.CreateInteraction(srv.DB, &models.Interaction{
		SubdomainID: subdomainID,
		OwnerID:     ownerID,
		Kind:        models.KindHTTP,
		OccurredAt:  time.Now().UnixMilli() + offset,
		RemoteIP:    "198.51.100.7",
		Location:    models.Location{Country: "Testland", City: "Probe City"},
		Summary:     fmt.Sprintf("GET /probe/%d", offset),
		HTTP: &models.HTTPDetail{
			Method:  "GET",
			Scheme:  "http",
			Host:    "test.collab.test",
			Path:    fmt.Sprintf("/probe/%d", offset),
			Query:   map[string][]string{},
			Headers: map[string][]string{},
		},
	})
	if err != nil {
		t.Fatalf("insert interaction: %v", err)
	}
}

func TestGetInteractions_NewestFirst(t *testing.T) {
	srv, displayKey := setupTestAPIServer(t)

	info := createTestSubdomain(t, srv, displayKey, "ordered1234")
	for i := 0; i < 3; i++ {
		insertTestInteraction(t, srv, info.ID, 1, int64(i*1000))
	}

	w := doJSON(t, srv, displayKey, "GET", fmt.Sprintf("/v1/subdomains/%d/interactions", info.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp api.GetInteractionsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Interactions) != 3 {
		t.Fatalf("expected 3 interactions, got %d", len(resp.Interactions))
	}
	if resp.Interactions[0].Summary != "GET /probe/2000" {
		t.Errorf("first = %q, want newest", resp.Interactions[0].Summary)
	}
	if resp.Interactions[2].Summary != "GET /probe/0" {
		t.Errorf("last = %q, want oldest", resp.Interactions[2].Summary)
	}
}

func TestGetInteractions_NotFound(t *testing.T) {
	srv, displayKey := setupTestAPIServer(t)

	w := doJSON(t, srv, displayKey, "GET", "/v1/subdomains/9999/interactions", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestSearchInteractions(t *testing.T) {
	srv, displayKey := setupTestAPIServer(t)

	info := createTestSubdomain(t, srv, displayKey, "searched123")
	insertTestInteraction(t, srv, info.ID, 1, 0)
	insertTestInteraction(t, srv, info.ID, 1, 1000)

	w := doJSON(t, srv, displayKey, "GET", "/v1/interactions?search=probe/1000", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp api.GetInteractionsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Interactions) != 1 {
		t.Fatalf("expected 1 match, got %d", len(resp.Interactions))
	}
	if resp.Interactions[0].Summary != "GET /probe/1000" {
		t.Errorf("match = %q", resp.Interactions[0].Summary)
	}

	w = doJSON(t, srv, displayKey, "GET", "/v1/interactions?type=DNS", nil)
	var dnsResp api.GetInteractionsResponse
	_ = json.NewDecoder(w.Body).Decode(&dnsResp)
	if len(dnsResp.Interactions) != 0 {
		t.Errorf("expected no DNS interactions, got %d", len(dnsResp.Interactions))
	}

	w = doJSON(t, srv, displayKey, "GET", "/v1/interactions?type=SMTP", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad type status = %d, want 400", w.Code)
	}
}

func TestOwnership_CannotSeeOtherOwnersData(t *testing.T) {
	srv, displayKey1 := setupTestAPIServer(t)

	info := createTestSubdomain(t, srv, displayKey1, "ownedbyone1")
	insertTestInteraction(t, srv, info.ID, 1, 0)

	displayKey2, prefix2, hash2, err := auth.GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate second API key: %v", err)
	}
	if _, err := db.CreateAPIKey(srv.DB, prefix2, hash2); err != nil {
		t.Fatalf("create second API key: %v", err)
	}

	w := doJSON(t, srv, displayKey2, "GET", fmt.Sprintf("/v1/subdomains/%d/interactions", info.ID), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("foreign subdomain status = %d, want 404", w.Code)
	}

	w = doJSON(t, srv, displayKey2, "DELETE", fmt.Sprintf("/v1/subdomains/%d", info.ID), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("foreign delete status = %d, want 404", w.Code)
	}

	w = doJSON(t, srv, displayKey2, "GET", "/v1/interactions", nil)
	var resp api.GetInteractionsResponse
	_ = json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Interactions) != 0 {
		t.Errorf("expected no interactions for second owner, got %d", len(resp.Interactions))
	}
}

func TestToggleSubdomain(t *testing.T) {
	srv, displayKey := setupTestAPIServer(t)

	info := createTestSubdomain(t, srv, displayKey, "toggleme123")

	w := doJSON(t, srv, displayKey, "POST", fmt.Sprintf("/v1/subdomains/%d/toggle", info.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var toggled api.SubdomainInfo
	if err := json.NewDecoder(w.Body).Decode(&toggled); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if toggled.IsActive {
		t.Error("expected subdomain to be paused after toggle")
	}

	w = doJSON(t, srv, displayKey, "POST", "/v1/subdomains/9999/toggle", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing id status = %d, want 404", w.Code)
	}
}

func TestDeleteSubdomain_RemovesChildren(t *testing.T) {
	srv, displayKey := setupTestAPIServer(t)

	info := createTestSubdomain(t, srv, displayKey, "cascade1234")
	insertTestInteraction(t, srv, info.ID, 1, 0)

	w := doJSON(t, srv, displayKey, "DELETE", fmt.Sprintf("/v1/subdomains/%d", info.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var count int
	if err := srv.DB.QueryRow("SELECT COUNT(*) FROM interactions").Scan(&count); err != nil {
		t.Fatalf("count interactions: %v", err)
	}
	if count != 0 {
		t.Errorf("expected no interactions after delete, got %d", count)
	}

	w = doJSON(t, srv, displayKey, "GET", fmt.Sprintf("/v1/subdomains/%d/interactions", info.ID), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("post-delete status = %d, want 404", w.Code)
	}
}

func TestClearInteractions(t *testing.T) {
	srv, displayKey := setupTestAPIServer(t)

	info := createTestSubdomain(t, srv, displayKey, "cleared1234")
	insertTestInteraction(t, srv, info.ID, 1, 0)

	w := doJSON(t, srv, displayKey, "DELETE", fmt.Sprintf("/v1/subdomains/%d/interactions", info.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	w = doJSON(t, srv, displayKey, "GET", fmt.Sprintf("/v1/subdomains/%d/interactions", info.ID), nil)
	var resp api.GetInteractionsResponse
	_ = json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Interactions) != 0 {
		t.Errorf("expected no interactions after clear, got %d", len(resp.Interactions))
	}
}

func TestExportInteractions_CSV(t *testing.T) {
	srv, displayKey := setupTestAPIServer(t)

	info := createTestSubdomain(t, srv, displayKey, "exported123")
	insertTestInteraction(t, srv, info.ID, 1, 0)

	w := doJSON(t, srv, displayKey, "GET", fmt.Sprintf("/v1/subdomains/%d/interactions/export?format=csv", info.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("content-type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "exported123-interactions.csv") {
		t.Errorf("content-disposition = %q", cd)
	}
	body := w.Body.String()
	if !strings.HasPrefix(body, "Type,Timestamp,Source IP,Country,City,Details") {
		t.Errorf("csv header = %q", strings.SplitN(body, "\n", 2)[0])
	}
	if !strings.Contains(body, `"HTTP"`) || !strings.Contains(body, `"198.51.100.7"`) {
		t.Errorf("csv body missing fields: %q", body)
	}
}

func TestExportInteractions_BadFormat(t *testing.T) {
	srv, displayKey := setupTestAPIServer(t)

	info := createTestSubdomain(t, srv, displayKey, "exported123")
	w := doJSON(t, srv, displayKey, "GET", fmt.Sprintf("/v1/subdomains/%d/interactions/export?format=pdf", info.ID), nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestScriptLifecycle(t *testing.T) {
	srv, displayKey := setupTestAPIServer(t)

	info := createTestSubdomain(t, srv, displayKey, "scripted123")

	w := doJSON(t, srv, displayKey, "POST", fmt.Sprintf("/v1/subdomains/%d/scripts", info.ID),
		api.CreateScriptRequest{Template: "shell", FileFormat: "bash"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create script status = %d: %s", w.Code, w.Body.String())
	}
	var created api.ScriptInfo
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("decode script: %v", err)
	}
	if !strings.HasSuffix(created.Filename, ".bash") {
		t.Errorf("filename = %q, want .bash suffix", created.Filename)
	}
	if created.URL != "http://scripted123.collab.test/script/"+created.Filename {
		t.Errorf("url = %q", created.URL)
	}

	w = doJSON(t, srv, displayKey, "GET", fmt.Sprintf("/v1/subdomains/%d/scripts", info.ID), nil)
	var list api.ListScriptsResponse
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Scripts) != 1 {
		t.Fatalf("expected 1 script, got %d", len(list.Scripts))
	}

	w = doJSON(t, srv, displayKey, "DELETE", fmt.Sprintf("/v1/scripts/%d", created.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete script status = %d", w.Code)
	}

	w = doJSON(t, srv, displayKey, "DELETE", fmt.Sprintf("/v1/scripts/%d", created.ID), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
}

func TestCreateScript_Custom(t *testing.T) {
	srv, displayKey := setupTestAPIServer(t)

	info := createTestSubdomain(t, srv, displayKey, "scripted123")

	w := doJSON(t, srv, displayKey, "POST", fmt.Sprintf("/v1/subdomains/%d/scripts", info.ID),
		api.CreateScriptRequest{FileFormat: "py", Filename: "probe.py", Content: "print('hi')"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var created api.ScriptInfo
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("decode script: %v", err)
	}
	if created.Filename != "probe.py" || created.Template != "custom" {
		t.Errorf("script = %+v", created)
	}

	w = doJSON(t, srv, displayKey, "POST", fmt.Sprintf("/v1/subdomains/%d/scripts", info.ID),
		api.CreateScriptRequest{FileFormat: "py", Filename: "bad name!.py", Content: "print('hi')"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid filename status = %d, want 400", w.Code)
	}

	w = doJSON(t, srv, displayKey, "POST", fmt.Sprintf("/v1/subdomains/%d/scripts", info.ID),
		api.CreateScriptRequest{FileFormat: "py", Filename: "probe.py", Content: "print('again')"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate filename status = %d, want 409", w.Code)
	}
}

func TestTemplatesCatalog(t *testing.T) {
	srv, displayKey := setupTestAPIServer(t)

	w := doJSON(t, srv, displayKey, "GET", "/v1/templates", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var templates []api.TemplateInfo
	if err := json.NewDecoder(w.Body).Decode(&templates); err != nil {
		t.Fatalf("decode templates: %v", err)
	}

	categories := make(map[string]bool)
	for _, tpl := range templates {
		categories[tpl.Category] = true
	}
	for _, want := range []string{"shell", "cmd", "web", "sql"} {
		if !categories[want] {
			t.Errorf("missing template category %q", want)
		}
	}
}
