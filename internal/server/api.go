package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/oobits/snare/internal/api"
	"github.com/oobits/snare/internal/auth"
	"github.com/oobits/snare/internal/correlate"
	"github.com/oobits/snare/internal/db"
	"github.com/oobits/snare/internal/events"
	"github.com/oobits/snare/internal/logging"
	"github.com/oobits/snare/internal/models"
	"github.com/oobits/snare/internal/script"
	"github.com/oobits/snare/internal/subdomain"
)

type contextKey string

const ownerIDContextKey contextKey = "ownerID"

func getOwnerID(r *http.Request) int64 {
	if id, ok := r.Context().Value(ownerIDContextKey).(int64); ok {
		return id
	}
	return 0
}

// APIServer handles the owner-facing management API. Every route is
// scoped to the authenticated owner; every write carries that owner id.
type APIServer struct {
	DB        *sql.DB
	Directory *subdomain.Directory
	Hub       *events.Hub
	Domain    string
	ScriptTTL time.Duration
	Logger    *zap.Logger
	Now       func() time.Time
}

func (s *APIServer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// AuthMiddleware validates API key authentication for all routes.
func (s *APIServer) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeJSON(w, http.StatusUnauthorized, api.ErrorResponse{Error: "unauthorized"})
			return
		}

		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		prefix, _, err := auth.ParseAPIKey(apiKey)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, api.ErrorResponse{Error: "unauthorized"})
			return
		}

		storedKey, err := db.GetAPIKeyByPrefix(s.DB, prefix)
		if err != nil || storedKey == nil || storedKey.RevokedAt != nil {
			writeJSON(w, http.StatusUnauthorized, api.ErrorResponse{Error: "unauthorized"})
			return
		}

		if !auth.VerifyAPIKey(apiKey, storedKey.KeyHash) {
			writeJSON(w, http.StatusUnauthorized, api.ErrorResponse{Error: "unauthorized"})
			return
		}

		ctx := context.WithValue(r.Context(), ownerIDContextKey, storedKey.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Handler returns the HTTP handler for the management API.
func (s *APIServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.AuthMiddleware)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/subdomains", s.handleListSubdomains)
		r.Post("/subdomains", s.handleCreateSubdomain)
		r.Post("/subdomains/{id}/toggle", s.handleToggleSubdomain)
		r.Delete("/subdomains/{id}", s.handleDeleteSubdomain)

		r.Get("/subdomains/{id}/interactions", s.handleSubdomainInteractions)
		r.Delete("/subdomains/{id}/interactions", s.handleClearInteractions)
		r.Get("/subdomains/{id}/interactions/export", s.handleExportInteractions)
		r.Get("/interactions", s.handleOwnerInteractions)

		r.Get("/subdomains/{id}/scripts", s.handleListScripts)
		r.Post("/subdomains/{id}/scripts", s.handleCreateScript)
		r.Delete("/scripts/{id}", s.handleDeleteScript)
		r.Get("/templates", s.handleTemplates)

		r.Get("/events", s.handleEvents)
	})

	return r
}

func (s *APIServer) handleListSubdomains(w http.ResponseWriter, r *http.Request) {
	ownerID := getOwnerID(r)
	subs, err := db.ListSubdomainsByOwner(s.DB, ownerID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "database error"})
		return
	}

	resp := api.ListSubdomainsResponse{Subdomains: make([]api.SubdomainInfo, 0, len(subs))}
	for _, sub := range subs {
		info := s.subdomainInfo(&sub.Subdomain)
		info.InteractionCount = sub.InteractionCount
		resp.Subdomains = append(resp.Subdomains, info)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) handleCreateSubdomain(w http.ResponseWriter, r *http.Request) {
	var req api.CreateSubdomainRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "invalid JSON"})
		return
	}

	ownerID := getOwnerID(r)

	var sub *models.Subdomain
	var err error
	if req.Label == "" {
		sub, err = s.Directory.CreateRandom(ownerID)
	} else {
		ttl := req.TTLMinutes
		if ttl == 0 {
			ttl = 10
		}
		sub, err = s.Directory.CreateCustom(ownerID, req.Label, ttl)
	}

	switch {
	case err == nil:
	case errors.Is(err, subdomain.ErrInvalidLabel):
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "invalid subdomain label format"})
		return
	case errors.Is(err, subdomain.ErrInvalidTTL):
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "ttl must be between 1 and 10080 minutes"})
		return
	case errors.Is(err, subdomain.ErrLabelTaken):
		writeJSON(w, http.StatusConflict, api.ErrorResponse{Error: "subdomain already taken"})
		return
	case errors.Is(err, subdomain.ErrCollision):
		writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "failed to generate unique subdomain"})
		return
	default:
		s.Logger.Error("create subdomain failed", logging.Owner(ownerID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "database error"})
		return
	}

	writeJSON(w, http.StatusCreated, s.subdomainInfo(sub))
}

func (s *APIServer) handleToggleSubdomain(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	sub, err := s.Directory.Toggle(id, getOwnerID(r))
	if errors.Is(err, subdomain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: "subdomain not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "database error"})
		return
	}
	writeJSON(w, http.StatusOK, s.subdomainInfo(sub))
}

func (s *APIServer) handleDeleteSubdomain(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	err := s.Directory.Delete(id, getOwnerID(r))
	if errors.Is(err, subdomain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: "subdomain not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "database error"})
		return
	}
	writeJSON(w, http.StatusOK, api.DeletedResponse{Deleted: true})
}

func (s *APIServer) handleSubdomainInteractions(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.ownedSubdomain(w, r)
	if !ok {
		return
	}

	list, err := db.ListInteractionsBySubdomain(s.DB, sub.ID, db.InteractionQuery{Limit: correlate.PerSubdomainLimit})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "database error"})
		return
	}
	writeJSON(w, http.StatusOK, interactionsResponse(list))
}

func (s *APIServer) handleOwnerInteractions(w http.ResponseWriter, r *http.Request) {
	q := db.InteractionQuery{Limit: correlate.PerKindLimit}

	var kinds []string
	switch strings.ToUpper(r.URL.Query().Get("type")) {
	case "":
		kinds = []string{models.KindHTTP, models.KindDNS}
	case "HTTP":
		kinds = []string{models.KindHTTP}
	case "DNS":
		kinds = []string{models.KindDNS}
	default:
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "type must be HTTP or DNS"})
		return
	}

	var err error
	if q.Start, err = parseTimeParam(r.URL.Query().Get("start"), false); err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "invalid start date"})
		return
	}
	if q.End, err = parseTimeParam(r.URL.Query().Get("end"), true); err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "invalid end date"})
		return
	}

	// Each kind is capped independently so a chatty protocol cannot
	// crowd the other out of the merged view.
	ownerID := getOwnerID(r)
	var list []models.Interaction
	for _, kind := range kinds {
		q.Kind = kind
		part, err := db.ListInteractionsByOwner(s.DB, ownerID, q)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "database error"})
			return
		}
		list = append(list, part...)
	}
	correlate.SortDescending(list)

	list = correlate.Apply(list, correlate.Filter{Search: r.URL.Query().Get("search")})
	writeJSON(w, http.StatusOK, interactionsResponse(list))
}

func (s *APIServer) handleClearInteractions(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.ownedSubdomain(w, r)
	if !ok {
		return
	}
	if err := db.DeleteInteractionsBySubdomain(s.DB, sub.ID); err != nil {
		writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "database error"})
		return
	}
	writeJSON(w, http.StatusOK, api.DeletedResponse{Deleted: true})
}

func (s *APIServer) handleExportInteractions(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.ownedSubdomain(w, r)
	if !ok {
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = correlate.FormatJSON
	}

	var contentType string
	switch format {
	case correlate.FormatJSON:
		contentType = "application/json"
	case correlate.FormatCSV:
		contentType = "text/csv"
	case correlate.FormatXLSX:
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "format must be json, csv or xlsx"})
		return
	}

	list, err := db.ListInteractionsBySubdomain(s.DB, sub.ID, db.InteractionQuery{Ascending: true})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "database error"})
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", sub.Label+"-interactions."+format))
	if err := correlate.Export(w, list, format); err != nil {
		s.Logger.Error("export failed", logging.SubdomainID(sub.ID), zap.Error(err))
	}
}

func (s *APIServer) handleListScripts(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.ownedSubdomain(w, r)
	if !ok {
		return
	}
	scripts, err := db.ListScriptsBySubdomain(s.DB, sub.ID, s.now().UnixMilli())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "database error"})
		return
	}

	resp := api.ListScriptsResponse{Scripts: make([]api.ScriptInfo, 0, len(scripts))}
	for _, sc := range scripts {
		resp.Scripts = append(resp.Scripts, s.scriptInfo(sub.Label, &sc))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) handleCreateScript(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.ownedSubdomain(w, r)
	if !ok {
		return
	}

	var req api.CreateScriptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "invalid JSON"})
		return
	}
	if req.FileFormat == "" {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "file_format is required"})
		return
	}

	now := s.now()
	sc := &models.Script{
		SubdomainID: sub.ID,
		OwnerID:     sub.OwnerID,
		MimeType:    script.MimeType(req.FileFormat),
		FileFormat:  req.FileFormat,
		CreatedAt:   now.UnixMilli(),
		ExpiresAt:   now.Add(s.ScriptTTL).UnixMilli(),
	}

	if req.Content != "" {
		if !script.ValidFilename(req.Filename) {
			writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "invalid filename format"})
			return
		}
		sc.Filename = req.Filename
		sc.Content = req.Content
		sc.Template = "custom"
	} else {
		callbackURL := fmt.Sprintf("http://%s.%s/", sub.Label, s.Domain)
		content, err := script.Render(req.Template, req.FileFormat, callbackURL)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "invalid template or file format"})
			return
		}
		filename, err := script.RandomFilename(req.FileFormat)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "failed to generate filename"})
			return
		}
		sc.Filename = filename
		sc.Content = content
		sc.Template = req.Template
	}

	id, err := db.CreateScript(s.DB, sc)
	if err != nil {
		if db.IsUniqueViolation(err) {
			writeJSON(w, http.StatusConflict, api.ErrorResponse{Error: "filename already in use"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "database error"})
		return
	}
	sc.ID = id

	writeJSON(w, http.StatusCreated, s.scriptInfo(sub.Label, sc))
}

func (s *APIServer) handleDeleteScript(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	deleted, err := db.DeleteScript(s.DB, id, getOwnerID(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "database error"})
		return
	}
	if !deleted {
		writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: "script not found"})
		return
	}
	writeJSON(w, http.StatusOK, api.DeletedResponse{Deleted: true})
}

func (s *APIServer) handleTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, script.Catalog())
}

// handleEvents streams captured interactions for the authenticated owner
// as server-sent events. The stream is a refresh hint, not a record of
// truth: clients reconcile through the pull endpoints.
func (s *APIServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.Hub == nil {
		writeJSON(w, http.StatusNotImplemented, api.ErrorResponse{Error: "events not available"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "streaming unsupported"})
		return
	}

	ownerID := getOwnerID(r)
	sessionID, ch := s.Hub.Subscribe(ownerID)
	defer s.Hub.Unsubscribe(ownerID, sessionID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// ownedSubdomain loads the {id} path subdomain scoped to the caller, or
// writes the error response and returns false.
func (s *APIServer) ownedSubdomain(w http.ResponseWriter, r *http.Request) (*models.Subdomain, bool) {
	id, ok := pathID(w, r)
	if !ok {
		return nil, false
	}
	sub, err := db.GetSubdomainByID(s.DB, id, getOwnerID(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "database error"})
		return nil, false
	}
	if sub == nil {
		writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: "subdomain not found"})
		return nil, false
	}
	return sub, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "invalid id"})
		return 0, false
	}
	return id, true
}

func (s *APIServer) subdomainInfo(sub *models.Subdomain) api.SubdomainInfo {
	return api.SubdomainInfo{
		ID:             sub.ID,
		Label:          sub.Label,
		IsCustom:       sub.IsCustom,
		IsActive:       sub.IsActive,
		AutoDelete:     sub.AutoDelete,
		CreatedAt:      formatMilli(sub.CreatedAt),
		LastActivityAt: formatMilli(sub.LastActivityAt),
		ExpiresAt:      formatMilli(sub.ExpiresAt),
		Payloads: map[string]string{
			"dns":  fmt.Sprintf("%s.%s", sub.Label, s.Domain),
			"http": fmt.Sprintf("http://%s.%s/", sub.Label, s.Domain),
		},
	}
}

func (s *APIServer) scriptInfo(label string, sc *models.Script) api.ScriptInfo {
	return api.ScriptInfo{
		ID:          sc.ID,
		Filename:    sc.Filename,
		MimeType:    sc.MimeType,
		Template:    sc.Template,
		FileFormat:  sc.FileFormat,
		URL:         fmt.Sprintf("http://%s.%s/script/%s", label, s.Domain, sc.Filename),
		CreatedAt:   formatMilli(sc.CreatedAt),
		ExpiresAt:   formatMilli(sc.ExpiresAt),
		AccessCount: sc.AccessCount,
	}
}

func interactionsResponse(list []models.Interaction) api.GetInteractionsResponse {
	resp := api.GetInteractionsResponse{Interactions: make([]api.InteractionResponse, 0, len(list))}
	for _, i := range list {
		ir := api.InteractionResponse{
			ID:          i.ID,
			SubdomainID: i.SubdomainID,
			Kind:        i.Kind,
			OccurredAt:  formatMilli(i.OccurredAt),
			RemoteIP:    i.RemoteIP,
			Country:     i.Location.Country,
			Region:      i.Location.Region,
			City:        i.Location.City,
			Summary:     i.Summary,
		}
		if i.HTTP != nil {
			ir.HTTP = &api.HTTPInteractionDetail{
				Method:     i.HTTP.Method,
				Scheme:     i.HTTP.Scheme,
				Host:       i.HTTP.Host,
				Path:       i.HTTP.Path,
				Query:      i.HTTP.Query,
				Headers:    i.HTTP.Headers,
				RawBody:    i.HTTP.RawBody,
				ParsedBody: i.HTTP.ParsedBody,
				UserAgent:  i.HTTP.UserAgent,
			}
		}
		if i.DNS != nil {
			ir.DNS = &api.DNSInteractionDetail{
				QName:  i.DNS.QName,
				QType:  i.DNS.QType,
				Answer: i.DNS.Answer,
			}
		}
		resp.Interactions = append(resp.Interactions, ir)
	}
	return resp
}

func formatMilli(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// parseTimeParam accepts RFC3339 or date-only bounds; date-only end
// bounds cover the whole day (inclusive range).
func parseTimeParam(v string, endOfDay bool) (int64, error) {
	if v == "" {
		return 0, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UnixMilli(), nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return 0, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Millisecond)
	}
	return t.UnixMilli(), nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}
