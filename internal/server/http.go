package server

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oobits/snare/internal/db"
	"github.com/oobits/snare/internal/events"
	"github.com/oobits/snare/internal/geo"
	"github.com/oobits/snare/internal/logging"
	"github.com/oobits/snare/internal/models"
	"github.com/oobits/snare/internal/subdomain"
)

// maxCaptureBody bounds how much of a request body is recorded.
const maxCaptureBody = 10 << 20 // 10 MiB

var scriptPathPattern = regexp.MustCompile(`^/script/([A-Za-z0-9_-]+\.[A-Za-z0-9]+)$`)

// CaptureServer accepts HTTP requests for any host under the wildcard
// zone, records them as interactions, and serves ephemeral scripts.
type CaptureServer struct {
	DB        *sql.DB
	Directory *subdomain.Directory
	Bus       events.Bus
	Geo       geo.Locator
	Domain    string
	Logger    *zap.Logger
	Now       func() time.Time
}

// captureAck is the fixed acknowledgement body. It never reflects any
// attacker-supplied input.
type captureAck struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func (s *CaptureServer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *CaptureServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	label := ExtractHostLabel(r.Host, s.Domain)
	if label == "" {
		// Main application surface, nothing to capture.
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
		return
	}

	if m := scriptPathPattern.FindStringSubmatch(r.URL.Path); m != nil && r.Method == http.MethodGet {
		s.serveScript(w, label, m[1])
		return
	}

	sub, err := s.Directory.Resolve(label)
	if err != nil {
		if err == subdomain.ErrNotFound {
			// Unknown, inactive and expired all look the same.
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		s.Logger.Error("resolve subdomain failed", logging.Label(label), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	s.capture(r, sub)

	s.writeAck(w)
}

// capture records the request as an HTTP interaction. Every failure here
// is absorbed: the probing client receives the fixed acknowledgement no
// matter what happened to the log attempt.
func (s *CaptureServer) capture(r *http.Request, sub *models.Subdomain) {
	remoteIP := requestIP(r)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCaptureBody))
	if err != nil {
		s.Logger.Warn("read body failed", logging.Label(sub.Label), zap.Error(err))
		body = nil
	}

	var parsedBody *string
	if trimmed := strings.TrimSpace(string(body)); len(trimmed) > 0 &&
		(trimmed[0] == '{' || trimmed[0] == '[') && json.Valid([]byte(trimmed)) {
		parsedBody = &trimmed
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	headers := make(map[string][]string, len(r.Header))
	for k, v := range r.Header {
		headers[k] = v
	}

	interaction := &models.Interaction{
		SubdomainID: sub.ID,
		OwnerID:     sub.OwnerID,
		Kind:        models.KindHTTP,
		OccurredAt:  s.now().UnixMilli(),
		RemoteIP:    remoteIP,
		Location:    s.Geo.Lookup(remoteIP),
		Summary:     fmt.Sprintf("%s %s", r.Method, r.URL.Path),
		HTTP: &models.HTTPDetail{
			Method:     r.Method,
			Scheme:     scheme,
			Host:       r.Host,
			Path:       r.URL.Path,
			Query:      r.URL.Query(),
			Headers:    headers,
			RawBody:    string(body),
			ParsedBody: parsedBody,
			UserAgent:  r.UserAgent(),
		},
	}

	if _, err := db.CreateInteraction(s.DB, interaction); err != nil {
		s.Logger.Error("create http interaction failed", logging.Label(sub.Label), zap.Error(err))
		return
	}
	if err := s.Directory.Touch(sub.ID); err != nil {
		s.Logger.Warn("touch subdomain failed", logging.SubdomainID(sub.ID), zap.Error(err))
	}

	s.Bus.Publish(sub.OwnerID, events.Event{
		Kind:        models.KindHTTP,
		Label:       sub.Label,
		Interaction: *interaction,
	})

	s.Logger.Debug("http interaction recorded",
		logging.Label(sub.Label), logging.Method(r.Method), logging.Path(r.URL.Path), logging.RemoteIP(remoteIP))
}

// serveScript serves an ephemeral payload file. Expiry is checked lazily
// at read time; an expired script is indistinguishable from a missing one.
func (s *CaptureServer) serveScript(w http.ResponseWriter, label, filename string) {
	sub, err := s.Directory.Resolve(label)
	if err != nil {
		if err == subdomain.ErrNotFound {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		s.Logger.Error("resolve subdomain failed", logging.Label(label), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	script, err := db.GetScript(s.DB, sub.ID, filename)
	if err != nil {
		s.Logger.Error("get script failed", logging.Label(label), logging.Filename(filename), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if script == nil || s.now().UnixMilli() >= script.ExpiresAt {
		http.Error(w, "script not found", http.StatusNotFound)
		return
	}

	if err := db.IncrementScriptAccess(s.DB, script.ID); err != nil {
		s.Logger.Warn("increment script access failed", logging.Filename(filename), zap.Error(err))
	}

	w.Header().Set("Content-Type", script.MimeType)
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, script.Content)
}

func (s *CaptureServer) writeAck(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, captureAck{
		Success:   true,
		Message:   "request captured",
		Timestamp: s.now().UTC().Format(time.RFC3339),
	})
}

// ExtractHostLabel runs the zone suffix extraction against an HTTP Host
// header value, stripping any port first.
func ExtractHostLabel(host, zone string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return ExtractLabel(host, zone)
}

func requestIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
