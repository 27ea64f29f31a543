// Package api defines the management API request and response types.
package api

// CreateSubdomainRequest is the request body for issuing a subdomain.
// An empty Label requests a random one; TTLMinutes applies to custom
// labels only (random subdomains use the server default).
type CreateSubdomainRequest struct {
	Label      string `json:"label,omitempty"`
	TTLMinutes int    `json:"ttl_minutes,omitempty"`
}

// SubdomainInfo represents a subdomain with its metadata.
type SubdomainInfo struct {
	ID               int64             `json:"id"`
	Label            string            `json:"label"`
	IsCustom         bool              `json:"is_custom"`
	IsActive         bool              `json:"is_active"`
	AutoDelete       bool              `json:"auto_delete"`
	CreatedAt        string            `json:"created_at"`
	LastActivityAt   string            `json:"last_activity_at"`
	ExpiresAt        string            `json:"expires_at"`
	InteractionCount int               `json:"interaction_count,omitempty"`
	Payloads         map[string]string `json:"payloads,omitempty"`
}

// ListSubdomainsResponse is the response body for listing subdomains.
type ListSubdomainsResponse struct {
	Subdomains []SubdomainInfo `json:"subdomains"`
}

// InteractionResponse represents a single recorded interaction.
type InteractionResponse struct {
	ID          int64                  `json:"id"`
	SubdomainID int64                  `json:"subdomain_id"`
	Kind        string                 `json:"kind"`
	OccurredAt  string                 `json:"occurred_at"`
	RemoteIP    string                 `json:"remote_ip"`
	Country     string                 `json:"country"`
	Region      string                 `json:"region"`
	City        string                 `json:"city"`
	Summary     string                 `json:"summary"`
	HTTP        *HTTPInteractionDetail `json:"http,omitempty"`
	DNS         *DNSInteractionDetail  `json:"dns,omitempty"`
}

// HTTPInteractionDetail contains HTTP-specific interaction details.
type HTTPInteractionDetail struct {
	Method     string              `json:"method"`
	Scheme     string              `json:"scheme"`
	Host       string              `json:"host"`
	Path       string              `json:"path"`
	Query      map[string][]string `json:"query"`
	Headers    map[string][]string `json:"headers"`
	RawBody    string              `json:"raw_body"`
	ParsedBody *string             `json:"parsed_body,omitempty"`
	UserAgent  string              `json:"user_agent"`
}

// DNSInteractionDetail contains DNS-specific interaction details.
type DNSInteractionDetail struct {
	QName  string `json:"qname"`
	QType  string `json:"qtype"`
	Answer string `json:"answer"`
}

// GetInteractionsResponse is the response body for interaction listings.
type GetInteractionsResponse struct {
	Interactions []InteractionResponse `json:"interactions"`
}

// CreateScriptRequest is the request body for creating an ephemeral
// script. Content set means a custom script (Filename required);
// otherwise Template and FileFormat select a catalog entry.
type CreateScriptRequest struct {
	Template   string `json:"template,omitempty"`
	FileFormat string `json:"file_format"`
	Filename   string `json:"filename,omitempty"`
	Content    string `json:"content,omitempty"`
}

// ScriptInfo represents an ephemeral script with its metadata.
type ScriptInfo struct {
	ID          int64  `json:"id"`
	Filename    string `json:"filename"`
	MimeType    string `json:"mime_type"`
	Template    string `json:"template"`
	FileFormat  string `json:"file_format"`
	URL         string `json:"url"`
	CreatedAt   string `json:"created_at"`
	ExpiresAt   string `json:"expires_at"`
	AccessCount int64  `json:"access_count"`
}

// ListScriptsResponse is the response body for listing scripts.
type ListScriptsResponse struct {
	Scripts []ScriptInfo `json:"scripts"`
}

// DeletedResponse is the response body for delete operations.
type DeletedResponse struct {
	Deleted bool `json:"deleted"`
}

// TemplateInfo describes one script template catalog entry.
type TemplateInfo struct {
	Category string   `json:"category"`
	Formats  []string `json:"formats"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
