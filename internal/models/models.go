// Package models defines the database entity types.
package models

// Interaction kinds.
const (
	KindHTTP = "http"
	KindDNS  = "dns"
)

// APIKey represents an owner credential record in the database. Each API
// key is the identity that subdomains, interactions and scripts are
// scoped to.
type APIKey struct {
	ID        int64
	KeyPrefix string
	KeyHash   []byte
	CreatedAt int64
	RevokedAt *int64
}

// Subdomain represents an ephemeral wildcard subdomain issued for one
// test session. Label is unique across all subdomains, including expired
// ones that the sweeper has not removed yet.
type Subdomain struct {
	ID             int64
	Label          string
	OwnerID        int64
	IsCustom       bool
	IsActive       bool
	AutoDelete     bool
	CreatedAt      int64
	LastActivityAt int64
	ExpiresAt      int64
}

// Location holds coarse geolocation data for a source IP.
type Location struct {
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
}

// Interaction is a captured out-of-band event. Kind selects which of the
// HTTP and DNS detail pointers is populated; the other is nil.
// OccurredAt is unix milliseconds, ties broken by insertion id.
type Interaction struct {
	ID          int64       `json:"id"`
	SubdomainID int64       `json:"subdomain_id"`
	OwnerID     int64       `json:"-"`
	Kind        string      `json:"kind"`
	OccurredAt  int64       `json:"occurred_at"`
	RemoteIP    string      `json:"remote_ip"`
	Location    Location    `json:"geolocation"`
	Summary     string      `json:"summary"`
	HTTP        *HTTPDetail `json:"http,omitempty"`
	DNS         *DNSDetail  `json:"dns,omitempty"`
}

// HTTPDetail contains HTTP-specific interaction fields. Headers and
// Query are stored as JSON text in the database and decoded on read.
// ParsedBody is nil unless the raw body was valid JSON.
type HTTPDetail struct {
	Method     string              `json:"method"`
	Scheme     string              `json:"scheme"`
	Host       string              `json:"host"`
	Path       string              `json:"path"`
	Query      map[string][]string `json:"query"`
	Headers    map[string][]string `json:"headers"`
	RawBody    string              `json:"raw_body"`
	ParsedBody *string             `json:"parsed_body"`
	UserAgent  string              `json:"user_agent"`
}

// DNSDetail contains DNS-specific interaction fields. QType is the
// textual record type ("A", "TXT", ... or "UNKNOWN(n)"); Answer is the
// synthetic answer data returned to the client, empty for NODATA.
type DNSDetail struct {
	QName  string `json:"qname"`
	QType  string `json:"qtype"`
	Answer string `json:"answer"`
}

// Script is a short-lived payload file served under a subdomain's
// hostname.
type Script struct {
	ID          int64
	SubdomainID int64
	OwnerID     int64
	Filename    string
	Content     string
	MimeType    string
	Template    string
	FileFormat  string
	CreatedAt   int64
	ExpiresAt   int64
	AccessCount int64
}
