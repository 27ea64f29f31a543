// Package subdomain owns the tenant directory: label generation and
// validation, creation, resolution and lifecycle of wildcard subdomains.
package subdomain

import (
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/idna"

	"github.com/oobits/snare/internal/db"
	"github.com/oobits/snare/internal/models"
)

const (
	labelLength = 10
	maxAttempts = 10

	// TTL bounds for custom subdomains, in minutes (1 minute to 7 days).
	minTTLMinutes = 1
	maxTTLMinutes = 10080
)

var (
	ErrInvalidLabel = errors.New("invalid subdomain label format")
	ErrInvalidTTL   = errors.New("ttl out of range")
	ErrLabelTaken   = errors.New("subdomain label already taken")
	ErrCollision    = errors.New("failed to generate unique subdomain label")
	ErrNotFound     = errors.New("subdomain not found")
)

var (
	labelCharset = []byte("abcdefghijklmnopqrstuvwxyz0123456789")
	labelLetters = []byte("abcdefghijklmnopqrstuvwxyz")
)

// Generate returns a random lowercase label. The first character is
// always a letter so generated labels satisfy the custom-label grammar.
func Generate() (string, error) {
	randomBytes := make([]byte, labelLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", err
	}
	b := make([]byte, labelLength)
	b[0] = labelLetters[int(randomBytes[0])%len(labelLetters)]
	for i := 1; i < labelLength; i++ {
		b[i] = labelCharset[int(randomBytes[i])%len(labelCharset)]
	}
	return string(b), nil
}

// Normalize lowercases a candidate label and runs it through the UTS46
// mapping for case and width folding. Non-ASCII input maps to its
// punycode form, which Validate then rejects (the grammar has no xn--
// carve-out): internationalized labels normalize to a uniform rejection
// rather than a registration.
func Normalize(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	if ascii, err := idna.Lookup.ToASCII(label); err == nil {
		return ascii
	}
	return label
}

// Validate checks a label against the subdomain grammar: 3-63 characters,
// leading lowercase letter, charset [a-z0-9.-], no leading/trailing/
// consecutive dot or hyphen, and every dot-separated segment starting and
// ending alphanumeric.
func Validate(label string) bool {
	if len(label) < 3 || len(label) > 63 {
		return false
	}
	if label[0] < 'a' || label[0] > 'z' {
		return false
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		if !isLabelChar(c) {
			return false
		}
	}
	if strings.HasPrefix(label, ".") || strings.HasSuffix(label, ".") || strings.Contains(label, "..") {
		return false
	}
	if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") || strings.Contains(label, "--") {
		return false
	}
	for _, segment := range strings.Split(label, ".") {
		if len(segment) == 0 || len(segment) > 63 {
			return false
		}
		if !isAlphanumeric(segment[0]) || !isAlphanumeric(segment[len(segment)-1]) {
			return false
		}
	}
	return true
}

func isLabelChar(c byte) bool {
	return isAlphanumeric(c) || c == '.' || c == '-'
}

func isAlphanumeric(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

// Directory is the tenant directory service over the database.
type Directory struct {
	DB         *sql.DB
	DefaultTTL time.Duration

	// Now and generate are injection points for tests.
	Now      func() time.Time
	generate func() (string, error)
}

// NewDirectory creates a Directory with the given default TTL for random
// subdomains.
func NewDirectory(d *sql.DB, defaultTTL time.Duration) *Directory {
	return &Directory{
		DB:         d,
		DefaultTTL: defaultTTL,
		Now:        time.Now,
		generate:   Generate,
	}
}

// CreateRandom issues a random subdomain for ownerID, retrying a bounded
// number of times on collision. The insert's uniqueness constraint is the
// collision check; there is no racy pre-read.
func (dir *Directory) CreateRandom(ownerID int64) (*models.Subdomain, error) {
	now := dir.Now()
	for attempt := 0; attempt < maxAttempts; attempt++ {
		label, err := dir.generate()
		if err != nil {
			return nil, fmt.Errorf("generate label: %w", err)
		}
		s := &models.Subdomain{
			Label:          label,
			OwnerID:        ownerID,
			IsCustom:       false,
			IsActive:       true,
			AutoDelete:     true,
			CreatedAt:      now.UnixMilli(),
			LastActivityAt: now.UnixMilli(),
			ExpiresAt:      now.Add(dir.DefaultTTL).UnixMilli(),
		}
		id, err := db.CreateSubdomain(dir.DB, s)
		if err != nil {
			if db.IsUniqueViolation(err) {
				continue
			}
			return nil, err
		}
		s.ID = id
		return s, nil
	}
	return nil, ErrCollision
}

// CreateCustom issues a caller-chosen subdomain for ownerID with a TTL in
// minutes. Uniqueness races are settled by the store's constraint and
// surface as ErrLabelTaken.
func (dir *Directory) CreateCustom(ownerID int64, label string, ttlMinutes int) (*models.Subdomain, error) {
	label = Normalize(label)
	if !Validate(label) {
		return nil, ErrInvalidLabel
	}
	if ttlMinutes < minTTLMinutes || ttlMinutes > maxTTLMinutes {
		return nil, ErrInvalidTTL
	}

	now := dir.Now()
	s := &models.Subdomain{
		Label:          label,
		OwnerID:        ownerID,
		IsCustom:       true,
		IsActive:       true,
		AutoDelete:     true,
		CreatedAt:      now.UnixMilli(),
		LastActivityAt: now.UnixMilli(),
		ExpiresAt:      now.Add(time.Duration(ttlMinutes) * time.Minute).UnixMilli(),
	}
	id, err := db.CreateSubdomain(dir.DB, s)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrLabelTaken
		}
		return nil, err
	}
	s.ID = id
	return s, nil
}

// Resolve returns the subdomain for a captured label only if it is active
// and unexpired. Unknown, inactive and expired labels are all reported as
// ErrNotFound so probing clients cannot tell them apart.
func (dir *Directory) Resolve(label string) (*models.Subdomain, error) {
	s, err := db.GetSubdomainByLabel(dir.DB, strings.ToLower(label))
	if err != nil {
		return nil, err
	}
	if s == nil || !s.IsActive || dir.Now().UnixMilli() >= s.ExpiresAt {
		return nil, ErrNotFound
	}
	return s, nil
}

// Toggle flips the active flag on an owner's subdomain and returns the
// updated record.
func (dir *Directory) Toggle(id, ownerID int64) (*models.Subdomain, error) {
	s, err := db.GetSubdomainByID(dir.DB, id, ownerID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNotFound
	}
	if err := db.SetSubdomainActive(dir.DB, id, !s.IsActive); err != nil {
		return nil, err
	}
	s.IsActive = !s.IsActive
	return s, nil
}

// Delete removes an owner's subdomain, cascading to its interactions and
// scripts first so no child row ever points at a missing parent.
func (dir *Directory) Delete(id, ownerID int64) error {
	s, err := db.GetSubdomainByID(dir.DB, id, ownerID)
	if err != nil {
		return err
	}
	if s == nil {
		return ErrNotFound
	}
	if err := db.DeleteInteractionsBySubdomain(dir.DB, id); err != nil {
		return err
	}
	if err := db.DeleteScriptsBySubdomain(dir.DB, id); err != nil {
		return err
	}
	return db.DeleteSubdomain(dir.DB, id)
}

// Touch records capture activity on a subdomain.
func (dir *Directory) Touch(id int64) error {
	return db.TouchSubdomain(dir.DB, id, dir.Now().UnixMilli())
}
