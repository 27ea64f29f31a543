package db

import (
	"database/sql"

	"github.com/oobits/snare/internal/models"
)

// CreateSubdomain inserts a new subdomain record and returns its ID. A
// UNIQUE violation on label is returned unwrapped so callers can map it
// with IsUniqueViolation.
func CreateSubdomain(d *sql.DB, s *models.Subdomain) (int64, error) {
	result, err := d.Exec(
		`INSERT INTO subdomains (label, owner_id, is_custom, is_active, auto_delete, created_at, last_activity_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Label, s.OwnerID, boolInt(s.IsCustom), boolInt(s.IsActive), boolInt(s.AutoDelete),
		s.CreatedAt, s.LastActivityAt, s.ExpiresAt,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

const subdomainColumns = "id, label, owner_id, is_custom, is_active, auto_delete, created_at, last_activity_at, expires_at"

func scanSubdomain(row *sql.Row) (*models.Subdomain, error) {
	var s models.Subdomain
	var isCustom, isActive, autoDelete int
	err := row.Scan(&s.ID, &s.Label, &s.OwnerID, &isCustom, &isActive, &autoDelete,
		&s.CreatedAt, &s.LastActivityAt, &s.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.IsCustom = isCustom != 0
	s.IsActive = isActive != 0
	s.AutoDelete = autoDelete != 0
	return &s, nil
}

// GetSubdomainByLabel retrieves a subdomain by its label, or nil if absent.
func GetSubdomainByLabel(d *sql.DB, label string) (*models.Subdomain, error) {
	return scanSubdomain(d.QueryRow(
		"SELECT "+subdomainColumns+" FROM subdomains WHERE label = ?", label))
}

// GetSubdomainByID retrieves a subdomain owned by ownerID, or nil.
func GetSubdomainByID(d *sql.DB, id, ownerID int64) (*models.Subdomain, error) {
	return scanSubdomain(d.QueryRow(
		"SELECT "+subdomainColumns+" FROM subdomains WHERE id = ? AND owner_id = ?", id, ownerID))
}

// SubdomainWithCount pairs a subdomain with its interaction count for
// owner-facing listings.
type SubdomainWithCount struct {
	models.Subdomain
	InteractionCount int
}

// ListSubdomainsByOwner returns all subdomains of an owner, newest first,
// with interaction counts.
func ListSubdomainsByOwner(d *sql.DB, ownerID int64) ([]SubdomainWithCount, error) {
	rows, err := d.Query(`
		SELECT s.id, s.label, s.owner_id, s.is_custom, s.is_active, s.auto_delete,
		       s.created_at, s.last_activity_at, s.expires_at, COUNT(i.id)
		FROM subdomains s
		LEFT JOIN interactions i ON i.subdomain_id = s.id
		WHERE s.owner_id = ?
		GROUP BY s.id
		ORDER BY s.created_at DESC, s.id DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SubdomainWithCount
	for rows.Next() {
		var s SubdomainWithCount
		var isCustom, isActive, autoDelete int
		if err := rows.Scan(&s.ID, &s.Label, &s.OwnerID, &isCustom, &isActive, &autoDelete,
			&s.CreatedAt, &s.LastActivityAt, &s.ExpiresAt, &s.InteractionCount); err != nil {
			return nil, err
		}
		s.IsCustom = isCustom != 0
		s.IsActive = isActive != 0
		s.AutoDelete = autoDelete != 0
		out = append(out, s)
	}
	return out, rows.Err()
}

// SetSubdomainActive flips the active flag on a subdomain.
func SetSubdomainActive(d *sql.DB, id int64, active bool) error {
	_, err := d.Exec("UPDATE subdomains SET is_active = ? WHERE id = ?", boolInt(active), id)
	return err
}

// TouchSubdomain records capture activity on a subdomain.
func TouchSubdomain(d *sql.DB, id, now int64) error {
	_, err := d.Exec("UPDATE subdomains SET last_activity_at = ? WHERE id = ?", now, id)
	return err
}

// DeleteSubdomain removes the subdomain record itself. Interactions and
// scripts must be deleted first (children before parent).
func DeleteSubdomain(d *sql.DB, id int64) error {
	_, err := d.Exec("DELETE FROM subdomains WHERE id = ?", id)
	return err
}

// ListExpiredSubdomains returns subdomains whose TTL has elapsed and that
// are flagged for automatic deletion.
func ListExpiredSubdomains(d *sql.DB, now int64) ([]models.Subdomain, error) {
	rows, err := d.Query(
		"SELECT "+subdomainColumns+" FROM subdomains WHERE auto_delete = 1 AND expires_at < ? ORDER BY expires_at ASC", now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Subdomain
	for rows.Next() {
		var s models.Subdomain
		var isCustom, isActive, autoDelete int
		if err := rows.Scan(&s.ID, &s.Label, &s.OwnerID, &isCustom, &isActive, &autoDelete,
			&s.CreatedAt, &s.LastActivityAt, &s.ExpiresAt); err != nil {
			return nil, err
		}
		s.IsCustom = isCustom != 0
		s.IsActive = isActive != 0
		s.AutoDelete = autoDelete != 0
		out = append(out, s)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
