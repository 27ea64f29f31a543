package db

import (
	"database/sql"

	"github.com/oobits/snare/internal/models"
)

// CreateScript inserts an ephemeral script record and returns its ID.
// A UNIQUE violation on (subdomain, filename) is returned unwrapped.
func CreateScript(d *sql.DB, s *models.Script) (int64, error) {
	result, err := d.Exec(
		`INSERT INTO scripts (subdomain_id, owner_id, filename, content, mime_type, template, file_format, created_at, expires_at, access_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		s.SubdomainID, s.OwnerID, s.Filename, s.Content, s.MimeType, s.Template, s.FileFormat,
		s.CreatedAt, s.ExpiresAt,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

const scriptColumns = "id, subdomain_id, owner_id, filename, content, mime_type, template, file_format, created_at, expires_at, access_count"

// GetScript retrieves a script by (subdomain, filename) regardless of
// expiry, or nil if absent. The serve path applies its own lazy expiry
// check on top.
func GetScript(d *sql.DB, subdomainID int64, filename string) (*models.Script, error) {
	row := d.QueryRow(
		"SELECT "+scriptColumns+" FROM scripts WHERE subdomain_id = ? AND filename = ?",
		subdomainID, filename,
	)
	var s models.Script
	err := row.Scan(&s.ID, &s.SubdomainID, &s.OwnerID, &s.Filename, &s.Content, &s.MimeType,
		&s.Template, &s.FileFormat, &s.CreatedAt, &s.ExpiresAt, &s.AccessCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListScriptsBySubdomain returns a subdomain's unexpired scripts, newest
// first.
func ListScriptsBySubdomain(d *sql.DB, subdomainID, now int64) ([]models.Script, error) {
	rows, err := d.Query(
		"SELECT "+scriptColumns+" FROM scripts WHERE subdomain_id = ? AND expires_at > ? ORDER BY created_at DESC, id DESC",
		subdomainID, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Script
	for rows.Next() {
		var s models.Script
		if err := rows.Scan(&s.ID, &s.SubdomainID, &s.OwnerID, &s.Filename, &s.Content, &s.MimeType,
			&s.Template, &s.FileFormat, &s.CreatedAt, &s.ExpiresAt, &s.AccessCount); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// IncrementScriptAccess bumps the access counter after a successful serve.
func IncrementScriptAccess(d *sql.DB, id int64) error {
	_, err := d.Exec("UPDATE scripts SET access_count = access_count + 1 WHERE id = ?", id)
	return err
}

// DeleteScript removes a script owned by ownerID and reports whether a
// row was deleted.
func DeleteScript(d *sql.DB, id, ownerID int64) (bool, error) {
	result, err := d.Exec("DELETE FROM scripts WHERE id = ? AND owner_id = ?", id, ownerID)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// DeleteScriptsBySubdomain removes all scripts of a subdomain.
func DeleteScriptsBySubdomain(d *sql.DB, subdomainID int64) error {
	_, err := d.Exec("DELETE FROM scripts WHERE subdomain_id = ?", subdomainID)
	return err
}

// DeleteExpiredScripts removes every expired script regardless of its
// subdomain's state and returns the number deleted.
func DeleteExpiredScripts(d *sql.DB, now int64) (int64, error) {
	result, err := d.Exec("DELETE FROM scripts WHERE expires_at < ?", now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
