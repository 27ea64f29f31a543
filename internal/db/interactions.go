package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/oobits/snare/internal/models"
)

// CreateInteraction inserts a new interaction with its kind-specific
// detail row in one transaction and returns the interaction ID.
func CreateInteraction(d *sql.DB, i *models.Interaction) (int64, error) {
	tx, err := d.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`INSERT INTO interactions (subdomain_id, owner_id, kind, occurred_at, remote_ip, country, region, city, summary)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.SubdomainID, i.OwnerID, i.Kind, i.OccurredAt, i.RemoteIP,
		i.Location.Country, i.Location.Region, i.Location.City, i.Summary,
	)
	if err != nil {
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	switch i.Kind {
	case models.KindHTTP:
		if i.HTTP == nil {
			return 0, fmt.Errorf("http interaction without detail")
		}
		queryJSON, err := json.Marshal(i.HTTP.Query)
		if err != nil {
			return 0, err
		}
		headersJSON, err := json.Marshal(i.HTTP.Headers)
		if err != nil {
			return 0, err
		}
		_, err = tx.Exec(
			`INSERT INTO http_interactions (interaction_id, method, scheme, host, path, query, headers, raw_body, parsed_body, user_agent)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, i.HTTP.Method, i.HTTP.Scheme, i.HTTP.Host, i.HTTP.Path,
			string(queryJSON), string(headersJSON), i.HTTP.RawBody, i.HTTP.ParsedBody, i.HTTP.UserAgent,
		)
		if err != nil {
			return 0, err
		}
	case models.KindDNS:
		if i.DNS == nil {
			return 0, fmt.Errorf("dns interaction without detail")
		}
		_, err = tx.Exec(
			"INSERT INTO dns_interactions (interaction_id, qname, qtype, answer) VALUES (?, ?, ?, ?)",
			id, i.DNS.QName, i.DNS.QType, i.DNS.Answer,
		)
		if err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("unknown interaction kind %q", i.Kind)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	i.ID = id
	return id, nil
}

// InteractionQuery narrows interaction listings. Zero values leave the
// corresponding dimension unbounded; Kind is "http", "dns" or "" (both).
type InteractionQuery struct {
	Kind      string
	Start     int64 // inclusive, unix milliseconds
	End       int64 // inclusive, unix milliseconds
	Ascending bool
	Limit     int
}

const interactionSelect = `
	SELECT i.id, i.subdomain_id, i.owner_id, i.kind, i.occurred_at, i.remote_ip,
	       i.country, i.region, i.city, i.summary,
	       h.method, h.scheme, h.host, h.path, h.query, h.headers, h.raw_body, h.parsed_body, h.user_agent,
	       n.qname, n.qtype, n.answer
	FROM interactions i
	LEFT JOIN http_interactions h ON h.interaction_id = i.id
	LEFT JOIN dns_interactions n ON n.interaction_id = i.id`

// ListInteractionsBySubdomain returns the HTTP+DNS union for one
// subdomain, ordered by capture time.
func ListInteractionsBySubdomain(d *sql.DB, subdomainID int64, q InteractionQuery) ([]models.Interaction, error) {
	where, args := buildWhere("i.subdomain_id = ?", []any{subdomainID}, q)
	return queryInteractions(d, where, args, q)
}

// ListInteractionsByOwner returns the HTTP+DNS union across all of an
// owner's subdomains, ordered by capture time.
func ListInteractionsByOwner(d *sql.DB, ownerID int64, q InteractionQuery) ([]models.Interaction, error) {
	where, args := buildWhere("i.owner_id = ?", []any{ownerID}, q)
	return queryInteractions(d, where, args, q)
}

func buildWhere(base string, args []any, q InteractionQuery) (string, []any) {
	where := base
	if q.Kind != "" {
		where += " AND i.kind = ?"
		args = append(args, q.Kind)
	}
	if q.Start != 0 {
		where += " AND i.occurred_at >= ?"
		args = append(args, q.Start)
	}
	if q.End != 0 {
		where += " AND i.occurred_at <= ?"
		args = append(args, q.End)
	}
	return where, args
}

func queryInteractions(d *sql.DB, where string, args []any, q InteractionQuery) ([]models.Interaction, error) {
	order := " ORDER BY i.occurred_at DESC, i.id DESC"
	if q.Ascending {
		order = " ORDER BY i.occurred_at ASC, i.id ASC"
	}
	stmt := interactionSelect + " WHERE " + where + order
	if q.Limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := d.Query(stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Interaction
	for rows.Next() {
		var i models.Interaction
		var method, scheme, host, path, query, headers, rawBody, userAgent sql.NullString
		var parsedBody sql.NullString
		var qname, qtype, answer sql.NullString
		err := rows.Scan(&i.ID, &i.SubdomainID, &i.OwnerID, &i.Kind, &i.OccurredAt, &i.RemoteIP,
			&i.Location.Country, &i.Location.Region, &i.Location.City, &i.Summary,
			&method, &scheme, &host, &path, &query, &headers, &rawBody, &parsedBody, &userAgent,
			&qname, &qtype, &answer)
		if err != nil {
			return nil, err
		}

		switch i.Kind {
		case models.KindHTTP:
			detail := &models.HTTPDetail{
				Method:    method.String,
				Scheme:    scheme.String,
				Host:      host.String,
				Path:      path.String,
				RawBody:   rawBody.String,
				UserAgent: userAgent.String,
			}
			if parsedBody.Valid {
				detail.ParsedBody = &parsedBody.String
			}
			// Stored as JSON; a decode failure leaves the map empty.
			_ = json.Unmarshal([]byte(query.String), &detail.Query)
			_ = json.Unmarshal([]byte(headers.String), &detail.Headers)
			i.HTTP = detail
		case models.KindDNS:
			i.DNS = &models.DNSDetail{
				QName:  qname.String,
				QType:  qtype.String,
				Answer: answer.String,
			}
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// DeleteInteractionsBySubdomain removes all interactions of a subdomain,
// detail rows first.
func DeleteInteractionsBySubdomain(d *sql.DB, subdomainID int64) error {
	tx, err := d.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"DELETE FROM http_interactions WHERE interaction_id IN (SELECT id FROM interactions WHERE subdomain_id = ?)",
		subdomainID); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"DELETE FROM dns_interactions WHERE interaction_id IN (SELECT id FROM interactions WHERE subdomain_id = ?)",
		subdomainID); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM interactions WHERE subdomain_id = ?", subdomainID); err != nil {
		return err
	}
	return tx.Commit()
}
