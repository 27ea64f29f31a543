// Package correlate merges HTTP and DNS interactions into one
// time-ordered, filterable view and renders the export formats.
package correlate

import (
	"sort"
	"strings"

	"github.com/oobits/snare/internal/models"
)

// Caps for the pull views. Per-tenant listings are bounded at
// PerSubdomainLimit records; the owner-wide view takes at most
// PerKindLimit of each kind before merging.
const (
	PerSubdomainLimit = 500
	PerKindLimit      = 200
)

// Filter narrows an owner-wide interaction view. Search applies a
// case-insensitive substring match over variant-dependent fields.
type Filter struct {
	Search string
}

// Apply returns the interactions matching the filter, preserving order.
func Apply(list []models.Interaction, f Filter) []models.Interaction {
	if f.Search == "" {
		return list
	}
	needle := strings.ToLower(f.Search)
	out := make([]models.Interaction, 0, len(list))
	for _, i := range list {
		if matches(i, needle) {
			out = append(out, i)
		}
	}
	return out
}

func matches(i models.Interaction, needle string) bool {
	if contains(i.RemoteIP, needle) {
		return true
	}
	switch i.Kind {
	case models.KindHTTP:
		if i.HTTP == nil {
			return false
		}
		return contains(i.HTTP.Path, needle) ||
			contains(i.HTTP.Method, needle) ||
			contains(i.HTTP.UserAgent, needle)
	case models.KindDNS:
		if i.DNS == nil {
			return false
		}
		return contains(i.DNS.QName, needle) || contains(i.DNS.QType, needle)
	}
	return false
}

func contains(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), needle)
}

// SortDescending orders by capture time, newest first, insertion id as
// tie-break. Used after merging lists fetched separately.
func SortDescending(list []models.Interaction) {
	sort.SliceStable(list, func(a, b int) bool {
		if list[a].OccurredAt != list[b].OccurredAt {
			return list[a].OccurredAt > list[b].OccurredAt
		}
		return list[a].ID > list[b].ID
	})
}

// Details renders the human-readable summary column used by exports.
func Details(i models.Interaction) string {
	switch i.Kind {
	case models.KindHTTP:
		if i.HTTP != nil {
			return i.HTTP.Method + " " + i.HTTP.Path
		}
	case models.KindDNS:
		if i.DNS != nil {
			return i.DNS.QType + " " + i.DNS.QName
		}
	}
	return i.Summary
}

// TypeLabel renders the export discriminant for an interaction.
func TypeLabel(i models.Interaction) string {
	if i.Kind == models.KindDNS {
		return "DNS"
	}
	return "HTTP"
}
