package catalog

import (
	"strings"

	"mediawish/pkg/domain"
)

func normalize(items []multiSearchItem, limit int) []domain.CatalogSummary {
	out := make([]domain.CatalogSummary, 0, min(len(items), limit))
	for _, item := range items {
		if len(out) >= limit {
			break
		}
		var title, date string
		switch domain.CatalogKind(item.MediaType) {
		case domain.KindMovie:
			title, date = item.Title, item.ReleaseDate
		case domain.KindTV:
			title, date = item.Name, item.FirstAirDate
		default:
			continue
		}
		var poster *string
		if item.PosterPath != nil && strings.TrimSpace(*item.PosterPath) != "" {
			p := *item.PosterPath
			poster = &p
		}
		out = append(out, domain.CatalogSummary{
			CatalogID:   item.ID,
			CatalogKind: domain.CatalogKind(item.MediaType),
			Title:       title,
			ReleaseYear: ExtractYear(date),
			PosterRef:   poster,
		})
	}
	return out
}

// ExtractYear returns the leading 4-digit year of a YYYY or YYYY-MM-DD date,
// or nil when the value is missing or malformed.
func ExtractYear(date string) *string {
	date = strings.TrimSpace(date)
	if len(date) < 4 {
		return nil
	}
	for i := 0; i < 4; i++ {
		if date[i] < '0' || date[i] > '9' {
			return nil
		}
	}
	if len(date) > 4 && date[4] != '-' {
		return nil
	}
	year := date[:4]
	return &year
}

// IsYear reports whether s is exactly four ASCII digits.
func IsYear(s string) bool {
	y := ExtractYear(s)
	return y != nil && len(s) == 4
}
