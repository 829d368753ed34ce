package domain

import "time"

// Role tags a principal class inside session tokens.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// PrincipalClass selects which credential namespace an operation targets.
// Users and admins live in disjoint tables, so "bob" may exist in both.
type PrincipalClass string

const (
	ClassUser  PrincipalClass = "user"
	ClassAdmin PrincipalClass = "admin"
)

// Role returns the token role issued for principals of this class.
func (c PrincipalClass) Role() Role {
	if c == ClassAdmin {
		return RoleAdmin
	}
	return RoleUser
}

// Principal is an account in either namespace.
type Principal struct {
	ID           int64          `json:"id"`
	Username     string         `json:"username"`
	PasswordHash string         `json:"-"`
	Class        PrincipalClass `json:"-"`
	CreatedAt    time.Time      `json:"-"`
}

// CatalogKind is the TMDb media type of a wish.
type CatalogKind string

const (
	KindMovie CatalogKind = "movie"
	KindTV    CatalogKind = "tv"
)

// Valid reports whether k is a supported media type.
func (k CatalogKind) Valid() bool {
	return k == KindMovie || k == KindTV
}

// WishStatus uses the wire values the frontend renders.
type WishStatus string

const (
	StatusOpen WishStatus = "Offen"
	StatusDone WishStatus = "Erledigt"
)

// Wish is a persisted request owned by a regular user.
type Wish struct {
	ID             int64       `json:"id"`
	OwnerID        int64       `json:"user_id"`
	CatalogID      int64       `json:"tmdb_id"`
	CatalogKind    CatalogKind `json:"tmdb_type"`
	Title          string      `json:"original_title"`
	ReleaseYear    *string     `json:"release_year"`
	PosterRef      *string     `json:"poster_path"`
	SeasonSelector *string     `json:"season_number"`
	Status         WishStatus  `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// WishView is a wish joined with its owner's username.
type WishView struct {
	Wish
	OwnerName string `json:"benutzer_bezeichner"`
}

// WishStats is a point-in-time count of wishes by status.
type WishStats struct {
	Total int64 `json:"total_wishes"`
	Open  int64 `json:"open_wishes"`
	Done  int64 `json:"done_wishes"`
}

// CatalogSummary is one normalized search hit from the media catalog.
type CatalogSummary struct {
	CatalogID   int64       `json:"tmdb_id"`
	CatalogKind CatalogKind `json:"tmdb_type"`
	Title       string      `json:"original_title"`
	ReleaseYear *string     `json:"release_year"`
	PosterRef   *string     `json:"poster_path"`
}
