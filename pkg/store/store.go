package store

import (
	"context"
	"errors"
	"time"

	"mediawish/pkg/domain"
)

var (
	// ErrNotFound is returned when a conditional write matched no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateUsername is returned when a username already exists in the target class.
	ErrDuplicateUsername = errors.New("username already exists")
	// ErrUnknownOwner is returned when a wish references a missing user.
	ErrUnknownOwner = errors.New("wish owner does not exist")
)

// CredentialStore persists principals of both classes in disjoint namespaces.
type CredentialStore interface {
	CreatePrincipal(ctx context.Context, p domain.Principal) (domain.Principal, error)
	GetPrincipalByUsername(ctx context.Context, class domain.PrincipalClass, username string) (domain.Principal, bool, error)
	CountPrincipals(ctx context.Context, class domain.PrincipalClass) (int64, error)
}

// WishRepository persists wishes. Every read joins the owner's username.
type WishRepository interface {
	InsertWish(ctx context.Context, w domain.Wish) (domain.WishView, error)
	ListWishesByOwner(ctx context.Context, ownerID int64) ([]domain.WishView, error)
	ListAllWishes(ctx context.Context) ([]domain.WishView, error)
	GetWish(ctx context.Context, id int64) (domain.WishView, bool, error)
	// SetWishStatusDone moves an Open wish to Done. Zero matched rows yields ErrNotFound.
	SetWishStatusDone(ctx context.Context, id int64, at time.Time) (domain.WishView, error)
	CountWishesByStatus(ctx context.Context) (domain.WishStats, error)
}

// Store is the full persistence surface used by the wishlist service.
type Store interface {
	CredentialStore
	WishRepository
}
