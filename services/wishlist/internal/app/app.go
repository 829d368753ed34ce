package app

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"mediawish/internal/clock"
	"mediawish/internal/metrics"
	"mediawish/internal/util"
	"mediawish/pkg/auth"
	"mediawish/pkg/catalog"
	"mediawish/pkg/domain"
	"mediawish/pkg/session"
	"mediawish/pkg/store"
)

const (
	maxUsernameLength = 64
	maxTitleLength    = 500
	maxPosterLength   = 256
	maxSeasonLength   = 64
)

// Catalog looks up media in the external catalog.
type Catalog interface {
	Search(ctx context.Context, query string) ([]domain.CatalogSummary, error)
}

// Config holds the collaborators of the core application.
type Config struct {
	Store    store.Store
	Sessions *session.Manager
	Catalog  Catalog
	Clock    clock.Clock
}

// App implements the wishlist use cases on top of storage, tokens and the catalog.
type App struct {
	store    store.Store
	sessions *session.Manager
	catalog  Catalog
	clock    clock.Clock
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session manager required")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("catalog required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	return &App{
		store:    cfg.Store,
		sessions: cfg.Sessions,
		catalog:  cfg.Catalog,
		clock:    cfg.Clock,
	}, nil
}

// Login checks credentials inside one namespace and issues a token for its role.
func (a *App) Login(ctx context.Context, class domain.PrincipalClass, username, password string) (domain.Principal, string, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		auth.BurnCompare(password)
		return domain.Principal{}, "", ErrInvalidCredentials
	}
	principal, ok, err := a.store.GetPrincipalByUsername(ctx, class, username)
	if err != nil {
		return domain.Principal{}, "", fmt.Errorf("fetch principal: %w", err)
	}
	if !ok {
		auth.BurnCompare(password)
		return domain.Principal{}, "", ErrInvalidCredentials
	}
	if !auth.CheckPassword(password, principal.PasswordHash) {
		return domain.Principal{}, "", ErrInvalidCredentials
	}
	token, err := a.sessions.Issue(principal, class.Role())
	if err != nil {
		return domain.Principal{}, "", fmt.Errorf("issue token: %w", err)
	}
	return principal, token, nil
}

// CreateUser registers a regular user. Only admins reach this.
func (a *App) CreateUser(ctx context.Context, username, password string) (domain.Principal, error) {
	return a.createPrincipal(ctx, domain.ClassUser, username, password)
}

// CreateAdmin registers an administrator. Only admins reach this.
func (a *App) CreateAdmin(ctx context.Context, username, password string) (domain.Principal, error) {
	return a.createPrincipal(ctx, domain.ClassAdmin, username, password)
}

func (a *App) createPrincipal(ctx context.Context, class domain.PrincipalClass, username, password string) (domain.Principal, error) {
	username = strings.TrimSpace(username)
	verr := &ValidationError{}
	switch {
	case username == "":
		verr.add("username", "username is required")
	case utf8.RuneCountInString(username) > maxUsernameLength:
		verr.add("username", fmt.Sprintf("username must be at most %d characters", maxUsernameLength))
	}
	if password == "" {
		verr.add("password", "password is required")
	} else if err := auth.ValidatePassword(password); err != nil {
		var policyErr *auth.PolicyError
		if !errors.As(err, &policyErr) {
			return domain.Principal{}, err
		}
		for _, v := range policyErr.Violations {
			verr.add("password", v)
		}
	}
	if err := verr.orNil(); err != nil {
		return domain.Principal{}, err
	}
	return a.storePrincipal(ctx, class, username, password)
}

func (a *App) storePrincipal(ctx context.Context, class domain.PrincipalClass, username, password string) (domain.Principal, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.Principal{}, err
	}
	created, err := a.store.CreatePrincipal(ctx, domain.Principal{
		Username:     username,
		PasswordHash: hash,
		Class:        class,
		CreatedAt:    a.clock.Now(),
	})
	if errors.Is(err, store.ErrDuplicateUsername) {
		return domain.Principal{}, fmt.Errorf("%w: %s", ErrUsernameTaken, username)
	}
	if err != nil {
		return domain.Principal{}, fmt.Errorf("create %s: %w", class, err)
	}
	return created, nil
}

// SeedDefaultAdmin creates the bootstrap administrator when no admin exists yet.
// The password policy is not applied here.
func (a *App) SeedDefaultAdmin(ctx context.Context, username, password string) (bool, error) {
	logger := util.LoggerFromContext(ctx)
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return false, errors.New("default admin username and password required")
	}
	count, err := a.store.CountPrincipals(ctx, domain.ClassAdmin)
	if err != nil {
		return false, fmt.Errorf("count admins: %w", err)
	}
	if count > 0 {
		logger.Info("default admin seed skipped", "admins", count)
		return false, nil
	}
	if password == "admin" {
		logger.Warn("default admin uses the well-known password, change it", "username", username)
	}
	if _, err := a.storePrincipal(ctx, domain.ClassAdmin, username, password); err != nil {
		// Another replica seeded concurrently.
		if errors.Is(err, ErrUsernameTaken) {
			return false, nil
		}
		return false, err
	}
	logger.Info("default admin created", "username", username)
	return true, nil
}

// Submit validates and stores a new Open wish for owner.
func (a *App) Submit(ctx context.Context, owner domain.Principal, in SubmitInput) (domain.WishView, error) {
	wish, err := a.validateSubmit(ctx, in)
	if err != nil {
		return domain.WishView{}, err
	}
	now := a.clock.Now()
	wish.OwnerID = owner.ID
	wish.Status = domain.StatusOpen
	wish.CreatedAt = now
	wish.UpdatedAt = now
	view, err := a.store.InsertWish(ctx, wish)
	if err != nil {
		return domain.WishView{}, fmt.Errorf("insert wish: %w", err)
	}
	return view, nil
}

func (a *App) validateSubmit(ctx context.Context, in SubmitInput) (domain.Wish, error) {
	verr := &ValidationError{}
	if in.CatalogID <= 0 {
		verr.add("tmdb_id", "tmdb_id must be a positive integer")
	}
	kind := domain.CatalogKind(strings.TrimSpace(in.CatalogKind))
	if !kind.Valid() {
		verr.add("tmdb_type", "tmdb_type must be movie or tv")
	}
	title := strings.TrimSpace(in.Title)
	switch {
	case title == "":
		verr.add("original_title", "original_title is required")
	case utf8.RuneCountInString(title) > maxTitleLength:
		verr.add("original_title", fmt.Sprintf("original_title must be at most %d characters", maxTitleLength))
	}
	year := optionalTrimmed(in.ReleaseYear)
	if year != nil && !catalog.IsYear(*year) {
		verr.add("release_year", "release_year must be a 4-digit year or null")
	}
	poster := optionalTrimmed(in.PosterRef)
	if poster != nil && utf8.RuneCountInString(*poster) > maxPosterLength {
		verr.add("poster_path", fmt.Sprintf("poster_path must be at most %d characters", maxPosterLength))
	}

	var season *string
	switch kind {
	case domain.KindTV:
		if !in.SeasonSelector.Set {
			verr.add("season_number", "season_number is required for tv")
			break
		}
		if in.SeasonSelector.Valid {
			s := strings.TrimSpace(in.SeasonSelector.Value)
			if utf8.RuneCountInString(s) > maxSeasonLength {
				verr.add("season_number", fmt.Sprintf("season_number must be at most %d characters", maxSeasonLength))
			} else if s != "" {
				season = &s
			}
		}
	case domain.KindMovie:
		if in.SeasonSelector.Valid && strings.TrimSpace(in.SeasonSelector.Value) != "" {
			util.LoggerFromContext(ctx).Warn("season_number ignored for movie",
				"tmdb_id", in.CatalogID,
				"season_number", in.SeasonSelector.Value,
			)
		}
	}
	if err := verr.orNil(); err != nil {
		return domain.Wish{}, err
	}
	return domain.Wish{
		CatalogID:      in.CatalogID,
		CatalogKind:    kind,
		Title:          html.EscapeString(title),
		ReleaseYear:    year,
		PosterRef:      escapeOptional(poster),
		SeasonSelector: escapeOptional(season),
	}, nil
}

// ListMine returns only the caller's wishes.
func (a *App) ListMine(ctx context.Context, owner domain.Principal) ([]domain.WishView, error) {
	wishes, err := a.store.ListWishesByOwner(ctx, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("list wishes of %d: %w", owner.ID, err)
	}
	return wishes, nil
}

// ListAll returns every wish with its owner label.
func (a *App) ListAll(ctx context.Context) ([]domain.WishView, error) {
	wishes, err := a.store.ListAllWishes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list wishes: %w", err)
	}
	return wishes, nil
}

// MarkDone moves an Open wish to Done. Done is terminal.
func (a *App) MarkDone(ctx context.Context, wishID int64, target string) (domain.WishView, error) {
	if domain.WishStatus(strings.TrimSpace(target)) != domain.StatusDone {
		return domain.WishView{}, fieldError("status", fmt.Sprintf("status must be %q", domain.StatusDone))
	}
	if wishID <= 0 {
		return domain.WishView{}, ErrWishNotFound
	}
	current, ok, err := a.store.GetWish(ctx, wishID)
	if err != nil {
		return domain.WishView{}, fmt.Errorf("load wish %d: %w", wishID, err)
	}
	if !ok {
		return domain.WishView{}, ErrWishNotFound
	}
	if current.Status == domain.StatusDone {
		return domain.WishView{}, ErrWishAlreadyDone
	}
	updated, err := a.store.SetWishStatusDone(ctx, wishID, a.clock.Now())
	if errors.Is(err, store.ErrNotFound) {
		// Lost the race against another admin.
		return domain.WishView{}, ErrWishAlreadyDone
	}
	if err != nil {
		return domain.WishView{}, fmt.Errorf("update wish %d: %w", wishID, err)
	}
	return updated, nil
}

// Stats returns wish counts by status from one snapshot.
func (a *App) Stats(ctx context.Context) (domain.WishStats, error) {
	stats, err := a.store.CountWishesByStatus(ctx)
	if err != nil {
		return domain.WishStats{}, fmt.Errorf("count wishes: %w", err)
	}
	return stats, nil
}

// Search proxies a catalog lookup. Upstream details stay in the server log.
func (a *App) Search(ctx context.Context, query string) ([]domain.CatalogSummary, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fieldError("query", "query is required")
	}
	results, err := a.catalog.Search(ctx, query)
	if err != nil {
		metrics.CatalogRequests.WithLabelValues("error").Inc()
		if errors.Is(err, catalog.ErrEmptyQuery) {
			return nil, fieldError("query", "query is required")
		}
		logger := util.LoggerFromContext(ctx)
		var upstream *catalog.UpstreamError
		if errors.As(err, &upstream) {
			logger.Error("catalog search failed", "status", upstream.Status, "body", upstream.Body)
		} else {
			logger.Error("catalog search failed", "err", err)
		}
		return nil, fmt.Errorf("catalog search: %w", err)
	}
	metrics.CatalogRequests.WithLabelValues("ok").Inc()
	if results == nil {
		results = []domain.CatalogSummary{}
	}
	return results, nil
}

func optionalTrimmed(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}

func escapeOptional(v *string) *string {
	if v == nil {
		return nil
	}
	s := html.EscapeString(*v)
	return &s
}
