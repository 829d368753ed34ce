package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"mediawish/pkg/domain"
)

const migrateLockID int64 = 51720431

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("database dsn required")
	}
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &AdminModel{}, &WishModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// NewGormStoreFromDB wraps an already opened handle without migrating.
func NewGormStoreFromDB(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreatePrincipal inserts a user or admin depending on p.Class.
func (s *GormStore) CreatePrincipal(ctx context.Context, p domain.Principal) (domain.Principal, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	var err error
	switch p.Class {
	case domain.ClassAdmin:
		model := AdminModel{Username: p.Username, PasswordHash: p.PasswordHash, CreatedAt: p.CreatedAt}
		err = s.db.WithContext(ctx).Create(&model).Error
		p.ID = model.ID
	case domain.ClassUser:
		model := UserModel{Username: p.Username, PasswordHash: p.PasswordHash, CreatedAt: p.CreatedAt}
		err = s.db.WithContext(ctx).Create(&model).Error
		p.ID = model.ID
	default:
		return domain.Principal{}, fmt.Errorf("unknown principal class %q", p.Class)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.Principal{}, ErrDuplicateUsername
		}
		return domain.Principal{}, fmt.Errorf("insert %s: %w", p.Class, err)
	}
	return p, nil
}

// GetPrincipalByUsername looks up an account inside one namespace.
func (s *GormStore) GetPrincipalByUsername(ctx context.Context, class domain.PrincipalClass, username string) (domain.Principal, bool, error) {
	var err error
	var p domain.Principal
	switch class {
	case domain.ClassAdmin:
		var model AdminModel
		err = s.db.WithContext(ctx).Where("username = ?", username).First(&model).Error
		p = domain.Principal{ID: model.ID, Username: model.Username, PasswordHash: model.PasswordHash, CreatedAt: model.CreatedAt}
	case domain.ClassUser:
		var model UserModel
		err = s.db.WithContext(ctx).Where("username = ?", username).First(&model).Error
		p = domain.Principal{ID: model.ID, Username: model.Username, PasswordHash: model.PasswordHash, CreatedAt: model.CreatedAt}
	default:
		return domain.Principal{}, false, fmt.Errorf("unknown principal class %q", class)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Principal{}, false, nil
		}
		return domain.Principal{}, false, err
	}
	p.Class = class
	return p, true, nil
}

// CountPrincipals returns the number of accounts in one namespace.
func (s *GormStore) CountPrincipals(ctx context.Context, class domain.PrincipalClass) (int64, error) {
	var model any
	switch class {
	case domain.ClassAdmin:
		model = &AdminModel{}
	case domain.ClassUser:
		model = &UserModel{}
	default:
		return 0, fmt.Errorf("unknown principal class %q", class)
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(model).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// InsertWish stores a new wish and returns it joined with the owner name.
func (s *GormStore) InsertWish(ctx context.Context, w domain.Wish) (domain.WishView, error) {
	model := wishToModel(w)
	if err := s.db.WithContext(ctx).Omit("Owner").Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrForeignKeyViolated) {
			return domain.WishView{}, ErrUnknownOwner
		}
		return domain.WishView{}, fmt.Errorf("insert wish: %w", err)
	}
	view, ok, err := s.GetWish(ctx, model.ID)
	if err != nil {
		return domain.WishView{}, fmt.Errorf("reload wish: %w", err)
	}
	if !ok {
		return domain.WishView{}, fmt.Errorf("reload wish %d: %w", model.ID, ErrNotFound)
	}
	return view, nil
}

// ListWishesByOwner returns one user's wishes ordered by id.
func (s *GormStore) ListWishesByOwner(ctx context.Context, ownerID int64) ([]domain.WishView, error) {
	return s.listWishes(ctx, "w.user_id = ?", ownerID)
}

// ListAllWishes returns every wish ordered by id.
func (s *GormStore) ListAllWishes(ctx context.Context) ([]domain.WishView, error) {
	return s.listWishes(ctx)
}

// GetWish returns one wish by id.
func (s *GormStore) GetWish(ctx context.Context, id int64) (domain.WishView, bool, error) {
	items, err := s.listWishes(ctx, "w.id = ?", id)
	if err != nil {
		return domain.WishView{}, false, err
	}
	if len(items) == 0 {
		return domain.WishView{}, false, nil
	}
	return items[0], true, nil
}

// SetWishStatusDone flips an Open wish to Done with a conditional update.
func (s *GormStore) SetWishStatusDone(ctx context.Context, id int64, at time.Time) (domain.WishView, error) {
	res := s.db.WithContext(ctx).Model(&WishModel{}).
		Where("id = ? AND status = ?", id, string(domain.StatusOpen)).
		Updates(map[string]any{
			"status":     string(domain.StatusDone),
			"updated_at": at.UTC(),
		})
	if res.Error != nil {
		return domain.WishView{}, fmt.Errorf("update wish status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.WishView{}, ErrNotFound
	}
	view, ok, err := s.GetWish(ctx, id)
	if err != nil {
		return domain.WishView{}, fmt.Errorf("reload wish: %w", err)
	}
	if !ok {
		return domain.WishView{}, ErrNotFound
	}
	return view, nil
}

// CountWishesByStatus aggregates in a single grouped query so all counts share one snapshot.
func (s *GormStore) CountWishesByStatus(ctx context.Context) (domain.WishStats, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	if err := s.db.WithContext(ctx).Model(&WishModel{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return domain.WishStats{}, err
	}
	stats := domain.WishStats{}
	for _, r := range rows {
		stats.Total += r.Count
		switch domain.WishStatus(r.Status) {
		case domain.StatusOpen:
			stats.Open = r.Count
		case domain.StatusDone:
			stats.Done = r.Count
		}
	}
	return stats, nil
}

func (s *GormStore) listWishes(ctx context.Context, conds ...any) ([]domain.WishView, error) {
	tx := s.db.WithContext(ctx).
		Table("wishes AS w").
		Select("w.id, w.user_id, w.tmdb_id, w.tmdb_type, w.original_title, w.release_year, w.poster_path, w.season_number, w.status, w.created_at, w.updated_at, u.username AS owner_name").
		Joins("JOIN users u ON u.id = w.user_id")
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	var rows []wishRow
	if err := tx.Order("w.id ASC").Scan(&rows).Error; err != nil {
		return nil, err
	}
	res := make([]domain.WishView, 0, len(rows))
	for _, r := range rows {
		res = append(res, wishViewFromRow(r))
	}
	return res, nil
}

func wishToModel(w domain.Wish) WishModel {
	status := w.Status
	if status == "" {
		status = domain.StatusOpen
	}
	now := time.Now().UTC()
	created := w.CreatedAt
	if created.IsZero() {
		created = now
	}
	updated := w.UpdatedAt
	if updated.IsZero() {
		updated = created
	}
	return WishModel{
		UserID:        w.OwnerID,
		TmdbID:        w.CatalogID,
		TmdbType:      string(w.CatalogKind),
		OriginalTitle: w.Title,
		ReleaseYear:   w.ReleaseYear,
		PosterPath:    w.PosterRef,
		SeasonNumber:  w.SeasonSelector,
		Status:        string(status),
		CreatedAt:     created,
		UpdatedAt:     updated,
	}
}

func wishViewFromRow(r wishRow) domain.WishView {
	return domain.WishView{
		Wish: domain.Wish{
			ID:             r.ID,
			OwnerID:        r.UserID,
			CatalogID:      r.TmdbID,
			CatalogKind:    domain.CatalogKind(r.TmdbType),
			Title:          r.OriginalTitle,
			ReleaseYear:    r.ReleaseYear,
			PosterRef:      r.PosterPath,
			SeasonSelector: r.SeasonNumber,
			Status:         domain.WishStatus(r.Status),
			CreatedAt:      r.CreatedAt,
			UpdatedAt:      r.UpdatedAt,
		},
		OwnerName: r.OwnerName,
	}
}
