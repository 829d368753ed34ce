package store

import "time"

// GORM models used for persistence.
type UserModel struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	Username     string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

type AdminModel struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	Username     string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (AdminModel) TableName() string { return "admin_users" }

type WishModel struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	UserID        int64     `gorm:"not null;index"`
	Owner         UserModel `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	TmdbID        int64     `gorm:"not null"`
	TmdbType      string    `gorm:"not null"`
	OriginalTitle string    `gorm:"not null"`
	ReleaseYear   *string
	PosterPath    *string
	SeasonNumber  *string
	Status        string    `gorm:"not null;index;default:Offen"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (WishModel) TableName() string { return "wishes" }

// wishRow is the shape of a wish joined with its owner's username.
type wishRow struct {
	ID            int64
	UserID        int64
	TmdbID        int64
	TmdbType      string
	OriginalTitle string
	ReleaseYear   *string
	PosterPath    *string
	SeasonNumber  *string
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	OwnerName     string
}
