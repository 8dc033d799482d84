package user

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// User represents the users table
type User struct {
	ID           uuid.UUID
	Username     string
	DisplayName  string
	Email        sql.NullString
	Role         string // ADMIN, MODERATOR, USER
	IsActive     bool
	IsOnline     bool
	LastSeenAt   sql.NullTime
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// Language preferences driving translation fan-out.
	SystemLanguage        string
	RegionalLanguage      sql.NullString
	CustomDestinationLang sql.NullString
	AutoTranslateEnabled  bool
	TranslateToSystem     bool
	TranslateToRegional   bool
	UseCustomDestination  bool
}

// PreferredTargetLanguage resolves the language this user wants incoming
// messages translated into. Precedence: explicit override, then system
// language opt-in, then regional opt-in, then the system language.
func (u User) PreferredTargetLanguage() string {
	if u.UseCustomDestination && u.CustomDestinationLang.Valid {
		return u.CustomDestinationLang.String
	}
	if u.TranslateToSystem {
		return u.SystemLanguage
	}
	if u.TranslateToRegional && u.RegionalLanguage.Valid {
		return u.RegionalLanguage.String
	}
	return u.SystemLanguage
}

func (User) TableName() string {
	return "users"
}
