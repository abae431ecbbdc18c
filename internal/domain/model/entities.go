package model

import "time"

// Player represents a chess player record mirrored from the external source.
// Notes is local-only operator data and survives upserts untouched.
type Player struct {
	ID             string `gorm:"primaryKey;size:36"`
	SourceID       string `gorm:"uniqueIndex;size:64;not null"`
	Name           string `gorm:"size:255"`
	Federation     string `gorm:"size:8"` // Federation is the FIDE federation code, e.g. "NOR".
	Rating         int
	Title          string `gorm:"size:8"` // Title is the FIDE title abbreviation, empty when untitled.
	BirthYear      int
	ClubSourceID   string `gorm:"size:64;index"`
	PayloadHash    string `gorm:"size:64"`
	SyncedAt       time.Time
	LastSyncFailed bool
	Notes          string `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName maps Player to its table.
func (Player) TableName() string {
	return "players"
}

// Club represents a chess club record mirrored from the external source.
type Club struct {
	ID             string `gorm:"primaryKey;size:36"`
	SourceID       string `gorm:"uniqueIndex;size:64;not null"`
	Name           string `gorm:"size:255"`
	City           string `gorm:"size:128"`
	Country        string `gorm:"size:8"`
	FoundedYear    int
	PayloadHash    string `gorm:"size:64"`
	SyncedAt       time.Time
	LastSyncFailed bool
	Notes          string `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName maps Club to its table.
func (Club) TableName() string {
	return "clubs"
}

// Tournament represents a tournament record mirrored from the external source.
type Tournament struct {
	ID             string `gorm:"primaryKey;size:36"`
	SourceID       string `gorm:"uniqueIndex;size:64;not null"`
	Name           string `gorm:"size:255"`
	Location       string `gorm:"size:255"`
	Format         string `gorm:"size:32"` // Format is the pairing system, e.g. "swiss" or "round-robin".
	Rounds         int
	StartDate      time.Time
	EndDate        time.Time
	PayloadHash    string `gorm:"size:64"`
	SyncedAt       time.Time
	LastSyncFailed bool
	Notes          string `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName maps Tournament to its table.
func (Tournament) TableName() string {
	return "tournaments"
}

// Game represents a single game record mirrored from the external source.
// Players and the tournament are referenced by their source identifiers, so
// a game row is storable even while its references are still unresolved.
type Game struct {
	ID                 string `gorm:"primaryKey;size:36"`
	SourceID           string `gorm:"uniqueIndex;size:64;not null"`
	WhiteSourceID      string `gorm:"size:64;index"`
	BlackSourceID      string `gorm:"size:64;index"`
	TournamentSourceID string `gorm:"size:64;index"`
	Round              int
	Result             string `gorm:"size:8"`  // Result is one of "1-0", "0-1", "1/2-1/2" or "*".
	ECO                string `gorm:"size:4"`  // ECO is the opening classification code.
	MovesPGN           string `gorm:"type:text"`
	PlayedAt           time.Time
	PayloadHash        string `gorm:"size:64"`
	SyncedAt           time.Time
	LastSyncFailed     bool
	Notes              string `gorm:"type:text"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TableName maps Game to its table.
func (Game) TableName() string {
	return "games"
}

// SourceRecord is the normalized form every fetched record passes through
// before being transformed into a concrete entity. Payload holds the raw
// decoded source document; Hash is its canonical payload hash.
type SourceRecord struct {
	Kind     EntityKind
	SourceID string
	Payload  map[string]interface{}
	Hash     string
}
