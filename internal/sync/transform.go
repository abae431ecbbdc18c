package sync

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	model "github.com/rookline/chessync/internal/domain/model"
	exception "github.com/rookline/chessync/internal/support/exception"
)

const moduleTransform = "transform"

// playerPayload mirrors the wire shape of a player record.
type playerPayload struct {
	Name       string `mapstructure:"name"`
	Federation string `mapstructure:"federation"`
	Rating     int    `mapstructure:"rating"`
	Title      string `mapstructure:"title"`
	BirthYear  int    `mapstructure:"birth_year"`
	ClubID     string `mapstructure:"club_id"`
}

// clubPayload mirrors the wire shape of a club record.
type clubPayload struct {
	Name        string `mapstructure:"name"`
	City        string `mapstructure:"city"`
	Country     string `mapstructure:"country"`
	FoundedYear int    `mapstructure:"founded_year"`
}

// tournamentPayload mirrors the wire shape of a tournament record.
type tournamentPayload struct {
	Name      string    `mapstructure:"name"`
	Location  string    `mapstructure:"location"`
	Format    string    `mapstructure:"format"`
	Rounds    int       `mapstructure:"rounds"`
	StartDate time.Time `mapstructure:"start_date"`
	EndDate   time.Time `mapstructure:"end_date"`
}

// gamePayload mirrors the wire shape of a game record.
type gamePayload struct {
	WhiteID      string    `mapstructure:"white_id"`
	BlackID      string    `mapstructure:"black_id"`
	TournamentID string    `mapstructure:"tournament_id"`
	Round        int       `mapstructure:"round"`
	Result       string    `mapstructure:"result"`
	ECO          string    `mapstructure:"eco"`
	Moves        string    `mapstructure:"moves"`
	PlayedAt     time.Time `mapstructure:"played_at"`
}

// decodePayload decodes a raw source payload into target. The source emits
// numbers for some id fields and RFC 3339 strings for timestamps, so the
// decoder runs weakly typed with a time conversion hook.
func decodePayload(payload map[string]interface{}, target interface{}) error {
	decoderConfig := &mapstructure.DecoderConfig{
		Metadata:         nil,
		Result:           target,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339),
	}
	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return exception.NewPermanentError(moduleTransform, "failed to create payload decoder", err)
	}
	if err := decoder.Decode(payload); err != nil {
		return exception.NewPermanentError(moduleTransform, "failed to decode source payload", err)
	}
	return nil
}

// transformPlayer converts a raw source record into a Player.
// A shape or validation failure is a permanent error; the caller skips the
// record instead of retrying it.
func transformPlayer(rec model.SourceRecord, now time.Time) (*model.Player, error) {
	var p playerPayload
	if err := decodePayload(rec.Payload, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, exception.NewPermanentError(moduleTransform,
			fmt.Sprintf("player %s has no name", rec.SourceID), nil)
	}
	return &model.Player{
		ID:           model.NewID(),
		SourceID:     rec.SourceID,
		Name:         p.Name,
		Federation:   p.Federation,
		Rating:       p.Rating,
		Title:        p.Title,
		BirthYear:    p.BirthYear,
		ClubSourceID: p.ClubID,
		PayloadHash:  rec.Hash,
		SyncedAt:     now,
	}, nil
}

// transformClub converts a raw source record into a Club.
func transformClub(rec model.SourceRecord, now time.Time) (*model.Club, error) {
	var c clubPayload
	if err := decodePayload(rec.Payload, &c); err != nil {
		return nil, err
	}
	if c.Name == "" {
		return nil, exception.NewPermanentError(moduleTransform,
			fmt.Sprintf("club %s has no name", rec.SourceID), nil)
	}
	return &model.Club{
		ID:          model.NewID(),
		SourceID:    rec.SourceID,
		Name:        c.Name,
		City:        c.City,
		Country:     c.Country,
		FoundedYear: c.FoundedYear,
		PayloadHash: rec.Hash,
		SyncedAt:    now,
	}, nil
}

// transformTournament converts a raw source record into a Tournament.
func transformTournament(rec model.SourceRecord, now time.Time) (*model.Tournament, error) {
	var t tournamentPayload
	if err := decodePayload(rec.Payload, &t); err != nil {
		return nil, err
	}
	if t.Name == "" {
		return nil, exception.NewPermanentError(moduleTransform,
			fmt.Sprintf("tournament %s has no name", rec.SourceID), nil)
	}
	return &model.Tournament{
		ID:          model.NewID(),
		SourceID:    rec.SourceID,
		Name:        t.Name,
		Location:    t.Location,
		Format:      t.Format,
		Rounds:      t.Rounds,
		StartDate:   t.StartDate,
		EndDate:     t.EndDate,
		PayloadHash: rec.Hash,
		SyncedAt:    now,
	}, nil
}

// transformGame converts a raw source record into a Game.
func transformGame(rec model.SourceRecord, now time.Time) (*model.Game, error) {
	var g gamePayload
	if err := decodePayload(rec.Payload, &g); err != nil {
		return nil, err
	}
	if g.WhiteID == "" || g.BlackID == "" {
		return nil, exception.NewPermanentError(moduleTransform,
			fmt.Sprintf("game %s is missing a player reference", rec.SourceID), nil)
	}
	if g.Result == "" {
		// An absent result means the game is unfinished or unreported.
		g.Result = "*"
	}
	return &model.Game{
		ID:                 model.NewID(),
		SourceID:           rec.SourceID,
		WhiteSourceID:      g.WhiteID,
		BlackSourceID:      g.BlackID,
		TournamentSourceID: g.TournamentID,
		Round:              g.Round,
		Result:             g.Result,
		ECO:                g.ECO,
		MovesPGN:           g.Moves,
		PlayedAt:           g.PlayedAt,
		PayloadHash:        rec.Hash,
		SyncedAt:           now,
	}, nil
}
