// Package sqlstore implements storage.Store over database/sql with sqlx.
//
// One implementation serves SQLite, PostgreSQL and OceanBase/MySQL; the
// Dialect supplies the differences in conflict handling and migrations.
// Row ids are snowflake ids generated in process.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/oceanbase/impression-go/pkg/storage"
)

const (
	profilesTable  = "user_profiles"
	processedTable = "processed_messages"
	stateTable     = "user_message_state"
)

var profileColumns = []string{
	"id", "user_id",
	"personality_traits", "interests_hobbies", "communication_style", "emotional_tendencies",
	"behavioral_patterns", "values_attitudes", "relationship_preferences", "growth_development",
	"affection_score", "affection_level", "message_count",
	"last_interaction", "created_at", "updated_at",
}

var processedColumns = []string{"id", "user_id", "message_id", "profile_id", "processed_at"}

var stateColumns = []string{
	"user_id", "last_message_id", "last_message_time",
	"total_messages", "processed_messages", "profile_update_count", "affection_update_count",
	"created_at", "updated_at",
}

// Store implements storage.Store on a SQL database.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
	node    *snowflake.Node
	logger  *zap.Logger

	selectProfile string
	insertProfile string
	upsertProfile string
	insertMarker  string
	upsertState   string
}

// New wraps db and applies pending migrations.
//
// Parameters:
//   - db: An open connection whose driver matches dialect
//   - dialect: SQLite, Postgres or MySQL
//   - logger: Structured logger (nil disables logging)
//
// Returns:
//   - *Store: The store instance
//   - error: Error if id generation or migrations fail
func New(db *sqlx.DB, dialect Dialect, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, storage.NewStoreError("New", err)
	}

	s := &Store{
		db:      db,
		dialect: dialect,
		node:    node,
		logger:  logger,
	}
	s.prepareQueries()

	if err := Migrate(context.Background(), db, dialect, logger); err != nil {
		return nil, storage.NewStoreError("Migrate", err)
	}

	return s, nil
}

func (s *Store) prepareQueries() {
	d := s.dialect

	s.selectProfile = fmt.Sprintf("SELECT %s FROM %s", strings.Join(profileColumns, ", "), profilesTable)
	s.insertProfile = d.insertIgnore(profilesTable, profileColumns, "user_id")

	var profileSets []string
	for _, col := range profileColumns {
		if col == "id" || col == "user_id" || col == "created_at" {
			continue
		}
		profileSets = append(profileSets, fmt.Sprintf("%s = %s", col, d.excluded(col)))
	}
	s.upsertProfile = d.upsert(profilesTable, profileColumns, "user_id", profileSets)

	s.insertMarker = d.insertIgnore(processedTable, processedColumns, "user_id, message_id")

	stateSets := []string{
		fmt.Sprintf("last_message_id = %s", d.excluded("last_message_id")),
		fmt.Sprintf("last_message_time = %s", d.excluded("last_message_time")),
		fmt.Sprintf("updated_at = %s", d.excluded("updated_at")),
	}
	for _, col := range []string{"total_messages", "processed_messages", "profile_update_count", "affection_update_count"} {
		stateSets = append(stateSets, fmt.Sprintf("%s = %s.%s + %s", col, stateTable, col, d.excluded(col)))
	}
	s.upsertState = d.upsert(stateTable, stateColumns, "user_id", stateSets)
}

// DB returns the underlying connection.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// GetProfile implements storage.ProfileStore.
func (s *Store) GetProfile(ctx context.Context, userID string) (*storage.UserProfile, error) {
	var profile storage.UserProfile
	query := s.db.Rebind(s.selectProfile + " WHERE user_id = ?")
	if err := s.db.GetContext(ctx, &profile, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storage.NewStoreError("GetProfile", err)
	}
	return &profile, nil
}

// GetOrCreateProfile implements storage.ProfileStore.
func (s *Store) GetOrCreateProfile(ctx context.Context, userID string) (*storage.UserProfile, error) {
	profile, err := s.GetProfile(ctx, userID)
	if err != nil || profile != nil {
		return profile, err
	}

	profile = storage.NewUserProfile(userID, time.Now().UTC())
	profile.ID = s.node.Generate().Int64()
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(s.insertProfile), profileArgs(profile)...); err != nil {
		return nil, storage.NewStoreError("GetOrCreateProfile", err)
	}

	s.logger.Debug("profile created", zap.String("user_id", userID))

	// Another writer may have won the insert; read back whichever row exists.
	profile, err = s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, storage.NewStoreError("GetOrCreateProfile", sql.ErrNoRows)
	}
	return profile, nil
}

// SaveProfile implements storage.ProfileStore.
func (s *Store) SaveProfile(ctx context.Context, profile *storage.UserProfile) error {
	if profile == nil || profile.UserID == "" {
		return storage.NewStoreError("SaveProfile", errors.New("profile without user id"))
	}

	now := time.Now().UTC()
	if profile.ID == 0 {
		profile.ID = s.node.Generate().Int64()
	}
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	if profile.LastInteraction.IsZero() {
		profile.LastInteraction = now
	}
	profile.UpdatedAt = now

	if _, err := s.db.ExecContext(ctx, s.db.Rebind(s.upsertProfile), profileArgs(profile)...); err != nil {
		return storage.NewStoreError("SaveProfile", err)
	}
	return nil
}

// ListProfiles implements storage.ProfileStore.
func (s *Store) ListProfiles(ctx context.Context, limit int) ([]*storage.UserProfile, error) {
	query := s.selectProfile + " ORDER BY updated_at DESC, user_id"
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var profiles []*storage.UserProfile
	if err := s.db.SelectContext(ctx, &profiles, s.db.Rebind(query), args...); err != nil {
		return nil, storage.NewStoreError("ListProfiles", err)
	}
	return profiles, nil
}

// IsProcessed implements storage.ProcessedStore.
func (s *Store) IsProcessed(ctx context.Context, userID, messageID string) (bool, error) {
	var count int
	query := s.db.Rebind(fmt.Sprintf("SELECT COUNT(1) FROM %s WHERE user_id = ? AND message_id = ?", processedTable))
	if err := s.db.GetContext(ctx, &count, query, userID, messageID); err != nil {
		return false, storage.NewStoreError("IsProcessed", err)
	}
	return count > 0, nil
}

// MarkProcessed implements storage.ProcessedStore.
func (s *Store) MarkProcessed(ctx context.Context, rec *storage.ProcessedMessage) (bool, error) {
	if rec.ID == 0 {
		rec.ID = s.node.Generate().Int64()
	}
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(s.insertMarker),
		rec.ID, rec.UserID, rec.MessageID, rec.ProfileID, rec.ProcessedAt)
	if err != nil {
		return false, storage.NewStoreError("MarkProcessed", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, storage.NewStoreError("MarkProcessed", err)
	}
	return n > 0, nil
}

// GetState implements storage.StateStore.
func (s *Store) GetState(ctx context.Context, userID string) (*storage.UserMessageState, error) {
	var state storage.UserMessageState
	query := s.db.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE user_id = ?", strings.Join(stateColumns, ", "), stateTable))
	if err := s.db.GetContext(ctx, &state, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storage.NewStoreError("GetState", err)
	}
	return &state, nil
}

// IncrementState implements storage.StateStore.
func (s *Store) IncrementState(ctx context.Context, userID string, delta storage.StateDelta) error {
	at := delta.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(s.upsertState),
		userID, delta.MessageID, at,
		delta.Total, delta.Processed, delta.ProfileUpdates, delta.AffectionUpdates,
		at, at,
	)
	return storage.NewStoreError("IncrementState", err)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func profileArgs(p *storage.UserProfile) []interface{} {
	return []interface{}{
		p.ID, p.UserID,
		p.PersonalityTraits, p.InterestsHobbies, p.CommunicationStyle, p.EmotionalTendencies,
		p.BehavioralPatterns, p.ValuesAttitudes, p.RelationshipPreferences, p.GrowthDevelopment,
		p.AffectionScore, p.AffectionLevel, p.MessageCount,
		p.LastInteraction, p.CreatedAt, p.UpdatedAt,
	}
}

var _ storage.Store = (*Store)(nil)
