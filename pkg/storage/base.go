// Package storage provides the persistence boundary of the enrichment pipeline.
//
// It defines the user profile, processed message and message state records,
// the store interfaces every backend must satisfy, and the dimension
// vocabulary shared by the model prompts and the admin surface.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrPersistence is matched by every error a store returns.
var ErrPersistence = errors.New("persistence failed")

// StoreError wraps backend errors with operation context.
//
// errors.Is(err, ErrPersistence) holds for every StoreError, and the
// underlying driver error stays reachable through errors.As.
type StoreError struct {
	// Op is the name of the store operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns "storage: <Op>: <Err>".
func (e *StoreError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

// Unwrap exposes both ErrPersistence and the underlying error.
func (e *StoreError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// NewStoreError wraps err, returning nil when err is nil.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// Dimension is one of the eight textual facets of a user impression.
type Dimension string

const (
	PersonalityTraits       Dimension = "personality_traits"
	InterestsHobbies        Dimension = "interests_hobbies"
	CommunicationStyle      Dimension = "communication_style"
	EmotionalTendencies     Dimension = "emotional_tendencies"
	BehavioralPatterns      Dimension = "behavioral_patterns"
	ValuesAttitudes         Dimension = "values_attitudes"
	RelationshipPreferences Dimension = "relationship_preferences"
	GrowthDevelopment       Dimension = "growth_development"
)

// Dimensions lists every dimension in display order.
var Dimensions = []Dimension{
	PersonalityTraits,
	InterestsHobbies,
	CommunicationStyle,
	EmotionalTendencies,
	BehavioralPatterns,
	ValuesAttitudes,
	RelationshipPreferences,
	GrowthDevelopment,
}

type dimensionInfo struct {
	alias   string
	display string
	summary string
}

var dimensionTable = map[Dimension]dimensionInfo{
	PersonalityTraits:       {"personality", "性格特征", "性格"},
	InterestsHobbies:        {"interests", "兴趣爱好", "兴趣"},
	CommunicationStyle:      {"communication", "交流风格", "交流"},
	EmotionalTendencies:     {"emotional", "情感倾向", "情感"},
	BehavioralPatterns:      {"behavior", "行为模式", "行为"},
	ValuesAttitudes:         {"values", "价值观态度", "价值观"},
	RelationshipPreferences: {"relationship", "关系偏好", "关系"},
	GrowthDevelopment:       {"growth", "成长发展", "成长"},
}

// DisplayName returns the long human readable name, e.g. 性格特征.
func (d Dimension) DisplayName() string {
	return dimensionTable[d].display
}

// SummaryLabel returns the short label used in one-line summaries, e.g. 性格.
func (d Dimension) SummaryLabel() string {
	return dimensionTable[d].summary
}

// Alias returns the short admin name, e.g. personality.
func (d Dimension) Alias() string {
	return dimensionTable[d].alias
}

// ParseDimension accepts a dimension key or its short alias, case-insensitively.
func ParseDimension(name string) (Dimension, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, d := range Dimensions {
		if string(d) == name || dimensionTable[d].alias == name {
			return d, true
		}
	}
	return "", false
}

// Default profile values.
const (
	DefaultAffectionScore = 50.0
	DefaultAffectionLevel = "一般"
)

// UserProfile is the persisted impression of one user.
//
// AffectionScore is always within [0, 100] and AffectionLevel is always the
// band label of AffectionScore; the affection updater maintains both.
type UserProfile struct {
	ID     int64  `db:"id" json:"id"`
	UserID string `db:"user_id" json:"user_id"`

	PersonalityTraits       string `db:"personality_traits" json:"personality_traits"`
	InterestsHobbies        string `db:"interests_hobbies" json:"interests_hobbies"`
	CommunicationStyle      string `db:"communication_style" json:"communication_style"`
	EmotionalTendencies     string `db:"emotional_tendencies" json:"emotional_tendencies"`
	BehavioralPatterns      string `db:"behavioral_patterns" json:"behavioral_patterns"`
	ValuesAttitudes         string `db:"values_attitudes" json:"values_attitudes"`
	RelationshipPreferences string `db:"relationship_preferences" json:"relationship_preferences"`
	GrowthDevelopment       string `db:"growth_development" json:"growth_development"`

	AffectionScore float64 `db:"affection_score" json:"affection_score"`
	AffectionLevel string  `db:"affection_level" json:"affection_level"`
	MessageCount   int64   `db:"message_count" json:"message_count"`

	LastInteraction time.Time `db:"last_interaction" json:"last_interaction"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// NewUserProfile returns a profile with default values for userID.
func NewUserProfile(userID string, now time.Time) *UserProfile {
	return &UserProfile{
		UserID:          userID,
		AffectionScore:  DefaultAffectionScore,
		AffectionLevel:  DefaultAffectionLevel,
		LastInteraction: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (p *UserProfile) field(d Dimension) *string {
	switch d {
	case PersonalityTraits:
		return &p.PersonalityTraits
	case InterestsHobbies:
		return &p.InterestsHobbies
	case CommunicationStyle:
		return &p.CommunicationStyle
	case EmotionalTendencies:
		return &p.EmotionalTendencies
	case BehavioralPatterns:
		return &p.BehavioralPatterns
	case ValuesAttitudes:
		return &p.ValuesAttitudes
	case RelationshipPreferences:
		return &p.RelationshipPreferences
	case GrowthDevelopment:
		return &p.GrowthDevelopment
	}
	return nil
}

// GetDimension returns the value of d, or "" for an unknown dimension.
func (p *UserProfile) GetDimension(d Dimension) string {
	if f := p.field(d); f != nil {
		return *f
	}
	return ""
}

// SetDimension overwrites d. It reports false for an unknown dimension.
func (p *UserProfile) SetDimension(d Dimension, value string) bool {
	f := p.field(d)
	if f == nil {
		return false
	}
	*f = value
	return true
}

// HasImpression reports whether any dimension is non-empty.
func (p *UserProfile) HasImpression() bool {
	for _, d := range Dimensions {
		if p.GetDimension(d) != "" {
			return true
		}
	}
	return false
}

// Summary renders the non-empty dimensions on one line.
func (p *UserProfile) Summary() string {
	return SummarizeDimensions(p.GetDimension, Dimensions)
}

// SummarizeDimensions renders "性格: x | 兴趣: y" over dims, skipping empty values.
func SummarizeDimensions(get func(Dimension) string, dims []Dimension) string {
	var parts []string
	for _, d := range dims {
		if v := get(d); v != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", d.SummaryLabel(), v))
		}
	}
	if len(parts) == 0 {
		return "暂无印象数据"
	}
	return strings.Join(parts, " | ")
}

// ProcessedMessage records that a message has been consumed by the pipeline.
// Records are unique by (UserID, MessageID) and never mutated.
type ProcessedMessage struct {
	ID          int64     `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"user_id"`
	MessageID   string    `db:"message_id" json:"message_id"`
	ProfileID   int64     `db:"profile_id" json:"profile_id,omitempty"`
	ProcessedAt time.Time `db:"processed_at" json:"processed_at"`
}

// UserMessageState holds per-user processing counters. Counters only increase.
type UserMessageState struct {
	UserID               string    `db:"user_id" json:"user_id"`
	LastMessageID        string    `db:"last_message_id" json:"last_message_id"`
	LastMessageTime      time.Time `db:"last_message_time" json:"last_message_time"`
	TotalMessages        int64     `db:"total_messages" json:"total_messages"`
	ProcessedMessages    int64     `db:"processed_messages" json:"processed_messages"`
	ProfileUpdateCount   int64     `db:"profile_update_count" json:"profile_update_count"`
	AffectionUpdateCount int64     `db:"affection_update_count" json:"affection_update_count"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}

// StateDelta is applied atomically to a UserMessageState.
type StateDelta struct {
	MessageID        string
	At               time.Time
	Total            int64
	Processed        int64
	ProfileUpdates   int64
	AffectionUpdates int64
}

// ProfileStore persists user profiles.
type ProfileStore interface {
	// GetProfile returns the profile of userID, or nil and no error when none exists.
	GetProfile(ctx context.Context, userID string) (*UserProfile, error)

	// GetOrCreateProfile returns the profile of userID, creating a default one first if needed.
	GetOrCreateProfile(ctx context.Context, userID string) (*UserProfile, error)

	// SaveProfile inserts or overwrites the profile keyed by its UserID.
	SaveProfile(ctx context.Context, profile *UserProfile) error

	// ListProfiles returns up to limit profiles, most recently updated first.
	// A limit of zero or less returns every profile.
	ListProfiles(ctx context.Context, limit int) ([]*UserProfile, error)
}

// ProcessedStore persists processed message records.
type ProcessedStore interface {
	// IsProcessed reports whether (userID, messageID) has been recorded.
	IsProcessed(ctx context.Context, userID, messageID string) (bool, error)

	// MarkProcessed inserts rec. It reports false, without error, when the
	// (UserID, MessageID) pair already exists.
	MarkProcessed(ctx context.Context, rec *ProcessedMessage) (bool, error)
}

// StateStore persists per-user message counters.
type StateStore interface {
	// GetState returns the counters of userID, or nil and no error when none exist.
	GetState(ctx context.Context, userID string) (*UserMessageState, error)

	// IncrementState applies delta in a single atomic statement.
	IncrementState(ctx context.Context, userID string, delta StateDelta) error
}

// Store aggregates every persistence concern of the pipeline.
type Store interface {
	ProfileStore
	ProcessedStore
	StateStore

	// Close releases the underlying connection.
	Close() error
}
