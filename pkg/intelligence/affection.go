package intelligence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/impression-go/pkg/llm"
	"github.com/oceanbase/impression-go/pkg/parser"
	"github.com/oceanbase/impression-go/pkg/storage"
)

// ErrUnknownSentiment is returned when the model answers with a label outside
// friendly, neutral and negative.
var ErrUnknownSentiment = errors.New("unknown sentiment label")

// Sentiment is the three-way classification of how the user spoke.
type Sentiment string

const (
	Friendly Sentiment = "friendly"
	Neutral  Sentiment = "neutral"
	Negative Sentiment = "negative"
)

var sentimentSchema = parser.Schema{
	Fields: []parser.FieldSpec{
		{Name: "type", Label: "TYPE", Kind: parser.Word},
		{Name: "reason", Label: "REASON"},
	},
	Fallback: &parser.Fallback{Label: "SENTIMENT", Field: "type"},
}

// Increments maps each sentiment to a signed score change.
type Increments struct {
	Friendly float64
	Neutral  float64
	Negative float64
}

// DefaultIncrements returns +2.0, +0.5 and -3.0.
func DefaultIncrements() Increments {
	return Increments{Friendly: 2.0, Neutral: 0.5, Negative: -3.0}
}

// For returns the increment of s.
func (inc Increments) For(s Sentiment) (float64, bool) {
	switch s {
	case Friendly:
		return inc.Friendly, true
	case Neutral:
		return inc.Neutral, true
	case Negative:
		return inc.Negative, true
	}
	return 0, false
}

// Band labels the affection scores in [Min, Max).
type Band struct {
	Min   float64
	Max   float64
	Label string
}

// Bands is an ordered set of affection bands. The last band also matches its Max.
type Bands []Band

// DefaultBands covers [0, 100] in five equal bands.
func DefaultBands() Bands {
	return Bands{
		{Min: 0, Max: 20, Label: "厌恶"},
		{Min: 20, Max: 40, Label: "冷淡"},
		{Min: 40, Max: 60, Label: "一般"},
		{Min: 60, Max: 80, Label: "友好"},
		{Min: 80, Max: 100, Label: "亲密"},
	}
}

// LevelFor returns the label of the band containing score, or
// storage.DefaultAffectionLevel when no band matches.
func (b Bands) LevelFor(score float64) string {
	for i, band := range b {
		if score >= band.Min && (score < band.Max || (i == len(b)-1 && score == band.Max)) {
			return band.Label
		}
	}
	return storage.DefaultAffectionLevel
}

// Validate reports the first gap or overlap, or bands that do not span [0, 100].
func (b Bands) Validate() error {
	if len(b) == 0 {
		return errors.New("no affection bands")
	}
	if b[0].Min > 0 {
		return fmt.Errorf("affection bands start at %.1f, not 0", b[0].Min)
	}
	for i, band := range b {
		if band.Max <= band.Min {
			return fmt.Errorf("affection band %q is empty", band.Label)
		}
		if i > 0 && band.Min != b[i-1].Max {
			return fmt.Errorf("affection bands %q and %q are not contiguous", b[i-1].Label, band.Label)
		}
	}
	if last := b[len(b)-1]; last.Max < 100 {
		return fmt.Errorf("affection bands end at %.1f, not 100", last.Max)
	}
	return nil
}

// AffectionConfig configures an AffectionUpdater.
type AffectionConfig struct {
	// Increments is used as given once any of its fields is non-zero, so a
	// single zero increment is honored. All three zero means DefaultIncrements.
	Increments Increments
	Bands      Bands

	// Prompt overrides DefaultAffectionPrompt.
	Prompt string
}

// AffectionUpdater classifies message sentiment and moves the affection score.
type AffectionUpdater struct {
	classifier Classifier
	store      storage.ProfileStore
	cfg        AffectionConfig
	logger     *zap.Logger
	now        func() time.Time
}

// NewAffectionUpdater creates an AffectionUpdater.
//
// Zero-valued Increments, empty Bands and an empty Prompt take their defaults.
// Bands that are not contiguous over [0, 100] are accepted with a warning;
// scores outside every band fall back to storage.DefaultAffectionLevel.
func NewAffectionUpdater(classifier Classifier, store storage.ProfileStore, cfg AffectionConfig, logger *zap.Logger) *AffectionUpdater {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Bands) == 0 {
		cfg.Bands = DefaultBands()
	}
	if cfg.Increments == (Increments{}) {
		cfg.Increments = DefaultIncrements()
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultAffectionPrompt
	}
	if err := cfg.Bands.Validate(); err != nil {
		logger.Warn("affection bands misconfigured", zap.Error(err))
	}
	return &AffectionUpdater{
		classifier: classifier,
		store:      store,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Bands returns the configured bands.
func (u *AffectionUpdater) Bands() Bands {
	return u.cfg.Bands
}

// Classify asks the model for the sentiment of text.
func (u *AffectionUpdater) Classify(ctx context.Context, text string) (Sentiment, error) {
	if u.classifier == nil {
		return "", llm.ErrNotConfigured
	}

	prompt := renderPrompt(u.cfg.Prompt, map[string]string{
		"message": text,
		"context": "",
	})
	raw, err := u.classifier.Classify(ctx, llm.PurposeAffection, prompt)
	if err != nil {
		return "", err
	}

	fields := parser.Extract(raw, sentimentSchema)
	label, ok := fields["type"]
	if !ok {
		return "", fmt.Errorf("sentiment: %w", parser.ErrNoFields)
	}

	sentiment := Sentiment(strings.ToLower(label))
	if _, ok := u.cfg.Increments.For(sentiment); !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSentiment, label)
	}
	return sentiment, nil
}

// Update classifies text and applies the matching increment to userID's score.
//
// Returns a description such as "friendly: 50.0 -> 52.0 (一般)".
func (u *AffectionUpdater) Update(ctx context.Context, userID, text string) (string, error) {
	sentiment, err := u.Classify(ctx, text)
	if err != nil {
		return "", err
	}
	delta, _ := u.cfg.Increments.For(sentiment)

	profile, err := u.store.GetOrCreateProfile(ctx, userID)
	if err != nil {
		return "", err
	}

	old := profile.AffectionScore
	u.apply(profile, old+delta)
	if err := u.store.SaveProfile(ctx, profile); err != nil {
		return "", err
	}

	u.logger.Info("affection updated",
		zap.String("user_id", userID),
		zap.String("sentiment", string(sentiment)),
		zap.Float64("from", old),
		zap.Float64("to", profile.AffectionScore))

	return fmt.Sprintf("%s: %.1f -> %.1f (%s)", sentiment, old, profile.AffectionScore, profile.AffectionLevel), nil
}

// Set overwrites userID's score, clamped to [0, 100], and re-derives the level.
func (u *AffectionUpdater) Set(ctx context.Context, userID string, score float64) (*storage.UserProfile, error) {
	profile, err := u.store.GetOrCreateProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	u.apply(profile, score)
	if err := u.store.SaveProfile(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

func (u *AffectionUpdater) apply(profile *storage.UserProfile, score float64) {
	now := u.now().UTC()
	profile.AffectionScore = Clamp(score, 0, 100)
	profile.AffectionLevel = u.cfg.Bands.LevelFor(profile.AffectionScore)
	profile.LastInteraction = now
	profile.UpdatedAt = now
}
