package intelligence

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/impression-go/pkg/llm"
	"github.com/oceanbase/impression-go/pkg/parser"
	"github.com/oceanbase/impression-go/pkg/storage"
)

// Prompt size caps, in runes.
const (
	maxMessageRunes        = 200
	maxHistoryRunes        = 300
	maxCustomHistoryRunes  = 500
	impressionFallbackName = "IMPRESSION"
)

// dimensionSchema describes the impression classifier response.
var dimensionSchema = func() parser.Schema {
	specs := make([]parser.FieldSpec, 0, len(storage.Dimensions))
	for _, d := range storage.Dimensions {
		specs = append(specs, parser.FieldSpec{Name: string(d)})
	}
	return parser.Schema{
		Fields:   specs,
		Fallback: &parser.Fallback{Label: impressionFallbackName, Field: string(storage.InterestsHobbies)},
	}
}()

// ProfileMerger extracts impression dimensions from a message and merges them
// into the stored profile, last write wins per dimension.
type ProfileMerger struct {
	classifier Classifier
	store      storage.ProfileStore
	template   string
	logger     *zap.Logger
	now        func() time.Time
}

// NewProfileMerger creates a ProfileMerger.
//
// Parameters:
//   - classifier: Model used for extraction
//   - store: Profile persistence
//   - template: Custom prompt; empty uses DefaultImpressionPrompt
//   - logger: Structured logger (nil disables logging)
func NewProfileMerger(classifier Classifier, store storage.ProfileStore, template string, logger *zap.Logger) *ProfileMerger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileMerger{
		classifier: classifier,
		store:      store,
		template:   template,
		logger:     logger,
		now:        time.Now,
	}
}

// BuildPrompt renders the extraction prompt with size-capped inputs.
func (m *ProfileMerger) BuildPrompt(text, historyContext string) string {
	template := m.template
	historyCap := maxCustomHistoryRunes
	if template == "" {
		template = DefaultImpressionPrompt
		historyCap = maxHistoryRunes
	}

	history := Truncate(historyContext, historyCap)
	return renderPrompt(template, map[string]string{
		"history_context": history,
		"context":         history,
		"message":         Truncate(text, maxMessageRunes),
	})
}

// Merge classifies text and applies the extracted dimensions to userID's profile.
//
// Dimensions absent from the response are left untouched. On success the
// message count is incremented and a one-line summary of the updated
// dimensions is returned. Errors wrap the classifier error, parser.ErrNoFields
// or a storage error.
func (m *ProfileMerger) Merge(ctx context.Context, userID, text, historyContext string) (string, error) {
	if m.classifier == nil {
		return "", llm.ErrNotConfigured
	}

	raw, err := m.classifier.Classify(ctx, llm.PurposeImpression, m.BuildPrompt(text, historyContext))
	if err != nil {
		return "", err
	}

	fields := parser.Extract(raw, dimensionSchema)
	if fields.Empty() {
		return "", fmt.Errorf("impression dimensions: %w", parser.ErrNoFields)
	}

	profile, err := m.store.GetOrCreateProfile(ctx, userID)
	if err != nil {
		return "", err
	}

	var updated []storage.Dimension
	for _, d := range storage.Dimensions {
		if value, ok := fields[string(d)]; ok {
			profile.SetDimension(d, value)
			updated = append(updated, d)
		}
	}

	now := m.now().UTC()
	profile.MessageCount++
	profile.LastInteraction = now
	profile.UpdatedAt = now

	if err := m.store.SaveProfile(ctx, profile); err != nil {
		return "", err
	}

	m.logger.Info("profile merged",
		zap.String("user_id", userID),
		zap.Int("dimensions", len(updated)),
		zap.Int64("message_count", profile.MessageCount))

	return storage.SummarizeDimensions(profile.GetDimension, updated), nil
}
