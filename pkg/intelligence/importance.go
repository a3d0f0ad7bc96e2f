package intelligence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/oceanbase/impression-go/pkg/llm"
	"github.com/oceanbase/impression-go/pkg/parser"
)

// weightSchema describes the importance classifier response.
var weightSchema = parser.Schema{
	Fields: []parser.FieldSpec{
		{Name: "weight_score", Label: "WEIGHT_SCORE", Kind: parser.Number},
		{Name: "weight_level", Label: "WEIGHT_LEVEL", Kind: parser.Word},
		{Name: "reason", Label: "REASON"},
	},
	JSONFallback: true,
	MinLength:    10,
}

// FilterConfig configures an ImportanceFilter.
type FilterConfig struct {
	// Mode is the admission policy.
	Mode FilterMode

	// HighThreshold and MediumThreshold are scores in [0, 100].
	HighThreshold   float64
	MediumThreshold float64

	// FallbackLengthThreshold is the rune count above which the heuristic
	// scores a message as medium instead of low.
	FallbackLengthThreshold int

	// ContextLimit is the default number of records returned by SelectRecentContext.
	ContextLimit int

	// Prompt overrides DefaultWeightPrompt.
	Prompt string
}

// DefaultFilterConfig returns the selective policy with thresholds 70 and 40.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		Mode:                    ModeSelective,
		HighThreshold:           70,
		MediumThreshold:         40,
		FallbackLengthThreshold: 20,
		ContextLimit:            10,
		Prompt:                  DefaultWeightPrompt,
	}
}

// ImportanceFilter scores messages, keeps the bounded history of scores and
// decides which messages may update the profile.
//
// Mode and thresholds are fixed at construction.
type ImportanceFilter struct {
	classifier Classifier
	history    *History
	cfg        FilterConfig
	logger     *zap.Logger
	now        func() time.Time
}

// NewImportanceFilter creates an ImportanceFilter.
//
// Parameters:
//   - classifier: Model used for scoring (nil always takes the heuristic path)
//   - history: Bounded score history (nil creates one with the default capacity)
//   - cfg: Admission policy and prompt
//   - logger: Structured logger (nil disables logging)
func NewImportanceFilter(classifier Classifier, history *History, cfg FilterConfig, logger *zap.Logger) *ImportanceFilter {
	if history == nil {
		history = NewHistory(DefaultHistoryCapacity)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeSelective
	}
	if cfg.FallbackLengthThreshold <= 0 {
		cfg.FallbackLengthThreshold = 20
	}
	if cfg.ContextLimit <= 0 {
		cfg.ContextLimit = 10
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultWeightPrompt
	}
	return &ImportanceFilter{
		classifier: classifier,
		history:    history,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Mode returns the admission policy.
func (f *ImportanceFilter) Mode() FilterMode {
	return f.cfg.Mode
}

// History returns the score history owned by the filter.
func (f *ImportanceFilter) History() *History {
	return f.history
}

// Evaluate scores a message.
//
// A message already in the history returns its cached verdict without a
// classifier call. Otherwise the classifier is asked; on transport or parse
// failure a length heuristic is used, so Evaluate always produces a verdict.
// Every evaluated message is appended to the history.
//
// Parameters:
//   - ctx: Context for the classifier call
//   - userID, messageID: Identify the message
//   - text: Message body
//   - msgContext: Surrounding conversation, may be empty
func (f *ImportanceFilter) Evaluate(ctx context.Context, userID, messageID, text, msgContext string) Evaluation {
	if rec, ok := f.history.Lookup(userID, messageID); ok {
		ev := Evaluation{Score: rec.Score, Level: rec.Level, Source: SourceCache}
		f.record(userID, messageID, text, msgContext, ev)
		return ev
	}

	ev, err := f.classify(ctx, text, msgContext)
	if err != nil {
		f.logger.Warn("weight evaluation failed, using heuristic",
			zap.String("user_id", userID),
			zap.String("message_id", messageID),
			zap.Error(err))
		ev = f.fallback(text)
	}

	f.record(userID, messageID, text, msgContext, ev)
	f.logger.Debug("message weighted",
		zap.String("user_id", userID),
		zap.String("message_id", messageID),
		zap.Float64("score", ev.Score),
		zap.String("level", string(ev.Level)),
		zap.String("source", string(ev.Source)))
	return ev
}

func (f *ImportanceFilter) classify(ctx context.Context, text, msgContext string) (Evaluation, error) {
	if f.classifier == nil {
		return Evaluation{}, llm.ErrNotConfigured
	}

	prompt := renderPrompt(f.cfg.Prompt, map[string]string{
		"message": text,
		"context": msgContext,
	})
	raw, err := f.classifier.Classify(ctx, llm.PurposeWeight, prompt)
	if err != nil {
		return Evaluation{}, err
	}

	fields := parser.Extract(raw, weightSchema)
	score, ok := fields.Float("weight_score")
	if !ok {
		return Evaluation{}, fmt.Errorf("weight score: %w", parser.ErrNoFields)
	}
	score = Clamp(score, 0, 100)

	level, ok := ParseLevel(fields["weight_level"])
	if !ok {
		level = f.LevelFor(score)
	}
	return Evaluation{Score: score, Level: level, Source: SourceLLM}, nil
}

// fallback is the deterministic heuristic used when the classifier cannot answer.
func (f *ImportanceFilter) fallback(text string) Evaluation {
	if utf8.RuneCountInString(text) > f.cfg.FallbackLengthThreshold {
		return Evaluation{Score: 50, Level: LevelMedium, Source: SourceFallback}
	}
	return Evaluation{Score: 20, Level: LevelLow, Source: SourceFallback}
}

func (f *ImportanceFilter) record(userID, messageID, text, msgContext string, ev Evaluation) {
	f.history.Append(userID, WeightRecord{
		MessageID:      messageID,
		Score:          ev.Score,
		Level:          ev.Level,
		Timestamp:      f.now(),
		Excerpt:        text,
		ContextExcerpt: msgContext,
	})
}

// LevelFor derives a level from score using the thresholds.
func (f *ImportanceFilter) LevelFor(score float64) Level {
	switch {
	case score >= f.cfg.HighThreshold:
		return LevelHigh
	case score >= f.cfg.MediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

// IsAdmissible reports whether a message with score may update the profile.
func (f *ImportanceFilter) IsAdmissible(score float64) bool {
	switch f.cfg.Mode {
	case ModeDisabled:
		return true
	case ModeBalanced:
		return score >= f.cfg.MediumThreshold
	default:
		return score >= f.cfg.HighThreshold
	}
}

// SelectRecentContext renders the most recent admissible records of userID.
//
// Records are filtered by IsAdmissible, ordered newest first and cut to
// limit (zero or less uses the configured ContextLimit). A message id
// appears at most once. It returns the rendered block and the ids it
// includes, or "" and nil when the mode is disabled or nothing qualifies.
func (f *ImportanceFilter) SelectRecentContext(userID string, limit int) (string, []string) {
	if f.cfg.Mode == ModeDisabled {
		return "", nil
	}
	if limit <= 0 {
		limit = f.cfg.ContextLimit
	}

	records := lo.Filter(f.history.Snapshot(userID), func(rec WeightRecord, _ int) bool {
		return f.IsAdmissible(rec.Score)
	})
	// Newest append first so equal timestamps keep recency order.
	records = lo.Reverse(records)
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	records = lo.UniqBy(records, func(rec WeightRecord) string { return rec.MessageID })
	if len(records) > limit {
		records = records[:limit]
	}
	if len(records) == 0 {
		return "", nil
	}

	lines := make([]string, 0, len(records))
	for _, rec := range records {
		line := fmt.Sprintf("[%s] %s", rec.Timestamp.Format("01-02 15:04"), rec.Excerpt)
		if rec.Score > 0 {
			line += fmt.Sprintf(" (权重: %.1f, 等级: %s)", rec.Score, rec.Level)
		}
		lines = append(lines, line)
	}

	ids := lo.Map(records, func(rec WeightRecord, _ int) string { return rec.MessageID })
	block := fmt.Sprintf("\n\n最近对话记录 (共 %d 条):\n", len(lines)) + strings.Join(lines, "\n")
	return block, ids
}
