// Package intelligence implements the enrichment steps of the pipeline:
// importance scoring and admission, profile merging, affection updates and
// message deduplication.
package intelligence

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/oceanbase/impression-go/pkg/llm"
)

// Classifier turns a prompt into raw model text. *llm.Classifier implements it.
type Classifier interface {
	Classify(ctx context.Context, purpose llm.Purpose, prompt string) (string, error)
}

// Level is the coarse importance of a message.
type Level string

const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"
)

// ParseLevel accepts high, medium or low in any case.
func ParseLevel(s string) (Level, bool) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelHigh:
		return LevelHigh, true
	case LevelMedium:
		return LevelMedium, true
	case LevelLow:
		return LevelLow, true
	}
	return "", false
}

// FilterMode selects which importance scores admit a message to profile merging.
type FilterMode string

const (
	// ModeDisabled admits every message.
	ModeDisabled FilterMode = "disabled"

	// ModeSelective admits messages scoring at least the high threshold.
	ModeSelective FilterMode = "selective"

	// ModeBalanced admits messages scoring at least the medium threshold.
	ModeBalanced FilterMode = "balanced"
)

// Source tells where an Evaluation came from.
type Source string

const (
	SourceCache    Source = "cache"
	SourceLLM      Source = "llm"
	SourceFallback Source = "fallback"
)

// Evaluation is the importance verdict for one message.
type Evaluation struct {
	Score  float64
	Level  Level
	Source Source
}

// WeightRecord is one scored message kept in the in-memory history.
type WeightRecord struct {
	MessageID      string
	Score          float64
	Level          Level
	Timestamp      time.Time
	Excerpt        string
	ContextExcerpt string
}

// Clamp bounds v to [lo, hi]. NaN maps to lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
