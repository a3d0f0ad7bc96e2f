package core

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/oceanbase/impression-go/pkg/intelligence"
	"github.com/oceanbase/impression-go/pkg/storage"
)

// Stage is the last state a message reached in the pipeline.
type Stage string

const (
	// StageDeduplicated means the message had been processed before and was skipped.
	StageDeduplicated Stage = "deduplicated"

	// StageRecorded means enrichment is switched off and the message was only recorded.
	StageRecorded Stage = "recorded"

	// StageDone means every step was attempted and the message was recorded.
	StageDone Stage = "done"
)

// StepResult is the outcome of one enrichment step.
type StepResult struct {
	Attempted bool
	Summary   string
	Err       error
}

// Succeeded reports whether the step ran without error.
func (s StepResult) Succeeded() bool {
	return s.Attempted && s.Err == nil
}

// ProcessResult describes what Process did with one message.
type ProcessResult struct {
	UserID    string
	MessageID string
	Stage     Stage

	Evaluation intelligence.Evaluation
	Admitted   bool

	// ContextIDs are the history messages sent with the impression prompt.
	ContextIDs []string

	Profile   StepResult
	Affection StepResult

	// Recorded is the number of processed-message records written.
	Recorded int

	// Status is a short human readable summary.
	Status string
}

// Outcome returns a low cardinality label for the result.
func (r *ProcessResult) Outcome() string {
	switch {
	case r.Stage == StageDeduplicated:
		return "duplicate"
	case r.Stage == StageRecorded:
		return "recorded"
	case r.Admitted:
		return "admitted"
	default:
		return "not_admitted"
	}
}

// Process runs one message through the enrichment pipeline.
//
// The pipeline:
//  1. Skips messages already recorded for the user
//  2. Scores the message and selects recent admissible context
//  3. Merges the impression profile when the score is admissible
//  4. Updates the affection score regardless of admission
//  5. Records the context and trigger messages as processed
//  6. Advances the per-user message counters
//
// Failures of steps 3 to 6 are logged and reported in the result; the
// message is still recorded. Process returns an error only when msg has no
// user id or no text, or when ctx is done before processing starts.
func (c *Client) Process(ctx context.Context, msg Message) (*ProcessResult, error) {
	msg.UserID = strings.TrimSpace(msg.UserID)
	msg.Text = strings.TrimSpace(msg.Text)
	if msg.UserID == "" {
		return nil, NewImpressionError("Process", fmt.Errorf("%w: missing user id", ErrInvalidInput))
	}
	if msg.Text == "" {
		return nil, NewImpressionError("Process", fmt.Errorf("%w: empty message", ErrInvalidInput))
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = c.now()
	}
	if msg.MessageID == "" {
		msg.MessageID = c.idNode.Generate().String()
	}

	var result *ProcessResult
	err := c.withUser(ctx, msg.UserID, func(ctx context.Context) error {
		result = c.process(ctx, msg)
		return nil
	})
	if err != nil {
		c.logger.Warn("message processing aborted",
			zap.String("user_id", msg.UserID),
			zap.String("message_id", msg.MessageID),
			zap.Error(err))
		return nil, NewImpressionError("Process", err)
	}
	c.metrics.observeResult(result)
	return result, nil
}

// ProcessEvent normalizes ev and processes it.
func (c *Client) ProcessEvent(ctx context.Context, ev Event) (*ProcessResult, error) {
	msg, err := NormalizeEvent(ev, c.idNode, c.now())
	if err != nil {
		return nil, err
	}
	return c.Process(ctx, msg)
}

func (c *Client) process(ctx context.Context, msg Message) *ProcessResult {
	log := c.logger.With(zap.String("user_id", msg.UserID), zap.String("message_id", msg.MessageID))
	result := &ProcessResult{UserID: msg.UserID, MessageID: msg.MessageID}

	done, err := c.tracker.IsProcessed(ctx, msg.UserID, msg.MessageID)
	if err != nil {
		log.Warn("dedup check failed, processing anyway", zap.Error(err))
	}
	if done {
		log.Debug("message already processed, skipping")
		result.Stage = StageDeduplicated
		result.Status = "消息已处理，跳过"
		return result
	}

	if !c.config.Features.AutoUpdate {
		result.Recorded = c.record(ctx, log, msg, nil, 0)
		c.advanceState(ctx, log, msg, result, 0)
		result.Stage = StageRecorded
		result.Status = "自动更新已关闭，仅记录消息"
		return result
	}

	log.Info("processing message", zap.String("excerpt", intelligence.Truncate(msg.Text, 50)))

	result.Evaluation = c.filter.Evaluate(ctx, msg.UserID, msg.MessageID, msg.Text, msg.Context)
	log.Debug("message evaluated",
		zap.Float64("score", result.Evaluation.Score),
		zap.String("level", string(result.Evaluation.Level)),
		zap.String("source", string(result.Evaluation.Source)))

	historyContext, contextIDs := c.filter.SelectRecentContext(msg.UserID, 0)
	result.ContextIDs = contextIDs

	result.Admitted = c.filter.IsAdmissible(result.Evaluation.Score)
	log.Info("admission decided",
		zap.String("mode", string(c.filter.Mode())),
		zap.Float64("score", result.Evaluation.Score),
		zap.Bool("admitted", result.Admitted))

	if result.Admitted {
		result.Profile.Attempted = true
		result.Profile.Summary, result.Profile.Err = c.merger.Merge(ctx, msg.UserID, msg.Text, historyContext)
		if result.Profile.Err != nil {
			log.Warn("profile update failed",
				zap.String("kind", string(KindOf(result.Profile.Err))),
				zap.Error(result.Profile.Err))
		} else {
			log.Info("profile updated", zap.String("summary", result.Profile.Summary))
		}
	}

	result.Affection.Attempted = true
	result.Affection.Summary, result.Affection.Err = c.updater.Update(ctx, msg.UserID, msg.Text)
	if result.Affection.Err != nil {
		log.Warn("affection update failed",
			zap.String("kind", string(KindOf(result.Affection.Err))),
			zap.Error(result.Affection.Err))
	} else {
		log.Info("affection updated", zap.String("summary", result.Affection.Summary))
	}

	profileID := c.profileID(ctx, log, msg.UserID)
	result.Recorded = c.record(ctx, log, msg, contextIDs, profileID)
	c.advanceState(ctx, log, msg, result, 1)

	result.Stage = StageDone
	result.Status = statusOf(result)
	return result
}

// profileID returns the row id of userID's profile, or zero when there is none.
func (c *Client) profileID(ctx context.Context, log *zap.Logger, userID string) int64 {
	profile, err := c.store.GetProfile(ctx, userID)
	if err != nil {
		log.Warn("profile lookup failed", zap.Error(err))
		return 0
	}
	if profile == nil {
		return 0
	}
	return profile.ID
}

// record marks the context messages and then the trigger as processed.
func (c *Client) record(ctx context.Context, log *zap.Logger, msg Message, contextIDs []string, profileID int64) int {
	ids := make([]string, 0, len(contextIDs)+1)
	ids = append(ids, contextIDs...)
	ids = append(ids, msg.MessageID)

	n, err := c.tracker.RecordAll(ctx, msg.UserID, ids, profileID)
	if err != nil {
		log.Error("recording processed messages failed", zap.Int("recorded", n), zap.Error(err))
	}
	return n
}

func (c *Client) advanceState(ctx context.Context, log *zap.Logger, msg Message, result *ProcessResult, processed int64) {
	delta := storage.StateDelta{
		MessageID: msg.MessageID,
		At:        msg.Timestamp,
		Total:     1,
		Processed: processed,
	}
	if result.Profile.Succeeded() {
		delta.ProfileUpdates = 1
	}
	if result.Affection.Succeeded() {
		delta.AffectionUpdates = 1
	}
	if err := c.store.IncrementState(ctx, msg.UserID, delta); err != nil {
		log.Error("message state update failed", zap.Error(err))
	}
}

func statusOf(r *ProcessResult) string {
	switch {
	case r.Profile.Succeeded() && r.Affection.Succeeded():
		return "印象和好感度更新完成"
	case r.Affection.Succeeded() && !r.Admitted:
		return "好感度更新完成，权重不足跳过印象更新"
	case r.Affection.Succeeded():
		return "好感度更新完成，印象更新失败"
	case r.Profile.Succeeded():
		return "印象更新完成，好感度更新失败"
	case r.Admitted:
		return "印象和好感度更新失败"
	default:
		return "好感度更新失败，权重不足跳过印象更新"
	}
}
