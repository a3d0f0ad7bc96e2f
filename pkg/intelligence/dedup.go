package intelligence

import (
	"context"

	"go.uber.org/zap"

	"github.com/oceanbase/impression-go/pkg/storage"
)

// DedupTracker records which messages have been consumed so each message
// enriches a profile at most once.
//
// The uniqueness of (user, message) is enforced by the store; recording a
// pair twice is a no-op, not an error.
//
// Example usage:
//
//	tracker := NewDedupTracker(store, logger)
//	done, err := tracker.IsProcessed(ctx, "user_001", "msg_001")
//	if !done {
//	    // enrich, then
//	    _, err = tracker.Record(ctx, "user_001", "msg_001", profileID)
//	}
type DedupTracker struct {
	store  storage.ProcessedStore
	logger *zap.Logger
}

// NewDedupTracker creates a DedupTracker over store.
func NewDedupTracker(store storage.ProcessedStore, logger *zap.Logger) *DedupTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DedupTracker{store: store, logger: logger}
}

// IsProcessed reports whether (userID, messageID) has been recorded.
func (t *DedupTracker) IsProcessed(ctx context.Context, userID, messageID string) (bool, error) {
	return t.store.IsProcessed(ctx, userID, messageID)
}

// Record marks (userID, messageID) processed, linking the profile row when
// profileID is non-zero. It reports false when the pair was already recorded.
func (t *DedupTracker) Record(ctx context.Context, userID, messageID string, profileID int64) (bool, error) {
	inserted, err := t.store.MarkProcessed(ctx, &storage.ProcessedMessage{
		UserID:    userID,
		MessageID: messageID,
		ProfileID: profileID,
	})
	if err != nil {
		return false, err
	}
	if !inserted {
		t.logger.Debug("message already recorded",
			zap.String("user_id", userID),
			zap.String("message_id", messageID))
	}
	return inserted, nil
}

// RecordAll records every id in messageIDs and returns how many were new.
// It stops at the first storage error.
func (t *DedupTracker) RecordAll(ctx context.Context, userID string, messageIDs []string, profileID int64) (int, error) {
	inserted := 0
	for _, id := range messageIDs {
		ok, err := t.Record(ctx, userID, id, profileID)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}
