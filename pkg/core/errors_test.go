package core_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	impression "github.com/oceanbase/impression-go/pkg/core"
	"github.com/oceanbase/impression-go/pkg/intelligence"
	"github.com/oceanbase/impression-go/pkg/llm"
	"github.com/oceanbase/impression-go/pkg/parser"
	"github.com/oceanbase/impression-go/pkg/storage"
)

func TestImpressionError(t *testing.T) {
	originalErr := errors.New("original error")
	err := impression.NewImpressionError("test_operation", originalErr)

	assert.Equal(t, "impression: test_operation: original error", err.Error())
	assert.ErrorIs(t, err, originalErr)

	var impErr *impression.ImpressionError
	assert.True(t, errors.As(err, &impErr))
	assert.Equal(t, "test_operation", impErr.Op)

	assert.NoError(t, impression.NewImpressionError("noop", nil))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want impression.ErrorKind
	}{
		{name: "nil", err: nil, want: impression.KindNone},
		{name: "transport", err: fmt.Errorf("%w: weight: boom", llm.ErrTransport), want: impression.KindTransport},
		{name: "circuit open", err: fmt.Errorf("%w: %w", llm.ErrCircuitOpen, llm.ErrTransport), want: impression.KindTransport},
		{name: "empty response", err: llm.ErrEmptyResponse, want: impression.KindTransport},
		{name: "deadline", err: context.DeadlineExceeded, want: impression.KindTransport},
		{name: "no fields", err: fmt.Errorf("merge: %w", parser.ErrNoFields), want: impression.KindParse},
		{name: "unknown sentiment", err: intelligence.ErrUnknownSentiment, want: impression.KindParse},
		{name: "persistence", err: storage.NewStoreError("SaveProfile", errors.New("disk full")), want: impression.KindPersistence},
		{name: "not configured", err: llm.ErrNotConfigured, want: impression.KindConfiguration},
		{name: "invalid config", err: impression.NewImpressionError("Validate", impression.ErrInvalidConfig), want: impression.KindConfiguration},
		{name: "invalid input", err: impression.ErrInvalidInput, want: impression.KindInput},
		{name: "profile not found", err: impression.ErrProfileNotFound, want: impression.KindInput},
		{name: "other", err: errors.New("mystery"), want: impression.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, impression.KindOf(tt.err))
		})
	}
}
