package intelligence_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oceanbase/impression-go/pkg/llm"
	"github.com/oceanbase/impression-go/pkg/storage"
	sqliteStore "github.com/oceanbase/impression-go/pkg/storage/sqlite"
)

// fakeClassifier answers by purpose and records every prompt it receives.
// Replies queued for a purpose are consumed in order; the last one repeats.
type fakeClassifier struct {
	mu      sync.Mutex
	replies map[llm.Purpose][]string
	errs    map[llm.Purpose]error
	prompts map[llm.Purpose][]string
}

func newFakeClassifier() *fakeClassifier {
	return &fakeClassifier{
		replies: map[llm.Purpose][]string{},
		errs:    map[llm.Purpose]error{},
		prompts: map[llm.Purpose][]string{},
	}
}

func (c *fakeClassifier) reply(purpose llm.Purpose, texts ...string) *fakeClassifier {
	c.replies[purpose] = append(c.replies[purpose], texts...)
	return c
}

func (c *fakeClassifier) fail(purpose llm.Purpose, err error) *fakeClassifier {
	c.errs[purpose] = err
	return c
}

func (c *fakeClassifier) calls(purpose llm.Purpose) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prompts[purpose])
}

func (c *fakeClassifier) lastPrompt(purpose llm.Purpose) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.prompts[purpose]
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

func (c *fakeClassifier) Classify(ctx context.Context, purpose llm.Purpose, prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts[purpose] = append(c.prompts[purpose], prompt)

	if err := c.errs[purpose]; err != nil {
		return "", err
	}
	queue := c.replies[purpose]
	if len(queue) == 0 {
		return "", errors.New("no scripted reply")
	}
	text := queue[0]
	if len(queue) > 1 {
		c.replies[purpose] = queue[1:]
	}
	return text, nil
}

func newStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := sqliteStore.NewClient(&sqliteStore.Config{DBPath: filepath.Join(t.TempDir(), "test.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}
