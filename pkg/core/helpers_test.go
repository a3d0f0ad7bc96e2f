package core_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	impression "github.com/oceanbase/impression-go/pkg/core"
	"github.com/oceanbase/impression-go/pkg/llm"
)

const (
	interestedReply = "WEIGHT_SCORE: 80;WEIGHT_LEVEL: high;REASON: 透露了兴趣爱好"
	smallTalkReply  = "WEIGHT_SCORE: 15;WEIGHT_LEVEL: low;REASON: 简单寒暄"
	impressionReply = "personality_traits: 开朗;interests_hobbies: 科幻小说;communication_style: 待观察"
	friendlyReply   = "TYPE: friendly;REASON: 表达了喜好"
	neutralReply    = "TYPE: neutral;REASON: 普通回应"
)

var errUpstream = errors.New("upstream unavailable")

// scriptedLLM is an llm.Provider that tells the purpose of a call from its
// token budget. Weight scores depend on whether the prompt mentions sci-fi.
type scriptedLLM struct {
	mu         sync.Mutex
	impression string
	affection  string
	failWeight bool
	calls      map[llm.Purpose]int
}

func newScriptedLLM() *scriptedLLM {
	return &scriptedLLM{
		impression: impressionReply,
		affection:  friendlyReply,
		calls:      map[llm.Purpose]int{},
	}
}

func (s *scriptedLLM) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	budgets := llm.DefaultBudgets()
	options := llm.ApplyGenerateOptions(opts)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch options.MaxTokens {
	case budgets[llm.PurposeWeight].MaxTokens:
		s.calls[llm.PurposeWeight]++
		if s.failWeight {
			return "", errUpstream
		}
		if strings.Contains(prompt, "sci-fi") {
			return interestedReply, nil
		}
		return smallTalkReply, nil
	case budgets[llm.PurposeImpression].MaxTokens:
		s.calls[llm.PurposeImpression]++
		return s.impression, nil
	case budgets[llm.PurposeAffection].MaxTokens:
		s.calls[llm.PurposeAffection]++
		return s.affection, nil
	}
	return "", errors.New("unexpected budget")
}

func (s *scriptedLLM) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	return s.Generate(ctx, messages[len(messages)-1].Content, opts...)
}

func (s *scriptedLLM) Close() error {
	return nil
}

func (s *scriptedLLM) count(purpose llm.Purpose) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[purpose]
}

func testConfig(t *testing.T) *impression.Config {
	t.Helper()
	config := impression.DefaultConfig()
	config.LLM.APIKey = "test-key"
	config.LLM.Breaker.Enabled = false
	config.Storage.SQLite.Path = filepath.Join(t.TempDir(), "impression.db")
	return config
}

func newTestClient(t *testing.T, config *impression.Config, provider llm.Provider, opts ...impression.Option) *impression.Client {
	t.Helper()
	if provider != nil {
		opts = append(opts, impression.WithProvider(provider))
	}
	client, err := impression.NewClient(config, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}
