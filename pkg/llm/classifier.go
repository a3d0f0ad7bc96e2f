package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Purpose names the kind of classification a prompt asks for.
// Each purpose carries its own generation budget.
type Purpose string

const (
	// PurposeImpression extracts the eight impression dimensions.
	PurposeImpression Purpose = "impression"

	// PurposeAffection classifies message sentiment.
	PurposeAffection Purpose = "affection"

	// PurposeWeight scores message importance.
	PurposeWeight Purpose = "weight"
)

// Budget bounds a single classification call.
type Budget struct {
	Temperature float64
	MaxTokens   int
}

// DefaultBudgets returns the generation budget for every purpose.
func DefaultBudgets() map[Purpose]Budget {
	return map[Purpose]Budget{
		PurposeImpression: {Temperature: 0.3, MaxTokens: 2000},
		PurposeAffection:  {Temperature: 0.3, MaxTokens: 1500},
		PurposeWeight:     {Temperature: 0.2, MaxTokens: 1000},
	}
}

// BreakerConfig configures the circuit breaker guarding the provider.
type BreakerConfig struct {
	// Enabled turns the breaker on. When false every call reaches the provider.
	Enabled bool

	// MinRequests is the number of requests observed before the breaker may trip.
	MinRequests uint32

	// FailureRatio trips the breaker once this share of requests failed.
	FailureRatio float64

	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration

	// Interval resets the failure counts while closed. Zero never resets.
	Interval time.Duration
}

// ClassifierConfig configures a Classifier.
type ClassifierConfig struct {
	// APIKey and Model must both be set or every call fails with ErrNotConfigured.
	APIKey string
	Model  string

	// Timeout bounds each call. Zero means 30 seconds.
	Timeout time.Duration

	// Budgets overrides DefaultBudgets per purpose.
	Budgets map[Purpose]Budget

	// SystemPrompt, when set, is sent as a system message ahead of every prompt.
	SystemPrompt string

	// TopP and Stop are passed to every call. Zero values keep provider defaults.
	TopP float64
	Stop []string

	Breaker BreakerConfig
}

// Observer receives the outcome of every classification call.
type Observer func(purpose Purpose, elapsed time.Duration, err error)

// Classifier turns a prompt into raw model text for one Purpose.
//
// It checks configuration before any network attempt, bounds every call with
// a timeout, and short-circuits through a circuit breaker after repeated
// transport failures. All transport problems surface as ErrTransport so callers
// can take their fallback path.
type Classifier struct {
	provider Provider
	cfg      ClassifierConfig
	budgets  map[Purpose]Budget
	breaker  *gobreaker.CircuitBreaker
	observer Observer
	logger   *zap.Logger
}

// NewClassifier creates a Classifier over provider.
//
// Parameters:
//   - provider: LLM transport (nil yields a classifier that is never configured)
//   - cfg: Credentials check, timeout, budgets and breaker settings
//   - logger: Structured logger (nil disables logging)
//
// Returns a ready to use Classifier.
func NewClassifier(provider Provider, cfg ClassifierConfig, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	budgets := DefaultBudgets()
	for purpose, budget := range cfg.Budgets {
		budgets[purpose] = budget
	}

	c := &Classifier{
		provider: provider,
		cfg:      cfg,
		budgets:  budgets,
		logger:   logger,
	}
	if cfg.Breaker.Enabled {
		c.breaker = newBreaker(cfg.Breaker, logger)
	}
	return c
}

func newBreaker(cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker {
	minRequests := cfg.MinRequests
	if minRequests == 0 {
		minRequests = 5
	}
	ratio := cfg.FailureRatio
	if ratio <= 0 {
		ratio = 0.8
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = 60 * time.Second
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-classifier",
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		// Only transport failures count against the provider.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrTransport)
		},
	})
}

// SetObserver registers a callback invoked after every call.
func (c *Classifier) SetObserver(observer Observer) {
	c.observer = observer
}

// Configured reports whether a provider, an API key and a model are present.
func (c *Classifier) Configured() bool {
	return c.provider != nil && c.cfg.APIKey != "" && c.cfg.Model != ""
}

// Budget returns the generation budget used for purpose.
func (c *Classifier) Budget(purpose Purpose) Budget {
	if budget, ok := c.budgets[purpose]; ok {
		return budget
	}
	return Budget{Temperature: 0.7, MaxTokens: 1000}
}

// Classify sends prompt to the provider with the budget for purpose.
//
// Returns the raw model text. Errors wrap ErrNotConfigured, ErrTransport,
// ErrCircuitOpen (which also matches ErrTransport) or ErrEmptyResponse.
func (c *Classifier) Classify(ctx context.Context, purpose Purpose, prompt string) (string, error) {
	start := time.Now()
	text, err := c.classify(ctx, purpose, prompt)
	if c.observer != nil {
		c.observer(purpose, time.Since(start), err)
	}
	return text, err
}

// Impression classifies prompt with the impression budget.
func (c *Classifier) Impression(ctx context.Context, prompt string) (string, error) {
	return c.Classify(ctx, PurposeImpression, prompt)
}

// Affection classifies prompt with the affection budget.
func (c *Classifier) Affection(ctx context.Context, prompt string) (string, error) {
	return c.Classify(ctx, PurposeAffection, prompt)
}

// Weight classifies prompt with the weight budget.
func (c *Classifier) Weight(ctx context.Context, prompt string) (string, error) {
	return c.Classify(ctx, PurposeWeight, prompt)
}

func (c *Classifier) classify(ctx context.Context, purpose Purpose, prompt string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	budget := c.Budget(purpose)
	call := func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		text, err := c.generate(callCtx, prompt, budget)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrTransport, purpose, err)
		}
		if strings.TrimSpace(text) == "" {
			return "", ErrEmptyResponse
		}
		return text, nil
	}

	if c.breaker == nil {
		out, err := call()
		return out.(string), err
	}

	out, err := c.breaker.Execute(call)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.logger.Debug("classifier call short-circuited", zap.String("purpose", string(purpose)))
		return "", fmt.Errorf("%w: %w", ErrCircuitOpen, ErrTransport)
	}
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func (c *Classifier) generate(ctx context.Context, prompt string, budget Budget) (string, error) {
	opts := []GenerateOption{
		WithTemperature(budget.Temperature),
		WithMaxTokens(budget.MaxTokens),
	}
	if c.cfg.TopP > 0 {
		opts = append(opts, WithTopP(c.cfg.TopP))
	}
	if len(c.cfg.Stop) > 0 {
		opts = append(opts, WithStop(c.cfg.Stop...))
	}

	if c.cfg.SystemPrompt == "" {
		return c.provider.Generate(ctx, prompt, opts...)
	}
	return c.provider.GenerateWithMessages(ctx, []Message{
		{Role: "system", Content: c.cfg.SystemPrompt},
		{Role: "user", Content: prompt},
	}, opts...)
}
