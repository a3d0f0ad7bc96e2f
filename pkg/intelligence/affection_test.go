package intelligence_test

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/impression-go/pkg/intelligence"
	"github.com/oceanbase/impression-go/pkg/llm"
	"github.com/oceanbase/impression-go/pkg/parser"
	"github.com/oceanbase/impression-go/pkg/storage"
)

func TestBands_Exhaustive(t *testing.T) {
	bands := intelligence.DefaultBands()
	require.NoError(t, bands.Validate())

	matches := func(score float64) int {
		n := 0
		for i, b := range bands {
			if score >= b.Min && (score < b.Max || (i == len(bands)-1 && score == b.Max)) {
				n++
			}
		}
		return n
	}

	for i := 0; i <= 2000; i++ {
		score := float64(i) * 0.05
		assert.Equal(t, 1, matches(score), "score %.2f", score)
		assert.NotEmpty(t, bands.LevelFor(score))
	}
}

func TestBands_LevelFor(t *testing.T) {
	bands := intelligence.DefaultBands()
	tests := []struct {
		score float64
		want  string
	}{
		{0, "厌恶"},
		{19.99, "厌恶"},
		{20, "冷淡"},
		{40, "一般"},
		{50, "一般"},
		{60, "友好"},
		{80, "亲密"},
		{100, "亲密"},
		{-1, storage.DefaultAffectionLevel},
		{101, storage.DefaultAffectionLevel},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.2f", tt.score), func(t *testing.T) {
			assert.Equal(t, tt.want, bands.LevelFor(tt.score))
		})
	}
}

func TestBands_Validate(t *testing.T) {
	tests := []struct {
		name  string
		bands intelligence.Bands
	}{
		{"empty", intelligence.Bands{}},
		{"gap", intelligence.Bands{{Min: 0, Max: 40, Label: "a"}, {Min: 50, Max: 100, Label: "b"}}},
		{"overlap", intelligence.Bands{{Min: 0, Max: 60, Label: "a"}, {Min: 50, Max: 100, Label: "b"}}},
		{"short", intelligence.Bands{{Min: 0, Max: 50, Label: "a"}}},
		{"late start", intelligence.Bands{{Min: 10, Max: 100, Label: "a"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.bands.Validate())
		})
	}
}

func TestAffectionUpdater_Update(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  float64
		level string
	}{
		{"friendly", "TYPE: friendly;REASON: 友善", 52, "一般"},
		{"neutral", "TYPE: neutral;REASON: 客观", 50.5, "一般"},
		{"negative", "TYPE: negative;REASON: 抱怨", 47, "一般"},
		{"upper case", "TYPE: FRIENDLY", 52, "一般"},
		{"sentiment fallback", "SENTIMENT: negative", 47, "一般"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			c := newFakeClassifier().reply(llm.PurposeAffection, tt.reply)
			u := intelligence.NewAffectionUpdater(c, store, intelligence.AffectionConfig{}, nil)

			desc, err := u.Update(context.Background(), "u1", "hello")
			require.NoError(t, err)
			assert.Contains(t, desc, "50.0 -> ")

			profile, err := store.GetProfile(context.Background(), "u1")
			require.NoError(t, err)
			assert.InDelta(t, tt.want, profile.AffectionScore, 1e-9)
			assert.Equal(t, tt.level, profile.AffectionLevel)
		})
	}
}

func TestAffectionUpdater_ClampsAndReband(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	c := newFakeClassifier().reply(llm.PurposeAffection, "TYPE: friendly")
	u := intelligence.NewAffectionUpdater(c, store, intelligence.AffectionConfig{}, nil)

	_, err := u.Set(ctx, "u1", 99)
	require.NoError(t, err)

	_, err = u.Update(ctx, "u1", "you are great")
	require.NoError(t, err)

	profile, err := store.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, profile.AffectionScore)
	assert.Equal(t, "亲密", profile.AffectionLevel)

	c = newFakeClassifier().reply(llm.PurposeAffection, "TYPE: negative")
	u = intelligence.NewAffectionUpdater(c, store, intelligence.AffectionConfig{}, nil)
	_, err = u.Set(ctx, "u1", 1)
	require.NoError(t, err)
	_, err = u.Update(ctx, "u1", "you are awful")
	require.NoError(t, err)

	profile, err = store.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, profile.AffectionScore)
	assert.Equal(t, "厌恶", profile.AffectionLevel)
}

func TestAffectionUpdater_Set(t *testing.T) {
	store := newStore(t)
	u := intelligence.NewAffectionUpdater(nil, store, intelligence.AffectionConfig{}, nil)

	profile, err := u.Set(context.Background(), "u1", 250)
	require.NoError(t, err)
	assert.Equal(t, 100.0, profile.AffectionScore)
	assert.Equal(t, "亲密", profile.AffectionLevel)

	profile, err = u.Set(context.Background(), "u1", 65)
	require.NoError(t, err)
	assert.Equal(t, "友好", profile.AffectionLevel)
}

func TestAffectionUpdater_SetNonFinite(t *testing.T) {
	store := newStore(t)
	u := intelligence.NewAffectionUpdater(nil, store, intelligence.AffectionConfig{}, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		score float64
		want  float64
		level string
	}{
		{"nan", math.NaN(), 0, "厌恶"},
		{"positive infinity", math.Inf(1), 100, "亲密"},
		{"negative infinity", math.Inf(-1), 0, "厌恶"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := u.Set(ctx, "u1", tt.score)
			require.NoError(t, err)

			stored, err := store.GetProfile(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, stored.AffectionScore)
			assert.Equal(t, tt.level, stored.AffectionLevel)
		})
	}
}

func TestAffectionUpdater_CustomIncrements(t *testing.T) {
	store := newStore(t)
	c := newFakeClassifier().reply(llm.PurposeAffection, "TYPE: friendly")
	u := intelligence.NewAffectionUpdater(c, store, intelligence.AffectionConfig{
		Increments: intelligence.Increments{Friendly: 15, Neutral: 1, Negative: -10},
	}, nil)

	_, err := u.Update(context.Background(), "u1", "hi")
	require.NoError(t, err)

	profile, err := store.GetProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 65.0, profile.AffectionScore)
	assert.Equal(t, "友好", profile.AffectionLevel)
}

func TestAffectionUpdater_ZeroIncrementKept(t *testing.T) {
	store := newStore(t)
	c := newFakeClassifier().reply(llm.PurposeAffection, "TYPE: friendly")
	u := intelligence.NewAffectionUpdater(c, store, intelligence.AffectionConfig{
		Increments: intelligence.Increments{Friendly: 0, Neutral: 1, Negative: -1},
	}, nil)

	summary, err := u.Update(context.Background(), "u1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "friendly: 50.0 -> 50.0 (一般)", summary)
}

func TestAffectionUpdater_Failures(t *testing.T) {
	tests := []struct {
		name    string
		c       intelligence.Classifier
		wantErr error
	}{
		{"transport", newFakeClassifier().fail(llm.PurposeAffection, llm.ErrTransport), llm.ErrTransport},
		{"unknown label", newFakeClassifier().reply(llm.PurposeAffection, "TYPE: sarcastic"), intelligence.ErrUnknownSentiment},
		{"no label", newFakeClassifier().reply(llm.PurposeAffection, "The user seems happy."), parser.ErrNoFields},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			u := intelligence.NewAffectionUpdater(tt.c, store, intelligence.AffectionConfig{}, nil)

			_, err := u.Update(context.Background(), "u1", "hello")
			assert.ErrorIs(t, err, tt.wantErr)

			profile, err := store.GetProfile(context.Background(), "u1")
			require.NoError(t, err)
			assert.Nil(t, profile)
		})
	}
}
