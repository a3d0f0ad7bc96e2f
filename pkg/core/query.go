package core

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/oceanbase/impression-go/pkg/storage"
)

// DimensionValue is one non-empty impression dimension.
type DimensionValue struct {
	Dimension storage.Dimension
	Name      string
	Value     string
}

// ProfileView is a read-only view of a user's profile.
type ProfileView struct {
	Profile *storage.UserProfile

	// Summary is the one-line impression summary.
	Summary string

	// Dimensions holds the non-empty dimensions in canonical order.
	Dimensions []DimensionValue
}

// SearchResult is the outcome of a keyword search over one profile.
//
// Found reports whether the user has a profile at all, so an unknown user
// and a profile without matches stay distinguishable.
type SearchResult struct {
	UserID  string
	Keyword string
	Found   bool
	Matches []DimensionValue
	Profile *storage.UserProfile
}

// GetProfile returns the profile of userID.
//
// Returns an error wrapping ErrProfileNotFound if the user has no profile.
func (c *Client) GetProfile(ctx context.Context, userID string) (*ProfileView, error) {
	profile, err := c.lookup(ctx, "GetProfile", userID)
	if err != nil {
		return nil, err
	}
	return &ProfileView{
		Profile:    profile,
		Summary:    profile.Summary(),
		Dimensions: dimensionValues(profile, nil),
	}, nil
}

// SearchProfile finds the dimensions of userID's profile containing keyword,
// compared case-insensitively.
//
// An unknown user is not an error: the result has Found set to false.
func (c *Client) SearchProfile(ctx context.Context, userID, keyword string) (*SearchResult, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, NewImpressionError("SearchProfile", fmt.Errorf("%w: empty keyword", ErrInvalidInput))
	}

	result := &SearchResult{UserID: userID, Keyword: keyword}
	profile, err := c.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, NewImpressionError("SearchProfile", err)
	}
	if profile == nil {
		return result, nil
	}

	needle := strings.ToLower(keyword)
	result.Found = true
	result.Profile = profile
	result.Matches = dimensionValues(profile, func(value string) bool {
		return strings.Contains(strings.ToLower(value), needle)
	})
	return result, nil
}

// ListProfiles returns up to limit profiles, most recently updated first.
// A limit of zero or less returns every profile.
func (c *Client) ListProfiles(ctx context.Context, limit int) ([]*storage.UserProfile, error) {
	profiles, err := c.store.ListProfiles(ctx, limit)
	if err != nil {
		return nil, NewImpressionError("ListProfiles", err)
	}
	return profiles, nil
}

// GetDimension returns one dimension of userID's profile. The name may be
// the wire key or its short alias.
func (c *Client) GetDimension(ctx context.Context, userID, name string) (string, error) {
	dim, ok := storage.ParseDimension(name)
	if !ok {
		return "", NewImpressionError("GetDimension", fmt.Errorf("%w: %s", ErrUnknownDimension, name))
	}
	profile, err := c.lookup(ctx, "GetDimension", userID)
	if err != nil {
		return "", err
	}
	return profile.GetDimension(dim), nil
}

// SetDimension overwrites one dimension of userID's profile, creating the
// profile if needed. The message count is left unchanged.
func (c *Client) SetDimension(ctx context.Context, userID, name, value string) (*storage.UserProfile, error) {
	dim, ok := storage.ParseDimension(name)
	if !ok {
		return nil, NewImpressionError("SetDimension", fmt.Errorf("%w: %s", ErrUnknownDimension, name))
	}
	if strings.TrimSpace(userID) == "" {
		return nil, NewImpressionError("SetDimension", fmt.Errorf("%w: missing user id", ErrInvalidInput))
	}

	var profile *storage.UserProfile
	err := c.withUser(ctx, userID, func(ctx context.Context) error {
		var err error
		profile, err = c.store.GetOrCreateProfile(ctx, userID)
		if err != nil {
			return err
		}
		profile.SetDimension(dim, strings.TrimSpace(value))
		now := c.now().UTC()
		profile.LastInteraction = now
		profile.UpdatedAt = now
		return c.store.SaveProfile(ctx, profile)
	})
	if err != nil {
		return nil, NewImpressionError("SetDimension", err)
	}
	return profile, nil
}

// SetAffection overwrites userID's affection score. The score is clamped to
// [0, 100] and the level re-derived from the configured bands. NaN is rejected
// with ErrInvalidInput.
func (c *Client) SetAffection(ctx context.Context, userID string, score float64) (*storage.UserProfile, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, NewImpressionError("SetAffection", fmt.Errorf("%w: missing user id", ErrInvalidInput))
	}
	if math.IsNaN(score) {
		return nil, NewImpressionError("SetAffection", fmt.Errorf("%w: score is not a number", ErrInvalidInput))
	}

	var profile *storage.UserProfile
	err := c.withUser(ctx, userID, func(ctx context.Context) error {
		var err error
		profile, err = c.updater.Set(ctx, userID, score)
		return err
	})
	if err != nil {
		return nil, NewImpressionError("SetAffection", err)
	}
	return profile, nil
}

// GetState returns the message counters of userID.
//
// Returns an error wrapping ErrStateNotFound if no message was recorded.
func (c *Client) GetState(ctx context.Context, userID string) (*storage.UserMessageState, error) {
	state, err := c.store.GetState(ctx, userID)
	if err != nil {
		return nil, NewImpressionError("GetState", err)
	}
	if state == nil {
		return nil, NewImpressionError("GetState", fmt.Errorf("%w: %s", ErrStateNotFound, userID))
	}
	return state, nil
}

func (c *Client) lookup(ctx context.Context, op, userID string) (*storage.UserProfile, error) {
	profile, err := c.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, NewImpressionError(op, err)
	}
	if profile == nil {
		return nil, NewImpressionError(op, fmt.Errorf("%w: %s", ErrProfileNotFound, userID))
	}
	return profile, nil
}

// dimensionValues lists the non-empty dimensions of profile accepted by keep
// (nil keeps all).
func dimensionValues(profile *storage.UserProfile, keep func(string) bool) []DimensionValue {
	var out []DimensionValue
	for _, dim := range storage.Dimensions {
		value := strings.TrimSpace(profile.GetDimension(dim))
		if value == "" || (keep != nil && !keep(value)) {
			continue
		}
		out = append(out, DimensionValue{Dimension: dim, Name: dim.DisplayName(), Value: value})
	}
	return out
}
