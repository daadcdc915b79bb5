package spotify

import (
	"context"
	"net/url"
	"strconv"

	"musaic/model"
)

// Me returns the current user's profile.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.get(ctx, "/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// CheckPremium reports whether the account may use the playback SDK.
func (c *Client) CheckPremium(ctx context.Context) (bool, error) {
	user, err := c.Me(ctx)
	if err != nil {
		return false, err
	}
	return user.Product == "premium", nil
}

// SearchTracks searches the catalogue for tracks.
func (c *Client) SearchTracks(ctx context.Context, query string, limit int) (*model.SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("type", "track")
	params.Set("limit", strconv.Itoa(limit))

	var resp SearchResponse
	if err := c.get(ctx, "/search", params, &resp); err != nil {
		return nil, err
	}

	result := &model.SearchResult{
		Query:  query,
		Tracks: make([]model.TrackSummary, 0, len(resp.Tracks.Items)),
	}
	for i := range resp.Tracks.Items {
		result.Tracks = append(result.Tracks, resp.Tracks.Items[i].Summary())
	}
	return result, nil
}
