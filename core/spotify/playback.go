package spotify

import (
	"context"
	"net/url"
	"strconv"
)

type playBody struct {
	URIs []string `json:"uris,omitempty"`
}

func deviceQuery(deviceID string) url.Values {
	if deviceID == "" {
		return nil
	}
	return url.Values{"device_id": []string{deviceID}}
}

// AddToQueue appends a track to the user's remote playback queue.
func (c *Client) AddToQueue(ctx context.Context, trackURI, deviceID string) error {
	params := url.Values{}
	params.Set("uri", trackURI)
	if deviceID != "" {
		params.Set("device_id", deviceID)
	}
	return c.post(ctx, "/me/player/queue", params, nil)
}

// Play starts the given URIs on a device.
func (c *Client) Play(ctx context.Context, deviceID string, uris []string) error {
	return c.put(ctx, "/me/player/play", deviceQuery(deviceID), playBody{URIs: uris})
}

// Resume continues the current playback.
func (c *Client) Resume(ctx context.Context, deviceID string) error {
	// The endpoint expects a JSON body even when resuming.
	return c.put(ctx, "/me/player/play", deviceQuery(deviceID), playBody{})
}

// Pause pauses playback.
func (c *Client) Pause(ctx context.Context, deviceID string) error {
	return c.put(ctx, "/me/player/pause", deviceQuery(deviceID), nil)
}

// Next skips to the next track.
func (c *Client) Next(ctx context.Context, deviceID string) error {
	return c.post(ctx, "/me/player/next", deviceQuery(deviceID), nil)
}

// Previous skips to the previous track.
func (c *Client) Previous(ctx context.Context, deviceID string) error {
	return c.post(ctx, "/me/player/previous", deviceQuery(deviceID), nil)
}

// Seek seeks to a position in the current track.
func (c *Client) Seek(ctx context.Context, positionMs int, deviceID string) error {
	params := url.Values{}
	params.Set("position_ms", strconv.Itoa(positionMs))
	if deviceID != "" {
		params.Set("device_id", deviceID)
	}
	return c.put(ctx, "/me/player/seek", params, nil)
}

// SetVolume sets the playback volume (0-100).
func (c *Client) SetVolume(ctx context.Context, percent int, deviceID string) error {
	params := url.Values{}
	params.Set("volume_percent", strconv.Itoa(percent))
	if deviceID != "" {
		params.Set("device_id", deviceID)
	}
	return c.put(ctx, "/me/player/volume", params, nil)
}

// PlayerState returns the current playback, or nil when nothing is active
// (the endpoint answers 204).
func (c *Client) PlayerState(ctx context.Context) (*PlayerState, error) {
	var state *PlayerState
	if err := c.get(ctx, "/me/player", nil, &state); err != nil {
		return nil, err
	}
	return state, nil
}

// Devices lists the user's available devices.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	var resp DevicesResponse
	if err := c.get(ctx, "/me/player/devices", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}
