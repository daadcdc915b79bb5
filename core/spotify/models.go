package spotify

import "musaic/model"

// User represents a Spotify user profile.
type User struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Email       string  `json:"email"`
	Country     string  `json:"country"`
	Product     string  `json:"product"`
	Images      []Image `json:"images"`
}

// Image represents an image resource.
type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// Artist is the simplified artist object.
type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Album is the simplified album object.
type Album struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Images []Image `json:"images"`
}

// Track represents a Spotify track.
type Track struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	URI        string   `json:"uri"`
	DurationMS int      `json:"duration_ms"`
	Artists    []Artist `json:"artists"`
	Album      Album    `json:"album"`
}

// SearchResponse is the body of GET /search?type=track.
type SearchResponse struct {
	Tracks struct {
		Items []Track `json:"items"`
		Total int     `json:"total"`
	} `json:"tracks"`
}

// Device represents a Spotify playback device.
type Device struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	IsActive      bool   `json:"is_active"`
	IsRestricted  bool   `json:"is_restricted"`
	VolumePercent *int   `json:"volume_percent"`
}

// DevicesResponse is the response from the devices endpoint.
type DevicesResponse struct {
	Devices []Device `json:"devices"`
}

// PlayerState is the body of GET /me/player.
type PlayerState struct {
	Device     Device `json:"device"`
	ProgressMS int    `json:"progress_ms"`
	IsPlaying  bool   `json:"is_playing"`
	Item       *Track `json:"item"`
}

// ArtistNames flattens the artist list.
func (t *Track) ArtistNames() []string {
	names := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		names[i] = a.Name
	}
	return names
}

// Summary converts the track into a search row. The list view uses the
// smallest cover, which Spotify orders last (normally the third image).
func (t *Track) Summary() model.TrackSummary {
	return model.TrackSummary{
		ID:          t.ID,
		Name:        t.Name,
		Artists:     t.ArtistNames(),
		AlbumArtURL: thumbnail(t.Album.Images),
		URI:         t.URI,
	}
}

func thumbnail(images []Image) string {
	switch {
	case len(images) > 2:
		return images[2].URL
	case len(images) > 0:
		return images[len(images)-1].URL
	default:
		return ""
	}
}

// Snapshot converts the Web API state into the playback snapshot.
func (s *PlayerState) Snapshot() *model.PlaybackState {
	state := &model.PlaybackState{
		Paused:     !s.IsPlaying,
		PositionMs: s.ProgressMS,
	}
	if s.Item != nil {
		state.DurationMs = s.Item.DurationMS
		var art string
		if len(s.Item.Album.Images) > 0 {
			art = s.Item.Album.Images[0].URL
		}
		state.CurrentTrack = &model.CurrentTrack{
			ID:          s.Item.ID,
			Name:        s.Item.Name,
			Artists:     s.Item.ArtistNames(),
			AlbumArtURL: art,
			URI:         s.Item.URI,
		}
	}
	return state
}
