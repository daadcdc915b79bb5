package model

// CurrentTrack is the track held by a playback snapshot.
type CurrentTrack struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	Artists     []string `json:"artists"`
	AlbumArtURL string   `json:"albumArtUrl,omitempty"`
	URI         string   `json:"uri,omitempty"`
}

// PlaybackState is owned by the playback SDK; readers never mutate it.
type PlaybackState struct {
	Paused       bool          `json:"paused"`
	PositionMs   int           `json:"positionMs"`
	DurationMs   int           `json:"durationMs"`
	CurrentTrack *CurrentTrack `json:"currentTrack,omitempty"`
}

// Equal compares two snapshots field by field.
func (s *PlaybackState) Equal(o *PlaybackState) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.Paused != o.Paused || s.PositionMs != o.PositionMs || s.DurationMs != o.DurationMs {
		return false
	}
	a, b := s.CurrentTrack, o.CurrentTrack
	if a == nil || b == nil {
		return a == b
	}
	if a.ID != b.ID || a.Name != b.Name || a.URI != b.URI || a.AlbumArtURL != b.AlbumArtURL || len(a.Artists) != len(b.Artists) {
		return false
	}
	for i := range a.Artists {
		if a.Artists[i] != b.Artists[i] {
			return false
		}
	}
	return true
}
