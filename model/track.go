package model

// TrackSummary is one row of a search result list.
type TrackSummary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Artists     []string `json:"artists"`
	AlbumArtURL string   `json:"albumArtUrl,omitempty"`
	URI         string   `json:"uri"`
}

// SearchResult is replaced wholesale by every completed search.
type SearchResult struct {
	Query  string         `json:"query"`
	Tracks []TrackSummary `json:"tracks"`
}
