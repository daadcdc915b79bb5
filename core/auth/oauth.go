package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"musaic/model"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const (
	googleUserInfoURL  = "https://openidconnect.googleapis.com/v1/userinfo"
	spotifyUserInfoURL = "https://api.spotify.com/v1/me"
)

// SpotifyScopes covers profile read plus everything the player page needs.
var SpotifyScopes = []string{
	"user-read-email",
	"user-read-private",
	"streaming",
	"user-read-playback-state",
	"user-modify-playback-state",
}

// Provider is one OAuth2 sign-in option.
type Provider struct {
	Name       string
	Config     *oauth2.Config
	ProfileURL string
	parse      func([]byte) (*model.ProviderProfile, error)
	httpClient *http.Client
}

// NewGoogleProvider builds the Google sign-in provider.
func NewGoogleProvider(clientID, clientSecret, redirectURL string) *Provider {
	return &Provider{
		Name: model.ProviderGoogle,
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     endpoints.Google,
		},
		ProfileURL: googleUserInfoURL,
		parse:      parseGoogleProfile,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// NewSpotifyProvider builds the Spotify sign-in provider. Its access token
// doubles as the player's bearer token.
func NewSpotifyProvider(clientID, clientSecret, redirectURL string) *Provider {
	return &Provider{
		Name: model.ProviderSpotify,
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       SpotifyScopes,
			Endpoint:     endpoints.Spotify,
		},
		ProfileURL: spotifyUserInfoURL,
		parse:      parseSpotifyProfile,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// AuthCodeURL returns the provider consent page URL.
func (p *Provider) AuthCodeURL(state string) string {
	return p.Config.AuthCodeURL(state)
}

// Exchange trades an authorization code for a token.
func (p *Provider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := p.Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	return token, nil
}

// FetchProfile reads the signed-in account from the provider.
func (p *Provider) FetchProfile(ctx context.Context, token *oauth2.Token) (*model.ProviderProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.ProfileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile request: %w", err)
	}
	token.SetAuthHeader(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s profile returned status %d", p.Name, resp.StatusCode)
	}

	profile, err := p.parse(body)
	if err != nil {
		return nil, err
	}
	if profile.Subject == "" {
		return nil, fmt.Errorf("%s profile has no subject", p.Name)
	}
	profile.Provider = p.Name
	return profile, nil
}

func parseGoogleProfile(body []byte) (*model.ProviderProfile, error) {
	var info struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse google profile: %w", err)
	}
	return &model.ProviderProfile{
		Subject:       info.Sub,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
		Name:          info.Name,
		AvatarURL:     info.Picture,
	}, nil
}

func parseSpotifyProfile(body []byte) (*model.ProviderProfile, error) {
	var info struct {
		ID          string `json:"id"`
		Email       string `json:"email"`
		DisplayName string `json:"display_name"`
		Images      []struct {
			URL string `json:"url"`
		} `json:"images"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse spotify profile: %w", err)
	}
	// Spotify 不保证邮箱已验证，EmailVerified 保持 false
	profile := &model.ProviderProfile{
		Subject: info.ID,
		Email:   info.Email,
		Name:    info.DisplayName,
	}
	if len(info.Images) > 0 {
		profile.AvatarURL = info.Images[0].URL
	}
	return profile, nil
}
