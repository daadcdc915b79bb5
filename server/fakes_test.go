package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"musaic/cache"
	"musaic/config"
	"musaic/core/auth"
	"musaic/core/player"
	"musaic/model"
	"musaic/repository"

	"golang.org/x/oauth2"
)

type memUsers struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*model.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[int64]*model.User)}
}

func (m *memUsers) CreateUser(user *model.User) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email || u.Username == user.Username {
			return 0, repository.ErrDuplicateUser
		}
	}
	m.nextID++
	user.ID = m.nextID
	user.CreatedAt = time.Now()
	cp := *user
	m.users[user.ID] = &cp
	return user.ID, nil
}

func (m *memUsers) find(match func(*model.User) bool) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memUsers) GetUserByID(id int64) (*model.User, error) {
	return m.find(func(u *model.User) bool { return u.ID == id })
}

func (m *memUsers) GetUserByEmail(email string) (*model.User, error) {
	return m.find(func(u *model.User) bool { return u.Email == email })
}

func (m *memUsers) GetUserByUsername(username string) (*model.User, error) {
	return m.find(func(u *model.User) bool { return u.Username == username })
}

func (m *memUsers) UpdateAvatar(userID int64, avatarURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return errors.New("no such user")
	}
	u.AvatarURL.String, u.AvatarURL.Valid = avatarURL, true
	return nil
}

type memIdentities struct {
	mu         sync.Mutex
	identities []model.OAuthIdentity
}

func (m *memIdentities) FindByProviderSubject(provider, subject string) (*model.OAuthIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.identities {
		if id.Provider == provider && id.Subject == subject {
			cp := id
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memIdentities) Link(identity *model.OAuthIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range m.identities {
		if id.Provider == identity.Provider && id.Subject == identity.Subject {
			if id.UserID != identity.UserID {
				return errors.New("identity belongs to another user")
			}
			m.identities[i].Email = identity.Email
			return nil
		}
	}
	m.identities = append(m.identities, *identity)
	return nil
}

type memTokens struct {
	mu       sync.Mutex
	states   map[string]string
	provider map[string]string
}

func newMemTokens() *memTokens {
	return &memTokens{states: make(map[string]string), provider: make(map[string]string)}
}

func providerKey(userID int64, provider string) string {
	return provider + ":" + strconv.FormatInt(userID, 10)
}

func (m *memTokens) SaveState(ctx context.Context, state, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state] = provider
	return nil
}

func (m *memTokens) ConsumeState(ctx context.Context, state string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	provider, ok := m.states[state]
	if !ok {
		return "", cache.ErrStateNotFound
	}
	delete(m.states, state)
	return provider, nil
}

func (m *memTokens) SaveProviderToken(ctx context.Context, userID int64, provider, token string, expiry time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.provider[providerKey(userID, provider)] = token
	return nil
}

func (m *memTokens) ProviderToken(ctx context.Context, userID int64, provider string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.provider[providerKey(userID, provider)]
	if !ok {
		return "", cache.ErrNoProviderToken
	}
	return token, nil
}

func (m *memTokens) DeleteProviderToken(ctx context.Context, userID int64, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.provider, providerKey(userID, provider))
	return nil
}

type fakeRelay struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (f *fakeRelay) Reply(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

type fakeSpotify struct {
	mu         sync.Mutex
	tokens     []string
	result     *model.SearchResult
	searchErr  error
	searches   []string
	queueErr   error
	queued     []string
	playErr    error
	playedOn   string
	played     []string
	premium    bool
	premiumErr error
}

func (f *fakeSpotify) factory(token string) SpotifyAPI {
	f.mu.Lock()
	f.tokens = append(f.tokens, token)
	f.mu.Unlock()
	return f
}

func (f *fakeSpotify) SearchTracks(ctx context.Context, query string, limit int) (*model.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, query)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if f.result != nil {
		return f.result, nil
	}
	return &model.SearchResult{Query: query}, nil
}

func (f *fakeSpotify) AddToQueue(ctx context.Context, trackURI, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued = append(f.queued, trackURI)
	return f.queueErr
}

func (f *fakeSpotify) Play(ctx context.Context, deviceID string, uris []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playedOn = deviceID
	f.played = append(f.played, uris...)
	return f.playErr
}

func (f *fakeSpotify) CheckPremium(ctx context.Context) (bool, error) {
	return f.premium, f.premiumErr
}

func (f *fakeSpotify) searchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.searches)
}

type fakeProvider struct {
	name    string
	profile model.ProviderProfile
	token   *oauth2.Token
}

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://" + p.name + ".test/authorize?state=" + state
}

func (p *fakeProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, errors.New("missing code")
	}
	return p.token, nil
}

func (p *fakeProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*model.ProviderProfile, error) {
	profile := p.profile
	return &profile, nil
}

type testEnv struct {
	deps    Dependencies
	users   *memUsers
	idents  *memIdentities
	tokens  *memTokens
	relay   *fakeRelay
	spotify *fakeSpotify
	router  http.Handler
	sdk     *player.ScriptedSDK
}

func newTestEnv(t *testing.T, tweak ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := &config.Config{
		WebAppDir:          "../web/ui",
		PublicBaseURL:      "http://localhost:8080",
		JWTSecret:          "test-secret",
		JWTTTL:             time.Hour,
		SearchLimit:        10,
		SearchDebounce:     20 * time.Millisecond,
		PlayerPollInterval: 20 * time.Millisecond,
	}
	for _, fn := range tweak {
		fn(cfg)
	}

	pages, err := NewPages("../web/ui/templates")
	if err != nil {
		t.Fatalf("NewPages: %v", err)
	}

	env := &testEnv{
		users:   newMemUsers(),
		idents:  &memIdentities{},
		tokens:  newMemTokens(),
		relay:   &fakeRelay{reply: "Try Blue in Green."},
		spotify: &fakeSpotify{premium: true},
		sdk:     player.NewScriptedSDK(player.Event{Type: player.EventReady, DeviceID: "device-1"}),
	}
	env.deps = Dependencies{
		Config:         cfg,
		Users:          env.users,
		Identities:     env.idents,
		Tokens:         auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL),
		States:         env.tokens,
		ProviderTokens: env.tokens,
		Providers: map[string]OAuthProvider{
			model.ProviderSpotify: &fakeProvider{
				name:    "spotify",
				profile: model.ProviderProfile{Provider: model.ProviderSpotify, Subject: "sp-1", Email: "listener@example.com", Name: "Listener"},
				token:   &oauth2.Token{AccessToken: "spotify-access", Expiry: time.Now().Add(time.Hour)},
			},
		},
		Relay:     env.relay,
		Spotify:   env.spotify.factory,
		PlayerSDK: func(token string) player.SDK { return env.sdk },
		Pages:     pages,
	}
	env.router = NewRouter(env.deps)
	return env
}

// signedInUser creates a password user and returns a session token.
func (e *testEnv) signedInUser(t *testing.T, email string) (int64, string) {
	t.Helper()
	user := &model.User{Username: usernameFromEmail(email), Email: email}
	if _, err := e.users.CreateUser(user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	token, err := e.deps.Tokens.GenerateToken(user.ID, user.Username)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return user.ID, token
}

func (e *testEnv) do(method, target, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}
