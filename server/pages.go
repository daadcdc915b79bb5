package server

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"musaic/logger"
	"musaic/model"

	"github.com/fsnotify/fsnotify"
)

// Pages holds the parsed page templates and swaps them when files change.
type Pages struct {
	dir string

	mu   sync.RWMutex
	tmpl *template.Template
}

// NewPages parses every *.html under dir.
func NewPages(dir string) (*Pages, error) {
	p := &Pages{dir: dir}
	if err := p.reload(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pages) reload() error {
	tmpl, err := template.ParseGlob(filepath.Join(p.dir, "*.html"))
	if err != nil {
		return fmt.Errorf("解析模板 %s 失败: %w", p.dir, err)
	}
	p.mu.Lock()
	p.tmpl = tmpl
	p.mu.Unlock()
	return nil
}

// Watch re-parses templates on write until ctx is done. A broken edit keeps
// the previous set.
func (p *Pages) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建模板监听失败: %w", err)
	}
	if err := watcher.Add(p.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("监听模板目录失败: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || !strings.HasSuffix(event.Name, ".html") {
					continue
				}
				if err := p.reload(); err != nil {
					logger.Warn("[Pages] 模板重新加载失败", logger.String("file", event.Name), logger.ErrorField(err))
					continue
				}
				logger.Info("[Pages] 模板已重新加载", logger.String("file", event.Name))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("watcher error", logger.ErrorField(err))
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Render executes a template into a buffer first so a failure can still
// produce a clean 500.
func (p *Pages) Render(w http.ResponseWriter, status int, name string, data interface{}) {
	p.mu.RLock()
	tmpl := p.tmpl
	p.mu.RUnlock()

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		logger.Error("[Pages] 渲染模板失败", logger.String("template", name), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// pageData is shared by every template.
type pageData struct {
	Title     string
	Error     string
	User      *model.UserProfile
	Providers []string
	HasToken  bool
	Message   string
}

func (h *APIHandler) providerNames() []string {
	names := make([]string, 0, len(h.deps.Providers))
	for name := range h.deps.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IndexPage renders the landing page.
func (h *APIHandler) IndexPage(w http.ResponseWriter, r *http.Request) {
	data := pageData{Title: "Musaic", Providers: h.providerNames(), Error: r.URL.Query().Get("error")}
	if claims, err := h.sessionClaims(r); err == nil {
		if user, err := h.deps.Users.GetUserByID(claims.UserID); err == nil && user != nil {
			profile := user.Profile()
			data.User = &profile
		}
	}
	h.deps.Pages.Render(w, http.StatusOK, "index.html", data)
}

// SignInPage renders the email/password sign-in form.
func (h *APIHandler) SignInPage(w http.ResponseWriter, r *http.Request) {
	h.deps.Pages.Render(w, http.StatusOK, "sign-in.html", pageData{
		Title:     "Sign in",
		Error:     r.URL.Query().Get("error"),
		Providers: h.providerNames(),
	})
}

// SignUpPage renders the registration form.
func (h *APIHandler) SignUpPage(w http.ResponseWriter, r *http.Request) {
	h.deps.Pages.Render(w, http.StatusOK, "sign-up.html", pageData{
		Title: "Sign up",
		Error: r.URL.Query().Get("error"),
	})
}

func (h *APIHandler) currentProfile(w http.ResponseWriter, r *http.Request) (*model.UserProfile, bool) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Redirect(w, r, "/sign-in", http.StatusFound)
		return nil, false
	}
	user, err := h.deps.Users.GetUserByID(userID)
	if err != nil || user == nil {
		if err != nil {
			logger.Error("获取用户信息失败", logger.Int64("userID", userID), logger.ErrorField(err))
		}
		clearSessionCookie(w)
		http.Redirect(w, r, "/sign-in", http.StatusFound)
		return nil, false
	}
	profile := user.Profile()
	return &profile, true
}

// ProtectedPage renders the signed-in home page.
func (h *APIHandler) ProtectedPage(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.currentProfile(w, r)
	if !ok {
		return
	}
	_, err := h.deps.ProviderTokens.ProviderToken(r.Context(), profile.ID, model.ProviderSpotify)
	h.deps.Pages.Render(w, http.StatusOK, "protected.html", pageData{
		Title:     "Musaic",
		User:      profile,
		HasToken:  err == nil,
		Providers: h.providerNames(),
	})
}

// PlayerPage renders the player shell. Without a Spotify token it only shows
// the login hint.
func (h *APIHandler) PlayerPage(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.currentProfile(w, r)
	if !ok {
		return
	}
	data := pageData{Title: "Player", User: profile}
	if _, err := h.deps.ProviderTokens.ProviderToken(r.Context(), profile.ID, model.ProviderSpotify); err == nil {
		data.HasToken = true
	} else {
		data.Message = msgSpotifyLogin
	}
	h.deps.Pages.Render(w, http.StatusOK, "player.html", data)
}
