package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"musaic/logger"
	"musaic/model"
	"musaic/repository"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const (
	msgOAuthUnavailable = "This sign-in provider is not available."
	msgOAuthState       = "Your sign-in link expired. Please try again."
	msgOAuthFailed      = "Could not sign you in with that provider."
)

func (h *APIHandler) oauthFail(w http.ResponseWriter, r *http.Request, msg string) {
	http.Redirect(w, r, "/sign-in?error="+url.QueryEscape(msg), http.StatusFound)
}

// OAuthLoginHandler redirects to the provider consent page.
func (h *APIHandler) OAuthLoginHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["provider"]
	provider, ok := h.deps.Providers[name]
	if !ok {
		h.oauthFail(w, r, msgOAuthUnavailable)
		return
	}

	state := uuid.NewString()
	if err := h.deps.States.SaveState(r.Context(), state, name); err != nil {
		logger.Error("[OAuth] 保存 state 失败", logger.String("provider", name), logger.ErrorField(err))
		h.oauthFail(w, r, msgOAuthFailed)
		return
	}
	http.Redirect(w, r, provider.AuthCodeURL(state), http.StatusFound)
}

// OAuthCallbackHandler finishes the code flow and signs the user in.
func (h *APIHandler) OAuthCallbackHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["provider"]
	provider, ok := h.deps.Providers[name]
	if !ok {
		h.oauthFail(w, r, msgOAuthUnavailable)
		return
	}

	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		logger.Warn("[OAuth] 用户拒绝授权", logger.String("provider", name), logger.String("error", e))
		h.oauthFail(w, r, msgOAuthFailed)
		return
	}

	issuedFor, err := h.deps.States.ConsumeState(r.Context(), q.Get("state"))
	if err != nil || issuedFor != name {
		logger.Warn("[OAuth] state 无效", logger.String("provider", name), logger.ErrorField(err))
		h.oauthFail(w, r, msgOAuthState)
		return
	}

	token, err := provider.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		logger.Error("[OAuth] 交换 token 失败", logger.String("provider", name), logger.ErrorField(err))
		h.oauthFail(w, r, msgOAuthFailed)
		return
	}
	profile, err := provider.FetchProfile(r.Context(), token)
	if err != nil {
		logger.Error("[OAuth] 获取用户资料失败", logger.String("provider", name), logger.ErrorField(err))
		h.oauthFail(w, r, msgOAuthFailed)
		return
	}

	user, err := h.resolveUser(profile)
	if err != nil {
		logger.Error("[OAuth] 关联用户失败", logger.String("provider", name), logger.ErrorField(err))
		h.oauthFail(w, r, msgOAuthFailed)
		return
	}

	h.syncAvatar(r.Context(), user, profile.AvatarURL)

	if name == model.ProviderSpotify {
		if err := h.deps.ProviderTokens.SaveProviderToken(r.Context(), user.ID, name, token.AccessToken, token.Expiry); err != nil {
			logger.Error("[OAuth] 保存 provider token 失败", logger.Int64("userID", user.ID), logger.ErrorField(err))
		}
	}

	jwtToken, err := h.deps.Tokens.GenerateToken(user.ID, user.Username)
	if err != nil {
		logger.Error("[OAuth] 生成Token失败", logger.ErrorField(err))
		h.oauthFail(w, r, msgOAuthFailed)
		return
	}
	h.setSessionCookie(w, jwtToken)

	logger.Info("[OAuth] 登录成功",
		logger.String("provider", name),
		logger.Int64("userID", user.ID))
	http.Redirect(w, r, "/protected", http.StatusFound)
}

// resolveUser finds the linked user, links by email when the provider has
// verified it, or creates a new password-less account.
func (h *APIHandler) resolveUser(p *model.ProviderProfile) (*model.User, error) {
	identity, err := h.deps.Identities.FindByProviderSubject(p.Provider, p.Subject)
	if err != nil {
		return nil, err
	}
	if identity != nil {
		user, err := h.deps.Users.GetUserByID(identity.UserID)
		if err != nil {
			return nil, err
		}
		if user != nil {
			return user, nil
		}
	}

	var user *model.User
	if p.Email != "" && p.EmailVerified {
		if user, err = h.deps.Users.GetUserByEmail(strings.ToLower(p.Email)); err != nil {
			return nil, err
		}
	}
	if user == nil {
		if user, err = h.createOAuthUser(p); err != nil {
			return nil, err
		}
	}

	link := &model.OAuthIdentity{
		UserID:   user.ID,
		Provider: p.Provider,
		Subject:  p.Subject,
		Email:    p.Email,
	}
	if err := h.deps.Identities.Link(link); err != nil {
		return nil, err
	}
	return user, nil
}

func (h *APIHandler) createOAuthUser(p *model.ProviderProfile) (*model.User, error) {
	base := sanitizeUsername(p.Name)
	if p.Name == "" && p.Email != "" {
		base = usernameFromEmail(p.Email)
	}
	email := strings.ToLower(p.Email)
	if email != "" && !p.EmailVerified {
		// 未验证的邮箱已被其他账户占用时不能复用
		taken, err := h.deps.Users.GetUserByEmail(email)
		if err != nil {
			return nil, err
		}
		if taken != nil {
			email = ""
		}
	}
	if email == "" {
		// 没有可用邮箱时用 subject 占位保证唯一
		email = p.Provider + "+" + p.Subject + "@users.musaic.local"
	}

	user := &model.User{Username: base, Email: email}
	_, err := h.deps.Users.CreateUser(user)
	if errors.Is(err, repository.ErrDuplicateUser) {
		user.Username = base + "-" + uuid.NewString()[:6]
		_, err = h.deps.Users.CreateUser(user)
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// syncAvatar stores the provider picture once. Failures only cost the avatar.
func (h *APIHandler) syncAvatar(ctx context.Context, user *model.User, src string) {
	if src == "" || user.AvatarURL.Valid {
		return
	}
	avatarURL := src
	if h.deps.Avatars != nil {
		mirrored, err := h.deps.Avatars.MirrorAvatar(ctx, h.deps.HTTPClient, user.ID, src)
		if err != nil {
			logger.Warn("[OAuth] 头像转存失败", logger.Int64("userID", user.ID), logger.ErrorField(err))
		} else {
			avatarURL = mirrored
		}
	}
	if err := h.deps.Users.UpdateAvatar(user.ID, avatarURL); err != nil {
		logger.Warn("[OAuth] 更新头像失败", logger.Int64("userID", user.ID), logger.ErrorField(err))
		return
	}
	user.AvatarURL.String, user.AvatarURL.Valid = avatarURL, true
}
