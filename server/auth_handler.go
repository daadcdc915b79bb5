package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"musaic/core/auth"
	"musaic/logger"
	"musaic/model"
	"musaic/repository"
)

// SessionCookie carries the application JWT.
const SessionCookie = "musaic_session"

type contextKey string

const userIDKey contextKey = "userID"

// Fixed auth messages.
const (
	msgCredentialsRequired = "Email and password are required."
	msgPasswordTooShort    = "Password must be at least 6 characters."
	msgInvalidEmail        = "Please enter a valid email address."
	msgUserExists          = "An account with this email already exists."
	msgUsernameTaken       = "That username is already taken."
	msgInvalidCredentials  = "Invalid email or password."
	msgInternal            = "Internal server error."
	msgUnauthorized        = "Authentication required."
)

// credentials is the sign-in/sign-up payload, JSON or form encoded.
type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

// authResponse is returned on successful sign-in or sign-up.
type authResponse struct {
	Token string            `json:"token"`
	User  model.UserProfile `json:"user"`
}

func isForm(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded")
}

func decodeCredentials(r *http.Request) (credentials, error) {
	var c credentials
	if isForm(r) {
		if err := r.ParseForm(); err != nil {
			return c, err
		}
		c.Email = r.PostFormValue("email")
		c.Password = r.PostFormValue("password")
		c.Username = r.PostFormValue("username")
	} else if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		return c, err
	}
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.Username = strings.TrimSpace(c.Username)
	return c, nil
}

// fail answers JSON clients with status/msg and redirects form posts back
// to page with the message in the query string.
func fail(w http.ResponseWriter, r *http.Request, page string, status int, msg string) {
	if isForm(r) {
		http.Redirect(w, r, page+"?error="+url.QueryEscape(msg), http.StatusSeeOther)
		return
	}
	writeError(w, status, msg)
}

func (h *APIHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.deps.Tokens.TTL().Seconds()),
		HttpOnly: true,
		Secure:   strings.HasPrefix(h.cfg.PublicBaseURL, "https://"),
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// completeSignIn issues the session and finishes the response.
func (h *APIHandler) completeSignIn(w http.ResponseWriter, r *http.Request, user *model.User, status int) {
	token, err := h.deps.Tokens.GenerateToken(user.ID, user.Username)
	if err != nil {
		logger.Error("[Auth] 生成Token失败", logger.ErrorField(err))
		fail(w, r, "/sign-in", http.StatusInternalServerError, msgInternal)
		return
	}
	h.setSessionCookie(w, token)

	if isForm(r) {
		http.Redirect(w, r, "/protected", http.StatusSeeOther)
		return
	}
	writeJSON(w, status, authResponse{Token: token, User: user.Profile()})
}

// SignUpHandler handles user registration requests.
func (h *APIHandler) SignUpHandler(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCredentials(r)
	if err != nil {
		fail(w, r, "/sign-up", http.StatusBadRequest, msgInvalidBody)
		return
	}

	if req.Email == "" || req.Password == "" {
		fail(w, r, "/sign-up", http.StatusBadRequest, msgCredentialsRequired)
		return
	}
	if !strings.Contains(req.Email, "@") {
		fail(w, r, "/sign-up", http.StatusBadRequest, msgInvalidEmail)
		return
	}
	if len(req.Password) < auth.MinPasswordLength {
		fail(w, r, "/sign-up", http.StatusBadRequest, msgPasswordTooShort)
		return
	}

	existing, err := h.deps.Users.GetUserByEmail(req.Email)
	if err != nil {
		logger.Error("[Register] 查询用户失败", logger.ErrorField(err))
		fail(w, r, "/sign-up", http.StatusInternalServerError, msgInternal)
		return
	}
	if existing != nil {
		logger.Warn("[Register] 邮箱已注册", logger.String("email", req.Email))
		fail(w, r, "/sign-up", http.StatusConflict, msgUserExists)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		logger.Error("[Register] 密码加密失败", logger.ErrorField(err))
		fail(w, r, "/sign-up", http.StatusInternalServerError, msgInternal)
		return
	}

	username := req.Username
	if username == "" {
		username = usernameFromEmail(req.Email)
	}
	user := &model.User{
		Username:     username,
		Email:        req.Email,
		PasswordHash: sql.NullString{String: hash, Valid: true},
	}
	if _, err := h.deps.Users.CreateUser(user); err != nil {
		if errors.Is(err, repository.ErrDuplicateUser) {
			logger.Warn("[Register] 用户名已存在", logger.String("username", username))
			fail(w, r, "/sign-up", http.StatusConflict, msgUsernameTaken)
			return
		}
		logger.Error("[Register] 创建用户失败", logger.ErrorField(err))
		fail(w, r, "/sign-up", http.StatusInternalServerError, msgInternal)
		return
	}

	logger.Info("[Register] 注册成功", logger.Int64("userID", user.ID), logger.String("username", user.Username))
	h.completeSignIn(w, r, user, http.StatusCreated)
}

// SignInHandler handles email/password sign-in.
func (h *APIHandler) SignInHandler(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCredentials(r)
	if err != nil {
		logger.Error("[Login] 解析请求体失败", logger.ErrorField(err))
		fail(w, r, "/sign-in", http.StatusBadRequest, msgInvalidBody)
		return
	}
	if req.Email == "" || req.Password == "" {
		fail(w, r, "/sign-in", http.StatusBadRequest, msgCredentialsRequired)
		return
	}

	user, err := h.deps.Users.GetUserByEmail(req.Email)
	if err != nil {
		logger.Error("[Login] 查询用户失败", logger.ErrorField(err))
		fail(w, r, "/sign-in", http.StatusInternalServerError, msgInternal)
		return
	}
	if user == nil || !user.HasPassword() {
		logger.Warn("[Login] 用户不存在", logger.String("email", req.Email))
		fail(w, r, "/sign-in", http.StatusUnauthorized, msgInvalidCredentials)
		return
	}
	if !auth.VerifyPassword(req.Password, user.PasswordHash.String) {
		logger.Warn("[Login] 密码验证失败", logger.String("email", req.Email))
		fail(w, r, "/sign-in", http.StatusUnauthorized, msgInvalidCredentials)
		return
	}

	logger.Info("[Login] 登录成功", logger.String("username", user.Username))
	h.completeSignIn(w, r, user, http.StatusOK)
}

// SignOutHandler clears the session and the stored provider token.
func (h *APIHandler) SignOutHandler(w http.ResponseWriter, r *http.Request) {
	if claims, err := h.sessionClaims(r); err == nil {
		if err := h.deps.ProviderTokens.DeleteProviderToken(r.Context(), claims.UserID, model.ProviderSpotify); err != nil {
			logger.Warn("[Logout] 删除 provider token 失败", logger.ErrorField(err))
		}
	}
	clearSessionCookie(w)

	if isForm(r) {
		http.Redirect(w, r, "/sign-in", http.StatusSeeOther)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sessionClaims reads the JWT from the bearer header or the session cookie.
func (h *APIHandler) sessionClaims(r *http.Request) (*auth.Claims, error) {
	var token string
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			return nil, fmt.Errorf("invalid authorization header format: %w", auth.ErrInvalidToken)
		}
		token = parts[1]
	} else if cookie, err := r.Cookie(SessionCookie); err == nil {
		token = cookie.Value
	}
	if token == "" {
		return nil, auth.ErrInvalidToken
	}
	return h.deps.Tokens.ParseToken(token)
}

func withClaims(r *http.Request, claims *auth.Claims) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), userIDKey, claims.UserID))
}

// AuthMiddleware rejects API requests without a valid session.
func (h *APIHandler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := h.sessionClaims(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, msgUnauthorized)
			return
		}
		next.ServeHTTP(w, withClaims(r, claims))
	}
}

// OptionalAuth attaches the session when one is present and lets anonymous
// requests through.
func (h *APIHandler) OptionalAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if claims, err := h.sessionClaims(r); err == nil {
			r = withClaims(r, claims)
		}
		next.ServeHTTP(w, r)
	}
}

// PageAuth redirects page requests without a valid session to sign-in.
func (h *APIHandler) PageAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := h.sessionClaims(r)
		if err != nil {
			http.Redirect(w, r, "/sign-in", http.StatusFound)
			return
		}
		next.ServeHTTP(w, withClaims(r, claims))
	}
}

// GetUserIDFromContext extracts the user ID from the request context
func GetUserIDFromContext(ctx context.Context) (int64, error) {
	userID, ok := ctx.Value(userIDKey).(int64)
	if !ok {
		return 0, fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

func usernameFromEmail(email string) string {
	local := email
	if i := strings.Index(email, "@"); i > 0 {
		local = email[:i]
	}
	return sanitizeUsername(local)
}

func sanitizeUsername(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	name := b.String()
	if name == "" {
		name = "listener"
	}
	if len(name) > 90 {
		name = name[:90]
	}
	return name
}
