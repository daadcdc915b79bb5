package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookie {
			return c
		}
	}
	return nil
}

func TestSignUpAndSignIn(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/auth/sign-up", `{"email":"Ada@Example.com","password":"secret1"}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("sign-up status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created authResponse
	decodeBody(t, rec, &created)
	if created.Token == "" || created.User.Email != "ada@example.com" || created.User.Username != "ada" {
		t.Errorf("sign-up response = %+v", created)
	}
	if c := sessionCookie(rec); c == nil || !c.HttpOnly || c.Value != created.Token {
		t.Errorf("session cookie = %+v", c)
	}

	rec = env.do(http.MethodPost, "/api/auth/sign-up", `{"email":"ada@example.com","password":"secret2"}`, "")
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate sign-up status = %d, want 409", rec.Code)
	}

	rec = env.do(http.MethodPost, "/api/auth/sign-in", `{"email":"ada@example.com","password":"wrong-password"}`, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad password status = %d, want 401", rec.Code)
	}

	rec = env.do(http.MethodPost, "/api/auth/sign-in", `{"email":"ada@example.com","password":"secret1"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("sign-in status = %d, body %s", rec.Code, rec.Body.String())
	}
	var signedIn authResponse
	decodeBody(t, rec, &signedIn)

	rec = env.do(http.MethodGet, "/api/me", "", signedIn.Token)
	if rec.Code != http.StatusOK {
		t.Fatalf("/api/me status = %d", rec.Code)
	}
	var me meResponse
	decodeBody(t, rec, &me)
	if me.User.ID != created.User.ID || me.SpotifyConnected {
		t.Errorf("/api/me = %+v", me)
	}
}

func TestSignUpValidation(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing password", `{"email":"a@example.com"}`, msgCredentialsRequired},
		{"bad email", `{"email":"nope","password":"secret1"}`, msgInvalidEmail},
		{"short password", `{"email":"a@example.com","password":"123"}`, msgPasswordTooShort},
		{"invalid json", `{`, msgInvalidBody},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/api/auth/sign-up", tt.body, "")
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("body = %s, want %q", rec.Body.String(), tt.want)
			}
		})
	}
}

func postForm(env *testEnv, target string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestSignInFormRedirects(t *testing.T) {
	env := newTestEnv(t)

	rec := postForm(env, "/api/auth/sign-up", url.Values{"email": {"form@example.com"}, "password": {"secret1"}})
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/protected" {
		t.Fatalf("sign-up form = %d %q", rec.Code, rec.Header().Get("Location"))
	}

	rec = postForm(env, "/api/auth/sign-in", url.Values{"email": {"form@example.com"}, "password": {"nope-nope"}})
	loc := rec.Header().Get("Location")
	if rec.Code != http.StatusSeeOther || !strings.HasPrefix(loc, "/sign-in?error=") {
		t.Fatalf("failed sign-in form = %d %q", rec.Code, loc)
	}
	if u, _ := url.Parse(loc); u.Query().Get("error") != msgInvalidCredentials {
		t.Errorf("error param = %q", u.Query().Get("error"))
	}

	rec = postForm(env, "/api/auth/sign-in", url.Values{"email": {"form@example.com"}, "password": {"secret1"}})
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/protected" {
		t.Fatalf("sign-in form = %d %q", rec.Code, rec.Header().Get("Location"))
	}
	if sessionCookie(rec) == nil {
		t.Error("sign-in form did not set the session cookie")
	}
}

func TestSignOutClearsSession(t *testing.T) {
	env := newTestEnv(t)
	userID, token := env.signedInUser(t, "out@example.com")
	env.tokens.SaveProviderToken(context.Background(), userID, "spotify", "tok", time.Time{})

	rec := env.do(http.MethodPost, "/api/auth/sign-out", "", token)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if c := sessionCookie(rec); c == nil || c.MaxAge >= 0 {
		t.Errorf("cookie not cleared: %+v", c)
	}
	if _, err := env.tokens.ProviderToken(context.Background(), userID, "spotify"); err == nil {
		t.Error("provider token survived sign-out")
	}
}

func TestAuthMiddlewareRejectsBadToken(t *testing.T) {
	env := newTestEnv(t)
	for _, token := range []string{"", "garbage"} {
		rec := env.do(http.MethodGet, "/api/me", "", token)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", token, rec.Code)
		}
	}
}

func TestUsernameFromEmail(t *testing.T) {
	tests := map[string]string{
		"ada.lovelace@example.com": "ada.lovelace",
		"Mixed Case@x.io":          "mixed_case",
		"!!!@x.io":                 "listener",
	}
	for in, want := range tests {
		if got := usernameFromEmail(in); got != want {
			t.Errorf("usernameFromEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
