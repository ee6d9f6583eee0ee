package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/validate" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "OAuth usertoken123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(ValidateResult{
			ClientID:  "abc123",
			Login:     "capturebot",
			UserID:    "42",
			Scopes:    []string{"chat:read"},
			ExpiresIn: 3600,
		})
	}))
	defer srv.Close()

	c := &Client{AuthBase: srv.URL}

	// The IRC-style "oauth:" prefix is stripped before the call.
	res, err := c.Validate(context.Background(), "oauth:usertoken123")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Login != "capturebot" || res.UserID != "42" {
		t.Errorf("result = %+v", res)
	}
	if len(res.Scopes) != 1 || res.Scopes[0] != "chat:read" {
		t.Errorf("scopes = %v", res.Scopes)
	}

	if _, err := c.Validate(context.Background(), "wrongtoken"); err == nil {
		t.Error("invalid token accepted")
	}
	if _, err := c.Validate(context.Background(), ""); err == nil {
		t.Error("empty token accepted")
	}
}

func TestRefreshUserToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/token" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostForm.Get("grant_type") != "refresh_token" {
			t.Errorf("grant_type = %q", r.PostForm.Get("grant_type"))
		}
		if r.PostForm.Get("refresh_token") != "refresh-abc" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(RefreshResult{
			AccessToken:  "new-access",
			RefreshToken: "new-refresh",
			ExpiresIn:    14400,
		})
	}))
	defer srv.Close()

	c := &Client{ClientID: "abc123", ClientSecret: "shh", AuthBase: srv.URL}
	res, err := c.RefreshUserToken(context.Background(), "refresh-abc")
	if err != nil {
		t.Fatalf("RefreshUserToken: %v", err)
	}
	if res.AccessToken != "new-access" || res.RefreshToken != "new-refresh" {
		t.Errorf("result = %+v", res)
	}

	if _, err := c.RefreshUserToken(context.Background(), "stale"); err == nil {
		t.Error("rejected refresh token accepted")
	}
	missing := &Client{AuthBase: srv.URL}
	if _, err := missing.RefreshUserToken(context.Background(), "refresh-abc"); err == nil {
		t.Error("refresh without client credentials accepted")
	}
}

func TestComputeExpiry(t *testing.T) {
	now := time.Now()
	exp := ComputeExpiry(3600)
	if d := exp.Sub(now); d < 59*time.Minute || d > 61*time.Minute {
		t.Errorf("expiry %v from now, want about 1h", d)
	}
	fallback := ComputeExpiry(0)
	if d := fallback.Sub(now); d < 59*time.Minute || d > 61*time.Minute {
		t.Errorf("fallback expiry %v from now, want about 1h", d)
	}
}
