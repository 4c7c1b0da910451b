// Package userinfo stores the interviewee's name and email in a cookie.
package userinfo

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CookieName is the cookie holding the URL-encoded JSON identity.
const CookieName = "interview_user_info"

// MaxAge is how long the identity cookie lives.
const MaxAge = 30 * 24 * time.Hour

var (
	ErrMissing = errors.New("user info cookie not set")
	ErrInvalid = errors.New("user info cookie is invalid")
)

// Info identifies the interviewee.
type Info struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Valid reports whether both fields are present.
func (i Info) Valid() bool {
	return strings.TrimSpace(i.Name) != "" && strings.TrimSpace(i.Email) != ""
}

// Set writes the identity cookie.
func Set(w http.ResponseWriter, info Info, now time.Time) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    url.QueryEscape(string(raw)),
		Path:     "/",
		Expires:  now.Add(MaxAge),
		MaxAge:   int(MaxAge / time.Second),
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Get reads the identity cookie from r.
func Get(r *http.Request) (Info, error) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return Info{}, ErrMissing
	}
	return Decode(c.Value)
}

// Decode parses a cookie value.
func Decode(value string) (Info, error) {
	decoded, err := url.QueryUnescape(value)
	if err != nil {
		return Info{}, ErrInvalid
	}
	var info Info
	if err := json.Unmarshal([]byte(decoded), &info); err != nil {
		return Info{}, ErrInvalid
	}
	if !info.Valid() {
		return Info{}, ErrInvalid
	}
	return info, nil
}

// Clear expires the identity cookie.
func Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		SameSite: http.SameSiteLaxMode,
	})
}
