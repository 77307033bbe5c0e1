package session

import (
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

// CookieName is the name of the cookie carrying the signed session token.
const CookieName = "learnhub_session"

// cookieCodec signs and verifies session tokens carried in cookies. Values
// are HMAC-authenticated but not encrypted; the token is not a secret from
// its holder.
type cookieCodec struct {
	sc     *securecookie.SecureCookie
	secure bool
}

func newCookieCodec(secret []byte, secure bool, maxAge time.Duration) cookieCodec {
	sc := securecookie.New(secret, nil)
	sc.MaxAge(int(maxAge / time.Second))
	return cookieCodec{sc: sc, secure: secure}
}

func (c cookieCodec) encode(token string) (string, error) {
	return c.sc.Encode(CookieName, token)
}

// decode returns the token carried by value, or false when the value is
// malformed, too old or its signature does not match.
func (c cookieCodec) decode(value string) (string, bool) {
	var token string
	if err := c.sc.Decode(CookieName, value, &token); err != nil {
		return "", false
	}
	if !validToken(token) {
		return "", false
	}
	return token, true
}

// tokenFromRequest extracts a verified token from the request's cookie.
func (c cookieCodec) tokenFromRequest(r *http.Request) (string, bool) {
	ck, err := r.Cookie(CookieName)
	if err != nil {
		return "", false
	}
	return c.decode(ck.Value)
}

func (c cookieCodec) set(w http.ResponseWriter, token string, expires time.Time) error {
	value, err := c.encode(token)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (c cookieCodec) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
