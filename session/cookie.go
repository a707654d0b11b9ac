package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DefaultCookieName = "vh_sid"

var errInvalidCookie = errors.New("invalid session cookie")

// CookieCodec signs the browser session id cookie. The cookie only carries
// the id; the session itself lives in Storage under that namespace.
type CookieCodec struct {
	Name     string
	Secret   []byte
	Domain   string
	Secure   bool
	SameSite http.SameSite
	MaxAge   time.Duration
}

// NewSessionID returns a fresh random browser session id.
func NewSessionID() string {
	return uuid.NewString()
}

func (c CookieCodec) name() string {
	if c.Name == "" {
		return DefaultCookieName
	}
	return c.Name
}

// Read returns the verified session id carried by the request.
func (c CookieCodec) Read(r *http.Request) (string, error) {
	ck, err := r.Cookie(c.name())
	if err != nil {
		return "", ErrNotFound
	}
	return c.decode(ck.Value)
}

// Write sets the signed session id cookie.
func (c CookieCodec) Write(w http.ResponseWriter, sid string) {
	ck := &http.Cookie{
		Name:     c.name(),
		Value:    c.encode(sid),
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
		Domain:   c.Domain,
	}
	if c.MaxAge > 0 {
		ck.Expires = time.Now().Add(c.MaxAge)
		ck.MaxAge = int(c.MaxAge.Seconds())
	}
	http.SetCookie(w, ck)
}

// Clear expires the session id cookie.
func (c CookieCodec) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name(),
		Value:    "",
		Path:     "/",
		Domain:   c.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
}

func (c CookieCodec) encode(sid string) string {
	value := base64.RawURLEncoding.EncodeToString([]byte(sid))
	return fmt.Sprintf("%s|%s", value, computeHMAC(value, c.Secret))
}

func (c CookieCodec) decode(raw string) (string, error) {
	value, sig, ok := strings.Cut(raw, "|")
	if !ok {
		return "", errInvalidCookie
	}
	if !validateHMAC(value, sig, c.Secret) {
		return "", fmt.Errorf("%w: bad signature", errInvalidCookie)
	}
	sid, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errInvalidCookie, err)
	}
	if _, err := uuid.Parse(string(sid)); err != nil {
		return "", fmt.Errorf("%w: %v", errInvalidCookie, err)
	}
	return string(sid), nil
}

func computeHMAC(message string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}

func validateHMAC(message, sig string, secret []byte) bool {
	expected := computeHMAC(message, secret)
	return hmac.Equal([]byte(sig), []byte(expected))
}
