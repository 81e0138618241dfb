package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// signedPrefix marks a cookie value signed with the shared secret
const signedPrefix = "s:"

var (
	// ErrUnsignedCookie is returned when a secret is configured but the value carries no signature
	ErrUnsignedCookie = errors.New("session: cookie is not signed")
	// ErrBadSignature is returned when the signature does not match the secret
	ErrBadSignature = errors.New("session: cookie signature mismatch")
)

// EncodeCookieValue produces the cookie value the HTTP layer issues for sessionID:
// "s:<id>.<signature>" URL-encoded, or the bare id when secret is empty.
func EncodeCookieValue(sessionID, secret string) string {
	if secret == "" {
		return url.PathEscape(sessionID)
	}
	return url.QueryEscape(signedPrefix + sessionID + "." + sign(sessionID, secret))
}

// DecodeCookieValue returns the session id carried by a raw cookie value.
// With a secret, only correctly signed values are accepted.
func DecodeCookieValue(raw, secret string) (string, error) {
	value, err := url.PathUnescape(raw)
	if err != nil {
		return "", err
	}

	if secret == "" {
		if value == "" {
			return "", ErrNotFound
		}
		return strings.TrimPrefix(value, signedPrefix), nil
	}

	if !strings.HasPrefix(value, signedPrefix) {
		return "", ErrUnsignedCookie
	}
	value = strings.TrimPrefix(value, signedPrefix)

	dot := strings.LastIndexByte(value, '.')
	if dot <= 0 {
		return "", ErrBadSignature
	}
	sessionID, mac := value[:dot], value[dot+1:]

	if !hmac.Equal([]byte(mac), []byte(sign(sessionID, secret))) {
		return "", ErrBadSignature
	}
	return sessionID, nil
}

// sign is base64(HMAC-SHA256(value, secret)) with the padding stripped
func sign(value, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(value))
	return strings.TrimRight(base64.StdEncoding.EncodeToString(h.Sum(nil)), "=")
}

// CookieOptions defines how session cookies are issued.
type CookieOptions struct {
	Name     string
	Secret   string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

// SetCookie issues the session cookie for rec in the same format DecodeCookieValue reads.
func SetCookie(w http.ResponseWriter, rec Record, opts CookieOptions) {
	path := opts.Path
	if path == "" {
		path = "/"
	}
	http.SetCookie(w, &http.Cookie{
		Name:     opts.Name,
		Value:    EncodeCookieValue(rec.SessionID, opts.Secret),
		Path:     path,
		Domain:   opts.Domain,
		Expires:  rec.ExpiresAt,
		MaxAge:   int(time.Until(rec.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	})
}
