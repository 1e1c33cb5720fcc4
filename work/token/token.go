// Package token mints and verifies the short-lived proxy tokens embedded in rendered
// manifests. A token is self-contained: base64url(JSON claims) "." base64url(HMAC-SHA256).
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrInvalidToken = errors.New("invalid proxy token")
	ErrExpiredToken = errors.New("proxy token expired")
)

const (
	keyInfo   = "iptv-gate proxy token v1"
	keySize   = 32
	nonceSize = 12
)

var b64 = base64.RawURLEncoding.Strict()

// Claims is the decoded content of a proxy token.
type Claims struct {
	Origin    string `json:"o"`
	IssuerID  string `json:"u"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
	Nonce     string `json:"n"`
}

// Expiry returns the expiry as a time.Time.
func (c *Claims) Expiry() time.Time {
	return time.Unix(c.ExpiresAt, 0)
}

// Codec mints and decodes tokens with a key derived from the server secret.
// It holds no mutable state and is safe for concurrent use.
type Codec struct {
	key []byte
	now func() time.Time
}

// NewCodec derives the signing key from secret. An empty secret is rejected.
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("token: empty signing secret")
	}
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("token: derive key: %w", err)
	}
	return &Codec{key: key, now: time.Now}, nil
}

// WithClock returns a copy of c that reads the time from now. Used by tests.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	return &Codec{key: c.key, now: now}
}

// Mint issues a token binding origin and issuerID that stays valid for ttl.
func (c *Codec) Mint(origin, issuerID string, ttl time.Duration) (string, error) {
	if origin == "" {
		return "", errors.New("token: empty origin")
	}
	if ttl <= 0 {
		return "", errors.New("token: ttl must be positive")
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("token: nonce: %w", err)
	}

	now := c.now()
	payload, err := json.Marshal(Claims{
		Origin:    origin,
		IssuerID:  issuerID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
		Nonce:     b64.EncodeToString(nonce),
	})
	if err != nil {
		return "", fmt.Errorf("token: encode claims: %w", err)
	}

	body := b64.EncodeToString(payload)
	return body + "." + b64.EncodeToString(c.sign(body)), nil
}

// Decode verifies the tag of tok and returns its claims. The tag is checked before the
// expiry so that a forged token never reports ErrExpiredToken.
func (c *Codec) Decode(tok string) (*Claims, error) {
	body, tag, ok := strings.Cut(tok, ".")
	if !ok || body == "" || tag == "" {
		return nil, ErrInvalidToken
	}

	gotTag, err := b64.DecodeString(tag)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if !hmac.Equal(gotTag, c.sign(body)) {
		return nil, ErrInvalidToken
	}

	payload, err := b64.DecodeString(body)
	if err != nil {
		return nil, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil || claims.Origin == "" {
		return nil, ErrInvalidToken
	}

	if c.now().Unix() > claims.ExpiresAt {
		return nil, ErrExpiredToken
	}
	return &claims, nil
}

func (c *Codec) sign(body string) []byte {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(body))
	return mac.Sum(nil)
}

// EncodeOrigin escapes an origin URL into a single path segment.
func EncodeOrigin(origin string) string {
	return url.PathEscape(origin)
}

// DecodeOrigin reverses EncodeOrigin exactly once. The raw, still-escaped path segment must be
// passed in; malformed escapes are reported as ErrInvalidToken.
func DecodeOrigin(encoded string) (string, error) {
	origin, err := url.PathUnescape(encoded)
	if err != nil || origin == "" {
		return "", ErrInvalidToken
	}
	return origin, nil
}
