package token

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newCodec(t *testing.T) (*Codec, *fakeClock) {
	t.Helper()
	c, err := NewCodec(secret)
	require.NoError(t, err)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	return c.WithClock(clock.Now), clock
}

func TestMintDecodeRoundTrip(t *testing.T) {
	c, clock := newCodec(t)
	origin := "http://cdn.example.com/live/ch1.ts?auth=a b&x=1"

	tok, err := c.Mint(origin, "user-1", time.Hour)
	require.NoError(t, err)

	clock.Advance(59 * time.Minute)
	claims, err := c.Decode(tok)
	require.NoError(t, err)
	assert.Equal(t, origin, claims.Origin)
	assert.Equal(t, "user-1", claims.IssuerID)
	assert.Equal(t, time.Unix(1_700_000_000, 0).Add(time.Hour), claims.Expiry())
}

func TestDecodeAfterTTLExpires(t *testing.T) {
	c, clock := newCodec(t)

	tok, err := c.Mint("http://cdn.example.com/a.ts", "user-1", time.Minute)
	require.NoError(t, err)

	clock.Advance(time.Minute + time.Second)
	_, err = c.Decode(tok)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestSingleCharacterTamperFails(t *testing.T) {
	c, _ := newCodec(t)

	tok, err := c.Mint("http://cdn.example.com/a.ts", "user-1", time.Hour)
	require.NoError(t, err)

	for i := range len(tok) {
		replacement := byte('A')
		if tok[i] == 'A' {
			replacement = 'B'
		}
		mutated := tok[:i] + string(replacement) + tok[i+1:]

		_, err := c.Decode(mutated)
		assert.ErrorIs(t, err, ErrInvalidToken, "mutation at index %d", i)
	}
}

func TestTamperedExpiredTokenIsInvalidNotExpired(t *testing.T) {
	c, clock := newCodec(t)

	tok, err := c.Mint("http://cdn.example.com/a.ts", "user-1", time.Second)
	require.NoError(t, err)
	clock.Advance(time.Hour)

	_, err = c.Decode(tok[:len(tok)-2] + "xx")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDifferentSecretRejects(t *testing.T) {
	c, _ := newCodec(t)
	other, err := NewCodec("another-secret-another-secret-xx")
	require.NoError(t, err)

	tok, err := c.Mint("http://cdn.example.com/a.ts", "user-1", time.Hour)
	require.NoError(t, err)

	_, err = other.Decode(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMintIsFreshEachCall(t *testing.T) {
	c, _ := newCodec(t)

	a, err := c.Mint("http://cdn.example.com/a.ts", "user-1", time.Hour)
	require.NoError(t, err)
	b, err := c.Mint("http://cdn.example.com/a.ts", "user-1", time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestMalformedTokens(t *testing.T) {
	c, _ := newCodec(t)
	for _, tok := range []string{"", ".", "abc", "abc.", ".abc", "a.b.c", "!!!.???"} {
		_, err := c.Decode(tok)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", tok)
	}
}

func TestMintRejectsBadInput(t *testing.T) {
	c, _ := newCodec(t)
	_, err := c.Mint("", "user-1", time.Hour)
	assert.Error(t, err)
	_, err = c.Mint("http://cdn.example.com/a.ts", "user-1", 0)
	assert.Error(t, err)

	_, err = NewCodec("")
	assert.Error(t, err)
}

func TestOriginEncodingDecodesOnce(t *testing.T) {
	origin := "http://cdn.example.com/live/a%20b.ts?x=1&y=2"

	encoded := EncodeOrigin(origin)
	assert.NotContains(t, encoded, "/")

	decoded, err := DecodeOrigin(encoded)
	require.NoError(t, err)
	assert.Equal(t, origin, decoded)

	doubled := EncodeOrigin(encoded)
	once, err := DecodeOrigin(doubled)
	require.NoError(t, err)
	assert.Equal(t, encoded, once)
	assert.NotEqual(t, origin, once)
}

func TestDecodeOriginRejectsBadEscapes(t *testing.T) {
	for _, raw := range []string{"", "http%3A%2F%2Fhost%zz", "%"} {
		_, err := DecodeOrigin(raw)
		assert.ErrorIs(t, err, ErrInvalidToken, "segment %q", raw)
	}
	assert.False(t, strings.Contains(EncodeOrigin("a/b"), "/"))
}
