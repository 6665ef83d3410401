// Package guard generates the five-character time-based codes used as the
// second login factor.
package guard

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"regexp"
	"strings"
	"time"
)

const (
	// Period is the lifetime of one code.
	Period = 30 * time.Second
	// Length is the number of characters in a code.
	Length = 5
	// Alphabet holds the 26 symbols a code is drawn from.
	Alphabet = "23456789BCDFGHJKMNPQRTVWXY"
)

// ErrInvalidSecret is returned when a shared secret cannot be decoded.
var ErrInvalidSecret = errors.New("guard: invalid shared secret")

var base32Pattern = regexp.MustCompile(`^[A-Z2-7]+=*$`)

// ParseSecret decodes an encoded shared secret. Strings made only of the
// RFC 4648 base32 alphabet are read as base32; anything else as standard
// base64, the form authenticator exports use.
func ParseSecret(encoded string) ([]byte, error) {
	s := strings.TrimSpace(encoded)
	if s == "" {
		return nil, ErrInvalidSecret
	}
	if base32Pattern.MatchString(s) {
		b, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.TrimRight(s, "="))
		if err != nil || len(b) == 0 {
			return nil, ErrInvalidSecret
		}
		return b, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		b, err = base64.RawStdEncoding.DecodeString(s)
	}
	if err != nil || len(b) == 0 {
		return nil, ErrInvalidSecret
	}
	return b, nil
}

// Step returns the time-step index for unix seconds. Times before the epoch
// map to step 0.
func Step(unixSeconds int64) uint64 {
	if unixSeconds < 0 {
		return 0
	}
	return uint64(unixSeconds / int64(Period/time.Second))
}

// Code computes the code for secret at unixSeconds.
func Code(secret []byte, unixSeconds int64) string {
	return codeForStep(secret, Step(unixSeconds))
}

func codeForStep(secret []byte, step uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], step)

	mac := hmac.New(sha1.New, secret)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0F
	v := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7FFFFFFF

	out := make([]byte, Length)
	for i := range out {
		out[i] = Alphabet[v%uint32(len(Alphabet))]
		v /= uint32(len(Alphabet))
	}
	return string(out)
}

// Generator produces codes for a fixed secret.
type Generator struct {
	secret []byte
	now    func() time.Time
}

// NewGenerator decodes encoded and returns a generator reading the wall clock.
func NewGenerator(encoded string) (*Generator, error) {
	secret, err := ParseSecret(encoded)
	if err != nil {
		return nil, err
	}
	return &Generator{secret: secret, now: time.Now}, nil
}

// WithClock returns a copy of g using now as its time source.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	return &Generator{secret: g.secret, now: now}
}

// Current returns the code valid right now.
func (g *Generator) Current() string {
	return Code(g.secret, g.now().Unix())
}

// Remaining reports how long the current code stays valid.
func (g *Generator) Remaining() time.Duration {
	period := int64(Period / time.Second)
	now := g.now().Unix()
	return time.Duration(period-now%period) * time.Second
}
