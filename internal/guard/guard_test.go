package guard

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// base64 of the RFC 4226 test key "12345678901234567890"
const testSecret = "MTIzNDU2Nzg5MDEyMzQ1Njc4OTA="

func TestCodeKnownValues(t *testing.T) {
	secret, err := ParseSecret(testSecret)
	if err != nil {
		t.Fatalf("ParseSecret failed: %v", err)
	}
	tests := []struct {
		unix int64
		want string
	}{
		{0, "GG5F5"},
		{29, "GG5F5"},
		{30, "PV9M4"},
		{59, "PV9M4"},
		{1700000000, "R87JJ"},
		{1700000029, "5MWGC"},
		{2000000000, "9N776"},
	}
	for _, tt := range tests {
		if got := Code(secret, tt.unix); got != tt.want {
			t.Errorf("Code(t=%d) = %s, want %s", tt.unix, got, tt.want)
		}
	}
}

func TestCodeStableWithinStep(t *testing.T) {
	secret, _ := ParseSecret(testSecret)
	base := int64(1700000010) // first second of a step
	want := Code(secret, base)
	for dt := int64(0); dt < 30; dt++ {
		if got := Code(secret, base+dt); got != want {
			t.Fatalf("Code changed inside one step at +%ds: %s != %s", dt, got, want)
		}
	}
	if Code(secret, base+30) == want {
		t.Errorf("Expected a new code in the next step")
	}
}

func TestStepBeforeEpoch(t *testing.T) {
	tests := []struct {
		unix int64
		want uint64
	}{
		{-1, 0},
		{-1 << 40, 0},
		{0, 0},
		{29, 0},
		{30, 1},
	}
	for _, tt := range tests {
		if got := Step(tt.unix); got != tt.want {
			t.Errorf("Step(%d) = %d, want %d", tt.unix, got, tt.want)
		}
	}
}

func TestCodeAlphabetAndLength(t *testing.T) {
	secret, _ := ParseSecret(testSecret)
	for step := int64(0); step < 500; step++ {
		code := Code(secret, step*30)
		if len(code) != Length {
			t.Fatalf("Expected %d chars, got %q", Length, code)
		}
		for _, c := range code {
			if !strings.ContainsRune(Alphabet, c) {
				t.Fatalf("Code %q contains %q outside the alphabet", code, c)
			}
		}
	}
}

func TestParseSecret(t *testing.T) {
	b64, err := ParseSecret(testSecret)
	if err != nil || string(b64) != "12345678901234567890" {
		t.Fatalf("base64 decode: %q, %v", b64, err)
	}
	b32, err := ParseSecret("GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ")
	if err != nil || string(b32) != "12345678901234567890" {
		t.Fatalf("base32 decode: %q, %v", b32, err)
	}
	for _, bad := range []string{"", "   ", "not*base64!", "===="} {
		if _, err := ParseSecret(bad); !errors.Is(err, ErrInvalidSecret) {
			t.Errorf("ParseSecret(%q): expected ErrInvalidSecret, got %v", bad, err)
		}
	}
}

func TestGeneratorClock(t *testing.T) {
	g, err := NewGenerator(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Unix(1700000000, 0)
	g = g.WithClock(func() time.Time { return now })
	if got := g.Current(); got != "R87JJ" {
		t.Errorf("Expected R87JJ, got %s", got)
	}
	// 1700000000 % 30 == 20
	if got := g.Remaining(); got != 10*time.Second {
		t.Errorf("Expected 10s remaining, got %s", got)
	}
}
