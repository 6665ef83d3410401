package hid

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Modifier bits of the keyboard report.
const (
	ModLCtrl  byte = 0x01
	ModLShift byte = 0x02
	ModLAlt   byte = 0x04
	ModLGUI   byte = 0x08
)

// Usage IDs (HID keyboard page) for the keys the automation presses by name.
const (
	KeyA         byte = 0x04
	KeyR         byte = 0x15
	Key1         byte = 0x1E
	Key0         byte = 0x27
	KeyEnter     byte = 0x28
	KeyEsc       byte = 0x29
	KeyBackspace byte = 0x2A
	KeyTab       byte = 0x2B
	KeySpace     byte = 0x2C
)

// Key is one printable character resolved to a report.
type Key struct {
	Mod  byte
	Code byte
}

var asciiMap = buildASCIIMap()

func buildASCIIMap() map[rune]Key {
	m := make(map[rune]Key, 100)
	for i, c := range "abcdefghijklmnopqrstuvwxyz" {
		m[c] = Key{Code: KeyA + byte(i)}
		m[c-'a'+'A'] = Key{Mod: ModLShift, Code: KeyA + byte(i)}
	}
	for i, c := range "1234567890" {
		m[c] = Key{Code: Key1 + byte(i)}
	}

	plain := map[rune]byte{
		'\n': KeyEnter, '\r': KeyEnter, '\t': KeyTab, ' ': KeySpace,
		'-': 0x2D, '=': 0x2E, '[': 0x2F, ']': 0x30, '\\': 0x31,
		';': 0x33, '\'': 0x34, '`': 0x35, ',': 0x36, '.': 0x37, '/': 0x38,
	}
	for c, code := range plain {
		m[c] = Key{Code: code}
	}

	shifted := map[rune]byte{
		'!': 0x1E, '@': 0x1F, '#': 0x20, '$': 0x21, '%': 0x22,
		'^': 0x23, '&': 0x24, '*': 0x25, '(': 0x26, ')': 0x27,
		'_': 0x2D, '+': 0x2E, '{': 0x2F, '}': 0x30, '|': 0x31,
		':': 0x33, '"': 0x34, '~': 0x35, '<': 0x36, '>': 0x37, '?': 0x38,
	}
	for c, code := range shifted {
		m[c] = Key{Mod: ModLShift, Code: code}
	}
	return m
}

// Lookup resolves a character to its modifier and usage ID (US layout).
func Lookup(r rune) (Key, bool) {
	k, ok := asciiMap[r]
	return k, ok
}

var namedKeys = map[string]byte{
	"enter": KeyEnter, "return": KeyEnter,
	"esc": KeyEsc, "escape": KeyEsc,
	"backspace": KeyBackspace,
	"tab":       KeyTab,
	"space":     KeySpace,
}

var namedMods = map[string]byte{
	"ctrl": ModLCtrl, "control": ModLCtrl,
	"shift": ModLShift,
	"alt":   ModLAlt,
	"win": ModLGUI, "gui": ModLGUI, "super": ModLGUI, "cmd": ModLGUI,
}

// ParseChord parses a key combination such as "enter", "alt+tab" or
// "win+r". The last element is the key; a single character resolves through
// the US layout and contributes its own Shift.
func ParseChord(s string) (mods byte, key byte, err error) {
	parts := strings.Split(strings.TrimSpace(s), "+")
	for _, p := range parts[:len(parts)-1] {
		m, ok := namedMods[strings.ToLower(strings.TrimSpace(p))]
		if !ok {
			return 0, 0, fmt.Errorf("unknown modifier %q in %q", p, s)
		}
		mods |= m
	}
	last := strings.TrimSpace(parts[len(parts)-1])
	if k, ok := namedKeys[strings.ToLower(last)]; ok {
		return mods, k, nil
	}
	if utf8.RuneCountInString(last) == 1 {
		r, _ := utf8.DecodeRuneInString(last)
		if k, ok := Lookup(r); ok {
			return mods | k.Mod, k.Code, nil
		}
	}
	return 0, 0, fmt.Errorf("unknown key %q in %q", last, s)
}
