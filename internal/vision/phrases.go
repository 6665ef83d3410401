package vision

import (
	"errors"
	"slices"
	"strings"
	"unicode"
)

// PhraseSets holds the lowercase substrings that identify each dialog.
type PhraseSets struct {
	InvalidLogin []string `yaml:"invalid_login"`
	GuardPrompt  []string `yaml:"guard_prompt"`
	InvalidGuard []string `yaml:"invalid_guard"`
	CloudSync    []string `yaml:"cloud_sync"`
}

// DefaultPhrases returns the phrase sets for the English client.
func DefaultPhrases() PhraseSets {
	return PhraseSets{
		InvalidLogin: []string{
			"please check your password",
			"account name and try again",
			"invalid login",
			"incorrect password",
			"wrong username",
		},
		GuardPrompt: []string{
			"steam guard",
			"enter steam guard",
			"enter the code from your steam mobile app",
			"use backup code",
		},
		InvalidGuard: []string{
			"incorrect code",
			"incorrect code please try again",
			"incorrect code, please try again",
			"invalid code",
			"please try again",
			"try again code",
		},
		CloudSync: []string{
			"cloud out of date",
			"play anyway",
			"play anyvvay",
			"play anvvay",
			"cloud sync",
		},
	}
}

// OCR commonly reads "w" as "vv" on the cloud dialog's button, so these
// spellings match regardless of the configured set.
var cloudSyncTolerant = []string{"play anyway", "play anyvvay", "play anvvay", "anyway"}

// Validate rejects empty sets.
func (p PhraseSets) Validate() error {
	var errs []error
	for name, set := range map[string][]string{
		"invalid_login": p.InvalidLogin,
		"guard_prompt":  p.GuardPrompt,
		"invalid_guard": p.InvalidGuard,
		"cloud_sync":    p.CloudSync,
	} {
		if len(set) == 0 {
			errs = append(errs, errors.New("phrase set "+name+" is empty"))
		}
	}
	return errors.Join(errs...)
}

// Normalized returns a copy with every phrase lowercased and trimmed.
func (p PhraseSets) Normalized() PhraseSets {
	return PhraseSets{
		InvalidLogin: lowerAll(p.InvalidLogin),
		GuardPrompt:  lowerAll(p.GuardPrompt),
		InvalidGuard: lowerAll(p.InvalidGuard),
		CloudSync:    lowerAll(p.CloudSync),
	}
}

// Classify maps recognized text to a Symbol. The first matching rule wins:
// error dialogs outrank the prompts they are drawn over.
func (p PhraseSets) Classify(text string) Symbol {
	t := strings.ToLower(text)
	switch {
	case containsAny(t, p.InvalidLogin):
		return InvalidLogin
	case containsAny(t, p.InvalidGuard):
		return InvalidGuard
	case containsAny(t, p.CloudSync) || containsAny(t, cloudSyncTolerant):
		return CloudSync
	case strings.Contains(t, "update"):
		return UpdateRequired
	case strings.Contains(t, "sign in") && strings.Contains(t, "password"):
		return LoginScreen
	case containsAny(t, p.GuardPrompt):
		return GuardPrompt
	case containsWord(t, "library", "store"):
		return LoggedIn
	}
	return None
}

// UpdateInProgress reports whether an update dialog is still on screen.
func UpdateInProgress(text string, sym Symbol) bool {
	return sym == UpdateRequired || strings.Contains(strings.ToLower(text), "updating")
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if p != "" && strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// containsWord reports whether any of words appears as a whole token, so
// "store" does not match inside "restore".
func containsWord(text string, words ...string) bool {
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		if slices.Contains(words, tok) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
