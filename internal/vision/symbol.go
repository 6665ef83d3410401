package vision

import (
	"fmt"
	"strings"
)

// Symbol is the classifier's verdict about which known screen is visible.
type Symbol int

const (
	None Symbol = iota
	LoginScreen
	InvalidLogin
	GuardPrompt
	InvalidGuard
	CloudSync
	UpdateRequired
	LoggedIn
)

var symbolNames = [...]string{
	None:           "none",
	LoginScreen:    "login_screen",
	InvalidLogin:   "invalid_login",
	GuardPrompt:    "guard_prompt",
	InvalidGuard:   "invalid_guard",
	CloudSync:      "cloud_sync",
	UpdateRequired: "update_required",
	LoggedIn:       "logged_in",
}

func (s Symbol) String() string {
	if s >= 0 && int(s) < len(symbolNames) {
		return symbolNames[s]
	}
	return fmt.Sprintf("symbol(%d)", int(s))
}

// ParseSymbol is the inverse of String.
func ParseSymbol(name string) (Symbol, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range symbolNames {
		if n == name {
			return Symbol(i), nil
		}
	}
	return None, fmt.Errorf("unknown symbol %q", name)
}

// IsPopup reports whether the symbol is a post-launch dialog the controller
// dismisses or waits out.
func (s Symbol) IsPopup() bool {
	return s == CloudSync || s == UpdateRequired
}
