package command

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidChord is returned for chords that do not name exactly one key.
var ErrInvalidChord = errors.New("invalid key chord")

var modifierAliases = map[string]string{
	"ctrl":    "ctrl",
	"control": "ctrl",
	"alt":     "alt",
	"option":  "alt",
	"shift":   "shift",
	"meta":    "meta",
	"cmd":     "meta",
	"super":   "meta",
}

// Canonical modifier order.
var modifierOrder = []string{"ctrl", "alt", "shift", "meta"}

// NormalizeChord returns the canonical form of a chord such as
// "Shift+Ctrl+B": lower case, modifiers in ctrl, alt, shift, meta order,
// joined with "+", key last.
func NormalizeChord(chord string) (string, error) {
	parts := strings.Split(strings.ToLower(chord), "+")

	mods := make(map[string]bool)
	key := ""
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return "", fmt.Errorf("%w: %q", ErrInvalidChord, chord)
		}
		if m, ok := modifierAliases[p]; ok {
			mods[m] = true
			continue
		}
		if key != "" {
			return "", fmt.Errorf("%w: %q has more than one key", ErrInvalidChord, chord)
		}
		key = p
	}
	if key == "" {
		return "", fmt.Errorf("%w: %q has no key", ErrInvalidChord, chord)
	}

	out := make([]string, 0, len(mods)+1)
	for _, m := range modifierOrder {
		if mods[m] {
			out = append(out, m)
		}
	}
	return strings.Join(append(out, key), "+"), nil
}
