package conversation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrInvalidSlotValue signals a validation failure; the stage does not
// change and the slot prompt is re-issued.
var ErrInvalidSlotValue = errors.New("conversation: invalid slot value")

// Slot is one piece of information collected during intake. Prompt builds
// the customer-facing question; Validate normalizes and checks an answer.
type Slot struct {
	Name     string
	Prompt   func(tenantName, category string) string
	Validate func(body string) (string, error)
}

const (
	nameMinLen = 2
	nameMaxLen = 30
)

// ValidateName trims, requires 2-30 characters including at least one
// letter, and keeps only the first two whitespace-separated tokens.
func ValidateName(body string) (string, error) {
	trimmed := strings.TrimSpace(body)
	if len(trimmed) < nameMinLen || len(trimmed) > nameMaxLen {
		return "", fmt.Errorf("%w: name must be %d-%d characters", ErrInvalidSlotValue, nameMinLen, nameMaxLen)
	}
	hasLetter := false
	for _, r := range trimmed {
		if unicode.IsLetter(r) {
			hasLetter = true
			break
		}
	}
	if !hasLetter {
		return "", fmt.Errorf("%w: name must contain a letter", ErrInvalidSlotValue)
	}
	tokens := strings.Fields(trimmed)
	if len(tokens) > 2 {
		tokens = tokens[:2]
	}
	return strings.Join(tokens, " "), nil
}

// ValidateFreeText accepts any non-empty trimmed string.
func ValidateFreeText(body string) (string, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return "", fmt.Errorf("%w: a response is required", ErrInvalidSlotValue)
	}
	return trimmed, nil
}

// builtinSlots is the catalog of intake fields deployments can choose from.
var builtinSlots = map[string]Slot{
	"name": {
		Name:     "name",
		Validate: ValidateName,
		Prompt: func(tenantName, _ string) string {
			return fmt.Sprintf("Hi! This is %s. Could you please tell us your name?", tenantName)
		},
	},
	"location": {
		Name:     "location",
		Validate: ValidateFreeText,
		Prompt: func(_, _ string) string {
			return "Thanks! What's the service address or area you're in?"
		},
	},
	"issue": {
		Name:     "issue",
		Validate: ValidateFreeText,
		Prompt: func(_, category string) string {
			if category == "" {
				return "Thanks! Could you briefly describe the issue you're having?"
			}
			return fmt.Sprintf("Thanks! Could you briefly describe your %s issue?", categoryNoun(category))
		},
	},
}

// SlotsByName resolves an ordered slot configuration. Unknown names get a
// generic free-text slot so deployments can add fields without code changes.
func SlotsByName(names []string) []Slot {
	slots := make([]Slot, 0, len(names))
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if slot, ok := builtinSlots[name]; ok {
			slots = append(slots, slot)
			continue
		}
		n := name
		slots = append(slots, Slot{
			Name:     n,
			Validate: ValidateFreeText,
			Prompt: func(_, _ string) string {
				return fmt.Sprintf("Thanks! Could you tell us your %s?", strings.ReplaceAll(n, "_", " "))
			},
		})
	}
	return slots
}

// categoryNoun maps a tenant category to the noun used in prompts.
func categoryNoun(category string) string {
	switch strings.ToLower(category) {
	case "plumber", "plumbing":
		return "plumbing"
	case "electrician", "electrical":
		return "electrical"
	case "hvac":
		return "heating or cooling"
	case "locksmith":
		return "lock"
	default:
		return strings.ToLower(category)
	}
}
