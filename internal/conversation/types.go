package conversation

import (
	"strings"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single message in a conversation transcript.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Stage is the customer's position in the intake/chat state machine.
type Stage string

const (
	// StageWaitingConsent waits for an explicit YES before advice generation.
	StageWaitingConsent Stage = "waiting_for_consent"
	// StageChatting is the terminal advice-exchange stage.
	StageChatting Stage = "chatting"
)

const waitingPrefix = "waiting_for_"

// WaitingFor returns the stage that collects the named intake slot.
func WaitingFor(slot string) Stage {
	return Stage(waitingPrefix + slot)
}

// SlotName returns the slot a waiting stage collects, or "" for
// consent/chatting stages.
func (s Stage) SlotName() string {
	name := strings.TrimPrefix(string(s), waitingPrefix)
	if name == string(s) || name == "consent" {
		return ""
	}
	return name
}

// Record is the mutable conversation state for one (tenant, customer) pair.
type Record struct {
	TenantID  string            `json:"tenant_id"`
	Customer  string            `json:"customer"`
	Stage     Stage             `json:"stage"`
	Slots     map[string]string `json:"slots,omitempty"`
	History   []Turn            `json:"history,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Slot accessors for the well-known intake fields.

func (r *Record) Name() string  { return r.Slots["name"] }
func (r *Record) Issue() string { return r.Slots["issue"] }

// SetSlot stores a collected slot value.
func (r *Record) SetSlot(name, value string) {
	if r.Slots == nil {
		r.Slots = make(map[string]string)
	}
	r.Slots[name] = value
}

// CapHistory enforces the bounded-memory retention policy: when the
// transcript exceeds head+tail turns, keep the first head turns for
// context-setting plus the most recent tail turns.
func CapHistory(history []Turn, head, tail int) []Turn {
	if head < 0 {
		head = 0
	}
	if tail < 0 {
		tail = 0
	}
	if len(history) <= head+tail {
		return history
	}
	capped := make([]Turn, 0, head+tail)
	capped = append(capped, history[:head]...)
	capped = append(capped, history[len(history)-tail:]...)
	return capped
}
