package tenant

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

var (
	// ErrNotFound is returned when no tenant owns a routing number.
	ErrNotFound = errors.New("tenant: no tenant for routing number")
	// ErrDuplicate is returned when an add conflicts on routing number.
	ErrDuplicate = errors.New("tenant: routing number already registered")

	phoneDigitsRe = regexp.MustCompile(`\d+`)
)

// Tenant is one service business routed through the platform.
type Tenant struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Category      string `json:"category"`
	RoutingNumber string `json:"routing_number"`
	ForwardNumber string `json:"forward_number"`
	OperatorEmail string `json:"operator_email,omitempty"`
	CredentialRef string `json:"credential_ref,omitempty"`
}

// Registry maps public routing numbers to tenants. Reads dominate; writes
// only happen through the admin API.
type Registry struct {
	mu       sync.RWMutex
	byNumber map[string]*Tenant
	fallback *Tenant
}

// NewRegistry constructs an empty registry. When fallback is non-nil,
// unknown routing numbers resolve to it instead of failing.
func NewRegistry(fallback *Tenant) *Registry {
	return &Registry{
		byNumber: make(map[string]*Tenant),
		fallback: fallback,
	}
}

// LoadJSON seeds the registry from a JSON array of tenants.
func (r *Registry) LoadJSON(data string) error {
	if strings.TrimSpace(data) == "" {
		return nil
	}
	var tenants []Tenant
	if err := json.Unmarshal([]byte(data), &tenants); err != nil {
		return fmt.Errorf("tenant: failed to decode tenants JSON: %w", err)
	}
	for i := range tenants {
		if err := r.Add(&tenants[i]); err != nil {
			return err
		}
	}
	return nil
}

// Resolve returns the tenant owning the routing number. Unknown numbers
// fail closed unless a fallback tenant is configured.
func (r *Registry) Resolve(routingNumber string) (*Tenant, error) {
	key := canonicalDigits(routingNumber)
	if key == "" {
		return nil, ErrNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.byNumber[key]; ok {
		return t, nil
	}
	if r.fallback != nil {
		// The fallback tenant serves whatever number was dialed, so it
		// adopts that number for outbound sends.
		t := *r.fallback
		if t.RoutingNumber == "" {
			t.RoutingNumber = "+" + key
		}
		return &t, nil
	}
	return nil, ErrNotFound
}

// Add registers a tenant. The routing number must be unique.
func (r *Registry) Add(t *Tenant) error {
	if t == nil {
		return errors.New("tenant: nil tenant")
	}
	key := canonicalDigits(t.RoutingNumber)
	if key == "" {
		return errors.New("tenant: routing number required")
	}
	if strings.TrimSpace(t.ForwardNumber) == "" {
		return errors.New("tenant: forward number required")
	}
	if t.ID == "" {
		t.ID = deriveID(t.Name, key)
	}
	t.RoutingNumber = NormalizeE164(t.RoutingNumber)
	t.ForwardNumber = NormalizeE164(t.ForwardNumber)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byNumber[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, t.RoutingNumber)
	}
	r.byNumber[key] = t
	return nil
}

// List returns all registered tenants.
func (r *Registry) List() []*Tenant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tenants := make([]*Tenant, 0, len(r.byNumber))
	for _, t := range r.byNumber {
		tenants = append(tenants, t)
	}
	return tenants
}

func deriveID(name, digits string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.Join(strings.Fields(slug), "-")
	if slug == "" {
		return digits
	}
	return slug
}

func sanitizePhone(value string) string {
	if value == "" {
		return ""
	}
	return strings.Join(phoneDigitsRe.FindAllString(value, -1), "")
}

// canonicalDigits reduces a phone value to the digits used as a registry
// key. Ten-digit national numbers default to country code 1, so
// "(555) 123-4567" and "+15551234567" canonicalize identically.
func canonicalDigits(value string) string {
	digits := sanitizePhone(value)
	if len(digits) == 10 {
		return "1" + digits
	}
	return digits
}

// NormalizeE164 ensures the value begins with + followed by digits only,
// defaulting ten-digit national numbers to country code 1.
func NormalizeE164(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	digits := canonicalDigits(value)
	if digits == "" {
		return ""
	}
	return "+" + digits
}
