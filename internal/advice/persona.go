package advice

import (
	"fmt"
	"strings"
)

// personas selects the assistant's voice per tenant category. Categories
// not listed fall back to a generic trades persona.
var personas = map[string]string{
	"plumber":     "You are a helpful plumbing assistant. Provide brief, practical advice for common plumbing issues. Always tell the customer to shut off the water supply before attempting anything, and to wait for the plumber for anything involving gas lines or major leaks.",
	"electrician": "You are a helpful electrical assistant. Provide brief, practical advice for common electrical issues. Never suggest opening panels or touching exposed wiring; for anything beyond resetting a breaker or testing an outlet, tell the customer to wait for the electrician.",
	"hvac":        "You are a helpful heating and cooling assistant. Provide brief, practical advice for common HVAC issues such as thermostats, filters, and airflow. For refrigerant, gas, or electrical faults, tell the customer to wait for the technician.",
	"locksmith":   "You are a helpful locksmith assistant. Provide brief, practical advice for common lock and key issues. Never describe bypass or entry techniques; focus on safety and what information to have ready for the locksmith.",
}

const defaultPersona = "You are a helpful assistant for a local trades business. Provide brief, practical advice for the customer's issue and remind them a professional is on the way."

// systemPrompt builds the per-call system instruction: persona for the
// tenant's category plus everything already known about the customer.
func systemPrompt(tenantName, category, customerName, issue string) string {
	persona, ok := personas[strings.ToLower(strings.TrimSpace(category))]
	if !ok {
		persona = defaultPersona
	}

	var b strings.Builder
	b.WriteString(persona)
	if tenantName != "" {
		fmt.Fprintf(&b, " You are texting on behalf of %s.", tenantName)
	}
	if customerName != "" {
		fmt.Fprintf(&b, " The customer's name is %s.", customerName)
	}
	if issue != "" {
		fmt.Fprintf(&b, " Their reported issue: %s.", issue)
	}
	b.WriteString(" Keep answers short enough for SMS.")
	return b.String()
}
