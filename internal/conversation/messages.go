package conversation

import (
	"fmt"
	"sort"
	"strings"
)

// Customer-facing copy. Wording is deliberately close to what operators
// already send by hand; tenant name and category are injected per tenant.

const (
	adviceFallbackMessage = "I apologize, but I couldn't generate specific advice at the moment. Our team will contact you shortly."
	consentPromptMessage  = "Thanks for providing the details! Our team will contact you shortly. Would you like some immediate troubleshooting advice from our AI assistant while you wait? Reply YES or NO."
	consentDeclineMessage = "No problem - our team will contact you shortly. Thanks for reaching out!"
	chatClosingMessage    = "Thanks for chatting! Our team will be in touch shortly. Goodbye."
	chatHint              = "\n\nReply STOP to end this chat."
)

func invalidNamePrompt() string {
	return "Sorry, we didn't catch that. Could you share your first and last name?"
}

func invalidSlotPrompt(slot Slot, tenantName, category string) string {
	if slot.Name == "name" {
		return invalidNamePrompt()
	}
	return "Sorry, we didn't catch that. " + slot.Prompt(tenantName, category)
}

func intakeAckMessage(advice string) string {
	if advice == "" {
		return "Thanks for providing the details! Our team will contact you shortly."
	}
	return fmt.Sprintf("Thanks for providing the details! Here's some immediate advice: %s\n\nOur team will contact you shortly.", advice)
}

// operatorAlertBody summarizes every collected slot plus the customer
// address for the operator's phone.
func operatorAlertBody(tenantCategory, customer string, slots map[string]string) string {
	noun := strings.TrimSpace(tenantCategory)
	if noun == "" {
		noun = "service"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "New %s request:\n", noun)
	if name, ok := slots["name"]; ok {
		fmt.Fprintf(&b, "Name: %s\n", name)
	}
	fmt.Fprintf(&b, "Phone: %s\n", customer)

	rest := make([]string, 0, len(slots))
	for k := range slots {
		if k != "name" {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		fmt.Fprintf(&b, "%s: %s\n", labelFor(k), slots[k])
	}
	return strings.TrimRight(b.String(), "\n")
}

func labelFor(slot string) string {
	label := strings.ReplaceAll(slot, "_", " ")
	if label == "" {
		return label
	}
	return strings.ToUpper(label[:1]) + label[1:]
}
