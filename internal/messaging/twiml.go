package messaging

import (
	"encoding/xml"
	"fmt"
)

// TwiML voice response documents. Twilio rejects malformed XML with a
// carrier error audible to the caller, so rendering goes through
// encoding/xml rather than string templates.

type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Say     *twimlSay    `xml:",omitempty"`
	Dial    *twimlDial   `xml:",omitempty"`
	Hangup  *twimlHangup `xml:",omitempty"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlDial struct {
	XMLName xml.Name `xml:"Dial"`
	Timeout int      `xml:"timeout,attr,omitempty"`
	Action  string   `xml:"action,attr,omitempty"`
	Method  string   `xml:"method,attr,omitempty"`
	Number  string   `xml:"Number"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// DialTwiML connects the caller to the operator's phone. The action URL
// receives the dial outcome once the attempt ends.
func DialTwiML(number string, timeoutSeconds int, actionURL string) string {
	return renderTwiML(twimlResponse{
		Dial: &twimlDial{
			Timeout: timeoutSeconds,
			Action:  actionURL,
			Method:  "POST",
			Number:  number,
		},
	})
}

// SayHangupTwiML speaks a short message and ends the call.
func SayHangupTwiML(text string) string {
	return renderTwiML(twimlResponse{
		Say:    &twimlSay{Text: text},
		Hangup: &twimlHangup{},
	})
}

// HangupTwiML ends the call with no announcement.
func HangupTwiML() string {
	return renderTwiML(twimlResponse{Hangup: &twimlHangup{}})
}

// EmptyTwiML acknowledges a webhook with no instructions.
func EmptyTwiML() string {
	return renderTwiML(twimlResponse{})
}

func renderTwiML(doc twimlResponse) string {
	out, err := xml.Marshal(doc)
	if err != nil {
		// Marshal of these fixed shapes cannot fail; keep the call alive
		// with an empty response if it somehow does.
		return xml.Header + "<Response></Response>"
	}
	return fmt.Sprintf("%s%s", xml.Header, out)
}
