package messaging

// Disposition is the outcome of a dial attempt to the operator.
type Disposition int

const (
	DispositionAnswered Disposition = iota
	DispositionMissed
)

func (d Disposition) String() string {
	if d == DispositionMissed {
		return "missed"
	}
	return "answered"
}

// DefaultShortCallThreshold is the completed-call duration, in seconds,
// below which a call is still treated as missed. Voicemail pickups and
// instant hangups complete the dial without the operator ever talking to
// the caller.
const DefaultShortCallThreshold = 10

// Classifier decides whether a finished dial attempt reached the operator.
type Classifier struct {
	// ShortCallThresholdSeconds marks completed calls shorter than this
	// as missed. Zero or negative uses DefaultShortCallThreshold.
	ShortCallThresholdSeconds int
}

// Classify maps a Twilio dial status and duration to a disposition.
func (c Classifier) Classify(status string, durationSeconds int) Disposition {
	switch status {
	case "no-answer", "busy", "failed":
		return DispositionMissed
	case "completed":
		threshold := c.ShortCallThresholdSeconds
		if threshold <= 0 {
			threshold = DefaultShortCallThreshold
		}
		if durationSeconds < threshold {
			return DispositionMissed
		}
		return DispositionAnswered
	default:
		return DispositionAnswered
	}
}
