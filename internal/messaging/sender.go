package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tradecall/platform/pkg/logging"
)

var twilioSendTracer = otel.Tracer("tradecall.internal.messaging.twilio_send")

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// TwilioSender posts SMS messages and places calls through Twilio's REST API.
type TwilioSender struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewTwilioSender builds a sender with sane defaults.
func NewTwilioSender(accountSID, authToken string, logger *logging.Logger) *TwilioSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &TwilioSender{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    twilioAPIBase,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// SendSMS dispatches a single SMS, retrying transient failures. Returns the
// provider message SID on success.
func (s *TwilioSender) SendSMS(ctx context.Context, from, to, body string) (string, error) {
	if s.accountSID == "" || s.authToken == "" {
		return "", errors.New("messaging: twilio credentials missing")
	}
	if to == "" {
		return "", errors.New("messaging: to required")
	}
	if from == "" {
		return "", errors.New("messaging: from required")
	}
	if strings.TrimSpace(body) == "" {
		return "", errors.New("messaging: body required")
	}

	ctx, span := twilioSendTracer.Start(ctx, "messaging.twilio.send_sms")
	defer span.End()
	span.SetAttributes(attribute.String("tradecall.to", to))

	payload := url.Values{}
	payload.Set("To", to)
	payload.Set("From", from)
	payload.Set("Body", body)

	sid, err := s.post(ctx, fmt.Sprintf("%s/Accounts/%s/Messages.json", s.baseURL, s.accountSID), payload)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	s.logger.Info("twilio sms sent", "to", to, "sid", sid)
	return sid, nil
}

// StartCall places an outbound call that runs the given TwiML document.
func (s *TwilioSender) StartCall(ctx context.Context, from, to, twiml string) (string, error) {
	if s.accountSID == "" || s.authToken == "" {
		return "", errors.New("messaging: twilio credentials missing")
	}
	if to == "" || from == "" {
		return "", errors.New("messaging: to and from required")
	}
	if strings.TrimSpace(twiml) == "" {
		twiml = SayHangupTwiML("This is a test call. Goodbye.")
	}

	ctx, span := twilioSendTracer.Start(ctx, "messaging.twilio.start_call")
	defer span.End()
	span.SetAttributes(attribute.String("tradecall.to", to))

	payload := url.Values{}
	payload.Set("To", to)
	payload.Set("From", from)
	payload.Set("Twiml", twiml)

	sid, err := s.post(ctx, fmt.Sprintf("%s/Accounts/%s/Calls.json", s.baseURL, s.accountSID), payload)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	s.logger.Info("twilio call started", "to", to, "sid", sid)
	return sid, nil
}

// post submits a form-encoded request with up to three attempts. Rate limits
// and 5xx responses are retried with jitter; other 4xx errors are not.
func (s *TwilioSender) post(ctx context.Context, endpoint string, payload url.Values) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
		if err != nil {
			return "", err
		}
		req.SetBasicAuth(s.accountSID, s.authToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				var parsed struct {
					SID string `json:"sid"`
				}
				_ = json.Unmarshal(body, &parsed)
				return parsed.SID, nil
			}
			lastErr = fmt.Errorf("twilio request failed: %s", formatTwilioError(resp.StatusCode, body))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != 429 {
				break
			}
		}

		if attempt < 3 {
			select {
			case <-time.After(time.Duration(200+rand.Intn(300)) * time.Millisecond):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", lastErr
}

type twilioAPIError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func formatTwilioError(status int, body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return fmt.Sprintf("status %d", status)
	}
	var parsed twilioAPIError
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil && parsed.Message != "" {
		if parsed.Code != 0 {
			return fmt.Sprintf("status %d code %d: %s", status, parsed.Code, parsed.Message)
		}
		return fmt.Sprintf("status %d: %s", status, parsed.Message)
	}
	return fmt.Sprintf("status %d: %s", status, trimmed)
}
