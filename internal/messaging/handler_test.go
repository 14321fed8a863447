package messaging

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/tradecall/platform/internal/conversation"
	"github.com/tradecall/platform/internal/tenant"
	"github.com/tradecall/platform/pkg/logging"
)

type stubEngine struct {
	mu             sync.Mutex
	startCalls     []string
	messageCalls   []string
	lastTenant     *tenant.Tenant
	startActions   []conversation.Action
	messageActions []conversation.Action
	err            error
}

func (s *stubEngine) StartIntake(_ context.Context, t *tenant.Tenant, customer string) ([]conversation.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startCalls = append(s.startCalls, customer)
	s.lastTenant = t
	return s.startActions, s.err
}

func (s *stubEngine) HandleMessage(_ context.Context, t *tenant.Tenant, customer, body string) ([]conversation.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messageCalls = append(s.messageCalls, customer+":"+body)
	s.lastTenant = t
	return s.messageActions, s.err
}

type sentSMS struct {
	From, To, Body string
}

type stubSMSSender struct {
	mu   sync.Mutex
	sent []sentSMS
	err  error
}

func (s *stubSMSSender) SendSMS(_ context.Context, from, to, body string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentSMS{From: from, To: to, Body: body})
	return "SM-stub", s.err
}

type stubNotifier struct {
	mu     sync.Mutex
	alerts []string
	err    error
}

func (s *stubNotifier) AlertOperator(_ context.Context, t *tenant.Tenant, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, t.ID+":"+body)
	return s.err
}

func newTestRegistry(t *testing.T) *tenant.Registry {
	t.Helper()
	registry := tenant.NewRegistry(nil)
	err := registry.Add(&tenant.Tenant{
		Name:          "FlowRite Plumbing",
		Category:      "plumber",
		RoutingNumber: "+15551234567",
		ForwardNumber: "+15559990000",
	})
	if err != nil {
		t.Fatalf("seeding registry: %v", err)
	}
	return registry
}

type handlerFixture struct {
	handler  *Handler
	engine   *stubEngine
	sender   *stubSMSSender
	notifier *stubNotifier
}

func newHandlerFixture(t *testing.T, secret string) *handlerFixture {
	t.Helper()
	engine := &stubEngine{}
	sender := &stubSMSSender{}
	notifier := &stubNotifier{}
	handler := NewHandler(HandlerConfig{
		Registry:      newTestRegistry(t),
		Engine:        engine,
		Sender:        sender,
		Notifier:      notifier,
		Classifier:    Classifier{ShortCallThresholdSeconds: 10},
		PublicBaseURL: "https://tradecall.example.com",
		WebhookSecret: secret,
		Logger:        logging.New("error"),
	})
	return &handlerFixture{handler: handler, engine: engine, sender: sender, notifier: notifier}
}

func postForm(handlerFunc http.HandlerFunc, path string, form url.Values) *httptest.ResponseRecorder {
	r := httptest.NewRequest("POST", path, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	handlerFunc(w, r)
	return w
}

func TestVoiceWebhookDialsOperator(t *testing.T) {
	fx := newHandlerFixture(t, "")

	form := url.Values{}
	form.Set("CallSid", "CA123")
	form.Set("From", "+15557770000")
	form.Set("To", "+15551234567")

	w := postForm(fx.handler.VoiceWebhook, "/webhooks/twilio/voice", form)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "+15559990000") {
		t.Errorf("expected dial to forward number, got %s", body)
	}
	if !strings.Contains(body, "https://tradecall.example.com/webhooks/twilio/voice/status") {
		t.Errorf("expected status action callback, got %s", body)
	}
}

func TestVoiceWebhookUnknownNumberStillAnswersTwiML(t *testing.T) {
	fx := newHandlerFixture(t, "")

	form := url.Values{}
	form.Set("From", "+15557770000")
	form.Set("To", "+19998887777")

	w := postForm(fx.handler.VoiceWebhook, "/webhooks/twilio/voice", form)
	if w.Code != http.StatusOK {
		t.Fatalf("unknown tenant must still get TwiML, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "not in service") {
		t.Errorf("expected polite rejection, got %s", w.Body.String())
	}
}

func TestVoiceStatusAnsweredDoesNotOpenIntake(t *testing.T) {
	fx := newHandlerFixture(t, "")

	form := url.Values{}
	form.Set("From", "+15557770000")
	form.Set("To", "+15551234567")
	form.Set("DialCallStatus", "completed")
	form.Set("DialCallDuration", "30")

	w := postForm(fx.handler.VoiceStatusWebhook, VoiceStatusPath, form)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(fx.engine.startCalls) != 0 {
		t.Error("answered call must not open an intake conversation")
	}
	if !strings.Contains(w.Body.String(), "<Hangup") {
		t.Errorf("expected hangup TwiML, got %s", w.Body.String())
	}
}

func TestVoiceStatusMissedOpensIntakeAndTexts(t *testing.T) {
	fx := newHandlerFixture(t, "")
	fx.engine.startActions = []conversation.Action{
		conversation.SendText{To: "+15557770000", From: "+15551234567", Body: "Hi! What's your name?"},
	}

	form := url.Values{}
	form.Set("From", "+1 (555) 777-0000")
	form.Set("To", "+15551234567")
	form.Set("DialCallStatus", "no-answer")

	w := postForm(fx.handler.VoiceStatusWebhook, VoiceStatusPath, form)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(fx.engine.startCalls) != 1 || fx.engine.startCalls[0] != "+15557770000" {
		t.Fatalf("expected intake opened for normalized caller, got %v", fx.engine.startCalls)
	}
	if len(fx.sender.sent) != 1 || fx.sender.sent[0].Body != "Hi! What's your name?" {
		t.Fatalf("expected opening SMS dispatched, got %v", fx.sender.sent)
	}
	if !strings.Contains(w.Body.String(), "sending you a text") {
		t.Errorf("caller should hear the missed-call announcement, got %s", w.Body.String())
	}
}

func TestVoiceStatusShortCompletedCallIsMissed(t *testing.T) {
	fx := newHandlerFixture(t, "")

	form := url.Values{}
	form.Set("From", "+15557770000")
	form.Set("To", "+15551234567")
	form.Set("DialCallStatus", "completed")
	form.Set("DialCallDuration", "5")

	postForm(fx.handler.VoiceStatusWebhook, VoiceStatusPath, form)
	if len(fx.engine.startCalls) != 1 {
		t.Error("5s completed call should be treated as missed and open intake")
	}
}

func TestVoiceStatusEngineErrorStillAnswers(t *testing.T) {
	fx := newHandlerFixture(t, "")
	fx.engine.err = errors.New("redis down")

	form := url.Values{}
	form.Set("From", "+15557770000")
	form.Set("To", "+15551234567")
	form.Set("DialCallStatus", "busy")

	w := postForm(fx.handler.VoiceStatusWebhook, VoiceStatusPath, form)
	if w.Code != http.StatusOK {
		t.Fatalf("engine failure must not leak to the provider, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<Say") {
		t.Errorf("expected spoken apology, got %s", w.Body.String())
	}
}

func TestSMSWebhookDispatchesActionsInOrder(t *testing.T) {
	fx := newHandlerFixture(t, "")
	fx.engine.messageActions = []conversation.Action{
		conversation.NotifyOperator{TenantID: "flowrite-plumbing", Body: "New plumber request"},
		conversation.SendText{To: "+15557770000", From: "+15551234567", Body: "Thanks!"},
	}

	form := url.Values{}
	form.Set("MessageSid", "SM123")
	form.Set("From", "+15557770000")
	form.Set("To", "+15551234567")
	form.Set("Body", "John Smith")

	w := postForm(fx.handler.SMSWebhook, "/webhooks/twilio/sms", form)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("sms webhook response body must be empty, got %q", w.Body.String())
	}
	if len(fx.engine.messageCalls) != 1 || fx.engine.messageCalls[0] != "+15557770000:John Smith" {
		t.Fatalf("expected engine driven with normalized customer, got %v", fx.engine.messageCalls)
	}
	if len(fx.notifier.alerts) != 1 || !strings.Contains(fx.notifier.alerts[0], "New plumber request") {
		t.Fatalf("expected operator alert delivered, got %v", fx.notifier.alerts)
	}
	if len(fx.sender.sent) != 1 || fx.sender.sent[0].To != "+15557770000" {
		t.Fatalf("expected customer reply sent, got %v", fx.sender.sent)
	}
}

func TestSMSWebhookEmptyBodyStillDrivesEngine(t *testing.T) {
	// A media-only message arrives with an empty Body; the engine's slot
	// validation owns the re-prompt, so the handler must not drop it.
	fx := newHandlerFixture(t, "")
	fx.engine.messageActions = []conversation.Action{
		conversation.SendText{To: "+15557770000", From: "+15551234567", Body: "What's your name?"},
	}

	form := url.Values{}
	form.Set("MessageSid", "SM124")
	form.Set("From", "+15557770000")
	form.Set("To", "+15551234567")
	form.Set("NumMedia", "1")

	w := postForm(fx.handler.SMSWebhook, "/webhooks/twilio/sms", form)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(fx.engine.messageCalls) != 1 || fx.engine.messageCalls[0] != "+15557770000:" {
		t.Fatalf("expected engine to receive the empty body, got %v", fx.engine.messageCalls)
	}
	if len(fx.sender.sent) != 1 {
		t.Fatal("expected re-prompt dispatched to the customer")
	}
}

func TestSMSWebhookEngineErrorStillReturns200(t *testing.T) {
	fx := newHandlerFixture(t, "")
	fx.engine.err = errors.New("redis down")

	form := url.Values{}
	form.Set("From", "+15557770000")
	form.Set("To", "+15551234567")
	form.Set("Body", "hello")

	w := postForm(fx.handler.SMSWebhook, "/webhooks/twilio/sms", form)
	if w.Code != http.StatusOK {
		t.Fatalf("provider must get 200 even on internal failure, got %d", w.Code)
	}
}

func TestSMSWebhookUnknownTenantReturns200(t *testing.T) {
	fx := newHandlerFixture(t, "")

	form := url.Values{}
	form.Set("From", "+15557770000")
	form.Set("To", "+19998887777")
	form.Set("Body", "hello")

	w := postForm(fx.handler.SMSWebhook, "/webhooks/twilio/sms", form)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(fx.engine.messageCalls) != 0 {
		t.Error("unknown tenant must not reach the engine")
	}
}

func TestSMSWebhookFallbackTenantSendsFromDialedNumber(t *testing.T) {
	registry := tenant.NewRegistry(&tenant.Tenant{
		ID:            "default",
		Name:          "TradeCall",
		ForwardNumber: "+15559990000",
	})
	engine := &stubEngine{}
	sender := &stubSMSSender{}
	handler := NewHandler(HandlerConfig{
		Registry: registry,
		Engine:   engine,
		Sender:   sender,
		Logger:   logging.New("error"),
	})

	form := url.Values{}
	form.Set("From", "+15557770000")
	form.Set("To", "+19998887777")
	form.Set("Body", "hello")

	w := postForm(handler.SMSWebhook, "/webhooks/twilio/sms", form)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(engine.messageCalls) != 1 {
		t.Fatal("fallback tenant should route the message to the engine")
	}
	if engine.lastTenant == nil || engine.lastTenant.RoutingNumber != "+19998887777" {
		t.Fatalf("fallback tenant must adopt the dialed number as its sending number, got %+v", engine.lastTenant)
	}
}

func TestSMSWebhookNotifierFailureDoesNotBlockReply(t *testing.T) {
	fx := newHandlerFixture(t, "")
	fx.notifier.err = errors.New("operator phone unreachable")
	fx.engine.messageActions = []conversation.Action{
		conversation.NotifyOperator{TenantID: "flowrite-plumbing", Body: "alert"},
		conversation.SendText{To: "+15557770000", From: "+15551234567", Body: "Thanks!"},
	}

	form := url.Values{}
	form.Set("From", "+15557770000")
	form.Set("To", "+15551234567")
	form.Set("Body", "leaking water heater")

	postForm(fx.handler.SMSWebhook, "/webhooks/twilio/sms", form)
	if len(fx.sender.sent) != 1 {
		t.Fatal("customer ack must still go out when the operator alert fails")
	}
}

func TestWebhookSignatureEnforcement(t *testing.T) {
	const secret = "twilio-auth-token"
	fx := newHandlerFixture(t, secret)

	form := url.Values{}
	form.Set("From", "+15557770000")
	form.Set("To", "+15551234567")
	form.Set("Body", "hello")

	// No signature header.
	w := postForm(fx.handler.SMSWebhook, "https://tradecall.example.com/webhooks/twilio/sms", form)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned request should be rejected, got %d", w.Code)
	}

	// Properly signed.
	target := "https://tradecall.example.com/webhooks/twilio/sms"
	r := httptest.NewRequest("POST", target, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set("X-Twilio-Signature", computeSignature(buildSignaturePayload(target, form), secret))
	w = httptest.NewRecorder()
	fx.handler.SMSWebhook(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("signed request should pass, got %d", w.Code)
	}
}

func TestStatusWebhookAcknowledges(t *testing.T) {
	fx := newHandlerFixture(t, "")

	form := url.Values{}
	form.Set("MessageSid", "SM123")
	form.Set("MessageStatus", "delivered")

	w := postForm(fx.handler.StatusWebhook, "/webhooks/twilio/status", form)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
