package messaging

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tradecall/platform/internal/conversation"
	"github.com/tradecall/platform/internal/observability/metrics"
	"github.com/tradecall/platform/internal/tenancy"
	"github.com/tradecall/platform/internal/tenant"
	"github.com/tradecall/platform/pkg/logging"
)

// VoiceStatusPath is where Twilio reports the outcome of the operator dial.
const VoiceStatusPath = "/webhooks/twilio/voice/status"

const missedCallAnnouncement = "Sorry we missed your call. We're sending you a text message right now so we can help."

// conversationEngine is the slice of the engine the webhook layer drives.
type conversationEngine interface {
	StartIntake(ctx context.Context, t *tenant.Tenant, customer string) ([]conversation.Action, error)
	HandleMessage(ctx context.Context, t *tenant.Tenant, customer, body string) ([]conversation.Action, error)
}

// operatorNotifier delivers alerts produced by the engine.
type operatorNotifier interface {
	AlertOperator(ctx context.Context, t *tenant.Tenant, body string) error
}

// HandlerConfig wires the webhook handler's collaborators.
type HandlerConfig struct {
	Registry      *tenant.Registry
	Engine        conversationEngine
	Sender        SMSSender
	Notifier      operatorNotifier
	Classifier    Classifier
	DialTimeout   time.Duration
	PublicBaseURL string
	// WebhookSecret enables Twilio signature validation when non-empty.
	WebhookSecret string
	Logger        *logging.Logger
	Metrics       *metrics.WebhookMetrics
}

// SMSSender sends a single SMS. Satisfied by TwilioSender.
type SMSSender interface {
	SendSMS(ctx context.Context, from, to, body string) (string, error)
}

// Handler serves the Twilio voice and SMS webhooks. Responses are always
// well-formed TwiML (or an empty 200 for the SMS path): a non-2xx answer
// makes the provider retry, and a retry storm on a broken dependency only
// makes things worse.
type Handler struct {
	registry      *tenant.Registry
	engine        conversationEngine
	sender        SMSSender
	notifier      operatorNotifier
	classifier    Classifier
	dialTimeout   time.Duration
	publicBaseURL string
	webhookSecret string
	logger        *logging.Logger
	metrics       *metrics.WebhookMetrics
	tracer        trace.Tracer
}

// NewHandler creates a webhook handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Registry == nil {
		panic("messaging: registry cannot be nil")
	}
	if cfg.Engine == nil {
		panic("messaging: engine cannot be nil")
	}
	if cfg.Sender == nil {
		panic("messaging: sender cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 15 * time.Second
	}
	return &Handler{
		registry:      cfg.Registry,
		engine:        cfg.Engine,
		sender:        cfg.Sender,
		notifier:      cfg.Notifier,
		classifier:    cfg.Classifier,
		dialTimeout:   cfg.DialTimeout,
		publicBaseURL: cfg.PublicBaseURL,
		webhookSecret: cfg.WebhookSecret,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		tracer:        otel.Tracer("tradecall.internal.messaging"),
	}
}

// VoiceWebhook handles POST /webhooks/twilio/voice: an inbound call on a
// tenant's routing number. The caller is connected to the operator; the
// dial outcome comes back on the status callback.
func (h *Handler) VoiceWebhook(w http.ResponseWriter, r *http.Request) {
	_, span := h.tracer.Start(r.Context(), "messaging.voice.webhook")
	defer span.End()
	start := time.Now()
	defer func() { h.metrics.ObserveLatency("voice", time.Since(start).Seconds()) }()

	webhook, ok := h.authenticate(w, r, span)
	if !ok {
		h.metrics.ObserveInbound("voice", "rejected")
		return
	}

	t, err := h.registry.Resolve(webhook.To)
	if err != nil {
		h.logger.Warn("call for unknown routing number", "to", webhook.To, "from", webhook.From)
		h.metrics.ObserveInbound("voice", "unknown_tenant")
		span.RecordError(err)
		writeTwiML(w, SayHangupTwiML("This number is not in service. Goodbye."))
		return
	}
	span.SetAttributes(attribute.String("tradecall.tenant_id", t.ID))

	h.logger.Info("inbound call", "tenant_id", t.ID, "from", webhook.From, "call_sid", webhook.CallSid)
	h.metrics.ObserveInbound("voice", "ok")
	writeTwiML(w, DialTwiML(t.ForwardNumber, int(h.dialTimeout.Seconds()), h.publicBaseURL+VoiceStatusPath))
}

// VoiceStatusWebhook handles POST /webhooks/twilio/voice/status: the result
// of the operator dial. A missed call opens the SMS intake conversation.
func (h *Handler) VoiceStatusWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "messaging.voice.status")
	defer span.End()
	start := time.Now()
	defer func() { h.metrics.ObserveLatency("voice_status", time.Since(start).Seconds()) }()

	webhook, ok := h.authenticate(w, r, span)
	if !ok {
		h.metrics.ObserveInbound("voice_status", "rejected")
		return
	}

	t, err := h.registry.Resolve(webhook.To)
	if err != nil {
		h.metrics.ObserveInbound("voice_status", "unknown_tenant")
		span.RecordError(err)
		writeTwiML(w, HangupTwiML())
		return
	}
	ctx = tenancy.WithTenantID(ctx, t.ID)
	span.SetAttributes(
		attribute.String("tradecall.tenant_id", t.ID),
		attribute.String("tradecall.dial_status", webhook.DialCallStatus),
	)

	disposition := h.classifier.Classify(webhook.DialCallStatus, webhook.DialCallDuration)
	h.logger.Info("dial finished",
		"tenant_id", t.ID,
		"from", webhook.From,
		"status", webhook.DialCallStatus,
		"duration_s", webhook.DialCallDuration,
		"disposition", disposition.String(),
	)
	h.metrics.ObserveInbound("voice_status", disposition.String())

	if disposition == DispositionAnswered {
		writeTwiML(w, HangupTwiML())
		return
	}

	customer := tenant.NormalizeE164(webhook.From)
	if customer == "" {
		// Withheld caller ID; nowhere to text.
		writeTwiML(w, SayHangupTwiML("Sorry we missed your call. Please call back later."))
		return
	}

	actions, err := h.engine.StartIntake(ctx, t, customer)
	if err != nil {
		h.logger.Error("failed to open intake conversation", "error", err, "tenant_id", t.ID, "customer", customer)
		span.RecordError(err)
		writeTwiML(w, SayHangupTwiML("Sorry we missed your call. Please call back later."))
		return
	}
	h.dispatch(ctx, t, actions)
	writeTwiML(w, SayHangupTwiML(missedCallAnnouncement))
}

// SMSWebhook handles POST /webhooks/twilio/sms: an inbound customer text.
// The response is always 200 with an empty body; replies go out through the
// REST API, not the webhook response.
func (h *Handler) SMSWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "messaging.sms.webhook")
	defer span.End()
	start := time.Now()
	defer func() { h.metrics.ObserveLatency("sms", time.Since(start).Seconds()) }()

	webhook, ok := h.authenticate(w, r, span)
	if !ok {
		h.metrics.ObserveInbound("sms", "rejected")
		return
	}

	from := tenant.NormalizeE164(webhook.From)
	if from == "" {
		h.metrics.ObserveInbound("sms", "invalid")
		w.WriteHeader(http.StatusOK)
		return
	}

	t, err := h.registry.Resolve(webhook.To)
	if err != nil {
		h.logger.Warn("sms for unknown routing number", "to", webhook.To, "from", from)
		h.metrics.ObserveInbound("sms", "unknown_tenant")
		span.RecordError(err)
		w.WriteHeader(http.StatusOK)
		return
	}
	ctx = tenancy.WithTenantID(ctx, t.ID)
	span.SetAttributes(attribute.String("tradecall.tenant_id", t.ID))

	actions, err := h.engine.HandleMessage(ctx, t, from, webhook.Body)
	if err != nil {
		h.logger.Error("message handling failed", "error", err, "tenant_id", t.ID, "customer", from)
		h.metrics.ObserveInbound("sms", "error")
		span.RecordError(err)
		w.WriteHeader(http.StatusOK)
		return
	}
	h.metrics.ObserveInbound("sms", "ok")
	h.dispatch(ctx, t, actions)
	w.WriteHeader(http.StatusOK)
}

// StatusWebhook handles POST /webhooks/twilio/status: delivery receipts for
// outbound messages. Logged and acknowledged, nothing more.
func (h *Handler) StatusWebhook(w http.ResponseWriter, r *http.Request) {
	webhook, err := ParseTwilioWebhook(r)
	if err == nil {
		h.logger.Debug("delivery status", "message_sid", webhook.MessageSid, "status", r.FormValue("MessageStatus"))
	}
	h.metrics.ObserveInbound("status", "ok")
	w.WriteHeader(http.StatusOK)
}

// authenticate validates the provider signature when a secret is configured
// and parses the form payload. On failure it has already written the
// response.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request, span trace.Span) (*TwilioWebhookRequest, bool) {
	if h.webhookSecret != "" {
		if !ValidateTwilioSignature(r, h.webhookSecret, buildAbsoluteURL(r)) {
			h.logger.Warn("invalid twilio signature", "path", r.URL.Path)
			span.RecordError(errors.New("invalid twilio signature"))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return nil, false
		}
	}
	webhook, err := ParseTwilioWebhook(r)
	if err != nil {
		h.logger.Error("failed to parse twilio webhook", "error", err)
		span.RecordError(err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return nil, false
	}
	return webhook, true
}

// dispatch executes engine actions in order. Failures are logged and the
// remaining actions still run: a dead operator phone must not stop the
// customer's acknowledgment.
func (h *Handler) dispatch(ctx context.Context, t *tenant.Tenant, actions []conversation.Action) {
	for _, action := range actions {
		switch a := action.(type) {
		case conversation.SendText:
			if _, err := h.sender.SendSMS(ctx, a.From, a.To, a.Body); err != nil {
				h.logger.Error("customer sms failed", "error", err, "tenant_id", t.ID, "to", a.To)
			}
		case conversation.NotifyOperator:
			if h.notifier == nil {
				h.logger.Warn("operator alert dropped: notifier not configured", "tenant_id", t.ID)
				continue
			}
			if err := h.notifier.AlertOperator(ctx, t, a.Body); err != nil {
				h.logger.Error("operator alert failed", "error", err, "tenant_id", t.ID)
			}
		default:
			h.logger.Error("unknown action type", "tenant_id", t.ID)
		}
	}
}

func writeTwiML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}
