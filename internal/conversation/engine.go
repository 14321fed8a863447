package conversation

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tradecall/platform/internal/observability/metrics"
	"github.com/tradecall/platform/internal/tenant"
	"github.com/tradecall/platform/pkg/logging"
)

// AdviceRequest carries the bounded context handed to the advice generator.
type AdviceRequest struct {
	TenantName   string
	Category     string
	CustomerName string
	Issue        string
	History      []Turn
}

// Advisor generates interim advice text. One attempt per call; failures
// surface to the engine, which applies its fallback policy.
type Advisor interface {
	Advise(ctx context.Context, req AdviceRequest) (string, error)
}

// FlowOptions configures the intake flow. The source deployments disagree
// on which fields to collect, in what order, and whether the operator alert
// precedes the customer acknowledgment, so all of it is configuration.
type FlowOptions struct {
	Slots []Slot
	// RequireConsent inserts an explicit YES/NO gate before advice.
	RequireConsent bool
	// NotifyBeforeAck sends the operator alert before the customer ack.
	NotifyBeforeAck bool
	// FirstMessageIsAnswer treats the first inbound SMS from an unseen
	// customer as the answer to the first slot instead of prompting first.
	FirstMessageIsAnswer bool
	HistoryHead          int
	HistoryTail          int
}

// Engine is the per-customer conversation state machine. It owns all Record
// mutation and returns ordered outbound actions; it never delivers anything
// itself.
type Engine struct {
	store   *Store
	advisor Advisor
	opts    FlowOptions
	logger  *logging.Logger
	metrics *metrics.ConversationMetrics
	tracer  trace.Tracer
}

// NewEngine creates the engine. At least one intake slot is required.
func NewEngine(store *Store, advisor Advisor, opts FlowOptions, logger *logging.Logger, m *metrics.ConversationMetrics) *Engine {
	if store == nil {
		panic("conversation: store cannot be nil")
	}
	if len(opts.Slots) == 0 {
		panic("conversation: at least one intake slot required")
	}
	if opts.HistoryHead <= 0 {
		opts.HistoryHead = 5
	}
	if opts.HistoryTail <= 0 {
		opts.HistoryTail = 15
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		store:   store,
		advisor: advisor,
		opts:    opts,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("tradecall.internal.conversation.engine"),
	}
}

// StartIntake opens (or restarts) the intake flow for a customer after a
// missed call. It returns the SMS that asks for the first slot.
func (e *Engine) StartIntake(ctx context.Context, t *tenant.Tenant, customer string) ([]Action, error) {
	ctx, span := e.tracer.Start(ctx, "conversation.start_intake")
	defer span.End()
	span.SetAttributes(
		attribute.String("tradecall.tenant_id", t.ID),
		attribute.String("tradecall.customer", customer),
	)

	first := e.opts.Slots[0]
	err := e.store.Mutate(ctx, t.ID, customer, func(rec *Record, created bool) (bool, error) {
		rec.Stage = WaitingFor(first.Name)
		rec.Slots = make(map[string]string)
		rec.History = nil
		return true, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	e.metrics.ObserveStarted(t.ID)
	e.logger.Info("intake started", "tenant_id", t.ID, "customer", customer, "stage", string(WaitingFor(first.Name)))
	return []Action{SendText{
		To:   customer,
		From: t.RoutingNumber,
		Body: first.Prompt(t.Name, t.Category),
	}}, nil
}

// outcome captures what a locked transition decided, so network calls
// (advice generation) can run after the per-key lock is released.
type outcome struct {
	actions     []Action
	alert       *NotifyOperator
	needAdvice  *AdviceRequest
	adviceInAck bool
	chatTurn    string
	created     bool
	ended       string
}

// HandleMessage advances the state machine for one inbound SMS and returns
// the ordered outbound actions.
func (e *Engine) HandleMessage(ctx context.Context, t *tenant.Tenant, customer, body string) ([]Action, error) {
	ctx, span := e.tracer.Start(ctx, "conversation.handle_message")
	defer span.End()
	span.SetAttributes(
		attribute.String("tradecall.tenant_id", t.ID),
		attribute.String("tradecall.customer", customer),
	)

	var out outcome
	err := e.store.Mutate(ctx, t.ID, customer, func(rec *Record, created bool) (bool, error) {
		out = outcome{created: created}
		return e.transition(rec, created, t, customer, body, &out)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if out.created {
		e.metrics.ObserveStarted(t.ID)
	}
	if out.ended != "" {
		e.metrics.ObserveEnded(t.ID, out.ended)
	}
	if out.needAdvice == nil {
		return e.withAlert(out.actions, out.alert), nil
	}
	return e.resolveAdvice(ctx, t, customer, out)
}

// transition applies one inbound message to the record. Runs under the
// per-key lock; must not perform network calls.
func (e *Engine) transition(rec *Record, created bool, t *tenant.Tenant, customer, body string, out *outcome) (bool, error) {
	trimmed := strings.TrimSpace(body)

	if created {
		rec.Stage = WaitingFor(e.opts.Slots[0].Name)
		if !e.opts.FirstMessageIsAnswer {
			out.actions = []Action{e.text(t, customer, e.opts.Slots[0].Prompt(t.Name, t.Category))}
			return true, nil
		}
		// Fall through: this message answers the first slot.
	}

	if slotName := rec.Stage.SlotName(); slotName != "" {
		return e.collectSlot(rec, t, customer, slotName, body, out)
	}

	switch rec.Stage {
	case StageWaitingConsent:
		if strings.EqualFold(trimmed, "YES") {
			rec.Stage = StageChatting
			out.needAdvice = &AdviceRequest{
				TenantName:   t.Name,
				Category:     t.Category,
				CustomerName: rec.Name(),
				Issue:        rec.Issue(),
			}
			return true, nil
		}
		out.actions = []Action{e.text(t, customer, consentDeclineMessage)}
		out.ended = "declined"
		return false, nil

	case StageChatting:
		if strings.EqualFold(trimmed, "STOP") {
			out.actions = []Action{e.text(t, customer, chatClosingMessage)}
			out.ended = "stopped"
			return false, nil
		}
		// Snapshot history plus the new user turn for the advice call; the
		// turns are only recorded once generation succeeds, so a failed
		// call leaves the record exactly as it was.
		snapshot := make([]Turn, len(rec.History), len(rec.History)+1)
		copy(snapshot, rec.History)
		snapshot = append(snapshot, Turn{Role: RoleUser, Content: trimmed})
		out.chatTurn = trimmed
		out.needAdvice = &AdviceRequest{
			TenantName:   t.Name,
			Category:     t.Category,
			CustomerName: rec.Name(),
			Issue:        rec.Issue(),
			History:      CapHistory(snapshot, e.opts.HistoryHead, e.opts.HistoryTail),
		}
		return true, nil
	}

	// Unknown stage (config changed between deploys): restart intake.
	e.logger.Warn("unknown conversation stage, restarting intake", "tenant_id", t.ID, "stage", string(rec.Stage))
	rec.Stage = WaitingFor(e.opts.Slots[0].Name)
	rec.Slots = make(map[string]string)
	out.actions = []Action{e.text(t, customer, e.opts.Slots[0].Prompt(t.Name, t.Category))}
	return true, nil
}

// collectSlot validates the answer for the slot the record is waiting on
// and advances to the next slot, consent gate, or chat stage.
func (e *Engine) collectSlot(rec *Record, t *tenant.Tenant, customer, slotName, body string, out *outcome) (bool, error) {
	idx := e.slotIndex(slotName)
	if idx < 0 {
		// Slot removed from configuration; restart from the first.
		rec.Stage = WaitingFor(e.opts.Slots[0].Name)
		out.actions = []Action{e.text(t, customer, e.opts.Slots[0].Prompt(t.Name, t.Category))}
		return true, nil
	}
	slot := e.opts.Slots[idx]

	value, err := slot.Validate(body)
	if err != nil {
		if !errors.Is(err, ErrInvalidSlotValue) {
			return false, err
		}
		out.actions = []Action{e.text(t, customer, invalidSlotPrompt(slot, t.Name, t.Category))}
		return true, nil
	}
	rec.SetSlot(slot.Name, value)

	if idx+1 < len(e.opts.Slots) {
		next := e.opts.Slots[idx+1]
		rec.Stage = WaitingFor(next.Name)
		out.actions = []Action{e.text(t, customer, next.Prompt(t.Name, t.Category))}
		return true, nil
	}

	// Intake complete: exactly one operator alert with every collected
	// slot value plus the customer address.
	out.alert = &NotifyOperator{
		TenantID: t.ID,
		Body:     operatorAlertBody(t.Category, customer, rec.Slots),
	}
	if e.opts.RequireConsent {
		rec.Stage = StageWaitingConsent
		out.actions = []Action{e.text(t, customer, consentPromptMessage)}
		return true, nil
	}
	rec.Stage = StageChatting
	out.adviceInAck = true
	out.needAdvice = &AdviceRequest{
		TenantName:   t.Name,
		Category:     t.Category,
		CustomerName: rec.Name(),
		Issue:        rec.Issue(),
	}
	return true, nil
}

// resolveAdvice runs the advice call outside the per-key lock and folds the
// result into the outbound action list.
func (e *Engine) resolveAdvice(ctx context.Context, t *tenant.Tenant, customer string, out outcome) ([]Action, error) {
	advice, err := e.advise(ctx, *out.needAdvice)
	e.metrics.ObserveAdvice(t.ID, err)

	if out.adviceInAck {
		// Intake just completed: the ack embeds the advice when we have it.
		ack := intakeAckMessage(advice)
		if err != nil {
			e.logger.Warn("advice generation failed, sending fallback ack", "error", err, "tenant_id", t.ID)
			ack = adviceFallbackMessage
		}
		actions := append(out.actions, e.text(t, customer, ack))
		return e.withAlert(actions, out.alert), nil
	}

	if err != nil {
		e.logger.Warn("advice generation failed, state unchanged", "error", err, "tenant_id", t.ID, "customer", customer)
		actions := append(out.actions, e.text(t, customer, adviceFallbackMessage))
		return e.withAlert(actions, out.alert), nil
	}

	// Success: record the exchanged turns under the key lock, then emit.
	recordErr := e.store.Mutate(ctx, t.ID, customer, func(rec *Record, created bool) (bool, error) {
		if created {
			// Record destroyed concurrently (e.g. STOP raced the advice
			// call); do not resurrect it.
			return false, nil
		}
		if out.chatTurn != "" {
			rec.History = append(rec.History, Turn{Role: RoleUser, Content: out.chatTurn})
		}
		rec.History = append(rec.History, Turn{Role: RoleAssistant, Content: advice})
		rec.History = CapHistory(rec.History, e.opts.HistoryHead, e.opts.HistoryTail)
		return true, nil
	})
	if recordErr != nil {
		e.logger.Error("failed to record advice turns", "error", recordErr, "tenant_id", t.ID)
	}

	actions := append(out.actions, e.text(t, customer, advice+chatHint))
	return e.withAlert(actions, out.alert), nil
}

func (e *Engine) advise(ctx context.Context, req AdviceRequest) (string, error) {
	if e.advisor == nil {
		return "", errors.New("conversation: no advisor configured")
	}
	return e.advisor.Advise(ctx, req)
}

// withAlert inserts the operator alert respecting the configured ordering.
func (e *Engine) withAlert(actions []Action, alert *NotifyOperator) []Action {
	if alert == nil {
		return actions
	}
	if e.opts.NotifyBeforeAck {
		return append([]Action{*alert}, actions...)
	}
	return append(actions, *alert)
}

func (e *Engine) text(t *tenant.Tenant, customer, body string) Action {
	return SendText{To: customer, From: t.RoutingNumber, Body: body}
}

func (e *Engine) slotIndex(name string) int {
	for i, s := range e.opts.Slots {
		if s.Name == name {
			return i
		}
	}
	return -1
}
