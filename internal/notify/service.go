package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/tradecall/platform/internal/observability/metrics"
	"github.com/tradecall/platform/internal/tenant"
	"github.com/tradecall/platform/pkg/logging"
)

// SMSSender sends SMS messages to operators.
type SMSSender interface {
	SendSMS(ctx context.Context, from, to, body string) (string, error)
}

// Service delivers operator alerts over SMS and, when a tenant has an
// operator email on file, over email as well. Delivery is best-effort:
// failures are logged and counted but must never stall the conversation
// that produced the alert.
type Service struct {
	sms     SMSSender
	email   EmailSender
	logger  *logging.Logger
	metrics *metrics.ConversationMetrics
}

// NewService creates a notification service. The email sender may be nil.
func NewService(sms SMSSender, email EmailSender, logger *logging.Logger, m *metrics.ConversationMetrics) *Service {
	if sms == nil {
		panic("notify: sms sender cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		sms:     sms,
		email:   email,
		logger:  logger,
		metrics: m,
	}
}

// AlertOperator sends the alert body to the tenant's operator. SMS goes to
// the forward number from the tenant's routing number; email only when the
// tenant has one configured.
func (s *Service) AlertOperator(ctx context.Context, t *tenant.Tenant, body string) error {
	if t == nil {
		return errors.New("notify: tenant required")
	}
	if t.ForwardNumber == "" {
		return fmt.Errorf("notify: tenant %s has no forward number", t.ID)
	}

	var errs []error
	if _, err := s.sms.SendSMS(ctx, t.RoutingNumber, t.ForwardNumber, body); err != nil {
		s.logger.Error("operator sms failed", "error", err, "tenant_id", t.ID, "to", t.ForwardNumber)
		s.metrics.ObserveOutbound("operator_sms", "error")
		errs = append(errs, err)
	} else {
		s.metrics.ObserveOutbound("operator_sms", "ok")
	}

	if t.OperatorEmail != "" && s.email != nil {
		msg := EmailMessage{
			To:      t.OperatorEmail,
			ToName:  t.Name,
			Subject: fmt.Sprintf("New customer request for %s", t.Name),
			Body:    body,
		}
		if err := s.email.Send(ctx, msg); err != nil {
			s.logger.Error("operator email failed", "error", err, "tenant_id", t.ID, "to", t.OperatorEmail)
			s.metrics.ObserveOutbound("operator_email", "error")
			errs = append(errs, err)
		} else {
			s.metrics.ObserveOutbound("operator_email", "ok")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d delivery failure(s): %w", len(errs), errors.Join(errs...))
	}
	return nil
}
